// Package idem rejects repeated create requests that arrive while the first
// one is still being handled or shortly after it succeeded.
package idem

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PortNumber53/creator-studio/internal/auth"
	"github.com/PortNumber53/creator-studio/internal/metrics"
)

type Store interface {
	PutNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type RedisStore struct{ r *redis.Client }

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{r: rdb}
}

// NewRedisStoreFromURL parses a redis:// URL.
func NewRedisStoreFromURL(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisStore{r: redis.NewClient(opts)}, nil
}

func (s *RedisStore) PutNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.r.SetNX(ctx, "idem:"+key, "1", ttl).Result()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.r.Del(ctx, "idem:"+key).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error { return s.r.Ping(ctx).Err() }

func (s *RedisStore) Close() error { return s.r.Close() }

// MemoryStore is the single-process fallback when REDIS_URL is unset.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: map[string]time.Time{}, now: time.Now}
}

func (s *MemoryStore) PutNX(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if exp, ok := s.keys[key]; ok && now.Before(exp) {
		return false, nil
	}
	if len(s.keys) > 10000 {
		for k, exp := range s.keys {
			if !now.Before(exp) {
				delete(s.keys, k)
			}
		}
	}
	s.keys[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
	return nil
}

const HeaderKey = "Idempotency-Key"

// Guard wraps create endpoints. The key is the Idempotency-Key header, or a
// hash of caller, route and body. A failed request releases its key so the
// client can retry.
type Guard struct {
	Store   Store
	TTL     time.Duration
	Metrics *metrics.Metrics
	Logger  *log.Logger
}

func (g *Guard) Wrap(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g == nil || g.Store == nil {
			next(w, r)
			return
		}
		key, err := requestKey(r, route)
		if err != nil {
			next(w, r)
			return
		}
		ttl := g.TTL
		if ttl <= 0 {
			ttl = 10 * time.Second
		}
		ok, err := g.Store.PutNX(r.Context(), key, ttl)
		if err != nil {
			// store down: let the write through rather than fail it
			g.logf("[Idem] store_error route=%s err=%v", route, err)
			next(w, r)
			return
		}
		if !ok {
			g.Metrics.Duplicate(route)
			g.logf("[Idem] duplicate route=%s user=%s", route, auth.UserID(r.Context()))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"code": "duplicate_request", "message": "an identical request is already being processed"},
			})
			return
		}
		sw := &statusWriter{ResponseWriter: w}
		next(sw, r)
		if sw.status >= 400 {
			if err := g.Store.Release(context.WithoutCancel(r.Context()), key); err != nil {
				g.logf("[Idem] release_error route=%s err=%v", route, err)
			}
		}
	}
}

func (g *Guard) logf(format string, args ...any) {
	if g.Logger != nil {
		g.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// maxHashedBody bounds how much of a body is buffered for the derived key.
const maxHashedBody = 1 << 20

var errBodyTooLarge = errors.New("idem: body too large to hash")

// requestKey derives the dedup key. A body over maxHashedBody gets no derived
// key; the request still reaches the handler with its body intact.
func requestKey(r *http.Request, route string) (string, error) {
	user := auth.UserID(r.Context())
	if k := strings.TrimSpace(r.Header.Get(HeaderKey)); k != "" {
		return route + ":" + user + ":" + k, nil
	}
	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		b, err := io.ReadAll(io.LimitReader(r.Body, maxHashedBody+1))
		r.Body = restoredBody{Reader: io.MultiReader(bytes.NewReader(b), r.Body), Closer: r.Body}
		if err != nil {
			return "", err
		}
		if len(b) > maxHashedBody {
			return "", errBodyTooLarge
		}
		body = b
	}
	sum := sha256.New()
	sum.Write([]byte(user))
	sum.Write([]byte{0})
	sum.Write([]byte(r.Method + " " + r.URL.Path))
	sum.Write([]byte{0})
	sum.Write(body)
	return route + ":" + hex.EncodeToString(sum.Sum(nil)), nil
}

// restoredBody replays the buffered prefix ahead of the unread remainder.
type restoredBody struct {
	io.Reader
	io.Closer
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}
