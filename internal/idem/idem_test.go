package idem

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"github.com/PortNumber53/creator-studio/internal/auth"
	"github.com/PortNumber53/creator-studio/internal/metrics"
)

func TestMemoryStore_PutNXExpires(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if ok, _ := s.PutNX(context.Background(), "k", time.Second); !ok {
		t.Fatalf("first put should win")
	}
	if ok, _ := s.PutNX(context.Background(), "k", time.Second); ok {
		t.Fatalf("second put inside ttl should lose")
	}
	now = now.Add(2 * time.Second)
	if ok, _ := s.PutNX(context.Background(), "k", time.Second); !ok {
		t.Fatalf("put after ttl should win")
	}
	_ = s.Release(context.Background(), "k")
	if ok, _ := s.PutNX(context.Background(), "k", time.Second); !ok {
		t.Fatalf("put after release should win")
	}
}

func withUser(r *http.Request, uid string) *http.Request {
	return r.WithContext(auth.WithIdentity(r.Context(), auth.Identity{UID: uid}))
}

func TestGuard_RejectsConcurrentDuplicate(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	g := &Guard{Store: NewMemoryStore(), TTL: time.Minute, Metrics: m, Logger: log.New(io.Discard, "", 0)}

	release := make(chan struct{})
	var calls int32
	h := g.Wrap("managers.add", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		w.WriteHeader(http.StatusCreated)
	})

	body := `{"name":"Max"}`
	var wg sync.WaitGroup
	codes := make([]int, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := withUser(httptest.NewRequest(http.MethodPost, "/api/managers", strings.NewReader(body)), "u1")
			rr := httptest.NewRecorder()
			h(rr, req)
			codes[i] = rr.Code
		}(i)
	}
	// let one request reach the handler, then unblock it
	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly one handler call, got %d", calls)
	}
	if !(codes[0] == http.StatusCreated && codes[1] == http.StatusConflict) && !(codes[1] == http.StatusCreated && codes[0] == http.StatusConflict) {
		t.Fatalf("expected one 201 and one 409, got %v", codes)
	}
	if got := testutil.ToFloat64(m.DuplicateRequests.WithLabelValues("managers.add")); got != 1 {
		t.Fatalf("expected duplicate counter 1, got %v", got)
	}
}

func TestGuard_DifferentBodiesAndUsersPass(t *testing.T) {
	g := &Guard{Store: NewMemoryStore(), TTL: time.Minute, Logger: log.New(io.Discard, "", 0)}
	var got []string
	h := g.Wrap("posts.create", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = append(got, string(b))
		w.WriteHeader(http.StatusCreated)
	})
	for _, tc := range []struct{ user, body string }{{"u1", "a"}, {"u1", "b"}, {"u2", "a"}} {
		rr := httptest.NewRecorder()
		h(rr, withUser(httptest.NewRequest(http.MethodPost, "/api/posts", strings.NewReader(tc.body)), tc.user))
		if rr.Code != http.StatusCreated {
			t.Fatalf("%+v: expected 201, got %d", tc, rr.Code)
		}
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected body restored for handler, got %v", got)
	}
}

func TestGuard_FailureReleasesKey(t *testing.T) {
	g := &Guard{Store: NewMemoryStore(), TTL: time.Minute, Logger: log.New(io.Discard, "", 0)}
	status := http.StatusBadRequest
	h := g.Wrap("scheduled.create", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(status) })

	send := func() int {
		req := withUser(httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("{}")), "u1")
		req.Header.Set(HeaderKey, "abc")
		rr := httptest.NewRecorder()
		h(rr, req)
		return rr.Code
	}
	if send() != http.StatusBadRequest {
		t.Fatalf("expected handler status")
	}
	status = http.StatusCreated
	if send() != http.StatusCreated {
		t.Fatalf("expected retry after failure to pass")
	}
	if send() != http.StatusConflict {
		t.Fatalf("expected duplicate after success")
	}
}

func TestGuard_StoreDownFailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	g := &Guard{Store: NewRedisStore(rdb), Logger: log.New(io.Discard, "", 0)}
	called := false
	h := g.Wrap("posts.create", func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
	})
	rr := httptest.NewRecorder()
	h(rr, withUser(httptest.NewRequest(http.MethodPost, "/api/posts", strings.NewReader("x")), "u1"))
	if !called || rr.Code != http.StatusCreated {
		t.Fatalf("expected request to pass when redis is unreachable, code=%d", rr.Code)
	}
}

func TestNewRedisStoreFromURL(t *testing.T) {
	if _, err := NewRedisStoreFromURL("redis://localhost:6379/0"); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := NewRedisStoreFromURL("http://nope"); err == nil {
		t.Fatalf("expected error for non-redis scheme")
	}
}

func TestGuard_OversizedBodyReachesHandlerIntact(t *testing.T) {
	g := &Guard{Store: NewMemoryStore(), TTL: time.Minute, Logger: log.New(io.Discard, "", 0)}
	body := strings.Repeat("a", maxHashedBody) + "tail"
	var got []string
	h := g.Wrap("content.upload", func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		got = append(got, string(b))
		w.WriteHeader(http.StatusCreated)
	})

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		h(rr, withUser(httptest.NewRequest(http.MethodPost, "/api/content", strings.NewReader(body)), "u1"))
		if rr.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201, got %d", i, rr.Code)
		}
	}
	if len(got) != 2 || got[0] != body || got[1] != body {
		t.Fatalf("handler saw %d bodies, want 2 of %d bytes", len(got), len(body))
	}
}

func TestRequestKey_RestoresBodyForHashedRequests(t *testing.T) {
	req := withUser(httptest.NewRequest(http.MethodPost, "/api/posts", strings.NewReader(`{"content":"hi"}`)), "u1")
	if _, err := requestKey(req, "posts.create"); err != nil {
		t.Fatalf("requestKey: %v", err)
	}
	b, _ := io.ReadAll(req.Body)
	if string(b) != `{"content":"hi"}` {
		t.Fatalf("body not restored, got %q", b)
	}
}
