// Package ratelimit throttles expensive per-user operations (uploads, AI
// generation, writes) with token buckets and optional daily quotas.
package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/PortNumber53/creator-studio/internal/metrics"
)

// Features with their own limits.
const (
	FeatureUpload = "upload"
	FeatureAI     = "ai"
	FeatureWrite  = "write"
)

type Config struct {
	RequestsPerSecond float64
	Burst             int
	DailyRequestsMax  int64 // 0 means unlimited
}

func DefaultLimits() map[string]Config {
	return map[string]Config{
		FeatureUpload: {RequestsPerSecond: 0.5, Burst: 5, DailyRequestsMax: 500},
		FeatureAI:     {RequestsPerSecond: 0.2, Burst: 3, DailyRequestsMax: 50},
		FeatureWrite:  {RequestsPerSecond: 5, Burst: 20, DailyRequestsMax: 0},
	}
}

// FromEnv applies overrides such as RATE_LIMIT_AI_RPS=0.5, RATE_LIMIT_AI_BURST=2
// and RATE_LIMIT_AI_DAILY_MAX=100.
func FromEnv(getenv func(string) string, feature string, def Config) Config {
	prefix := "RATE_LIMIT_" + upper(feature) + "_"
	if v := strings.TrimSpace(getenv(prefix + "RPS")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			def.RequestsPerSecond = f
		}
	}
	if v := strings.TrimSpace(getenv(prefix + "BURST")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			def.Burst = n
		}
	}
	if v := strings.TrimSpace(getenv(prefix + "DAILY_MAX")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			def.DailyRequestsMax = n
		}
	}
	return def
}

// Quota counts requests per (feature, user, UTC day).
type Quota interface {
	Consume(ctx context.Context, feature, userID string, add, dailyMax int64) (ok bool, used int64, err error)
}

// Decision explains a refusal. Reason is "rate" or "daily_quota".
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
	Used       int64
}

type Limits struct {
	configs map[string]Config
	quota   Quota
	metrics *metrics.Metrics
	logger  *log.Logger
	now     func() time.Time

	mu       sync.Mutex
	limiters map[string]*entry
}

type entry struct {
	lim  *rate.Limiter
	seen time.Time
}

func New(getenv func(string) string, quota Quota, m *metrics.Metrics, logger *log.Logger) *Limits {
	cfgs := DefaultLimits()
	for name, def := range cfgs {
		cfgs[name] = FromEnv(getenv, name, def)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Limits{configs: cfgs, quota: quota, metrics: m, logger: logger, now: time.Now, limiters: map[string]*entry{}}
}

func (l *Limits) Config(feature string) Config { return l.configs[feature] }

func (l *Limits) limiterFor(feature, userID string) *rate.Limiter {
	key := feature + ":" + userID
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.limiters) > 50000 {
		for k, e := range l.limiters {
			if now.Sub(e.seen) > time.Hour {
				delete(l.limiters, k)
			}
		}
	}
	e := l.limiters[key]
	if e == nil {
		cfg := l.configs[feature]
		e = &entry{lim: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}
		l.limiters[key] = e
	}
	e.seen = now
	return e.lim
}

// Allow checks the token bucket first and only then spends daily quota, so a
// throttled request never counts against the day. Unknown features are allowed.
// A quota store error lets the request through.
func (l *Limits) Allow(ctx context.Context, feature, userID string) Decision {
	if l == nil {
		return Decision{Allowed: true}
	}
	cfg, ok := l.configs[feature]
	if !ok || cfg.RequestsPerSecond <= 0 {
		return Decision{Allowed: true}
	}
	res := l.limiterFor(feature, userID).ReserveN(l.now(), 1)
	if delay := res.DelayFrom(l.now()); !res.OK() || delay > 0 {
		res.Cancel()
		l.metrics.Limited(feature, "rate")
		return Decision{Reason: "rate", RetryAfter: delay}
	}
	if cfg.DailyRequestsMax > 0 && l.quota != nil {
		ok, used, err := l.quota.Consume(ctx, feature, userID, 1, cfg.DailyRequestsMax)
		if err != nil {
			l.logger.Printf("[RateLimit] quota_error feature=%s user=%s err=%v", feature, userID, err)
			return Decision{Allowed: true}
		}
		if !ok {
			l.metrics.Limited(feature, "daily_quota")
			l.logger.Printf("[RateLimit] daily_quota feature=%s user=%s used=%d max=%d", feature, userID, used, cfg.DailyRequestsMax)
			return Decision{Reason: "daily_quota", Used: used, RetryAfter: untilTomorrow(l.now())}
		}
		return Decision{Allowed: true, Used: used}
	}
	return Decision{Allowed: true}
}

func untilTomorrow(now time.Time) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return next.Sub(now)
}

// SQLQuota keeps counters in public.usage_counters.
type SQLQuota struct {
	DB  *sql.DB
	Now func() time.Time
}

// Consume returns ok=false when the daily max would be exceeded.
func (q SQLQuota) Consume(ctx context.Context, feature, userID string, add, dailyMax int64) (bool, int64, error) {
	if add <= 0 {
		return true, 0, nil
	}
	now := time.Now
	if q.Now != nil {
		now = q.Now
	}
	day := now().UTC().Format("2006-01-02")
	id := fmt.Sprintf("%s:%s:%s", feature, userID, day)
	query := `
		INSERT INTO public.usage_counters (id, feature, user_id, day, requests_used, last_updated_at)
		VALUES ($1, $2, $3, $4::date, $5, NOW())
		ON CONFLICT (feature, user_id, day) DO UPDATE SET
		  requests_used = public.usage_counters.requests_used + EXCLUDED.requests_used,
		  last_updated_at = NOW()
		RETURNING requests_used
	`
	var used int64
	if err := q.DB.QueryRowContext(ctx, query, id, feature, userID, day, add).Scan(&used); err != nil {
		return false, 0, err
	}
	if dailyMax > 0 && used > dailyMax {
		return false, used, nil
	}
	return true, used, nil
}

// MemoryQuota is used with the in-memory document store.
type MemoryQuota struct {
	mu     sync.Mutex
	counts map[string]int64
	Now    func() time.Time
}

func NewMemoryQuota() *MemoryQuota {
	return &MemoryQuota{counts: map[string]int64{}, Now: time.Now}
}

func (q *MemoryQuota) Consume(_ context.Context, feature, userID string, add, dailyMax int64) (bool, int64, error) {
	if add <= 0 {
		return true, 0, nil
	}
	day := q.Now().UTC().Format("2006-01-02")
	key := feature + ":" + userID + ":" + day
	q.mu.Lock()
	q.counts[key] += add
	used := q.counts[key]
	q.mu.Unlock()
	if dailyMax > 0 && used > dailyMax {
		return false, used, nil
	}
	return true, used, nil
}

func upper(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			out = append(out, c-32)
		} else if c == '-' {
			out = append(out, '_')
		} else {
			out = append(out, c)
		}
	}
	return string(out)
}
