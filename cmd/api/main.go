package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/PortNumber53/creator-studio/internal/auth"
	"github.com/PortNumber53/creator-studio/internal/config"
	"github.com/PortNumber53/creator-studio/internal/docstore"
	"github.com/PortNumber53/creator-studio/internal/handlers"
	"github.com/PortNumber53/creator-studio/internal/idem"
	"github.com/PortNumber53/creator-studio/internal/livequery"
	"github.com/PortNumber53/creator-studio/internal/media"
	"github.com/PortNumber53/creator-studio/internal/metrics"
	"github.com/PortNumber53/creator-studio/internal/middleware"
	"github.com/PortNumber53/creator-studio/internal/notify"
	"github.com/PortNumber53/creator-studio/internal/ratelimit"
	"github.com/PortNumber53/creator-studio/internal/workers"
)

const serviceName = "creator-studio-api"

func main() {
	_ = godotenv.Load()
	if err := run(defaultDeps()); err != nil {
		log.Fatal(err)
	}
}

// changeFeed is the Postgres NOTIFY listener as main sees it.
type changeFeed interface {
	docstore.Feed
	Run(ctx context.Context)
	Close() error
}

type deps struct {
	getenv         func(string) string
	openDB         func(driverName, dataSourceName string) (*sql.DB, error)
	openFeed       func(dsn string, logger *log.Logger) (changeFeed, error)
	migrateUp      func(*sql.DB) error
	listenAndServe func(*http.Server) error
	stopCh         chan os.Signal
	notify         func(c chan<- os.Signal, sig ...os.Signal)
}

func defaultDeps() deps {
	return deps{
		getenv: os.Getenv,
		openDB: sql.Open,
		openFeed: func(dsn string, logger *log.Logger) (changeFeed, error) {
			return docstore.NewPGFeed(dsn, logger)
		},
		migrateUp:      migrateUp,
		listenAndServe: func(s *http.Server) error { return s.ListenAndServe() },
		notify:         signal.Notify,
	}
}

func resolvePort(getenv func(string) string) string {
	port := strings.TrimSpace(getenv("PORT"))
	if port == "" {
		return "18911"
	}
	return port
}

func parseIntervalFromEnv(getenv func(string) string, key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

func migrateUp(db *sql.DB) error {
	if db == nil {
		return errors.New("migrateUp: nil db")
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://db/migrations", "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("database migration failed: %w", err)
	}
	return nil
}

// buildRouter mounts the feature routes plus /metrics when m is non-nil.
func buildRouter(h *handlers.Handler, requireAuth mux.MiddlewareFunc, m *metrics.Metrics) *mux.Router {
	r := mux.NewRouter()
	if m != nil {
		r.Use(m.Middleware)
		r.Handle("/metrics", m.Handler()).Methods("GET")
	}
	handlers.Register(r, h, requireAuth)
	return r
}

func initTracing(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("otel exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		res = resource.Default()
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func buildVerifier(ctx context.Context, cfg config.Config) (auth.Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthFirebase:
		return auth.NewFirebaseVerifier(ctx, cfg.FirebaseProjectID)
	case config.AuthInsecure:
		log.Printf("[API] AUTH_MODE=insecure: bearer tokens are taken as uids")
		return auth.Insecure{}, nil
	default:
		return auth.HMACVerifier{Secret: []byte(cfg.JWTSecret)}, nil
	}
}

func run(d deps) error {
	if d.getenv == nil {
		return errors.New("getenv dependency is required")
	}
	if d.listenAndServe == nil {
		return errors.New("listenAndServe dependency is required")
	}
	cfg, err := config.Load(d.getenv)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg.Port = resolvePort(d.getenv)
	logger := log.Default()
	logger.Printf("[API] config %s", cfg)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := initTracing(rootCtx, cfg.OTLPEndpoint)
		if err != nil {
			return err
		}
		defer func() {
			c, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = shutdown(c)
		}()
	}

	m := metrics.New(prometheus.NewRegistry())

	var (
		store    docstore.Store
		feed     docstore.Feed
		ledger   handlers.EventLedger
		quota    ratelimit.Quota
		database *sql.DB
	)
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		if d.openDB == nil {
			return errors.New("openDB dependency is required")
		}
		database, err = d.openDB("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer database.Close()
		if err := database.PingContext(rootCtx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		if d.migrateUp != nil {
			if err := d.migrateUp(database); err != nil {
				return err
			}
			logger.Printf("[API] database is up-to-date")
		}
		if d.openFeed == nil {
			return errors.New("openFeed dependency is required")
		}
		pgFeed, err := d.openFeed(cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer pgFeed.Close()
		go pgFeed.Run(rootCtx)

		store = docstore.NewPGStore(database)
		feed = pgFeed
		ledger = handlers.SQLLedger{DB: database}
		quota = ratelimit.SQLQuota{DB: database}
	default:
		mem := docstore.NewMemStore()
		store, feed = mem, mem
		quota = ratelimit.NewMemoryQuota()
		logger.Printf("[API] STORE_DRIVER=memory: data is lost on restart")
	}

	guard := &idem.Guard{Metrics: m, Logger: logger}
	if cfg.RedisURL != "" {
		rs, err := idem.NewRedisStoreFromURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rs.Close()
		if err := rs.Ping(rootCtx); err != nil {
			logger.Printf("[API] redis ping failed, duplicate suppression is per-process: %v", err)
			guard.Store = idem.NewMemoryStore()
		} else {
			guard.Store = rs
		}
	} else {
		guard.Store = idem.NewMemoryStore()
	}

	verifier, err := buildVerifier(rootCtx, cfg)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	var notifier notify.Notifier = notify.Log{Logger: logger}
	if cfg.FirebaseProjectID != "" {
		fcm, err := notify.NewFCM(rootCtx, cfg.FirebaseProjectID, logger)
		if err != nil {
			logger.Printf("[API] push disabled: %v", err)
		} else {
			notifier = fcm
		}
	}

	var uploader handlers.Uploader
	if cfg.MediaEnabled {
		uploader = media.NewClient(cfg.Media, &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}, logger, m)
	}

	hub := livequery.NewHub(store, feed, livequery.Options{Logger: logger, Metrics: m})
	defer hub.Close()

	h := handlers.New(handlers.Deps{
		Store:    store,
		Hub:      hub,
		Media:    uploader,
		Limits:   ratelimit.New(d.getenv, quota, m, logger),
		Idem:     guard,
		Notifier: notifier,
		Metrics:  m,
		Checkout: handlers.NewStripeCheckout(cfg.StripeSecretKey),
		Ledger:   ledger,
		Config:   cfg,
		Logger:   logger,
	})

	if cfg.ClaimReleaseEnabled {
		rel := &workers.ClaimReleaser{
			Store:    store,
			TTL:      cfg.ClaimTTL,
			Interval: parseIntervalFromEnv(d.getenv, "CLAIM_RELEASE_INTERVAL_SECONDS", cfg.ClaimReleaseInterval),
			Metrics:  m,
			Logger:   logger,
		}
		go rel.Start(rootCtx)
	} else {
		logger.Printf("[ClaimReleaser] disabled via CLAIM_RELEASE_ENABLED")
	}

	r := buildRouter(h, mux.MiddlewareFunc(auth.Middleware(verifier)), m)
	c := cors.New(corsOptions(cfg.PublicOrigin))
	var handler http.Handler = c.Handler(middleware.Recover(r))
	handler = otelhttp.NewHandler(handler, serviceName)

	srv := &http.Server{
		Handler:           handler,
		Addr:              ":" + cfg.Port,
		ReadHeaderTimeout: 15 * time.Second,
	}

	stop := d.stopCh
	if stop == nil {
		stop = make(chan os.Signal, 1)
	}
	if d.notify != nil {
		d.notify(stop, os.Interrupt, syscall.SIGTERM)
	}

	go func() {
		<-stop
		logger.Println("[API] shutting down server...")
		cancel()
		ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Printf("[API] server shutdown error: %v", err)
		}
	}()

	logger.Printf("[API] server starting on port %s", cfg.Port)
	if err := d.listenAndServe(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Println("[API] server stopped")
	return nil
}

// corsOptions allows credentialed requests only from the configured public
// origin. Without one any origin may call, but never with credentials.
func corsOptions(public string) cors.Options {
	opts := cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}
	if public != "" {
		opts.AllowedOrigins = []string{public}
		opts.AllowCredentials = true
	}
	return opts
}
