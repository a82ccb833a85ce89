package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"todo-api/api"
	"todo-api/notify"
	"todo-api/storage"
	"todo-api/tasksync"
)

func main() {
	logger := log.New()
	debug := false
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		debug = true
		logger.SetLevel(log.DebugLevel)
	}
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		logger.SetFormatter(&log.JSONFormatter{})
	}

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	ctx := context.Background()
	table := envOr("TASKS_TABLE", "todos")

	var closers []func()
	store, closeStore := newStore(ctx, logger, table)
	closers = append(closers, closeStore)

	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		ttl := envDur("CACHE_TTL", 30*time.Second)
		rc := redis.NewClient(parseRedis(redisConn))
		store = storage.NewCache(store, rc, ttl)
		closers = append(closers, func() { _ = rc.Close() })
		logger.WithField("ttl", ttl).Info("task listing cache enabled")
	}

	reporters := []tasksync.Reporter{notify.NewLogReporter(logger)}
	if queue := os.Getenv("CHANGE_QUEUE"); queue != "" {
		connStr := os.Getenv("STORAGE_CONNECTION_STRING")
		if connStr == "" {
			log.Fatal("CHANGE_QUEUE requires STORAGE_CONNECTION_STRING")
		}
		cfg := storage.DefaultChangeFeedConfig()
		cfg.Workers = envInt("CHANGE_FEED_WORKERS", cfg.Workers)
		cfg.Buffer = envInt("CHANGE_FEED_BUFFER", cfg.Buffer)
		cfg.EnqueueTimeout = envDur("CHANGE_FEED_ENQUEUE_TIMEOUT", cfg.EnqueueTimeout)
		cfg.HandoffTimeout = envDur("CHANGE_FEED_HANDOFF_TIMEOUT", cfg.HandoffTimeout)
		feed, err := storage.NewChangeFeed(connStr, queue, cfg, logger)
		if err != nil {
			log.Fatalf("change feed: %v", err)
		}
		reporters = append(reporters, feed)
		closers = append(closers, feed.Close)
	}

	auth := newAuth()

	reg := api.NewRegistry(store, api.RegistryConfig{
		Table:     table,
		ToastTTL:  envDur("TOAST_TTL", notify.DefaultTTL),
		Reporters: reporters,
	})
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	idle := envDur("WORKSPACE_IDLE_TTL", 30*time.Minute)
	go reg.SweepEvery(sweepCtx, idle/2, idle, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))
	e.Use(api.GzipRequestMiddleware())
	if debug {
		pprof.Register(e)
	}
	api.Register(e, reg, auth, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	go func() {
		if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server shutdown")
	}
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("tracer shutdown")
	}
}

// newStore builds the backend named by STORE_BACKEND.
func newStore(ctx context.Context, logger *log.Logger, table string) (tasksync.Store, func()) {
	backend := strings.ToLower(envOr("STORE_BACKEND", "postgrest"))
	logger.WithField("backend", backend).Info("opening task store")
	switch backend {
	case "postgrest":
		projectURL := os.Getenv("SUPABASE_URL")
		anonKey := os.Getenv("SUPABASE_ANON_KEY")
		if projectURL == "" || anonKey == "" {
			log.Fatal("missing SUPABASE_URL or SUPABASE_ANON_KEY")
		}
		var opts []storage.PostgRESTOption
		if key := os.Getenv("SUPABASE_SERVICE_KEY"); key != "" {
			opts = append(opts, storage.WithServiceKey(key))
		}
		store, err := storage.NewPostgREST(projectURL, anonKey, opts...)
		if err != nil {
			log.Fatalf("postgrest: %v", err)
		}
		return store, func() {}
	case "tables":
		connStr := os.Getenv("STORAGE_CONNECTION_STRING")
		if connStr == "" {
			log.Fatal("missing STORAGE_CONNECTION_STRING")
		}
		store, err := storage.NewTables(connStr)
		if err != nil {
			log.Fatalf("tables: %v", err)
		}
		return store, func() {}
	case "postgres":
		dsn := os.Getenv("DATABASE_URL")
		if dsn == "" {
			log.Fatal("missing DATABASE_URL")
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		store := storage.NewPostgres(pool)
		if err := store.EnsureTable(ctx, table); err != nil {
			log.Fatalf("postgres: ensure table: %v", err)
		}
		return store, pool.Close
	}
	log.Fatalf("unknown STORE_BACKEND %q", backend)
	return nil, nil
}

func newAuth() *api.Auth {
	var jwks *keyfunc.JWKS
	if url := os.Getenv("AUTH_JWKS_URL"); url != "" {
		var err error
		jwks, err = keyfunc.Get(url, keyfunc.Options{RefreshInterval: time.Hour})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
	}
	var secret []byte
	if s := os.Getenv("JWT_SECRET"); s != "" {
		secret = []byte(s)
	}
	auth, err := api.NewAuth(jwks, secret, envOr("AUTH_AUDIENCE", "authenticated"), os.Getenv("AUTH_ISSUER"), envDur("JWKS_CACHE_TTL", 0))
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	return auth
}

// parseRedis accepts a redis:// URL or the "host:port,password=...,ssl=true"
// form used by Azure Cache for Redis.
func parseRedis(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Fatalf("invalid %s: must be a positive integer", key)
	}
	return n
}

func envDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Fatalf("invalid %s: %v", key, v)
	}
	return d
}
