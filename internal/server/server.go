package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/qurio/config"
	"github.com/mohammad-safakhou/qurio/internal/archive"
	"github.com/mohammad-safakhou/qurio/internal/llm"
	"github.com/mohammad-safakhou/qurio/internal/research"
	"github.com/mohammad-safakhou/qurio/internal/runtime"
	"github.com/mohammad-safakhou/qurio/internal/store"
	"github.com/mohammad-safakhou/qurio/internal/telemetry"
	"github.com/mohammad-safakhou/qurio/tools/web_fetch"
	"github.com/mohammad-safakhou/qurio/tools/web_search"
)

// Run wires the full backend and serves until the listener fails.
func Run(cfg *config.Config) error {
	e := newEcho()

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connecting postgres: %w", err)
	}

	tel := telemetry.NewTelemetry(cfg.Telemetry)

	registry := llm.NewRegistry()
	searcher, err := web_search.NewWebSearcher(web_search.Provider(cfg.Search.Provider), cfg.Search.APIKey())
	if err != nil {
		return err
	}
	if err := registry.Register(&web_search.Tool{Searcher: searcher, MaxResults: cfg.Search.MaxResults}); err != nil {
		return err
	}
	fetcher, err := web_fetch.NewWebFetcher(web_fetch.ChromedpFetcherType, time.Duration(cfg.Fetch.TimeoutMS)*time.Millisecond, cfg.Fetch.MaxChars)
	if err != nil {
		return err
	}
	if err := registry.Register(&web_fetch.Tool{Fetcher: fetcher}); err != nil {
		return err
	}

	gen := llm.NewClient(cfg.LLM, registry, tel)
	planner := research.NewLLMPlanner(cfg, gen)
	engine := research.NewEngine(cfg, gen, planner, tel)

	arch, err := archive.New(cfg.Storage.Archive.Path)
	if err != nil {
		return err
	}

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	api := e.Group("/api")

	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	protected := api.Group("", runtime.EchoAuthMiddleware(secret))

	rh := &ResearchHandler{Engine: engine, Store: st, Archive: arch, Logger: log.New(log.Writer(), "[HTTP] ", log.LstdFlags)}
	rh.Register(protected.Group("/research"))

	runs := &RunsHandler{Store: st, Engine: engine}
	runs.Register(protected.Group("/runs"))

	wh := &WatchesHandler{Store: st}
	wh.Register(protected.Group("/watches"))

	ah := &ArchiveHandler{Archive: arch}
	ah.Register(protected.Group("/archive"))

	if cfg.Scheduler.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Storage.Redis.Addr(), Password: cfg.Storage.Redis.Password, DB: cfg.Storage.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
		sched := &Scheduler{
			Store:    st,
			Runner:   rh,
			Rdb:      rdb,
			Interval: cfg.Scheduler.Interval,
			Stop:     make(chan struct{}),
		}
		sched.Start()
		defer sched.Shutdown()
	}

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":8080"
	}
	return e.Start(addr)
}

// newEcho builds the echo instance with recovery, CORS and the JSON error
// handler shared by all routes.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))
	return e
}
