package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"taskforge-board/activity"
	"taskforge-board/api"
	"taskforge-board/board"
	"taskforge-board/config"
	"taskforge-board/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	var store board.Store
	switch cfg.StorageMode {
	case config.StorageMemory:
		logger.Warn("using in-memory storage; data is lost on restart")
		store = storage.NewMemory()
	default:
		s, err := storage.New(cfg.ConnectionString, cfg.BoardsTable, cfg.TasksTable)
		if err != nil {
			logger.Fatalf("storage: %v", err)
		}
		store = s
	}

	var sink activity.Recorder = activity.LogSink{Log: logger}
	if cfg.ActivityQueue != "" {
		q, err := storage.NewActivityQueue(cfg.ConnectionString, cfg.ActivityQueue)
		if err != nil {
			logger.Fatalf("activity queue: %v", err)
		}
		sink = q
	}
	dispatcher := activity.NewDispatcher(sink, logger, activity.Options{
		Workers:        cfg.ActivityWorkers,
		Buffer:         cfg.ActivityBuffer,
		Timeout:        cfg.ActivityTimeout,
		HandoffTimeout: cfg.ActivityHandoff,
	})

	ctx, stopListening := context.WithCancel(context.Background())
	defer stopListening()

	broker := api.NewBroker()
	opts := []board.Option{board.WithMaxAttempts(cfg.MaxAttempts)}
	var deduper api.Deduper
	var rc *redis.Client
	if cfg.RedisConnection != "" {
		redisOpts, err := config.RedisOptions(cfg.RedisConnection)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(redisOpts)
		cache := storage.NewCache(rc, cfg.StatsCacheTTL, cfg.UpdatesChannel, logger)
		opts = append(opts, board.WithStatsCache(cache), board.WithObserver(cache))
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
		// Changes from every instance reach the local streams through the channel.
		go storage.ListenBoardChanges(ctx, rc, cfg.UpdatesChannel, logger, broker.BoardChanged)
	} else {
		logger.Warn("REDIS_CONNECTION_STRING not set; statistics cache and idempotency keys disabled")
		opts = append(opts, board.WithObserver(broker))
	}
	engine := board.New(store, dispatcher, logger, opts...)

	var auth *api.Auth
	if cfg.AuthTestMode {
		auth = api.NewAuth(nil, "", "")
	} else {
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			logger.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		auth = api.NewAuth(jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware())
	if cfg.Pprof {
		pprof.Register(e)
	}
	api.Register(e, engine, auth, deduper, broker, logger)

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	stopListening()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server shutdown")
	}
	dispatcher.Close()
	if rc != nil {
		if err := rc.Close(); err != nil {
			logger.WithError(err).Warn("redis close")
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("tracer shutdown")
	}
}
