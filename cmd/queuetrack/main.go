package main

import (
	"context"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/12Perseus21/QueueTrack/internal/config"
	"github.com/12Perseus21/QueueTrack/internal/feed"
	"github.com/12Perseus21/QueueTrack/internal/httpapi"
	"github.com/12Perseus21/QueueTrack/internal/queue"
	"github.com/12Perseus21/QueueTrack/internal/realtime"
	"github.com/12Perseus21/QueueTrack/internal/store/postgres"
	"github.com/12Perseus21/QueueTrack/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("queuetrack")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool, postgres.Options{OrderNumberBase: cfg.OrderNumberBase})
	changeFeed := feed.New()
	coordinator := queue.NewCoordinator(st, changeFeed)
	handler := httpapi.NewHandler(coordinator)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:      cfg.RateLimitPerMinute,
		IPBurst:          cfg.RateLimitBurst,
		SessionPerMinute: cfg.SessionRatePerMin,
		SessionBurst:     cfg.SessionRateBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", realtime.NewHandler("/realtime", changeFeed, st))
	mux.Handle("/", httpapi.AuthMiddleware(st, handler.Routes()))

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "queuetrack")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	pollCtx, stopPoller := context.WithCancel(context.Background())
	defer stopPoller()
	poller := feed.NewPoller(st, changeFeed, cfg.FeedPollInterval, cfg.FeedBatchSize)
	go poller.Run(pollCtx)

	go func() {
		log.Printf("queuetrack listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	stopPoller()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
