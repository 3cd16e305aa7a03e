package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meftunca/courier/pkg/api"
	"github.com/meftunca/courier/pkg/broker"
	"github.com/meftunca/courier/pkg/codec"
	"github.com/meftunca/courier/pkg/config"
	"github.com/meftunca/courier/pkg/consumer"
	"github.com/meftunca/courier/pkg/dlq"
	"github.com/meftunca/courier/pkg/metrics"
	"github.com/meftunca/courier/pkg/queue"
	"github.com/meftunca/courier/pkg/ratelimit"
	"github.com/meftunca/courier/pkg/registry"
	"github.com/meftunca/courier/pkg/retry"
	"github.com/meftunca/courier/pkg/router"
	"github.com/meftunca/courier/pkg/security"
	"github.com/meftunca/courier/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("[courier] config load failed: %v", err)
	}
	if cfg.Security.HMACSecret == "" {
		log.Fatalf("[courier] HMAC_SECRET is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	guard, err := security.NewGuard(security.Config{
		HMACSecret:       cfg.Security.HMACSecret,
		EncryptionSecret: cfg.Security.EncryptionSecret,
		MaxPayloadBytes:  cfg.Queue.MaxPayloadBytes,
	})
	if err != nil {
		log.Fatalf("[courier] security init failed: %v", err)
	}

	b := broker.NewRedisBroker(cfg.Broker)
	if err := b.Ping(ctx); err != nil {
		log.Fatalf("[courier] broker unreachable: %v", err)
	}
	defer b.Close()

	q, err := queue.New(b, queue.Options{
		Name:                 cfg.Queue.Name,
		MaxPayloadBytes:      cfg.Queue.MaxPayloadBytes,
		JSONLibrary:          cfg.Queue.JSONLibrary,
		Compression:          cfg.Queue.Compression,
		CompressionThreshold: cfg.Queue.CompressionThreshold,
	})
	if err != nil {
		log.Fatalf("[courier] queue init failed: %v", err)
	}

	m := metrics.New("courier")

	limiter := ratelimit.NewLimiter(
		cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSec,
		cfg.RateLimit.IdleEviction, cfg.RateLimit.CleanupPeriod)
	defer limiter.Stop()

	serializer, err := codec.NewSerializer(cfg.DLQ.Serialization)
	if err != nil {
		log.Fatalf("[courier] dlq serializer init failed: %v", err)
	}
	entries := dlq.NewRedisEntryStore(b.Client(), "courier", serializer)

	deadLetters := dlq.NewStore(entries, func(ctx context.Context, env *types.Envelope) error {
		guard.Sign(env)
		if _, err := q.Enqueue(ctx, env); err != nil {
			return err
		}
		m.Requeued.Inc()
		return nil
	})

	reaper := dlq.NewReaper(deadLetters,
		cfg.DLQ.ReapInterval,
		time.Duration(cfg.DLQ.AutoRequeueThresholdHours)*time.Hour,
		time.Duration(cfg.DLQ.RetentionDays)*24*time.Hour)
	reaper.Start(ctx)
	defer reaper.Stop()

	coord := retry.NewCoordinator(deadLetters, cfg.Queue.Name, cfg.Retry.BaseDelay, cfg.Retry.Jitter)

	cons := consumer.New(consumer.Config{
		Workers:         cfg.Consumer.Workers,
		DequeueTimeout:  cfg.Consumer.DequeueTimeout,
		GracefulTimeout: cfg.Consumer.GracefulTimeout,
		MaxAge:          cfg.Security.MaxAge,
	}, q, guard, coord, m)

	// Built-in echo handler; real deployments register their own types.
	cons.Handle("echo", func(ctx context.Context, env *types.Envelope) error {
		log.Printf("[echo] %s: %s", env.ID, env.Payload)
		return nil
	})

	cons.Start(ctx)
	defer cons.Stop()

	go gaugeLoop(ctx, q, deadLetters, limiter, m)

	var apiServer *api.Server
	if cfg.API.Enabled {
		reg := registry.NewMemoryRegistry()
		rt := router.New(reg, q, guard, limiter)
		apiServer = api.NewServer(cfg, q, deadLetters, limiter, guard, m, rt, reg)
		go func() {
			if err := apiServer.Listen(); err != nil {
				log.Printf("[courier] api server stopped: %v", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Printf("[courier] shutting down")

	cancel()
	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[courier] api shutdown failed: %v", err)
		}
	}
}

// gaugeLoop refreshes the depth gauges.
func gaugeLoop(ctx context.Context, q *queue.Queue, store *dlq.Store, limiter *ratelimit.Limiter, m *metrics.Metrics) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if size, err := q.Size(ctx); err == nil {
				m.QueueDepth.Set(float64(size))
			}
			if stats, err := store.Stats(ctx); err == nil {
				m.DLQDepth.Set(float64(stats.Total))
			}
			m.ActiveSenders.Set(float64(limiter.Stats().ActiveSenders))
		case <-ctx.Done():
			return
		}
	}
}
