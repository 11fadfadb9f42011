package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/internal/api"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/internal/shard"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/keyindexer.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting key indexer",
		"port", cfg.Server.Port,
		"backend", cfg.KeyIndex.Backend,
		"num_shards", cfg.KeyIndex.NumShards,
	)

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	router, err := shard.NewRouter(cfg.KeyIndex, m)
	if err != nil {
		slog.Error("failed to create shard router", "error", err)
		os.Exit(1)
	}

	checker := health.NewChecker()
	checker.Register("shards", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d shards active", router.NumShards())}
	})

	store, closeStore, err := openStore(cfg, checker)
	if err != nil {
		slog.Error("failed to open snapshot store", "store", cfg.Snapshot.Store, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	codec, err := snapshot.ParseCodec(cfg.Snapshot.Compression)
	if err != nil {
		slog.Error("invalid snapshot compression", "error", err)
		os.Exit(1)
	}
	opts := snapshot.Options{
		Codec:         codec,
		Interval:      cfg.Snapshot.Interval,
		MaxConcurrent: cfg.Snapshot.MaxConcurrent,
		Metrics:       m,
	}

	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, snapshot registry disabled", "error", err)
		} else {
			defer db.Close()
			opts.Recorder = snapshot.NewRegistry(db, cfg.Snapshot.RegistryKeep)
			checker.Register("postgres", health.PingCheck(db, false))
			slog.Info("snapshot registry enabled", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		}
	}

	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SnapshotComplete)
		defer producer.Close()
		opts.Publisher = producer
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var snapshotter api.Snapshotter
	var snapshotDone <-chan struct{}
	if store != nil {
		mgr := snapshot.NewManager(router, store, opts)
		if cfg.Snapshot.RestoreOnBoot {
			n, err := mgr.RestoreAll(ctx)
			if err != nil {
				slog.Error("failed to restore shards", "error", err)
				os.Exit(1)
			}
			slog.Info("shards restored from snapshots", "restored", n)
		}
		snapshotDone = mgr.StartLoop(ctx)
		snapshotter = mgr
	}

	var wg sync.WaitGroup
	if cfg.Kafka.Enabled {
		consumer := ingest.NewBatchConsumer(kafka.NewConsumer(
			cfg.Kafka,
			cfg.Kafka.Topics.ChunkBatches,
			ingest.HandleMessage(router, m),
		))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Start(ctx); err != nil {
				slog.Error("consumer error", "error", err)
			}
		}()
		slog.Info("consuming chunk batches from kafka",
			"topic", cfg.Kafka.Topics.ChunkBatches,
			"group", cfg.Kafka.ConsumerGroup,
		)
	}

	h := api.New(router, snapshotter)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewServeMux(h, checker, m, cfg.Server.WriteTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("key indexer listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		stop()
	}

	wg.Wait()
	if snapshotDone != nil {
		slog.Info("waiting for final snapshot")
		<-snapshotDone
	}
	slog.Info("key indexer stopped")
}

// openStore builds the configured snapshot store and registers its health
// check. It returns a nil Store when snapshots are disabled.
func openStore(cfg *config.Config, checker *health.Checker) (snapshot.Store, func(), error) {
	noop := func() {}
	switch cfg.Snapshot.Store {
	case "file":
		fs, err := snapshot.NewFileStore(cfg.Snapshot.DataDir)
		if err != nil {
			return nil, noop, err
		}
		checker.Register("snapshot_store", health.PingCheck(fs, true))
		slog.Info("file snapshot store ready", "data_dir", cfg.Snapshot.DataDir)
		return fs, noop, nil
	case "redis":
		client, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			return nil, noop, err
		}
		checker.Register("snapshot_store", health.PingCheck(client, false))
		slog.Info("redis snapshot store ready", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.KeyPrefix)
		return snapshot.NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL), func() { client.Close() }, nil
	default:
		slog.Info("snapshots disabled")
		return nil, noop, nil
	}
}
