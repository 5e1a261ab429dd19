package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/Capitan-Parrot/motion-detector/internal/api"
	"github.com/Capitan-Parrot/motion-detector/internal/config"
	"github.com/Capitan-Parrot/motion-detector/internal/database"
	"github.com/Capitan-Parrot/motion-detector/internal/detector"
	"github.com/Capitan-Parrot/motion-detector/internal/kafka"
	"github.com/Capitan-Parrot/motion-detector/internal/nats"
	"github.com/Capitan-Parrot/motion-detector/internal/observer"
	"github.com/Capitan-Parrot/motion-detector/internal/pipeline"
	"github.com/Capitan-Parrot/motion-detector/internal/repository"
	"github.com/Capitan-Parrot/motion-detector/internal/runner"
	"github.com/Capitan-Parrot/motion-detector/internal/s3"
	"github.com/Capitan-Parrot/motion-detector/internal/services/feed"
	"github.com/Capitan-Parrot/motion-detector/internal/stream"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	sinks := []repository.ImageSink{repository.NewFileSink(cfg.Storage.SaveDir, logger)}

	// Postgres
	var db *database.Database
	if cfg.Postgres.DSN != "" {
		var err error
		db, err = database.New(cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Init(); err != nil {
			return err
		}
		sinks = append(sinks, db)
		logger.Info("connected to postgres")
	}

	// MinIO
	if cfg.Minio.Endpoint != "" {
		client, err := s3.NewMinioClient(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey)
		if err != nil {
			return err
		}
		sink := s3.NewSink(client, cfg.Minio.Bucket, logger)
		if err := sink.EnsureBucketExists(ctx); err != nil {
			return err
		}
		sinks = append(sinks, sink)
		logger.Info("connected to minio", "endpoint", cfg.Minio.Endpoint, "bucket", cfg.Minio.Bucket)
	}

	repo := repository.NewImageRepository(logger, repository.ImageOptions{
		QueueSize: cfg.Storage.QueueSize,
		Workers:   cfg.Storage.Workers,
	}, sinks...)
	defer repo.Close()

	pool := pipeline.NewPool(cfg.Pipeline.Workers)
	defer pool.Close()

	hub := feed.NewHub(logger)
	go hub.Run(ctx)

	// Kafka
	var producer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		var err error
		producer, err = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.HeartbeatTopic, cfg.Kafka.DetectionTopic)
		if err != nil {
			return err
		}
		defer producer.Close()
	}

	// NATS
	var publisher *nats.Publisher
	if cfg.NATS.URL != "" {
		conn, err := nats.Connect(cfg.NATS.URL, logger)
		if err != nil {
			return err
		}
		defer conn.Drain()
		publisher = nats.NewPublisher(conn, cfg.NATS.SubjectPrefix, logger)
	}

	processors := func(streamID string) (pipeline.Processor, error) {
		engine, err := detector.New(cfg.Detection, nil, repo, logger.With("stream", streamID))
		if err != nil {
			return nil, err
		}
		engine.Attach(observer.NewLogger(logger, "stream", streamID))
		engine.Attach(hub.Observer(streamID))
		if producer != nil {
			engine.Attach(producer.Observer(streamID))
		}
		if publisher != nil {
			engine.Attach(publisher.Observer(streamID))
		}
		return engine, nil
	}

	factory := stream.NewFactory(logger)

	// Headless streams need both the command topic and the stream registry.
	var r *runner.Runner
	if producer != nil && db != nil {
		consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.CommandTopic, logger)
		if err != nil {
			return err
		}
		defer consumer.Close()
		go consumer.StartListening(ctx)

		r = runner.New(db, producer, factory, processors, pool, logger, runner.Options{Mirror: cfg.Pipeline.Mirror})
		go r.ListenAndRun(ctx, consumer.Messages())
		go r.ProcessStopEvents(ctx)
	}

	deps := api.Deps{
		Store:      repo,
		Opener:     factory,
		Processors: processors,
		Pool:       pool,
		Feed:       http.HandlerFunc(hub.ServeWS),
		Mirror:     cfg.Pipeline.Mirror,
		Logger:     logger,
	}
	if db != nil {
		deps.History = db
	}

	srv := &http.Server{
		Addr:        cfg.HTTP.Addr,
		Handler:     api.NewRouter(api.NewHandlers(deps)),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}

	if r != nil {
		r.Wait()
	}
	return nil
}
