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

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docflow/internal/app"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/events"
	"github.com/joseph-ayodele/docflow/internal/ingest"
	"github.com/joseph-ayodele/docflow/internal/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("docflowd exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("docflowd stopped")
}

func run(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sinks := []events.Sink{events.NewLogSink(logger, slog.LevelDebug)}
	if len(cfg.Kafka.Brokers) > 0 {
		ks, err := events.NewKafkaSink(events.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic}, logger)
		if err != nil {
			return err
		}
		sinks = append(sinks, ks)
		logger.Info("publishing job events to kafka", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	drainer := events.NewDrainer(logger, sinks...)

	ingestor := ingest.NewFSIngestor(a.Orchestrator, logger, ingest.WithMaxSize(cfg.Pipeline.MaxFileSize))
	srv := server.New(a.Orchestrator, a.Monitor, logger,
		server.WithIngestor(ingestor),
		server.WithMaxUpload(cfg.Pipeline.MaxFileSize+1<<20),
	)
	httpSrv := srv.HTTPServer(cfg.Server.HTTPAddr)
	grpcSrv := server.NewGRPCServer(a.Health)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}

	a.Orchestrator.Start(ctx)

	// Events outlive ctx so the final completions of a draining shutdown still
	// reach the sinks; the drainer stops when the channel closes.
	drainCtx, cancelDrain := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDrain()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := drainer.Run(drainCtx, a.Orchestrator.Events())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error { return a.Monitor.Run(gctx) })
	if len(cfg.Ingest.WatchDirs) > 0 {
		g.Go(func() error {
			err := ingest.Watch(gctx, ingestor, ingest.WatchConfig{
				Roots:       cfg.Ingest.WatchDirs,
				InitialScan: cfg.Ingest.InitialScan,
				Debounce:    cfg.Ingest.Debounce,
			}, logger)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc health listening", "addr", cfg.Server.GRPCAddr)
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		a.Health.Shutdown()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		grpcSrv.GracefulStop()
		if err := a.Orchestrator.Shutdown(sctx); err != nil {
			logger.Warn("workers did not drain", "error", err)
			cancelDrain()
		}
		return nil
	})
	return g.Wait()
}

func logLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(os.Getenv("LOG_LEVEL"))); err != nil {
		return slog.LevelInfo
	}
	return l
}
