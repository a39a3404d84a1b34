package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"eventsWs/internal/config"
	"eventsWs/internal/modules/realtime/infrastructure"
	transport "eventsWs/internal/modules/realtime/interface"
	"eventsWs/internal/platform/broker"
	"eventsWs/internal/platform/metrics"
	"eventsWs/internal/platform/pidfile"
	"eventsWs/internal/shared/auth"
	"eventsWs/internal/shared/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Attempt to load variables from .env so local runs honour configuration tweaks.
	if err := godotenv.Overload(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, ".env load warning: %v\n", err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logFile, logger, err := setupLogging(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup error: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	slog.SetDefault(logger)
	slog.Info("logging initialized", slog.String("directory", cfg.Logging.Directory), slog.String("level", cfg.Logging.Level), slog.String("format", cfg.Logging.Format))

	if err := run(cfg); err != nil {
		slog.Error("relay stopped", logging.Err(err))
		logFile.Close()
		os.Exit(1)
	}
	slog.Info("relay stopped")
}

func run(cfg *config.Config) error {
	pid, err := pidfile.Write(cfg.PIDFile)
	if err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			slog.Warn("pid file cleanup failed", logging.Err(err))
		}
	}()

	conn, err := broker.Dial(cfg.AMQP.DialURL(), "events-relay")
	if err != nil {
		return err
	}
	defer conn.Close()
	slog.Info("amqp connected", slog.String("host", cfg.AMQP.Host), slog.String("vhost", cfg.AMQP.VirtualHost))

	bridge := broker.NewBridge(conn)
	publisher := broker.NewPublisher(conn)
	defer publisher.Close()

	commands, err := infrastructure.NewCommandTable(infrastructure.DefaultCommands()...)
	if err != nil {
		return err
	}
	registry := infrastructure.NewRegistry()

	e := echo.New()
	e.HideBanner = true
	e.Logger.SetOutput(log.Writer())

	wsHandler := transport.NewWebsocketHandler(transport.WebsocketDeps{
		Registry: registry,
		Bridge:   bridge,
		Verifier: auth.NewSigner(cfg.Signing.Salt, cfg.Signing.Secret),
		Commands: commands,
		Session: infrastructure.SessionConfig{
			SendBuffer:   cfg.Websocket.SendBuffer,
			ReadLimit:    cfg.Websocket.ReadLimit,
			PingInterval: cfg.Websocket.PingInterval,
			PongWait:     cfg.Websocket.PongWait,
		},
	})
	e.GET("/", wsHandler)
	e.GET("/events", wsHandler)
	e.GET("/healthz", transport.NewHealthHandler(registry, bridge))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		slog.Info("http server listening", slog.String("addr", cfg.Server.Addr()))
		if err := e.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Losing the broker connection loses every session's queue; exit and let the supervisor restart us.
	closed := conn.NotifyClose()
	group.Go(func() error {
		select {
		case amqpErr, ok := <-closed:
			if ok && amqpErr != nil {
				return fmt.Errorf("amqp connection closed: %w", amqpErr)
			}
			return nil
		case <-ctx.Done():
			return nil
		}
	})

	if cfg.Kafka.Enabled() {
		started := broker.StartKafkaForwarders(ctx, group, publisher, cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topics)
		slog.Info("kafka ingest enabled", slog.Any("brokers", cfg.Kafka.Brokers), slog.Int("forwarders", started))
	}

	group.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown failed", logging.Err(err))
		}
		// Upgraded connections are hijacked, so the server does not close them.
		registry.CloseAll()
		return nil
	})

	return group.Wait()
}

func setupLogging(cfg config.LoggingConfig) (*os.File, *slog.Logger, error) {
	dir := cfg.Directory
	if dir == "" {
		dir = "./logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	fileName := filepath.Join(dir, time.Now().UTC().Format("2006-01-02")+".log")
	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	writer := io.MultiWriter(os.Stdout, file)
	logger := logging.New(writer, logging.Config{
		Level:     cfg.Level,
		Format:    cfg.Format,
		AddSource: true,
	})
	log.SetOutput(writer)
	log.SetFlags(0)
	log.SetPrefix("")

	return file, logger, nil
}
