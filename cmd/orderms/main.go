package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nsridhar76/go-orderms/internal/aggregate"
	"github.com/nsridhar76/go-orderms/internal/config"
	"github.com/nsridhar76/go-orderms/internal/dedup"
	"github.com/nsridhar76/go-orderms/internal/domain"
	"github.com/nsridhar76/go-orderms/internal/health"
	"github.com/nsridhar76/go-orderms/internal/httpapi"
	"github.com/nsridhar76/go-orderms/internal/logging"
	"github.com/nsridhar76/go-orderms/internal/messaging/kafka"
	"github.com/nsridhar76/go-orderms/internal/messaging/noop"
	"github.com/nsridhar76/go-orderms/internal/service"
	"github.com/nsridhar76/go-orderms/internal/store/memory"
	"github.com/nsridhar76/go-orderms/internal/store/postgres"
)

type orderStore interface {
	domain.OrderRepository
	aggregate.Runner
}

func main() {
	configPath := flag.String("config", os.Getenv("ORDERMS_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("orderms stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("orderms stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	orders := service.NewOrders(store, store, logger)
	hs := health.NewServer(logger)

	api := httpapi.NewHandler(orders, httpapi.Options{
		DefaultPageSize: cfg.API.DefaultPageSize,
		MaxPageSize:     cfg.API.MaxPageSize,
		RequestTimeout:  cfg.API.RequestTimeout,
	}, logger)
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: api.Routes()}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := hs.Serve(cfg.GRPC.Addr); err != nil {
			return fmt.Errorf("grpc health: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("http listening", slog.String("addr", cfg.HTTP.Addr))
		hs.SetServing(health.ServiceAPI, true)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	if len(cfg.Kafka.Brokers) > 0 {
		consumer, closeConsumer := newConsumer(cfg, orders, logger)
		defer closeConsumer()
		g.Go(func() error {
			hs.SetServing(health.ServiceConsumer, true)
			defer hs.SetServing(health.ServiceConsumer, false)
			return consumer.Run(gctx)
		})
	} else {
		logger.Warn("kafka brokers not configured, order consumer disabled")
	}
	hs.SetServing("", true)

	g.Go(func() error {
		<-gctx.Done()
		hs.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (orderStore, func(), error) {
	if cfg.Postgres.DSN == "" {
		logger.Warn("postgres dsn not configured, using in-memory order store")
		return memory.New(), func() {}, nil
	}

	pg, err := postgres.Open(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func newConsumer(cfg config.Config, orders *service.Orders, logger *slog.Logger) (*kafka.Consumer, func()) {
	reader := kafka.NewReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
	closers := []func() error{reader.Close}

	var dlq kafka.DeadLetterPublisher = noop.Publisher{}
	if cfg.Kafka.DeadLetterTopic != "" {
		p := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.DeadLetterTopic)
		closers = append(closers, p.Close)
		dlq = p
	}

	var guard kafka.Deduplicator = noop.Guard{}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		closers = append(closers, client.Close)
		guard = dedup.NewRedisGuard(client, cfg.Redis.DedupTTL)
	}

	backoff := kafka.Backoff{Base: cfg.Consumer.BaseBackoff, Max: cfg.Consumer.MaxBackoff, Multiplier: 2}
	logger.Info("order consumer configured",
		slog.Any("brokers", cfg.Kafka.Brokers),
		slog.String("topic", cfg.Kafka.Topic),
		slog.String("group_id", cfg.Kafka.GroupID),
		slog.String("dead_letter_topic", cfg.Kafka.DeadLetterTopic),
		slog.Bool("dedup", cfg.Redis.Addr != ""),
	)

	return kafka.NewConsumer(reader, orders, dlq, guard, backoff, logger), func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("close consumer resource", slog.Any("error", err))
			}
		}
	}
}
