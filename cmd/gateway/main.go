package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/api"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/export"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/gateway"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/generator"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/persister"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/registry"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/stock-pulse/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	var rdb *redis.Client
	if cfg.Store.Backend == config.BackendRedis || cfg.Redis.MirrorTicks {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
	}

	store, err := openStore(cfg, rdb)
	if err != nil {
		logger.Fatal("Failed to open user store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}

	reg := registry.New(cfg.Market.Tickers, logger)
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 10*time.Second)
	records, err := store.LoadUsers(loadCtx)
	cancelLoad()
	if err != nil {
		// a broken file must not keep the service down; start empty
		logger.Error("Error loading user data", zap.Error(err))
	} else {
		reg.Restore(records)
		logger.Info("Loaded user data", zap.Int("users", reg.Users()))
	}

	gen := generator.NewPriceGenerator(logger, cfg.Market.Tickers, generator.Params{
		Interval:     cfg.Market.TickInterval,
		FloorPrice:   cfg.Market.FloorPrice,
		MaxDelta:     cfg.Market.MaxDelta,
		HistorySize:  cfg.Market.HistorySize,
		BasePriceMin: cfg.Market.BasePriceMin,
		BasePriceMax: cfg.Market.BasePriceMax,
	}, generator.NewRealRand(), generator.RealClock{})

	wsHub := hub.NewHub(reg, gen, logger)
	gen.AddHandler(wsHub)

	pers := persister.New(store, reg.Snapshot, cfg.Store.Debounce, logger)
	reg.OnChange(pers.MarkDirty)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	exporter := export.NewExporter(logger)
	var kafkaPub *export.KafkaPublisher
	if cfg.Kafka.Enabled {
		tc := export.NewTopicCreator(logger, export.BrokerDialer(kafka.DefaultDialer), export.RealSleeper{})
		tc.Create(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions)

		kafkaPub = export.NewKafkaPublisher(export.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		exporter.Add("kafka", kafkaPub, 1000)
	}
	if cfg.Redis.MirrorTicks {
		exporter.Add("redis", repository.NewRedisStore(rdb), 1000)
	}
	if exporter.Len() > 0 {
		gen.AddHandler(exporter)
		wg.Add(1)
		go func() {
			defer wg.Done()
			exporter.Run(ctx)
		}()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		pers.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		gen.Run(ctx)
	}()

	opts := gateway.OptionsFromConfig(cfg.Gateway)
	srv := api.NewServer(wsHub, gen, func(conn net.Conn) {
		gateway.NewClient(conn, wsHub, logger, opts).Start()
	}, logger)
	e := srv.Echo(cfg.App.PublicDir)

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port), zap.Strings("tickers", reg.Supported()))
		if err := e.Start(cfg.App.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP server", zap.Error(err))
	}

	// stops the generator and exporter, and makes the persister do its last write
	cancel()
	wg.Wait()

	if kafkaPub != nil {
		if err := kafkaPub.Close(); err != nil {
			logger.Error("Error closing Kafka writer", zap.Error(err))
		}
	}
	if err := store.Close(); err != nil {
		logger.Error("Error closing user store", zap.Error(err))
	}
	if rdb != nil && cfg.Store.Backend != config.BackendRedis {
		rdb.Close()
	}

	logger.Info("Shutdown Complete")
}

func openStore(cfg *config.Config, rdb *redis.Client) (repository.UserStore, error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		return repository.NewRedisStore(rdb), nil
	case config.BackendSQLite:
		return repository.NewSQLiteStore(cfg.Store.SQLitePath)
	default:
		return repository.NewFileStore(cfg.Store.Path), nil
	}
}
