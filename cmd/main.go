package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/lvdashuaibi/evermark-sync/config"
	"github.com/lvdashuaibi/evermark-sync/internal/api/graph"
	"github.com/lvdashuaibi/evermark-sync/internal/api/rest"
	"github.com/lvdashuaibi/evermark-sync/internal/cache"
	"github.com/lvdashuaibi/evermark-sync/internal/chain"
	intkafka "github.com/lvdashuaibi/evermark-sync/internal/kafka"
	"github.com/lvdashuaibi/evermark-sync/internal/lock"
	"github.com/lvdashuaibi/evermark-sync/internal/logging"
	"github.com/lvdashuaibi/evermark-sync/internal/model"
	"github.com/lvdashuaibi/evermark-sync/internal/repository"
	"github.com/lvdashuaibi/evermark-sync/internal/scheduler"
	"github.com/lvdashuaibi/evermark-sync/internal/service"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to the config file")
	instanceID = flag.Int("instance", 1, "instance number, offsets the listen port for local multi-instance runs")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()
	logger = logger.With(zap.Int("instance", *instanceID))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("evermark-sync exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.CreateSchema(ctx); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	logger.Info("cache store ready", zap.String("driver", cfg.Store.Driver))

	provider, err := chain.NewEthProvider(ctx, cfg.Chain.RPCURL, cfg.Chain.VotingContract, cfg.Chain.CallTimeout)
	if err != nil {
		return fmt.Errorf("connect chain: %w", err)
	}
	defer provider.Close()
	reader := chain.NewContractReader(provider, logger)
	scanner := chain.NewScanner(provider, logger)

	var (
		notifiers  []cache.Notifier
		tallyCache service.TallyCache
	)
	if cfg.Redis.DataAddress != "" {
		redisRepo, err := repository.NewRedisRepository(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisRepo.Close()
		tallyCache = redisRepo
		notifiers = append(notifiers, redisRepo)
		logger.Info("redis tally cache enabled", zap.String("addr", cfg.Redis.DataAddress))
	}

	if cfg.Kafka.Enabled {
		producer, err := intkafka.NewProducer(ctx, cfg.Kafka, logger)
		if err != nil {
			return fmt.Errorf("create kafka producer: %w", err)
		}
		defer producer.Close()
		notifiers = append(notifiers, producer)
	}

	writer := cache.NewWriter(store, logger, cache.WithNotifiers(notifiers...))
	syncSvc := service.NewSyncService(reader, scanner, provider, writer, logger)
	stats := service.NewStatsReporter(store, logger)
	query := service.NewQueryService(store, tallyCache, stats, logger)

	if cfg.Kafka.Enabled {
		consumer, err := intkafka.NewConsumer(ctx, cfg.Kafka, service.IsValidation, logger)
		if err != nil {
			return fmt.Errorf("create kafka consumer: %w", err)
		}
		consumer.StartConsuming(func(ctx context.Context, p *model.VoteCastPayload) error {
			_, err := syncSvc.IngestVoteCastWebhook(ctx, p)
			return err
		})
		defer func() {
			if err := consumer.Stop(); err != nil {
				logger.Warn("stop kafka consumer", zap.Error(err))
			}
		}()
	}

	if cfg.Sync.SchedulerEnabled {
		locker, err := openLocker(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer locker.Close()

		sched, err := scheduler.New(syncSvc, locker, cfg.Sync, cfg.Lock, logger)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	gin.SetMode(gin.ReleaseMode)
	handler := rest.NewHandler(syncSvc, stats, cfg.Sync.RecentBlockRange, logger)
	engine := rest.NewEngine(handler, cfg.Server.SyncPath, logger)
	gql := graph.NewGraphQLServer(query, cfg.Server.GraphQLPath)
	engine.POST(cfg.Server.GraphQLPath, gin.WrapH(gql.Handler()))
	engine.GET(cfg.Server.GraphQLPath, gin.WrapH(gql.Playground()))

	port := cfg.Server.Port + *instanceID - 1
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			zap.Int("port", port),
			zap.String("sync_path", cfg.Server.SyncPath),
			zap.String("graphql_path", cfg.Server.GraphQLPath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, error) {
	switch cfg.Store.Driver {
	case "mysql":
		repo, err := repository.NewMySQLRepository(ctx, cfg.MySQL, logger)
		if err != nil {
			return nil, fmt.Errorf("connect mysql: %w", err)
		}
		return repo, nil
	case "postgres":
		repo, err := repository.NewPostgresRepository(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return repo, nil
	case "memory":
		logger.Warn("using the in-memory store; cached rows are lost on exit")
		return repository.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unsupported store.driver %q", cfg.Store.Driver)
}

func openLocker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (lock.Locker, error) {
	switch cfg.Lock.Backend {
	case "etcd":
		l, err := lock.NewETCDLock(cfg.ETCD, logger)
		if err != nil {
			return nil, fmt.Errorf("create etcd lock: %w", err)
		}
		return l, nil
	case "redis":
		l, err := lock.NewRedLock(ctx, cfg.Redis, cfg.Lock, logger)
		if err != nil {
			return nil, fmt.Errorf("create redlock: %w", err)
		}
		return l, nil
	}
	return nil, fmt.Errorf("unsupported lock.backend %q", cfg.Lock.Backend)
}
