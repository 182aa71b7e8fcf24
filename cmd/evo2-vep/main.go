package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shivazshu/evo2-vep/internal/cache"
	"github.com/shivazshu/evo2-vep/internal/config"
	"github.com/shivazshu/evo2-vep/internal/fallback"
	"github.com/shivazshu/evo2-vep/internal/genome"
	"github.com/shivazshu/evo2-vep/internal/inference"
	"github.com/shivazshu/evo2-vep/internal/logging"
	"github.com/shivazshu/evo2-vep/internal/metrics"
	"github.com/shivazshu/evo2-vep/internal/server"
	"github.com/shivazshu/evo2-vep/internal/upstream"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "EVO2", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(promRegistry)

	store := buildCacheStore(logger.With(slog.String("component", "cache_factory")), cfg.Server.Cache, recorder)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := store.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	policy := upstream.Policy{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		BaseDelay:         cfg.Retry.BaseDelayDuration(),
		Multiplier:        cfg.Retry.Multiplier,
		MaxJitter:         cfg.Retry.MaxJitterDuration(),
		RateLimitedBase:   cfg.Retry.RateLimitedBaseDuration(),
		RateLimitedFactor: cfg.Retry.RateLimitedFactor,
		RateLimitedJitter: cfg.Retry.RateLimitedJitterDuration(),
	}

	ucscExec := upstream.NewExecutor(genome.ServiceUCSC, policy, nil, logger, recorder)
	ucscQueue := upstream.NewQueue(genome.ServiceUCSC, cfg.Upstreams.UCSC.MinInterval(), ucscExec, nil, logger, recorder)
	defer ucscQueue.Close()

	ncbiExec := upstream.NewExecutor(genome.ServiceNCBI, policy, nil, logger, recorder)
	ncbiQueue := upstream.NewQueue(genome.ServiceNCBI, cfg.Upstreams.NCBI.MinInterval(), ncbiExec, nil, logger, recorder)
	defer ncbiQueue.Close()

	ttls := cfg.Server.Cache.TTL
	ucsc := genome.NewUCSC(cfg.Upstreams.UCSC, ttls, store, ucscQueue, fallback.New(), logger, recorder)
	defer ucsc.Close()
	ncbi := genome.NewNCBI(cfg.Upstreams.NCBI, ttls, store, ncbiQueue, logger, recorder)
	defer ncbi.Close()

	analyzer := inference.New(cfg.Inference, logger)
	defer analyzer.Close()

	queues := map[string]*upstream.Queue{
		genome.ServiceUCSC: ucscQueue,
		genome.ServiceNCBI: ncbiQueue,
	}
	handler := server.NewHandler(ucsc, ncbi, analyzer, store, queues, logger, recorder)

	srv, err := server.New(cfg, logger, handler.Router())
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// buildCacheStore assembles the two cache tiers. A redis backend that cannot
// be reached at startup degrades to memory-only operation instead of refusing
// to boot; the durable tier is an optimization, not a dependency.
func buildCacheStore(logger *slog.Logger, cfg config.ServerCacheConfig, rec *metrics.Recorder) *cache.Tiered {
	fast := cache.NewMemory()

	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	if backend == "" || backend == "memory" {
		logger.Info("using memory cache only")
		return cache.NewTiered(fast, nil, logger, rec)
	}

	durable, err := cache.NewRedis(cache.RedisConfig{
		Address:  cfg.Redis.Address,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TLS: cache.RedisTLSConfig{
			Enabled: cfg.Redis.TLS.Enabled,
			CAFile:  cfg.Redis.TLS.CAFile,
		},
	})
	if err != nil {
		logger.Error("redis cache initialization failed", slog.Any("error", err))
		logger.Info("falling back to memory cache")
		return cache.NewTiered(fast, nil, logger, rec)
	}
	logger.Info("using redis durable tier", slog.String("address", cfg.Redis.Address))
	return cache.NewTiered(fast, durable, logger, rec)
}
