// Command orbit runs the inference gateway: an HTTP front end that shapes
// traffic through quota and throttle middleware, fans retrieval out over
// configured adapters behind circuit breakers, and streams LLM answers
// grounded in the retrieved context.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schmitech/orbit/adapters"
	"github.com/schmitech/orbit/ai"
	"github.com/schmitech/orbit/chat"
	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/datasource"
	"github.com/schmitech/orbit/executor"
	"github.com/schmitech/orbit/logger"
	"github.com/schmitech/orbit/memory"
	"github.com/schmitech/orbit/quota"
	"github.com/schmitech/orbit/resilience"
	"github.com/schmitech/orbit/server"
	"github.com/schmitech/orbit/telemetry"
	"github.com/schmitech/orbit/throttle"
	"github.com/schmitech/orbit/vectorstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway configuration file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	development := flag.Bool("dev", false, "human-readable log output")
	flag.Parse()

	log, err := logger.New(logger.Options{Level: *logLevel, Development: *development})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(*configPath, log); err != nil {
		log.Error("Gateway exited with error", map[string]interface{}{
			"operation": "main",
			"error":     err.Error(),
		})
		os.Exit(1)
	}
}

func run(configPath string, log *logger.ZapLogger) error {
	cfg, err := core.LoadConfig(configPath, log)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	tel, err := telemetry.New(telemetry.Options{ServiceName: "orbit"})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	ctx := context.Background()

	// Traffic shaping and chat history need Redis; without it the gateway
	// runs unshaped with in-process history.
	var (
		redisClient *core.RedisClient
		throttler   *throttle.Throttler
		mem         core.Memory = memory.NewInMemoryStore()
	)
	if cfg.Redis.Enabled {
		redisClient, err = core.NewRedisClient(core.RedisClientOptions{
			RedisURL:  cfg.Redis.URL,
			DB:        core.RedisDBQuota,
			Namespace: cfg.Redis.KeyPrefix,
			Logger:    log,
		})
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer redisClient.Close()

		quotaSvc := quota.NewService(quota.ServiceOptions{
			Redis:    redisClient,
			Defaults: quotaDefaults(cfg),
			Logger:   log,
		})
		throttler = throttle.New(throttle.Options{
			Quota:            quotaSvc,
			ThresholdPercent: cfg.Throttle.ThresholdPercent,
			MinDelay:         time.Duration(cfg.Throttle.MinDelayMs) * time.Millisecond,
			MaxDelay:         time.Duration(cfg.Throttle.MaxDelayMs) * time.Millisecond,
			Curve:            cfg.Throttle.Curve,
			PriorityAnchors:  cfg.Throttle.PriorityMultipliers,
			ExcludedPaths:    cfg.Throttle.ExcludedPaths,
			Logger:           log,
			Telemetry:        tel,
		})

		sessionClient, serr := core.NewRedisClient(core.RedisClientOptions{
			RedisURL:  cfg.Redis.URL,
			DB:        core.RedisDBSessions,
			Namespace: cfg.Redis.KeyPrefix,
			Logger:    log,
		})
		if serr != nil {
			return fmt.Errorf("connecting to redis sessions db: %w", serr)
		}
		defer sessionClient.Close()
		mem = memory.NewRedisMemory(sessionClient, cfg.Chat.HistoryTTL)
	}

	datasources := datasource.NewRegistry(cfg.Datasources, log)
	defer datasources.Close(ctx)

	vectors, err := vectorstore.New(cfg.VectorStore, log)
	if err != nil {
		return fmt.Errorf("initializing vector store: %w", err)
	}

	providers := ai.DefaultRegistry(log)
	llm, err := providers.Client(cfg.Inference)
	if err != nil {
		return fmt.Errorf("initializing inference provider: %w", err)
	}

	breakers := resilience.NewManager(cfg.CircuitBreaker, log, resilience.NewPrometheusMetrics(tel.Registry()))

	registry := adapters.NewRegistry(adapters.RegistryOptions{
		Factory: adapters.NewFactory(adapters.FactoryOptions{
			Datasources: datasources,
			Providers:   providers,
			Vectors:     vectors,
			Inference:   cfg.Inference,
			Embedding:   cfg.Embedding,
			Logger:      log,
		}),
		Breakers:        breakers,
		BreakerDefaults: cfg.CircuitBreaker,
		Descriptors:     cfg.Adapters,
		Logger:          log,
	})

	exec := executor.New(registry, breakers, cfg.Execution,
		executor.WithLogger(log), executor.WithTelemetry(tel))

	orchestrator := chat.New(chat.Options{
		Executor:        exec,
		LLM:             llm,
		Resolver:        cfg.StaticResolver(),
		Memory:          mem,
		DefaultAdapters: registry.EnabledNames(),
		Config:          cfg.Chat,
		Logger:          log,
		Telemetry:       tel,
	})

	reload := func(ctx context.Context, adapterName string) (adapters.ReloadSummary, error) {
		fresh, lerr := core.LoadConfig(configPath, log)
		if lerr != nil {
			return adapters.ReloadSummary{}, fmt.Errorf("reloading configuration: %w", lerr)
		}
		return registry.Reload(fresh.Adapters, adapterName), nil
	}

	watcher, err := adapters.NewWatcher(configPath, func() {
		if _, werr := reload(context.Background(), ""); werr != nil {
			log.Warn("Automatic adapter reload failed", map[string]interface{}{
				"operation": "adapter_reload",
				"error":     werr.Error(),
			})
		}
	}, log)
	if err != nil {
		return fmt.Errorf("starting config watcher: %w", err)
	}
	defer watcher.Close()

	srv := server.New(server.Options{
		Config:      cfg.Server,
		Chat:        orchestrator,
		Throttle:    throttler,
		Adapters:    registry,
		Breakers:    breakers,
		Datasources: datasources,
		Redis:       redisClient,
		Reload:      reload,
		Metrics:     tel.Registry(),
		Logger:      log,
		Version:     Version,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	select {
	case err := <-errCh:
		return err
	case <-stop.Done():
	}

	log.Info("Shutting down", map[string]interface{}{"operation": "main"})
	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

// quotaDefaults maps the process-wide quota config onto the per-key default
// record. Zero limits mean unlimited.
func quotaDefaults(cfg *core.Config) quota.Config {
	defaults := quota.Config{
		ThrottleEnabled:  cfg.Throttle.Enabled,
		ThrottlePriority: 5,
	}
	if cfg.Quota.DefaultDailyLimit > 0 {
		daily := cfg.Quota.DefaultDailyLimit
		defaults.DailyLimit = &daily
	}
	if cfg.Quota.DefaultMonthlyLimit > 0 {
		monthly := cfg.Quota.DefaultMonthlyLimit
		defaults.MonthlyLimit = &monthly
	}
	return defaults
}
