package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/taskpool/pkg/config"
	"github.com/fluxorio/taskpool/pkg/core"
	"github.com/fluxorio/taskpool/pkg/inspector"
	"github.com/fluxorio/taskpool/pkg/observability/otel"
	"github.com/fluxorio/taskpool/pkg/observability/prometheus"
	"github.com/fluxorio/taskpool/pkg/pool"
)

// AppConfig is the poolserve configuration. Durations are carried as
// integer seconds so they round-trip through YAML.
type AppConfig struct {
	Server struct {
		Addr                   string  `yaml:"addr"`
		ShutdownTimeoutSeconds int     `yaml:"shutdown_timeout_seconds"`
		RequestsPerSecond      float64 `yaml:"requests_per_second"`
	} `yaml:"server"`
	Pool struct {
		Name    string `yaml:"name"`
		Workers int    `yaml:"workers"`
	} `yaml:"pool"`
	Inspector struct {
		Enabled              bool   `yaml:"enabled"`
		Addr                 string `yaml:"addr"`
		WatchIntervalSeconds int    `yaml:"watch_interval_seconds"`
		JWTSecret            string `yaml:"jwt_secret"`
		APIKeyHash           string `yaml:"api_key_hash"`
	} `yaml:"inspector"`
	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		Exporter   string  `yaml:"exporter"`
		Endpoint   string  `yaml:"endpoint"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

func defaultAppConfig() *AppConfig {
	cfg := &AppConfig{}
	cfg.Server.Addr = ":8080"
	cfg.Server.ShutdownTimeoutSeconds = 30
	cfg.Pool.Name = "main"
	cfg.Pool.Workers = 8
	cfg.Inspector.Enabled = true
	cfg.Inspector.Addr = ":9090"
	cfg.Inspector.WatchIntervalSeconds = 1
	cfg.Tracing.Enabled = false
	cfg.Tracing.Exporter = "stdout"
	cfg.Tracing.SampleRate = 1.0
	return cfg
}

func loadConfig(path string) (*AppConfig, error) {
	cfg := defaultAppConfig()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		if err := config.LoadWithEnv(path, "TASKPOOL", cfg); err != nil {
			return nil, err
		}
	} else {
		// No config file; environment overrides still apply on top of
		// the defaults.
		if err := config.ApplyEnvOverrides("TASKPOOL", cfg); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(cfg,
		config.RequiredFields("Server.Addr"),
		config.RangeValidator("Pool.Workers", 1, pool.MaxWorkers),
		config.RangeValidator("Server.ShutdownTimeoutSeconds", 1, 3600),
		config.OneOfValidator("Tracing.Exporter", "", "stdout", "jaeger", "zipkin"),
	); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "", "path to YAML config (default $CONFIG_PATH, then config.yaml)")
	writeConfig := flag.Bool("write-config", false, "write the default config to the -config path and exit")
	flag.Parse()

	if *writeConfig {
		path := *configPath
		if path == "" {
			path = "config.yaml"
		}
		if err := config.SaveYAML(path, defaultAppConfig()); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		log.Printf("Wrote default config to %s", path)
		return
	}

	// 1. Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := core.NewDefaultLogger()
	logger.Infof("starting poolserve: workers=%d addr=%s", cfg.Pool.Workers, cfg.Server.Addr)

	// 2. Initialize tracing (optional)
	var tracer trace.Tracer
	if cfg.Tracing.Enabled {
		otelCfg := otel.Config{
			ServiceName:    "taskpool-poolserve",
			ServiceVersion: "1.0.0",
			Environment:    getEnv("ENVIRONMENT", "development"),
			Exporter:       cfg.Tracing.Exporter,
			Endpoint:       cfg.Tracing.Endpoint,
			SampleRate:     cfg.Tracing.SampleRate,
		}
		if err := otel.Initialize(context.Background(), otelCfg); err != nil {
			logger.Warnf("tracing disabled: %v", err)
		} else {
			logger.Infof("tracing enabled: exporter=%s", cfg.Tracing.Exporter)
			tracer = otel.Tracer("taskpool")
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := otel.Shutdown(shutdownCtx); err != nil {
					logger.Errorf("tracing shutdown: %v", err)
				}
			}()
		}
	}

	// 3. Create the worker pool
	p, err := pool.New(pool.Config{
		Workers: cfg.Pool.Workers,
		Logger:  logger,
		Tracer:  tracer,
	})
	if err != nil {
		log.Fatalf("Failed to create pool: %v", err)
	}

	// 4. Start the ingest API
	srv := newTaskServer(p, logger)
	base := srv.handler
	if cfg.Server.RequestsPerSecond > 0 {
		base = newRateLimit(cfg.Server.RequestsPerSecond).middleware(base)
		logger.Infof("rate limit enabled: %.0f req/s per client", cfg.Server.RequestsPerSecond)
	}
	handler := prometheus.FastHTTPMetricsMiddleware(base)
	if otel.IsInitialized() {
		handler = otel.FastHTTPTraceMiddleware(handler)
	}
	server := &fasthttp.Server{
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(cfg.Server.Addr); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()
	logger.Infof("ingest api listening on %s", cfg.Server.Addr)

	// 5. Start the inspector (optional)
	var ins *inspector.Inspector
	if cfg.Inspector.Enabled {
		ins = inspector.New(inspector.Config{
			Addr:          cfg.Inspector.Addr,
			Pool:          p,
			WatchInterval: time.Duration(cfg.Inspector.WatchIntervalSeconds) * time.Second,
			JWTSecret:     cfg.Inspector.JWTSecret,
			APIKeyHash:    cfg.Inspector.APIKeyHash,
			Logger:        logger,
		})
		if err := ins.Start(); err != nil {
			log.Fatalf("Failed to start inspector: %v", err)
		}
	}

	// 6. Export pool gauges periodically
	updaterStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-updaterStop:
				return
			case <-ticker.C:
				prometheus.UpdatePoolMetrics(cfg.Pool.Name, p)
			}
		}
	}()

	// 7. Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down gracefully...")

	close(updaterStop)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer shutdownCancel()

	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	if ins != nil {
		if err := ins.Stop(shutdownCtx); err != nil {
			logger.Errorf("inspector shutdown: %v", err)
		}
	}
	if err := p.ShutdownContext(shutdownCtx, pool.WaitForAllTasks); err != nil {
		logger.Errorf("pool shutdown: %v", err)
	}

	logger.Info("poolserve stopped")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
