// Package main is the entry point for the scraperd daemon.
// It wires the store, runtime, log multiplexer, orchestrator, scheduler
// and HTTP API together.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scraperd/internal/config"
	"scraperd/internal/controller"
	"scraperd/internal/controller/handlers"
	"scraperd/internal/logger"
	"scraperd/internal/logstream"
	"scraperd/internal/observability"
	"scraperd/internal/orchestrator"
	"scraperd/internal/runtime"
	"scraperd/internal/scheduler"
	"scraperd/internal/store"
	"scraperd/internal/store/postgres"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: scraperd.yaml in current directory)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New(*logLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	pg, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pg.Close()

	if *migrateFlag {
		slogger.Info("running database migrations")
		if err := postgres.Migrate(pg.DB()); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		slogger.Info("migrations completed")
	}

	// Tracing is optional; without a collector endpoint the daemon runs untraced.
	if cfg.OTELEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, "scraperd", cfg.OTELEndpoint)
		if err != nil {
			log.Fatalf("Failed to init tracing: %v", err)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				slogger.Warn("failed to shutdown tracer", "error", err)
			}
		}()
	}

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			slogger.Warn("failed to shutdown metrics", "error", err)
		}
	}()

	// Select runtime based on configuration
	var rt runtime.Runtime
	switch cfg.Runtime {
	case "exec":
		rt = runtime.NewExecRuntime(runtime.ExecConfig{
			WorkDir: cfg.ScrapersWorkDir,
		})
		slogger.Info("using exec runtime", "workdir", cfg.ScrapersWorkDir)
	case "kubernetes":
		k8sRT, err := runtime.NewKubernetesRuntime(runtime.KubernetesConfig{
			Namespace:      cfg.KubernetesNamespace,
			ServiceAccount: cfg.KubernetesServiceAccount,
			Image:          cfg.DockerImageName,
			CPULimit:       cfg.KubernetesCPULimit,
			MemoryLimit:    cfg.KubernetesMemoryLimit,
		}, slogger)
		if err != nil {
			log.Fatalf("Failed to create Kubernetes runtime: %v", err)
		}
		rt = k8sRT
		slogger.Info("using kubernetes runtime", "namespace", cfg.KubernetesNamespace)
	default:
		dockerRT, err := runtime.NewDockerRuntime(runtime.DockerConfig{
			Image: cfg.DockerImageName,
		})
		if err != nil {
			log.Fatalf("Failed to create Docker runtime: %v", err)
		}
		rt = dockerRT
		slogger.Info("using docker runtime", "image", cfg.DockerImageName)
	}

	mux := logstream.NewMux(cfg.LogBufferLines, cfg.LogSubscriberSize, slogger)

	orch := orchestrator.New(pg, rt, mux, orchestrator.Config{
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		JobTimeout:        cfg.JobTimeout,
		StopGrace:         cfg.StopGrace,
	}, slogger)

	// Gauges are read on each scrape, not pushed.
	err = observability.RegisterJobGauges(
		func(ctx context.Context) (int64, error) {
			return int64(orch.Pool().InUse()), nil
		},
		func(ctx context.Context) (int64, error) {
			counts, err := pg.CountByStatus(ctx)
			if err != nil {
				return 0, err
			}
			return counts[store.JobStatusApproved], nil
		},
	)
	if err != nil {
		slogger.Warn("failed to register job gauges", "error", err)
	}

	go func() {
		if err := orch.Run(ctx); err != nil && err != context.Canceled {
			slogger.Error("orchestrator stopped", "error", err)
		}
	}()

	sched, err := scheduler.New(scheduler.Config{
		Enabled:  cfg.CronEnabled,
		Month:    cfg.CronMonth,
		Day:      cfg.CronDay,
		Hour:     cfg.CronHour,
		Minute:   cfg.CronMinute,
		Timezone: cfg.CronTimezone,
	}, orch, slogger)
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	h := handlers.New(orch, sched, pg, slogger)
	srv := controller.New(controller.Options{
		Addr:           fmt.Sprintf(":%d", cfg.HTTPPort),
		Metrics:        metricsHandler,
		RateLimitRPS:   20,
		RateLimitBurst: 40,
	}, h)

	go func() {
		slogger.Info("scraperd listening", "port", cfg.HTTPPort)
		if err := srv.Run(ctx); err != nil {
			slogger.Error("server stopped", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slogger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slogger.Error("server forced to shutdown", "error", err)
	}
	// Stop admission and let running watchers settle.
	cancel()
	slogger.Info("server exited")
}
