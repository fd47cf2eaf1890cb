// Package config handles configuration loading for scraperd.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the daemon.
type Config struct {
	// Database connection string
	DatabaseURL string

	// HTTP server port
	HTTPPort int

	// Runtime selects the execution backend: docker, exec, kubernetes
	Runtime string

	// Docker image the scraper containers run
	DockerImageName string

	// Base directory for exec-runtime job workspaces
	ScrapersWorkDir string

	// Execution limits
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	StopGrace         time.Duration

	// Log multiplexer sizing
	LogBufferLines    int
	LogSubscriberSize int

	// Annual cron trigger
	CronEnabled  bool
	CronMonth    int
	CronDay      int
	CronHour     int
	CronMinute   int
	CronTimezone string

	// OTLP collector endpoint for traces, empty disables tracing
	OTELEndpoint string

	// Kubernetes runtime settings
	KubernetesNamespace      string
	KubernetesServiceAccount string
	KubernetesCPULimit       string
	KubernetesMemoryLimit    string
}

// Load reads configuration from an optional YAML file and SCRAPERD_*
// environment variables, with environment taking precedence.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("port", 8000)
	v.SetDefault("runtime", "docker")
	v.SetDefault("docker_image_name", "cpt-scraper-image")
	v.SetDefault("max_concurrent_jobs", 3)
	v.SetDefault("job_timeout_seconds", 3600)
	v.SetDefault("stop_grace_seconds", 10)
	v.SetDefault("log_buffer_lines", 200)
	v.SetDefault("log_subscriber_queue", 100)
	v.SetDefault("cron_enabled", true)
	v.SetDefault("cron_month", 11)
	v.SetDefault("cron_day", 25)
	v.SetDefault("cron_hour", 0)
	v.SetDefault("cron_minute", 0)
	v.SetDefault("cron_timezone", "America/Chicago")
	v.SetDefault("kubernetes_namespace", "default")

	v.SetEnvPrefix("SCRAPERD")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("scraperd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		// A config file is optional; env vars alone are enough.
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{
		DatabaseURL:       v.GetString("database_url"),
		HTTPPort:          v.GetInt("port"),
		Runtime:           v.GetString("runtime"),
		DockerImageName:   v.GetString("docker_image_name"),
		ScrapersWorkDir:   v.GetString("scrapers_work_dir"),
		MaxConcurrentJobs: v.GetInt("max_concurrent_jobs"),
		JobTimeout:        time.Duration(v.GetInt("job_timeout_seconds")) * time.Second,
		StopGrace:         time.Duration(v.GetInt("stop_grace_seconds")) * time.Second,
		LogBufferLines:    v.GetInt("log_buffer_lines"),
		LogSubscriberSize: v.GetInt("log_subscriber_queue"),
		CronEnabled:       v.GetBool("cron_enabled"),
		CronMonth:         v.GetInt("cron_month"),
		CronDay:           v.GetInt("cron_day"),
		CronHour:          v.GetInt("cron_hour"),
		CronMinute:        v.GetInt("cron_minute"),
		CronTimezone:      v.GetString("cron_timezone"),
		OTELEndpoint:      v.GetString("otel_endpoint"),

		KubernetesNamespace:      v.GetString("kubernetes_namespace"),
		KubernetesServiceAccount: v.GetString("kubernetes_service_account"),
		KubernetesCPULimit:       v.GetString("kubernetes_cpu_limit"),
		KubernetesMemoryLimit:    v.GetString("kubernetes_memory_limit"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("SCRAPERD_DATABASE_URL is required")
	}
	if cfg.MaxConcurrentJobs < 1 {
		return nil, fmt.Errorf("max_concurrent_jobs must be >= 1, got %d", cfg.MaxConcurrentJobs)
	}
	if cfg.JobTimeout <= 0 {
		return nil, fmt.Errorf("job_timeout_seconds must be positive")
	}
	switch cfg.Runtime {
	case "docker", "exec", "kubernetes":
	default:
		return nil, fmt.Errorf("unknown runtime %q", cfg.Runtime)
	}

	return cfg, nil
}
