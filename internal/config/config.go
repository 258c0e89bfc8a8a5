package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "STUDYGRAPH"

type Config struct {
	DB        DBConfig
	Job       JobConfig
	Cluster   ClusterConfig
	Reconcile ReconcileConfig
	Seed      int64
	Log       LogConfig
	Metrics   MetricsConfig
}

type DBConfig struct {
	Path string
}

type JobConfig struct {
	Workers  int
	Interval time.Duration
	// BatchSize caps the events folded per pass. Zero takes all of them.
	BatchSize int
}

type ClusterConfig struct {
	Epsilon       float64
	MaxIterations int
	MinSeparation float64
	Margin        float64
}

type ReconcileConfig struct {
	Epsilon     float64
	MaxAttempts int
}

type LogConfig struct {
	Level       string
	Development bool
}

type MetricsConfig struct {
	Enabled bool
	Address string
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("db.path", "studygraph.db")

	v.SetDefault("job.workers", 4)
	v.SetDefault("job.interval", "1m")
	v.SetDefault("job.batch_size", 0)

	v.SetDefault("cluster.epsilon", 1e-6)
	v.SetDefault("cluster.max_iterations", 300)
	v.SetDefault("cluster.min_separation", 0.0)
	v.SetDefault("cluster.margin", 0.05)

	v.SetDefault("reconcile.epsilon", 1e-6)
	v.SetDefault("reconcile.max_attempts", 100)

	v.SetDefault("rand.seed", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", ":9091")
}

// New returns a viper instance with defaults and environment binding set up.
// STUDYGRAPH_JOB_WORKERS overrides job.workers.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags maps command line flags onto their keys. Flags not in flags are
// ignored.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for key, name := range map[string]string{
		"db.path":                "db",
		"log.level":              "log-level",
		"rand.seed":              "seed",
		"job.workers":            "workers",
		"job.interval":           "interval",
		"metrics.enabled":        "metrics",
		"metrics.address":        "metrics-address",
		"reconcile.max_attempts": "max-attempts",
	} {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads the optional YAML file at path and returns the merged settings.
// A missing path is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		DB: DBConfig{
			Path: v.GetString("db.path"),
		},
		Job: JobConfig{
			Workers:   v.GetInt("job.workers"),
			Interval:  v.GetDuration("job.interval"),
			BatchSize: v.GetInt("job.batch_size"),
		},
		Cluster: ClusterConfig{
			Epsilon:       v.GetFloat64("cluster.epsilon"),
			MaxIterations: v.GetInt("cluster.max_iterations"),
			MinSeparation: v.GetFloat64("cluster.min_separation"),
			Margin:        v.GetFloat64("cluster.margin"),
		},
		Reconcile: ReconcileConfig{
			Epsilon:     v.GetFloat64("reconcile.epsilon"),
			MaxAttempts: v.GetInt("reconcile.max_attempts"),
		},
		Seed: v.GetInt64("rand.seed"),
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
			Address: v.GetString("metrics.address"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DB.Path == "" {
		return fmt.Errorf("db.path must be set")
	}
	if c.Job.Workers < 1 {
		return fmt.Errorf("job.workers must be at least 1, got %d", c.Job.Workers)
	}
	if c.Job.Interval <= 0 {
		return fmt.Errorf("job.interval must be positive, got %s", c.Job.Interval)
	}
	if c.Cluster.Epsilon <= 0 {
		return fmt.Errorf("cluster.epsilon must be positive, got %g", c.Cluster.Epsilon)
	}
	if c.Reconcile.Epsilon <= 0 {
		return fmt.Errorf("reconcile.epsilon must be positive, got %g", c.Reconcile.Epsilon)
	}
	if c.Cluster.Margin < 0 || c.Cluster.Margin >= 0.5 {
		return fmt.Errorf("cluster.margin must be in [0, 0.5), got %g", c.Cluster.Margin)
	}
	if c.Reconcile.MaxAttempts < 1 {
		return fmt.Errorf("reconcile.max_attempts must be at least 1, got %d", c.Reconcile.MaxAttempts)
	}
	return nil
}
