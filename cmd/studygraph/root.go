package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/yyyoichi/studygraph"
	"github.com/yyyoichi/studygraph/internal/config"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	v        *viper.Viper
	cfgFile  string
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	engine   *studygraph.Engine
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}
	cmd := &cobra.Command{
		Use:   "studygraph",
		Short: "Cluster students by where they click on a course graph",
		Long: `studygraph folds student click logs into per-student centroids on a
course graph, clusters the students with k-means and keeps every stored
clustering up to date as new clicks arrive.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "studygraph.yaml", "path to configuration file")
	flags.String("db", "studygraph.db", "path to the SQLite database")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Int64("seed", 0, "random seed, 0 seeds from the clock")

	cmd.AddCommand(
		newConfigCmd(a),
		newEventsCmd(a),
		newClusterCmd(a),
		newReconcileCmd(a),
		newScheduleCmd(a),
		newReassignCmd(a),
		newQualityCmd(a),
		newRunsCmd(a),
	)
	return cmd
}

func (a *app) open(cmd *cobra.Command) error {
	if err := config.BindFlags(a.v, cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.logger = logger

	opts := []studygraph.Option{
		studygraph.WithDatabase(cfg.DB.Path),
		studygraph.WithLogger(logger),
		studygraph.WithEpsilon(cfg.Cluster.Epsilon),
		studygraph.WithMaxIterations(cfg.Cluster.MaxIterations),
		studygraph.WithMinSeparation(cfg.Cluster.MinSeparation),
		studygraph.WithMargin(cfg.Cluster.Margin),
		studygraph.WithReconcileEpsilon(cfg.Reconcile.Epsilon),
		studygraph.WithMaxAttempts(cfg.Reconcile.MaxAttempts),
		studygraph.WithWorkers(cfg.Job.Workers),
		studygraph.WithBatchSize(cfg.Job.BatchSize),
		studygraph.WithSeed(cfg.Seed),
	}
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		opts = append(opts, studygraph.WithRegisterer(a.registry))
	}
	engine, err := studygraph.New(opts...)
	if err != nil {
		return err
	}
	a.engine = engine
	return nil
}

func (a *app) close() error {
	if a.logger != nil {
		defer a.logger.Sync()
	}
	if a.engine != nil {
		return a.engine.Close()
	}
	return nil
}

func newLogger(c config.LogConfig) (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	if c.Development {
		logConfig = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, err
	}
	logConfig.Level = level
	return logConfig.Build()
}
