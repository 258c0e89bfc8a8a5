package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yyyoichi/studygraph"
	"github.com/yyyoichi/studygraph/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage graph configurations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import FILE...",
		Short: "Import graph configurations from YAML files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				cfgs, err := config.LoadGraphs(path)
				if err != nil {
					return err
				}
				for _, c := range cfgs {
					if err := a.engine.AddConfiguration(cmd.Context(), c); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "imported %s (%d nodes)\n", c.Key, c.Len())
				}
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored graph configurations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			keys, err := a.engine.Configurations(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	})
	return cmd
}

func newEventsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Manage student access events",
	}
	var noAggregate bool
	ingest := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Record JSON lines events and fold them into student centroids",
		Long:  `Reads one {"student","module","time"} object per line. FILE "-" reads standard input.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			events, err := config.DecodeEvents(r)
			if err != nil {
				return err
			}
			if _, err := a.engine.AddEvents(cmd.Context(), events...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded %d events\n", len(events))
			if noAggregate {
				return nil
			}
			sum, err := a.engine.Aggregate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "aggregated %d events, %d centroids updated, %d skipped\n",
				sum.Events, sum.Updated, sum.Skipped)
			return nil
		},
	}
	ingest.Flags().BoolVar(&noAggregate, "no-aggregate", false, "only record the events")
	cmd.AddCommand(ingest)
	return cmd
}

func parseVariant(s string) (studygraph.Variant, error) {
	switch s {
	case "geometric":
		return studygraph.Geometric, nil
	case "decomposed":
		return studygraph.Decomposed, nil
	}
	return 0, fmt.Errorf("unknown variant %q, want geometric or decomposed", s)
}

func newClusterCmd(a *app) *cobra.Command {
	var (
		k       int
		variant string
	)
	cmd := &cobra.Command{
		Use:   "cluster OWNER CONFIG",
		Short: "Start a new k-means run over a configuration's student centroids",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseVariant(variant)
			if err != nil {
				return err
			}
			run, err := a.engine.Cluster(cmd.Context(), studygraph.ConfigKey{Owner: args[0], ID: args[1]}, k, v)
			if err != nil {
				return err
			}
			printRun(cmd.OutOrStdout(), run)
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 3, "number of clusters")
	cmd.Flags().StringVar(&variant, "variant", "geometric", "centroid variant (geometric, decomposed)")
	return cmd
}

func newReconcileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Fold pending events and bring every run up to date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sum, err := a.engine.Pass(cmd.Context())
			printSummary(cmd.OutOrStdout(), sum)
			return err
		},
	}
}

func newScheduleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run reconcile passes on a fixed interval until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if a.registry != nil {
				go serveMetrics(ctx, a.logger, a.registry, a.cfg.Metrics.Address)
			}
			return a.engine.Schedule(ctx, a.cfg.Job.Interval)
		},
	}
	cmd.Flags().Duration("interval", time.Minute, "time between passes")
	cmd.Flags().Int("workers", 4, "runs reconciled at once")
	cmd.Flags().Bool("metrics", false, "serve prometheus metrics")
	cmd.Flags().String("metrics-address", ":9091", "metrics listen address")
	return cmd
}

func serveMetrics(ctx context.Context, logger *zap.Logger, reg *prometheus.Registry, addr string) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	logger.Info("serving metrics", zap.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", zap.Error(err))
	}
}

func runKey(args []string) studygraph.RunKey {
	return studygraph.RunKey{Config: studygraph.ConfigKey{Owner: args[0], ID: args[1]}, ID: args[2]}
}

func newReassignCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reassign OWNER CONFIG RUN STUDENT CLUSTER",
		Short: "Move a student into another cluster by hand",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			cluster, err := strconv.Atoi(args[4])
			if err != nil {
				return fmt.Errorf("invalid cluster number %q: %w", args[4], err)
			}
			run, err := a.engine.Reassign(cmd.Context(), runKey(args), args[3], cluster)
			if err != nil {
				return err
			}
			printRun(cmd.OutOrStdout(), run)
			return nil
		},
	}
}

func newQualityCmd(a *app) *cobra.Command {
	var (
		iteration int
		manual    string
	)
	cmd := &cobra.Command{
		Use:   "quality OWNER CONFIG RUN",
		Short: "Compare a run iteration with a manual membership",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := runKey(args)
			if manual != "" {
				assign, err := config.LoadManual(manual)
				if err != nil {
					return err
				}
				if err := a.engine.SetManual(cmd.Context(), key, iteration, assign); err != nil {
					return err
				}
			}
			report, err := a.engine.Quality(cmd.Context(), key, iteration)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().IntVar(&iteration, "iteration", studygraph.FinalIteration, "iteration to measure, -1 for the final one")
	cmd.Flags().StringVar(&manual, "manual", "", "YAML file mapping students to cluster numbers to record first")
	return cmd
}

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List clustering runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runs, err := a.engine.Runs(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CONFIG\tRUN\tVARIANT\tK\tITERATION\tCONVERGED\tCREATED")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%t\t%s\n",
					r.Key.Config, r.Key.ID, r.Variant, r.K, r.Iteration, r.Converged,
					r.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	var iteration int
	show := &cobra.Command{
		Use:   "show OWNER CONFIG RUN",
		Short: "Show the clusters of one run iteration",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := runKey(args)
			var (
				run *studygraph.Run
				err error
			)
			if cmd.Flags().Changed("iteration") {
				run, err = a.engine.Iteration(cmd.Context(), key, iteration)
			} else {
				run, err = a.engine.Run(cmd.Context(), key)
			}
			if err != nil {
				return err
			}
			printRun(cmd.OutOrStdout(), run)
			return nil
		},
	}
	show.Flags().IntVar(&iteration, "iteration", studygraph.FinalIteration, "iteration to show, latest by default")
	cmd.AddCommand(show)
	return cmd
}
