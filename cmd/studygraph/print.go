package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/yyyoichi/studygraph"
)

func printRun(out io.Writer, run *studygraph.Run) {
	fmt.Fprintf(out, "run %s (%s, k=%d, iteration %d, converged %t)\n",
		run.Key, run.Variant, run.K, run.Iteration, run.Converged)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CLUSTER\tCOLOR\tX\tY\tMEMBERS")
	for _, c := range run.Clusters {
		fmt.Fprintf(w, "%d\t%s\t%.4f\t%.4f\t%s\n",
			c.Number, c.Color, c.Centroid.X, c.Centroid.Y, strings.Join(c.Members, ","))
	}
	w.Flush()
}

func printSummary(out io.Writer, sum studygraph.Summary) {
	fmt.Fprintf(out, "aggregated %d events (%d skipped, %d centroids updated)\n",
		sum.Ingest.Events, sum.Ingest.Skipped, sum.Ingest.Updated)
	fmt.Fprintf(out, "reconciled %d runs: %d converged, %d unchanged, %d capped, %d failed\n",
		sum.Reconcile.Runs,
		sum.Reconcile.Outcomes["converged"],
		sum.Reconcile.Outcomes["unchanged"],
		sum.Reconcile.Outcomes["capped"],
		sum.Reconcile.Outcomes["failed"],
	)
}

func printReport(out io.Writer, r studygraph.Report) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CLUSTER\tTP\tFP\tFN\tPRECISION\tRECALL\tF1\tF0.5\tF2")
	row := func(name string, s studygraph.Scores) {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\n",
			name, s.TP, s.FP, s.FN, s.Precision, s.Recall, s.F1, s.F05, s.F2)
	}
	for _, c := range slices.Sorted(maps.Keys(r.Clusters)) {
		row(fmt.Sprint(c), r.Clusters[c])
	}
	row("total", r.Total)
	w.Flush()
}
