package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/symgraph/pkg/stores"
)

func newRunCommand() *cobra.Command {
	var (
		graphPath  string
		req        runRequest
		recordPath string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a graph against feed files",
		Long: `Execute a graph document against one or more feed files and print the
fetched values.

Each feed file is an independent execution. Executions run on a bounded
worker pool and share one plan cache; a failing execution does not stop the
others. Without --fetch the graph's default fetches are used.`,
		Example: `  # Evaluate the default fetches
  symgraph run -g mlp.yaml -f batch.yaml

  # Fetch a specific node in training mode
  symgraph run -g mlp.yaml -f batch.yaml --fetch hidden --training

  # Run several feed files, two at a time, and record them
  symgraph run -g mlp.yaml -f a.yaml -f b.yaml -f c.yaml --parallel 2 --record runs.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if !cmd.Flags().Changed("training") {
				req.training = a.cfg.Engine.Training
			}
			if recordPath == "" {
				recordPath = a.cfg.History.Path
			}
			return runGraph(cmd.Context(), a, cmd.OutOrStdout(), graphPath, req, recordPath)
		},
	}

	cmd.Flags().StringVarP(&graphPath, "graph", "g", "", "graph document (YAML, CUE file or CUE directory)")
	cmd.Flags().StringArrayVarP(&req.feedPaths, "feeds", "f", nil, "feed file; repeat for a batch")
	cmd.Flags().StringArrayVar(&req.fetches, "fetch", nil, "node to fetch; repeat for several")
	cmd.Flags().BoolVar(&req.training, "training", false, "run in training mode")
	cmd.Flags().BoolVar(&req.probe, "probe", false, "report live value counts")
	cmd.Flags().IntVar(&req.parallel, "parallel", 0, "maximum concurrent executions (default from config)")
	cmd.Flags().StringVar(&recordPath, "record", "", "record executions in this SQLite database")
	_ = cmd.MarkFlagRequired("graph")

	return cmd
}

func runGraph(ctx context.Context, a *app, w io.Writer, graphPath string, req runRequest, recordPath string) error {
	model, err := a.loadModel(ctx, graphPath)
	if err != nil {
		return err
	}
	defer model.Release()

	s, err := newSession(a, model)
	if err != nil {
		return err
	}
	results, err := s.run(ctx, req)
	if err != nil {
		return err
	}

	if recordPath != "" {
		if err := recordResults(ctx, a, recordPath, results); err != nil {
			return err
		}
	}
	if err := printResults(w, results); err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d executions failed", failed, len(results))
	}
	return nil
}

func recordResults(ctx context.Context, a *app, path string, results []runResult) error {
	store, err := stores.Open(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	for _, r := range results {
		if err := store.CreateExecution(ctx, r.record); err != nil {
			return err
		}
	}
	a.logger.WithField("path", path).WithField("executions", len(results)).Debug("executions recorded")

	return nil
}

func printResults(w io.Writer, results []runResult) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	for _, r := range results {
		header := r.ExecutionID
		if r.Feeds != "" {
			header = r.Feeds + " (" + r.ExecutionID + ")"
		}
		fmt.Fprintf(w, "== %s\n", header)
		if r.Error != "" {
			fmt.Fprintf(w, "error: %s\n", r.Error)
			continue
		}
		for _, name := range r.order {
			fmt.Fprintf(w, "%s = %s\n", name, r.Values[name].text)
		}
		fmt.Fprintf(w, "steps: %d  duration: %.3fms\n", r.Steps, r.DurationMS)
		if r.Probe != nil {
			fmt.Fprintf(w, "live values: max %d  min %d\n", r.Probe.MaxNumValues, r.Probe.MinNumValues)
		}
	}
	return nil
}
