package commands

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/openfroyo/symgraph/pkg/loader"
)

func newWatchCommand() *cobra.Command {
	var (
		graphPath string
		req       runRequest
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run a graph whenever its documents change",
		Long: `Execute a graph document against feed files, then watch the graph and
feed files and execute again once changes settle. The graph is rebuilt on
every change; failures are reported and watching continues.`,
		Example: `  # Re-run on every save
  symgraph watch -g mlp.yaml -f batch.yaml

  # Watch a CUE package
  symgraph watch -g ./graphs/mlp -f batch.yaml --fetch y`,
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
			return watchGraph(cmd.Context(), a, cmd.OutOrStdout(), graphPath, req)
		},
	}

	cmd.Flags().StringVarP(&graphPath, "graph", "g", "", "graph document (YAML, CUE file or CUE directory)")
	cmd.Flags().StringArrayVarP(&req.feedPaths, "feeds", "f", nil, "feed file; repeat for a batch")
	cmd.Flags().StringArrayVar(&req.fetches, "fetch", nil, "node to fetch; repeat for several")
	cmd.Flags().BoolVar(&req.training, "training", false, "run in training mode")
	cmd.Flags().BoolVar(&req.probe, "probe", false, "report live value counts")
	cmd.Flags().IntVar(&req.parallel, "parallel", 0, "maximum concurrent executions (default from config)")
	_ = cmd.MarkFlagRequired("graph")

	return cmd
}

// graphRunner rebuilds the graph and executes it. Reloads are serialized
// by the watcher; the mutex guards the model against the final release.
type graphRunner struct {
	app       *app
	out       io.Writer
	graphPath string
	req       runRequest

	mu    sync.Mutex
	model *loader.Model
}

func watchGraph(ctx context.Context, a *app, w io.Writer, graphPath string, req runRequest) error {
	runner := &graphRunner{app: a, out: w, graphPath: graphPath, req: req}
	defer runner.release()

	if _, err := runner.reload(ctx, graphPath); err != nil {
		a.logger.WithError(err).Warn("initial run failed")
	}

	watcher := loader.NewWatcher(a.tel.Logger.Zerolog(), loader.WithEvents(a.tel.Events))
	paths := append([]string{graphPath}, req.feedPaths...)
	if err := watcher.Watch(ctx, paths, runner.reload); err != nil {
		return err
	}
	defer watcher.Stop()

	<-ctx.Done()
	return nil
}

// reload rebuilds the model and runs every feed file against it. It
// returns the node count of the new graph.
func (r *graphRunner) reload(ctx context.Context, changed string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	model, err := r.app.loadModel(ctx, r.graphPath)
	if err != nil {
		fmt.Fprintf(r.out, "== %s\nerror: %v\n", changed, err)
		return 0, err
	}
	if r.model != nil {
		r.model.Release()
	}
	r.model = model

	s, err := newSession(r.app, model)
	if err != nil {
		return 0, err
	}
	results, err := s.run(ctx, r.req)
	if err != nil {
		fmt.Fprintf(r.out, "== %s\nerror: %v\n", changed, err)
		return 0, err
	}
	if err := printResults(r.out, results); err != nil {
		return 0, err
	}
	return model.Graph.Len(), nil
}

func (r *graphRunner) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model != nil {
		r.model.Release()
		r.model = nil
	}
}
