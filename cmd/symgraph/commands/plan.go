package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/openfroyo/symgraph/pkg/engine"
	"github.com/openfroyo/symgraph/pkg/graph"
	"github.com/openfroyo/symgraph/pkg/loader"
	"github.com/openfroyo/symgraph/pkg/tensor"
)

// planOutput is the JSON form of an execution plan.
type planOutput struct {
	Graph           string         `json:"graph"`
	Fetches         []string       `json:"fetches"`
	Feeds           []string       `json:"feeds"`
	Sorted          []string       `json:"sorted"`
	RecipientCounts map[string]int `json:"recipient_counts"`
	Levels          map[string]int `json:"levels"`
	Depth           int            `json:"depth"`
}

func newPlanCommand() *cobra.Command {
	var (
		graphPath string
		feeds     []string
		fetches   []string
		dotPath   string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the execution plan for a set of fetches",
		Long: `Show the evaluation order, recipient counts and dependency levels the
engine would use for the given fetches and fed nodes.

Without --feed every input of the graph is treated as fed. Fed nodes are
terminals: their producers are not planned.`,
		Example: `  # Plan the default fetches
  symgraph plan -g mlp.yaml

  # Plan with an intermediate node fed directly and render it
  symgraph plan -g mlp.yaml --feed hidden --fetch y --dot plan.dot`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			model, err := a.loadModel(cmd.Context(), graphPath)
			if err != nil {
				return err
			}
			defer model.Release()

			pool := tensor.NewPool()
			feedDict, release, err := placeholderFeeds(model, feeds, pool)
			if err != nil {
				return err
			}
			defer release()

			fetchNodes, err := model.Resolve(fetches)
			if err != nil {
				return err
			}
			plan, err := engine.BuildPlan(fetchNodes, feedDict)
			if err != nil {
				return err
			}

			if dotPath != "" {
				if err := os.WriteFile(dotPath, []byte(engine.PlanToDOT(plan, feedDict)), 0644); err != nil {
					return fmt.Errorf("failed to write %s: %w", dotPath, err)
				}
				a.logger.WithField("path", dotPath).Info("plan written")
			}

			return printPlan(cmd.OutOrStdout(), planOutput{
				Graph:           model.Graph.Name(),
				Fetches:         nodeNames(fetchNodes),
				Feeds:           feedDict.Names(),
				Sorted:          plan.Names(),
				RecipientCounts: plan.CountsCopy(),
				Levels:          plan.Levels(),
				Depth:           plan.Depth(),
			})
		},
	}

	cmd.Flags().StringVarP(&graphPath, "graph", "g", "", "graph document (YAML, CUE file or CUE directory)")
	cmd.Flags().StringArrayVar(&feeds, "feed", nil, "node treated as fed; repeat for several")
	cmd.Flags().StringArrayVar(&fetches, "fetch", nil, "node to fetch; repeat for several")
	cmd.Flags().StringVar(&dotPath, "dot", "", "write the plan as Graphviz DOT to this file")
	_ = cmd.MarkFlagRequired("graph")

	return cmd
}

// placeholderFeeds binds a zero value to each named node, or to every graph
// input when no names are given. Planning only looks at which nodes are fed.
// The returned function releases the values.
func placeholderFeeds(model *loader.Model, names []string, pool *tensor.Pool) (*engine.FeedDict, func(), error) {
	nodes := model.Graph.Inputs()
	if len(names) > 0 {
		var err error
		if nodes, err = model.Resolve(names); err != nil {
			return nil, nil, err
		}
	}

	dict, err := engine.NewFeedDict()
	if err != nil {
		return nil, nil, err
	}
	var values []tensor.Value
	release := func() {
		dict.ReleaseConverted()
		for _, v := range values {
			v.Dispose()
		}
	}

	for _, n := range nodes {
		if dict.HasKey(n) {
			continue
		}
		value, err := placeholder(n, pool)
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("feed %s: %w", n.Name(), err)
		}
		values = append(values, value)
		if err := dict.Add(n, value); err != nil {
			release()
			return nil, nil, err
		}
	}
	return dict, release, nil
}

// placeholder allocates a zero value matching the node's declared spec,
// with wildcard dimensions set to 1.
func placeholder(n *graph.Node, pool *tensor.Pool) (*tensor.Tensor, error) {
	shape := []int{1}
	if declared := n.Shape(); declared.Declared() {
		shape = make([]int, len(declared))
		for i, d := range declared {
			shape[i] = d
			if d == graph.Wildcard {
				shape[i] = 1
			}
		}
	}

	switch dtype := n.DType(); dtype {
	case tensor.String:
		size := 1
		for _, d := range shape {
			size *= d
		}
		return pool.NewStrings(shape, make([]string, size))
	case "":
		return pool.Zeros(shape, tensor.Float32)
	default:
		return pool.Zeros(shape, dtype)
	}
}

func printPlan(w io.Writer, out planOutput) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(w, "graph:   %s\n", out.Graph)
	fmt.Fprintf(w, "fetches: %v\n", out.Fetches)
	fmt.Fprintf(w, "feeds:   %v\n", out.Feeds)
	fmt.Fprintf(w, "steps:   %d (depth %d)\n", len(out.Sorted), out.Depth)
	for i, name := range out.Sorted {
		fmt.Fprintf(w, "  %3d. %-24s level %d\n", i+1, name, out.Levels[name])
	}

	names := make([]string, 0, len(out.RecipientCounts))
	for name := range out.RecipientCounts {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(w, "recipients:")
	for _, name := range names {
		fmt.Fprintf(w, "  %-24s %d\n", name, out.RecipientCounts[name])
	}
	return nil
}
