package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/symgraph/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		dbPath string
		graph  string
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded executions",
		Long:  `List executions recorded with "symgraph run --record", newest first.`,
		Example: `  # Show the last 20 executions
  symgraph history --db runs.db

  # Show failed executions of one graph
  symgraph history --db runs.db --graph mlp --status failed --limit 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if dbPath == "" {
				dbPath = a.cfg.History.Path
			}
			if dbPath == "" {
				return fmt.Errorf("a history database is required (--db)")
			}
			if !cmd.Flags().Changed("limit") {
				limit = a.cfg.History.Limit
			}

			store, err := stores.Open(cmd.Context(), dbPath)
			if err != nil {
				return fmt.Errorf("failed to open history: %w", err)
			}
			defer store.Close()

			executions, err := store.ListExecutions(cmd.Context(), stores.ExecutionFilter{
				Graph:  graph,
				Status: stores.ExecutionStatus(status),
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(executions)
			}

			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tGRAPH\tMODE\tSTATUS\tSTEPS\tDURATION\tCREATED\tERROR")
			for _, e := range executions {
				errKind := ""
				if e.ErrorKind != nil {
					errKind = *e.ErrorKind
				} else if e.Error != nil {
					errKind = *e.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					e.ID, e.Graph, e.Mode, e.Status, e.Steps,
					e.Duration.Round(time.Microsecond), e.CreatedAt.Format(time.RFC3339), errKind)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "history database (default from config)")
	cmd.Flags().StringVar(&graph, "graph", "", "only executions of this graph")
	cmd.Flags().StringVar(&status, "status", "", "only executions with this status (succeeded, failed)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of executions")

	return cmd
}
