package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/symgraph/pkg/config"
	"github.com/openfroyo/symgraph/pkg/loader"
	"github.com/openfroyo/symgraph/pkg/policy"
)

// validationReport is the JSON form of a validate run.
type validationReport struct {
	Path    string                   `json:"path"`
	Valid   bool                     `json:"valid"`
	Graph   string                   `json:"graph,omitempty"`
	Inputs  int                      `json:"inputs,omitempty"`
	Nodes   int                      `json:"nodes,omitempty"`
	Levels  [][]string               `json:"levels,omitempty"`
	Fetches []string                 `json:"fetches,omitempty"`
	Errors  []config.ValidationError `json:"errors,omitempty"`

	Policies   []string           `json:"policies,omitempty"`
	Violations []policy.Violation `json:"violations,omitempty"`
	Warnings   []policy.Violation `json:"warnings,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var (
		graphPath   string
		policyPaths []string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a graph document",
		Long: `Validate a graph document without executing it.

This command checks:
  - Document structure against the built-in CUE schema
  - Unique node names and declared references
  - Acyclicity of the node dependencies
  - Kernel attributes and output shapes and dtypes
  - Graph policies (built-in Rego policies plus any given with --policy)

Policy violations of error severity make the graph invalid; other findings
are reported as warnings.`,
		Example: `  # Validate a YAML graph
  symgraph validate -g mlp.yaml

  # Validate a CUE package
  symgraph validate -g ./graphs/mlp --json

  # Apply extra policies from a directory
  symgraph validate -g mlp.yaml --policy ./policies`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			report := validationReport{Path: graphPath}
			doc, err := config.LoadGraphFile(cmd.Context(), graphPath)
			if err == nil {
				err = config.NewSchemaRegistry(nil).ValidateAgainstSchema(cmd.Context(), "graph", doc)
			}

			var model *loader.Model
			if err == nil {
				model, err = loader.NewBuilder(nil, a.tel.Logger.Zerolog()).Build(doc)
			}
			if err != nil {
				report.Errors = validationErrors(err)
				return printValidation(cmd, report)
			}
			defer model.Release()

			report.Graph = doc.Name
			report.Inputs = len(doc.Inputs)
			report.Nodes = len(doc.Nodes)
			report.Levels = model.Levels
			report.Fetches = doc.Fetches

			result, err := checkPolicies(cmd.Context(), a, doc, model.Levels, policyPaths)
			if err != nil {
				return err
			}
			report.Policies = result.EvaluatedPolicies
			report.Violations = result.Violations
			report.Warnings = result.Warnings
			report.Valid = result.Allowed
			return printValidation(cmd, report)
		},
	}

	cmd.Flags().StringVarP(&graphPath, "graph", "g", "", "graph document (YAML, CUE file or CUE directory)")
	cmd.Flags().StringArrayVar(&policyPaths, "policy", nil, "Rego policy file or directory; repeat for several")
	_ = cmd.MarkFlagRequired("graph")

	return cmd
}

func checkPolicies(ctx context.Context, a *app, doc *config.GraphDocument, levels [][]string, paths []string) (*policy.Result, error) {
	engine, err := policy.NewEngine(a.tel.Logger.Zerolog())
	if err != nil {
		return nil, err
	}
	if len(paths) > 0 {
		if err := engine.LoadPolicies(ctx, paths); err != nil {
			return nil, err
		}
	}
	return engine.Evaluate(ctx, policy.NewInput(doc, levels, "validate"))
}

// validationErrors flattens err into reportable entries.
func validationErrors(err error) []config.ValidationError {
	var list config.ValidationErrors
	if errors.As(err, &list) {
		return list
	}
	var single config.ValidationError
	if errors.As(err, &single) {
		return []config.ValidationError{single}
	}
	return []config.ValidationError{{Message: err.Error(), Severity: "error"}}
}

func printValidation(cmd *cobra.Command, report validationReport) error {
	w := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		for _, e := range report.Errors {
			fmt.Fprintf(w, "%s: %s\n", report.Path, e.Error())
		}
		for _, v := range report.Violations {
			fmt.Fprintf(w, "%s: %s\n", report.Path, v)
		}
		for _, v := range report.Warnings {
			fmt.Fprintf(w, "%s: %s\n", report.Path, v)
		}
		if report.Valid {
			fmt.Fprintf(w, "%s: graph %s is valid (%d inputs, %d nodes, %d levels)\n",
				report.Path, report.Graph, report.Inputs, report.Nodes, len(report.Levels))
		}
	}

	if !report.Valid {
		if n := len(report.Violations); n > 0 {
			return fmt.Errorf("%s: %d policy violations", report.Path, n)
		}
		return fmt.Errorf("%s: %d validation errors", report.Path, len(report.Errors))
	}
	return nil
}
