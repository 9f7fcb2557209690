package policy

import (
	"time"

	"github.com/openfroyo/symgraph/pkg/config"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational findings.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that reject the graph.
	SeverityError Severity = "error"
)

// Policy is a Rego module whose deny set lists violations.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the policy module. Violations are the members of its
	// "deny" set: strings, or objects with "message" and optionally
	// "severity" and "node".
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`
}

// Violation is one finding reported by a policy.
type Violation struct {
	Policy   string   `json:"policy"`
	Node     string   `json:"node,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (v Violation) String() string {
	if v.Node != "" {
		return string(v.Severity) + ": [" + v.Policy + "] " + v.Node + ": " + v.Message
	}
	return string(v.Severity) + ": [" + v.Policy + "] " + v.Message
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	// Allowed is false when any violation has error severity.
	Allowed bool `json:"allowed"`

	// Violations lists error findings; Warnings lists the rest.
	Violations []Violation `json:"violations,omitempty"`
	Warnings   []Violation `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Input is the document passed to policies as "input".
type Input struct {
	// Graph is the graph document as written.
	Graph *config.GraphDocument `json:"graph"`

	// Levels groups node names by dependency depth when known.
	Levels [][]string `json:"levels,omitempty"`

	// Consumers maps every referenced node name to the nodes reading it.
	Consumers map[string][]string `json:"consumers"`

	// Operation is the CLI operation being checked, e.g. "validate".
	Operation string `json:"operation"`
}

// NewInput builds the policy input for a graph document.
func NewInput(doc *config.GraphDocument, levels [][]string, operation string) *Input {
	consumers := make(map[string][]string)
	for _, n := range doc.Nodes {
		for _, ref := range n.Inputs {
			name, _ := config.SplitRef(ref)
			consumers[name] = append(consumers[name], n.Name)
		}
	}
	return &Input{
		Graph:     doc,
		Levels:    levels,
		Consumers: consumers,
		Operation: operation,
	}
}
