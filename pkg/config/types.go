package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/symgraph/pkg/telemetry"
)

// Config is the process configuration read by the symgraph CLI.
type Config struct {
	Engine    EngineConfig     `yaml:"engine"`
	History   HistoryConfig    `yaml:"history"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// EngineConfig configures the executor.
type EngineConfig struct {
	// PlanCacheSize bounds the number of cached plans. 0 keeps every plan.
	PlanCacheSize int `yaml:"plan_cache_size" validate:"gte=0"`

	// Training is the default execution mode when the caller does not set one.
	Training bool `yaml:"training"`

	// MaxParallel bounds the number of concurrent executions in a batch.
	MaxParallel int `yaml:"max_parallel" validate:"gte=1,lte=1024"`

	// ScriptTimeout bounds feed generator scripts.
	ScriptTimeout time.Duration `yaml:"script_timeout" validate:"gte=0"`
}

// HistoryConfig configures the execution history database.
type HistoryConfig struct {
	// Path is the SQLite database file. Empty disables recording unless a
	// path is given on the command line.
	Path string `yaml:"path"`

	// Limit is the default number of rows listed by "symgraph history".
	Limit int `yaml:"limit" validate:"gte=1"`
}

// GraphDocument describes a graph: its inputs, its operation nodes in any
// order, and the nodes fetched when the caller names none.
type GraphDocument struct {
	Name    string          `yaml:"name" json:"name" validate:"required,nodename"`
	Inputs  []InputDocument `yaml:"inputs" json:"inputs" validate:"required,min=1,dive"`
	Nodes   []NodeDocument  `yaml:"nodes" json:"nodes,omitempty" validate:"dive"`
	Fetches []string        `yaml:"fetches,omitempty" json:"fetches,omitempty" validate:"dive,noderef"`
}

// InputDocument declares an input terminal. A shape entry of -1 is a
// wildcard dimension; an absent shape is not checked.
type InputDocument struct {
	Name  string `yaml:"name" json:"name" validate:"required,nodename"`
	Shape []int  `yaml:"shape,omitempty" json:"shape,omitempty" validate:"dive,gte=-1"`
	DType string `yaml:"dtype,omitempty" json:"dtype,omitempty" validate:"omitempty,oneof=float32 int32 bool string"`
}

// NodeDocument declares one invocation of a kernel. Inputs name other
// nodes; outputs of a multi-output node are referenced as "name:i".
type NodeDocument struct {
	Name   string         `yaml:"name" json:"name" validate:"required,nodename"`
	Op     string         `yaml:"op" json:"op" validate:"required,alphanum"`
	Inputs []string       `yaml:"inputs,omitempty" json:"inputs,omitempty" validate:"dive,noderef"`
	Attrs  map[string]any `yaml:"attrs,omitempty" json:"attrs,omitempty"`
}

// FeedDocument holds the values bound to input nodes for one execution.
type FeedDocument struct {
	Feeds []FeedValue `yaml:"feeds" json:"feeds" validate:"required,min=1,dive"`
}

// FeedValue is one bound value. Values is flat in row-major order; when
// Shape is absent the value is a vector of len(Values). Script, a Starlark
// program assigning "values" (and optionally "shape"), replaces Values.
type FeedValue struct {
	Name   string `yaml:"name" json:"name" validate:"required,noderef"`
	Shape  []int  `yaml:"shape,omitempty" json:"shape,omitempty" validate:"dive,gte=0"`
	DType  string `yaml:"dtype,omitempty" json:"dtype,omitempty" validate:"omitempty,oneof=float32 int32 bool string"`
	Values []any  `yaml:"values,omitempty" json:"values,omitempty" validate:"required_without=Script"`
	Script string `yaml:"script,omitempty" json:"script,omitempty"`

	// Mask, when set, has one entry per element of the value.
	Mask []bool `yaml:"mask,omitempty" json:"mask,omitempty"`
}

// ParsedGraph is the result of parsing CUE graph sources.
type ParsedGraph struct {
	Graph       *GraphDocument    `json:"graph,omitempty"`
	SourceFiles []string          `json:"source_files"`
	ParsedAt    time.Time         `json:"parsed_at"`
	Errors      []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the document path of the offending field (e.g. "nodes[2].op").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning).
	Severity string `json:"severity"`
}

func (e ValidationError) Error() string {
	var loc string
	switch {
	case e.File != "" && e.Line > 0:
		loc = fmt.Sprintf("%s:%d:%d: ", e.File, e.Line, e.Column)
	case e.File != "":
		loc = e.File + ": "
	}
	if e.Path != "" {
		return fmt.Sprintf("%s%s: %s", loc, e.Path, e.Message)
	}
	return loc + e.Message
}

// ValidationErrors collects every problem found in a document.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	msgs := make([]string, len(ve))
	for i, e := range ve {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d validation error(s): %s", len(ve), strings.Join(msgs, "; "))
}

// StarlarkResult represents the result of a Starlark script.
type StarlarkResult struct {
	// Output holds the script's exported globals.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}
