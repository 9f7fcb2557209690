package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
)

// CUEParser parses graph documents written in CUE. The document is either
// the root value or, when present, the value of the top-level "graph"
// field; it is unified with the built-in #Graph schema before decoding.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	return &CUEParser{
		ctx:            ctx,
		schemaRegistry: NewSchemaRegistry(ctx),
	}
}

// LoadGraphCUE parses CUE sources into a validated graph document. Problems
// are returned as ValidationErrors.
func LoadGraphCUE(ctx context.Context, sources ...string) (*GraphDocument, error) {
	parsed, err := NewCUEParser().Parse(ctx, sources)
	if err != nil {
		return nil, err
	}
	if len(parsed.Errors) > 0 {
		return nil, ValidationErrors(parsed.Errors)
	}
	return parsed.Graph, nil
}

// Parse parses CUE graph documents from files or package directories and
// unifies them. Document errors are reported in ParsedGraph.Errors; the
// returned error is reserved for unreadable sources.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*ParsedGraph, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		var val cue.Value
		var errs []ValidationError
		if info.IsDir() {
			var files []string
			val, files, errs = cp.loadDirectory(source)
			sourceFiles = append(sourceFiles, files...)
		} else {
			val, errs = cp.loadFile(source)
			sourceFiles = append(sourceFiles, source)
		}

		parseErrors = append(parseErrors, errs...)
		if val.Exists() {
			if cueValue.Exists() {
				cueValue = cueValue.Unify(val)
			} else {
				cueValue = val
			}
		}
	}

	if len(parseErrors) > 0 {
		return &ParsedGraph{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	if err := cueValue.Err(); err != nil {
		return &ParsedGraph{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      cp.convertCUEErrors(err),
		}, nil
	}

	return cp.extractGraph(cueValue, sourceFiles), nil
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*ParsedGraph, error) {
	val := cp.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return &ParsedGraph{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      cp.convertCUEErrors(err),
		}, nil
	}

	return cp.extractGraph(val, []string{"inline"}), nil
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	buildInstances := load.Instances([]string{dir}, nil)
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(inst.Err)
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	return val, files, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := cp.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}

	return val, nil
}

// extractGraph checks the document against #Graph and decodes it.
func (cp *CUEParser) extractGraph(val cue.Value, sourceFiles []string) *ParsedGraph {
	parsed := &ParsedGraph{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	graphVal := val
	if nested := val.LookupPath(cue.ParsePath("graph")); nested.Exists() {
		graphVal = nested
	}

	unified, err := cp.schemaRegistry.Unify("graph", graphVal)
	if err != nil {
		parsed.Errors = cp.convertCUEErrors(err)
		return parsed
	}

	data, err := cp.ExportJSON(unified)
	if err != nil {
		parsed.Errors = []ValidationError{{Message: err.Error(), Severity: "error"}}
		return parsed
	}

	var doc GraphDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		parsed.Errors = []ValidationError{{
			Message:  fmt.Sprintf("failed to decode graph: %v", err),
			Severity: "error",
		}}
		return parsed
	}
	if err := doc.Validate(); err != nil {
		parsed.Errors = append(parsed.Errors, err.(ValidationErrors)...)
		return parsed
	}

	parsed.Graph = &doc
	return parsed
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int
		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     pathOf(e),
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

func pathOf(e errors.Error) string {
	var path string
	for i, sel := range e.Path() {
		if i > 0 {
			path += "."
		}
		path += sel
	}
	return path
}

// ValidateWithSchema validates Go data against a named schema.
func (cp *CUEParser) ValidateWithSchema(ctx context.Context, data interface{}, schemaName string) error {
	return cp.schemaRegistry.ValidateAgainstSchema(ctx, schemaName, data)
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

// ExportJSON exports a concrete CUE value to JSON.
func (cp *CUEParser) ExportJSON(val cue.Value) ([]byte, error) {
	data, err := val.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export value: %w", err)
	}
	return data, nil
}
