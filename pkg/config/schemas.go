package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation. Values checked against
// a schema must come from the registry's CUE context.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry holding the built-in schemas. A nil
// ctx creates a fresh CUE context.
func NewSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	if ctx == nil {
		ctx = cuecontext.New()
	}
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

// registerBuiltInSchemas compiles the built-in definitions and registers
// each under its lower-case name.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	base := sr.ctx.CompileString(builtinSchemas, cue.Filename("builtin.cue"))
	if err := base.Err(); err != nil {
		panic(fmt.Sprintf("built-in schemas do not compile: %v", err))
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	for name, def := range map[string]string{
		"graph": "#Graph",
		"input": "#Input",
		"node":  "#Node",
		"feeds": "#Feeds",
		"feed":  "#FeedValue",
	} {
		sr.schemas[name] = base.LookupPath(cue.ParsePath(def))
	}
}

// RegisterSchema compiles a CUE expression and registers it with the given
// name, replacing any previous schema of that name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Unify unifies val with the named schema and checks that the result is
// concrete.
func (sr *SchemaRegistry) Unify(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return unified, err
	}
	return unified, nil
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	if _, err := sr.Unify(schemaName, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinSchemas = `
#Name: string & =~"^[A-Za-z_][A-Za-z0-9_.-]*$"

// Ref names a node, with an optional output index for multi-output nodes.
#Ref: string & =~"^[A-Za-z_][A-Za-z0-9_.-]*(:[0-9]+)?$"

#DType: "float32" | "int32" | "bool" | "string"

#Input: {
	name:   #Name
	shape?: [...(int & >=-1)]
	dtype?: #DType
}

#Node: {
	name: #Name

	// Op is a registered kernel type, e.g. "Add" or "MatMul".
	op:      string & =~"^[A-Za-z0-9]+$"
	inputs?: [...#Ref]
	attrs?: {[string]: _}
}

#Graph: {
	name:     #Name
	inputs:   [#Input, ...#Input]
	nodes?:   [...#Node]
	fetches?: [...#Ref]
}

#FeedValue: {
	name:    #Ref
	shape?:  [...(int & >=0)]
	dtype?:  #DType
	values?: [...(number | bool | string)]
	script?: string
	mask?:   [...bool]
}

#Feeds: {
	feeds: [#FeedValue, ...#FeedValue]
}
`
