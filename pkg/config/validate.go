package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	nodeNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)
	nodeRefPattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*(:[0-9]+)?$`)
)

// validate is shared by every document type. Custom tags:
// nodename (a declarable node name) and noderef (a name, optionally with
// an ":i" output suffix).
var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("nodename", func(fl validator.FieldLevel) bool {
		return nodeNamePattern.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation("noderef", func(fl validator.FieldLevel) bool {
		return nodeRefPattern.MatchString(fl.Field().String())
	})
}

// SplitRef splits a node reference into the declaring node name and the
// output index. A reference without suffix has index -1.
func SplitRef(ref string) (string, int) {
	i := strings.LastIndexByte(ref, ':')
	if i < 0 {
		return ref, -1
	}
	var idx int
	if _, err := fmt.Sscanf(ref[i+1:], "%d", &idx); err != nil {
		return ref, -1
	}
	return ref[:i], idx
}

// Validate checks the document's fields and that every reference names a
// declared node. Cycles are detected when the graph is built.
func (d *GraphDocument) Validate() error {
	var errs ValidationErrors
	if err := validate.Struct(d); err != nil {
		errs = append(errs, fieldErrors(err)...)
	}

	declared := make(map[string]string, len(d.Inputs)+len(d.Nodes))
	declare := func(name, path string) {
		if name == "" {
			return
		}
		if prev, dup := declared[name]; dup {
			errs = append(errs, ValidationError{
				Path:     path,
				Message:  fmt.Sprintf("name %q is already declared at %s", name, prev),
				Severity: "error",
			})
			return
		}
		declared[name] = path
	}
	for i, in := range d.Inputs {
		declare(in.Name, fmt.Sprintf("inputs[%d]", i))
	}
	for i, n := range d.Nodes {
		declare(n.Name, fmt.Sprintf("nodes[%d]", i))
	}

	resolve := func(ref, path string) {
		name, _ := SplitRef(ref)
		if _, ok := declared[name]; !ok {
			errs = append(errs, ValidationError{
				Path:     path,
				Message:  fmt.Sprintf("reference to undeclared node %q", ref),
				Severity: "error",
			})
		}
	}
	for i, n := range d.Nodes {
		for j, ref := range n.Inputs {
			resolve(ref, fmt.Sprintf("nodes[%d].inputs[%d]", i, j))
		}
	}
	for i, ref := range d.Fetches {
		resolve(ref, fmt.Sprintf("fetches[%d]", i))
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Validate checks the feed document's fields and that names are unique.
func (d *FeedDocument) Validate() error {
	var errs ValidationErrors
	if err := validate.Struct(d); err != nil {
		errs = append(errs, fieldErrors(err)...)
	}

	seen := make(map[string]int, len(d.Feeds))
	for i, f := range d.Feeds {
		if prev, dup := seen[f.Name]; dup && f.Name != "" {
			errs = append(errs, ValidationError{
				Path:     fmt.Sprintf("feeds[%d].name", i),
				Message:  fmt.Sprintf("%q is already fed at feeds[%d]", f.Name, prev),
				Severity: "error",
			})
			continue
		}
		seen[f.Name] = i
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Validate checks the configuration, including the telemetry section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", ValidationErrors(fieldErrors(err)))
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}

// fieldErrors converts validator errors to ValidationErrors. The path
// drops the root type name.
func fieldErrors(err error) []ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{Message: err.Error(), Severity: "error"}}
	}

	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		path := fe.Namespace()
		if i := strings.IndexByte(path, '.'); i >= 0 {
			path = path[i+1:]
		}
		msg := fmt.Sprintf("failed on the %q rule", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed on the %q rule (%s)", fe.Tag(), fe.Param())
		}
		out = append(out, ValidationError{
			Path:     path,
			Message:  msg,
			Severity: "error",
		})
	}
	return out
}
