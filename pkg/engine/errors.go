package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an engine failure.
type ErrorKind string

const (
	// ErrorKindShape indicates a feed value whose rank or fixed dimension
	// conflicts with the key node's declared shape.
	ErrorKindShape ErrorKind = "ShapeError"

	// ErrorKindType indicates a feed value whose dtype differs from the
	// declared dtype with no implicit conversion available.
	ErrorKindType ErrorKind = "TypeError"

	// ErrorKindDuplicateKey indicates a second value bound to a node that
	// is already present in a feed table.
	ErrorKindDuplicateKey ErrorKind = "DuplicateKeyError"

	// ErrorKindLookup indicates a request for a value that is not bound.
	ErrorKindLookup ErrorKind = "LookupError"

	// ErrorKindInvariant indicates a violated precondition, such as
	// planning with no fetches.
	ErrorKindInvariant ErrorKind = "InvariantError"

	// ErrorKindOperation indicates that an operation failed while being applied.
	ErrorKindOperation ErrorKind = "OperationError"
)

// EngineError is a classified error with the node and operation it concerns.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Node is the name of the node involved, if any.
	Node string `json:"node,omitempty"`

	// Operation is the name of the operation involved, if any.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	switch {
	case e.Node != "" && e.Operation != "":
		msg += fmt.Sprintf(" (node=%s, operation=%s)", e.Node, e.Operation)
	case e.Node != "":
		msg += fmt.Sprintf(" (node=%s)", e.Node)
	case e.Operation != "":
		msg += fmt.Sprintf(" (operation=%s)", e.Operation)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches any *EngineError of the same kind, so callers can write
// errors.Is(err, &EngineError{Kind: ErrorKindShape}).
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind ErrorKind, message string, err error) *EngineError {
	return &EngineError{Kind: kind, Message: message, Err: err}
}

// NewShapeError creates a shape error.
func NewShapeError(message string) *EngineError {
	return newError(ErrorKindShape, message, nil)
}

// NewTypeError creates a type error.
func NewTypeError(message string, err error) *EngineError {
	return newError(ErrorKindType, message, err)
}

// NewDuplicateKeyError creates a duplicate key error.
func NewDuplicateKeyError(message string) *EngineError {
	return newError(ErrorKindDuplicateKey, message, nil)
}

// NewLookupError creates a lookup error.
func NewLookupError(message string) *EngineError {
	return newError(ErrorKindLookup, message, nil)
}

// NewInvariantError creates an invariant error.
func NewInvariantError(message string) *EngineError {
	return newError(ErrorKindInvariant, message, nil)
}

// NewOperationError wraps a failure raised by an operation. The original
// error stays reachable through errors.Is and errors.As.
func NewOperationError(message string, err error) *EngineError {
	return newError(ErrorKindOperation, message, err)
}

// WithNode adds node context to an error.
func (e *EngineError) WithNode(name string) *EngineError {
	e.Node = name
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the first EngineError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsShapeError reports whether err is a shape error.
func IsShapeError(err error) bool {
	return KindOf(err) == ErrorKindShape
}

// IsTypeError reports whether err is a type error.
func IsTypeError(err error) bool {
	return KindOf(err) == ErrorKindType
}

// IsDuplicateKeyError reports whether err is a duplicate key error.
func IsDuplicateKeyError(err error) bool {
	return KindOf(err) == ErrorKindDuplicateKey
}

// IsLookupError reports whether err is a lookup error.
func IsLookupError(err error) bool {
	return KindOf(err) == ErrorKindLookup
}

// IsInvariantError reports whether err is an invariant error.
func IsInvariantError(err error) bool {
	return KindOf(err) == ErrorKindInvariant
}

// IsOperationError reports whether err is an operation error.
func IsOperationError(err error) bool {
	return KindOf(err) == ErrorKindOperation
}
