// Package braid batches field resolutions of a composed GraphQL schema into
// single queries against the backends that own the data.
//
// The host executor hands a Loader every pending request that shares one
// field coordinate. The Loader lets a FieldTransformation turn each request
// into aliased, variable-namespaced fields of one merged operation, sends
// that operation once, and splits data and errors back per request.
package braid

import (
	"errors"
	"fmt"
	"math"

	language "github.com/hanpama/braid/internal/language"
)

var (
	// ErrBatchInvariant is returned when requests of one batch do not share
	// session, operation kind and output type.
	ErrBatchInvariant = errors.New("batch invariant violated")
	// ErrContextArgument is returned by the default argument value provider
	// for link arguments read from request context.
	ErrContextArgument = errors.New("context link arguments need an argument value provider")
	// ErrVariableConflict is returned when two fields of a merged operation
	// need different values or types under one variable name.
	ErrVariableConflict = errors.New("conflicting variable definitions")
	// ErrDuplicateKey is returned by Collect when a key is in more than one group.
	ErrDuplicateKey = errors.New("key present in more than one group")
	// ErrMissingKey is returned by Collect when a key is in no group.
	ErrMissingKey = errors.New("key missing from every group")
	// ErrUnknownNamespace is returned when a request routes to no backend.
	ErrUnknownNamespace = errors.New("unknown namespace")
)

// Operation is the caller's operation a request was collected from.
type Operation struct {
	Kind       language.Operation
	Definition *language.OperationDefinition
	Fragments  language.FragmentDefinitionList
	// Variables are the raw variable values sent by the caller.
	Variables map[string]any
}

// Request is one pending field resolution.
type Request struct {
	// Fields are the field nodes merged under one response name. They are
	// never modified.
	Fields     []*language.Field
	ParentType string
	ReturnType *language.Type
	Source     any
	Args       map[string]any
	Path       []any
	Operation  *Operation
	Session    *Session
}

// Field returns the first field node of the request.
func (r *Request) Field() *language.Field { return r.Fields[0] }

// ResponseName is the key the caller expects the value under.
func (r *Request) ResponseName() string { return language.ResponseName(r.Field()) }

func (r *Request) isList() bool { return language.IsListType(r.ReturnType) }

// Result is the value and errors of one request. Error paths are relative
// to the request's field.
type Result struct {
	Data   any
	Errors []*Error
}

// Location is a position in a query document.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Error is a GraphQL error reported by a backend.
type Error struct {
	Message    string         `json:"message"`
	Locations  []Location     `json:"locations,omitempty"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// ErrorFromMap reads a GraphQL error decoded from JSON. Numeric path
// segments become ints.
func ErrorFromMap(m map[string]any) *Error {
	e := &Error{Message: "Unknown error"}
	if msg, ok := m["message"].(string); ok && msg != "" {
		e.Message = msg
	}
	if locs, ok := m["locations"].([]any); ok {
		for _, l := range locs {
			lm, ok := l.(map[string]any)
			if !ok {
				continue
			}
			e.Locations = append(e.Locations, Location{Line: toInt(lm["line"]), Column: toInt(lm["column"])})
		}
	}
	if path, ok := m["path"].([]any); ok {
		for _, p := range path {
			switch v := p.(type) {
			case string:
				e.Path = append(e.Path, v)
			default:
				e.Path = append(e.Path, toInt(v))
			}
		}
	}
	if ext, ok := m["extensions"].(map[string]any); ok {
		e.Extensions = ext
	}
	return e
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		if n == math.Trunc(n) {
			return int(n)
		}
	}
	return 0
}

// asError converts errors returned by custom transformations.
func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Message: err.Error()}
}

func errorf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}
