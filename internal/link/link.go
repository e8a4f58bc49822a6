// Package link describes cross-schema relationships: links that add a field
// on one backend's type whose value is fetched from another backend, and
// extensions that merge another backend's fields onto an existing type.
package link

import (
	"errors"
	"fmt"
	"strings"

	language "github.com/hanpama/braid/internal/language"
)

var (
	ErrSimpleLinkArity  = errors.New("Simple link requires exactly one LinkArgument.")
	ErrSimpleLinkSource = errors.New("Simple link requires argument sourced to be of type OBJECT FIELD")
)

// ArgumentSource tells where the value of a link argument comes from.
type ArgumentSource int

const (
	// ObjectField reads the value from the parent object the link is declared on.
	ObjectField ArgumentSource = iota
	// FieldArgument reads the value from an argument of the link field itself.
	FieldArgument
	// Context reads the value from request-scoped data. Resolution is provider specific.
	Context
)

func (s ArgumentSource) String() string {
	switch s {
	case ObjectField:
		return "OBJECT_FIELD"
	case FieldArgument:
		return "FIELD_ARGUMENT"
	case Context:
		return "CONTEXT"
	default:
		return fmt.Sprintf("ArgumentSource(%d)", int(s))
	}
}

// ParseArgumentSource accepts the upper-case names used in configuration files.
func ParseArgumentSource(s string) (ArgumentSource, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "OBJECT_FIELD":
		return ObjectField, nil
	case "FIELD_ARGUMENT":
		return FieldArgument, nil
	case "CONTEXT":
		return Context, nil
	}
	return 0, fmt.Errorf("unknown argument source %q", s)
}

// Argument binds one argument of the target query field to a value source.
type Argument struct {
	// SourceName is the object field or field argument the value is read from.
	SourceName string
	// QueryArgumentName is the argument name on the target top-level query field.
	QueryArgumentName string
	Source            ArgumentSource
	// TargetFieldMatchingArgument names a field of the target type whose value
	// equals the argument value. When every selected field is such a field the
	// remote call is skipped.
	TargetFieldMatchingArgument string
	// RemoveInputField hides the source field from the composed schema.
	RemoveInputField bool
	// Nullable allows a null value to be sent to the target query field.
	Nullable bool
}

// CustomTransformation replaces the default query construction for a link.
type CustomTransformation interface {
	// CreateQuery returns the remote field to fetch given the aliased clone of
	// the requested field and the resolved argument values.
	CreateQuery(field *language.Field, args map[string]any) *language.Field
	// Unapply reshapes the value fetched for field.
	Unapply(field *language.Field, data any, errs []error) (any, []error)
}

// Options is the input of New.
type Options struct {
	SourceNamespace      string
	SourceType           string
	SourceField          string
	TargetNamespace      string
	TargetType           string
	TargetNonNullable    bool
	NewFieldName         string
	TopLevelQueryField   string
	NoSchemaChangeNeeded bool
	// Simple links take exactly one ObjectField argument. A list-valued source
	// fans out into one remote field per element.
	Simple    bool
	Arguments []Argument
	Custom    CustomTransformation
}

// Link is immutable after construction.
type Link struct {
	sourceNamespace      string
	sourceType           string
	targetNamespace      string
	targetType           string
	targetNonNullable    bool
	newFieldName         string
	topLevelQueryField   string
	noSchemaChangeNeeded bool
	simple               bool
	arguments            []Argument
	matching             map[string]struct{}
	custom               CustomTransformation
}

// New validates o and fills defaults. A simple link with no arguments gets
// one ObjectField argument reading SourceField into the "id" argument.
func New(o Options) (*Link, error) {
	if o.SourceNamespace == "" || o.SourceType == "" {
		return nil, fmt.Errorf("link source namespace and type are required")
	}
	if o.TargetNamespace == "" || o.TargetType == "" {
		return nil, fmt.Errorf("link %s.%s: target namespace and type are required", o.SourceType, o.SourceField)
	}
	if o.NewFieldName == "" {
		o.NewFieldName = o.SourceField
	}
	if o.NewFieldName == "" {
		return nil, fmt.Errorf("link on %s: field name is required", o.SourceType)
	}
	if o.TopLevelQueryField == "" {
		o.TopLevelQueryField = o.NewFieldName
	}
	args := append([]Argument(nil), o.Arguments...)
	if o.Simple && len(args) == 0 {
		src := o.SourceField
		if src == "" {
			src = o.NewFieldName
		}
		args = []Argument{{SourceName: src, QueryArgumentName: "id", Source: ObjectField}}
	}
	if o.Simple {
		if len(args) != 1 {
			return nil, ErrSimpleLinkArity
		}
		if args[0].Source != ObjectField {
			return nil, ErrSimpleLinkSource
		}
	}
	for i := range args {
		if args[i].QueryArgumentName == "" {
			args[i].QueryArgumentName = args[i].SourceName
		}
	}
	l := &Link{
		sourceNamespace:      o.SourceNamespace,
		sourceType:           o.SourceType,
		targetNamespace:      o.TargetNamespace,
		targetType:           o.TargetType,
		targetNonNullable:    o.TargetNonNullable,
		newFieldName:         o.NewFieldName,
		topLevelQueryField:   o.TopLevelQueryField,
		noSchemaChangeNeeded: o.NoSchemaChangeNeeded,
		simple:               o.Simple,
		arguments:            args,
		matching:             map[string]struct{}{},
		custom:               o.Custom,
	}
	for _, a := range args {
		if a.TargetFieldMatchingArgument != "" {
			l.matching[a.TargetFieldMatchingArgument] = struct{}{}
		}
	}
	return l, nil
}

func (l *Link) SourceNamespace() string    { return l.sourceNamespace }
func (l *Link) SourceType() string         { return l.sourceType }
func (l *Link) TargetNamespace() string    { return l.targetNamespace }
func (l *Link) TargetType() string         { return l.targetType }
func (l *Link) TargetNonNullable() bool    { return l.targetNonNullable }
func (l *Link) NewFieldName() string       { return l.newFieldName }
func (l *Link) TopLevelQueryField() string { return l.topLevelQueryField }
func (l *Link) NoSchemaChangeNeeded() bool { return l.noSchemaChangeNeeded }
func (l *Link) IsSimple() bool             { return l.simple }

func (l *Link) Custom() CustomTransformation { return l.custom }

// Arguments returns a copy of the link arguments in declaration order.
func (l *Link) Arguments() []Argument {
	return append([]Argument(nil), l.arguments...)
}

// SimpleArgument returns the only argument of a simple link.
func (l *Link) SimpleArgument() (Argument, bool) {
	if !l.simple {
		return Argument{}, false
	}
	return l.arguments[0], true
}

// IsFieldMatchingArgument reports whether a target field carries the value
// of one of the link arguments.
func (l *Link) IsFieldMatchingArgument(field string) bool {
	_, ok := l.matching[field]
	return ok
}

func (l *Link) String() string {
	return fmt.Sprintf("Link{%s.%s.%s -> %s.%s via %s}",
		l.sourceNamespace, l.sourceType, l.newFieldName,
		l.targetNamespace, l.targetType, l.topLevelQueryField)
}

// Extension merges the fields of By.Type onto Type. The value of the On
// field is passed as By.Arg to the By.Query field of By.Namespace.
type Extension struct {
	Type string
	On   string
	By   By
}

type By struct {
	Namespace string
	Type      string
	Query     string
	Arg       string
}

// Validate reports missing extension settings.
func (e Extension) Validate() error {
	switch {
	case e.Type == "":
		return errors.New("extension type is required")
	case e.On == "":
		return fmt.Errorf("extension of %s: on field is required", e.Type)
	case e.By.Namespace == "" || e.By.Type == "" || e.By.Query == "" || e.By.Arg == "":
		return fmt.Errorf("extension of %s: by namespace, type, query and arg are required", e.Type)
	}
	return nil
}

// FieldRename maps a field name in the composed schema to the backend name.
type FieldRename struct {
	BraidName  string
	SourceName string
}

// TypeRename maps a type name in the composed schema to the backend name.
type TypeRename struct {
	BraidName  string
	SourceName string
}

// TypeRenames is a lookup over a backend's type renames.
type TypeRenames []TypeRename

// ToSource returns the backend name of a composed type name.
func (rs TypeRenames) ToSource(braidName string) string {
	for _, r := range rs {
		if r.BraidName == braidName {
			return r.SourceName
		}
	}
	return braidName
}

// ToBraid returns the composed name of a backend type name.
func (rs TypeRenames) ToBraid(sourceName string) string {
	for _, r := range rs {
		if r.SourceName == sourceName {
			return r.BraidName
		}
	}
	return sourceName
}
