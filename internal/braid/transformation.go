package braid

import (
	"context"
	"fmt"
	"strconv"

	language "github.com/hanpama/braid/internal/language"
	"github.com/hanpama/braid/internal/link"
	"github.com/hanpama/braid/internal/rewrite"
)

// FieldTransformation turns requests into fields of a merged operation.
//
// The Loader calls Resolve for every request of a batch concurrently, then
// Apply for each request in order, so suffixes from Context.Next are
// assigned deterministically.
type FieldTransformation interface {
	// Resolve looks up the argument values of req. Each element of the
	// returned slice becomes one remote field.
	Resolve(ctx context.Context, req *Request) ([]ArgumentValues, error)
	// Apply returns the aliased remote fields of req in result order. Fields
	// whose alias was short-circuited on fc are not sent.
	Apply(req *Request, values []ArgumentValues, fc *Context) ([]*language.Field, error)
	// Unapply post-processes the value split out for req.
	Unapply(req *Request, res Result) Result
}

// ArgumentValue is the value a link argument resolved to.
type ArgumentValue struct {
	Argument link.Argument
	Value    any
}

// ArgumentValues are the values of one remote field invocation.
type ArgumentValues []ArgumentValue

// ResolvedArgument is a link argument turned into an argument of the remote
// field and the variable that carries its value.
type ResolvedArgument struct {
	Argument   *language.Argument
	Definition *language.VariableDefinition
	Value      any
	Link       link.Argument
}

// resolveArgument builds $<queryArgumentName><counter> for v, typed after
// the argument of target. counter must not be the suffix of the field the
// argument belongs to: caller variables of that field are renamed with it.
func resolveArgument(v ArgumentValue, counter int, target *language.FieldDefinition) (ResolvedArgument, error) {
	name := v.Argument.QueryArgumentName
	def := target.Arguments.ForName(name)
	if def == nil {
		return ResolvedArgument{}, fmt.Errorf("field %s has no argument %s", target.Name, name)
	}
	variable := name + strconv.Itoa(counter)
	return ResolvedArgument{
		Argument: &language.Argument{
			Name:  name,
			Value: &language.Value{Kind: language.Variable, Raw: variable},
		},
		Definition: &language.VariableDefinition{Variable: variable, Type: rewrite.CloneType(def.Type)},
		Value:      v.Value,
		Link:       v.Argument,
	}, nil
}

// ArgumentValueProvider looks up the value of a link argument for a request.
type ArgumentValueProvider interface {
	ValueForArgument(ctx context.Context, arg link.Argument, req *Request) (any, error)
}

// ArgumentValueProviderFunc adapts a function to ArgumentValueProvider.
type ArgumentValueProviderFunc func(ctx context.Context, arg link.Argument, req *Request) (any, error)

func (f ArgumentValueProviderFunc) ValueForArgument(ctx context.Context, arg link.Argument, req *Request) (any, error) {
	return f(ctx, arg, req)
}

// DefaultArgumentValueProvider reads object fields from the request source
// and field arguments from the request arguments.
type DefaultArgumentValueProvider struct{}

func (DefaultArgumentValueProvider) ValueForArgument(_ context.Context, arg link.Argument, req *Request) (any, error) {
	switch arg.Source {
	case link.ObjectField:
		return fieldValue(req.Source, arg.SourceName), nil
	case link.FieldArgument:
		return req.Args[arg.SourceName], nil
	case link.Context:
		return nil, fmt.Errorf("argument %s: %w", arg.SourceName, ErrContextArgument)
	}
	return nil, fmt.Errorf("argument %s: unknown source %s", arg.SourceName, arg.Source)
}

func fieldValue(source any, name string) any {
	if m, ok := source.(map[string]any); ok {
		return m[name]
	}
	return nil
}

// requestField clones the first field of req and merges the selections of
// the others into it.
func requestField(req *Request) *language.Field {
	f := rewrite.CloneField(req.Field())
	for _, other := range req.Fields[1:] {
		f.SelectionSet = append(f.SelectionSet, rewrite.CloneSelectionSet(other.SelectionSet)...)
	}
	return f
}

// rootField returns the definition of name on the root type of kind.
func rootField(s *language.Schema, kind language.Operation, name string) (*language.FieldDefinition, error) {
	root := s.Query
	if kind == language.Mutation {
		root = s.Mutation
	}
	if root == nil {
		return nil, fmt.Errorf("schema has no %s type", kind)
	}
	fd := root.Fields.ForName(name)
	if fd == nil {
		return nil, fmt.Errorf("%s has no field %s", root.Name, name)
	}
	return fd, nil
}

// addExtensionKeys selects the join field of every extension on the
// selection sets of the extended types, so extension fields can be resolved
// from the fetched objects.
func addExtensionKeys(s *language.Schema, typeName string, f *language.Field, fragments []*language.FragmentDefinition, exts []link.Extension) {
	if len(exts) == 0 || s == nil {
		return
	}
	k := keyAdder{schema: s, exts: exts}
	if len(f.SelectionSet) > 0 {
		f.SelectionSet = k.selectionSet(typeName, f.SelectionSet)
	}
	for _, fd := range fragments {
		fd.SelectionSet = k.selectionSet(fd.TypeCondition, fd.SelectionSet)
	}
}

type keyAdder struct {
	schema *language.Schema
	exts   []link.Extension
}

func (k keyAdder) selectionSet(typeName string, set language.SelectionSet) language.SelectionSet {
	def := k.schema.Types[typeName]
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			if len(s.SelectionSet) == 0 || def == nil {
				continue
			}
			if fd := def.Fields.ForName(s.Name); fd != nil {
				s.SelectionSet = k.selectionSet(language.NamedType(fd.Type), s.SelectionSet)
			}
		case *language.InlineFragment:
			cond := s.TypeCondition
			if cond == "" {
				cond = typeName
			}
			s.SelectionSet = k.selectionSet(cond, s.SelectionSet)
		}
	}
	for _, ext := range k.exts {
		if ext.Type == typeName {
			set = rewrite.EnsureField(set, ext.On)
		}
	}
	return set
}
