// Package rewrite holds the AST transforms used to splice independent field
// subtrees into one outgoing operation. Every transform works on clones; the
// caller's query document is never mutated.
package rewrite

import (
	language "github.com/hanpama/braid/internal/language"
)

// CloneField returns a deep copy of f. Schema annotations (Definition,
// ObjectDefinition) are shared with the original.
func CloneField(f *language.Field) *language.Field {
	if f == nil {
		return nil
	}
	return &language.Field{
		Alias:            f.Alias,
		Name:             f.Name,
		Arguments:        cloneArguments(f.Arguments),
		Directives:       cloneDirectives(f.Directives),
		SelectionSet:     CloneSelectionSet(f.SelectionSet),
		Position:         f.Position,
		Definition:       f.Definition,
		ObjectDefinition: f.ObjectDefinition,
	}
}

func CloneSelectionSet(set language.SelectionSet) language.SelectionSet {
	if set == nil {
		return nil
	}
	out := make(language.SelectionSet, 0, len(set))
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			out = append(out, CloneField(s))
		case *language.InlineFragment:
			out = append(out, &language.InlineFragment{
				TypeCondition:    s.TypeCondition,
				Directives:       cloneDirectives(s.Directives),
				SelectionSet:     CloneSelectionSet(s.SelectionSet),
				ObjectDefinition: s.ObjectDefinition,
				Position:         s.Position,
			})
		case *language.FragmentSpread:
			out = append(out, &language.FragmentSpread{
				Name:             s.Name,
				Directives:       cloneDirectives(s.Directives),
				ObjectDefinition: s.ObjectDefinition,
				Definition:       s.Definition,
				Position:         s.Position,
			})
		}
	}
	return out
}

func CloneFragment(fd *language.FragmentDefinition) *language.FragmentDefinition {
	if fd == nil {
		return nil
	}
	return &language.FragmentDefinition{
		Name:          fd.Name,
		TypeCondition: fd.TypeCondition,
		Directives:    cloneDirectives(fd.Directives),
		SelectionSet:  CloneSelectionSet(fd.SelectionSet),
		Definition:    fd.Definition,
		Position:      fd.Position,
	}
}

func CloneValue(v *language.Value) *language.Value {
	if v == nil {
		return nil
	}
	out := *v
	if v.Children != nil {
		out.Children = make(language.ChildValueList, len(v.Children))
		for i, c := range v.Children {
			out.Children[i] = &language.ChildValue{Name: c.Name, Value: CloneValue(c.Value), Position: c.Position}
		}
	}
	return &out
}

func CloneType(t *language.Type) *language.Type {
	if t == nil {
		return nil
	}
	return &language.Type{NamedType: t.NamedType, Elem: CloneType(t.Elem), NonNull: t.NonNull}
}

func cloneArguments(args language.ArgumentList) language.ArgumentList {
	if args == nil {
		return nil
	}
	out := make(language.ArgumentList, len(args))
	for i, a := range args {
		out[i] = &language.Argument{Name: a.Name, Value: CloneValue(a.Value), Position: a.Position}
	}
	return out
}

func cloneDirectives(ds language.DirectiveList) language.DirectiveList {
	if ds == nil {
		return nil
	}
	out := make(language.DirectiveList, len(ds))
	for i, d := range ds {
		out[i] = &language.Directive{
			Name:       d.Name,
			Arguments:  cloneArguments(d.Arguments),
			Position:   d.Position,
			Definition: d.Definition,
			Location:   d.Location,
		}
	}
	return out
}
