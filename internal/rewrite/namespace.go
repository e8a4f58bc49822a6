package rewrite

import (
	"fmt"
	"strconv"

	language "github.com/hanpama/braid/internal/language"
)

// VariableSink receives the namespaced variables of a rewritten subtree.
// An error from AddVariable aborts Namespace.
type VariableSink interface {
	AddVariable(def *language.VariableDefinition, value any) error
}

// Namespace renames every variable referenced by field and fragments to
// <name><counter>, copying its definition from op and its value from vars
// into sink. Fragment definitions are renamed the same way so that copies
// made for different requests can share one document.
//
// field and fragments are modified in place and must be clones.
func Namespace(
	field *language.Field,
	fragments []*language.FragmentDefinition,
	counter int,
	op *language.OperationDefinition,
	vars map[string]any,
	sink VariableSink,
) error {
	n := &namespacer{
		suffix:    strconv.Itoa(counter),
		op:        op,
		vars:      vars,
		sink:      sink,
		renamed:   map[string]string{},
		fragments: map[string]string{},
	}
	for _, fd := range fragments {
		n.fragments[fd.Name] = fd.Name + n.suffix
	}
	if err := n.field(field); err != nil {
		return err
	}
	for _, fd := range fragments {
		fd.Name = n.fragments[fd.Name]
		if err := n.directives(fd.Directives); err != nil {
			return err
		}
		if err := n.selectionSet(fd.SelectionSet); err != nil {
			return err
		}
	}
	return nil
}

type namespacer struct {
	suffix    string
	op        *language.OperationDefinition
	vars      map[string]any
	sink      VariableSink
	renamed   map[string]string
	fragments map[string]string
}

func (n *namespacer) field(f *language.Field) error {
	for _, a := range f.Arguments {
		v, err := n.value(a.Value)
		if err != nil {
			return err
		}
		a.Value = v
	}
	if err := n.directives(f.Directives); err != nil {
		return err
	}
	return n.selectionSet(f.SelectionSet)
}

func (n *namespacer) selectionSet(set language.SelectionSet) error {
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			if err := n.field(s); err != nil {
				return err
			}
		case *language.InlineFragment:
			if err := n.directives(s.Directives); err != nil {
				return err
			}
			if err := n.selectionSet(s.SelectionSet); err != nil {
				return err
			}
		case *language.FragmentSpread:
			if name, ok := n.fragments[s.Name]; ok {
				s.Name = name
				s.Definition = nil
			}
			if err := n.directives(s.Directives); err != nil {
				return err
			}
		}
	}
	return nil
}

func (n *namespacer) directives(ds language.DirectiveList) error {
	for _, d := range ds {
		for _, a := range d.Arguments {
			v, err := n.value(a.Value)
			if err != nil {
				return err
			}
			a.Value = v
		}
	}
	return nil
}

func (n *namespacer) value(v *language.Value) (*language.Value, error) {
	if v == nil {
		return nil, nil
	}
	switch v.Kind {
	case language.Variable:
		name, err := n.variable(v.Raw)
		if err != nil {
			return nil, err
		}
		return &language.Value{Kind: language.Variable, Raw: name, Position: v.Position}, nil
	case language.ListValue, language.ObjectValue:
		for _, c := range v.Children {
			cv, err := n.value(c.Value)
			if err != nil {
				return nil, err
			}
			c.Value = cv
		}
	}
	return v, nil
}

func (n *namespacer) variable(name string) (string, error) {
	if renamed, ok := n.renamed[name]; ok {
		return renamed, nil
	}
	var def *language.VariableDefinition
	if n.op != nil {
		def = n.op.VariableDefinitions.ForName(name)
	}
	if def == nil {
		return "", fmt.Errorf("variable $%s is not defined by the operation", name)
	}
	renamed := name + n.suffix
	value, ok := n.vars[name]
	if !ok && def.DefaultValue != nil {
		value, _ = def.DefaultValue.Value(nil)
	}
	err := n.sink.AddVariable(&language.VariableDefinition{
		Variable:     renamed,
		Type:         CloneType(def.Type),
		DefaultValue: CloneValue(def.DefaultValue),
	}, value)
	if err != nil {
		return "", err
	}
	n.renamed[name] = renamed
	return renamed, nil
}
