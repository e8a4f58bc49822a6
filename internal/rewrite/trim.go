package rewrite

import (
	"fmt"

	language "github.com/hanpama/braid/internal/language"
	"github.com/hanpama/braid/internal/link"
)

// LinkLookup returns the link that declares fieldName on the composed type
// typeName, if any.
type LinkLookup func(typeName, fieldName string) (*link.Link, bool)

// Trim rewrites cloned selections against the composed schema.
type Trim struct {
	Schema    *language.Schema
	Links     LinkLookup
	Fragments language.FragmentDefinitionList
}

// TrimSelection removes link fields from the selection tree rooted at field
// and adds the object fields their arguments are read from. parent is the
// composed type declaring field. When ignoreFirst is set, field itself is
// not checked against links; its children are.
//
// Fragments reachable from field are cloned, trimmed, and returned in
// discovery order. field is modified in place and must be a clone.
func (t Trim) TrimSelection(parent *language.Definition, field *language.Field, ignoreFirst bool) ([]*language.FragmentDefinition, error) {
	w := &trimWalker{trim: t, fragments: map[string]*language.FragmentDefinition{}}
	if !ignoreFirst && parent != nil {
		if l, ok := t.lookup(parent.Name, field.Name); ok {
			src, err := firstObjectField(l)
			if err != nil {
				return nil, err
			}
			field.Name = src
			field.Alias = ""
			field.Arguments = nil
			field.SelectionSet = nil
			return nil, nil
		}
	}
	if len(field.SelectionSet) > 0 {
		set, err := w.selectionSet(t.fieldType(parent, field.Name), field.SelectionSet)
		if err != nil {
			return nil, err
		}
		field.SelectionSet = set
	}
	return w.order, nil
}

// TrimSelectionSet trims set, a selection made on typ, the way TrimSelection
// trims the children of a field.
func (t Trim) TrimSelectionSet(typ *language.Definition, set language.SelectionSet) (language.SelectionSet, []*language.FragmentDefinition, error) {
	w := &trimWalker{trim: t, fragments: map[string]*language.FragmentDefinition{}}
	out, err := w.selectionSet(typ, set)
	if err != nil {
		return nil, nil, err
	}
	return out, w.order, nil
}

func (t Trim) lookup(typeName, fieldName string) (*link.Link, bool) {
	if t.Links == nil {
		return nil, false
	}
	return t.Links(typeName, fieldName)
}

func (t Trim) fieldType(parent *language.Definition, name string) *language.Definition {
	if parent == nil || t.Schema == nil {
		return nil
	}
	fd := parent.Fields.ForName(name)
	if fd == nil {
		return nil
	}
	return t.Schema.Types[language.NamedType(fd.Type)]
}

func (t Trim) typeCondition(cond string, parent *language.Definition) *language.Definition {
	if cond == "" || t.Schema == nil {
		return parent
	}
	return t.Schema.Types[cond]
}

type trimWalker struct {
	trim      Trim
	fragments map[string]*language.FragmentDefinition
	order     []*language.FragmentDefinition
}

func (w *trimWalker) selectionSet(parent *language.Definition, set language.SelectionSet) (language.SelectionSet, error) {
	out := make(language.SelectionSet, 0, len(set))
	var required []string
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			if s.Name == language.TypenameField {
				out = append(out, s)
				continue
			}
			if parent != nil {
				if l, ok := w.trim.lookup(parent.Name, s.Name); ok {
					for _, arg := range l.Arguments() {
						if arg.Source == link.ObjectField {
							required = append(required, arg.SourceName)
						}
					}
					continue
				}
			}
			if len(s.SelectionSet) > 0 {
				child, err := w.selectionSet(w.trim.fieldType(parent, s.Name), s.SelectionSet)
				if err != nil {
					return nil, err
				}
				s.SelectionSet = child
			}
			out = append(out, s)
		case *language.InlineFragment:
			child, err := w.selectionSet(w.trim.typeCondition(s.TypeCondition, parent), s.SelectionSet)
			if err != nil {
				return nil, err
			}
			s.SelectionSet = child
			out = append(out, s)
		case *language.FragmentSpread:
			if err := w.fragment(s.Name, parent); err != nil {
				return nil, err
			}
			out = append(out, s)
		}
	}
	for _, name := range required {
		if !containsField(out, name, "") {
			out = append(out, &language.Field{Name: name})
		}
	}
	if isAbstract(parent) && len(out) > 0 && !containsField(out, language.TypenameField, "") {
		out = append(out, &language.Field{Name: language.TypenameField})
	}
	return out, nil
}

func (w *trimWalker) fragment(name string, parent *language.Definition) error {
	if _, seen := w.fragments[name]; seen {
		return nil
	}
	src := w.trim.Fragments.ForName(name)
	if src == nil {
		return fmt.Errorf("fragment %q is not defined", name)
	}
	fd := CloneFragment(src)
	w.fragments[name] = fd
	w.order = append(w.order, fd)
	set, err := w.selectionSet(w.trim.typeCondition(fd.TypeCondition, parent), fd.SelectionSet)
	if err != nil {
		return err
	}
	fd.SelectionSet = set
	return nil
}

func firstObjectField(l *link.Link) (string, error) {
	for _, arg := range l.Arguments() {
		if arg.Source == link.ObjectField {
			return arg.SourceName, nil
		}
	}
	return "", fmt.Errorf("link for top level field '%s' requires exactly one object field argument", l.NewFieldName())
}

func containsField(set language.SelectionSet, name, alias string) bool {
	for _, sel := range set {
		if f, ok := sel.(*language.Field); ok && f.Name == name && f.Alias == alias {
			return true
		}
	}
	return false
}

func isAbstract(def *language.Definition) bool {
	return def != nil && (def.Kind == language.Interface || def.Kind == language.Union)
}

// EnsureField appends an unaliased selection of name to set unless one is
// already there.
func EnsureField(set language.SelectionSet, name string) language.SelectionSet {
	if containsField(set, name, "") {
		return set
	}
	return append(set, &language.Field{Name: name})
}

// HasField reports whether set selects name directly, with or without alias.
func HasField(set language.SelectionSet, name string) bool {
	for _, sel := range set {
		if f, ok := sel.(*language.Field); ok && f.Name == name {
			return true
		}
	}
	return false
}
