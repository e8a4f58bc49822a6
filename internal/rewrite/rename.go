package rewrite

import (
	language "github.com/hanpama/braid/internal/language"
)

// RenameTypes rewrites the type names a document mentions: fragment type
// conditions and variable types. toSource maps a composed name to the
// backend's name.
func RenameTypes(doc *language.QueryDocument, toSource func(string) string) {
	for _, op := range doc.Operations {
		for _, vd := range op.VariableDefinitions {
			renameType(vd.Type, toSource)
		}
		renameSelectionTypes(op.SelectionSet, toSource)
	}
	for _, fd := range doc.Fragments {
		fd.TypeCondition = toSource(fd.TypeCondition)
		renameSelectionTypes(fd.SelectionSet, toSource)
	}
}

func renameSelectionTypes(set language.SelectionSet, toSource func(string) string) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			renameSelectionTypes(s.SelectionSet, toSource)
		case *language.InlineFragment:
			if s.TypeCondition != "" {
				s.TypeCondition = toSource(s.TypeCondition)
			}
			renameSelectionTypes(s.SelectionSet, toSource)
		}
	}
}

func renameType(t *language.Type, toSource func(string) string) {
	for ; t != nil; t = t.Elem {
		if t.NamedType != "" {
			t.NamedType = toSource(t.NamedType)
		}
	}
}

// RemoveUnknownFields drops every field the backend schema does not declare
// on its parent type. Removed fields are returned keyed by the composed name
// of their parent type, deduplicated by response name. A selection set left
// empty gets __typename so the document stays valid.
func RemoveUnknownFields(doc *language.QueryDocument, backend *language.Schema, toBraid func(string) string) map[string][]*language.Field {
	r := &remover{schema: backend, toBraid: toBraid, removed: map[string][]*language.Field{}}
	for _, op := range doc.Operations {
		var root *language.Definition
		switch op.Operation {
		case language.Mutation:
			root = backend.Mutation
		case language.Subscription:
			root = backend.Subscription
		default:
			root = backend.Query
		}
		op.SelectionSet = r.selectionSet(root, op.SelectionSet, false)
	}
	for _, fd := range doc.Fragments {
		fd.SelectionSet = r.selectionSet(backend.Types[fd.TypeCondition], fd.SelectionSet, true)
	}
	return r.removed
}

type remover struct {
	schema  *language.Schema
	toBraid func(string) string
	removed map[string][]*language.Field
}

func (r *remover) selectionSet(parent *language.Definition, set language.SelectionSet, keepNonEmpty bool) language.SelectionSet {
	if parent == nil {
		return set
	}
	out := make(language.SelectionSet, 0, len(set))
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			if s.Name == language.TypenameField {
				out = append(out, s)
				continue
			}
			fd := parent.Fields.ForName(s.Name)
			if fd == nil {
				r.record(parent.Name, s)
				continue
			}
			if len(s.SelectionSet) > 0 {
				s.SelectionSet = r.selectionSet(r.schema.Types[language.NamedType(fd.Type)], s.SelectionSet, true)
			}
			out = append(out, s)
		case *language.InlineFragment:
			cond := parent
			if s.TypeCondition != "" {
				cond = r.schema.Types[s.TypeCondition]
			}
			if cond == nil {
				continue
			}
			s.SelectionSet = r.selectionSet(cond, s.SelectionSet, true)
			out = append(out, s)
		default:
			out = append(out, sel)
		}
	}
	if keepNonEmpty && len(out) == 0 {
		out = append(out, &language.Field{Name: language.TypenameField})
	}
	return out
}

func (r *remover) record(typeName string, f *language.Field) {
	name := r.toBraid(typeName)
	for _, existing := range r.removed[name] {
		if language.ResponseName(existing) == language.ResponseName(f) {
			return
		}
	}
	r.removed[name] = append(r.removed[name], f)
}

// FragmentClosure returns the fragments reachable from set, in discovery
// order, looking names up in defs.
func FragmentClosure(set language.SelectionSet, defs language.FragmentDefinitionList) []*language.FragmentDefinition {
	seen := map[string]bool{}
	var out []*language.FragmentDefinition
	var walk func(language.SelectionSet)
	walk = func(set language.SelectionSet) {
		for _, sel := range set {
			switch s := sel.(type) {
			case *language.Field:
				walk(s.SelectionSet)
			case *language.InlineFragment:
				walk(s.SelectionSet)
			case *language.FragmentSpread:
				if seen[s.Name] {
					continue
				}
				seen[s.Name] = true
				if fd := defs.ForName(s.Name); fd != nil {
					out = append(out, fd)
					walk(fd.SelectionSet)
				}
			}
		}
	}
	walk(set)
	return out
}
