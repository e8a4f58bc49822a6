package executor

import (
	"fmt"
	"reflect"

	language "github.com/hanpama/braid/internal/language"
	schema "github.com/hanpama/braid/internal/schema"
)

// completeValue shapes a resolved value by its declared type. anchor is
// where a null lands when a Non-Null value turns out null; the position is
// recorded so queued fields below it are dropped.
func (s *executionState) completeValue(t *schema.TypeRef, fields []*language.Field, v any, path, anchor Path) any {
	if t.IsNonNull() {
		if isNullish(v) {
			if !s.hasErrorAt(path) {
				s.addError(fmt.Sprintf("Cannot return null for non-nullable field %s", path), path)
			}
			s.markNulled(anchor)
			return nil
		}
		c := s.completeValue(t.OfType, fields, v, path, anchor)
		if isNullish(c) {
			s.markNulled(anchor)
			return nil
		}
		return c
	}
	if isNullish(v) {
		return nil
	}
	if t.Kind == schema.TypeRefKindList {
		return s.completeList(t.OfType, fields, v, path, anchor)
	}

	named := s.schema.Types[t.Named]
	if named == nil {
		s.addError(fmt.Sprintf("Unknown type %s", t.Named), path)
		return nil
	}
	switch named.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		out, err := s.runtime.SerializeLeafValue(s.ctx, named.Name, v)
		if err != nil {
			s.addError(err.Error(), path)
			return nil
		}
		return out
	case schema.TypeKindObject:
		return s.completeObject(named, fields, v, path, anchor)
	case schema.TypeKindInterface, schema.TypeKindUnion:
		return s.completeAbstract(named, fields, v, path, anchor)
	}
	s.addError(fmt.Sprintf("Cannot complete value of type %s", named.Name), path)
	return nil
}

func (s *executionState) completeList(inner *schema.TypeRef, fields []*language.Field, v any, path, anchor Path) any {
	items, ok := v.([]any)
	if !ok {
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			s.addError(fmt.Sprintf("Expected a list, got %T", v), path)
			return nil
		}
		items = make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
	}

	out := make([]any, len(items))
	for i, item := range items {
		p := appendPath(path, i)
		itemAnchor := p
		if inner.IsNonNull() {
			itemAnchor = anchor
		}
		c := s.completeValue(inner, fields, item, p, itemAnchor)
		if isNullish(c) {
			if inner.IsNonNull() {
				return nil
			}
			c = nil
		}
		out[i] = c
	}
	return out
}

func (s *executionState) completeObject(objectType *schema.Type, fields []*language.Field, v any, path, anchor Path) any {
	out := s.executeSelectionSet(objectType, mergeSelectionSets(fields), v, path, anchor)
	if out == nil {
		return nil
	}
	return out
}

func (s *executionState) completeAbstract(abstract *schema.Type, fields []*language.Field, v any, path, anchor Path) any {
	var err error
	if abstract.Kind == schema.TypeKindUnion {
		v, err = s.runtime.ResolveUnionConcreteValue(s.ctx, abstract.Name, v)
	} else {
		v, err = s.runtime.ResolveInterfaceConcreteValue(s.ctx, abstract.Name, v)
	}
	if err != nil {
		s.addError(err.Error(), path)
		return nil
	}
	name, err := s.runtime.ResolveType(s.ctx, abstract.Name, v)
	if err != nil {
		s.addError(err.Error(), path)
		return nil
	}
	concrete := s.schema.Types[name]
	if concrete == nil || concrete.Kind != schema.TypeKindObject {
		s.addError(fmt.Sprintf("Abstract type %s must resolve to an object type at runtime, got %q", abstract.Name, name), path)
		return nil
	}
	return s.completeObject(concrete, fields, v, path, anchor)
}
