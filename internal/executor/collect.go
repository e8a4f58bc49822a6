package executor

import (
	"slices"

	language "github.com/hanpama/braid/internal/language"
	schema "github.com/hanpama/braid/internal/schema"
)

// fieldGroup is every field node merged under one response name.
type fieldGroup struct {
	responseName string
	fields       []*language.Field
}

type collector struct {
	state   *executionState
	groups  []fieldGroup
	index   map[string]int
	visited map[string]bool
}

// collectFields groups the selections that apply to objectType by
// response name, in document order.
func collectFields(s *executionState, objectType *schema.Type, set language.SelectionSet) []fieldGroup {
	c := &collector{state: s, index: map[string]int{}, visited: map[string]bool{}}
	c.collect(objectType, set)
	return c.groups
}

func (c *collector) collect(objectType *schema.Type, set language.SelectionSet) {
	for _, sel := range set {
		switch sel := sel.(type) {
		case *language.Field:
			if c.state.included(sel.Directives) {
				c.add(language.ResponseName(sel), sel)
			}
		case *language.InlineFragment:
			if c.state.included(sel.Directives) && c.state.applies(sel.TypeCondition, objectType) {
				c.collect(objectType, sel.SelectionSet)
			}
		case *language.FragmentSpread:
			if !c.state.included(sel.Directives) || c.visited[sel.Name] {
				continue
			}
			c.visited[sel.Name] = true
			def := c.state.document.Fragments.ForName(sel.Name)
			if def == nil || !c.state.included(def.Directives) || !c.state.applies(def.TypeCondition, objectType) {
				continue
			}
			c.collect(objectType, def.SelectionSet)
		}
	}
}

func (c *collector) add(responseName string, f *language.Field) {
	if i, ok := c.index[responseName]; ok {
		c.groups[i].fields = append(c.groups[i].fields, f)
		return
	}
	c.index[responseName] = len(c.groups)
	c.groups = append(c.groups, fieldGroup{responseName: responseName, fields: []*language.Field{f}})
}

// applies reports whether a fragment typed on condition applies to
// objectType.
func (s *executionState) applies(condition string, objectType *schema.Type) bool {
	if condition == "" || condition == objectType.Name {
		return true
	}
	t := s.schema.Types[condition]
	if t == nil {
		return false
	}
	switch t.Kind {
	case schema.TypeKindInterface:
		return slices.Contains(objectType.Interfaces, condition) || slices.Contains(t.PossibleTypes, objectType.Name)
	case schema.TypeKindUnion:
		return slices.Contains(t.PossibleTypes, objectType.Name)
	}
	return false
}

// included evaluates @skip and @include.
func (s *executionState) included(ds language.DirectiveList) bool {
	if d := ds.ForName("skip"); d != nil && s.condition(d) {
		return false
	}
	if d := ds.ForName("include"); d != nil && !s.condition(d) {
		return false
	}
	return true
}

func (s *executionState) condition(d *language.Directive) bool {
	arg := d.Arguments.ForName("if")
	if arg == nil {
		return false
	}
	v, _ := literal(arg.Value, s.variables).(bool)
	return v
}

func mergeSelectionSets(fields []*language.Field) language.SelectionSet {
	if len(fields) == 1 {
		return fields[0].SelectionSet
	}
	var merged language.SelectionSet
	for _, f := range fields {
		merged = append(merged, f.SelectionSet...)
	}
	return merged
}
