package rewrite

import (
	language "github.com/hanpama/braid/internal/language"
)

// PruneVariables drops the variable definitions of op that nothing in op or
// fragments references any more, and deletes their values from vars.
func PruneVariables(op *language.OperationDefinition, fragments language.FragmentDefinitionList, vars map[string]any) {
	used := map[string]bool{}
	collectSelectionVariables(op.SelectionSet, used)
	collectDirectiveVariables(op.Directives, used)
	for _, fd := range fragments {
		collectDirectiveVariables(fd.Directives, used)
		collectSelectionVariables(fd.SelectionSet, used)
	}
	kept := op.VariableDefinitions[:0]
	for _, vd := range op.VariableDefinitions {
		if used[vd.Variable] {
			kept = append(kept, vd)
			continue
		}
		delete(vars, vd.Variable)
	}
	op.VariableDefinitions = kept
}

func collectSelectionVariables(set language.SelectionSet, used map[string]bool) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			for _, a := range s.Arguments {
				collectValueVariables(a.Value, used)
			}
			collectDirectiveVariables(s.Directives, used)
			collectSelectionVariables(s.SelectionSet, used)
		case *language.InlineFragment:
			collectDirectiveVariables(s.Directives, used)
			collectSelectionVariables(s.SelectionSet, used)
		case *language.FragmentSpread:
			collectDirectiveVariables(s.Directives, used)
		}
	}
}

func collectDirectiveVariables(ds language.DirectiveList, used map[string]bool) {
	for _, d := range ds {
		for _, a := range d.Arguments {
			collectValueVariables(a.Value, used)
		}
	}
}

func collectValueVariables(v *language.Value, used map[string]bool) {
	if v == nil {
		return
	}
	if v.Kind == language.Variable {
		used[v.Raw] = true
		return
	}
	for _, c := range v.Children {
		collectValueVariables(c.Value, used)
	}
}
