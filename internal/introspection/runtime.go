// Package introspection answers __schema and __type from the composed
// schema. Introspection fields never reach a backend.
package introspection

import (
	"context"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	executor "github.com/hanpama/braid/internal/executor"
)

// Wrap returns a Runtime that resolves introspection fields from s and
// delegates everything else to base. The executor schema must carry the
// introspection types, as schema.BuildFromAST does.
func Wrap(base executor.Runtime, s *ast.Schema) executor.Runtime {
	return &runtime{Runtime: base, schema: s}
}

type runtime struct {
	executor.Runtime
	schema *ast.Schema
}

func (r *runtime) ResolveSync(ctx context.Context, task executor.ResolveTask) (any, error) {
	switch src := task.Source.(type) {
	case *ast.Schema:
		return r.schemaField(task.Field), nil
	case *ast.Definition:
		return r.typeField(src, task.Field, task.Args), nil
	case *ast.Type:
		return r.typeRefField(src, task.Field, task.Args), nil
	case *ast.FieldDefinition:
		return fieldField(src, task.Field, task.Args), nil
	case *ast.ArgumentDefinition:
		return inputValueField(src.Name, src.Description, src.Type, src.DefaultValue, src.Directives, task.Field), nil
	case *ast.EnumValueDefinition:
		return enumValueField(src, task.Field), nil
	case *ast.DirectiveDefinition:
		return directiveField(src, task.Field, task.Args), nil
	case inputField:
		fd := src.FieldDefinition
		return inputValueField(fd.Name, fd.Description, fd.Type, fd.DefaultValue, fd.Directives, task.Field), nil
	}
	if r.schema.Query != nil && task.ObjectType == r.schema.Query.Name {
		switch task.Field {
		case "__schema":
			return r.schema, nil
		case "__type":
			name, _ := task.Args["name"].(string)
			if def := r.schema.Types[name]; def != nil {
				return def, nil
			}
			return nil, nil
		}
	}
	return r.Runtime.ResolveSync(ctx, task)
}

// inputField is an input object field, introspected as __InputValue.
type inputField struct{ *ast.FieldDefinition }

func (r *runtime) schemaField(field string) any {
	s := r.schema
	switch field {
	case "description":
		return optional(s.Description)
	case "types":
		names := make([]string, 0, len(s.Types))
		for name := range s.Types {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]*ast.Definition, len(names))
		for i, name := range names {
			out[i] = s.Types[name]
		}
		return out
	case "queryType":
		return s.Query
	case "mutationType":
		return s.Mutation
	case "subscriptionType":
		return s.Subscription
	case "directives":
		names := make([]string, 0, len(s.Directives))
		for name := range s.Directives {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]*ast.DirectiveDefinition, len(names))
		for i, name := range names {
			out[i] = s.Directives[name]
		}
		return out
	}
	return nil
}

func (r *runtime) typeField(def *ast.Definition, field string, args map[string]any) any {
	switch field {
	case "kind":
		return string(def.Kind)
	case "name":
		return def.Name
	case "description":
		return optional(def.Description)
	case "specifiedByURL":
		if d := def.Directives.ForName("specifiedBy"); d != nil {
			if arg := d.Arguments.ForName("url"); arg != nil && arg.Value != nil {
				return arg.Value.Raw
			}
		}
		return nil
	case "fields":
		if def.Kind != ast.Object && def.Kind != ast.Interface {
			return nil
		}
		out := []*ast.FieldDefinition{}
		for _, fd := range def.Fields {
			if strings.HasPrefix(fd.Name, "__") {
				continue
			}
			if isDeprecated(fd.Directives) && !includeDeprecated(args) {
				continue
			}
			out = append(out, fd)
		}
		return out
	case "interfaces":
		if def.Kind != ast.Object && def.Kind != ast.Interface {
			return nil
		}
		out := []*ast.Definition{}
		for _, name := range def.Interfaces {
			if iface := r.schema.Types[name]; iface != nil {
				out = append(out, iface)
			}
		}
		return out
	case "possibleTypes":
		if def.Kind != ast.Interface && def.Kind != ast.Union {
			return nil
		}
		out := append([]*ast.Definition(nil), r.schema.GetPossibleTypes(def)...)
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out
	case "enumValues":
		if def.Kind != ast.Enum {
			return nil
		}
		out := []*ast.EnumValueDefinition{}
		for _, ev := range def.EnumValues {
			if isDeprecated(ev.Directives) && !includeDeprecated(args) {
				continue
			}
			out = append(out, ev)
		}
		return out
	case "inputFields":
		if def.Kind != ast.InputObject {
			return nil
		}
		out := []inputField{}
		for _, fd := range def.Fields {
			if isDeprecated(fd.Directives) && !includeDeprecated(args) {
				continue
			}
			out = append(out, inputField{fd})
		}
		return out
	case "isOneOf":
		return def.Kind == ast.InputObject && def.Directives.ForName("oneOf") != nil
	case "ofType":
		return nil
	}
	return nil
}

// typeRefField answers __Type fields for a type reference. Wrapping types
// are LIST or NON_NULL; a bare named reference behaves as its definition.
func (r *runtime) typeRefField(t *ast.Type, field string, args map[string]any) any {
	switch {
	case t.NonNull:
		switch field {
		case "kind":
			return "NON_NULL"
		case "ofType":
			return &ast.Type{NamedType: t.NamedType, Elem: t.Elem}
		}
		return nil
	case t.Elem != nil:
		switch field {
		case "kind":
			return "LIST"
		case "ofType":
			return t.Elem
		}
		return nil
	}
	def := r.schema.Types[t.NamedType]
	if def == nil {
		return nil
	}
	return r.typeField(def, field, args)
}

func fieldField(fd *ast.FieldDefinition, field string, args map[string]any) any {
	switch field {
	case "name":
		return fd.Name
	case "description":
		return optional(fd.Description)
	case "args":
		out := []*ast.ArgumentDefinition{}
		for _, a := range fd.Arguments {
			if isDeprecated(a.Directives) && !includeDeprecated(args) {
				continue
			}
			out = append(out, a)
		}
		return out
	case "type":
		return fd.Type
	case "isDeprecated":
		return isDeprecated(fd.Directives)
	case "deprecationReason":
		return deprecationReason(fd.Directives)
	}
	return nil
}

func inputValueField(name, description string, typ *ast.Type, def *ast.Value, ds ast.DirectiveList, field string) any {
	switch field {
	case "name":
		return name
	case "description":
		return optional(description)
	case "type":
		return typ
	case "defaultValue":
		if def == nil {
			return nil
		}
		return def.String()
	case "isDeprecated":
		return isDeprecated(ds)
	case "deprecationReason":
		return deprecationReason(ds)
	}
	return nil
}

func enumValueField(ev *ast.EnumValueDefinition, field string) any {
	switch field {
	case "name":
		return ev.Name
	case "description":
		return optional(ev.Description)
	case "isDeprecated":
		return isDeprecated(ev.Directives)
	case "deprecationReason":
		return deprecationReason(ev.Directives)
	}
	return nil
}

func directiveField(d *ast.DirectiveDefinition, field string, args map[string]any) any {
	switch field {
	case "name":
		return d.Name
	case "description":
		return optional(d.Description)
	case "isRepeatable":
		return d.IsRepeatable
	case "locations":
		out := make([]string, len(d.Locations))
		for i, loc := range d.Locations {
			out[i] = string(loc)
		}
		return out
	case "args":
		out := []*ast.ArgumentDefinition{}
		for _, a := range d.Arguments {
			if isDeprecated(a.Directives) && !includeDeprecated(args) {
				continue
			}
			out = append(out, a)
		}
		return out
	}
	return nil
}

func isDeprecated(ds ast.DirectiveList) bool { return ds.ForName("deprecated") != nil }

func deprecationReason(ds ast.DirectiveList) any {
	d := ds.ForName("deprecated")
	if d == nil {
		return nil
	}
	if arg := d.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		return arg.Value.Raw
	}
	return "No longer supported"
}

func includeDeprecated(args map[string]any) bool {
	v, _ := args["includeDeprecated"].(bool)
	return v
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}
