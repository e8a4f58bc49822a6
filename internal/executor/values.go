package executor

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"

	language "github.com/hanpama/braid/internal/language"
	schema "github.com/hanpama/braid/internal/schema"
)

var errNull = errors.New("null for non-null type")

// coerceVariables coerces the request variables of op. A missing variable
// without default is left out, so arguments fall back to their own
// defaults.
func coerceVariables(s *schema.Schema, op *language.OperationDefinition, raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(op.VariableDefinitions))
	for _, def := range op.VariableDefinitions {
		v, ok := raw[def.Variable]
		if !ok {
			switch {
			case def.DefaultValue != nil:
				v = literal(def.DefaultValue, nil)
			case def.Type.NonNull:
				return nil, fmt.Errorf("variable $%s of required type %s was not provided", def.Variable, def.Type)
			default:
				continue
			}
		}
		c, err := coerceInput(s, v, schema.BuildTypeRef(def.Type))
		if err != nil {
			return nil, fmt.Errorf("variable $%s of type %s: %w", def.Variable, def.Type, err)
		}
		out[def.Variable] = c
	}
	return out, nil
}

// coerceArguments coerces the arguments of one field. Failures are
// recorded at path and leave the argument out.
func (s *executionState) coerceArguments(def *schema.Field, args language.ArgumentList, path Path) map[string]any {
	out := make(map[string]any, len(def.Arguments))
	for _, ad := range def.Arguments {
		var (
			v       any
			present bool
		)
		if arg := args.ForName(ad.Name); arg != nil && arg.Value != nil {
			if arg.Value.Kind == language.Variable {
				v, present = s.variables[arg.Value.Raw]
			} else {
				v, present = literal(arg.Value, s.variables), true
			}
		}
		if !present {
			switch {
			case ad.DefaultValue != nil:
				v = ad.DefaultValue
			case ad.Type.IsNonNull():
				s.addError(fmt.Sprintf("argument %q of required type was not provided", ad.Name), path)
				continue
			default:
				continue
			}
		}
		c, err := coerceInput(s.schema, v, ad.Type)
		if err != nil {
			s.addError(fmt.Sprintf("argument %q: %v", ad.Name, err), path)
			continue
		}
		out[ad.Name] = c
	}
	return out
}

// literal converts an AST value, substituting variables. Integers that fit
// become int.
func literal(v *language.Value, vars map[string]any) any {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case language.Variable:
		return vars[v.Raw]
	case language.IntValue:
		if i, err := strconv.Atoi(v.Raw); err == nil {
			return i
		}
		f, _ := strconv.ParseFloat(v.Raw, 64)
		return f
	case language.FloatValue:
		f, _ := strconv.ParseFloat(v.Raw, 64)
		return f
	case language.StringValue, language.BlockValue, language.EnumValue:
		return v.Raw
	case language.BooleanValue:
		return v.Raw == "true"
	case language.ListValue:
		out := make([]any, len(v.Children))
		for i, c := range v.Children {
			out[i] = literal(c.Value, vars)
		}
		return out
	case language.ObjectValue:
		out := make(map[string]any, len(v.Children))
		for _, c := range v.Children {
			out[c.Name] = literal(c.Value, vars)
		}
		return out
	}
	return nil
}

// coerceInput coerces an input value to t. A single value given for a list
// becomes a list of one.
func coerceInput(s *schema.Schema, v any, t *schema.TypeRef) (any, error) {
	if t.IsNonNull() {
		if v == nil {
			return nil, errNull
		}
		return coerceInput(s, v, t.OfType)
	}
	if v == nil {
		return nil, nil
	}
	if t.Kind == schema.TypeRefKindList {
		items, ok := v.([]any)
		if !ok {
			items = []any{v}
		}
		out := make([]any, len(items))
		for i, item := range items {
			c, err := coerceInput(s, item, t.OfType)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = c
		}
		return out, nil
	}

	named := s.Types[t.Named]
	if named == nil {
		return coerceScalar(t.Named, v)
	}
	switch named.Kind {
	case schema.TypeKindEnum:
		name, _ := v.(string)
		for _, ev := range named.EnumValues {
			if ev.Name == name {
				return name, nil
			}
		}
		return nil, fmt.Errorf("%v is not a value of %s", v, named.Name)
	case schema.TypeKindInputObject:
		return coerceObject(s, v, named)
	}
	return coerceScalar(named.Name, v)
}

func coerceObject(s *schema.Schema, v any, def *schema.Type) (any, error) {
	in, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an object, got %T", def.Name, v)
	}
	known := make(map[string]bool, len(def.InputFields))
	out := make(map[string]any, len(in))
	for _, f := range def.InputFields {
		known[f.Name] = true
		fv, ok := in[f.Name]
		if !ok {
			switch {
			case f.DefaultValue != nil:
				fv = f.DefaultValue
			case f.Type.IsNonNull():
				return nil, fmt.Errorf("field %s.%s of required type was not provided", def.Name, f.Name)
			default:
				continue
			}
		}
		c, err := coerceInput(s, fv, f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", def.Name, f.Name, err)
		}
		out[f.Name] = c
	}
	for _, k := range slices.Sorted(maps.Keys(in)) {
		if !known[k] {
			return nil, fmt.Errorf("unknown field %s.%s", def.Name, k)
		}
	}
	return out, nil
}

// coerceScalar coerces built-in scalars. Custom scalars pass through.
func coerceScalar(name string, v any) (any, error) {
	switch name {
	case "Int":
		switch n := v.(type) {
		case int:
			return n, nil
		case int32:
			return int(n), nil
		case int64:
			if n >= math.MinInt32 && n <= math.MaxInt32 {
				return int(n), nil
			}
		case float64:
			if n == math.Trunc(n) && n >= math.MinInt32 && n <= math.MaxInt32 {
				return int(n), nil
			}
		}
	case "Float":
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case "String":
		if str, ok := v.(string); ok {
			return str, nil
		}
	case "Boolean":
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case "ID":
		switch id := v.(type) {
		case string:
			return id, nil
		case int:
			return strconv.Itoa(id), nil
		case int64:
			return strconv.FormatInt(id, 10), nil
		case float64:
			if id == math.Trunc(id) {
				return strconv.FormatFloat(id, 'f', -1, 64), nil
			}
		}
	default:
		return v, nil
	}
	return nil, fmt.Errorf("cannot use %v (%T) as %s", v, v, name)
}
