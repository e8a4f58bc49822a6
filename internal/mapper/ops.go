// Package mapper reshapes an outgoing query per type and produces the inverse
// function that reshapes the backend's result into what the caller asked for.
package mapper

// Operation reads one object level of a backend result and writes the
// matching level of the caller's result.
type Operation func(input, output map[string]any)

// Noop writes nothing.
func Noop(map[string]any, map[string]any) {}

// Identity copies every key of input.
func Identity(input, output map[string]any) {
	for k, v := range input {
		output[k] = v
	}
}

// Compose applies ops in order on the same input and output.
func Compose(ops ...Operation) Operation {
	switch len(ops) {
	case 0:
		return Noop
	case 1:
		return ops[0]
	}
	return func(input, output map[string]any) {
		for _, op := range ops {
			op(input, output)
		}
	}
}

// Copy writes input[src] to output[dst] when src is present.
func Copy(src, dst string) Operation {
	return func(input, output map[string]any) {
		if v, ok := input[src]; ok {
			output[dst] = v
		}
	}
}

// Put writes a constant.
func Put(key string, value any) Operation {
	return func(_, output map[string]any) {
		output[key] = value
	}
}

// Object maps the nested object under key with ops. Lists, including nested
// lists, are mapped element by element. Null is kept as null.
func Object(key string, ops ...Operation) Operation {
	op := Compose(ops...)
	return func(input, output map[string]any) {
		v, ok := input[key]
		if !ok {
			return
		}
		output[key] = mapValue(v, op)
	}
}

// List maps each element of the list under key with ops. A value that is not
// a list is copied unchanged.
func List(key string, ops ...Operation) Operation {
	op := Compose(ops...)
	return func(input, output map[string]any) {
		v, ok := input[key]
		if !ok {
			return
		}
		if _, isList := v.([]any); !isList {
			output[key] = v
			return
		}
		output[key] = mapValue(v, op)
	}
}

// Path reads the value at path below input[key], maps it with ops, and
// writes it to output[key]. A missing or null step yields null.
func Path(key string, path []string, ops ...Operation) Operation {
	op := Compose(ops...)
	return func(input, output map[string]any) {
		v, ok := input[key]
		if !ok {
			return
		}
		output[key] = mapValue(dig(v, path), op)
	}
}

func dig(v any, path []string) any {
	for _, p := range path {
		switch t := v.(type) {
		case map[string]any:
			v = t[p]
		case []any:
			out := make([]any, len(t))
			for i, e := range t {
				out[i] = dig(e, []string{p})
			}
			v = out
		default:
			return nil
		}
	}
	return v
}

func mapValue(v any, op Operation) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		op(t, out)
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = mapValue(e, op)
		}
		return out
	default:
		return v
	}
}
