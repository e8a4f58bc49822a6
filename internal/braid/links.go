package braid

import (
	"context"
	"strconv"

	"golang.org/x/sync/errgroup"

	language "github.com/hanpama/braid/internal/language"
	"github.com/hanpama/braid/internal/link"
	"github.com/hanpama/braid/internal/rewrite"
)

// LinkTransformation resolves a link field by calling the target backend's
// top-level query field with arguments taken from the source object.
type LinkTransformation struct {
	Link *link.Link
	// Schema is the composed schema.
	Schema *language.Schema
	// Target is the schema of the link's target backend.
	Target     *language.Schema
	Links      rewrite.LinkLookup
	Extensions []link.Extension
	// Provider resolves complex link arguments. Nil means
	// DefaultArgumentValueProvider.
	Provider ArgumentValueProvider
}

func (t *LinkTransformation) provider() ArgumentValueProvider {
	if t.Provider != nil {
		return t.Provider
	}
	return DefaultArgumentValueProvider{}
}

// Resolve returns one set of values per remote field. A simple link over a
// list-valued source field fans out into one field per element.
func (t *LinkTransformation) Resolve(ctx context.Context, req *Request) ([]ArgumentValues, error) {
	if arg, ok := t.Link.SimpleArgument(); ok {
		v := fieldValue(req.Source, arg.SourceName)
		if ids, isList := v.([]any); isList {
			out := make([]ArgumentValues, len(ids))
			for i, id := range ids {
				out[i] = ArgumentValues{{Argument: arg, Value: id}}
			}
			return out, nil
		}
		if v == nil && req.isList() {
			return nil, nil
		}
		return []ArgumentValues{{{Argument: arg, Value: v}}}, nil
	}

	args := t.Link.Arguments()
	values := make(ArgumentValues, len(args))
	g, gctx := errgroup.WithContext(ctx)
	for i, arg := range args {
		g.Go(func() error {
			v, err := t.provider().ValueForArgument(gctx, arg, req)
			if err != nil {
				return err
			}
			values[i] = ArgumentValue{Argument: arg, Value: v}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return []ArgumentValues{values}, nil
}

func (t *LinkTransformation) Apply(req *Request, values []ArgumentValues, fc *Context) ([]*language.Field, error) {
	target, err := rootField(t.Target, req.Operation.Kind, t.Link.TopLevelQueryField())
	if err != nil {
		return nil, err
	}
	out := make([]*language.Field, 0, len(values))
	for _, vals := range values {
		n := fc.Next()
		f := requestField(req)
		f.Alias = f.Name + strconv.Itoa(n)
		key := FieldKey(f.Alias)

		if nullArgument(vals) {
			fc.ShortCircuit(key, nil)
			out = append(out, f)
			continue
		}
		if data, ok := t.matchingData(f.SelectionSet, vals); ok {
			fc.ShortCircuit(key, data)
			out = append(out, f)
			continue
		}

		trim := rewrite.Trim{Schema: t.Schema, Links: t.Links, Fragments: req.Operation.Fragments}
		frags, err := trim.TrimSelection(t.Schema.Types[req.ParentType], f, true)
		if err != nil {
			return nil, err
		}
		addExtensionKeys(t.Schema, t.Link.TargetType(), f, frags, t.Extensions)
		f.Arguments = nil
		if err := rewrite.Namespace(f, frags, n, req.Operation.Definition, req.Operation.Variables, fc); err != nil {
			return nil, err
		}
		fc.AddFragments(frags...)

		resolved := make([]ResolvedArgument, 0, len(vals))
		argSuffix := fc.Next()
		for _, v := range vals {
			ra, err := resolveArgument(v, argSuffix, target)
			if err != nil {
				return nil, err
			}
			if err := fc.AddVariable(ra.Definition, ra.Value); err != nil {
				return nil, err
			}
			resolved = append(resolved, ra)
		}

		if custom := t.Link.Custom(); custom != nil {
			args := make(map[string]any, len(resolved))
			for _, ra := range resolved {
				args[ra.Link.QueryArgumentName] = ra.Value
			}
			alias := f.Alias
			f = custom.CreateQuery(f, args)
			f.Alias = alias
		} else {
			f.Name = t.Link.TopLevelQueryField()
			for _, ra := range resolved {
				f.Arguments = append(f.Arguments, ra.Argument)
			}
		}
		f.Definition = nil
		out = append(out, f)
	}
	return out, nil
}

// Unapply restores the list shape of a fanned-out simple link and hands the
// value to the custom transformation, if any.
func (t *LinkTransformation) Unapply(req *Request, res Result) Result {
	if arg, ok := t.Link.SimpleArgument(); ok && req.isList() {
		if _, isList := fieldValue(req.Source, arg.SourceName).([]any); isList {
			if _, already := res.Data.([]any); !already {
				res.Data = []any{res.Data}
			}
		}
	}
	custom := t.Link.Custom()
	if custom == nil {
		return res
	}
	errs := make([]error, len(res.Errors))
	for i, e := range res.Errors {
		errs[i] = e
	}
	data, errs := custom.Unapply(req.Field(), res.Data, errs)
	out := Result{Data: data}
	for _, err := range errs {
		out.Errors = append(out.Errors, asError(err))
	}
	return out
}

func nullArgument(vals ArgumentValues) bool {
	for _, v := range vals {
		if v.Value == nil && !v.Argument.Nullable {
			return true
		}
	}
	return false
}

// matchingData builds the result of a selection made only of fields that
// mirror link argument values, keyed by response name.
func (t *LinkTransformation) matchingData(set language.SelectionSet, vals ArgumentValues) (map[string]any, bool) {
	if len(set) == 0 {
		return nil, false
	}
	data := make(map[string]any, len(set))
	for _, sel := range set {
		f, ok := sel.(*language.Field)
		if !ok || !t.Link.IsFieldMatchingArgument(f.Name) {
			return nil, false
		}
		found := false
		for _, v := range vals {
			if v.Argument.TargetFieldMatchingArgument == f.Name {
				data[language.ResponseName(f)] = v.Value
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	return data, true
}
