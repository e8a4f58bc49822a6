package braid

import (
	"context"
	"fmt"
	"strconv"

	language "github.com/hanpama/braid/internal/language"
	"github.com/hanpama/braid/internal/link"
	"github.com/hanpama/braid/internal/rewrite"
)

// ExtensionTransformation fetches the fields another backend adds to a type
// with a side query keyed by the value of the extension's join field.
type ExtensionTransformation struct {
	Extension link.Extension
	// Schema is the composed schema.
	Schema *language.Schema
	// Target is the schema of Extension.By.Namespace.
	Target *language.Schema
	Links  rewrite.LinkLookup
}

func (t *ExtensionTransformation) Resolve(_ context.Context, req *Request) ([]ArgumentValues, error) {
	arg := link.Argument{
		SourceName:        t.Extension.On,
		QueryArgumentName: t.Extension.By.Arg,
		Source:            link.ObjectField,
	}
	return []ArgumentValues{{{Argument: arg, Value: fieldValue(req.Source, t.Extension.On)}}}, nil
}

// Apply selects the requested extension fields together with the fields of
// the extended type that earlier queries of the session could not fetch.
func (t *ExtensionTransformation) Apply(req *Request, values []ArgumentValues, fc *Context) ([]*language.Field, error) {
	by := t.Extension.By
	target, err := rootField(t.Target, language.Query, by.Query)
	if err != nil {
		return nil, err
	}
	n := fc.Next()
	f := &language.Field{Alias: by.Query + strconv.Itoa(n), Name: by.Query}
	if len(values) == 0 || len(values[0]) == 0 {
		return nil, fmt.Errorf("extension of %s: no value for %s", t.Extension.Type, t.Extension.On)
	}
	v := values[0][0]
	if v.Value == nil {
		fc.ShortCircuit(FieldKey(f.Alias), nil)
		return []*language.Field{f}, nil
	}

	set := t.selection(req)
	trim := rewrite.Trim{Schema: t.Schema, Links: t.Links, Fragments: req.Operation.Fragments}
	set, frags, err := trim.TrimSelectionSet(t.Schema.Types[t.Extension.Type], set)
	if err != nil {
		return nil, err
	}
	if len(set) == 0 {
		set = language.SelectionSet{&language.Field{Name: language.TypenameField}}
	}
	f.SelectionSet = set
	if err := rewrite.Namespace(f, frags, n, req.Operation.Definition, req.Operation.Variables, fc); err != nil {
		return nil, err
	}
	fc.AddFragments(frags...)

	ra, err := resolveArgument(v, fc.Next(), target)
	if err != nil {
		return nil, err
	}
	if err := fc.AddVariable(ra.Definition, ra.Value); err != nil {
		return nil, err
	}
	f.Arguments = language.ArgumentList{ra.Argument}
	return []*language.Field{f}, nil
}

func (t *ExtensionTransformation) Unapply(_ *Request, res Result) Result { return res }

// selection returns clones of the requested fields followed by the missing
// fields the target type declares.
func (t *ExtensionTransformation) selection(req *Request) language.SelectionSet {
	var fields []*language.Field
	for _, f := range req.Fields {
		fields = appendUnique(fields, []*language.Field{f})
	}
	var owned *language.Definition
	if t.Target != nil {
		owned = t.Target.Types[t.Extension.By.Type]
	}
	if owned != nil {
		var missing []*language.Field
		for _, f := range req.Session.MissingFields(t.Extension.Type) {
			if owned.Fields.ForName(f.Name) != nil {
				missing = append(missing, f)
			}
		}
		fields = appendUnique(fields, missing)
	}
	set := make(language.SelectionSet, len(fields))
	for i, f := range fields {
		set[i] = rewrite.CloneField(f)
	}
	return set
}
