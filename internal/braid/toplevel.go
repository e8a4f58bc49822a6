package braid

import (
	"context"
	"strconv"

	language "github.com/hanpama/braid/internal/language"
	"github.com/hanpama/braid/internal/link"
	"github.com/hanpama/braid/internal/rewrite"
)

// TopLevelFieldTransformation forwards a root field of the composed schema
// to the backend that owns it.
type TopLevelFieldTransformation struct {
	// Schema is the composed schema the request was validated against.
	Schema *language.Schema
	Links  rewrite.LinkLookup
	// Extensions whose join field must be fetched along with the result.
	Extensions []link.Extension
	Renames    []link.FieldRename
}

func (t *TopLevelFieldTransformation) Resolve(context.Context, *Request) ([]ArgumentValues, error) {
	return []ArgumentValues{nil}, nil
}

func (t *TopLevelFieldTransformation) Apply(req *Request, _ []ArgumentValues, fc *Context) ([]*language.Field, error) {
	n := fc.Next()
	f := requestField(req)
	f.Alias = f.Name + strconv.Itoa(n)

	trim := rewrite.Trim{Schema: t.Schema, Links: t.Links, Fragments: req.Operation.Fragments}
	frags, err := trim.TrimSelection(t.Schema.Types[req.ParentType], f, false)
	if err != nil {
		return nil, err
	}
	addExtensionKeys(t.Schema, language.NamedType(req.ReturnType), f, frags, t.Extensions)
	if err := rewrite.Namespace(f, frags, n, req.Operation.Definition, req.Operation.Variables, fc); err != nil {
		return nil, err
	}
	f.Name = t.sourceName(f.Name)
	f.Definition = nil
	fc.AddFragments(frags...)
	return []*language.Field{f}, nil
}

// Unapply returns res unchanged. The response key is the alias, so renaming
// the field is invisible to the caller.
func (t *TopLevelFieldTransformation) Unapply(_ *Request, res Result) Result { return res }

func (t *TopLevelFieldTransformation) sourceName(name string) string {
	for _, r := range t.Renames {
		if r.BraidName == name {
			return r.SourceName
		}
	}
	return name
}
