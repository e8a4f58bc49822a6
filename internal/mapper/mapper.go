package mapper

import (
	"fmt"

	language "github.com/hanpama/braid/internal/language"
)

// TypeMapper rewrites the selections made on one object type.
type TypeMapper interface {
	TypeName() string
	// Apply maps set, the selection set of a value of this type. The
	// returned operation works on one object of the type.
	Apply(ctx *Context, set language.SelectionSet) (Result, error)
}

// Result is the mapping of one or more sibling selections.
type Result struct {
	Selections language.SelectionSet
	Ops        []Operation
}

// Merge concatenates r and o. Merge is associative, so partial results can
// be folded in any grouping.
func (r Result) Merge(o Result) Result {
	return Result{
		Selections: append(append(language.SelectionSet{}, r.Selections...), o.Selections...),
		Ops:        append(append([]Operation{}, r.Ops...), o.Ops...),
	}
}

// Op composes the result's operations.
func (r Result) Op() Operation { return Compose(r.Ops...) }

// MappedDocument is a rewritten document and the function that maps the
// backend's data back to the shape of the original document.
type MappedDocument struct {
	Document     *language.QueryDocument
	ResultMapper func(map[string]any) map[string]any
}

// Context tracks the position of a selection being mapped.
type Context struct {
	schema    *language.Schema
	mappers   map[string]TypeMapper
	fragments language.FragmentDefinitionList

	typ    *language.Definition
	path   []string
	inList bool
}

// Type is the object type selections are currently made on.
func (c *Context) Type() *language.Definition { return c.typ }

// Path is the chain of response names from the nearest list boundary.
func (c *Context) Path() []string { return append([]string(nil), c.path...) }

// InList reports whether the current value is an element of a list.
func (c *Context) InList() bool { return c.inList }

func (c *Context) with(typ *language.Definition, path []string, inList bool) *Context {
	return &Context{schema: c.schema, mappers: c.mappers, fragments: c.fragments, typ: typ, path: path, inList: inList}
}

// ForField returns the context of f's value. A field the schema does not
// declare yields an untyped context whose selections map with default rules.
func (c *Context) ForField(f *language.Field) *Context {
	var fd *language.FieldDefinition
	if c.typ != nil {
		fd = c.typ.Fields.ForName(f.Name)
	}
	if fd == nil {
		return c.with(nil, append(c.Path(), language.ResponseName(f)), false)
	}
	typ := c.schema.Types[language.NamedType(fd.Type)]
	if language.IsListType(fd.Type) {
		return c.with(typ, nil, true)
	}
	return c.with(typ, append(c.Path(), language.ResponseName(f)), false)
}

func (c *Context) forTypeCondition(cond string) *Context {
	if cond == "" {
		return c
	}
	return c.with(c.schema.Types[cond], c.path, c.inList)
}

// MapSelectionSet maps set on the current type, using the registered
// mapper for the type when there is one.
func (c *Context) MapSelectionSet(set language.SelectionSet) (Result, error) {
	if c.typ != nil {
		if tm, ok := c.mappers[c.typ.Name]; ok {
			return tm.Apply(c, set)
		}
	}
	return c.MapDefault(set)
}

// MapDefault maps set selection by selection without consulting the type
// mapper of the current type. Type mappers call it for selections they do
// not rewrite.
func (c *Context) MapDefault(set language.SelectionSet) (Result, error) {
	var res Result
	for _, sel := range set {
		r, err := c.MapSelection(sel)
		if err != nil {
			return Result{}, err
		}
		res = res.Merge(r)
	}
	return res, nil
}

// MapSelection maps one selection with default rules.
func (c *Context) MapSelection(sel language.Selection) (Result, error) {
	switch s := sel.(type) {
	case *language.Field:
		key := language.ResponseName(s)
		if len(s.SelectionSet) == 0 {
			return Result{Selections: language.SelectionSet{s}, Ops: []Operation{Copy(key, key)}}, nil
		}
		fc := c.ForField(s)
		child, err := fc.MapSelectionSet(s.SelectionSet)
		if err != nil {
			return Result{}, err
		}
		out := *s
		out.SelectionSet = child.Selections
		if fc.InList() {
			return Result{Selections: language.SelectionSet{&out}, Ops: []Operation{List(key, child.Ops...)}}, nil
		}
		return Result{Selections: language.SelectionSet{&out}, Ops: []Operation{Object(key, child.Ops...)}}, nil
	case *language.InlineFragment:
		child, err := c.forTypeCondition(s.TypeCondition).MapSelectionSet(s.SelectionSet)
		if err != nil {
			return Result{}, err
		}
		out := *s
		out.SelectionSet = child.Selections
		return Result{Selections: language.SelectionSet{&out}, Ops: child.Ops}, nil
	case *language.FragmentSpread:
		fd := c.fragments.ForName(s.Name)
		if fd == nil {
			return Result{}, fmt.Errorf("fragment %q is not defined", s.Name)
		}
		child, err := c.forTypeCondition(fd.TypeCondition).MapSelectionSet(fd.SelectionSet)
		if err != nil {
			return Result{}, err
		}
		return Result{Selections: language.SelectionSet{s}, Ops: child.Ops}, nil
	}
	return Result{}, fmt.Errorf("unknown selection %T", sel)
}

// Mapper maps whole documents against one schema.
type Mapper struct {
	schema  *language.Schema
	mappers map[string]TypeMapper
}

func New(schema *language.Schema, mappers ...TypeMapper) *Mapper {
	m := &Mapper{schema: schema, mappers: map[string]TypeMapper{}}
	for _, tm := range mappers {
		m.mappers[tm.TypeName()] = tm
	}
	return m
}

// MapDocument rewrites doc, which must hold a single operation. Root keys
// of the data that no root selection produced are passed through.
func (m *Mapper) MapDocument(doc *language.QueryDocument) (*MappedDocument, error) {
	if len(doc.Operations) != 1 {
		return nil, fmt.Errorf("expected one operation, got %d", len(doc.Operations))
	}
	op := doc.Operations[0]
	root := &Context{schema: m.schema, mappers: m.mappers, fragments: doc.Fragments}

	rootType := m.schema.Query
	if op.Operation == language.Mutation {
		rootType = m.schema.Mutation
	}
	opCtx := root.with(rootType, nil, false)

	var res Result
	for _, sel := range op.SelectionSet {
		r, err := opCtx.MapSelectionSet(language.SelectionSet{sel})
		if err != nil {
			return nil, err
		}
		res = res.Merge(r)
	}

	out := &language.QueryDocument{}
	mappedOp := *op
	mappedOp.SelectionSet = res.Selections
	out.Operations = language.OperationList{&mappedOp}
	for _, fd := range doc.Fragments {
		fr, err := root.with(m.schema.Types[fd.TypeCondition], nil, false).MapSelectionSet(fd.SelectionSet)
		if err != nil {
			return nil, err
		}
		mappedFd := *fd
		mappedFd.SelectionSet = fr.Selections
		out.Fragments = append(out.Fragments, &mappedFd)
	}

	produced := map[string]bool{}
	for _, sel := range op.SelectionSet {
		if f, ok := sel.(*language.Field); ok {
			produced[language.ResponseName(f)] = true
		}
	}
	rootOp := res.Op()
	return &MappedDocument{
		Document: out,
		ResultMapper: func(data map[string]any) map[string]any {
			if data == nil {
				return nil
			}
			result := make(map[string]any, len(data))
			rootOp(data, result)
			for k, v := range data {
				if !produced[k] {
					result[k] = v
				}
			}
			return result
		},
	}, nil
}

// FieldPath declares that a field of a type is read from a nested path of
// backend fields.
type FieldPath struct {
	Field string
	Path  []string
}

// Fields is a TypeMapper that moves selected fields to nested backend paths,
// e.g. authorName -> author { name }.
type Fields struct {
	Type  string
	Paths []FieldPath
}

func (m Fields) TypeName() string { return m.Type }

func (m Fields) Apply(ctx *Context, set language.SelectionSet) (Result, error) {
	var res Result
	for _, sel := range set {
		f, ok := sel.(*language.Field)
		if !ok {
			r, err := ctx.MapSelection(sel)
			if err != nil {
				return Result{}, err
			}
			res = res.Merge(r)
			continue
		}
		path := m.pathFor(f.Name)
		if len(path) == 0 {
			r, err := ctx.MapSelection(f)
			if err != nil {
				return Result{}, err
			}
			res = res.Merge(r)
			continue
		}
		r, err := m.mapPath(ctx, f, path)
		if err != nil {
			return Result{}, err
		}
		res = res.Merge(r)
	}
	return res, nil
}

func (m Fields) pathFor(field string) []string {
	for _, p := range m.Paths {
		if p.Field == field {
			return p.Path
		}
	}
	return nil
}

func (m Fields) mapPath(ctx *Context, f *language.Field, path []string) (Result, error) {
	key := language.ResponseName(f)
	var childOps []Operation
	var inner language.SelectionSet
	if len(f.SelectionSet) > 0 {
		child, err := ctx.ForField(f).MapSelectionSet(f.SelectionSet)
		if err != nil {
			return Result{}, err
		}
		inner = child.Selections
		childOps = child.Ops
	}
	leaf := &language.Field{Name: path[len(path)-1], Arguments: f.Arguments, Directives: f.Directives, SelectionSet: inner}
	for i := len(path) - 2; i >= 0; i-- {
		leaf = &language.Field{Name: path[i], SelectionSet: language.SelectionSet{leaf}}
	}
	leaf.Alias = key
	return Result{
		Selections: language.SelectionSet{leaf},
		Ops:        []Operation{Path(key, path[1:], childOps...)},
	}, nil
}
