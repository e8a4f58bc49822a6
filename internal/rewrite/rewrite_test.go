package rewrite

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	language "github.com/hanpama/braid/internal/language"
	"github.com/hanpama/braid/internal/link"
)

const composedSDL = `
type Query {
  foo(id: ID): Foo
  foos(ids: [ID!]): [Foo]
  node(id: ID!): Node
}
interface Node { id: ID! }
type Foo implements Node {
  id: ID!
  name(upper: Boolean): String
  barId: ID
  bar: Bar
}
type Bar implements Node {
  id: ID!
  title: String
}
`

func mustSchema(t *testing.T) *language.Schema {
	t.Helper()
	s, err := language.LoadSchema("composed.graphql", composedSDL)
	require.NoError(t, err)
	return s
}

func mustQuery(t *testing.T, s *language.Schema, src string) *language.QueryDocument {
	t.Helper()
	doc, errs := language.LoadQuery(s, src)
	require.Empty(t, errs)
	return doc
}

func barLink(t *testing.T) *link.Link {
	t.Helper()
	l, err := link.New(link.Options{
		SourceNamespace: "foo",
		SourceType:      "Foo",
		SourceField:     "barId",
		NewFieldName:    "bar",
		TargetNamespace: "bar",
		TargetType:      "Bar",
		Simple:          true,
	})
	require.NoError(t, err)
	return l
}

func lookupFor(l *link.Link) LinkLookup {
	return func(typeName, fieldName string) (*link.Link, bool) {
		if typeName == l.SourceType() && fieldName == l.NewFieldName() {
			return l, true
		}
		return nil, false
	}
}

// normalize reparses src so expectations can be written by hand.
func normalize(t *testing.T, src string) string {
	t.Helper()
	doc, err := language.ParseQuery(src)
	require.NoError(t, err)
	return language.FormatQuery(doc)
}

func printField(f *language.Field, fragments []*language.FragmentDefinition) string {
	doc := &language.QueryDocument{
		Operations: language.OperationList{{Operation: language.Query, SelectionSet: language.SelectionSet{f}}},
		Fragments:  fragments,
	}
	return language.FormatQuery(doc)
}

type sink struct {
	defs []*language.VariableDefinition
	vars map[string]any
}

func (s *sink) AddVariable(def *language.VariableDefinition, value any) error {
	if s.vars == nil {
		s.vars = map[string]any{}
	}
	if _, ok := s.vars[def.Variable]; ok {
		return fmt.Errorf("variable $%s added twice", def.Variable)
	}
	s.defs = append(s.defs, def)
	s.vars[def.Variable] = value
	return nil
}

func TestCloneFieldIsDeep(t *testing.T) {
	s := mustSchema(t)
	doc := mustQuery(t, s, `{ foo(id: "1") { name bar { title } } }`)
	orig := doc.Operations[0].SelectionSet[0].(*language.Field)

	clone := CloneField(orig)
	clone.Name = "changed"
	clone.Arguments[0].Value.Raw = "2"
	clone.SelectionSet = clone.SelectionSet[:1]

	require.Equal(t, "foo", orig.Name)
	require.Equal(t, "1", orig.Arguments[0].Value.Raw)
	require.Len(t, orig.SelectionSet, 2)
}

func TestTrimSelectionReplacesLinkFieldWithSource(t *testing.T) {
	s := mustSchema(t)
	doc := mustQuery(t, s, `
		query {
		  foo(id: "1") { name bar { title } ...F }
		}
		fragment F on Foo { bar { id } barId }
	`)
	field := CloneField(doc.Operations[0].SelectionSet[0].(*language.Field))

	trim := Trim{Schema: s, Links: lookupFor(barLink(t)), Fragments: doc.Fragments}
	frags, err := trim.TrimSelection(s.Query, field, false)
	require.NoError(t, err)

	want := normalize(t, `
		{ foo(id: "1") { name ...F barId } }
		fragment F on Foo { barId }
	`)
	if diff := cmp.Diff(want, printField(field, frags)); diff != "" {
		t.Fatalf("trimmed selection mismatch (-want +got):\n%s", diff)
	}
	// the caller's document is untouched
	require.Len(t, doc.Fragments[0].SelectionSet, 2)
}

func TestTrimSelectionDedupesByNameAndAlias(t *testing.T) {
	s := mustSchema(t)
	doc := mustQuery(t, s, `{ foo { x: barId barId bar { id } } }`)
	field := CloneField(doc.Operations[0].SelectionSet[0].(*language.Field))

	trim := Trim{Schema: s, Links: lookupFor(barLink(t))}
	_, err := trim.TrimSelection(s.Query, field, false)
	require.NoError(t, err)
	require.Equal(t, normalize(t, `{ foo { x: barId barId } }`), printField(field, nil))
}

func TestTrimSelectionIgnoresFirstField(t *testing.T) {
	s := mustSchema(t)
	doc := mustQuery(t, s, `{ foo { bar { title } } }`)
	bar := CloneField(doc.Operations[0].SelectionSet[0].(*language.Field).SelectionSet[0].(*language.Field))

	trim := Trim{Schema: s, Links: lookupFor(barLink(t))}
	_, err := trim.TrimSelection(s.Types["Foo"], bar, true)
	require.NoError(t, err)
	require.Equal(t, normalize(t, `{ bar { title } }`), printField(bar, nil))
}

func TestTrimSelectionBareTopLevelLink(t *testing.T) {
	s := mustSchema(t)
	doc := mustQuery(t, s, `{ foo { bar { title } } }`)
	bar := CloneField(doc.Operations[0].SelectionSet[0].(*language.Field).SelectionSet[0].(*language.Field))

	trim := Trim{Schema: s, Links: lookupFor(barLink(t))}
	_, err := trim.TrimSelection(s.Types["Foo"], bar, false)
	require.NoError(t, err)
	require.Equal(t, "barId", bar.Name)
	require.Empty(t, bar.SelectionSet)
}

func TestTrimSelectionAddsTypenameForAbstractTypes(t *testing.T) {
	s := mustSchema(t)
	doc := mustQuery(t, s, `{ node(id: "1") { id ... on Foo { name } } }`)
	field := CloneField(doc.Operations[0].SelectionSet[0].(*language.Field))

	_, err := Trim{Schema: s}.TrimSelection(s.Query, field, false)
	require.NoError(t, err)
	require.Equal(t, normalize(t, `{ node(id: "1") { id ... on Foo { name } __typename } }`), printField(field, nil))
}

func TestNamespaceRenamesVariablesAndFragments(t *testing.T) {
	s := mustSchema(t)
	doc := mustQuery(t, s, `
		query Q($id: ID, $up: Boolean = true, $skip: Boolean!) {
		  foo(id: $id) { ...F name(upper: $up) @skip(if: $skip) }
		}
		fragment F on Foo { name(upper: $up) }
	`)
	op := doc.Operations[0]
	field := CloneField(op.SelectionSet[0].(*language.Field))
	frags := []*language.FragmentDefinition{CloneFragment(doc.Fragments[0])}

	out := &sink{}
	err := Namespace(field, frags, 100, op, map[string]any{"id": "1", "skip": false}, out)
	require.NoError(t, err)

	want := normalize(t, `
		{ foo(id: $id100) { ...F100 name(upper: $up100) @skip(if: $skip100) } }
		fragment F100 on Foo { name(upper: $up100) }
	`)
	if diff := cmp.Diff(want, printField(field, frags)); diff != "" {
		t.Fatalf("namespaced selection mismatch (-want +got):\n%s", diff)
	}

	var names []string
	for _, d := range out.defs {
		names = append(names, d.Variable+": "+d.Type.String())
	}
	require.Equal(t, []string{"id100: ID", "up100: Boolean", "skip100: Boolean!"}, names)
	require.Equal(t, map[string]any{"id100": "1", "up100": true, "skip100": false}, out.vars)

	// the source operation still uses the caller's names
	require.Equal(t, "id", op.SelectionSet[0].(*language.Field).Arguments[0].Value.Raw)
}

func TestNamespaceNestedValues(t *testing.T) {
	s := mustSchema(t)
	doc := mustQuery(t, s, `query($a: ID!, $b: ID!) { foos(ids: [$a, $b]) { id } }`)
	op := doc.Operations[0]
	field := CloneField(op.SelectionSet[0].(*language.Field))

	out := &sink{}
	require.NoError(t, Namespace(field, nil, 7, op, map[string]any{"a": "x", "b": "y"}, out))
	require.Equal(t, "[$a7,$b7]", field.Arguments[0].Value.String())
	require.Equal(t, map[string]any{"a7": "x", "b7": "y"}, out.vars)
}

func TestNamespaceUndefinedVariable(t *testing.T) {
	field := &language.Field{Name: "foo", Arguments: language.ArgumentList{
		{Name: "id", Value: &language.Value{Kind: language.Variable, Raw: "missing"}},
	}}
	err := Namespace(field, nil, 100, &language.OperationDefinition{}, nil, &sink{})
	require.EqualError(t, err, "variable $missing is not defined by the operation")
}

func TestRenameTypes(t *testing.T) {
	s := mustSchema(t)
	doc := mustQuery(t, s, `
		query($id: ID!) { node(id: $id) { ... on Foo { id } ...B } }
		fragment B on Bar { title }
	`)
	toSource := link.TypeRenames{{BraidName: "Foo", SourceName: "FooV1"}, {BraidName: "Bar", SourceName: "BarV1"}}.ToSource
	RenameTypes(doc, toSource)

	want := normalize(t, `
		query($id: ID!) { node(id: $id) { ... on FooV1 { id } ...B } }
		fragment B on BarV1 { title }
	`)
	require.Equal(t, want, language.FormatQuery(doc))
}

func TestRemoveUnknownFields(t *testing.T) {
	composed := mustSchema(t)
	backend, err := language.LoadSchema("foo.graphql", `
		type Query { foo(id: ID): Foo }
		type Foo { id: ID! name(upper: Boolean): String }
	`)
	require.NoError(t, err)

	doc := mustQuery(t, composed, `{ foo { id barId x: barId } other: foo { barId } }`)
	removed := RemoveUnknownFields(doc, backend, func(s string) string { return s })

	require.Equal(t, normalize(t, `{ foo { id } other: foo { __typename } }`), language.FormatQuery(doc))
	require.Len(t, removed["Foo"], 2)
	require.Equal(t, "barId", removed["Foo"][0].Name)
	require.Equal(t, "x", removed["Foo"][1].Alias)
}

func TestFragmentClosure(t *testing.T) {
	s := mustSchema(t)
	doc := mustQuery(t, s, `
		{ foo { ...A } }
		fragment A on Foo { id ...B }
		fragment B on Foo { name }
		fragment C on Foo { barId }
	`)
	got := FragmentClosure(doc.Operations[0].SelectionSet, doc.Fragments)
	var names []string
	for _, fd := range got {
		names = append(names, fd.Name)
	}
	require.Equal(t, []string{"A", "B"}, names)
}

func TestTrimSelectionSet(t *testing.T) {
	s := mustSchema(t)
	doc := mustQuery(t, s, `{ foo { name bar { title } } }`)
	set := CloneSelectionSet(doc.Operations[0].SelectionSet[0].(*language.Field).SelectionSet)

	out, frags, err := Trim{Schema: s, Links: lookupFor(barLink(t))}.TrimSelectionSet(s.Types["Foo"], set)
	require.NoError(t, err)
	require.Empty(t, frags)
	field := &language.Field{Name: "foo", SelectionSet: out}
	require.Equal(t, normalize(t, `{ foo { name barId } }`), printField(field, nil))
}

func TestEnsureField(t *testing.T) {
	set := language.SelectionSet{&language.Field{Alias: "key", Name: "id"}}
	set = EnsureField(set, "id")
	require.Len(t, set, 2)
	set = EnsureField(set, "id")
	require.Len(t, set, 2)
	require.True(t, HasField(set, "id"))
	require.False(t, HasField(set, "name"))
}

func TestPruneVariables(t *testing.T) {
	doc, err := language.ParseQuery(`
		query($a: ID, $b: Boolean, $c: Boolean) { foo(id: $a) { ...F } }
		fragment F on Foo { name(upper: $b) }
	`)
	require.NoError(t, err)
	vars := map[string]any{"a": "1", "b": true, "c": false}
	PruneVariables(doc.Operations[0], doc.Fragments, vars)

	var names []string
	for _, vd := range doc.Operations[0].VariableDefinitions {
		names = append(names, vd.Variable)
	}
	require.Equal(t, []string{"a", "b"}, names)
	require.Equal(t, map[string]any{"a": "1", "b": true}, vars)
}
