package mapper

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	language "github.com/hanpama/braid/internal/language"
)

const bookSDL = `
type Query {
  book: Book
  books: [Book]
}
type Book {
  title: String
  authorName: String
  author: Author
}
type Author {
  name: String
}
`

var authorName = Fields{Type: "Book", Paths: []FieldPath{{Field: "authorName", Path: []string{"author", "name"}}}}

func mapDoc(t *testing.T, src string, mappers ...TypeMapper) *MappedDocument {
	t.Helper()
	s, err := language.LoadSchema("book.graphql", bookSDL)
	require.NoError(t, err)
	doc, errs := language.LoadQuery(s, src)
	require.Empty(t, errs)
	m, err := New(s, mappers...).MapDocument(doc)
	require.NoError(t, err)
	return m
}

func normalize(t *testing.T, src string) string {
	t.Helper()
	doc, err := language.ParseQuery(src)
	require.NoError(t, err)
	return language.FormatQuery(doc)
}

func TestMapDocumentNestedPath(t *testing.T) {
	m := mapDoc(t, `{ book { title authorName } }`, authorName)

	require.Equal(t, normalize(t, `{ book { title authorName: author { name } } }`), language.FormatQuery(m.Document))

	got := m.ResultMapper(map[string]any{
		"book": map[string]any{"title": "T", "authorName": map[string]any{"name": "N"}},
	})
	want := map[string]any{"book": map[string]any{"title": "T", "authorName": "N"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mapped result mismatch (-want +got):\n%s", diff)
	}
}

func TestMapDocumentLists(t *testing.T) {
	m := mapDoc(t, `{ books { authorName } }`, authorName)

	got := m.ResultMapper(map[string]any{
		"books": []any{
			map[string]any{"authorName": map[string]any{"name": "A"}},
			nil,
			map[string]any{"authorName": nil},
		},
	})
	want := map[string]any{"books": []any{
		map[string]any{"authorName": "A"},
		nil,
		map[string]any{"authorName": nil},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mapped result mismatch (-want +got):\n%s", diff)
	}
}

func TestMapDocumentFragmentSpread(t *testing.T) {
	m := mapDoc(t, `
		{ book { ...F } }
		fragment F on Book { authorName }
	`, authorName)

	want := normalize(t, `
		{ book { ...F } }
		fragment F on Book { authorName: author { name } }
	`)
	require.Equal(t, want, language.FormatQuery(m.Document))

	got := m.ResultMapper(map[string]any{"book": map[string]any{"authorName": map[string]any{"name": "N"}}})
	require.Equal(t, map[string]any{"book": map[string]any{"authorName": "N"}}, got)
}

func TestMapDocumentPassesThroughUnselectedRootKeys(t *testing.T) {
	m := mapDoc(t, `{ book { title } }`)

	got := m.ResultMapper(map[string]any{
		"book": map[string]any{"title": "T", "extra": 1},
		"x100": "short-circuited",
	})
	want := map[string]any{
		"book": map[string]any{"title": "T"},
		"x100": "short-circuited",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mapped result mismatch (-want +got):\n%s", diff)
	}
	require.Nil(t, m.ResultMapper(nil))
}

func TestMapDocumentRejectsMultipleOperations(t *testing.T) {
	s, err := language.LoadSchema("book.graphql", bookSDL)
	require.NoError(t, err)
	doc, errs := language.LoadQuery(s, `query A { book { title } } query B { books { title } }`)
	require.Empty(t, errs)
	_, err = New(s).MapDocument(doc)
	require.EqualError(t, err, "expected one operation, got 2")
}

func TestResultMergeIsAssociative(t *testing.T) {
	a := Result{Ops: []Operation{Put("a", 1)}}
	b := Result{Ops: []Operation{Put("b", 2)}}
	c := Result{Ops: []Operation{Put("a", 3)}}

	left := map[string]any{}
	a.Merge(b).Merge(c).Op()(nil, left)
	right := map[string]any{}
	a.Merge(b.Merge(c)).Op()(nil, right)
	require.Equal(t, left, right)
	require.Equal(t, map[string]any{"a": 3, "b": 2}, left)
}

func TestPathDigsThroughLists(t *testing.T) {
	out := map[string]any{}
	Path("names", []string{"name"})(map[string]any{
		"names": []any{map[string]any{"name": "x"}, nil},
	}, out)
	require.Equal(t, map[string]any{"names": []any{"x", nil}}, out)
}
