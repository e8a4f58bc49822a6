package local

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/braid/internal/braid"
	language "github.com/hanpama/braid/internal/language"
)

const sdl = `
type Query {
  book(id: ID!): Book
  shelf: [Book!]!
}

type Book {
  id: ID!
  title: String
}
`

func newBackend(t *testing.T) *Backend {
	t.Helper()
	s, err := language.LoadSchema("books.graphql", sdl)
	require.NoError(t, err)
	return New(s, Resolvers{
		"Query.book": func(_ context.Context, _ any, args map[string]any) (any, error) {
			if args["id"] == "missing" {
				return nil, errors.New("no such book")
			}
			return map[string]any{"id": args["id"], "title": "Book " + args["id"].(string)}, nil
		},
		"Query.shelf": func(context.Context, any, map[string]any) (any, error) {
			return []any{map[string]any{"id": "1"}, map[string]any{"id": "2", "title": "Two"}}, nil
		},
	})
}

func query(t *testing.T, text, operationName string, vars map[string]any) *braid.Query {
	t.Helper()
	doc, err := language.ParseQuery(text)
	require.NoError(t, err)
	return &braid.Query{Document: doc, OperationName: operationName, Variables: vars}
}

func TestQuery(t *testing.T) {
	b := newBackend(t)
	res, err := b.Query(context.Background(), query(t, `
		query Books($id: ID!) {
			book(id: $id) { id title }
			shelf { id title }
		}
	`, "Books", map[string]any{"id": "7"}))
	require.NoError(t, err)

	want := &braid.QueryResult{Data: map[string]any{
		"book":  map[string]any{"id": "7", "title": "Book 7"},
		"shelf": []any{map[string]any{"id": "1", "title": nil}, map[string]any{"id": "2", "title": "Two"}},
	}}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryResolverError(t *testing.T) {
	b := newBackend(t)
	res, err := b.Query(context.Background(), query(t, `{ book(id: "missing") { id } }`, "", nil))
	require.NoError(t, err)

	want := &braid.QueryResult{
		Data:   map[string]any{"book": nil},
		Errors: []*braid.Error{{Message: "no such book", Path: []any{"book"}}},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryValidationErrors(t *testing.T) {
	b := newBackend(t)
	res, err := b.Query(context.Background(), query(t, `{ nope }`, "", nil))
	require.NoError(t, err)
	require.Nil(t, res.Data)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0].Message, `Cannot query field "nope" on type "Query"`)
	require.NotEmpty(t, res.Errors[0].Locations)
}
