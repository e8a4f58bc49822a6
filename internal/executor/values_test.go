package executor

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	language "github.com/hanpama/braid/internal/language"
)

func TestCoerceVariables(t *testing.T) {
	doc, err := language.ParseQuery(`
		query($id: ID!, $first: Int, $kinds: [Kind!], $where: UserFilter, $term: String = "x") {
			users { id }
		}
	`)
	require.NoError(t, err)
	op := doc.Operations[0]
	s := testSchema(t)

	got, err := coerceVariables(s, op, map[string]any{
		"id":    float64(7),
		"first": float64(10),
		"kinds": "ADMIN",
		"where": map[string]any{"ids": []any{"a"}},
	})
	require.NoError(t, err)
	want := map[string]any{
		"id":    "7",
		"first": 10,
		"kinds": []any{"ADMIN"},
		"where": map[string]any{"kind": "MEMBER", "ids": []any{"a"}},
		"term":  "x",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("variables mismatch (-want +got):\n%s", diff)
	}

	failures := []struct {
		name    string
		vars    map[string]any
		wantErr string
	}{
		{"missing required", map[string]any{}, "variable $id of required type ID! was not provided"},
		{"null required", map[string]any{"id": nil}, "variable $id of type ID!: null for non-null type"},
		{"fractional int", map[string]any{"id": "a", "first": 1.5}, "variable $first of type Int: cannot use 1.5 (float64) as Int"},
		{"unknown enum value", map[string]any{"id": "a", "kinds": []any{"OWNER"}}, "variable $kinds of type [Kind!]: [0]: OWNER is not a value of Kind"},
		{"unknown input field", map[string]any{"id": "a", "where": map[string]any{"limit": 1.0}}, "unknown field UserFilter.limit"},
		{"input object shape", map[string]any{"id": "a", "where": "all"}, "UserFilter must be an object, got string"},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			_, err := coerceVariables(s, op, tt.vars)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestCoerceArguments(t *testing.T) {
	r := &recorder{resolvers: map[string]resolverFunc{
		"Query.filter": value([]any{ann}),
		"Query.search": value(nil),
	}}
	res := execute(t, r, `
		query($id: ID!) {
			filter(where: {ids: [$id, "b"], first: 2}) { id }
			search { __typename }
		}
	`, map[string]any{"id": "a"})

	requireResult(t, res, map[string]any{
		"filter": []any{map[string]any{"id": "u1"}},
		"search": nil,
	}, nil)
	want := map[string]map[string]any{
		"filter": {"where": map[string]any{"ids": []any{"a", "b"}, "first": 2, "kind": "MEMBER"}},
		"search": {"term": "all"},
	}
	if diff := cmp.Diff(want, r.args); diff != "" {
		t.Fatalf("arguments mismatch (-want +got):\n%s", diff)
	}
}

func TestCoerceArgumentsMissingRequired(t *testing.T) {
	r := &recorder{resolvers: map[string]resolverFunc{"Query.user": value(nil)}}
	res := execute(t, r, `{ user { id } }`, nil)
	requireResult(t, res, map[string]any{"user": nil}, []GraphQLError{{
		Message: `argument "id" of required type was not provided`,
		Path:    Path{"user"},
	}})
	require.Equal(t, map[string]any{}, r.args["user"])
}

func TestPathString(t *testing.T) {
	require.Equal(t, "users[0].team.name", Path{"users", 0, "team", "name"}.String())
	require.Equal(t, "[2]", Path{2}.String())
	require.Empty(t, Path{}.String())
}
