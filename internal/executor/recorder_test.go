package executor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	language "github.com/hanpama/braid/internal/language"
	schema "github.com/hanpama/braid/internal/schema"
)

const testSDL = `
interface Node {
  id: ID!
}

type Query {
  users: [User]
  strictUsers: [User!]
  user(id: ID!): User
  me: User!
  search(term: String = "all", kinds: [Kind!]): [SearchResult]
  node(id: ID!): Node
  filter(where: UserFilter): [User]
}

type Mutation {
  rename(id: ID!, name: String!): User
  touch: Boolean
}

type User implements Node {
  id: ID!
  name: String
  kind: Kind
  team: Team!
  manager: User
}

type Team implements Node {
  id: ID!
  name: String!
}

union SearchResult = User | Team

enum Kind {
  ADMIN
  MEMBER
}

input UserFilter {
  kind: Kind = MEMBER
  ids: [ID!]
  first: Int
}
`

var asyncFields = map[string]bool{
	"User.team":    true,
	"User.manager": true,
}

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	src, err := language.LoadSchema("schema.graphql", testSDL)
	require.NoError(t, err)
	return schema.BuildFromAST(src, func(typeName, field string) bool {
		return typeName == "Query" || typeName == "Mutation" || asyncFields[typeName+"."+field]
	})
}

type resolverFunc func(task ResolveTask) (any, error)

// recorder resolves fields from a table keyed by "Type.field" and records
// what the executor asked for. Fields without a resolver read the field
// name from a map source.
type recorder struct {
	resolvers map[string]resolverFunc
	partial   map[string][]GraphQLError
	serialize func(typeName string, v any) (any, error)
	truncate  bool

	syncCalls []string
	batches   [][]string
	args      map[string]map[string]any
}

func (r *recorder) ResolveSync(_ context.Context, task ResolveTask) (any, error) {
	r.syncCalls = append(r.syncCalls, task.Path.String())
	if f, ok := r.resolvers[coordinate(task)]; ok {
		return f(task)
	}
	m, _ := task.Source.(map[string]any)
	return m[task.Field], nil
}

func (r *recorder) BatchResolveAsync(_ context.Context, tasks []ResolveTask) []AsyncResolveResult {
	paths := make([]string, len(tasks))
	out := make([]AsyncResolveResult, len(tasks))
	for i, task := range tasks {
		paths[i] = task.Path.String()
		if r.args == nil {
			r.args = map[string]map[string]any{}
		}
		r.args[paths[i]] = task.Args
		f, ok := r.resolvers[coordinate(task)]
		if !ok {
			out[i].Error = fmt.Errorf("no resolver for %s", coordinate(task))
			continue
		}
		out[i].Value, out[i].Error = f(task)
		out[i].Errors = r.partial[coordinate(task)]
	}
	r.batches = append(r.batches, paths)
	if r.truncate {
		out = out[:len(out)-1]
	}
	return out
}

func (r *recorder) ResolveType(_ context.Context, abstractType string, value any) (string, error) {
	if m, ok := value.(map[string]any); ok {
		if name, ok := m["__typename"].(string); ok {
			return name, nil
		}
	}
	return "", fmt.Errorf("cannot resolve %s for %T", abstractType, value)
}

func (r *recorder) ResolveUnionConcreteValue(_ context.Context, _ string, value any) (any, error) {
	return value, nil
}

func (r *recorder) ResolveInterfaceConcreteValue(_ context.Context, _ string, value any) (any, error) {
	return value, nil
}

func (r *recorder) SerializeLeafValue(_ context.Context, typeName string, value any) (any, error) {
	if r.serialize != nil {
		return r.serialize(typeName, value)
	}
	return value, nil
}

func coordinate(task ResolveTask) string { return task.ObjectType + "." + task.Field }

func value(v any) resolverFunc {
	return func(ResolveTask) (any, error) { return v, nil }
}

func failing(msg string) resolverFunc {
	return func(ResolveTask) (any, error) { return nil, fmt.Errorf("%s", msg) }
}

var (
	ann   = map[string]any{"__typename": "User", "id": "u1", "name": "Ann", "kind": "ADMIN", "teamId": "t1"}
	bob   = map[string]any{"__typename": "User", "id": "u2", "name": "Bob", "kind": "MEMBER", "teamId": "t2"}
	alpha = map[string]any{"__typename": "Team", "id": "t1", "name": "Alpha"}
	beta  = map[string]any{"__typename": "Team", "id": "t2", "name": "Beta"}
)

// teams resolves User.team from the parent's teamId.
func teams(missing ...string) resolverFunc {
	return func(task ResolveTask) (any, error) {
		id := task.Source.(map[string]any)["teamId"]
		for _, m := range missing {
			if id == m {
				return nil, fmt.Errorf("no team %s", m)
			}
		}
		switch id {
		case "t1":
			return alpha, nil
		case "t2":
			return beta, nil
		}
		return nil, nil
	}
}

func execute(t *testing.T, r *recorder, query string, vars map[string]any) *ExecutionResult {
	t.Helper()
	return executeOperation(t, r, query, "", vars)
}

func executeOperation(t *testing.T, r *recorder, query, operationName string, vars map[string]any) *ExecutionResult {
	t.Helper()
	doc, err := language.ParseQuery(query)
	require.NoError(t, err)
	return NewExecutor(r, testSchema(t)).ExecuteRequest(context.Background(), doc, operationName, vars, nil)
}
