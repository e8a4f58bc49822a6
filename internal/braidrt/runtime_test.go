package braidrt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hanpama/braid/internal/braid"
	executor "github.com/hanpama/braid/internal/executor"
	language "github.com/hanpama/braid/internal/language"
	"github.com/hanpama/braid/internal/link"
	schema "github.com/hanpama/braid/internal/schema"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingLoader answers each request with respond and records batches.
type recordingLoader struct {
	mu      sync.Mutex
	batches [][]*braid.Request
	respond func(req *braid.Request) braid.Result
	err     error
}

func (l *recordingLoader) Load(_ context.Context, reqs []*braid.Request) ([]braid.Result, error) {
	l.mu.Lock()
	l.batches = append(l.batches, reqs)
	l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	out := make([]braid.Result, len(reqs))
	for i, req := range reqs {
		out[i] = l.respond(req)
	}
	return out, nil
}

func task(objectType, field, alias string, path executor.Path, source any) executor.ResolveTask {
	f := &language.Field{Name: field, Alias: alias}
	return executor.ResolveTask{
		ObjectType:   objectType,
		Field:        field,
		ResponseName: language.ResponseName(f),
		Fields:       []*language.Field{f},
		ReturnType:   schema.NamedType("Bar"),
		Path:         path,
		Source:       source,
		Operation: &executor.Operation{
			Definition: &language.OperationDefinition{Operation: language.Mutation},
			Document:   &language.QueryDocument{},
			Variables:  map[string]any{"v": 1},
		},
	}
}

func TestBatchResolveAsyncLoadsOneBatchPerRoute(t *testing.T) {
	echo := func(req *braid.Request) braid.Result {
		return braid.Result{Data: req.Source.(map[string]any)["id"]}
	}
	bars := &recordingLoader{respond: echo}
	tops := &recordingLoader{respond: func(*braid.Request) braid.Result { return braid.Result{Data: "top"} }}
	rt := New(Table{
		{Type: "Foo", Field: "bar"}:        {Group: "Foo.bar", Kind: Link, Loader: bars},
		{Type: "Mutation", Field: "touch"}: {Group: "Mutation.touch", Kind: TopLevel, Loader: tops},
	})

	tasks := []executor.ResolveTask{
		task("Foo", "bar", "", executor.Path{"foos", 0, "bar"}, map[string]any{"id": "a"}),
		task("Mutation", "touch", "", executor.Path{"touch"}, nil),
		task("Foo", "bar", "other", executor.Path{"foos", 1, "other"}, map[string]any{"id": "b"}),
		task("Foo", "nope", "", executor.Path{"foos", 1, "nope"}, nil),
	}
	ctx := braid.WithSession(context.Background(), braid.NewSession())
	got := rt.BatchResolveAsync(ctx, tasks)

	require.Len(t, got, 4)
	require.Equal(t, "a", got[0].Value)
	require.Equal(t, "top", got[1].Value)
	require.Equal(t, "b", got[2].Value)
	require.EqualError(t, got[3].Error, "no route for Foo.nope")

	require.Len(t, bars.batches, 1)
	batch := bars.batches[0]
	require.Len(t, batch, 2)
	require.Equal(t, "other", batch[1].ResponseName())
	require.Equal(t, language.Query, batch[0].Operation.Kind, "links are fetched with queries")
	require.Equal(t, "Bar", batch[0].ReturnType.NamedType)
	require.Same(t, braid.SessionFrom(ctx), batch[0].Session)

	require.Len(t, tops.batches, 1)
	require.Equal(t, language.Mutation, tops.batches[0][0].Operation.Kind)
	require.Equal(t, map[string]any{"v": 1}, tops.batches[0][0].Operation.Variables)
}

func TestBatchResolveAsyncFailsOnlyTheFailingRoute(t *testing.T) {
	failing := &recordingLoader{err: errors.New("backend down")}
	ok := &recordingLoader{respond: func(*braid.Request) braid.Result {
		return braid.Result{Data: "ok", Errors: []*braid.Error{{Message: "partial", Path: []any{"title"}}}}
	}}
	rt := New(Table{
		{Type: "Query", Field: "a"}: {Group: "Query.a", Loader: failing},
		{Type: "Query", Field: "b"}: {Group: "Query.b", Loader: ok},
	})
	got := rt.BatchResolveAsync(context.Background(), []executor.ResolveTask{
		task("Query", "a", "", executor.Path{"a"}, nil),
		task("Query", "b", "", executor.Path{"b"}, nil),
	})

	require.EqualError(t, got[0].Error, "backend down")
	want := executor.AsyncResolveResult{
		Value:  "ok",
		Errors: []executor.GraphQLError{{Message: "partial", Path: executor.Path{"title"}}},
	}
	if diff := cmp.Diff(want, got[1]); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestBatchResolveAsyncSharesExtensionRequestsPerObject(t *testing.T) {
	ext := &recordingLoader{respond: func(req *braid.Request) braid.Result {
		id := req.Source.(map[string]any)["id"]
		return braid.Result{
			Data: map[string]any{"rating": id, "stock": 3},
			Errors: []*braid.Error{
				{Message: "no stock", Path: []any{"stock"}},
				{Message: "slow"},
			},
		}
	}}
	route := Route{Group: "ext-Foo", Kind: Extension, Loader: ext}
	rt := New(Table{
		{Type: "Foo", Field: "rating"}: route,
		{Type: "Foo", Field: "stock"}:  route,
	})
	first := map[string]any{"id": "1"}
	second := map[string]any{"id": "2"}
	got := rt.BatchResolveAsync(context.Background(), []executor.ResolveTask{
		task("Foo", "rating", "", executor.Path{"foos", 0, "rating"}, first),
		task("Foo", "stock", "", executor.Path{"foos", 0, "stock"}, first),
		task("Foo", "rating", "", executor.Path{"foos", 1, "rating"}, second),
	})

	require.Len(t, ext.batches, 1)
	reqs := ext.batches[0]
	require.Len(t, reqs, 2, "one request per parent object")
	require.Len(t, reqs[0].Fields, 2)
	require.Equal(t, "Foo", reqs[0].ReturnType.NamedType)

	want := []executor.AsyncResolveResult{
		{Value: "1", Errors: []executor.GraphQLError{{Message: "slow"}}},
		{Value: 3, Errors: []executor.GraphQLError{{Message: "no stock", Path: executor.Path{}}}},
		{Value: "2", Errors: []executor.GraphQLError{{Message: "slow"}}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("results mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveSyncReadsResponseName(t *testing.T) {
	rt := New(nil)
	v, err := rt.ResolveSync(context.Background(), executor.ResolveTask{
		ObjectType: "Bar", Field: "title", ResponseName: "heading",
		Source: map[string]any{"heading": "x", "title": "y"},
	})
	require.NoError(t, err)
	require.Equal(t, "x", v)

	v, err = rt.ResolveSync(context.Background(), executor.ResolveTask{ResponseName: "title", Source: "scalar"})
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestResolveTypeMapsBackendNames(t *testing.T) {
	s, err := language.LoadSchema("schema.graphql", `
		type Query { node: Node }
		interface Node { id: ID! }
		type Product implements Node { id: ID! }
	`)
	require.NoError(t, err)
	rt := New(nil, WithSchema(s), WithTypeRenames(link.TypeRenames{{BraidName: "Product", SourceName: "Item"}}))

	name, err := rt.ResolveType(context.Background(), "Node", map[string]any{"__typename": "Item"})
	require.NoError(t, err)
	require.Equal(t, "Product", name)

	name, err = rt.ResolveType(context.Background(), "Node", map[string]any{"__typename": "Product"})
	require.NoError(t, err)
	require.Equal(t, "Product", name)

	_, err = rt.ResolveType(context.Background(), "Node", map[string]any{"__typename": "Other"})
	require.Error(t, err)
	_, err = rt.ResolveType(context.Background(), "Node", map[string]any{})
	require.Error(t, err)
}

func TestSerializeLeafValue(t *testing.T) {
	rt := New(nil)
	for _, tc := range []struct {
		typeName string
		in, want any
	}{
		{"Int", float64(42), int64(42)},
		{"Float", float64(1.5), float64(1.5)},
		{"Int", float64(1.5), float64(1.5)},
		{"String", []byte("hi"), "aGk="},
		{"ID", nil, nil},
	} {
		got, err := rt.SerializeLeafValue(context.Background(), tc.typeName, tc.in)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}
}

func TestAstType(t *testing.T) {
	got := astType(schema.NonNullType(schema.ListType(schema.NamedType("ID"))))
	require.Equal(t, &language.Type{NonNull: true, Elem: &language.Type{NamedType: "ID"}}, got)
}

func TestBatchResolveAsyncLoadsEqualRequestsOnce(t *testing.T) {
	bars := &recordingLoader{respond: func(req *braid.Request) braid.Result {
		return braid.Result{Data: req.Source.(map[string]any)["id"]}
	}}
	rt := New(Table{{Type: "Foo", Field: "bar"}: {Group: "Foo.bar", Kind: Link, Loader: bars}})

	first := task("Foo", "bar", "", executor.Path{"foos", 0, "bar"}, map[string]any{"id": "a"})
	// same field node under an equal parent at another path
	second := first
	second.Path = executor.Path{"foos", 1, "bar"}
	second.Source = map[string]any{"id": "a"}
	third := first
	third.Path = executor.Path{"foos", 2, "bar"}
	third.Source = map[string]any{"id": "b"}

	ctx := braid.WithSession(context.Background(), braid.NewSession())
	got := rt.BatchResolveAsync(ctx, []executor.ResolveTask{first, second, third})
	require.Equal(t, "a", got[0].Value)
	require.Equal(t, "a", got[1].Value)
	require.Equal(t, "b", got[2].Value)
	require.Len(t, bars.batches, 1)
	require.Len(t, bars.batches[0], 2)

	// later depths of the same operation reuse loaded results
	again := first
	again.Path = executor.Path{"foos", 0, "bar", "foo", "bar"}
	got = rt.BatchResolveAsync(ctx, []executor.ResolveTask{again})
	require.Equal(t, "a", got[0].Value)
	require.Len(t, bars.batches, 1)

	// another operation loads it again
	got = rt.BatchResolveAsync(braid.WithSession(context.Background(), braid.NewSession()), []executor.ResolveTask{again})
	require.Equal(t, "a", got[0].Value)
	require.Len(t, bars.batches, 2)
}

func TestBatchResolveAsyncCoalescesConcurrentCalls(t *testing.T) {
	bars := &recordingLoader{respond: func(req *braid.Request) braid.Result {
		return braid.Result{Data: req.Source.(map[string]any)["id"]}
	}}
	rt := New(Table{{Type: "Foo", Field: "bar"}: {Group: "Foo.bar", Kind: Link, Loader: bars}},
		WithWait(100*time.Millisecond))
	ctx := braid.WithSession(context.Background(), braid.NewSession())

	ids := []string{"a", "b", "c"}
	got := make([]any, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := rt.BatchResolveAsync(ctx, []executor.ResolveTask{
				task("Foo", "bar", "", executor.Path{"foos", i, "bar"}, map[string]any{"id": id}),
			})
			got[i] = res[0].Value
		}()
	}
	wg.Wait()

	require.Equal(t, []any{"a", "b", "c"}, got)
	require.Len(t, bars.batches, 1)
	require.Len(t, bars.batches[0], 3)
}
