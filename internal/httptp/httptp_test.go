package httptp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"
	"google.golang.org/grpc/metadata"

	"github.com/hanpama/braid/internal/braid"
	language "github.com/hanpama/braid/internal/language"
	"github.com/hanpama/braid/internal/local"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

func mustQuery(t *testing.T, src string, vars map[string]any) *braid.Query {
	t.Helper()
	doc, err := language.ParseQuery(src)
	require.NoError(t, err)
	return &braid.Query{Document: doc, OperationName: "Bulk_Bar", Variables: vars}
}

func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		http.DefaultClient.CloseIdleConnections()
		srv.Close()
	})
	return srv
}

func TestQuery(t *testing.T) {
	var got gjson.Result
	var header http.Header
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = gjson.ParseBytes(body)
		header = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"data": {"bar0": {"title": "t"}, "bar1": null},
			"errors": [{"message": "not found", "path": ["bar1", 0, "title"], "locations": [{"line": 1, "column": 2}]}]
		}`)
	})

	b := New(srv.URL, WithHeader("X-Api-Key", "k"), WithForwardHeaders("authorization"))
	ctx := metadata.NewOutgoingContext(context.Background(), metadata.Pairs("authorization", "Bearer x", "cookie", "c"))
	res, err := b.Query(ctx, mustQuery(t, `query Bulk_Bar($id100: ID!) { bar0: bar(id: $id100) { title } }`, map[string]any{"id100": "b1"}))
	require.NoError(t, err)

	want := &braid.QueryResult{
		Data: map[string]any{"bar0": map[string]any{"title": "t"}, "bar1": nil},
		Errors: []*braid.Error{{
			Message:   "not found",
			Locations: []braid.Location{{Line: 1, Column: 2}},
			Path:      []any{"bar1", 0, "title"},
		}},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, "Bulk_Bar", got.Get("operationName").String())
	require.Equal(t, "b1", got.Get("variables.id100").String())
	require.Contains(t, got.Get("query").String(), "bar0: bar(id: $id100)")
	require.Equal(t, "k", header.Get("X-Api-Key"))
	require.Equal(t, "Bearer x", header.Get("Authorization"))
	require.Empty(t, header.Get("Cookie"))
}

func TestQueryOmitsEmptyFields(t *testing.T) {
	var got gjson.Result
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = gjson.ParseBytes(body)
		_, _ = io.WriteString(w, `{"data": {}}`)
	})
	q := mustQuery(t, `{ bar(id: "1") { id } }`, nil)
	q.OperationName = ""
	_, err := New(srv.URL).Query(context.Background(), q)
	require.NoError(t, err)
	require.False(t, got.Get("operationName").Exists())
	require.False(t, got.Get("variables").Exists())
}

func TestQueryBadResponses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "html error page", status: http.StatusBadGateway, body: `<html>bad gateway</html>`},
		{name: "no data or errors", status: http.StatusOK, body: `{"message": "hello"}`},
		{name: "array", status: http.StatusOK, body: `[]`},
		{name: "error not an object", status: http.StatusOK, body: `{"errors": ["boom"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := New(srv.URL).Query(context.Background(), mustQuery(t, `{ bar(id: "1") { id } }`, nil))
			require.ErrorIs(t, err, ErrBadResponse)
		})
	}
}

func TestQueryErrorsOnlyResponse(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"errors": [{"message": "Cannot query field \"x\""}]}`)
	})
	res, err := New(srv.URL).Query(context.Background(), mustQuery(t, `{ bar(id: "1") { id } }`, nil))
	require.NoError(t, err)
	require.Nil(t, res.Data)
	require.Len(t, res.Errors, 1)
	require.Equal(t, `Cannot query field "x"`, res.Errors[0].Message)
}

func TestQueryResponseLimit(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data": {"bar": {"title": "a long title"}}}`)
	})
	_, err := New(srv.URL, WithMaxResponseBytes(8)).Query(context.Background(), mustQuery(t, `{ bar(id: "1") { title } }`, nil))
	require.ErrorContains(t, err, "exceeds 8 bytes")
}

func TestHandlerRoundTrip(t *testing.T) {
	s, err := language.LoadSchema("bar.graphql", `
type Query { bar(id: ID!): Bar }
type Bar { id: ID! title: String! }
`)
	require.NoError(t, err)
	srv := httptest.NewServer(Handler(local.New(s, local.Resolvers{
		"Query.bar": func(_ context.Context, _ any, args map[string]any) (any, error) {
			if args["id"] == "gone" {
				return map[string]any{"id": "gone"}, nil
			}
			return map[string]any{"id": args["id"], "title": "t-" + args["id"].(string)}, nil
		},
	})))
	t.Cleanup(func() {
		http.DefaultClient.CloseIdleConnections()
		srv.Close()
	})

	res, err := New(srv.URL).Query(context.Background(), mustQuery(t,
		`query Bulk_Bar($id100: ID!) { bar0: bar(id: $id100) { title } bar1: bar(id: "gone") { title } }`,
		map[string]any{"id100": "b1"}))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"bar0": map[string]any{"title": "t-b1"}, "bar1": nil}, res.Data)
	require.Len(t, res.Errors, 1)
	require.Equal(t, []any{"bar1", "title"}, res.Errors[0].Path)
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	h := Handler(braid.QueryFunc(func(context.Context, *braid.Query) (*braid.QueryResult, error) {
		t.Fatal("query function must not be called")
		return nil, nil
	}))
	for _, body := range []string{`{`, `{"query": "{ bar("}`} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
