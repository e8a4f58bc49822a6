package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/hanpama/braid/internal/config"
	"github.com/hanpama/braid/internal/grpctp"
	"github.com/hanpama/braid/internal/httptp"
	language "github.com/hanpama/braid/internal/language"
	"github.com/hanpama/braid/internal/local"
	"github.com/hanpama/braid/internal/protoreg"
)

const productSDL = `
type Query {
  products: [Product]
}
type Product {
  sku: ID!
  name: String
  stockId: ID
}
`

const stockSDL = `
type Query {
  stock(id: ID!): Stock
  price(sku: ID!, region: String): Price
}
type Stock {
  id: ID!
  count: Int
}
type Price {
  amount: Float
}
`

func mustSchema(t *testing.T, name, sdl string) *language.Schema {
	t.Helper()
	s, err := language.LoadSchema(name, sdl)
	require.NoError(t, err)
	return s
}

func productBackend(t *testing.T) *local.Backend {
	return local.New(mustSchema(t, "products.graphql", productSDL), local.Resolvers{
		"Query.products": func(context.Context, any, map[string]any) (any, error) {
			return []any{
				map[string]any{"sku": "p1", "name": "Lamp", "stockId": "s1"},
				map[string]any{"sku": "p2", "name": "Desk", "stockId": "s2"},
			}, nil
		},
	})
}

func stockBackend(t *testing.T, currency float64) *local.Backend {
	return local.New(mustSchema(t, "stock.graphql", stockSDL), local.Resolvers{
		"Query.stock": func(_ context.Context, _ any, args map[string]any) (any, error) {
			counts := map[string]int{"s1": 4, "s2": 0}
			return map[string]any{"id": args["id"], "count": counts[args["id"].(string)]}, nil
		},
		"Query.price": func(_ context.Context, _ any, args map[string]any) (any, error) {
			return map[string]any{"amount": currency}, nil
		},
	})
}

// serveGRPC serves qf on an in-memory listener and returns the dial
// options reaching it.
func serveGRPC(t *testing.T, qf *local.Backend) []grpc.DialOption {
	t.Helper()
	reg, err := protoreg.Build()
	require.NoError(t, err)
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	grpctp.Register(srv, reg, qf)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
}

func serveHTTP(t *testing.T, qf *local.Backend) string {
	t.Helper()
	srv := httptest.NewServer(httptp.Handler(qf))
	t.Cleanup(func() {
		http.DefaultClient.CloseIdleConnections()
		srv.Close()
	})
	return srv.URL
}

func newConfig(productURL string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ForwardHeaders: []string{"authorization"}},
		Backends: []config.BackendConfig{
			{
				Namespace: "products",
				Schema:    productSDL,
				Transport: config.TransportConfig{Kind: config.TransportHTTP, URL: productURL},
				Links: []config.LinkConfig{{
					SourceType:      "Product",
					SourceField:     "stockId",
					NewFieldName:    "stock",
					TargetNamespace: "stock",
					TargetType:      "Stock",
					Simple:          true,
				}},
			},
			{
				Namespace: "stock",
				Schema:    stockSDL,
				Transport: config.TransportConfig{Kind: config.TransportGRPC, Endpoints: []string{"passthrough:///bufnet"}},
			},
		},
	}
}

func query(t *testing.T, h http.Handler, q string) map[string]any {
	t.Helper()
	body, err := json.Marshal(map[string]any{"query": q})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestGatewayOverHTTPAndGRPC(t *testing.T) {
	cfg := newConfig(serveHTTP(t, productBackend(t)))
	require.NoError(t, cfg.Validate())

	g, err := New(cfg, WithGRPCOptions(grpctp.WithDialOptions(serveGRPC(t, stockBackend(t, 1))...)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	got := query(t, g.Handler(), `{ products { name stock { count } } }`)
	want := map[string]any{
		"data": map[string]any{
			"products": []any{
				map[string]any{"name": "Lamp", "stock": map[string]any{"count": float64(4)}},
				map[string]any{"name": "Desk", "stock": map[string]any{"count": float64(0)}},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestGatewaySwitchesDelegates(t *testing.T) {
	cfg := newConfig(serveHTTP(t, productBackend(t)))
	cfg.Backends[1].Transport = config.TransportConfig{}
	cfg.Backends[1].Switch = &config.SwitchConfig{
		Argument: "region",
		Default:  "eu",
		Delegates: map[string]config.TransportConfig{
			"eu": {Kind: config.TransportHTTP, URL: serveHTTP(t, stockBackend(t, 10))},
			"us": {Kind: config.TransportHTTP, URL: serveHTTP(t, stockBackend(t, 12))},
		},
	}
	require.NoError(t, cfg.Validate())

	g, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	got := query(t, g.Handler(), `{
		eu: price(sku: "p1") { amount }
		us: price(sku: "p1", region: "us") { amount }
		stock(id: "s1") { count }
	}`)
	want := map[string]any{
		"data": map[string]any{
			"eu":    map[string]any{"amount": float64(10)},
			"us":    map[string]any{"amount": float64(12)},
			"stock": map[string]any{"count": float64(4)},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestGatewayQueryFunctionOverride(t *testing.T) {
	cfg := newConfig("http://unused.invalid/graphql")
	g, err := New(cfg,
		WithQueryFunction("products", productBackend(t)),
		WithQueryFunction("stock", stockBackend(t, 1)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	require.Contains(t, g.SDL(), "stock: Stock")
	got := query(t, g.Handler(), `{ products { sku stock { id } } }`)
	require.Nil(t, got["errors"])
}

func TestGatewayRejectsBadSchema(t *testing.T) {
	cfg := newConfig("http://unused.invalid/graphql")
	cfg.Backends[0].Schema = "type Query {"
	_, err := New(cfg)
	require.ErrorContains(t, err, "backend products: schema")
}

func TestHealthz(t *testing.T) {
	g, err := New(newConfig("http://unused.invalid/graphql"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	w := httptest.NewRecorder()
	g.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
}
