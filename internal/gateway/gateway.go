// Package gateway assembles a braid gateway from configuration: backend
// transports, the composed schema and the HTTP handler serving it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hanpama/braid/internal/braid"
	"github.com/hanpama/braid/internal/braidrt"
	"github.com/hanpama/braid/internal/compose"
	"github.com/hanpama/braid/internal/config"
	"github.com/hanpama/braid/internal/grpctp"
	"github.com/hanpama/braid/internal/httptp"
	language "github.com/hanpama/braid/internal/language"
	"github.com/hanpama/braid/internal/link"
	"github.com/hanpama/braid/internal/protoreg"
	"github.com/hanpama/braid/internal/server"
)

// ErrNoDelegate is returned when a switched request names no known delegate.
var ErrNoDelegate = errors.New("no delegate for request")

type options struct {
	grpc      []grpctp.Option
	http      []httptp.Option
	overrides map[string]braid.QueryFunction
}

type Option func(*options)

// WithGRPCOptions adds options to the shared gRPC transport.
func WithGRPCOptions(opts ...grpctp.Option) Option {
	return func(o *options) { o.grpc = append(o.grpc, opts...) }
}

// WithHTTPOptions adds options to every HTTP backend.
func WithHTTPOptions(opts ...httptp.Option) Option {
	return func(o *options) { o.http = append(o.http, opts...) }
}

// WithQueryFunction serves namespace with qf instead of its configured
// transport.
func WithQueryFunction(namespace string, qf braid.QueryFunction) Option {
	return func(o *options) { o.overrides[namespace] = qf }
}

// Gateway is a composed schema together with the transports it queries.
type Gateway struct {
	*compose.Gateway
	cfg  *config.Config
	grpc *grpctp.Transport
}

// New connects every configured backend and composes their schemas.
// Connections are lazy; New does not reach the network.
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	o := &options{overrides: map[string]braid.QueryFunction{}}
	for _, f := range opts {
		f(o)
	}
	reg, err := protoreg.Build()
	if err != nil {
		return nil, err
	}

	endpoints := map[string][]string{}
	for _, b := range cfg.Backends {
		if b.Transport.Kind == config.TransportGRPC {
			endpoints[b.Namespace] = b.Transport.Endpoints
		}
		if b.Switch != nil {
			for name, d := range b.Switch.Delegates {
				if d.Kind == config.TransportGRPC {
					endpoints[delegateKey(b.Namespace, name)] = d.Endpoints
				}
			}
		}
	}
	g := &Gateway{cfg: cfg}
	g.grpc = grpctp.New(reg, append([]grpctp.Option{
		grpctp.WithProvider(grpctp.NewStaticEndpoints(endpoints)),
	}, o.grpc...)...)

	sources := make([]*compose.Source, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		src, err := g.source(b, o)
		if err != nil {
			_ = g.grpc.Close()
			return nil, err
		}
		sources = append(sources, src)
	}
	g.Gateway, err = compose.Compose(sources)
	if err != nil {
		_ = g.grpc.Close()
		return nil, err
	}
	return g, nil
}

func (g *Gateway) source(b config.BackendConfig, o *options) (*compose.Source, error) {
	s, err := language.LoadSchema(b.Namespace+".graphql", b.Schema)
	if err != nil {
		return nil, fmt.Errorf("backend %s: schema: %w", b.Namespace, err)
	}
	src := &compose.Source{
		Namespace:            b.Namespace,
		Schema:               s,
		TypeRenames:          b.TypeRenameList(),
		QueryFieldRenames:    config.FieldRenameList(b.FieldRenames.Query),
		MutationFieldRenames: config.FieldRenameList(b.FieldRenames.Mutation),
	}
	if b.PartitionSize > 0 {
		src.Partition = braid.PartitionBySize(b.PartitionSize)
	}
	for _, lc := range b.Links {
		lo, err := lc.LinkOptions(b.Namespace)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", b.Namespace, err)
		}
		l, err := link.New(lo)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", b.Namespace, err)
		}
		src.Links = append(src.Links, l)
	}
	for _, ec := range b.Extensions {
		src.Extensions = append(src.Extensions, ec.Extension())
	}

	if qf, ok := o.overrides[b.Namespace]; ok {
		src.Query = qf
		return src, nil
	}
	if b.Switch == nil {
		src.Query = g.queryFunction(b.Namespace, b.Transport, o)
		return src, nil
	}
	sw := &compose.Switch{
		Selector:  selector(b.Switch.Argument, b.Switch.Default),
		Delegates: map[string]braid.QueryFunction{},
	}
	for name, d := range b.Switch.Delegates {
		sw.Delegates[name] = g.queryFunction(delegateKey(b.Namespace, name), d, o)
	}
	src.Switch = sw
	return src, nil
}

func (g *Gateway) queryFunction(key string, t config.TransportConfig, o *options) braid.QueryFunction {
	if t.Kind == config.TransportHTTP {
		opts := []httptp.Option{
			httptp.WithTimeout(t.Timeout),
			httptp.WithForwardHeaders(g.cfg.Server.ForwardHeaders...),
		}
		for k, v := range t.Headers {
			opts = append(opts, httptp.WithHeader(k, v))
		}
		return httptp.New(t.URL, append(opts, o.http...)...)
	}
	qf := g.grpc.Backend(key)
	if t.Timeout <= 0 {
		return qf
	}
	return braid.QueryFunc(func(ctx context.Context, q *braid.Query) (*braid.QueryResult, error) {
		ctx, cancel := context.WithTimeout(ctx, t.Timeout)
		defer cancel()
		return qf.Query(ctx, q)
	})
}

func delegateKey(namespace, delegate string) string { return namespace + "/" + delegate }

// selector picks the delegate named by the string value of a request
// argument, falling back to def.
func selector(argument, def string) braid.Selector {
	return func(req *braid.Request) (string, error) {
		if v, ok := req.Args[argument].(string); ok && v != "" {
			return v, nil
		}
		if def != "" {
			return def, nil
		}
		return "", fmt.Errorf("%w: argument %s of %s.%s is not set", ErrNoDelegate, argument, req.ParentType, req.Field().Name)
	}
}

// Handler returns the HTTP handler configured by the server section.
func (g *Gateway) Handler() http.Handler {
	s := g.cfg.Server
	opts := []server.Option{
		server.WithTimeout(s.Timeout),
		server.WithMaxBodyBytes(s.MaxBodyBytes),
		server.WithMetadataHeaders(s.ForwardHeaders...),
		server.WithRuntimeOptions(braidrt.WithWait(g.cfg.Batch.Wait)),
	}
	if s.Pretty {
		opts = append(opts, server.WithPretty())
	}
	if len(s.CORS.AllowedOrigins) > 0 {
		opts = append(opts, server.WithCORS(s.CORS.AllowedOrigins...))
	}
	mux := http.NewServeMux()
	mux.Handle("/graphql", server.New(g, opts...))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Serve runs the HTTP server on the configured address until ctx is done,
// then shuts it down gracefully.
func (g *Gateway) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              g.cfg.Server.Addr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases backend connections.
func (g *Gateway) Close() error { return g.grpc.Close() }
