package grpctp

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"google.golang.org/grpc"
)

var (
	ErrNoEndpoints = errors.New("grpctp: no endpoints available")
	ErrClosed      = errors.New("grpctp: closed")
)

// EndpointProvider resolves a backend namespace to host:port endpoints.
// It is called once per backend call.
type EndpointProvider interface {
	Endpoints(ctx context.Context, namespace string) ([]string, error)
}

// StaticEndpoints serves the endpoint lists of the gateway config.
type StaticEndpoints map[string][]string

func NewStaticEndpoints(m map[string][]string) StaticEndpoints {
	out := make(StaticEndpoints, len(m))
	for ns, eps := range maps.All(m) {
		out[ns] = slices.Clone(eps)
	}
	return out
}

func (s StaticEndpoints) Endpoints(_ context.Context, namespace string) ([]string, error) {
	if eps := s[namespace]; len(eps) > 0 {
		return eps, nil
	}
	return nil, ErrNoEndpoints
}

// Options configures a Transport. Calls whose context has no deadline get
// RPCTimeout; credentials default to insecure.
type Options struct {
	Provider            EndpointProvider
	MaxConnsPerEndpoint int
	RPCTimeout          time.Duration
	DialOptions         []grpc.DialOption
}

type Option func(*Options)

func WithProvider(p EndpointProvider) Option {
	return func(o *Options) { o.Provider = p }
}

// WithMaxConnsPerEndpoint bounds the connection pool of each endpoint.
func WithMaxConnsPerEndpoint(n int) Option {
	return func(o *Options) { o.MaxConnsPerEndpoint = n }
}

func WithRPCTimeout(d time.Duration) Option {
	return func(o *Options) { o.RPCTimeout = d }
}

func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *Options) { o.DialOptions = append(o.DialOptions, opts...) }
}

func defaultOptions() *Options {
	return &Options{MaxConnsPerEndpoint: 2, RPCTimeout: 3 * time.Second}
}
