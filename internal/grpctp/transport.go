// Package grpctp sends braid backend queries over gRPC using the Execute
// contract built by protoreg, and serves query functions under the same
// contract.
package grpctp

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/hanpama/braid/internal/braid"
	eventbus "github.com/hanpama/braid/internal/eventbus"
	events "github.com/hanpama/braid/internal/events"
	"github.com/hanpama/braid/internal/protoreg"
)

// NamespaceHeader carries the backend namespace in outgoing metadata.
const NamespaceHeader = "x-braid-namespace"

// Transport pools client connections per endpoint. Endpoints are looked up
// per backend namespace.
type Transport struct {
	reg  *protoreg.Registry
	opts *Options

	mu     sync.RWMutex
	pools  map[string]*connPool // key: endpoint
	closed atomic.Bool
}

func New(reg *protoreg.Registry, opts ...Option) *Transport {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if len(o.DialOptions) == 0 {
		o.DialOptions = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig}),
		}
	}
	return &Transport{
		reg:   reg,
		opts:  o,
		pools: make(map[string]*connPool),
	}
}

// Backend returns the query function of namespace.
func (t *Transport) Backend(namespace string) braid.QueryFunction {
	return braid.QueryFunc(func(ctx context.Context, q *braid.Query) (*braid.QueryResult, error) {
		return t.query(ctx, namespace, q)
	})
}

func (t *Transport) query(ctx context.Context, namespace string, q *braid.Query) (*braid.QueryResult, error) {
	method := t.reg.Execute()
	req, err := encodeRequest(method.Input(), q)
	if err != nil {
		return nil, fmt.Errorf("grpctp: %w", err)
	}
	resp, err := t.call(ctx, namespace, method, req)
	if err != nil {
		return nil, err
	}
	res, err := decodeResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("grpctp: %s: %w", namespace, err)
	}
	return res, nil
}

func (t *Transport) call(ctx context.Context, namespace string, method protoreflect.MethodDescriptor, request protoreflect.Message) (resp protoreflect.Message, err error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if t.opts.Provider == nil {
		return nil, errors.New("grpctp: provider not configured")
	}
	service := string(method.Parent().FullName())

	if _, ok := ctx.Deadline(); !ok && t.opts.RPCTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.RPCTimeout)
		defer cancel()
	}
	ctx = metadata.AppendToOutgoingContext(ctx, NamespaceHeader, namespace)

	endpoints, err := t.opts.Provider.Endpoints(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("grpctp: %s: %w", namespace, err)
	}
	endpoint := endpoints[rand.IntN(len(endpoints))]

	cc, err := t.getConn(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer t.returnConn(endpoint, cc)

	start := time.Now()
	eventbus.Publish(ctx, events.GRPCClientStart{Namespace: namespace, Service: service, Method: string(method.Name()), Target: endpoint})
	resp = dynamicpb.NewMessage(method.Output())
	err = cc.Invoke(ctx, t.reg.FullMethod(), request, resp)
	eventbus.Publish(ctx, events.GRPCClientFinish{
		Namespace: namespace,
		Service:   service,
		Method:    string(method.Name()),
		Target:    endpoint,
		Code:      status.Code(err),
		Err:       err,
		Duration:  time.Since(start),
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pools {
		p.close()
	}
	t.pools = map[string]*connPool{}
	return nil
}

type connPool struct {
	endpoint string
	opts     *Options
	conns    chan *grpc.ClientConn
	closed   atomic.Bool
}

func newConnPool(endpoint string, opts *Options) *connPool {
	n := opts.MaxConnsPerEndpoint
	if n <= 0 {
		n = 2
	}
	return &connPool{
		endpoint: endpoint,
		opts:     opts,
		conns:    make(chan *grpc.ClientConn, n),
	}
}

func (p *connPool) get() (*grpc.ClientConn, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	select {
	case cc := <-p.conns:
		return cc, nil
	default:
		return grpc.NewClient(p.endpoint, p.opts.DialOptions...)
	}
}

func (p *connPool) put(cc *grpc.ClientConn) {
	if p.closed.Load() {
		_ = cc.Close()
		return
	}
	select {
	case p.conns <- cc:
	default:
		_ = cc.Close()
	}
}

func (p *connPool) close() {
	if p.closed.Swap(true) {
		return
	}
	for {
		select {
		case cc := <-p.conns:
			_ = cc.Close()
		default:
			return
		}
	}
}

func (t *Transport) getConn(_ context.Context, endpoint string) (*grpc.ClientConn, error) {
	t.mu.RLock()
	pool := t.pools[endpoint]
	t.mu.RUnlock()
	if pool == nil {
		t.mu.Lock()
		pool = t.pools[endpoint]
		if pool == nil {
			pool = newConnPool(endpoint, t.opts)
			t.pools[endpoint] = pool
		}
		t.mu.Unlock()
	}
	return pool.get()
}

func (t *Transport) returnConn(endpoint string, cc *grpc.ClientConn) {
	t.mu.RLock()
	pool := t.pools[endpoint]
	t.mu.RUnlock()
	if pool != nil {
		pool.put(cc)
		return
	}
	_ = cc.Close()
}
