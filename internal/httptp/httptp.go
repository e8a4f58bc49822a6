// Package httptp sends braid backend queries to GraphQL servers over HTTP.
package httptp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"google.golang.org/grpc/metadata"

	"github.com/hanpama/braid/internal/braid"
)

// ErrBadResponse is returned when a backend answers with something that is
// not a GraphQL response.
var ErrBadResponse = errors.New("bad GraphQL response")

type Options struct {
	Client *http.Client
	// Header is sent with every query.
	Header http.Header
	// ForwardHeaders lists outgoing metadata keys copied into request
	// headers. The server puts incoming headers there.
	ForwardHeaders []string
	// Timeout applies when the context has no deadline. 0 disables it.
	Timeout time.Duration
	// MaxResponseBytes limits the response body. 0 means unlimited.
	MaxResponseBytes int64
}

type Option func(*Options)

func WithClient(c *http.Client) Option { return func(o *Options) { o.Client = c } }
func WithHeader(key, value string) Option {
	return func(o *Options) { o.Header.Add(key, value) }
}
func WithForwardHeaders(keys ...string) Option {
	return func(o *Options) { o.ForwardHeaders = append(o.ForwardHeaders, keys...) }
}
func WithTimeout(d time.Duration) Option  { return func(o *Options) { o.Timeout = d } }
func WithMaxResponseBytes(n int64) Option { return func(o *Options) { o.MaxResponseBytes = n } }

// Backend is a braid.QueryFunction posting to one GraphQL endpoint.
type Backend struct {
	url  string
	opts Options
}

func New(url string, opts ...Option) *Backend {
	o := Options{Client: http.DefaultClient, Header: http.Header{}}
	for _, f := range opts {
		f(&o)
	}
	return &Backend{url: url, opts: o}
}

func (b *Backend) Query(ctx context.Context, q *braid.Query) (*braid.QueryResult, error) {
	if _, ok := ctx.Deadline(); !ok && b.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.Timeout)
		defer cancel()
	}
	body, err := encodeQuery(q)
	if err != nil {
		return nil, fmt.Errorf("httptp: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httptp: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/graphql-response+json, application/json")
	for k, v := range b.opts.Header {
		req.Header[k] = v
	}
	b.forward(ctx, req.Header)

	resp, err := b.opts.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httptp: %s: %w", b.url, err)
	}
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	if b.opts.MaxResponseBytes > 0 {
		reader = io.LimitReader(resp.Body, b.opts.MaxResponseBytes+1)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("httptp: %s: %w", b.url, err)
	}
	if b.opts.MaxResponseBytes > 0 && int64(len(raw)) > b.opts.MaxResponseBytes {
		return nil, fmt.Errorf("httptp: %s: response exceeds %d bytes", b.url, b.opts.MaxResponseBytes)
	}
	res, err := decodeResult(raw)
	if err != nil {
		return nil, fmt.Errorf("httptp: %s: status %d: %w", b.url, resp.StatusCode, err)
	}
	return res, nil
}

func (b *Backend) forward(ctx context.Context, h http.Header) {
	if len(b.opts.ForwardHeaders) == 0 {
		return
	}
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		return
	}
	for _, key := range b.opts.ForwardHeaders {
		for _, v := range md.Get(key) {
			h.Add(key, v)
		}
	}
}

func encodeQuery(q *braid.Query) ([]byte, error) {
	body, err := sjson.SetBytes([]byte(`{}`), "query", q.Text())
	if err != nil {
		return nil, err
	}
	if q.OperationName != "" {
		if body, err = sjson.SetBytes(body, "operationName", q.OperationName); err != nil {
			return nil, err
		}
	}
	if len(q.Variables) > 0 {
		if body, err = sjson.SetBytes(body, "variables", q.Variables); err != nil {
			return nil, fmt.Errorf("variables: %w", err)
		}
	}
	return body, nil
}

// decodeResult reads a GraphQL response. A body without data and errors is
// an error even with a 2xx status.
func decodeResult(raw []byte) (*braid.QueryResult, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: %s", ErrBadResponse, snippet(raw))
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: not an object", ErrBadResponse)
	}
	data, errs := doc.Get("data"), doc.Get("errors")
	if !data.Exists() && !errs.Exists() {
		return nil, fmt.Errorf("%w: no data or errors", ErrBadResponse)
	}

	out := &braid.QueryResult{}
	if data.IsObject() {
		out.Data = data.Value().(map[string]any)
	}
	for _, e := range errs.Array() {
		m, ok := e.Value().(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: error is not an object", ErrBadResponse)
		}
		out.Errors = append(out.Errors, braid.ErrorFromMap(m))
	}
	return out, nil
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 64 {
		s = s[:64] + "..."
	}
	return s
}
