// Package server serves a composed braid schema over HTTP.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"google.golang.org/grpc/metadata"

	"github.com/hanpama/braid/internal/braid"
	"github.com/hanpama/braid/internal/braidrt"
	eventbus "github.com/hanpama/braid/internal/eventbus"
	events "github.com/hanpama/braid/internal/events"
	executor "github.com/hanpama/braid/internal/executor"
	language "github.com/hanpama/braid/internal/language"
	reqid "github.com/hanpama/braid/internal/reqid"
	schema "github.com/hanpama/braid/internal/schema"
)

// RequestIDMetadata carries the request id to backends in outgoing metadata.
const RequestIDMetadata = "x-request-id"

// Gateway is the schema a Handler serves. *compose.Gateway implements it.
type Gateway interface {
	Schema() *language.Schema
	ExecutableSchema() *schema.Schema
	Runtime(opts ...braidrt.Option) executor.Runtime
}

// Handler is an http.Handler that serves a GraphQL endpoint.
// It validates requests against the composed schema and runs them with a
// fresh batching session per operation.
type Handler struct {
	schema *language.Schema
	exec   *executor.Executor
	opt    Options
	next   http.Handler
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// AllowedOrigins enables CORS for the listed origins. "*" allows any.
	AllowedOrigins []string

	// MetadataHeaders lists HTTP headers forwarded to backends through
	// outgoing metadata. Header names are case-insensitive. Default is none.
	MetadataHeaders []string

	// RuntimeOptions configure the batching runtime.
	RuntimeOptions []braidrt.Option
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.AllowedOrigins = origins }
}
func WithMetadataHeaders(headers ...string) Option {
	return func(o *Options) { o.MetadataHeaders = headers }
}
func WithRuntimeOptions(opts ...braidrt.Option) Option {
	return func(o *Options) { o.RuntimeOptions = append(o.RuntimeOptions, opts...) }
}

// New creates a handler for g.
func New(g Gateway, opts ...Option) *Handler {
	op := Options{Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	h := &Handler{
		schema: g.Schema(),
		exec:   executor.NewExecutor(g.Runtime(op.RuntimeOptions...), g.ExecutableSchema()),
		opt:    op,
	}
	h.next = http.HandlerFunc(h.serve)
	if len(op.AllowedOrigins) > 0 {
		h.next = cors.New(cors.Options{
			AllowedOrigins: op.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{reqid.Header},
		}).Handler(h.next)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, rid := reqid.FromRequest(r)
	w.Header().Set(reqid.Header, rid)

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: rec.status, Duration: time.Since(start)})
	}()
	h.next.ServeHTTP(rec, r.WithContext(ctx))
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse("method not allowed"), h.opt.Pretty)
		return
	}

	md := metadata.MD{}
	if len(h.opt.MetadataHeaders) > 0 {
		allowed := make(map[string]struct{}, len(h.opt.MetadataHeaders))
		for _, hdr := range h.opt.MetadataHeaders {
			allowed[strings.ToLower(hdr)] = struct{}{}
		}
		for k, v := range r.Header {
			if _, ok := allowed[strings.ToLower(k)]; ok {
				md[strings.ToLower(k)] = v
			}
		}
	}
	if rid, ok := reqid.FromContext(ctx); ok {
		md[RequestIDMetadata] = []string{rid}
	}
	ctx = metadata.NewOutgoingContext(ctx, md)

	req, batch, berr := parseRequest(r, h.opt.MaxBodyBytes)
	if berr != nil {
		status := http.StatusBadRequest
		if berr.Message == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse(berr.Message), h.opt.Pretty)
		return
	}

	if batch != nil {
		out := make([]Response, len(batch))
		for i := range batch {
			out[i] = h.executeOne(ctx, r.Method, batch[i])
		}
		writeJSON(w, http.StatusOK, out, h.opt.Pretty)
		return
	}
	writeJSON(w, http.StatusOK, h.executeOne(ctx, r.Method, req), h.opt.Pretty)
}

func (h *Handler) executeOne(ctx context.Context, method string, req Request) Response {
	doc, errs := language.LoadQuery(h.schema, req.Query)
	if len(errs) > 0 {
		return validationResponse(errs)
	}

	opDef := doc.Operations.ForName(req.OperationName)
	if opDef == nil && req.OperationName == "" && len(doc.Operations) == 1 {
		opDef = doc.Operations[0]
	}
	if opDef == nil {
		return errorResponse("unknown operation " + req.OperationName)
	}
	if method == http.MethodGet && opDef.Operation != language.Query {
		return errorResponse("only queries can be sent with GET")
	}
	opType := string(opDef.Operation)

	start := time.Now()
	eventbus.Publish(ctx, events.GraphQLStart{Query: req.Query, OperationName: req.OperationName, OperationType: opType})
	ctx = braid.WithSession(ctx, braid.NewSession())
	result := h.exec.ExecuteRequest(ctx, doc, req.OperationName, req.Variables, nil)
	finished := make([]error, len(result.Errors))
	for i := range result.Errors {
		finished[i] = result.Errors[i]
	}
	eventbus.Publish(ctx, events.GraphQLFinish{
		Query:         req.Query,
		OperationName: req.OperationName,
		OperationType: opType,
		Errors:        finished,
		Duration:      time.Since(start),
	})
	return toResponse(result)
}

// ------------------ Request parsing ------------------

type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

func parseRequest(r *http.Request, maxBody int64) (Request, []Request, *gqlerror.Error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return Request{}, nil, gqlerror.Errorf("missing 'query'")
		}
		vars := map[string]any{}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &vars); err != nil {
				return Request{}, nil, gqlerror.Errorf("invalid 'variables' JSON")
			}
		}
		op := r.URL.Query().Get("operationName")
		return Request{Query: q, Variables: vars, OperationName: op}, nil, nil
	}

	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return Request{}, nil, gqlerror.Errorf("unsupported Content-Type")
	}
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return Request{}, nil, gqlerror.Errorf("failed to read body")
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return Request{}, nil, gqlerror.Errorf(errBodyTooLargeMessage)
	}

	if len(body) > 0 && body[0] == '[' {
		var arr []Request
		if err := json.Unmarshal(body, &arr); err != nil {
			return Request{}, nil, gqlerror.Errorf("invalid JSON")
		}
		if len(arr) == 0 {
			return Request{}, nil, gqlerror.Errorf("empty batch")
		}
		return Request{}, arr, nil
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Request{}, nil, gqlerror.Errorf("invalid JSON")
	}
	if req.Query == "" {
		return Request{}, nil, gqlerror.Errorf("missing 'query'")
	}
	return req, nil, nil
}

// ------------------ Response formatting ------------------

// Response is the GraphQL response body.
type Response struct {
	Data   any            `json:"data"`
	Errors []*braid.Error `json:"errors,omitempty"`
}

func errorResponse(msg string) Response {
	return Response{Errors: []*braid.Error{{Message: msg}}}
}

func validationResponse(errs gqlerror.List) Response {
	out := Response{}
	for _, e := range errs {
		be := &braid.Error{Message: e.Message, Extensions: e.Extensions}
		for _, loc := range e.Locations {
			be.Locations = append(be.Locations, braid.Location{Line: loc.Line, Column: loc.Column})
		}
		out.Errors = append(out.Errors, be)
	}
	return out
}

func toResponse(res *executor.ExecutionResult) Response {
	out := Response{Data: res.Data}
	for _, e := range res.Errors {
		be := &braid.Error{Message: e.Message, Extensions: e.Extensions}
		for _, pe := range e.Path {
			be.Path = append(be.Path, pe)
		}
		out.Errors = append(out.Errors, be)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

const errBodyTooLargeMessage = "body too large"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
