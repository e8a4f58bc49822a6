// Package braidrt implements executor.Runtime over braid loaders.
//
// Values fetched from backends are plain JSON maps keyed by response name,
// so sync fields are read straight from their parent. Every async field is
// routed to the loader of its coordinate, and all tasks of one route at one
// depth are loaded as a single batch. Within one operation, a request equal
// to one already loaded is answered from the loader's cache.
package braidrt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/graph-gophers/dataloader"
	"golang.org/x/sync/errgroup"

	"github.com/hanpama/braid/internal/braid"
	executor "github.com/hanpama/braid/internal/executor"
	language "github.com/hanpama/braid/internal/language"
	"github.com/hanpama/braid/internal/link"
	schema "github.com/hanpama/braid/internal/schema"
)

// RouteKind tells how tasks of a route become braid requests.
type RouteKind int

const (
	// TopLevel forwards a root field with the caller's operation kind.
	TopLevel RouteKind = iota
	// Link resolves a link field with a query to the target backend.
	Link
	// Extension resolves the fields another backend adds to a type. Tasks
	// of one parent object share a single request.
	Extension
)

// Coordinate names a field of the composed schema.
type Coordinate struct {
	Type  string
	Field string
}

func (c Coordinate) String() string { return c.Type + "." + c.Field }

// Route is where the async field of one coordinate is loaded from.
type Route struct {
	// Group is the batch the field joins. Every extension field of one type
	// shares a group.
	Group  string
	Kind   RouteKind
	Loader braid.BatchLoader
}

// Table maps composed field coordinates to routes.
type Table map[Coordinate]Route

// Runtime is safe for concurrent operations.
type Runtime struct {
	routes  Table
	schema  *language.Schema
	renames []link.TypeRenames
	wait    time.Duration
}

var _ executor.Runtime = (*Runtime)(nil)

type Option func(*Runtime)

// WithSchema sets the composed schema ResolveType checks concrete types
// against.
func WithSchema(s *language.Schema) Option {
	return func(r *Runtime) { r.schema = s }
}

// WithTypeRenames lets ResolveType map backend type names reported in
// __typename to composed names.
func WithTypeRenames(renames ...link.TypeRenames) Option {
	return func(r *Runtime) { r.renames = append(r.renames, renames...) }
}

// WithWait sets how long a route's loader collects requests before it
// dispatches them. Requests for the same route made concurrently within
// one operation join one batch when they arrive inside the window.
func WithWait(d time.Duration) Option {
	return func(r *Runtime) { r.wait = d }
}

func New(routes Table, opts ...Option) *Runtime {
	r := &Runtime{routes: routes, wait: 2 * time.Millisecond}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveSync reads the field from its parent value. Fetched objects are
// keyed by response name, so aliases resolve to their own values.
func (r *Runtime) ResolveSync(_ context.Context, task executor.ResolveTask) (any, error) {
	m, ok := task.Source.(map[string]any)
	if !ok {
		return nil, nil
	}
	return m[task.ResponseName], nil
}

// BatchResolveAsync groups tasks by route and loads the groups
// concurrently. Results are written into the slot of their task.
func (r *Runtime) BatchResolveAsync(ctx context.Context, tasks []executor.ResolveTask) []executor.AsyncResolveResult {
	results := make([]executor.AsyncResolveResult, len(tasks))
	type group struct {
		route Route
		idxs  []int
	}
	var groups []*group
	byName := map[string]*group{}
	for i, t := range tasks {
		route, ok := r.routes[Coordinate{Type: t.ObjectType, Field: t.Field}]
		if !ok {
			results[i].Error = fmt.Errorf("no route for %s.%s", t.ObjectType, t.Field)
			continue
		}
		g := byName[route.Group]
		if g == nil {
			g = &group{route: route}
			byName[route.Group] = g
			groups = append(groups, g)
		}
		g.idxs = append(g.idxs, i)
	}

	session := braid.SessionFrom(ctx)
	var eg errgroup.Group
	for _, g := range groups {
		eg.Go(func() error {
			if g.route.Kind == Extension {
				r.loadExtensions(ctx, session, g.route, tasks, g.idxs, results)
			} else {
				r.loadFields(ctx, session, g.route, tasks, g.idxs, results)
			}
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

func (r *Runtime) loadFields(ctx context.Context, session *braid.Session, route Route, tasks []executor.ResolveTask, idxs []int, results []executor.AsyncResolveResult) {
	reqs := make([]*braid.Request, len(idxs))
	for j, i := range idxs {
		reqs[j] = newRequest(tasks[i], route.Kind, session)
	}
	values, errs := r.load(ctx, session, route, reqs)
	for j, i := range idxs {
		if errs[j] != nil {
			results[i].Error = errs[j]
			continue
		}
		results[i].Value = values[j].Data
		results[i].Errors = graphQLErrors(values[j].Errors)
	}
}

// loadExtensions sends one request per parent object. The request selects
// the fields of every task on that object, and each task takes its own
// response name from the fetched object.
func (r *Runtime) loadExtensions(ctx context.Context, session *braid.Session, route Route, tasks []executor.ResolveTask, idxs []int, results []executor.AsyncResolveResult) {
	keys := parentKeys(tasks, idxs)
	var (
		reqs    []*braid.Request
		members [][]int
	)
	slot := map[string]int{}
	for j, i := range idxs {
		t := tasks[i]
		k, seen := slot[keys[j]]
		if !seen {
			k = len(reqs)
			slot[keys[j]] = k
			reqs = append(reqs, newRequest(t, Extension, session))
			members = append(members, nil)
		} else {
			reqs[k].Fields = append(reqs[k].Fields, t.Fields...)
		}
		members[k] = append(members[k], i)
	}

	values, errs := r.load(ctx, session, route, reqs)
	for k, idxsOfReq := range members {
		if errs[k] != nil {
			for _, i := range idxsOfReq {
				results[i].Error = errs[k]
			}
			continue
		}
		obj, _ := values[k].Data.(map[string]any)
		names := map[string]bool{}
		for _, i := range idxsOfReq {
			names[tasks[i].ResponseName] = true
		}
		owned := map[string][]executor.GraphQLError{}
		var shared []executor.GraphQLError
		for _, e := range values[k].Errors {
			ge := graphQLError(e)
			if len(ge.Path) > 0 {
				if seg, ok := ge.Path[0].(string); ok && names[seg] {
					ge.Path = ge.Path[1:]
					owned[seg] = append(owned[seg], ge)
					continue
				}
			}
			shared = append(shared, ge)
		}
		for n, i := range idxsOfReq {
			name := tasks[i].ResponseName
			results[i].Value = obj[name]
			results[i].Errors = owned[name]
			if n == 0 {
				results[i].Errors = append(results[i].Errors, shared...)
			}
		}
	}
}

type requestKey struct {
	id  string
	req *braid.Request
}

func (k requestKey) String() string   { return k.id }
func (k requestKey) Raw() interface{} { return k.req }

type loaderKey struct {
	rt    *Runtime
	group string
}

// loader returns the route's loader for session. Loaders live as long as
// their session and cache results by request content, so a request repeated
// within one operation is sent once. Without a session every call gets its
// own loader.
func (r *Runtime) loader(session *braid.Session, route Route, size int) *dataloader.Loader {
	if session == nil {
		return r.newLoader(route, dataloader.WithBatchCapacity(size))
	}
	return session.Value(loaderKey{rt: r, group: route.Group}, func() any {
		return r.newLoader(route)
	}).(*dataloader.Loader)
}

func (r *Runtime) newLoader(route Route, opts ...dataloader.Option) *dataloader.Loader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		batch := make([]*braid.Request, len(keys))
		for i, k := range keys {
			batch[i] = k.Raw().(*braid.Request)
		}
		out := make([]*dataloader.Result, len(keys))
		res, err := route.Loader.Load(ctx, batch)
		if err == nil && len(res) != len(batch) {
			err = fmt.Errorf("loader returned %d results for %d requests", len(res), len(batch))
		}
		for i := range out {
			if err != nil {
				out[i] = &dataloader.Result{Error: err}
			} else {
				out[i] = &dataloader.Result{Data: res[i]}
			}
		}
		return out
	}
	opts = append([]dataloader.Option{
		dataloader.WithWait(r.wait),
		dataloader.WithCache(dataloader.NewCache()),
	}, opts...)
	return dataloader.NewBatchedLoader(batchFn, opts...)
}

// load runs reqs through the route's loader. Requests with equal content
// share one result. A batch failure is reported for each request.
func (r *Runtime) load(ctx context.Context, session *braid.Session, route Route, reqs []*braid.Request) ([]braid.Result, []error) {
	ids := contentKeys(reqs)
	unique := map[string]bool{}
	for _, id := range ids {
		unique[id] = true
	}
	loader := r.loader(session, route, len(unique))
	thunks := make([]dataloader.Thunk, len(reqs))
	for i, req := range reqs {
		thunks[i] = loader.Load(ctx, requestKey{id: ids[i], req: req})
	}
	values := make([]braid.Result, len(reqs))
	errs := make([]error, len(reqs))
	for i, thunk := range thunks {
		v, err := thunk()
		if err != nil {
			errs[i] = err
			continue
		}
		values[i], _ = v.(braid.Result)
	}
	return values, errs
}

// contentKeys hashes what the result of each request depends on: the
// operation kind, the parent type, the selected field nodes, the source
// value and the arguments. Tasks at different paths that select the same
// nodes from equal parents get equal keys.
func contentKeys(reqs []*braid.Request) []string {
	out := make([]string, len(reqs))
	for i, req := range reqs {
		h := xxhash.New()
		fmt.Fprintf(h, "%s\x00%s\x00", req.Operation.Kind, req.ParentType)
		for _, f := range req.Fields {
			fmt.Fprintf(h, "%p\x00", f)
		}
		src, err := json.Marshal(req.Source)
		if err == nil {
			var args []byte
			if args, err = json.Marshal(req.Args); err == nil {
				_, _ = h.Write(src)
				_, _ = h.Write([]byte{0})
				_, _ = h.Write(args)
			}
		}
		if err != nil {
			fmt.Fprintf(h, "%p", req)
		}
		out[i] = strconv.FormatUint(h.Sum64(), 16)
	}
	return out
}

// parentKeys hashes the response path of each task's parent object.
func parentKeys(tasks []executor.ResolveTask, idxs []int) []string {
	out := make([]string, len(idxs))
	for j, i := range idxs {
		p := tasks[i].Path
		if len(p) > 0 {
			p = p[:len(p)-1]
		}
		var b strings.Builder
		for _, seg := range p {
			b.WriteByte('/')
			fmt.Fprint(&b, seg)
		}
		out[j] = strconv.FormatUint(xxhash.Sum64String(b.String()), 16)
	}
	return out
}

func newRequest(t executor.ResolveTask, kind RouteKind, session *braid.Session) *braid.Request {
	op := &braid.Operation{Kind: language.Query, Variables: map[string]any{}}
	if t.Operation != nil {
		op.Definition = t.Operation.Definition
		op.Variables = t.Operation.Variables
		if t.Operation.Document != nil {
			op.Fragments = t.Operation.Document.Fragments
		}
		if kind == TopLevel && op.Definition != nil {
			op.Kind = op.Definition.Operation
		}
	}
	if op.Definition == nil {
		op.Definition = &language.OperationDefinition{Operation: op.Kind}
	}
	returnType := astType(t.ReturnType)
	if kind == Extension {
		returnType = &language.Type{NamedType: t.ObjectType}
	}
	return &braid.Request{
		Fields:     append([]*language.Field(nil), t.Fields...),
		ParentType: t.ObjectType,
		ReturnType: returnType,
		Source:     t.Source,
		Args:       t.Args,
		Path:       append([]any(nil), t.Path...),
		Operation:  op,
		Session:    session,
	}
}

func astType(ref *schema.TypeRef) *language.Type {
	if ref == nil {
		return nil
	}
	switch ref.Kind {
	case schema.TypeRefKindNonNull:
		t := astType(ref.OfType)
		if t != nil {
			t.NonNull = true
		}
		return t
	case schema.TypeRefKindList:
		return &language.Type{Elem: astType(ref.OfType)}
	}
	return &language.Type{NamedType: ref.Named}
}

func graphQLErrors(errs []*braid.Error) []executor.GraphQLError {
	if len(errs) == 0 {
		return nil
	}
	out := make([]executor.GraphQLError, len(errs))
	for i, e := range errs {
		out[i] = graphQLError(e)
	}
	return out
}

func graphQLError(e *braid.Error) executor.GraphQLError {
	ge := executor.GraphQLError{Message: e.Message, Extensions: e.Extensions}
	for _, seg := range e.Path {
		ge.Path = append(ge.Path, seg)
	}
	return ge
}

// ResolveType reads __typename. Backend type names are mapped to composed
// names when the backend renamed them.
func (r *Runtime) ResolveType(_ context.Context, abstractType string, value any) (string, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return "", fmt.Errorf("cannot resolve %s from %T", abstractType, value)
	}
	name, _ := m[language.TypenameField].(string)
	if name == "" {
		return "", fmt.Errorf("value of %s has no %s", abstractType, language.TypenameField)
	}
	if r.isPossible(abstractType, name) {
		return name, nil
	}
	for _, rs := range r.renames {
		if renamed := rs.ToBraid(name); renamed != name && r.isPossible(abstractType, renamed) {
			return renamed, nil
		}
	}
	return "", fmt.Errorf("%s is not a possible type of %s", name, abstractType)
}

func (r *Runtime) isPossible(abstractType, name string) bool {
	if r.schema == nil {
		return true
	}
	def := r.schema.Types[abstractType]
	if def == nil {
		return false
	}
	for _, p := range r.schema.GetPossibleTypes(def) {
		if p.Name == name {
			return true
		}
	}
	return false
}

func (r *Runtime) ResolveUnionConcreteValue(_ context.Context, _ string, value any) (any, error) {
	return value, nil
}

func (r *Runtime) ResolveInterfaceConcreteValue(_ context.Context, _ string, value any) (any, error) {
	return value, nil
}

// SerializeLeafValue passes JSON values through. Whole JSON numbers of Int
// fields become int64; bytes are base64 encoded.
func (r *Runtime) SerializeLeafValue(_ context.Context, typeName string, value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case float64:
		if typeName == "Int" && v == math.Trunc(v) {
			return int64(v), nil
		}
		return v, nil
	case []byte:
		return base64.StdEncoding.EncodeToString(v), nil
	default:
		return v, nil
	}
}
