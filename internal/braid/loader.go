package braid

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	eventbus "github.com/hanpama/braid/internal/eventbus"
	events "github.com/hanpama/braid/internal/events"
	language "github.com/hanpama/braid/internal/language"
	"github.com/hanpama/braid/internal/rewrite"
)

// BatchLoader resolves a batch of requests. Results are in request order.
type BatchLoader interface {
	Load(ctx context.Context, reqs []*Request) ([]Result, error)
}

// Loader sends each batch of requests for one field coordinate to its
// backend as a single query.
type Loader struct {
	backend        *Backend
	transformation FieldTransformation
	outputType     string
}

type LoaderOption func(*Loader)

// WithOutputType names the merged operation Bulk_<name> instead of after the
// backend name of the requests' return type.
func WithOutputType(name string) LoaderOption {
	return func(l *Loader) { l.outputType = name }
}

func NewLoader(backend *Backend, t FieldTransformation, opts ...LoaderOption) *Loader {
	l := &Loader{backend: backend, transformation: t}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load resolves reqs with one backend query per partition. Invariant
// violations, argument lookup failures and transport failures fail the whole
// batch; errors reported by the backend are attributed to requests.
func (l *Loader) Load(ctx context.Context, reqs []*Request) ([]Result, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	if err := checkBatch(reqs); err != nil {
		return nil, err
	}
	return l.backend.partition()(ctx, reqs, l.load)
}

func checkBatch(reqs []*Request) error {
	first := reqs[0]
	if first.Operation == nil {
		return fmt.Errorf("%w: request %s has no operation", ErrBatchInvariant, first.ResponseName())
	}
	outType := language.NamedType(first.ReturnType)
	for _, r := range reqs[1:] {
		switch {
		case r.Session != first.Session:
			return fmt.Errorf("%w: requests from different sessions", ErrBatchInvariant)
		case r.Operation == nil || r.Operation.Kind != first.Operation.Kind:
			return fmt.Errorf("%w: requests from different operation types", ErrBatchInvariant)
		case language.NamedType(r.ReturnType) != outType:
			return fmt.Errorf("%w: output types %s and %s differ", ErrBatchInvariant, outType, language.NamedType(r.ReturnType))
		}
	}
	return nil
}

func (l *Loader) operationName(req *Request) string {
	if l.outputType != "" {
		return "Bulk_" + l.outputType
	}
	return "Bulk_" + l.backend.TypeRenames.ToSource(language.NamedType(req.ReturnType))
}

func (l *Loader) load(ctx context.Context, reqs []*Request) (results []Result, err error) {
	start := time.Now()
	first := reqs[0]
	name := l.operationName(first)
	fc := newContext(name, first.Operation.Kind, first.Session)

	finish := events.BatchFinish{Namespace: l.backend.Namespace, OperationName: name, Size: len(reqs)}
	eventbus.Publish(ctx, events.BatchStart{Namespace: l.backend.Namespace, OperationName: name, Size: len(reqs)})
	defer func() {
		finish.Err = err
		finish.Duration = time.Since(start)
		eventbus.Publish(ctx, finish)
	}()

	values := make([][]ArgumentValues, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		g.Go(func() error {
			v, err := l.transformation.Resolve(gctx, req)
			values[i] = v
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	keys := make([][]FieldKey, len(reqs))
	owner := map[FieldKey]int{}
	for i, req := range reqs {
		fields, err := l.transformation.Apply(req, values[i], fc)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", req.ParentType, req.Field().Name, err)
		}
		for _, f := range fields {
			key := FieldKey(language.ResponseName(f))
			keys[i] = append(keys[i], key)
			owner[key] = i
			if fc.IsShortCircuited(key) {
				finish.ShortCircuited++
				continue
			}
			fc.AddField(f)
		}
	}

	doc, vars := fc.document()
	// The mapper is configured with backend type names, so type conditions
	// are renamed to the backend's names before it runs.
	rewrite.RenameTypes(doc, l.backend.TypeRenames.ToSource)
	inverse := func(data map[string]any) map[string]any { return data }
	if l.backend.Mapper != nil {
		mapped, err := l.backend.Mapper.MapDocument(doc)
		if err != nil {
			return nil, err
		}
		doc, inverse = mapped.Document, mapped.ResultMapper
	}
	l.recordMissing(fc, rewrite.RemoveUnknownFields(doc, l.backend.Schema, l.backend.TypeRenames.ToBraid))
	op := doc.Operations[0]
	doc.Fragments = rewrite.FragmentClosure(op.SelectionSet, doc.Fragments)
	rewrite.PruneVariables(op, doc.Fragments, vars)
	finish.Fields = len(op.SelectionSet)

	data := map[string]any{}
	var backendErrors []*Error
	if len(op.SelectionSet) > 0 {
		finish.Remote = true
		res, err := l.query(ctx, &Query{Document: doc, OperationName: name, Variables: vars}, len(op.SelectionSet))
		if err != nil {
			return nil, fmt.Errorf("%s on %s: %w", name, l.backend.Namespace, err)
		}
		if res != nil {
			if res.Data != nil {
				data = res.Data
			}
			backendErrors = res.Errors
		}
	}
	for key, v := range fc.shortCircuited() {
		data[string(key)] = v
	}
	data = inverse(data)

	results = split(reqs, keys, owner, data, backendErrors)
	for i, req := range reqs {
		results[i] = l.transformation.Unapply(req, results[i])
	}
	return results, nil
}

func (l *Loader) query(ctx context.Context, q *Query, fields int) (res *QueryResult, err error) {
	start := time.Now()
	eventbus.Publish(ctx, events.BackendQueryStart{Namespace: l.backend.Namespace, OperationName: q.OperationName, Fields: fields})
	defer func() {
		finish := events.BackendQueryFinish{Namespace: l.backend.Namespace, OperationName: q.OperationName, Err: err, Duration: time.Since(start)}
		if res != nil {
			finish.ErrorCount = len(res.Errors)
		}
		eventbus.Publish(ctx, finish)
	}()
	return l.backend.Query.Query(ctx, q)
}

// recordMissing keeps the removed fields an extension query can select
// as is: those without variables or fragments.
func (l *Loader) recordMissing(fc *Context, removed map[string][]*language.Field) {
	types := make([]string, 0, len(removed))
	for typeName := range removed {
		types = append(types, typeName)
	}
	sort.Strings(types)
	for _, typeName := range types {
		var plain []*language.Field
		for _, f := range removed[typeName] {
			if isPlainField(f) {
				plain = append(plain, f)
			}
		}
		if len(plain) == 0 {
			continue
		}
		fc.addMissing(typeName, plain)
		fc.Session().AddMissingFields(typeName, plain)
	}
}

func isPlainField(f *language.Field) bool {
	for _, a := range f.Arguments {
		if hasVariable(a.Value) {
			return false
		}
	}
	if len(f.Directives) > 0 {
		return false
	}
	for _, sel := range f.SelectionSet {
		child, ok := sel.(*language.Field)
		if !ok || !isPlainField(child) {
			return false
		}
	}
	return true
}

func hasVariable(v *language.Value) bool {
	if v == nil {
		return false
	}
	if v.Kind == language.Variable {
		return true
	}
	for _, c := range v.Children {
		if hasVariable(c.Value) {
			return true
		}
	}
	return false
}

// split assigns data and errors to requests by alias. An error whose path
// starts at one of a request's aliases belongs to that request, with the
// alias dropped from its path, or replaced by the element index when the
// request fanned out. An error without a path belongs to every request.
// Errors whose path starts anywhere else are dropped.
func split(reqs []*Request, keys [][]FieldKey, owner map[FieldKey]int, data map[string]any, errs []*Error) []Result {
	results := make([]Result, len(reqs))
	for i, req := range reqs {
		switch len(keys[i]) {
		case 0:
			if req.isList() {
				results[i].Data = []any{}
			}
		case 1:
			results[i].Data = data[string(keys[i][0])]
		default:
			if !req.isList() {
				results[i].Errors = append(results[i].Errors, errorf("%s resolved to %d values but is not a list", req.ResponseName(), len(keys[i])))
				continue
			}
			list := make([]any, len(keys[i]))
			for j, key := range keys[i] {
				list[j] = data[string(key)]
			}
			results[i].Data = list
		}
	}
	for _, e := range errs {
		if len(e.Path) == 0 {
			for j := range results {
				shared := *e
				shared.Path = nil
				results[j].Errors = append(results[j].Errors, &shared)
			}
			continue
		}
		seg, _ := e.Path[0].(string)
		i, ok := owner[FieldKey(seg)]
		if !ok {
			continue
		}
		rel := append([]any(nil), e.Path[1:]...)
		if len(keys[i]) > 1 {
			for j, key := range keys[i] {
				if string(key) == seg {
					rel = append([]any{j}, rel...)
					break
				}
			}
		}
		owned := *e
		owned.Path = rel
		results[i].Errors = append(results[i].Errors, &owned)
	}
	return results
}
