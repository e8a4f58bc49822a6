// Package local serves a backend from inside the gateway process. Queries
// are validated against the backend schema and run by the executor over a
// set of resolver functions.
package local

import (
	"context"
	"fmt"

	"github.com/hanpama/braid/internal/braid"
	executor "github.com/hanpama/braid/internal/executor"
	language "github.com/hanpama/braid/internal/language"
	schema "github.com/hanpama/braid/internal/schema"
)

// ResolverFunc resolves one field of a parent value.
type ResolverFunc func(ctx context.Context, source any, args map[string]any) (any, error)

// Resolvers are keyed by "Type.field". Fields without a resolver are read
// from map parents by field name.
type Resolvers map[string]ResolverFunc

// Backend is a braid.QueryFunction over an in-process schema.
type Backend struct {
	schema *language.Schema
	exec   *executor.Executor
}

var _ braid.QueryFunction = (*Backend)(nil)

func New(s *language.Schema, resolvers Resolvers) *Backend {
	rt := &runtime{resolvers: resolvers}
	return &Backend{
		schema: s,
		exec:   executor.NewExecutor(rt, schema.BuildFromAST(s, schema.RootFieldsAsync(s))),
	}
}

// Query validates and executes q. Validation failures are returned as
// backend errors. Data that is not an object fails the call.
func (b *Backend) Query(ctx context.Context, q *braid.Query) (*braid.QueryResult, error) {
	doc, errs := language.LoadQuery(b.schema, q.Text())
	if len(errs) > 0 {
		out := &braid.QueryResult{}
		for _, e := range errs {
			be := &braid.Error{Message: e.Message, Extensions: e.Extensions}
			for _, loc := range e.Locations {
				be.Locations = append(be.Locations, braid.Location{Line: loc.Line, Column: loc.Column})
			}
			out.Errors = append(out.Errors, be)
		}
		return out, nil
	}
	res := b.exec.ExecuteRequest(ctx, doc, q.OperationName, q.Variables, nil)
	out := &braid.QueryResult{}
	if res.Data != nil {
		data, ok := res.Data.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("local %s: unexpected result type %T", q.OperationName, res.Data)
		}
		out.Data = data
	}
	for _, e := range res.Errors {
		be := &braid.Error{Message: e.Message, Extensions: e.Extensions}
		for _, seg := range e.Path {
			be.Path = append(be.Path, seg)
		}
		out.Errors = append(out.Errors, be)
	}
	return out, nil
}

type runtime struct {
	resolvers Resolvers
}

func (r *runtime) resolve(ctx context.Context, task executor.ResolveTask) (any, error) {
	if fn, ok := r.resolvers[task.ObjectType+"."+task.Field]; ok {
		return fn(ctx, task.Source, task.Args)
	}
	if m, ok := task.Source.(map[string]any); ok {
		return m[task.Field], nil
	}
	return nil, nil
}

func (r *runtime) ResolveSync(ctx context.Context, task executor.ResolveTask) (any, error) {
	return r.resolve(ctx, task)
}

func (r *runtime) BatchResolveAsync(ctx context.Context, tasks []executor.ResolveTask) []executor.AsyncResolveResult {
	out := make([]executor.AsyncResolveResult, len(tasks))
	for i, t := range tasks {
		out[i].Value, out[i].Error = r.resolve(ctx, t)
	}
	return out
}

func (r *runtime) ResolveType(_ context.Context, abstractType string, value any) (string, error) {
	if m, ok := value.(map[string]any); ok {
		if name, ok := m[language.TypenameField].(string); ok {
			return name, nil
		}
	}
	return "", fmt.Errorf("cannot resolve concrete type of %s", abstractType)
}

func (r *runtime) ResolveUnionConcreteValue(_ context.Context, _ string, value any) (any, error) {
	return value, nil
}

func (r *runtime) ResolveInterfaceConcreteValue(_ context.Context, _ string, value any) (any, error) {
	return value, nil
}

func (r *runtime) SerializeLeafValue(_ context.Context, _ string, value any) (any, error) {
	return value, nil
}
