package executor

import (
	"context"
	"errors"
	"fmt"
	"slices"

	language "github.com/hanpama/braid/internal/language"
	schema "github.com/hanpama/braid/internal/schema"
)

type Executor struct {
	runtime Runtime
	schema  *schema.Schema
}

func NewExecutor(runtime Runtime, schema *schema.Schema) *Executor {
	return &Executor{runtime: runtime, schema: schema}
}

type executionState struct {
	ctx       context.Context
	runtime   Runtime
	schema    *schema.Schema
	document  *language.QueryDocument
	operation *Operation
	variables map[string]any
	errors    []GraphQLError
	queue     []asyncTask
	// nulled holds positions already set to null; nothing below them is
	// resolved or written.
	nulled map[string]struct{}
}

type asyncTask struct {
	task ResolveTask
	// anchor is the nearest nullable position at or above the field. It is
	// nulled when a Non-Null field resolves to null.
	anchor Path
}

// pending marks a queued field in a partially built response.
type pending struct{}

// ExecuteRequest runs the operation of document selected by operationName.
// The document must already be validated against the schema.
func (e *Executor) ExecuteRequest(
	ctx context.Context,
	document *language.QueryDocument,
	operationName string,
	variableValues map[string]any,
	initialValue any,
) *ExecutionResult {
	op, err := selectOperation(document, operationName)
	if err != nil {
		return failed(err.Error())
	}
	variables, err := coerceVariables(e.schema, op, variableValues)
	if err != nil {
		return failed(err.Error())
	}

	var root *schema.Type
	switch op.Operation {
	case language.Query:
		root = e.schema.GetQueryType()
	case language.Mutation:
		root = e.schema.GetMutationType()
	case language.Subscription:
		root = e.schema.GetSubscriptionType()
	default:
		return failed(fmt.Sprintf("unsupported operation type: %s", op.Operation))
	}
	if root == nil {
		return failed(fmt.Sprintf("schema does not support %s operations", op.Operation))
	}

	s := &executionState{
		ctx:       ctx,
		runtime:   e.runtime,
		schema:    e.schema,
		document:  document,
		operation: &Operation{Definition: op, Document: document, Variables: variableValues},
		variables: variables,
		nulled:    map[string]struct{}{},
	}
	data := s.executeSelectionSet(root, op.SelectionSet, initialValue, Path{}, nil)
	for len(s.queue) > 0 {
		batch := s.dequeue()
		if len(batch) == 0 {
			break
		}
		results := s.resolveBatch(batch)
		for i, at := range batch {
			s.completeAsync(data, at, results[i])
		}
	}
	return &ExecutionResult{Data: data, Errors: s.errors}
}

func failed(msg string) *ExecutionResult {
	return &ExecutionResult{Errors: []GraphQLError{{Message: msg}}}
}

func selectOperation(doc *language.QueryDocument, name string) (*language.OperationDefinition, error) {
	if name != "" {
		if op := doc.Operations.ForName(name); op != nil {
			return op, nil
		}
		return nil, fmt.Errorf("unknown operation %q", name)
	}
	switch len(doc.Operations) {
	case 0:
		return nil, errors.New("document contains no operation")
	case 1:
		return doc.Operations[0], nil
	}
	return nil, errors.New("operation name is required for a document with several operations")
}

// dequeue takes the queued depth, dropping fields below nulled positions.
func (s *executionState) dequeue() []asyncTask {
	batch := s.queue[:0:0]
	for _, at := range s.queue {
		if !s.isNulled(at.task.Path) {
			batch = append(batch, at)
		}
	}
	s.queue = nil
	return batch
}

func (s *executionState) resolveBatch(batch []asyncTask) []AsyncResolveResult {
	tasks := make([]ResolveTask, len(batch))
	for i, at := range batch {
		tasks[i] = at.task
	}
	results := s.runtime.BatchResolveAsync(s.ctx, tasks)
	if len(results) == len(tasks) {
		return results
	}
	fixed := make([]AsyncResolveResult, len(tasks))
	for i := range fixed {
		if i < len(results) {
			fixed[i] = results[i]
			continue
		}
		fixed[i].Error = fmt.Errorf("runtime returned %d results for %d tasks", len(results), len(tasks))
	}
	return fixed
}

// executeSelectionSet expands the selections of one object value. anchor
// is where a null lands if the object itself must become null. It returns
// nil when a Non-Null field of a non-root object is null.
func (s *executionState) executeSelectionSet(objectType *schema.Type, set language.SelectionSet, value any, path, anchor Path) map[string]any {
	groups := collectFields(s, objectType, set)
	out := make(map[string]any, len(groups))
	for _, g := range groups {
		fieldPath := appendPath(path, g.responseName)
		name := g.fields[0].Name
		if name == "__typename" {
			out[g.responseName] = objectType.Name
			continue
		}
		def := objectType.Field(name)
		if def == nil {
			s.addError(fmt.Sprintf("Cannot query field %q on type %q", name, objectType.Name), fieldPath)
			continue
		}

		fieldAnchor := fieldPath
		if def.Type.IsNonNull() && len(path) > 0 {
			fieldAnchor = anchor
		}
		v := s.executeField(objectType, def, g, value, fieldPath, fieldAnchor)
		if isNullish(v) {
			if def.Type.IsNonNull() && len(path) > 0 {
				return nil
			}
			v = nil
		}
		out[g.responseName] = v
	}
	return out
}

func (s *executionState) executeField(parent *schema.Type, def *schema.Field, g fieldGroup, source any, path, anchor Path) any {
	task := ResolveTask{
		ObjectType:   parent.Name,
		Field:        def.Name,
		ResponseName: g.responseName,
		Fields:       g.fields,
		ReturnType:   def.Type,
		Path:         path,
		Operation:    s.operation,
		Source:       source,
		Args:         s.coerceArguments(def, g.fields[0].Arguments, path),
	}
	if def.Async {
		s.queue = append(s.queue, asyncTask{task: task, anchor: anchor})
		return pending{}
	}
	v, err := s.runtime.ResolveSync(s.ctx, task)
	if err != nil {
		s.addError(err.Error(), path)
		v = nil
	}
	return s.completeValue(def.Type, g.fields, v, path, anchor)
}

func (s *executionState) completeAsync(data map[string]any, at asyncTask, res AsyncResolveResult) {
	path := at.task.Path
	if s.isNulled(path) {
		return
	}
	for _, e := range res.Errors {
		e.Path = slices.Concat(path, e.Path)
		s.errors = append(s.errors, e)
	}

	var v any
	if res.Error != nil {
		s.addError(res.Error.Error(), path)
	} else {
		v = s.completeValue(at.task.ReturnType, at.task.Fields, res.Value, path, at.anchor)
	}
	if !isNullish(v) {
		setAt(data, path, v)
		return
	}
	target := path
	if at.task.ReturnType.IsNonNull() {
		target = at.anchor
		s.markNulled(target)
	}
	setAt(data, target, nil)
}

func (s *executionState) addError(msg string, path Path) {
	s.errors = append(s.errors, GraphQLError{Message: msg, Path: path})
}

func (s *executionState) hasErrorAt(path Path) bool {
	for _, e := range s.errors {
		if slices.Equal(e.Path, path) {
			return true
		}
	}
	return false
}

func (s *executionState) markNulled(p Path) {
	if len(p) > 0 {
		s.nulled[p.String()] = struct{}{}
	}
}

func (s *executionState) isNulled(p Path) bool {
	if len(s.nulled) == 0 {
		return false
	}
	for i := 1; i <= len(p); i++ {
		if _, ok := s.nulled[p[:i].String()]; ok {
			return true
		}
	}
	return false
}
