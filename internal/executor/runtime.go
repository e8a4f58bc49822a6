package executor

import (
	"context"

	language "github.com/hanpama/braid/internal/language"
	schema "github.com/hanpama/braid/internal/schema"
)

// Runtime is the host integration surface the Executor resolves fields
// through.
//
// General contract
//   - Execution is breadth-first. At each depth the Executor drains
//     synchronous fields via ResolveSync, then calls BatchResolveAsync once
//     with every async task collected at that depth. The next depth starts
//     only after those results are completed.
//   - ResolveSync is never invoked for async fields, and BatchResolveAsync is
//     only invoked with at least one task.
//   - Returned errors become located GraphQL errors. A Non-Null field that
//     errors nulls its nearest nullable ancestor.
//   - Implementations must be safe for concurrent operations and must not
//     mutate task sources, arguments or field nodes.
//
// Abstract types and leaf values
//   - ResolveType returns the concrete type name for interface and union
//     values.
//   - SerializeLeafValue coerces scalars and enums into JSON-safe Go values.
//
// Partial success
//   - BatchResolveAsync returns one result per task, in task order. A failure
//     in one result does not affect the others. A result may carry a value
//     together with errors located below the task's field.
type Runtime interface {
	// ResolveSync resolves a field that needs no remote call. Return (nil, nil)
	// for a GraphQL null.
	ResolveSync(ctx context.Context, task ResolveTask) (any, error)

	// BatchResolveAsync resolves one depth of async fields. Implementations
	// may regroup tasks by field coordinate or backend, but must return
	// len(tasks) results with results[i] answering tasks[i].
	BatchResolveAsync(ctx context.Context, tasks []ResolveTask) []AsyncResolveResult

	// ResolveType returns the concrete type of a value of abstractType.
	ResolveType(ctx context.Context, abstractType string, value any) (string, error)

	// ResolveUnionConcreteValue converts a union envelope value into its
	// concrete representation prior to completion.
	ResolveUnionConcreteValue(ctx context.Context, unionTypeName string, value any) (any, error)

	// ResolveInterfaceConcreteValue converts an interface envelope value into
	// its concrete representation prior to completion.
	ResolveInterfaceConcreteValue(ctx context.Context, interfaceTypeName string, value any) (any, error)

	// SerializeLeafValue serializes a scalar or enum value. Enums serialize to
	// their symbolic name.
	SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error)
}

// Operation is the operation a task was collected from.
type Operation struct {
	Definition *language.OperationDefinition
	Document   *language.QueryDocument
	// Variables are the raw values sent with the request, before coercion.
	Variables map[string]any
}

// ResolveTask is one field instance to resolve.
type ResolveTask struct {
	// ObjectType is the parent object type name.
	ObjectType string
	// Field is the field name.
	Field string
	// ResponseName is the key the value is written under.
	ResponseName string
	// Fields are the field nodes merged under ResponseName.
	Fields []*language.Field
	// ReturnType is the declared type of the field.
	ReturnType *schema.TypeRef
	// Path is the response path of the field.
	Path Path
	// Operation is shared by every task of one request.
	Operation *Operation
	// Source is the parent object value, nil for root fields.
	Source any
	// Args are the field arguments, coerced per the schema.
	Args map[string]any
}

type AsyncResolveResult struct {
	// Value is the resolved raw value prior to completion, or nil on error.
	Value any
	// Error fails this element only. Other elements of the batch are
	// unaffected.
	Error error
	// Errors are reported alongside Value. Their paths are relative to the
	// task's field.
	Errors []GraphQLError
}
