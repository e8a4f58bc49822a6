// Package executor runs GraphQL operations breadth first so that remote
// fields can be batched.
//
// Execution proceeds one depth at a time. Fields marked async in the
// schema are queued while a depth is expanded; fields that are not async
// are resolved at once through Runtime.ResolveSync and expanded in place.
// When a depth has been fully expanded, every queued field is handed to
// Runtime.BatchResolveAsync in a single call, and the results are
// completed, which may queue the next depth.
//
// Values are completed as GraphQL requires: lists element by element,
// leaves through Runtime.SerializeLeafValue and abstract values through
// Runtime.ResolveType. A null in a Non-Null position nulls the nearest
// nullable enclosing position; queued fields below a nulled position are
// dropped before they reach the runtime.
//
// Errors are collected with their response paths. A batch result may carry
// errors relative to its field, which are prefixed with the field's path.
package executor
