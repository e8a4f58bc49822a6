package braid

import (
	"fmt"
	"reflect"
	"sync"

	language "github.com/hanpama/braid/internal/language"
)

// FieldKey identifies a field of the merged operation by its alias.
type FieldKey string

// counterSeed keeps generated suffixes clear of caller variable names such
// as $id1.
const counterSeed = 99

// Context accumulates the merged operation of one batch. It is created by
// the Loader for a single tick and discarded after the results are split.
type Context struct {
	mu           sync.Mutex
	counter      int
	name         string
	kind         language.Operation
	fields       language.SelectionSet
	variableDefs language.VariableDefinitionList
	variables    map[string]any
	fragments    language.FragmentDefinitionList
	shortCircuit map[FieldKey]any
	missing      map[string][]*language.Field
	session      *Session
}

func newContext(name string, kind language.Operation, session *Session) *Context {
	return &Context{
		counter:      counterSeed,
		name:         name,
		kind:         kind,
		variables:    map[string]any{},
		shortCircuit: map[FieldKey]any{},
		missing:      map[string][]*language.Field{},
		session:      session,
	}
}

// Next returns a fresh suffix. The first value is 100.
func (c *Context) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	return c.counter
}

// AddVariable adds a variable to the merged operation. Adding a name again
// with the same type and value is a no-op; anything else fails with
// ErrVariableConflict.
func (c *Context) AddVariable(def *language.VariableDefinition, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev := c.variableDefs.ForName(def.Variable); prev != nil {
		if prev.Type.String() != def.Type.String() || !reflect.DeepEqual(c.variables[def.Variable], value) {
			return fmt.Errorf("%w: $%s", ErrVariableConflict, def.Variable)
		}
		return nil
	}
	c.variableDefs = append(c.variableDefs, def)
	c.variables[def.Variable] = value
	return nil
}

// AddField appends a root field to the merged operation.
func (c *Context) AddField(f *language.Field) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fields = append(c.fields, f)
}

// AddFragments adds fragment definitions, skipping names already present.
func (c *Context) AddFragments(fds ...*language.FragmentDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, fd := range fds {
		if c.fragments.ForName(fd.Name) == nil {
			c.fragments = append(c.fragments, fd)
		}
	}
}

// ShortCircuit sets the value of key without fetching it.
func (c *Context) ShortCircuit(key FieldKey, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shortCircuit[key] = value
}

// IsShortCircuited reports whether key has a value set by ShortCircuit.
func (c *Context) IsShortCircuited(key FieldKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.shortCircuit[key]
	return ok
}

// Session returns the session of the batch, which may be nil.
func (c *Context) Session() *Session { return c.session }

// MissingFields returns the fields of typeName removed from this batch's
// query because the backend does not declare them.
func (c *Context) MissingFields(typeName string) []*language.Field {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*language.Field(nil), c.missing[typeName]...)
}

func (c *Context) addMissing(typeName string, fields []*language.Field) {
	c.mu.Lock()
	c.missing[typeName] = appendUnique(c.missing[typeName], fields)
	c.mu.Unlock()
}

// document builds the merged operation. The returned document and variables
// are owned by the caller.
func (c *Context) document() (*language.QueryDocument, map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	op := &language.OperationDefinition{
		Operation:           c.kind,
		Name:                c.name,
		VariableDefinitions: append(language.VariableDefinitionList(nil), c.variableDefs...),
		SelectionSet:        append(language.SelectionSet(nil), c.fields...),
	}
	vars := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		vars[k] = v
	}
	doc := &language.QueryDocument{
		Operations: language.OperationList{op},
		Fragments:  append(language.FragmentDefinitionList(nil), c.fragments...),
	}
	return doc, vars
}

func (c *Context) shortCircuited() map[FieldKey]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[FieldKey]any, len(c.shortCircuit))
	for k, v := range c.shortCircuit {
		out[k] = v
	}
	return out
}
