// Package compose merges backend schemas into the schema the gateway
// serves, and wires every field that needs a backend call to a braid
// loader.
//
// Root fields of every backend are merged into Query and Mutation. Other
// types keep their backend definition under their composed name; two
// backends may only share a scalar. Links replace or add fields whose value
// comes from another backend's root field, and extensions copy the fields of
// another backend's type onto an existing type.
package compose

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hanpama/braid/internal/braid"
	"github.com/hanpama/braid/internal/braidrt"
	executor "github.com/hanpama/braid/internal/executor"
	"github.com/hanpama/braid/internal/introspection"
	language "github.com/hanpama/braid/internal/language"
	"github.com/hanpama/braid/internal/link"
	"github.com/hanpama/braid/internal/mapper"
	"github.com/hanpama/braid/internal/rewrite"
	schema "github.com/hanpama/braid/internal/schema"
)

var (
	// ErrTypeConflict is returned when two backends define the same type.
	ErrTypeConflict = errors.New("type defined by more than one backend")
	// ErrFieldConflict is returned when two backends define the same root field.
	ErrFieldConflict = errors.New("root field defined by more than one backend")
	// ErrUnknownBackend is returned when a link or extension names a
	// namespace that is not composed.
	ErrUnknownBackend = errors.New("unknown backend")
)

// Source is one backend to compose.
type Source struct {
	Namespace string
	// Schema is the backend's schema with its own type names.
	Schema      *language.Schema
	Query       braid.QueryFunction
	TypeRenames link.TypeRenames
	// QueryFieldRenames and MutationFieldRenames rename root fields.
	QueryFieldRenames    []link.FieldRename
	MutationFieldRenames []link.FieldRename
	Links                []*link.Link
	Extensions           []link.Extension
	Mapper               *mapper.Mapper
	Partition            braid.PartitionFunc
	// Switch routes each request to one of several query functions instead
	// of Query.
	Switch *Switch
}

// Switch selects a delegate query function per request.
type Switch struct {
	Selector  braid.Selector
	Delegates map[string]braid.QueryFunction
}

type Option func(*composer)

// WithArgumentValueProvider sets the provider complex links resolve their
// arguments with.
func WithArgumentValueProvider(p braid.ArgumentValueProvider) Option {
	return func(c *composer) { c.provider = p }
}

// Gateway is a composed schema and the routes of its remote fields.
type Gateway struct {
	schema     *language.Schema
	executable *schema.Schema
	routes     braidrt.Table
	renames    []link.TypeRenames
}

// Schema returns the validated composed schema.
func (g *Gateway) Schema() *language.Schema { return g.schema }

// ExecutableSchema returns the schema the executor runs against. Fields
// with a route are async.
func (g *Gateway) ExecutableSchema() *schema.Schema { return g.executable }

// Routes returns the route of every remote field.
func (g *Gateway) Routes() braidrt.Table { return g.routes }

// SDL prints the composed schema without built-in definitions.
func (g *Gateway) SDL() string { return language.FormatSchema(g.schema) }

// Runtime returns a runtime that answers introspection locally and loads
// every other async field through its route.
func (g *Gateway) Runtime(opts ...braidrt.Option) executor.Runtime {
	opts = append([]braidrt.Option{
		braidrt.WithSchema(g.schema),
		braidrt.WithTypeRenames(g.renames...),
	}, opts...)
	return introspection.Wrap(braidrt.New(g.routes, opts...), g.schema)
}

// Compose validates sources and builds the gateway. Sources are merged in
// order; errors name the backend and element at fault.
func Compose(sources []*Source, opts ...Option) (*Gateway, error) {
	c := &composer{
		sources:    map[string]*Source{},
		rootFields: map[braidrt.Coordinate]rootField{},
		types:      map[string]*language.Definition{},
		owner:      map[string]string{},
		dirs:       map[string]*language.DirectiveDefinition{},
		links:      map[braidrt.Coordinate]*link.Link{},
		exts:       map[string]link.Extension{},
		extFields:  map[braidrt.Coordinate]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, src := range sources {
		if src.Namespace == "" || src.Schema == nil {
			return nil, errors.New("backend namespace and schema are required")
		}
		if _, dup := c.sources[src.Namespace]; dup {
			return nil, fmt.Errorf("backend %s configured twice", src.Namespace)
		}
		c.sources[src.Namespace] = src
		c.order = append(c.order, src)
	}
	for _, src := range c.order {
		if err := c.addTypes(src); err != nil {
			return nil, err
		}
	}
	for _, src := range c.order {
		for _, l := range src.Links {
			if err := c.addLink(src, l); err != nil {
				return nil, err
			}
		}
	}
	for _, src := range c.order {
		for _, ext := range src.Extensions {
			if err := c.addExtension(src, ext); err != nil {
				return nil, err
			}
		}
	}

	composed, err := language.LoadSchema("braid.graphql", language.FormatSchemaDocument(c.document()))
	if err != nil {
		return nil, fmt.Errorf("composed schema: %w", err)
	}
	g := &Gateway{schema: composed, routes: braidrt.Table{}}
	for _, src := range c.order {
		g.renames = append(g.renames, src.TypeRenames)
	}
	c.wire(g)
	g.executable = schema.BuildFromAST(composed, func(typeName, fieldName string) bool {
		_, ok := g.routes[braidrt.Coordinate{Type: typeName, Field: fieldName}]
		return ok
	})
	return g, nil
}

type rootField struct {
	source  *Source
	renames []link.FieldRename
}

type composer struct {
	provider braid.ArgumentValueProvider
	sources  map[string]*Source
	order    []*Source

	query, mutation *language.Definition
	rootFields      map[braidrt.Coordinate]rootField
	types           map[string]*language.Definition
	typeOrder       []string
	owner           map[string]string
	dirs            map[string]*language.DirectiveDefinition
	dirOrder        []string

	links     map[braidrt.Coordinate]*link.Link
	linkOrder []braidrt.Coordinate
	exts      map[string]link.Extension
	extOrder  []link.Extension
	extFields map[braidrt.Coordinate]string
}

func (c *composer) document() *language.SchemaDocument {
	doc := &language.SchemaDocument{}
	for _, name := range c.dirOrder {
		doc.Directives = append(doc.Directives, c.dirs[name])
	}
	if c.query != nil {
		doc.Definitions = append(doc.Definitions, c.query)
	}
	if c.mutation != nil {
		doc.Definitions = append(doc.Definitions, c.mutation)
	}
	for _, name := range c.typeOrder {
		doc.Definitions = append(doc.Definitions, c.types[name])
	}
	return doc
}

func (c *composer) lookup(typeName, fieldName string) (*link.Link, bool) {
	l, ok := c.links[braidrt.Coordinate{Type: typeName, Field: fieldName}]
	return l, ok
}

func (c *composer) backend(src *Source) *braid.Backend {
	return &braid.Backend{
		Namespace:   src.Namespace,
		Schema:      src.Schema,
		TypeRenames: src.TypeRenames,
		Query:       src.Query,
		Mapper:      src.Mapper,
		Partition:   src.Partition,
	}
}

// loader returns the batch loader of t on src, switching between delegates
// when src is configured to.
func (c *composer) loader(src *Source, t braid.FieldTransformation, opts ...braid.LoaderOption) braid.BatchLoader {
	if src.Switch == nil {
		return braid.NewLoader(c.backend(src), t, opts...)
	}
	names := make([]string, 0, len(src.Switch.Delegates))
	for name := range src.Switch.Delegates {
		names = append(names, name)
	}
	sort.Strings(names)
	delegates := make(map[string]braid.BatchLoader, len(names))
	for _, name := range names {
		b := c.backend(src)
		b.Query = src.Switch.Delegates[name]
		delegates[name] = braid.NewLoader(b, t, opts...)
	}
	return braid.NewSwitching(src.Switch.Selector, delegates)
}

// wire creates the loader of every remote field.
func (c *composer) wire(g *Gateway) {
	s := g.schema
	var lookup rewrite.LinkLookup = c.lookup

	coords := make([]braidrt.Coordinate, 0, len(c.rootFields))
	for coord := range c.rootFields {
		coords = append(coords, coord)
	}
	sortCoordinates(coords)
	for _, coord := range coords {
		rf := c.rootFields[coord]
		t := &braid.TopLevelFieldTransformation{
			Schema:     s,
			Links:      lookup,
			Extensions: c.extOrder,
			Renames:    rf.renames,
		}
		g.routes[coord] = braidrt.Route{
			Group:  coord.String(),
			Kind:   braidrt.TopLevel,
			Loader: c.loader(rf.source, t),
		}
	}

	for _, coord := range c.linkOrder {
		l := c.links[coord]
		target := c.sources[l.TargetNamespace()]
		t := &braid.LinkTransformation{
			Link:       l,
			Schema:     s,
			Target:     target.Schema,
			Links:      lookup,
			Extensions: c.extOrder,
			Provider:   c.provider,
		}
		g.routes[coord] = braidrt.Route{
			Group:  "link-" + coord.String(),
			Kind:   braidrt.Link,
			Loader: c.loader(target, t),
		}
	}

	extLoaders := map[string]braid.BatchLoader{}
	coords = coords[:0]
	for coord := range c.extFields {
		coords = append(coords, coord)
	}
	sortCoordinates(coords)
	for _, coord := range coords {
		ext := c.exts[coord.Type]
		loader, ok := extLoaders[ext.Type]
		if !ok {
			target := c.sources[ext.By.Namespace]
			t := &braid.ExtensionTransformation{
				Extension: ext,
				Schema:    s,
				Target:    target.Schema,
				Links:     lookup,
			}
			loader = c.loader(target, t, braid.WithOutputType(ext.By.Type))
			extLoaders[ext.Type] = loader
		}
		g.routes[coord] = braidrt.Route{
			Group:  "ext-" + ext.Type,
			Kind:   braidrt.Extension,
			Loader: loader,
		}
	}
}

func sortCoordinates(coords []braidrt.Coordinate) {
	sort.Slice(coords, func(i, j int) bool {
		if coords[i].Type != coords[j].Type {
			return coords[i].Type < coords[j].Type
		}
		return coords[i].Field < coords[j].Field
	})
}
