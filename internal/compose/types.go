package compose

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hanpama/braid/internal/braidrt"
	language "github.com/hanpama/braid/internal/language"
	"github.com/hanpama/braid/internal/link"
)

// addTypes merges the root fields, types and directives of src.
func (c *composer) addTypes(src *Source) error {
	s := src.Schema
	rename := src.TypeRenames.ToBraid

	names := make([]string, 0, len(s.Types))
	for name := range s.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def := s.Types[name]
		if def.BuiltIn || strings.HasPrefix(name, "__") {
			continue
		}
		switch def {
		case s.Query:
			if err := c.addRootFields(src, def, language.Query, src.QueryFieldRenames); err != nil {
				return err
			}
			continue
		case s.Mutation:
			if err := c.addRootFields(src, def, language.Mutation, src.MutationFieldRenames); err != nil {
				return err
			}
			continue
		case s.Subscription:
			continue
		}
		out := cloneDefinition(def, rename)
		if prev, ok := c.types[out.Name]; ok {
			if prev.Kind == language.Scalar && out.Kind == language.Scalar {
				continue
			}
			return fmt.Errorf("%w: %s in %s and %s", ErrTypeConflict, out.Name, c.owner[out.Name], src.Namespace)
		}
		c.types[out.Name] = out
		c.typeOrder = append(c.typeOrder, out.Name)
		c.owner[out.Name] = src.Namespace
	}

	dirNames := make([]string, 0, len(s.Directives))
	for name := range s.Directives {
		dirNames = append(dirNames, name)
	}
	sort.Strings(dirNames)
	for _, name := range dirNames {
		d := s.Directives[name]
		if d.Position == nil || d.Position.Src == nil || d.Position.Src.BuiltIn {
			continue
		}
		if _, ok := c.dirs[name]; ok {
			continue
		}
		c.dirs[name] = &language.DirectiveDefinition{
			Description:  d.Description,
			Name:         d.Name,
			Arguments:    cloneArguments(d.Arguments, rename),
			Locations:    d.Locations,
			IsRepeatable: d.IsRepeatable,
			Position:     d.Position,
		}
		c.dirOrder = append(c.dirOrder, name)
	}
	return nil
}

func (c *composer) addRootFields(src *Source, def *language.Definition, kind language.Operation, renames []link.FieldRename) error {
	root := &c.query
	name := "Query"
	if kind == language.Mutation {
		root, name = &c.mutation, "Mutation"
	}
	if *root == nil {
		*root = &language.Definition{Kind: language.Object, Name: name}
	}
	for _, fd := range def.Fields {
		if strings.HasPrefix(fd.Name, "__") {
			continue
		}
		braidName := fd.Name
		for _, r := range renames {
			if r.SourceName == fd.Name {
				braidName = r.BraidName
			}
		}
		coord := braidrt.Coordinate{Type: name, Field: braidName}
		if prev, ok := c.rootFields[coord]; ok {
			return fmt.Errorf("%w: %s in %s and %s", ErrFieldConflict, coord, prev.source.Namespace, src.Namespace)
		}
		out := cloneField(fd, src.TypeRenames.ToBraid)
		out.Name = braidName
		(*root).Fields = append((*root).Fields, out)
		c.rootFields[coord] = rootField{source: src, renames: renames}
	}
	return nil
}

// cloneDefinition copies def under composed type names. Enum values and
// directive uses are shared with def.
func cloneDefinition(def *language.Definition, rename func(string) string) *language.Definition {
	out := &language.Definition{
		Kind:        def.Kind,
		Description: def.Description,
		Name:        rename(def.Name),
		Directives:  def.Directives,
		EnumValues:  append(language.EnumValueList(nil), def.EnumValues...),
	}
	for _, name := range def.Interfaces {
		out.Interfaces = append(out.Interfaces, rename(name))
	}
	for _, name := range def.Types {
		out.Types = append(out.Types, rename(name))
	}
	for _, fd := range def.Fields {
		if strings.HasPrefix(fd.Name, "__") {
			continue
		}
		out.Fields = append(out.Fields, cloneField(fd, rename))
	}
	return out
}

func cloneField(fd *language.FieldDefinition, rename func(string) string) *language.FieldDefinition {
	return &language.FieldDefinition{
		Description:  fd.Description,
		Name:         fd.Name,
		Arguments:    cloneArguments(fd.Arguments, rename),
		DefaultValue: fd.DefaultValue,
		Type:         renameType(fd.Type, rename),
		Directives:   fd.Directives,
	}
}

func cloneArguments(args language.ArgumentDefinitionList, rename func(string) string) language.ArgumentDefinitionList {
	var out language.ArgumentDefinitionList
	for _, a := range args {
		out = append(out, &language.ArgumentDefinition{
			Description:  a.Description,
			Name:         a.Name,
			DefaultValue: a.DefaultValue,
			Type:         renameType(a.Type, rename),
			Directives:   a.Directives,
		})
	}
	return out
}

func renameType(t *language.Type, rename func(string) string) *language.Type {
	if t == nil {
		return nil
	}
	out := &language.Type{NonNull: t.NonNull, Elem: renameType(t.Elem, rename)}
	if t.NamedType != "" {
		out.NamedType = rename(t.NamedType)
	}
	return out
}
