package compose

import (
	"fmt"
	"strings"

	"github.com/hanpama/braid/internal/braidrt"
	language "github.com/hanpama/braid/internal/language"
	"github.com/hanpama/braid/internal/link"
)

// addLink checks l against the backends it joins and changes the source
// type: the link field gets the target type, and source fields marked
// RemoveInputField are hidden.
func (c *composer) addLink(src *Source, l *link.Link) error {
	if _, ok := c.sources[l.SourceNamespace()]; !ok {
		return fmt.Errorf("%w: %s (link %s)", ErrUnknownBackend, l.SourceNamespace(), l)
	}
	if l.SourceNamespace() != src.Namespace {
		return fmt.Errorf("link %s is configured on backend %s", l, src.Namespace)
	}
	def := c.types[l.SourceType()]
	if def == nil || def.Kind != language.Object {
		return fmt.Errorf("link %s: can't find source type %s", l, l.SourceType())
	}
	private := src.Schema.Types[src.TypeRenames.ToSource(l.SourceType())]
	if private == nil {
		return fmt.Errorf("link %s: can't find source type %s in %s", l, l.SourceType(), src.Namespace)
	}
	for _, arg := range l.Arguments() {
		if arg.Source == link.ObjectField && private.Fields.ForName(arg.SourceName) == nil {
			return fmt.Errorf("link %s: can't find source from field %s", l, arg.SourceName)
		}
	}

	target, ok := c.sources[l.TargetNamespace()]
	if !ok {
		return fmt.Errorf("%w: %s (link %s)", ErrUnknownBackend, l.TargetNamespace(), l)
	}
	if c.types[l.TargetType()] == nil {
		return fmt.Errorf("link %s: can't find target type %s", l, l.TargetType())
	}
	var topLevel *language.FieldDefinition
	if target.Schema.Query != nil {
		topLevel = target.Schema.Query.Fields.ForName(l.TopLevelQueryField())
	}
	if topLevel == nil {
		return fmt.Errorf("link %s: can't find top level query field %s in %s", l, l.TopLevelQueryField(), l.TargetNamespace())
	}

	coord := braidrt.Coordinate{Type: l.SourceType(), Field: l.NewFieldName()}
	if _, dup := c.links[coord]; dup {
		return fmt.Errorf("link %s: %s is already linked", l, coord)
	}
	c.links[coord] = l
	c.linkOrder = append(c.linkOrder, coord)
	if l.NoSchemaChangeNeeded() {
		return nil
	}

	existing := def.Fields.ForName(l.NewFieldName())
	sourceField := def.Fields.ForName(firstObjectField(l))
	for _, arg := range l.Arguments() {
		if arg.Source == link.ObjectField && arg.RemoveInputField && arg.SourceName != l.NewFieldName() {
			def.Fields = removeField(def.Fields, arg.SourceName)
		}
	}

	targetType := &language.Type{NamedType: l.TargetType(), NonNull: l.TargetNonNullable()}
	switch {
	case existing == nil:
		if l.IsSimple() && sourceField != nil && language.IsListType(sourceField.Type) {
			targetType = &language.Type{Elem: targetType}
		}
		fd := &language.FieldDefinition{Name: l.NewFieldName(), Type: targetType}
		for _, arg := range l.Arguments() {
			if arg.Source != link.FieldArgument {
				continue
			}
			if in := topLevel.Arguments.ForName(arg.QueryArgumentName); in != nil {
				fd.Arguments = append(fd.Arguments, &language.ArgumentDefinition{
					Name: arg.SourceName,
					Type: renameType(in.Type, target.TypeRenames.ToBraid),
				})
			}
		}
		def.Fields = append(def.Fields, fd)
	case language.IsListType(existing.Type):
		existing.Type = &language.Type{Elem: targetType, NonNull: existing.Type.NonNull}
	default:
		existing.Type = targetType
	}
	return nil
}

// addExtension copies the fields of the extension's target type that ext.Type
// lacks.
func (c *composer) addExtension(src *Source, ext link.Extension) error {
	if err := ext.Validate(); err != nil {
		return err
	}
	def := c.types[ext.Type]
	if def == nil || def.Kind != language.Object {
		return fmt.Errorf("extension of %s on %s: no such object type", ext.Type, src.Namespace)
	}
	if _, dup := c.exts[ext.Type]; dup {
		return fmt.Errorf("extension of %s: type is already extended", ext.Type)
	}
	if def.Fields.ForName(ext.On) == nil {
		return fmt.Errorf("extension of %s: no field %s", ext.Type, ext.On)
	}
	target, ok := c.sources[ext.By.Namespace]
	if !ok {
		return fmt.Errorf("%w: %s (extension of %s)", ErrUnknownBackend, ext.By.Namespace, ext.Type)
	}
	by := target.Schema.Types[ext.By.Type]
	if by == nil || by.Kind != language.Object {
		return fmt.Errorf("extension of %s: can't find type %s in %s", ext.Type, ext.By.Type, ext.By.Namespace)
	}
	var query *language.FieldDefinition
	if target.Schema.Query != nil {
		query = target.Schema.Query.Fields.ForName(ext.By.Query)
	}
	if query == nil || query.Arguments.ForName(ext.By.Arg) == nil {
		return fmt.Errorf("extension of %s: can't find %s(%s) in %s", ext.Type, ext.By.Query, ext.By.Arg, ext.By.Namespace)
	}

	c.exts[ext.Type] = ext
	c.extOrder = append(c.extOrder, ext)
	for _, fd := range by.Fields {
		if strings.HasPrefix(fd.Name, "__") || def.Fields.ForName(fd.Name) != nil {
			continue
		}
		def.Fields = append(def.Fields, cloneField(fd, target.TypeRenames.ToBraid))
		c.extFields[braidrt.Coordinate{Type: ext.Type, Field: fd.Name}] = ext.By.Namespace
	}
	return nil
}

func firstObjectField(l *link.Link) string {
	for _, arg := range l.Arguments() {
		if arg.Source == link.ObjectField {
			return arg.SourceName
		}
	}
	return ""
}

func removeField(fields language.FieldList, name string) language.FieldList {
	out := fields[:0:0]
	for _, fd := range fields {
		if fd.Name != name {
			out = append(out, fd)
		}
	}
	return out
}
