package protoreg

import (
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"
)

const (
	nameExecuteMethod   protoreflect.Name = "Execute"
	nameExecuteRequest  protoreflect.Name = "ExecuteRequest"
	nameExecuteResponse protoreflect.Name = "ExecuteResponse"
	nameError           protoreflect.Name = "Error"
	nameLocation        protoreflect.Name = "Location"
	namePathSegment     protoreflect.Name = "PathSegment"
)

func nameProtoField(graphQLName string) protoreflect.Name {
	return protoreflect.Name(snakeCase(graphQLName))
}

func nameService(serviceName string) protoreflect.Name {
	return protoreflect.Name(capitalize(serviceName) + "Service")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// snakeCase converts a string from CamelCase or PascalCase to snake_case.
func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}
