// Package protoreg builds the gRPC contract braid backends implement: a
// single Execute method that runs one GraphQL document. Variables, data and
// error extensions travel as JSON strings.
package protoreg

import (
	"fmt"
	"strings"

	"github.com/jhump/protoreflect/v2/protobuilder"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// DefaultPackage is the proto package of the contract.
const DefaultPackage = "braid.v1"

type options struct {
	pkg     string
	service string
}

type Option func(*options)

// WithPackage overrides the proto package name.
func WithPackage(pkg string) Option { return func(o *options) { o.pkg = pkg } }

// WithService overrides the service name. The name is capitalized and gets
// a "Service" suffix.
func WithService(name string) Option { return func(o *options) { o.service = name } }

// Build creates the contract descriptors.
func Build(opts ...Option) (*Registry, error) {
	o := options{pkg: DefaultPackage, service: "GraphQL"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.pkg == "" || o.service == "" {
		return nil, fmt.Errorf("protoreg: package and service names are required")
	}

	fb := protobuilder.NewFile(strings.ReplaceAll(o.pkg, ".", "/") + "/braid.proto")
	fb.SetPackageName(protoreflect.FullName(o.pkg))
	fb.SetSyntax(protoreflect.Proto3)

	location := protobuilder.NewMessage(nameLocation)
	location.SetComments(comment("Location of an error in the executed document."))
	addFields(location,
		scalarField("line", protoreflect.Int32Kind, ""),
		scalarField("column", protoreflect.Int32Kind, ""),
	)

	segment := protobuilder.NewMessage(namePathSegment)
	segment.SetComments(comment("One response path element: a response name or a list index."))
	oneof := protobuilder.NewOneof("segment")
	segment.AddOneOf(oneof)
	choices := []*protobuilder.FieldBuilder{
		scalarField("field", protoreflect.StringKind, ""),
		scalarField("index", protoreflect.Int32Kind, ""),
	}
	for _, c := range choices {
		oneof.AddChoice(c)
	}
	numberFields(choices)

	gqlError := protobuilder.NewMessage(nameError)
	gqlError.SetComments(comment("A GraphQL error reported by the backend."))
	locations := protobuilder.NewField(nameProtoField("locations"), protobuilder.FieldTypeMessage(location))
	locations.SetRepeated()
	path := protobuilder.NewField(nameProtoField("path"), protobuilder.FieldTypeMessage(segment))
	path.SetRepeated()
	addFields(gqlError,
		scalarField("message", protoreflect.StringKind, ""),
		locations,
		path,
		scalarField("extensionsJson", protoreflect.StringKind, "JSON object, empty when absent."),
	)

	req := protobuilder.NewMessage(nameExecuteRequest)
	opName := scalarField("operationName", protoreflect.StringKind, "")
	opName.SetOptional()
	addFields(req,
		scalarField("query", protoreflect.StringKind, "GraphQL document text."),
		opName,
		scalarField("variablesJson", protoreflect.StringKind, "JSON object of variable values."),
	)

	resp := protobuilder.NewMessage(nameExecuteResponse)
	errs := protobuilder.NewField(nameProtoField("errors"), protobuilder.FieldTypeMessage(gqlError))
	errs.SetRepeated()
	addFields(resp,
		scalarField("dataJson", protoreflect.StringKind, "JSON object, empty when the backend returned no data."),
		errs,
	)

	svc := protobuilder.NewService(nameService(o.service))
	svc.SetComments(comment("Executes GraphQL documents on behalf of the braid gateway."))
	execute := protobuilder.NewMethod(nameExecuteMethod,
		protobuilder.RpcTypeMessage(req, false),
		protobuilder.RpcTypeMessage(resp, false),
	)
	svc.AddMethod(execute)

	for _, mb := range []*protobuilder.MessageBuilder{req, resp, gqlError, location, segment} {
		fb.AddMessage(mb)
	}
	fb.AddService(svc)

	fd, err := fb.Build()
	if err != nil {
		return nil, fmt.Errorf("protoreg: %w", err)
	}
	return newRegistry(fd)
}

func scalarField(name string, kind protoreflect.Kind, doc string) *protobuilder.FieldBuilder {
	fb := protobuilder.NewField(nameProtoField(name), protobuilder.FieldTypeScalar(kind))
	fb.SetComments(comment(doc))
	return fb
}

func addFields(mb *protobuilder.MessageBuilder, fields ...*protobuilder.FieldBuilder) {
	for _, f := range fields {
		mb.AddField(f)
	}
	numberFields(fields)
}

func comment(doc string) protobuilder.Comments {
	if doc == "" {
		return protobuilder.Comments{}
	}
	lines := strings.Split(doc, "\n")
	for i, line := range lines {
		lines[i] = " " + line
	}
	return protobuilder.Comments{LeadingComment: strings.Join(lines, "\n") + "\n"}
}
