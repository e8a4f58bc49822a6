package protoreg

import (
	"fmt"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Registry holds the built contract.
type Registry struct {
	file    protoreflect.FileDescriptor
	service protoreflect.ServiceDescriptor
	execute protoreflect.MethodDescriptor
}

func newRegistry(fd protoreflect.FileDescriptor) (*Registry, error) {
	if fd.Services().Len() != 1 {
		return nil, fmt.Errorf("protoreg: %s declares %d services", fd.Path(), fd.Services().Len())
	}
	svc := fd.Services().Get(0)
	execute := svc.Methods().ByName(nameExecuteMethod)
	if execute == nil {
		return nil, fmt.Errorf("protoreg: %s has no %s method", svc.FullName(), nameExecuteMethod)
	}
	return &Registry{file: fd, service: svc, execute: execute}, nil
}

// File returns the contract file.
func (r *Registry) File() protoreflect.FileDescriptor { return r.file }

// Service returns the GraphQL service.
func (r *Registry) Service() protoreflect.ServiceDescriptor { return r.service }

// Execute returns the Execute method.
func (r *Registry) Execute() protoreflect.MethodDescriptor { return r.execute }

// FullMethod returns the gRPC method path of Execute, e.g.
// "/braid.v1.GraphQLService/Execute".
func (r *Registry) FullMethod() string {
	return fmt.Sprintf("/%s/%s", r.service.FullName(), r.execute.Name())
}
