package events

import (
	"time"

	"google.golang.org/grpc/codes"
)

// GRPCClientStart is published before the gRPC transport invokes a backend.
// Namespace is the backend key, Target the endpoint picked for the call.
type GRPCClientStart struct {
	Namespace string
	Service   string
	Method    string
	Target    string
}

type GRPCClientFinish struct {
	Namespace string
	Service   string
	Method    string
	Target    string
	Code      codes.Code
	Err       error
	Duration  time.Duration
}
