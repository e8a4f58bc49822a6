package events

import (
	"net/http"
	"time"
)

// HTTPStart is published when the gateway receives a request. Subscribers
// get the request context.
type HTTPStart struct {
	Request *http.Request
}

type HTTPFinish struct {
	Request  *http.Request
	Status   int
	Duration time.Duration
}

// GraphQLStart is published once a request document parsed and its
// operation was selected.
type GraphQLStart struct {
	Query         string
	OperationName string
	OperationType string
}

// GraphQLFinish carries every error of the response, including backend
// errors merged into it.
type GraphQLFinish struct {
	Query         string
	OperationName string
	OperationType string
	Errors        []error
	Duration      time.Duration
}
