package events

import "time"

// BatchStart is emitted before a batch of field requests is turned into a
// backend query.
type BatchStart struct {
	Namespace     string
	OperationName string
	Size          int
}

// BatchFinish is emitted after a batch is split back into results.
type BatchFinish struct {
	Namespace      string
	OperationName  string
	Size           int
	Fields         int
	ShortCircuited int
	// Remote is false when every field was short-circuited or removed and no
	// query was sent.
	Remote   bool
	Err      error
	Duration time.Duration
}

// BackendQueryStart is emitted before a query is sent to a backend.
type BackendQueryStart struct {
	Namespace     string
	OperationName string
	Fields        int
}

// BackendQueryFinish is emitted after a backend query returns.
type BackendQueryFinish struct {
	Namespace     string
	OperationName string
	ErrorCount    int
	Err           error
	Duration      time.Duration
}
