// Package reqid carries a per-request identifier through contexts.
package reqid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Header is the HTTP header request ids are read from and echoed to.
const Header = "X-Request-Id"

type key struct{}

// NewContext returns a copy of parent carrying a fresh UUID v4.
func NewContext(parent context.Context) (context.Context, string) {
	return WithID(parent, uuid.NewString())
}

// WithID returns a copy of parent carrying id.
func WithID(parent context.Context, id string) (context.Context, string) {
	return context.WithValue(parent, key{}, id), id
}

// FromRequest honors a well-formed incoming id and generates one otherwise.
func FromRequest(r *http.Request) (context.Context, string) {
	if id := r.Header.Get(Header); id != "" {
		if _, err := uuid.Parse(id); err == nil {
			return WithID(r.Context(), id)
		}
	}
	return NewContext(r.Context())
}

// FromContext extracts the request id from ctx.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(key{}).(string)
	return id, ok
}
