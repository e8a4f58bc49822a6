package braid

import (
	"context"
	"sync"

	language "github.com/hanpama/braid/internal/language"
)

// Session is shared by every batch of one incoming operation.
type Session struct {
	mu      sync.Mutex
	missing map[string][]*language.Field
	values  map[any]any
}

func NewSession() *Session {
	return &Session{missing: map[string][]*language.Field{}, values: map[any]any{}}
}

// Value returns the value stored under key, storing the result of create
// first when there is none. A nil session stores nothing.
func (s *Session) Value(key any, create func() any) any {
	if s == nil {
		return create()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		v = create()
		s.values[key] = v
	}
	return v
}

type sessionKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session stored in ctx, or nil.
func SessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}

// AddMissingFields records fields of typeName that a backend query could not
// select. Fields are deduplicated by response name.
func (s *Session) AddMissingFields(typeName string, fields []*language.Field) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missing[typeName] = appendUnique(s.missing[typeName], fields)
}

// MissingFields returns the fields recorded for typeName.
func (s *Session) MissingFields(typeName string) []*language.Field {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*language.Field(nil), s.missing[typeName]...)
}

func appendUnique(dst, fields []*language.Field) []*language.Field {
	for _, f := range fields {
		dup := false
		for _, existing := range dst {
			if language.ResponseName(existing) == language.ResponseName(f) {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, f)
		}
	}
	return dst
}
