package braid

import (
	"context"

	"golang.org/x/sync/errgroup"

	language "github.com/hanpama/braid/internal/language"
	"github.com/hanpama/braid/internal/link"
	"github.com/hanpama/braid/internal/mapper"
)

// Query is one operation sent to a backend.
type Query struct {
	Document      *language.QueryDocument
	OperationName string
	Variables     map[string]any
}

// Text prints the query document.
func (q *Query) Text() string { return language.FormatQuery(q.Document) }

// QueryResult is a backend's response. Errors reported by the backend are
// data, not failures.
type QueryResult struct {
	Data   map[string]any
	Errors []*Error
}

// QueryFunction executes queries against one backend. A returned error is a
// transport failure and fails every request of the batch.
type QueryFunction interface {
	Query(ctx context.Context, q *Query) (*QueryResult, error)
}

// QueryFunc adapts a function to QueryFunction.
type QueryFunc func(ctx context.Context, q *Query) (*QueryResult, error)

func (f QueryFunc) Query(ctx context.Context, q *Query) (*QueryResult, error) { return f(ctx, q) }

// LoadFunc loads one partition of a batch.
type LoadFunc func(ctx context.Context, reqs []*Request) ([]Result, error)

// PartitionFunc splits a batch and calls load for each part. Results must
// be returned in request order.
type PartitionFunc func(ctx context.Context, reqs []*Request, load LoadFunc) ([]Result, error)

// SinglePartition loads the whole batch at once.
func SinglePartition(ctx context.Context, reqs []*Request, load LoadFunc) ([]Result, error) {
	return load(ctx, reqs)
}

// PartitionBySize loads the batch in concurrent parts of at most size
// requests.
func PartitionBySize(size int) PartitionFunc {
	return func(ctx context.Context, reqs []*Request, load LoadFunc) ([]Result, error) {
		if size <= 0 || len(reqs) <= size {
			return load(ctx, reqs)
		}
		out := make([]Result, len(reqs))
		g, gctx := errgroup.WithContext(ctx)
		for start := 0; start < len(reqs); start += size {
			end := min(start+size, len(reqs))
			g.Go(func() error {
				res, err := load(gctx, reqs[start:end])
				if err != nil {
					return err
				}
				copy(out[start:end], res)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// Backend is one namespace of the composed schema.
type Backend struct {
	Namespace string
	// Schema is the backend's own schema, with its own type names.
	Schema      *language.Schema
	TypeRenames link.TypeRenames
	Query       QueryFunction
	// Mapper optionally reshapes queries for the backend. It works on the
	// backend's schema.
	Mapper    *mapper.Mapper
	Partition PartitionFunc
}

func (b *Backend) partition() PartitionFunc {
	if b.Partition != nil {
		return b.Partition
	}
	return SinglePartition
}
