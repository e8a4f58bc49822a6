package braid

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Selector names the delegate a request is routed to.
type Selector func(req *Request) (string, error)

// Switching routes each request of a batch to one of several delegates and
// loads the groups concurrently.
type Switching struct {
	selector  Selector
	delegates map[string]BatchLoader
}

func NewSwitching(selector Selector, delegates map[string]BatchLoader) *Switching {
	return &Switching{selector: selector, delegates: delegates}
}

// Load returns results in the order of reqs.
func (s *Switching) Load(ctx context.Context, reqs []*Request) ([]Result, error) {
	var order []string
	groups := map[string][]*Request{}
	for _, req := range reqs {
		name, err := s.selector(req)
		if err != nil {
			return nil, err
		}
		if _, ok := s.delegates[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNamespace, name)
		}
		if _, seen := groups[name]; !seen {
			order = append(order, name)
		}
		groups[name] = append(groups[name], req)
	}

	parts := make([]map[*Request]Result, len(order))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range order {
		group := groups[name]
		g.Go(func() error {
			res, err := s.delegates[name].Load(gctx, group)
			if err != nil {
				return err
			}
			if len(res) != len(group) {
				return fmt.Errorf("delegate %s returned %d results for %d requests", name, len(res), len(group))
			}
			part := make(map[*Request]Result, len(group))
			for j, req := range group {
				part[req] = res[j]
			}
			parts[i] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Collect(reqs, parts...)
}

// Collect projects partial key to value maps back onto keys, in order.
func Collect[K comparable, V any](keys []K, parts ...map[K]V) ([]V, error) {
	merged := make(map[K]V, len(keys))
	for _, part := range parts {
		for k, v := range part {
			if _, dup := merged[k]; dup {
				return nil, fmt.Errorf("%w: %v", ErrDuplicateKey, k)
			}
			merged[k] = v
		}
	}
	out := make([]V, len(keys))
	for i, k := range keys {
		v, ok := merged[k]
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrMissingKey, k)
		}
		out[i] = v
	}
	return out, nil
}
