package metrics

import "context"

// Collector samples one part of the running system into the registry.
type Collector interface {
	Collect(ctx context.Context, r *Registry) error
}

// CollectorFunc adapts a function to the Collector interface.
type CollectorFunc func(ctx context.Context, r *Registry) error

// Collect calls f.
func (f CollectorFunc) Collect(ctx context.Context, r *Registry) error {
	return f(ctx, r)
}
