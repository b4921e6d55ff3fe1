package memory

import "context"

// Transactor runs fn directly. Memory repositories are individually
// synchronized and have nothing to roll back.
type Transactor struct{}

func (Transactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
