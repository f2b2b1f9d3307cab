package cache

import (
	"context"
	"sync"
)

// readiness is a resolve-once open signal shared by the store backends.
type readiness struct {
	once  sync.Once
	ready chan struct{}
	err   error
}

func newReadiness() *readiness {
	return &readiness{ready: make(chan struct{})}
}

// resolve runs open exactly once. Later calls return the first result.
func (r *readiness) resolve(open func() error) error {
	r.once.Do(func() {
		if err := open(); err != nil {
			r.err = unavailable(err)
		}
		close(r.ready)
	})
	return r.err
}

func (r *readiness) Ready() <-chan struct{} {
	return r.ready
}

// wait blocks until the store opened, failed to open, or ctx ends.
func (r *readiness) wait(ctx context.Context) error {
	select {
	case <-r.ready:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// abandon resolves a never-opened store so waiters stop blocking.
func (r *readiness) abandon() {
	r.resolve(func() error { return errNotOpened })
}
