// Package conc wraps an ants goroutine pool for fire-and-forget work.
package conc

import (
	"time"

	"github.com/cockroachdb/errors"
	ants "github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/alis2001/chat-service/internal/log"
)

type poolOption struct {
	nonBlocking    bool
	expiryDuration time.Duration
	panicHandler   func(any)
}

// PoolOption configures NewPool.
type PoolOption func(opt *poolOption)

// WithNonBlocking makes Submit fail with ants.ErrPoolOverload instead of
// waiting when every worker is busy.
func WithNonBlocking(v bool) PoolOption {
	return func(opt *poolOption) { opt.nonBlocking = v }
}

func WithExpiryDuration(d time.Duration) PoolOption {
	return func(opt *poolOption) { opt.expiryDuration = d }
}

func WithPanicHandler(fn func(any)) PoolOption {
	return func(opt *poolOption) { opt.panicHandler = fn }
}

func (opt *poolOption) antsOptions() []ants.Option {
	result := []ants.Option{ants.WithNonblocking(opt.nonBlocking)}
	handler := opt.panicHandler
	if handler == nil {
		// tasks must never bring the process down
		handler = func(v any) {
			log.Error("conc pool task panicked", zap.Any("panic", v))
		}
	}
	result = append(result, ants.WithPanicHandler(handler))
	if opt.expiryDuration > 0 {
		result = append(result, ants.WithExpiryDuration(opt.expiryDuration))
	}
	return result
}

// Pool runs submitted tasks on a bounded set of goroutines.
type Pool struct {
	inner *ants.Pool
}

// NewPool creates a pool of size workers.
func NewPool(size int, opts ...PoolOption) (*Pool, error) {
	opt := &poolOption{}
	for _, o := range opts {
		o(opt)
	}
	p, err := ants.NewPool(size, opt.antsOptions()...)
	if err != nil {
		return nil, errors.Wrap(err, "create worker pool")
	}
	return &Pool{inner: p}, nil
}

// Submit schedules task. It returns an error when the pool is closed, or
// full in non-blocking mode.
func (p *Pool) Submit(task func()) error {
	return p.inner.Submit(task)
}

// Running reports the number of busy workers.
func (p *Pool) Running() int {
	return p.inner.Running()
}

// Release waits up to timeout for running tasks and then closes the pool.
func (p *Pool) Release(timeout time.Duration) error {
	return p.inner.ReleaseTimeout(timeout)
}
