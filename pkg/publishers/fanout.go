package publishers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultPublishTimeout bounds a single sink delivery.
const DefaultPublishTimeout = 15 * time.Second

// Fanout delivers a notification event to every configured sink concurrently.
type Fanout struct {
	publishers []Publisher
	timeout    time.Duration
}

// FanoutOption customises a Fanout.
type FanoutOption func(*Fanout)

// WithPublishTimeout overrides the per-sink delivery deadline.
func WithPublishTimeout(d time.Duration) FanoutOption {
	return func(f *Fanout) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// NewFanout drops nil entries and keeps the remaining sinks in order.
func NewFanout(pubs []Publisher, opts ...FanoutOption) *Fanout {
	f := &Fanout{timeout: DefaultPublishTimeout}
	for _, p := range pubs {
		if p != nil {
			f.publishers = append(f.publishers, p)
		}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Publish returns how many sinks accepted evt. Failures are joined in sink order.
func (f *Fanout) Publish(ctx context.Context, evt Event) (int, error) {
	if f == nil || len(f.publishers) == 0 {
		return 0, nil
	}

	errs := make([]error, len(f.publishers))
	var wg sync.WaitGroup
	for i, p := range f.publishers {
		wg.Add(1)
		go func(i int, p Publisher) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()
			if err := p.Publish(pctx, evt); err != nil {
				errs[i] = fmt.Errorf("%s publisher[%s]: %w", p.Type(), p.ID(), err)
			}
		}(i, p)
	}
	wg.Wait()

	delivered := 0
	for _, err := range errs {
		if err == nil {
			delivered++
		}
	}
	return delivered, errors.Join(errs...)
}

// Size returns the number of sinks.
func (f *Fanout) Size() int {
	if f == nil {
		return 0
	}
	return len(f.publishers)
}

// Close releases sinks that hold client connections.
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	return closeAll(f.publishers)
}
