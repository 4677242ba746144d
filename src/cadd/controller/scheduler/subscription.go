package scheduler

import (
	"context"
	"sync"

	"github.com/uber/cad-server/src/cadd/entity"
)

// Subscription is a caller's interest in the result for one MeshKey.
type Subscription struct {
	key    entity.MeshKey
	jobID  string
	cached bool

	once   sync.Once
	done   chan struct{}
	result entity.MeshResult

	cancel func(*Subscription)
}

func newSubscription(key entity.MeshKey, jobID string, cancel func(*Subscription)) *Subscription {
	return &Subscription{
		key:    key,
		jobID:  jobID,
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

func fulfilledSubscription(result entity.MeshResult) *Subscription {
	s := newSubscription(result.Key, "", nil)
	s.cached = true
	s.fulfil(result)
	return s
}

// Key returns the key this subscription waits for.
func (s *Subscription) Key() entity.MeshKey { return s.key }

// JobID returns the id of the job computing the result, or "" for a cache hit.
func (s *Subscription) JobID() string { return s.jobID }

// Cached reports whether the result was served from the mesh cache.
func (s *Subscription) Cached() bool { return s.cached }

// Done is closed once the result is available.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Result returns the result and true once Done is closed.
func (s *Subscription) Result() (entity.MeshResult, bool) {
	select {
	case <-s.done:
		return s.result, true
	default:
		return entity.MeshResult{}, false
	}
}

// Await blocks until the result is available or ctx is done.
func (s *Subscription) Await(ctx context.Context) (entity.MeshResult, error) {
	select {
	case <-s.done:
		return s.result, nil
	case <-ctx.Done():
		return entity.MeshResult{}, ctx.Err()
	}
}

// Cancel withdraws interest in the result. The computation itself keeps running
// and other subscribers are still notified.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel(s)
	}
}

func (s *Subscription) fulfil(result entity.MeshResult) {
	s.once.Do(func() {
		s.result = result
		close(s.done)
	})
}
