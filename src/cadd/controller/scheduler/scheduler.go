// Package scheduler deduplicates mesh computations against the cache and in-flight jobs
// and dispatches the remainder to the worker pool.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/uber-go/tally"
	"github.com/uber/cad-server/src/cadd/entity"
	"github.com/uber/cad-server/src/cadd/internal/errors"
	"github.com/uber/cad-server/src/cadd/internal/workerpool"
	"github.com/uber/cad-server/src/cadd/repository/document"
	"github.com/uber/cad-server/src/cadd/repository/meshcache"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the scheduler to an Fx application.
var Module = fx.Provide(New)

// Scheduler accepts recomputation requests. At most one job exists per MeshKey.
type Scheduler interface {
	// Request returns a subscription for key. It fails immediately, without creating
	// a job, when the snapshot cannot be resolved or the worker pool is overloaded.
	Request(ctx context.Context, key entity.MeshKey) (*Subscription, error)
	// InFlight returns the number of jobs that have not completed.
	InFlight() int
	// Status returns the status of the job for key, if one exists.
	Status(key entity.MeshKey) (entity.JobStatus, bool)
}

// SnapshotSource resolves the definition of an object at a content version.
type SnapshotSource interface {
	Snapshot(ctx context.Context, key entity.MeshKey) (entity.Snapshot, error)
}

// Params are inbound parameters to initialize the scheduler.
type Params struct {
	fx.In

	Logger    *zap.SugaredLogger
	Stats     tally.Scope
	Cache     meshcache.Cache
	Pool      workerpool.Pool
	Documents document.Repository
}

type job struct {
	id          string
	key         entity.MeshKey
	status      entity.JobStatus
	createdAt   time.Time
	subscribers map[*Subscription]struct{}
}

type scheduler struct {
	cache     meshcache.Cache
	pool      workerpool.Pool
	snapshots SnapshotSource
	logger    *zap.SugaredLogger
	stats     tally.Scope

	// mu makes cache lookup plus job dedupe-or-create, and cache insert plus job removal, atomic.
	mu   sync.Mutex
	jobs map[entity.MeshKey]*job
}

// New creates a scheduler backed by the model store for snapshots.
func New(p Params) Scheduler {
	return newScheduler(p.Cache, p.Pool, p.Documents, p.Logger, p.Stats)
}

func newScheduler(cache meshcache.Cache, pool workerpool.Pool, snapshots SnapshotSource, logger *zap.SugaredLogger, stats tally.Scope) *scheduler {
	return &scheduler{
		cache:     cache,
		pool:      pool,
		snapshots: snapshots,
		logger:    logger.With("component", "scheduler"),
		stats:     stats.SubScope("scheduler"),
		jobs:      make(map[entity.MeshKey]*job),
	}
}

func (s *scheduler) Request(ctx context.Context, key entity.MeshKey) (*Subscription, error) {
	if key.Operation == "" {
		key.Operation = entity.OperationTessellate
	}
	if !key.Operation.Valid() {
		return nil, &errors.InvalidMessageError{Reason: "unknown operation " + string(key.Operation)}
	}

	s.mu.Lock()
	if result, ok := s.cache.Lookup(key); ok {
		s.mu.Unlock()
		s.stats.Counter("cache_hits").Inc(1)
		return fulfilledSubscription(result), nil
	}

	if j, ok := s.jobs[key]; ok {
		sub := newSubscription(key, j.id, s.cancel)
		j.subscribers[sub] = struct{}{}
		s.mu.Unlock()
		s.stats.Counter("dedup").Inc(1)
		s.logger.Debugw("attached to in-flight job", "job", j.id, "key", key.String())
		return sub, nil
	}

	j := &job{
		id:          ulid.Make().String(),
		key:         key,
		status:      entity.JobQueued,
		createdAt:   time.Now(),
		subscribers: make(map[*Subscription]struct{}),
	}
	sub := newSubscription(key, j.id, s.cancel)
	j.subscribers[sub] = struct{}{}
	s.jobs[key] = j
	s.stats.Gauge("jobs").Update(float64(len(s.jobs)))
	s.mu.Unlock()

	// The job is reserved, so concurrent requests for key attach to it while the snapshot resolves.
	snapshot, err := s.snapshots.Snapshot(ctx, key)
	if err != nil {
		s.abandon(j, err)
		return nil, err
	}

	err = s.pool.Submit(workerpool.Task{
		ID:       j.id,
		Snapshot: snapshot,
		OnStart:  func() { s.markRunning(j) },
		Done:     s.complete,
	})
	if err != nil {
		s.abandon(j, err)
		return nil, err
	}

	s.stats.Counter("submitted").Inc(1)
	s.logger.Debugw("submitted job", "job", j.id, "key", key.String())
	return sub, nil
}

func (s *scheduler) markRunning(j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j.status = entity.JobRunning
}

// abandon removes a job that never reached the pool and fails everyone who attached to it.
func (s *scheduler) abandon(j *job, err error) {
	s.mu.Lock()
	if s.jobs[j.key] == j {
		delete(s.jobs, j.key)
	}
	j.status = entity.JobFailed
	subscribers := j.subscribers
	j.subscribers = nil
	s.stats.Gauge("jobs").Update(float64(len(s.jobs)))
	s.mu.Unlock()

	s.logger.Infow("job rejected", "job", j.id, "key", j.key.String(), "error", err)
	result := entity.MeshResult{Key: j.key, Err: err}
	for sub := range subscribers {
		sub.fulfil(result)
	}
}

// complete is called exactly once per submitted job by the worker pool.
func (s *scheduler) complete(result entity.MeshResult) {
	s.mu.Lock()
	if errors.IsCacheable(result.Err) {
		s.cache.Insert(result)
	}
	j, ok := s.jobs[result.Key]
	if !ok {
		s.mu.Unlock()
		s.logger.Warnw("completion for unknown job", "key", result.Key.String())
		return
	}
	delete(s.jobs, result.Key)
	if result.Failed() {
		j.status = entity.JobFailed
	} else {
		j.status = entity.JobDone
	}
	subscribers := j.subscribers
	j.subscribers = nil
	s.stats.Gauge("jobs").Update(float64(len(s.jobs)))
	s.mu.Unlock()

	s.stats.Timer("job_latency").Record(time.Since(j.createdAt))
	if result.Failed() {
		s.stats.Counter("failed").Inc(1)
		s.logger.Infow("job failed", "job", j.id, "key", result.Key.String(), "kind", errors.KindOf(result.Err), "subscribers", len(subscribers))
	} else {
		s.stats.Counter("completed").Inc(1)
		s.logger.Debugw("job done", "job", j.id, "key", result.Key.String(), "subscribers", len(subscribers))
	}

	for sub := range subscribers {
		sub.fulfil(result)
	}
}

func (s *scheduler) cancel(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[sub.key]; ok && j.id == sub.jobID {
		delete(j.subscribers, sub)
	}
}

func (s *scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *scheduler) Status(key entity.MeshKey) (entity.JobStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[key]
	if !ok {
		return 0, false
	}
	return j.status, true
}
