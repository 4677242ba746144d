// Package workerpool runs geometry computations on a bounded set of worker slots,
// separate from the goroutines that serve client connections.
package workerpool

import (
	"context"
	stderr "errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/dogmatiq/linger"
	"github.com/uber-go/tally"
	"github.com/uber/cad-server/src/cadd/entity"
	"github.com/uber/cad-server/src/cadd/gateway/geometry"
	"github.com/uber/cad-server/src/cadd/internal/errors"
	"go.uber.org/atomic"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	_configKey = "workerPool"

	// DefaultQueueDepth is the number of tasks that may wait for a worker when none is configured.
	DefaultQueueDepth = 64
	// DefaultJobTimeout bounds a computation when neither the task nor the configuration sets a timeout.
	DefaultJobTimeout = 30 * time.Second
)

// Module provides the worker pool to an Fx application.
var Module = fx.Provide(New)

// Task is a single computation submitted to the pool.
type Task struct {
	// ID correlates log lines for the job that owns this task.
	ID       string
	Snapshot entity.Snapshot
	// Timeout overrides the pool's job timeout when positive.
	Timeout time.Duration
	// OnStart, if set, is called when a worker picks up the task.
	OnStart func()
	// Done receives the outcome. It is called exactly once per accepted task.
	Done func(entity.MeshResult)
}

// Pool is a bounded set of execution slots for the geometry kernel.
type Pool interface {
	// Submit enqueues the task without waiting for a worker. It fails with
	// errors.ErrOverloaded when the queue is full and errors.ErrStopped after Stop.
	Submit(task Task) error
	Start(ctx context.Context) error
	// Stop rejects new tasks, reports errors.ErrStopped for unfinished ones and waits for the workers to exit.
	Stop(ctx context.Context) error

	Workers() int
	QueueDepth() int
	// Queued returns the number of tasks waiting for a worker.
	Queued() int
}

// Params are inbound parameters to initialize the pool.
type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Provider
	Logger    *zap.SugaredLogger
	Stats     tally.Scope
	Kernel    geometry.Kernel
}

// Config sizes the pool.
type Config struct {
	// Workers is the number of concurrent computations. Zero selects the number of CPUs.
	Workers           int `yaml:"workers"`
	QueueDepth        int `yaml:"queueDepth"`
	JobTimeoutSeconds int `yaml:"jobTimeoutSeconds"`
}

type pool struct {
	kernel     geometry.Kernel
	workers    int
	queueDepth int
	timeout    time.Duration
	logger     *zap.SugaredLogger
	stats      tally.Scope

	// mu guards stopped and the closing of queue.
	mu      sync.RWMutex
	stopped bool
	queue   chan Task

	group  *errgroup.Group
	cancel context.CancelFunc

	queued  atomic.Int64
	running atomic.Int64
}

// Option customizes a pool created with NewPool.
type Option func(*pool)

// WithWorkers sets the number of worker slots.
func WithWorkers(n int) Option {
	return func(p *pool) {
		p.workers = n
	}
}

// WithQueueDepth sets the number of tasks that may wait for a worker.
func WithQueueDepth(n int) Option {
	return func(p *pool) {
		p.queueDepth = n
	}
}

// WithTimeout sets the default per-task timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *pool) {
		p.timeout = d
	}
}

// WithLogger overrides the default noop logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(p *pool) {
		p.logger = logger
	}
}

// WithStats overrides the default noop scope.
func WithStats(stats tally.Scope) Option {
	return func(p *pool) {
		p.stats = stats
	}
}

// NewPool creates a pool that is not yet running.
func NewPool(kernel geometry.Kernel, opts ...Option) (Pool, error) {
	p := &pool{
		kernel:     kernel,
		workers:    runtime.NumCPU(),
		queueDepth: DefaultQueueDepth,
		timeout:    DefaultJobTimeout,
		logger:     zap.NewNop().Sugar(),
		stats:      tally.NoopScope,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.workers < 1 {
		return nil, fmt.Errorf("worker pool needs at least one worker, got %d", p.workers)
	}
	if p.queueDepth < 0 {
		return nil, fmt.Errorf("worker pool queue depth must not be negative, got %d", p.queueDepth)
	}

	p.logger = p.logger.With("component", "worker-pool")
	p.stats = p.stats.SubScope("worker_pool")
	p.queue = make(chan Task, p.queueDepth)
	return p, nil
}

// New creates a pool sized by the workerPool configuration block and ties it to the Fx lifecycle.
func New(p Params) (Pool, error) {
	cfg := Config{QueueDepth: DefaultQueueDepth}
	if v := p.Config.Get(_configKey); v.HasValue() {
		if err := v.Populate(&cfg); err != nil {
			return nil, fmt.Errorf("getting config field %q: %w", _configKey, err)
		}
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("config field %q: workers must not be negative, got %d", _configKey, cfg.Workers)
	}
	if cfg.JobTimeoutSeconds < 0 {
		return nil, fmt.Errorf("config field %q: jobTimeoutSeconds must not be negative, got %d", _configKey, cfg.JobTimeoutSeconds)
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}

	pl, err := NewPool(p.Kernel,
		WithWorkers(cfg.Workers),
		WithQueueDepth(cfg.QueueDepth),
		WithTimeout(time.Duration(cfg.JobTimeoutSeconds)*time.Second),
		WithLogger(p.Logger),
		WithStats(p.Stats),
	)
	if err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: pl.Start,
		OnStop:  pl.Stop,
	})
	return pl, nil
}

func (p *pool) Workers() int    { return p.workers }
func (p *pool) QueueDepth() int { return p.queueDepth }
func (p *pool) Queued() int     { return int(p.queued.Load()) }

func (p *pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return errors.ErrStopped
	}
	if p.group != nil {
		return nil
	}

	// Workers outlive the start context.
	runCtx, cancel := context.WithCancel(context.Background())
	g, runCtx := errgroup.WithContext(runCtx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.work(runCtx)
			return nil
		})
	}
	p.group = g
	p.cancel = cancel
	p.logger.Infow("worker pool started", "workers", p.workers, "queueDepth", p.queueDepth, "timeout", p.timeout.String())
	return nil
}

func (p *pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	g, cancel := p.group, p.cancel
	p.mu.Unlock()

	if g == nil {
		// Never started: fail whatever was queued.
		for task := range p.queue {
			p.queued.Dec()
			p.report(task, entity.MeshResult{Key: task.Snapshot.Key, Err: errors.ErrStopped})
		}
		return nil
	}

	cancel()
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		p.logger.Info("worker pool stopped")
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers to stop: %w", ctx.Err())
	}
}

func (p *pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return errors.ErrStopped
	}

	select {
	case p.queue <- task:
		p.stats.Gauge("queued").Update(float64(p.queued.Inc()))
		return nil
	default:
		p.stats.Counter("overloaded").Inc(1)
		p.logger.Warnw("rejecting task, queue is full", "job", task.ID, "key", task.Snapshot.Key.String(), "queueDepth", p.queueDepth)
		return errors.ErrOverloaded
	}
}

func (p *pool) work(ctx context.Context) {
	for task := range p.queue {
		p.stats.Gauge("queued").Update(float64(p.queued.Dec()))
		if ctx.Err() != nil {
			p.report(task, entity.MeshResult{Key: task.Snapshot.Key, Err: errors.ErrStopped})
			continue
		}
		p.report(task, p.run(ctx, task))
	}
}

type outcome struct {
	mesh *entity.Mesh
	err  error
}

// run computes task under its deadline. When the deadline passes first the
// kernel call is abandoned; its late result is discarded.
func (p *pool) run(ctx context.Context, task Task) entity.MeshResult {
	key := task.Snapshot.Key
	ctx, cancel := linger.ContextWithTimeout(ctx, task.Timeout, p.timeout, DefaultJobTimeout)
	defer cancel()

	if task.OnStart != nil {
		task.OnStart()
	}
	p.stats.Gauge("running").Update(float64(p.running.Inc()))
	defer func() {
		p.stats.Gauge("running").Update(float64(p.running.Dec()))
	}()

	sw := p.stats.Timer("compute_latency").Start()
	defer sw.Stop()

	results := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- outcome{err: fmt.Errorf("kernel panic: %v", r)}
			}
		}()
		mesh, err := p.kernel.Compute(ctx, key.Operation, task.Snapshot)
		results <- outcome{mesh: mesh, err: err}
	}()

	var o outcome
	select {
	case o = <-results:
	case <-ctx.Done():
		o = outcome{err: ctx.Err()}
	}

	switch {
	case o.err == nil && o.mesh != nil:
		return entity.MeshResult{Key: key, Mesh: o.mesh}
	case o.err == nil:
		return entity.MeshResult{Key: key, Err: &errors.GeometryFailureError{Key: key, Err: errors.New("kernel returned no mesh")}}
	case ctx.Err() != nil && stderr.Is(ctx.Err(), context.DeadlineExceeded):
		p.stats.Counter("timeouts").Inc(1)
		p.logger.Warnw("computation timed out", "job", task.ID, "key", key.String())
		return entity.MeshResult{Key: key, Err: &errors.WorkerTimeoutError{Key: key, Timeout: p.timeoutFor(task)}}
	case ctx.Err() != nil:
		return entity.MeshResult{Key: key, Err: errors.ErrStopped}
	}

	var failure *errors.GeometryFailureError
	if stderr.As(o.err, &failure) {
		return entity.MeshResult{Key: key, Err: o.err}
	}
	return entity.MeshResult{Key: key, Err: &errors.GeometryFailureError{Key: key, Err: o.err}}
}

// timeoutFor mirrors the precedence passed to linger.ContextWithTimeout.
func (p *pool) timeoutFor(task Task) time.Duration {
	if task.Timeout > 0 {
		return task.Timeout
	}
	if p.timeout > 0 {
		return p.timeout
	}
	return DefaultJobTimeout
}

func (p *pool) report(task Task, result entity.MeshResult) {
	if result.Failed() {
		p.logger.Debugw("task failed", "job", task.ID, "key", result.Key.String(), "error", result.Err)
	}
	if task.Done != nil {
		task.Done(result)
	}
}
