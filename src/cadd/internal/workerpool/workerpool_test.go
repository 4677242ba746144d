package workerpool

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"github.com/uber/cad-server/src/cadd/entity"
	"github.com/uber/cad-server/src/cadd/gateway/geometry/geometrymock"
	"github.com/uber/cad-server/src/cadd/internal/errors"
	"go.uber.org/config"
	"go.uber.org/fx/fxtest"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

func testSnapshot(obj entity.ObjectID) entity.Snapshot {
	return entity.Snapshot{
		Key: entity.MeshKey{DocumentID: "doc", ObjectID: obj, Version: 1, Operation: entity.OperationTessellate},
		Definition: entity.Definition{
			Kind: entity.ObjectKindBox,
			Box:  &entity.BoxParams{W: 1, H: 1, D: 1},
		},
	}
}

// collector records every reported result and fails the test on a second report for the same task.
type collector struct {
	t       *testing.T
	mu      sync.Mutex
	results map[string]entity.MeshResult
	wg      sync.WaitGroup
}

func newCollector(t *testing.T) *collector {
	return &collector{t: t, results: make(map[string]entity.MeshResult)}
}

func (c *collector) task(id string, snapshot entity.Snapshot) Task {
	c.wg.Add(1)
	return Task{
		ID:       id,
		Snapshot: snapshot,
		Done: func(r entity.MeshResult) {
			c.mu.Lock()
			defer c.mu.Unlock()
			_, seen := c.results[id]
			assert.False(c.t, seen, "task %s reported twice", id)
			c.results[id] = r
			c.wg.Done()
		},
	}
}

func (c *collector) wait() map[string]entity.MeshResult {
	c.wg.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results
}

func startPool(t *testing.T, kernel *geometrymock.MockKernel, opts ...Option) Pool {
	t.Helper()
	p, err := NewPool(kernel, opts...)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() {
		assert.NoError(t, p.Stop(context.Background()))
	})
	return p
}

func TestNew(t *testing.T) {
	ctrl := gomock.NewController(t)
	kernel := geometrymock.NewMockKernel(ctrl)

	t.Run("configured", func(t *testing.T) {
		provider, err := config.NewStaticProvider(map[string]interface{}{
			"workerPool": map[string]interface{}{"workers": 3, "queueDepth": 5, "jobTimeoutSeconds": 2},
		})
		require.NoError(t, err)

		lc := fxtest.NewLifecycle(t)
		p, err := New(Params{Lifecycle: lc, Config: provider, Logger: zap.NewNop().Sugar(), Stats: tally.NoopScope, Kernel: kernel})
		require.NoError(t, err)
		assert.Equal(t, 3, p.Workers())
		assert.Equal(t, 5, p.QueueDepth())
		assert.Equal(t, 2*time.Second, p.(*pool).timeout)

		lc.RequireStart()
		lc.RequireStop()
		assert.ErrorIs(t, p.Submit(Task{Snapshot: testSnapshot(1)}), errors.ErrStopped)
	})

	t.Run("defaults", func(t *testing.T) {
		provider, err := config.NewStaticProvider(map[string]interface{}{})
		require.NoError(t, err)
		p, err := New(Params{Lifecycle: fxtest.NewLifecycle(t), Config: provider, Logger: zap.NewNop().Sugar(), Stats: tally.NoopScope, Kernel: kernel})
		require.NoError(t, err)
		assert.Greater(t, p.Workers(), 0)
		assert.Equal(t, DefaultQueueDepth, p.QueueDepth())
	})

	invalid := []map[string]interface{}{
		{"workers": -1},
		{"queueDepth": -1},
		{"jobTimeoutSeconds": -1},
	}
	for _, cfg := range invalid {
		t.Run(fmt.Sprintf("invalid %v", cfg), func(t *testing.T) {
			provider, err := config.NewStaticProvider(map[string]interface{}{"workerPool": cfg})
			require.NoError(t, err)
			_, err = New(Params{Lifecycle: fxtest.NewLifecycle(t), Config: provider, Logger: zap.NewNop().Sugar(), Stats: tally.NoopScope, Kernel: kernel})
			assert.Error(t, err)
		})
	}
}

func TestSubmitSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	kernel := geometrymock.NewMockKernel(ctrl)
	mesh := &entity.Mesh{Indices: []uint32{0, 1, 2}}
	kernel.EXPECT().Compute(gomock.Any(), entity.OperationTessellate, testSnapshot(1)).Return(mesh, nil)

	p := startPool(t, kernel, WithWorkers(2))
	c := newCollector(t)

	started := make(chan struct{})
	task := c.task("a", testSnapshot(1))
	task.OnStart = func() { close(started) }
	require.NoError(t, p.Submit(task))

	results := c.wait()
	<-started
	assert.Same(t, mesh, results["a"].Mesh)
	assert.NoError(t, results["a"].Err)
	assert.Equal(t, testSnapshot(1).Key, results["a"].Key)
}

func TestKernelErrorsBecomeGeometryFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	kernel := geometrymock.NewMockKernel(ctrl)
	cause := errors.New("degenerate face")
	kernel.EXPECT().Compute(gomock.Any(), gomock.Any(), testSnapshot(1)).Return(nil, cause)
	kernel.EXPECT().Compute(gomock.Any(), gomock.Any(), testSnapshot(2)).Return(nil, nil)
	kernel.EXPECT().Compute(gomock.Any(), gomock.Any(), testSnapshot(3)).DoAndReturn(
		func(ctx context.Context, op entity.Operation, s entity.Snapshot) (*entity.Mesh, error) {
			panic("kernel bug")
		})
	already := &errors.GeometryFailureError{Key: testSnapshot(4).Key, Err: errors.ErrNotImplemented}
	kernel.EXPECT().Compute(gomock.Any(), gomock.Any(), testSnapshot(4)).Return(nil, already)

	p := startPool(t, kernel, WithWorkers(2))
	c := newCollector(t)
	for i := 1; i <= 4; i++ {
		require.NoError(t, p.Submit(c.task(fmt.Sprint(i), testSnapshot(entity.ObjectID(i)))))
	}
	results := c.wait()

	for id, r := range results {
		assert.Equal(t, errors.KindGeometryFailure, errors.KindOf(r.Err), "task %s", id)
		assert.True(t, errors.IsCacheable(r.Err), "task %s", id)
	}
	assert.ErrorIs(t, results["1"].Err, cause)
	assert.Contains(t, results["3"].Err.Error(), "kernel panic")
	assert.Same(t, already, results["4"].Err)
}

func TestTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	kernel := geometrymock.NewMockKernel(ctrl)
	release := make(chan struct{})
	defer close(release)

	// Never honours its context.
	kernel.EXPECT().Compute(gomock.Any(), gomock.Any(), testSnapshot(1)).DoAndReturn(
		func(ctx context.Context, op entity.Operation, s entity.Snapshot) (*entity.Mesh, error) {
			<-release
			return &entity.Mesh{}, nil
		})
	kernel.EXPECT().Compute(gomock.Any(), gomock.Any(), testSnapshot(2)).Return(&entity.Mesh{}, nil)

	scope := tally.NewTestScope("testing", make(map[string]string, 0))
	p := startPool(t, kernel, WithWorkers(1), WithTimeout(20*time.Millisecond), WithStats(scope))
	c := newCollector(t)
	require.NoError(t, p.Submit(c.task("stuck", testSnapshot(1))))
	require.NoError(t, p.Submit(c.task("next", testSnapshot(2))))
	results := c.wait()

	var timeout *errors.WorkerTimeoutError
	require.ErrorAs(t, results["stuck"].Err, &timeout)
	assert.Equal(t, 20*time.Millisecond, timeout.Timeout)
	assert.Equal(t, errors.KindWorkerTimeout, errors.KindOf(results["stuck"].Err))
	assert.False(t, errors.IsCacheable(results["stuck"].Err))

	// The slot was reclaimed for the next task.
	assert.NoError(t, results["next"].Err)
	assert.Equal(t, int64(1), scope.Snapshot().Counters()["testing.worker_pool.timeouts+"].Value())
}

func TestTaskTimeoutOverridesPool(t *testing.T) {
	ctrl := gomock.NewController(t)
	kernel := geometrymock.NewMockKernel(ctrl)
	kernel.EXPECT().Compute(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, op entity.Operation, s entity.Snapshot) (*entity.Mesh, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	p := startPool(t, kernel, WithWorkers(1), WithTimeout(time.Hour))
	c := newCollector(t)
	task := c.task("a", testSnapshot(1))
	task.Timeout = 10 * time.Millisecond
	require.NoError(t, p.Submit(task))

	var timeout *errors.WorkerTimeoutError
	require.ErrorAs(t, c.wait()["a"].Err, &timeout)
	assert.Equal(t, 10*time.Millisecond, timeout.Timeout)
}

func TestOverloaded(t *testing.T) {
	ctrl := gomock.NewController(t)
	kernel := geometrymock.NewMockKernel(ctrl)
	release := make(chan struct{})
	kernel.EXPECT().Compute(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, op entity.Operation, s entity.Snapshot) (*entity.Mesh, error) {
			<-release
			return &entity.Mesh{}, nil
		}).Times(3)

	p := startPool(t, kernel, WithWorkers(1), WithQueueDepth(2))
	c := newCollector(t)

	started := make(chan struct{})
	first := c.task("running", testSnapshot(1))
	first.OnStart = func() { close(started) }
	require.NoError(t, p.Submit(first))
	<-started

	require.NoError(t, p.Submit(c.task("queued-1", testSnapshot(2))))
	require.NoError(t, p.Submit(c.task("queued-2", testSnapshot(3))))
	assert.Equal(t, 2, p.Queued())

	for i := 0; i < 5; i++ {
		err := p.Submit(Task{ID: "excess", Snapshot: testSnapshot(9), Done: func(entity.MeshResult) {
			t.Error("rejected task must not be reported")
		}})
		assert.ErrorIs(t, err, errors.ErrOverloaded)
		assert.Equal(t, errors.KindOverloaded, errors.KindOf(err))
	}

	close(release)
	results := c.wait()
	assert.Len(t, results, 3)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
}

func TestStop(t *testing.T) {
	t.Run("unfinished tasks report stopped", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		kernel := geometrymock.NewMockKernel(ctrl)
		kernel.EXPECT().Compute(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, op entity.Operation, s entity.Snapshot) (*entity.Mesh, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			})

		p, err := NewPool(kernel, WithWorkers(1), WithQueueDepth(4))
		require.NoError(t, err)
		require.NoError(t, p.Start(context.Background()))

		c := newCollector(t)
		started := make(chan struct{})
		first := c.task("running", testSnapshot(1))
		first.OnStart = func() { close(started) }
		require.NoError(t, p.Submit(first))
		<-started
		require.NoError(t, p.Submit(c.task("queued", testSnapshot(2))))

		require.NoError(t, p.Stop(context.Background()))
		results := c.wait()
		assert.ErrorIs(t, results["running"].Err, errors.ErrStopped)
		assert.ErrorIs(t, results["queued"].Err, errors.ErrStopped)
		assert.False(t, errors.IsCacheable(results["queued"].Err))

		assert.ErrorIs(t, p.Submit(Task{Snapshot: testSnapshot(3)}), errors.ErrStopped)
		assert.NoError(t, p.Stop(context.Background()))
		assert.ErrorIs(t, p.Start(context.Background()), errors.ErrStopped)
	})

	t.Run("never started", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		p, err := NewPool(geometrymock.NewMockKernel(ctrl), WithWorkers(1))
		require.NoError(t, err)

		c := newCollector(t)
		require.NoError(t, p.Submit(c.task("queued", testSnapshot(1))))
		require.NoError(t, p.Stop(context.Background()))
		assert.ErrorIs(t, c.wait()["queued"].Err, errors.ErrStopped)
	})
}

func TestNewPoolValidation(t *testing.T) {
	ctrl := gomock.NewController(t)
	kernel := geometrymock.NewMockKernel(ctrl)

	_, err := NewPool(kernel, WithWorkers(0))
	assert.Error(t, err)
	_, err = NewPool(kernel, WithQueueDepth(-1))
	assert.Error(t, err)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
