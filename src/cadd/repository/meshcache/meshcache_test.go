package meshcache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"github.com/uber/cad-server/src/cadd/entity"
	"github.com/uber/cad-server/src/cadd/internal/errors"
	"go.uber.org/config"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func key(obj entity.ObjectID, v entity.ContentVersion) entity.MeshKey {
	return entity.MeshKey{DocumentID: "doc", ObjectID: obj, Version: v, Operation: entity.OperationTessellate}
}

// triangle is 3*12 + 3*12 + 3*4 = 84 bytes.
func triangle() *entity.Mesh {
	return &entity.Mesh{
		Positions: [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Normals:   [][3]float32{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
		Indices:   []uint32{0, 1, 2},
	}
}

func testCache(cfg Config) (*cache, tally.TestScope) {
	scope := tally.NewTestScope("testing", make(map[string]string, 0))
	return newCache(cfg, zap.NewNop().Sugar(), scope), scope
}

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		provider, err := config.NewStaticProvider(map[string]interface{}{})
		require.NoError(t, err)
		c, err := New(Params{Config: provider, Logger: zap.NewNop().Sugar(), Stats: tally.NoopScope})
		require.NoError(t, err)
		assert.Equal(t, Config{MaxEntries: _defaultMaxEntries, MaxBytes: _defaultMaxBytes}, c.(*cache).cfg)
	})

	t.Run("configured", func(t *testing.T) {
		provider, err := config.NewStaticProvider(map[string]interface{}{
			"meshCache": map[string]interface{}{"maxEntries": 10, "maxBytes": 0},
		})
		require.NoError(t, err)
		c, err := New(Params{Config: provider, Logger: zap.NewNop().Sugar(), Stats: tally.NoopScope})
		require.NoError(t, err)
		assert.Equal(t, Config{MaxEntries: 10}, c.(*cache).cfg)
	})

	t.Run("negative bound", func(t *testing.T) {
		provider, err := config.NewStaticProvider(map[string]interface{}{
			"meshCache": map[string]interface{}{"maxEntries": -1},
		})
		require.NoError(t, err)
		_, err = New(Params{Config: provider, Logger: zap.NewNop().Sugar(), Stats: tally.NoopScope})
		assert.Error(t, err)
	})
}

func TestLookupAfterInsert(t *testing.T) {
	c, scope := testCache(Config{})

	_, ok := c.Lookup(key(1, 1))
	assert.False(t, ok)

	mesh := triangle()
	assert.True(t, c.Insert(entity.MeshResult{Key: key(1, 1), Mesh: mesh}))

	got, ok := c.Lookup(key(1, 1))
	require.True(t, ok)
	assert.Same(t, mesh, got.Mesh)
	assert.NoError(t, got.Err)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(84), c.SizeBytes())

	snapshot := scope.Snapshot()
	assert.Equal(t, int64(1), snapshot.Counters()["testing.mesh_cache.hits+"].Value())
	assert.Equal(t, int64(1), snapshot.Counters()["testing.mesh_cache.misses+"].Value())
}

func TestFirstWriterWins(t *testing.T) {
	c, _ := testCache(Config{})

	first := triangle()
	require.True(t, c.Insert(entity.MeshResult{Key: key(1, 1), Mesh: first}))
	assert.False(t, c.Insert(entity.MeshResult{Key: key(1, 1), Mesh: &entity.Mesh{}}))
	assert.False(t, c.Insert(entity.MeshResult{Key: key(1, 1), Err: errors.New("late")}))

	got, ok := c.Lookup(key(1, 1))
	require.True(t, ok)
	assert.Same(t, first, got.Mesh)
	assert.Equal(t, 1, c.Len())
}

func TestCachesFailures(t *testing.T) {
	c, _ := testCache(Config{})
	failure := &errors.GeometryFailureError{Key: key(2, 1), Err: errors.New("self-intersecting")}

	require.True(t, c.Insert(entity.MeshResult{Key: key(2, 1), Err: failure}))
	got, ok := c.Lookup(key(2, 1))
	require.True(t, ok)
	assert.True(t, got.Failed())
	assert.Equal(t, failure, got.Err)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c, scope := testCache(Config{MaxEntries: 2})

	c.Insert(entity.MeshResult{Key: key(1, 1), Mesh: triangle()})
	c.Insert(entity.MeshResult{Key: key(2, 1), Mesh: triangle()})
	// Touch 1 so that 2 becomes the least recently used.
	_, ok := c.Lookup(key(1, 1))
	require.True(t, ok)
	c.Insert(entity.MeshResult{Key: key(3, 1), Mesh: triangle()})

	assert.Equal(t, 2, c.Len())
	_, ok = c.Lookup(key(2, 1))
	assert.False(t, ok)
	_, ok = c.Lookup(key(1, 1))
	assert.True(t, ok)
	_, ok = c.Lookup(key(3, 1))
	assert.True(t, ok)

	assert.Equal(t, int64(1), scope.Snapshot().Counters()["testing.mesh_cache.evictions+"].Value())
}

func TestEvictsByBytes(t *testing.T) {
	c, _ := testCache(Config{MaxBytes: 200})

	c.Insert(entity.MeshResult{Key: key(1, 1), Mesh: triangle()})
	c.Insert(entity.MeshResult{Key: key(2, 1), Mesh: triangle()})
	assert.Equal(t, int64(168), c.SizeBytes())

	c.Insert(entity.MeshResult{Key: key(3, 1), Mesh: triangle()})
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(168), c.SizeBytes())
	_, ok := c.Lookup(key(1, 1))
	assert.False(t, ok)
}

func TestOversizedEntrySurvivesItsOwnInsert(t *testing.T) {
	c, _ := testCache(Config{MaxBytes: 10})

	assert.True(t, c.Insert(entity.MeshResult{Key: key(1, 1), Mesh: triangle()}))
	_, ok := c.Lookup(key(1, 1))
	assert.True(t, ok)

	c.Insert(entity.MeshResult{Key: key(2, 1), Mesh: triangle()})
	_, ok = c.Lookup(key(1, 1))
	assert.False(t, ok)
}

func TestViewPinsEntry(t *testing.T) {
	c, _ := testCache(Config{MaxEntries: 1})
	c.Insert(entity.MeshResult{Key: key(1, 1), Mesh: triangle()})

	var viewed bool
	ok := c.View(key(1, 1), func(r entity.MeshResult) {
		viewed = true
		// The pinned entry is skipped, leaving the cache over budget until the next insert.
		c.Insert(entity.MeshResult{Key: key(2, 1), Mesh: triangle()})
		_, stillThere := c.Lookup(key(1, 1))
		assert.True(t, stillThere)
		assert.Equal(t, 3, r.Mesh.TriangleCount()*3)
	})
	require.True(t, ok)
	assert.True(t, viewed)
	assert.Equal(t, 2, c.Len())

	c.Insert(entity.MeshResult{Key: key(3, 1), Mesh: triangle()})
	_, ok = c.Lookup(key(1, 1))
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	assert.False(t, c.View(key(9, 9), func(entity.MeshResult) { t.Fatal("unexpected view") }))
}

func TestConcurrentAccess(t *testing.T) {
	c, _ := testCache(Config{MaxEntries: 16})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				k := key(entity.ObjectID(j%24), 1)
				if j%3 == 0 {
					c.Insert(entity.MeshResult{Key: k, Mesh: triangle()})
					continue
				}
				if r, ok := c.Lookup(k); ok {
					// Entries are either fully present or absent.
					assert.Equal(t, k, r.Key, fmt.Sprintf("worker %d", i))
					assert.NotNil(t, r.Mesh)
				}
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 16)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
