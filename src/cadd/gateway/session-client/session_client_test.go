package sessionclient

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"github.com/uber/cad-server/src/cadd/entity"
	"github.com/uber/cad-server/src/cadd/internal/errors"
	"github.com/uber/cad-server/src/cadd/internal/protocol"
	"go.uber.org/config"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func newGateway(t *testing.T, queueSize int) (Gateway, tally.TestScope) {
	t.Helper()
	provider, err := config.NewStaticProvider(map[string]interface{}{
		"sessions": map[string]interface{}{"outboundQueueSize": queueSize},
	})
	require.NoError(t, err)
	scope := tally.NewTestScope("testing", make(map[string]string, 0))
	g, err := New(Params{Config: provider, Logger: zap.NewNop().Sugar(), Stats: scope})
	require.NoError(t, err)
	return g, scope
}

func drain(outbox Outbox) []protocol.ServerMessage {
	var out []protocol.ServerMessage
	for {
		select {
		case msg := <-outbox.Messages():
			out = append(out, msg)
		default:
			return out
		}
	}
}

func meshKey(v entity.ContentVersion) entity.MeshKey {
	return entity.MeshKey{DocumentID: "doc", ObjectID: 1, Version: v, Operation: entity.OperationTessellate}
}

func TestNew(t *testing.T) {
	provider, err := config.NewStaticProvider(map[string]interface{}{})
	require.NoError(t, err)
	g, err := New(Params{Config: provider, Logger: zap.NewNop().Sugar(), Stats: tally.NoopScope})
	require.NoError(t, err)
	assert.Equal(t, _defaultOutboundQueueSize, g.(*gateway).queueSize)

	provider, err = config.NewStaticProvider(map[string]interface{}{"sessions": map[string]interface{}{"outboundQueueSize": 0}})
	require.NoError(t, err)
	_, err = New(Params{Config: provider, Logger: zap.NewNop().Sugar(), Stats: tally.NoopScope})
	assert.Error(t, err)
}

func TestRegisterClient(t *testing.T) {
	ctx := context.Background()
	g, _ := newGateway(t, 4)
	id := uuid.Must(uuid.NewV4())

	outbox, err := g.RegisterClient(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, outbox.Messages())

	_, err = g.RegisterClient(ctx, id)
	assert.Error(t, err)
}

func TestDeregisterClient(t *testing.T) {
	ctx := context.Background()
	g, _ := newGateway(t, 4)
	id := uuid.Must(uuid.NewV4())

	outbox, err := g.RegisterClient(ctx, id)
	require.NoError(t, err)
	require.NoError(t, g.DeregisterClient(ctx, id))
	require.NoError(t, g.DeregisterClient(ctx, id))

	<-outbox.Done()
	assert.ErrorIs(t, outbox.Err(), errors.ErrDisconnected)

	err = g.Send(ctx, id, protocol.NewHelloAck(id.String()))
	nfUUID, ok := errors.NotFoundUUID(err)
	require.True(t, ok)
	assert.Equal(t, id, nfUUID)
}

func TestSendPreservesOrder(t *testing.T) {
	ctx := context.Background()
	g, _ := newGateway(t, 16)
	id := uuid.Must(uuid.NewV4())
	outbox, err := g.RegisterClient(ctx, id)
	require.NoError(t, err)

	msgs := []protocol.ServerMessage{
		protocol.NewHelloAck(id.String()),
		protocol.NewContentChanged("doc", 1, 1),
		protocol.NewContentChanged("doc", 1, 2),
		protocol.NewMeshUpdate(meshKey(1), &entity.Mesh{}),
		protocol.NewObjectDeleted("doc", 1),
	}
	for _, msg := range msgs {
		require.NoError(t, g.Send(ctx, id, msg))
	}
	assert.Equal(t, msgs, drain(outbox))
}

func TestSendDropsStaleMeshes(t *testing.T) {
	ctx := context.Background()
	g, scope := newGateway(t, 16)
	id := uuid.Must(uuid.NewV4())
	outbox, err := g.RegisterClient(ctx, id)
	require.NoError(t, err)

	require.NoError(t, g.Send(ctx, id, protocol.NewMeshUpdate(meshKey(1), &entity.Mesh{})))
	require.NoError(t, g.Send(ctx, id, protocol.NewMeshUpdate(meshKey(3), &entity.Mesh{})))
	// Older than v3 for the same object: dropped.
	require.NoError(t, g.Send(ctx, id, protocol.NewMeshUpdate(meshKey(2), &entity.Mesh{})))
	require.NoError(t, g.Send(ctx, id, protocol.NewMeshFailed(meshKey(1), "GeometryFailure", "")))
	// Equal versions are allowed.
	require.NoError(t, g.Send(ctx, id, protocol.NewMeshUpdate(meshKey(3), &entity.Mesh{})))
	// Other objects and other operations are tracked independently.
	other := meshKey(1)
	other.ObjectID = 2
	require.NoError(t, g.Send(ctx, id, protocol.NewMeshUpdate(other, &entity.Mesh{})))
	step := meshKey(2)
	step.Operation = entity.OperationExportStep
	require.NoError(t, g.Send(ctx, id, protocol.NewMeshFailed(step, "GeometryFailure", "")))
	// Content notifications do not move the mesh watermark.
	require.NoError(t, g.Send(ctx, id, protocol.NewContentChanged("doc", 1, 4)))
	require.NoError(t, g.Send(ctx, id, protocol.NewContentChanged("doc", 1, 2)))

	var got []string
	for _, msg := range drain(outbox) {
		switch m := msg.(type) {
		case *protocol.MeshUpdate:
			got = append(got, fmt.Sprintf("%s/mesh/%d@%d", m.Operation, m.ObjectID, m.ContentVersion))
		case *protocol.MeshFailed:
			got = append(got, fmt.Sprintf("%s/failed/%d@%d", m.Operation, m.ObjectID, m.ContentVersion))
		case *protocol.ContentChanged:
			got = append(got, fmt.Sprintf("content/%d@%d", m.ObjectID, m.ContentVersion))
		}
	}
	assert.Equal(t, []string{
		"tessellate/mesh/1@1",
		"tessellate/mesh/1@3",
		"tessellate/mesh/1@3",
		"tessellate/mesh/2@1",
		"export_step/failed/1@2",
		"content/1@4",
	}, got)
	assert.Equal(t, int64(3), scope.Snapshot().Counters()["testing.outbound.dropped_stale+"].Value())
}

func TestWatermarksArePruned(t *testing.T) {
	ctx := context.Background()
	g, _ := newGateway(t, 16)
	id := uuid.Must(uuid.NewV4())
	outbox, err := g.RegisterClient(ctx, id)
	require.NoError(t, err)
	c, err := g.(*gateway).getClient(id)
	require.NoError(t, err)

	other := meshKey(3)
	other.DocumentID = "other"
	require.NoError(t, g.Send(ctx, id, protocol.NewMeshUpdate(meshKey(3), &entity.Mesh{})))
	require.NoError(t, g.Send(ctx, id, protocol.NewContentChanged("doc", 1, 3)))
	require.NoError(t, g.Send(ctx, id, protocol.NewContentChanged("doc", 2, 5)))
	require.NoError(t, g.Send(ctx, id, protocol.NewMeshUpdate(other, &entity.Mesh{})))
	assert.Len(t, c.watermarks, 4)

	t.Run("object deleted", func(t *testing.T) {
		require.NoError(t, g.Send(ctx, id, protocol.NewObjectDeleted("doc", 1)))
		assert.Len(t, c.watermarks, 2)
		assert.NotContains(t, c.watermarks, watermarkKey{document: "doc", object: 1, class: _classContent})
		assert.Contains(t, c.watermarks, watermarkKey{document: "doc", object: 2, class: _classContent})
	})

	t.Run("document forgotten", func(t *testing.T) {
		require.NoError(t, g.ForgetDocument(ctx, id, "doc"))
		assert.Len(t, c.watermarks, 1)
		assert.Contains(t, c.watermarks, watermarkKey{document: "other", object: 1, operation: entity.OperationTessellate, class: _classMesh})

		// Ordering for the document restarts from scratch.
		require.NoError(t, g.Send(ctx, id, protocol.NewContentChanged("doc", 2, 1)))
		last := drain(outbox)
		require.NotEmpty(t, last)
		assert.Equal(t, protocol.NewContentChanged("doc", 2, 1), last[len(last)-1])
	})

	t.Run("unknown session", func(t *testing.T) {
		err := g.ForgetDocument(ctx, uuid.Must(uuid.NewV4()), "doc")
		_, ok := errors.NotFoundUUID(err)
		assert.True(t, ok)
	})
}

func TestSlowConsumerIsDisconnected(t *testing.T) {
	ctx := context.Background()
	g, scope := newGateway(t, 2)
	slow := uuid.Must(uuid.NewV4())
	fast := uuid.Must(uuid.NewV4())
	slowOutbox, err := g.RegisterClient(ctx, slow)
	require.NoError(t, err)
	fastOutbox, err := g.RegisterClient(ctx, fast)
	require.NoError(t, err)

	require.NoError(t, g.Send(ctx, slow, protocol.NewContentChanged("doc", 1, 1)))
	require.NoError(t, g.Send(ctx, slow, protocol.NewContentChanged("doc", 1, 2)))
	err = g.Send(ctx, slow, protocol.NewContentChanged("doc", 1, 3))
	assert.ErrorIs(t, err, errors.ErrDisconnected)

	<-slowOutbox.Done()
	assert.ErrorIs(t, slowOutbox.Err(), errors.ErrDisconnected)
	_, ok := errors.NotFoundUUID(g.Send(ctx, slow, protocol.NewContentChanged("doc", 1, 4)))
	assert.True(t, ok)

	// The fast session is unaffected.
	for v := entity.ContentVersion(1); v <= 3; v++ {
		require.NoError(t, g.Send(ctx, fast, protocol.NewContentChanged("doc", 1, v)))
		<-fastOutbox.Messages()
	}
	select {
	case <-fastOutbox.Done():
		t.Fatal("fast session must stay connected")
	default:
	}
	assert.Equal(t, int64(1), scope.Snapshot().Counters()["testing.outbound.slow_consumers+"].Value())
}

func TestReply(t *testing.T) {
	g, _ := newGateway(t, 4)
	id := uuid.Must(uuid.NewV4())
	outbox, err := g.RegisterClient(context.Background(), id)
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), entity.SessionContextKey, id)
	require.NoError(t, g.Reply(ctx, protocol.NewHelloAck(id.String())))
	assert.Len(t, drain(outbox), 1)

	assert.Error(t, g.Reply(context.Background(), protocol.NewHelloAck(id.String())))
	assert.Error(t, g.Send(ctx, id, nil))
}

func TestConcurrentSendsAreOrderedPerObject(t *testing.T) {
	ctx := context.Background()
	g, _ := newGateway(t, 1024)
	id := uuid.Must(uuid.NewV4())
	outbox, err := g.RegisterClient(ctx, id)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for v := 1; v <= 200; v++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			assert.NoError(t, g.Send(ctx, id, protocol.NewMeshUpdate(meshKey(entity.ContentVersion(v)), nil)))
		}(v)
	}
	wg.Wait()

	var last entity.ContentVersion
	for _, msg := range drain(outbox) {
		m := msg.(*protocol.MeshUpdate)
		assert.GreaterOrEqual(t, m.ContentVersion, last)
		last = m.ContentVersion
	}
	assert.Equal(t, entity.ContentVersion(200), last)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
