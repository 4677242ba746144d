package caddaemon

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/uber/cad-server/src/cadd/controller/scheduler"
	"github.com/uber/cad-server/src/cadd/entity"
	"github.com/uber/cad-server/src/cadd/internal/errors"
	"github.com/uber/cad-server/src/cadd/internal/protocol"
)

// RequestMesh asks the scheduler for a mesh. A missing version resolves to the object's current version.
// The requester always receives the result; a result that is still current is also sent to the
// document's other subscribers.
func (c *controller) RequestMesh(ctx context.Context, msg *protocol.RequestMesh) error {
	id, sessCtx, err := c.sessionContext(ctx)
	if err != nil {
		return err
	}

	key := entity.MeshKey{
		DocumentID: msg.DocumentID,
		ObjectID:   msg.ObjectID,
		Operation:  msg.EffectiveOperation(),
	}
	if msg.ContentVersion != nil {
		key.Version = *msg.ContentVersion
	} else {
		if key.Version, err = c.documents.CurrentVersion(ctx, msg.DocumentID, msg.ObjectID); err != nil {
			return err
		}
	}

	sub, err := c.scheduler.Request(ctx, key)
	if err != nil {
		return err
	}
	c.stats.Counter("mesh_requests").Inc(1)

	if _, ok := sub.Result(); ok {
		c.deliver(ctx, id, sub)
		return nil
	}

	started := c.goAsync(func() {
		select {
		case <-sub.Done():
			c.deliver(c.ctx, id, sub)
		case <-sessCtx.Done():
			// Session gone or shutting down. The job keeps running for other subscribers.
			sub.Cancel()
		}
	})
	if !started {
		sub.Cancel()
	}
	return nil
}

// recompute requests key on behalf of the document's subscribers.
func (c *controller) recompute(key entity.MeshKey) {
	sub, err := c.scheduler.Request(c.ctx, key)
	if err != nil {
		c.logger.Infow("automatic recompute not scheduled", "key", key.String(), "error", err)
		return
	}

	started := c.goAsync(func() {
		select {
		case <-sub.Done():
			c.deliver(c.ctx, uuid.Nil, sub)
		case <-c.ctx.Done():
			sub.Cancel()
		}
	})
	if !started {
		sub.Cancel()
	}
}

// deliver sends a completed result to the requester, and to the other subscribers when it
// is for the object's current version. Stale results reach only the requester.
func (c *controller) deliver(ctx context.Context, requester uuid.UUID, sub *scheduler.Subscription) {
	result, ok := sub.Result()
	if !ok {
		return
	}
	msg := resultToMessage(result)
	key := result.Key

	if requester != uuid.Nil {
		c.send(ctx, key.DocumentID, requester, msg)
	}

	current, err := c.documents.CurrentVersion(ctx, key.DocumentID, key.ObjectID)
	if err != nil || current != key.Version {
		c.stats.Counter("stale_results").Inc(1)
		return
	}
	c.broadcast(ctx, key.DocumentID, requester, msg)
}

func resultToMessage(result entity.MeshResult) protocol.ServerMessage {
	if result.Failed() {
		return protocol.NewMeshFailed(result.Key, string(errors.KindOf(result.Err)), result.Err.Error())
	}
	return protocol.NewMeshUpdate(result.Key, result.Mesh)
}
