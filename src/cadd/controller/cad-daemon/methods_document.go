package caddaemon

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/uber/cad-server/src/cadd/entity"
	"github.com/uber/cad-server/src/cadd/internal/errors"
	"github.com/uber/cad-server/src/cadd/internal/protocol"
)

// Hello records the client version and acknowledges the session.
func (c *controller) Hello(ctx context.Context, msg *protocol.Hello) error {
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return fmt.Errorf("getting session from context: %w", err)
	}

	s.ClientVersion = msg.ClientVersion
	if err := c.sessions.Set(ctx, s); err != nil {
		return fmt.Errorf("setting updated session state: %w", err)
	}
	return c.gateway.Reply(ctx, protocol.NewHelloAck(s.UUID.String()))
}

// CreateObject adds an object and replies with its id. The creating session is subscribed to the document.
func (c *controller) CreateObject(ctx context.Context, msg *protocol.CreateObject) error {
	if err := c.subscribe(ctx, msg.DocumentID); err != nil {
		return err
	}

	obj, version, err := c.documents.CreateObject(ctx, msg.DocumentID, msg.Definition)
	if err != nil {
		return err
	}
	return c.gateway.Reply(ctx, protocol.NewObjectCreated(msg.DocumentID, obj, version))
}

// EditObject applies a new definition. Subscribers, including the editor, learn the new
// version through ContentChanged.
func (c *controller) EditObject(ctx context.Context, msg *protocol.EditObject) error {
	if err := c.subscribe(ctx, msg.DocumentID); err != nil {
		return err
	}

	_, err := c.documents.ApplyEdit(ctx, msg.DocumentID, msg.ObjectID, msg.Definition)
	return err
}

// DeleteObject removes an object. In-flight computations for it still complete.
func (c *controller) DeleteObject(ctx context.Context, msg *protocol.DeleteObject) error {
	if err := c.subscribe(ctx, msg.DocumentID); err != nil {
		return err
	}
	return c.documents.DeleteObject(ctx, msg.DocumentID, msg.ObjectID)
}

// SubscribeDocument registers the session and sends the current version of every object.
func (c *controller) SubscribeDocument(ctx context.Context, msg *protocol.SubscribeDocument) error {
	if err := c.subscribe(ctx, msg.DocumentID); err != nil {
		return err
	}

	objects, err := c.documents.Objects(ctx, msg.DocumentID)
	if err != nil {
		return err
	}
	for _, o := range objects {
		if err := c.gateway.Reply(ctx, protocol.NewContentChanged(msg.DocumentID, o.ObjectID, o.Version)); err != nil {
			return err
		}
	}
	return nil
}

// UnsubscribeDocument withdraws the session's document subscription.
func (c *controller) UnsubscribeDocument(ctx context.Context, msg *protocol.UnsubscribeDocument) error {
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return fmt.Errorf("getting session from context: %w", err)
	}

	if err := c.documents.Unsubscribe(ctx, msg.DocumentID, s.UUID); err != nil {
		return err
	}
	if err := c.gateway.ForgetDocument(ctx, s.UUID, msg.DocumentID); err != nil {
		return fmt.Errorf("releasing outbound state: %w", err)
	}
	delete(s.Documents, msg.DocumentID)
	return c.sessions.Set(ctx, s)
}

func (c *controller) subscribe(ctx context.Context, doc entity.DocumentID) error {
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return fmt.Errorf("getting session from context: %w", err)
	}
	if s.Subscribed(doc) {
		return nil
	}

	if err := c.documents.Subscribe(ctx, doc, s.UUID); err != nil {
		return err
	}
	s.Documents[doc] = struct{}{}
	if err := c.sessions.Set(ctx, s); err != nil {
		return fmt.Errorf("setting updated session state: %w", err)
	}
	return nil
}

// onChange fans model store notifications out to the document's subscribers.
func (c *controller) onChange(ctx context.Context, ev entity.ChangeEvent) {
	var msg protocol.ServerMessage
	switch ev.Kind {
	case entity.ChangeDeleted:
		msg = protocol.NewObjectDeleted(ev.DocumentID, ev.ObjectID)
	default:
		msg = protocol.NewContentChanged(ev.DocumentID, ev.ObjectID, ev.Version)
	}
	c.broadcast(ctx, ev.DocumentID, uuid.Nil, msg)

	if c.autoRecompute && ev.Kind != entity.ChangeDeleted {
		// Documents without a connected session are recomputed on the next request instead.
		if watchers, err := c.sessions.WatcherCount(ctx, ev.DocumentID); err != nil || watchers == 0 {
			c.stats.Counter("recompute_skipped").Inc(1)
			return
		}
		c.recompute(entity.MeshKey{
			DocumentID: ev.DocumentID,
			ObjectID:   ev.ObjectID,
			Version:    ev.Version,
			Operation:  entity.OperationTessellate,
		})
	}
}

// broadcast sends msg to every subscriber of doc except the given session.
func (c *controller) broadcast(ctx context.Context, doc entity.DocumentID, except uuid.UUID, msg protocol.ServerMessage) {
	subscribers, err := c.documents.Subscribers(ctx, doc)
	if err != nil {
		c.logger.Warnw("listing subscribers", "document", doc, "error", err)
		return
	}
	for _, id := range subscribers {
		if id == except {
			continue
		}
		c.send(ctx, doc, id, msg)
	}
}

// send delivers msg to one session, pruning the document subscription of sessions that are gone.
func (c *controller) send(ctx context.Context, doc entity.DocumentID, id uuid.UUID, msg protocol.ServerMessage) {
	err := c.gateway.Send(ctx, id, msg)
	if err == nil {
		return
	}

	_, gone := errors.NotFoundUUID(err)
	if gone || errors.KindOf(err) == errors.KindDisconnected {
		c.stats.Counter("pruned_subscribers").Inc(1)
		if err := c.documents.Unsubscribe(ctx, doc, id); err != nil {
			c.logger.Warnw("pruning subscriber", "document", doc, "session", id.String(), "error", err)
		}
		return
	}
	c.logger.Warnw("sending message", "session", id.String(), "type", msg.MessageType(), "error", err)
}
