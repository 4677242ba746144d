package caddaemon

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/uber-go/tally"
	controller "github.com/uber/cad-server/src/cadd/controller/cad-daemon"
	"github.com/uber/cad-server/src/cadd/entity"
	sessionclient "github.com/uber/cad-server/src/cadd/gateway/session-client"
	"github.com/uber/cad-server/src/cadd/internal/errors"
	"github.com/uber/cad-server/src/cadd/internal/protocol"
	"go.uber.org/zap"
)

type router struct {
	caddaemon controller.Controller
	gateway   sessionclient.Gateway
	uuid      uuid.UUID
	logger    *zap.SugaredLogger
	stats     tally.Scope
}

// HandleMessage decodes and routes a single inbound message. Messages that cannot be applied
// are answered with Rejected; the returned error only reports a failure to answer.
func (r *router) HandleMessage(ctx context.Context, data []byte) error {
	ctx = context.WithValue(ctx, entity.SessionContextKey, r.uuid)

	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		return r.reject(ctx, "", err)
	}
	r.stats.Tagged(map[string]string{"type": string(msg.MessageType())}).Counter("messages").Inc(1)

	if err := r.route(ctx, msg); err != nil {
		return r.reject(ctx, msg.MessageType(), err)
	}
	return nil
}

func (r *router) route(ctx context.Context, msg protocol.ClientMessage) error {
	switch m := msg.(type) {
	case *protocol.Hello:
		return r.caddaemon.Hello(ctx, m)

	// Document related messages.
	case *protocol.CreateObject:
		return r.caddaemon.CreateObject(ctx, m)

	case *protocol.EditObject:
		return r.caddaemon.EditObject(ctx, m)

	case *protocol.DeleteObject:
		return r.caddaemon.DeleteObject(ctx, m)

	case *protocol.SubscribeDocument:
		return r.caddaemon.SubscribeDocument(ctx, m)

	case *protocol.UnsubscribeDocument:
		return r.caddaemon.UnsubscribeDocument(ctx, m)

	// Mesh related messages.
	case *protocol.RequestMesh:
		return r.caddaemon.RequestMesh(ctx, m)
	}
	return &errors.InvalidMessageError{Reason: fmt.Sprintf("unsupported type %q", msg.MessageType())}
}

func (r *router) reject(ctx context.Context, requestType protocol.MessageType, cause error) error {
	kind := errors.KindOf(cause)
	r.stats.Tagged(map[string]string{"reason": string(kind)}).Counter("rejected").Inc(1)
	r.logger.Debugw("rejecting message", "session", r.uuid.String(), "type", requestType, "reason", kind, "error", cause)

	if err := r.gateway.Reply(ctx, protocol.NewRejected(string(kind), cause.Error(), requestType)); err != nil {
		return fmt.Errorf("replying to %q: %w", requestType, err)
	}
	return nil
}

// UUID returns the session UUID.
func (r *router) UUID() uuid.UUID {
	return r.uuid
}
