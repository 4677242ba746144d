// Package caddaemon implements the cad daemon's websocket handlers.
package caddaemon

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/uber-go/tally"
	controller "github.com/uber/cad-server/src/cadd/controller/cad-daemon"
	"github.com/uber/cad-server/src/cadd/entity"
	sessionclient "github.com/uber/cad-server/src/cadd/gateway/session-client"
	"github.com/uber/cad-server/src/cadd/internal/wsfx"
	"go.uber.org/zap"
)

// Handler represents the cad daemon's inbound API.
type Handler = wsfx.ConnectionManager

type connectionManager struct {
	ctrl    controller.Controller
	gateway sessionclient.Gateway
	logger  *zap.SugaredLogger
	stats   tally.Scope
}

// New constructs a new cad daemon Handler and registers it with the websocket inbound.
func New(ctrl controller.Controller, gateway sessionclient.Gateway, wsmod wsfx.WebSocketModule, logger *zap.SugaredLogger, stats tally.Scope) (Handler, error) {
	c := &connectionManager{
		ctrl:    ctrl,
		gateway: gateway,
		logger:  logger.With("component", "router"),
		stats:   stats.SubScope("router"),
	}
	if err := wsmod.RegisterConnectionManager(c); err != nil {
		return nil, err
	}
	return c, nil
}

// NewConnection creates a session for a new connection and returns a router that includes its UUID.
func (c *connectionManager) NewConnection(ctx context.Context, remoteAddr string) (wsfx.Router, wsfx.Outbox, error) {
	id, outbox, err := c.ctrl.InitSession(ctx, remoteAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("error while creating new connection: %w", err)
	}

	r := &router{
		caddaemon: c.ctrl,
		gateway:   c.gateway,
		uuid:      id,
		logger:    c.logger,
		stats:     c.stats,
	}
	return r, outbox, nil
}

// RemoveConnection cleans up a closed connection.
func (c *connectionManager) RemoveConnection(ctx context.Context, id uuid.UUID) {
	ctx = context.WithValue(ctx, entity.SessionContextKey, id)
	if err := c.ctrl.EndSession(ctx, id); err != nil {
		c.logger.Warnw("ending session", "session", id.String(), "error", err)
	}
}
