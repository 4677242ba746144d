// Package sessionclient owns the outbound queue of every connected session.
package sessionclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/uber-go/tally"
	"github.com/uber/cad-server/src/cadd/entity"
	"github.com/uber/cad-server/src/cadd/internal/errors"
	"github.com/uber/cad-server/src/cadd/internal/protocol"
	"github.com/uber/cad-server/src/cadd/mapper"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_errSendToClient = "sending message to session: %w"

	_configKey                = "sessions.outboundQueueSize"
	_defaultOutboundQueueSize = 256
)

//go:generate mockgen -source=session_client.go -destination=sessionclientmock/session_client_mock.go -package=sessionclientmock

// Module provides the gateway to an Fx application.
var Module = fx.Provide(New)

// Gateway delivers outbound messages to sessions. Each session has its own bounded
// queue so that a slow session never blocks delivery to the others.
type Gateway interface {
	// RegisterClient creates the outbound queue for a new session.
	RegisterClient(ctx context.Context, id uuid.UUID) (Outbox, error)
	// DeregisterClient drops the session's queue. It is safe to call more than once.
	DeregisterClient(ctx context.Context, id uuid.UUID) error
	// ForgetDocument drops the session's ordering state for every object of doc.
	ForgetDocument(ctx context.Context, id uuid.UUID, doc entity.DocumentID) error

	// Send enqueues msg for the session without blocking. Mesh and content messages
	// older than one already queued for the same object are dropped. A session whose
	// queue is full is disconnected.
	Send(ctx context.Context, id uuid.UUID, msg protocol.ServerMessage) error
	// Reply sends msg to the session found in ctx.
	Reply(ctx context.Context, msg protocol.ServerMessage) error
}

// Outbox is the receiving side of a session's queue, drained by its connection writer.
type Outbox interface {
	Messages() <-chan protocol.ServerMessage
	// Done is closed when the session is deregistered or disconnected as a slow consumer.
	Done() <-chan struct{}
	// Err returns why Done was closed.
	Err() error
}

// Params are inbound parameters to initialize the gateway.
type Params struct {
	fx.In

	Config config.Provider
	Logger *zap.SugaredLogger
	Stats  tally.Scope
}

type watermarkClass int

const (
	_classContent watermarkClass = iota
	_classMesh
)

type watermarkKey struct {
	document  entity.DocumentID
	object    entity.ObjectID
	operation entity.Operation
	class     watermarkClass
}

type client struct {
	id       uuid.UUID
	messages chan protocol.ServerMessage
	done     chan struct{}

	// mu orders watermark checks with enqueueing.
	mu         sync.Mutex
	closed     bool
	err        error
	watermarks map[watermarkKey]entity.ContentVersion
}

func (c *client) Messages() <-chan protocol.ServerMessage { return c.messages }
func (c *client) Done() <-chan struct{}                   { return c.done }

func (c *client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// closeLocked must be called with c.mu held.
func (c *client) closeLocked(err error) {
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.done)
}

// forgetLocked must be called with c.mu held.
func (c *client) forgetLocked(match func(watermarkKey) bool) {
	for k := range c.watermarks {
		if match(k) {
			delete(c.watermarks, k)
		}
	}
}

type gateway struct {
	clients   map[uuid.UUID]*client
	clientsMu sync.RWMutex
	queueSize int
	logger    *zap.SugaredLogger
	stats     tally.Scope
}

// New returns a Gateway for sending messages to sessions.
func New(p Params) (Gateway, error) {
	queueSize := _defaultOutboundQueueSize
	if v := p.Config.Get(_configKey); v.HasValue() {
		if err := v.Populate(&queueSize); err != nil {
			return nil, fmt.Errorf("getting config field %q: %w", _configKey, err)
		}
	}
	if queueSize < 1 {
		return nil, fmt.Errorf("config field %q must be at least 1, got %d", _configKey, queueSize)
	}

	return &gateway{
		clients:   make(map[uuid.UUID]*client),
		queueSize: queueSize,
		logger:    p.Logger.With("component", "session-gateway"),
		stats:     p.Stats.SubScope("outbound"),
	}, nil
}

func (g *gateway) RegisterClient(ctx context.Context, id uuid.UUID) (Outbox, error) {
	g.clientsMu.Lock()
	defer g.clientsMu.Unlock()

	if _, ok := g.clients[id]; ok {
		return nil, fmt.Errorf("client with id %q already registered", id)
	}
	c := &client{
		id:         id,
		messages:   make(chan protocol.ServerMessage, g.queueSize),
		done:       make(chan struct{}),
		watermarks: make(map[watermarkKey]entity.ContentVersion),
	}
	g.clients[id] = c
	g.stats.Gauge("clients").Update(float64(len(g.clients)))
	return c, nil
}

func (g *gateway) DeregisterClient(ctx context.Context, id uuid.UUID) error {
	g.clientsMu.Lock()
	c, ok := g.clients[id]
	delete(g.clients, id)
	g.stats.Gauge("clients").Update(float64(len(g.clients)))
	g.clientsMu.Unlock()

	if ok {
		c.mu.Lock()
		c.closeLocked(errors.ErrDisconnected)
		c.mu.Unlock()
	}
	return nil
}

func (g *gateway) Reply(ctx context.Context, msg protocol.ServerMessage) error {
	id, err := mapper.ContextToSessionUUID(ctx)
	if err != nil {
		return fmt.Errorf(_errSendToClient, err)
	}
	return g.Send(ctx, id, msg)
}

func (g *gateway) Send(ctx context.Context, id uuid.UUID, msg protocol.ServerMessage) error {
	if msg == nil {
		return fmt.Errorf(_errSendToClient, errors.New("nil message"))
	}

	c, err := g.getClient(id)
	if err != nil {
		return fmt.Errorf(_errSendToClient, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf(_errSendToClient, errors.ErrDisconnected)
	}

	key, version, ordered := orderingOf(msg)
	if ordered {
		if last, ok := c.watermarks[key]; ok && version < last {
			g.stats.Counter("dropped_stale").Inc(1)
			g.logger.Debugw("dropping stale message", "session", id.String(), "type", msg.MessageType(), "version", version, "delivered", last)
			return nil
		}
	}

	select {
	case c.messages <- msg:
		if ordered {
			c.watermarks[key] = version
		}
		if deleted, ok := msg.(*protocol.ObjectDeleted); ok {
			c.forgetLocked(func(k watermarkKey) bool {
				return k.document == deleted.DocumentID && k.object == deleted.ObjectID
			})
		}
		g.stats.Counter("enqueued").Inc(1)
		return nil
	default:
	}

	// Slow consumer: disconnect this session only.
	c.closeLocked(fmt.Errorf("outbound queue of %d messages is full: %w", g.queueSize, errors.ErrDisconnected))
	g.stats.Counter("slow_consumers").Inc(1)
	g.logger.Warnw("disconnecting slow session", "session", id.String(), "queueSize", g.queueSize)

	g.clientsMu.Lock()
	if g.clients[id] == c {
		delete(g.clients, id)
	}
	g.stats.Gauge("clients").Update(float64(len(g.clients)))
	g.clientsMu.Unlock()
	return fmt.Errorf(_errSendToClient, errors.ErrDisconnected)
}

func (g *gateway) ForgetDocument(ctx context.Context, id uuid.UUID, doc entity.DocumentID) error {
	c, err := g.getClient(id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.forgetLocked(func(k watermarkKey) bool { return k.document == doc })
	return nil
}

func (g *gateway) getClient(id uuid.UUID) (*client, error) {
	g.clientsMu.RLock()
	defer g.clientsMu.RUnlock()

	c, ok := g.clients[id]
	if !ok {
		return nil, &errors.UUIDNotFoundError{UUID: id}
	}
	return c, nil
}

// orderingOf returns the watermark slot and version for messages that must be
// delivered in non-decreasing content version order.
func orderingOf(msg protocol.ServerMessage) (watermarkKey, entity.ContentVersion, bool) {
	switch m := msg.(type) {
	case *protocol.ContentChanged:
		return watermarkKey{document: m.DocumentID, object: m.ObjectID, class: _classContent}, m.ContentVersion, true
	case *protocol.MeshUpdate:
		return watermarkKey{document: m.DocumentID, object: m.ObjectID, operation: m.Operation, class: _classMesh}, m.ContentVersion, true
	case *protocol.MeshFailed:
		return watermarkKey{document: m.DocumentID, object: m.ObjectID, operation: m.Operation, class: _classMesh}, m.ContentVersion, true
	}
	return watermarkKey{}, 0, false
}
