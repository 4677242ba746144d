// Package caddaemon implements the cad daemon business logic: it applies client edits to
// the model store, requests meshes from the scheduler and fans results out to sessions.
package caddaemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/uber-go/tally"
	"github.com/uber/cad-server/src/cadd/controller/scheduler"
	sessionclient "github.com/uber/cad-server/src/cadd/gateway/session-client"
	"github.com/uber/cad-server/src/cadd/internal/errors"
	"github.com/uber/cad-server/src/cadd/internal/protocol"
	"github.com/uber/cad-server/src/cadd/mapper"
	"github.com/uber/cad-server/src/cadd/repository/document"
	"github.com/uber/cad-server/src/cadd/repository/session"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	// Configuration keys
	_autoRecomputeKey      = "scheduler.autoRecompute"
	_idleTimeoutMinutesKey = "idleTimeoutMinutes"
)

//go:generate mockgen -source=cad_daemon.go -destination=caddaemonmock/cad_daemon_mock.go -package=caddaemonmock

// Controller orchestrates the business logic for each inbound message.
// Every call except InitSession expects a context carrying the session UUID.
type Controller interface {
	Hello(ctx context.Context, msg *protocol.Hello) error
	CreateObject(ctx context.Context, msg *protocol.CreateObject) error
	EditObject(ctx context.Context, msg *protocol.EditObject) error
	DeleteObject(ctx context.Context, msg *protocol.DeleteObject) error
	SubscribeDocument(ctx context.Context, msg *protocol.SubscribeDocument) error
	UnsubscribeDocument(ctx context.Context, msg *protocol.UnsubscribeDocument) error
	// RequestMesh returns once the request is accepted; the result is delivered asynchronously.
	RequestMesh(ctx context.Context, msg *protocol.RequestMesh) error

	// InitSession creates a new session and returns its UUID and outbound queue.
	InitSession(ctx context.Context, remoteAddr string) (uuid.UUID, sessionclient.Outbox, error)
	// EndSession removes the session. It does not touch document subscriptions, which are pruned lazily.
	EndSession(ctx context.Context, id uuid.UUID) error
}

// Params are inbound parameters to initialize a new controller.
type Params struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Config     config.Provider
	Logger     *zap.SugaredLogger
	Stats      tally.Scope

	Sessions  session.Repository
	Documents document.Repository
	Scheduler scheduler.Scheduler
	Gateway   sessionclient.Gateway
}

type sessionState struct {
	ctx    context.Context
	cancel context.CancelFunc
}

type controller struct {
	sessions  session.Repository
	documents document.Repository
	scheduler scheduler.Scheduler
	gateway   sessionclient.Gateway
	logger    *zap.SugaredLogger
	stats     tally.Scope

	autoRecompute bool

	shutdowner  fx.Shutdowner
	idleTimeout time.Duration
	idleTimer   *time.Timer
	idleTimerMu sync.Mutex

	// ctx bounds every background wait; it is cancelled on stop.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	stopped  bool
	sessCtxs map[uuid.UUID]sessionState
}

// New constructs a new top-level controller for the service.
func New(p Params) (Controller, error) {
	var autoRecompute bool
	if v := p.Config.Get(_autoRecomputeKey); v.HasValue() {
		if err := v.Populate(&autoRecompute); err != nil {
			return nil, fmt.Errorf("getting config field %q: %w", _autoRecomputeKey, err)
		}
	}
	var idleTimeoutMinutes int
	if v := p.Config.Get(_idleTimeoutMinutesKey); v.HasValue() {
		if err := v.Populate(&idleTimeoutMinutes); err != nil {
			return nil, fmt.Errorf("getting config field %q: %w", _idleTimeoutMinutesKey, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &controller{
		sessions:      p.Sessions,
		documents:     p.Documents,
		scheduler:     p.Scheduler,
		gateway:       p.Gateway,
		logger:        p.Logger.With("component", "cad-daemon"),
		stats:         p.Stats.SubScope("cad_daemon"),
		autoRecompute: autoRecompute,
		shutdowner:    p.Shutdowner,
		idleTimeout:   time.Duration(idleTimeoutMinutes) * time.Minute,
		ctx:           ctx,
		cancel:        cancel,
		sessCtxs:      make(map[uuid.UUID]sessionState),
	}
	c.documents.AddListener(c.onChange)

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c.refreshIdleTimer(ctx)
			return nil
		},
		OnStop: c.stop,
	})
	return c, nil
}

// InitSession creates a new empty session and returns its UUID.
func (c *controller) InitSession(ctx context.Context, remoteAddr string) (uuid.UUID, sessionclient.Outbox, error) {
	defer c.refreshIdleTimer(ctx)

	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, nil, err
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return uuid.Nil, nil, errors.New("controller is stopped")
	}
	sessCtx, cancel := context.WithCancel(c.ctx)
	c.sessCtxs[id] = sessionState{ctx: sessCtx, cancel: cancel}
	c.mu.Unlock()

	outbox, err := c.gateway.RegisterClient(ctx, id)
	if err != nil {
		c.dropSessionState(id)
		return uuid.Nil, nil, fmt.Errorf("registering session client: %w", err)
	}

	if err := c.sessions.Set(ctx, mapper.UUIDToSession(id, remoteAddr)); err != nil {
		c.dropSessionState(id)
		c.gateway.DeregisterClient(ctx, id)
		return uuid.Nil, nil, fmt.Errorf("saving session: %w", err)
	}

	c.stats.Counter("sessions_started").Inc(1)
	c.logger.Infow("session started", "session", id.String(), "remoteAddr", remoteAddr)
	return id, outbox, nil
}

// EndSession includes any cleanup at the end of the session.
func (c *controller) EndSession(ctx context.Context, id uuid.UUID) error {
	defer c.refreshIdleTimer(ctx)

	c.dropSessionState(id)
	if err := c.gateway.DeregisterClient(ctx, id); err != nil {
		c.logger.Error(err)
	}

	c.stats.Counter("sessions_ended").Inc(1)
	c.logger.Infow("session ended", "session", id.String())
	return c.sessions.Delete(ctx, id)
}

func (c *controller) dropSessionState(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.sessCtxs[id]; ok {
		st.cancel()
		delete(c.sessCtxs, id)
	}
}

// sessionContext returns the context that lives as long as the session in ctx.
func (c *controller) sessionContext(ctx context.Context) (uuid.UUID, context.Context, error) {
	id, err := mapper.ContextToSessionUUID(ctx)
	if err != nil {
		return uuid.Nil, nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.sessCtxs[id]
	if !ok {
		return uuid.Nil, nil, &errors.UUIDNotFoundError{UUID: id}
	}
	return id, st.ctx, nil
}

// goAsync runs fn in a tracked goroutine unless the controller is stopping.
func (c *controller) goAsync(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
	return true
}

func (c *controller) stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	c.cancel()
	c.idleTimerMu.Lock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimerMu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for pending deliveries: %w", ctx.Err())
	}
}

// refreshIdleTimer shuts the service down after a period with no connected sessions.
// A zero timeout disables it.
func (c *controller) refreshIdleTimer(ctx context.Context) error {
	if c.idleTimeout <= 0 {
		return nil
	}

	c.idleTimerMu.Lock()
	defer c.idleTimerMu.Unlock()

	if c.idleTimer == nil {
		c.idleTimer = time.AfterFunc(c.idleTimeout, func() {
			c.logger.Infow("idle timeout reached, shutting down", "timeout", c.idleTimeout.String())
			if err := c.shutdowner.Shutdown(); err != nil {
				c.logger.Errorf("requesting shutdown: %s", err)
			}
		})
		return nil
	}

	count, err := c.sessions.SessionCount(ctx)
	if err != nil {
		return fmt.Errorf("error resetting timeout: %w", err)
	}

	c.idleTimer.Stop()
	if count == 0 {
		c.idleTimer.Reset(c.idleTimeout)
	}
	return nil
}
