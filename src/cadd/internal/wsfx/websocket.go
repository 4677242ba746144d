// Package wsfx serves client sessions over WebSocket.
package wsfx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
	"github.com/uber-go/tally"
	"github.com/uber/cad-server/src/cadd/internal/protocol"
	"github.com/uber/cad-server/src/cadd/internal/serverinfofile"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	_configKey        = "websocket"
	_outputKeyAddress = "ws-address"
	_outputKeyPath    = "ws-path"

	_defaultPath                = "/ws"
	_defaultReadTimeoutSeconds  = 60
	_defaultWriteTimeoutSeconds = 10
	_defaultPingIntervalSeconds = 30
	_defaultMaxMessageBytes     = 1 << 20

	_maxCloseReasonBytes = 123
)

// Module is an fx module to serve WebSocket sessions.
var Module = fx.Provide(New)

//go:generate mockgen -source=websocket.go -destination=wsfxmock/websocket_mock.go -package=wsfxmock

// WebSocketModule accepts client connections and pumps messages between them and a Router.
type WebSocketModule interface {
	RegisterConnectionManager(connectionManager ConnectionManager) error
	// Addr returns the bound listener address once started.
	Addr() net.Addr
}

// Router handles the inbound messages of a single connection.
type Router interface {
	HandleMessage(ctx context.Context, data []byte) error
	UUID() uuid.UUID
}

// Outbox is the outbound message queue of a single connection.
type Outbox interface {
	Messages() <-chan protocol.ServerMessage
	Done() <-chan struct{}
	Err() error
}

// ConnectionManager will manage each active connection and its corresponding Router throughout the lifecycle of a connection.
type ConnectionManager interface {
	NewConnection(ctx context.Context, remoteAddr string) (Router, Outbox, error)
	RemoveConnection(ctx context.Context, id uuid.UUID)
}

// Config is the websocket configuration block.
type Config struct {
	Address             string `yaml:"address"`
	Path                string `yaml:"path"`
	ReadTimeoutSeconds  int    `yaml:"readTimeoutSeconds"`
	WriteTimeoutSeconds int    `yaml:"writeTimeoutSeconds"`
	PingIntervalSeconds int    `yaml:"pingIntervalSeconds"`
	MaxMessageBytes     int64  `yaml:"maxMessageBytes"`
}

func (c Config) readTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c Config) writeTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

func (c Config) pingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

// Params define values to be used by the module.
type Params struct {
	fx.In

	Config         config.Provider
	Lifecycle      fx.Lifecycle
	Logger         *zap.SugaredLogger
	Stats          tally.Scope
	ServerInfoFile serverinfofile.ServerInfoFile
}

type module struct {
	cfg            Config
	connectionMgr  ConnectionManager
	upgrader       websocket.Upgrader
	server         *http.Server
	ln             net.Listener
	logger         *zap.SugaredLogger
	stats          tally.Scope
	serverInfoFile serverinfofile.ServerInfoFile

	mu       sync.Mutex
	stopping bool
	conns    map[*websocket.Conn]struct{}
	wg       sync.WaitGroup
	serveWg  sync.WaitGroup
}

// New creates a new WebSocket server on the configured address.
func New(p Params) (WebSocketModule, error) {
	if p.Lifecycle == nil || p.Config == nil {
		return nil, errors.New("required parameters are missing")
	}

	m := &module{
		logger:         p.Logger.With("component", "websocket"),
		stats:          p.Stats.SubScope("websocket"),
		serverInfoFile: p.ServerInfoFile,
		conns:          make(map[*websocket.Conn]struct{}),
	}
	if err := m.processConfig(p.Config); err != nil {
		return nil, err
	}
	m.upgrader = websocket.Upgrader{
		HandshakeTimeout: m.cfg.writeTimeout(),
		// Clients are native tools and local frontends rather than browsers on third party origins.
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: m.OnStart,
		OnStop:  m.OnStop,
	})
	return m, nil
}

// RegisterConnectionManager sets the connection manager, which keeps track of current active connections and provides a Router implementation.
func (m *module) RegisterConnectionManager(connectionMgr ConnectionManager) error {
	if m.connectionMgr != nil {
		return errors.New("cannot register a duplicate connection manager")
	}
	m.connectionMgr = connectionMgr
	return nil
}

func (m *module) Addr() net.Addr {
	if m.ln == nil {
		return nil
	}
	return m.ln.Addr()
}

// OnStart binds the listener and begins serving connections.
func (m *module) OnStart(ctx context.Context) error {
	if m.connectionMgr == nil {
		return errors.New("cannot serve connections, no connection manager set")
	}

	ln, err := net.Listen("tcp", m.cfg.Address)
	if err != nil {
		return fmt.Errorf("listening on %q: %w", m.cfg.Address, err)
	}
	m.ln = ln

	mux := http.NewServeMux()
	mux.Handle(m.cfg.Path, m)
	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: m.cfg.readTimeout(),
	}

	if err := m.serverInfoFile.UpdateField(_outputKeyAddress, ln.Addr().String()); err != nil {
		ln.Close()
		return err
	}
	if err := m.serverInfoFile.UpdateField(_outputKeyPath, m.cfg.Path); err != nil {
		ln.Close()
		return err
	}

	m.serveWg.Add(1)
	go func() {
		defer m.serveWg.Done()
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Errorf("serving websocket inbound: %s", err)
		}
	}()

	m.logger.Infow("started websocket inbound", zap.String("address", ln.Addr().String()), zap.String("path", m.cfg.Path))
	return nil
}

// OnStop stops accepting connections and closes the open ones.
func (m *module) OnStop(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	err := m.server.Shutdown(ctx)
	m.serveWg.Wait()

	// Hijacked connections are not tracked by the http server.
	m.mu.Lock()
	m.stopping = true
	for conn := range m.conns {
		err = multierr.Append(err, writeClose(conn, websocket.CloseGoingAway, "server shutting down", m.cfg.writeTimeout()))
		err = multierr.Append(err, conn.Close())
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, fmt.Errorf("waiting for connections to close: %w", ctx.Err()))
	}
	return ignoreClosed(err)
}

// ServeHTTP upgrades the request and serves the connection until either side closes it.
func (m *module) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		m.logger.Infow("websocket upgrade failed", "remoteAddr", r.RemoteAddr, "error", err)
		return
	}

	if !m.track(conn) {
		writeClose(conn, websocket.CloseGoingAway, "server shutting down", m.cfg.writeTimeout())
		conn.Close()
		return
	}
	defer m.untrack(conn)

	m.serveConn(context.Background(), conn, r.RemoteAddr)
}

func (m *module) track(conn *websocket.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopping {
		return false
	}
	m.conns[conn] = struct{}{}
	m.wg.Add(1)
	m.stats.Gauge("connections").Update(float64(len(m.conns)))
	return true
}

func (m *module) untrack(conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.conns, conn)
	m.wg.Done()
	m.stats.Gauge("connections").Update(float64(len(m.conns)))
}

func (m *module) serveConn(ctx context.Context, conn *websocket.Conn, remoteAddr string) {
	defer conn.Close()

	router, outbox, err := m.connectionMgr.NewConnection(ctx, remoteAddr)
	if err != nil {
		m.logger.Warnw("rejecting connection", "remoteAddr", remoteAddr, "error", err)
		writeClose(conn, websocket.CloseInternalServerErr, "session could not be created", m.cfg.writeTimeout())
		return
	}
	m.logger.Infow("client connected", zap.Stringer("uuid", router.UUID()), zap.String("remoteAddr", remoteAddr))
	m.stats.Counter("connected").Inc(1)

	connCtx, cancel := context.WithCancel(ctx)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		m.writeLoop(connCtx, conn, outbox)
		// Give the peer a bounded window to answer a close frame.
		conn.SetReadDeadline(time.Now().Add(m.cfg.writeTimeout()))
	}()

	m.readLoop(connCtx, conn, router)

	cancel()
	// Unblocks a writer stuck on a full socket.
	conn.Close()
	<-writerDone

	m.connectionMgr.RemoveConnection(ctx, router.UUID())
	m.stats.Counter("disconnected").Inc(1)
	m.logger.Infow("client disconnected", zap.Stringer("uuid", router.UUID()))
}

// readLoop dispatches inbound messages in arrival order until the connection fails.
func (m *module) readLoop(ctx context.Context, conn *websocket.Conn, router Router) {
	conn.SetReadLimit(m.cfg.MaxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(m.cfg.readTimeout()))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.cfg.readTimeout()))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				m.logger.Infow("reading message", zap.Stringer("uuid", router.UUID()), "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(m.cfg.readTimeout()))

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			m.stats.Counter("messages_received").Inc(1)
			if err := router.HandleMessage(ctx, data); err != nil {
				m.logger.Warnw("handling message", zap.Stringer("uuid", router.UUID()), "error", err)
			}
		}
	}
}

// writeLoop drains the outbox onto the socket and keeps the connection alive with pings.
func (m *module) writeLoop(ctx context.Context, conn *websocket.Conn, outbox Outbox) {
	ticker := time.NewTicker(m.cfg.pingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-outbox.Done():
			reason := "session closed"
			if err := outbox.Err(); err != nil {
				reason = err.Error()
			}
			writeClose(conn, websocket.ClosePolicyViolation, reason, m.cfg.writeTimeout())
			return

		case msg := <-outbox.Messages():
			data, err := protocol.Encode(msg)
			if err != nil {
				m.logger.Errorf("encoding %s: %s", msg.MessageType(), err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(m.cfg.writeTimeout()))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// A write deadline cannot be recovered from.
				return
			}
			m.stats.Counter("messages_sent").Inc(1)

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.cfg.writeTimeout())); err != nil {
				return
			}
		}
	}
}

func writeClose(conn *websocket.Conn, code int, reason string, timeout time.Duration) error {
	return conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, truncateReason(reason)), time.Now().Add(timeout))
}

// truncateReason cuts reason to fit a close frame without splitting a UTF-8 sequence.
// Control frames are limited to 125 bytes, two of which carry the code.
func truncateReason(reason string) string {
	if len(reason) <= _maxCloseReasonBytes {
		return reason
	}
	end := _maxCloseReasonBytes
	for end > 0 && !utf8.RuneStart(reason[end]) {
		end--
	}
	return reason[:end]
}

// ignoreClosed drops errors from connections that closed on their own during shutdown.
func ignoreClosed(err error) error {
	var out error
	for _, e := range multierr.Errors(err) {
		if errors.Is(e, net.ErrClosed) || errors.Is(e, websocket.ErrCloseSent) {
			continue
		}
		out = multierr.Append(out, e)
	}
	return out
}

// processConfig will parse the configuration for any values required by this module.
func (m *module) processConfig(cfg config.Provider) error {
	m.cfg = Config{
		Path:                _defaultPath,
		ReadTimeoutSeconds:  _defaultReadTimeoutSeconds,
		WriteTimeoutSeconds: _defaultWriteTimeoutSeconds,
		PingIntervalSeconds: _defaultPingIntervalSeconds,
		MaxMessageBytes:     _defaultMaxMessageBytes,
	}
	if err := cfg.Get(_configKey).Populate(&m.cfg); err != nil {
		// incorrectly formatted config
		return fmt.Errorf("getting config field %q: %w", _configKey, err)
	}

	if m.cfg.Address == "" {
		// yaml is missing either the key or value
		return fmt.Errorf("missing field %q in config", _configKey+".address")
	}
	if m.cfg.ReadTimeoutSeconds <= 0 || m.cfg.WriteTimeoutSeconds <= 0 || m.cfg.PingIntervalSeconds <= 0 || m.cfg.MaxMessageBytes <= 0 {
		return fmt.Errorf("config field %q: timeouts and message size must be positive", _configKey)
	}
	if m.cfg.PingIntervalSeconds >= m.cfg.ReadTimeoutSeconds {
		return fmt.Errorf("config field %q: pingIntervalSeconds must be less than readTimeoutSeconds", _configKey)
	}
	return nil
}
