package infrastructure

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"eventsWs/internal/modules/realtime/application/port"
	"eventsWs/internal/modules/realtime/domain"
	"eventsWs/internal/platform/metrics"
	"eventsWs/internal/shared/auth"
	"eventsWs/internal/shared/logging"
)

const writeWait = 10 * time.Second

var errSessionClosed = errors.New("session closed")

type sessionState int

const (
	stateUnauthenticated sessionState = iota
	stateAuthenticated
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateUnauthenticated:
		return "unauthenticated"
	case stateAuthenticated:
		return "authenticated"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionConfig tunes the websocket side of a session.
type SessionConfig struct {
	SendBuffer   int
	ReadLimit    int64
	PingInterval time.Duration
	PongWait     time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 16
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 16
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	return c
}

// Session couples one websocket connection to its authentication state and to the
// broker resources the bridge keeps under the session id.
type Session struct {
	id       string
	conn     *websocket.Conn
	bridge   port.EventBridge
	verifier port.TokenVerifier
	commands *CommandTable
	cfg      SessionConfig
	send     chan []byte

	// mu guards the fields below; the delivery goroutine reads them concurrently.
	mu        sync.RWMutex
	state     sessionState
	sessionID string
	token     string
	bindings  map[string]struct{}

	closeOnce  sync.Once
	hookMu     sync.Mutex
	hooksRun   bool
	closeHooks []func(*Session)
}

// NewSession assigns a fresh id to the connection. conn may be nil when the
// session is driven directly through HandleFrame.
func NewSession(conn *websocket.Conn, bridge port.EventBridge, verifier port.TokenVerifier, commands *CommandTable, cfg SessionConfig) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		id:       uuid.Must(uuid.NewV7()).String(),
		conn:     conn,
		bridge:   bridge,
		verifier: verifier,
		commands: commands,
		cfg:      cfg,
		send:     make(chan []byte, cfg.SendBuffer),
		bindings: make(map[string]struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

// Authenticated reports whether a valid auth command has been processed.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == stateAuthenticated
}

// CorrelationID returns the client supplied sessionId, empty before auth.
func (s *Session) CorrelationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Bindings lists the routing keys currently bound for this session.
func (s *Session) Bindings() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.bindings))
	for key := range s.bindings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (s *Session) authenticate(sessionID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return
	}
	s.state = stateAuthenticated
	s.sessionID = sessionID
	s.token = token
}

// startConsuming builds channel, queue and consumer for the session if missing.
func (s *Session) startConsuming(ctx context.Context) error {
	if s.closed() {
		return errSessionClosed
	}
	if _, err := s.bridge.RegisterConsumer(ctx, s.id, s.handleDelivery); err != nil {
		return err
	}
	// The writer may have closed the session while the broker round trip was in flight.
	if s.closed() {
		s.bridge.Teardown(s.id)
		return errSessionClosed
	}
	return nil
}

func (s *Session) closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == stateClosed
}

func (s *Session) bind(ctx context.Context, routingKey string) error {
	if err := s.bridge.Subscribe(ctx, s.id, routingKey); err != nil {
		s.forgetBindingsIfLost(err)
		return err
	}
	s.mu.Lock()
	s.bindings[routingKey] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *Session) unbind(ctx context.Context, routingKey string) error {
	if err := s.bridge.Unsubscribe(ctx, s.id, routingKey); err != nil {
		s.forgetBindingsIfLost(err)
		return err
	}
	s.mu.Lock()
	delete(s.bindings, routingKey)
	s.mu.Unlock()
	return nil
}

func (s *Session) forgetBindingsIfLost(err error) {
	if errors.Is(err, port.ErrResourcesLost) {
		s.mu.Lock()
		clear(s.bindings)
		s.mu.Unlock()
	}
}

// HandleFrame decodes and dispatches one inbound frame. Errors are logged here and
// returned for callers that want to inspect them; none of them ends the session.
func (s *Session) HandleFrame(ctx context.Context, raw []byte) error {
	frame, err := domain.ParseFrame(raw)
	if err != nil {
		slog.Error("ws invalid json", slog.String("clientId", s.id), logging.Err(err))
		return err
	}
	if err := s.commands.Dispatch(ctx, s, frame); err != nil {
		s.logCommandError(frame.Cmd, err)
		return err
	}
	return nil
}

func (s *Session) logCommandError(cmd string, err error) {
	attrs := []any{slog.String("clientId", s.id), slog.String("cmd", cmd), logging.Err(err)}
	var argErr *domain.ArgumentError
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		slog.Error("ws command unauthenticated", attrs...)
	case errors.Is(err, domain.ErrInvalidCommand):
		slog.Error("ws invalid command", attrs...)
	case errors.As(err, &argErr) && errors.Is(err, domain.ErrMissingArgument):
		slog.Error("ws missing argument", append(attrs, slog.String("argument", argErr.Path))...)
	case errors.As(err, &argErr):
		slog.Error("ws invalid argument", append(attrs, slog.String("argument", argErr.Path))...)
	case errors.Is(err, auth.ErrTokenInvalid):
		slog.Error("ws authenticate failed", attrs...)
	default:
		slog.Error("ws command failed", attrs...)
	}
}

// handleDelivery is the push path for broker messages bound to this session.
func (s *Session) handleDelivery(d port.Delivery) {
	s.mu.RLock()
	own, closed := s.sessionID, s.state == stateClosed
	s.mu.RUnlock()
	if closed {
		metrics.Events.WithLabelValues("dropped").Inc()
		return
	}

	frame, outcome, err := domain.PrepareEvent(d.Body, d.RoutingKey, own)
	if err != nil {
		metrics.Events.WithLabelValues("malformed").Inc()
		slog.Error("ws event invalid json", slog.String("clientId", s.id), slog.String("routingKey", d.RoutingKey), logging.Err(err))
		return
	}
	if outcome == domain.EventSuppressed {
		metrics.Events.WithLabelValues("suppressed").Inc()
		slog.Debug("ws event suppressed", slog.String("clientId", s.id), slog.String("routingKey", d.RoutingKey))
		return
	}
	if !s.enqueue(frame) {
		metrics.Events.WithLabelValues("dropped").Inc()
		slog.Error("ws event failed to send", slog.String("clientId", s.id), slog.String("routingKey", d.RoutingKey))
		return
	}
	metrics.Events.WithLabelValues("pushed").Inc()
	slog.Debug("ws event", slog.String("clientId", s.id), slog.String("routingKey", d.RoutingKey))
}

// sendReply queues a protocol response such as pong.
func (s *Session) sendReply(cmd string) bool {
	data, err := json.Marshal(domain.Reply{Cmd: cmd})
	if err != nil {
		return false
	}
	return s.enqueue(data)
}

// enqueue never blocks: when the writer is behind, the frame is dropped.
func (s *Session) enqueue(frame []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == stateClosed {
		return false
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// AddCloseHook registers a callback executed once when the session closes. Hooks
// added after close run immediately.
func (s *Session) AddCloseHook(fn func(*Session)) {
	if fn == nil {
		return
	}
	s.hookMu.Lock()
	if s.hooksRun {
		s.hookMu.Unlock()
		fn(s)
		return
	}
	s.closeHooks = append(s.closeHooks, fn)
	s.hookMu.Unlock()
}

func (s *Session) invokeCloseHooks() {
	s.hookMu.Lock()
	hooks := s.closeHooks
	s.closeHooks = nil
	s.hooksRun = true
	s.hookMu.Unlock()

	for _, hook := range hooks {
		func(h func(*Session)) {
			defer func() {
				if r := recover(); r != nil {
					slog.Warn("ws close hook panic", slog.String("clientId", s.id), slog.Any("error", r))
				}
			}()
			h(s)
		}(hook)
	}
}

// Close tears the session down exactly once, whatever ended it.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = stateClosed
		close(s.send)
		s.mu.Unlock()

		s.bridge.Teardown(s.id)
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.invokeCloseHooks()
		slog.Info("ws session closed", slog.String("clientId", s.id), slog.String("sessionId", s.CorrelationID()))
	})
}

// WritePump owns every write to the connection and keeps it alive with pings.
func (s *Session) WritePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Warn("ws write error", slog.String("clientId", s.id), logging.Err(err))
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				slog.Warn("ws ping error", slog.String("clientId", s.id), logging.Err(err))
				return
			}
		}
	}
}

// ReadPump processes inbound frames until the transport closes, then tears down.
func (s *Session) ReadPump(ctx context.Context) {
	defer s.Close()

	s.conn.SetReadLimit(s.cfg.ReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.Warn("ws read error", slog.String("clientId", s.id), slog.String("sessionId", s.CorrelationID()), logging.Err(err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		_ = s.HandleFrame(ctx, data)
	}
}
