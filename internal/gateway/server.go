// Package gateway is the UI bridge: a websocket RPC surface over the voice
// session that also forwards every session event to connected clients.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/soyeahso/voxlink/internal/bus"
	"github.com/soyeahso/voxlink/internal/config"
	"github.com/soyeahso/voxlink/internal/credential"
	"github.com/soyeahso/voxlink/internal/domain"
	"github.com/soyeahso/voxlink/internal/logging"
	"github.com/soyeahso/voxlink/internal/metrics"
	"github.com/soyeahso/voxlink/internal/session"
	"github.com/soyeahso/voxlink/internal/transcript"
	"github.com/soyeahso/voxlink/internal/turndetect"
	"github.com/soyeahso/voxlink/internal/version"
)

const (
	maxPayload       = 1 << 20
	handshakeTimeout = 10 * time.Second
)

// Controller is the voice session surface the gateway drives.
// Implemented by *session.Session.
type Controller interface {
	Connect(ctx context.Context, req session.ConnectRequest) error
	Disconnect()
	Status() domain.SessionStatus
	SessionID() string
	ActiveAgent() string
	Agents() domain.AgentSet
	Scenario() string
	Muted() bool
	TurnDetection() turndetect.Settings
	SendUserText(ctx context.Context, text string) error
	Interrupt(ctx context.Context) error
	StartTalking(ctx context.Context) error
	StopTalking(ctx context.Context) error
	Mute(ctx context.Context, muted bool) error
	SetAudioPlayback(ctx context.Context, enabled bool) error
	UpdateTurnDetection(ctx context.Context, u turndetect.Update) (turndetect.Settings, error)
	SetVoice(ctx context.Context, voice string) error
	SwitchAgents(ctx context.Context, agents domain.AgentSet, selected, scenario string) error
	Transcript() []transcript.Item
	ToggleExpanded(itemID string) (transcript.Item, bool)
}

// ScenarioFunc resolves a scenario name to its agents. Empty means default.
type ScenarioFunc func(name string) (domain.AgentSet, error)

// Server is the gateway HTTP + websocket server.
type Server struct {
	cfg        config.GatewayConfig
	auth       ResolvedAuth
	log        *logging.Logger
	clients    *ClientRegistry
	handlers   map[string]MethodFunc
	version    string
	eventSeq   atomic.Int64
	session    Controller
	events     *bus.Bus
	credential credential.Provider
	scenarios  ScenarioFunc
	metrics    *metrics.Metrics

	mu          sync.Mutex
	baseCtx     context.Context
	unsubscribe func()
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authLimiter
	startedAt   time.Time
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithCredential sets the provider used by session.connect.
func WithCredential(p credential.Provider) ServerOption {
	return func(s *Server) { s.credential = p }
}

// WithScenarios sets the scenario resolver used by session.connect and
// agent.select.
func WithScenarios(fn ScenarioFunc) ServerOption {
	return func(s *Server) { s.scenarios = fn }
}

// WithMetrics records RPC and client metrics and serves /metrics.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// New creates a gateway over ctrl. Events published on events are forwarded
// to every client until Close.
func New(cfg config.GatewayConfig, ctrl Controller, events *bus.Bus, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		auth:        ResolveAuth(cfg.Auth),
		log:         log.Sub("gateway"),
		clients:     NewClientRegistry(log.Sub("clients")),
		handlers:    make(map[string]MethodFunc),
		version:     version.Version,
		session:     ctrl,
		events:      events,
		baseCtx:     context.Background(),
		authLimiter: newAuthLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRPCHandlers()
	if events != nil {
		s.unsubscribe = events.SubscribeAll("gateway", s.forward)
	}
	return s
}

// forward relays a bus event to every client.
func (s *Server) forward(_ context.Context, ev bus.Event) error {
	if s.clients.Count() == 0 {
		return nil
	}
	s.clients.Broadcast(ev.Kind.String(), ev, s.eventSeq.Add(1))
	return nil
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler MethodFunc) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names, sorted.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Events returns the event names clients may receive.
func Events() []string {
	names := []string{"connect.challenge"}
	for _, k := range bus.Kinds() {
		names = append(names, k.String())
	}
	return names
}

func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.AllowedOrigins, s.metrics)
}

// Start listens until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	s.mu.Lock()
	s.baseCtx = ctx
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	srv := s.httpServer
	s.startedAt = time.Now()
	s.mu.Unlock()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if s.cfg.Bind != "loopback" && s.cfg.Bind != "" && s.auth.Mode == "none" {
		s.log.Warn().Msg("gateway reachable from the network without authentication")
	}

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("auth", s.auth.Mode).
		Int("methods", len(s.handlers)).
		Msg("gateway server ready")

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops event forwarding and drops all clients.
func (s *Server) Close() {
	s.mu.Lock()
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	s.clients.CloseAll()
}

func (s *Server) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

func (s *Server) clientLimiter() *rate.Limiter {
	rl := s.cfg.RateLimit
	if rl.RequestsPerSecond <= 0 {
		return nil
	}
	burst := rl.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), burst)
}

// handleWebSocket upgrades the request and serves one UI client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited: too many failed auth attempts")
		s.metrics.RecordRateLimited("auth")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		s.authLimiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}

	s.clients.Add(client)
	s.metrics.ClientConnected()
	defer func() {
		s.clients.Remove(client.ConnID)
		s.metrics.ClientDisconnected()
		client.Close()
	}()

	s.readLoop(client)
}

// handshake authenticates a new connection: the server sends a challenge,
// the client answers with connect, the server replies hello-ok.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	challenge, err := NewEvent("connect.challenge", map[string]any{
		"nonce": uuid.New().String(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}
	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, fmt.Errorf("parsing connect frame: %w", err)
	}
	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		sendErrorAndClose(conn, frame.ID, "protocol_error", "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}

	var params ConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		sendErrorAndClose(conn, frame.ID, "invalid_params", "invalid connect params")
		return nil, fmt.Errorf("parsing connect params: %w", err)
	}
	if params.MaxProtocol != 0 && params.MaxProtocol < ProtocolVersion {
		sendErrorAndClose(conn, frame.ID, "protocol_error", "unsupported protocol version")
		return nil, fmt.Errorf("client protocol %d-%d unsupported", params.MinProtocol, params.MaxProtocol)
	}

	authResult := Authorize(s.auth, params.Auth)
	if !authResult.OK {
		sendErrorAndClose(conn, frame.ID, "unauthorized", authResult.Reason)
		return nil, fmt.Errorf("auth failed: %s", authResult.Reason)
	}

	_ = conn.SetReadDeadline(time.Time{})
	client := NewClient(conn, params.Client, authResult, s.clientLimiter(), s.log.Sub("ws"))

	hello := HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Version: s.version,
			Commit:  version.Current().Commit,
			ConnID:  client.ConnID,
		},
		Features: Features{Methods: s.Methods(), Events: Events()},
		Policy: ServerPolicy{
			MaxPayload:        maxPayload,
			RequestsPerSecond: s.cfg.RateLimit.RequestsPerSecond,
			Burst:             s.cfg.RateLimit.Burst,
		},
		Session: s.statusReply(),
	}
	if err := client.Respond(frame.ID, hello); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Str("authMethod", authResult.Method).
		Msg("client authenticated")
	return client, nil
}

// readLoop processes frames from an authenticated client.
func (s *Server) readLoop(client *Client) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}
		if frame.Type != FrameTypeRequest {
			s.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}
		s.dispatch(client, frame)
	}
}

// dispatch routes a request to its handler.
func (s *Server) dispatch(client *Client, frame Frame) {
	if !client.Allow() {
		s.metrics.RecordRateLimited("rpc")
		s.metrics.RecordRPC(frame.Method, "rate_limited")
		client.RespondError(frame.ID, ErrorShape{
			Code:       "rate_limited",
			Message:    "too many requests",
			Retryable:  true,
			RetryAfter: s.retryAfterMs(),
		})
		return
	}

	handler, ok := s.handlers[frame.Method]
	if !ok {
		s.metrics.RecordRPC("unknown", "method_not_found")
		client.RespondError(frame.ID, ErrorShape{
			Code:    "method_not_found",
			Message: "unknown method: " + frame.Method,
		})
		return
	}

	handler(&Call{Client: client, Frame: frame, Server: s})
}

func (s *Server) retryAfterMs() int {
	if s.cfg.RateLimit.RequestsPerSecond <= 0 {
		return 0
	}
	return int(1000/s.cfg.RateLimit.RequestsPerSecond) + 1
}

// sendErrorAndClose sends an error response and a close frame.
func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{Code: code, Message: message}))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, message))
}
