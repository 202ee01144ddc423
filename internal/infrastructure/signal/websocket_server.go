package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"
	"voxsfu/internal/core/services"
	"voxsfu/internal/infrastructure/middleware"
	"voxsfu/pkg/config"
	apperrors "voxsfu/pkg/errors"
	rlog "voxsfu/pkg/logger"
	"voxsfu/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const leaveOnDisconnectTimeout = 10 * time.Second

// Options tune a signaling connection.
type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	OpTimeout      time.Duration
	SendBufferSize int
	MaxMessageSize int64
	// MessagesPerSecond of zero disables per-connection rate limiting.
	MessagesPerSecond float64
	Burst             int
	AllowedOrigins    []string
}

func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		OpTimeout:      cfg.Signal.OpTimeout,
		SendBufferSize: cfg.Signal.SendBufferSize,
		MaxMessageSize: cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		AllowedOrigins: cfg.Auth.AllowedOrigins,
	}
	if cfg.RateLimiting.Enabled {
		opts.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		opts.Burst = cfg.RateLimiting.WebSocket.Burst
	}
	return opts
}

// Metrics receives gateway measurements.
type Metrics interface {
	RecordSignalOp(op, result string, duration time.Duration)
	RecordConnectionOpened()
	RecordConnectionClosed()
	RecordConnectionRejected(reason string)
}

type noopMetrics struct{}

func (noopMetrics) RecordSignalOp(string, string, time.Duration) {}
func (noopMetrics) RecordConnectionOpened()                      {}
func (noopMetrics) RecordConnectionClosed()                      {}
func (noopMetrics) RecordConnectionRejected(string)              {}

// ConnectionLimiter admits new connections per client key.
type ConnectionLimiter interface {
	Allow(key string) bool
}

type ServerOption func(*WebSocketServer)

func WithMetrics(m Metrics) ServerOption {
	return func(s *WebSocketServer) { s.metrics = m }
}

func WithConnectionLimiter(l ConnectionLimiter) ServerOption {
	return func(s *WebSocketServer) {
		if l != nil {
			s.connLimiter = l
		}
	}
}

// WebSocketServer is the signaling gateway. It authenticates connections,
// decodes requests, runs them against the session service and pushes
// room events back out through the hub.
type WebSocketServer struct {
	service     ports.SessionService
	verifier    ports.IdentityVerifier
	hub         *Hub
	opts        Options
	upgrader    websocket.Upgrader
	metrics     Metrics
	connLimiter ConnectionLimiter
	ops         map[string]opHandler
	logger      *zap.SugaredLogger
	ctxLogger   *rlog.ContextLogger
}

func NewWebSocketServer(
	service ports.SessionService,
	verifier ports.IdentityVerifier,
	hub *Hub,
	opts Options,
	logger *zap.SugaredLogger,
	options ...ServerOption,
) *WebSocketServer {
	s := &WebSocketServer{
		service:   service,
		verifier:  verifier,
		hub:       hub,
		opts:      opts,
		metrics:   noopMetrics{},
		logger:    logger,
		ctxLogger: rlog.NewContextLogger(logger.Desugar()),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	s.ops = s.handlers()
	for _, o := range options {
		o(s)
	}
	return s
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// HandleWebSocket upgrades the request and serves the connection until it
// closes. A token may be supplied as ?token= or a bearer header; otherwise
// the client must send identify first.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.connLimiter != nil && !s.connLimiter.Allow(middleware.ClientIP(r)) {
		s.metrics.RecordConnectionRejected("rate_limited")
		writeHTTPError(w, apperrors.NewRateLimitError())
		return
	}

	var identity *domain.Identity
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = middleware.BearerToken(r.Header.Get("Authorization"))
	}
	if token != "" {
		id, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			s.metrics.RecordConnectionRejected("unauthorized")
			s.logger.Debugw("signaling token rejected", "token", utils.MaskSensitive(token, 8), "remote", middleware.ClientIP(r))
			writeHTTPError(w, services.ToAppError(err))
			return
		}
		identity = &id
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.RecordConnectionRejected("upgrade_failed")
		s.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(utils.NewConnectionID(), conn, s.opts, identity, s.logger)
	s.hub.register(c)
	s.metrics.RecordConnectionOpened()
	s.logger.Infow("signaling connection opened", "conn_id", c.id, "authenticated", identity != nil)

	go c.writePump()
	go c.dispatchLoop(s.dispatch)
	c.readPump()

	// Requests still being handled fail once their peer is gone.
	c.close()
	s.disconnect(c)
}

// disconnect leaves every room the connection still speaks for.
func (s *WebSocketServer) disconnect(c *Client) {
	rooms := s.hub.unregister(c)
	s.metrics.RecordConnectionClosed()

	identity, ok := c.Identity()
	if ok {
		for _, roomID := range rooms {
			ctx, cancel := context.WithTimeout(context.Background(), leaveOnDisconnectTimeout)
			err := s.service.LeaveSession(ctx, roomID, identity.UserID, c.id)
			cancel()
			if err != nil {
				s.logger.Debugw("leave on disconnect", "conn_id", c.id, "room_id", roomID, "user_id", identity.UserID, "error", err)
			}
		}
	}
	s.logger.Infow("signaling connection closed", "conn_id", c.id, "rooms_left", len(rooms))
}

// ConnectionCount returns the number of open signaling connections.
func (s *WebSocketServer) ConnectionCount() int {
	return s.hub.Count()
}

// Shutdown closes every connection. In-flight disconnect handling leaves
// the rooms those connections were in.
func (s *WebSocketServer) Shutdown() {
	s.hub.CloseAll()
}

func writeHTTPError(w http.ResponseWriter, appErr *apperrors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	})
}
