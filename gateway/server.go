// Package gateway exposes the console's HTTP surface: the command endpoint,
// packet snapshots, live push streams, health, and metrics.
package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/firestige/Otus/component"
	"github.com/firestige/Otus/dispatch"
	"github.com/firestige/Otus/errors"
	"github.com/firestige/Otus/ingest"
	"github.com/firestige/Otus/message"
	"github.com/firestige/Otus/metric"
	"github.com/firestige/Otus/streamhub"
)

// maxRequestSize bounds command request bodies.
const maxRequestSize = 1 << 20

// Deps holds runtime dependencies for the HTTP server
type Deps struct {
	Addr       string
	InstanceID string
	Brokers    []string

	// DataTopics maps channels to their data topics, used to prefill the
	// reporter section of generated task templates.
	DataTopics map[string]string

	Dispatcher  *dispatch.Dispatcher
	Ingest      *ingest.Ingest
	PacketHub   *streamhub.Hub[message.PacketRecord]
	ResponseHub *streamhub.Hub[message.ResponseEnvelope]
	Registry    *metric.Registry

	// Components reporting into the health endpoint
	Components []component.Discoverable

	Heartbeat time.Duration
	Logger    *slog.Logger
}

// Server is the console HTTP gateway.
type Server struct {
	addr       string
	instanceID string
	brokers    []string
	dataTopics map[string]string

	dispatcher  *dispatch.Dispatcher
	ingest      *ingest.Ingest
	packetHub   *streamhub.Hub[message.PacketRecord]
	responseHub *streamhub.Hub[message.ResponseEnvelope]
	registry    *metric.Registry
	components  []component.Discoverable

	heartbeat time.Duration
	logger    *slog.Logger

	server *http.Server

	// Lifecycle state
	running   atomic.Bool
	mu        sync.Mutex
	startTime time.Time

	// Metrics
	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
	lastActivity   atomic.Value // stores time.Time
}

// Ensure Server implements all required interfaces
var _ component.Discoverable = (*Server)(nil)
var _ component.LifecycleComponent = (*Server)(nil)

// NewServer creates the HTTP gateway from its dependencies
func NewServer(deps Deps) (*Server, error) {
	if deps.Addr == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("empty listen address"),
			"gateway", "NewServer", "address validation")
	}
	if deps.Dispatcher == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil dispatcher"),
			"gateway", "NewServer", "dispatcher validation")
	}
	if deps.Ingest == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil ingest"),
			"gateway", "NewServer", "ingest validation")
	}

	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "gateway")
	}

	s := &Server{
		addr:        deps.Addr,
		instanceID:  deps.InstanceID,
		brokers:     deps.Brokers,
		dataTopics:  deps.DataTopics,
		dispatcher:  deps.Dispatcher,
		ingest:      deps.Ingest,
		packetHub:   deps.PacketHub,
		responseHub: deps.ResponseHub,
		registry:    deps.Registry,
		components:  deps.Components,
		heartbeat:   heartbeat,
		logger:      logger,
		startTime:   time.Now(),
	}
	s.lastActivity.Store(time.Time{})
	return s, nil
}

// routes builds the request mux
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/command", s.instrument(s.handleCommand))
	mux.HandleFunc("GET /api/packets/{channel}", s.instrument(s.handlePackets))
	mux.HandleFunc("GET /api/stream/{channel}", s.instrument(s.handlePacketStream))
	// Literal pattern wins over the {channel} wildcard above.
	mux.HandleFunc("GET /api/stream/responses", s.instrument(s.handleResponseStream))
	mux.HandleFunc("GET /ws/{channel}", s.instrument(s.handleWebSocket))
	mux.HandleFunc("GET /api/task-template/{channel}", s.instrument(s.handleTaskTemplate))
	mux.HandleFunc("GET /api/health", s.instrument(s.handleHealth))
	mux.HandleFunc("OPTIONS /api/", s.instrument(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if s.registry != nil {
		mux.Handle("GET /metrics", s.registry.Handler())
	}
	return mux
}

// instrument wraps a handler with CORS headers and request accounting
func (s *Server) instrument(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.requestsTotal.Add(1)
		s.lastActivity.Store(time.Now())
		s.applyCORS(w, r)
		next(w, r)
	}
}

// applyCORS applies permissive CORS headers; the console UI may be served
// from a different origin in development.
func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// Meta returns the component metadata
func (s *Server) Meta() component.Metadata {
	return component.Metadata{
		Name:        "gateway",
		Type:        "gateway",
		Description: fmt.Sprintf("Console HTTP gateway on %s", s.addr),
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the component
func (s *Server) Health() component.HealthStatus {
	s.mu.Lock()
	startTime := s.startTime
	s.mu.Unlock()

	return component.HealthStatus{
		Healthy:    s.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(s.requestsFailed.Load()),
		Uptime:     time.Since(startTime),
	}
}

// DataFlow returns the current data flow metrics
func (s *Server) DataFlow() component.FlowMetrics {
	total := s.requestsTotal.Load()
	failed := s.requestsFailed.Load()
	lastActivity, _ := s.lastActivity.Load().(time.Time)

	var errorRate float64
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	var messagesPerSecond float64
	if uptime := time.Since(s.startTime).Seconds(); uptime > 0 {
		messagesPerSecond = float64(total) / uptime
	}

	return component.FlowMetrics{
		MessagesPerSecond: messagesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize builds the HTTP server
func (s *Server) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: SSE and WebSocket responses are open-ended.
	}
	return nil
}

// Start begins serving HTTP. Idempotent.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil
	}
	if s.server == nil {
		return errors.WrapInvalid(errors.ErrNotStarted,
			"gateway", "Start", "server not initialized")
	}

	s.running.Store(true)
	s.startTime = time.Now()

	go func() {
		s.logger.Info("http gateway listening", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.running.Store(false)
			s.logger.Error("http server failed", "error", err)
		}
	}()
	return nil
}

// Stop gracefully drains in-flight requests within timeout
func (s *Server) Stop(timeout time.Duration) error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "gateway", "Stop", "graceful shutdown")
	}
	return nil
}

// writeJSON writes a JSON response with the given status code
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("response write failed", "error", err)
	}
}

// writeError writes a sanitized JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, msg string) {
	s.requestsFailed.Add(1)
	s.writeJSON(w, statusCode, map[string]any{
		"error":  msg,
		"status": statusCode,
	})
}

// mapError converts a domain error to an HTTP status and a client-safe
// message. Internal details stay in the logs.
func (s *Server) mapError(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, "internal server error"
	case errors.IsTimeout(err):
		return http.StatusGatewayTimeout, "timeout waiting for response"
	case stderrors.Is(err, errors.ErrUnknownCommand):
		return http.StatusBadRequest, "unknown command"
	case stderrors.Is(err, errors.ErrInvalidTarget):
		return http.StatusBadRequest, "invalid target"
	case errors.IsInvalid(err):
		return http.StatusBadRequest, "invalid request"
	case errors.IsTransient(err):
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// trimChannel extracts and validates the channel path value
func (s *Server) trimChannel(r *http.Request) (string, bool) {
	channel := strings.TrimSpace(r.PathValue("channel"))
	if channel == "" || !s.hasChannel(channel) {
		return channel, false
	}
	return channel, true
}

func (s *Server) hasChannel(channel string) bool {
	for _, c := range s.ingest.Channels() {
		if c == channel {
			return true
		}
	}
	return false
}
