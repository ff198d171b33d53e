package status

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itohio/goapwm/pkg/config"
	"github.com/itohio/goapwm/pkg/control"
)

// Controller is the part of the control loop exposed to operators.
type Controller interface {
	Status(secure bool) control.Status
	Configure(u config.Update) (config.ControlConfig, error)
	RequestFault(reason error)
}

var _ Controller = (*control.Loop)(nil)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// Server serves the status, configuration and monitor endpoints:
//
//	GET  /status       Report
//	GET  /diagnostics  Diagnostics
//	POST /config       config.Update -> ControlReport
//	POST /fault        force the faulted state (verified client certificate only)
//	GET  /ws           websocket stream of Report
type Server struct {
	ctrl Controller
	cfg  config.StatusConfig
	log  *slog.Logger

	upgrader   websocket.Upgrader
	httpServer *http.Server

	clients   map[int64]*wsClient
	clientsMu sync.RWMutex
	nextID    atomic.Int64

	running atomic.Bool
}

// New creates a status server for ctrl.
func New(cfg config.StatusConfig, ctrl Controller, opts ...Option) *Server {
	s := &Server{
		ctrl:    ctrl,
		cfg:     cfg,
		log:     slog.Default(),
		clients: make(map[int64]*wsClient),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // consoles are authenticated by certificate, not origin
		},
	}
	return s
}

// Handler returns the HTTP handler with all endpoints registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/fault", s.handleFault)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// ListenAndServe serves until ctx is done. TLS is enabled when a
// certificate is configured; client certificates are verified when a CA
// file is configured.
func (s *Server) ListenAndServe(ctx context.Context) error {
	tlsCfg, err := ServerTLS(s.cfg)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}

	return s.Serve(ctx, ln, tlsCfg)
}

// Serve serves on ln until ctx is done. tlsCfg may be nil for plain HTTP.
func (s *Server) Serve(ctx context.Context, ln net.Listener, tlsCfg *tls.Config) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}

	s.running.Store(true)
	go s.broadcastLoop(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Close()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info("status server listening", "address", ln.Addr().String(), "tls", tlsCfg != nil)
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close disconnects all websocket clients and stops broadcasting.
func (s *Server) Close() {
	s.running.Store(false)

	s.clientsMu.Lock()
	for _, c := range s.clients {
		c.Close()
	}
	s.clients = make(map[int64]*wsClient)
	s.clientsMu.Unlock()
}

// ServerTLS builds the server TLS configuration, or returns nil when no
// certificate is configured.
func ServerTLS(cfg config.StatusConfig) (*tls.Config, error) {
	if cfg.CertFile == "" {
		if cfg.RequireSecureConfig {
			return nil, errors.New("require_secure_config needs cert_file, key_file and ca_file")
		}
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.CAFile != "" {
		pool, err := loadCertPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.VerifyClientCertIfGiven
	}

	return tlsCfg, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// isSecure reports whether the request carries a verified client certificate.
func isSecure(r *http.Request) bool {
	return r.TLS != nil && len(r.TLS.VerifiedChains) > 0
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, NewReport(s.ctrl.Status(isSecure(r))))
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, NewDiagnostics(s.ctrl.Status(isSecure(r))))
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.RequireSecureConfig && !isSecure(r) {
		s.log.Warn("configuration update refused: no verified client certificate", "remote", r.RemoteAddr)
		s.writeError(w, http.StatusForbidden, errors.New("verified client certificate required"))
		return
	}

	var u config.Update
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&u); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid update: %w", err))
		return
	}

	next, err := s.ctrl.Configure(u)
	switch {
	case errors.Is(err, control.ErrFaulted):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, config.ErrRejected):
		s.writeError(w, http.StatusUnprocessableEntity, err)
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
	default:
		s.log.Info("configuration update accepted", "remote", r.RemoteAddr, "secure", isSecure(r))
		s.writeJSON(w, http.StatusOK, NewControlReport(next))
	}
}

type faultRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleFault(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !isSecure(r) {
		s.writeError(w, http.StatusForbidden, errors.New("verified client certificate required"))
		return
	}

	var req faultRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid fault request: %w", err))
		return
	}
	if req.Reason == "" {
		req.Reason = "operator request"
	}

	s.log.Warn("fault requested by operator", "remote", r.RemoteAddr, "reason", req.Reason)
	s.ctrl.RequestFault(fmt.Errorf("operator: %s", req.Reason))
	w.WriteHeader(http.StatusAccepted)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Debug("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, errorResponse{Error: err.Error()})
}

// wsClient is a monitor connection. Monitors only receive.
type wsClient struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	secure bool
	sendCh chan Report
	done   chan struct{}
	once   sync.Once
}

func (s *Server) newWSClient(conn *websocket.Conn, secure bool) *wsClient {
	return &wsClient{
		id:     s.nextID.Add(1),
		conn:   conn,
		server: s,
		secure: secure,
		sendCh: make(chan Report, 16),
		done:   make(chan struct{}),
	}
}

// Send queues a report, dropping it when the client is slow.
func (c *wsClient) Send(r Report) {
	select {
	case c.sendCh <- r:
	case <-c.done:
	default:
		c.server.log.Debug("dropping report for slow monitor", "client", c.id)
	}
}

// Close closes the connection once.
func (c *wsClient) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump consumes control frames until the peer goes away.
func (c *wsClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.server.log.Debug("monitor read error", "client", c.id, "error", err)
			}
			return
		}
	}
}

// writePump sends queued reports and keepalive pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case r := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(r); err != nil {
				c.server.log.Debug("monitor write error", "client", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := s.newWSClient(conn, isSecure(r))

	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.clientsMu.Unlock()

	s.log.Info("monitor connected", "client", client.id, "remote", r.RemoteAddr, "secure", client.secure)

	go client.writePump()
	client.Send(NewReport(s.ctrl.Status(client.secure)))
	client.readPump()
}

func (s *Server) removeClient(c *wsClient) {
	s.clientsMu.Lock()
	delete(s.clients, c.id)
	s.clientsMu.Unlock()

	s.log.Info("monitor disconnected", "client", c.id)
}

// broadcastLoop pushes a report to every monitor each PushInterval.
func (s *Server) broadcastLoop(ctx context.Context) {
	interval := s.cfg.PushInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for s.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast()
		}
	}
}

func (s *Server) broadcast() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	if len(s.clients) == 0 {
		return
	}

	var plain, secure *Report
	for _, c := range s.clients {
		if c.secure {
			if secure == nil {
				r := NewReport(s.ctrl.Status(true))
				secure = &r
			}
			c.Send(*secure)
			continue
		}
		if plain == nil {
			r := NewReport(s.ctrl.Status(false))
			plain = &r
		}
		c.Send(*plain)
	}
}
