package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"jitstreamer/internal/api"
	"jitstreamer/internal/config"
	"jitstreamer/internal/logging"
)

const requestIDHeader = "X-Request-ID"

type apiServer struct {
	bind    string
	logger  *slog.Logger
	service *api.Service

	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, service *api.Service, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:    cfg.ListenAddress(),
		logger:  logging.NewComponentLogger(logger, "api-server"),
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.Server.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

// routes builds the handler. WriteTimeout is left unset because /status
// long-polls and /mount_ws streams.
func (s *apiServer) routes(token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /hello", s.handleHello)
	mux.HandleFunc("POST /version", s.handleVersion)
	mux.HandleFunc("GET /mount", s.handleMount)
	mux.HandleFunc("GET /mount_ws", s.handleMountStream)
	mux.HandleFunc("GET /get_apps", s.handleGetApps)
	mux.HandleFunc("GET /launch_app/{bundle_id}", s.handleLaunchApp)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /api/diagnostics", authMiddleware(token, s.handleDiagnostics))
	return s.withRequestID(corsMiddleware(mux))
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHello(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Hello, world!"))
}

func (s *apiServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	var req api.VersionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid version request")
		return
	}
	s.writeJSON(w, http.StatusOK, s.service.CheckVersion(req))
}

func (s *apiServer) handleMount(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.CheckMount(r.Context(), clientIP(r)))
}

func (s *apiServer) handleGetApps(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.GetApps(r.Context(), clientIP(r)))
}

func (s *apiServer) handleLaunchApp(w http.ResponseWriter, r *http.Request) {
	bundleID := strings.TrimSpace(r.PathValue("bundle_id"))
	if bundleID == "" {
		s.writeError(w, http.StatusBadRequest, "bundle id is required")
		return
	}
	s.writeJSON(w, http.StatusOK, s.service.LaunchApp(r.Context(), clientIP(r), bundleID))
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.QueueStatus(r.Context(), clientIP(r)))
}

func (s *apiServer) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.Diagnostics(r.Context()))
}

// handleMountStream upgrades to a websocket and relays mount progress frames
// until the mount ends or the client goes away.
func (s *apiServer) handleMountStream(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(logging.WithRequestID(context.Background(), requestID(r)))
	defer cancel()
	go func() {
		// Reads only detect the peer closing.
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	err = s.service.StreamMount(ctx, ip, func(msg api.MountProgressMessage) error {
		return conn.WriteJSON(msg)
	})
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.logger.Debug("mount stream closed", logging.DeviceIP(ip), logging.Error(err))
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// withRequestID stamps every request with a correlation identifier, reusing
// one supplied by the caller.
func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		r.Header.Set(requestIDHeader, id)
		ctx := logging.WithRequestID(r.Context(), id)
		s.logger.Debug("request",
			logging.String(logging.FieldCorrelationID, id),
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.DeviceIP(clientIP(r)),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(r *http.Request) string {
	if id, ok := logging.RequestIDFromContext(r.Context()); ok {
		return id
	}
	return r.Header.Get(requestIDHeader)
}

// clientIP returns the peer address of the connection. IPv4-mapped IPv6
// addresses are unmapped so they match registry rows.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().WithZone("").String()
	}
	return host
}
