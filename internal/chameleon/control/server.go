package control

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/IGLOU-EU/go-wildcard/v2"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ElLumy/chameleon/api/schemas"
	"github.com/ElLumy/chameleon/internal/config"
)

const (
	// ControlPath is the websocket endpoint.
	ControlPath = "/control"
	writeWait   = 5 * time.Second
	maxMessage  = 64 << 10
)

// Server exposes a Dispatcher over a websocket, plus metrics and health endpoints.
type Server struct {
	dispatcher *Dispatcher
	cfg        config.ControlConfig
	logger     *zap.Logger
	upgrader   websocket.Upgrader

	mu  sync.Mutex
	srv *http.Server
}

// NewServer creates a control server for d.
func NewServer(d *Dispatcher, cfg config.ControlConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{dispatcher: d, cfg: cfg, logger: logger.Named("control_server")}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(ControlPath, s.handleControl)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Control server listening", zap.String("addr", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("Shutting down control server")
		return srv.Shutdown(shutdownCtx)
	}
}

// checkOrigin accepts requests without an Origin header (non-browser
// clients) and browser requests whose origin matches an allowed pattern.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, pattern := range s.cfg.AllowedOrigins {
		if wildcard.Match(pattern, origin) {
			return true
		}
	}
	s.logger.Warn("Rejected control connection", zap.String("origin", origin))
	return false
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessage)

	connCtx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var writeMu sync.Mutex
	send := func(resp schemas.Response) {
		data, err := json.Marshal(resp)
		if err != nil {
			s.logger.Error("Failed to encode control response", zap.Error(err))
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Debug("Failed to write control response", zap.Error(err))
		}
	}

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Control connection closed", zap.Error(err))
			}
			return
		}

		var req schemas.Request
		if err := json.Unmarshal(msg, &req); err != nil {
			send(schemas.ErrorResponse("malformed request"))
			continue
		}

		reqCtx, reqCancel := context.WithTimeout(connCtx, s.cfg.RequestTimeout)
		inflight.Add(1)
		s.dispatcher.Handle(reqCtx, req, func(resp schemas.Response) {
			defer inflight.Done()
			defer reqCancel()
			send(resp)
		})
	}
}
