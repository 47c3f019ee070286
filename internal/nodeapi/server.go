package nodeapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/plexsphere/appguard/internal/metrics"
)

// Server is the local API server. It serves HTTP over a Unix socket and
// optionally over TCP with bearer token authentication.
type Server struct {
	cfg     Config
	handler *Handler
	metrics *metrics.Registry
	logger  *slog.Logger
}

// NewServer creates a new Server. Config defaults are applied automatically.
func NewServer(cfg Config, handler *Handler, logger *slog.Logger) *Server {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		metrics: handler.deps.Metrics,
		logger:  logger.With("component", "nodeapi"),
	}
}

// Start runs the server. It blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	mux := s.handler.Mux()
	var base http.Handler = mux
	if s.metrics != nil {
		base = requestMetricsMiddleware(mux, s.metrics)
	}

	// Remove stale socket.
	os.Remove(s.cfg.SocketPath)

	if dir := filepath.Dir(s.cfg.SocketPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("nodeapi: create socket dir: %w", err)
		}
	}

	unixLn, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("nodeapi: listen unix %s: %w", s.cfg.SocketPath, err)
	}
	applySocketPermissions(s.cfg.SocketPath, s.cfg.AdminGroup, s.logger)

	unixServer := &http.Server{
		Handler:     wrapAdminAuth(base, s.cfg.AdminGroup, s.logger),
		ConnContext: connContextWithPeerCred(s.logger),
	}

	var tcpServer *http.Server
	var tcpLn net.Listener

	if s.cfg.HTTPEnabled {
		token, err := readTokenFile(s.cfg.HTTPTokenFile)
		if err != nil {
			unixLn.Close()
			os.Remove(s.cfg.SocketPath)
			return fmt.Errorf("nodeapi: read token file: %w", err)
		}

		tcpLn, err = net.Listen("tcp", s.cfg.HTTPListen)
		if err != nil {
			unixLn.Close()
			os.Remove(s.cfg.SocketPath)
			return fmt.Errorf("nodeapi: listen tcp %s: %w", s.cfg.HTTPListen, err)
		}
		tcpServer = &http.Server{Handler: BearerAuthMiddleware(token)(base)}
	}

	s.logger.Info("server started",
		"socket", s.cfg.SocketPath,
		"http_enabled", s.cfg.HTTPEnabled,
		"http_listen", s.cfg.HTTPListen,
	)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := unixServer.Serve(unixLn); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("unix server error", "error", err)
		}
	}()

	if tcpServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tcpServer.Serve(tcpLn); !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("tcp server error", "error", err)
			}
		}()
	}

	<-ctx.Done()

	s.logger.Info("server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer shutdownCancel()

	unixServer.Shutdown(shutdownCtx)
	if tcpServer != nil {
		tcpServer.Shutdown(shutdownCtx)
	}

	os.Remove(s.cfg.SocketPath)

	wg.Wait()

	s.logger.Info("server stopped")

	return ctx.Err()
}

// requestMetricsMiddleware counts requests by route pattern and status code.
func requestMetricsMiddleware(mux *http.ServeMux, reg *metrics.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusRecorder{ResponseWriter: w}
		mux.ServeHTTP(rw, r)

		_, pattern := mux.Handler(r)
		if pattern == "" {
			pattern = "unmatched"
		}
		status := rw.status
		if status == 0 {
			status = http.StatusOK
		}
		reg.APIRequests.WithLabelValues(pattern, strconv.Itoa(status)).Inc()
	})
}

// statusRecorder captures the HTTP status code written to the response.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// readTokenFile reads and trims a bearer token from a file.
func readTokenFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("token file path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file is empty")
	}
	return token, nil
}
