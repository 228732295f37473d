// Package web serves the monitoring page, the snapshot query endpoint and
// operational endpoints.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"container-gpu-monitor/internal/metrics"
	"container-gpu-monitor/internal/model"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// SnapshotReader is the cache as seen by HTTP clients. Read blocks while
// the cache is cold.
type SnapshotReader interface {
	Read(ctx context.Context) (*model.Snapshot, error)
}

type HealthReporter interface {
	Snapshot() map[string]any
}

type Options struct {
	Title        string
	PollInterval time.Duration
}

type handler struct {
	logger   *slog.Logger
	reader   SnapshotReader
	health   HealthReporter
	opts     Options
	upgrader websocket.Upgrader
}

func NewRouter(logger *slog.Logger, reader SnapshotReader, health HealthReporter, opts Options) *mux.Router {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 1500 * time.Millisecond
	}
	h := &handler{
		logger: logger,
		reader: reader,
		health: health,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.Use(metrics.Middleware)
	r.HandleFunc("/", h.index).Methods(http.MethodGet)
	r.HandleFunc("/query", h.query).Methods(http.MethodGet)
	r.HandleFunc("/ws", h.stream).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (h *handler) index(w http.ResponseWriter, _ *http.Request) {
	data := struct {
		Title          string
		PollIntervalMS int64
	}{
		Title:          h.opts.Title,
		PollIntervalMS: h.opts.PollInterval.Milliseconds(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		h.logger.Warn("render index failed", "error", err)
	}
}

// query long-polls: it answers only once a snapshot is available. A client
// that gives up first gets no response.
func (h *handler) query(w http.ResponseWriter, r *http.Request) {
	snap, err := h.reader.Read(r.Context())
	if err != nil {
		h.logger.Debug("query abandoned", "remote", r.RemoteAddr, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.health.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Server wraps http.Server with context-driven shutdown. Request contexts
// derive from the Run context so long-polls end when the server stops.
type Server struct {
	logger          *slog.Logger
	addr            string
	handler         http.Handler
	shutdownTimeout time.Duration
}

func NewServer(addr string, handler http.Handler, shutdownTimeout time.Duration, logger *slog.Logger) *Server {
	return &Server{logger: logger, addr: addr, handler: handler, shutdownTimeout: shutdownTimeout}
}

func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}
