// Package server exposes sessions over HTTP: a REST surface for driving sessions and a
// websocket streaming each session's snapshots.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"gridsim/logging"
	"gridsim/models"
	"gridsim/preset"
	"gridsim/session"
	"gridsim/store"

	"github.com/gorilla/mux"
)

const shutdownGracePeriod = 5 * time.Second

// History is the read side of the session history store.
type History interface {
	Steps(ctx context.Context, id string, limit int) ([]store.StepRecord, error)
	LatestAnalysis(ctx context.Context, id string) (models.AnalysisResult, error)
}

// Options configure a Server. Zero values select defaults.
type Options struct {
	// History may be nil, in which case history requests fail with 404.
	History  History
	RunDelay time.Duration
	// PublishInterval throttles websocket snapshot publication.
	PublishInterval time.Duration
}

// Server serves the sessions of a manager.
type Server struct {
	addr    string
	mgr     *session.Manager
	catalog *preset.Catalog
	opts    Options
	logger  *slog.Logger
	router  *mux.Router
}

// NewServer builds the server and its routes. The logger carried by ctx is used for requests.
func NewServer(
	ctx context.Context,
	addr string,
	mgr *session.Manager,
	catalog *preset.Catalog,
	opts Options,
) *Server {
	if opts.RunDelay <= 0 {
		opts.RunDelay = session.DefaultRunDelay
	}
	server := &Server{
		addr:    addr,
		mgr:     mgr,
		catalog: catalog,
		opts:    opts,
		logger:  logging.FromContext(ctx),
	}
	server.router = server.routes()
	return server
}

func (server *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(server.logRequests)

	router.HandleFunc("/presets", server.listPresets).Methods(http.MethodGet)
	router.HandleFunc("/sessions", server.createSession).Methods(http.MethodPost)
	router.HandleFunc("/sessions", server.listSessions).Methods(http.MethodGet)

	router.HandleFunc("/sessions/{id}", server.getSession).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{id}", server.deleteSession).Methods(http.MethodDelete)
	router.HandleFunc("/sessions/{id}/config", server.configure).Methods(http.MethodPut)
	router.HandleFunc("/sessions/{id}/step", server.step).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}/run", server.run).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}/pause", server.pause).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}/reset", server.reset).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}/analysis", server.analyze).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}/history", server.history).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{id}/ws", server.serveWebsocket).Methods(http.MethodGet)

	return router
}

// Handler returns the server's routes.
func (server *Server) Handler() http.Handler {
	return server.router
}

// Serve listens until ctx is done, then shuts down gracefully.
func (server *Server) Serve(ctx context.Context) (err error) {
	httpServer := &http.Server{
		Addr:              server.addr,
		Handler:           server.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return logging.WithLogger(context.WithoutCancel(ctx), server.logger)
		},
	}

	errs := make(chan error, 1)
	go func() {
		server.logger.Info("serving", "addr", server.addr)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case err = <-errs:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		err = httpServer.Shutdown(shutdownCtx)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader reach the underlying connection.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rec.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (server *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := server.logger.With("method", r.Method, "path", r.URL.Path)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r.WithContext(logging.WithLogger(r.Context(), logger)))

		logger.Debug("request", "status", rec.status, "elapsed", time.Since(start))
	})
}
