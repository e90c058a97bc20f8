// Package server provides the HTTP server for the markpaste web application.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/euforicio/markpaste/internal/buildinfo"
	"github.com/euforicio/markpaste/internal/config"
	"github.com/euforicio/markpaste/internal/exporter"
	"github.com/euforicio/markpaste/internal/pages"
	"github.com/euforicio/markpaste/internal/paste"
	"github.com/euforicio/markpaste/internal/renderer"
	"github.com/euforicio/markpaste/static"
)

// Server wraps the HTTP server that serves the editor, pastes and the JSON API.
type Server struct { //nolint:govet // field order favors logical grouping over padding optimizations
	mux        *http.ServeMux
	handler    http.Handler
	httpServer *http.Server
	logger     *slog.Logger
	pastes     *paste.Service
	pages      *pages.Service
	exporter   *exporter.Exporter
	templates  *templateRenderer
	limiter    *rateLimiter
	cfg        config.Config
	chromaCSS  []byte
	unloaded   atomic.Bool

	// ctx ends long-lived websocket sessions on Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Server with all routes and middleware registered.
func New(cfg config.Config, logger *slog.Logger, pastes *paste.Service, pagesSvc *pages.Service, exp *exporter.Exporter) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if pastes == nil || pagesSvc == nil || exp == nil {
		return nil, errors.New("paste, pages and exporter services are required")
	}

	tmpl, err := newTemplateRenderer()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    logger.With("component", "http"),
		pastes:    pastes,
		pages:     pagesSvc,
		exporter:  exp,
		templates: tmpl,
		limiter:   newRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
		ctx:       ctx,
		cancel:    cancel,
	}

	if style := cfg.HighlightStyle; style != "" && !strings.EqualFold(style, renderer.DefaultStyle) {
		css, err := renderer.StyleCSS(style)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("highlight style: %w", err)
		}
		s.chromaCSS = css
	}

	s.registerRoutes()
	s.handler = chain(s.mux,
		recoveryMiddleware(s.logger),
		requestIDMiddleware,
		csrfMiddleware,
		rateLimitMiddleware(s.limiter, isRenderRequest),
		gzipMiddleware,
		loggingMiddleware(s.logger, cfg.Verbose || cfg.Debug),
	)
	return s, nil
}

func (s *Server) registerRoutes() {
	staticHandler := http.StripPrefix("/static/", noDirListing(http.FileServer(s.resolveStaticFS())))
	s.mux.Handle("GET /static/{path...}", staticHandler)
	if s.chromaCSS != nil {
		s.mux.HandleFunc("GET /static/css/chroma.css", s.handleChromaCSS)
	}
	s.mux.HandleFunc("GET /favicon.ico", s.handleFavicon)
	s.mux.HandleFunc("GET /robots.txt", s.handleRobotsTxt)

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /ping", s.handlePing)
	s.mux.HandleFunc("GET /_ping", s.handlePing)
	s.mux.HandleFunc("GET /_admin/unload", s.handleUnload)

	s.mux.HandleFunc("GET /{$}", s.handleEditor)
	s.mux.HandleFunc("GET /create", s.handleEditor)
	s.mux.HandleFunc("POST /create", s.handleCreateForm)
	s.mux.HandleFunc("POST /preview", s.handlePreviewForm)

	s.mux.HandleFunc("GET /p/{id}", s.handlePaste)
	s.mux.HandleFunc("GET /p/{id}/text", s.handlePasteText)
	s.mux.HandleFunc("GET /p/{id}/export", s.handleExport)
	s.mux.HandleFunc("POST /p/{id}/delete", s.handleDeleteForm)

	s.mux.HandleFunc("GET /about", s.handleAbout)
	s.mux.HandleFunc("GET /info/{name}", s.handleInfo)

	s.mux.HandleFunc("POST /api/create", s.handleAPICreate)
	s.mux.HandleFunc("POST /api/preview", s.handleAPIPreview)
	s.mux.HandleFunc("GET /api/p/{id}", s.handleAPIGet)
	s.mux.HandleFunc("DELETE /api/p/{id}", s.handleAPIDelete)
	s.mux.HandleFunc("GET /api/syntaxes", s.handleSyntaxes)
	s.mux.HandleFunc("GET /ws/preview", s.handlePreviewSocket)

	s.mux.HandleFunc("/", s.handleNotFound)
}

// isRenderRequest selects the endpoints guarded by the rate limiter.
func isRenderRequest(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	switch r.URL.Path {
	case "/create", "/preview", "/api/create", "/api/preview":
		return true
	}
	return false
}

func (s *Server) resolveStaticFS() http.FileSystem {
	dir := strings.TrimSpace(s.cfg.AssetsDir)
	if dir != "" {
		info, err := os.Stat(dir)
		if err == nil && info.IsDir() {
			s.logger.Debug("serving assets from filesystem", slog.String("dir", dir))
			return http.Dir(dir)
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("assets dir check failed", slog.String("dir", dir), slog.Any("err", err))
		}
	}
	s.logger.Debug("serving embedded assets")
	return static.HTTP()
}

func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP runs the request through the full middleware chain.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully. Port 0 picks a free port.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Start with a caller-provided listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("markpaste listening", slog.String("addr", listener.Addr().String()), slog.String("version", buildinfo.Summary()))
		errCh <- s.httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("graceful shutdown failed", slog.Any("err", err))
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown gracefully stops the server and closes open preview sockets.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handlePing reports build info while the instance is in rotation.
func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if s.unloaded.Load() {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":"unloaded"}`))
		return
	}
	_, _ = w.Write(buildinfo.StatusJSON())
}

// handleUnload takes the instance out of load balancer rotation by failing /ping.
func (s *Server) handleUnload(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !s.validAdmin(r) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("Unauthorized"))
		return
	}
	s.unloaded.Store(true)
	s.logger.Warn("instance unloaded", slog.String("remote_ip", clientIP(r)))
	_, _ = w.Write([]byte("Ok"))
}

func (s *Server) handleRobotsTxt(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	var b strings.Builder
	b.WriteString("User-agent: *\nDisallow: /\n")
	for _, path := range []string{"/$", "/about$", "/info/*"} {
		b.WriteString("Allow: " + path + "\n")
	}
	_, _ = w.Write([]byte(b.String()))
}

func (s *Server) handleFavicon(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("Content-Type", "image/svg+xml")
	http.ServeFileFS(w, r, static.FS(), "img/favicon.svg")
}

func (s *Server) handleChromaCSS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(s.chromaCSS)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if isAPIPath(r.URL.Path) {
		respondJSON(w, http.StatusNotFound, errorResponse("Page not found"))
		return
	}
	s.renderStatus(w, r, http.StatusNotFound)
}

var statusPages = map[int]statusViewData{
	http.StatusBadRequest:          {Title: "Bad Request", HeaderMsg: "400", Msg: "Bad Request"},
	http.StatusForbidden:           {Title: "Forbidden", HeaderMsg: "403", Msg: "You are not allowed to do that"},
	http.StatusNotFound:            {Title: "Not Found", HeaderMsg: "404", Msg: "Page Not Found"},
	http.StatusInternalServerError: {Title: "Error", HeaderMsg: "500", Msg: "Internal Server error"},
}

func (s *Server) renderStatus(w http.ResponseWriter, r *http.Request, status int) {
	data, ok := statusPages[status]
	if !ok {
		data = statusViewData{Title: http.StatusText(status), HeaderMsg: fmt.Sprint(status), Msg: http.StatusText(status)}
	}
	s.renderTemplate(w, r, status, "status", data)
}

// fallbackHTML is served when a template itself fails to render.
const fallbackHTML = `<!DOCTYPE html><html><head><title>Error</title></head><body><h1>500</h1><p>Internal Server error</p></body></html>`

func (s *Server) renderTemplate(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf strings.Builder
	if err := s.templates.render(&buf, name, data); err != nil {
		s.logger.ErrorContext(r.Context(), "render template failed", slog.Any("err", err), slog.String("template", name))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(fallbackHTML))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(buf.String()))
}
