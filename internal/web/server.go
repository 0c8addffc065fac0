package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hpungsan/deckhand/internal/config"
	"github.com/hpungsan/deckhand/internal/gateway"
	"github.com/hpungsan/deckhand/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// NewServer creates and configures the HTTP server for the deckhand web UI.
func NewServer(gw *gateway.Gateway, st *store.Store, cfg *config.Config, version, bind string, port int) *http.Server {
	// Create sub-FS for templates (strip "templates/" prefix)
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		log.Fatalf("failed to create template sub-FS: %v", err)
	}

	// Create sub-FS for static files (strip "static/" prefix)
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		log.Fatalf("failed to create static sub-FS: %v", err)
	}

	h := &Handlers{
		gw:       gw,
		store:    st,
		cfg:      cfg,
		renderer: NewRenderer(templateSub, version),
	}

	// Long-lived event streams end when shutdown starts.
	baseCtx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", bind, port),
		Handler:     h.handler(staticSub),
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancel)
	return srv
}

// handler is the full middleware chain. Browsers attach no credential of
// their own here (the session lives server-side), so state-changing
// requests from other origins are refused outright.
func (h *Handlers) handler(staticSub fs.FS) http.Handler {
	return securityHeaders(http.NewCrossOriginProtection().Handler(h.routes(staticSub)))
}

// routes registers every handler. Everything except the login page and
// static assets sits behind the session guard.
func (h *Handlers) routes(staticSub fs.FS) *http.ServeMux {
	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/projects", http.StatusFound)
	})
	mux.HandleFunc("GET /login", h.HandleLoginPage)
	mux.HandleFunc("POST /login", h.HandleLogin)
	mux.HandleFunc("POST /logout", h.HandleLogout)

	mux.HandleFunc("GET /projects", h.guard(h.HandleList))
	mux.HandleFunc("POST /projects", h.guard(h.HandleCreate))
	mux.HandleFunc("GET /projects/{name}", h.guard(h.HandleDetail))
	mux.HandleFunc("DELETE /projects/{name}", h.guard(h.HandleDelete))
	mux.HandleFunc("POST /projects/{name}/delete", h.guard(h.HandleDelete))
	mux.HandleFunc("POST /projects/{name}/{action}", h.guard(h.HandleAction))
	mux.HandleFunc("POST /projects/{name}/files", h.guard(h.HandleFileWrite))
	mux.HandleFunc("GET /projects/{name}/files/{file}", h.guard(h.HandleFile))
	mux.HandleFunc("POST /projects/{name}/files/{file}", h.guard(h.HandleFileWrite))
	mux.HandleFunc("DELETE /projects/{name}/files/{file}", h.guard(h.HandleFileDelete))
	mux.HandleFunc("POST /projects/{name}/files/{file}/delete", h.guard(h.HandleFileDelete))
	mux.HandleFunc("GET /events", h.guard(h.HandleEvents))

	// Static file server
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	return mux
}

// guard sends requests without a session to the login page before the
// protected view loads.
func (h *Handlers) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.gw.HasSession(r.Context()) {
			h.renderer.redirectToLogin(w, r)
			return
		}
		next(w, r)
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Printf("deckhand UI running at http://%s", srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Printf("WARNING: Server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
