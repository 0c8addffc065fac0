package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/hpungsan/deckhand/internal/errors"
	"github.com/hpungsan/deckhand/internal/project"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
	Nav     string // active nav item: "projects", "login"
	APIURL  string

	// Notice is shown as a banner. It carries API failures when the error
	// policy is "notify".
	Notice string
}

// LoginPageData is the template data for the login page.
type LoginPageData struct {
	PageData
	User    string
	Message string
}

// ListPageData is the template data for the project list page.
type ListPageData struct {
	PageData
	Projects []project.Details
}

// DetailPageData is the template data for the project detail page.
type DetailPageData struct {
	PageData
	Project project.Details
}

// FilePageData is the template data for the file view.
type FilePageData struct {
	PageData
	Project      string
	File         project.File
	RenderedHTML template.HTML
	IsMarkdown   bool
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string) *Renderer {
	funcMap := template.FuncMap{
		"statusClass": statusClass,
		"pathEscape":  url.PathEscape,
	}

	// Parse layout as the base template
	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html"))

	pages := map[string]string{
		"login":  "login.html",
		"list":   "list.html",
		"detail": "detail.html",
		"file":   "file.html",
		"error":  "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
	}
}

// renderPage renders a named page template with the given data and HTTP 200 status.
func (r *Renderer) renderPage(w http.ResponseWriter, req *http.Request, name string, data any) {
	r.renderPageStatus(w, req, http.StatusOK, name, data)
}

// renderPageStatus renders a named page template with the given data and HTTP status code.
// For HTMX requests, only the "content" block is rendered to avoid duplicating the layout.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, req *http.Request, status int, name string, data any) {
	t, ok := r.templates[name]
	if !ok {
		log.Printf("template %q not found", name)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	block := "layout"
	if req != nil && isHTMX(req) {
		block = "content"
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, block, data); err != nil {
		log.Printf("template execution error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderBlock renders a specific named block from a page template.
// Used for partial swaps that target a sub-section of the page.
func (r *Renderer) renderBlock(w http.ResponseWriter, status int, page, block string, data any) {
	t, ok := r.templates[page]
	if !ok {
		log.Printf("template %q not found", page)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, block, data); err != nil {
		log.Printf("template block %q execution error: %v", block, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation.
// UNAUTHORIZED errors never render: the session is already gone, so the
// user is sent to the login page instead.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	dErr := errors.As(err)

	if dErr.Code == errors.ErrUnauthorized {
		r.redirectToLogin(w, req)
		return
	}

	status := dErr.Status
	if status < 400 || status > 599 {
		status = http.StatusBadGateway
	}
	message := dErr.Message

	// HTMX request: return HTML fragment
	if isHTMX(req) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintf(w, `<div class="error-message">%s</div>`, template.HTMLEscapeString(message))
		return
	}

	// JSON request
	if wantsJSON(req) {
		renderJSON(w, status, errorBody(dErr, status))
		return
	}

	// Full error page
	r.renderPageStatus(w, req, status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", status),
			Version: r.version,
		},
		StatusCode: status,
		Message:    message,
	})
}

// redirectToLogin sends the client to /login in the form it understands.
func (r *Renderer) redirectToLogin(w http.ResponseWriter, req *http.Request) {
	switch {
	case isHTMX(req):
		w.Header().Set("HX-Redirect", "/login")
		w.WriteHeader(http.StatusOK)
	case wantsJSON(req):
		renderJSON(w, http.StatusUnauthorized, errorBody(errors.NewUnauthorized(""), http.StatusUnauthorized))
	default:
		http.Redirect(w, req, "/login", http.StatusFound)
	}
}

func errorBody(dErr *errors.DeckError, status int) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"code":    string(dErr.Code),
			"message": dErr.Message,
			"status":  status,
		},
	}
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderMarkdown converts markdown text to HTML using goldmark.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

func isMarkdown(file string) bool {
	switch strings.ToLower(path.Ext(file)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

func isHTMX(req *http.Request) bool {
	return req.Header.Get("HX-Request") == "true"
}

func wantsJSON(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "application/json")
}

// statusClass maps a project status to its badge CSS class.
func statusClass(s project.Status) string {
	if s == project.StatusRunning {
		return "badge badge-running"
	}
	return "badge badge-stopped"
}
