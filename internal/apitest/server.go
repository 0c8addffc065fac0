// Package apitest provides an in-memory stand-in for the projects API,
// served over httptest. It follows the API's routes and status codes so
// gateway, store and surface tests exercise the real wire format.
package apitest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/hpungsan/deckhand/internal/project"
)

// Default credentials accepted by the fake API.
const (
	User     = "admin"
	Password = "password"
	Token    = "valid-token"
)

// Request records what the fake API received.
type Request struct {
	Method        string
	Path          string
	Query         string
	Authorization string
	RequestID     string
	Body          string
}

type fakeProject struct {
	name    string
	running bool
	files   []project.File
}

// Server is a fake projects API.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	projects    []*fakeProject
	requests    []Request
	failNext    []int
	rawNext     []string
	requireAuth bool
}

// New starts a fake API seeded with the three projects the API's own
// tests use, and stops it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		requireAuth: true,
		projects: []*fakeProject{
			{name: "test", running: true, files: []project.File{{Name: "compose.yml", Content: "compose.yml"}}},
			{name: "test2", running: false, files: []project.File{
				{Name: "compose.yml", Content: "compose.yml"},
				{Name: ".env", Content: ".env"},
			}},
			{name: "test3", running: true, files: []project.File{
				{Name: "compose.yml", Content: "compose.yml"},
				{Name: ".env", Content: ".env"},
			}},
		},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// AllowAnonymous disables the bearer check on project routes.
func (s *Server) AllowAnonymous() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requireAuth = false
}

// FailNext makes the next request answer with status (queued, FIFO).
func (s *Server) FailNext(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, status)
}

// RespondNext makes the next request answer 200 with body verbatim.
func (s *Server) RespondNext(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawNext = append(s.rawNext, body)
}

// SetRunning flips a project's status behind the client's back.
func (s *Server) SetRunning(name string, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.find(name); p != nil {
		p.running = running
	}
}

// AddFile adds a file to a project behind the client's back.
func (s *Server) AddFile(name, file, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.find(name); p != nil {
		p.files = append(p.files, project.File{Name: file, Content: content})
	}
}

// Requests returns a copy of every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// LastRequest returns the most recent request.
func (s *Server) LastRequest() Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return Request{}
	}
	return s.requests[len(s.requests)-1]
}

func (s *Server) find(name string) *fakeProject {
	for _, p := range s.projects {
		if p.name == name {
			return p
		}
	}
	return nil
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, Request{
		Method:        r.Method,
		Path:          r.URL.Path,
		Query:         r.URL.RawQuery,
		Authorization: r.Header.Get("Authorization"),
		RequestID:     r.Header.Get("X-Request-ID"),
		Body:          string(body),
	})

	if len(s.failNext) > 0 {
		status := s.failNext[0]
		s.failNext = s.failNext[1:]
		writeError(w, status, http.StatusText(status))
		return
	}
	if len(s.rawNext) > 0 {
		raw := s.rawNext[0]
		s.rawNext = s.rawNext[1:]
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(raw))
		return
	}

	path := r.URL.Path
	switch {
	case path == "/auth" && r.Method == http.MethodPost:
		s.login(w, body)
		return
	case path == "/auth/validate" && r.Method == http.MethodGet:
		if !s.authorized(r) {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	if !strings.HasPrefix(path, "/projects") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if s.requireAuth && !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(path, "/projects"), "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "" && r.Method == http.MethodGet:
		s.list(w)
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.get(w, parts[0], r.URL.Query().Get("file"))
	case len(parts) == 1 && r.Method == http.MethodPost:
		s.writeFile(w, parts[0], r.URL.Query().Get("file"), body)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.delete(w, parts[0], r.URL.Query().Get("file"))
	case len(parts) == 2 && r.Method == http.MethodPost:
		s.action(w, parts[0], parts[1])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+Token
}

func (s *Server) login(w http.ResponseWriter, body []byte) {
	var creds struct {
		User string `json:"user"`
		Pw   string `json:"pw"`
	}
	if err := json.Unmarshal(body, &creds); err != nil || creds.User == "" || creds.Pw == "" {
		writeError(w, http.StatusUnprocessableEntity, "missing credentials")
		return
	}
	if creds.User != User || creds.Pw != Password {
		writeError(w, http.StatusUnauthorized, "wrong credentials")
		return
	}
	writeJSON(w, map[string]string{"token": Token})
}

func (s *Server) list(w http.ResponseWriter) {
	out := make([]project.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p.summary())
	}
	writeJSON(w, out)
}

func (s *Server) get(w http.ResponseWriter, name, file string) {
	p := s.find(name)
	if p == nil {
		writeError(w, http.StatusNotFound, "Project not found: "+name)
		return
	}
	if file == "" {
		writeJSON(w, p.details())
		return
	}
	for _, f := range p.files {
		if f.Name == file {
			writeJSON(w, f)
			return
		}
	}
	writeError(w, http.StatusNotFound, "File not found: "+file)
}

func (s *Server) writeFile(w http.ResponseWriter, name, file string, body []byte) {
	p := s.find(name)
	if p == nil {
		writeError(w, http.StatusNotFound, "Project not found: "+name)
		return
	}
	var update struct {
		Content *string `json:"content"`
	}
	if file == "" || json.Unmarshal(body, &update) != nil || update.Content == nil {
		writeError(w, http.StatusUnprocessableEntity, "missing content")
		return
	}
	for i := range p.files {
		if p.files[i].Name == file {
			p.files[i].Content = *update.Content
			writeJSON(w, p.files[i])
			return
		}
	}
	f := project.File{Name: file, Content: *update.Content}
	p.files = append(p.files, f)
	writeJSON(w, f)
}

func (s *Server) delete(w http.ResponseWriter, name, file string) {
	idx := slices.IndexFunc(s.projects, func(p *fakeProject) bool { return p.name == name })
	if idx < 0 {
		writeError(w, http.StatusNotFound, "Project not found: "+name)
		return
	}
	if file == "" {
		s.projects = slices.Delete(s.projects, idx, idx+1)
		w.WriteHeader(http.StatusOK)
		return
	}
	p := s.projects[idx]
	fi := slices.IndexFunc(p.files, func(f project.File) bool { return f.Name == file })
	if fi < 0 {
		writeError(w, http.StatusNotFound, "File not found: "+file)
		return
	}
	p.files = slices.Delete(p.files, fi, fi+1)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) action(w http.ResponseWriter, action, name string) {
	if action == "create" {
		if s.find(name) != nil {
			writeError(w, http.StatusConflict, "Project already exists: "+name)
			return
		}
		p := &fakeProject{name: name}
		s.projects = append(s.projects, p)
		writeJSON(w, p.details())
		return
	}

	p := s.find(name)
	if p == nil {
		writeError(w, http.StatusNotFound, "Project not found: "+name)
		return
	}
	switch action {
	case "start", "restart":
		p.running = true
	case "stop":
		p.running = false
	default:
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, p.details())
}

func (p *fakeProject) summary() project.Project {
	status := project.StatusStopped
	if p.running {
		status = project.StatusRunning
	}
	return project.Project{Name: p.name, Status: status}
}

func (p *fakeProject) details() project.Details {
	files := make([]string, 0, len(p.files))
	for _, f := range p.files {
		files = append(files, f.Name)
	}
	return project.Details{Project: p.summary(), Files: files}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
