package web

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"

	"github.com/hpungsan/deckhand/internal/config"
	"github.com/hpungsan/deckhand/internal/errors"
	"github.com/hpungsan/deckhand/internal/gateway"
	"github.com/hpungsan/deckhand/internal/project"
	"github.com/hpungsan/deckhand/internal/store"
)

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	gw       *gateway.Gateway
	store    *store.Store
	cfg      *config.Config
	renderer *Renderer
}

func (h *Handlers) page(title, nav string) PageData {
	return PageData{
		Title:   title,
		Version: h.renderer.version,
		Nav:     nav,
		APIURL:  h.gw.BaseURL(),
	}
}

// notice returns the banner text for a swallowed refresh failure. Under
// the "log" policy failures stay in the log only.
func (h *Handlers) notice(err error) string {
	if err == nil || !h.cfg.Notify() {
		return ""
	}
	return errors.As(err).Message
}

// HandleLoginPage handles GET /login.
func (h *Handlers) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	if h.gw.HasSession(r.Context()) {
		http.Redirect(w, r, "/projects", http.StatusFound)
		return
	}
	h.renderer.renderPage(w, r, "login", LoginPageData{PageData: h.page("Log in", "login")})
}

// HandleLogin handles POST /login: exchange credentials for a token.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}
	user := r.FormValue("user")

	if err := h.gw.Login(r.Context(), user, r.FormValue("password")); err != nil {
		dErr := errors.As(err)
		status := dErr.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		message := dErr.Message
		if dErr.Code == errors.ErrUnauthorized {
			message = "Wrong user or password."
		}
		h.renderer.renderPageStatus(w, r, status, "login", LoginPageData{
			PageData: h.page("Log in", "login"),
			User:     user,
			Message:  message,
		})
		return
	}

	http.Redirect(w, r, "/projects", http.StatusFound)
}

// HandleLogout handles POST /logout.
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.gw.Logout(r.Context()); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

// HandleList handles GET /projects. The cache is refreshed first, except
// for row fragments requested by the live-update script.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	var err error
	fragment := r.Header.Get("HX-Target") == "project-rows"
	if fragment {
		err = h.store.LastError()
	} else {
		err = h.store.RefreshAllErr(r.Context())
	}
	if errors.Is(err, errors.ErrUnauthorized) {
		h.renderer.redirectToLogin(w, r)
		return
	}

	projects := h.store.Projects()

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, projects)
		return
	}

	data := ListPageData{
		PageData: h.page("Projects", "projects"),
		Projects: projects,
	}
	data.Notice = h.notice(err)

	if fragment {
		h.renderer.renderBlock(w, http.StatusOK, "list", "project-rows", data)
		return
	}
	h.renderer.renderPage(w, r, "list", data)
}

// HandleDetail handles GET /projects/{name}.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := project.ValidateName(name); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	err := h.store.RefreshOneErr(r.Context(), name)

	d, ok := h.store.GetByName(name)
	if !ok {
		if err == nil || (errors.Is(err, errors.ErrUpstream) && errors.As(err).Status == http.StatusNotFound) {
			err = errors.NewNotFound(name)
		}
		h.renderer.renderError(w, r, err)
		return
	}
	if errors.Is(err, errors.ErrUnauthorized) {
		h.renderer.redirectToLogin(w, r)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, d)
		return
	}

	data := DetailPageData{
		PageData: h.page(d.Name, "projects"),
		Project:  d,
	}
	data.Notice = h.notice(err)
	h.renderer.renderPage(w, r, "detail", data)
}

// HandleCreate handles POST /projects: create an empty project.
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}
	h.respondProject(w, r, func(ctx context.Context) (project.Details, error) {
		return h.store.Create(ctx, r.FormValue("name"))
	})
}

// HandleAction handles POST /projects/{name}/{action} for start, stop and
// restart.
func (h *Handlers) HandleAction(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var run func(context.Context, string) (project.Details, error)
	switch r.PathValue("action") {
	case gateway.ActionStart:
		run = h.store.Start
	case gateway.ActionStop:
		run = h.store.Stop
	case gateway.ActionRestart:
		run = h.store.Restart
	default:
		h.renderer.renderError(w, r, errors.NewInvalidRequest(fmt.Sprintf("unknown action %q", r.PathValue("action"))))
		return
	}

	h.respondProject(w, r, func(ctx context.Context) (project.Details, error) {
		return run(ctx, name)
	})
}

// respondProject runs op and answers with the resulting project.
func (h *Handlers) respondProject(w http.ResponseWriter, r *http.Request, op func(context.Context) (project.Details, error)) {
	d, err := op(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	target := "/projects/" + url.PathEscape(d.Name)
	switch {
	case isHTMX(r):
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusOK)
	case wantsJSON(r):
		renderJSON(w, http.StatusOK, d)
	default:
		http.Redirect(w, r, target, http.StatusSeeOther)
	}
}

// HandleDelete handles DELETE /projects/{name} and its form fallback.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.store.Delete(r.Context(), name); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	respondDeleted(w, r, "/projects", map[string]any{"deleted": true, "name": name})
}

// HandleFile handles GET /projects/{name}/files/{file}. Markdown files are
// rendered; everything else is shown as text.
func (h *Handlers) HandleFile(w http.ResponseWriter, r *http.Request) {
	name, file := r.PathValue("name"), r.PathValue("file")

	f, err := h.store.ReadFile(r.Context(), name, file)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, f)
		return
	}

	data := FilePageData{
		PageData: h.page(f.Name, "projects"),
		Project:  name,
		File:     f,
	}
	if isMarkdown(f.Name) {
		data.IsMarkdown = true
		data.RenderedHTML = renderMarkdown(f.Content)
	}
	h.renderer.renderPage(w, r, "file", data)
}

// HandleFileWrite handles POST /projects/{name}/files/{file}. The body is a
// form with a "content" field, or JSON {"content": "..."}. On
// POST /projects/{name}/files the file name comes from the "file" form field.
func (h *Handlers) HandleFileWrite(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	content, err := readContent(w, r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	file := r.PathValue("file")
	if file == "" {
		file = r.PostFormValue("file")
	}

	f, err := h.store.WriteFile(r.Context(), name, file, content)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	target := "/projects/" + url.PathEscape(name) + "/files/" + url.PathEscape(f.Name)
	switch {
	case isHTMX(r):
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusOK)
	case wantsJSON(r):
		renderJSON(w, http.StatusOK, f)
	default:
		http.Redirect(w, r, target, http.StatusSeeOther)
	}
}

// HandleFileDelete handles DELETE /projects/{name}/files/{file} and its
// form fallback.
func (h *Handlers) HandleFileDelete(w http.ResponseWriter, r *http.Request) {
	name, file := r.PathValue("name"), r.PathValue("file")
	if err := h.store.DeleteFile(r.Context(), name, file); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	respondDeleted(w, r, "/projects/"+url.PathEscape(name), map[string]any{"deleted": true, "name": name, "file": file})
}

func respondDeleted(w http.ResponseWriter, r *http.Request, target string, body map[string]any) {
	// HTMX request: redirect via HX-Redirect header
	if isHTMX(r) {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusOK)
		return
	}

	// JSON request
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, body)
		return
	}

	// Default: redirect
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func readContent(w http.ResponseWriter, r *http.Request) (string, error) {
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "application/json" {
		var body struct {
			Content *string `json:"content"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFormBytes)).Decode(&body); err != nil || body.Content == nil {
			return "", errors.NewInvalidRequest("body must be JSON with a content field")
		}
		return *body.Content, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		return "", errors.NewInvalidRequest("invalid form data")
	}
	if _, ok := r.PostForm["content"]; !ok {
		return "", errors.NewInvalidRequest("content is required")
	}
	return r.PostFormValue("content"), nil
}

// maxFormBytes caps uploaded file content.
const maxFormBytes = 8 << 20
