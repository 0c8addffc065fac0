package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hpungsan/deckhand/internal/errors"
	"github.com/hpungsan/deckhand/internal/project"
)

// Project actions exposed by POST /projects/{action}/{name}.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
	ActionCreate  = "create"
)

func projectPath(name string) string {
	return "/projects/" + url.PathEscape(name)
}

func fileQuery(file string) url.Values {
	return url.Values{"file": []string{file}}
}

// ListProjects fetches all project summaries in API order.
func (g *Gateway) ListProjects(ctx context.Context) ([]project.Project, error) {
	return callJSON(ctx, g, "/projects", CallOptions{}, project.ValidateList)
}

// GetProject fetches one project with its file listing.
func (g *Gateway) GetProject(ctx context.Context, name string) (project.Details, error) {
	if err := project.ValidateName(name); err != nil {
		return project.Details{}, err
	}
	return callJSON(ctx, g, projectPath(name), CallOptions{}, validateDetails(name))
}

// ProjectAction runs start, stop, restart or create and returns the
// resulting project state.
func (g *Gateway) ProjectAction(ctx context.Context, action, name string) (project.Details, error) {
	switch action {
	case ActionStart, ActionStop, ActionRestart, ActionCreate:
	default:
		return project.Details{}, errors.NewInvalidRequest(fmt.Sprintf("unknown project action %q", action))
	}
	if err := project.ValidateName(name); err != nil {
		return project.Details{}, err
	}
	path := "/projects/" + action + "/" + url.PathEscape(name)
	return callJSON(ctx, g, path, CallOptions{Method: http.MethodPost}, validateDetails(name))
}

// DeleteProject removes a project and its directory.
func (g *Gateway) DeleteProject(ctx context.Context, name string) error {
	if err := project.ValidateName(name); err != nil {
		return err
	}
	_, err := g.Call(ctx, projectPath(name), CallOptions{Method: http.MethodDelete})
	return err
}

// ReadFile fetches the content of one project file.
func (g *Gateway) ReadFile(ctx context.Context, name, file string) (project.File, error) {
	if err := validateFileAddress(name, file); err != nil {
		return project.File{}, err
	}
	return callJSON(ctx, g, projectPath(name), CallOptions{Query: fileQuery(file)}, validateFile(file))
}

// WriteFile replaces (or creates) a project file and returns what the API stored.
func (g *Gateway) WriteFile(ctx context.Context, name, file, content string) (project.File, error) {
	if err := validateFileAddress(name, file); err != nil {
		return project.File{}, err
	}
	opts := CallOptions{
		Method: http.MethodPost,
		Query:  fileQuery(file),
		Body:   map[string]string{"content": content},
	}
	return callJSON(ctx, g, projectPath(name), opts, validateFile(file))
}

// DeleteFile removes one project file.
func (g *Gateway) DeleteFile(ctx context.Context, name, file string) error {
	if err := validateFileAddress(name, file); err != nil {
		return err
	}
	_, err := g.Call(ctx, projectPath(name), CallOptions{Method: http.MethodDelete, Query: fileQuery(file)})
	return err
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login exchanges credentials for a token and stores it in the session.
func (g *Gateway) Login(ctx context.Context, user, password string) error {
	if user == "" || password == "" {
		return errors.NewInvalidRequest("user and password are required")
	}
	opts := CallOptions{
		Method: http.MethodPost,
		Body:   map[string]string{"user": user, "pw": password},
	}
	resp, err := callJSON(ctx, g, "/auth", opts, func(r loginResponse) error {
		if r.Token == "" {
			return fmt.Errorf("token missing")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := g.holder.Set(ctx, resp.Token); err != nil {
		return errors.NewInternal(fmt.Errorf("store session: %w", err))
	}
	g.logger.Info("logged in", "user", user)
	return nil
}

// Validate asks the API whether the current token is still accepted.
// A rejected token goes through the usual 401 handling.
func (g *Gateway) Validate(ctx context.Context) error {
	_, err := g.Call(ctx, "/auth/validate", CallOptions{})
	return err
}

// Logout clears the local session. The API keeps no server-side session.
func (g *Gateway) Logout(ctx context.Context) error {
	if err := g.holder.Clear(ctx); err != nil {
		return errors.NewInternal(fmt.Errorf("clear session: %w", err))
	}
	return nil
}

// HasSession reports whether a token is present. Route guards call it
// before letting a protected view load.
func (g *Gateway) HasSession(ctx context.Context) bool {
	_, ok, err := g.holder.Token(ctx)
	if err != nil {
		g.logger.Error("read session", "error", err)
		return false
	}
	return ok
}

func validateFileAddress(name, file string) error {
	if err := project.ValidateName(name); err != nil {
		return err
	}
	return project.ValidateFileName(file)
}

// validateDetails checks the payload and that the API answered for the
// project that was asked for.
func validateDetails(name string) func(project.Details) error {
	return func(d project.Details) error {
		if err := d.Validate(); err != nil {
			return err
		}
		if d.Name != name {
			return fmt.Errorf("asked for project %q, got %q", name, d.Name)
		}
		return nil
	}
}

func validateFile(file string) func(project.File) error {
	return func(f project.File) error {
		if f.Name != file {
			return fmt.Errorf("asked for file %q, got %q", file, f.Name)
		}
		return nil
	}
}
