package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/deckhand/internal/errors"
	"github.com/hpungsan/deckhand/internal/gateway"
	"github.com/hpungsan/deckhand/internal/project"
	"github.com/hpungsan/deckhand/internal/store"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	gw    *gateway.Gateway
	store *store.Store
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(gw *gateway.Gateway, st *store.Store) *Handlers {
	return &Handlers{gw: gw, store: st}
}

// Request types for each tool

// ListRequest represents the arguments for project_list.
type ListRequest struct {
	Refresh *bool `json:"refresh,omitempty"`
}

// ProjectRequest addresses one project.
type ProjectRequest struct {
	Name string `json:"name"`
}

// FileRequest addresses one project file.
type FileRequest struct {
	Name string `json:"name"`
	File string `json:"file"`
}

// FileWriteRequest represents the arguments for file_write.
type FileWriteRequest struct {
	Name    string  `json:"name"`
	File    string  `json:"file"`
	Content *string `json:"content"`
}

// ListOutput is the result of project_list.
type ListOutput struct {
	Projects []project.Details `json:"projects"`
	Count    int               `json:"count"`
}

// AuthStatusOutput is the result of auth_status.
type AuthStatusOutput struct {
	APIURL   string `json:"api_url"`
	LoggedIn bool   `json:"logged_in"`
	Valid    bool   `json:"valid"`
}

// Handler implementations

// HandleList handles the project_list tool call. A failed refresh clears
// the cache and is reported as an error.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if input.Refresh == nil || *input.Refresh {
		if err := h.store.RefreshAllErr(ctx); err != nil {
			return errorResult(err), nil
		}
	}

	projects := h.store.Projects()
	return successResult(ListOutput{Projects: projects, Count: len(projects)})
}

// HandleGet handles the project_get tool call.
func (h *Handlers) HandleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProjectRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if err := project.ValidateName(input.Name); err != nil {
		return errorResult(err), nil
	}

	if err := h.store.RefreshOneErr(ctx, input.Name); err != nil {
		return errorResult(err), nil
	}

	d, ok := h.store.GetByName(input.Name)
	if !ok {
		return errorResult(errors.NewNotFound(input.Name)), nil
	}
	return successResult(d)
}

// projectAction builds the handler for a tool that runs one project action.
func (h *Handlers) projectAction(run func(context.Context, string) (project.Details, error)) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := decode[ProjectRequest](req)
		if err != nil {
			return errorResult(errors.NewInvalidRequest(err.Error())), nil
		}

		d, err := run(ctx, input.Name)
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(d)
	}
}

// HandleDelete handles the project_delete tool call.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProjectRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if err := h.store.Delete(ctx, input.Name); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"deleted": true, "name": input.Name})
}

// HandleFileRead handles the file_read tool call.
func (h *Handlers) HandleFileRead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FileRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	f, err := h.store.ReadFile(ctx, input.Name, input.File)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(f)
}

// HandleFileWrite handles the file_write tool call.
func (h *Handlers) HandleFileWrite(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FileWriteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Content == nil {
		return errorResult(errors.NewInvalidRequest("content is required")), nil
	}

	f, err := h.store.WriteFile(ctx, input.Name, input.File, *input.Content)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(f)
}

// HandleFileDelete handles the file_delete tool call.
func (h *Handlers) HandleFileDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FileRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if err := h.store.DeleteFile(ctx, input.Name, input.File); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"deleted": true, "name": input.Name, "file": input.File})
}

// HandleAuthStatus handles the auth_status tool call. A token the API
// rejects is cleared as a side effect of the check.
func (h *Handlers) HandleAuthStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out := AuthStatusOutput{
		APIURL:   h.gw.BaseURL(),
		LoggedIn: h.gw.HasSession(ctx),
	}
	if !out.LoggedIn {
		return successResult(out)
	}

	err := h.gw.Validate(ctx)
	switch {
	case err == nil:
		out.Valid = true
	case errors.Is(err, errors.ErrUnauthorized):
		out.LoggedIn = false
	default:
		return errorResult(err), nil
	}
	return successResult(out)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var dErr *errors.DeckError
	if stderrors.As(err, &dErr) {
		message := dErr.Message
		// Keep context added by wrapping, e.g. "refresh test: ".
		if prefix, ok := strings.CutSuffix(err.Error(), dErr.Error()); ok && prefix != "" {
			message = prefix + message
		}
		errorObj := map[string]any{
			"code":    dErr.Code,
			"message": message,
			"status":  dErr.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if dErr.Code != errors.ErrInternal && dErr.Details != nil {
			errorObj["details"] = dErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
