package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/deckhand/internal/apitest"
	"github.com/hpungsan/deckhand/internal/config"
	"github.com/hpungsan/deckhand/internal/errors"
	"github.com/hpungsan/deckhand/internal/gateway"
	"github.com/hpungsan/deckhand/internal/session"
	"github.com/hpungsan/deckhand/internal/store"
)

type testEnv struct {
	h      *Handlers
	gw     *gateway.Gateway
	store  *store.Store
	api    *apitest.Server
	holder *session.Memory
	cfg    *config.Config
}

// testSetup wires handlers to a fake API with a logged-in session.
func testSetup(t *testing.T) *testEnv {
	t.Helper()

	api := apitest.New(t)
	holder := session.NewMemory()
	if err := holder.Set(context.Background(), apitest.Token); err != nil {
		t.Fatalf("holder.Set: %v", err)
	}
	logger := slog.New(slog.DiscardHandler)
	gw, err := gateway.New(api.URL, holder, gateway.WithLogger(logger))
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	st := store.New(gw, store.WithLogger(logger))

	return &testEnv{
		h:      NewHandlers(gw, st),
		gw:     gw,
		store:  st,
		api:    api,
		holder: holder,
		cfg:    config.DefaultConfig(),
	}
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func TestHandleList(t *testing.T) {
	e := testSetup(t)
	ctx := context.Background()

	result, err := e.h.HandleList(ctx, makeRequest(nil))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	output := parseOutput(t, result)

	if output["count"] != float64(3) {
		t.Errorf("count = %v, want 3", output["count"])
	}
	projects := output["projects"].([]any)
	first := projects[0].(map[string]any)
	if first["name"] != "test" || first["status"] != "running" {
		t.Errorf("projects[0] = %v", first)
	}
	if files, ok := first["files"].([]any); !ok || len(files) != 0 {
		t.Errorf("list entries carry an empty file list, got %v", first["files"])
	}
}

func TestHandleList_NoRefreshUsesCache(t *testing.T) {
	e := testSetup(t)
	ctx := context.Background()

	result, err := e.h.HandleList(ctx, makeRequest(map[string]any{"refresh": false}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	output := parseOutput(t, result)
	if output["count"] != float64(0) {
		t.Errorf("count = %v, want 0 before any refresh", output["count"])
	}
	if n := len(e.api.Requests()); n != 0 {
		t.Errorf("API calls = %d, want 0", n)
	}
}

func TestHandleList_Failures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		errorCode string
	}{
		{"server error", http.StatusInternalServerError, "UPSTREAM"},
		{"rejected token", http.StatusUnauthorized, "UNAUTHORIZED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testSetup(t)
			ctx := context.Background()
			e.store.RefreshAll(ctx)
			e.api.FailNext(tt.status)

			result, err := e.h.HandleList(ctx, makeRequest(nil))
			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}
			if !result.IsError {
				t.Fatal("expected error result")
			}
			assertErrorCode(t, result, tt.errorCode)
			if n := len(e.store.Projects()); n != 0 {
				t.Errorf("cache size = %d, want 0 after failed refresh", n)
			}
		})
	}
}

func TestHandleGet(t *testing.T) {
	e := testSetup(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		args      map[string]any
		wantError bool
		errorCode string
	}{
		{
			name: "existing project",
			args: map[string]any{"name": "test2"},
		},
		{
			name:      "missing name",
			args:      map[string]any{},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "unknown argument",
			args:      map[string]any{"nmae": "test"},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "path traversal",
			args:      map[string]any{"name": "../x"},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "unknown project",
			args:      map[string]any{"name": "ghost"},
			wantError: true,
			errorCode: "UPSTREAM",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.h.HandleGet(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}

			if tt.wantError {
				if !result.IsError {
					t.Errorf("expected error result, got success")
				}
				assertErrorCode(t, result, tt.errorCode)
				return
			}

			output := parseOutput(t, result)
			if output["name"] != "test2" || output["status"] != "stopped" {
				t.Errorf("output = %v", output)
			}
			files := output["files"].([]any)
			if len(files) != 2 {
				t.Errorf("files = %v, want 2 entries", files)
			}
		})
	}
}

func TestHandleGet_IgnoresConcurrentFailure(t *testing.T) {
	e := testSetup(t)
	ctx := context.Background()

	// Another caller's failed refresh lands right after ours merges.
	var once sync.Once
	e.store.Subscribe(func(snap store.Snapshot) {
		if snap.Err == nil {
			once.Do(func() { e.store.RefreshOne(ctx, "ghost") })
		}
	})

	result, err := e.h.HandleGet(ctx, makeRequest(map[string]any{"name": "test"}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if output := parseOutput(t, result); output["name"] != "test" {
		t.Errorf("output = %v", output)
	}
	if e.store.LastError() == nil {
		t.Error("expected the concurrent failure to be recorded store-wide")
	}

	result, _ = e.h.HandleList(ctx, makeRequest(nil))
	if output := parseOutput(t, result); output["count"] != float64(3) {
		t.Errorf("count = %v, want 3", output["count"])
	}
}

func TestProjectActions(t *testing.T) {
	e := testSetup(t)
	ctx := context.Background()

	tests := []struct {
		tool       string
		project    string
		wantStatus string
		errorCode  string
	}{
		{"project_stop", "test", "stopped", ""},
		{"project_start", "test2", "running", ""},
		{"project_restart", "test3", "running", ""},
		{"project_create", "fresh", "stopped", ""},
		{"project_create", "test", "", "UPSTREAM"},
		{"project_start", "ghost", "", "UPSTREAM"},
	}

	for _, tt := range tests {
		t.Run(tt.tool+"/"+tt.project, func(t *testing.T) {
			handler := toolRegistry[tt.tool].handler(e.h)
			result, err := handler(ctx, makeRequest(map[string]any{"name": tt.project}))
			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}

			if tt.errorCode != "" {
				assertErrorCode(t, result, tt.errorCode)
				return
			}

			output := parseOutput(t, result)
			if output["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", output["status"], tt.wantStatus)
			}
			cached, ok := e.store.GetByName(tt.project)
			if !ok || string(cached.Status) != tt.wantStatus {
				t.Errorf("cache = %+v, %v", cached, ok)
			}
		})
	}
}

func TestHandleDelete(t *testing.T) {
	e := testSetup(t)
	ctx := context.Background()
	e.store.RefreshAll(ctx)

	result, err := e.h.HandleDelete(ctx, makeRequest(map[string]any{"name": "test3"}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	output := parseOutput(t, result)
	if output["deleted"] != true {
		t.Errorf("deleted = %v", output["deleted"])
	}
	if _, ok := e.store.GetByName("test3"); ok {
		t.Error("deleted project still cached")
	}

	result, _ = e.h.HandleDelete(ctx, makeRequest(map[string]any{"name": "test3"}))
	assertErrorCode(t, result, "UPSTREAM")
}

func TestFileTools(t *testing.T) {
	e := testSetup(t)
	ctx := context.Background()

	result, err := e.h.HandleFileRead(ctx, makeRequest(map[string]any{"name": "test", "file": "compose.yml"}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if got := parseOutput(t, result)["content"]; got != "compose.yml" {
		t.Errorf("content = %v", got)
	}

	result, _ = e.h.HandleFileWrite(ctx, makeRequest(map[string]any{"name": "test", "file": ".env", "content": "A=1"}))
	if got := parseOutput(t, result)["content"]; got != "A=1" {
		t.Errorf("written content = %v", got)
	}
	cached, _ := e.store.GetByName("test")
	if len(cached.Files) != 2 {
		t.Errorf("cached files = %v, want 2", cached.Files)
	}

	result, _ = e.h.HandleFileWrite(ctx, makeRequest(map[string]any{"name": "test", "file": ".env"}))
	assertErrorCode(t, result, "INVALID_REQUEST")

	result, _ = e.h.HandleFileDelete(ctx, makeRequest(map[string]any{"name": "test", "file": ".env"}))
	if parseOutput(t, result)["deleted"] != true {
		t.Error("expected deleted=true")
	}

	result, _ = e.h.HandleFileRead(ctx, makeRequest(map[string]any{"name": "test", "file": ".env"}))
	assertErrorCode(t, result, "UPSTREAM")

	result, _ = e.h.HandleFileRead(ctx, makeRequest(map[string]any{"name": "test", "file": "a/b"}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleAuthStatus(t *testing.T) {
	e := testSetup(t)
	ctx := context.Background()

	result, err := e.h.HandleAuthStatus(ctx, makeRequest(nil))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	output := parseOutput(t, result)
	if output["logged_in"] != true || output["valid"] != true {
		t.Errorf("output = %v", output)
	}
	if output["api_url"] != e.api.URL {
		t.Errorf("api_url = %v, want %s", output["api_url"], e.api.URL)
	}

	// A rejected token is cleared and reported as logged out.
	e.api.FailNext(http.StatusUnauthorized)
	result, _ = e.h.HandleAuthStatus(ctx, makeRequest(nil))
	output = parseOutput(t, result)
	if output["logged_in"] != false || output["valid"] != false {
		t.Errorf("output = %v", output)
	}
	if _, ok, _ := e.holder.Token(ctx); ok {
		t.Error("token should be cleared")
	}

	// Without a session the API is not called.
	before := len(e.api.Requests())
	result, _ = e.h.HandleAuthStatus(ctx, makeRequest(nil))
	if parseOutput(t, result)["logged_in"] != false {
		t.Error("expected logged_in=false")
	}
	if len(e.api.Requests()) != before {
		t.Error("auth_status without a session should not call the API")
	}
}

func TestHandleAuthStatus_TransportError(t *testing.T) {
	e := testSetup(t)
	e.api.Close()

	result, err := e.h.HandleAuthStatus(context.Background(), makeRequest(nil))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	assertErrorCode(t, result, "TRANSPORT")
}

func TestServerRegistration(t *testing.T) {
	e := testSetup(t)

	s := NewServer(e.gw, e.store, e.cfg, "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"project_list",
		"project_get",
		"project_start",
		"project_stop",
		"project_restart",
		"project_create",
		"project_delete",
		"file_read",
		"file_write",
		"file_delete",
		"auth_status",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}

	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	e := testSetup(t)

	e.cfg.DisabledTools = []string{"project_delete", "file_delete", "file_delete"}
	s := NewServer(e.gw, e.store, e.cfg, "test")
	tools := s.ListTools()

	if len(tools) != 9 {
		t.Errorf("registered tool count = %d, want 9", len(tools))
	}
	for _, name := range []string{"project_delete", "file_delete"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
}

func TestServerRegistration_WithDisabledTypes(t *testing.T) {
	e := testSetup(t)

	e.cfg.DisabledTypes = []string{"file"}
	s := NewServer(e.gw, e.store, e.cfg, "test")
	tools := s.ListTools()

	if len(tools) != 8 {
		t.Errorf("registered tool count = %d, want 8", len(tools))
	}
	for name := range tools {
		if strings.HasPrefix(name, "file_") {
			t.Errorf("tool %q of disabled type should not be registered", name)
		}
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	e := testSetup(t)

	e.cfg.DisabledTools = AllToolNames()
	s := NewServer(e.gw, e.store, e.cfg, "test")

	if tools := s.ListTools(); len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{"all valid", []string{"project_delete", "file_write"}, 0},
		{"one unknown", []string{"project_delete", "fake_tool"}, 1},
		{"all unknown", []string{"foo", "bar", "baz"}, 3},
		{"empty list", []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unknown := ValidateDisabledTools(tt.input)
			if len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestValidateDisabledTypes(t *testing.T) {
	if unknown := ValidateDisabledTypes([]string{"project", "file", "auth"}); len(unknown) != 0 {
		t.Errorf("unexpected unknown types: %v", unknown)
	}
	if unknown := ValidateDisabledTypes([]string{"workspace"}); len(unknown) != 1 {
		t.Errorf("expected workspace to be unknown, got %v", unknown)
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()

	if len(names) != 11 {
		t.Errorf("AllToolNames() returned %d names, want 11", len(names))
	}

	for _, name := range names {
		typ := GetTypeForTool(name)
		if len(ValidateDisabledTypes([]string{typ})) != 0 {
			t.Errorf("tool %q has unknown type %q", name, typ)
		}
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	wrappedErr := fmt.Errorf("refresh test: %w", errors.NewUpstream(503, "/projects/test", "maintenance"))

	errObj := errorObject(t, errorResult(wrappedErr))

	if errObj["code"] != string(errors.ErrUpstream) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrUpstream)
	}
	if msg := errObj["message"].(string); msg != "refresh test: maintenance" {
		t.Errorf("message = %q", msg)
	}
}

func TestErrorResult_PlainErrorIsInternal(t *testing.T) {
	errObj := errorObject(t, errorResult(fmt.Errorf("boom")))
	if errObj["code"] != "INTERNAL" || errObj["message"] != "an internal error occurred" {
		t.Errorf("error = %v", errObj)
	}
}

func TestErrorResult_NonInternalIncludesDetails(t *testing.T) {
	errObj := errorObject(t, errorResult(errors.NewNotFound("abc")))

	if errObj["code"] != string(errors.ErrNotFound) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrNotFound)
	}
	if _, ok := errObj["details"]; !ok {
		t.Fatal("expected non-INTERNAL errors to include details when present")
	}
}

// Helper functions

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func errorObject(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	return payload["error"].(map[string]any)
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()

	if !result.IsError {
		t.Errorf("expected error result with code %q, got success", expectedCode)
		return
	}
	if len(result.Content) == 0 {
		t.Errorf("no content in error result")
		return
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Errorf("content is not TextContent")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text.Text), &payload); err != nil {
		t.Errorf("failed to unmarshal error payload: %v", err)
		return
	}

	errorObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Errorf("no error object in payload")
		return
	}

	code, ok := errorObj["code"].(string)
	if !ok {
		t.Errorf("no code in error object")
		return
	}

	if code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}

	return text.Text
}
