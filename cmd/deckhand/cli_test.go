package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/hpungsan/deckhand/internal/apitest"
	"github.com/hpungsan/deckhand/internal/config"
	"github.com/hpungsan/deckhand/internal/db"
	"github.com/hpungsan/deckhand/internal/project"
)

type cliEnv struct {
	db  *sql.DB
	cfg *config.Config
	api *apitest.Server
}

// setupTest creates a temporary database and a fake API for testing.
func setupTest(t *testing.T) *cliEnv {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	api := apitest.New(t)
	cfg := config.DefaultConfig()
	cfg.APIURL = api.URL
	return &cliEnv{db: database, cfg: cfg, api: api}
}

// run executes one CLI invocation with stdin and returns stdout and stderr.
func (e *cliEnv) run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := newCLIApp(e.db, e.cfg)
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.Reader = strings.NewReader(stdin)
	err := app.Run(append([]string{"deckhand"}, args...))
	return stdout.String(), stderr.String(), err
}

// login stores a valid session through the login command.
func (e *cliEnv) login(t *testing.T) {
	t.Helper()
	if _, _, err := e.run(t, "", "login", "-u", apitest.User, "-p", apitest.Password); err != nil {
		t.Fatalf("login failed: %v", err)
	}
}

func decodeJSON[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	return v
}

// TestCLILoginStatusLogout tests the session lifecycle across invocations.
func TestCLILoginStatusLogout(t *testing.T) {
	e := setupTest(t)

	out, _, err := e.run(t, "", "status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	status := decodeJSON[statusOutput](t, out)
	if status.LoggedIn || status.APIURL != e.api.URL {
		t.Errorf("status before login = %+v", status)
	}

	out, _, err = e.run(t, "", "login", "--user", apitest.User, "--password", apitest.Password)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if !decodeJSON[statusOutput](t, out).LoggedIn {
		t.Error("expected logged_in=true after login")
	}

	// A fresh app reads the token back from the database.
	out, _, err = e.run(t, "", "status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	status = decodeJSON[statusOutput](t, out)
	if !status.LoggedIn || !status.Valid {
		t.Errorf("status after login = %+v", status)
	}
	if got := e.api.LastRequest().Authorization; got != "Bearer "+apitest.Token {
		t.Errorf("Authorization = %q", got)
	}

	if _, _, err := e.run(t, "", "logout"); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	out, _, _ = e.run(t, "", "status")
	if decodeJSON[statusOutput](t, out).LoggedIn {
		t.Error("expected logged_in=false after logout")
	}
}

func TestCLILogin_PasswordStdin(t *testing.T) {
	e := setupTest(t)

	if _, _, err := e.run(t, apitest.Password+"\n", "login", "-u", apitest.User, "--password-stdin"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	body := e.api.LastRequest().Body
	if !strings.Contains(body, `"pw":"`+apitest.Password+`"`) {
		t.Errorf("login body = %s, want trailing newline trimmed", body)
	}
}

func TestCLILogin_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"wrong password", []string{"login", "-u", apitest.User, "-p", "nope"}, "[UNAUTHORIZED]"},
		{"no password", []string{"login", "-u", apitest.User}, "[INVALID_REQUEST]"},
		{"both password sources", []string{"login", "-u", apitest.User, "-p", "x", "--password-stdin"}, "mutually exclusive"},
		{"no user", []string{"login", "-p", apitest.Password}, "user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setupTest(t)
			_, _, err := e.run(t, "", tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

// TestCLIAPIURLOverride tests that --api-url takes precedence over config.
func TestCLIAPIURLOverride(t *testing.T) {
	e := setupTest(t)
	e.cfg.APIURL = "http://127.0.0.1:1"

	out, _, err := e.run(t, "", "--api-url", e.api.URL, "login", "-u", apitest.User, "-p", apitest.Password)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if got := decodeJSON[statusOutput](t, out).APIURL; got != e.api.URL {
		t.Errorf("api_url = %q, want %q", got, e.api.URL)
	}
}

// TestCLIList tests the list command in both output formats.
func TestCLIList(t *testing.T) {
	e := setupTest(t)
	e.login(t)

	t.Run("json", func(t *testing.T) {
		out, _, err := e.run(t, "", "list")
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		output := decodeJSON[listOutput](t, out)
		if output.Count != 3 || output.Projects[0].Name != "test" {
			t.Errorf("output = %+v", output)
		}
		if output.Projects[1].Status != project.StatusStopped {
			t.Errorf("test2 status = %s", output.Projects[1].Status)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		out, _, err := e.run(t, "", "--format", "yaml", "list")
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		var output listOutput
		if err := yaml.Unmarshal([]byte(out), &output); err != nil {
			t.Fatalf("failed to parse yaml: %v\nOutput: %s", err, out)
		}
		if output.Count != 3 || output.Projects[2].Name != "test3" {
			t.Errorf("output = %+v", output)
		}
		if !strings.Contains(out, "status: running") {
			t.Errorf("expected inline project fields, got:\n%s", out)
		}
	})
}

// TestCLIList_SessionRejected tests that a 401 clears the stored session.
func TestCLIList_SessionRejected(t *testing.T) {
	e := setupTest(t)
	e.login(t)
	e.api.FailNext(http.StatusUnauthorized)

	_, stderr, err := e.run(t, "", "list")
	if err == nil || !strings.Contains(err.Error(), "[UNAUTHORIZED]") {
		t.Fatalf("err = %v, want UNAUTHORIZED", err)
	}
	if !strings.Contains(stderr, "deckhand login") {
		t.Errorf("stderr = %q, want login hint", stderr)
	}

	out, _, _ := e.run(t, "", "status")
	if decodeJSON[statusOutput](t, out).LoggedIn {
		t.Error("session should be cleared after 401")
	}
}

// TestCLIErrorPolicy tests that only the notify policy echoes API errors.
func TestCLIErrorPolicy(t *testing.T) {
	for _, policy := range []string{config.ErrorPolicyLog, config.ErrorPolicyNotify} {
		t.Run(policy, func(t *testing.T) {
			e := setupTest(t)
			e.cfg.ErrorPolicy = policy
			e.login(t)
			e.api.FailNext(http.StatusInternalServerError)

			_, stderr, err := e.run(t, "", "list")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			warned := strings.Contains(stderr, "warning: [UPSTREAM]")
			if warned != (policy == config.ErrorPolicyNotify) {
				t.Errorf("policy %s: stderr = %q", policy, stderr)
			}
		})
	}
}

// TestCLIShow tests the show command.
func TestCLIShow(t *testing.T) {
	e := setupTest(t)
	e.login(t)

	out, _, err := e.run(t, "", "show", "test2")
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	p := decodeJSON[project.Details](t, out)
	if p.Name != "test2" || len(p.Files) != 2 {
		t.Errorf("output = %+v", p)
	}

	_, _, err = e.run(t, "", "show", "ghost")
	if err == nil || !strings.Contains(err.Error(), "Project not found: ghost") {
		t.Errorf("err = %v", err)
	}

	_, _, err = e.run(t, "", "show", "..")
	if err == nil || !strings.Contains(err.Error(), "[INVALID_REQUEST]") {
		t.Errorf("err = %v", err)
	}
}

// TestCLIActions tests start, stop, restart and create.
func TestCLIActions(t *testing.T) {
	e := setupTest(t)
	e.login(t)

	tests := []struct {
		args       []string
		wantStatus project.Status
	}{
		{[]string{"stop", "test"}, project.StatusStopped},
		{[]string{"start", "test2"}, project.StatusRunning},
		{[]string{"restart", "test3"}, project.StatusRunning},
		{[]string{"create", "fresh"}, project.StatusStopped},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			out, _, err := e.run(t, "", tt.args...)
			if err != nil {
				t.Fatalf("%s failed: %v", tt.args[0], err)
			}
			p := decodeJSON[project.Details](t, out)
			if p.Name != tt.args[1] || p.Status != tt.wantStatus {
				t.Errorf("output = %+v", p)
			}
		})
	}

	_, _, err := e.run(t, "", "create", "test")
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("duplicate create: err = %v", err)
	}
}

// TestCLIDelete tests the delete command.
func TestCLIDelete(t *testing.T) {
	e := setupTest(t)
	e.login(t)

	out, _, err := e.run(t, "", "delete", "test3")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if decodeJSON[map[string]any](t, out)["deleted"] != true {
		t.Errorf("output = %s", out)
	}

	out, _, _ = e.run(t, "", "list")
	if decodeJSON[listOutput](t, out).Count != 2 {
		t.Errorf("expected 2 projects after delete, got %s", out)
	}
}

// TestCLIFile tests the file subcommands.
func TestCLIFile(t *testing.T) {
	e := setupTest(t)
	e.login(t)

	out, _, err := e.run(t, "", "file", "cat", "test", "compose.yml")
	if err != nil {
		t.Fatalf("cat failed: %v", err)
	}
	if out != "compose.yml" {
		t.Errorf("cat output = %q", out)
	}

	if _, _, err := e.run(t, "# Notes\n", "file", "put", "test", "README.md"); err != nil {
		t.Fatalf("put from stdin failed: %v", err)
	}
	out, _, _ = e.run(t, "", "file", "cat", "test", "README.md")
	if out != "# Notes\n" {
		t.Errorf("content after stdin put = %q", out)
	}

	out, _, err = e.run(t, "", "file", "put", "--content", "A=1", "test", ".env")
	if err != nil {
		t.Fatalf("put --content failed: %v", err)
	}
	if decodeJSON[map[string]any](t, out)["bytes"] != float64(3) {
		t.Errorf("put output = %s", out)
	}

	if _, _, err := e.run(t, "", "file", "rm", "test", ".env"); err != nil {
		t.Fatalf("rm failed: %v", err)
	}
	_, _, err = e.run(t, "", "file", "cat", "test", ".env")
	if err == nil || !strings.Contains(err.Error(), "File not found") {
		t.Errorf("cat after rm: err = %v", err)
	}
}

// TestCLIErrorHandling tests error handling in CLI commands.
func TestCLIErrorHandling(t *testing.T) {
	e := setupTest(t)

	t.Run("missing argument", func(t *testing.T) {
		_, _, err := e.run(t, "", "show")
		if err == nil || !strings.Contains(err.Error(), "<project>") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("extra argument", func(t *testing.T) {
		_, _, err := e.run(t, "", "file", "cat", "test")
		if err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		_, _, err := e.run(t, "", "--format", "xml", "list")
		if err == nil || !strings.Contains(err.Error(), "unknown format") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("invalid log level", func(t *testing.T) {
		_, _, err := e.run(t, "", "--log-level", "loud", "list")
		if err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("list without session", func(t *testing.T) {
		_, _, err := e.run(t, "", "list")
		if err == nil || !strings.Contains(err.Error(), "[UNAUTHORIZED]") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("invalid port", func(t *testing.T) {
		_, _, err := e.run(t, "", "ui", "--port", "0")
		if err == nil || !strings.Contains(err.Error(), "invalid port") {
			t.Errorf("err = %v", err)
		}
	})
}

// TestIsCLIMode tests the isCLIMode function.
func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{
			name:     "no args",
			args:     []string{"deckhand"},
			expected: false,
		},
		{
			name:     "list command",
			args:     []string{"deckhand", "list"},
			expected: true,
		},
		{
			name:     "file command",
			args:     []string{"deckhand", "file", "cat"},
			expected: true,
		},
		{
			name:     "global flag before command",
			args:     []string{"deckhand", "--api-url=http://x", "list"},
			expected: true,
		},
		{
			name:     "short format flag",
			args:     []string{"deckhand", "-f", "yaml", "list"},
			expected: true,
		},
		{
			name:     "help flag",
			args:     []string{"deckhand", "--help"},
			expected: true,
		},
		{
			name:     "short version flag",
			args:     []string{"deckhand", "-v"},
			expected: true,
		},
		{
			name:     "unknown arg defaults to MCP",
			args:     []string{"deckhand", "--unknown"},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Save and restore os.Args
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			result := isCLIMode()

			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

// TestIsHelpOrVersion tests the isHelpOrVersion function.
func TestIsHelpOrVersion(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{"no args", []string{"deckhand"}, false},
		{"help flag", []string{"deckhand", "--help"}, true},
		{"short help flag", []string{"deckhand", "-h"}, true},
		{"version flag", []string{"deckhand", "--version"}, true},
		{"help subcommand", []string{"deckhand", "help"}, true},
		{"list command is not help", []string{"deckhand", "list"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			if result := isHelpOrVersion(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

// TestHelpWithoutDatabase tests that help renders before any wiring.
func TestHelpWithoutDatabase(t *testing.T) {
	var stdout bytes.Buffer
	app := newCLIApp(nil, nil)
	app.Writer = &stdout

	if err := app.Run([]string{"deckhand", "--help"}); err != nil {
		t.Fatalf("help failed: %v", err)
	}
	for _, cmd := range []string{"login", "list", "file", "ui"} {
		if !strings.Contains(stdout.String(), cmd) {
			t.Errorf("help output missing %q", cmd)
		}
	}
}

// TestReadStdinWithLimit tests the readStdin function respects size limits.
func TestReadStdinWithLimit(t *testing.T) {
	t.Run("within limit", func(t *testing.T) {
		content := "small content"
		result, err := readStdin(strings.NewReader(content), 1000)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if result != content {
			t.Errorf("expected %q, got %q", content, result)
		}
	})

	t.Run("exactly at limit", func(t *testing.T) {
		content := strings.Repeat("x", 50)
		if _, err := readStdin(strings.NewReader(content), 50); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("exceeds limit", func(t *testing.T) {
		// Limit is 50 bytes, content is 100
		_, err := readStdin(strings.NewReader(strings.Repeat("x", 100)), 50)
		if err == nil {
			t.Error("expected error for content exceeding limit, got nil")
		}
	})
}
