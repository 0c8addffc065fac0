package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/hpungsan/deckhand/internal/config"
	"github.com/hpungsan/deckhand/internal/errors"
	"github.com/hpungsan/deckhand/internal/project"
	"github.com/hpungsan/deckhand/internal/store"
	"github.com/hpungsan/deckhand/internal/web"
)

// maxStdinBytes caps file content and passwords read from stdin.
const maxStdinBytes = 8 << 20

// Output formats.
const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// newCLIApp creates the CLI application with all commands. The gateway and
// store are built in Before, once the global flags are known.
func newCLIApp(db *sql.DB, cfg *config.Config) *cli.App {
	var d *deps

	app := &cli.App{
		Name:    "deckhand",
		Usage:   "Client for the projects API",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "api-url", EnvVars: []string{"DECKHAND_API_URL"}, Usage: "Projects API base URL (overrides config)"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: formatJSON, Usage: "Output format: json|yaml"},
			&cli.StringFlag{Name: "log-level", Value: "error", Usage: "Log level: debug|info|warn|error"},
		},
		Before: func(c *cli.Context) error {
			if db == nil {
				return nil
			}
			if f := c.String("format"); f != formatJSON && f != formatYAML {
				return outputError(errors.NewInvalidRequest(fmt.Sprintf("unknown format %q", f)))
			}
			logger, err := newLogger(c.App.ErrWriter, c.String("log-level"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			apiURL := cfg.APIURL
			if c.IsSet("api-url") {
				apiURL = c.String("api-url")
			}
			d, err = newDeps(db, cfg, apiURL, logger, c.App.ErrWriter)
			if err != nil {
				return outputError(err)
			}
			return nil
		},
	}
	app.Commands = []*cli.Command{
		loginCmd(&d),
		logoutCmd(&d),
		statusCmd(&d),
		listCmd(&d),
		showCmd(&d),
		actionCmd(&d, "start", "Start a stopped project", (*store.Store).Start),
		actionCmd(&d, "stop", "Stop a running project", (*store.Store).Stop),
		actionCmd(&d, "restart", "Restart a project", (*store.Store).Restart),
		actionCmd(&d, "create", "Create an empty project", (*store.Store).Create),
		deleteCmd(&d),
		fileCmd(&d),
		uiCmd(&d),
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// loginCmd creates the login command.
func loginCmd(d **deps) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Log in and store the session token",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Required: true, Usage: "User name"},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "Password (prefer --password-stdin)"},
			&cli.BoolFlag{Name: "password-stdin", Usage: "Read the password from stdin"},
		},
		Action: func(c *cli.Context) error {
			password := c.String("password")
			if c.Bool("password-stdin") {
				if password != "" {
					return outputError(errors.NewInvalidRequest("--password and --password-stdin are mutually exclusive"))
				}
				text, err := readStdin(c.App.Reader, maxStdinBytes)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				password = strings.TrimRight(text, "\r\n")
			}
			if password == "" {
				return outputError(errors.NewInvalidRequest("password is required: use --password or --password-stdin"))
			}

			gw := (*d).gw
			if err := gw.Login(c.Context, c.String("user"), password); err != nil {
				return outputError(err)
			}
			return output(c, statusOutput{APIURL: gw.BaseURL(), LoggedIn: true, Valid: true})
		},
	}
}

// logoutCmd creates the logout command.
func logoutCmd(d **deps) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Forget the stored session token",
		Action: func(c *cli.Context) error {
			gw := (*d).gw
			if err := gw.Logout(c.Context); err != nil {
				return outputError(err)
			}
			return output(c, statusOutput{APIURL: gw.BaseURL()})
		},
	}
}

type statusOutput struct {
	APIURL   string `json:"api_url" yaml:"api_url"`
	LoggedIn bool   `json:"logged_in" yaml:"logged_in"`
	Valid    bool   `json:"valid" yaml:"valid"`
}

// statusCmd creates the status command.
func statusCmd(d **deps) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show whether a session is stored and still accepted",
		Action: func(c *cli.Context) error {
			gw := (*d).gw
			out := statusOutput{APIURL: gw.BaseURL(), LoggedIn: gw.HasSession(c.Context)}
			if !out.LoggedIn {
				return output(c, out)
			}
			err := gw.Validate(c.Context)
			switch {
			case err == nil:
				out.Valid = true
			case errors.Is(err, errors.ErrUnauthorized):
				out.LoggedIn = false
			default:
				return outputError(err)
			}
			return output(c, out)
		},
	}
}

type listOutput struct {
	Projects []project.Details `json:"projects" yaml:"projects"`
	Count    int               `json:"count" yaml:"count"`
}

// listCmd creates the list command.
func listCmd(d **deps) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List all projects with their status",
		Action: func(c *cli.Context) error {
			st := (*d).store
			if err := st.RefreshAllErr(c.Context); err != nil {
				return outputError(err)
			}
			projects := st.Projects()
			return output(c, listOutput{Projects: projects, Count: len(projects)})
		},
	}
}

// showCmd creates the show command.
func showCmd(d **deps) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one project with its files",
		ArgsUsage: "<project>",
		Action: func(c *cli.Context) error {
			name, err := requireArgs(c, 1)
			if err != nil {
				return err
			}
			if err := project.ValidateName(name[0]); err != nil {
				return outputError(err)
			}

			st := (*d).store
			if err := st.RefreshOneErr(c.Context, name[0]); err != nil {
				return outputError(err)
			}
			p, ok := st.GetByName(name[0])
			if !ok {
				return outputError(errors.NewNotFound(name[0]))
			}
			return output(c, p)
		},
	}
}

// actionCmd creates a command running one project action.
func actionCmd(d **deps, action, usage string, run func(*store.Store, context.Context, string) (project.Details, error)) *cli.Command {
	return &cli.Command{
		Name:      action,
		Usage:     usage,
		ArgsUsage: "<project>",
		Action: func(c *cli.Context) error {
			args, err := requireArgs(c, 1)
			if err != nil {
				return err
			}

			p, err := run((*d).store, c.Context, args[0])
			if err != nil {
				return outputError(err)
			}
			return output(c, p)
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(d **deps) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a project and all of its files",
		ArgsUsage: "<project>",
		Action: func(c *cli.Context) error {
			args, err := requireArgs(c, 1)
			if err != nil {
				return err
			}
			if err := (*d).store.Delete(c.Context, args[0]); err != nil {
				return outputError(err)
			}
			return output(c, map[string]any{"deleted": true, "name": args[0]})
		},
	}
}

// fileCmd creates the file command group.
func fileCmd(d **deps) *cli.Command {
	return &cli.Command{
		Name:  "file",
		Usage: "Read, write or remove project files",
		Subcommands: []*cli.Command{
			{
				Name:      "cat",
				Usage:     "Print a file's content",
				ArgsUsage: "<project> <file>",
				Action: func(c *cli.Context) error {
					args, err := requireArgs(c, 2)
					if err != nil {
						return err
					}
					f, err := (*d).store.ReadFile(c.Context, args[0], args[1])
					if err != nil {
						return outputError(err)
					}
					_, err = io.WriteString(c.App.Writer, f.Content)
					return err
				},
			},
			{
				Name:      "put",
				Usage:     "Create or replace a file (reads content from stdin unless --content is set)",
				ArgsUsage: "<project> <file>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "content", Aliases: []string{"c"}, Usage: "File content"},
				},
				Action: func(c *cli.Context) error {
					args, err := requireArgs(c, 2)
					if err != nil {
						return err
					}
					content := c.String("content")
					if !c.IsSet("content") {
						content, err = readStdin(c.App.Reader, maxStdinBytes)
						if err != nil {
							return outputError(errors.NewInvalidRequest(err.Error()))
						}
					}
					f, err := (*d).store.WriteFile(c.Context, args[0], args[1], content)
					if err != nil {
						return outputError(err)
					}
					return output(c, map[string]any{"name": f.Name, "bytes": len(f.Content)})
				},
			},
			{
				Name:      "rm",
				Usage:     "Remove a file",
				ArgsUsage: "<project> <file>",
				Action: func(c *cli.Context) error {
					args, err := requireArgs(c, 2)
					if err != nil {
						return err
					}
					if err := (*d).store.DeleteFile(c.Context, args[0], args[1]); err != nil {
						return outputError(err)
					}
					return output(c, map[string]any{"deleted": true, "name": args[0], "file": args[1]})
				},
			},
		},
	}
}

// uiCmd creates the ui command.
func uiCmd(d **deps) *cli.Command {
	return &cli.Command{
		Name:  "ui",
		Usage: "Serve the web UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Value: 8765, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			port := c.Int("port")
			if port < 1 || port > 65535 {
				return outputError(errors.NewInvalidRequest(fmt.Sprintf("invalid port %d", port)))
			}
			srv := web.NewServer((*d).gw, (*d).store, (*d).cfg, Version, c.String("bind"), port)
			return web.Run(srv)
		},
	}
}

// Helper functions

// output writes v to the app's writer in the selected format.
func output(c *cli.Context, v any) error {
	if c.String("format") == formatYAML {
		enc := yaml.NewEncoder(c.App.Writer)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if dErr := errors.As(err); dErr != nil {
		return cli.Exit(fmt.Sprintf("[%s] %s", dErr.Code, dErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// requireArgs returns exactly n positional arguments or a usage error.
func requireArgs(c *cli.Context, n int) ([]string, error) {
	if c.NArg() != n {
		return nil, outputError(errors.NewInvalidRequest(
			fmt.Sprintf("expected %d argument(s): %s", n, c.Command.ArgsUsage)))
	}
	return c.Args().Slice(), nil
}

// readStdin reads all of r, failing if it exceeds limit bytes.
func readStdin(r io.Reader, limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("input exceeds %d bytes", limit)
	}
	return string(data), nil
}
