package mcp

import "github.com/mark3labs/mcp-go/mcp"

var listToolDef = mcp.NewTool("project_list",
	mcp.WithDescription("List all projects with their status. Reloads the list from the API unless refresh is false, in which case the cached list is returned. File lists are empty here; use project_get for files."),
	mcp.WithBoolean("refresh",
		mcp.Description("Reload from the API first (default true)"),
	),
)

var getToolDef = mcp.NewTool("project_get",
	mcp.WithDescription("Get one project with its status and file names."),
	mcp.WithString("name",
		mcp.Required(),
		mcp.Description("Project name"),
	),
)

var startToolDef = projectActionTool("project_start", "Start a stopped project.")
var stopToolDef = projectActionTool("project_stop", "Stop a running project.")
var restartToolDef = projectActionTool("project_restart", "Restart a project.")
var createToolDef = projectActionTool("project_create", "Create an empty project. Fails if the name is taken.")

var deleteToolDef = mcp.NewTool("project_delete",
	mcp.WithDescription("Delete a project and all of its files. This cannot be undone."),
	mcp.WithString("name",
		mcp.Required(),
		mcp.Description("Project name"),
	),
)

var fileReadToolDef = mcp.NewTool("file_read",
	mcp.WithDescription("Read one file of a project."),
	mcp.WithString("name",
		mcp.Required(),
		mcp.Description("Project name"),
	),
	mcp.WithString("file",
		mcp.Required(),
		mcp.Description("File name within the project, e.g. compose.yml"),
	),
)

var fileWriteToolDef = mcp.NewTool("file_write",
	mcp.WithDescription("Create or replace one file of a project."),
	mcp.WithString("name",
		mcp.Required(),
		mcp.Description("Project name"),
	),
	mcp.WithString("file",
		mcp.Required(),
		mcp.Description("File name within the project"),
	),
	mcp.WithString("content",
		mcp.Required(),
		mcp.Description("Full new file content"),
	),
)

var fileDeleteToolDef = mcp.NewTool("file_delete",
	mcp.WithDescription("Delete one file of a project."),
	mcp.WithString("name",
		mcp.Required(),
		mcp.Description("Project name"),
	),
	mcp.WithString("file",
		mcp.Required(),
		mcp.Description("File name within the project"),
	),
)

var authStatusToolDef = mcp.NewTool("auth_status",
	mcp.WithDescription("Report whether deckhand holds a session for the API and whether the API still accepts it. Log in with `deckhand login`."),
)

func projectActionTool(name, description string) mcp.Tool {
	return mcp.NewTool(name,
		mcp.WithDescription(description+" Returns the project's resulting state."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Project name"),
		),
	)
}
