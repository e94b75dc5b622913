// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes cookshelf recipe tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/cookshelf/internal/recipeservice"
)

const recipeFormatURI = "cookshelf://recipe-format"

// Server wraps the MCP server with cookshelf tools.
type Server struct {
	mcp *server.MCPServer
	svc *recipeservice.Service
}

// New creates a new MCP server with all recipe tools registered.
func New(svc *recipeservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Cookshelf",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_recipes",
		mcp.WithDescription("List indexed recipes with title, directory, servings and tags."),
		mcp.WithString("tag", mcp.Description("Optional tag to filter by")),
	), s.listRecipes)

	s.mcp.AddTool(mcp.NewTool("read_recipe",
		mcp.WithDescription("Read the raw Cooklang text of a recipe."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Recipe path without extension (e.g. lunch/Tomato soup)")),
	), s.readRecipe)

	s.mcp.AddTool(mcp.NewTool("create_recipe",
		mcp.WithDescription("Create a new recipe without overwriting anything. "+
			"If the name is taken a suffix like \" (1)\" is appended; the name used is returned. "+
			"Content MUST follow the recipe format; read it via get_recipe_format or "+
			"the "+recipeFormatURI+" resource."),
		mcp.WithString("dir", mcp.Description("Target directory (empty for the top level)")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Recipe name without extension or slashes")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Cooklang recipe text")),
	), s.createRecipe)

	s.mcp.AddTool(mcp.NewTool("save_recipe",
		mcp.WithDescription("Create or replace the recipe at a path."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Recipe path without extension")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Cooklang recipe text")),
	), s.saveRecipe)

	s.mcp.AddTool(mcp.NewTool("move_recipe",
		mcp.WithDescription("Rename a recipe or move it to another directory. Fails if the target exists."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Current recipe path")),
		mcp.WithString("dir", mcp.Description("Target directory (empty for the top level)")),
		mcp.WithString("file_name", mcp.Required(), mcp.Description("New recipe name")),
	), s.moveRecipe)

	s.mcp.AddTool(mcp.NewTool("list_directories",
		mcp.WithDescription("List recipe directories."),
	), s.listDirectories)

	s.mcp.AddTool(mcp.NewTool("rebuild_index",
		mcp.WithDescription("Rescan every recipe file and rebuild the recipe index."),
	), s.rebuildIndex)

	s.mcp.AddTool(mcp.NewTool("get_recipe_format",
		mcp.WithDescription("Returns the recipe format contract. "+
			"Call this before creating or updating recipes to ensure correct structure."),
	), s.getRecipeFormat)

	// Resource: recipe format contract.
	s.mcp.AddResource(
		mcp.NewResource(recipeFormatURI, "Recipe Format",
			mcp.WithResourceDescription("Cooklang recipe format used by cookshelf."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readRecipeFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listRecipes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.svc.ListRecipes(ctx, optionalString(req, "tag"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(entries)
}

func (s *Server) readRecipe(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.svc.GetRecipe(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(rec.Content), nil
}

func (s *Server) createRecipe(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.CreateRecipe(ctx, optionalString(req, "dir"), name, content)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) saveRecipe(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.svc.SaveRecipe(ctx, path, content)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved: %s", rec.Path)), nil
}

func (s *Server) moveRecipe(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fileName, err := req.RequireString("file_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.svc.MoveRecipe(ctx, path, optionalString(req, "dir"), fileName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("moved: %s -> %s", path, rec.Path)), nil
}

func (s *Server) listDirectories(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dirs, err := s.svc.ListDirectories(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(dirs) == 0 {
		return mcp.NewToolResultText("no directories"), nil
	}
	return mcp.NewToolResultText(strings.Join(dirs, "\n")), nil
}

func (s *Server) rebuildIndex(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, report, err := s.svc.RebuildIndex(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("indexed %d recipes, skipped %d", len(entries), report.Skipped)), nil
}

func (s *Server) getRecipeFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(RecipeFormatContract), nil
}

func (s *Server) readRecipeFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      recipeFormatURI,
			MIMEType: "text/markdown",
			Text:     RecipeFormatContract,
		},
	}, nil
}

// optionalString returns the named string argument, or "" when it is absent.
func optionalString(req mcp.CallToolRequest, key string) string {
	if v, err := req.RequireString(key); err == nil {
		return v
	}
	return ""
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
