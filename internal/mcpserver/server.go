// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the player's vault cache and rules references as tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/rulekeeper/internal/apperr"
	"github.com/starford/rulekeeper/internal/session"
)

const (
	contractURI        = "rulekeeper://vault-contract"
	defaultSearchLimit = 10
)

// Server wraps the MCP server with Rulekeeper tools.
type Server struct {
	mcp  *server.MCPServer
	sess *session.Session
}

// New creates a new MCP server with all tools registered.
func New(sess *session.Session, version string) *Server {
	s := &Server{sess: sess}

	s.mcp = server.NewMCPServer(
		"Rulekeeper",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("vault_summary",
		mcp.WithDescription("Summary of the reference pages the Game Master shared with the table, "+
			"grouped by category. Empty when no vault has been shared."),
	), s.vaultSummary)

	s.mcp.AddTool(mcp.NewTool("list_vault_pages",
		mcp.WithDescription("List shared vault pages as JSON, optionally filtered."),
		mcp.WithString("category", mcp.Description(`Category path such as "NPCs > Allies"; includes subcategories`)),
		mcp.WithString("query", mcp.Description("Case-insensitive title filter")),
	), s.listVaultPages)

	s.mcp.AddTool(mcp.NewTool("refresh_vault",
		mcp.WithDescription("Re-read the shared vault and ask the Game Master for the latest copy."),
	), s.refreshVault)

	s.mcp.AddTool(mcp.NewTool("search_references",
		mcp.WithDescription("Full-text search through the rules reference documents."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results")),
	), s.searchReferences)

	s.mcp.AddTool(mcp.NewTool("read_reference",
		mcp.WithDescription("Read the full text of a rules reference document."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path (e.g. combat/grapple.md)")),
	), s.readReference)

	s.mcp.AddTool(mcp.NewTool("get_vault_contract",
		mcp.WithDescription("Returns the contract GM tools follow to share a vault with players."),
	), s.getVaultContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Vault Sharing Contract",
			mcp.WithResourceDescription("Room metadata keys, channels and payload shape of a shared vault."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// Handler serves MCP over streamable HTTP.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func toolError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("not found")
	case errors.Is(err, apperr.ErrUnavailable):
		return mcp.NewToolResultError("rules references are not configured")
	default:
		return mcp.NewToolResultError(err.Error())
	}
}

func (s *Server) vaultSummary(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary := s.sess.Summary()
	if summary == "" {
		return mcp.NewToolResultText("The Game Master has not shared a vault yet."), nil
	}
	return mcp.NewToolResultText(summary), nil
}

func (s *Server) listVaultPages(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pages := s.sess.Pages(req.GetString("category", ""), req.GetString("query", ""))
	return jsonResult(pages), nil
}

func (s *Server) refreshVault(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.sess.Refresh(ctx)), nil
}

func (s *Server) searchReferences(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.sess.SearchReferences(query, req.GetInt("limit", defaultSearchLimit))
	if err != nil {
		return toolError(err), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no matching references"), nil
	}
	return jsonResult(results), nil
}

func (s *Server) readReference(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.sess.ReadReference(path)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("# %s\n\n%s", doc.Title, doc.Body)), nil
}

func (s *Server) getVaultContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(VaultContract), nil
}

func (s *Server) readContractResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     VaultContract,
		},
	}, nil
}
