// Package mcp exposes the signed-in user's documents to MCP clients over
// stdio: listing, uploading, deleting and asking questions.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/sia-project/analyst/internal/app"
	"github.com/sia-project/analyst/internal/chat"
	"github.com/sia-project/analyst/internal/documents"
	"github.com/sia-project/analyst/internal/gateway"
	"github.com/sia-project/analyst/internal/logging"
)

const documentsURI = "analyst://documents"

// tools holds one chat session per document for the life of the process.
type tools struct {
	app    *app.App
	logger *zap.Logger

	mu    sync.Mutex
	chats map[string]*chat.Session
}

// NewServer creates an MCP server with the document tools and the
// document-list resource registered.
func NewServer(a *app.App, version string, logger *zap.Logger) *server.MCPServer {
	logger = logging.OrNop(logger)
	t := &tools{app: a, logger: logger.Named("mcp"), chats: make(map[string]*chat.Session)}

	s := server.NewMCPServer(
		"analyst",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("analyst: upload documents to the analysis backend and ask questions about them."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcpgo.NewTool("list_documents",
			mcpgo.WithDescription("List the signed-in user's documents, newest first, as JSON."),
		),
		t.listDocuments,
	)

	s.AddTool(
		mcpgo.NewTool("upload_document",
			mcpgo.WithDescription("Upload a local .pdf or .txt file (at most 10 MB) for analysis."),
			mcpgo.WithString("path", mcpgo.Description("Path to the file on this machine"), mcpgo.Required()),
		),
		t.uploadDocument,
	)

	s.AddTool(
		mcpgo.NewTool("delete_document",
			mcpgo.WithDescription("Delete a document by id."),
			mcpgo.WithString("id", mcpgo.Description("Document id from list_documents"), mcpgo.Required()),
		),
		t.deleteDocument,
	)

	s.AddTool(
		mcpgo.NewTool("ask",
			mcpgo.WithDescription("Ask a question about one document. The conversation is kept per document."),
			mcpgo.WithString("document_id", mcpgo.Description("Document id from list_documents"), mcpgo.Required()),
			mcpgo.WithString("query", mcpgo.Description("The question"), mcpgo.Required()),
		),
		t.ask,
	)

	s.AddResource(
		mcpgo.NewResource(
			documentsURI,
			"Documents",
			mcpgo.WithResourceDescription("The signed-in user's documents as JSON"),
			mcpgo.WithMIMEType("application/json"),
		),
		t.documentsResource,
	)

	return s
}

// ServeStdio blocks serving s on stdin/stdout.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func (t *tools) listDocuments(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	docs, err := t.app.Dashboard(ctx)
	if err != nil {
		return mcpError(t.failure(err)), nil
	}
	b, err := json.Marshal(docs)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func (t *tools) uploadDocument(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcpError("path is required"), nil
	}
	if _, err := t.app.Guard(ctx); err != nil {
		return mcpError(err.Error()), nil
	}

	f, err := documents.OpenFile(path)
	if err != nil {
		return mcpError(err.Error()), nil
	}
	if err := t.app.Documents().Upload(ctx, f); err != nil {
		return mcpError(t.failure(err)), nil
	}
	return mcpText(fmt.Sprintf("Uploaded %s", f.Name)), nil
}

func (t *tools) deleteDocument(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil || strings.TrimSpace(id) == "" {
		return mcpError("id is required"), nil
	}
	if _, err := t.app.Guard(ctx); err != nil {
		return mcpError(err.Error()), nil
	}

	if err := t.app.Documents().Delete(ctx, id); err != nil {
		return mcpError(t.failure(err)), nil
	}
	return mcpText(fmt.Sprintf("Deleted %s", id)), nil
}

// ask returns the reply to this call's own send, which is the canned
// fallback when the backend could not answer.
func (t *tools) ask(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	docID, err := req.RequireString("document_id")
	if err != nil || strings.TrimSpace(docID) == "" {
		return mcpError("document_id is required"), nil
	}
	query, err := req.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return mcpError("query is required"), nil
	}
	if _, err := t.app.Guard(ctx); err != nil {
		return mcpError(err.Error()), nil
	}

	reply, _ := t.chat(docID).Send(ctx, query)
	return mcpText(reply.Content), nil
}

func (t *tools) chat(docID string) *chat.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.chats[docID]
	if !ok {
		s = t.app.Chat(docID)
		t.chats[docID] = s
	}
	return s
}

func (t *tools) documentsResource(ctx context.Context, req mcpgo.ReadResourceRequest) ([]mcpgo.ResourceContents, error) {
	docs, err := t.app.Dashboard(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	b, err := json.Marshal(docs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal documents: %w", err)
	}
	return []mcpgo.ResourceContents{
		mcpgo.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

// failure prefers the store's banner text, which is what a dashboard user
// would have seen.
func (t *tools) failure(err error) string {
	if errors.Is(err, app.ErrNotSignedIn) {
		return err.Error()
	}
	if msg := t.app.Documents().Status().Error; msg != "" {
		return msg
	}
	t.logger.Debug("tool failed", zap.Error(err))
	return gateway.Message(err)
}

func mcpText(text string) *mcpgo.CallToolResult {
	return &mcpgo.CallToolResult{
		Content: []mcpgo.Content{
			mcpgo.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcpgo.CallToolResult {
	return &mcpgo.CallToolResult{
		Content: []mcpgo.Content{
			mcpgo.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
