// Package mcpserv exposes the message search engine over the Model
// Context Protocol on stdio, so assistants can query chat history and
// manage the search indexes.
package mcpserv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"

	"github.com/sgildea/msgsearch/internal/contacts"
	"github.com/sgildea/msgsearch/internal/embedder"
	"github.com/sgildea/msgsearch/internal/hybrid"
	"github.com/sgildea/msgsearch/internal/messagedb"
)

const (
	// ServerName is the MCP server name
	ServerName = "msgsearch-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// DefaultIndexDir returns the default directory for index files.
func DefaultIndexDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".msgsearch"
	}
	return filepath.Join(home, ".msgsearch")
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	db       *messagedb.DB
	searcher *hybrid.Searcher
}

// NewServer creates an MCP server over the message store at dbPath with
// index files under indexDir. A missing embedding backend is not an
// error; semantic search is simply unavailable.
func NewServer(dbPath, indexDir string) (*Server, error) {
	if dbPath == "" {
		dbPath = messagedb.DefaultPath()
	}
	if indexDir == "" {
		indexDir = DefaultIndexDir()
	}
	if err := os.MkdirAll(indexDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := messagedb.Open(dbPath, contacts.NewCached(contacts.None{}, 0))
	if err != nil {
		return nil, err
	}

	emb, err := embedder.NewFromEnv()
	if err != nil && !errors.Is(err, embedder.ErrBackendUnavailable) {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	searcher := hybrid.New(hybrid.Config{
		FTSPath:      filepath.Join(indexDir, "search.db"),
		SemanticPath: filepath.Join(indexDir, "semantic.db"),
		Source:       db,
		Embedder:     emb,
	})

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
	)

	s := &Server{
		mcp:      mcpServer,
		db:       db,
		searcher: searcher,
	}
	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	defer func() {
		_ = s.searcher.Close()
		_ = s.db.Close()
	}()
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchMessagesTool(), s.handleSearchMessages)
	s.mcp.AddTool(buildIndexTool(), s.handleBuildIndex)
	s.mcp.AddTool(indexStatsTool(), s.handleIndexStats)
	s.mcp.AddTool(listChatsTool(), s.handleListChats)
}
