package mcpserv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sgildea/msgsearch/internal/hybrid"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeEmptyQuery    = -32001 // Query parameter is empty
	ErrorCodeBuildFailed   = -32002 // Index build failed
)

// handleSearchMessages handles the search_messages tool invocation
func (s *Server) handleSearchMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	mode := hybrid.Mode(getStringDefault(args, "mode", string(hybrid.ModeHybrid)))
	switch mode {
	case hybrid.ModeKeyword, hybrid.ModeStemmed, hybrid.ModeSemantic, hybrid.ModeHybrid:
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   string(mode),
			"allowed": []string{"keyword", "stemmed", "semantic", "hybrid"},
		})
	}

	limit := getIntDefault(args, "limit", 20)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	opts := hybrid.Options{
		Mode:   mode,
		ChatID: int64(getIntDefault(args, "chat_id", 0)),
		Limit:  limit,
	}
	var err error
	if opts.After, err = parseTimeArg(args, "after"); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid after timestamp", map[string]interface{}{
			"param": "after", "reason": err.Error(),
		})
	}
	if opts.Before, err = parseTimeArg(args, "before"); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid before timestamp", map[string]interface{}{
			"param": "before", "reason": err.Error(),
		})
	}

	results, err := s.searcher.Search(ctx, query, opts)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	items := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		item := map[string]interface{}{
			"message_id":     r.MessageID,
			"chat_id":        r.ChatID,
			"text":           r.Text,
			"date":           r.Date.Format(time.RFC3339),
			"is_from_me":     r.IsFromMe,
			"combined_score": r.CombinedScore,
			"found_by":       r.FoundBy,
		}
		if r.Snippet != "" {
			item["snippet"] = r.Snippet
		}
		if r.KeywordScore > 0 {
			item["keyword_score"] = r.KeywordScore
		}
		if r.StemmedScore > 0 {
			item["stemmed_score"] = r.StemmedScore
		}
		if r.SemanticScore > 0 {
			item["semantic_score"] = r.SemanticScore
		}
		items = append(items, item)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"query":   query,
		"mode":    string(mode),
		"count":   len(items),
		"results": items,
	})), nil
}

// handleBuildIndex handles the build_index tool invocation
func (s *Server) handleBuildIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	stats, err := s.searcher.BuildIndexes(ctx, hybrid.BuildOptions{
		IncludeSemantic: getBoolDefault(args, "include_semantic", false),
		FullRebuild:     getBoolDefault(args, "full_rebuild", false),
	})
	if err != nil {
		return nil, newMCPError(ErrorCodeBuildFailed, "index build failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"fts_indexed":        stats.FTSIndexed,
		"semantic_indexed":   stats.SemanticIndexed,
		"semantic_available": stats.SemanticAvailable,
	})), nil
}

// handleIndexStats handles the index_stats tool invocation
func (s *Server) handleIndexStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.searcher.Stats(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read index stats", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"fts": map[string]interface{}{
			"indexed_messages": stats.FTS.IndexedMessages,
			"size_bytes":       stats.FTS.SizeBytes,
			"stemmer":          stats.FTS.Stemmer.Algorithm,
		},
		"semantic_available": stats.SemanticAvailable,
	}
	if !stats.FTS.LastMessageDate.IsZero() {
		response["fts"].(map[string]interface{})["last_message_date"] = stats.FTS.LastMessageDate.Format(time.RFC3339)
	}
	if stats.Semantic != nil {
		response["semantic"] = map[string]interface{}{
			"indexed_messages": stats.Semantic.IndexedMessages,
			"dimension":        stats.Semantic.Dimension,
			"model_available":  stats.Semantic.ModelAvailable,
			"model_name":       stats.Semantic.ModelName,
			"size_bytes":       stats.Semantic.SizeBytes,
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListChats handles the list_chats tool invocation
func (s *Server) handleListChats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	limit := getIntDefault(args, "limit", 20)
	if limit < 1 || limit > 200 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 200", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	chats, err := s.db.Chats(ctx, getStringDefault(args, "service", ""), limit)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list chats", map[string]interface{}{
			"error": err.Error(),
		})
	}

	items := make([]map[string]interface{}, 0, len(chats))
	for _, c := range chats {
		item := map[string]interface{}{
			"chat_id":       c.ID,
			"identifier":    c.Identifier,
			"service":       c.Service,
			"message_count": c.MessageCount,
		}
		if c.DisplayName != "" {
			item["display_name"] = c.DisplayName
		}
		if !c.LastMessageDate.IsZero() {
			item["last_message_date"] = c.LastMessageDate.Format(time.RFC3339)
		}
		items = append(items, item)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"count": len(items),
		"chats": items,
	})), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// parseTimeArg parses an optional RFC 3339 timestamp argument
func parseTimeArg(args map[string]interface{}, key string) (time.Time, error) {
	val, ok := args[key].(string)
	if !ok || val == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		// Accept bare dates too.
		t, err = time.Parse("2006-01-02", val)
	}
	return t, err
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
