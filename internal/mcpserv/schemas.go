package mcpserv

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// searchMessagesTool returns the tool definition for search_messages
func searchMessagesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_messages",
		Description: "Search message history with keyword, stemmed, semantic, or hybrid strategies",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query; supports FTS5 syntax (AND, OR, NOT, quoted phrases) in text modes",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "Search strategy",
					"enum":        []string{"keyword", "stemmed", "semantic", "hybrid"},
					"default":     "hybrid",
				},
				"chat_id": map[string]interface{}{
					"type":        "integer",
					"description": "Restrict results to one conversation",
				},
				"after": map[string]interface{}{
					"type":        "string",
					"description": "Only messages after this RFC 3339 timestamp",
				},
				"before": map[string]interface{}{
					"type":        "string",
					"description": "Only messages before this RFC 3339 timestamp",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     20,
					"minimum":     1,
					"maximum":     100,
				},
			},
			Required: []string{"query"},
		},
	}
}

// buildIndexTool returns the tool definition for build_index
func buildIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "build_index",
		Description: "Build or update the search indexes from the message store",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"include_semantic": map[string]interface{}{
					"type":        "boolean",
					"description": "Also build the embedding index (requires a configured backend)",
					"default":     false,
				},
				"full_rebuild": map[string]interface{}{
					"type":        "boolean",
					"description": "Drop and rebuild the indexes from scratch",
					"default":     false,
				},
			},
		},
	}
}

// indexStatsTool returns the tool definition for index_stats
func indexStatsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_stats",
		Description: "Report search index sizes, counts, and backend availability",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// listChatsTool returns the tool definition for list_chats
func listChatsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_chats",
		Description: "List conversations ordered by most recent activity",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of chats to return",
					"default":     20,
					"minimum":     1,
					"maximum":     200,
				},
				"service": map[string]interface{}{
					"type":        "string",
					"description": "Restrict to one service, e.g. iMessage or SMS",
				},
			},
		},
	}
}
