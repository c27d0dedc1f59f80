// Package mcpserver exposes the two-tool assistant surface (SPEC_FULL.md
// §4.7) over the Model Context Protocol: JSON-RPC 2.0 over HTTP POST plus
// an SSE transport for streaming environments. Tool registration is
// grounded on cmd/mcp-manifold/main.go's name/description/handler loop;
// the transport itself is grounded on github.com/modelcontextprotocol/
// go-sdk/mcp — the reference stack's actual MCP dependency
// (internal/mcpclient/mcpclient.go uses its client side) — generalised
// here to the complementary HTTP/SSE server role. Tool text-block
// formatting is grounded on original_source/backend/cortex_mcp/server.py's
// call_tool.
package mcpserver

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	mcppkg "github.com/modelcontextprotocol/go-sdk/mcp"

	"manifold/internal/cortex/providers"
	"manifold/internal/cortex/retrieve"
	"manifold/internal/cortex/store"
)

// DefaultSearchLimit is the search_memory tool's default result count.
const DefaultSearchLimit = 5

// fetchPreviewLen bounds search_memory's per-result preview text.
const fetchPreviewLen = 300

// defaultGateThreshold is tau, the confidence floor below which a gated
// result is dropped.
const defaultGateThreshold = 0.5

// Server wires the retrieval service and an optional relevance gate into
// an MCP server exposing search_memory and fetch_chat.
type Server struct {
	Retrieve      *retrieve.Service
	Store         store.Store
	Gate          providers.Gate
	GateThreshold float64

	mcp *mcppkg.Server
}

// NewServer builds the MCP server and registers both tools.
func NewServer(name, version string, deps Server) *Server {
	s := deps
	if s.GateThreshold == 0 {
		s.GateThreshold = defaultGateThreshold
	}
	s.mcp = mcppkg.NewServer(&mcppkg.Implementation{Name: name, Version: version}, nil)

	mcppkg.AddTool(s.mcp, &mcppkg.Tool{
		Name:        "search_memory",
		Description: "Semantic search over the ingested conversation corpus",
	}, s.searchMemory)

	mcppkg.AddTool(s.mcp, &mcppkg.Tool{
		Name:        "fetch_chat",
		Description: "Fetch a single conversation's full transcript by id",
	}, s.fetchChat)

	return &s
}

// StreamableHTTPHandler returns the JSON-RPC-over-HTTP-POST transport
// handler (SPEC_FULL.md §4.7 "Protocol").
func (s *Server) StreamableHTTPHandler() http.Handler {
	return mcppkg.NewStreamableHTTPHandler(func(*http.Request) *mcppkg.Server { return s.mcp }, nil)
}

// SSEHandler returns the server-sent-events transport handler, the same
// JSON payload surface exposed over a streaming connection.
func (s *Server) SSEHandler() http.Handler {
	return mcppkg.NewSSEHandler(func(*http.Request) *mcppkg.Server { return s.mcp })
}

// --- search_memory ---------------------------------------------------------

type searchMemoryInput struct {
	Query string `json:"query" jsonschema:"the search query text"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 5"`
}

func (s *Server) searchMemory(ctx context.Context, _ *mcppkg.CallToolRequest, in searchMemoryInput) (*mcppkg.CallToolResult, any, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	resp, err := s.Retrieve.Search(ctx, retrieve.Query{Text: in.Query, Limit: limit})
	if err != nil {
		return nil, nil, err
	}

	items := resp.Items
	dropped := 0
	if s.Gate != nil {
		kept := items[:0]
		for _, item := range items {
			verdict, gateErr := s.Gate.Judge(ctx, in.Query, item.Summary)
			if gateErr != nil {
				// Gate fails open (SPEC_FULL.md §4.7).
				kept = append(kept, item)
				continue
			}
			if !verdict.IsRelevant || verdict.Confidence < s.GateThreshold {
				dropped++
				continue
			}
			kept = append(kept, item)
		}
		items = kept
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d result(s) in %s", resp.Total, resp.SearchTime.Round(time.Millisecond))
	if dropped > 0 {
		fmt.Fprintf(&b, " (%d dropped by relevance gate)", dropped)
	}
	b.WriteString("\n\n")

	for _, item := range items {
		preview := item.Snippet
		if len(preview) > fetchPreviewLen {
			preview = preview[:fetchPreviewLen] + "..."
		}
		fmt.Fprintf(&b, "Score: %.3f\nID: %s\nTitle: %s\nSummary: %s\nTopics: %s\nCluster: %s\nPreview: %s\nMessages: %d\n\n",
			item.Score, item.ConversationID, item.Title, item.Summary, strings.Join(item.Topics, ", "), item.ClusterLabel, preview, item.MessageCount)
	}

	return &mcppkg.CallToolResult{Content: []mcppkg.Content{&mcppkg.TextContent{Text: b.String()}}}, nil, nil
}

// --- fetch_chat --------------------------------------------------------

type fetchChatInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"the conversation id to fetch"`
}

func (s *Server) fetchChat(ctx context.Context, _ *mcppkg.CallToolRequest, in fetchChatInput) (*mcppkg.CallToolResult, any, error) {
	conv, messages, _, err := s.Store.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return nil, nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Chat ID: %s\nTitle: %s\nSummary: %s\nTopics: %s\nCluster: %s\nMessages: %d\nCreated: %s\n\n",
		conv.ID, conv.Title, conv.Summary, strings.Join(conv.Topics, ", "), conv.ClusterLabel, conv.MessageCount, conv.CreatedAt.Format(time.RFC3339))

	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s: %s\n", strconv.Itoa(m.Sequence), m.Role, m.Content)
	}

	return &mcppkg.CallToolResult{Content: []mcppkg.Content{&mcppkg.TextContent{Text: b.String()}}}, nil, nil
}
