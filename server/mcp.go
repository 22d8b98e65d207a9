package server

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/samber/lo"

	"github.com/hazyhaar/quickcart/agent"
	"github.com/hazyhaar/quickcart/kit"
	"github.com/hazyhaar/quickcart/notify"
)

// RegisterMCP registers the quickcart tools on srv.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	s.registerListSitesTool(srv)
	s.registerGetQuantityTool(srv)
	s.registerSaveQuantityTool(srv)
	s.registerListQuantitiesTool(srv)
	s.registerAddToCartTool(srv)
	s.registerHistoryTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

type emptyRequest struct{}

func decodeEmpty(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return &kit.MCPDecodeResult{Request: &emptyRequest{}}, nil
}

// --- list_sites ---

func (s *Server) registerListSitesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "quickcart_list_sites",
		Description: "List the retail sites quickcart can add to cart on.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return s.sites(), nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeEmpty)
}

// --- get_quantity ---

type getQuantityRequest struct {
	URL string `json:"url"`
}

func (s *Server) registerGetQuantityTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "quickcart_get_quantity",
		Description: "Get the remembered quantity for a product URL. Unknown URLs return 1.",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Full product page URL"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*getQuantityRequest)
		return s.backend.GetQuantity(ctx, r.URL)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r getQuantityRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		if r.URL == "" {
			return nil, errors.New("url is required")
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- save_quantity ---

type saveQuantityRequest struct {
	URL      string `json:"url"`
	Quantity int    `json:"quantity"`
}

func (s *Server) registerSaveQuantityTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "quickcart_save_quantity",
		Description: "Remember a quantity for a product URL. The value is stored as given.",
		InputSchema: inputSchema(map[string]any{
			"url":      map[string]any{"type": "string", "description": "Full product page URL"},
			"quantity": map[string]any{"type": "integer", "description": "Quantity to remember"},
		}, []string{"url", "quantity"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*saveQuantityRequest)
		return s.backend.SaveQuantity(ctx, r.URL, r.Quantity)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r saveQuantityRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		if r.URL == "" {
			return nil, errors.New("url is required")
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- list_quantities ---

type quantityEntry struct {
	URL      string `json:"url"`
	Quantity int    `json:"quantity"`
}

func (s *Server) registerListQuantitiesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "quickcart_list_quantities",
		Description: "List every remembered URL and quantity, sorted by URL.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		entries := s.backend.Quantities()
		urls := lo.Keys(entries)
		sort.Strings(urls)
		return lo.Map(urls, func(u string, _ int) quantityEntry {
			return quantityEntry{URL: u, Quantity: entries[u].Quantity}
		}), nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeEmpty)
}

// --- add_to_cart ---

func (s *Server) registerAddToCartTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "quickcart_add_to_cart",
		Description: "Open a product page and add it to the cart. Without quantity the remembered one (or 1) is used; a given quantity is clamped to 1..10 and remembered.",
		InputSchema: inputSchema(map[string]any{
			"url":      map[string]any{"type": "string", "description": "Full product page URL"},
			"quantity": map[string]any{"type": "integer", "description": "Quantity, 1 to 10"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*agent.AddRequest)
		return s.backend.AddToCart(ctx, *r, nil)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r agent.AddRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		if r.URL == "" {
			return nil, errors.New("url is required")
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- history ---

type historyRequest struct {
	Site         string `json:"site,omitempty"`
	FailuresOnly bool   `json:"failures_only,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

func (s *Server) registerHistoryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "quickcart_history",
		Description: "List recorded add-to-cart attempts, newest first.",
		InputSchema: inputSchema(map[string]any{
			"site":          map[string]any{"type": "string", "description": "Filter by site name, e.g. \"Best Buy\""},
			"failures_only": map[string]any{"type": "boolean", "description": "Only failed attempts"},
			"limit":         map[string]any{"type": "integer", "description": "Max results (default 50)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*historyRequest)
		return s.backend.History(ctx, notify.HistoryFilter{Site: r.Site, FailuresOnly: r.FailuresOnly, Limit: r.Limit})
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r historyRequest
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
