package heapview

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/heapview/idgen"
	"github.com/hazyhaar/heapview/kit"
)

// RegisterMCP registers the heapview tools on an MCP server. Tool names
// are prefixed with "heapview_".
func (p *Profiler) RegisterMCP(srv *mcp.Server) {
	for _, op := range p.operations() {
		p.registerTool(srv, op)
	}
}

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

func (p *Profiler) registerTool(srv *mcp.Server, op operation) {
	name := "heapview_" + op.name
	tool := &mcp.Tool{
		Name:        name,
		Description: op.description,
		InputSchema: inputSchema(op.props, op.required),
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		r := op.newReq()
		if err := kit.DecodeArgs(req, r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: r, EnrichCtx: enrich(r)}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(p.logger, name)(op.endpoint), decode)
}

// enrich tags the call context with a request id and the targeted session.
func enrich(req any) func(context.Context) context.Context {
	return func(ctx context.Context) context.Context {
		ctx = kit.WithRequestID(ctx, idgen.Request())
		if t, ok := req.(sessionTarget); ok && t.sessionUID() != 0 {
			ctx = kit.WithSessionUID(ctx, t.sessionUID())
		}
		return ctx
	}
}
