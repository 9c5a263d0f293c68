package backend

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

// RegisterMCP wires every resource, resource template, registered
// tool, and prompt onto an MCP server, following the registration
// style of null-runner-mcp-gateway's pkg/gateway (AddTool/AddResource/
// AddResourceTemplate/AddPrompt called once per catalog entry, with
// closures capturing the Bridge).
func (b *Bridge) RegisterMCP(server *mcp.Server) {
	handler := b.readResourceHandler()
	for _, r := range literalResources {
		server.AddResource(&mcp.Resource{
			URI: r.URI, Name: r.Name, Description: r.Description, MIMEType: r.MIMEType,
		}, handler)
	}
	for _, t := range resourceTemplates {
		server.AddResourceTemplate(&mcp.ResourceTemplate{
			URITemplate: t.URITemplate, Name: t.Name, Description: t.Description, MIMEType: t.MIMEType,
		}, handler)
	}

	for name := range b.tools {
		server.AddTool(&mcp.Tool{
			Name:        name,
			Description: "Loxone gateway tool: " + name,
			InputSchema: freeformObjectSchema(),
		}, b.toolHandler(name))
	}

	for _, p := range b.ListPrompts() {
		server.AddPrompt(&mcp.Prompt{Name: p.Name, Description: p.Description}, b.promptHandler(p.Name))
	}
}

// freeformObjectSchema describes an object with no fixed shape. Each
// tool adapter validates its own parameters against the domain
// package's input-validation helpers (ValidUUID, ValidAction, …)
// rather than against a per-tool JSON schema, so the MCP-level schema
// only needs to admit "an object".
func freeformObjectSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object"}
}

func (b *Bridge) readResourceHandler() mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		value, err := b.ReadResource(ctx, req.Params.URI)
		if err != nil {
			return nil, err
		}
		body, err := json.Marshal(value)
		if err != nil {
			return nil, domain.WrapError(domain.KindSerialization, "encode resource", err)
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{URI: req.Params.URI, MIMEType: "application/json", Text: string(body)},
			},
		}, nil
	}
}

func (b *Bridge) toolHandler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var params map[string]any
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &params); err != nil {
				return &mcp.CallToolResult{
					IsError: true,
					Content: []mcp.Content{&mcp.TextContent{Text: "decode arguments: " + err.Error()}},
				}, nil
			}
		}
		result, err := b.CallTool(ctx, name, params)
		if err != nil {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
			}, nil
		}
		body, err := json.Marshal(result)
		if err != nil {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: "encode result: " + err.Error()}},
			}, nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(body)}}}, nil
	}
}

func (b *Bridge) promptHandler(name string) mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		result, err := b.GetPrompt(name, req.Params.Arguments)
		if err != nil {
			return nil, err
		}
		messages := make([]*mcp.PromptMessage, len(result.Messages))
		for i, m := range result.Messages {
			messages[i] = &mcp.PromptMessage{Role: m.Role, Content: &mcp.TextContent{Text: m.Text}}
		}
		return &mcp.GetPromptResult{Description: result.Description, Messages: messages}, nil
	}
}
