package reader

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/liseuse/kit"
)

// RegisterMCP registers the annotation tools on an MCP server.
func (m *Manager) RegisterMCP(srv *mcp.Server) {
	e := m.Endpoints()

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "liseuse_annotations",
		Description: "List the highlights and notes stored for a library document.",
		InputSchema: inputSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "Library-relative document path"},
		}, []string{"path"}),
	}, e.Annotations, kit.DecodeArgs[PathRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "liseuse_annotation_delete",
		Description: "Delete one annotation of a document by id.",
		InputSchema: inputSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "Library-relative document path"},
			"id":   map[string]any{"type": "string", "description": "Annotation id"},
		}, []string{"path", "id"}),
	}, e.DeleteAnnotation, kit.DecodeArgs[AnnotationRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "liseuse_annotation_comment",
		Description: "Replace the comment of an annotation. An empty comment clears it.",
		InputSchema: inputSchema(map[string]any{
			"path":    map[string]any{"type": "string", "description": "Library-relative document path"},
			"id":      map[string]any{"type": "string", "description": "Annotation id"},
			"comment": map[string]any{"type": "string", "description": "New comment text"},
		}, []string{"path", "id"}),
	}, e.UpdateComment, kit.DecodeArgs[AnnotationRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "liseuse_export",
		Description: "Export the annotations of a document as a markdown digest of the highlighted passages and comments.",
		InputSchema: inputSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "Library-relative document path"},
		}, []string{"path"}),
	}, e.Export, kit.DecodeArgs[PathRequest])
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
