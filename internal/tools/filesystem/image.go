package filesystem

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
	"github.com/ChamsBouzaiene/cofounder/internal/sandbox"
)

const maxImageBytes = 5 << 20

var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// NewViewImageTool returns an image from the workspace as a multimodal
// result so the model can look at screenshots and assets.
func NewViewImageTool(sb sandbox.Sandbox) engine.Tool {
	return engine.Tool{
		Name:        "view_image",
		Description: "Shows you an image file from the workspace (png, jpg, gif, webp), for example a screenshot of the running app.",
		SchemaJSON: `{"type":"object","properties":{
			"path":{"type":"string","description":"Image path relative to the project root"}
		},"required":["path"]}`,
		ReadOnly: true,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			path := stringArg(args, "path")
			data, err := sb.ReadFile(ctx, path)
			if err != nil {
				return engine.ToolOutput{}, err
			}
			if len(data) > maxImageBytes {
				return engine.ToolOutput{}, engine.NewToolError("ValueError", "%s is %d bytes; images over %d bytes are not supported", path, len(data), maxImageBytes)
			}
			mediaType, ok := imageTypes[strings.ToLower(filepath.Ext(path))]
			if !ok {
				mediaType = http.DetectContentType(data)
			}
			if !strings.HasPrefix(mediaType, "image/") || mediaType == "image/svg+xml" {
				return engine.ToolOutput{}, engine.NewToolError("ValueError", "%s is not a supported image (%s)", path, mediaType)
			}
			return engine.ToolOutput{Blocks: []engine.ContentBlock{
				{Type: "text", Text: fmt.Sprintf("Image %s (%s, %d bytes)", path, mediaType, len(data))},
				{Type: "image", MediaType: mediaType, Data: base64.StdEncoding.EncodeToString(data)},
			}}, nil
		},
	}
}
