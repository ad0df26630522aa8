package ports

import (
	"context"
	"encoding/json"
)

// ToolInvoker is what an external JSON-RPC front end needs to run a
// named tool against the core: fetch_url, fetch_batch, check_status,
// robots_check, sitemap_parse, cache_management, and the pass-through
// stubs for the extraction/analysis concerns §1 scopes outside the core.
type ToolInvoker interface {
	Invoke(ctx context.Context, toolName string, args json.RawMessage) (json.RawMessage, error)
}

// ResourceReader is what an external JSON-RPC front end needs to read
// an introspection resource by URI: cache://stats,
// metrics://performance, config://current.
type ResourceReader interface {
	Read(ctx context.Context, uri string) (json.RawMessage, error)
}
