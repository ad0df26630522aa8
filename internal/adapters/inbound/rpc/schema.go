// Package rpc implements ports.ToolInvoker and ports.ResourceReader
// against the core engine: the two capabilities an external JSON-RPC
// 2.0 front end needs (tools/call, resources/read) plus the schema
// listings (tools/list, resources/list) a front end discovers them
// with.
package rpc

// ToolSchema describes one tool for a tools/list response.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ResourceSchema describes one resource for a resources/list response.
type ResourceSchema struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MIMEType    string `json:"mimeType"`
}

// ToolSchemas lists the schemas tools/list returns. fetch_url,
// fetch_batch, check_status, robots_check, sitemap_parse, and
// cache_management are fully implemented against the engine.
// extract_links and content_analyze remain thin pass-through stubs:
// §1 names HTML/metadata extraction and content decompression as
// out-of-scope external collaborators, unlike robots.txt compliance
// and sitemap parsing, which §1/§2 list as in-scope behavior. Their
// schemas exist for discovery but Invoke returns a NotImplemented
// error naming the external collaborator that owns the behavior.
func ToolSchemas() []ToolSchema {
	return []ToolSchema{
		{
			Name:        "fetch_url",
			Description: "Fetch a single URL through admission, cache, dedup, scheduling, rate limiting, and the circuit-breaker-guarded connection pool.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url":             map[string]any{"type": "string"},
					"method":          map[string]any{"type": "string", "default": "GET"},
					"headers":         map[string]any{"type": "object"},
					"body":            map[string]any{"type": "string"},
					"timeout_seconds": map[string]any{"type": "number"},
					"priority":        map[string]any{"type": "string", "enum": []string{"low", "normal", "high"}},
				},
				"required": []string{"url"},
			},
		},
		{
			Name:        "fetch_batch",
			Description: "Fetch multiple URLs concurrently, replaying a cached result set when called again with the same Idempotency-Key.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"requests":        map[string]any{"type": "array"},
					"idempotency_key": map[string]any{"type": "string"},
				},
				"required": []string{"requests"},
			},
		},
		{
			Name:        "check_status",
			Description: "Report liveness, readiness, and full health status for the running engine.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"level": map[string]any{"type": "string", "enum": []string{"liveness", "readiness", "health"}, "default": "health"},
				},
			},
		},
		{
			Name:        "robots_check",
			Description: "Fetch /robots.txt for a URL's host and report whether that URL is allowed for a given user agent.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url":   map[string]any{"type": "string"},
					"agent": map[string]any{"type": "string", "default": "*"},
				},
				"required": []string{"url"},
			},
		},
		{
			Name:        "sitemap_parse",
			Description: "Fetch and decode a sitemap.xml (urlset) or sitemap index into its constituent URLs.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"url": map[string]any{"type": "string"}},
				"required":   []string{"url"},
			},
		},
		{Name: "extract_links", Description: "Not implemented by the core; owned by an external HTML-parsing collaborator.", InputSchema: map[string]any{"type": "object"}},
		{Name: "content_analyze", Description: "Not implemented by the core; owned by an external content-analysis collaborator.", InputSchema: map[string]any{"type": "object"}},
		{
			Name:        "cache_management",
			Description: "Administrative cache actions. Only action=\"purge\" is implemented, evicting the GET-fingerprint cache entry for the given url.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action": map[string]any{"type": "string", "enum": []string{"purge"}},
					"url":    map[string]any{"type": "string"},
				},
				"required": []string{"action", "url"},
			},
		},
	}
}

// ResourceSchemas lists the schemas resources/list returns.
func ResourceSchemas() []ResourceSchema {
	return []ResourceSchema{
		{URI: "cache://stats", Name: "Cache statistics", Description: "ARC resident/ghost list sizes, adaptive p, hit/miss counters.", MIMEType: "application/json"},
		{URI: "metrics://performance", Name: "Performance metrics", Description: "Scheduler queue depth and worker occupancy.", MIMEType: "application/json"},
		{URI: "config://current", Name: "Current configuration", Description: "The running ServiceConfig, as loaded from the environment.", MIMEType: "application/json"},
	}
}
