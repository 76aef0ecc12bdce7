package api

import (
	"net/http"
)

// route describes one endpoint for the OpenAPI document.
type route struct {
	method      string
	path        string
	operationID string
	summary     string
	tag         string
	body        map[string]any
	query       map[string]string // name -> JSON schema type
	responses   map[string]string
}

func objectSchema(required string, props map[string]any) map[string]any {
	return map[string]any{
		"type":       "object",
		"required":   []string{required},
		"properties": props,
	}
}

var routes = []route{
	{
		method: "get", path: "/request", operationID: "pickup", tag: "plugin",
		summary: "Long poll for the next tool call",
		responses: map[string]string{
			"200": "Tool call for the plugin to run",
			"202": "Nothing queued before the poll timeout",
			"500": "Dispatcher closed",
		},
	},
	{
		method: "post", path: "/response", operationID: "submit", tag: "plugin",
		summary: "Post the output of a tool call",
		body: map[string]any{
			"type":     "object",
			"required": []string{"id", "response"},
			"properties": map[string]any{
				"id":       map[string]any{"type": "string", "format": "uuid"},
				"response": map[string]any{"type": "string"},
			},
		},
		responses: map[string]string{
			"200": "Delivered or dropped",
			"400": "Malformed result",
			"404": "Unknown id",
		},
	},
	{
		method: "post", path: "/prompt", operationID: "prompt", tag: "callers",
		summary: "Generate Luau for a prompt and run it in Studio",
		body:    objectSchema("prompt", map[string]any{"prompt": map[string]any{"type": "string"}}),
		responses: map[string]string{
			"200": "Generated text, with Studio output when code ran",
			"400": "Empty prompt",
			"500": "Generation or Studio failure",
		},
	},
	{
		method: "post", path: "/run", operationID: "run", tag: "callers",
		summary: "Run Luau in Studio",
		body:    objectSchema("command", map[string]any{"command": map[string]any{"type": "string"}}),
		responses: map[string]string{
			"200": "Studio output",
			"400": "Empty command",
			"500": "Studio failure",
		},
	},
	{
		method: "get", path: "/healthz", operationID: "healthz", tag: "ops",
		summary:   "Queue depth and pending calls",
		responses: map[string]string{"200": "Health report"},
	},
	{
		method: "get", path: "/history", operationID: "history", tag: "ops",
		summary: "Recent prompt and run requests",
		query:   map[string]string{"limit": "integer"},
		responses: map[string]string{
			"200": "History entries, newest first",
			"400": "Bad limit",
		},
	},
	{
		method: "get", path: "/events", operationID: "events", tag: "ops",
		summary:   "Server-sent event stream, optionally limited to a type prefix",
		query:     map[string]string{"type": "string"},
		responses: map[string]string{"200": "text/event-stream"},
	},
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the bridge endpoints.
func buildOpenAPIDoc(version string) map[string]any {
	if version == "" {
		version = "dev"
	}
	paths := map[string]any{}
	for _, rt := range routes {
		responses := map[string]any{}
		for code, desc := range rt.responses {
			responses[code] = map[string]any{"description": desc}
		}
		op := map[string]any{
			"operationId": rt.operationID,
			"summary":     rt.summary,
			"tags":        []string{rt.tag},
			"responses":   responses,
		}
		if rt.body != nil {
			op["requestBody"] = map[string]any{
				"required": true,
				"content": map[string]any{
					"application/json": map[string]any{"schema": rt.body},
				},
			}
		}
		if len(rt.query) > 0 {
			params := make([]any, 0, len(rt.query))
			for name, typ := range rt.query {
				params = append(params, map[string]any{
					"name":   name,
					"in":     "query",
					"schema": map[string]any{"type": typ},
				})
			}
			op["parameters"] = params
		}
		item, _ := paths[rt.path].(map[string]any)
		if item == nil {
			item = map[string]any{}
			paths[rt.path] = item
		}
		item[rt.method] = op
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "studiobridge",
			"version": version,
		},
		"paths": paths,
	}
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.config.Version))
}
