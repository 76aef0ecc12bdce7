package api

// PromptRequest is the JSON body for POST /prompt
type PromptRequest struct {
	Prompt string `json:"prompt"`
}

// RunRequest is the JSON body for POST /run
type RunRequest struct {
	Command string `json:"command"`
}

// SubmitResponse is returned by POST /response
type SubmitResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
	PendingCalls  int    `json:"pending_calls"`
	HistoryOn     bool   `json:"history_enabled"`

	// Event stream health; a growing drop count means a monitor is lagging.
	EventSubscribers int    `json:"event_subscribers"`
	EventsDropped    uint64 `json:"events_dropped"`
}
