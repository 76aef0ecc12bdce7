package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/studiobridge/internal/dispatch"
	"github.com/mattjoyce/studiobridge/internal/history"
	"github.com/mattjoyce/studiobridge/internal/protocol"
)

// handleRequest handles GET /request, the plugin's long poll.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	call, err := s.bridge.Pickup(r.Context())
	switch {
	case err == nil:
	case errors.Is(err, dispatch.ErrPollTimeout):
		w.WriteHeader(http.StatusAccepted)
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Plugin hung up mid-poll; nobody is left to answer.
		return
	default:
		s.logger.Error("pickup failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := protocol.EncodeToolCall(&buf, call); err != nil {
		// The call was already popped; the caller stays blocked until it gives up.
		s.logger.Error("failed to encode tool call", "call_id", call.ID.String(), "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to encode tool call")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleResponse handles POST /response, the plugin's result submission.
func (s *Server) handleResponse(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	res, err := protocol.DecodeResult(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	delivery, err := s.bridge.Submit(*res)
	if errors.Is(err, dispatch.ErrUnknownID) {
		s.logger.Error("response for unknown id", "call_id", res.ID.String())
		s.writeError(w, http.StatusNotFound, "unknown id")
		return
	}
	if err != nil {
		s.logger.Error("submit failed", "call_id", res.ID.String(), "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, SubmitResponse{Status: delivery.String()})
}

// handlePrompt handles POST /prompt.
func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req PromptRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		s.writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	answer, err := s.prompter.Prompt(r.Context(), req.Prompt)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondText(w, http.StatusOK, answer)
}

// handleRun handles POST /run, a direct bridge call with caller supplied code.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		s.writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	out, err := s.prompter.Run(r.Context(), req.Command)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondText(w, http.StatusOK, out)
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats := s.bridge.Stats()
	status := "ok"
	if stats.Closed {
		status = "closing"
	}
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        status,
		Version:       s.config.Version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    stats.QueueDepth,
		PendingCalls:  stats.PendingCalls,
		HistoryOn:     s.history != nil,

		EventSubscribers: s.events.Subscribers(),
		EventsDropped:    s.events.Dropped(),
	})
}

// handleHistory handles GET /history?limit=N.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := history.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	if s.history == nil {
		respondJSON(w, http.StatusOK, []history.Entry{})
		return
	}
	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// decodeBody reads a JSON request body into v, writing a 400 on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			s.writeError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func respondText(w http.ResponseWriter, statusCode int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = io.WriteString(w, body)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
