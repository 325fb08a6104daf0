package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"rollgen/internal/contextutil"
	"rollgen/internal/roller"
	"rollgen/internal/storage"
)

// TaskDefaults are applied to generation request fields left unset.
type TaskDefaults struct {
	MaxTokensPerCall int
	StopMarker       string
	MaxCalls         int
}

// GenerateHandler handles HTTP requests for long-form generation.
type GenerateHandler struct {
	roller   roller.Service
	store    storage.GenerationStore
	model    string
	defaults TaskDefaults
}

// NewGenerateHandler creates a new GenerateHandler.
func NewGenerateHandler(svc roller.Service, store storage.GenerationStore, model string, defaults TaskDefaults) *GenerateHandler {
	return &GenerateHandler{
		roller:   svc,
		store:    store,
		model:    model,
		defaults: defaults,
	}
}

// GenerateRequest represents the HTTP request payload for generation.
type GenerateRequest struct {
	Prompt              string `json:"prompt"`
	MaxTokens           int    `json:"max_tokens"`
	StopMarker          string `json:"stop_marker"`
	ContinueInstruction string `json:"continue_instruction"`
	// MaxCalls is a pointer so an explicit 0 (unbounded) can be told apart
	// from an absent field, which takes the server default.
	MaxCalls *int `json:"max_calls"`
}

// GenerateResponse represents the HTTP response payload for generation.
type GenerateResponse struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Calls int    `json:"calls"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// taskConfig builds the controller config from the request plus server defaults.
func (h *GenerateHandler) taskConfig(req GenerateRequest) roller.TaskConfig {
	cfg := roller.TaskConfig{
		Prompt:              req.Prompt,
		MaxTokensPerCall:    req.MaxTokens,
		StopMarker:          req.StopMarker,
		ContinueInstruction: req.ContinueInstruction,
		MaxCalls:            h.defaults.MaxCalls,
	}
	if cfg.MaxTokensPerCall == 0 {
		cfg.MaxTokensPerCall = h.defaults.MaxTokensPerCall
	}
	if cfg.StopMarker == "" {
		cfg.StopMarker = h.defaults.StopMarker
	}
	if req.MaxCalls != nil {
		cfg.MaxCalls = *req.MaxCalls
	}
	return cfg
}

// ServeHTTP handles HTTP requests for generation.
func (h *GenerateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Check if streaming is requested
	stream := r.URL.Query().Get("stream") == "true"

	if stream {
		h.handleStreaming(w, r)
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.roller.Generate(ctx, h.taskConfig(req))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	id := h.record(r, req.Prompt, res)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(GenerateResponse{
		ID:    id,
		Text:  res.Text,
		Calls: res.Calls,
	}); err != nil {
		logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// handleStreaming streams fragments to the client as Server-Sent Events.
func (h *GenerateHandler) handleStreaming(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body for streaming", "error", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.ErrorContext(ctx, "streaming not supported by response writer")
		h.writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	// Set up Server-Sent Events headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	res, err := h.roller.GenerateStream(ctx, h.taskConfig(req), func(fragment string) error {
		if err := writeSSEData(w, fragment); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		logger.ErrorContext(ctx, "error streaming generation", "error", err)
		// Headers are already sent; deliver the error as an SSE event
		_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
		flusher.Flush()
		return
	}

	id := h.record(r, req.Prompt, res)

	_, _ = fmt.Fprintf(w, "event: result\ndata: {\"id\":%q,\"calls\":%d}\n\n", id, res.Calls)
	_, _ = fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// writeSSEData writes one SSE data event. A fragment containing newlines
// becomes one "data:" line per text line; SSE clients rejoin them with
// newlines, so line breaks inside fragments survive the wire format.
func writeSSEData(w io.Writer, fragment string) error {
	for _, line := range strings.Split(fragment, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}

// record stores the finished generation. Storage failure does not fail the
// request; the generated text is already in hand and is still returned.
func (h *GenerateHandler) record(r *http.Request, prompt string, res roller.Result) string {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	gen := &storage.Generation{
		Prompt: prompt,
		Model:  h.model,
		Calls:  res.Calls,
		Text:   res.Text,
	}
	if err := h.store.Insert(ctx, gen); err != nil {
		logger.ErrorContext(ctx, "failed to store generation", "error", err)
		return ""
	}

	logger.InfoContext(ctx, "generation stored", "id", gen.ID, "calls", res.Calls, "length", len(res.Text))
	return gen.ID
}

// handleServiceError maps controller errors to HTTP status codes.
func (h *GenerateHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := contextutil.LoggerFromContext(r.Context())
	logger.ErrorContext(r.Context(), "generation failed", "error", err)

	var validationErr *roller.ValidationError
	if errors.As(err, &validationErr) {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Validation error: %s", validationErr.Error()))
		return
	}

	var limitErr *roller.LimitError
	if errors.As(err, &limitErr) {
		h.writeError(w, http.StatusUnprocessableEntity, limitErr.Error())
		return
	}

	var gatewayErr *roller.GatewayError
	if errors.As(err, &gatewayErr) {
		h.writeError(w, http.StatusBadGateway, "Model gateway error")
		return
	}

	h.writeError(w, http.StatusInternalServerError, "Failed to process generation request")
}

// writeError writes an error response.
func (h *GenerateHandler) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: message,
	})
}
