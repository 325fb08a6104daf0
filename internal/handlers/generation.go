package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	ghhtml "github.com/yuin/goldmark/renderer/html"

	"rollgen/internal/contextutil"
	"rollgen/internal/storage"
)

// GenerationHandler serves stored generation records, including an HTML
// rendering of the long-form output for reading in a browser.
type GenerationHandler struct {
	store    storage.GenerationStore
	markdown goldmark.Markdown
	template *template.Template
}

// generationPageData holds template data for rendered generation pages.
type generationPageData struct {
	ID      string
	Prompt  string
	Model   string
	Calls   int
	Created string
	Content template.HTML
}

// NewGenerationHandler creates a new handler for stored generations.
func NewGenerationHandler(store storage.GenerationStore) *GenerationHandler {
	tmpl := template.Must(template.New("generation").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Prompt}}</title>
  <style>
    body { max-width: 48rem; margin: 2rem auto; padding: 0 1rem; font-family: system-ui, sans-serif; line-height: 1.6; }
    .meta { color: #666; font-size: 0.85rem; border-bottom: 1px solid #ddd; padding-bottom: 0.5rem; }
    pre { background: #f6f8fa; padding: 0.75rem; overflow-x: auto; }
  </style>
</head>
<body>
  <div class="meta">{{.Model}} · {{.Calls}} calls · {{.Created}}</div>
  {{.Content}}
</body>
</html>`))

	return &GenerationHandler{
		store: store,
		markdown: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.Table,
				extension.TaskList,
				extension.Strikethrough,
				extension.Linkify,
				extension.Typographer,
			),
			goldmark.WithRendererOptions(
				ghhtml.WithUnsafe(),
			),
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
		),
		template: tmpl,
	}
}

// GenerationSummary is a list entry for stored generations. The full text
// is omitted; fetch a single record for it.
type GenerationSummary struct {
	ID        string `json:"id"`
	Prompt    string `json:"prompt"`
	Model     string `json:"model"`
	Calls     int    `json:"calls"`
	Length    int    `json:"length"`
	CreatedAt string `json:"created_at"`
}

// List returns recent generations as JSON.
func (h *GenerationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	gens, err := h.store.List(ctx, limit)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list generations", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to list generations")
		return
	}

	summaries := make([]GenerationSummary, 0, len(gens))
	for _, g := range gens {
		summaries = append(summaries, GenerationSummary{
			ID:        g.ID,
			Prompt:    g.Prompt,
			Model:     g.Model,
			Calls:     g.Calls,
			Length:    len(g.Text),
			CreatedAt: g.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summaries); err != nil {
		logger.ErrorContext(ctx, "failed to encode generation list", "error", err)
	}
}

// Get returns one generation, including its full text, as JSON.
func (h *GenerationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	gen, ok := h.fetch(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(struct {
		GenerationSummary
		Text string `json:"text"`
	}{
		GenerationSummary: GenerationSummary{
			ID:        gen.ID,
			Prompt:    gen.Prompt,
			Model:     gen.Model,
			Calls:     gen.Calls,
			Length:    len(gen.Text),
			CreatedAt: gen.CreatedAt.UTC().Format(time.RFC3339),
		},
		Text: gen.Text,
	}); err != nil {
		logger.ErrorContext(ctx, "failed to encode generation", "error", err)
	}
}

// HTML renders the generation's text as a standalone HTML page. Long-form
// model output is usually markdown, so it is rendered as such.
func (h *GenerationHandler) HTML(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	gen, ok := h.fetch(w, r)
	if !ok {
		return
	}

	var rendered bytes.Buffer
	if err := h.markdown.Convert([]byte(gen.Text), &rendered); err != nil {
		logger.ErrorContext(ctx, "failed to render markdown", "id", gen.ID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to render generation")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.template.Execute(w, generationPageData{
		ID:      gen.ID,
		Prompt:  gen.Prompt,
		Model:   gen.Model,
		Calls:   gen.Calls,
		Created: gen.CreatedAt.UTC().Format(time.RFC3339),
		Content: template.HTML(rendered.String()),
	}); err != nil {
		logger.ErrorContext(ctx, "failed to execute template", "id", gen.ID, "error", err)
	}
}

// fetch loads the record named by the {id} URL param, writing the error
// response itself when the lookup fails.
func (h *GenerationHandler) fetch(w http.ResponseWriter, r *http.Request) (*storage.Generation, bool) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "Missing generation ID")
		return nil, false
	}

	gen, err := h.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "Generation not found")
			return nil, false
		}
		logger.ErrorContext(ctx, "failed to load generation", "id", id, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to load generation")
		return nil, false
	}

	return gen, true
}

// writeJSONError writes an error response.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: message,
	})
}
