package http

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"rollgen/internal/handlers"
	"rollgen/internal/roller"
	"rollgen/internal/storage"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	Roller   roller.Service
	Store    storage.GenerationStore
	DB       *sql.DB
	Model    string
	Defaults handlers.TaskDefaults
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	// Add chi middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(LoggerMiddleware)
	r.Use(CORS)

	generateHandler := handlers.NewGenerateHandler(deps.Roller, deps.Store, deps.Model, deps.Defaults)
	generationHandler := handlers.NewGenerationHandler(deps.Store)
	healthHandler := handlers.NewHealthHandler(deps.DB)

	// Register API routes
	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodPost, "/generate", generateHandler)
		r.Get("/generations", generationHandler.List)
		r.Get("/generations/{id}", generationHandler.Get)
		r.Get("/generations/{id}/html", generationHandler.HTML)
		r.Method(http.MethodGet, "/health", healthHandler)
	})

	return r
}
