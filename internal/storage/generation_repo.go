package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_generation_store.go -package=mocks rollgen/internal/storage GenerationStore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")
)

// GenerationStore defines the interface for generation record storage.
type GenerationStore interface {
	// Insert stores a finished generation. If gen.ID is empty a new UUID
	// is assigned and written back.
	Insert(ctx context.Context, gen *Generation) error
	// Get returns a generation by ID. Returns nil and ErrNotFound if not found.
	Get(ctx context.Context, id string) (*Generation, error)
	// List returns the most recent generations, newest first, up to limit.
	List(ctx context.Context, limit int) ([]Generation, error)
}

// GenerationRepo provides methods for generation record operations.
// It implements the GenerationStore interface.
type GenerationRepo struct {
	db *sql.DB
}

// NewGenerationRepo creates a new GenerationRepo.
func NewGenerationRepo(db *sql.DB) *GenerationRepo {
	return &GenerationRepo{db: db}
}

// Insert stores a finished generation.
func (r *GenerationRepo) Insert(ctx context.Context, gen *Generation) error {
	if gen.ID == "" {
		gen.ID = uuid.New().String()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO generations (id, prompt, model, calls, text, created_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		gen.ID, gen.Prompt, gen.Model, gen.Calls, gen.Text,
	)
	if err != nil {
		return fmt.Errorf("failed to insert generation: %w", err)
	}

	return nil
}

// Get returns a generation by ID.
// Returns nil and ErrNotFound if not found.
func (r *GenerationRepo) Get(ctx context.Context, id string) (*Generation, error) {
	var gen Generation
	var createdAtStr string

	err := r.db.QueryRowContext(ctx,
		"SELECT id, prompt, model, calls, text, created_at FROM generations WHERE id = ?",
		id,
	).Scan(&gen.ID, &gen.Prompt, &gen.Model, &gen.Calls, &gen.Text, &createdAtStr)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query generation: %w", err)
	}

	gen.CreatedAt, err = parseTimestamp(createdAtStr)
	if err != nil {
		return nil, err
	}

	return &gen, nil
}

// List returns the most recent generations, newest first.
func (r *GenerationRepo) List(ctx context.Context, limit int) ([]Generation, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT id, prompt, model, calls, text, created_at FROM generations ORDER BY created_at DESC, id LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var gens []Generation
	for rows.Next() {
		var gen Generation
		var createdAtStr string
		if err := rows.Scan(&gen.ID, &gen.Prompt, &gen.Model, &gen.Calls, &gen.Text, &createdAtStr); err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		gen.CreatedAt, err = parseTimestamp(createdAtStr)
		if err != nil {
			return nil, err
		}
		gens = append(gens, gen)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate generations: %w", err)
	}

	return gens, nil
}

// parseTimestamp parses a SQLite DATETIME column value.
func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse("2006-01-02 15:04:05", s)
	if err == nil {
		return ts, nil
	}
	// Try alternative format (SQLite might use different format)
	ts, err = time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse created_at timestamp: %w", err)
	}
	return ts, nil
}
