package http

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/mock/gomock"

	"rollgen/internal/handlers"
	"rollgen/internal/roller"
	rollermocks "rollgen/internal/roller/mocks"
	"rollgen/internal/storage"
	storagemocks "rollgen/internal/storage/mocks"
)

func testDeps(t *testing.T) (*Deps, *rollermocks.MockService, *storagemocks.MockGenerationStore) {
	t.Helper()

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	mockService := rollermocks.NewMockService(ctrl)
	mockStore := storagemocks.NewMockGenerationStore(ctrl)

	db, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return &Deps{
		Roller:   mockService,
		Store:    mockStore,
		DB:       db,
		Model:    "test-model",
		Defaults: handlers.TaskDefaults{MaxTokensPerCall: 100, MaxCalls: 10},
	}, mockService, mockStore
}

func TestNewRouter(t *testing.T) {
	deps, _, _ := testDeps(t)

	router := NewRouter(deps)
	if router == nil {
		t.Fatal("NewRouter() returned nil")
	}
}

func TestRouter_Routes(t *testing.T) {
	deps, mockService, mockStore := testDeps(t)

	mockService.EXPECT().
		Generate(gomock.Any(), gomock.Any()).
		Return(roller.Result{Text: "ok", Calls: 1}, nil).
		AnyTimes()
	mockStore.EXPECT().
		Insert(gomock.Any(), gomock.Any()).
		Return(nil).
		AnyTimes()
	mockStore.EXPECT().
		List(gomock.Any(), gomock.Any()).
		Return([]storage.Generation{}, nil).
		AnyTimes()
	mockStore.EXPECT().
		Get(gomock.Any(), gomock.Any()).
		Return(nil, storage.ErrNotFound).
		AnyTimes()

	router := NewRouter(deps)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{
			name:       "POST /api/generate exists",
			method:     http.MethodPost,
			path:       "/api/generate",
			wantStatus: http.StatusBadRequest, // empty body, but the route exists
		},
		{
			name:       "GET /api/generations",
			method:     http.MethodGet,
			path:       "/api/generations",
			wantStatus: http.StatusOK,
		},
		{
			name:       "GET /api/generations/{id} unknown id",
			method:     http.MethodGet,
			path:       "/api/generations/nope",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "GET /api/generations/{id}/html unknown id",
			method:     http.MethodGet,
			path:       "/api/generations/nope/html",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "GET /api/health",
			method:     http.MethodGet,
			path:       "/api/health",
			wantStatus: http.StatusOK,
		},
		{
			name:       "unknown route",
			method:     http.MethodGet,
			path:       "/api/nothing",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}
