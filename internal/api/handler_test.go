package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/packs-optimizer/internal/calculator"
	"github.com/eugenenazirov/packs-optimizer/internal/catalog"
	"github.com/eugenenazirov/packs-optimizer/internal/service"
	"github.com/eugenenazirov/packs-optimizer/internal/storage"
)

type controllableClock struct {
	mu  sync.RWMutex
	now time.Time
}

func newControllableClock(initial time.Time) *controllableClock {
	return &controllableClock{now: initial}
}

func (c *controllableClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *controllableClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	router http.Handler
	clock  *controllableClock
	store  *storage.MemoryStorage
}

func setupTestRouter(t *testing.T, seed []int, opts ...RouterOption) testEnv {
	t.Helper()

	logger := zaptest.NewLogger(t)
	store := storage.NewMemoryStorage()
	clock := newControllableClock(time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC))

	cat := catalog.New(store, logger, catalog.WithClock(clock.Now))
	if err := cat.Bootstrap(context.Background(), seed); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	svc := service.New(cat, calculator.New(), logger, service.WithPinger(store))

	handler := NewHandler(svc, logger, WithClock(clock.Now))
	opts = append([]RouterOption{WithLogging(false), WithRateLimit(0, 0)}, opts...)
	return testEnv{
		router: NewRouter(handler, logger, opts...),
		clock:  clock,
		store:  store,
	}
}

func (e testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details"`
}

type calculateBody struct {
	Items      int            `json:"items"`
	Packs      map[string]int `json:"packs"`
	TotalPacks int            `json:"totalPacks"`
	TotalItems int            `json:"totalItems"`
	Overage    int            `json:"overage"`
	Cached     bool           `json:"cached"`
}

func TestRequestIDHelpers(t *testing.T) {
	ctx := contextWithRequestID(context.Background(), "abc")
	if got := requestIDFromContext(ctx); got != "abc" {
		t.Fatalf("expected abc, got %s", got)
	}
	if got := requestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty request id, got %s", got)
	}

	resp := httptest.NewRecorder()
	writeInternalError(resp)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.Code)
	}
	if body := decodeBody[errorBody](t, resp); body.Code != codeInternal {
		t.Fatalf("expected internal code, got %q", body.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestRouter(t, storage.DefaultPackSizes())

	rec := env.do(t, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	body := decodeBody[struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}](t, rec)
	if body.Status != "ok" {
		t.Fatalf("expected status ok, got %s", body.Status)
	}
	if !body.Timestamp.Equal(env.clock.Now()) {
		t.Fatalf("expected timestamp %s, got %s", env.clock.Now(), body.Timestamp)
	}
}

func TestReadyEndpoint(t *testing.T) {
	ready := setupTestRouter(t, storage.DefaultPackSizes())
	if rec := ready.do(t, http.MethodGet, "/api/ready", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	unconfigured := setupTestRouter(t, nil)
	rec := unconfigured.do(t, http.MethodGet, "/api/ready", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 without a catalog, got %d", rec.Code)
	}
	body := decodeBody[struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}](t, rec)
	if body.Status != "not_ready" || body.Reason == "" {
		t.Fatalf("unexpected readiness body %+v", body)
	}
}

func TestGetPackSizesReturnsSeed(t *testing.T) {
	env := setupTestRouter(t, storage.DefaultPackSizes())

	rec := env.do(t, http.MethodGet, "/api/pack-sizes", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	body := decodeBody[struct {
		PackSizes []int     `json:"packSizes"`
		UpdatedAt time.Time `json:"updatedAt"`
		Version   uint64    `json:"version"`
	}](t, rec)

	if diff := cmp.Diff(storage.DefaultPackSizes(), body.PackSizes); diff != "" {
		t.Fatalf("pack sizes mismatch (-want +got):\n%s", diff)
	}
	if !body.UpdatedAt.Equal(env.clock.Now()) {
		t.Fatalf("expected updatedAt %s, got %s", env.clock.Now(), body.UpdatedAt)
	}
	if body.Version != 1 {
		t.Fatalf("expected version 1, got %d", body.Version)
	}
}

func TestGetPackSizesEmptyCatalog(t *testing.T) {
	env := setupTestRouter(t, nil)

	rec := env.do(t, http.MethodGet, "/api/pack-sizes", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"packSizes":[]`) {
		t.Fatalf("expected empty array, got %s", rec.Body.String())
	}
}

func TestPutPackSizesUpdatesCatalog(t *testing.T) {
	env := setupTestRouter(t, storage.DefaultPackSizes())
	env.clock.Advance(time.Hour)

	rec := env.do(t, http.MethodPut, "/api/pack-sizes", `{"packSizes":[53,23,31,23]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody[struct {
		PackSizes []int     `json:"packSizes"`
		UpdatedAt time.Time `json:"updatedAt"`
		Version   uint64    `json:"version"`
		Message   string    `json:"message"`
	}](t, rec)

	if body.Message == "" {
		t.Fatalf("expected success message, got empty string")
	}
	if diff := cmp.Diff([]int{23, 31, 53}, body.PackSizes); diff != "" {
		t.Fatalf("pack sizes mismatch (-want +got):\n%s", diff)
	}
	if !body.UpdatedAt.Equal(env.clock.Now()) {
		t.Fatalf("expected updatedAt %s, got %s", env.clock.Now(), body.UpdatedAt)
	}
	if body.Version != 2 {
		t.Fatalf("expected version 2, got %d", body.Version)
	}

	persisted, err := env.store.GetPackSizes(context.Background())
	if err != nil {
		t.Fatalf("GetPackSizes: %v", err)
	}
	if diff := cmp.Diff([]int{23, 31, 53}, persisted); diff != "" {
		t.Fatalf("persisted sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestPutPackSizesValidatesInput(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{name: "empty", body: `{"packSizes":[]}`, wantCode: codeInvalidCatalog},
		{name: "missing", body: `{}`, wantCode: codeInvalidCatalog},
		{name: "zero", body: `{"packSizes":[0,250]}`, wantCode: codeInvalidCatalog},
		{name: "negative", body: `{"packSizes":[-1]}`, wantCode: codeInvalidCatalog},
		{name: "fraction", body: `{"packSizes":[2.5]}`, wantCode: codeInvalidRequest},
		{name: "malformed", body: `{"packSizes":`, wantCode: codeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestRouter(t, storage.DefaultPackSizes())

			rec := env.do(t, http.MethodPut, "/api/pack-sizes", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rec.Code)
			}
			if body := decodeBody[errorBody](t, rec); body.Code != tt.wantCode {
				t.Fatalf("expected code %q, got %q", tt.wantCode, body.Code)
			}

			after := decodeBody[struct {
				PackSizes []int `json:"packSizes"`
			}](t, env.do(t, http.MethodGet, "/api/pack-sizes", ""))
			if diff := cmp.Diff(storage.DefaultPackSizes(), after.PackSizes); diff != "" {
				t.Fatalf("rejected update changed the catalog (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCalculateEndpointScenarios(t *testing.T) {
	tests := []struct {
		name        string
		items       int
		wantPacks   map[string]int
		wantTotal   int
		wantOverage int
	}{
		{name: "one item", items: 1, wantPacks: map[string]int{"250": 1}, wantTotal: 250, wantOverage: 249},
		{name: "exact smallest", items: 250, wantPacks: map[string]int{"250": 1}, wantTotal: 250},
		{name: "just above smallest", items: 251, wantPacks: map[string]int{"500": 1}, wantTotal: 500, wantOverage: 249},
		{name: "two sizes", items: 501, wantPacks: map[string]int{"500": 1, "250": 1}, wantTotal: 750, wantOverage: 249},
		{name: "mixed", items: 12001, wantPacks: map[string]int{"5000": 2, "2000": 1, "250": 1}, wantTotal: 12250, wantOverage: 249},
	}

	env := setupTestRouter(t, storage.DefaultPackSizes())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, _ := json.Marshal(map[string]int{"items": tt.items})
			rec := env.do(t, http.MethodPost, "/api/calculate", string(payload))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
			}

			body := decodeBody[calculateBody](t, rec)
			if diff := cmp.Diff(tt.wantPacks, body.Packs); diff != "" {
				t.Fatalf("packs mismatch (-want +got):\n%s", diff)
			}
			if body.Items != tt.items || body.TotalItems != tt.wantTotal || body.Overage != tt.wantOverage {
				t.Fatalf("unexpected totals %+v", body)
			}
		})
	}
}

func TestCalculateEndpointRejectsInvalidQuantity(t *testing.T) {
	env := setupTestRouter(t, storage.DefaultPackSizes())

	for _, body := range []string{
		`{"items":0}`,
		`{"items":-5}`,
		`{"items":1.5}`,
		`{"items":"abc"}`,
		`{"items":"10"}`,
		`{"items":null}`,
		`{"items":99999999999999999999999}`,
		`{}`,
	} {
		t.Run(body, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/calculate", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rec.Code)
			}
			if got := decodeBody[errorBody](t, rec); got.Code != codeInvalidQuantity {
				t.Fatalf("expected code %q, got %q", codeInvalidQuantity, got.Code)
			}
		})
	}

	rec := env.do(t, http.MethodPost, "/api/calculate", `not json`)
	if got := decodeBody[errorBody](t, rec); rec.Code != http.StatusBadRequest || got.Code != codeInvalidRequest {
		t.Fatalf("expected invalid_request for malformed JSON, got %d %q", rec.Code, got.Code)
	}
}

func TestCalculateEndpointEmptyCatalog(t *testing.T) {
	env := setupTestRouter(t, nil)

	rec := env.do(t, http.MethodPost, "/api/calculate", `{"items":10}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	body := decodeBody[errorBody](t, rec)
	if body.Code != codeEmptyCatalog || body.Error != "no packs configured" {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestCalculateEndpointEdgeCase(t *testing.T) {
	env := setupTestRouter(t, storage.DefaultPackSizes())

	if rec := env.do(t, http.MethodPut, "/api/pack-sizes", `{"packSizes":[23,31,53]}`); rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for pack sizes update, got %d", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/calculate", `{"items":500000}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	body := decodeBody[calculateBody](t, rec)
	if diff := cmp.Diff(map[string]int{"23": 2, "31": 7, "53": 9429}, body.Packs); diff != "" {
		t.Fatalf("packs mismatch (-want +got):\n%s", diff)
	}
	if body.TotalPacks != 9438 {
		t.Fatalf("expected total packs 9438, got %d", body.TotalPacks)
	}
	if body.TotalItems != 500_000 || body.Overage != 0 {
		t.Fatalf("expected exact fit, got %d items (overage %d)", body.TotalItems, body.Overage)
	}
}

func TestLegacyRoutes(t *testing.T) {
	env := setupTestRouter(t, storage.DefaultPackSizes())

	rec := env.do(t, http.MethodGet, "/api/packs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if diff := cmp.Diff(storage.DefaultPackSizes(), decodeBody[[]int](t, rec)); diff != "" {
		t.Fatalf("pack list mismatch (-want +got):\n%s", diff)
	}

	rec = env.do(t, http.MethodPost, "/api/packs", `{"packs":[100,200,1000]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := decodeBody[map[string]string](t, rec); got["status"] != "OK" {
		t.Fatalf("expected status OK, got %v", got)
	}

	rec = env.do(t, http.MethodPost, "/api/package", `{"numberOfItems":1001}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if diff := cmp.Diff(map[string]int{"1000": 1, "100": 1}, decodeBody[map[string]int](t, rec)); diff != "" {
		t.Fatalf("composition mismatch (-want +got):\n%s", diff)
	}

	rec = env.do(t, http.MethodPost, "/api/packs", `{"packs":[-1]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for invalid packs, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/package", `{"numberOfItems":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for zero items, got %d", rec.Code)
	}
}

type brokenService struct {
	snap *catalog.Snapshot
}

func (b brokenService) PackSizes() *catalog.Snapshot { return b.snap }
func (b brokenService) ReplacePackSizes(context.Context, []int) (*catalog.Snapshot, error) {
	return nil, errors.New("disk on fire")
}
func (b brokenService) Calculate(context.Context, int) (service.Result, error) {
	return service.Result{}, calculator.ErrBoundExceeded
}
func (b brokenService) Ready(context.Context) error { return nil }

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	logger := zaptest.NewLogger(t)
	snap := catalog.New(storage.NewMemoryStorage(), logger).Current()
	router := NewRouter(NewHandler(brokenService{snap: snap}, logger), logger, WithLogging(false))

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodPost, "/api/calculate", `{"items":10}`},
		{http.MethodPut, "/api/pack-sizes", `{"packSizes":[10]}`},
	} {
		req := httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString(tc.body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("%s %s: expected 500, got %d", tc.method, tc.path, rec.Code)
		}
		body := rec.Body.String()
		if strings.Contains(body, "disk on fire") || strings.Contains(body, calculator.ErrBoundExceeded.Error()) {
			t.Fatalf("%s %s: internal detail leaked: %s", tc.method, tc.path, body)
		}
	}
}

func TestCorsPreflight(t *testing.T) {
	env := setupTestRouter(t, storage.DefaultPackSizes())

	req := httptest.NewRequest(http.MethodOptions, "/api/calculate", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected Access-Control-Allow-Origin header to be set")
	}
}

func TestRequestIDPropagation(t *testing.T) {
	env := setupTestRouter(t, storage.DefaultPackSizes())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "test-request-id")

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "test-request-id" {
		t.Fatalf("expected X-Request-ID header to be echoed, got %s", got)
	}

	rec = env.do(t, http.MethodGet, "/api/health", "")
	if got := rec.Header().Get("X-Request-ID"); len(got) != 36 {
		t.Fatalf("expected generated UUID request id, got %q", got)
	}
}
