package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/packs-optimizer/internal/calculator"
	"github.com/eugenenazirov/packs-optimizer/internal/catalog"
	"github.com/eugenenazirov/packs-optimizer/internal/service"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

const maxBodyBytes = 1 << 20

// Error codes returned in the "code" field of error responses.
const (
	codeInvalidRequest  = "invalid_request"
	codeInvalidCatalog  = "invalid_catalog"
	codeEmptyCatalog    = "empty_catalog"
	codeInvalidQuantity = "invalid_quantity"
	codeRateLimited     = "rate_limited"
	codeInternal        = "internal"
)

// PackService is the behaviour the HTTP layer needs from the service.
type PackService interface {
	PackSizes() *catalog.Snapshot
	ReplacePackSizes(ctx context.Context, sizes []int) (*catalog.Snapshot, error)
	Calculate(ctx context.Context, quantity int) (service.Result, error)
	Ready(ctx context.Context) error
}

// Handler exposes PackService over JSON.
type Handler struct {
	svc    PackService
	logger *zap.Logger

	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(svc PackService, logger *zap.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		svc:    svc,
		logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ready(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err), zap.String("request_id", requestIDFromContext(r.Context())))
		writeJSON(w, http.StatusServiceUnavailable, readyResponse{Status: "not_ready", Reason: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, readyResponse{Status: "ready"})
}

func (h *Handler) handleGetPackSizes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newPackSizesResponse(h.svc.PackSizes(), ""))
}

func (h *Handler) handlePutPackSizes(w http.ResponseWriter, r *http.Request) {
	var req packSizesRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	snap, err := h.svc.ReplacePackSizes(r.Context(), req.PackSizes)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPackSizesResponse(snap, "Pack sizes updated successfully"))
}

func (h *Handler) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req calculateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	quantity, ok := parseQuantity(req.Items)
	if !ok {
		writeError(w, http.StatusBadRequest, codeInvalidQuantity, calculator.ErrInvalidQuantity.Error(), "items must be a positive integer")
		return
	}

	result, err := h.svc.Calculate(r.Context(), quantity)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, calculateResponse{
		Items:             result.Quantity,
		Packs:             packsByLabel(result.Packs),
		TotalPacks:        result.TotalPacks,
		TotalItems:        result.TotalItems,
		Overage:           result.Overage,
		CalculationTimeMs: result.Elapsed.Milliseconds(),
		Cached:            result.Cached,
	})
}

// handleListPacks serves the plain array format used by the bundled UI.
func (h *Handler) handleListPacks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.PackSizes().Sizes())
}

func (h *Handler) handleSetPacks(w http.ResponseWriter, r *http.Request) {
	var req legacyPacksRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := h.svc.ReplacePackSizes(r.Context(), req.Packs); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "OK"})
}

func (h *Handler) handlePackage(w http.ResponseWriter, r *http.Request) {
	var req legacyPackageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	quantity, ok := parseQuantity(req.NumberOfItems)
	if !ok {
		writeError(w, http.StatusBadRequest, codeInvalidQuantity, calculator.ErrInvalidQuantity.Error(), "numberOfItems must be a positive integer")
		return
	}

	result, err := h.svc.Calculate(r.Context(), quantity)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, packsByLabel(result.Packs))
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrInvalidCatalog):
		writeError(w, http.StatusBadRequest, codeInvalidCatalog, "Invalid pack sizes", err.Error())
	case errors.Is(err, calculator.ErrEmptyCatalog):
		writeError(w, http.StatusBadRequest, codeEmptyCatalog, err.Error(), "configure pack sizes before calculating")
	case errors.Is(err, calculator.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, codeInvalidQuantity, err.Error(), "")
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.Error(err),
		)
		writeInternalError(w)
	}
}

// parseQuantity accepts JSON integers only; fractions, strings, null and
// out-of-range values are rejected.
func parseQuantity(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || raw[0] == '"' {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	quantity, err := strconv.Atoi(n.String())
	if err != nil {
		return 0, false
	}
	return quantity, true
}

func packsByLabel(packs calculator.Composition) map[string]int {
	out := make(map[string]int, len(packs))
	for _, size := range packs.Sizes() {
		out[strconv.Itoa(size)] = packs[size]
	}
	return out
}

func newPackSizesResponse(snap *catalog.Snapshot, message string) packSizesResponse {
	return packSizesResponse{
		PackSizes: snap.Sizes(),
		UpdatedAt: snap.UpdatedAt,
		Version:   snap.Version,
		Message:   message,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid request", "unable to parse JSON payload")
		return false
	}
	return true
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type packSizesRequest struct {
	PackSizes []int `json:"packSizes"`
}

type calculateRequest struct {
	Items json.RawMessage `json:"items"`
}

type legacyPacksRequest struct {
	Packs []int `json:"packs"`
}

type legacyPackageRequest struct {
	NumberOfItems json.RawMessage `json:"numberOfItems"`
}

type calculateResponse struct {
	Items             int            `json:"items"`
	Packs             map[string]int `json:"packs"`
	TotalPacks        int            `json:"totalPacks"`
	TotalItems        int            `json:"totalItems"`
	Overage           int            `json:"overage"`
	CalculationTimeMs int64          `json:"calculationTimeMs"`
	Cached            bool           `json:"cached"`
}

type packSizesResponse struct {
	PackSizes []int     `json:"packSizes"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   uint64    `json:"version"`
	Message   string    `json:"message,omitempty"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type readyResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message, details string) {
	writeJSON(w, status, errorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

func writeInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, codeInternal, "Internal error", "unexpected server error")
}
