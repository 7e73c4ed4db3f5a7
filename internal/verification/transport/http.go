// Package transport provides HTTP handlers for the verification domain.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/verifier/internal/verification/domain"
)

// Service defines the verification service interface for HTTP transport.
type Service interface {
	Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResult, error)
	Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResult, error)
	ListVersions(ctx context.Context, language string) (*domain.CompilerVersions, error)
	GetSource(ctx context.Context, id string) (*domain.Source, error)
}

// Handler handles HTTP requests for verification.
type Handler struct {
	svc Service
}

// NewHandler creates a new verification HTTP handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the verification routes on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	h.RegisterReadRoutes(r)
	h.RegisterWriteRoutes(r)
}

// RegisterReadRoutes registers only the routes that never compile.
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/compilers/{language}", h.handleListCompilers)
	r.Get("/sources/{id}", h.handleGetSource)
}

// RegisterWriteRoutes registers the routes that compile or search code.
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/verify", h.handleVerify)
	r.Post("/search", h.handleSearch)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var body VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
		return
	}
	req, err := body.ToDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	result, err := h.svc.Verify(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "Failed to verify contract")
		return
	}

	writeJSON(w, http.StatusOK, FromDomainResult(result))
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
		return
	}
	req, err := body.ToDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	result, err := h.svc.Search(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "Failed to search code")
		return
	}

	writeJSON(w, http.StatusOK, FromDomainSearch(result))
}

func (h *Handler) handleListCompilers(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListVersions(r.Context(), chi.URLParam(r, "language"))
	if err != nil {
		writeDomainError(w, err, "Failed to list compilers")
		return
	}

	versions := result.Versions
	if versions == nil {
		versions = []string{}
	}
	writeJSON(w, http.StatusOK, CompilersResponse{Language: result.Language, Versions: versions})
}

func (h *Handler) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := h.svc.GetSource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "Failed to get source")
		return
	}
	writeJSON(w, http.StatusOK, FromDomainSource(src))
}

func writeDomainError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, domain.ErrSourceNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrVersionNotFound):
		writeError(w, http.StatusNotFound, "VERSION_NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "TIMEOUT", "Compilation timed out")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "CANCELED", "Request canceled")
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", fallback)
	}
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}
