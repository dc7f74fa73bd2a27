package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/promptlens/core/internal/api/response"
	"github.com/promptlens/core/internal/api/validation"
	"github.com/promptlens/core/internal/apperrors"
	"github.com/promptlens/core/internal/models"
)

// FamiliesService defines the interface for family graph business logic.
type FamiliesService interface {
	CreateFamily(ctx context.Context, name, description string) (*models.PromptFamily, error)
	CreateChildFamily(ctx context.Context, parentID uuid.UUID, name, description string) (*models.PromptFamily, error)
	Attach(ctx context.Context, familyID, clusterID uuid.UUID) (*models.FamilyClusterMapping, error)
	SetParent(ctx context.Context, familyID uuid.UUID, parentID *uuid.UUID) error
	MergeFamilies(ctx context.Context, targetID, sourceID uuid.UUID) error
	Hierarchy(ctx context.Context, familyID uuid.UUID) (*models.FamilyHierarchy, error)
}

// FamiliesHandler handles HTTP requests for prompt families.
type FamiliesHandler struct {
	service FamiliesService
}

// NewFamiliesHandler creates a new families handler.
func NewFamiliesHandler(service FamiliesService) *FamiliesHandler {
	return &FamiliesHandler{service: service}
}

// Create handles POST /v1/families
func (h *FamiliesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateFamilyRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		response.RespondBadRequest(w, "Invalid request body")
		return
	}

	if err := validation.ValidateStruct(&req); err != nil {
		validation.RespondValidationError(w, err)
		return
	}

	var (
		family *models.PromptFamily
		err    error
	)
	if req.ParentID != nil {
		family, err = h.service.CreateChildFamily(r.Context(), *req.ParentID, req.Name, req.Description)
	} else {
		family, err = h.service.CreateFamily(r.Context(), req.Name, req.Description)
	}
	if err != nil {
		respondFamilyError(w, err, "Parent family not found")
		return
	}

	response.RespondJSON(w, http.StatusCreated, family)
}

// Get handles GET /v1/families/{id}
func (h *FamiliesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	hierarchy, err := h.service.Hierarchy(r.Context(), id)
	if err != nil {
		respondFamilyError(w, err, "Family not found")
		return
	}

	response.RespondJSON(w, http.StatusOK, hierarchy)
}

// Attach handles POST /v1/families/{id}/attach
func (h *FamiliesHandler) Attach(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	var req models.AttachClusterRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		response.RespondBadRequest(w, "Invalid request body")
		return
	}

	if err := validation.ValidateStruct(&req); err != nil {
		validation.RespondValidationError(w, err)
		return
	}

	mapping, err := h.service.Attach(r.Context(), id, req.ClusterID)
	if err != nil {
		respondFamilyError(w, err, "Family or cluster not found")
		return
	}

	response.RespondJSON(w, http.StatusOK, mapping)
}

// SetParent handles PATCH /v1/families/{id}/parent
func (h *FamiliesHandler) SetParent(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	var req models.SetFamilyParentRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		response.RespondBadRequest(w, "Invalid request body")
		return
	}

	if err := h.service.SetParent(r.Context(), id, req.ParentID); err != nil {
		respondFamilyError(w, err, "Family not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Merge handles POST /v1/families/{id}/merge
func (h *FamiliesHandler) Merge(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	var req models.MergeFamiliesRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		response.RespondBadRequest(w, "Invalid request body")
		return
	}

	if err := validation.ValidateStruct(&req); err != nil {
		validation.RespondValidationError(w, err)
		return
	}

	if err := h.service.MergeFamilies(r.Context(), id, req.SourceID); err != nil {
		respondFamilyError(w, err, "Family not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// respondFamilyError maps family graph errors to HTTP responses. Cycle
// rejections are conflicts: the request was well formed but the edge is
// incompatible with the current graph.
func respondFamilyError(w http.ResponseWriter, err error, notFoundDetail string) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		response.RespondNotFound(w, notFoundDetail)
	case errors.Is(err, apperrors.ErrCycleRejected):
		response.RespondConflict(w, err.Error())
	case errors.Is(err, apperrors.ErrConflict):
		response.RespondConflict(w, err.Error())
	case errors.Is(err, apperrors.ErrValidation):
		response.RespondBadRequest(w, err.Error())
	default:
		response.RespondInternalServerError(w, "An unexpected error occurred")
	}
}
