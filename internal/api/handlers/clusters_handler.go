package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/promptlens/core/internal/api/response"
	"github.com/promptlens/core/internal/api/validation"
	"github.com/promptlens/core/internal/apperrors"
	"github.com/promptlens/core/internal/models"
)

// ClustersService defines the read surface for clusters.
type ClustersService interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Cluster, error)
	List(ctx context.Context, limit, offset int) ([]models.Cluster, error)
}

// ClusterAssignmentsService lists assignment rows for a cluster.
type ClusterAssignmentsService interface {
	ListByCluster(ctx context.Context, clusterID uuid.UUID, limit, offset int) ([]models.ClusterAssignment, error)
}

// TemplatesService resolves template artifacts and version chains.
type TemplatesService interface {
	ActiveArtifact(ctx context.Context, clusterID uuid.UUID) (*models.TemplateArtifact, error)
	VersionChain(ctx context.Context, clusterID uuid.UUID) ([]models.TemplateVersion, error)
}

// ClustersHandler handles HTTP requests for clusters and their templates.
type ClustersHandler struct {
	clusters    ClustersService
	assignments ClusterAssignmentsService
	templates   TemplatesService
}

// NewClustersHandler creates a new clusters handler.
func NewClustersHandler(clusters ClustersService, assignments ClusterAssignmentsService, templates TemplatesService) *ClustersHandler {
	return &ClustersHandler{clusters: clusters, assignments: assignments, templates: templates}
}

const defaultListLimit = 100

// List handles GET /v1/clusters
func (h *ClustersHandler) List(w http.ResponseWriter, r *http.Request) {
	filters := &models.ListClustersFilters{}
	if err := validation.ValidateAndDecodeQueryParams(r, filters); err != nil {
		validation.RespondValidationError(w, err)
		return
	}

	limit := filters.Limit
	if limit == 0 {
		limit = defaultListLimit
	}

	clusters, err := h.clusters.List(r.Context(), limit, filters.Offset)
	if err != nil {
		response.RespondInternalServerError(w, "An unexpected error occurred")
		return
	}

	response.RespondJSON(w, http.StatusOK, clusters)
}

// Get handles GET /v1/clusters/{id}
func (h *ClustersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	cluster, err := h.clusters.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			response.RespondNotFound(w, "Cluster not found")
			return
		}
		response.RespondInternalServerError(w, "An unexpected error occurred")
		return
	}

	response.RespondJSON(w, http.StatusOK, cluster)
}

// GetTemplate handles GET /v1/clusters/{id}/template
func (h *ClustersHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	artifact, err := h.templates.ActiveArtifact(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			response.RespondNotFound(w, "Cluster has no canonical template yet")
			return
		}
		response.RespondInternalServerError(w, "An unexpected error occurred")
		return
	}

	response.RespondJSON(w, http.StatusOK, artifact)
}

// ListVersions handles GET /v1/clusters/{id}/versions
func (h *ClustersHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	versions, err := h.templates.VersionChain(r.Context(), id)
	if err != nil {
		response.RespondInternalServerError(w, "An unexpected error occurred")
		return
	}

	response.RespondJSON(w, http.StatusOK, versions)
}

// ListAssignments handles GET /v1/clusters/{id}/assignments
func (h *ClustersHandler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	filters := &models.ListClustersFilters{}
	if err := validation.ValidateAndDecodeQueryParams(r, filters); err != nil {
		validation.RespondValidationError(w, err)
		return
	}

	limit := filters.Limit
	if limit == 0 {
		limit = defaultListLimit
	}

	assignments, err := h.assignments.ListByCluster(r.Context(), id, limit, filters.Offset)
	if err != nil {
		response.RespondInternalServerError(w, "An unexpected error occurred")
		return
	}

	response.RespondJSON(w, http.StatusOK, assignments)
}

// parseIDParam extracts and parses the {id} path value, writing the error
// response itself when the value is missing or malformed.
func parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := r.PathValue("id")
	if idStr == "" {
		response.RespondBadRequest(w, "ID is required")
		return uuid.Nil, false
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		response.RespondBadRequest(w, "Invalid UUID format")
		return uuid.Nil, false
	}

	return id, true
}
