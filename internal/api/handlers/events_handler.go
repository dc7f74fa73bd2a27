package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/promptlens/core/internal/api/response"
	"github.com/promptlens/core/internal/api/validation"
	"github.com/promptlens/core/internal/models"
)

// EventsService defines the read surface for evolution events.
type EventsService interface {
	ListByCluster(ctx context.Context, clusterID uuid.UUID, limit, offset int) ([]models.EvolutionEvent, error)
	ListRecent(ctx context.Context, limit int) ([]models.EvolutionEvent, error)
}

// EventsHandler handles HTTP requests for the evolution event feed.
type EventsHandler struct {
	events EventsService
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(events EventsService) *EventsHandler {
	return &EventsHandler{events: events}
}

// List handles GET /v1/evolution/events
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	filters := &models.ListEventsFilters{}
	if err := validation.ValidateAndDecodeQueryParams(r, filters); err != nil {
		validation.RespondValidationError(w, err)
		return
	}

	limit := filters.Limit
	if limit == 0 {
		limit = defaultListLimit
	}

	var (
		events []models.EvolutionEvent
		err    error
	)
	if filters.ClusterID != nil {
		events, err = h.events.ListByCluster(r.Context(), *filters.ClusterID, limit, filters.Offset)
	} else {
		events, err = h.events.ListRecent(r.Context(), limit)
	}
	if err != nil {
		response.RespondInternalServerError(w, "An unexpected error occurred")
		return
	}

	response.RespondJSON(w, http.StatusOK, events)
}
