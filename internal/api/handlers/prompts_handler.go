package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/promptlens/core/internal/api/response"
	"github.com/promptlens/core/internal/api/validation"
	"github.com/promptlens/core/internal/apperrors"
	"github.com/promptlens/core/internal/models"
)

// IngestQueue enqueues prompt submissions for asynchronous processing.
type IngestQueue interface {
	Enqueue(ctx context.Context, content string) (string, error)
}

// AssignmentReader resolves stored assignment artifacts by content hash.
type AssignmentReader interface {
	Assignment(ctx context.Context, contentHash string) (*models.AssignmentArtifact, error)
}

// PromptsHandler handles HTTP requests for prompt ingestion.
type PromptsHandler struct {
	queue       IngestQueue
	assignments AssignmentReader
}

// NewPromptsHandler creates a new prompts handler.
func NewPromptsHandler(queue IngestQueue, assignments AssignmentReader) *PromptsHandler {
	return &PromptsHandler{queue: queue, assignments: assignments}
}

// Submit handles POST /v1/prompts. Processing is asynchronous; the response
// carries the content hash used to poll for the assignment.
func (h *PromptsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitPromptRequest
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

	hash, err := h.queue.Enqueue(r.Context(), req.Content)
	if err != nil {
		if errors.Is(err, apperrors.ErrValidation) {
			response.RespondBadRequest(w, err.Error())
			return
		}
		response.RespondInternalServerError(w, "An unexpected error occurred")
		return
	}

	response.RespondJSON(w, http.StatusAccepted, models.SubmitPromptResponse{
		ContentHash: hash,
		Status:      "queued",
	})
}

// GetAssignment handles GET /v1/prompts/{hash}/assignment.
func (h *PromptsHandler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	if hash == "" {
		response.RespondBadRequest(w, "Content hash is required")
		return
	}

	artifact, err := h.assignments.Assignment(r.Context(), hash)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			response.RespondNotFound(w, "No assignment for this content hash")
			return
		}
		response.RespondInternalServerError(w, "An unexpected error occurred")
		return
	}

	response.RespondJSON(w, http.StatusOK, artifact)
}
