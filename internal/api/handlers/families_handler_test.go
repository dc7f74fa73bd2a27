package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptlens/core/internal/apperrors"
	"github.com/promptlens/core/internal/models"
)

type mockFamiliesService struct {
	createFunc      func(ctx context.Context, name, description string) (*models.PromptFamily, error)
	createChildFunc func(ctx context.Context, parentID uuid.UUID, name, description string) (*models.PromptFamily, error)
	attachFunc      func(ctx context.Context, familyID, clusterID uuid.UUID) (*models.FamilyClusterMapping, error)
	setParentFunc   func(ctx context.Context, familyID uuid.UUID, parentID *uuid.UUID) error
	mergeFunc       func(ctx context.Context, targetID, sourceID uuid.UUID) error
	hierarchyFunc   func(ctx context.Context, familyID uuid.UUID) (*models.FamilyHierarchy, error)
}

func (m *mockFamiliesService) CreateFamily(ctx context.Context, name, description string) (*models.PromptFamily, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, name, description)
	}
	return &models.PromptFamily{ID: uuid.New(), Name: name}, nil
}

func (m *mockFamiliesService) CreateChildFamily(ctx context.Context, parentID uuid.UUID, name, description string) (*models.PromptFamily, error) {
	if m.createChildFunc != nil {
		return m.createChildFunc(ctx, parentID, name, description)
	}
	return &models.PromptFamily{ID: uuid.New(), Name: name, ParentID: &parentID}, nil
}

func (m *mockFamiliesService) Attach(ctx context.Context, familyID, clusterID uuid.UUID) (*models.FamilyClusterMapping, error) {
	if m.attachFunc != nil {
		return m.attachFunc(ctx, familyID, clusterID)
	}
	return &models.FamilyClusterMapping{FamilyID: familyID, ClusterID: clusterID}, nil
}

func (m *mockFamiliesService) SetParent(ctx context.Context, familyID uuid.UUID, parentID *uuid.UUID) error {
	if m.setParentFunc != nil {
		return m.setParentFunc(ctx, familyID, parentID)
	}
	return nil
}

func (m *mockFamiliesService) MergeFamilies(ctx context.Context, targetID, sourceID uuid.UUID) error {
	if m.mergeFunc != nil {
		return m.mergeFunc(ctx, targetID, sourceID)
	}
	return nil
}

func (m *mockFamiliesService) Hierarchy(ctx context.Context, familyID uuid.UUID) (*models.FamilyHierarchy, error) {
	if m.hierarchyFunc != nil {
		return m.hierarchyFunc(ctx, familyID)
	}
	return &models.FamilyHierarchy{Family: models.PromptFamily{ID: familyID}}, nil
}

func TestFamiliesHandler_Create(t *testing.T) {
	t.Run("creates a root family", func(t *testing.T) {
		called := false
		handler := NewFamiliesHandler(&mockFamiliesService{
			createFunc: func(_ context.Context, name, description string) (*models.PromptFamily, error) {
				called = true
				assert.Equal(t, "summarization", name)
				return &models.PromptFamily{ID: uuid.New(), Name: name}, nil
			},
		})

		req := httptest.NewRequest(http.MethodPost, "http://test/v1/families",
			strings.NewReader(`{"name":"summarization","description":"summarization tasks"}`))
		rec := httptest.NewRecorder()

		handler.Create(rec, req)

		require.True(t, called)
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("routes parent_id to child creation", func(t *testing.T) {
		parentID := uuid.New()
		called := false
		handler := NewFamiliesHandler(&mockFamiliesService{
			createChildFunc: func(_ context.Context, gotParent uuid.UUID, name, _ string) (*models.PromptFamily, error) {
				called = true
				assert.Equal(t, parentID, gotParent)
				return &models.PromptFamily{ID: uuid.New(), Name: name, ParentID: &gotParent}, nil
			},
		})

		body := fmt.Sprintf(`{"name":"legal","parent_id":%q}`, parentID)
		req := httptest.NewRequest(http.MethodPost, "http://test/v1/families", strings.NewReader(body))
		rec := httptest.NewRecorder()

		handler.Create(rec, req)

		require.True(t, called)
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("missing parent returns 404", func(t *testing.T) {
		handler := NewFamiliesHandler(&mockFamiliesService{
			createChildFunc: func(context.Context, uuid.UUID, string, string) (*models.PromptFamily, error) {
				return nil, apperrors.NewNotFoundError("prompt_family", "family not found")
			},
		})

		body := fmt.Sprintf(`{"name":"legal","parent_id":%q}`, uuid.New())
		req := httptest.NewRequest(http.MethodPost, "http://test/v1/families", strings.NewReader(body))
		rec := httptest.NewRecorder()

		handler.Create(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing name returns 400", func(t *testing.T) {
		handler := NewFamiliesHandler(&mockFamiliesService{})

		req := httptest.NewRequest(http.MethodPost, "http://test/v1/families", strings.NewReader(`{"description":"x"}`))
		rec := httptest.NewRecorder()

		handler.Create(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func requestWithID(method, url string, id uuid.UUID, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, url, nil)
	} else {
		req = httptest.NewRequest(method, url, strings.NewReader(body))
	}
	req.SetPathValue("id", id.String())
	return req
}

func TestFamiliesHandler_Attach(t *testing.T) {
	familyID := uuid.New()
	clusterID := uuid.New()

	t.Run("attaches a cluster", func(t *testing.T) {
		handler := NewFamiliesHandler(&mockFamiliesService{
			attachFunc: func(_ context.Context, gotFamily, gotCluster uuid.UUID) (*models.FamilyClusterMapping, error) {
				assert.Equal(t, familyID, gotFamily)
				assert.Equal(t, clusterID, gotCluster)
				return &models.FamilyClusterMapping{ID: uuid.New(), FamilyID: gotFamily, ClusterID: gotCluster}, nil
			},
		})

		body := fmt.Sprintf(`{"cluster_id":%q}`, clusterID)
		rec := httptest.NewRecorder()
		handler.Attach(rec, requestWithID(http.MethodPost, "http://test/v1/families/x/attach", familyID, body))

		require.Equal(t, http.StatusOK, rec.Code)

		var mapping models.FamilyClusterMapping
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mapping))
		assert.Equal(t, clusterID, mapping.ClusterID)
	})

	t.Run("missing cluster_id returns 400", func(t *testing.T) {
		handler := NewFamiliesHandler(&mockFamiliesService{})

		rec := httptest.NewRecorder()
		handler.Attach(rec, requestWithID(http.MethodPost, "http://test/v1/families/x/attach", familyID, `{}`))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestFamiliesHandler_SetParent(t *testing.T) {
	familyID := uuid.New()

	t.Run("cycle rejection returns 409", func(t *testing.T) {
		handler := NewFamiliesHandler(&mockFamiliesService{
			setParentFunc: func(context.Context, uuid.UUID, *uuid.UUID) error {
				return apperrors.NewCycleRejectedError("edge would create a cycle")
			},
		})

		body := fmt.Sprintf(`{"parent_id":%q}`, uuid.New())
		rec := httptest.NewRecorder()
		handler.SetParent(rec, requestWithID(http.MethodPatch, "http://test/v1/families/x/parent", familyID, body))

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("clearing the parent returns 204", func(t *testing.T) {
		handler := NewFamiliesHandler(&mockFamiliesService{
			setParentFunc: func(_ context.Context, _ uuid.UUID, parentID *uuid.UUID) error {
				assert.Nil(t, parentID)
				return nil
			},
		})

		rec := httptest.NewRecorder()
		handler.SetParent(rec, requestWithID(http.MethodPatch, "http://test/v1/families/x/parent", familyID, `{"parent_id":null}`))

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestFamiliesHandler_Merge(t *testing.T) {
	targetID := uuid.New()
	sourceID := uuid.New()

	t.Run("merges and returns 204", func(t *testing.T) {
		called := false
		handler := NewFamiliesHandler(&mockFamiliesService{
			mergeFunc: func(_ context.Context, gotTarget, gotSource uuid.UUID) error {
				called = true
				assert.Equal(t, targetID, gotTarget)
				assert.Equal(t, sourceID, gotSource)
				return nil
			},
		})

		body := fmt.Sprintf(`{"source_id":%q}`, sourceID)
		rec := httptest.NewRecorder()
		handler.Merge(rec, requestWithID(http.MethodPost, "http://test/v1/families/x/merge", targetID, body))

		require.True(t, called)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("self-merge rejection returns 400", func(t *testing.T) {
		handler := NewFamiliesHandler(&mockFamiliesService{
			mergeFunc: func(context.Context, uuid.UUID, uuid.UUID) error {
				return apperrors.NewValidationError("source", "cannot merge a family into itself")
			},
		})

		body := fmt.Sprintf(`{"source_id":%q}`, targetID)
		rec := httptest.NewRecorder()
		handler.Merge(rec, requestWithID(http.MethodPost, "http://test/v1/families/x/merge", targetID, body))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestFamiliesHandler_Get(t *testing.T) {
	familyID := uuid.New()

	t.Run("returns the hierarchy", func(t *testing.T) {
		handler := NewFamiliesHandler(&mockFamiliesService{
			hierarchyFunc: func(_ context.Context, got uuid.UUID) (*models.FamilyHierarchy, error) {
				assert.Equal(t, familyID, got)
				return &models.FamilyHierarchy{
					Family:   models.PromptFamily{ID: got, Name: "summarization"},
					Children: []models.PromptFamily{{ID: uuid.New()}},
				}, nil
			},
		})

		rec := httptest.NewRecorder()
		handler.Get(rec, requestWithID(http.MethodGet, "http://test/v1/families/x", familyID, ""))

		require.Equal(t, http.StatusOK, rec.Code)

		var h models.FamilyHierarchy
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
		assert.Equal(t, familyID, h.Family.ID)
		assert.Len(t, h.Children, 1)
	})

	t.Run("malformed id returns 400", func(t *testing.T) {
		handler := NewFamiliesHandler(&mockFamiliesService{})

		req := httptest.NewRequest(http.MethodGet, "http://test/v1/families/not-a-uuid", nil)
		req.SetPathValue("id", "not-a-uuid")
		rec := httptest.NewRecorder()

		handler.Get(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
