package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptlens/core/internal/apperrors"
	"github.com/promptlens/core/internal/models"
)

type mockClustersService struct {
	getFunc  func(ctx context.Context, id uuid.UUID) (*models.Cluster, error)
	listFunc func(ctx context.Context, limit, offset int) ([]models.Cluster, error)
}

func (m *mockClustersService) GetByID(ctx context.Context, id uuid.UUID) (*models.Cluster, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return &models.Cluster{ID: id}, nil
}

func (m *mockClustersService) List(ctx context.Context, limit, offset int) ([]models.Cluster, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, limit, offset)
	}
	return nil, nil
}

type mockClusterAssignmentsService struct {
	listFunc func(ctx context.Context, clusterID uuid.UUID, limit, offset int) ([]models.ClusterAssignment, error)
}

func (m *mockClusterAssignmentsService) ListByCluster(ctx context.Context, clusterID uuid.UUID, limit, offset int) ([]models.ClusterAssignment, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, clusterID, limit, offset)
	}
	return nil, nil
}

type mockTemplatesService struct {
	artifactFunc func(ctx context.Context, clusterID uuid.UUID) (*models.TemplateArtifact, error)
	chainFunc    func(ctx context.Context, clusterID uuid.UUID) ([]models.TemplateVersion, error)
}

func (m *mockTemplatesService) ActiveArtifact(ctx context.Context, clusterID uuid.UUID) (*models.TemplateArtifact, error) {
	if m.artifactFunc != nil {
		return m.artifactFunc(ctx, clusterID)
	}
	return nil, nil
}

func (m *mockTemplatesService) VersionChain(ctx context.Context, clusterID uuid.UUID) ([]models.TemplateVersion, error) {
	if m.chainFunc != nil {
		return m.chainFunc(ctx, clusterID)
	}
	return nil, nil
}

func newClustersHandler(clusters *mockClustersService, assignments *mockClusterAssignmentsService, templates *mockTemplatesService) *ClustersHandler {
	if clusters == nil {
		clusters = &mockClustersService{}
	}
	if assignments == nil {
		assignments = &mockClusterAssignmentsService{}
	}
	if templates == nil {
		templates = &mockTemplatesService{}
	}
	return NewClustersHandler(clusters, assignments, templates)
}

func TestClustersHandler_List(t *testing.T) {
	t.Run("defaults the limit", func(t *testing.T) {
		handler := newClustersHandler(&mockClustersService{
			listFunc: func(_ context.Context, limit, offset int) ([]models.Cluster, error) {
				assert.Equal(t, defaultListLimit, limit)
				assert.Zero(t, offset)
				return []models.Cluster{{ID: uuid.New()}}, nil
			},
		}, nil, nil)

		req := httptest.NewRequest(http.MethodGet, "http://test/v1/clusters", nil)
		rec := httptest.NewRecorder()

		handler.List(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var clusters []models.Cluster
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &clusters))
		assert.Len(t, clusters, 1)
	})

	t.Run("honors limit and offset query params", func(t *testing.T) {
		handler := newClustersHandler(&mockClustersService{
			listFunc: func(_ context.Context, limit, offset int) ([]models.Cluster, error) {
				assert.Equal(t, 10, limit)
				assert.Equal(t, 20, offset)
				return nil, nil
			},
		}, nil, nil)

		req := httptest.NewRequest(http.MethodGet, "http://test/v1/clusters?limit=10&offset=20", nil)
		rec := httptest.NewRecorder()

		handler.List(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects an out-of-range limit", func(t *testing.T) {
		handler := newClustersHandler(nil, nil, nil)

		req := httptest.NewRequest(http.MethodGet, "http://test/v1/clusters?limit=100000", nil)
		rec := httptest.NewRecorder()

		handler.List(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestClustersHandler_Get(t *testing.T) {
	id := uuid.New()

	t.Run("returns the cluster", func(t *testing.T) {
		handler := newClustersHandler(&mockClustersService{
			getFunc: func(_ context.Context, got uuid.UUID) (*models.Cluster, error) {
				assert.Equal(t, id, got)
				return &models.Cluster{ID: got, Name: "tldr"}, nil
			},
		}, nil, nil)

		rec := httptest.NewRecorder()
		handler.Get(rec, requestWithID(http.MethodGet, "http://test/v1/clusters/x", id, ""))

		require.Equal(t, http.StatusOK, rec.Code)

		var cluster models.Cluster
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cluster))
		assert.Equal(t, "tldr", cluster.Name)
	})

	t.Run("unknown cluster returns 404", func(t *testing.T) {
		handler := newClustersHandler(&mockClustersService{
			getFunc: func(context.Context, uuid.UUID) (*models.Cluster, error) {
				return nil, apperrors.NewNotFoundError("cluster", "cluster not found")
			},
		}, nil, nil)

		rec := httptest.NewRecorder()
		handler.Get(rec, requestWithID(http.MethodGet, "http://test/v1/clusters/x", id, ""))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestClustersHandler_GetTemplate(t *testing.T) {
	id := uuid.New()

	t.Run("returns the active artifact", func(t *testing.T) {
		handler := newClustersHandler(nil, nil, &mockTemplatesService{
			artifactFunc: func(_ context.Context, got uuid.UUID) (*models.TemplateArtifact, error) {
				assert.Equal(t, id, got)
				return &models.TemplateArtifact{ClusterID: got.String(), Version: "1.2.0"}, nil
			},
		})

		rec := httptest.NewRecorder()
		handler.GetTemplate(rec, requestWithID(http.MethodGet, "http://test/v1/clusters/x/template", id, ""))

		require.Equal(t, http.StatusOK, rec.Code)

		var artifact models.TemplateArtifact
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &artifact))
		assert.Equal(t, "1.2.0", artifact.Version)
	})

	t.Run("cluster without a template returns 404", func(t *testing.T) {
		handler := newClustersHandler(nil, nil, &mockTemplatesService{
			artifactFunc: func(context.Context, uuid.UUID) (*models.TemplateArtifact, error) {
				return nil, apperrors.NewNotFoundError("template_version", "no active version")
			},
		})

		rec := httptest.NewRecorder()
		handler.GetTemplate(rec, requestWithID(http.MethodGet, "http://test/v1/clusters/x/template", id, ""))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestClustersHandler_ListVersions(t *testing.T) {
	id := uuid.New()

	handler := newClustersHandler(nil, nil, &mockTemplatesService{
		chainFunc: func(_ context.Context, got uuid.UUID) ([]models.TemplateVersion, error) {
			assert.Equal(t, id, got)
			return []models.TemplateVersion{
				{Seq: 1, Version: models.Version{Major: 1}},
				{Seq: 2, Version: models.Version{Major: 1, Minor: 1}},
			}, nil
		},
	})

	rec := httptest.NewRecorder()
	handler.ListVersions(rec, requestWithID(http.MethodGet, "http://test/v1/clusters/x/versions", id, ""))

	require.Equal(t, http.StatusOK, rec.Code)

	var versions []models.TemplateVersion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &versions))
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[1].Seq)
}

func TestClustersHandler_ListAssignments(t *testing.T) {
	id := uuid.New()

	handler := newClustersHandler(nil, &mockClusterAssignmentsService{
		listFunc: func(_ context.Context, clusterID uuid.UUID, limit, offset int) ([]models.ClusterAssignment, error) {
			assert.Equal(t, id, clusterID)
			assert.Equal(t, defaultListLimit, limit)
			return []models.ClusterAssignment{{ClusterID: clusterID}}, nil
		},
	}, nil)

	rec := httptest.NewRecorder()
	handler.ListAssignments(rec, requestWithID(http.MethodGet, "http://test/v1/clusters/x/assignments", id, ""))

	require.Equal(t, http.StatusOK, rec.Code)

	var assignments []models.ClusterAssignment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &assignments))
	assert.Len(t, assignments, 1)
}
