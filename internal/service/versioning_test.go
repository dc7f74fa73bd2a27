package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/promptlens/core/internal/apperrors"
	"github.com/promptlens/core/internal/models"
)

// MockTemplateStore is a mock implementation of TemplateStore
type MockTemplateStore struct {
	mock.Mock
}

func (m *MockTemplateStore) Commit(ctx context.Context, v *models.TemplateVersion, expectedActive *uuid.UUID) (*models.TemplateVersion, error) {
	args := m.Called(ctx, v, expectedActive)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TemplateVersion), args.Error(1)
}

func (m *MockTemplateStore) GetByID(ctx context.Context, id uuid.UUID) (*models.TemplateVersion, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TemplateVersion), args.Error(1)
}

func (m *MockTemplateStore) GetActiveByCluster(ctx context.Context, clusterID uuid.UUID) (*models.TemplateVersion, error) {
	args := m.Called(ctx, clusterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TemplateVersion), args.Error(1)
}

func (m *MockTemplateStore) ListByCluster(ctx context.Context, clusterID uuid.UUID) ([]models.TemplateVersion, error) {
	args := m.Called(ctx, clusterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.TemplateVersion), args.Error(1)
}

// MockEventStore is a mock implementation of EventStore
type MockEventStore struct {
	mock.Mock
}

func (m *MockEventStore) Create(ctx context.Context, e *models.EvolutionEvent) (*models.EvolutionEvent, error) {
	args := m.Called(ctx, e)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EvolutionEvent), args.Error(1)
}

func echoEvents(mockEvents *MockEventStore) *[]models.EvolutionEvent {
	recorded := &[]models.EvolutionEvent{}
	mockEvents.On("Create", mock.Anything, mock.AnythingOfType("*models.EvolutionEvent")).
		Return(&models.EvolutionEvent{}, nil).
		Run(func(args mock.Arguments) {
			*recorded = append(*recorded, *args.Get(1).(*models.EvolutionEvent))
		})
	return recorded
}

func slot(name string) models.TemplateSlot {
	return models.TemplateSlot{Name: name, Type: models.SlotTypeString, Confidence: 0.9}
}

func TestVersioningService_Commit_FirstVersion(t *testing.T) {
	ctx := context.Background()
	clusterID := uuid.New()

	mockTemplates := new(MockTemplateStore)
	mockClusters := new(MockClusterStore)
	mockEvents := new(MockEventStore)
	svc := NewVersioningService(mockTemplates, mockClusters, mockEvents, 3, nil)

	mockClusters.On("GetByID", ctx, clusterID).Return(&models.Cluster{ID: clusterID}, nil)

	committedID := uuid.New()
	mockTemplates.On("Commit", ctx, mock.AnythingOfType("*models.TemplateVersion"), (*uuid.UUID)(nil)).
		Return(&models.TemplateVersion{
			ID:        committedID,
			ClusterID: clusterID,
			Seq:       1,
			Version:   models.InitialVersion,
			Body:      "Summarize {{article}} in {{count}} bullet points",
		}, nil)
	recorded := echoEvents(mockEvents)

	committed, err := svc.Commit(ctx, clusterID, &ExtractedTemplate{
		Body:       "Summarize {{article}} in {{count}} bullet points",
		Slots:      []models.TemplateSlot{slot("article"), slot("count")},
		Confidence: 0.9,
	}, "canonicalization")

	require.NoError(t, err)
	assert.Equal(t, models.Version{Major: 1, Minor: 0, Patch: 0}, committed.Version)

	require.Len(t, *recorded, 1)
	assert.Equal(t, models.EventCreated, (*recorded)[0].Type)
	assert.Nil(t, (*recorded)[0].PreviousVersionID)
	assert.Equal(t, committedID, *(*recorded)[0].NewVersionID)
	assert.Equal(t, "canonicalization", (*recorded)[0].DetectedBy)
}

func TestVersioningService_Commit_OptimisticRetry(t *testing.T) {
	ctx := context.Background()
	clusterID := uuid.New()
	staleActive := uuid.New()
	freshActive := uuid.New()

	mockTemplates := new(MockTemplateStore)
	mockClusters := new(MockClusterStore)
	mockEvents := new(MockEventStore)
	svc := NewVersioningService(mockTemplates, mockClusters, mockEvents, 3, nil)

	// First read sees the stale pointer; after losing the race the re-read
	// sees the concurrent commit's pointer and the second attempt lands.
	mockClusters.On("GetByID", ctx, clusterID).Return(&models.Cluster{
		ID:              clusterID,
		ActiveVersionID: &staleActive,
	}, nil).Once()
	mockClusters.On("GetByID", ctx, clusterID).Return(&models.Cluster{
		ID:              clusterID,
		ActiveVersionID: &freshActive,
	}, nil).Once()

	prevBody := "Translate {{text}} to {{language}}"
	mockTemplates.On("GetByID", ctx, staleActive).Return(&models.TemplateVersion{
		ID:      staleActive,
		Version: models.Version{Major: 1, Minor: 0, Patch: 0},
		Body:    prevBody,
		Slots:   []models.TemplateSlot{slot("text"), slot("language")},
	}, nil)
	mockTemplates.On("GetByID", ctx, freshActive).Return(&models.TemplateVersion{
		ID:      freshActive,
		Version: models.Version{Major: 1, Minor: 1, Patch: 0},
		Body:    prevBody,
		Slots:   []models.TemplateSlot{slot("text"), slot("language")},
	}, nil)

	mockTemplates.On("Commit", ctx, mock.AnythingOfType("*models.TemplateVersion"), &staleActive).
		Return(nil, apperrors.NewConflictError("template_version", "active version moved")).Once()
	mockTemplates.On("Commit", ctx, mock.AnythingOfType("*models.TemplateVersion"), &freshActive).
		Return(&models.TemplateVersion{
			ID:        uuid.New(),
			ClusterID: clusterID,
			Seq:       3,
			Version:   models.Version{Major: 1, Minor: 1, Patch: 1},
		}, nil).Once()
	echoEvents(mockEvents)

	committed, err := svc.Commit(ctx, clusterID, &ExtractedTemplate{
		Body:  prevBody,
		Slots: []models.TemplateSlot{slot("text"), slot("language")},
	}, "drift")

	require.NoError(t, err)
	assert.Equal(t, 3, committed.Seq)
	mockTemplates.AssertExpectations(t)
}

func TestVersioningService_Commit_ExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	clusterID := uuid.New()

	mockTemplates := new(MockTemplateStore)
	mockClusters := new(MockClusterStore)
	mockEvents := new(MockEventStore)
	svc := NewVersioningService(mockTemplates, mockClusters, mockEvents, 2, nil)

	mockClusters.On("GetByID", ctx, clusterID).Return(&models.Cluster{ID: clusterID}, nil)
	mockTemplates.On("Commit", ctx, mock.Anything, (*uuid.UUID)(nil)).
		Return(nil, apperrors.NewConflictError("template_version", "active version moved"))

	_, err := svc.Commit(ctx, clusterID, &ExtractedTemplate{Body: "{{x}}"}, "canonicalization")

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	mockTemplates.AssertNumberOfCalls(t, "Commit", 2)
	mockEvents.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestClassifyBump(t *testing.T) {
	prev := &models.TemplateVersion{
		Body:  "Summarize {{article}} in {{count}} bullet points",
		Slots: []models.TemplateSlot{slot("article"), slot("count")},
	}

	tests := []struct {
		name string
		next *ExtractedTemplate
		want models.BumpKind
	}{
		{
			name: "slot removed is major",
			next: &ExtractedTemplate{
				Body:  "Summarize {{article}} in {{count}} bullet points",
				Slots: []models.TemplateSlot{slot("article")},
			},
			want: models.BumpMajor,
		},
		{
			name: "body skeleton change is major",
			next: &ExtractedTemplate{
				Body:  "Write a summary of {{article}} using {{count}} bullets",
				Slots: []models.TemplateSlot{slot("article"), slot("count")},
			},
			want: models.BumpMajor,
		},
		{
			name: "slot added is minor",
			next: &ExtractedTemplate{
				Body:  "Summarize {{article}} in {{count}} bullet points {{tone}}",
				Slots: []models.TemplateSlot{slot("article"), slot("count"), slot("tone")},
			},
			want: models.BumpMinor,
		},
		{
			name: "slot added with rewritten surrounding text is major",
			next: &ExtractedTemplate{
				Body:  "Summarize {{article}} in {{count}} bullet points with a {{tone}} voice",
				Slots: []models.TemplateSlot{slot("article"), slot("count"), slot("tone")},
			},
			want: models.BumpMajor,
		},
		{
			name: "unchanged structure is patch",
			next: &ExtractedTemplate{
				Body:  "Summarize {{article}} in {{count}} bullet points",
				Slots: []models.TemplateSlot{slot("article"), slot("count")},
			},
			want: models.BumpPatch,
		},
		{
			name: "slot rename alone is minor plus major from removal",
			next: &ExtractedTemplate{
				Body:  "Summarize {{document}} in {{count}} bullet points",
				Slots: []models.TemplateSlot{slot("document"), slot("count")},
			},
			want: models.BumpMajor,
		},
		{
			name: "whitespace shuffle is patch",
			next: &ExtractedTemplate{
				Body:  "Summarize   {{article}}  in {{count}} bullet points",
				Slots: []models.TemplateSlot{slot("article"), slot("count")},
			},
			want: models.BumpPatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyBump(prev, tt.next))
		})
	}
}

func TestVersioningService_Commit_SlotChurnEvents(t *testing.T) {
	ctx := context.Background()
	clusterID := uuid.New()
	activeID := uuid.New()

	mockTemplates := new(MockTemplateStore)
	mockClusters := new(MockClusterStore)
	mockEvents := new(MockEventStore)
	svc := NewVersioningService(mockTemplates, mockClusters, mockEvents, 3, nil)

	mockClusters.On("GetByID", ctx, clusterID).Return(&models.Cluster{
		ID:              clusterID,
		ActiveVersionID: &activeID,
	}, nil)
	mockTemplates.On("GetByID", ctx, activeID).Return(&models.TemplateVersion{
		ID:      activeID,
		Version: models.Version{Major: 2, Minor: 1, Patch: 0},
		Body:    "Review {{code}} for {{issue}}",
		Slots:   []models.TemplateSlot{slot("code"), slot("issue")},
	}, nil)

	committedID := uuid.New()
	mockTemplates.On("Commit", ctx, mock.AnythingOfType("*models.TemplateVersion"), &activeID).
		Return(&models.TemplateVersion{
			ID:        committedID,
			ClusterID: clusterID,
			Seq:       4,
			Version:   models.Version{Major: 3, Minor: 0, Patch: 0},
			Body:      "Review {{code}} for {{severity}}",
			Slots:     []models.TemplateSlot{slot("code"), slot("severity")},
		}, nil)
	recorded := echoEvents(mockEvents)

	_, err := svc.Commit(ctx, clusterID, &ExtractedTemplate{
		Body:  "Review {{code}} for {{severity}}",
		Slots: []models.TemplateSlot{slot("code"), slot("severity")},
	}, "drift")
	require.NoError(t, err)

	var types []models.EvolutionEventType
	for _, e := range *recorded {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, models.EventUpdated)
	assert.Contains(t, types, models.EventSlotAdded)
	assert.Contains(t, types, models.EventSlotRemoved)
	require.Len(t, *recorded, 3)
}

func TestBodySkeleton(t *testing.T) {
	a := bodySkeleton("Summarize {{article}} in {{count}} bullets")
	b := bodySkeleton("Summarize {{document}} in {{n}} bullets")
	assert.Equal(t, a, b)

	c := bodySkeleton("Summarize {{article}} using {{count}} bullets")
	assert.NotEqual(t, a, c)
}
