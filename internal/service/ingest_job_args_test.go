package service

import (
	"context"
	"testing"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/promptlens/core/internal/apperrors"
	"github.com/promptlens/core/internal/models"
)

type MockIngestInserter struct {
	mock.Mock
}

func (m *MockIngestInserter) Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	a := m.Called(ctx, args, opts)
	if a.Get(0) == nil {
		return nil, a.Error(1)
	}
	return a.Get(0).(*rivertype.JobInsertResult), a.Error(1)
}

func TestIngestEnqueuer_Enqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("padded content hashes the same as the pipeline stores it", func(t *testing.T) {
		inserter := new(MockIngestInserter)

		var enqueued PromptIngestArgs
		inserter.On("Insert", ctx, mock.AnythingOfType("service.PromptIngestArgs"), mock.Anything).
			Return(&rivertype.JobInsertResult{Job: &rivertype.JobRow{ID: 1}}, nil).
			Run(func(args mock.Arguments) {
				enqueued = args.Get(1).(PromptIngestArgs)
			})

		enqueuer := NewIngestEnqueuer(inserter, 3)

		hash, err := enqueuer.Enqueue(ctx, "  Summarize this document  ")
		require.NoError(t, err)

		assert.Equal(t, models.HashContent("Summarize this document"), hash)
		assert.Equal(t, hash, enqueued.ContentHash)
		assert.Equal(t, "Summarize this document", enqueued.Content)
		inserter.AssertExpectations(t)
	})

	t.Run("whitespace-only content fails validation before any insert", func(t *testing.T) {
		inserter := new(MockIngestInserter)
		enqueuer := NewIngestEnqueuer(inserter, 3)

		_, err := enqueuer.Enqueue(ctx, "   \n\t ")
		require.ErrorIs(t, err, apperrors.ErrValidation)
		inserter.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
	})
}
