package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptlens/core/internal/models"
)

// EventsRepository handles the append-only evolution event log.
type EventsRepository struct {
	db *pgxpool.Pool
}

// NewEventsRepository creates a new evolution events repository.
func NewEventsRepository(db *pgxpool.Pool) *EventsRepository {
	return &EventsRepository{db: db}
}

// Create appends an evolution event.
func (r *EventsRepository) Create(ctx context.Context, e *models.EvolutionEvent) (*models.EvolutionEvent, error) {
	query := `
		INSERT INTO evolution_events (cluster_id, event_type, previous_version_id, new_version_id, reason, detected_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, cluster_id, event_type, previous_version_id, new_version_id, reason, detected_by, created_at
	`

	var out models.EvolutionEvent
	err := r.db.QueryRow(ctx, query,
		e.ClusterID, e.Type, e.PreviousVersionID, e.NewVersionID, e.Reason, e.DetectedBy,
	).Scan(&out.ID, &out.ClusterID, &out.Type, &out.PreviousVersionID, &out.NewVersionID, &out.Reason, &out.DetectedBy, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create evolution event: %w", err)
	}

	return &out, nil
}

const eventWithVersionsQuery = `
	SELECT e.id, e.cluster_id, e.event_type, e.previous_version_id, e.new_version_id,
	       pv.major, pv.minor, pv.patch, nv.major, nv.minor, nv.patch,
	       e.reason, e.detected_by, e.created_at
	FROM evolution_events e
	LEFT JOIN template_versions pv ON pv.id = e.previous_version_id
	LEFT JOIN template_versions nv ON nv.id = e.new_version_id
`

func (r *EventsRepository) queryEvents(ctx context.Context, query string, args ...interface{}) ([]models.EvolutionEvent, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list evolution events: %w", err)
	}
	defer rows.Close()

	events := []models.EvolutionEvent{}
	for rows.Next() {
		var e models.EvolutionEvent
		var pMaj, pMin, pPat, nMaj, nMin, nPat *int
		err := rows.Scan(
			&e.ID, &e.ClusterID, &e.Type, &e.PreviousVersionID, &e.NewVersionID,
			&pMaj, &pMin, &pPat, &nMaj, &nMin, &nPat,
			&e.Reason, &e.DetectedBy, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evolution event: %w", err)
		}
		if pMaj != nil {
			e.PreviousVersion = &models.Version{Major: *pMaj, Minor: *pMin, Patch: *pPat}
		}
		if nMaj != nil {
			e.NewVersion = &models.Version{Major: *nMaj, Minor: *nMin, Patch: *nPat}
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evolution events: %w", err)
	}

	return events, nil
}

// ListByCluster returns a cluster's evolution history, newest first.
func (r *EventsRepository) ListByCluster(ctx context.Context, clusterID uuid.UUID, limit, offset int) ([]models.EvolutionEvent, error) {
	query := eventWithVersionsQuery + `
		WHERE e.cluster_id = $1
		ORDER BY e.created_at DESC
		LIMIT $2 OFFSET $3
	`
	return r.queryEvents(ctx, query, clusterID, limit, offset)
}

// ListRecent returns the most recent evolution events across all clusters.
func (r *EventsRepository) ListRecent(ctx context.Context, limit int) ([]models.EvolutionEvent, error) {
	query := eventWithVersionsQuery + `
		ORDER BY e.created_at DESC
		LIMIT $1
	`
	return r.queryEvents(ctx, query, limit)
}

// LastEventOfType returns the most recent event of the given type for a
// cluster, or nil when none exists.
func (r *EventsRepository) LastEventOfType(ctx context.Context, clusterID uuid.UUID, eventType models.EvolutionEventType) (*models.EvolutionEvent, error) {
	query := eventWithVersionsQuery + `
		WHERE e.cluster_id = $1 AND e.event_type = $2
		ORDER BY e.created_at DESC
		LIMIT 1
	`

	events, err := r.queryEvents(ctx, query, clusterID, eventType)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	return &events[0], nil
}
