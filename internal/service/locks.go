// Package service implements the assignment, extraction, versioning, drift,
// and family business logic on top of the repositories.
package service

import (
	"sync"

	"github.com/google/uuid"
)

// ClusterLocks hands out one mutex per cluster ID so centroid, member count,
// and dispersion read-modify-writes are serialized per cluster while distinct
// clusters proceed in parallel. The assignment engine and the drift tracker
// must share one instance. Entries are never evicted; the map grows with the
// number of live clusters in this process, which is bounded in practice.
type ClusterLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewClusterLocks creates an empty lock set.
func NewClusterLocks() *ClusterLocks {
	return &ClusterLocks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *ClusterLocks) get(id uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}

	return m
}

// Lock acquires the mutex for a cluster and returns its unlock function.
func (l *ClusterLocks) Lock(id uuid.UUID) func() {
	m := l.get(id)
	m.Lock()
	return m.Unlock
}
