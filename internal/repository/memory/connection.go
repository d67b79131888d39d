// Package memory holds in-memory store implementations used by tests and by
// the local development mode. They honor the same contracts as the postgres
// stores, including compare-and-set on the connection version.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carebridgehq/carebridge/internal/domain/connection"
)

type ConnectionRepository struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]connection.Connection
	pairs map[[2]uuid.UUID]uuid.UUID
}

func NewConnectionRepository() *ConnectionRepository {
	return &ConnectionRepository{
		byID:  make(map[uuid.UUID]connection.Connection),
		pairs: make(map[[2]uuid.UUID]uuid.UUID),
	}
}

var _ connection.Repository = (*ConnectionRepository)(nil)

func pairKey(patientID, providerID uuid.UUID) [2]uuid.UUID {
	return [2]uuid.UUID{patientID, providerID}
}

func (r *ConnectionRepository) Create(_ context.Context, c *connection.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey(c.PatientID, c.ProviderID)
	if _, ok := r.pairs[key]; ok {
		return connection.ErrAlreadyExists
	}

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Version == 0 {
		c.Version = 1
	}

	r.byID[c.ID] = *c
	r.pairs[key] = c.ID
	return nil
}

func (r *ConnectionRepository) GetByID(_ context.Context, id uuid.UUID) (*connection.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[id]
	if !ok {
		return nil, connection.ErrNotFound
	}
	cp := c
	return &cp, nil
}

func (r *ConnectionRepository) GetByPair(_ context.Context, patientID, providerID uuid.UUID) (*connection.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.pairs[pairKey(patientID, providerID)]
	if !ok {
		return nil, connection.ErrNotFound
	}
	c := r.byID[id]
	return &c, nil
}

// Update applies the compare-and-set: the write succeeds only if the stored
// version still matches the version the caller loaded.
func (r *ConnectionRepository) Update(_ context.Context, c *connection.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[c.ID]
	if !ok {
		return connection.ErrNotFound
	}
	if stored.Version != c.Version {
		return connection.ErrStoreConflict
	}

	c.Version++
	r.byID[c.ID] = *c
	return nil
}

func (r *ConnectionRepository) Delete(_ context.Context, id uuid.UUID, version int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[id]
	if !ok {
		return connection.ErrNotFound
	}
	if stored.Version != version {
		return connection.ErrStoreConflict
	}

	delete(r.byID, id)
	delete(r.pairs, pairKey(stored.PatientID, stored.ProviderID))
	return nil
}

func (r *ConnectionRepository) List(_ context.Context, q *connection.ListQuery) (*connection.PagedConnections, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*connection.Connection
	for id := range r.byID {
		c := r.byID[id]
		if q.PatientID != nil && c.PatientID != *q.PatientID {
			continue
		}
		if q.ProviderID != nil && c.ProviderID != *q.ProviderID {
			continue
		}
		if q.State != nil && c.State != *q.State {
			continue
		}
		cp := c
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StateUpdatedAt.After(matched[j].StateUpdatedAt)
	})

	page, pageSize := q.Page, q.PageSize
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total := int64(len(matched))
	start := (page - 1) * pageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}

	return &connection.PagedConnections{
		Connections: matched[start:end],
		TotalCount:  total,
		Page:        page,
		PageSize:    pageSize,
		TotalPages:  int((total + int64(pageSize) - 1) / int64(pageSize)),
	}, nil
}

func (r *ConnectionRepository) ListPendingByPatient(_ context.Context, patientID uuid.UUID) ([]*connection.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []*connection.Connection
	for id := range r.byID {
		c := r.byID[id]
		if c.PatientID == patientID && c.State == connection.StateLimitedPending {
			cp := c
			pending = append(pending, &cp)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].StateUpdatedAt.After(pending[j].StateUpdatedAt)
	})
	return pending, nil
}

func (r *ConnectionRepository) MarkPatientNotified(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[id]
	if !ok {
		return connection.ErrNotFound
	}
	c.PatientNotified = true
	c.PatientNotifiedAt = &at
	r.byID[id] = c
	return nil
}
