package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/entities"
	"github.com/LeonardoBeccarini/fieldalert/pkg/dedup"
)

// MemoryFieldRepository keeps fields in process memory. It follows the same
// versioning rules as the SQL repository.
type MemoryFieldRepository struct {
	mu     sync.Mutex
	fields map[string]entities.FieldState
	alerts map[string]map[string]*entities.Alert
}

func NewMemoryFieldRepository() *MemoryFieldRepository {
	return &MemoryFieldRepository{
		fields: make(map[string]entities.FieldState),
		alerts: make(map[string]map[string]*entities.Alert),
	}
}

func (r *MemoryFieldRepository) GetByID(_ context.Context, fieldID string) (*entities.Field, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.fields[fieldID]
	if !ok {
		return nil, nil
	}
	var active []*entities.Alert
	for _, a := range r.sortedAlerts(fieldID) {
		if a.IsActive() {
			active = append(active, a)
		}
	}
	return entities.RehydrateField(state, active)
}

func (r *MemoryFieldRepository) Save(_ context.Context, f *entities.Field) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := f.State()
	stored, exists := r.fields[s.ID]
	if exists != (s.Version != 0) || stored.Version != s.Version {
		return fmt.Errorf("save field %s at version %d: %w", s.ID, s.Version, ErrConcurrentModification)
	}

	s.Version++
	r.fields[s.ID] = s
	if r.alerts[s.ID] == nil {
		r.alerts[s.ID] = make(map[string]*entities.Alert)
	}
	for _, a := range f.Alerts() {
		r.alerts[s.ID][a.ID.String()] = a
	}
	f.SetVersion(s.Version)
	return nil
}

// AlertHistory returns the latest alerts of a field, newest first.
func (r *MemoryFieldRepository) AlertHistory(_ context.Context, fieldID string, limit int) ([]*entities.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.sortedAlerts(fieldID)
	out := make([]*entities.Alert, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// sortedAlerts returns copies ordered by start time. Callers hold mu.
func (r *MemoryFieldRepository) sortedAlerts(fieldID string) []*entities.Alert {
	out := make([]*entities.Alert, 0, len(r.alerts[fieldID]))
	for _, a := range r.alerts[fieldID] {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// MemoryIdempotencyStore is a bounded, expiring marker set for single-process runs.
type MemoryIdempotencyStore struct {
	seen *dedup.Deduper
}

func NewMemoryIdempotencyStore(ttl time.Duration, max int) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{seen: dedup.New(ttl, max)}
}

func (s *MemoryIdempotencyStore) Exists(_ context.Context, readingID string) (bool, error) {
	return s.seen.Seen(readingID), nil
}

func (s *MemoryIdempotencyStore) MarkProcessed(_ context.Context, p entities.ProcessedReading) error {
	s.seen.Mark(p.ReadingID)
	return nil
}
