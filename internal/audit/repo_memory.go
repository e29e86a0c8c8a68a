package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps audit events in arrival order. Tests and local runs only.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
	byType map[EventType][]int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byType: map[EventType][]int{}}
}

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[e.Type] = append(r.byType[e.Type], len(r.events))
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of every event recorded so far.
func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the events of one type in arrival order.
func (r *MemoryRepo) OfType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.byType[t]
	out := make([]Event, 0, len(idx))
	for _, i := range idx {
		out = append(out, r.events[i])
	}
	return out
}

// ForBatch returns every event that names the batch.
func (r *MemoryRepo) ForBatch(batchID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.BatchID == batchID {
			out = append(out, e)
		}
	}
	return out
}
