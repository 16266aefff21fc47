package memory

import (
	"context"
	"sync"

	"mpcomm/internal/core/domain"
	"mpcomm/internal/core/ports"
)

type MemoryPresenceRepository struct {
	busy map[domain.ContactID]domain.CallID
	mu   sync.RWMutex
}

func NewMemoryPresenceRepository() ports.PresenceRepository {
	return &MemoryPresenceRepository{
		busy: make(map[domain.ContactID]domain.CallID),
	}
}

func (r *MemoryPresenceRepository) SetBusy(ctx context.Context, contactID domain.ContactID, callID domain.CallID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.busy[contactID] = callID
	return nil
}

func (r *MemoryPresenceRepository) ClearBusy(ctx context.Context, contactID domain.ContactID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.busy, contactID)
	return nil
}

func (r *MemoryPresenceRepository) IsBusy(ctx context.Context, contactID domain.ContactID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.busy[contactID]
	return exists, nil
}

func (r *MemoryPresenceRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.busy = make(map[domain.ContactID]domain.CallID)
	return nil
}
