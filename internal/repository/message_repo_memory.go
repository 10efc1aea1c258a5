package repository

import (
	"context"
	"sync"

	"room-relay/internal/domain"
)

// MemoryMessageRepository mantiene el historial en memoria del proceso.
type MemoryMessageRepository struct {
	mu    sync.RWMutex
	rooms map[string][]domain.Message
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{rooms: make(map[string][]domain.Message)}
}

func (r *MemoryMessageRepository) Create(_ context.Context, message domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[message.Room] = append(r.rooms[message.Room], message)
	return nil
}

func (r *MemoryMessageRepository) ListRecentByRoom(_ context.Context, room string, limit int) ([]domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.rooms[room]
	if limit < len(all) {
		all = all[len(all)-limit:]
	}
	out := make([]domain.Message, len(all))
	copy(out, all)
	return out, nil
}
