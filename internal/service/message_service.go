package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"room-relay/internal/domain"
	"room-relay/internal/repository"
)

// MessageService es el historial de salas: asigna ID y timestamp a cada
// mensaje antes de persistirlo y responde las ventanas recientes.
type MessageService struct {
	repo  repository.MessageRepository
	now   func() time.Time
	rooms roomLocks

	mu       sync.Mutex // protege lastSeen
	lastSeen map[string]time.Time
}

var (
	ErrMessageServiceNotConfigured = errors.New("message service not configured")
	ErrMessageInvalidInput         = errors.New("message invalid input")
)

const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 200
)

func NewMessageService(repo repository.MessageRepository) *MessageService {
	return &MessageService{
		repo:     repo,
		now:      time.Now,
		rooms:    roomLocks{locks: make(map[string]*roomLock)},
		lastSeen: make(map[string]time.Time),
	}
}

// Append persiste msg y devuelve la version guardada. El timestamp es UTC con
// precision de microsegundos y estrictamente creciente dentro de la sala.
func (s *MessageService) Append(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if s == nil || s.repo == nil {
		return domain.Message{}, ErrMessageServiceNotConfigured
	}

	msg.Author = strings.TrimSpace(msg.Author)
	if msg.Room == "" || msg.Author == "" || strings.TrimSpace(msg.Text) == "" {
		return domain.Message{}, ErrMessageInvalidInput
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	// el lock de la sala cubre el insert para que el orden de timestamps
	// coincida con el de escritura; otras salas siguen en paralelo
	unlock := s.rooms.lock(msg.Room)
	defer unlock()

	last, err := s.lastTimestamp(ctx, msg.Room)
	if err != nil {
		return domain.Message{}, err
	}
	ts := s.now().UTC().Truncate(time.Microsecond)
	if !ts.After(last) {
		ts = last.Add(time.Microsecond)
	}
	msg.Timestamp = ts

	if err := s.repo.Create(ctx, msg); err != nil {
		return domain.Message{}, fmt.Errorf("save message: %w", err)
	}
	s.setLastSeen(msg.Room, ts)
	return msg, nil
}

// lastTimestamp se llama con el lock de room tomado.
func (s *MessageService) lastTimestamp(ctx context.Context, room string) (time.Time, error) {
	s.mu.Lock()
	last, ok := s.lastSeen[room]
	s.mu.Unlock()
	if ok {
		return last, nil
	}
	recent, err := s.repo.ListRecentByRoom(ctx, room, 1)
	if err != nil {
		return time.Time{}, fmt.Errorf("load last message: %w", err)
	}
	last = time.Time{}
	if len(recent) > 0 {
		last = recent[len(recent)-1].Timestamp.UTC()
	}
	s.setLastSeen(room, last)
	return last, nil
}

func (s *MessageService) setLastSeen(room string, ts time.Time) {
	s.mu.Lock()
	s.lastSeen[room] = ts
	s.mu.Unlock()
}

// Recent devuelve hasta limit mensajes de room, del mas antiguo al mas nuevo.
// limit <= 0 usa DefaultRecentLimit y se acota a MaxRecentLimit.
func (s *MessageService) Recent(ctx context.Context, room string, limit int) ([]domain.Message, error) {
	if s == nil || s.repo == nil {
		return nil, ErrMessageServiceNotConfigured
	}
	if room == "" {
		return []domain.Message{}, nil
	}
	out, err := s.repo.ListRecentByRoom(ctx, room, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Message{}
	}
	return out, nil
}

func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultRecentLimit
	case limit > MaxRecentLimit:
		return MaxRecentLimit
	default:
		return limit
	}
}

type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

// lock serializa por sala; la entrada se borra cuando nadie la espera.
func (l *roomLocks) lock(room string) func() {
	l.mu.Lock()
	rl, ok := l.locks[room]
	if !ok {
		rl = &roomLock{}
		l.locks[room] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, room)
		}
		l.mu.Unlock()
	}
}
