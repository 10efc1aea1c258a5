package chat

import (
	"sync"

	"go.uber.org/zap"
)

// Broadcaster entrega frames a los miembros de una sala. La entrega es un
// encolado no bloqueante por destinatario; cada sesion escribe a su socket
// desde su propia goroutine.
type Broadcaster struct {
	registry *Registry
	logger   *zap.Logger
	locks    roomLocks
}

func NewBroadcaster(registry *Registry, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		registry: registry,
		logger:   logger,
		locks:    roomLocks{locks: make(map[string]*roomLock)},
	}
}

// Sequence ejecuta fn con la sala bloqueada. Todo lo que muta la membresia o
// publica en la sala pasa por aqui, asi el orden de encolado es el mismo para
// todos los miembros. fn no debe volver a llamar a Sequence para la misma sala.
func (b *Broadcaster) Sequence(room string, fn func()) {
	unlock := b.locks.lock(room)
	defer unlock()
	fn()
}

// ToRoomAll entrega a todos los miembros actuales. Devuelve cuantos lo recibieron.
func (b *Broadcaster) ToRoomAll(room string, frame Frame) int {
	return b.fanout(room, frame, nil)
}

// ToRoomExceptSelf entrega a todos los miembros salvo excluded.
func (b *Broadcaster) ToRoomExceptSelf(room string, frame Frame, excluded Member) int {
	return b.fanout(room, frame, excluded)
}

func (b *Broadcaster) ToMember(m Member, frame Frame) bool {
	if m.Deliver(frame) {
		return true
	}
	b.logger.Warn("direct delivery dropped",
		zap.String("session_id", m.ID()),
		zap.String("event", frame.Event),
	)
	return false
}

func (b *Broadcaster) fanout(room string, frame Frame, excluded Member) int {
	delivered := 0
	for _, m := range b.registry.MembersOf(room) {
		if excluded != nil && m == excluded {
			continue
		}
		if m.Deliver(frame) {
			delivered++
			continue
		}
		b.logger.Warn("broadcast delivery dropped",
			zap.String("room", room),
			zap.String("session_id", m.ID()),
			zap.String("event", frame.Event),
		)
	}
	return delivered
}

type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

// lock toma el mutex de la sala; la entrada se libera cuando nadie la usa.
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
