package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"room-relay/internal/domain"
)

// TokenVerifier valida un bearer token y devuelve la identidad del sujeto.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// HistoryStore persiste mensajes y responde los mas recientes de una sala,
// del mas antiguo al mas nuevo. Append asigna ID y Timestamp.
type HistoryStore interface {
	Append(ctx context.Context, msg domain.Message) (domain.Message, error)
	Recent(ctx context.Context, room string, limit int) ([]domain.Message, error)
}

// RateLimiter limita envios por identidad. nil deshabilita el limite.
type RateLimiter interface {
	Allow(key string) bool
}

// Deps son los colaboradores compartidos por todas las sesiones.
type Deps struct {
	Verifier    TokenVerifier
	Registry    *Registry
	Broadcaster *Broadcaster
	History     HistoryStore
	Limiter     RateLimiter
	Logger      *zap.Logger
}

type Options struct {
	AuthTimeout     time.Duration
	HistoryLimit    int
	SendBuffer      int
	MaxMessageRunes int
	MaxDecodeErrors int
}

const (
	DefaultHistoryLimit = 50
	defaultSendBuffer   = 256
	defaultAuthTimeout  = 5 * time.Second
)

// Hub autentica conexiones y corre una Session por cada una.
type Hub struct {
	deps Deps
	opts Options

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

func NewHub(deps Deps, opts Options) *Hub {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Broadcaster == nil {
		deps.Broadcaster = NewBroadcaster(deps.Registry, deps.Logger)
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = defaultAuthTimeout
	}
	return &Hub{
		deps:     deps,
		opts:     opts,
		sessions: make(map[*Session]struct{}),
	}
}

func (h *Hub) Registry() *Registry { return h.deps.Registry }

func (h *Hub) History() HistoryStore { return h.deps.History }

// Authenticate verifica el token dentro de AuthTimeout. Cualquier fallo se
// devuelve envuelto en ErrAuthentication y no deja estado.
func (h *Hub) Authenticate(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: missing token", ErrAuthentication)
	}
	if h.deps.Verifier == nil {
		return "", fmt.Errorf("%w: verifier not configured", ErrAuthentication)
	}

	ctx, cancel := context.WithTimeout(ctx, h.opts.AuthTimeout)
	defer cancel()

	type result struct {
		identity string
		err      error
	}
	resCh := make(chan result, 1)
	go func() {
		identity, err := h.deps.Verifier.Verify(ctx, token)
		resCh <- result{identity: identity, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrAuthentication, ctx.Err())
	case res := <-resCh:
		if res.err != nil {
			return "", fmt.Errorf("%w: %v", ErrAuthentication, res.err)
		}
		identity := strings.TrimSpace(res.identity)
		if identity == "" {
			return "", fmt.Errorf("%w: empty identity", ErrAuthentication)
		}
		return identity, nil
	}
}

// Serve corre la sesion de identity sobre conn y bloquea hasta que termina.
func (h *Hub) Serve(ctx context.Context, identity string, conn Conn) error {
	s := newSession(identity, conn, h.deps, h.opts)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return ErrSessionClosed
	}
	h.sessions[s] = struct{}{}
	h.mu.Unlock()

	s.logger.Info("session connected")
	s.Run(ctx)

	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	return nil
}

// Close cierra todas las sesiones vivas sin emitir avisos de salida.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		h.deps.Registry.LeaveAll(s)
		s.Close()
	}
	h.deps.Logger.Info("hub closed", zap.Int("sessions", len(sessions)))
}

// SessionCount devuelve la cantidad de sesiones vivas.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
