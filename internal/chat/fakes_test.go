package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"room-relay/internal/domain"
)

type fakeConn struct {
	in        chan Frame
	readErrs  chan error
	out       chan Frame
	closed    chan struct{}
	closeOnce sync.Once
	stall     chan struct{}
	// closeGate, si no es nil, hace que Close espere como un transporte real
	// que intenta mandar el close frame con el writer bloqueado
	closeGate chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:       make(chan Frame, 256),
		readErrs: make(chan error, 8),
		out:      make(chan Frame, 1024),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() (Frame, error) {
	select {
	case <-c.closed:
		return Frame{}, io.EOF
	case err := <-c.readErrs:
		return Frame{}, err
	case f, ok := <-c.in:
		if !ok {
			return Frame{}, io.EOF
		}
		return f, nil
	}
}

func (c *fakeConn) WriteFrame(f Frame) error {
	if c.stall != nil {
		select {
		case <-c.stall:
		case <-c.closed:
			return io.ErrClosedPipe
		}
	}
	select {
	case c.out <- f:
		return nil
	case <-c.closed:
		return io.ErrClosedPipe
	}
}

func (c *fakeConn) Close() error {
	if c.closeGate != nil {
		<-c.closeGate
	}
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) push(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	c.in <- Frame{Event: event, Data: data}
}

func (c *fakeConn) hangup() { close(c.in) }

const waitTimeout = 2 * time.Second

func expectFrame(t *testing.T, c *fakeConn, event string) Frame {
	t.Helper()
	select {
	case f := <-c.out:
		if f.Event != event {
			t.Fatalf("expected %q frame, got %q (%s)", event, f.Event, string(f.Data))
		}
		return f
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %q frame", event)
	}
	return Frame{}
}

func expectNoFrame(t *testing.T, c *fakeConn) {
	t.Helper()
	select {
	case f := <-c.out:
		t.Fatalf("expected no frame, got %q (%s)", f.Event, string(f.Data))
	case <-time.After(100 * time.Millisecond):
	}
}

func decodeData[T any](t *testing.T, f Frame) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(f.Data, &v); err != nil {
		t.Fatalf("decode %s data: %v", f.Event, err)
	}
	return v
}

type fakeHistory struct {
	mu        sync.Mutex
	msgs      map[string][]domain.Message
	clock     time.Time
	seq       int
	appendErr error
	recentErr error
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		msgs:  make(map[string][]domain.Message),
		clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (h *fakeHistory) Append(_ context.Context, msg domain.Message) (domain.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.appendErr != nil {
		return domain.Message{}, h.appendErr
	}
	h.seq++
	h.clock = h.clock.Add(time.Millisecond)
	msg.ID = fmt.Sprintf("m%d", h.seq)
	msg.Timestamp = h.clock
	h.msgs[msg.Room] = append(h.msgs[msg.Room], msg)
	return msg, nil
}

func (h *fakeHistory) Recent(_ context.Context, room string, limit int) ([]domain.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.recentErr != nil {
		return nil, h.recentErr
	}
	all := h.msgs[room]
	if limit < len(all) {
		all = all[len(all)-limit:]
	}
	out := make([]domain.Message, len(all))
	copy(out, all)
	return out, nil
}

func (h *fakeHistory) seed(room, author, text string) {
	if _, err := h.Append(context.Background(), domain.Message{Room: room, Author: author, Text: text}); err != nil {
		panic(err)
	}
}

func (h *fakeHistory) count(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs[room])
}

type fakeVerifier struct {
	identities map[string]string
	block      chan struct{}
}

func (v fakeVerifier) Verify(ctx context.Context, token string) (string, error) {
	if v.block != nil {
		select {
		case <-v.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	id, ok := v.identities[token]
	if !ok {
		return "", errors.New("unknown token")
	}
	return id, nil
}

type fakeLimiter struct{ allow bool }

func (l fakeLimiter) Allow(string) bool { return l.allow }

type countingLimiter struct {
	mu    sync.Mutex
	calls int
}

func (l *countingLimiter) Allow(string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return true
}

func (l *countingLimiter) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type harness struct {
	hub     *Hub
	history *fakeHistory
}

func newHarness(t *testing.T, opts Options, configure ...func(*Deps)) *harness {
	t.Helper()
	history := newFakeHistory()
	deps := Deps{History: history, Logger: zap.NewNop()}
	for _, fn := range configure {
		fn(&deps)
	}
	hub := NewHub(deps, opts)
	t.Cleanup(hub.Close)
	return &harness{hub: hub, history: history}
}

// connect corre una sesion para identity y espera a que el hub la registre.
func (h *harness) connect(t *testing.T, identity string) *fakeConn {
	t.Helper()
	return h.connectConn(t, identity, newFakeConn())
}

func (h *harness) connectConn(t *testing.T, identity string, conn *fakeConn) *fakeConn {
	t.Helper()
	before := h.hub.SessionCount()
	go func() { _ = h.hub.Serve(context.Background(), identity, conn) }()
	t.Cleanup(func() { _ = conn.Close() })

	deadline := time.Now().Add(waitTimeout)
	for h.hub.SessionCount() <= before {
		if time.Now().After(deadline) {
			t.Fatalf("session for %q never started", identity)
		}
		time.Sleep(time.Millisecond)
	}
	return conn
}

func (h *harness) join(t *testing.T, c *fakeConn, room string) []HistoryItem {
	t.Helper()
	c.push(t, EventJoinRoom, JoinRoomPayload{Room: room})
	return decodeData[[]HistoryItem](t, expectFrame(t, c, EventLoadMessages))
}
