package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"room-relay/internal/domain"
)

// Conn es el transporte bidireccional de una sesion. ReadFrame devuelve un
// error que envuelve ErrValidation cuando el frame llego pero no se pudo
// decodificar; cualquier otro error indica que la conexion termino.
// WriteFrame solo se llama desde una goroutine a la vez.
type Conn interface {
	ReadFrame() (Frame, error)
	WriteFrame(frame Frame) error
	Close() error
}

type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session es la conexion autenticada de un cliente. Los eventos entrantes se
// procesan en orden en la goroutine de Run; la salida pasa por una cola
// acotada drenada por writeLoop.
type Session struct {
	id       string
	identity string
	conn     Conn

	registry    *Registry
	broadcaster *Broadcaster
	history     HistoryStore
	limiter     RateLimiter
	logger      *zap.Logger
	opts        Options

	state     atomic.Int32
	send      chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(identity string, conn Conn, deps Deps, opts Options) *Session {
	s := &Session{
		id:          uuid.NewString(),
		identity:    identity,
		conn:        conn,
		registry:    deps.Registry,
		broadcaster: deps.Broadcaster,
		history:     deps.History,
		limiter:     deps.Limiter,
		opts:        opts,
		send:        make(chan Frame, opts.SendBuffer),
		done:        make(chan struct{}),
	}
	s.logger = deps.Logger.With(
		zap.String("session_id", s.id),
		zap.String("user_id", identity),
	)
	s.state.Store(int32(StateAuthenticated))
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Identity() string { return s.identity }

func (s *Session) State() State { return State(s.state.Load()) }

// Deliver encola frame para el writer. Si la cola esta llena el cliente no
// consume a tiempo: se cierra la sesion en lugar de perder frames en silencio.
func (s *Session) Deliver(frame Frame) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		s.logger.Warn("slow consumer, closing session", zap.Int("buffer", cap(s.send)))
		s.evict()
		return false
	}
}

// Close corta la conexion; Run hace el resto de la limpieza.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// evict es Close para el camino de fan-out: se llama con el lock de la sala
// tomado, y cerrar el transporte puede esperar al writer bloqueado.
func (s *Session) evict() {
	s.closeOnce.Do(func() {
		close(s.done)
		go func() { _ = s.conn.Close() }()
	})
}

// Run procesa la conexion hasta que se cierra y luego sale de todas las salas.
func (s *Session) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()

	s.readLoop(ctx)
	s.Close()
	s.disconnect()
	wg.Wait()
}

func (s *Session) readLoop(ctx context.Context) {
	decodeErrors := 0
	for {
		frame, err := s.conn.ReadFrame()
		if err != nil {
			if !errors.Is(err, ErrValidation) {
				s.logger.Debug("connection closed", zap.Error(err))
				return
			}
			decodeErrors++
			s.reportError(err)
			if s.opts.MaxDecodeErrors > 0 && decodeErrors >= s.opts.MaxDecodeErrors {
				s.logger.Warn("too many malformed frames", zap.Int("count", decodeErrors))
				return
			}
			continue
		}
		decodeErrors = 0
		s.handle(ctx, frame)
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.send:
			if err := s.conn.WriteFrame(frame); err != nil {
				s.logger.Debug("write failed", zap.Error(err))
				s.Close()
				return
			}
		}
	}
}

func (s *Session) handle(ctx context.Context, frame Frame) {
	var err error
	switch frame.Event {
	case EventJoinRoom:
		err = s.joinRoom(ctx, frame)
	case EventSendMessage:
		err = s.sendMessage(ctx, frame)
	default:
		err = fmt.Errorf("%w: unsupported event %q", ErrValidation, frame.Event)
	}
	if err != nil {
		s.reportError(err)
	}
}

func (s *Session) joinRoom(ctx context.Context, frame Frame) error {
	var payload JoinRoomPayload
	if err := decodePayload(frame.Data, &payload); err != nil {
		return err
	}
	room := payload.Room
	if strings.TrimSpace(room) == "" {
		return fmt.Errorf("%w: room is required", ErrValidation)
	}

	var historyErr error
	s.broadcaster.Sequence(room, func() {
		if s.registry.Join(room, s) {
			s.broadcaster.ToRoomExceptSelf(room, presenceFrame(joinedText(s.identity)), s)
		}
		s.state.Store(int32(StateJoined))

		history, err := s.history.Recent(ctx, room, s.opts.HistoryLimit)
		if err != nil {
			historyErr = fmt.Errorf("%w: load history: %v", ErrPersistence, err)
			return
		}
		s.broadcaster.ToMember(s, loadMessagesFrame(history))
	})
	if historyErr != nil {
		s.logger.Error("load history failed", zap.String("room", room), zap.Error(historyErr))
		return historyErr
	}

	s.logger.Info("joined room", zap.String("room", room))
	return nil
}

func (s *Session) sendMessage(ctx context.Context, frame Frame) error {
	var payload SendMessagePayload
	if err := decodePayload(frame.Data, &payload); err != nil {
		return err
	}
	if strings.TrimSpace(payload.Room) == "" {
		return fmt.Errorf("%w: room is required", ErrValidation)
	}
	if strings.TrimSpace(payload.Text) == "" {
		return fmt.Errorf("%w: text is required", ErrValidation)
	}
	if s.opts.MaxMessageRunes > 0 && utf8.RuneCountInString(payload.Text) > s.opts.MaxMessageRunes {
		return fmt.Errorf("%w: text must be at most %d characters", ErrValidation, s.opts.MaxMessageRunes)
	}
	// la membresia de la sesion solo cambia desde esta goroutine, asi que el
	// chequeo es valido antes de gastar cupo del limiter
	if !s.registry.IsMember(payload.Room, s) {
		return fmt.Errorf("%w: %s", ErrNotAMember, payload.Room)
	}
	if s.limiter != nil && !s.limiter.Allow(s.identity) {
		return ErrRateLimited
	}

	var sendErr error
	s.broadcaster.Sequence(payload.Room, func() {
		if !s.registry.IsMember(payload.Room, s) {
			sendErr = fmt.Errorf("%w: %s", ErrNotAMember, payload.Room)
			return
		}
		msg, err := s.history.Append(ctx, domain.Message{
			Room:   payload.Room,
			Author: s.identity,
			Text:   payload.Text,
		})
		if err != nil {
			sendErr = fmt.Errorf("%w: %v", ErrPersistence, err)
			return
		}
		s.broadcaster.ToRoomAll(payload.Room, messageFrame(msg))
	})
	if errors.Is(sendErr, ErrPersistence) {
		s.logger.Error("persist message failed", zap.String("room", payload.Room), zap.Error(sendErr))
	}
	return sendErr
}

// disconnect saca la sesion de cada sala avisando a quienes quedan.
func (s *Session) disconnect() {
	for _, room := range s.registry.RoomsOf(s) {
		s.broadcaster.Sequence(room, func() {
			if s.registry.Leave(room, s) {
				s.broadcaster.ToRoomAll(room, presenceFrame(leftText(s.identity)))
			}
		})
	}
	s.state.Store(int32(StateDisconnected))
	s.logger.Info("session disconnected")
}

func (s *Session) reportError(err error) {
	if errors.Is(err, ErrValidation) {
		s.logger.Debug("rejected frame", zap.Error(err))
	}
	s.broadcaster.ToMember(s, errorFrame(err))
}
