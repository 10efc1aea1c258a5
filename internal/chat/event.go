package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"room-relay/internal/domain"
)

// Nombres de eventos del protocolo.
const (
	EventJoinRoom     = "joinRoom"
	EventSendMessage  = "sendMessage"
	EventLoadMessages = "loadMessages"
	EventMessage      = "message"
	EventError        = "error"
)

// SystemUser es el autor de los avisos de presencia.
const SystemUser = "System"

// Frame es la unidad que viaja por la conexion: {"event": ..., "data": ...}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinRoomPayload struct {
	Room string `json:"room" validate:"required,max=128"`
}

type SendMessagePayload struct {
	Room string `json:"room" validate:"required,max=128"`
	Text string `json:"text" validate:"required"`
}

type HistoryItem struct {
	User      string    `json:"user"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type MessagePayload struct {
	User      string     `json:"user"`
	Text      string     `json:"text"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	System    bool       `json:"system,omitempty"`
}

type ErrorPayload struct {
	Msg  string `json:"msg"`
	Code string `json:"code,omitempty"`
}

var validate = validator.New()

func decodePayload(data json.RawMessage, dst any) error {
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("%w: missing data", ErrValidation)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: malformed data", ErrValidation)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "invalid data"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return field + " is too long"
	default:
		return field + " is invalid"
	}
}

func newFrame(event string, payload any) Frame {
	data, err := json.Marshal(payload)
	if err != nil {
		// los payloads son structs planos, Marshal no falla
		panic(fmt.Sprintf("marshal %s payload: %v", event, err))
	}
	return Frame{Event: event, Data: data}
}

func messageFrame(msg domain.Message) Frame {
	ts := msg.Timestamp
	return newFrame(EventMessage, MessagePayload{
		User:      msg.Author,
		Text:      msg.Text,
		Timestamp: &ts,
	})
}

func presenceFrame(text string) Frame {
	return newFrame(EventMessage, MessagePayload{
		User:   SystemUser,
		Text:   text,
		System: true,
	})
}

func joinedText(identity string) string { return identity + " has joined" }

func leftText(identity string) string { return identity + " has left" }

func loadMessagesFrame(history []domain.Message) Frame {
	items := lo.Map(history, func(m domain.Message, _ int) HistoryItem {
		return HistoryItem{User: m.Author, Text: m.Text, Timestamp: m.Timestamp}
	})
	return newFrame(EventLoadMessages, items)
}

func errorFrame(err error) Frame {
	return newFrame(EventError, ErrorPayload{
		Msg:  errorMessage(err),
		Code: errorCode(err),
	})
}
