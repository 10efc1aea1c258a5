package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"

	"room-relay/internal/domain"
)

// BadgerMessageRepository guarda el historial como un log embebido.
// Clave: "msg:{hex(room)}:{unixnano con 19 digitos}:{id}", de modo que el
// orden lexicografico dentro de una sala es el orden temporal.
type BadgerMessageRepository struct {
	db *badger.DB
}

func NewBadgerMessageRepository(db *badger.DB) *BadgerMessageRepository {
	return &BadgerMessageRepository{db: db}
}

func roomPrefix(room string) []byte {
	// hex evita que un ':' dentro del nombre de sala cruce prefijos
	return []byte(fmt.Sprintf("msg:%x:", room))
}

func messageKey(message domain.Message) []byte {
	return append(roomPrefix(message.Room),
		[]byte(fmt.Sprintf("%019d:%s", message.Timestamp.UnixNano(), message.ID))...)
}

func (r *BadgerMessageRepository) Create(_ context.Context, message domain.Message) error {
	value, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(message), value)
	})
}

func (r *BadgerMessageRepository) ListRecentByRoom(ctx context.Context, room string, limit int) ([]domain.Message, error) {
	messages := make([]domain.Message, 0, limit)
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := roomPrefix(room)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// En modo reverse, Seek se posiciona en la ultima clave <= seekKey.
		seekKey := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if len(messages) == limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			var msg domain.Message
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &msg)
			})
			if err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}
