package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"room-relay/internal/domain"
)

// MessageRepository persiste mensajes de sala. ListRecentByRoom devuelve los
// ultimos limit mensajes ordenados del mas antiguo al mas reciente.
type MessageRepository interface {
	Create(ctx context.Context, message domain.Message) error
	ListRecentByRoom(ctx context.Context, room string, limit int) ([]domain.Message, error)
}

type PgMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPgMessageRepository(pool *pgxpool.Pool) *PgMessageRepository {
	return &PgMessageRepository{pool: pool}
}

func (r *PgMessageRepository) Create(ctx context.Context, message domain.Message) error {
	const query = `
		INSERT INTO messages (id, room, author, text, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query,
		message.ID,
		message.Room,
		message.Author,
		message.Text,
		message.Timestamp,
	)
	return err
}

func (r *PgMessageRepository) ListRecentByRoom(ctx context.Context, room string, limit int) ([]domain.Message, error) {
	const query = `
		SELECT id::text, room, author, text, created_at
		FROM (
			SELECT seq, id, room, author, text, created_at
			FROM messages
			WHERE room = $1
			ORDER BY created_at DESC, seq DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := r.pool.Query(ctx, query, room, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]domain.Message, 0, limit)
	for rows.Next() {
		var msg domain.Message
		err = rows.Scan(
			&msg.ID,
			&msg.Room,
			&msg.Author,
			&msg.Text,
			&msg.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		msg.Timestamp = msg.Timestamp.UTC()
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}
