package domain

import "time"

// Message es un mensaje de chat persistido; no se modifica despues de creado.
type Message struct {
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	Author    string    `json:"user"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
