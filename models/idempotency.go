package models

import "time"

type IdempotencyStatus string

const (
	IdempotencyPending   IdempotencyStatus = "pending"
	IdempotencyCommitted IdempotencyStatus = "committed"
)

// IdempotencyKey scopes "at most one effect" to one match and one operation.
type IdempotencyKey struct {
	MatchID   int    `json:"match_id"`
	Operation string `json:"operation"`
	ClientKey string `json:"client_key"`
}

// IdempotencyRecord хранит исходный ответ на мутирующую команду.
// Response пуст, пока запись в статусе pending.
type IdempotencyRecord struct {
	Key       IdempotencyKey    `json:"key"`
	Status    IdempotencyStatus `json:"status"`
	Token     string            `json:"token"`
	Response  []byte            `json:"response,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}
