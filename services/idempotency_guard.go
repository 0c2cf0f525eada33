package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/match-engine/models"
	"github.com/Dosada05/match-engine/repositories"
	"github.com/google/uuid"
)

const (
	DefaultIdempotencyRetention = 24 * time.Hour
	// Срок резерва незавершённого запроса; после него ключ снова доступен.
	DefaultPendingLease = 2 * time.Minute
)

// Reservation is the handle of a reserved key. The zero value means
// idempotency was skipped (no client key).
type Reservation struct {
	key   models.IdempotencyKey
	token string
}

func (r Reservation) Active() bool { return r.token != "" }

// IdempotencyGuard makes a retried mutating command return the original response.
type IdempotencyGuard struct {
	store        repositories.IdempotencyStore
	retention    time.Duration
	pendingLease time.Duration
	logger       *slog.Logger
}

// NewIdempotencyGuard reserves keys for pendingLease and keeps committed
// responses for retention.
func NewIdempotencyGuard(store repositories.IdempotencyStore, retention, pendingLease time.Duration, logger *slog.Logger) *IdempotencyGuard {
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}
	if pendingLease <= 0 {
		pendingLease = DefaultPendingLease
	}
	if pendingLease > retention {
		pendingLease = retention
	}
	return &IdempotencyGuard{store: store, retention: retention, pendingLease: pendingLease, logger: logger}
}

// CheckAndReserve returns the stored response when the triple was already
// committed, or reserves it for the caller. An empty client key skips the guard.
func (g *IdempotencyGuard) CheckAndReserve(ctx context.Context, matchID int, operation, clientKey string) (Reservation, *MatchResponse, bool, error) {
	if clientKey == "" || g == nil || g.store == nil {
		return Reservation{}, nil, false, nil
	}
	key := models.IdempotencyKey{MatchID: matchID, Operation: operation, ClientKey: clientKey}
	token := uuid.NewString()

	existing, reserved, err := g.store.Reserve(ctx, key, token, g.pendingLease)
	if err != nil {
		if errors.Is(err, repositories.ErrReservationLost) {
			return Reservation{}, nil, false, ErrIdempotencyInFlight
		}
		return Reservation{}, nil, false, fmt.Errorf("idempotency check for match %d: %w", matchID, err)
	}
	if reserved {
		return Reservation{key: key, token: token}, nil, false, nil
	}

	if existing == nil || existing.Status != models.IdempotencyCommitted {
		return Reservation{}, nil, false, ErrIdempotencyInFlight
	}
	var resp MatchResponse
	if err := json.Unmarshal(existing.Response, &resp); err != nil {
		return Reservation{}, nil, false, fmt.Errorf("decode stored response for match %d: %w", matchID, err)
	}
	resp.Meta.IdempotentReplay = true
	return Reservation{}, &resp, true, nil
}

// Commit stores the final response under the reserved key and extends it to the retention window.
func (g *IdempotencyGuard) Commit(ctx context.Context, r Reservation, resp *MatchResponse) error {
	if !r.Active() {
		return nil
	}
	stored := *resp
	stored.Meta = ResponseMeta{}
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode response for idempotency: %w", err)
	}
	if err := g.store.Commit(context.WithoutCancel(ctx), r.key, r.token, raw, g.retention); err != nil {
		return fmt.Errorf("commit idempotency key for match %d: %w", r.key.MatchID, err)
	}
	return nil
}

// Release drops a pending reservation so the client may retry with the same key.
func (g *IdempotencyGuard) Release(ctx context.Context, r Reservation) {
	if !r.Active() {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := g.store.Release(ctx, r.key, r.token); err != nil {
		g.logger.WarnContext(ctx, "failed to release idempotency key",
			slog.Int("match_id", r.key.MatchID),
			slog.String("operation", r.key.Operation),
			slog.Any("error", err))
	}
}
