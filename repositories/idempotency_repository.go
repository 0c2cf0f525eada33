package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/match-engine/models"
)

var (
	// ErrReservationLost: резерв ключа истёк или принадлежит другому запросу.
	ErrReservationLost = errors.New("idempotency reservation lost")
)

// IdempotencyStore keeps (match_id, operation, client_key) → stored response.
// Reserve must be atomic: of two concurrent callers with the same key exactly
// one gets reserved=true. A pending record lives for the Reserve ttl, a
// committed one for the Commit ttl.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key models.IdempotencyKey, token string, ttl time.Duration) (existing *models.IdempotencyRecord, reserved bool, err error)
	Commit(ctx context.Context, key models.IdempotencyKey, token string, response []byte, ttl time.Duration) error
	Release(ctx context.Context, key models.IdempotencyKey, token string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type postgresIdempotencyStore struct {
	db *sql.DB
}

func NewPostgresIdempotencyStore(db *sql.DB) IdempotencyStore {
	return &postgresIdempotencyStore{db: db}
}

func (s *postgresIdempotencyStore) Reserve(ctx context.Context, key models.IdempotencyKey, token string, ttl time.Duration) (*models.IdempotencyRecord, bool, error) {
	now := time.Now().UTC()

	// Просроченная запись не должна блокировать ключ.
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_records
		 WHERE match_id = $1 AND operation = $2 AND client_key = $3 AND expires_at <= $4`,
		key.MatchID, key.Operation, key.ClientKey, now,
	); err != nil {
		return nil, false, fmt.Errorf("failed to drop expired idempotency record: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_records
			(match_id, operation, client_key, status, token, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (match_id, operation, client_key) DO NOTHING`,
		key.MatchID, key.Operation, key.ClientKey, models.IdempotencyPending, token, now, now.Add(ttl),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	if inserted == 1 {
		return nil, true, nil
	}

	rec := &models.IdempotencyRecord{Key: key}
	err = s.db.QueryRowContext(ctx, `
		SELECT status, token, response, created_at, expires_at
		FROM idempotency_records
		WHERE match_id = $1 AND operation = $2 AND client_key = $3`,
		key.MatchID, key.Operation, key.ClientKey,
	).Scan(&rec.Status, &rec.Token, &rec.Response, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Запись исчезла между INSERT и SELECT (release конкурента): пусть клиент повторит.
			return nil, false, ErrReservationLost
		}
		return nil, false, fmt.Errorf("failed to load idempotency record: %w", err)
	}
	return rec, false, nil
}

func (s *postgresIdempotencyStore) Commit(ctx context.Context, key models.IdempotencyKey, token string, response []byte, ttl time.Duration) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_records
		SET status = $1, response = $2, expires_at = $8
		WHERE match_id = $3 AND operation = $4 AND client_key = $5 AND token = $6 AND status = $7`,
		models.IdempotencyCommitted, response,
		key.MatchID, key.Operation, key.ClientKey, token, models.IdempotencyPending,
		time.Now().UTC().Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("failed to commit idempotency record: %w", err)
	}
	return checkAffectedRows(result, ErrReservationLost)
}

func (s *postgresIdempotencyStore) Release(ctx context.Context, key models.IdempotencyKey, token string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_records
		WHERE match_id = $1 AND operation = $2 AND client_key = $3 AND token = $4 AND status = $5`,
		key.MatchID, key.Operation, key.ClientKey, token, models.IdempotencyPending,
	)
	if err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

func (s *postgresIdempotencyStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge idempotency records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return n, nil
}
