package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/match-engine/models"
	"github.com/lib/pq"
)

var (
	ErrDisputeNotFound      = errors.New("dispute not found")
	ErrDisputeAlreadyOpen   = errors.New("match already has an open dispute")
	ErrDisputeStatusChanged = errors.New("dispute status changed concurrently")
	ErrDisputeMatchInvalid  = errors.New("dispute match conflict or invalid")
)

type DisputeRepository interface {
	Create(ctx context.Context, exec SQLExecutor, dispute *models.Dispute) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Dispute, error)
	GetActiveByMatch(ctx context.Context, exec SQLExecutor, matchID int) (*models.Dispute, error)
	ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.Dispute, error)
	// UpdateStatus меняет статус, только если текущий статус равен from.
	UpdateStatus(ctx context.Context, exec SQLExecutor, dispute *models.Dispute, from models.DisputeStatus) error
}

type postgresDisputeRepository struct {
	db *sql.DB
}

func NewPostgresDisputeRepository(db *sql.DB) DisputeRepository {
	return &postgresDisputeRepository{db: db}
}

const disputeColumns = `id, match_id, initiated_by_user_id, reason_code, description, evidence_key,
		       status, decision, resolution_notes, resolved_by_user_id, opened_at, resolved_at`

func scanDispute(row rowScanner) (*models.Dispute, error) {
	d := &models.Dispute{}
	err := row.Scan(
		&d.ID,
		&d.MatchID,
		&d.InitiatedByUserID,
		&d.ReasonCode,
		&d.Description,
		&d.EvidenceKey,
		&d.Status,
		&d.Decision,
		&d.ResolutionNotes,
		&d.ResolvedByUserID,
		&d.OpenedAt,
		&d.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *postgresDisputeRepository) Create(ctx context.Context, exec SQLExecutor, dispute *models.Dispute) error {
	query := `
		INSERT INTO disputes
			(match_id, initiated_by_user_id, reason_code, description, evidence_key, status, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := executorOr(exec, r.db).QueryRowContext(ctx, query,
		dispute.MatchID,
		dispute.InitiatedByUserID,
		dispute.ReasonCode,
		dispute.Description,
		dispute.EvidenceKey,
		dispute.Status,
		dispute.OpenedAt,
	).Scan(&dispute.ID)

	return r.handleDisputeError(err)
}

func (r *postgresDisputeRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`
	dispute, err := scanDispute(executorOr(exec, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDisputeNotFound
		}
		return nil, fmt.Errorf("failed to scan dispute by id %d: %w", id, err)
	}
	return dispute, nil
}

func (r *postgresDisputeRepository) GetActiveByMatch(ctx context.Context, exec SQLExecutor, matchID int) (*models.Dispute, error) {
	query := `SELECT ` + disputeColumns + `
		FROM disputes
		WHERE match_id = $1 AND status <> 'resolved'
		ORDER BY opened_at DESC
		LIMIT 1`
	dispute, err := scanDispute(executorOr(exec, r.db).QueryRowContext(ctx, query, matchID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDisputeNotFound
		}
		return nil, fmt.Errorf("failed to scan active dispute for match %d: %w", matchID, err)
	}
	return dispute, nil
}

func (r *postgresDisputeRepository) ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE match_id = $1 ORDER BY opened_at ASC, id ASC`
	rows, err := executorOr(exec, r.db).QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query disputes for match %d: %w", matchID, err)
	}
	defer rows.Close()

	disputes := make([]*models.Dispute, 0)
	for rows.Next() {
		d, scanErr := scanDispute(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan dispute row: %w", scanErr)
		}
		disputes = append(disputes, d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during dispute rows iteration: %w", err)
	}
	return disputes, nil
}

func (r *postgresDisputeRepository) UpdateStatus(ctx context.Context, exec SQLExecutor, dispute *models.Dispute, from models.DisputeStatus) error {
	query := `
		UPDATE disputes
		SET status = $1, decision = $2, resolution_notes = $3, resolved_by_user_id = $4, resolved_at = $5
		WHERE id = $6 AND status = $7`

	result, err := executorOr(exec, r.db).ExecContext(ctx, query,
		dispute.Status,
		dispute.Decision,
		dispute.ResolutionNotes,
		dispute.ResolvedByUserID,
		dispute.ResolvedAt,
		dispute.ID,
		from,
	)
	if err != nil {
		return r.handleDisputeError(err)
	}
	return checkAffectedRows(result, ErrDisputeStatusChanged)
}

func (r *postgresDisputeRepository) handleDisputeError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// "23505" unique_violation, частичный индекс по открытым спорам
		switch pqErr.Constraint {
		case "disputes_match_open_key":
			return ErrDisputeAlreadyOpen
		case "disputes_match_id_fkey":
			return ErrDisputeMatchInvalid
		}
	}
	return err
}
