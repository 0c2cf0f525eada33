package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Dosada05/match-engine/models"
	"github.com/lib/pq"
)

var (
	ErrMatchNotFound           = errors.New("match not found")
	ErrMatchVersionConflict    = errors.New("match was modified concurrently")
	ErrMatchParticipantInvalid = errors.New("match participant conflict or invalid")
)

type MatchRepository interface {
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error)
	ListByTournament(ctx context.Context, tournamentID int, round *int, state *models.MatchState) ([]*models.Match, error)
	// UpdateWithVersion записывает матч, только если версия в БД равна expectedVersion.
	UpdateWithVersion(ctx context.Context, exec SQLExecutor, match *models.Match, expectedVersion int64) error
}

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

const matchColumns = `id, tournament_id, bracket_id, round_number, match_number,
		       participant1_id, participant2_id, state, participant1_score, participant2_score,
		       winner_id, loser_id, started_at, completed_at, lobby_info, version, created_at, updated_at`

func scanMatch(row rowScanner) (*models.Match, error) {
	m := &models.Match{}
	err := row.Scan(
		&m.ID,
		&m.TournamentID,
		&m.BracketID,
		&m.RoundNumber,
		&m.MatchNumber,
		&m.Participant1ID,
		&m.Participant2ID,
		&m.State,
		&m.Participant1Score,
		&m.Participant2Score,
		&m.WinnerID,
		&m.LoserID,
		&m.StartedAt,
		&m.CompletedAt,
		&m.LobbyInfo,
		&m.Version,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`

	match, err := scanMatch(executorOr(exec, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to scan match by id %d: %w", id, err)
	}
	return match, nil
}

func (r *postgresMatchRepository) ListByTournament(ctx context.Context, tournamentID int, roundFilter *int, stateFilter *models.MatchState) ([]*models.Match, error) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`SELECT ` + matchColumns + ` FROM matches WHERE tournament_id = $1`)

	args := []interface{}{tournamentID}
	placeholderIndex := 2

	if roundFilter != nil {
		queryBuilder.WriteString(" AND round_number = $")
		queryBuilder.WriteString(strconv.Itoa(placeholderIndex))
		args = append(args, *roundFilter)
		placeholderIndex++
	}
	if stateFilter != nil {
		queryBuilder.WriteString(" AND state = $")
		queryBuilder.WriteString(strconv.Itoa(placeholderIndex))
		args = append(args, *stateFilter)
	}
	queryBuilder.WriteString(" ORDER BY round_number ASC, match_number ASC, id ASC")

	rows, err := r.db.QueryContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	for rows.Next() {
		match, scanErr := scanMatch(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", scanErr)
		}
		matches = append(matches, match)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during match rows iteration: %w", err)
	}
	return matches, nil
}

func (r *postgresMatchRepository) UpdateWithVersion(ctx context.Context, exec SQLExecutor, match *models.Match, expectedVersion int64) error {
	query := `
		UPDATE matches
		SET state = $1, participant1_score = $2, participant2_score = $3,
		    winner_id = $4, loser_id = $5, started_at = $6, completed_at = $7,
		    lobby_info = $8, version = version + 1, updated_at = $9
		WHERE id = $10 AND version = $11`

	now := time.Now().UTC()
	result, err := executorOr(exec, r.db).ExecContext(ctx, query,
		match.State,
		match.Participant1Score,
		match.Participant2Score,
		match.WinnerID,
		match.LoserID,
		match.StartedAt,
		match.CompletedAt,
		match.LobbyInfo,
		now,
		match.ID,
		expectedVersion,
	)
	if err != nil {
		return r.handleMatchError(err)
	}
	// 0 строк: матч загружался ранее, значит кто-то успел поднять версию.
	if err := checkAffectedRows(result, ErrMatchVersionConflict); err != nil {
		return err
	}
	match.Version = expectedVersion + 1
	match.UpdatedAt = now
	return nil
}

func (r *postgresMatchRepository) handleMatchError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Constraint {
		case "matches_winner_participant_check", "matches_loser_participant_check":
			return ErrMatchParticipantInvalid
		}
	}
	return err
}
