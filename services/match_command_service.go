package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Dosada05/match-engine/lifecycle"
	"github.com/Dosada05/match-engine/models"
	"github.com/Dosada05/match-engine/repositories"
	"github.com/Dosada05/match-engine/storage"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Ключи lobby_info, которые пишет сервис.
const (
	lobbyCancelReason     = "cancel_reason"
	lobbyCancelNotes      = "cancel_notes"
	lobbyCancelledBy      = "cancelled_by"
	lobbyResultEvidence   = "result_evidence"
	lobbyResultNotes      = "result_notes"
	lobbyResultSubmitter  = "result_submitted_by"
	lobbyConfirmDecision  = "confirm_decision"
	lobbyResolvedDispute  = "resolved_dispute_id"
	maxCASAttempts        = 2
	getMatchFlightKeyBase = "match:"
)

// MatchEvent describes a committed match mutation.
type MatchEvent struct {
	Operation     lifecycle.Operation
	PreviousState models.MatchState
	Match         *models.Match
	Dispute       *models.Dispute
	ActorID       int
	OccurredAt    time.Time
}

// MatchObserver is notified after a command has been committed.
// Observer failures never affect the command result.
type MatchObserver interface {
	MatchChanged(ctx context.Context, event MatchEvent)
}

type MatchCommandService interface {
	Execute(ctx context.Context, cmd Command) (*MatchResponse, error)
	GetMatch(ctx context.Context, matchID int) (*MatchView, error)
	ListTournamentMatches(ctx context.Context, tournamentID int, round *int, state *models.MatchState) ([]*MatchView, error)
}

type matchCommandService struct {
	tx        repositories.Transactor
	matchRepo repositories.MatchRepository
	disputes  DisputeService
	guard     *IdempotencyGuard
	observers []MatchObserver
	clock     func() time.Time
	logger    *slog.Logger
	reads     singleflight.Group
}

func NewMatchCommandService(
	tx repositories.Transactor,
	matchRepo repositories.MatchRepository,
	disputes DisputeService,
	guard *IdempotencyGuard,
	logger *slog.Logger,
	clock func() time.Time,
	observers ...MatchObserver,
) MatchCommandService {
	if clock == nil {
		clock = time.Now
	}
	return &matchCommandService{
		tx:        tx,
		matchRepo: matchRepo,
		disputes:  disputes,
		guard:     guard,
		observers: observers,
		clock:     clock,
		logger:    logger,
	}
}

// outcome: результат одной успешной попытки внутри транзакции.
type outcome struct {
	previous models.MatchState
	match    *models.Match
	dispute  *models.Dispute
}

func (s *matchCommandService) Execute(ctx context.Context, cmd Command) (resp *MatchResponse, err error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	reservation, replay, isReplay, err := s.guard.CheckAndReserve(ctx, cmd.MatchID, string(cmd.Operation), cmd.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if isReplay {
		s.logger.InfoContext(ctx, "idempotent replay",
			slog.Int("match_id", cmd.MatchID),
			slog.String("operation", string(cmd.Operation)))
		return replay, nil
	}
	defer func() {
		if err != nil {
			s.guard.Release(ctx, reservation)
		}
	}()

	// Сторона актора известна только по загруженному матчу.
	snapshot, err := s.matchRepo.GetByID(ctx, nil, cmd.MatchID)
	if err != nil {
		return nil, translateRepoError(err)
	}
	rel := lifecycle.ResolveRelation(cmd.Actor.ID, cmd.Actor.Role, snapshot.Participant1ID, snapshot.Participant2ID)
	if err := lifecycle.Authorize(rel, cmd.Operation); err != nil {
		return nil, err
	}

	var result outcome
	for attempt := 1; ; attempt++ {
		result, err = s.attempt(ctx, cmd, rel, snapshot)
		if err == nil {
			break
		}
		if !errors.Is(err, repositories.ErrMatchVersionConflict) {
			return nil, err
		}
		if attempt >= maxCASAttempts {
			s.logger.WarnContext(ctx, "match update conflict persisted after retry",
				slog.Int("match_id", cmd.MatchID),
				slog.String("operation", string(cmd.Operation)))
			return nil, fmt.Errorf("%w: match %d", ErrConcurrencyConflict, cmd.MatchID)
		}
		s.logger.InfoContext(ctx, "match version conflict, retrying",
			slog.Int("match_id", cmd.MatchID),
			slog.Int("attempt", attempt))
		snapshot = nil
	}

	resp = toMatchResponse(result.match)
	if cerr := s.guard.Commit(ctx, reservation, resp); cerr != nil {
		// Мутация уже зафиксирована, повтор с тем же ключом увидит pending до истечения резерва.
		s.logger.ErrorContext(ctx, "failed to store idempotent response",
			slog.Int("match_id", cmd.MatchID),
			slog.String("operation", string(cmd.Operation)),
			slog.Any("error", cerr))
	}

	s.logger.InfoContext(ctx, "match command applied",
		slog.Int("match_id", result.match.ID),
		slog.String("operation", string(cmd.Operation)),
		slog.String("from", string(result.previous)),
		slog.String("to", string(result.match.State)),
		slog.Int("actor_id", cmd.Actor.ID))

	s.notify(ctx, MatchEvent{
		Operation:     cmd.Operation,
		PreviousState: result.previous,
		Match:         result.match.Clone(),
		Dispute:       result.dispute,
		ActorID:       cmd.Actor.ID,
		OccurredAt:    s.clock().UTC(),
	})
	return resp, nil
}

// attempt runs steps load → transition → side effect → CAS write in one transaction.
// A nil snapshot means the match is reloaded inside the transaction.
func (s *matchCommandService) attempt(ctx context.Context, cmd Command, rel lifecycle.Relation, snapshot *models.Match) (outcome, error) {
	var result outcome
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		current := snapshot
		if current == nil {
			loaded, err := s.matchRepo.GetByID(ctx, exec, cmd.MatchID)
			if err != nil {
				return translateRepoError(err)
			}
			// Участник мог смениться между попытками.
			rel = lifecycle.ResolveRelation(cmd.Actor.ID, cmd.Actor.Role, loaded.Participant1ID, loaded.Participant2ID)
			if err := lifecycle.Authorize(rel, cmd.Operation); err != nil {
				return err
			}
			current = loaded
		}

		next, err := lifecycle.Next(current.State, cmd.Operation)
		if err != nil {
			return err
		}

		updated := current.Clone()
		updated.State = next
		dispute, err := s.apply(ctx, exec, cmd, rel, updated)
		if err != nil {
			return err
		}
		updated.UpdatedAt = s.clock().UTC()
		if err := updated.CheckInvariants(); err != nil {
			return fmt.Errorf("refusing to persist inconsistent match: %w", err)
		}

		if err := s.matchRepo.UpdateWithVersion(ctx, exec, updated, current.Version); err != nil {
			return err
		}
		result = outcome{previous: current.State, match: updated, dispute: dispute}
		return nil
	})
	return result, err
}

// apply выполняет побочный эффект команды над копией матча (state уже переведён).
func (s *matchCommandService) apply(ctx context.Context, exec repositories.SQLExecutor, cmd Command, rel lifecycle.Relation, m *models.Match) (*models.Dispute, error) {
	now := s.clock().UTC()

	switch p := cmd.Payload.(type) {
	case StartPayload:
		m.StartedAt = &now
		return nil, nil

	case SubmitResultPayload:
		if err := checkEvidence(p.Evidence, m.ID); err != nil {
			return nil, err
		}
		own, opponent := *p.Score, *p.OpponentScore
		if side, ok := rel.Side(); ok && side == lifecycle.SideB {
			own, opponent = opponent, own
		}
		m.Participant1Score = &own
		m.Participant2Score = &opponent
		m.LobbyInfo = setLobby(m.LobbyInfo, lobbyResultSubmitter, strconv.Itoa(cmd.Actor.ID))
		if p.Evidence != nil {
			m.LobbyInfo = setLobby(m.LobbyInfo, lobbyResultEvidence, *p.Evidence)
		}
		if p.Notes != nil {
			m.LobbyInfo = setLobby(m.LobbyInfo, lobbyResultNotes, *p.Notes)
		}
		return nil, nil

	case ConfirmResultPayload:
		if m.Participant1Score == nil || m.Participant2Score == nil {
			return nil, fmt.Errorf("%w: match %d", ErrMissingScores, m.ID)
		}
		if err := s.complete(m, *m.Participant1Score, *m.Participant2Score, now); err != nil {
			return nil, err
		}
		if p.Decision != nil {
			m.LobbyInfo = setLobby(m.LobbyInfo, lobbyConfirmDecision, *p.Decision)
		}
		return nil, nil

	case DisputePayload:
		if err := checkEvidence(p.Evidence, m.ID); err != nil {
			return nil, err
		}
		return s.disputes.OpenDispute(ctx, exec, OpenDisputeInput{
			MatchID:     m.ID,
			InitiatorID: cmd.Actor.ID,
			ReasonCode:  p.ReasonCode,
			Description: p.Description,
			EvidenceKey: p.Evidence,
		})

	case ResolveDisputePayload:
		override := lifecycle.ScorePair{A: *p.FinalScoreA, B: *p.FinalScoreB}
		// Ничья и пустой слот проверяются до любых записей.
		if _, err := evaluateFor(m, override.A, override.B); err != nil {
			return nil, err
		}
		active, err := s.disputes.GetActiveByMatch(ctx, exec, m.ID)
		if err != nil {
			if errors.Is(err, ErrDisputeNotFound) {
				return nil, fmt.Errorf("%w: match %d has no active dispute", ErrDisputeNotOpen, m.ID)
			}
			return nil, err
		}
		resolved, final, err := s.disputes.ResolveDispute(ctx, exec, ResolveDisputeInput{
			DisputeID:  active.ID,
			ResolverID: cmd.Actor.ID,
			Decision:   p.Decision,
			Override:   override,
			Notes:      p.Notes,
		})
		if err != nil {
			return nil, err
		}
		if err := s.complete(m, final.A, final.B, now); err != nil {
			return nil, err
		}
		m.LobbyInfo = setLobby(m.LobbyInfo, lobbyResolvedDispute, strconv.Itoa(resolved.ID))
		return resolved, nil

	case CancelPayload:
		m.LobbyInfo = setLobby(m.LobbyInfo, lobbyCancelReason, p.ReasonCode)
		m.LobbyInfo = setLobby(m.LobbyInfo, lobbyCancelledBy, strconv.Itoa(cmd.Actor.ID))
		if p.Notes != nil {
			m.LobbyInfo = setLobby(m.LobbyInfo, lobbyCancelNotes, *p.Notes)
		}
		return nil, nil
	}
	return nil, fmt.Errorf("%w: unsupported payload %T", ErrValidationFailed, cmd.Payload)
}

// complete evaluates the score pair and fills scores, winner, loser and completed_at.
func (s *matchCommandService) complete(m *models.Match, scoreA, scoreB int, now time.Time) error {
	res, err := evaluateFor(m, scoreA, scoreB)
	if err != nil {
		return err
	}
	a, b := scoreA, scoreB
	m.Participant1Score = &a
	m.Participant2Score = &b

	winner, loser := *m.Participant1ID, *m.Participant2ID
	if res.Winner == lifecycle.SideB {
		winner, loser = loser, winner
	}
	m.WinnerID = &winner
	m.LoserID = &loser
	m.CompletedAt = &now
	return nil
}

// evaluateFor проверяет, что матч можно завершить с этим счётом.
func evaluateFor(m *models.Match, scoreA, scoreB int) (lifecycle.Outcome, error) {
	if m.Participant1ID == nil || m.Participant2ID == nil {
		return lifecycle.Outcome{}, fmt.Errorf("%w: match %d", ErrEmptySlot, m.ID)
	}
	res, err := lifecycle.Evaluate(scoreA, scoreB)
	if err != nil {
		return lifecycle.Outcome{}, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	return res, nil
}

// checkEvidence принимает только ключи, загруженные для этого матча.
func checkEvidence(key *string, matchID int) error {
	if key == nil || storage.IsMatchEvidence(*key, matchID) {
		return nil
	}
	return fmt.Errorf("%w: evidence %q does not belong to match %d", ErrValidationFailed, *key, matchID)
}

func setLobby(info models.LobbyInfo, key, value string) models.LobbyInfo {
	if info == nil {
		info = models.LobbyInfo{}
	}
	info[key] = value
	return info
}

func (s *matchCommandService) notify(ctx context.Context, event MatchEvent) {
	for _, o := range s.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.ErrorContext(ctx, "match observer panicked",
						slog.Int("match_id", event.Match.ID),
						slog.Any("panic", r))
				}
			}()
			o.MatchChanged(ctx, event)
		}()
	}
}

func (s *matchCommandService) GetMatch(ctx context.Context, matchID int) (*MatchView, error) {
	if matchID <= 0 {
		return nil, fmt.Errorf("%w: match_id must be positive", ErrValidationFailed)
	}
	// Общий запрос не должен падать из-за отмены первого вызывающего.
	shared := context.WithoutCancel(ctx)
	ch := s.reads.DoChan(getMatchFlightKeyBase+strconv.Itoa(matchID), func() (interface{}, error) {
		var (
			match    *models.Match
			disputes []*models.Dispute
		)
		g, gctx := errgroup.WithContext(shared)
		g.Go(func() error {
			m, err := s.matchRepo.GetByID(gctx, nil, matchID)
			if err != nil {
				return translateRepoError(err)
			}
			match = m
			return nil
		})
		g.Go(func() error {
			d, err := s.disputes.ListByMatch(gctx, matchID)
			if err != nil {
				return err
			}
			disputes = d
			return nil
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return toMatchView(match, disputes), nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*MatchView), nil
	}
}

func (s *matchCommandService) ListTournamentMatches(ctx context.Context, tournamentID int, round *int, state *models.MatchState) ([]*MatchView, error) {
	if state != nil && !state.Valid() {
		return nil, fmt.Errorf("%w: unknown match state %q", ErrValidationFailed, *state)
	}
	matches, err := s.matchRepo.ListByTournament(ctx, tournamentID, round, state)
	if err != nil {
		return nil, fmt.Errorf("list matches for tournament %d: %w", tournamentID, err)
	}
	views := make([]*MatchView, 0, len(matches))
	for _, m := range matches {
		views = append(views, toMatchView(m, nil))
	}
	return views, nil
}
