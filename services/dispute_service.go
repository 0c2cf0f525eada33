package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/match-engine/lifecycle"
	"github.com/Dosada05/match-engine/models"
	"github.com/Dosada05/match-engine/repositories"
	"github.com/Dosada05/match-engine/storage"
)

type OpenDisputeInput struct {
	MatchID     int
	InitiatorID int
	ReasonCode  string
	Description string
	EvidenceKey *string
}

type ResolveDisputeInput struct {
	DisputeID  int
	ResolverID int
	Decision   string
	Override   lifecycle.ScorePair
	Notes      *string
}

type DisputeService interface {
	// OpenDispute и ResolveDispute вызываются только из транзакции команды матча.
	OpenDispute(ctx context.Context, exec repositories.SQLExecutor, input OpenDisputeInput) (*models.Dispute, error)
	ResolveDispute(ctx context.Context, exec repositories.SQLExecutor, input ResolveDisputeInput) (*models.Dispute, lifecycle.ScorePair, error)
	GetActiveByMatch(ctx context.Context, exec repositories.SQLExecutor, matchID int) (*models.Dispute, error)

	MarkUnderReview(ctx context.Context, actor Actor, disputeID int) (*models.Dispute, error)
	Escalate(ctx context.Context, actor Actor, disputeID int) (*models.Dispute, error)
	GetDispute(ctx context.Context, id int) (*models.Dispute, error)
	ListByMatch(ctx context.Context, matchID int) ([]*models.Dispute, error)
}

type disputeService struct {
	disputeRepo repositories.DisputeRepository
	evidence    storage.EvidenceStore
	clock       func() time.Time
	logger      *slog.Logger
}

func NewDisputeService(
	disputeRepo repositories.DisputeRepository,
	evidence storage.EvidenceStore, // может быть nil, если хранилище не настроено
	clock func() time.Time,
	logger *slog.Logger,
) DisputeService {
	if clock == nil {
		clock = time.Now
	}
	return &disputeService{
		disputeRepo: disputeRepo,
		evidence:    evidence,
		clock:       clock,
		logger:      logger,
	}
}

func (s *disputeService) OpenDispute(ctx context.Context, exec repositories.SQLExecutor, input OpenDisputeInput) (*models.Dispute, error) {
	active, err := s.disputeRepo.GetActiveByMatch(ctx, exec, input.MatchID)
	if err != nil && !errors.Is(err, repositories.ErrDisputeNotFound) {
		return nil, fmt.Errorf("check open dispute for match %d: %w", input.MatchID, err)
	}
	if active != nil {
		return nil, fmt.Errorf("%w: dispute %d on match %d", ErrDisputeAlreadyOpen, active.ID, input.MatchID)
	}

	dispute := &models.Dispute{
		MatchID:           input.MatchID,
		InitiatedByUserID: input.InitiatorID,
		ReasonCode:        input.ReasonCode,
		Description:       input.Description,
		EvidenceKey:       input.EvidenceKey,
		Status:            models.DisputeStatusOpen,
		OpenedAt:          s.clock().UTC(),
	}
	if err := s.disputeRepo.Create(ctx, exec, dispute); err != nil {
		return nil, fmt.Errorf("create dispute for match %d: %w", input.MatchID, translateRepoError(err))
	}
	s.populateEvidenceURL(dispute)
	return dispute, nil
}

func (s *disputeService) ResolveDispute(ctx context.Context, exec repositories.SQLExecutor, input ResolveDisputeInput) (*models.Dispute, lifecycle.ScorePair, error) {
	dispute, err := s.disputeRepo.GetByID(ctx, exec, input.DisputeID)
	if err != nil {
		return nil, lifecycle.ScorePair{}, translateRepoError(err)
	}
	if !dispute.Status.IsActive() {
		return nil, lifecycle.ScorePair{}, fmt.Errorf("%w: dispute %d is %s", ErrDisputeNotOpen, dispute.ID, dispute.Status)
	}

	from := dispute.Status
	now := s.clock().UTC()
	resolver := input.ResolverID
	dispute.Status = models.DisputeStatusResolved
	dispute.ResolvedByUserID = &resolver
	dispute.ResolvedAt = &now
	dispute.ResolutionNotes = input.Notes
	if input.Decision != "" {
		decision := input.Decision
		dispute.Decision = &decision
	}

	if err := s.disputeRepo.UpdateStatus(ctx, exec, dispute, from); err != nil {
		return nil, lifecycle.ScorePair{}, fmt.Errorf("resolve dispute %d: %w", dispute.ID, translateRepoError(err))
	}
	s.populateEvidenceURL(dispute)
	return dispute, input.Override, nil
}

func (s *disputeService) GetActiveByMatch(ctx context.Context, exec repositories.SQLExecutor, matchID int) (*models.Dispute, error) {
	d, err := s.disputeRepo.GetActiveByMatch(ctx, exec, matchID)
	if err != nil {
		return nil, translateRepoError(err)
	}
	return d, nil
}

// isValidDisputeTransition: ручные переходы разбора спора; resolved достигается только командой resolve_dispute.
func isValidDisputeTransition(current, next models.DisputeStatus) bool {
	allowedTransitions := map[models.DisputeStatus][]models.DisputeStatus{
		models.DisputeStatusOpen:        {models.DisputeStatusUnderReview, models.DisputeStatusEscalated},
		models.DisputeStatusUnderReview: {models.DisputeStatusEscalated},
		models.DisputeStatusEscalated:   {},
		models.DisputeStatusResolved:    {},
	}
	for _, allowed := range allowedTransitions[current] {
		if next == allowed {
			return true
		}
	}
	return false
}

func (s *disputeService) MarkUnderReview(ctx context.Context, actor Actor, disputeID int) (*models.Dispute, error) {
	return s.moveStatus(ctx, actor, disputeID, models.DisputeStatusUnderReview)
}

func (s *disputeService) Escalate(ctx context.Context, actor Actor, disputeID int) (*models.Dispute, error) {
	return s.moveStatus(ctx, actor, disputeID, models.DisputeStatusEscalated)
}

func (s *disputeService) moveStatus(ctx context.Context, actor Actor, disputeID int, next models.DisputeStatus) (*models.Dispute, error) {
	if lifecycle.ResolveRelation(actor.ID, actor.Role, nil, nil) != lifecycle.RelationStaff {
		return nil, fmt.Errorf("%w: only staff may triage disputes", ErrPermissionDenied)
	}
	dispute, err := s.disputeRepo.GetByID(ctx, nil, disputeID)
	if err != nil {
		return nil, translateRepoError(err)
	}
	if !isValidDisputeTransition(dispute.Status, next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrDisputeInvalidStatus, dispute.Status, next)
	}
	from := dispute.Status
	dispute.Status = next
	if err := s.disputeRepo.UpdateStatus(ctx, nil, dispute, from); err != nil {
		return nil, fmt.Errorf("update dispute %d status: %w", disputeID, translateRepoError(err))
	}
	s.logger.InfoContext(ctx, "dispute status changed",
		slog.Int("dispute_id", dispute.ID),
		slog.Int("match_id", dispute.MatchID),
		slog.String("from", string(from)),
		slog.String("to", string(next)),
		slog.Int("staff_id", actor.ID))
	s.populateEvidenceURL(dispute)
	return dispute, nil
}

func (s *disputeService) GetDispute(ctx context.Context, id int) (*models.Dispute, error) {
	dispute, err := s.disputeRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, translateRepoError(err)
	}
	s.populateEvidenceURL(dispute)
	return dispute, nil
}

func (s *disputeService) ListByMatch(ctx context.Context, matchID int) ([]*models.Dispute, error) {
	disputes, err := s.disputeRepo.ListByMatch(ctx, nil, matchID)
	if err != nil {
		return nil, fmt.Errorf("list disputes for match %d: %w", matchID, err)
	}
	for _, d := range disputes {
		s.populateEvidenceURL(d)
	}
	return disputes, nil
}

func (s *disputeService) populateEvidenceURL(d *models.Dispute) {
	if d != nil && d.EvidenceKey != nil && *d.EvidenceKey != "" && s.evidence != nil {
		url := s.evidence.PublicURL(*d.EvidenceKey)
		if url != "" {
			d.EvidenceURL = &url
		}
	}
}
