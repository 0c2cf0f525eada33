package models

import "time"

type DisputeStatus string

const (
	DisputeStatusOpen        DisputeStatus = "open"
	DisputeStatusUnderReview DisputeStatus = "under_review"
	DisputeStatusEscalated   DisputeStatus = "escalated"
	DisputeStatusResolved    DisputeStatus = "resolved"
)

// IsActive: спор ещё не закрыт (open, under_review или escalated).
func (s DisputeStatus) IsActive() bool {
	return s == DisputeStatusOpen || s == DisputeStatusUnderReview || s == DisputeStatusEscalated
}

// Dispute представляет оспоренный результат матча.
type Dispute struct {
	ID                int           `json:"id" db:"id"`
	MatchID           int           `json:"match_id" db:"match_id"`
	InitiatedByUserID int           `json:"initiated_by_user_id" db:"initiated_by_user_id"`
	ReasonCode        string        `json:"reason_code" db:"reason_code"`
	Description       string        `json:"description" db:"description"`
	EvidenceKey       *string       `json:"-" db:"evidence_key"`
	EvidenceURL       *string       `json:"evidence_url,omitempty" db:"-"`
	Status            DisputeStatus `json:"status" db:"status"`
	Decision          *string       `json:"decision,omitempty" db:"decision"`
	ResolutionNotes   *string       `json:"resolution_notes,omitempty" db:"resolution_notes"`
	ResolvedByUserID  *int          `json:"resolved_by_user_id,omitempty" db:"resolved_by_user_id"`
	OpenedAt          time.Time     `json:"opened_at" db:"opened_at"`
	ResolvedAt        *time.Time    `json:"resolved_at,omitempty" db:"resolved_at"`
}
