package services

import (
	"time"

	"github.com/Dosada05/match-engine/lifecycle"
	"github.com/Dosada05/match-engine/models"
)

type SideView struct {
	ParticipantID *int `json:"participant_id"`
	Score         *int `json:"score"`
}

type SidesView struct {
	A SideView `json:"A"`
	B SideView `json:"B"`
}

type ResponseMeta struct {
	IdempotentReplay bool `json:"idempotent_replay"`
}

// MatchResponse: ответ на успешную команду. Сохраняется целиком для идемпотентного повтора.
type MatchResponse struct {
	ID    int               `json:"id"`
	State models.MatchState `json:"state"`
	Sides SidesView         `json:"sides"`
	Meta  ResponseMeta      `json:"meta"`
}

type DisputeSummary struct {
	ID         int                  `json:"id"`
	Status     models.DisputeStatus `json:"status"`
	ReasonCode string               `json:"reason_code"`
	OpenedAt   time.Time            `json:"opened_at"`
}

// MatchView is the read model for dashboards. It carries numeric participant ids only.
type MatchView struct {
	ID                int                   `json:"id"`
	TournamentID      int                   `json:"tournament_id"`
	BracketID         *int                  `json:"bracket_id,omitempty"`
	RoundNumber       int                   `json:"round_number"`
	MatchNumber       int                   `json:"match_number"`
	State             models.MatchState     `json:"state"`
	Sides             SidesView             `json:"sides"`
	WinnerID          *int                  `json:"winner_id,omitempty"`
	LoserID           *int                  `json:"loser_id,omitempty"`
	StartedAt         *time.Time            `json:"started_at,omitempty"`
	CompletedAt       *time.Time            `json:"completed_at,omitempty"`
	CancelReason      string                `json:"cancel_reason,omitempty"`
	AllowedOperations []lifecycle.Operation `json:"allowed_operations"`
	OpenDispute       *DisputeSummary       `json:"open_dispute,omitempty"`
	DisputeCount      int                   `json:"dispute_count"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

func sidesOf(m *models.Match) SidesView {
	return SidesView{
		A: SideView{ParticipantID: m.Participant1ID, Score: m.Participant1Score},
		B: SideView{ParticipantID: m.Participant2ID, Score: m.Participant2Score},
	}
}

func toMatchResponse(m *models.Match) *MatchResponse {
	return &MatchResponse{
		ID:    m.ID,
		State: m.State,
		Sides: sidesOf(m),
	}
}

func toMatchView(m *models.Match, disputes []*models.Dispute) *MatchView {
	mv := &MatchView{
		ID:                m.ID,
		TournamentID:      m.TournamentID,
		BracketID:         m.BracketID,
		RoundNumber:       m.RoundNumber,
		MatchNumber:       m.MatchNumber,
		State:             m.State,
		Sides:             sidesOf(m),
		WinnerID:          m.WinnerID,
		LoserID:           m.LoserID,
		StartedAt:         m.StartedAt,
		CompletedAt:       m.CompletedAt,
		CancelReason:      m.LobbyInfo[lobbyCancelReason],
		AllowedOperations: lifecycle.AllowedOperations(m.State),
		DisputeCount:      len(disputes),
		UpdatedAt:         m.UpdatedAt,
	}
	for _, d := range disputes {
		if d != nil && d.Status.IsActive() {
			mv.OpenDispute = &DisputeSummary{ID: d.ID, Status: d.Status, ReasonCode: d.ReasonCode, OpenedAt: d.OpenedAt}
		}
	}
	return mv
}
