package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/match-engine/lifecycle"
	"github.com/Dosada05/match-engine/models"
	"github.com/Dosada05/match-engine/services"
)

const (
	MessageMatchUpdated = "MATCH_UPDATED"
)

func TournamentRoom(tournamentID int) string {
	return fmt.Sprintf("tournament_%d", tournamentID)
}

// MatchUpdate is the payload of a MATCH_UPDATED message.
type MatchUpdate struct {
	MatchID       int                 `json:"match_id"`
	TournamentID  int                 `json:"tournament_id"`
	RoundNumber   int                 `json:"round_number"`
	MatchNumber   int                 `json:"match_number"`
	Operation     lifecycle.Operation `json:"operation"`
	PreviousState models.MatchState   `json:"previous_state"`
	State         models.MatchState   `json:"state"`
	Sides         services.SidesView  `json:"sides"`
	WinnerID      *int                `json:"winner_id,omitempty"`
	DisputeID     *int                `json:"dispute_id,omitempty"`
	OccurredAt    time.Time           `json:"occurred_at"`
}

// MatchBroadcaster pushes committed match changes to the tournament room.
type MatchBroadcaster struct {
	hub    *Hub
	logger *slog.Logger
}

func NewMatchBroadcaster(hub *Hub, logger *slog.Logger) *MatchBroadcaster {
	return &MatchBroadcaster{hub: hub, logger: logger}
}

var _ services.MatchObserver = (*MatchBroadcaster)(nil)

func (b *MatchBroadcaster) MatchChanged(ctx context.Context, event services.MatchEvent) {
	m := event.Match
	if m == nil {
		return
	}
	update := MatchUpdate{
		MatchID:       m.ID,
		TournamentID:  m.TournamentID,
		RoundNumber:   m.RoundNumber,
		MatchNumber:   m.MatchNumber,
		Operation:     event.Operation,
		PreviousState: event.PreviousState,
		State:         m.State,
		Sides: services.SidesView{
			A: services.SideView{ParticipantID: m.Participant1ID, Score: m.Participant1Score},
			B: services.SideView{ParticipantID: m.Participant2ID, Score: m.Participant2Score},
		},
		WinnerID:   m.WinnerID,
		OccurredAt: event.OccurredAt,
	}
	if event.Dispute != nil {
		id := event.Dispute.ID
		update.DisputeID = &id
	}

	room := TournamentRoom(m.TournamentID)
	n := b.hub.BroadcastToRoom(room, Message{Type: MessageMatchUpdated, Payload: update, RoomID: room})
	b.logger.DebugContext(ctx, "match update broadcast",
		slog.Int("match_id", m.ID),
		slog.String("room", room),
		slog.Int("delivered", n))
}
