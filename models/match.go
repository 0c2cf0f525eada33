package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MatchState представляет состояние матча, соответствующее ENUM match_state в БД.
type MatchState string

const (
	MatchStateScheduled     MatchState = "scheduled"
	MatchStateLive          MatchState = "live"
	MatchStatePendingResult MatchState = "pending_result"
	MatchStateDisputed      MatchState = "disputed"
	MatchStateCompleted     MatchState = "completed"
	MatchStateCancelled     MatchState = "cancelled"
)

// IsTerminal reports whether no further transition is permitted from s.
func (s MatchState) IsTerminal() bool {
	return s == MatchStateCompleted || s == MatchStateCancelled
}

// HasScores reports whether a match in state s must carry both scores.
func (s MatchState) HasScores() bool {
	switch s {
	case MatchStatePendingResult, MatchStateDisputed, MatchStateCompleted:
		return true
	}
	return false
}

func (s MatchState) Valid() bool {
	switch s {
	case MatchStateScheduled, MatchStateLive, MatchStatePendingResult,
		MatchStateDisputed, MatchStateCompleted, MatchStateCancelled:
		return true
	}
	return false
}

// Match: один очный матч между двумя участниками.
type Match struct {
	ID             int  `json:"id" db:"id"`
	TournamentID   int  `json:"tournament_id" db:"tournament_id"`
	BracketID      *int `json:"bracket_id,omitempty" db:"bracket_id"`
	RoundNumber    int  `json:"round_number" db:"round_number"`
	MatchNumber    int  `json:"match_number" db:"match_number"`
	Participant1ID *int `json:"participant1_id,omitempty" db:"participant1_id"` // nil, если слот пуст (bye)
	Participant2ID *int `json:"participant2_id,omitempty" db:"participant2_id"`

	State             MatchState `json:"state" db:"state"`
	Participant1Score *int       `json:"participant1_score,omitempty" db:"participant1_score"`
	Participant2Score *int       `json:"participant2_score,omitempty" db:"participant2_score"`
	WinnerID          *int       `json:"winner_id,omitempty" db:"winner_id"`
	LoserID           *int       `json:"loser_id,omitempty" db:"loser_id"`
	StartedAt         *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	LobbyInfo         LobbyInfo  `json:"lobby_info,omitempty" db:"lobby_info"`

	// Version растёт на каждое успешное обновление (compare-and-swap).
	Version   int64     `json:"-" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy so a failed attempt never leaks into the loaded snapshot.
func (m *Match) Clone() *Match {
	if m == nil {
		return nil
	}
	c := *m
	c.BracketID = cloneInt(m.BracketID)
	c.Participant1ID = cloneInt(m.Participant1ID)
	c.Participant2ID = cloneInt(m.Participant2ID)
	c.Participant1Score = cloneInt(m.Participant1Score)
	c.Participant2Score = cloneInt(m.Participant2Score)
	c.WinnerID = cloneInt(m.WinnerID)
	c.LoserID = cloneInt(m.LoserID)
	c.StartedAt = cloneTime(m.StartedAt)
	c.CompletedAt = cloneTime(m.CompletedAt)
	c.LobbyInfo = m.LobbyInfo.Clone()
	return &c
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// LobbyInfo: произвольные административные заметки (причина отмены и т.п.), хранится в JSONB.
type LobbyInfo map[string]string

func (l LobbyInfo) Clone() LobbyInfo {
	if l == nil {
		return nil
	}
	out := make(LobbyInfo, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

func (l LobbyInfo) Value() (driver.Value, error) {
	if l == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(l)
}

func (l *LobbyInfo) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("lobby_info: unsupported scan type %T", src)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	info := LobbyInfo{}
	if err := json.Unmarshal(raw, &info); err != nil {
		return fmt.Errorf("lobby_info: %w", err)
	}
	if len(info) == 0 {
		info = nil
	}
	*l = info
	return nil
}

var errNilMatch = errors.New("match is nil")

// CheckInvariants validates the state/score/winner coupling of a match snapshot.
func (m *Match) CheckInvariants() error {
	if m == nil {
		return errNilMatch
	}
	hasWinner := m.WinnerID != nil || m.LoserID != nil
	if (m.State == MatchStateCompleted) != hasWinner {
		return fmt.Errorf("match %d: winner/loser must be set iff completed (state %s)", m.ID, m.State)
	}
	hasScores := m.Participant1Score != nil && m.Participant2Score != nil
	if m.State.HasScores() && !hasScores {
		return fmt.Errorf("match %d: scores required in state %s", m.ID, m.State)
	}
	// cancelled сохраняет внесённый счёт
	if (m.State == MatchStateScheduled || m.State == MatchStateLive) &&
		(m.Participant1Score != nil || m.Participant2Score != nil) {
		return fmt.Errorf("match %d: scores must be empty in state %s", m.ID, m.State)
	}
	return nil
}
