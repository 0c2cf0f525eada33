package lifecycle

import (
	"errors"
	"fmt"
)

// Side: сторона матча (participant1 = A, participant2 = B).
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

func (s Side) Opponent() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

var (
	ErrTiedScore     = errors.New("tied scores are not allowed")
	ErrNegativeScore = errors.New("scores must be non-negative")
)

// ScorePair is a score per side.
type ScorePair struct {
	A int `json:"a"`
	B int `json:"b"`
}

type Outcome struct {
	Winner Side
	Loser  Side
}

// Evaluate decides the winner of a score pair. Ties are rejected.
func Evaluate(scoreA, scoreB int) (Outcome, error) {
	if scoreA < 0 || scoreB < 0 {
		return Outcome{}, fmt.Errorf("%w: got %d:%d", ErrNegativeScore, scoreA, scoreB)
	}
	if scoreA == scoreB {
		return Outcome{}, fmt.Errorf("%w: %d:%d", ErrTiedScore, scoreA, scoreB)
	}
	if scoreA > scoreB {
		return Outcome{Winner: SideA, Loser: SideB}, nil
	}
	return Outcome{Winner: SideB, Loser: SideA}, nil
}
