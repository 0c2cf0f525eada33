// Package lifecycle holds the pure rules of a match: which command moves the
// match to which state, who may issue it and how a score pair is adjudicated.
// Nothing here touches storage.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/Dosada05/match-engine/models"
)

// Operation: команда жизненного цикла матча.
type Operation string

const (
	OpStart          Operation = "start"
	OpSubmitResult   Operation = "submit_result"
	OpConfirmResult  Operation = "confirm_result"
	OpDispute        Operation = "dispute"
	OpResolveDispute Operation = "resolve_dispute"
	OpCancel         Operation = "cancel"
)

// Operations lists every command in a stable order.
var Operations = []Operation{
	OpStart, OpSubmitResult, OpConfirmResult, OpDispute, OpResolveDispute, OpCancel,
}

func (op Operation) Valid() bool {
	for _, o := range Operations {
		if o == op {
			return true
		}
	}
	return false
}

// ParseOperation converts the wire name of a command.
func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if !op.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, s)
	}
	return op, nil
}

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrUnknownOperation  = errors.New("unknown operation")
)

// TransitionError identifies the attempted command and the actual state.
type TransitionError struct {
	Operation Operation
	Current   models.MatchState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s a match in state %s", ErrInvalidTransition, e.Operation, e.Current)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

type edge struct {
	from models.MatchState
	to   models.MatchState
}

// transitions: разрешённые переходы. Cancel обрабатывается отдельно: из любого нетерминального состояния.
var transitions = map[Operation]edge{
	OpStart:          {from: models.MatchStateScheduled, to: models.MatchStateLive},
	OpSubmitResult:   {from: models.MatchStateLive, to: models.MatchStatePendingResult},
	OpConfirmResult:  {from: models.MatchStatePendingResult, to: models.MatchStateCompleted},
	OpDispute:        {from: models.MatchStatePendingResult, to: models.MatchStateDisputed},
	OpResolveDispute: {from: models.MatchStateDisputed, to: models.MatchStateCompleted},
}

// Next returns the state reached by applying op to current, or a *TransitionError.
func Next(current models.MatchState, op Operation) (models.MatchState, error) {
	if op == OpCancel {
		if current.Valid() && !current.IsTerminal() {
			return models.MatchStateCancelled, nil
		}
		return current, &TransitionError{Operation: op, Current: current}
	}
	e, ok := transitions[op]
	if !ok || e.from != current {
		return current, &TransitionError{Operation: op, Current: current}
	}
	return e.to, nil
}

// AllowedOperations lists the commands legal from state s.
func AllowedOperations(s models.MatchState) []Operation {
	allowed := make([]Operation, 0, 2)
	for _, op := range Operations {
		if _, err := Next(s, op); err == nil {
			allowed = append(allowed, op)
		}
	}
	return allowed
}
