package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Dosada05/match-engine/lifecycle"
)

// Actor: кто выполняет команду: id пользователя и его роль на платформе.
type Actor struct {
	ID   int
	Role string
}

// Command is one decoded mutating request against a match.
type Command struct {
	Operation      lifecycle.Operation
	MatchID        int
	Actor          Actor
	IdempotencyKey string
	Payload        Payload
}

// Payload is the per-operation body. Exactly one variant exists per operation.
type Payload interface {
	Operation() lifecycle.Operation
	Validate() error
}

type StartPayload struct{}

type SubmitResultPayload struct {
	Score         *int    `json:"score"`
	OpponentScore *int    `json:"opponent_score"`
	Evidence      *string `json:"evidence,omitempty"`
	Notes         *string `json:"notes,omitempty"`
}

type ConfirmResultPayload struct {
	Decision *string `json:"decision,omitempty"`
}

type DisputePayload struct {
	ReasonCode  string  `json:"reason_code"`
	Description string  `json:"description"`
	Evidence    *string `json:"evidence,omitempty"`
}

type ResolveDisputePayload struct {
	Decision    string  `json:"decision"`
	FinalScoreA *int    `json:"final_score_a"`
	FinalScoreB *int    `json:"final_score_b"`
	Notes       *string `json:"notes,omitempty"`
}

type CancelPayload struct {
	ReasonCode string  `json:"reason_code"`
	Notes      *string `json:"notes,omitempty"`
}

func (StartPayload) Operation() lifecycle.Operation          { return lifecycle.OpStart }
func (SubmitResultPayload) Operation() lifecycle.Operation   { return lifecycle.OpSubmitResult }
func (ConfirmResultPayload) Operation() lifecycle.Operation  { return lifecycle.OpConfirmResult }
func (DisputePayload) Operation() lifecycle.Operation        { return lifecycle.OpDispute }
func (ResolveDisputePayload) Operation() lifecycle.Operation { return lifecycle.OpResolveDispute }
func (CancelPayload) Operation() lifecycle.Operation         { return lifecycle.OpCancel }

func (StartPayload) Validate() error         { return nil }
func (ConfirmResultPayload) Validate() error { return nil }

func (p SubmitResultPayload) Validate() error {
	if p.Score == nil || p.OpponentScore == nil {
		return fmt.Errorf("%w: score and opponent_score are required", ErrValidationFailed)
	}
	if *p.Score < 0 || *p.OpponentScore < 0 {
		return fmt.Errorf("%w: %w", ErrValidationFailed, lifecycle.ErrNegativeScore)
	}
	return nil
}

func (p DisputePayload) Validate() error {
	if strings.TrimSpace(p.ReasonCode) == "" {
		return fmt.Errorf("%w: reason_code is required", ErrValidationFailed)
	}
	return nil
}

func (p ResolveDisputePayload) Validate() error {
	if p.FinalScoreA == nil || p.FinalScoreB == nil {
		return fmt.Errorf("%w: final_score_a and final_score_b are required", ErrValidationFailed)
	}
	if *p.FinalScoreA < 0 || *p.FinalScoreB < 0 {
		return fmt.Errorf("%w: %w", ErrValidationFailed, lifecycle.ErrNegativeScore)
	}
	return nil
}

func (p CancelPayload) Validate() error {
	if strings.TrimSpace(p.ReasonCode) == "" {
		return fmt.Errorf("%w: reason_code is required", ErrValidationFailed)
	}
	return nil
}

// Validate checks the command envelope and its payload.
func (c Command) Validate() error {
	if !c.Operation.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrValidationFailed, lifecycle.ErrUnknownOperation, c.Operation)
	}
	if c.MatchID <= 0 {
		return fmt.Errorf("%w: match_id must be positive", ErrValidationFailed)
	}
	if c.Payload == nil {
		return fmt.Errorf("%w: payload is required", ErrValidationFailed)
	}
	if c.Payload.Operation() != c.Operation {
		return fmt.Errorf("%w: payload for %s sent with operation %s", ErrValidationFailed, c.Payload.Operation(), c.Operation)
	}
	if len(c.IdempotencyKey) > 255 {
		return fmt.Errorf("%w: idempotency key is longer than 255 characters", ErrValidationFailed)
	}
	return c.Payload.Validate()
}

// DecodePayload builds the payload variant for op from a JSON body.
// An empty body is accepted for operations whose payload has no required fields.
func DecodePayload(op lifecycle.Operation, raw []byte) (Payload, error) {
	var p Payload
	switch op {
	case lifecycle.OpStart:
		p = &StartPayload{}
	case lifecycle.OpSubmitResult:
		p = &SubmitResultPayload{}
	case lifecycle.OpConfirmResult:
		p = &ConfirmResultPayload{}
	case lifecycle.OpDispute:
		p = &DisputePayload{}
	case lifecycle.OpResolveDispute:
		p = &ResolveDisputePayload{}
	case lifecycle.OpCancel:
		p = &CancelPayload{}
	default:
		return nil, fmt.Errorf("%w: %w: %q", ErrValidationFailed, lifecycle.ErrUnknownOperation, op)
	}

	if len(bytes.TrimSpace(raw)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(p); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrValidationFailed, op, err)
		}
		if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s payload must only contain a single JSON value", ErrValidationFailed, op)
		}
	}
	return deref(p), nil
}

// deref отдаёт вариант по значению, чтобы type switch в сервисе был однозначным.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *StartPayload:
		return *v
	case *SubmitResultPayload:
		return *v
	case *ConfirmResultPayload:
		return *v
	case *DisputePayload:
		return *v
	case *ResolveDisputePayload:
		return *v
	case *CancelPayload:
		return *v
	}
	return p
}
