package lifecycle

import (
	"errors"
	"testing"

	"github.com/Dosada05/match-engine/models"
)

var allStates = []models.MatchState{
	models.MatchStateScheduled,
	models.MatchStateLive,
	models.MatchStatePendingResult,
	models.MatchStateDisputed,
	models.MatchStateCompleted,
	models.MatchStateCancelled,
}

func TestNext_TransitionTable(t *testing.T) {
	legal := map[Operation]map[models.MatchState]models.MatchState{
		OpStart:          {models.MatchStateScheduled: models.MatchStateLive},
		OpSubmitResult:   {models.MatchStateLive: models.MatchStatePendingResult},
		OpConfirmResult:  {models.MatchStatePendingResult: models.MatchStateCompleted},
		OpDispute:        {models.MatchStatePendingResult: models.MatchStateDisputed},
		OpResolveDispute: {models.MatchStateDisputed: models.MatchStateCompleted},
		OpCancel: {
			models.MatchStateScheduled:     models.MatchStateCancelled,
			models.MatchStateLive:          models.MatchStateCancelled,
			models.MatchStatePendingResult: models.MatchStateCancelled,
			models.MatchStateDisputed:      models.MatchStateCancelled,
		},
	}

	for _, op := range Operations {
		for _, st := range allStates {
			next, err := Next(st, op)
			want, ok := legal[op][st]
			if ok {
				if err != nil {
					t.Fatalf("%s from %s: unexpected error %v", op, st, err)
				}
				if next != want {
					t.Fatalf("%s from %s: want %s, got %s", op, st, want, next)
				}
				continue
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s from %s: want ErrInvalidTransition, got %v", op, st, err)
			}
			var te *TransitionError
			if !errors.As(err, &te) || te.Operation != op || te.Current != st {
				t.Fatalf("%s from %s: transition error does not carry op/state: %#v", op, st, err)
			}
			if next != st {
				t.Fatalf("%s from %s: state must be unchanged on error, got %s", op, st, next)
			}
		}
	}
}

func TestNext_UnknownState(t *testing.T) {
	if _, err := Next(models.MatchState("archived"), OpCancel); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel from unknown state: want ErrInvalidTransition, got %v", err)
	}
}

func TestAllowedOperations(t *testing.T) {
	got := AllowedOperations(models.MatchStatePendingResult)
	want := []Operation{OpConfirmResult, OpDispute, OpCancel}
	if len(got) != len(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want %v, got %v", want, got)
		}
	}
	if ops := AllowedOperations(models.MatchStateCompleted); len(ops) != 0 {
		t.Fatalf("terminal state must allow nothing, got %v", ops)
	}
}

func TestParseOperation(t *testing.T) {
	if op, err := ParseOperation("resolve_dispute"); err != nil || op != OpResolveDispute {
		t.Fatalf("ParseOperation: %v %v", op, err)
	}
	if _, err := ParseOperation("forfeit"); !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("want ErrUnknownOperation, got %v", err)
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name    string
		a, b    int
		winner  Side
		wantErr error
	}{
		{name: "A wins", a: 3, b: 1, winner: SideA},
		{name: "B wins", a: 0, b: 2, winner: SideB},
		{name: "tie", a: 2, b: 2, wantErr: ErrTiedScore},
		{name: "zero tie", a: 0, b: 0, wantErr: ErrTiedScore},
		{name: "negative", a: -1, b: 2, wantErr: ErrNegativeScore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Evaluate(tt.a, tt.b)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("want %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Winner != tt.winner || out.Loser != tt.winner.Opponent() {
				t.Fatalf("want winner %s, got %+v", tt.winner, out)
			}
		})
	}
}

func TestAuthorize_PermissionBoundary(t *testing.T) {
	staffOnly := []Operation{OpStart, OpConfirmResult, OpResolveDispute, OpCancel}

	for _, op := range Operations {
		if err := Authorize(RelationOther, op); !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("other/%s: want denied, got %v", op, err)
		}
		if err := Authorize(RelationStaff, op); err != nil {
			t.Fatalf("staff/%s: want allowed, got %v", op, err)
		}
	}
	for _, rel := range []Relation{RelationParticipantA, RelationParticipantB} {
		for _, op := range staffOnly {
			if err := Authorize(rel, op); !errors.Is(err, ErrPermissionDenied) {
				t.Fatalf("%s/%s: want denied, got %v", rel, op, err)
			}
		}
		for _, op := range []Operation{OpSubmitResult, OpDispute} {
			if err := Authorize(rel, op); err != nil {
				t.Fatalf("%s/%s: want allowed, got %v", rel, op, err)
			}
		}
	}
}

func TestResolveRelation(t *testing.T) {
	p1, p2 := 10, 20
	tests := []struct {
		name    string
		actorID int
		role    string
		p1, p2  *int
		want    Relation
	}{
		{"organizer is staff", 99, RoleOrganizer, &p1, &p2, RelationStaff},
		{"admin participant is staff", 10, RoleAdmin, &p1, &p2, RelationStaff},
		{"side A", 10, RolePlayer, &p1, &p2, RelationParticipantA},
		{"side B", 20, RolePlayer, &p1, &p2, RelationParticipantB},
		{"stranger", 30, RolePlayer, &p1, &p2, RelationOther},
		{"bye slot", 20, RolePlayer, &p1, nil, RelationOther},
		{"anonymous", 0, "", &p1, &p2, RelationOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveRelation(tt.actorID, tt.role, tt.p1, tt.p2); got != tt.want {
				t.Fatalf("want %s, got %s", tt.want, got)
			}
		})
	}
}
