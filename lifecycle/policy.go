package lifecycle

import (
	"errors"
	"fmt"
)

// Relation: роль актора относительно конкретного матча.
type Relation string

const (
	RelationParticipantA Relation = "participant_a"
	RelationParticipantB Relation = "participant_b"
	RelationStaff        Relation = "staff"
	RelationOther        Relation = "other"
)

// Side returns the match side of a participant relation.
func (r Relation) Side() (Side, bool) {
	switch r {
	case RelationParticipantA:
		return SideA, true
	case RelationParticipantB:
		return SideB, true
	}
	return "", false
}

// Platform roles carried in the auth token.
const (
	RoleAdmin     = "admin"
	RoleOrganizer = "organizer"
	RolePlayer    = "player"
)

var ErrPermissionDenied = errors.New("operation not allowed for the current user")

var participantOps = map[Operation]bool{
	OpSubmitResult: true,
	OpDispute:      true,
}

// Authorize checks the static capability table. Staff may issue every command,
// participants only submit_result and dispute, anyone else nothing.
func Authorize(rel Relation, op Operation) error {
	switch rel {
	case RelationStaff:
		if op.Valid() {
			return nil
		}
	case RelationParticipantA, RelationParticipantB:
		if participantOps[op] {
			return nil
		}
	}
	return fmt.Errorf("%w: %s may not %s", ErrPermissionDenied, rel, op)
}

// ResolveRelation derives the actor's relation to a match from its platform role
// and the match participants. Staff wins over participation.
func ResolveRelation(actorID int, role string, participant1ID, participant2ID *int) Relation {
	switch role {
	case RoleAdmin, RoleOrganizer:
		return RelationStaff
	}
	if actorID <= 0 {
		return RelationOther
	}
	if participant1ID != nil && *participant1ID == actorID {
		return RelationParticipantA
	}
	if participant2ID != nil && *participant2ID == actorID {
		return RelationParticipantB
	}
	return RelationOther
}
