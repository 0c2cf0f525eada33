package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/Dosada05/match-engine/lifecycle"
	"github.com/Dosada05/match-engine/middleware"
	"github.com/Dosada05/match-engine/models"
	"github.com/Dosada05/match-engine/services"
	"github.com/go-chi/chi/v5"
)

const idempotencyKeyHeader = "Idempotency-Key"

type MatchHandler struct {
	matchService   services.MatchCommandService
	disputeService services.DisputeService
}

func NewMatchHandler(ms services.MatchCommandService, ds services.DisputeService) *MatchHandler {
	return &MatchHandler{matchService: ms, disputeService: ds}
}

func actorFromRequest(r *http.Request) (services.Actor, error) {
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		return services.Actor{}, err
	}
	role, err := middleware.GetUserRoleFromContext(r.Context())
	if err != nil {
		return services.Actor{}, err
	}
	return services.Actor{ID: userID, Role: role}, nil
}

// ExecuteCommand: POST /matches/{matchID}/commands/{operation}
func (h *MatchHandler) ExecuteCommand(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return
	}
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	op, err := lifecycle.ParseOperation(chi.URLParam(r, "operation"))
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	raw, err := readBody(w, r)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	payload, err := services.DecodePayload(op, raw)
	if err != nil {
		mapMatchServiceErrorToHTTP(w, r, err)
		return
	}

	resp, err := h.matchService.Execute(r.Context(), services.Command{
		Operation:      op,
		MatchID:        matchID,
		Actor:          actor,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
		Payload:        payload,
	})
	if err != nil {
		mapMatchServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, resp, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetMatch: GET /matches/{matchID}
func (h *MatchHandler) GetMatch(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	view, err := h.matchService.GetMatch(r.Context(), matchID)
	if err != nil {
		mapMatchServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"match": view}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ListTournamentMatches: GET /tournaments/{tournamentID}/matches?round=&state=
func (h *MatchHandler) ListTournamentMatches(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	round, err := optionalIntQuery(r, "round")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var state *models.MatchState
	if s := strings.TrimSpace(r.URL.Query().Get("state")); s != "" {
		ms := models.MatchState(s)
		state = &ms
	}

	matches, err := h.matchService.ListTournamentMatches(r.Context(), tournamentID, round, state)
	if err != nil {
		mapMatchServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"matches": matches}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ListDisputes: GET /matches/{matchID}/disputes
func (h *MatchHandler) ListDisputes(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	disputes, err := h.disputeService.ListByMatch(r.Context(), matchID)
	if err != nil {
		mapMatchServiceErrorToHTTP(w, r, err)
		return
	}
	if disputes == nil {
		disputes = []*models.Dispute{}
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"disputes": disputes}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ReviewDispute: POST /disputes/{disputeID}/review
func (h *MatchHandler) ReviewDispute(w http.ResponseWriter, r *http.Request) {
	h.triageDispute(w, r, h.disputeService.MarkUnderReview)
}

// EscalateDispute: POST /disputes/{disputeID}/escalate
func (h *MatchHandler) EscalateDispute(w http.ResponseWriter, r *http.Request) {
	h.triageDispute(w, r, h.disputeService.Escalate)
}

func (h *MatchHandler) triageDispute(w http.ResponseWriter, r *http.Request, move func(context.Context, services.Actor, int) (*models.Dispute, error)) {
	actor, err := actorFromRequest(r)
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return
	}
	disputeID, err := getIDFromURL(r, "disputeID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	dispute, err := move(r.Context(), actor, disputeID)
	if err != nil {
		mapMatchServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"dispute": dispute}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
