package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Dosada05/match-engine/lifecycle"
	"github.com/Dosada05/match-engine/services"
	"github.com/Dosada05/match-engine/storage"
)

const maxEvidenceBytes = 20 << 20 // 20MB

type EvidenceHandler struct {
	matchService services.MatchCommandService
	store        storage.EvidenceStore
}

// NewEvidenceHandler accepts a nil store; uploads then answer 503.
func NewEvidenceHandler(ms services.MatchCommandService, store storage.EvidenceStore) *EvidenceHandler {
	return &EvidenceHandler{matchService: ms, store: store}
}

// Upload: POST /matches/{matchID}/evidence (multipart, поле "file").
// Возвращает ключ, который клиент передаёт в evidence команды submit_result или dispute.
func (h *EvidenceHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		serviceUnavailableResponse(w, r, storage.ErrEvidenceDisabled.Error())
		return
	}
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

	view, err := h.matchService.GetMatch(r.Context(), matchID)
	if err != nil {
		mapMatchServiceErrorToHTTP(w, r, err)
		return
	}
	if lifecycle.ResolveRelation(actor.ID, actor.Role, view.Sides.A.ParticipantID, view.Sides.B.ParticipantID) == lifecycle.RelationOther {
		mapMatchServiceErrorToHTTP(w, r, fmt.Errorf("%w: only match participants and staff may attach evidence", services.ErrPermissionDenied))
		return
	}
	if view.State.IsTerminal() {
		mapMatchServiceErrorToHTTP(w, r, fmt.Errorf("%w: match %d is %s", services.ErrInvalidTransition, matchID, view.State))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxEvidenceBytes)
	if err := r.ParseMultipartForm(maxEvidenceBytes); err != nil {
		badRequestResponse(w, r, fmt.Errorf("invalid multipart form: %w", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequestResponse(w, r, errors.New("form field \"file\" is required"))
		return
	}
	defer file.Close()

	result, err := h.store.Upload(r.Context(), matchID, header.Header.Get("Content-Type"), file)
	if err != nil {
		if errors.Is(err, storage.ErrUnsupportedEvidence) {
			badRequestResponse(w, r, err)
			return
		}
		serverErrorResponse(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"evidence": result}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
