package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Dosada05/match-engine/lifecycle"
	"github.com/Dosada05/match-engine/middleware"
	"github.com/Dosada05/match-engine/models"
	"github.com/Dosada05/match-engine/services"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v4"
)

type stubMatchService struct {
	lastCmd services.Command
	resp    *services.MatchResponse
	view    *services.MatchView
	err     error
}

func (s *stubMatchService) Execute(_ context.Context, cmd services.Command) (*services.MatchResponse, error) {
	s.lastCmd = cmd
	return s.resp, s.err
}

func (s *stubMatchService) GetMatch(context.Context, int) (*services.MatchView, error) {
	return s.view, s.err
}

func (s *stubMatchService) ListTournamentMatches(context.Context, int, *int, *models.MatchState) ([]*services.MatchView, error) {
	return []*services.MatchView{s.view}, s.err
}

func newTestRouter(ms services.MatchCommandService) http.Handler {
	h := NewMatchHandler(ms, nil)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := middleware.WithClaims(req.Context(), jwt.MapClaims{"user_id": float64(10), "role": "player"})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Post("/matches/{matchID}/commands/{operation}", h.ExecuteCommand)
	r.Get("/matches/{matchID}", h.GetMatch)
	return r
}

func TestExecuteCommandHandler(t *testing.T) {
	score := 3
	stub := &stubMatchService{resp: &services.MatchResponse{
		ID: 1, State: models.MatchStatePendingResult,
		Sides: services.SidesView{A: services.SideView{Score: &score}},
	}}
	router := newTestRouter(stub)

	req := httptest.NewRequest(http.MethodPost, "/matches/1/commands/submit_result", strings.NewReader(`{"score":3,"opponent_score":1}`))
	req.Header.Set("Idempotency-Key", "key123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if stub.lastCmd.Operation != lifecycle.OpSubmitResult || stub.lastCmd.MatchID != 1 || stub.lastCmd.IdempotencyKey != "key123" {
		t.Fatalf("unexpected command %+v", stub.lastCmd)
	}
	if stub.lastCmd.Actor != (services.Actor{ID: 10, Role: "player"}) {
		t.Fatalf("unexpected actor %+v", stub.lastCmd.Actor)
	}
	var body struct {
		State string `json:"state"`
		Meta  struct {
			IdempotentReplay bool `json:"idempotent_replay"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.State != "pending_result" || body.Meta.IdempotentReplay {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestExecuteCommandErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		err  error
		want int
		kind services.ErrorKind
	}{
		{"unknown operation", "/matches/1/commands/forfeit", "{}", nil, http.StatusBadRequest, services.KindValidation},
		{"bad match id", "/matches/abc/commands/start", "{}", nil, http.StatusBadRequest, services.KindValidation},
		{"bad payload", "/matches/1/commands/submit_result", `{"score":"x"}`, nil, http.StatusBadRequest, services.KindValidation},
		{"tie", "/matches/1/commands/confirm_result", "", fmt.Errorf("%w: %w", services.ErrValidationFailed, lifecycle.ErrTiedScore), http.StatusBadRequest, services.KindValidation},
		{"denied", "/matches/1/commands/start", "", services.ErrPermissionDenied, http.StatusForbidden, services.KindPermissionDenied},
		{"transition", "/matches/1/commands/start", "", &lifecycle.TransitionError{Operation: lifecycle.OpStart, Current: models.MatchStateLive}, http.StatusConflict, services.KindInvalidTransition},
		{"conflict", "/matches/1/commands/start", "", services.ErrConcurrencyConflict, http.StatusConflict, services.KindConflict},
		{"not found", "/matches/9/commands/start", "", services.ErrMatchNotFound, http.StatusNotFound, services.KindNotFound},
		{"internal", "/matches/1/commands/start", "", fmt.Errorf("db down"), http.StatusInternalServerError, services.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&stubMatchService{err: tt.err, resp: &services.MatchResponse{}})
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			var body struct {
				Kind services.ErrorKind `json:"kind"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Kind != tt.kind {
				t.Fatalf("expected kind %s, got %s", tt.kind, body.Kind)
			}
		})
	}
}

func TestGetMatchHandler(t *testing.T) {
	router := newTestRouter(&stubMatchService{view: &services.MatchView{ID: 1, State: models.MatchStateLive}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/matches/1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"state": "live"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestEvidenceUploadDisabled(t *testing.T) {
	h := NewEvidenceHandler(&stubMatchService{}, nil)
	rec := httptest.NewRecorder()
	h.Upload(rec, httptest.NewRequest(http.MethodPost, "/matches/1/evidence", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
