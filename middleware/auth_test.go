package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestAuthenticate(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var gotID int
	var gotRole string
	h := Authenticate(testSecret, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = GetUserIDFromContext(r.Context())
		gotRole, _ = GetUserRoleFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	valid := signToken(t, testSecret, jwt.MapClaims{
		"user_id": 42, "role": "organizer", "exp": time.Now().Add(time.Hour).Unix(),
	})
	expired := signToken(t, testSecret, jwt.MapClaims{
		"user_id": 42, "role": "organizer", "exp": time.Now().Add(-time.Hour).Unix(),
	})
	foreign := signToken(t, []byte("other"), jwt.MapClaims{"user_id": 42, "role": "player"})
	noUser := signToken(t, testSecret, jwt.MapClaims{"role": "player"})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + valid, http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized},
		{"no user id", "Bearer " + noUser, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d (%s)", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
	if gotID != 42 || gotRole != "organizer" {
		t.Fatalf("claims not propagated: id=%d role=%q", gotID, gotRole)
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole("admin", "organizer")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for role, want := range map[string]int{
		"organizer": http.StatusNoContent,
		"player":    http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithClaims(req.Context(), jwt.MapClaims{"user_id": float64(1), "role": role}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("role %s: expected %d, got %d", role, want, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no claims: expected 401, got %d", rec.Code)
	}
}

func TestUserIDFromClaims(t *testing.T) {
	cases := []struct {
		claim   interface{}
		want    int
		wantErr bool
	}{
		{float64(7), 7, false},
		{"8", 8, false},
		{float64(1.5), 0, true},
		{float64(0), 0, true},
		{"abc", 0, true},
		{true, 0, true},
	}
	for _, c := range cases {
		got, err := userIDFromClaims(jwt.MapClaims{"user_id": c.claim})
		if (err != nil) != c.wantErr || got != c.want {
			t.Fatalf("claim %v: got %d err %v", c.claim, got, err)
		}
	}
}
