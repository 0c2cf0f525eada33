package routes

import (
	"log/slog"
	"net/http"

	"github.com/Dosada05/match-engine/handlers"
	"github.com/Dosada05/match-engine/lifecycle"
	"github.com/Dosada05/match-engine/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Options struct {
	JWTSecret      []byte
	AllowedOrigins []string
	Logger         *slog.Logger
}

func SetupRoutes(
	router chi.Router,
	opts Options,
	matchHandler *handlers.MatchHandler,
	evidenceHandler *handlers.EvidenceHandler,
	webSocketHandler *handlers.WebSocketHandler,
) {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Лента обновлений матчей турнира (публичная)
	router.Get("/ws/tournaments/{tournamentID}", webSocketHandler.ServeWs)

	authenticate := middleware.Authenticate(opts.JWTSecret, opts.Logger)

	router.Get("/tournaments/{tournamentID}/matches", matchHandler.ListTournamentMatches)

	router.Route("/matches/{matchID}", func(r chi.Router) {
		r.Get("/", matchHandler.GetMatch)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			// Споры содержат описание и ссылки на доказательства
			r.Get("/disputes", matchHandler.ListDisputes)
			r.Post("/commands/{operation}", matchHandler.ExecuteCommand)
			r.Post("/evidence", evidenceHandler.Upload)
		})
	})

	router.Route("/disputes/{disputeID}", func(r chi.Router) {
		r.Use(authenticate)
		r.Use(middleware.RequireRole(lifecycle.RoleAdmin, lifecycle.RoleOrganizer))
		r.Post("/review", matchHandler.ReviewDispute)
		r.Post("/escalate", matchHandler.EscalateDispute)
	})
}
