package platform

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter wires the session API contract onto a chi router. Static routes
// (/session/user...) are registered alongside /session/{sessionID}; chi
// gives literals priority over the parameter.
func NewRouter(store *SQLStore, auth *AuthService, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/guest", GuestLoginHandler(auth))

	r.Group(func(pr chi.Router) {
		pr.Use(JWTMiddleware(auth))

		pr.Post("/session/start", StartSessionHandler(store))
		pr.Get("/session/user", ListSessionsHandler(store))
		pr.Get("/session/user/statistics", StatisticsHandler(store))
		pr.Get("/session/{sessionID}", GetSessionHandler(store))
		pr.Get("/session/{sessionID}/questions", GetQuestionsHandler(store))
		pr.Post("/session/{sessionID}/answers/bulk", BulkAnswersHandler(store))
		pr.Post("/session/{sessionID}/submit", SubmitSessionHandler(store))
		pr.Get("/session/{sessionID}/results", GetResultsHandler(store))
	})

	return r
}
