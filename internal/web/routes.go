package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/face-attendance/internal/hub"
	"github.com/kozaktomas/face-attendance/internal/web/handlers"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

const requestTimeout = time.Minute

func (s *Server) setupRoutes() {
	d := s.deps
	sm := s.sessionManager

	authHandler := handlers.NewAuthHandler(d.Admins, sm)
	usersHandler := handlers.NewUsersHandler(handlers.UsersConfig{
		Identities:   d.Identities,
		Store:        d.Store,
		Encoder:      d.Encoder,
		Threshold:    d.Settings,
		DeletePolicy: s.deletePolicy(),
		ImagesDir:    s.config.Storage.UserImagesDir,
		MaxImageSize: s.config.Storage.MaxImageSize,
	})
	attendanceHandler := handlers.NewAttendanceHandler(d.Identities, d.Decisions, d.Pipeline)
	settingsHandler := handlers.NewSettingsHandler(d.Settings)
	wsHandler := hub.NewHandler(d.Hub, s.config.Web.AllowedOrigins, s.config.Hub.WriteTimeout)
	loginLimiter := middleware.NewRateLimiter(6*time.Second, 5)

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	// Health and metrics (no auth required)
	s.router.Get("/", handlers.HealthCheck)
	s.router.Get("/health", handlers.Readiness(d.DB))
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Live feed; long-lived so it stays outside the request timeout
	s.router.Handle("/ws", wsHandler)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(chiMiddleware.Timeout(requestTimeout))

		// Auth
		r.With(loginLimiter.Middleware).Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)
		r.Get("/auth/status", authHandler.Status)

		// Public endpoints used by kiosks and desktop clients
		r.Get("/attendance/encodings", attendanceHandler.Encodings)
		r.Post("/attendance/scan", attendanceHandler.Scan)
		r.Post("/attendance/scan/image", attendanceHandler.ScanImage)
		r.Get("/attendance", attendanceHandler.List)
		r.Get("/attendance/stats", attendanceHandler.Stats)
		r.Get("/settings/public", settingsHandler.Get)
		r.Get("/users/{id}/image", usersHandler.Image)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sm))

			// Users
			r.Get("/users", usersHandler.List)
			r.Post("/users", usersHandler.Create)
			r.Get("/users/{id}", usersHandler.Get)
			r.Put("/users/{id}", usersHandler.Update)
			r.Delete("/users/{id}", usersHandler.Delete)
			r.Post("/users/{id}/enroll", usersHandler.Enroll)

			// Settings
			r.Get("/settings", settingsHandler.Get)
			r.Put("/settings", settingsHandler.Update)

			r.Get("/hub/stats", handlers.HubStats(d.Hub))
		})
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": "not found"}`))
	})
}
