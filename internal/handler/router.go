package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/dyezepchik/time-chart-bot/internal/service"
)

// Services bundles what the router needs.
type Services struct {
	Classes  *service.ClassService
	Bookings *service.BookingService
	Users    *service.UserService
	Sessions *SessionStore
	Log      *slog.Logger
}

// NewRouter builds the HTTP API.
func NewRouter(s Services) http.Handler {
	if s.Log == nil {
		s.Log = slog.Default()
	}
	if s.Sessions == nil {
		s.Sessions = NewSessionStore(0)
	}
	users := NewUserHandler(s.Users)
	bookings := NewBookingHandler(s.Bookings, s.Sessions)
	admin := NewAdminHandler(s.Classes, s.Users)

	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(s.Log))           // structured access log
	r.Use(CORS)

	// Health
	r.Get("/health", HealthCheck)

	r.Group(func(r chi.Router) {
		r.Use(RequireCaller)

		r.Get("/admission", admin.Admission)

		r.Route("/users", func(r chi.Router) {
			r.Post("/", users.Register)
			r.Get("/{id}", users.Get)
			r.Patch("/{id}", users.UpdateProfile)
			r.Get("/{id}/subscriptions", users.Subscriptions)
		})

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", bookings.StartBooking)
			r.Post("/{sessionID}", bookings.AdvanceBooking)
		})

		r.Route("/unsubscriptions", func(r chi.Router) {
			r.Post("/", bookings.StartUnsubscribe)
			r.Post("/{sessionID}", bookings.AdvanceUnsubscribe)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/schedule", admin.Generate)
			r.Delete("/schedule", admin.Remove)
			r.Get("/schedule", admin.Schedule)
			r.Put("/admission", admin.SetAdmission)
			r.Post("/bookings", bookings.StartBookingFor)
			r.Get("/students", admin.Students)
		})
	})

	return r
}
