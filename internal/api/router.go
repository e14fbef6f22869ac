package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/clinic"
)

type RouterConfig struct {
	Service  *clinic.Service
	Verifier *auth.Verifier
	Logger   *zap.Logger
	Checks   []Check
	// RateLimit is optional; nil disables limiting.
	RateLimit *IPRateLimiter
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(RecoverMiddleware(log))

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := NewHandler(cfg.Service, log)

	r.Route("/api", func(r chi.Router) {
		if cfg.RateLimit != nil {
			r.Use(cfg.RateLimit.Middleware(log))
		}

		r.Route("/doctor", func(r chi.Router) {
			r.Use(cfg.Verifier.Middleware)
			r.Use(auth.RequireRole(auth.RoleDoctor))
			r.Get("/me", h.DoctorProfile)
			r.Post("/availability", h.SubmitAvailability)
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Get("/doctors/available", h.AvailableDoctors)
			r.Get("/slots/available", h.AvailableSlots)

			r.With(cfg.Verifier.Middleware, auth.RequireRole(auth.RolePatient)).
				Post("/book", h.BookSlot)
		})
	})

	return r
}
