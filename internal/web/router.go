package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/znz-systems/boxmeta/internal/auth"
	"github.com/znz-systems/boxmeta/internal/ratelimit"
	"github.com/znz-systems/boxmeta/internal/web/handlers"
	"github.com/znz-systems/boxmeta/internal/web/middleware"
)

// RouterDeps holds all dependencies needed to build the router.
type RouterDeps struct {
	MailboxHandler *handlers.MailboxHandler
	ACLHandler     *handlers.ACLHandler
	MessageHandler *handlers.MessageHandler
	Verifier       *auth.Verifier
	Limiter        *ratelimit.Limiter
}

// NewRouter wires all routes into a Chi router.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RealIP)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Metadata API (bearer token, per-principal rate limit)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireToken(deps.Verifier))
		r.Use(middleware.Principal)
		r.Use(middleware.RateLimit(deps.Limiter))

		r.Post("/mailboxes", deps.MailboxHandler.HandleCreate)
		r.Get("/mailboxes", deps.MailboxHandler.HandleList)

		r.Route("/mailboxes/{id}", func(r chi.Router) {
			r.Get("/", deps.MailboxHandler.HandleStatus)
			r.Delete("/", deps.MailboxHandler.HandleDelete)

			r.Get("/acl", deps.ACLHandler.HandleGet)
			r.Put("/acl", deps.ACLHandler.HandleSet)
			r.Patch("/acl", deps.ACLHandler.HandleEdit)
			r.Get("/myrights", deps.ACLHandler.HandleMyRights)

			r.Post("/messages", deps.MessageHandler.HandleAppend)
			r.Get("/messages", deps.MessageHandler.HandleList)
			r.Get("/messages/{uid}/content", deps.MessageHandler.HandleContent)
			r.Delete("/messages/{uid}", deps.MessageHandler.HandleDelete)
			r.Post("/messages/{uid}/copy", deps.MessageHandler.HandleCopy)
			r.Post("/messages/{uid}/move", deps.MessageHandler.HandleMove)
			r.Post("/flags", deps.MessageHandler.HandleFlags)
			r.Post("/expunge", deps.MessageHandler.HandleExpunge)
		})
	})

	return r
}
