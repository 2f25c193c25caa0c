package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/starford/duet/internal/identity"
)

// NewRouter creates a chi router with all API routes mounted.
// Every route except sign-up and sign-in requires a bearer token; each
// authenticated request keeps the caller's background session running.
// svc.Events, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc Services) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()

	r.Post("/auth/signup", h.SignUp)
	r.Post("/auth/signin", h.SignIn)
	r.Post("/auth/signout", h.SignOut)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(svc.Identity, func(p identity.Principal) { h.ensureSession(p.UID) }))

		// Profile.
		r.Get("/me", h.GetMe)
		r.Patch("/me", h.UpdateMe)

		// Invites.
		r.Get("/invites", h.ListInvites)
		r.Post("/invites", h.CreateInvite)
		r.Post("/invites/{id}/accept", h.AcceptInvite)
		r.Post("/invites/{id}/decline", h.DeclineInvite)
		r.Post("/invites/{id}/attach", h.AttachInvite)

		// Pair.
		r.Get("/pair", h.GetPair)
		r.Delete("/pair", h.BreakPair)
		r.Post("/pair/{pairId}/sync", h.SyncPair)

		// Notes CRUD.
		r.Get("/notes", h.ListNotes)
		r.Post("/notes", h.CreateNote)
		r.Put("/notes/{id}", h.UpdateNote)
		r.Delete("/notes/{id}", h.DeleteNote)

		// Reports.
		r.Get("/reports/current", h.CurrentReport)
		r.Post("/reports/generate", h.GenerateReport)

		// SSE endpoint (protected by same auth middleware).
		if svc.Events != nil {
			r.Get("/events", svc.Events.ServeHTTP)
		}
	})

	return r
}
