package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/duet/internal/pairing"
)

// Handler holds API route handlers.
type Handler struct {
	svc Services
}

// NewHandler creates a new Handler.
func NewHandler(svc Services) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ensureSession(uid string) {
	if h.svc.Sessions != nil {
		h.svc.Sessions.Ensure(uid)
	}
}

// SignUp handles POST /api/auth/signup.
//
//	@Summary		Register an account
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SignUpRequest	true	"Credentials"
//	@Success		201		{object}	SessionResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Router			/auth/signup [post]
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, "sign up", err)
		return
	}
	sess, err := h.svc.Identity.SignUp(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		writeError(w, r, "sign up", err)
		return
	}
	h.ensureSession(sess.Principal.UID)
	writeJSON(w, http.StatusCreated, SessionResponse(sess))
}

// SignIn handles POST /api/auth/signin.
//
//	@Summary		Sign in with email and password
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SignInRequest	true	"Credentials"
//	@Success		200		{object}	SessionResponse
//	@Failure		401		{object}	errResponse
//	@Failure		429		{object}	errResponse
//	@Router			/auth/signin [post]
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, "sign in", err)
		return
	}
	sess, err := h.svc.Identity.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, "sign in", err)
		return
	}
	h.ensureSession(sess.Principal.UID)
	writeJSON(w, http.StatusOK, SessionResponse(sess))
}

// SignOut handles POST /api/auth/signout.
//
//	@Summary		Revoke the bearer token
//	@Tags			auth
//	@Success		204	"Signed out"
//	@Failure		401	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/auth/signout [post]
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Identity.SignOut(r.Context(), bearerToken(r))
	if err != nil {
		writeError(w, r, "sign out", err)
		return
	}
	if h.svc.Sessions != nil {
		h.svc.Sessions.Stop(p.UID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetMe handles GET /api/me.
//
//	@Summary		Get the caller's profile
//	@Tags			profile
//	@Produce		json
//	@Success		200	{object}	ProfileView
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/me [get]
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	me := principal(r)
	p, err := h.svc.Profiles.Get(r.Context(), me.UID)
	if err != nil {
		writeError(w, r, "get profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profileView(me.UID, p))
}

// UpdateMe handles PATCH /api/me.
//
//	@Summary		Change the caller's display name
//	@Tags			profile
//	@Accept			json
//	@Produce		json
//	@Param			body	body		UpdateProfileRequest	true	"New display name"
//	@Success		200		{object}	ProfileView
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/me [patch]
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, "update profile", err)
		return
	}
	me := principal(r)
	p, err := h.svc.Profiles.UpdateDisplayName(r.Context(), me.UID, req.DisplayName)
	if err != nil {
		writeError(w, r, "update profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profileView(me.UID, p))
}

// ListInvites handles GET /api/invites.
//
//	@Summary		List incoming or outgoing invites
//	@Tags			invites
//	@Produce		json
//	@Param			direction	query		string	true	"Direction"	Enums(in, out)
//	@Param			status		query		string	false	"Status"	Enums(pending, accepted, declined)
//	@Success		200			{object}	InviteListResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/invites [get]
func (h *Handler) ListInvites(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	direction := q.Get("direction")
	if direction == "" {
		direction = pairing.Incoming
	}
	invites, err := h.svc.Pairing.ListInvites(r.Context(), principal(r).UID, direction, q.Get("status"))
	if err != nil {
		writeError(w, r, "list invites", err)
		return
	}
	views := make([]InviteView, 0, len(invites))
	for i := range invites {
		views = append(views, inviteView(&invites[i]))
	}
	writeJSON(w, http.StatusOK, InviteListResponse{Invites: views})
}

// CreateInvite handles POST /api/invites.
//
//	@Summary		Invite a partner by email
//	@Tags			invites
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateInviteRequest	true	"Partner email"
//	@Success		201		{object}	InviteView
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/invites [post]
func (h *Handler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	var req CreateInviteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, "create invite", err)
		return
	}
	inv, err := h.svc.Pairing.CreateInvite(r.Context(), principal(r), req.Email)
	if err != nil {
		writeError(w, r, "create invite", err)
		return
	}
	writeJSON(w, http.StatusCreated, inviteView(inv))
}

// AcceptInvite handles POST /api/invites/{id}/accept.
//
//	@Summary		Accept an incoming invite
//	@Tags			invites
//	@Produce		json
//	@Param			id	path		string	true	"Invite ID"
//	@Success		200	{object}	PairView
//	@Failure		403	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/invites/{id}/accept [post]
func (h *Handler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	me := principal(r)
	pair, err := h.svc.Pairing.AcceptInvite(r.Context(), me.UID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "accept invite", err)
		return
	}
	writeJSON(w, http.StatusOK, pairView(pair, me.UID))
}

// DeclineInvite handles POST /api/invites/{id}/decline.
//
//	@Summary		Decline an incoming invite
//	@Tags			invites
//	@Param			id	path	string	true	"Invite ID"
//	@Success		204	"Declined"
//	@Failure		403	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/invites/{id}/decline [post]
func (h *Handler) DeclineInvite(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Pairing.DeclineInvite(r.Context(), principal(r).UID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, "decline invite", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AttachInvite handles POST /api/invites/{id}/attach.
//
//	@Summary		Attach the sender of an accepted invite to its pair
//	@Tags			invites
//	@Produce		json
//	@Param			id	path		string	true	"Invite ID"
//	@Success		200	{object}	map[string]bool
//	@Security		BearerAuth
//	@Router			/invites/{id}/attach [post]
func (h *Handler) AttachInvite(w http.ResponseWriter, r *http.Request) {
	attached, err := h.svc.Pairing.AttachAcceptedInviteAsSender(r.Context(), principal(r).UID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "attach invite", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"attached": attached})
}

// GetPair handles GET /api/pair.
//
//	@Summary		Get the caller's active pair
//	@Tags			pair
//	@Produce		json
//	@Success		200	{object}	PairResponse
//	@Security		BearerAuth
//	@Router			/pair [get]
func (h *Handler) GetPair(w http.ResponseWriter, r *http.Request) {
	me := principal(r)
	pair, err := h.svc.Pairing.ActivePair(r.Context(), me.UID)
	if err != nil {
		writeError(w, r, "get pair", err)
		return
	}
	writeJSON(w, http.StatusOK, PairResponse{Pair: pairView(pair, me.UID)})
}

// BreakPair handles DELETE /api/pair.
//
//	@Summary		End the caller's pair
//	@Tags			pair
//	@Success		204	"Pair ended"
//	@Failure		403	{object}	errResponse
//	@Failure		412	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pair [delete]
func (h *Handler) BreakPair(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Pairing.BreakPair(r.Context(), principal(r).UID); err != nil {
		writeError(w, r, "break pair", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SyncPair handles POST /api/pair/{pairId}/sync.
//
//	@Summary		Clear the caller's pairing if the given pair has ended
//	@Tags			pair
//	@Produce		json
//	@Param			pairId	path		string	true	"Pair ID"
//	@Success		200		{object}	map[string]bool
//	@Security		BearerAuth
//	@Router			/pair/{pairId}/sync [post]
func (h *Handler) SyncPair(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.svc.Reconciler.SyncEndedPairOnOpen(r.Context(), principal(r).UID, chi.URLParam(r, "pairId"))
	if err != nil {
		writeError(w, r, "sync pair", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": cleared})
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List the caller's notes
//	@Tags			notes
//	@Produce		json
//	@Success		200	{object}	NoteListResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	scope, list, err := h.svc.Notes.List(r.Context(), principal(r).UID)
	if err != nil {
		writeError(w, r, "list notes", err)
		return
	}
	views := make([]NoteView, 0, len(list))
	for i := range list {
		views = append(views, noteView(&list[i]))
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Scope: scope, Notes: views})
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Create a note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		NoteRequest	true	"Note text"
//	@Success		201		{object}	NoteView
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req NoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, "create note", err)
		return
	}
	n, err := h.svc.Notes.Create(r.Context(), principal(r).UID, req.Text)
	if err != nil {
		writeError(w, r, "create note", err)
		return
	}
	writeJSON(w, http.StatusCreated, noteView(n))
}

// UpdateNote handles PUT /api/notes/{id}.
//
//	@Summary		Replace the text of an own note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"Note ID"
//	@Param			body	body		NoteRequest	true	"Note text"
//	@Success		200		{object}	NoteView
//	@Failure		403		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [put]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	var req NoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, "update note", err)
		return
	}
	n, err := h.svc.Notes.Update(r.Context(), principal(r).UID, chi.URLParam(r, "id"), req.Text)
	if err != nil {
		writeError(w, r, "update note", err)
		return
	}
	writeJSON(w, http.StatusOK, noteView(n))
}

// DeleteNote handles DELETE /api/notes/{id}.
//
//	@Summary		Delete an own note
//	@Tags			notes
//	@Param			id	path	string	true	"Note ID"
//	@Success		204	"Note deleted"
//	@Failure		403	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Notes.Delete(r.Context(), principal(r).UID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, "delete note", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CurrentReport handles GET /api/reports/current.
//
//	@Summary		Get the schedule and report of the current window
//	@Tags			reports
//	@Produce		json
//	@Success		200	{object}	CurrentReportResponse
//	@Security		BearerAuth
//	@Router			/reports/current [get]
func (h *Handler) CurrentReport(w http.ResponseWriter, r *http.Request) {
	cur, err := h.svc.Reports.Current(r.Context(), principal(r).UID)
	if err != nil {
		writeError(w, r, "current report", err)
		return
	}
	writeJSON(w, http.StatusOK, CurrentReportResponse{Schedule: cur.Schedule, Report: reportView(cur.Report)})
}

// GenerateReport handles POST /api/reports/generate.
//
//	@Summary		Generate the report of the current window
//	@Tags			reports
//	@Produce		json
//	@Success		200	{object}	GenerateResponse
//	@Failure		412	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/reports/generate [post]
func (h *Handler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Reports.GenerateFor(r.Context(), principal(r).UID)
	if err != nil {
		writeError(w, r, "generate report", err)
		return
	}
	writeJSON(w, http.StatusOK, GenerateResponse{Outcome: res.Outcome, Report: reportView(res.Report)})
}
