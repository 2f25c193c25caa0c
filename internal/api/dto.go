package api

import (
	"time"

	"github.com/starford/duet/internal/identity"
	"github.com/starford/duet/internal/models"
	"github.com/starford/duet/internal/notes"
	"github.com/starford/duet/internal/reports"
	"github.com/starford/duet/internal/schedule"
)

// SignUpRequest is the request body for registering an account.
type SignUpRequest struct {
	Email       string `json:"email" example:"alice@example.com" validate:"required"`
	Password    string `json:"password" example:"secret123" validate:"required"`
	DisplayName string `json:"displayName,omitempty" example:"Alice"`
}

// SignInRequest is the request body for signing in.
type SignInRequest struct {
	Email    string `json:"email" example:"alice@example.com" validate:"required"`
	Password string `json:"password" example:"secret123" validate:"required"`
}

// SessionResponse is returned after sign-up and sign-in.
type SessionResponse struct {
	Principal identity.Principal `json:"principal" validate:"required"`
	Token     string             `json:"token" validate:"required"`
	ExpiresAt time.Time          `json:"expiresAt" validate:"required"`
}

// UpdateProfileRequest is the request body for PATCH /me.
type UpdateProfileRequest struct {
	DisplayName string `json:"displayName" example:"Alice" validate:"required"`
}

// CreateInviteRequest is the request body for POST /invites.
type CreateInviteRequest struct {
	Email string `json:"email" example:"bob@example.com" validate:"required"`
}

// NoteRequest is the request body for creating or updating a note.
type NoteRequest struct {
	Text string `json:"text" example:"Went hiking together" validate:"required"`
}

// ProfileView is the caller's profile.
type ProfileView struct {
	UID          string     `json:"uid"`
	Email        string     `json:"email"`
	DisplayName  string     `json:"displayName"`
	PairID       *string    `json:"pairId"`
	PartnerID    *string    `json:"partnerId"`
	PartnerEmail *string    `json:"partnerEmail"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
}

// InviteView is a single invite.
type InviteView struct {
	ID         string     `json:"id"`
	PairID     string     `json:"pairId"`
	FromUID    string     `json:"fromUid"`
	ToUID      string     `json:"toUid"`
	FromEmail  string     `json:"fromEmail"`
	ToEmail    string     `json:"toEmail"`
	Status     string     `json:"status"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
	AcceptedAt *time.Time `json:"acceptedAt,omitempty"`
}

// InviteListResponse wraps invite listings.
type InviteListResponse struct {
	Invites []InviteView `json:"invites" validate:"required"`
}

// PairView is a pair as seen by one of its members.
type PairView struct {
	ID            string     `json:"id"`
	Members       []string   `json:"members"`
	PartnerID     string     `json:"partnerId,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
	ReactivatedAt *time.Time `json:"reactivatedAt,omitempty"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
	EndedBy       *string    `json:"endedBy,omitempty"`
}

// PairResponse wraps the active pair, which is null when there is none.
type PairResponse struct {
	Pair *PairView `json:"pair"`
}

// NoteView is a single note.
type NoteView struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	OwnerUID  string     `json:"ownerUid"`
	OwnerName string     `json:"ownerName"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// NoteListResponse wraps the caller's notes and where they live.
type NoteListResponse struct {
	Scope notes.Scope `json:"scope"`
	Notes []NoteView  `json:"notes" validate:"required"`
}

// SourceNoteView is a note copy kept with a report.
type SourceNoteView struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	OwnerUID  string     `json:"ownerUid"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// ReportView is a pair's report of one window.
type ReportView struct {
	ID          string           `json:"id"`
	Status      string           `json:"status"`
	CreatedBy   string           `json:"createdBy"`
	PeriodStart *time.Time       `json:"periodStart,omitempty"`
	PeriodEnd   *time.Time       `json:"periodEnd,omitempty"`
	NotesCount  *int             `json:"notesCount,omitempty"`
	Summary     *string          `json:"summary"`
	Error       *string          `json:"error"`
	SourceNotes []SourceNoteView `json:"sourceNotes"`
	CreatedAt   *time.Time       `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time       `json:"updatedAt,omitempty"`
}

// CurrentReportResponse is the caller's schedule and the report of its window.
type CurrentReportResponse struct {
	Schedule schedule.Schedule `json:"schedule"`
	Report   *ReportView       `json:"report"`
}

// GenerateResponse is returned by POST /reports/generate.
type GenerateResponse struct {
	Outcome reports.Outcome `json:"outcome" enums:"generated,skipped"`
	Report  *ReportView     `json:"report,omitempty"`
}

func ts(t models.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

func profileView(uid string, p *models.Profile) ProfileView {
	return ProfileView{
		UID:          uid,
		Email:        p.Email,
		DisplayName:  p.DisplayName,
		PairID:       p.PairID,
		PartnerID:    p.PartnerID,
		PartnerEmail: p.PartnerEmail,
		UpdatedAt:    ts(p.UpdatedAt),
	}
}

func inviteView(inv *models.Invite) InviteView {
	return InviteView{
		ID:         inv.ID,
		PairID:     inv.PairID,
		FromUID:    inv.FromUID,
		ToUID:      inv.ToUID,
		FromEmail:  inv.FromEmail,
		ToEmail:    inv.ToEmail,
		Status:     inv.Status,
		CreatedAt:  ts(inv.CreatedAt),
		AcceptedAt: ts(inv.AcceptedAt),
	}
}

func pairView(p *models.Pair, me string) *PairView {
	if p == nil {
		return nil
	}
	return &PairView{
		ID:            p.ID,
		Members:       p.Members,
		PartnerID:     p.Partner(me),
		Status:        p.Status,
		CreatedAt:     ts(p.CreatedAt),
		ReactivatedAt: ts(p.ReactivatedAt),
		EndedAt:       ts(p.EndedAt),
		EndedBy:       p.EndedBy,
	}
}

func noteView(n *models.Note) NoteView {
	return NoteView{
		ID:        n.ID,
		Text:      n.Text,
		OwnerUID:  n.OwnerUID,
		OwnerName: n.OwnerName,
		CreatedAt: ts(n.CreatedAt),
		UpdatedAt: ts(n.UpdatedAt),
	}
}

func reportView(r *models.Report) *ReportView {
	if r == nil {
		return nil
	}
	sources := make([]SourceNoteView, 0, len(r.SourceNotes))
	for _, s := range r.SourceNotes {
		sources = append(sources, SourceNoteView{ID: s.ID, Text: s.Text, OwnerUID: s.OwnerUID, UpdatedAt: ts(s.UpdatedAt)})
	}
	return &ReportView{
		ID:          r.ID,
		Status:      r.Status,
		CreatedBy:   r.CreatedBy,
		PeriodStart: ts(r.PeriodStart),
		PeriodEnd:   ts(r.PeriodEnd),
		NotesCount:  r.NotesCount,
		Summary:     r.Summary,
		Error:       r.Error,
		SourceNotes: sources,
		CreatedAt:   ts(r.CreatedAt),
		UpdatedAt:   ts(r.UpdatedAt),
	}
}
