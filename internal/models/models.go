// Package models defines the persisted document types of duet.
package models

// Invite statuses.
const (
	InvitePending  = "pending"
	InviteAccepted = "accepted"
	InviteDeclined = "declined"
)

// Pair statuses.
const (
	PairActive = "active"
	PairEnded  = "ended"
)

// Report statuses.
const (
	ReportGenerating = "generating"
	ReportReady      = "ready"
	ReportError      = "error"
)

// Profile is the per-principal record, keyed by principal ID. The pairing fields
// are a cache derived from the canonical Pair.
type Profile struct {
	Email        string  `json:"email"`
	DisplayName  string  `json:"displayName"`
	PairID       *string `json:"pairId"`
	PartnerID    *string `json:"partnerId"`
	PartnerEmail *string `json:"partnerEmail"`
	UpdatedAt    Time    `json:"updatedAt"`
}

// DirectoryEntry is the public, lookup-by-email view of a principal.
type DirectoryEntry struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// Invite is a pairing proposal from FromUID to ToUID.
type Invite struct {
	ID         string `json:"-"`
	PairID     string `json:"pairId"`
	FromUID    string `json:"fromUid"`
	ToUID      string `json:"toUid"`
	FromEmail  string `json:"fromEmail"`
	ToEmail    string `json:"toEmail"`
	Status     string `json:"status"`
	CreatedAt  Time   `json:"createdAt"`
	AcceptedAt Time   `json:"acceptedAt"`
}

// Pair is the canonical relationship record keyed by the canonical pair ID.
// Members are always stored sorted.
type Pair struct {
	ID            string   `json:"-"`
	Members       []string `json:"members"`
	Status        string   `json:"status"`
	CreatedAt     Time     `json:"createdAt"`
	ReactivatedAt Time     `json:"reactivatedAt"`
	EndedAt       Time     `json:"endedAt"`
	EndedBy       *string  `json:"endedBy"`
}

// Ended reports whether the pair is no longer active.
func (p *Pair) Ended() bool {
	return p.Status == PairEnded || !p.EndedAt.IsZero()
}

// HasMember reports whether uid is one of the pair's members.
func (p *Pair) HasMember(uid string) bool {
	for _, m := range p.Members {
		if m == uid {
			return true
		}
	}
	return false
}

// Partner returns the member other than uid, or "" when it cannot be determined.
func (p *Pair) Partner(uid string) string {
	for _, m := range p.Members {
		if m != uid {
			return m
		}
	}
	return ""
}

// Note is a pair-scoped content item.
type Note struct {
	ID        string `json:"-"`
	Text      string `json:"text"`
	OwnerUID  string `json:"ownerUid"`
	OwnerName string `json:"ownerName"`
	CreatedAt Time   `json:"createdAt"`
	UpdatedAt Time   `json:"updatedAt"`
}

// Report is the single per-window summary of a pair's notes.
type Report struct {
	ID          string             `json:"-"`
	Status      string             `json:"status"`
	CreatedAt   Time               `json:"createdAt"`
	CreatedBy   string             `json:"createdBy"`
	PeriodStart Time               `json:"periodStart"`
	PeriodEnd   Time               `json:"periodEnd"`
	NotesCount  *int               `json:"notesCount,omitempty"`
	Summary     *string            `json:"summary"`
	Error       *string            `json:"error"`
	SourceNotes []ReportSourceNote `json:"sourceNotes"`
	UpdatedAt   Time               `json:"updatedAt"`
}

// ReportSourceNote is the truncated copy of a note kept with a report.
type ReportSourceNote struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	OwnerUID  string `json:"ownerUid"`
	UpdatedAt Time   `json:"updatedAt"`
}

// Account is the local identity provider's credential record, keyed by email.
type Account struct {
	UID          string `json:"uid"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	PasswordHash string `json:"passwordHash"`
	Disabled     bool   `json:"disabled"`
	CreatedAt    Time   `json:"createdAt"`
}
