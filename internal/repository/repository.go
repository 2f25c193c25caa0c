// Package repository maps duet's documents onto docstore collections.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/starford/duet/internal/docstore"
	"github.com/starford/duet/internal/models"
)

// Collection names.
const (
	Profiles      = "profiles"
	Directory     = "publicDirectory"
	Pairs         = "pairs"
	Invites       = "pairInvites"
	Accounts      = "accounts"
	RevokedTokens = "revokedTokens"
)

// Notes returns the notes sub-collection of a pair.
func Notes(pairID string) string { return Pairs + "/" + pairID + "/notes" }

// SoloNotes returns the private notes sub-collection of a principal without a pair.
func SoloNotes(uid string) string { return Profiles + "/" + uid + "/notes" }

// Reports returns the reports sub-collection of a pair.
func Reports(pairID string) string { return Pairs + "/" + pairID + "/reports" }

// load reads and decodes a document. Missing documents yield (nil, nil).
func load[T any](ctx context.Context, g docstore.Getter, collection, id string) (*T, error) {
	doc, err := g.Get(ctx, collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v T
	if err := doc.Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Profile loads the profile of uid, or nil if it does not exist.
func Profile(ctx context.Context, g docstore.Getter, uid string) (*models.Profile, error) {
	return load[models.Profile](ctx, g, Profiles, uid)
}

// DirectoryEntry loads the public directory entry of uid, or nil.
func DirectoryEntry(ctx context.Context, g docstore.Getter, uid string) (*models.DirectoryEntry, error) {
	return load[models.DirectoryEntry](ctx, g, Directory, uid)
}

// Pair loads a pair by its canonical ID, or nil.
func Pair(ctx context.Context, g docstore.Getter, pairID string) (*models.Pair, error) {
	p, err := load[models.Pair](ctx, g, Pairs, pairID)
	if p != nil {
		p.ID = pairID
	}
	return p, err
}

// Invite loads an invite, or nil.
func Invite(ctx context.Context, g docstore.Getter, inviteID string) (*models.Invite, error) {
	inv, err := load[models.Invite](ctx, g, Invites, inviteID)
	if inv != nil {
		inv.ID = inviteID
	}
	return inv, err
}

// Report loads a pair's report for a window, or nil.
func Report(ctx context.Context, g docstore.Getter, pairID, reportID string) (*models.Report, error) {
	r, err := load[models.Report](ctx, g, Reports(pairID), reportID)
	if r != nil {
		r.ID = reportID
	}
	return r, err
}

// Note loads a single note of a pair, or nil.
func Note(ctx context.Context, g docstore.Getter, pairID, noteID string) (*models.Note, error) {
	n, err := load[models.Note](ctx, g, Notes(pairID), noteID)
	if n != nil {
		n.ID = noteID
	}
	return n, err
}

// Account loads the local account registered under email, or nil.
func Account(ctx context.Context, g docstore.Getter, email string) (*models.Account, error) {
	return load[models.Account](ctx, g, Accounts, email)
}

// ActivePairQuery selects the active pair uid belongs to.
func ActivePairQuery(uid string) docstore.Query {
	return docstore.From(Pairs).
		Where("members", docstore.Contains, uid).
		Where("status", docstore.Eq, models.PairActive).
		Limit(1)
}

// DirectoryByEmailQuery selects the directory entry registered under a normalized email.
func DirectoryByEmailQuery(email string) docstore.Query {
	return docstore.From(Directory).Where("email", docstore.Eq, email).Limit(1)
}

// ProfileQuery selects the single profile document of uid, for live feeds.
func ProfileQuery(uid string) docstore.Query {
	return docstore.From(Profiles).Where(docstore.FieldID, docstore.Eq, uid)
}

// InvitesQuery selects invites where field ("fromUid" or "toUid") equals uid with the given status.
func InvitesQuery(field, uid, status string) docstore.Query {
	return docstore.From(Invites).
		Where(field, docstore.Eq, uid).
		Where("status", docstore.Eq, status).
		OrderBy("createdAt", true)
}

// DecodePairs decodes pair documents, filling IDs.
func DecodePairs(docs []docstore.Document) ([]models.Pair, error) {
	out := make([]models.Pair, 0, len(docs))
	for _, d := range docs {
		var p models.Pair
		if err := d.Decode(&p); err != nil {
			return nil, err
		}
		p.ID = d.ID
		out = append(out, p)
	}
	return out, nil
}

// DecodeInvites decodes invite documents, filling IDs.
func DecodeInvites(docs []docstore.Document) ([]models.Invite, error) {
	out := make([]models.Invite, 0, len(docs))
	for _, d := range docs {
		var inv models.Invite
		if err := d.Decode(&inv); err != nil {
			return nil, err
		}
		inv.ID = d.ID
		out = append(out, inv)
	}
	return out, nil
}

// PendingBetweenQuery selects pending invites sent from one principal to another.
func PendingBetweenQuery(fromUID, toUID string) docstore.Query {
	return docstore.From(Invites).
		Where("fromUid", docstore.Eq, fromUID).
		Where("toUid", docstore.Eq, toUID).
		Where("status", docstore.Eq, models.InvitePending).
		Limit(1)
}

// DecodeNotes decodes note documents, filling IDs.
func DecodeNotes(docs []docstore.Document) ([]models.Note, error) {
	out := make([]models.Note, 0, len(docs))
	for _, d := range docs {
		var n models.Note
		if err := d.Decode(&n); err != nil {
			return nil, fmt.Errorf("decode note: %w", err)
		}
		n.ID = d.ID
		out = append(out, n)
	}
	return out, nil
}

// FirstPair returns the first pair of docs, or nil.
func FirstPair(docs []docstore.Document) (*models.Pair, error) {
	pairs, err := DecodePairs(docs)
	if err != nil || len(pairs) == 0 {
		return nil, err
	}
	return &pairs[0], nil
}

// ClearedPairing is the profile patch removing every derived pairing field.
func ClearedPairing(now models.Time) map[string]any {
	return map[string]any{
		"pairId":       nil,
		"partnerId":    nil,
		"partnerEmail": nil,
		"updatedAt":    now,
	}
}
