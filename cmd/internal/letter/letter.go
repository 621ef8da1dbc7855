package letter

import (
	"fmt"
	"time"
)

// Reveal-delay policy for anonymous letters. The clamp bounds are part of the
// product contract and are not configurable at runtime.
const (
	DefaultRevealDelay = 21600 * time.Second  // 6h
	MaxRevealDelay     = 259200 * time.Second // 72h
)

// AnonymousSenderName is the sender-name sentinel shown to recipients of an
// anonymous letter before its reveal time.
const AnonymousSenderName = "Anonymous"

// Status is the persisted lifecycle state of a letter.
type Status string

const (
	StatusSealed  Status = "sealed"
	StatusReady   Status = "ready"
	StatusOpened  Status = "opened"
	StatusExpired Status = "expired"
)

// ParseStatus validates a stored or wire status value.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusSealed, StatusReady, StatusOpened, StatusExpired:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown letter status %q", s)
}

// String returns the canonical wire representation. Status values cross the
// API boundary as plain strings, never as a separate enum encoding.
func (s Status) String() string { return string(s) }

// Letter is a letter row.
type Letter struct {
	ID          string
	SenderID    string
	RecipientID string
	IsAnonymous bool

	Body     string
	BodyRich *string

	AttachmentKey      *string
	RevealDelaySeconds *int64

	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	UnlocksAt time.Time
	OpenedAt  *time.Time
	RevealAt  *time.Time
	ExpiresAt *time.Time
	DeletedAt *time.Time
}

// RecipientRef is the slice of a recipient contact record the letter domain
// needs: who owns it and which identity it resolves to.
type RecipientRef struct {
	ID           string
	OwnerID      string
	LinkedUserID *string
	Email        *string
}

// IsSelfSend reports whether a letter addressed to this recipient resolves
// back to its own sender.
func (r RecipientRef) IsSelfSend(senderID string) bool {
	return r.LinkedUserID != nil && *r.LinkedUserID == senderID
}

// LetterWithParties is the single-fetch join of a letter, its recipient
// record, and the sender's public profile fields.
type LetterWithParties struct {
	Letter          Letter
	Recipient       RecipientRef
	SenderName      *string
	SenderAvatarURL *string
}

// View is the public-facing shape of a letter returned by the API.
//
// Sender identity fields are blanked while an anonymous letter is unrevealed.
type View struct {
	ID              string     `json:"id"`
	SenderID        string     `json:"sender_id,omitempty"`
	SenderName      *string    `json:"sender_name,omitempty"`
	SenderAvatarURL *string    `json:"sender_avatar_url,omitempty"`
	RecipientID     string     `json:"recipient_id"`
	IsAnonymous     bool       `json:"is_anonymous"`
	Status          string     `json:"status"`
	Body            string     `json:"body,omitempty"`
	BodyRich        *string    `json:"body_rich,omitempty"`
	AttachmentKey   *string    `json:"attachment_key,omitempty"`
	RevealAt        *time.Time `json:"reveal_at,omitempty"`
	OpenedAt        *time.Time `json:"opened_at,omitempty"`
	UnlocksAt       time.Time  `json:"unlocks_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// clampRevealDelay resolves the effective reveal delay for an anonymous
// letter: configured seconds if present, clamped to [0, MaxRevealDelay],
// defaulting to DefaultRevealDelay when unset.
//
// The clamp happens in integer-seconds space: converting to time.Duration
// first would overflow int64 for values above ~9.2e9 seconds and wrap a
// huge configured delay to an immediate reveal.
func clampRevealDelay(seconds *int64) time.Duration {
	if seconds == nil {
		return DefaultRevealDelay
	}
	s := *seconds
	if s <= 0 {
		return 0
	}
	if s >= int64(MaxRevealDelay/time.Second) {
		return MaxRevealDelay
	}
	return time.Duration(s) * time.Second
}

// revealed reports whether the sender identity is visible at the given time.
func revealed(l Letter, now time.Time) bool {
	if !l.IsAnonymous {
		return true
	}
	return l.RevealAt != nil && !now.Before(*l.RevealAt)
}

// buildView projects a joined row into its public view for a given viewer.
// The body is withheld until the letter is opened, except for the author.
func buildView(j LetterWithParties, now time.Time, viewerIsSender bool) View {
	l := j.Letter
	v := View{
		ID:            l.ID,
		RecipientID:   l.RecipientID,
		IsAnonymous:   l.IsAnonymous,
		Status:        l.Status.String(),
		AttachmentKey: l.AttachmentKey,
		RevealAt:      l.RevealAt,
		OpenedAt:      l.OpenedAt,
		UnlocksAt:     l.UnlocksAt,
		ExpiresAt:     l.ExpiresAt,
		CreatedAt:     l.CreatedAt,
	}

	if viewerIsSender || revealed(l, now) {
		v.SenderID = l.SenderID
		v.SenderName = j.SenderName
		v.SenderAvatarURL = j.SenderAvatarURL
	} else {
		name := AnonymousSenderName
		v.SenderName = &name
	}

	if viewerIsSender || l.Status == StatusOpened {
		v.Body = l.Body
		v.BodyRich = l.BodyRich
	}

	return v
}
