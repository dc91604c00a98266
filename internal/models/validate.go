package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/PortNumber53/creator-studio/internal/docstore"
)

// FieldError reports one invalid or missing field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// DecodeError wraps a FieldError (or a JSON error) with the offending document.
type DecodeError struct {
	Collection string
	ID         string
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s/%s: %v", e.Collection, e.ID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return &FieldError{Field: field, Reason: "is required"}
	}
	return nil
}

func enum(field, v string, allowed ...string) error {
	if !oneOf(v, allowed...) {
		return &FieldError{Field: field, Reason: fmt.Sprintf("must be one of %s", strings.Join(allowed, ", "))}
	}
	return nil
}

func (p Profile) Validate() error {
	if err := required("uid", p.UID); err != nil {
		return err
	}
	if p.VerificationStatus != "" {
		if err := enum("verificationStatus", p.VerificationStatus, VerificationPending, VerificationVerified, VerificationFailed); err != nil {
			return err
		}
	}
	return nil
}

func (p Post) Validate() error {
	if err := required("authorId", p.AuthorID); err != nil {
		return err
	}
	if strings.TrimSpace(p.Content) == "" && p.MediaURL == "" {
		return &FieldError{Field: "content", Reason: "is required when there is no media"}
	}
	if p.Likes < 0 || p.Reposts < 0 {
		return &FieldError{Field: "likes", Reason: "counters cannot be negative"}
	}
	return nil
}

func (c ContentItem) Validate() error {
	if err := required("userId", c.UserID); err != nil {
		return err
	}
	if err := required("url", c.URL); err != nil {
		return err
	}
	if err := enum("type", c.Type, ContentTypeImage, ContentTypeVideo); err != nil {
		return err
	}
	if err := enum("status", c.Status, ContentStatusDraft, ContentStatusPublished, ContentStatusArchived); err != nil {
		return err
	}
	if c.Price.IsNegative() {
		return &FieldError{Field: "price", Reason: "cannot be negative"}
	}
	if c.Type == ContentTypeImage && c.Duration != nil {
		return &FieldError{Field: "duration", Reason: "only applies to video"}
	}
	return nil
}

func (s ScheduledPost) Validate() error {
	if err := required("userId", s.UserID); err != nil {
		return err
	}
	if err := required("content", s.Content); err != nil {
		return err
	}
	if len(s.Platforms) == 0 {
		return &FieldError{Field: "platforms", Reason: "at least one platform is required"}
	}
	for _, p := range s.Platforms {
		if !oneOf(p, Platforms...) {
			return &FieldError{Field: "platforms", Reason: fmt.Sprintf("unknown platform %q", p)}
		}
	}
	if s.ScheduledAt.IsZero() {
		return &FieldError{Field: "scheduledAt", Reason: "is required"}
	}
	return enum("status", s.Status, ScheduledStatusScheduled, ScheduledStatusPublished)
}

func (c Conversation) Validate() error {
	if len(c.Participants) != 2 {
		return &FieldError{Field: "participants", Reason: "must contain exactly two ids"}
	}
	if c.Participants[0] == c.Participants[1] || c.Participants[0] == "" || c.Participants[1] == "" {
		return &FieldError{Field: "participants", Reason: "must be two distinct ids"}
	}
	return nil
}

func (m Message) Validate() error {
	if err := required("senderId", m.SenderID); err != nil {
		return err
	}
	return required("text", m.Text)
}

func (m Manager) Validate() error {
	if err := required("creatorId", m.CreatorID); err != nil {
		return err
	}
	if err := required("name", m.Name); err != nil {
		return err
	}
	return enum("status", m.Status, ManagerStatusConnected, ManagerStatusPending, ManagerStatusInactive)
}

func (i ManagerInvitation) Validate() error {
	if err := required("creatorId", i.CreatorID); err != nil {
		return err
	}
	if err := required("managerEmail", i.ManagerEmail); err != nil {
		return err
	}
	if !strings.Contains(i.ManagerEmail, "@") {
		return &FieldError{Field: "managerEmail", Reason: "must be an email address"}
	}
	return enum("status", i.Status, RequestPending, RequestAccepted, RequestDeclined)
}

func (a ManagerApplication) Validate() error {
	if err := required("creatorId", a.CreatorID); err != nil {
		return err
	}
	if err := required("applicantId", a.ApplicantID); err != nil {
		return err
	}
	return enum("status", a.Status, RequestPending, RequestAccepted, RequestDeclined)
}

func (a AIGeneratedContent) Validate() error {
	if err := required("userId", a.UserID); err != nil {
		return err
	}
	return required("prompt", a.Prompt)
}

// ConversationID is deterministic for an unordered pair of user ids. The uids
// are length-prefixed before hashing so no two distinct pairs share an id.
func ConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s|%d:%s", len(pair[0]), pair[0], len(pair[1]), pair[1])))
	return "dm_" + hex.EncodeToString(sum[:16])
}

// AsFieldError unwraps err into a *FieldError when one is present.
func AsFieldError(err error) (*FieldError, bool) {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

type validator interface{ Validate() error }

func decode[T validator](d docstore.Document, v *T, setID func(*T, string)) error {
	if err := d.DataTo(v); err != nil {
		return &DecodeError{Collection: d.Collection, ID: d.ID, Err: err}
	}
	if setID != nil {
		setID(v, d.ID)
	}
	if err := (*v).Validate(); err != nil {
		return &DecodeError{Collection: d.Collection, ID: d.ID, Err: err}
	}
	return nil
}
