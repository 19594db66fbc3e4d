// Package share manages grants on catalog resources: direct shares to
// users and teams, and anonymous public links.
package share

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/eliterp/cloudstore/internal/catalog"
)

var (
	// ErrNotFound is returned when a share does not exist.
	ErrNotFound = errors.New("share not found")

	// ErrExpired is returned when a public link's expiry has passed. The
	// row is deleted when this is detected; an expired link is never
	// honored.
	ErrExpired = errors.New("share link expired")

	// ErrInvalidTarget is returned when a share does not name exactly
	// one recipient.
	ErrInvalidTarget = errors.New("share must have exactly one target")

	// ErrWrongPassword is returned when a password-protected link is
	// opened with a bad or missing password.
	ErrWrongPassword = errors.New("wrong share password")
)

// Level is a share permission level.
type Level string

const (
	LevelView Level = "view"
	LevelEdit Level = "edit"
)

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	return l == LevelView || l == LevelEdit
}

// Satisfies reports whether a grant at level l covers a request for
// required.
func (l Level) Satisfies(required Level) bool {
	if l == LevelEdit {
		return true
	}
	return required == LevelView
}

// TargetKind discriminates share recipients.
type TargetKind string

const (
	TargetUser   TargetKind = "user"
	TargetTeam   TargetKind = "team"
	TargetPublic TargetKind = "public"
)

// Target is the recipient of a share: a user, a team, or the anonymous
// public. Exactly one variant is populated.
type Target struct {
	Kind   TargetKind
	UserID string // set when Kind == TargetUser
	TeamID int64  // set when Kind == TargetTeam
}

// UserTarget builds a user recipient.
func UserTarget(userID string) Target {
	return Target{Kind: TargetUser, UserID: userID}
}

// TeamTarget builds a team recipient.
func TeamTarget(teamID int64) Target {
	return Target{Kind: TargetTeam, TeamID: teamID}
}

// PublicTarget builds the anonymous recipient.
func PublicTarget() Target {
	return Target{Kind: TargetPublic}
}

// Validate checks that exactly one recipient variant is populated.
func (t Target) Validate() error {
	switch t.Kind {
	case TargetUser:
		if t.UserID == "" || t.TeamID != 0 {
			return ErrInvalidTarget
		}
	case TargetTeam:
		if t.TeamID == 0 || t.UserID != "" {
			return ErrInvalidTarget
		}
	case TargetPublic:
		if t.UserID != "" || t.TeamID != 0 {
			return ErrInvalidTarget
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTarget, t.Kind)
	}
	return nil
}

// Share is a grant of Permission on a resource to a Target.
type Share struct {
	ID           int64
	GranterID    string
	ResourceType catalog.ResourceType
	ResourceID   int64
	Target       Target
	Permission   Level
	Token        string // set for public targets only
	PasswordHash string
	ExpiresAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Display identity for the recipient, filled by listing queries.
	TargetName  string
	TargetEmail string
}

// Expired reports whether the share's expiry has passed.
func (s *Share) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

const tokenBytes = 20

// NewToken returns a hex-encoded random public-link token.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
