package share

import (
	"encoding/hex"
	"errors"
	"testing"
	"time"
)

func TestNewToken(t *testing.T) {
	tok, err := NewToken()
	if err != nil {
		t.Fatal(err)
	}
	if len(tok) != 40 {
		t.Errorf("expected 40 hex chars, got %d", len(tok))
	}
	if _, err := hex.DecodeString(tok); err != nil {
		t.Errorf("token is not valid hex: %v", err)
	}
}

func TestNewTokenUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := NewToken()
		if err != nil {
			t.Fatal(err)
		}
		if seen[tok] {
			t.Fatalf("duplicate token after %d draws", i)
		}
		seen[tok] = true
	}
}

func TestLevelSatisfies(t *testing.T) {
	cases := []struct {
		grant    Level
		required Level
		want     bool
	}{
		{LevelView, LevelView, true},
		{LevelView, LevelEdit, false},
		{LevelEdit, LevelView, true},
		{LevelEdit, LevelEdit, true},
	}
	for _, c := range cases {
		if got := c.grant.Satisfies(c.required); got != c.want {
			t.Errorf("%s satisfies %s: got %v, want %v", c.grant, c.required, got, c.want)
		}
	}
}

func TestLevelValid(t *testing.T) {
	if !LevelView.Valid() || !LevelEdit.Valid() {
		t.Error("view and edit should be valid")
	}
	if Level("admin").Valid() {
		t.Error("unknown level should be invalid")
	}
}

func TestTargetValidate(t *testing.T) {
	cases := []struct {
		name   string
		target Target
		ok     bool
	}{
		{"user", UserTarget("u1"), true},
		{"team", TeamTarget(3), true},
		{"public", PublicTarget(), true},
		{"user without id", Target{Kind: TargetUser}, false},
		{"team without id", Target{Kind: TargetTeam}, false},
		{"user and team", Target{Kind: TargetUser, UserID: "u1", TeamID: 3}, false},
		{"public with user", Target{Kind: TargetPublic, UserID: "u1"}, false},
		{"unknown kind", Target{Kind: "group"}, false},
	}
	for _, c := range cases {
		err := c.target.Validate()
		if c.ok && err != nil {
			t.Errorf("%s: unexpected error %v", c.name, err)
		}
		if !c.ok {
			if err == nil {
				t.Errorf("%s: expected error", c.name)
			} else if !errors.Is(err, ErrInvalidTarget) {
				t.Errorf("%s: expected ErrInvalidTarget, got %v", c.name, err)
			}
		}
	}
}

func TestShareExpired(t *testing.T) {
	now := time.Now()

	s := &Share{}
	if s.Expired(now) {
		t.Error("share without expiry should not expire")
	}

	past := now.Add(-time.Hour)
	s.ExpiresAt = &past
	if !s.Expired(now) {
		t.Error("share with past expiry should be expired")
	}

	future := now.Add(time.Hour)
	s.ExpiresAt = &future
	if s.Expired(now) {
		t.Error("share with future expiry should not be expired")
	}
}
