package access

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/eliterp/cloudstore/internal/catalog"
	"github.com/eliterp/cloudstore/internal/share"
)

// fakeCatalog holds a folder tree and resource ownership in memory.
type fakeCatalog struct {
	owners  map[string]string // "file:1" -> user id
	folders map[string]*int64 // "file:1" -> containing folder id
	parents map[int64]*int64  // folder id -> parent folder id
}

func key(rt catalog.ResourceType, id int64) string {
	return string(rt) + ":" + strconv.FormatInt(id, 10)
}

func (c *fakeCatalog) OwnerOf(_ context.Context, rt catalog.ResourceType, id int64) (string, error) {
	owner, ok := c.owners[key(rt, id)]
	if !ok {
		return "", catalog.ErrNotFound
	}
	return owner, nil
}

func (c *fakeCatalog) FolderOf(_ context.Context, rt catalog.ResourceType, id int64) (*int64, error) {
	if rt == catalog.ResourceFolder {
		return c.parents[id], nil
	}
	return c.folders[key(rt, id)], nil
}

func (c *fakeCatalog) ParentOf(_ context.Context, folderID int64) (*int64, error) {
	return c.parents[folderID], nil
}

// fakeGrants serves live shares and team memberships from memory.
type fakeGrants struct {
	shares []share.Share
	teams  map[string][]int64
}

func (g *fakeGrants) GrantsFor(_ context.Context, rt catalog.ResourceType, id int64, userID string, teamIDs []int64) ([]share.Share, error) {
	var out []share.Share
	for _, s := range g.shares {
		if s.ResourceType != rt || s.ResourceID != id || s.Expired(time.Now()) {
			continue
		}
		switch s.Target.Kind {
		case share.TargetUser:
			if s.Target.UserID == userID {
				out = append(out, s)
			}
		case share.TargetTeam:
			for _, tid := range teamIDs {
				if s.Target.TeamID == tid {
					out = append(out, s)
					break
				}
			}
		}
	}
	return out, nil
}

func (g *fakeGrants) TeamIDsForUser(_ context.Context, userID string) ([]int64, error) {
	return g.teams[userID], nil
}

func ptr(n int64) *int64 { return &n }

// A tree owned by "alice":
//
//	folder 1 / folder 2 / file 10
//	file 20 at root
func testFixture() (*fakeCatalog, *fakeGrants) {
	cat := &fakeCatalog{
		owners: map[string]string{
			"folder:1": "alice",
			"folder:2": "alice",
			"file:10":  "alice",
			"file:20":  "alice",
		},
		folders: map[string]*int64{
			"file:10": ptr(2),
			"file:20": nil,
		},
		parents: map[int64]*int64{
			1: nil,
			2: ptr(1),
		},
	}
	return cat, &fakeGrants{teams: map[string][]int64{}}
}

func TestResolverOwner(t *testing.T) {
	cat, grants := testFixture()
	r := New(cat, grants)

	ok, err := r.Can(context.Background(), "alice", catalog.ResourceFile, 10, share.LevelEdit)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("owner should have edit access")
	}
}

func TestResolverDenyByDefault(t *testing.T) {
	cat, grants := testFixture()
	r := New(cat, grants)

	ok, err := r.Can(context.Background(), "bob", catalog.ResourceFile, 10, share.LevelView)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("stranger should be denied")
	}
}

func TestResolverDirectUserShare(t *testing.T) {
	cat, grants := testFixture()
	grants.shares = []share.Share{{
		ResourceType: catalog.ResourceFile,
		ResourceID:   10,
		Target:       share.UserTarget("bob"),
		Permission:   share.LevelView,
	}}
	r := New(cat, grants)

	ok, err := r.Can(context.Background(), "bob", catalog.ResourceFile, 10, share.LevelView)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("direct share should grant view")
	}

	ok, err = r.Can(context.Background(), "bob", catalog.ResourceFile, 10, share.LevelEdit)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("view share should not grant edit")
	}
}

func TestResolverTeamShare(t *testing.T) {
	cat, grants := testFixture()
	grants.teams["bob"] = []int64{7}
	grants.shares = []share.Share{{
		ResourceType: catalog.ResourceFolder,
		ResourceID:   2,
		Target:       share.TeamTarget(7),
		Permission:   share.LevelEdit,
	}}
	r := New(cat, grants)

	ok, err := r.Can(context.Background(), "bob", catalog.ResourceFolder, 2, share.LevelEdit)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("team member should get the team's grant")
	}

	ok, err = r.Can(context.Background(), "carol", catalog.ResourceFolder, 2, share.LevelView)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("non-member should not get the team's grant")
	}
}

func TestResolverInheritedFolderShare(t *testing.T) {
	cat, grants := testFixture()
	// Share on the root folder; file 10 is two levels below.
	grants.shares = []share.Share{{
		ResourceType: catalog.ResourceFolder,
		ResourceID:   1,
		Target:       share.UserTarget("bob"),
		Permission:   share.LevelView,
	}}
	r := New(cat, grants)

	ok, err := r.Can(context.Background(), "bob", catalog.ResourceFile, 10, share.LevelView)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("share on ancestor folder should reach the file")
	}

	// Root-level file 20 is outside the shared subtree.
	ok, err = r.Can(context.Background(), "bob", catalog.ResourceFile, 20, share.LevelView)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("share should not reach files outside the subtree")
	}
}

func TestResolverNearestGrantWins(t *testing.T) {
	cat, grants := testFixture()
	// View on the root, edit on the inner folder: the inner grant is
	// found on the walk and suffices for edit.
	grants.shares = []share.Share{
		{
			ResourceType: catalog.ResourceFolder,
			ResourceID:   1,
			Target:       share.UserTarget("bob"),
			Permission:   share.LevelView,
		},
		{
			ResourceType: catalog.ResourceFolder,
			ResourceID:   2,
			Target:       share.UserTarget("bob"),
			Permission:   share.LevelEdit,
		},
	}
	r := New(cat, grants)

	ok, err := r.Can(context.Background(), "bob", catalog.ResourceFile, 10, share.LevelEdit)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("edit grant on the containing folder should allow edit")
	}
}

func TestResolverExpiredShareDenied(t *testing.T) {
	cat, grants := testFixture()
	past := time.Now().Add(-time.Hour)
	grants.shares = []share.Share{{
		ResourceType: catalog.ResourceFile,
		ResourceID:   10,
		Target:       share.UserTarget("bob"),
		Permission:   share.LevelEdit,
		ExpiresAt:    &past,
	}}
	r := New(cat, grants)

	ok, err := r.Can(context.Background(), "bob", catalog.ResourceFile, 10, share.LevelView)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expired share should not grant access")
	}
}

func TestResolverRevokedShareDenied(t *testing.T) {
	cat, grants := testFixture()
	grants.shares = []share.Share{{
		ResourceType: catalog.ResourceFile,
		ResourceID:   10,
		Target:       share.UserTarget("bob"),
		Permission:   share.LevelView,
	}}
	r := New(cat, grants)

	ok, _ := r.Can(context.Background(), "bob", catalog.ResourceFile, 10, share.LevelView)
	if !ok {
		t.Fatal("precondition: share should grant view")
	}

	grants.shares = nil
	ok, err := r.Can(context.Background(), "bob", catalog.ResourceFile, 10, share.LevelView)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("access should be gone after revocation")
	}
}

func TestResolverUnknownResource(t *testing.T) {
	cat, grants := testFixture()
	r := New(cat, grants)

	_, err := r.Can(context.Background(), "alice", catalog.ResourceFile, 999, share.LevelView)
	if err == nil {
		t.Error("expected error for unknown resource")
	}
}
