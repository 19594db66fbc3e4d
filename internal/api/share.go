package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/eliterp/cloudstore/internal/api/protocol"
	"github.com/eliterp/cloudstore/internal/auth"
	"github.com/eliterp/cloudstore/internal/catalog"
	"github.com/eliterp/cloudstore/internal/events"
	"github.com/eliterp/cloudstore/internal/share"
)

// handleShareData returns everything the share dialog needs: current
// direct shares with recipient identity, candidate users and teams, and
// the resource's public link if one is live.
func (s *Server) handleShareData(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	ctx := r.Context()

	resourceType := catalog.ResourceType(r.URL.Query().Get("type"))
	if !resourceType.Valid() {
		s.sendError(w, http.StatusBadRequest, "type must be file or folder")
		return
	}
	resourceID, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid resource id")
		return
	}

	if !s.requireAccess(w, r, resourceType, resourceID, share.LevelEdit) {
		return
	}

	shares, err := s.shares.ListForResource(ctx, resourceType, resourceID)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	users, err := s.auth.ListUsersExcept(ctx, claims.UserID())
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	teams, err := s.auth.ListTeams(ctx)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}

	resp := protocol.ShareDataResponse{
		Shares: make([]protocol.ShareEntry, 0, len(shares)),
		Users:  make([]protocol.UserInfo, 0, len(users)),
		Teams:  make([]protocol.TeamInfo, 0, len(teams)),
	}
	for _, sh := range shares {
		entry := protocol.ShareEntry{
			ID:          sh.ID,
			TargetKind:  string(sh.Target.Kind),
			TargetName:  sh.TargetName,
			TargetEmail: sh.TargetEmail,
			Permission:  string(sh.Permission),
			ExpiresAt:   sh.ExpiresAt,
		}
		switch sh.Target.Kind {
		case share.TargetUser:
			entry.TargetID = sh.Target.UserID
		case share.TargetTeam:
			entry.TargetID = strconv.FormatInt(sh.Target.TeamID, 10)
		}
		resp.Shares = append(resp.Shares, entry)
	}
	for _, u := range users {
		resp.Users = append(resp.Users, protocol.UserInfo{ID: u.ID, Name: u.Name, Email: u.Email})
	}
	for _, t := range teams {
		resp.Teams = append(resp.Teams, protocol.TeamInfo{ID: t.ID, Name: t.Name})
	}

	link, err := s.shares.PublicLinkFor(ctx, resourceType, resourceID)
	if err != nil && !errors.Is(err, share.ErrNotFound) {
		s.sendStoreError(w, err)
		return
	}
	if link != nil {
		resp.PublicLink = &protocol.PublicLinkInfo{
			Token:       link.Token,
			URL:         sharedURL(link.Token),
			HasPassword: link.PasswordHash != "",
			ExpiresAt:   link.ExpiresAt,
		}
	}

	s.sendJSON(w, http.StatusOK, resp)
}

// handleCreateShare grants (or updates) access for a user or a team.
func (s *Server) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())

	var req protocol.ShareRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resourceType := catalog.ResourceType(req.ResourceType)
	if !resourceType.Valid() {
		s.sendError(w, http.StatusBadRequest, "resourceType must be file or folder")
		return
	}
	level := share.Level(req.Permission)
	if !level.Valid() {
		s.sendError(w, http.StatusBadRequest, "permission must be view or edit")
		return
	}

	var target share.Target
	switch {
	case req.UserID != "" && req.TeamID == 0:
		target = share.UserTarget(req.UserID)
	case req.TeamID != 0 && req.UserID == "":
		target = share.TeamTarget(req.TeamID)
	default:
		s.sendError(w, http.StatusBadRequest, "share must have exactly one target")
		return
	}

	if !s.requireAccess(w, r, resourceType, req.ResourceID, share.LevelEdit) {
		return
	}

	var expiresAt *time.Time
	if req.ExpiresInSec > 0 {
		t := time.Now().Add(time.Duration(req.ExpiresInSec) * time.Second)
		expiresAt = &t
	}

	created, err := s.shares.Upsert(r.Context(), claims.UserID(), resourceType, req.ResourceID, target, level, expiresAt)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	s.publishEvent(events.EventShare, resourceType, req.ResourceID, "", nil)
	s.sendJSON(w, http.StatusCreated, map[string]any{
		"id":         created.ID,
		"permission": created.Permission,
	})
}

func (s *Server) handleRevokeShare(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid id")
		return
	}

	sh, err := s.shares.ByID(r.Context(), id)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	if !s.requireAccess(w, r, sh.ResourceType, sh.ResourceID, share.LevelEdit) {
		return
	}

	if err := s.shares.Revoke(r.Context(), id); err != nil {
		s.sendStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCreatePublicLink mints a fresh token for a resource, replacing
// any existing link atomically.
func (s *Server) handleCreatePublicLink(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())

	var req protocol.PublicLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resourceType := catalog.ResourceType(req.ResourceType)
	if !resourceType.Valid() {
		s.sendError(w, http.StatusBadRequest, "resourceType must be file or folder")
		return
	}

	if !s.requireAccess(w, r, resourceType, req.ResourceID, share.LevelEdit) {
		return
	}

	var expiresAt *time.Time
	if req.ExpiresInSec > 0 {
		t := time.Now().Add(time.Duration(req.ExpiresInSec) * time.Second)
		expiresAt = &t
	}

	link, err := s.shares.CreatePublicLink(r.Context(), claims.UserID(), resourceType, req.ResourceID, expiresAt, req.Password)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, protocol.PublicLinkInfo{
		Token:       link.Token,
		URL:         sharedURL(link.Token),
		HasPassword: link.PasswordHash != "",
		ExpiresAt:   link.ExpiresAt,
	})
}

func (s *Server) handleRevokePublicLink(w http.ResponseWriter, r *http.Request) {
	var req protocol.PublicLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resourceType := catalog.ResourceType(req.ResourceType)
	if !resourceType.Valid() {
		s.sendError(w, http.StatusBadRequest, "resourceType must be file or folder")
		return
	}

	if !s.requireAccess(w, r, resourceType, req.ResourceID, share.LevelEdit) {
		return
	}

	if err := s.shares.RevokePublicLink(r.Context(), resourceType, req.ResourceID); err != nil {
		s.sendStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSharedBrowse is the anonymous token-scoped view. A folder token
// exposes only the shared subtree: browsing a subfolder requires it to
// descend from the shared root, and breadcrumbs stop at that root.
func (s *Server) handleSharedBrowse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := r.PathValue("token")

	link, err := s.shares.ByToken(ctx, token)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	if err := s.shares.CheckPassword(link, r.URL.Query().Get("password")); err != nil {
		s.sendStoreError(w, err)
		return
	}

	if link.ResourceType == catalog.ResourceFile {
		f, err := s.catalog.FileByID(ctx, link.ResourceID)
		if err != nil {
			s.sendStoreError(w, err)
			return
		}
		s.sendJSON(w, http.StatusOK, protocol.SharedBrowseResponse{
			Permission: string(link.Permission),
			File:       f,
		})
		return
	}

	rootID := link.ResourceID
	currentID := rootID
	if v := r.URL.Query().Get("folder"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid folder id")
			return
		}
		inside, err := s.catalog.DescendsFrom(ctx, catalog.ResourceFolder, id, rootID)
		if err != nil {
			s.sendStoreError(w, err)
			return
		}
		if !inside {
			s.sendError(w, http.StatusForbidden, "folder is outside the shared tree")
			return
		}
		currentID = id
	}

	folder, err := s.catalog.FolderByID(ctx, currentID)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	breadcrumbs, err := s.catalog.Breadcrumbs(ctx, currentID)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	// Hide everything above the shared root.
	for i, b := range breadcrumbs {
		if b.ID == rootID {
			breadcrumbs = breadcrumbs[i:]
			break
		}
	}
	folders, err := s.catalog.FoldersIn(ctx, &currentID, "")
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	files, err := s.catalog.FilesInFolder(ctx, &currentID)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, protocol.SharedBrowseResponse{
		Permission:  string(link.Permission),
		RootID:      rootID,
		Folder:      folder,
		Breadcrumbs: breadcrumbs,
		Folders:     folders,
		Files:       files,
	})
}

func sharedURL(token string) string {
	return "/api/cloud/shared/" + token
}
