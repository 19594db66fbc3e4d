// Package protocol defines the API request/response types.
package protocol

import (
	"time"

	"github.com/eliterp/cloudstore/internal/catalog"
)

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// BrowseResponse is returned by GET /api/cloud. At root the shared
// items carry content other users granted to the principal.
type BrowseResponse struct {
	Folder        *catalog.Folder      `json:"folder,omitempty"`
	Breadcrumbs   []catalog.Breadcrumb `json:"breadcrumbs,omitempty"`
	Folders       []catalog.Folder     `json:"folders"`
	Files         []catalog.File       `json:"files"`
	SharedFolders []catalog.Folder     `json:"sharedFolders,omitempty"`
	SharedFiles   []catalog.File       `json:"sharedFiles,omitempty"`
}

// CreateFolderRequest is the body for POST /api/cloud/folder.
type CreateFolderRequest struct {
	Name     string `json:"name"`
	ParentID *int64 `json:"parentId,omitempty"`
}

// RenameRequest is the body for PUT /api/cloud/rename/{id}.
type RenameRequest struct {
	Type string `json:"type"` // "file" or "folder"
	Name string `json:"name"`
}

// MoveRequest is the body for PUT /api/cloud/move/{id}.
type MoveRequest struct {
	Type        string `json:"type"`
	NewParentID *int64 `json:"newParentId,omitempty"`
}

// DeleteRequest is the body for DELETE /api/cloud/delete/{id}.
type DeleteRequest struct {
	Type    string `json:"type"`
	Cascade bool   `json:"cascade,omitempty"`
}

// ShareRequest is the body for POST /api/cloud/share. Exactly one of
// UserID and TeamID must be set.
type ShareRequest struct {
	ResourceType string `json:"resourceType"`
	ResourceID   int64  `json:"resourceId"`
	UserID       string `json:"userId,omitempty"`
	TeamID       int64  `json:"teamId,omitempty"`
	Permission   string `json:"permission"`
	ExpiresInSec int64  `json:"expiresInSec,omitempty"` // 0 = no expiry
}

// ShareEntry describes one direct share in listings.
type ShareEntry struct {
	ID          int64      `json:"id"`
	TargetKind  string     `json:"targetKind"` // "user" or "team"
	TargetID    string     `json:"targetId"`
	TargetName  string     `json:"targetName"`
	TargetEmail string     `json:"targetEmail,omitempty"`
	Permission  string     `json:"permission"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// UserInfo is a share recipient candidate.
type UserInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// TeamInfo is a share recipient candidate.
type TeamInfo struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// PublicLinkInfo describes a resource's public link.
type PublicLinkInfo struct {
	Token       string     `json:"token"`
	URL         string     `json:"url"`
	HasPassword bool       `json:"hasPassword"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// ShareDataResponse is returned by GET /api/cloud/share/data.
type ShareDataResponse struct {
	Shares     []ShareEntry    `json:"shares"`
	Users      []UserInfo      `json:"users"`
	Teams      []TeamInfo      `json:"teams"`
	PublicLink *PublicLinkInfo `json:"publicLink,omitempty"`
}

// PublicLinkRequest is the body for POST /api/cloud/share/public-link.
type PublicLinkRequest struct {
	ResourceType string `json:"resourceType"`
	ResourceID   int64  `json:"resourceId"`
	ExpiresInSec int64  `json:"expiresInSec,omitempty"`
	Password     string `json:"password,omitempty"`
}

// SharedBrowseResponse is returned by GET /api/cloud/shared/{token}.
// Breadcrumbs stop at the shared root: nothing above it is revealed.
type SharedBrowseResponse struct {
	Permission  string               `json:"permission"`
	RootID      int64                `json:"rootId,omitempty"`
	Folder      *catalog.Folder      `json:"folder,omitempty"`
	Breadcrumbs []catalog.Breadcrumb `json:"breadcrumbs,omitempty"`
	Folders     []catalog.Folder     `json:"folders,omitempty"`
	Files       []catalog.File       `json:"files,omitempty"`
	File        *catalog.File        `json:"file,omitempty"`
}

// SignedURLResponse is returned by GET /api/files/signed-url. Direct is
// false when the backend cannot presign and the URL points back at the
// proxy download endpoint.
type SignedURLResponse struct {
	URL       string     `json:"url"`
	Direct    bool       `json:"direct"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// SearchResponse is returned by GET /api/cloud/search.
type SearchResponse struct {
	Folders []catalog.Folder `json:"folders"`
	Files   []catalog.File   `json:"files"`
}

// QuotaResponse is returned by GET /api/cloud/quota. Zero limits mean
// unlimited.
type QuotaResponse struct {
	StorageUsed   int64 `json:"storageUsed"`
	StorageLimit  int64 `json:"storageLimit"`
	MaxUploadSize int64 `json:"maxUploadSize"`
}

// AttachRequest is the body for POST and DELETE /api/attachments.
type AttachRequest struct {
	FileID    int64  `json:"fileId"`
	OwnerType string `json:"ownerType"`
	OwnerID   int64  `json:"ownerId"`
}
