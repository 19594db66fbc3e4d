// Package catalog maintains the file and folder tree in Postgres.
// It records names, hierarchy and ownership only; permission decisions
// belong to the access package and object bytes to the storage package.
package catalog

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a file or folder does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCycle is returned when a folder move would make a folder its
	// own ancestor.
	ErrCycle = errors.New("move would create a cycle")

	// ErrFolderNotEmpty is returned when deleting a non-empty folder
	// without cascade.
	ErrFolderNotEmpty = errors.New("folder is not empty")

	// ErrDepthExceeded is returned when an ancestry walk runs past the
	// maximum tree depth, which indicates a corrupted hierarchy.
	ErrDepthExceeded = errors.New("folder tree too deep")
)

// MaxTreeDepth bounds every ancestry walk. A well-formed tree never
// comes close; hitting it means the parent chain is corrupt.
const MaxTreeDepth = 100

// ResourceType discriminates catalog resources in shares and requests.
type ResourceType string

const (
	ResourceFile   ResourceType = "file"
	ResourceFolder ResourceType = "folder"
)

// Valid reports whether t is a known resource type.
func (t ResourceType) Valid() bool {
	return t == ResourceFile || t == ResourceFolder
}

// File is a stored content item. StorageKey and Disk are immutable
// after creation; renames touch only Name.
type File struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	StorageKey string    `json:"-"`
	Disk       string    `json:"disk"`
	MimeType   string    `json:"mimeType"`
	Size       int64     `json:"size"`
	FolderID   *int64    `json:"folderId"`
	UserID     string    `json:"userId"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Folder is a node in the hierarchy. A nil ParentID means root level.
type Folder struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	ParentID  *int64    `json:"parentId"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Breadcrumb is one segment of a folder's ancestor path.
type Breadcrumb struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// AttachmentLink associates a file with a business record identified by
// an opaque (OwnerType, OwnerID) pair. At most one link exists per
// (file, owner) pair.
type AttachmentLink struct {
	ID        int64     `json:"id"`
	FileID    int64     `json:"fileId"`
	OwnerType string    `json:"ownerType"`
	OwnerID   int64     `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}
