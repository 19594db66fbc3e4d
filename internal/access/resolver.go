// Package access decides whether a principal may act on a catalog
// resource. It owns the precedence between ownership, direct shares and
// inherited folder shares; it holds no state of its own.
package access

import (
	"context"

	"github.com/eliterp/cloudstore/internal/catalog"
	"github.com/eliterp/cloudstore/internal/metrics"
	"github.com/eliterp/cloudstore/internal/share"
)

// Catalog is the slice of the catalog the resolver needs.
type Catalog interface {
	OwnerOf(ctx context.Context, resourceType catalog.ResourceType, resourceID int64) (string, error)
	FolderOf(ctx context.Context, resourceType catalog.ResourceType, resourceID int64) (*int64, error)
	ParentOf(ctx context.Context, folderID int64) (*int64, error)
}

// Grants is the slice of the share store the resolver needs.
type Grants interface {
	GrantsFor(ctx context.Context, resourceType catalog.ResourceType, resourceID int64, userID string, teamIDs []int64) ([]share.Share, error)
	TeamIDsForUser(ctx context.Context, userID string) ([]int64, error)
}

// Resolver answers permission questions.
type Resolver struct {
	catalog Catalog
	grants  Grants
}

// New creates a resolver.
func New(c Catalog, g Grants) *Resolver {
	return &Resolver{catalog: c, grants: g}
}

// Can reports whether the principal holds the required level on the
// resource. Precedence: ownership, then a direct share to the principal
// or one of their teams, then shares on any ancestor folder. Expired
// shares never count; the grant source lazily removes them.
func (r *Resolver) Can(ctx context.Context, principalID string, resourceType catalog.ResourceType, resourceID int64, required share.Level) (bool, error) {
	allowed, err := r.can(ctx, principalID, resourceType, resourceID, required)
	if err != nil {
		return false, err
	}
	metrics.RecordPermissionCheck(allowed)
	return allowed, nil
}

func (r *Resolver) can(ctx context.Context, principalID string, resourceType catalog.ResourceType, resourceID int64, required share.Level) (bool, error) {
	owner, err := r.catalog.OwnerOf(ctx, resourceType, resourceID)
	if err != nil {
		return false, err
	}
	if owner == principalID {
		return true, nil
	}

	teamIDs, err := r.grants.TeamIDsForUser(ctx, principalID)
	if err != nil {
		return false, err
	}

	ok, err := r.granted(ctx, resourceType, resourceID, principalID, teamIDs, required)
	if err != nil || ok {
		return ok, err
	}

	// Inherit from ancestor folders, nearest first.
	folderID, err := r.catalog.FolderOf(ctx, resourceType, resourceID)
	if err != nil {
		return false, err
	}
	for depth := 0; folderID != nil; depth++ {
		if depth > catalog.MaxTreeDepth {
			return false, catalog.ErrDepthExceeded
		}

		ok, err := r.granted(ctx, catalog.ResourceFolder, *folderID, principalID, teamIDs, required)
		if err != nil || ok {
			return ok, err
		}

		folderID, err = r.catalog.ParentOf(ctx, *folderID)
		if err != nil {
			return false, err
		}
	}

	return false, nil
}

func (r *Resolver) granted(ctx context.Context, resourceType catalog.ResourceType, resourceID int64, principalID string, teamIDs []int64, required share.Level) (bool, error) {
	grants, err := r.grants.GrantsFor(ctx, resourceType, resourceID, principalID, teamIDs)
	if err != nil {
		return false, err
	}
	for _, g := range grants {
		if g.Permission.Satisfies(required) {
			return true, nil
		}
	}
	return false, nil
}
