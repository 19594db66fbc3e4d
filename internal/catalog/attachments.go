package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/eliterp/cloudstore/internal/metrics"
)

// Attach links a file to a business record. Attaching an already-linked
// pair succeeds and returns the existing link.
func (s *Store) Attach(ctx context.Context, fileID int64, ownerType string, ownerID int64) (*AttachmentLink, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("attach", time.Since(start)) }()

	if _, err := s.FileByID(ctx, fileID); err != nil {
		return nil, err
	}

	var link AttachmentLink
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO file_links (file_id, owner_type, owner_id)
		 VALUES ($1, $2, $3)
		 RETURNING id, file_id, owner_type, owner_id, created_at`,
		fileID, ownerType, ownerID).Scan(
		&link.ID, &link.FileID, &link.OwnerType, &link.OwnerID, &link.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return s.linkFor(ctx, fileID, ownerType, ownerID)
		}
		return nil, fmt.Errorf("insert file link: %w", err)
	}
	return &link, nil
}

func (s *Store) linkFor(ctx context.Context, fileID int64, ownerType string, ownerID int64) (*AttachmentLink, error) {
	var link AttachmentLink
	err := s.db.QueryRowContext(ctx,
		`SELECT id, file_id, owner_type, owner_id, created_at
		 FROM file_links WHERE file_id = $1 AND owner_type = $2 AND owner_id = $3`,
		fileID, ownerType, ownerID).Scan(
		&link.ID, &link.FileID, &link.OwnerType, &link.OwnerID, &link.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query file link: %w", err)
	}
	return &link, nil
}

// AttachmentsFor lists the files linked to a business record.
func (s *Store) AttachmentsFor(ctx context.Context, ownerType string, ownerID int64) ([]File, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("attachments_for", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT f.id, f.name, f.storage_key, f.disk, f.mime_type, f.size, f.folder_id, f.user_id, f.created_at, f.updated_at
		 FROM files f
		 JOIN file_links l ON l.file_id = f.id
		 WHERE l.owner_type = $1 AND l.owner_id = $2
		 ORDER BY f.name`,
		ownerType, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// Detach removes the link between a file and a record. The file itself
// stays in the catalog.
func (s *Store) Detach(ctx context.Context, fileID int64, ownerType string, ownerID int64) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("detach", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM file_links WHERE file_id = $1 AND owner_type = $2 AND owner_id = $3`,
		fileID, ownerType, ownerID)
	if err != nil {
		return fmt.Errorf("delete file link: %w", err)
	}
	return requireAffected(res)
}
