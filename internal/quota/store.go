// Package quota provides per-user storage quota management and rate limiting.
package quota

import (
	"context"
	"database/sql"
	"fmt"
)

// Quota represents a user's quota settings. Zero values mean unlimited.
type Quota struct {
	UserID             string
	MaxStorageBytes    int64
	MaxUploadSizeBytes int64
	MaxRequestsPerMin  int
}

// Store manages user quotas and storage usage tracking.
type Store struct {
	db *sql.DB
}

// NewStore creates a new quota store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetQuota returns the quota for a user. Returns a zero-value quota if none set.
func (s *Store) GetQuota(ctx context.Context, userID string) (*Quota, error) {
	q := &Quota{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT max_storage_bytes, max_upload_size_bytes, max_requests_per_minute
		 FROM user_quotas WHERE user_id = $1`, userID).
		Scan(&q.MaxStorageBytes, &q.MaxUploadSizeBytes, &q.MaxRequestsPerMin)
	if err == sql.ErrNoRows {
		return q, nil // Zero-value = unlimited
	}
	if err != nil {
		return nil, fmt.Errorf("get quota: %w", err)
	}
	return q, nil
}

// SetQuota sets or updates the quota for a user.
func (s *Store) SetQuota(ctx context.Context, q *Quota) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_quotas (user_id, max_storage_bytes, max_upload_size_bytes, max_requests_per_minute, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET
			max_storage_bytes = EXCLUDED.max_storage_bytes,
			max_upload_size_bytes = EXCLUDED.max_upload_size_bytes,
			max_requests_per_minute = EXCLUDED.max_requests_per_minute,
			updated_at = NOW()`,
		q.UserID, q.MaxStorageBytes, q.MaxUploadSizeBytes, q.MaxRequestsPerMin)
	if err != nil {
		return fmt.Errorf("set quota: %w", err)
	}
	return nil
}

// StorageUsed returns the total storage used by a user (sum of owned file sizes).
func (s *Store) StorageUsed(ctx context.Context, userID string) (int64, error) {
	var used sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size), 0) FROM files WHERE user_id = $1`,
		userID).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("get storage used: %w", err)
	}
	return used.Int64, nil
}

// CheckStorageQuota checks if a user can store an additional file of the
// given size.
func (s *Store) CheckStorageQuota(ctx context.Context, userID string, additionalBytes int64) (bool, error) {
	q, err := s.GetQuota(ctx, userID)
	if err != nil {
		return false, err
	}
	if q.MaxStorageBytes == 0 {
		return true, nil // Unlimited
	}

	used, err := s.StorageUsed(ctx, userID)
	if err != nil {
		return false, err
	}

	return used+additionalBytes <= q.MaxStorageBytes, nil
}

// UploadSizeLimit returns the effective upload size limit for a user.
// Returns the user-specific limit if set, otherwise 0 (caller uses global default).
func (s *Store) UploadSizeLimit(ctx context.Context, userID string) (int64, error) {
	q, err := s.GetQuota(ctx, userID)
	if err != nil {
		return 0, err
	}
	return q.MaxUploadSizeBytes, nil
}
