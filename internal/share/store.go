package share

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/eliterp/cloudstore/internal/catalog"
	"github.com/eliterp/cloudstore/internal/logging"
	"github.com/eliterp/cloudstore/internal/metrics"
)

// Store persists shares in Postgres.
type Store struct {
	db *sql.DB
}

// NewStore creates a share store on an existing connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const shareCols = `id, granter_id, resource_type, resource_id, shared_with_user_id,
	shared_with_team_id, permission, share_token, password_hash, expires_at,
	created_at, updated_at`

func scanShare(row interface{ Scan(...any) error }) (*Share, error) {
	var s Share
	var userID, token, passwordHash sql.NullString
	var teamID sql.NullInt64
	var expiresAt sql.NullTime

	if err := row.Scan(&s.ID, &s.GranterID, &s.ResourceType, &s.ResourceID,
		&userID, &teamID, &s.Permission, &token, &passwordHash, &expiresAt,
		&s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}

	switch {
	case userID.Valid:
		s.Target = UserTarget(userID.String)
	case teamID.Valid:
		s.Target = TeamTarget(teamID.Int64)
	default:
		s.Target = PublicTarget()
		s.Token = token.String
	}
	if passwordHash.Valid {
		s.PasswordHash = passwordHash.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		s.ExpiresAt = &t
	}
	return &s, nil
}

// Upsert grants target access to a resource, updating the permission in
// place when a grant for the same recipient already exists. Public
// targets go through CreatePublicLink instead.
func (st *Store) Upsert(ctx context.Context, granterID string, resourceType catalog.ResourceType, resourceID int64, target Target, level Level, expiresAt *time.Time) (*Share, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("upsert_share", time.Since(start)) }()

	if err := target.Validate(); err != nil {
		return nil, err
	}
	if !level.Valid() {
		return nil, fmt.Errorf("invalid permission %q", level)
	}

	var row *sql.Row
	switch target.Kind {
	case TargetUser:
		row = st.db.QueryRowContext(ctx,
			`INSERT INTO shares (granter_id, resource_type, resource_id, shared_with_user_id, permission, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (resource_type, resource_id, shared_with_user_id)
			   WHERE shared_with_user_id IS NOT NULL
			 DO UPDATE SET permission = EXCLUDED.permission,
			   expires_at = EXCLUDED.expires_at, updated_at = now()
			 RETURNING `+shareCols,
			granterID, resourceType, resourceID, target.UserID, level, expiresAt)
	case TargetTeam:
		row = st.db.QueryRowContext(ctx,
			`INSERT INTO shares (granter_id, resource_type, resource_id, shared_with_team_id, permission, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (resource_type, resource_id, shared_with_team_id)
			   WHERE shared_with_team_id IS NOT NULL
			 DO UPDATE SET permission = EXCLUDED.permission,
			   expires_at = EXCLUDED.expires_at, updated_at = now()
			 RETURNING `+shareCols,
			granterID, resourceType, resourceID, target.TeamID, level, expiresAt)
	default:
		return nil, fmt.Errorf("%w: use CreatePublicLink for public shares", ErrInvalidTarget)
	}

	s, err := scanShare(row)
	if err != nil {
		return nil, fmt.Errorf("upsert share: %w", err)
	}
	return s, nil
}

// CreatePublicLink mints a fresh token for a resource, atomically
// replacing any existing link. Only one public link exists per resource
// at any moment; the partial unique index on (resource_type,
// resource_id) makes the replacement race-free.
func (st *Store) CreatePublicLink(ctx context.Context, granterID string, resourceType catalog.ResourceType, resourceID int64, expiresAt *time.Time, password string) (*Share, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_public_link", time.Since(start)) }()

	token, err := NewToken()
	if err != nil {
		return nil, err
	}

	var passwordHash sql.NullString
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		passwordHash = sql.NullString{String: string(hash), Valid: true}
	}

	row := st.db.QueryRowContext(ctx,
		`INSERT INTO shares (granter_id, resource_type, resource_id, share_token, password_hash, permission, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (resource_type, resource_id) WHERE share_token IS NOT NULL
		 DO UPDATE SET share_token = EXCLUDED.share_token,
		   password_hash = EXCLUDED.password_hash,
		   granter_id = EXCLUDED.granter_id,
		   expires_at = EXCLUDED.expires_at, updated_at = now()
		 RETURNING `+shareCols,
		granterID, resourceType, resourceID, token, passwordHash, LevelView, expiresAt)

	s, err := scanShare(row)
	if err != nil {
		return nil, fmt.Errorf("create public link: %w", err)
	}

	logging.Info("public link created",
		zap.String("resource_type", string(resourceType)),
		zap.Int64("resource_id", resourceID))
	return s, nil
}

// Revoke deletes a share by id.
func (st *Store) Revoke(ctx context.Context, shareID int64) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("revoke_share", time.Since(start)) }()

	res, err := st.db.ExecContext(ctx, `DELETE FROM shares WHERE id = $1`, shareID)
	if err != nil {
		return fmt.Errorf("delete share %d: %w", shareID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokePublicLink deletes the resource's public link if present.
func (st *Store) RevokePublicLink(ctx context.Context, resourceType catalog.ResourceType, resourceID int64) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("revoke_public_link", time.Since(start)) }()

	_, err := st.db.ExecContext(ctx,
		`DELETE FROM shares
		 WHERE resource_type = $1 AND resource_id = $2 AND share_token IS NOT NULL`,
		resourceType, resourceID)
	if err != nil {
		return fmt.Errorf("delete public link: %w", err)
	}
	return nil
}

// ByToken resolves a public link token. Expired links are deleted on
// sight and reported as ErrExpired.
func (st *Store) ByToken(ctx context.Context, token string) (*Share, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("share_by_token", time.Since(start)) }()

	row := st.db.QueryRowContext(ctx,
		`SELECT `+shareCols+` FROM shares WHERE share_token = $1`, token)
	s, err := scanShare(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query share by token: %w", err)
	}

	if s.Expired(time.Now()) {
		st.deleteExpired(ctx, s.ID)
		return nil, ErrExpired
	}
	return s, nil
}

// CheckPassword verifies a password-protected link. Links without a
// password accept anything.
func (st *Store) CheckPassword(s *Share, password string) error {
	if s.PasswordHash == "" {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.PasswordHash), []byte(password)); err != nil {
		return ErrWrongPassword
	}
	return nil
}

// PublicLinkFor returns the resource's active public link, lazily
// deleting an expired one.
func (st *Store) PublicLinkFor(ctx context.Context, resourceType catalog.ResourceType, resourceID int64) (*Share, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("public_link_for", time.Since(start)) }()

	row := st.db.QueryRowContext(ctx,
		`SELECT `+shareCols+` FROM shares
		 WHERE resource_type = $1 AND resource_id = $2 AND share_token IS NOT NULL`,
		resourceType, resourceID)
	s, err := scanShare(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query public link: %w", err)
	}

	if s.Expired(time.Now()) {
		st.deleteExpired(ctx, s.ID)
		return nil, ErrNotFound
	}
	return s, nil
}

// ListForResource returns the resource's direct (non-public) shares
// with recipient display identity resolved.
func (st *Store) ListForResource(ctx context.Context, resourceType catalog.ResourceType, resourceID int64) ([]Share, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_shares", time.Since(start)) }()

	rows, err := st.db.QueryContext(ctx,
		`SELECT s.id, s.granter_id, s.resource_type, s.resource_id, s.shared_with_user_id,
		        s.shared_with_team_id, s.permission, s.share_token, s.password_hash,
		        s.expires_at, s.created_at, s.updated_at,
		        COALESCE(u.name, t.name, ''), COALESCE(u.email, '')
		 FROM shares s
		 LEFT JOIN users u ON u.id = s.shared_with_user_id
		 LEFT JOIN teams t ON t.id = s.shared_with_team_id
		 WHERE s.resource_type = $1 AND s.resource_id = $2 AND s.share_token IS NULL
		 ORDER BY s.created_at`,
		resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("query shares: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var out []Share
	var expired []int64
	for rows.Next() {
		var s Share
		var userID, token, passwordHash sql.NullString
		var teamID sql.NullInt64
		var expiresAt sql.NullTime
		if err := rows.Scan(&s.ID, &s.GranterID, &s.ResourceType, &s.ResourceID,
			&userID, &teamID, &s.Permission, &token, &passwordHash, &expiresAt,
			&s.CreatedAt, &s.UpdatedAt, &s.TargetName, &s.TargetEmail); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		if userID.Valid {
			s.Target = UserTarget(userID.String)
		} else if teamID.Valid {
			s.Target = TeamTarget(teamID.Int64)
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			s.ExpiresAt = &t
		}
		if s.Expired(now) {
			expired = append(expired, s.ID)
			continue
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("shares rows: %w", err)
	}

	for _, id := range expired {
		st.deleteExpired(ctx, id)
	}
	return out, nil
}

// GrantsFor returns the live direct shares on a resource that reach the
// principal, either personally or through one of their teams. Expired
// rows are lazily deleted.
func (st *Store) GrantsFor(ctx context.Context, resourceType catalog.ResourceType, resourceID int64, userID string, teamIDs []int64) ([]Share, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("grants_for", time.Since(start)) }()

	rows, err := st.db.QueryContext(ctx,
		`SELECT `+shareCols+` FROM shares
		 WHERE resource_type = $1 AND resource_id = $2
		   AND (shared_with_user_id = $3 OR shared_with_team_id = ANY($4))`,
		resourceType, resourceID, userID, pq.Array(teamIDs))
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var out []Share
	var expired []int64
	for rows.Next() {
		s, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		if s.Expired(now) {
			expired = append(expired, s.ID)
			continue
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("grants rows: %w", err)
	}

	for _, id := range expired {
		st.deleteExpired(ctx, id)
	}
	return out, nil
}

// SharedWithPrincipal returns the live shares naming the principal
// directly or through a team, across all resources. Used for the root
// "shared with me" listing.
func (st *Store) SharedWithPrincipal(ctx context.Context, userID string, teamIDs []int64) ([]Share, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("shared_with_principal", time.Since(start)) }()

	rows, err := st.db.QueryContext(ctx,
		`SELECT `+shareCols+` FROM shares
		 WHERE shared_with_user_id = $1 OR shared_with_team_id = ANY($2)
		 ORDER BY created_at DESC`,
		userID, pq.Array(teamIDs))
	if err != nil {
		return nil, fmt.Errorf("query shared with principal: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var out []Share
	var expired []int64
	for rows.Next() {
		s, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		if s.Expired(now) {
			expired = append(expired, s.ID)
			continue
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("shared rows: %w", err)
	}

	for _, id := range expired {
		st.deleteExpired(ctx, id)
	}
	return out, nil
}

// DeleteForResource removes every share on a resource. Called when the
// resource itself is deleted.
func (st *Store) DeleteForResource(ctx context.Context, resourceType catalog.ResourceType, resourceID int64) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_shares_for_resource", time.Since(start)) }()

	_, err := st.db.ExecContext(ctx,
		`DELETE FROM shares WHERE resource_type = $1 AND resource_id = $2`,
		resourceType, resourceID)
	if err != nil {
		return fmt.Errorf("delete shares: %w", err)
	}
	return nil
}

// TeamIDsForUser returns the ids of the teams the user belongs to.
func (st *Store) TeamIDsForUser(ctx context.Context, userID string) ([]int64, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("team_ids_for_user", time.Since(start)) }()

	rows, err := st.db.QueryContext(ctx,
		`SELECT team_id FROM team_members WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("query team memberships: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan team id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CountActivePublicLinks returns the number of unexpired public links,
// for the metrics gauge.
func (st *Store) CountActivePublicLinks(ctx context.Context) (int64, error) {
	var n int64
	err := st.db.QueryRowContext(ctx,
		`SELECT count(*) FROM shares
		 WHERE share_token IS NOT NULL AND (expires_at IS NULL OR expires_at > now())`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count public links: %w", err)
	}
	return n, nil
}

// ByID fetches a share by id.
func (st *Store) ByID(ctx context.Context, id int64) (*Share, error) {
	row := st.db.QueryRowContext(ctx,
		`SELECT `+shareCols+` FROM shares WHERE id = $1`, id)
	s, err := scanShare(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query share %d: %w", id, err)
	}
	return s, nil
}

func (st *Store) deleteExpired(ctx context.Context, id int64) {
	if _, err := st.db.ExecContext(ctx, `DELETE FROM shares WHERE id = $1`, id); err != nil {
		logging.Warn("delete expired share", zap.Int64("share_id", id), zap.Error(err))
	}
}
