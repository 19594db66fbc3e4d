package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/eliterp/cloudstore/internal/logging"
	"github.com/eliterp/cloudstore/internal/metrics"
)

// Store is a PostgreSQL-backed catalog.
type Store struct {
	db *sql.DB
}

// New creates a new catalog store.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection, for tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for use by other packages.
func (s *Store) DB() *sql.DB {
	return s.db
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// Migrate runs SQL migration files.
func (s *Store) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

const fileCols = `id, name, storage_key, disk, mime_type, size, folder_id, user_id, created_at, updated_at`

func scanFile(row interface{ Scan(...any) error }) (*File, error) {
	var f File
	var folderID sql.NullInt64
	if err := row.Scan(&f.ID, &f.Name, &f.StorageKey, &f.Disk, &f.MimeType,
		&f.Size, &folderID, &f.UserID, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	if folderID.Valid {
		f.FolderID = &folderID.Int64
	}
	return &f, nil
}

func scanFolder(row interface{ Scan(...any) error }) (*Folder, error) {
	var f Folder
	var parentID sql.NullInt64
	if err := row.Scan(&f.ID, &f.Name, &parentID, &f.UserID, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	if parentID.Valid {
		f.ParentID = &parentID.Int64
	}
	return &f, nil
}

// CreateFile inserts a file row. The caller already wrote the object and
// supplies the backend-generated key; it never changes afterwards.
func (s *Store) CreateFile(ctx context.Context, name, storageKey, disk, mimeType string, size int64, folderID *int64, userID string) (*File, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_file", time.Since(start)) }()

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO files (name, storage_key, disk, mime_type, size, folder_id, user_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+fileCols,
		name, storageKey, disk, mimeType, size, folderID, userID)

	f, err := scanFile(row)
	if err != nil {
		return nil, fmt.Errorf("insert file: %w", err)
	}
	return f, nil
}

// FileByID fetches a file by id.
func (s *Store) FileByID(ctx context.Context, id int64) (*File, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("file_by_id", time.Since(start)) }()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileCols+` FROM files WHERE id = $1`, id)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query file %d: %w", id, err)
	}
	return f, nil
}

// FileByKey fetches a file by its storage key.
func (s *Store) FileByKey(ctx context.Context, key string) (*File, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("file_by_key", time.Since(start)) }()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileCols+` FROM files WHERE storage_key = $1`, key)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query file by key: %w", err)
	}
	return f, nil
}

// CreateFolder inserts a folder under parentID (nil = root).
func (s *Store) CreateFolder(ctx context.Context, name string, parentID *int64, userID string) (*Folder, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_folder", time.Since(start)) }()

	if parentID != nil {
		if _, err := s.FolderByID(ctx, *parentID); err != nil {
			return nil, err
		}
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO folders (name, parent_id, user_id)
		 VALUES ($1, $2, $3)
		 RETURNING id, name, parent_id, user_id, created_at, updated_at`,
		name, parentID, userID)

	f, err := scanFolder(row)
	if err != nil {
		return nil, fmt.Errorf("insert folder: %w", err)
	}
	return f, nil
}

// FolderByID fetches a folder by id.
func (s *Store) FolderByID(ctx context.Context, id int64) (*Folder, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("folder_by_id", time.Since(start)) }()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, parent_id, user_id, created_at, updated_at
		 FROM folders WHERE id = $1`, id)
	f, err := scanFolder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query folder %d: %w", id, err)
	}
	return f, nil
}

// RenameFile updates a file's display name only.
func (s *Store) RenameFile(ctx context.Context, id int64, name string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("rename_file", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET name = $2, updated_at = now() WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("rename file %d: %w", id, err)
	}
	return requireAffected(res)
}

// RenameFolder updates a folder's name.
func (s *Store) RenameFolder(ctx context.Context, id int64, name string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("rename_folder", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`UPDATE folders SET name = $2, updated_at = now() WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("rename folder %d: %w", id, err)
	}
	return requireAffected(res)
}

// MoveFile reparents a file to newFolderID (nil = root).
func (s *Store) MoveFile(ctx context.Context, id int64, newFolderID *int64) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("move_file", time.Since(start)) }()

	if newFolderID != nil {
		if _, err := s.FolderByID(ctx, *newFolderID); err != nil {
			return err
		}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET folder_id = $2, updated_at = now() WHERE id = $1`, id, newFolderID)
	if err != nil {
		return fmt.Errorf("move file %d: %w", id, err)
	}
	return requireAffected(res)
}

// MoveFolder reparents a folder. The move is rejected with ErrCycle if
// newParentID is the folder itself or one of its descendants.
func (s *Store) MoveFolder(ctx context.Context, id int64, newParentID *int64) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("move_folder", time.Since(start)) }()

	if _, err := s.FolderByID(ctx, id); err != nil {
		return err
	}

	if newParentID != nil {
		if *newParentID == id {
			return ErrCycle
		}
		ancestors, err := s.AncestorIDs(ctx, *newParentID)
		if err != nil {
			return err
		}
		for _, a := range ancestors {
			if a == id {
				return ErrCycle
			}
		}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE folders SET parent_id = $2, updated_at = now() WHERE id = $1`, id, newParentID)
	if err != nil {
		return fmt.Errorf("move folder %d: %w", id, err)
	}
	return requireAffected(res)
}

// DeleteFile removes a file row and returns it so the caller can delete
// the backend object and any shares.
func (s *Store) DeleteFile(ctx context.Context, id int64) (*File, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_file", time.Since(start)) }()

	row := s.db.QueryRowContext(ctx,
		`DELETE FROM files WHERE id = $1 RETURNING `+fileCols, id)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete file %d: %w", id, err)
	}
	return f, nil
}

// DeleteFolder removes a folder. Without cascade a non-empty folder is
// rejected with ErrFolderNotEmpty. With cascade the whole subtree is
// removed; the returned folder ids and files let the caller clean up
// shares and backend objects.
func (s *Store) DeleteFolder(ctx context.Context, id int64, cascade bool) ([]int64, []File, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_folder", time.Since(start)) }()

	if _, err := s.FolderByID(ctx, id); err != nil {
		return nil, nil, err
	}

	subfolders, files, err := s.subtree(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if !cascade && (len(subfolders) > 1 || len(files) > 0) {
		return nil, nil, ErrFolderNotEmpty
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin delete folder: %w", err)
	}
	defer tx.Rollback()

	for _, f := range files {
		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, f.ID); err != nil {
			return nil, nil, fmt.Errorf("delete file %d: %w", f.ID, err)
		}
	}
	// Children before parents so parent_id references stay valid.
	for i := len(subfolders) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, `DELETE FROM folders WHERE id = $1`, subfolders[i]); err != nil {
			return nil, nil, fmt.Errorf("delete folder %d: %w", subfolders[i], err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit delete folder: %w", err)
	}
	return subfolders, files, nil
}

// subtree collects the folder ids (parents first, root included) and
// file rows under a folder, breadth first with a depth guard.
func (s *Store) subtree(ctx context.Context, rootID int64) ([]int64, []File, error) {
	folderIDs := []int64{rootID}
	var files []File

	frontier := []int64{rootID}
	for depth := 0; len(frontier) > 0; depth++ {
		if depth > MaxTreeDepth {
			return nil, nil, ErrDepthExceeded
		}

		var next []int64
		for _, fid := range frontier {
			rows, err := s.db.QueryContext(ctx,
				`SELECT id FROM folders WHERE parent_id = $1`, fid)
			if err != nil {
				return nil, nil, fmt.Errorf("query subfolders of %d: %w", fid, err)
			}
			for rows.Next() {
				var id int64
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return nil, nil, fmt.Errorf("scan subfolder: %w", err)
				}
				next = append(next, id)
				folderIDs = append(folderIDs, id)
			}
			if err := rows.Err(); err != nil {
				rows.Close()
				return nil, nil, fmt.Errorf("subfolders of %d: %w", fid, err)
			}
			rows.Close()

			fs, err := s.FilesInFolder(ctx, &fid)
			if err != nil {
				return nil, nil, err
			}
			files = append(files, fs...)
		}
		frontier = next
	}

	return folderIDs, files, nil
}

// FoldersIn lists folders whose parent is parentID (nil = root level,
// restricted to ownerID since root has no containing resource).
func (s *Store) FoldersIn(ctx context.Context, parentID *int64, ownerID string) ([]Folder, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("folders_in", time.Since(start)) }()

	var rows *sql.Rows
	var err error
	if parentID == nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, name, parent_id, user_id, created_at, updated_at
			 FROM folders WHERE parent_id IS NULL AND user_id = $1 ORDER BY name`, ownerID)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, name, parent_id, user_id, created_at, updated_at
			 FROM folders WHERE parent_id = $1 ORDER BY name`, *parentID)
	}
	if err != nil {
		return nil, fmt.Errorf("query folders: %w", err)
	}
	defer rows.Close()

	var out []Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// FilesInFolder lists files in a folder (nil = all root-level files).
func (s *Store) FilesInFolder(ctx context.Context, folderID *int64) ([]File, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("files_in_folder", time.Since(start)) }()

	var rows *sql.Rows
	var err error
	if folderID == nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+fileCols+` FROM files WHERE folder_id IS NULL ORDER BY name`)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+fileCols+` FROM files WHERE folder_id = $1 ORDER BY name`, *folderID)
	}
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// RootFilesOwnedBy lists root-level files belonging to a user.
func (s *Store) RootFilesOwnedBy(ctx context.Context, userID string) ([]File, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("root_files_owned", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileCols+` FROM files WHERE folder_id IS NULL AND user_id = $1 ORDER BY name`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("query root files: %w", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// Search finds a user's folders and files whose names contain the query,
// case-insensitively.
func (s *Store) Search(ctx context.Context, ownerID, query string, limit int) ([]Folder, []File, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("search", time.Since(start)) }()

	pattern := "%" + query + "%"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, parent_id, user_id, created_at, updated_at
		 FROM folders WHERE user_id = $1 AND name ILIKE $2 ORDER BY name LIMIT $3`,
		ownerID, pattern, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("search folders: %w", err)
	}
	defer rows.Close()

	var folders []Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	fileRows, err := s.db.QueryContext(ctx,
		`SELECT `+fileCols+` FROM files WHERE user_id = $1 AND name ILIKE $2 ORDER BY name LIMIT $3`,
		ownerID, pattern, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("search files: %w", err)
	}
	defer fileRows.Close()

	var files []File
	for fileRows.Next() {
		f, err := scanFile(fileRows)
		if err != nil {
			return nil, nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, *f)
	}
	return folders, files, fileRows.Err()
}

// ParentOf returns the parent folder id of a folder, nil at root.
func (s *Store) ParentOf(ctx context.Context, folderID int64) (*int64, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("parent_of", time.Since(start)) }()

	var parent sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT parent_id FROM folders WHERE id = $1`, folderID).Scan(&parent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query parent of %d: %w", folderID, err)
	}
	if !parent.Valid {
		return nil, nil
	}
	return &parent.Int64, nil
}

// AncestorIDs returns the folder's ancestor chain from its parent up to
// the root, nearest first. The walk is depth-guarded.
func (s *Store) AncestorIDs(ctx context.Context, folderID int64) ([]int64, error) {
	var out []int64
	current := folderID
	for depth := 0; ; depth++ {
		if depth > MaxTreeDepth {
			return nil, ErrDepthExceeded
		}
		parent, err := s.ParentOf(ctx, current)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return out, nil
		}
		out = append(out, *parent)
		current = *parent
	}
}

// Breadcrumbs returns the path from the root down to and including the
// folder.
func (s *Store) Breadcrumbs(ctx context.Context, folderID int64) ([]Breadcrumb, error) {
	var trail []Breadcrumb
	current := folderID
	for depth := 0; ; depth++ {
		if depth > MaxTreeDepth {
			return nil, ErrDepthExceeded
		}
		f, err := s.FolderByID(ctx, current)
		if err != nil {
			return nil, err
		}
		trail = append([]Breadcrumb{{ID: f.ID, Name: f.Name}}, trail...)
		if f.ParentID == nil {
			return trail, nil
		}
		current = *f.ParentID
	}
}

// DescendsFrom reports whether a resource sits inside ancestorFolderID,
// transitively. The folder itself and its direct files count.
func (s *Store) DescendsFrom(ctx context.Context, resourceType ResourceType, resourceID, ancestorFolderID int64) (bool, error) {
	var startFolder *int64

	switch resourceType {
	case ResourceFile:
		f, err := s.FileByID(ctx, resourceID)
		if err != nil {
			return false, err
		}
		startFolder = f.FolderID
	case ResourceFolder:
		if resourceID == ancestorFolderID {
			return true, nil
		}
		startFolder = &resourceID
	default:
		return false, fmt.Errorf("unknown resource type %q", resourceType)
	}

	if startFolder == nil {
		return false, nil
	}
	if *startFolder == ancestorFolderID {
		return true, nil
	}

	ancestors, err := s.AncestorIDs(ctx, *startFolder)
	if err != nil {
		return false, err
	}
	for _, a := range ancestors {
		if a == ancestorFolderID {
			return true, nil
		}
	}
	return false, nil
}

// OwnerOf returns the owning user id of a resource.
func (s *Store) OwnerOf(ctx context.Context, resourceType ResourceType, resourceID int64) (string, error) {
	switch resourceType {
	case ResourceFile:
		f, err := s.FileByID(ctx, resourceID)
		if err != nil {
			return "", err
		}
		return f.UserID, nil
	case ResourceFolder:
		f, err := s.FolderByID(ctx, resourceID)
		if err != nil {
			return "", err
		}
		return f.UserID, nil
	default:
		return "", fmt.Errorf("unknown resource type %q", resourceType)
	}
}

// FolderOf returns the containing folder of a resource: the file's
// folder, or the folder's parent. Nil means root level.
func (s *Store) FolderOf(ctx context.Context, resourceType ResourceType, resourceID int64) (*int64, error) {
	switch resourceType {
	case ResourceFile:
		f, err := s.FileByID(ctx, resourceID)
		if err != nil {
			return nil, err
		}
		return f.FolderID, nil
	case ResourceFolder:
		return s.ParentOf(ctx, resourceID)
	default:
		return nil, fmt.Errorf("unknown resource type %q", resourceType)
	}
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
