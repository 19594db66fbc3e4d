package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/eliterp/cloudstore/internal/api/protocol"
	"github.com/eliterp/cloudstore/internal/auth"
	"github.com/eliterp/cloudstore/internal/catalog"
	"github.com/eliterp/cloudstore/internal/events"
	"github.com/eliterp/cloudstore/internal/logging"
	"github.com/eliterp/cloudstore/internal/metrics"
	"github.com/eliterp/cloudstore/internal/share"
)

const uploadPrefix = "uploads/cloud"

// handleBrowse lists a folder, or the principal's root view. The root
// view adds items other users shared with the principal; a concrete
// folder requires view access.
func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	ctx := r.Context()

	folderParam := r.URL.Query().Get("folder")
	if folderParam == "" {
		s.browseRoot(w, r)
		return
	}

	folderID, err := strconv.ParseInt(folderParam, 10, 64)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid folder id")
		return
	}

	if !s.requireAccess(w, r, catalog.ResourceFolder, folderID, share.LevelView) {
		return
	}

	folder, err := s.catalog.FolderByID(ctx, folderID)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	breadcrumbs, err := s.catalog.Breadcrumbs(ctx, folderID)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	folders, err := s.catalog.FoldersIn(ctx, &folderID, claims.UserID())
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	files, err := s.catalog.FilesInFolder(ctx, &folderID)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, protocol.BrowseResponse{
		Folder:      folder,
		Breadcrumbs: breadcrumbs,
		Folders:     folders,
		Files:       files,
	})
}

func (s *Server) browseRoot(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	ctx := r.Context()
	userID := claims.UserID()

	folders, err := s.catalog.FoldersIn(ctx, nil, userID)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	files, err := s.catalog.RootFilesOwnedBy(ctx, userID)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}

	resp := protocol.BrowseResponse{Folders: folders, Files: files}

	// Content other users shared with me, directly or via my teams.
	teamIDs, err := s.shares.TeamIDsForUser(ctx, userID)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	grants, err := s.shares.SharedWithPrincipal(ctx, userID, teamIDs)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}

	seenFolders := map[int64]bool{}
	seenFiles := map[int64]bool{}
	for _, g := range grants {
		switch g.ResourceType {
		case catalog.ResourceFolder:
			if seenFolders[g.ResourceID] {
				continue
			}
			seenFolders[g.ResourceID] = true
			f, err := s.catalog.FolderByID(ctx, g.ResourceID)
			if errors.Is(err, catalog.ErrNotFound) {
				continue
			}
			if err != nil {
				s.sendStoreError(w, err)
				return
			}
			resp.SharedFolders = append(resp.SharedFolders, *f)
		case catalog.ResourceFile:
			if seenFiles[g.ResourceID] {
				continue
			}
			seenFiles[g.ResourceID] = true
			f, err := s.catalog.FileByID(ctx, g.ResourceID)
			if errors.Is(err, catalog.ErrNotFound) {
				continue
			}
			if err != nil {
				s.sendStoreError(w, err)
				return
			}
			resp.SharedFiles = append(resp.SharedFiles, *f)
		}
	}

	s.sendJSON(w, http.StatusOK, resp)
}

// handleUpload stores a multipart file. Uploading into a folder needs
// edit access there; root uploads belong to the principal alone.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.sendError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file too large: max %d bytes", s.config.MaxUploadSize))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	var folderID *int64
	if v := r.FormValue("folderId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid folder id")
			return
		}
		folderID = &id
		if !s.requireAccess(w, r, catalog.ResourceFolder, id, share.LevelEdit) {
			return
		}
	}

	if limit, err := s.quotas.UploadSizeLimit(ctx, claims.UserID()); err == nil && limit > 0 && header.Size > limit {
		s.sendError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file too large: max %d bytes", limit))
		return
	}
	ok, err := s.quotas.CheckStorageQuota(ctx, claims.UserID(), header.Size)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	if !ok {
		metrics.RecordQuotaExceeded()
		s.sendError(w, http.StatusRequestEntityTooLarge, "storage quota exceeded")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	backend, err := s.backends.Default()
	if err != nil {
		s.sendStoreError(w, err)
		return
	}

	key, err := backend.Put(ctx, uploadPrefix, header.Filename, contentType, file, header.Size)
	if err != nil {
		metrics.RecordContentUpload(0, false)
		s.sendError(w, http.StatusServiceUnavailable, "upload failed")
		logging.Error("backend put failed", zap.Error(err))
		return
	}
	metrics.RecordContentUpload(header.Size, true)

	created, err := s.catalog.CreateFile(ctx, header.Filename, key, s.backends.DefaultDisk(),
		contentType, header.Size, folderID, claims.UserID())
	if err != nil {
		// Keep the store consistent: the object has no catalog row.
		if delErr := backend.Delete(ctx, key); delErr != nil {
			logging.Warn("orphan cleanup failed", zap.String("key", key), zap.Error(delErr))
		}
		s.sendStoreError(w, err)
		return
	}

	logging.Info("file uploaded",
		zap.Int64("file_id", created.ID),
		zap.String("user_id", claims.UserID()),
		zap.Int64("size", created.Size))

	s.publishEvent(events.EventUpload, catalog.ResourceFile, created.ID, created.Name, created.FolderID)
	s.sendJSON(w, http.StatusCreated, created)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())

	var req protocol.CreateFolderRequest
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "folder name required")
		return
	}

	if req.ParentID != nil {
		if !s.requireAccess(w, r, catalog.ResourceFolder, *req.ParentID, share.LevelEdit) {
			return
		}
	}

	folder, err := s.catalog.CreateFolder(r.Context(), req.Name, req.ParentID, claims.UserID())
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	s.publishEvent(events.EventCreate, catalog.ResourceFolder, folder.ID, folder.Name, folder.ParentID)
	s.sendJSON(w, http.StatusCreated, folder)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req protocol.RenameRequest
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name required")
		return
	}

	resourceType := catalog.ResourceType(req.Type)
	if !resourceType.Valid() {
		s.sendError(w, http.StatusBadRequest, "type must be file or folder")
		return
	}

	if !s.requireAccess(w, r, resourceType, id, share.LevelEdit) {
		return
	}

	if resourceType == catalog.ResourceFile {
		err = s.catalog.RenameFile(r.Context(), id, req.Name)
	} else {
		err = s.catalog.RenameFolder(r.Context(), id, req.Name)
	}
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	s.publishEvent(events.EventRename, resourceType, id, req.Name, nil)
	s.sendJSON(w, http.StatusOK, map[string]any{"id": id, "name": req.Name})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req protocol.MoveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resourceType := catalog.ResourceType(req.Type)
	if !resourceType.Valid() {
		s.sendError(w, http.StatusBadRequest, "type must be file or folder")
		return
	}

	if !s.requireAccess(w, r, resourceType, id, share.LevelEdit) {
		return
	}
	if req.NewParentID != nil {
		if !s.requireAccess(w, r, catalog.ResourceFolder, *req.NewParentID, share.LevelEdit) {
			return
		}
	}

	if resourceType == catalog.ResourceFile {
		err = s.catalog.MoveFile(r.Context(), id, req.NewParentID)
	} else {
		err = s.catalog.MoveFolder(r.Context(), id, req.NewParentID)
	}
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	s.publishEvent(events.EventMove, resourceType, id, "", req.NewParentID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req protocol.DeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resourceType := catalog.ResourceType(req.Type)
	if !resourceType.Valid() {
		s.sendError(w, http.StatusBadRequest, "type must be file or folder")
		return
	}

	if !s.requireAccess(w, r, resourceType, id, share.LevelEdit) {
		return
	}

	ctx := r.Context()
	switch resourceType {
	case catalog.ResourceFile:
		deleted, err := s.catalog.DeleteFile(ctx, id)
		if err != nil {
			s.sendStoreError(w, err)
			return
		}
		s.cleanupFile(r, deleted)
	case catalog.ResourceFolder:
		folderIDs, files, err := s.catalog.DeleteFolder(ctx, id, req.Cascade)
		if err != nil {
			s.sendStoreError(w, err)
			return
		}
		for i := range files {
			s.cleanupFile(r, &files[i])
		}
		for _, fid := range folderIDs {
			if err := s.shares.DeleteForResource(ctx, catalog.ResourceFolder, fid); err != nil {
				logging.Warn("share cleanup failed", zap.Int64("folder_id", fid), zap.Error(err))
			}
		}
	}

	s.publishEvent(events.EventDelete, resourceType, id, "", nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleSearch finds the principal's files and folders by name.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())

	query := r.URL.Query().Get("q")
	if query == "" {
		s.sendError(w, http.StatusBadRequest, "query parameter 'q' required")
		return
	}

	folders, files, err := s.catalog.Search(r.Context(), claims.UserID(), query, searchLimit)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}

	if folders == nil {
		folders = []catalog.Folder{}
	}
	if files == nil {
		files = []catalog.File{}
	}
	s.sendJSON(w, http.StatusOK, protocol.SearchResponse{Folders: folders, Files: files})
}

const searchLimit = 200

// handleQuota reports the principal's storage usage and limits.
func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	ctx := r.Context()

	q, err := s.quotas.GetQuota(ctx, claims.UserID())
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	used, err := s.quotas.StorageUsed(ctx, claims.UserID())
	if err != nil {
		s.sendStoreError(w, err)
		return
	}

	maxUpload := q.MaxUploadSizeBytes
	if maxUpload == 0 {
		maxUpload = s.config.MaxUploadSize
	}
	s.sendJSON(w, http.StatusOK, protocol.QuotaResponse{
		StorageUsed:   used,
		StorageLimit:  q.MaxStorageBytes,
		MaxUploadSize: maxUpload,
	})
}

// cleanupFile removes a deleted file's backend object and shares. The
// catalog row is already gone; failures here are logged, not surfaced.
func (s *Server) cleanupFile(r *http.Request, f *catalog.File) {
	ctx := r.Context()

	if backend, err := s.backends.ForDisk(f.Disk); err != nil {
		logging.Warn("no backend for deleted file",
			zap.Int64("file_id", f.ID), zap.String("disk", f.Disk), zap.Error(err))
	} else if err := backend.Delete(ctx, f.StorageKey); err != nil {
		logging.Warn("backend delete failed",
			zap.Int64("file_id", f.ID), zap.String("key", f.StorageKey), zap.Error(err))
	}

	if err := s.shares.DeleteForResource(ctx, catalog.ResourceFile, f.ID); err != nil {
		logging.Warn("share cleanup failed", zap.Int64("file_id", f.ID), zap.Error(err))
	}
}
