package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/eliterp/cloudstore/internal/api/protocol"
	"github.com/eliterp/cloudstore/internal/catalog"
	"github.com/eliterp/cloudstore/internal/logging"
	"github.com/eliterp/cloudstore/internal/metrics"
	"github.com/eliterp/cloudstore/internal/share"
	"github.com/eliterp/cloudstore/internal/storage"
)

// handleDownload streams a file the principal may view, with the stored
// name and content type.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid id")
		return
	}

	f, err := s.catalog.FileByID(r.Context(), id)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	if !s.requireAccess(w, r, catalog.ResourceFile, id, share.LevelView) {
		return
	}

	s.streamFile(w, r, f, true)
}

// handleContentByKey serves a file by its storage key, for clients that
// hold stored keys rather than ids. Access is checked against the
// owning catalog row.
func (s *Server) handleContentByKey(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		s.sendError(w, http.StatusBadRequest, "storage key required")
		return
	}

	f, err := s.catalog.FileByKey(r.Context(), key)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	if !s.requireAccess(w, r, catalog.ResourceFile, f.ID, share.LevelView) {
		return
	}

	s.streamFile(w, r, f, false)
}

// handleSignedURL hands out a direct backend URL when the file's disk
// can presign, and falls back to the proxy download path when it
// cannot.
func (s *Server) handleSignedURL(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("fileId"), 10, 64)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid file id")
		return
	}

	f, err := s.catalog.FileByID(r.Context(), id)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	if !s.requireAccess(w, r, catalog.ResourceFile, id, share.LevelView) {
		return
	}

	backend, err := s.backends.ForDisk(f.Disk)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}

	ttl := s.config.SignedURLTTL
	url, err := backend.DirectURL(r.Context(), f.StorageKey, ttl)
	if errors.Is(err, storage.ErrDirectURLUnsupported) {
		s.sendJSON(w, http.StatusOK, protocol.SignedURLResponse{
			URL:    fmt.Sprintf("/api/files/download/%d", f.ID),
			Direct: false,
		})
		return
	}
	if err != nil {
		s.sendStoreError(w, err)
		return
	}

	expires := time.Now().Add(ttl)
	s.sendJSON(w, http.StatusOK, protocol.SignedURLResponse{
		URL:       url,
		Direct:    true,
		ExpiresAt: &expires,
	})
}

// handlePublicDownload serves content through a public link token. A
// file link serves its file; a folder link requires fileId and the file
// must sit inside the shared subtree, transitively. Expired tokens are
// 410 and never reach the backend.
func (s *Server) handlePublicDownload(w http.ResponseWriter, r *http.Request) {
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

	var fileID int64
	switch link.ResourceType {
	case catalog.ResourceFile:
		fileID = link.ResourceID
	case catalog.ResourceFolder:
		fileID, err = strconv.ParseInt(r.URL.Query().Get("fileId"), 10, 64)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "fileId required for folder links")
			return
		}
		inside, err := s.catalog.DescendsFrom(ctx, catalog.ResourceFile, fileID, link.ResourceID)
		if err != nil {
			s.sendStoreError(w, err)
			return
		}
		if !inside {
			s.sendError(w, http.StatusNotFound, "not found")
			return
		}
	default:
		logging.Error("public link with unknown resource type",
			zap.String("token", token), zap.String("resource_type", string(link.ResourceType)))
		s.sendError(w, http.StatusInternalServerError, "internal error")
		return
	}

	f, err := s.catalog.FileByID(ctx, fileID)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}

	metrics.RecordShareDownload()
	s.streamFile(w, r, f, true)
}

// streamFile copies the object to the response without buffering it.
// Reads are retried once on transport errors; ErrNotFound is not a
// transport error and surfaces immediately.
func (s *Server) streamFile(w http.ResponseWriter, r *http.Request, f *catalog.File, attachment bool) {
	ctx := r.Context()

	backend, err := s.backends.ForDisk(f.Disk)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}

	rc, size, err := backend.GetObject(ctx, f.StorageKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		logging.Warn("backend read failed, retrying",
			zap.Int64("file_id", f.ID), zap.Error(err))
		rc, size, err = backend.GetObject(ctx, f.StorageKey)
	}
	if err != nil {
		metrics.RecordContentDownload(0, false)
		if errors.Is(err, storage.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "content not found")
			return
		}
		s.sendError(w, http.StatusServiceUnavailable, "storage backend unavailable")
		return
	}
	reader := storage.WithReadTimeout(rc, s.config.ReadChunkTimeout)
	defer reader.Close()

	ct := f.MimeType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	if attachment {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, f.Name))
	}
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, reader)
	if err != nil {
		logging.Warn("content transfer error",
			zap.Int64("file_id", f.ID), zap.Error(err))
	}
	metrics.RecordContentDownload(n, err == nil)
}
