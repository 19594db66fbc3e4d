package api

import (
	"net/http"
	"strconv"

	"github.com/eliterp/cloudstore/internal/api/protocol"
	"github.com/eliterp/cloudstore/internal/catalog"
	"github.com/eliterp/cloudstore/internal/share"
)

// handleAttach links a file to a business record. Linking the same pair
// twice is idempotent.
func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	var req protocol.AttachRequest
	if err := decodeJSON(r, &req); err != nil || req.OwnerType == "" || req.FileID == 0 {
		s.sendError(w, http.StatusBadRequest, "fileId, ownerType and ownerId required")
		return
	}

	if !s.requireAccess(w, r, catalog.ResourceFile, req.FileID, share.LevelView) {
		return
	}

	link, err := s.catalog.Attach(r.Context(), req.FileID, req.OwnerType, req.OwnerID)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, link)
}

func (s *Server) handleListAttachments(w http.ResponseWriter, r *http.Request) {
	ownerType := r.URL.Query().Get("ownerType")
	ownerID, err := strconv.ParseInt(r.URL.Query().Get("ownerId"), 10, 64)
	if ownerType == "" || err != nil {
		s.sendError(w, http.StatusBadRequest, "ownerType and ownerId required")
		return
	}

	files, err := s.catalog.AttachmentsFor(r.Context(), ownerType, ownerID)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleDetach(w http.ResponseWriter, r *http.Request) {
	var req protocol.AttachRequest
	if err := decodeJSON(r, &req); err != nil || req.OwnerType == "" || req.FileID == 0 {
		s.sendError(w, http.StatusBadRequest, "fileId, ownerType and ownerId required")
		return
	}

	if !s.requireAccess(w, r, catalog.ResourceFile, req.FileID, share.LevelView) {
		return
	}

	if err := s.catalog.Detach(r.Context(), req.FileID, req.OwnerType, req.OwnerID); err != nil {
		s.sendStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
