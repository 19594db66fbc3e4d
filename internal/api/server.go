// Package api provides the HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/eliterp/cloudstore/internal/access"
	"github.com/eliterp/cloudstore/internal/api/protocol"
	"github.com/eliterp/cloudstore/internal/auth"
	"github.com/eliterp/cloudstore/internal/catalog"
	"github.com/eliterp/cloudstore/internal/config"
	"github.com/eliterp/cloudstore/internal/events"
	"github.com/eliterp/cloudstore/internal/logging"
	"github.com/eliterp/cloudstore/internal/metrics"
	"github.com/eliterp/cloudstore/internal/quota"
	"github.com/eliterp/cloudstore/internal/share"
	"github.com/eliterp/cloudstore/internal/storage"
)

// Server is the HTTP server.
type Server struct {
	catalog     *catalog.Store
	shares      *share.Store
	resolver    *access.Resolver
	auth        *auth.Auth
	backends    *storage.Registry
	quotas      *quota.Store
	limiter     *quota.RateLimiter
	broadcaster *events.Broadcaster
	config      *config.Config
}

// NewServer creates a new server.
func NewServer(
	cat *catalog.Store,
	shares *share.Store,
	resolver *access.Resolver,
	authHandler *auth.Auth,
	backends *storage.Registry,
	quotas *quota.Store,
	limiter *quota.RateLimiter,
	broadcaster *events.Broadcaster,
	cfg *config.Config,
) *Server {
	return &Server{
		catalog:     cat,
		shares:      shares,
		resolver:    resolver,
		auth:        authHandler,
		backends:    backends,
		quotas:      quotas,
		limiter:     limiter,
		broadcaster: broadcaster,
		config:      cfg,
	}
}

// Handler returns the HTTP handler with auth, metrics and logging
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/cloud/shared/{token}", s.handleSharedBrowse)
	mux.HandleFunc("GET /api/public/download/{token}", s.handlePublicDownload)

	// Protected endpoints
	protected := http.NewServeMux()

	// Catalog
	protected.HandleFunc("GET /api/cloud", s.handleBrowse)
	protected.HandleFunc("POST /api/cloud/upload", s.handleUpload)
	protected.HandleFunc("POST /api/cloud/folder", s.handleCreateFolder)
	protected.HandleFunc("PUT /api/cloud/rename/{id}", s.handleRename)
	protected.HandleFunc("PUT /api/cloud/move/{id}", s.handleMove)
	protected.HandleFunc("DELETE /api/cloud/delete/{id}", s.handleDelete)
	protected.HandleFunc("GET /api/cloud/search", s.handleSearch)
	protected.HandleFunc("GET /api/cloud/quota", s.handleQuota)

	// Event stream
	protected.HandleFunc("GET /api/events", s.handleEvents)

	// Sharing
	protected.HandleFunc("GET /api/cloud/share/data", s.handleShareData)
	protected.HandleFunc("POST /api/cloud/share", s.handleCreateShare)
	protected.HandleFunc("DELETE /api/cloud/share/{id}", s.handleRevokeShare)
	protected.HandleFunc("POST /api/cloud/share/public-link", s.handleCreatePublicLink)
	protected.HandleFunc("DELETE /api/cloud/share/public-link", s.handleRevokePublicLink)

	// Download gateway
	protected.HandleFunc("GET /api/files/download/{id}", s.handleDownload)
	protected.HandleFunc("GET /api/files/signed-url", s.handleSignedURL)
	protected.HandleFunc("GET /api/files/{key...}", s.handleContentByKey)

	// Attachments
	protected.HandleFunc("POST /api/attachments", s.handleAttach)
	protected.HandleFunc("GET /api/attachments", s.handleListAttachments)
	protected.HandleFunc("DELETE /api/attachments", s.handleDetach)

	rateLimited := quota.RateLimitMiddleware(s.limiter, s.quotas, func(ctx context.Context) (string, bool) {
		claims := auth.GetClaims(ctx)
		if claims == nil {
			return "", false
		}
		return claims.UserID(), true
	})

	mux.Handle("/api/", s.auth.Middleware(rateLimited(protected)))

	return metrics.Middleware(logging.Middleware(mux))
}

// handleEvents streams catalog change events to the client over SSE.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// publishEvent publishes a catalog change event if a broadcaster is configured.
func (s *Server) publishEvent(eventType string, resourceType catalog.ResourceType, resourceID int64, name string, folderID *int64) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(events.Event{
		Type:         eventType,
		ResourceType: string(resourceType),
		ResourceID:   resourceID,
		Name:         name,
		FolderID:     folderID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": "1.0"})
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// sendStoreError maps sentinel errors from the stores and backends to
// HTTP status codes.
func (s *Server) sendStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, share.ErrNotFound),
		errors.Is(err, storage.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "not found")
	case errors.Is(err, share.ErrExpired):
		s.sendError(w, http.StatusGone, "share link expired")
	case errors.Is(err, catalog.ErrCycle):
		s.sendError(w, http.StatusConflict, "move would create a cycle")
	case errors.Is(err, catalog.ErrFolderNotEmpty):
		s.sendError(w, http.StatusConflict, "folder is not empty")
	case errors.Is(err, share.ErrInvalidTarget):
		s.sendError(w, http.StatusBadRequest, "share must have exactly one target")
	case errors.Is(err, share.ErrWrongPassword):
		s.sendError(w, http.StatusForbidden, "wrong password")
	case errors.Is(err, storage.ErrUnknownDisk):
		s.sendError(w, http.StatusServiceUnavailable, "storage backend unavailable")
	default:
		logging.Error("internal error", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// requireAccess runs the resolver and writes the error response itself
// when access is denied. Returns true when the handler may proceed.
func (s *Server) requireAccess(w http.ResponseWriter, r *http.Request, resourceType catalog.ResourceType, resourceID int64, level share.Level) bool {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		s.sendError(w, http.StatusUnauthorized, "authentication required")
		return false
	}

	allowed, err := s.resolver.Can(r.Context(), claims.UserID(), resourceType, resourceID, level)
	if err != nil {
		s.sendStoreError(w, err)
		return false
	}
	if !allowed {
		s.sendError(w, http.StatusForbidden, "access denied")
		return false
	}
	return true
}
