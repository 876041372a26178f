package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Uploaded files (topic attachments, documentation files)
	mux.Handle("/uploads/", http.StripPrefix("/uploads/",
		http.FileServer(http.Dir(s.app.Config.Storage.UploadsDir))))

	// API routes - Mantis
	mux.HandleFunc("/api/mantis/health", s.app.MantisHandler.HealthHandler)
	mux.HandleFunc("/api/mantis/all", s.app.MantisHandler.AllHandler)
	mux.HandleFunc("/api/mantis/kpis", s.app.MantisHandler.KPIHandler)
	mux.HandleFunc("/api/mantis/refresh", s.app.MantisHandler.RefreshHandler)
	mux.HandleFunc("/api/mantis/refresh-status", s.app.MantisHandler.RefreshStatusHandler)
	mux.HandleFunc("/api/mantis/status/", s.handleMantisStatusRoutes) // GET /{id}
	mux.HandleFunc("/api/mantis/priority-p", s.app.MantisHandler.PriorityHandler)
	mux.HandleFunc("/api/mantis/extract-full", s.app.MantisHandler.ExtractFullHandler)
	mux.HandleFunc("/api/mantis/extract-status/", s.handleExtractRoutes)   // GET /{jobId}
	mux.HandleFunc("/api/mantis/extract-download/", s.handleExtractRoutes) // GET /{jobId}
	mux.HandleFunc("/api/mantis/export/xlsx", s.app.MantisHandler.ExportXLSXHandler)

	// API routes - Open topics
	mux.HandleFunc("/api/open-topics", s.app.TopicsHandler.CollectionHandler) // GET (list), POST (create)
	mux.HandleFunc("/api/open-topics/", s.handleTopicRoutes)                  // GET/PUT/DELETE /{id} and attachments

	// API routes - Documentation
	mux.HandleFunc("/api/documentation/spaces", s.app.DocsHandler.SpacesHandler)
	mux.HandleFunc("/api/documentation/spaces/", s.handleDocSpaceRoutes) // PUT/DELETE /{id}
	mux.HandleFunc("/api/documentation/items", s.app.DocsHandler.ItemsHandler)
	mux.HandleFunc("/api/documentation/items/file", s.app.DocsHandler.ItemFileHandler)
	mux.HandleFunc("/api/documentation/items/", s.handleDocItemRoutes) // PUT/DELETE /{id}

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleMantisStatusRoutes serves GET /api/mantis/status/{id}
func (s *Server) handleMantisStatusRoutes(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/mantis/status/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	s.app.MantisHandler.JobStatusHandler(w, r)
}

// handleExtractRoutes serves the extraction status and download subpaths
func (s *Server) handleExtractRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if jobID := strings.TrimPrefix(path, "/api/mantis/extract-status/"); jobID != path {
		if jobID == "" || strings.Contains(jobID, "/") {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		s.app.MantisHandler.ExtractStatusHandler(w, r, jobID)
		return
	}

	if jobID := strings.TrimPrefix(path, "/api/mantis/extract-download/"); jobID != path {
		if jobID == "" || strings.Contains(jobID, "/") {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		s.app.MantisHandler.ExtractDownloadHandler(w, r, jobID)
		return
	}

	http.Error(w, "Not found", http.StatusNotFound)
}

// handleTopicRoutes serves /api/open-topics/{id} and its attachment subpaths
func (s *Server) handleTopicRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/open-topics/")
	if rest == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	parts := strings.Split(rest, "/")
	switch {
	// /api/open-topics/{id}
	case len(parts) == 1:
		s.app.TopicsHandler.ItemHandler(w, r, parts[0])

	// /api/open-topics/{id}/attachments
	case len(parts) == 2 && parts[1] == "attachments":
		s.app.TopicsHandler.AttachmentsHandler(w, r, parts[0])

	// /api/open-topics/{id}/attachments/{attachmentId}
	case len(parts) == 3 && parts[1] == "attachments":
		s.app.TopicsHandler.AttachmentHandler(w, r, parts[0], parts[2])

	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleDocSpaceRoutes serves /api/documentation/spaces/{id}
func (s *Server) handleDocSpaceRoutes(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/documentation/spaces/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	s.app.DocsHandler.SpaceHandler(w, r, id)
}

// handleDocItemRoutes serves /api/documentation/items/{id}
func (s *Server) handleDocItemRoutes(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/documentation/items/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	s.app.DocsHandler.ItemHandler(w, r, id)
}
