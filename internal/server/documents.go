package server

import (
	"net/http"
	"strings"
)

// handleDocuments serves POST (multipart upload) and GET (list) on
// /api/documents.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, ownerID string) {
	switch r.Method {
	case http.MethodPost:
		s.handleUploadDocument(w, r, ownerID)
	case http.MethodGet:
		docs, err := s.app.ListDocuments(r.Context(), ownerID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request, ownerID string) {
	if !s.allowRate(w, r) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body or file too large")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	doc, err := s.app.UploadDocument(r.Context(), ownerID, header.Filename, contentType, header.Size, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

// handleDocumentByID serves /api/documents/{id} and
// /api/documents/{id}/download.
func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request, ownerID string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] != "download" {
			notFound(w, "not found")
			return
		}
		s.handleDocumentDownload(w, r, ownerID, id)
		return
	}
	switch r.Method {
	case http.MethodGet:
		doc, ok, err := s.app.GetDocument(r.Context(), ownerID, id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			notFound(w, "document not found")
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodDelete:
		if err := s.app.DeleteDocument(r.Context(), ownerID, id); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleDocumentDownload(w http.ResponseWriter, r *http.Request, ownerID, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	url, ok, err := s.app.DocumentDownloadURL(r.Context(), ownerID, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		notFound(w, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
