package server

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"aegis/pkg/chat"
	"aegis/pkg/utils"
)

// handleUpload accepts one multipart file, keeps the raw payload on
// disk, and records it with its renderable pages.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Uploads.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1024*1024)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !s.extensionAllowed(ext) {
		writeError(w, http.StatusBadRequest, "file type not allowed: "+ext)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if int64(len(data)) > maxSize {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	mimeType, _ := utils.DetectMimeAndExt(data)

	storedName := uuid.NewString() + ext
	if err := os.MkdirAll(s.cfg.Uploads.Dir, 0o755); err == nil {
		if err := os.WriteFile(filepath.Join(s.cfg.Uploads.Dir, storedName), data, 0o644); err != nil {
			slog.WarnContext(r.Context(), "Failed to persist upload to disk", "name", storedName, "error", err)
		}
	}

	var pages []chat.FilePage
	if utils.IsImageMime(mimeType) {
		pages = append(pages, chat.FilePage{
			Name:     utils.SafeFilename(header.Filename),
			MimeType: mimeType,
			Data:     data,
		})
	}

	rec, err := s.store.CreateFile(r.Context(), chat.FileRecord{
		UserID:   currentUserID(r),
		Filename: utils.SafeFilename(header.Filename),
		MimeType: mimeType,
		Size:     int64(len(data)),
	}, pages)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// handleGetFile returns the metadata of one owned file.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "fileID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	rec, _, err := s.store.File(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load file")
		return
	}
	if rec == nil || rec.UserID != currentUserID(r) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) extensionAllowed(ext string) bool {
	allowed := s.cfg.Uploads.AllowedExtensions
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(a, ext) {
			return true
		}
	}
	return false
}
