package http

import (
	stderrors "errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"callguard/pkg/analysis"
	"callguard/pkg/correlation"
	"callguard/pkg/errors"
	"callguard/pkg/upload"
)

// HistoryItem is a history entry with its display risk level
type HistoryItem struct {
	analysis.HistoryEntry
	RiskLevel analysis.RiskLevel `json:"riskLevel"`
}

func newHistoryItem(entry analysis.HistoryEntry) HistoryItem {
	return HistoryItem{HistoryEntry: entry, RiskLevel: entry.Level()}
}

// HistoryResponse is the body of GET /api/history
type HistoryResponse struct {
	Entries []HistoryItem `json:"entries"`
	Count   int           `json:"count"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		s.ErrorResponse(w, r, errors.Wrap(errors.ErrUnavailable, "session controller not configured"))
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		s.ErrorResponse(w, r, errors.Wrap(errors.ErrUnavailable, "session controller not configured"))
		return
	}

	if err := s.controller.Start(r.Context()); err != nil {
		s.ErrorResponse(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, s.controller.Snapshot())
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		s.ErrorResponse(w, r, errors.Wrap(errors.ErrUnavailable, "session controller not configured"))
		return
	}

	// stopping an idle controller is a no-op
	s.controller.Stop(r.Context())
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.ErrorResponse(w, r, errors.Wrap(errors.ErrUnavailable, "history store not configured"))
		return
	}

	entries, err := s.history.List(r.Context())
	if err != nil {
		correlation.LoggerFromContext(r.Context(), s.logger).WithError(err).Error("Failed to list history")
		s.ErrorResponse(w, r, err)
		return
	}

	items := make([]HistoryItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, newHistoryItem(entry))
	}

	writeJSON(w, http.StatusOK, HistoryResponse{Entries: items, Count: len(items)})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.ErrorResponse(w, r, errors.Wrap(errors.ErrUnavailable, "history store not configured"))
		return
	}

	if err := s.history.Clear(r.Context()); err != nil {
		correlation.LoggerFromContext(r.Context(), s.logger).WithError(err).Error("Failed to clear history")
		s.ErrorResponse(w, r, err)
		return
	}

	correlation.LoggerFromContext(r.Context(), s.logger).Info("History cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.uploader == nil {
		s.ErrorResponse(w, r, errors.Wrap(errors.ErrUnavailable, "upload analysis not configured"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			s.ErrorResponse(w, r, errors.NewInvalidInput("The uploaded file is too large."))
			return
		}
		s.ErrorResponse(w, r, errors.NewInvalidInput("Please choose an audio file to analyze."))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.ErrorResponse(w, r, errors.NewInvalidInput("The uploaded file could not be read."))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(header.Filename)); byExt != "" {
			mimeType = byExt
		}
	}

	correlation.LoggerFromContext(r.Context(), s.logger).WithFields(logrus.Fields{
		"file":      header.Filename,
		"mime_type": mimeType,
		"bytes":     len(data),
	}).Info("Analyzing uploaded file")

	entry, err := s.uploader.Analyze(r.Context(), upload.File{
		Name:     header.Filename,
		MIMEType: mimeType,
		Data:     data,
	})
	if err != nil {
		s.ErrorResponse(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newHistoryItem(entry))
}
