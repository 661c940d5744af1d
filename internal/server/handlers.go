package server

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/compresr/shrinker/internal/intake"
	"github.com/compresr/shrinker/internal/monitoring"
	"github.com/compresr/shrinker/internal/pipeline"
	"github.com/compresr/shrinker/internal/session"
)

// session returns the caller's session, creating it on first use.
func (s *Server) session(r *http.Request) *session.Session {
	return s.sessions.GetOrCreate(monitoring.SessionIDFromContext(r.Context()))
}

// lookup returns the caller's session without creating one.
func (s *Server) lookup(r *http.Request) (*session.Session, bool) {
	return s.sessions.Get(monitoring.SessionIDFromContext(r.Context()))
}

// =============================================================================
// FILES
// =============================================================================

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.picker.MaxFileSize()
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.picker.MaxFiles())*maxSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, `no files in form field "files"`, http.StatusBadRequest)
		return
	}
	if len(headers) > s.picker.MaxFiles() {
		writeError(w, intake.ErrTooManyFiles.Error(), http.StatusBadRequest)
		return
	}

	candidates := make([]intake.Candidate, 0, len(headers))
	for _, fh := range headers {
		c, err := intake.FromMultipart(fh, maxSize)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		candidates = append(candidates, c)
	}

	sources, rejections, err := s.picker.Pick(candidates)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	requestID := monitoring.RequestIDFromContext(r.Context())
	for _, rej := range rejections {
		s.metrics.RecordRejection(rej.Reason)
		s.alerts.FlagRejected(requestID, rej.Name, rej.Reason)
	}
	if rejections == nil {
		rejections = []intake.Rejection{}
	}

	if len(sources) == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, UploadResponse{Files: []pipeline.File{}, Rejections: rejections})
		return
	}

	sess := s.session(r)
	files := sess.Pipeline.Admit(sources...)
	s.metrics.RecordAdmitted(len(files))

	var bytes int64
	for _, f := range files {
		bytes += f.SourceSize
	}
	s.requestLogger.LogUpload(&monitoring.UploadInfo{
		RequestID: requestID,
		SessionID: sess.ID,
		Admitted:  len(files),
		Rejected:  len(rejections),
		Bytes:     bytes,
	})

	writeJSON(w, http.StatusCreated, UploadResponse{Files: files, Rejections: rejections})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	resp := FilesResponse{Files: []pipeline.File{}}
	if sess, ok := s.lookup(r); ok {
		resp.Files = sess.Pipeline.Files()
		resp.Compressing = sess.Batching() || sess.Pipeline.IsCompressing()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(r)
	if !ok {
		writeError(w, pipeline.ErrNotFound.Error(), http.StatusNotFound)
		return
	}
	f, ok := sess.Pipeline.File(r.PathValue("id"))
	if !ok {
		writeError(w, pipeline.ErrNotFound.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	var req PatchFileRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.CompressionLevel == nil && req.TargetFormat == nil {
		writeError(w, "nothing to update", http.StatusBadRequest)
		return
	}
	normalize(req.CompressionLevel)
	normalize(req.TargetFormat)
	if err := s.validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	sess, ok := s.lookup(r)
	if !ok {
		writeError(w, pipeline.ErrNotFound.Error(), http.StatusNotFound)
		return
	}
	id := r.PathValue("id")

	updates := []struct {
		key   pipeline.ConfigKey
		value *string
	}{
		{pipeline.KeyCompressionLevel, req.CompressionLevel},
		{pipeline.KeyTargetFormat, req.TargetFormat},
	}
	for _, u := range updates {
		if u.value == nil {
			continue
		}
		found, err := sess.Pipeline.SetConfiguration(id, u.key, *u.value)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !found {
			writeError(w, pipeline.ErrNotFound.Error(), http.StatusNotFound)
			return
		}
	}

	f, _ := sess.Pipeline.File(id)
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(r)
	if !ok || !sess.Pipeline.Remove(r.PathValue("id")) {
		writeError(w, pipeline.ErrNotFound.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var removed int
	if sess, ok := s.lookup(r); ok {
		removed = sess.Pipeline.ClearAll()
	}
	writeJSON(w, http.StatusOK, ClearResponse{Removed: removed})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(r)
	if !ok {
		writeError(w, pipeline.ErrNotFound.Error(), http.StatusNotFound)
		return
	}
	d, err := sess.Pipeline.PrepareDownload(r.PathValue("id"))
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, pipeline.ErrNotReady):
		writeError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", d.MIMEType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.Name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(d.Data)))
	w.Header().Set("X-Original-Size", strconv.FormatInt(d.Savings.Original, 10))
	w.Header().Set("X-Savings-Percent", d.Savings.PercentString())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(d.Data); err != nil {
		log.Debug().Err(err).Str("name", d.Name).Msg("server: download interrupted")
	}
}

// =============================================================================
// BATCH AND RESET
// =============================================================================

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	pending := 0
	for _, f := range sess.Pipeline.Files() {
		if f.Status == pipeline.StatusPending {
			pending++
		}
	}
	if !sess.StartBatch() {
		writeError(w, pipeline.ErrBatchRunning.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, BatchResponse{Status: "started", Pending: pending})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.lookup(r); ok {
		sess.Pipeline.Reset()
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// STATS AND HEALTH
// =============================================================================

// handleStats serves the outcome history. ?scope=session limits it to the
// caller; ?recent=N adds the latest N records.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := ""
	if q.Get("scope") == "session" {
		scope = monitoring.SessionIDFromContext(r.Context())
	}

	stats, err := s.history.Stats(r.Context(), scope)
	if err != nil {
		log.Error().Err(err).Msg("server: stats query failed")
		writeError(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	resp := StatsResponse{Stats: stats}

	if n, err := strconv.Atoi(q.Get("recent")); err == nil && n > 0 {
		resp.Recent, err = s.history.Recent(r.Context(), min(n, 100))
		if err != nil {
			log.Error().Err(err).Msg("server: recent query failed")
			writeError(w, "stats unavailable", http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Sessions: s.sessions.Len()})
}

// =============================================================================
// VALIDATION
// =============================================================================

func normalize(v *string) {
	if v != nil {
		*v = strings.ToLower(strings.TrimSpace(*v))
	}
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		switch fe.Tag() {
		case "oneof":
			fields[name] = "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
		default:
			fields[name] = "is invalid"
		}
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: fields})
}
