package server

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"StepFM/config"
	"StepFM/logger"
	"StepFM/storage"

	"github.com/gorilla/mux"
)

// SampleHandler streams sample assets out of MinIO.
type SampleHandler struct {
	cfg *config.Config
}

// NewSampleHandler creates the handler.
func NewSampleHandler(cfg *config.Config) *SampleHandler {
	return &SampleHandler{cfg: cfg}
}

// GetSampleHandler handles GET /api/samples/{id}.
func (h *SampleHandler) GetSampleHandler(w http.ResponseWriter, r *http.Request) {
	sampleID := mux.Vars(r)["id"]
	if sampleID == "" {
		writeError(w, http.StatusBadRequest, "missing sample id")
		return
	}

	object, err := storage.GetSample(r.Context(), h.cfg.MinioBucket, sampleID)
	if err != nil {
		writeError(w, http.StatusNotFound, "sample not found")
		return
	}
	defer object.Close()

	contentType := mime.TypeByExtension(filepath.Ext(sampleID))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000") // samples are immutable

	if _, err := io.Copy(w, object); err != nil {
		logger.Warn("error streaming sample",
			logger.ErrorField(err),
			logger.String("sample", sampleID))
	}
}

// RegisterSampleRoutes registers sample asset routes.
func RegisterSampleRoutes(router *mux.Router, handler *SampleHandler) {
	router.HandleFunc("/api/samples/{id}", handler.GetSampleHandler).Methods(http.MethodGet)
}
