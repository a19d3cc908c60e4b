package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/duskcast/streamcore/internal/apperror"
	"github.com/duskcast/streamcore/internal/models"
	"github.com/duskcast/streamcore/internal/storage"
	"github.com/duskcast/streamcore/internal/stream"
)

// StreamHandler serves HLS playlists and segments. The actual byte
// streaming and the 202-Accepted-while-preparing response are handled by
// raw Chi routes (RegisterChiRoutes) rather than Huma: Huma commits a
// status before a handler body runs, which doesn't leave room for
// deciding between "200 + file bytes" and "202 + Retry-After" mid-request,
// the same reason the teacher's relay streaming endpoint bypasses Huma.
type StreamHandler struct {
	manager *stream.Manager
	sandbox *storage.Sandbox
	logger  *slog.Logger
}

// NewStreamHandler creates a StreamHandler.
func NewStreamHandler(manager *stream.Manager, sandbox *storage.Sandbox, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{manager: manager, sandbox: sandbox, logger: logger}
}

// RegisterChiRoutes registers the raw streaming routes.
func (h *StreamHandler) RegisterChiRoutes(router chi.Router) {
	router.Get("/stream/{track_id}/master.m3u8", h.handleMaster)
	router.Get("/stream/{track_id}/{variant}/playlist.m3u8", h.handleVariantPlaylist)
	router.Get("/stream/{track_id}/{variant}/{segment}", h.handleSegment)
	router.Get("/stream/{track_id}/progress", h.handleProgress)
}

// proxyStreamDocsInput documents the streaming endpoint for OpenAPI without
// actually handling requests (Chi handles the route first).
type proxyStreamDocsInput struct {
	TrackID string `path:"track_id"`
	Variant string `path:"variant"`
	Segment string `path:"segment"`
}

// Register registers documentation-only operations so the streaming
// surface appears in the OpenAPI spec.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:      "streamSegment",
		Method:           "GET",
		Path:             "/stream/{track_id}/{variant}/{segment}",
		Summary:          "Fetch an HLS segment or variant playlist",
		Description:      "Returns HLS bytes once ready, or 202 with Retry-After while preparation is in progress. Handled by a raw Chi route.",
		Tags:             []string{"Stream"},
		SkipValidateBody: true,
	}, h.streamDocsHandler)
}

func (h *StreamHandler) streamDocsHandler(ctx context.Context, input *proxyStreamDocsInput) (*huma.StreamResponse, error) {
	return nil, huma.Error500InternalServerError("this endpoint is handled by a raw Chi route")
}

func (h *StreamHandler) trackIDFrom(r *http.Request) (models.ULID, bool) {
	id, err := models.ParseULID(chi.URLParam(r, "track_id"))
	if err != nil {
		return models.ULID{}, false
	}
	return id, true
}

func voiceIDFromVariant(variant string) string {
	const prefix = "voice-"
	if len(variant) > len(prefix) && variant[:len(prefix)] == prefix {
		return variant[len(prefix):]
	}
	return ""
}

// writeReady responds with the requested ready file, relative to the
// track's segments root.
func (h *StreamHandler) writeReady(w http.ResponseWriter, r *http.Request, root, relPath, contentType string) {
	abs, err := h.sandbox.ResolvePath(filepath.Join(root, relPath))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	file, err := os.Open(abs)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	http.ServeContent(w, r, "", stat.ModTime(), file)
}

// writeBusy writes the 202-Accepted-with-Retry-After response a Busy
// AppError maps to.
func (h *StreamHandler) writeBusy(w http.ResponseWriter, ae *apperror.AppError, voiceID string) {
	if ae.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(ae.RetryAfter))
	}
	if voiceID != "" {
		w.Header().Set("X-Voice-ID", voiceID)
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *StreamHandler) handleMaster(w http.ResponseWriter, r *http.Request) {
	h.serveOrQueue(w, r, "master.m3u8", "", "application/vnd.apple.mpegurl")
}

func (h *StreamHandler) handleVariantPlaylist(w http.ResponseWriter, r *http.Request) {
	variant := chi.URLParam(r, "variant")
	h.serveOrQueue(w, r, filepath.Join(variant, "playlist.m3u8"), voiceIDFromVariant(variant), "application/vnd.apple.mpegurl")
}

func (h *StreamHandler) handleSegment(w http.ResponseWriter, r *http.Request) {
	variant := chi.URLParam(r, "variant")
	segment := chi.URLParam(r, "segment")
	h.serveOrQueue(w, r, filepath.Join(variant, segment), voiceIDFromVariant(variant), "video/mp2t")
}

// serveOrQueue is shared by the master/variant/segment handlers: it asks
// stream.Manager whether the track is ready, serving the file directly if
// so, and otherwise surfacing the 202/Retry-After or error the manager
// returns.
func (h *StreamHandler) serveOrQueue(w http.ResponseWriter, r *http.Request, relPath, voiceID, contentType string) {
	trackID, ok := h.trackIDFrom(r)
	if !ok {
		http.Error(w, "invalid track id", http.StatusBadRequest)
		return
	}

	resp, err := h.manager.GetStreamResponse(r.Context(), stream.StreamRequest{TrackID: trackID, VoiceID: voiceID})
	if err != nil {
		var ae *apperror.AppError
		if errors.As(err, &ae) && ae.Kind == apperror.KindBusy {
			h.writeBusy(w, ae, voiceID)
			return
		}
		h.logger.Error("stream lookup failed", "track_id", trackID.String(), "voice_id", voiceID, "error", err)
		if errors.As(err, &ae) && ae.Kind == apperror.KindNotFound {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.writeReady(w, r, resp.SegmentsRoot, relPath, contentType)
}

func (h *StreamHandler) handleProgress(w http.ResponseWriter, r *http.Request) {
	trackID, ok := h.trackIDFrom(r)
	if !ok {
		http.Error(w, "invalid track id", http.StatusBadRequest)
		return
	}
	voiceID := r.URL.Query().Get("voice")

	report, err := h.manager.GetSegmentProgress(r.Context(), trackID, voiceID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSONProgress(w, report)
}

// progressBody is the JSON shape served by the raw progress route.
type progressBody struct {
	Found                bool    `json:"found"`
	State                string  `json:"state,omitempty"`
	PercentComplete      float64 `json:"percent_complete"`
	TotalDurationSeconds float64 `json:"total_duration_seconds,omitempty"`
	ErrorMessage         string  `json:"error_message,omitempty"`
}

func writeJSONProgress(w http.ResponseWriter, report *stream.ProgressReport) {
	body := progressBody{
		Found:                report.Found,
		State:                string(report.State),
		PercentComplete:      report.PercentComplete,
		TotalDurationSeconds: report.TotalDurationSeconds,
		ErrorMessage:         report.ErrorMessage,
	}
	w.Header().Set("Content-Type", "application/json")
	if !report.Found {
		w.WriteHeader(http.StatusNotFound)
	}
	_ = json.NewEncoder(w).Encode(body)
}
