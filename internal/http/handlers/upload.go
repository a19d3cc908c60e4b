package handlers

import (
	"context"
	"mime/multipart"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/duskcast/streamcore/internal/models"
	"github.com/duskcast/streamcore/internal/upload"
)

// UploadHandler exposes the chunked-upload lifecycle: init, chunk, finalize,
// cancel.
type UploadHandler struct {
	coordinator *upload.Coordinator
}

// NewUploadHandler creates an UploadHandler.
func NewUploadHandler(coordinator *upload.Coordinator) *UploadHandler {
	return &UploadHandler{coordinator: coordinator}
}

// Register registers the upload routes with the API.
func (h *UploadHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "initUpload",
		Method:      "POST",
		Path:        "/albums/{album_id}/tracks/init-upload",
		Summary:     "Initialize a chunked upload",
		Tags:        []string{"Upload"},
	}, h.InitUpload)

	huma.Register(api, huma.Operation{
		OperationID:      "uploadChunk",
		Method:           "POST",
		Path:             "/albums/{album_id}/tracks/upload-chunk",
		Summary:          "Upload a single chunk",
		Tags:             []string{"Upload"},
		RequestBody:      &huma.RequestBody{Content: map[string]*huma.MediaType{"multipart/form-data": {}}},
		SkipValidateBody: true,
	}, h.UploadChunk)

	huma.Register(api, huma.Operation{
		OperationID: "finalizeUpload",
		Method:      "POST",
		Path:        "/albums/{album_id}/tracks/finalize-upload",
		Summary:     "Finalize a chunked upload",
		Tags:        []string{"Upload"},
	}, h.FinalizeUpload)

	huma.Register(api, huma.Operation{
		OperationID: "cancelUpload",
		Method:      "POST",
		Path:        "/albums/{album_id}/tracks/cancel-upload",
		Summary:     "Cancel a chunked upload",
		Tags:        []string{"Upload"},
	}, h.CancelUpload)
}

// InitUploadInput is the input for initializing an upload.
type InitUploadInput struct {
	AlbumID string `path:"album_id"`
	Body    struct {
		UploadID         string                  `json:"uploadId"`
		Filename         string                  `json:"filename"`
		TotalChunks      int                     `json:"totalChunks"`
		Title            string                  `json:"title,omitempty"`
		Creator          string                  `json:"creator"`
		VisibilityStatus models.VisibilityStatus `json:"visibility_status,omitempty"`
		IsTeamUser       bool                    `json:"is_team_user,omitempty"`
	}
}

// InitUploadOutput is the output for initializing an upload.
type InitUploadOutput struct {
	Body struct {
		TrackID  string `json:"trackId,omitempty"`
		UploadID string `json:"uploadId"`
	}
}

// InitUpload starts a new chunked upload session.
func (h *UploadHandler) InitUpload(ctx context.Context, input *InitUploadInput) (*InitUploadOutput, error) {
	albumID, err := models.ParseULID(input.AlbumID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid album id")
	}
	creator, err := models.ParseULID(input.Body.Creator)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid creator id")
	}

	visibility := input.Body.VisibilityStatus
	if visibility == "" {
		visibility = models.VisibilityVisible
	}

	session, err := h.coordinator.InitUpload(ctx, upload.InitRequest{
		UploadID:         input.Body.UploadID,
		Filename:         input.Body.Filename,
		TotalChunks:      input.Body.TotalChunks,
		Title:            input.Body.Title,
		Creator:          creator,
		AlbumID:          albumID,
		VisibilityStatus: visibility,
		IsTeamUser:       input.Body.IsTeamUser,
	})
	if err != nil {
		return nil, translateError(err)
	}

	out := &InitUploadOutput{}
	out.Body.UploadID = session.UploadID
	if session.TrackID != nil {
		out.Body.TrackID = session.TrackID.String()
	}
	return out, nil
}

// UploadChunkInput is the input for uploading a single chunk.
type UploadChunkInput struct {
	AlbumID string `path:"album_id"`
	RawBody multipart.Form
}

// UploadChunkOutput is the output for uploading a single chunk.
type UploadChunkOutput struct {
	Body struct {
		Message   string `json:"message"`
		Cancelled bool   `json:"cancelled,omitempty"`
	}
}

// UploadChunk writes a single chunk's bytes and materializes the Track once
// every chunk has arrived.
func (h *UploadHandler) UploadChunk(ctx context.Context, input *UploadChunkInput) (*UploadChunkOutput, error) {
	albumID, err := models.ParseULID(input.AlbumID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid album id")
	}

	uploadIDs := input.RawBody.Value["uploadId"]
	if len(uploadIDs) == 0 {
		return nil, huma.Error400BadRequest("missing uploadId")
	}
	chunkIndexes := input.RawBody.Value["chunkIndex"]
	if len(chunkIndexes) == 0 {
		return nil, huma.Error400BadRequest("missing chunkIndex")
	}
	chunkIndex, err := strconv.Atoi(chunkIndexes[0])
	if err != nil {
		return nil, huma.Error400BadRequest("invalid chunkIndex")
	}

	files := input.RawBody.File["chunk"]
	if len(files) == 0 {
		return nil, huma.Error400BadRequest("missing chunk")
	}
	file, err := files[0].Open()
	if err != nil {
		return nil, huma.Error400BadRequest("failed to open chunk")
	}
	defer file.Close()

	_, err = h.coordinator.UploadChunk(ctx, uploadIDs[0], albumID, chunkIndex, file)
	if err != nil {
		return nil, translateError(err)
	}

	out := &UploadChunkOutput{}
	out.Body.Message = "chunk received"
	return out, nil
}

// FinalizeUploadInput is the input for finalizing an upload.
type FinalizeUploadInput struct {
	AlbumID string `path:"album_id"`
	Body    struct {
		UploadID string `json:"uploadId"`
	}
}

// FinalizeUploadOutput returns the materialized track's metadata.
type FinalizeUploadOutput struct {
	Body *models.Track
}

// FinalizeUpload concatenates received chunks, publishes the source blob,
// and queues HLS preparation.
func (h *UploadHandler) FinalizeUpload(ctx context.Context, input *FinalizeUploadInput) (*FinalizeUploadOutput, error) {
	track, err := h.coordinator.FinalizeUpload(ctx, input.Body.UploadID)
	if err != nil {
		return nil, translateError(err)
	}
	return &FinalizeUploadOutput{Body: track}, nil
}

// CancelUploadInput is the input for cancelling an upload.
type CancelUploadInput struct {
	AlbumID string `path:"album_id"`
	Body    struct {
		UploadID string `json:"uploadId"`
	}
}

// CancelUploadOutput is the output for cancelling an upload.
type CancelUploadOutput struct {
	Body struct {
		Message   string `json:"message"`
		Cancelled bool   `json:"cancelled"`
	}
}

// CancelUpload marks a session cancelled and cleans up any materialized
// track.
func (h *UploadHandler) CancelUpload(ctx context.Context, input *CancelUploadInput) (*CancelUploadOutput, error) {
	if err := h.coordinator.CancelUpload(ctx, input.Body.UploadID); err != nil {
		return nil, translateError(err)
	}
	out := &CancelUploadOutput{}
	out.Body.Message = "upload cancelled"
	out.Body.Cancelled = true
	return out, nil
}
