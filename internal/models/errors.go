package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrOwnerIDRequired indicates a required owner ID field is zero.
	ErrOwnerIDRequired = errors.New("owner_id is required")

	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrSourceBlobPathRequired indicates a required source blob path is empty.
	ErrSourceBlobPathRequired = errors.New("source_blob_path is required")

	// ErrInvalidVariantType indicates an invalid track variant type.
	ErrInvalidVariantType = errors.New("invalid variant_type: must be 'audio' or 'tts'")

	// ErrInvalidTrackStatus indicates an invalid track status value.
	ErrInvalidTrackStatus = errors.New("invalid status")

	// ErrInvalidVisibilityStatus indicates an invalid visibility status value.
	ErrInvalidVisibilityStatus = errors.New("invalid visibility_status")

	// ErrVoiceIDRequired indicates a required voice ID field is empty.
	ErrVoiceIDRequired = errors.New("voice_id is required")

	// ErrUploadIDRequired indicates a required upload ID field is empty.
	ErrUploadIDRequired = errors.New("upload_id is required")

	// ErrTotalChunksRequired indicates total_chunks must be positive.
	ErrTotalChunksRequired = errors.New("total_chunks must be at least 1")

	// ErrFilenameRequired indicates a required filename field is empty.
	ErrFilenameRequired = errors.New("filename is required")

	// ErrAlbumIDRequired indicates a required album ID field is zero.
	ErrAlbumIDRequired = errors.New("album_id is required")

	// ErrWordRequired indicates a required word field is empty.
	ErrWordRequired = errors.New("word is required")

	// ErrInvalidTimeRange indicates end time is before or equal to start time.
	ErrInvalidTimeRange = errors.New("end time must be after start time")
)
