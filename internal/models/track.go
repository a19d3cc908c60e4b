package models

import (
	"time"

	"gorm.io/gorm"
)

// VariantType indicates whether a track's primary content is raw audio or
// synthesized text-to-speech.
type VariantType string

const (
	VariantTypeAudio VariantType = "audio"
	VariantTypeTTS   VariantType = "tts"
)

// TrackStatus is the combined upload/processing status column (see the
// Track.status vs Track.upload_status resolution in SPEC_FULL.md).
type TrackStatus string

const (
	TrackStatusUploading  TrackStatus = "uploading"
	TrackStatusProcessing TrackStatus = "processing"
	TrackStatusGenerating TrackStatus = "generating"
	TrackStatusComplete   TrackStatus = "complete"
	TrackStatusFailed     TrackStatus = "failed"
)

// SegmentationStatus tracks whether the HLS segmenter has produced a
// complete, VOD-terminated playlist for a track.
type SegmentationStatus string

const (
	SegmentationIncomplete SegmentationStatus = "incomplete"
	SegmentationComplete   SegmentationStatus = "complete"
)

// VisibilityStatus controls who can discover or stream a track.
type VisibilityStatus string

const (
	VisibilityVisible         VisibilityStatus = "visible"
	VisibilityHiddenFromUsers VisibilityStatus = "hidden_from_users"
	VisibilityHiddenFromAll   VisibilityStatus = "hidden_from_all"
)

// StalenessThreshold is the default age beyond which a held lock is
// considered abandoned and may be taken over.
const StalenessThreshold = 90 * time.Minute

// Track represents a single uploaded audio or TTS asset and its HLS
// preparation/lock state.
type Track struct {
	BaseModel

	OwnerID ULID  `gorm:"type:varchar(26);not null;index" json:"owner_id"`
	AlbumID *ULID `gorm:"type:varchar(26);index" json:"album_id,omitempty"`

	SourceBlobPath string      `gorm:"size:1024" json:"source_blob_path"`
	VariantType    VariantType `gorm:"size:10;not null;default:'audio'" json:"variant_type"`

	DurationSeconds float64 `json:"duration_seconds"`
	Codec           string  `gorm:"size:50" json:"codec,omitempty"`
	FormatName      string  `gorm:"size:50" json:"format_name,omitempty"`
	BitrateKbps     int     `json:"bitrate_kbps,omitempty"`
	SampleRateHz    int     `json:"sample_rate_hz,omitempty"`
	Channels        int     `json:"channels,omitempty"`

	// ContentVersion is bumped whenever served bytes or access rules change.
	ContentVersion int64 `gorm:"not null;default:1" json:"content_version"`

	Status TrackStatus `gorm:"size:20;not null;default:'uploading';index" json:"status"`

	// ProcessingVoice is non-nil while a voice-scoped lock is held for this
	// track; nil while only the full-track lock (or no lock) is held.
	ProcessingVoice *string `gorm:"size:100" json:"processing_voice,omitempty"`
	// ProcessingLockedAt is the acquisition time of whichever lock
	// (full-track or voice) is currently active on this track.
	ProcessingLockedAt *Time  `json:"processing_locked_at,omitempty"`
	ProcessingType     string `gorm:"size:50" json:"processing_type,omitempty"`

	HLSReady           bool               `gorm:"not null;default:false" json:"hls_ready"`
	SegmentationStatus SegmentationStatus `gorm:"size:20;not null;default:'incomplete'" json:"segmentation_status"`

	DefaultVoice *string `gorm:"size:100" json:"default_voice,omitempty"`

	VisibilityStatus VisibilityStatus `gorm:"size:30;not null;default:'visible'" json:"visibility_status"`
}

// TableName returns the table name for Track.
func (Track) TableName() string {
	return "tracks"
}

// IsLockStale reports whether the currently-held lock (if any) is older
// than the staleness threshold and therefore eligible for takeover.
func (t *Track) IsLockStale(now time.Time) bool {
	if t.ProcessingLockedAt == nil {
		return false
	}
	return now.Sub(*t.ProcessingLockedAt) > StalenessThreshold
}

// IsLockFree reports whether the full-track lock can be freely acquired:
// no lock has ever been taken, the track is in a terminal state, or the
// existing lock is stale.
func (t *Track) IsLockFree(now time.Time) bool {
	if t.ProcessingLockedAt == nil {
		return true
	}
	if t.Status == TrackStatusComplete || t.Status == TrackStatusFailed {
		return true
	}
	return t.IsLockStale(now)
}

// Validate performs basic validation on the track.
func (t *Track) Validate() error {
	if t.OwnerID.IsZero() {
		return ErrOwnerIDRequired
	}
	switch t.VariantType {
	case VariantTypeAudio, VariantTypeTTS:
	default:
		return ErrInvalidVariantType
	}
	switch t.VisibilityStatus {
	case VisibilityVisible, VisibilityHiddenFromUsers, VisibilityHiddenFromAll, "":
	default:
		return ErrInvalidVisibilityStatus
	}
	return nil
}

// BeforeCreate is a GORM hook that generates the ULID and validates the track.
func (t *Track) BeforeCreate(tx *gorm.DB) error {
	if err := t.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if t.VisibilityStatus == "" {
		t.VisibilityStatus = VisibilityVisible
	}
	if t.ContentVersion == 0 {
		t.ContentVersion = 1
	}
	return t.Validate()
}

// BeforeUpdate is a GORM hook that validates the track before update.
func (t *Track) BeforeUpdate(tx *gorm.DB) error {
	return t.Validate()
}
