package models

// TTSTextSegment is an ordered slice of the source text that TTS renders
// independently, the unit at which per-voice audio is synthesized.
type TTSTextSegment struct {
	BaseModel

	TrackID       ULID   `gorm:"type:varchar(26);not null;index:idx_tts_text_track" json:"track_id"`
	SequenceIndex int    `gorm:"not null;index:idx_tts_text_track" json:"sequence_index"`
	Text          string `gorm:"type:text;not null" json:"text"`
}

// TableName returns the table name for TTSTextSegment.
func (TTSTextSegment) TableName() string {
	return "tts_text_segments"
}

// VoiceSegmentStatus is the rendering status of a single voice segment.
type VoiceSegmentStatus string

const (
	VoiceSegmentPending VoiceSegmentStatus = "pending"
	VoiceSegmentReady   VoiceSegmentStatus = "ready"
	VoiceSegmentFailed  VoiceSegmentStatus = "failed"
)

// TTSVoiceSegment is the rendered audio for one TTSTextSegment under one
// voice, carrying the measured duration used by the duration extractor's
// voice-aware summation.
type TTSVoiceSegment struct {
	BaseModel

	TrackID       ULID   `gorm:"type:varchar(26);not null;index:idx_tts_voice_track" json:"track_id"`
	VoiceID       string `gorm:"size:100;not null;index:idx_tts_voice_track" json:"voice_id"`
	SequenceIndex int    `gorm:"not null" json:"sequence_index"`

	Status                 VoiceSegmentStatus `gorm:"size:20;not null;default:'pending'" json:"status"`
	ActualDurationSeconds  float64            `json:"actual_duration_seconds"`
	BlobPath               string             `gorm:"size:1024" json:"blob_path,omitempty"`
}

// TableName returns the table name for TTSVoiceSegment.
func (TTSVoiceSegment) TableName() string {
	return "tts_voice_segments"
}

// TTSWordTiming is a single word's timing within one (track, voice)
// generation, before and after segment-boundary mapping.
type TTSWordTiming struct {
	BaseModel

	TrackID ULID   `gorm:"type:varchar(26);not null;index:idx_tts_timing_track_voice" json:"track_id"`
	VoiceID string `gorm:"size:100;not null;index:idx_tts_timing_track_voice" json:"voice_id"`

	SequenceIndex int    `gorm:"not null" json:"sequence_index"`
	Word          string `gorm:"size:255;not null" json:"word"`

	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`

	// SegmentIndex and SegmentOffset are nil until the word-timing mapper
	// assigns them against the final HLS segment boundaries.
	SegmentIndex  *int     `json:"segment_index,omitempty"`
	SegmentOffset *float64 `json:"segment_offset,omitempty"`
}

// TableName returns the table name for TTSWordTiming.
func (TTSWordTiming) TableName() string {
	return "tts_word_timings"
}

// Validate performs basic validation.
func (t *TTSWordTiming) Validate() error {
	if t.Word == "" {
		return ErrWordRequired
	}
	if t.EndSeconds <= t.StartSeconds {
		return ErrInvalidTimeRange
	}
	return nil
}
