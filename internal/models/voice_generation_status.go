package models

import "gorm.io/gorm"

// VoiceStatus is the lifecycle state of a single (track, voice) generation.
type VoiceStatus string

const (
	VoiceStatusGenerating VoiceStatus = "generating"
	VoiceStatusComplete   VoiceStatus = "complete"
	VoiceStatusFailed     VoiceStatus = "failed"
)

// VoiceGenerationStatus tracks the lock and lifecycle state of a single
// (track, voice) HLS preparation, unique on (TrackID, VoiceID).
type VoiceGenerationStatus struct {
	BaseModel

	TrackID ULID   `gorm:"type:varchar(26);not null;uniqueIndex:idx_track_voice" json:"track_id"`
	VoiceID string `gorm:"size:100;not null;uniqueIndex:idx_track_voice" json:"voice_id"`

	Status VoiceStatus `gorm:"size:20;not null;default:'generating';index" json:"status"`

	StartedAt    Time   `json:"started_at"`
	CompletedAt  *Time  `json:"completed_at,omitempty"`
	ErrorMessage string `gorm:"size:2048" json:"error_message,omitempty"`
}

// TableName returns the table name for VoiceGenerationStatus.
func (VoiceGenerationStatus) TableName() string {
	return "voice_generation_statuses"
}

// IsFresh reports whether a generating lock is still within the staleness
// threshold as of now.
func (v *VoiceGenerationStatus) IsFresh(now Time) bool {
	return v.Status == VoiceStatusGenerating && now.Sub(v.StartedAt) <= StalenessThreshold
}

// MarkComplete transitions the row to complete.
func (v *VoiceGenerationStatus) MarkComplete() {
	v.Status = VoiceStatusComplete
	now := Now()
	v.CompletedAt = &now
	v.ErrorMessage = ""
}

// MarkFailed transitions the row to failed with the given reason.
func (v *VoiceGenerationStatus) MarkFailed(reason string) {
	v.Status = VoiceStatusFailed
	now := Now()
	v.CompletedAt = &now
	v.ErrorMessage = reason
}

// Validate performs basic validation.
func (v *VoiceGenerationStatus) Validate() error {
	if v.TrackID.IsZero() {
		return ErrOwnerIDRequired
	}
	if v.VoiceID == "" {
		return ErrVoiceIDRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that generates the ULID and validates the row.
func (v *VoiceGenerationStatus) BeforeCreate(tx *gorm.DB) error {
	if err := v.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if v.StartedAt.IsZero() {
		v.StartedAt = Now()
	}
	return v.Validate()
}
