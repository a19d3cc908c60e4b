package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// UploadSessionStatus is the lifecycle state of a chunked-upload session.
type UploadSessionStatus string

const (
	UploadSessionInitialized    UploadSessionStatus = "initialized"
	UploadSessionChunksComplete UploadSessionStatus = "chunks_complete"
	UploadSessionCancelled      UploadSessionStatus = "cancelled"
)

// ChunkBitmap is a set of received chunk indices, stored as a JSON array of
// ints so it round-trips through any GORM driver the same way the teacher's
// ULID type does for strings.
type ChunkBitmap map[int]bool

// Value implements driver.Valuer.
func (c ChunkBitmap) Value() (driver.Value, error) {
	indices := make([]int, 0, len(c))
	for idx := range c {
		indices = append(indices, idx)
	}
	b, err := json.Marshal(indices)
	if err != nil {
		return nil, fmt.Errorf("marshaling chunk bitmap: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (c *ChunkBitmap) Scan(value any) error {
	if value == nil {
		*c = ChunkBitmap{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported type for ChunkBitmap: %T", value)
	}
	if len(raw) == 0 {
		*c = ChunkBitmap{}
		return nil
	}
	var indices []int
	if err := json.Unmarshal(raw, &indices); err != nil {
		return fmt.Errorf("scanning chunk bitmap: %w", err)
	}
	bitmap := make(ChunkBitmap, len(indices))
	for _, idx := range indices {
		bitmap[idx] = true
	}
	*c = bitmap
	return nil
}

// GormDataType returns the GORM data type for ChunkBitmap.
func (ChunkBitmap) GormDataType() string {
	return "text"
}

// Count returns the number of received chunks.
func (c ChunkBitmap) Count() int {
	return len(c)
}

// UploadSession is the cross-node record for a chunked upload in progress,
// keyed by a client-supplied UploadID rather than a generated ULID.
type UploadSession struct {
	UploadID  string    `gorm:"primarykey;size:100" json:"upload_id"`
	CreatedAt Time      `json:"created_at"`
	UpdatedAt Time      `json:"updated_at"`

	ChunksDir      string              `gorm:"size:1024;not null" json:"chunks_dir"`
	TotalChunks    int                 `gorm:"not null" json:"total_chunks"`
	ReceivedChunks ChunkBitmap         `gorm:"type:text" json:"received_chunks"`
	Filename       string              `gorm:"size:512;not null" json:"filename"`

	Title   string `gorm:"size:512" json:"title,omitempty"`
	Creator ULID   `gorm:"type:varchar(26);not null" json:"creator"`
	AlbumID ULID   `gorm:"type:varchar(26);not null;index" json:"album_id"`

	VisibilityStatus VisibilityStatus `gorm:"size:30;not null;default:'visible'" json:"visibility_status"`

	TrackID *ULID `gorm:"type:varchar(26);index" json:"track_id,omitempty"`

	Status UploadSessionStatus `gorm:"size:20;not null;default:'initialized';index" json:"status"`

	LastUpdatedAt Time `json:"last_updated_at"`
}

// TableName returns the table name for UploadSession.
func (UploadSession) TableName() string {
	return "upload_sessions"
}

// IsComplete reports whether every chunk has been received.
func (s *UploadSession) IsComplete() bool {
	return s.ReceivedChunks.Count() >= s.TotalChunks
}

// Validate performs basic validation.
func (s *UploadSession) Validate() error {
	if s.UploadID == "" {
		return ErrUploadIDRequired
	}
	if s.TotalChunks < 1 {
		return ErrTotalChunksRequired
	}
	if s.Filename == "" {
		return ErrFilenameRequired
	}
	if s.AlbumID.IsZero() {
		return ErrAlbumIDRequired
	}
	return nil
}
