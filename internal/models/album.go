package models

import "gorm.io/gorm"

// TierRestriction is the tagged-record replacement for the source's dynamic
// tier_restrictions dictionary (see SPEC_FULL.md's "dynamic dictionary
// payloads" redesign note).
type TierRestriction struct {
	IsRestricted           bool   `json:"is_restricted"`
	MinimumTierAmountCents int64  `json:"minimum_tier_amount_cents"`
	MinimumTierName        string `json:"minimum_tier_name"`
	UpdatedAt              Time   `json:"updated_at"`
}

// Album groups tracks under a single owner and an optional tier gate.
type Album struct {
	BaseModel

	OwnerID ULID   `gorm:"type:varchar(26);not null;index" json:"owner_id"`
	Name    string `gorm:"size:255;not null" json:"name"`

	TierRestrictionIsRestricted bool    `gorm:"column:tier_is_restricted;not null;default:false" json:"-"`
	TierRestrictionMinAmount    int64   `gorm:"column:tier_min_amount_cents;not null;default:0" json:"-"`
	TierRestrictionMinName      string  `gorm:"column:tier_min_name;size:100" json:"-"`
	TierRestrictionUpdatedAt    *Time   `gorm:"column:tier_updated_at" json:"-"`
}

// TableName returns the table name for Album.
func (Album) TableName() string {
	return "albums"
}

// GetTierRestriction assembles the tagged-record view of the album's tier gate
// from its flattened columns.
func (a *Album) GetTierRestriction() *TierRestriction {
	if !a.TierRestrictionIsRestricted {
		return nil
	}
	updated := Now()
	if a.TierRestrictionUpdatedAt != nil {
		updated = *a.TierRestrictionUpdatedAt
	}
	return &TierRestriction{
		IsRestricted:           a.TierRestrictionIsRestricted,
		MinimumTierAmountCents: a.TierRestrictionMinAmount,
		MinimumTierName:        a.TierRestrictionMinName,
		UpdatedAt:              updated,
	}
}

// SetTierRestriction replaces the album's tier gate and stamps UpdatedAt.
func (a *Album) SetTierRestriction(tr *TierRestriction) {
	if tr == nil {
		a.TierRestrictionIsRestricted = false
		a.TierRestrictionMinAmount = 0
		a.TierRestrictionMinName = ""
		now := Now()
		a.TierRestrictionUpdatedAt = &now
		return
	}
	a.TierRestrictionIsRestricted = tr.IsRestricted
	a.TierRestrictionMinAmount = tr.MinimumTierAmountCents
	a.TierRestrictionMinName = tr.MinimumTierName
	now := Now()
	a.TierRestrictionUpdatedAt = &now
}

// Validate performs basic validation on the album.
func (a *Album) Validate() error {
	if a.OwnerID.IsZero() {
		return ErrOwnerIDRequired
	}
	if a.Name == "" {
		return ErrNameRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that generates the ULID and validates the album.
func (a *Album) BeforeCreate(tx *gorm.DB) error {
	if err := a.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return a.Validate()
}

// BeforeUpdate is a GORM hook that validates the album before update.
func (a *Album) BeforeUpdate(tx *gorm.DB) error {
	return a.Validate()
}
