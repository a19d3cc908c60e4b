// Package migrations provides database migration management for streamcore.
package migrations

import (
	"github.com/duskcast/streamcore/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns all registered migrations in order.
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
	}
}

// migration001Schema creates all database tables using GORM AutoMigrate.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create all database tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.Album{},
				&models.Track{},
				&models.VoiceGenerationStatus{},
				&models.UploadSession{},
				&models.TTSTextSegment{},
				&models.TTSVoiceSegment{},
				&models.TTSWordTiming{},
			)
		},
		Down: func(tx *gorm.DB) error {
			tables := []string{
				"tts_word_timings",
				"tts_voice_segments",
				"tts_text_segments",
				"upload_sessions",
				"voice_generation_statuses",
				"tracks",
				"albums",
			}
			for _, table := range tables {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}
