package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/duskcast/streamcore/internal/models"
)

func setupAlbumTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Album{}))
	return db
}

func TestAlbumRepo_CreateGetUpdateDelete(t *testing.T) {
	db := setupAlbumTestDB(t)
	repo := NewAlbumRepository(db)
	ctx := context.Background()

	album := &models.Album{OwnerID: models.NewULID(), Name: "First Album"}
	require.NoError(t, repo.Create(ctx, album))

	found, err := repo.GetByID(ctx, album.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "First Album", found.Name)

	found.Name = "Renamed"
	require.NoError(t, repo.Update(ctx, found))

	reloaded, err := repo.GetByID(ctx, album.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", reloaded.Name)

	require.NoError(t, repo.Delete(ctx, album.ID))
	deleted, err := repo.GetByID(ctx, album.ID)
	require.NoError(t, err)
	assert.Nil(t, deleted)
}

func TestAlbumRepo_GetByOwnerID(t *testing.T) {
	db := setupAlbumTestDB(t)
	repo := NewAlbumRepository(db)
	ctx := context.Background()

	owner := models.NewULID()
	require.NoError(t, repo.Create(ctx, &models.Album{OwnerID: owner, Name: "A"}))
	require.NoError(t, repo.Create(ctx, &models.Album{OwnerID: owner, Name: "B"}))
	require.NoError(t, repo.Create(ctx, &models.Album{OwnerID: models.NewULID(), Name: "Other"}))

	albums, err := repo.GetByOwnerID(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, albums, 2)
}
