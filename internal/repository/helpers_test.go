package repository

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/user/medialib/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newRecord(t *testing.T, repos *Repositories, rec model.MediaRecord) *model.MediaRecord {
	t.Helper()
	r := rec
	require.NoError(t, repos.Media.Create(t.Context(), &r))
	return &r
}
