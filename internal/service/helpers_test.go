package service

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/user/medialib/internal/model"
	"github.com/user/medialib/internal/repository"
	"github.com/user/medialib/internal/search"
)

type testEnv struct {
	repos *repository.Repositories
	index *search.Index
	media *MediaService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	idx, err := search.NewMemIndex()
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	repos := repository.NewRepositories(db)
	return &testEnv{
		repos: repos,
		index: idx,
		media: NewMediaService(repos.Media, search.NewGateway(idx), nil),
	}
}

func (e *testEnv) create(t *testing.T, rec model.MediaRecord) *model.MediaRecord {
	t.Helper()
	r := rec
	require.NoError(t, e.media.Create(t.Context(), &r))
	return &r
}

func (e *testEnv) reload(t *testing.T, id uint) *model.MediaRecord {
	t.Helper()
	rec, err := e.repos.Media.FindByID(t.Context(), id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec
}
