package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/medialib/internal/model"
)

func intPtr(v int) *int { return &v }

func TestMediaRepository_CreateAndFind(t *testing.T) {
	repos := NewRepositories(newTestDB(t))
	ctx := t.Context()

	rec := newRecord(t, repos, model.MediaRecord{
		Type:          model.TypeBook,
		Title:         "Dune",
		Topics:        []string{"sci-fi", "ecology"},
		Source:        "readwise",
		ExternalID:    "rw-1",
		NormalizedURL: "https://example.com/dune",
		Book:          model.BookDetails{Author: "Frank Herbert"},
	})
	assert.NotZero(t, rec.ID)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, model.StatusUncharted, rec.Status)

	got, err := repos.Media.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Frank Herbert", got.Book.Author)
	assert.ElementsMatch(t, []string{"sci-fi", "ecology"}, got.Topics)

	byExt, err := repos.Media.FindByExternalID(ctx, "readwise", "rw-1")
	require.NoError(t, err)
	require.NotNil(t, byExt)
	assert.Equal(t, rec.ID, byExt.ID)

	byURL, err := repos.Media.FindByNormalizedURL(ctx, "https://example.com/dune")
	require.NoError(t, err)
	require.NotNil(t, byURL)
	assert.Equal(t, rec.ID, byURL.ID)

	missing, err := repos.Media.FindByID(ctx, rec.ID+100)
	require.NoError(t, err)
	assert.Nil(t, missing)

	missing, err = repos.Media.FindByExternalID(ctx, "raindrop", "rw-1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMediaRepository_FindByIDsKeepsOrder(t *testing.T) {
	repos := NewRepositories(newTestDB(t))
	a := newRecord(t, repos, model.MediaRecord{Type: model.TypeMovie, Title: "A"})
	b := newRecord(t, repos, model.MediaRecord{Type: model.TypeMovie, Title: "B"})

	rows, err := repos.Media.FindByIDs(t.Context(), []uint{b.ID, 999, a.ID})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "B", rows[0].Title)
	assert.Equal(t, "A", rows[1].Title)
}

func TestMediaRepository_UpdateVersioned(t *testing.T) {
	repos := NewRepositories(newTestDB(t))
	ctx := t.Context()
	rec := newRecord(t, repos, model.MediaRecord{Type: model.TypeMovie, Title: "Heat"})

	stale := rec.Clone()

	rec.Title = "Heat (1995)"
	rec.Rating = intPtr(5)
	require.NoError(t, repos.Media.Update(ctx, rec))
	assert.Equal(t, 2, rec.Version)

	stale.Title = "Other"
	err := repos.Media.Update(ctx, stale)
	assert.ErrorIs(t, err, ErrVersionConflict)

	ghost := &model.MediaRecord{ID: 12345, Version: 1, Type: model.TypeMovie, Title: "ghost"}
	assert.ErrorIs(t, repos.Media.Update(ctx, ghost), ErrNotFound)

	got, err := repos.Media.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Heat (1995)", got.Title)
	require.NotNil(t, got.Rating)
	assert.Equal(t, 5, *got.Rating)
}

func TestMediaRepository_UpdateMetadataKeepsUserFields(t *testing.T) {
	repos := NewRepositories(newTestDB(t))
	ctx := t.Context()
	rec := newRecord(t, repos, model.MediaRecord{
		Type:   model.TypeBook,
		Title:  "Dune",
		Status: model.StatusCompleted,
		Rating: intPtr(4),
		Notes:  "reread",
	})

	incoming := rec.Clone()
	incoming.Status = model.StatusAbandoned
	incoming.Rating = nil
	incoming.Notes = ""
	incoming.Description = "Desert planet"
	require.NoError(t, repos.Media.UpdateMetadata(ctx, incoming))

	got, err := repos.Media.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Desert planet", got.Description)
	assert.Equal(t, model.StatusCompleted, got.Status)
	require.NotNil(t, got.Rating)
	assert.Equal(t, 4, *got.Rating)
	assert.Equal(t, "reread", got.Notes)
	assert.Equal(t, 2, got.Version)
}

func TestMediaRepository_DeleteCascades(t *testing.T) {
	repos := NewRepositories(newTestDB(t))
	ctx := t.Context()
	a := newRecord(t, repos, model.MediaRecord{Type: model.TypeArticle, Title: "A"})
	b := newRecord(t, repos, model.MediaRecord{Type: model.TypeArticle, Title: "B"})

	require.NoError(t, repos.Relation.Create(ctx, &model.Relation{
		SourceRecordID: b.ID, TargetRecordID: &a.ID, Provenance: model.ProvenanceManual,
	}))
	require.NoError(t, repos.Highlight.UpsertByExternalID(ctx, &model.Highlight{
		ExternalID: "h-1", Text: "quote", RecordID: &a.ID,
	}))
	require.NoError(t, repos.Embedding.Store(ctx, a.ID, []float32{1, 0}, "A", "test"))

	require.NoError(t, repos.Media.Delete(ctx, a.ID))

	rels, err := repos.Relation.ListBySource(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, rels)

	h, err := repos.Highlight.FindByExternalID(ctx, "h-1")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Nil(t, h.RecordID)

	e, err := repos.Embedding.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, e)

	assert.ErrorIs(t, repos.Media.Delete(ctx, a.ID), ErrNotFound)
}

func TestMediaRepository_EnrichmentCandidatesExhaust(t *testing.T) {
	repos := NewRepositories(newTestDB(t))
	ctx := t.Context()

	for _, title := range []string{"One", "Two", "Three"} {
		newRecord(t, repos, model.MediaRecord{Type: model.TypeBook, Title: title})
	}
	newRecord(t, repos, model.MediaRecord{Type: model.TypeMovie, Title: "Not a book"})
	newRecord(t, repos, model.MediaRecord{
		Type: model.TypeBook, Title: "Complete", Description: "has it",
		Book: model.BookDetails{OpenLibraryID: "OL1W"},
	})

	first, err := repos.Media.ListEnrichmentCandidates(ctx, model.FamilyBooks, 2, 3)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "One", first[0].Title)
	assert.Equal(t, "Two", first[1].Title)

	// 第一条查无此条，第二条失败次数耗尽
	require.NoError(t, repos.Media.MarkEnrichment(ctx, first[0].ID, model.EnrichmentNotFound, 0))
	require.NoError(t, repos.Media.MarkEnrichment(ctx, first[1].ID, model.EnrichmentPending, 3))

	second, err := repos.Media.ListEnrichmentCandidates(ctx, model.FamilyBooks, 2, 3)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "Three", second[0].Title)

	_, err = repos.Media.ListEnrichmentCandidates(ctx, model.EnrichmentFamily("comics"), 2, 3)
	assert.Error(t, err)
}

func TestMediaRepository_FindInBatches(t *testing.T) {
	repos := NewRepositories(newTestDB(t))
	for i := 0; i < 5; i++ {
		newRecord(t, repos, model.MediaRecord{Type: model.TypeVideo, Title: "v"})
	}

	var batches, total int
	err := repos.Media.FindInBatches(t.Context(), 2, func(batch []model.MediaRecord) error {
		batches++
		total += len(batch)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, batches)
	assert.Equal(t, 5, total)

	count, err := repos.Media.Count(t.Context())
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)
}
