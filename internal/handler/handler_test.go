package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/medialib/internal/config"
	"github.com/user/medialib/internal/handler"
	"github.com/user/medialib/internal/model"
	"github.com/user/medialib/internal/repository"
	"github.com/user/medialib/internal/router"
	"github.com/user/medialib/internal/search"
	"github.com/user/medialib/internal/service"
)

type stubEnricher struct{}

func (stubEnricher) Name() string { return "stub" }

func (stubEnricher) Lookup(_ context.Context, rec *model.MediaRecord) (*model.MediaRecord, error) {
	rec.Description = "enriched"
	return rec, nil
}

type stubSource struct{ items []service.SourceItem }

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) FetchPage(context.Context, string, *time.Time) (*service.SourcePage, error) {
	return &service.SourcePage{Items: s.items}, nil
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Success bool            `json:"success"`
}

type server struct {
	engine *gin.Engine
	repos  *repository.Repositories
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
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
	embeddings := service.NewEmbeddingService(repos.Embedding, repos.Media, nil)
	media := service.NewMediaService(repos.Media, search.NewGateway(idx), embeddings)

	enrich := service.NewEnrichmentManager(repos.Media)
	enrich.Register(service.NewEnrichmentRunner(model.FamilyBooks, stubEnricher{}, repos.Media, media,
		service.RunnerConfig{BatchSize: 10, MaxAttempts: 3}))

	syncs := service.NewSyncManager(service.NewSynchronizer(media, repos, 0))
	syncs.Register(&stubSource{items: []service.SourceItem{{Record: model.MediaRecord{
		Type: model.TypeArticle, Title: "Synced", Source: "stub", ExternalID: "s1",
		URL: "https://example.com/synced",
	}, Highlights: []model.Highlight{{ExternalID: "stub:h1", Text: "quoted"}}}}})

	cfg := &config.Config{ReindexBatchSize: 50}
	h := handler.NewHandler(repos, cfg, handler.Services{
		Media:   media,
		Similar: service.NewSimilarityService(repos, embeddings),
		Enrich:  enrich,
		Syncs:   syncs,
		Vault:   service.NewVaultSynchronizer(repos.Note, ""),
		Index:   idx,
	})

	r := gin.New()
	router.RegisterRoutes(r, h)
	return &server{engine: r, repos: repos}
}

func (s *server) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var resp apiResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func (s *server) createRecord(t *testing.T, body map[string]any) model.MediaRecord {
	t.Helper()
	w, resp := s.do(t, http.MethodPost, "/api/records", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rec model.MediaRecord
	require.NoError(t, json.Unmarshal(resp.Data, &rec))
	return rec
}

func TestRecordLifecycle(t *testing.T) {
	s := newServer(t)

	rec := s.createRecord(t, map[string]any{"type": "book", "title": "Dune", "rating": 5})
	assert.NotZero(t, rec.ID)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, "manual", rec.Source)

	path := fmt.Sprintf("/api/records/%d", rec.ID)
	w, resp := s.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got model.MediaRecord
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, "Dune", got.Title)

	w, _ = s.do(t, http.MethodPut, path, map[string]any{"type": "book", "title": "Dune Messiah"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "version is mandatory")

	w, resp = s.do(t, http.MethodPut, path, map[string]any{"type": "book", "title": "Dune Messiah", "version": 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, 2, got.Version)

	w, _ = s.do(t, http.MethodPut, path, map[string]any{"type": "book", "title": "Stale", "version": 1})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = s.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateRecord_Invalid(t *testing.T) {
	s := newServer(t)

	w, _ := s.do(t, http.MethodPost, "/api/records", map[string]any{"type": "book"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/records", map[string]any{"type": "vinyl", "title": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/records", map[string]any{"type": "book", "title": "x", "rating": 9})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/records/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearch(t *testing.T) {
	s := newServer(t)
	s.createRecord(t, map[string]any{"type": "book", "title": "Neuromancer", "topics": []string{"cyberpunk"}})
	s.createRecord(t, map[string]any{"type": "movie", "title": "Blade Runner", "topics": []string{"cyberpunk"}})

	w, resp := s.do(t, http.MethodGet, "/api/search?q=neuromancer", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res search.Result
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	require.EqualValues(t, 1, res.Total)
	assert.Equal(t, "Neuromancer", res.Hits[0].Title)

	w, resp = s.do(t, http.MethodGet, "/api/search?topic=cyberpunk&type=movie", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	require.EqualValues(t, 1, res.Total)
	assert.Equal(t, "Blade Runner", res.Hits[0].Title)

	w, _ = s.do(t, http.MethodGet, "/api/search?type=vinyl", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = s.do(t, http.MethodGet, "/api/search?min_rating=7", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRelations(t *testing.T) {
	s := newServer(t)
	a := s.createRecord(t, map[string]any{"type": "book", "title": "A"})
	b := s.createRecord(t, map[string]any{"type": "book", "title": "B"})
	path := fmt.Sprintf("/api/records/%d/relations", a.ID)

	w, _ := s.do(t, http.MethodPost, path, map[string]any{"target_record_id": b.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, _ = s.do(t, http.MethodPost, path, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, path, map[string]any{"target_record_id": a.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code, "self relation")

	w, _ = s.do(t, http.MethodPost, path, map[string]any{"target_record_id": 9999})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp := s.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rels []model.Relation
	require.NoError(t, json.Unmarshal(resp.Data, &rels))
	require.Len(t, rels, 1)
	assert.Equal(t, model.ProvenanceManual, rels[0].Provenance)
	assert.Equal(t, b.ID, *rels[0].TargetRecordID)
}

func TestAdminEnrich(t *testing.T) {
	s := newServer(t)
	rec := s.createRecord(t, map[string]any{"type": "book", "title": "Hyperion"})

	w, _ := s.do(t, http.MethodPost, "/api/admin/enrich/comics", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp := s.do(t, http.MethodPost, "/api/admin/enrich/books?wait=true", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result model.EnrichmentResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, 1, result.EnrichedCount)

	got, err := s.repos.Media.FindByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "enriched", got.Description)
	assert.Equal(t, model.EnrichmentEnriched, got.EnrichmentState)

	w, _ = s.do(t, http.MethodGet, "/api/admin/enrich", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodPost, "/api/admin/enrich/books/cancel", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodPost, "/api/admin/enrich/comics/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnrichRecord(t *testing.T) {
	s := newServer(t)
	rec := s.createRecord(t, map[string]any{"type": "book", "title": "Ubik"})

	w, resp := s.do(t, http.MethodPost, fmt.Sprintf("/api/records/%d/enrich", rec.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result model.EnrichmentResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, 1, result.EnrichedCount)
}

func TestAdminSync(t *testing.T) {
	s := newServer(t)

	w, _ := s.do(t, http.MethodPost, "/api/admin/sync/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp := s.do(t, http.MethodPost, "/api/admin/sync/stub?wait=true", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result model.SyncResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, 1, result.Created)
	assert.Empty(t, result.Error)

	w, resp = s.do(t, http.MethodGet, "/api/admin/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Highlights map[string]int64 `json:"highlights"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &status))
	assert.EqualValues(t, 1, status.Highlights["stub"])

	w, resp = s.do(t, http.MethodPost, "/api/admin/reindex", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var reindexed struct {
		Indexed int `json:"indexed"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &reindexed))
	assert.Equal(t, 1, reindexed.Indexed)
}

func TestAdminVaultSync_NotConfigured(t *testing.T) {
	s := newServer(t)
	w, _ := s.do(t, http.MethodPost, "/api/admin/vault/sync", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)

	w, _ := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Contains(t, w.Body.String(), `"records":0`)

	w, _ = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
