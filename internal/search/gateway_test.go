package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/medialib/internal/metrics"
	"github.com/user/medialib/internal/model"
)

// flakyStore 前 failures 次写入失败
type flakyStore struct {
	mu       sync.Mutex
	failures int
	docs     map[string]map[string]any
	calls    int
}

func newFlakyStore(failures int) *flakyStore {
	return &flakyStore{failures: failures, docs: map[string]map[string]any{}}
}

func (s *flakyStore) Upsert(id string, doc map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("index unavailable")
	}
	s.docs[id] = doc
	return nil
}

func (s *flakyStore) UpsertBatch(docs map[string]map[string]any) error {
	for id, doc := range docs {
		if err := s.Upsert(id, doc); err != nil {
			return err
		}
	}
	return nil
}

func (s *flakyStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

func (s *flakyStore) get(id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	return d, ok
}

type panicStore struct{ flakyStore }

func (p *panicStore) Upsert(string, map[string]any) error { panic("boom") }

type mapLoader map[uint]*model.MediaRecord

func (m mapLoader) FindByID(_ context.Context, id uint) (*model.MediaRecord, error) {
	return m[id], nil
}

func TestGateway_FailureIsSwallowed(t *testing.T) {
	before := testutil.ToFloat64(metrics.PropagationFailures.WithLabelValues("search", "upsert"))

	g := NewGateway(newFlakyStore(1))
	rec := &model.MediaRecord{ID: 1, Type: model.TypeBook, Title: "Dune"}
	assert.NotPanics(t, func() { g.IndexUpsert(t.Context(), rec) })

	pg := NewGateway(&panicStore{})
	assert.NotPanics(t, func() { pg.IndexUpsert(t.Context(), rec) })

	after := testutil.ToFloat64(metrics.PropagationFailures.WithLabelValues("search", "upsert"))
	assert.Equal(t, before+2, after)
}

func TestGateway_RetryQueueReloadsLatest(t *testing.T) {
	store := newFlakyStore(2)
	loader := mapLoader{1: {ID: 1, Type: model.TypeBook, Title: "Latest title"}}

	q, err := NewRetryQueue(store, loader, 5)
	require.NoError(t, err)
	q.SetBackoff(func(int) time.Duration { return 0 })
	t.Cleanup(func() { _ = q.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	g := NewGateway(store)
	g.SetRetryQueue(q)
	g.IndexUpsert(ctx, &model.MediaRecord{ID: 1, Type: model.TypeBook, Title: "Stale title"})

	require.Eventually(t, func() bool {
		doc, ok := store.get("1")
		return ok && doc[FieldTitle] == "Latest title"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRetryQueue_DeletedRecordRemovesDocument(t *testing.T) {
	store := newFlakyStore(0)
	store.docs["5"] = map[string]any{FieldTitle: "orphan"}

	q, err := NewRetryQueue(store, mapLoader{}, 3)
	require.NoError(t, err)
	q.SetBackoff(func(int) time.Duration { return 0 })
	t.Cleanup(func() { _ = q.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	require.NoError(t, q.Enqueue(OpUpsert, 5, 0))
	require.Eventually(t, func() bool {
		_, ok := store.get("5")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRetryQueue_Exhausts(t *testing.T) {
	store := newFlakyStore(100)
	loader := mapLoader{2: {ID: 2, Type: model.TypeMovie, Title: "Heat"}}
	before := testutil.ToFloat64(metrics.PropagationRetries.WithLabelValues("exhausted"))

	q, err := NewRetryQueue(store, loader, 3)
	require.NoError(t, err)
	q.SetBackoff(func(int) time.Duration { return 0 })
	t.Cleanup(func() { _ = q.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	require.NoError(t, q.Enqueue(OpUpsert, 2, 0))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.PropagationRetries.WithLabelValues("exhausted")) == before+1
	}, 2*time.Second, 10*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 3, store.calls)
}

type sliceSource []model.MediaRecord

func (s sliceSource) FindInBatches(_ context.Context, size int, fn func([]model.MediaRecord) error) error {
	for i := 0; i < len(s); i += size {
		end := i + size
		if end > len(s) {
			end = len(s)
		}
		if err := fn(s[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s sliceSource) FindByIDs(_ context.Context, ids []uint) ([]model.MediaRecord, error) {
	var out []model.MediaRecord
	for _, id := range ids {
		for _, rec := range s {
			if rec.ID == id {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

// racingSource 每批读出之后、写入索引之前执行 onRead，模拟并发的删除或编辑
type racingSource struct {
	mu     sync.Mutex
	rows   map[uint]model.MediaRecord
	onRead func(batch []model.MediaRecord)
}

func (s *racingSource) FindInBatches(_ context.Context, _ int, fn func([]model.MediaRecord) error) error {
	s.mu.Lock()
	batch := make([]model.MediaRecord, 0, len(s.rows))
	for id := uint(1); id <= uint(len(s.rows)+10); id++ {
		if rec, ok := s.rows[id]; ok {
			batch = append(batch, rec)
		}
	}
	s.mu.Unlock()
	s.onRead(batch)
	return fn(batch)
}

func (s *racingSource) FindByIDs(_ context.Context, ids []uint) ([]model.MediaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.MediaRecord
	for _, id := range ids {
		if rec, ok := s.rows[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func TestGateway_ReindexAllDropsRecordsDeletedMidBatch(t *testing.T) {
	idx := newTestIndex(t)
	g := NewGateway(idx)

	src := &racingSource{rows: map[uint]model.MediaRecord{
		1: {ID: 1, Type: model.TypeArticle, Title: "kept", Version: 1},
		2: {ID: 2, Type: model.TypeArticle, Title: "deleted", Version: 1},
		3: {ID: 3, Type: model.TypeArticle, Title: "old title", Version: 1},
	}}
	src.onRead = func([]model.MediaRecord) {
		src.mu.Lock()
		delete(src.rows, 2)
		src.rows[3] = model.MediaRecord{ID: 3, Type: model.TypeArticle, Title: "new title", Version: 2}
		src.mu.Unlock()
		// 并发的删除与编辑已经各自同步过索引
		g.IndexDelete(t.Context(), 2)
		g.IndexUpsert(t.Context(), &model.MediaRecord{ID: 3, Type: model.TypeArticle, Title: "new title", Version: 2})
	}

	_, err := g.ReindexAll(t.Context(), src, 10)
	require.NoError(t, err)

	_, found, err := idx.StoredFields("2")
	require.NoError(t, err)
	assert.False(t, found, "deleted record must not come back")

	fields, found, err := idx.StoredFields("3")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "new title", fields[FieldTitle])

	count, err := idx.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestGateway_ReindexAllConcurrentWithWrites(t *testing.T) {
	idx := newTestIndex(t)
	g := NewGateway(idx)

	var recs sliceSource
	for i := 1; i <= 50; i++ {
		recs = append(recs, model.MediaRecord{ID: uint(i), Type: model.TypeArticle, Title: "article"})
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 50; i++ {
			g.IndexUpsert(t.Context(), &model.MediaRecord{ID: uint(i), Type: model.TypeArticle, Title: "article"})
		}
	}()
	n, err := g.ReindexAll(t.Context(), recs, 7)
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, 50, n)
	count, err := idx.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 50, count)
}
