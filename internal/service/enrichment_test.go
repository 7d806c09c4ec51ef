package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/medialib/internal/model"
)

type fakeEnricher struct {
	calls  int32
	lookup func(ctx context.Context, rec *model.MediaRecord) (*model.MediaRecord, error)
}

func (f *fakeEnricher) Name() string { return "fake" }

func (f *fakeEnricher) Lookup(ctx context.Context, rec *model.MediaRecord) (*model.MediaRecord, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.lookup(ctx, rec)
}

func noSleep(ctx context.Context, _ time.Duration) bool {
	return ctx.Err() == nil
}

func seedBooks(t *testing.T, env *testEnv, n int) []*model.MediaRecord {
	t.Helper()
	out := make([]*model.MediaRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, env.create(t, model.MediaRecord{Type: model.TypeBook, Title: "Book " + string(rune('A'+i))}))
	}
	return out
}

func newBookRunner(env *testEnv, enricher Enricher, cfg RunnerConfig) *EnrichmentRunner {
	r := NewEnrichmentRunner(model.FamilyBooks, enricher, env.repos.Media, env.media, cfg)
	r.SetSleeper(noSleep)
	return r
}

func TestEnrichmentRunner_Enriches(t *testing.T) {
	env := newTestEnv(t)
	books := seedBooks(t, env, 3)
	// 非候选类型不会被选中
	env.create(t, model.MediaRecord{Type: model.TypeMovie, Title: "Heat"})

	enricher := &fakeEnricher{lookup: func(_ context.Context, rec *model.MediaRecord) (*model.MediaRecord, error) {
		rec.Book.OpenLibraryID = "OL1W"
		rec.Description = "found"
		return rec, nil
	}}
	result := newBookRunner(env, enricher, RunnerConfig{BatchSize: 10, MaxAttempts: 3}).Run(context.Background())

	assert.Equal(t, 3, result.TotalProcessed)
	assert.Equal(t, 3, result.EnrichedCount)
	assert.Empty(t, result.Errors)
	assert.False(t, result.WasCancelled)

	got := env.reload(t, books[0].ID)
	assert.Equal(t, model.EnrichmentEnriched, got.EnrichmentState)
	assert.Equal(t, "found", got.Description)
	assert.Equal(t, books[0].Version+1, got.Version)

	// 已富化的记录不会再被选中
	again := newBookRunner(env, enricher, RunnerConfig{BatchSize: 10, MaxAttempts: 3}).Run(context.Background())
	assert.Equal(t, 0, again.TotalProcessed)
}

func TestEnrichmentRunner_AllFail(t *testing.T) {
	env := newTestEnv(t)
	books := seedBooks(t, env, 4)

	enricher := &fakeEnricher{lookup: func(context.Context, *model.MediaRecord) (*model.MediaRecord, error) {
		return nil, errors.New("upstream 503")
	}}
	result := newBookRunner(env, enricher, RunnerConfig{BatchSize: 10, MaxAttempts: 3}).Run(context.Background())

	assert.Equal(t, 4, result.TotalProcessed)
	assert.Equal(t, 4, result.FailedCount)
	assert.Len(t, result.Errors, 4)
	assert.Equal(t, result.TotalProcessed,
		result.EnrichedCount+result.FailedCount+result.NotFoundCount+result.SkippedCount)

	for _, b := range books {
		got := env.reload(t, b.ID)
		assert.Equal(t, 1, got.EnrichmentFailures)
		assert.Equal(t, model.EnrichmentPending, got.EnrichmentState)
	}
}

func TestEnrichmentRunner_ExhaustsAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t)
	book := seedBooks(t, env, 1)[0]

	enricher := &fakeEnricher{lookup: func(context.Context, *model.MediaRecord) (*model.MediaRecord, error) {
		return nil, errors.New("timeout")
	}}
	runner := newBookRunner(env, enricher, RunnerConfig{BatchSize: 10, MaxAttempts: 2})

	runner.Run(context.Background())
	runner.Run(context.Background())
	third := runner.Run(context.Background())

	assert.Equal(t, 0, third.TotalProcessed)
	assert.EqualValues(t, 2, atomic.LoadInt32(&enricher.calls))
	got := env.reload(t, book.ID)
	assert.Equal(t, model.EnrichmentExhausted, got.EnrichmentState)
	assert.Equal(t, 2, got.EnrichmentFailures)
}

func TestEnrichmentRunner_NotFoundIsPermanent(t *testing.T) {
	env := newTestEnv(t)
	book := seedBooks(t, env, 1)[0]

	enricher := &fakeEnricher{lookup: func(context.Context, *model.MediaRecord) (*model.MediaRecord, error) {
		return nil, ErrLookupNotFound
	}}
	runner := newBookRunner(env, enricher, RunnerConfig{BatchSize: 10, MaxAttempts: 3})

	first := runner.Run(context.Background())
	assert.Equal(t, 1, first.NotFoundCount)
	assert.Empty(t, first.Errors)

	second := runner.Run(context.Background())
	assert.Equal(t, 0, second.TotalProcessed)
	assert.Equal(t, model.EnrichmentNotFound, env.reload(t, book.ID).EnrichmentState)
}

func TestEnrichmentRunner_CancelBetweenCandidates(t *testing.T) {
	env := newTestEnv(t)
	seedBooks(t, env, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const k = 2
	enricher := &fakeEnricher{}
	enricher.lookup = func(callCtx context.Context, rec *model.MediaRecord) (*model.MediaRecord, error) {
		if atomic.LoadInt32(&enricher.calls) == k {
			cancel()
		}
		// 进行中的调用不受取消影响
		if callCtx.Err() != nil {
			return nil, callCtx.Err()
		}
		rec.Description = "ok"
		return rec, nil
	}

	result := newBookRunner(env, enricher, RunnerConfig{BatchSize: 10, MaxAttempts: 3}).Run(ctx)

	assert.True(t, result.WasCancelled)
	assert.Equal(t, k, result.TotalProcessed)
	assert.Equal(t, k, result.EnrichedCount)
	assert.EqualValues(t, k, atomic.LoadInt32(&enricher.calls))
}

func TestEnrichmentRunner_DelayBetweenCalls(t *testing.T) {
	env := newTestEnv(t)
	seedBooks(t, env, 3)

	var waits []time.Duration
	runner := NewEnrichmentRunner(model.FamilyBooks, &fakeEnricher{lookup: func(_ context.Context, rec *model.MediaRecord) (*model.MediaRecord, error) {
		return rec, nil
	}}, env.repos.Media, env.media, RunnerConfig{BatchSize: 10, MaxAttempts: 3, Delay: 1500 * time.Millisecond})
	runner.SetSleeper(func(ctx context.Context, d time.Duration) bool {
		waits = append(waits, d)
		return true
	})

	runner.Run(context.Background())
	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 1500 * time.Millisecond}, waits)
}

func TestEnrichmentRunner_VersionConflictSkipped(t *testing.T) {
	env := newTestEnv(t)
	book := seedBooks(t, env, 1)[0]

	enricher := &fakeEnricher{lookup: func(ctx context.Context, rec *model.MediaRecord) (*model.MediaRecord, error) {
		// 查询期间用户修改了记录
		edited := env.reload(t, rec.ID)
		edited.Notes = "user edit"
		require.NoError(t, env.media.Update(ctx, edited))

		rec.Description = "from lookup"
		return rec, nil
	}}
	result := newBookRunner(env, enricher, RunnerConfig{BatchSize: 10, MaxAttempts: 3}).Run(context.Background())

	assert.Equal(t, 1, result.SkippedCount)
	got := env.reload(t, book.ID)
	assert.Equal(t, "user edit", got.Notes)
	assert.Empty(t, got.Description)
	assert.Equal(t, model.EnrichmentPending, got.EnrichmentState)
	assert.Equal(t, 0, got.EnrichmentFailures)
}

func TestEnrichmentRunner_KeepsUserOwnedFields(t *testing.T) {
	env := newTestEnv(t)
	rating := 4
	book := env.create(t, model.MediaRecord{
		Type: model.TypeBook, Title: "Dune", Rating: &rating,
		Status: model.StatusCompleted, Notes: "mine",
	})

	enricher := &fakeEnricher{lookup: func(_ context.Context, rec *model.MediaRecord) (*model.MediaRecord, error) {
		other := 1
		rec.Rating = &other
		rec.Status = model.StatusAbandoned
		rec.Notes = "overwritten"
		rec.Description = "desert planet"
		return rec, nil
	}}
	newBookRunner(env, enricher, RunnerConfig{BatchSize: 10, MaxAttempts: 3}).Run(context.Background())

	got := env.reload(t, book.ID)
	assert.Equal(t, "desert planet", got.Description)
	require.NotNil(t, got.Rating)
	assert.Equal(t, 4, *got.Rating)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, "mine", got.Notes)
}

func TestEnrichmentRunner_PanicCountsAsFailure(t *testing.T) {
	env := newTestEnv(t)
	seedBooks(t, env, 1)

	enricher := &fakeEnricher{lookup: func(context.Context, *model.MediaRecord) (*model.MediaRecord, error) {
		panic("boom")
	}}
	result := newBookRunner(env, enricher, RunnerConfig{BatchSize: 10, MaxAttempts: 3}).Run(context.Background())
	assert.Equal(t, 1, result.FailedCount)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "boom")
}

func TestEnrichmentManager(t *testing.T) {
	env := newTestEnv(t)
	book := seedBooks(t, env, 1)[0]
	movie := env.create(t, model.MediaRecord{Type: model.TypeVideo, Title: "clip"})

	enricher := &fakeEnricher{lookup: func(_ context.Context, rec *model.MediaRecord) (*model.MediaRecord, error) {
		rec.Description = "ok"
		return rec, nil
	}}
	mgr := NewEnrichmentManager(env.repos.Media)
	mgr.Register(newBookRunner(env, enricher, RunnerConfig{BatchSize: 10, MaxAttempts: 3}))

	assert.Equal(t, []model.EnrichmentFamily{model.FamilyBooks}, mgr.Families())

	_, err := mgr.Run(context.Background(), model.FamilyMovies)
	assert.ErrorIs(t, err, ErrUnknownFamily)

	res, err := mgr.EnrichOne(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.EnrichedCount)

	_, err = mgr.EnrichOne(context.Background(), movie.ID)
	assert.ErrorIs(t, err, ErrUnknownFamily)

	_, err = mgr.EnrichOne(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	res, err = mgr.Run(context.Background(), model.FamilyBooks)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalProcessed)
	assert.Same(t, res, mgr.LastResult(model.FamilyBooks))
	assert.False(t, mgr.Running(model.FamilyBooks))
	assert.False(t, mgr.Cancel(model.FamilyBooks))
}

func TestFamilyOf(t *testing.T) {
	f, ok := FamilyOf(model.TypeArticle)
	assert.True(t, ok)
	assert.Equal(t, model.FamilyWebsites, f)

	_, ok = FamilyOf(model.TypeDocument)
	assert.False(t, ok)
}

func TestEnrichmentManager_StartFollowsBaseContext(t *testing.T) {
	env := newTestEnv(t)
	seedBooks(t, env, 2)
	enricher := &fakeEnricher{lookup: func(_ context.Context, rec *model.MediaRecord) (*model.MediaRecord, error) {
		rec.Description = "ok"
		return rec, nil
	}}
	mgr := NewEnrichmentManager(env.repos.Media)
	mgr.Register(newBookRunner(env, enricher, RunnerConfig{BatchSize: 10, MaxAttempts: 3}))

	_, err := mgr.Start(model.FamilyMovies)
	assert.ErrorIs(t, err, ErrUnknownFamily)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mgr.SetBaseContext(ctx)

	started, err := mgr.Start(model.FamilyBooks)
	require.NoError(t, err)
	assert.True(t, started)
	mgr.Wait()

	last := mgr.LastResult(model.FamilyBooks)
	require.NotNil(t, last)
	assert.True(t, last.WasCancelled)
	assert.Equal(t, 0, last.TotalProcessed)
	assert.EqualValues(t, 0, atomic.LoadInt32(&enricher.calls))
	assert.False(t, mgr.Running(model.FamilyBooks))
}
