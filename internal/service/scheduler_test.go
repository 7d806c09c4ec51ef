package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/user/medialib/internal/model"
)

func TestScheduler_RunsJobsOnStart(t *testing.T) {
	env := newTestEnv(t)
	seedBooks(t, env, 2)

	syncs := NewSyncManager(newTestSynchronizer(env))
	syncs.Register(singlePage("sched-feed", article("s1", "Scheduled", "")))

	enrich := NewEnrichmentManager(env.repos.Media)
	enrich.Register(newBookRunner(env, &fakeEnricher{lookup: func(_ context.Context, rec *model.MediaRecord) (*model.MediaRecord, error) {
		rec.Description = "scheduled"
		return rec, nil
	}}, RunnerConfig{BatchSize: 10, MaxAttempts: 3}))

	s := NewScheduler(syncs, nil, enrich, time.Hour, time.Hour)
	s.Start(context.Background())

	assert.Eventually(t, func() bool {
		r := syncs.LastResult("sched-feed")
		return r != nil && r.Created == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool {
		r := enrich.LastResult(model.FamilyBooks)
		return r != nil && r.EnrichedCount == 2
	}, 5*time.Second, 20*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_DisabledIntervals(t *testing.T) {
	s := NewScheduler(nil, nil, nil, 0, 0)
	s.Start(context.Background())
	s.Stop()
}
