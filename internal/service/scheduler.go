package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/medialib/internal/logging"
)

// Scheduler 定时任务：周期同步全部来源和笔记库、周期富化全部家族
type Scheduler struct {
	syncs          *SyncManager
	vault          *VaultSynchronizer
	enrich         *EnrichmentManager
	syncInterval   time.Duration
	enrichInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(syncs *SyncManager, vault *VaultSynchronizer, enrich *EnrichmentManager, syncInterval, enrichInterval time.Duration) *Scheduler {
	return &Scheduler{
		syncs:          syncs,
		vault:          vault,
		enrich:         enrich,
		syncInterval:   syncInterval,
		enrichInterval: enrichInterval,
	}
}

// Start 启动定时任务，启动时先各运行一次；间隔 <= 0 的任务不启动
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	if s.syncInterval > 0 {
		s.loop(ctx, "sync", s.syncInterval, s.runSync)
	}
	if s.enrichInterval > 0 {
		s.loop(ctx, "enrich", s.enrichInterval, s.runEnrichment)
	}
}

// Stop 停止定时任务并等待正在执行的任务结束
// 富化批处理在当前候选完成后退出
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, job func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			s.safeRun(ctx, name, job)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (s *Scheduler) safeRun(ctx context.Context, name string, job func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Str("job", name).Interface("panic", r).Msg("[Scheduler] 定时任务发生恐慌")
		}
	}()
	if ctx.Err() != nil {
		return
	}
	logging.Info().Str("job", name).Msg("[Scheduler] 开始执行定时任务")
	job(ctx)
}

func (s *Scheduler) runSync(ctx context.Context) {
	if s.syncs != nil {
		s.syncs.RunAll(ctx)
	}
	if s.vault != nil && s.vault.Enabled() {
		// 失败已在内部记录
		_, _ = s.vault.Run(ctx)
	}
}

// runEnrichment 各家族候选集互不相交，可以并行
func (s *Scheduler) runEnrichment(ctx context.Context) {
	if s.enrich == nil {
		return
	}
	var g errgroup.Group
	for _, family := range s.enrich.Families() {
		g.Go(func() error {
			_, err := s.enrich.Run(ctx, family)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		logging.Warn().Err(err).Msg("[Scheduler] 富化任务失败")
	}
}

