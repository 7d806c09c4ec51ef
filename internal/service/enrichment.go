package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/user/medialib/internal/logging"
	"github.com/user/medialib/internal/metrics"
	"github.com/user/medialib/internal/model"
	"github.com/user/medialib/internal/repository"
	"github.com/user/medialib/internal/utils"
)

// Enricher 外部元数据查询
// Lookup 返回补全后的副本；查无此条返回 ErrLookupNotFound，其他错误视为临时失败
type Enricher interface {
	Name() string
	Lookup(ctx context.Context, rec *model.MediaRecord) (*model.MediaRecord, error)
}

// RecordWriter 富化结果的写入方（MediaService.ApplySourceUpdate）
type RecordWriter interface {
	ApplySourceUpdate(ctx context.Context, rec *model.MediaRecord) error
}

// CandidateStore 候选记录的读取与状态标记
type CandidateStore interface {
	ListEnrichmentCandidates(ctx context.Context, family model.EnrichmentFamily, limit, maxAttempts int) ([]model.MediaRecord, error)
	MarkEnrichment(ctx context.Context, id uint, state string, failures int) error
}

// RunnerConfig 批处理参数
type RunnerConfig struct {
	BatchSize   int
	Delay       time.Duration // 相邻两次外部调用之间的固定间隔
	MaxAttempts int           // 失败达到该次数后不再选中
}

// Sleeper 可取消的等待，返回 false 表示等待期间被取消
type Sleeper func(ctx context.Context, d time.Duration) bool

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// EnrichmentRunner 单个家族的富化批处理
// 候选逐个串行处理，调用之间固定间隔；取消只在两个候选之间生效，进行中的调用总会完成
type EnrichmentRunner struct {
	family   model.EnrichmentFamily
	enricher Enricher
	store    CandidateStore
	writer   RecordWriter
	cfg      RunnerConfig
	sleep    Sleeper
}

func NewEnrichmentRunner(family model.EnrichmentFamily, enricher Enricher, store CandidateStore, writer RecordWriter, cfg RunnerConfig) *EnrichmentRunner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &EnrichmentRunner{
		family:   family,
		enricher: enricher,
		store:    store,
		writer:   writer,
		cfg:      cfg,
		sleep:    sleepCtx,
	}
}

// SetSleeper 替换等待函数（测试用）
func (r *EnrichmentRunner) SetSleeper(s Sleeper) {
	r.sleep = s
}

// Family 家族
func (r *EnrichmentRunner) Family() model.EnrichmentFamily {
	return r.family
}

// Run 执行一批富化
func (r *EnrichmentRunner) Run(ctx context.Context) *model.EnrichmentResult {
	result := &model.EnrichmentResult{
		Family:    r.family,
		Errors:    []string{},
		StartedAt: time.Now(),
	}
	defer func() {
		result.FinishedAt = time.Now()
		metrics.EnrichmentRuns.WithLabelValues(string(r.family), strconv.FormatBool(result.WasCancelled)).Inc()
		logging.Info().
			Str("family", string(r.family)).
			Int("processed", result.TotalProcessed).
			Int("enriched", result.EnrichedCount).
			Int("not_found", result.NotFoundCount).
			Int("failed", result.FailedCount).
			Int("skipped", result.SkippedCount).
			Bool("cancelled", result.WasCancelled).
			Msg("[Enrich] 批处理结束")
	}()

	candidates, err := r.store.ListEnrichmentCandidates(ctx, r.family, r.cfg.BatchSize, r.cfg.MaxAttempts)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("select candidates: %v", err))
		result.WasCancelled = ctx.Err() != nil
		return result
	}
	logging.Info().Str("family", string(r.family)).Int("candidates", len(candidates)).Msg("[Enrich] 开始富化")

	for i := range candidates {
		if ctx.Err() != nil {
			result.WasCancelled = true
			break
		}
		if i > 0 && !r.sleep(ctx, r.cfg.Delay) {
			result.WasCancelled = true
			break
		}
		// 进行中的调用不受取消影响
		r.process(context.WithoutCancel(ctx), &candidates[i], result)
	}
	return result
}

// ProcessOne 单条富化（按需触发），结果同样按批处理规则分类
func (r *EnrichmentRunner) ProcessOne(ctx context.Context, rec *model.MediaRecord) *model.EnrichmentResult {
	result := &model.EnrichmentResult{Family: r.family, Errors: []string{}, StartedAt: time.Now()}
	r.process(ctx, rec, result)
	result.FinishedAt = time.Now()
	return result
}

type outcome string

const (
	outcomeEnriched outcome = "enriched"
	outcomeNotFound outcome = "not_found"
	outcomeFailed   outcome = "failed"
	outcomeSkipped  outcome = "skipped"
)

func (r *EnrichmentRunner) process(ctx context.Context, rec *model.MediaRecord, result *model.EnrichmentResult) {
	out, err := r.classify(ctx, rec)

	result.TotalProcessed++
	switch out {
	case outcomeEnriched:
		result.EnrichedCount++
	case outcomeNotFound:
		result.NotFoundCount++
	case outcomeSkipped:
		result.SkippedCount++
	case outcomeFailed:
		result.FailedCount++
		result.Errors = append(result.Errors, fmt.Sprintf("record %d (%s): %v", rec.ID, rec.Title, err))
		logging.Warn().Err(err).Uint("id", rec.ID).Str("family", string(r.family)).Msg("[Enrich] 富化失败")
	}
	metrics.EnrichmentCandidates.WithLabelValues(string(r.family), string(out)).Inc()
}

func (r *EnrichmentRunner) classify(ctx context.Context, rec *model.MediaRecord) (outcome, error) {
	enriched, err := r.lookup(ctx, rec)
	if errors.Is(err, ErrLookupNotFound) || (err == nil && enriched == nil) {
		if merr := r.store.MarkEnrichment(ctx, rec.ID, model.EnrichmentNotFound, rec.EnrichmentFailures); merr != nil {
			logging.Warn().Err(merr).Uint("id", rec.ID).Msg("[Enrich] 标记查无此条失败")
		}
		return outcomeNotFound, nil
	}
	if err != nil {
		r.markFailure(ctx, rec)
		return outcomeFailed, err
	}

	now := time.Now()
	enriched.ID = rec.ID
	enriched.Version = rec.Version
	enriched.EnrichmentState = model.EnrichmentEnriched
	enriched.EnrichedAt = &now

	if err := r.writer.ApplySourceUpdate(ctx, enriched); err != nil {
		// 读取之后记录被用户修改或删除，留给下一轮重新判断
		if errors.Is(err, repository.ErrVersionConflict) || errors.Is(err, repository.ErrNotFound) {
			return outcomeSkipped, nil
		}
		r.markFailure(ctx, rec)
		return outcomeFailed, fmt.Errorf("save: %w", err)
	}
	return outcomeEnriched, nil
}

func (r *EnrichmentRunner) lookup(ctx context.Context, rec *model.MediaRecord) (enriched *model.MediaRecord, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("enricher panic: %v", p)
		}
	}()
	return r.enricher.Lookup(ctx, rec.Clone())
}

func (r *EnrichmentRunner) markFailure(ctx context.Context, rec *model.MediaRecord) {
	failures := rec.EnrichmentFailures + 1
	state := model.EnrichmentPending
	if failures >= r.cfg.MaxAttempts {
		state = model.EnrichmentExhausted
	}
	if err := r.store.MarkEnrichment(ctx, rec.ID, state, failures); err != nil {
		logging.Warn().Err(err).Uint("id", rec.ID).Msg("[Enrich] 记录失败次数失败")
	}
}

// EnrichmentManager 管理各家族的富化任务
// 同一家族同一时间只有一个批处理在跑，并发触发会合并到正在进行的那一次
type EnrichmentManager struct {
	runners map[model.EnrichmentFamily]*EnrichmentRunner
	media   *repository.MediaRepository
	group   singleflight.Group

	mu      sync.Mutex
	cancels map[model.EnrichmentFamily]context.CancelFunc

	base context.Context // 后台批处理的父 context
	wg   sync.WaitGroup
}

func NewEnrichmentManager(media *repository.MediaRepository) *EnrichmentManager {
	return &EnrichmentManager{
		runners: make(map[model.EnrichmentFamily]*EnrichmentRunner),
		media:   media,
		cancels: make(map[model.EnrichmentFamily]context.CancelFunc),
		base:    context.Background(),
	}
}

// SetBaseContext 设置后台批处理的父 context，取消后正在运行的批处理在当前候选处理完后停止
func (m *EnrichmentManager) SetBaseContext(ctx context.Context) {
	m.base = ctx
}

// Wait 等待 Start 启动的后台批处理全部结束
func (m *EnrichmentManager) Wait() {
	m.wg.Wait()
}

// Register 注册家族的 runner
func (m *EnrichmentManager) Register(runner *EnrichmentRunner) {
	m.runners[runner.Family()] = runner
}

// Families 已注册的家族
func (m *EnrichmentManager) Families() []model.EnrichmentFamily {
	var out []model.EnrichmentFamily
	for _, f := range model.AllFamilies() {
		if _, ok := m.runners[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Run 同步执行一次批处理
func (m *EnrichmentManager) Run(ctx context.Context, family model.EnrichmentFamily) (*model.EnrichmentResult, error) {
	runner, ok := m.runners[family]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFamily, family)
	}

	v, _, _ := m.group.Do(string(family), func() (interface{}, error) {
		runCtx, cancel := context.WithCancel(ctx)
		m.mu.Lock()
		m.cancels[family] = cancel
		m.mu.Unlock()
		defer func() {
			m.mu.Lock()
			delete(m.cancels, family)
			m.mu.Unlock()
			cancel()
		}()

		result := runner.Run(runCtx)
		utils.CacheSet(lastEnrichKey(family), result, utils.NoExpiration)
		return result, nil
	})
	return v.(*model.EnrichmentResult), nil
}

// Start 后台执行，返回是否新启动（已在运行时返回 false）
func (m *EnrichmentManager) Start(family model.EnrichmentFamily) (bool, error) {
	if _, ok := m.runners[family]; !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownFamily, family)
	}
	if m.Running(family) {
		return false, nil
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if _, err := m.Run(m.base, family); err != nil {
			logging.Error().Err(err).Str("family", string(family)).Msg("[Enrich] 后台任务失败")
		}
	}()
	return true, nil
}

// Cancel 请求取消正在运行的批处理，当前候选处理完后停止
func (m *EnrichmentManager) Cancel(family model.EnrichmentFamily) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cancel, ok := m.cancels[family]
	if ok {
		cancel()
	}
	return ok
}

// Running 是否正在运行
func (m *EnrichmentManager) Running(family model.EnrichmentFamily) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cancels[family]
	return ok
}

// LastResult 最近一次批处理结果
func (m *EnrichmentManager) LastResult(family model.EnrichmentFamily) *model.EnrichmentResult {
	if v, ok := utils.CacheGet(lastEnrichKey(family)); ok {
		if r, ok := v.(*model.EnrichmentResult); ok {
			return r
		}
	}
	return nil
}

// EnrichOne 按需富化单条记录
func (m *EnrichmentManager) EnrichOne(ctx context.Context, id uint) (*model.EnrichmentResult, error) {
	rec, err := m.media.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	family, ok := FamilyOf(rec.Type)
	if !ok {
		return nil, fmt.Errorf("%w: no family for type %s", ErrUnknownFamily, rec.Type)
	}
	runner, ok := m.runners[family]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFamily, family)
	}

	v, _, _ := m.group.Do("one:"+rec.IDString(), func() (interface{}, error) {
		return runner.ProcessOne(ctx, rec), nil
	})
	return v.(*model.EnrichmentResult), nil
}

// FamilyOf 媒体类型所属的富化家族
func FamilyOf(t model.MediaType) (model.EnrichmentFamily, bool) {
	for _, f := range model.AllFamilies() {
		for _, ft := range f.Types() {
			if ft == t {
				return f, true
			}
		}
	}
	return "", false
}

func lastEnrichKey(f model.EnrichmentFamily) string {
	return "enrich:last:" + string(f)
}
