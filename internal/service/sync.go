package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/user/medialib/internal/logging"
	"github.com/user/medialib/internal/metrics"
	"github.com/user/medialib/internal/model"
	"github.com/user/medialib/internal/repository"
	"github.com/user/medialib/internal/utils"
)

// SourceItem 远端的一条记录及其附带的标注
type SourceItem struct {
	Record     model.MediaRecord
	Highlights []model.Highlight
}

// SourcePage 一页远端数据，NextCursor 为空表示最后一页
type SourcePage struct {
	Items      []SourceItem
	NextCursor string
}

// Source 外部内容来源
// since 为上次成功同步的水位，来源不支持增量时可以忽略
type Source interface {
	Name() string
	FetchPage(ctx context.Context, cursor string, since *time.Time) (*SourcePage, error)
}

type syncAction string

const (
	actionCreated syncAction = "created"
	actionUpdated syncAction = "updated"
	actionSkipped syncAction = "skipped"
)

// maxConflictRetries 同步写入遇到版本冲突时重新读取再合并的次数
const maxConflictRetries = 3

// Synchronizer 按自然键增量同步外部来源
// 先按外部 ID 查找，再按规范化 URL 查找；存在则比较指纹决定更新或跳过；远端消失的记录不会被删除
type Synchronizer struct {
	media      *MediaService
	records    *repository.MediaRepository
	highlights *repository.HighlightRepository
	states     *repository.SyncStateRepository
	pageDelay  time.Duration
	sleep      Sleeper
}

func NewSynchronizer(media *MediaService, repos *repository.Repositories, pageDelay time.Duration) *Synchronizer {
	return &Synchronizer{
		media:      media,
		records:    repos.Media,
		highlights: repos.Highlight,
		states:     repos.SyncState,
		pageDelay:  pageDelay,
		sleep:      sleepCtx,
	}
}

// SetSleeper 替换翻页等待函数（测试用）
func (s *Synchronizer) SetSleeper(sl Sleeper) {
	s.sleep = sl
}

// Run 同步一个来源
// 任意一页失败都会中止本次同步，水位只在整次成功后推进，避免跳过未处理的远端记录
func (s *Synchronizer) Run(ctx context.Context, src Source) *model.SyncResult {
	name := src.Name()
	result := &model.SyncResult{Source: name, StartedAt: time.Now()}

	state, err := s.states.Get(ctx, name)
	if err != nil {
		return s.finish(ctx, result, nil, fmt.Errorf("load sync state: %w", err))
	}
	if state == nil {
		state = &model.SyncState{Source: name}
	}

	logging.Info().Str("source", name).Interface("since", state.Watermark).Msg("[Sync] 开始同步")

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return s.finish(ctx, result, state, err)
		}
		page, err := src.FetchPage(ctx, cursor, state.Watermark)
		if err != nil {
			return s.finish(ctx, result, state, fmt.Errorf("fetch page %d: %w", result.Pages+1, err))
		}
		result.Pages++

		for i := range page.Items {
			if err := s.applyItem(ctx, name, &page.Items[i], result); err != nil {
				return s.finish(ctx, result, state, err)
			}
		}

		if page.NextCursor == "" || page.NextCursor == cursor {
			break
		}
		cursor = page.NextCursor
		if !s.sleep(ctx, s.pageDelay) {
			return s.finish(ctx, result, state, ctx.Err())
		}
	}

	// 水位取本次开始时间，运行期间远端新改动的记录下次还会被拉到
	watermark := result.StartedAt
	state.Watermark = &watermark
	result.Watermark = &watermark
	return s.finish(ctx, result, state, nil)
}

func (s *Synchronizer) finish(ctx context.Context, result *model.SyncResult, state *model.SyncState, runErr error) *model.SyncResult {
	result.FinishedAt = time.Now()
	outcome := "success"
	if runErr != nil {
		outcome = "failure"
		result.Error = runErr.Error()
		logging.Error().Err(runErr).Str("source", result.Source).Msg("[Sync] 同步失败")
	} else {
		logging.Info().
			Str("source", result.Source).
			Int("pages", result.Pages).
			Int("created", result.Created).
			Int("updated", result.Updated).
			Int("skipped", result.Skipped).
			Int("highlights", result.HighlightsUpserted).
			Msg("[Sync] 同步完成")
	}
	metrics.SyncRuns.WithLabelValues(result.Source, outcome).Inc()

	if state != nil {
		now := result.FinishedAt
		state.LastRunAt = &now
		state.LastError = result.Error
		state.LastCreated = result.Created
		state.LastUpdated = result.Updated
		state.LastSkipped = result.Skipped
		if err := s.states.Save(context.WithoutCancel(ctx), state); err != nil {
			logging.Warn().Err(err).Str("source", result.Source).Msg("[Sync] 保存同步状态失败")
		}
	}
	return result
}

func (s *Synchronizer) applyItem(ctx context.Context, source string, item *SourceItem, result *model.SyncResult) error {
	incoming := item.Record.Clone()
	if incoming.Source == "" {
		incoming.Source = source
	}
	incoming.NormalizedURL = utils.NormalizeURL(incoming.URL)
	incoming.ContentHash = SourceFingerprint(incoming)

	rec, action, err := s.upsertRecord(ctx, incoming)
	if err != nil {
		return fmt.Errorf("record %q (%s): %w", incoming.Title, incoming.ExternalID, err)
	}
	metrics.SyncRecords.WithLabelValues(source, string(action)).Inc()
	switch action {
	case actionCreated:
		result.Created++
	case actionUpdated:
		result.Updated++
	default:
		result.Skipped++
	}

	for i := range item.Highlights {
		changed, err := s.upsertHighlight(ctx, source, rec, &item.Highlights[i])
		if err != nil {
			return fmt.Errorf("highlight %s: %w", item.Highlights[i].ExternalID, err)
		}
		if changed {
			result.HighlightsUpserted++
		}
	}
	return nil
}

func (s *Synchronizer) upsertRecord(ctx context.Context, incoming *model.MediaRecord) (*model.MediaRecord, syncAction, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		existing, err := s.findExisting(ctx, incoming)
		if err != nil {
			return nil, "", err
		}
		if existing == nil {
			rec := incoming.Clone()
			if err := s.media.Create(ctx, rec); err != nil {
				return nil, "", err
			}
			return rec, actionCreated, nil
		}

		merged := existing.Clone()
		if ownedByOtherKey(existing, incoming) {
			// 经 URL 命中了其他自然键拥有的记录（其他来源，或同来源的另一条），只补空缺字段，避免轮流覆盖
			fillMissingFields(merged, incoming)
			if SourceFingerprint(merged) == SourceFingerprint(existing) {
				return existing, actionSkipped, nil
			}
		} else {
			if !FingerprintChanged(existing, incoming) {
				return existing, actionSkipped, nil
			}
			mergeSourceFields(merged, incoming)
		}
		err = s.media.ApplySourceUpdate(ctx, merged)
		if err == nil {
			return merged, actionUpdated, nil
		}
		// 读取之后被用户编辑或删除，重新查找后再合并
		if !errors.Is(err, repository.ErrVersionConflict) && !errors.Is(err, repository.ErrNotFound) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("gave up after %d version conflicts", maxConflictRetries)
}

// ownedByOtherKey 已有记录的 (Source, ExternalID) 与输入不同
func ownedByOtherKey(existing, incoming *model.MediaRecord) bool {
	if existing.Source == "" {
		return false
	}
	return existing.Source != incoming.Source || existing.ExternalID != incoming.ExternalID
}

// findExisting 自然键查找：外部 ID 优先，其次规范化 URL（跨来源去重）
func (s *Synchronizer) findExisting(ctx context.Context, incoming *model.MediaRecord) (*model.MediaRecord, error) {
	if incoming.ExternalID != "" {
		rec, err := s.records.FindByExternalID(ctx, incoming.Source, incoming.ExternalID)
		if err != nil || rec != nil {
			return rec, err
		}
	}
	if incoming.NormalizedURL != "" {
		return s.records.FindByNormalizedURL(ctx, incoming.NormalizedURL)
	}
	return nil, nil
}

func (s *Synchronizer) upsertHighlight(ctx context.Context, source string, rec *model.MediaRecord, h *model.Highlight) (bool, error) {
	if h.ExternalID == "" {
		return false, errors.New("highlight without external id")
	}
	h.Source = source
	h.ContentHash = utils.ContentHash(h.Text, h.Note, h.Category, fmt.Sprint(h.Tags))
	if rec != nil && model.CanLinkTo(rec.Type) {
		id := rec.ID
		h.RecordID = &id
	}

	existing, err := s.highlights.FindByExternalID(ctx, h.ExternalID)
	if err != nil {
		return false, err
	}
	if existing != nil && existing.ContentHash == h.ContentHash && sameRecordLink(existing.RecordID, h.RecordID) {
		return false, nil
	}
	return true, s.highlights.UpsertByExternalID(ctx, h)
}

func sameRecordLink(a, b *uint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// SourceFingerprint 远端内容摘要：只覆盖来源提供的字段，用户字段和派生字段不参与
func SourceFingerprint(rec *model.MediaRecord) string {
	c := rec.Clone()
	c.ID = 0
	c.Version = 0
	c.Status = ""
	c.Rating = nil
	c.Notes = ""
	c.ContentHash = ""
	c.NormalizedURL = ""
	c.Domain = ""
	c.RemoteUpdatedAt = nil
	c.EnrichmentState = ""
	c.EnrichmentFailures = 0
	c.EnrichedAt = nil
	c.CreatedAt = time.Time{}
	c.UpdatedAt = time.Time{}
	sort.Strings(c.Topics)
	sort.Strings(c.Genres)

	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return utils.ContentHash(string(data))
}

// FingerprintChanged 判断远端记录是否需要写入
// 摘要相同直接跳过；摘要不同时以时间戳为准，两边都有时间戳且远端不更新则视为旧数据跳过
func FingerprintChanged(existing, incoming *model.MediaRecord) bool {
	if existing.ContentHash != "" && existing.ContentHash == incoming.ContentHash {
		return false
	}
	if existing.RemoteUpdatedAt != nil && incoming.RemoteUpdatedAt != nil &&
		!incoming.RemoteUpdatedAt.After(*existing.RemoteUpdatedAt) {
		return false
	}
	return true
}

// mergeSourceFields 把远端提供的非空字段合并到已有记录上
// 来源归属（Source/ExternalID）保留先入库的那一方；status、rating、notes 不受影响
func mergeSourceFields(dst, src *model.MediaRecord) {
	if src.Title != "" {
		dst.Title = src.Title
	}
	if src.Description != "" {
		dst.Description = src.Description
	}
	if src.ThumbnailURL != "" {
		dst.ThumbnailURL = src.ThumbnailURL
	}
	if src.URL != "" && src.NormalizedURL != dst.NormalizedURL {
		dst.URL = src.URL
		dst.Domain = ""
	}
	if len(src.Topics) > 0 {
		dst.Topics = append(dst.Topics, src.Topics...)
	}
	if len(src.Genres) > 0 {
		dst.Genres = append(dst.Genres, src.Genres...)
	}
	if src.RemoteUpdatedAt != nil {
		dst.RemoteUpdatedAt = src.RemoteUpdatedAt
	}
	if dst.Source == "" {
		dst.Source, dst.ExternalID = src.Source, src.ExternalID
	}
	dst.ContentHash = src.ContentHash

	overlayDetails(dst, src, false)
}

// fillMissingFields 只填充已有记录中为空的字段
func fillMissingFields(dst, src *model.MediaRecord) {
	if dst.Description == "" {
		dst.Description = src.Description
	}
	if dst.ThumbnailURL == "" {
		dst.ThumbnailURL = src.ThumbnailURL
	}
	if len(dst.Topics) == 0 && len(src.Topics) > 0 {
		dst.Topics = append([]string(nil), src.Topics...)
	}
	if len(dst.Genres) == 0 && len(src.Genres) > 0 {
		dst.Genres = append([]string(nil), src.Genres...)
	}
	overlayDetails(dst, src, true)
}

func overlayDetails(dst, src *model.MediaRecord, onlyMissing bool) {
	overlay(&dst.Book, &src.Book, onlyMissing)
	overlay(&dst.Screen, &src.Screen, onlyMissing)
	overlay(&dst.Podcast, &src.Podcast, onlyMissing)
	overlay(&dst.Video, &src.Video, onlyMissing)
	overlay(&dst.Web, &src.Web, onlyMissing)
	overlay(&dst.Document, &src.Document, onlyMissing)
}

// overlay 逐字段覆盖，src 中的零值不覆盖 dst；onlyMissing 时 dst 已有值也不覆盖
func overlay[T any](dst, src *T, onlyMissing bool) {
	dv := reflect.ValueOf(dst).Elem()
	sv := reflect.ValueOf(src).Elem()
	for i := 0; i < sv.NumField(); i++ {
		f := sv.Field(i)
		if f.IsZero() || (onlyMissing && !dv.Field(i).IsZero()) {
			continue
		}
		dv.Field(i).Set(f)
	}
}

// SyncManager 管理各来源的同步任务，同一来源并发触发会合并
type SyncManager struct {
	sync    *Synchronizer
	sources map[string]Source
	order   []string
	group   singleflight.Group

	base context.Context // 后台同步的父 context
	wg   sync.WaitGroup
}

func NewSyncManager(sync *Synchronizer) *SyncManager {
	return &SyncManager{
		sync:    sync,
		sources: make(map[string]Source),
		base:    context.Background(),
	}
}

// SetBaseContext 设置后台同步的父 context
func (m *SyncManager) SetBaseContext(ctx context.Context) {
	m.base = ctx
}

// Start 后台同步指定来源，已在同步时合并到正在进行的那一次
func (m *SyncManager) Start(name string) error {
	if _, ok := m.sources[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if _, err := m.Run(m.base, name); err != nil {
			logging.Error().Err(err).Str("source", name).Msg("[Sync] 后台同步失败")
		}
	}()
	return nil
}

// Wait 等待 Start 启动的后台同步全部结束
func (m *SyncManager) Wait() {
	m.wg.Wait()
}

// Register 注册来源
func (m *SyncManager) Register(src Source) {
	if _, ok := m.sources[src.Name()]; !ok {
		m.order = append(m.order, src.Name())
	}
	m.sources[src.Name()] = src
}

// Sources 已注册来源（注册顺序）
func (m *SyncManager) Sources() []string {
	return append([]string(nil), m.order...)
}

// Run 同步指定来源
func (m *SyncManager) Run(ctx context.Context, name string) (*model.SyncResult, error) {
	src, ok := m.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	v, _, _ := m.group.Do(name, func() (interface{}, error) {
		result := m.sync.Run(ctx, src)
		utils.CacheSet(lastSyncKey(name), result, utils.NoExpiration)
		return result, nil
	})
	return v.(*model.SyncResult), nil
}

// RunAll 依次同步全部来源，单个来源失败不影响其他来源
func (m *SyncManager) RunAll(ctx context.Context) []*model.SyncResult {
	results := make([]*model.SyncResult, 0, len(m.order))
	for _, name := range m.order {
		if ctx.Err() != nil {
			break
		}
		r, err := m.Run(ctx, name)
		if err != nil {
			continue
		}
		results = append(results, r)
	}
	return results
}

// LastResult 最近一次同步结果
func (m *SyncManager) LastResult(name string) *model.SyncResult {
	if v, ok := utils.CacheGet(lastSyncKey(name)); ok {
		if r, ok := v.(*model.SyncResult); ok {
			return r
		}
	}
	return nil
}

func lastSyncKey(name string) string {
	return "sync:last:" + name
}
