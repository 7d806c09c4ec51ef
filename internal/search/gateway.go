package search

import (
	"context"
	"fmt"

	"github.com/user/medialib/internal/logging"
	"github.com/user/medialib/internal/metrics"
	"github.com/user/medialib/internal/model"
)

// BatchSource 分批遍历规范记录，FindByIDs 用于写入后复核（不存在的 ID 不返回）
type BatchSource interface {
	FindInBatches(ctx context.Context, batchSize int, fn func(batch []model.MediaRecord) error) error
	FindByIDs(ctx context.Context, ids []uint) ([]model.MediaRecord, error)
}

// Gateway 规范写入之后的索引同步入口
// 所有失败只记录日志、计数并进入重试队列，不向调用方返回，规范写入不会因此回滚
type Gateway struct {
	store DocumentStore
	retry *RetryQueue
}

func NewGateway(store DocumentStore) *Gateway {
	return &Gateway{store: store}
}

// SetRetryQueue 设置重试队列，nil 时失败只记录
func (g *Gateway) SetRetryQueue(q *RetryQueue) {
	g.retry = q
}

// IndexUpsert 写入记录的检索文档（整体替换）
func (g *Gateway) IndexUpsert(ctx context.Context, rec *model.MediaRecord) {
	if rec == nil || rec.ID == 0 {
		return
	}
	err := g.safely(func() error {
		return g.store.Upsert(rec.IDString(), BuildDocument(rec, ExtractFields(rec)))
	})
	if err != nil {
		g.fail(OpUpsert, rec.ID, err)
	}
}

// IndexDelete 删除记录的检索文档
func (g *Gateway) IndexDelete(ctx context.Context, id uint) {
	if id == 0 {
		return
	}
	doc := model.MediaRecord{ID: id}
	err := g.safely(func() error {
		return g.store.Delete(doc.IDString())
	})
	if err != nil {
		g.fail(OpDelete, id, err)
	}
}

// ReindexAll 分批重建全部文档，可与正常写入并发执行
// 单批提交失败时退回逐条写入，逐条失败同样进入重试队列
func (g *Gateway) ReindexAll(ctx context.Context, source BatchSource, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 200
	}
	indexed := 0
	err := source.FindInBatches(ctx, batchSize, func(batch []model.MediaRecord) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		docs := make(map[string]map[string]any, len(batch))
		for i := range batch {
			rec := &batch[i]
			docs[rec.IDString()] = BuildDocument(rec, ExtractFields(rec))
		}
		if err := g.safely(func() error { return g.store.UpsertBatch(docs) }); err != nil {
			logging.Warn().Err(err).Int("size", len(batch)).Msg("[Search] 批量写入失败，改为逐条写入")
			for i := range batch {
				g.IndexUpsert(ctx, &batch[i])
			}
		}
		g.reconcile(ctx, source, batch)
		indexed += len(batch)
		return nil
	})
	if err != nil {
		return indexed, fmt.Errorf("reindex: %w", err)
	}
	logging.Info().Int("count", indexed).Msg("[Search] 索引重建完成")
	return indexed, nil
}

// reconcile 批次写入后复核：读取之后被删除的记录删掉文档，被更新的记录按最新内容重写
// 复核失败时整批交给重试队列，由重试时的重新读取决定写入或删除
func (g *Gateway) reconcile(ctx context.Context, source BatchSource, batch []model.MediaRecord) {
	ids := make([]uint, len(batch))
	for i := range batch {
		ids[i] = batch[i].ID
	}
	latest, err := source.FindByIDs(ctx, ids)
	if err != nil {
		for _, id := range ids {
			g.fail(OpUpsert, id, fmt.Errorf("reindex recheck: %w", err))
		}
		return
	}

	current := make(map[uint]*model.MediaRecord, len(latest))
	for i := range latest {
		current[latest[i].ID] = &latest[i]
	}
	for i := range batch {
		rec, ok := current[batch[i].ID]
		switch {
		case !ok:
			g.IndexDelete(ctx, batch[i].ID)
		case rec.Version != batch[i].Version:
			g.IndexUpsert(ctx, rec)
		}
	}
}

func (g *Gateway) safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (g *Gateway) fail(op string, id uint, err error) {
	metrics.PropagationFailures.WithLabelValues("search", op).Inc()
	logging.Warn().Err(err).Uint("id", id).Str("op", op).Msg("[Search] 索引同步失败")
	if g.retry == nil {
		return
	}
	if qerr := g.retry.Enqueue(op, id, 0); qerr != nil {
		logging.Error().Err(qerr).Uint("id", id).Msg("[Search] 写入重试队列失败")
	}
}
