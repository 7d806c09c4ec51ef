package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/user/medialib/internal/logging"
	"github.com/user/medialib/internal/metrics"
	"github.com/user/medialib/internal/model"
)

const retryTopic = "search.propagation.retry"

// 重试操作
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// RecordLoader 重试时重新读取最新的规范记录
type RecordLoader interface {
	FindByID(ctx context.Context, id uint) (*model.MediaRecord, error)
}

// RetryMessage 重试队列消息
type RetryMessage struct {
	Op       string `json:"op"`
	RecordID uint   `json:"record_id"`
	Attempt  int    `json:"attempt"`
}

// RetryQueue 索引同步失败后的重试队列（进程内，基于 watermill gochannel）
// 队列只保证尽力而为：进程退出时未处理的消息丢失，需要时通过重建索引补齐
type RetryQueue struct {
	pubsub      *gochannel.GoChannel
	messages    <-chan *message.Message
	store       DocumentStore
	loader      RecordLoader
	maxAttempts int
	backoff     func(attempt int) time.Duration

	closeOnce sync.Once
}

// NewRetryQueue maxAttempts 为单条消息最多处理次数
func NewRetryQueue(store DocumentStore, loader RecordLoader, maxAttempts int) (*RetryQueue, error) {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, newWatermillLogger())

	// 先订阅，保证 Run 之前入队的消息不会被丢弃
	messages, err := pubsub.Subscribe(context.Background(), retryTopic)
	if err != nil {
		return nil, fmt.Errorf("subscribe retry topic: %w", err)
	}

	return &RetryQueue{
		pubsub:      pubsub,
		messages:    messages,
		store:       store,
		loader:      loader,
		maxAttempts: maxAttempts,
		backoff:     defaultBackoff,
	}, nil
}

func defaultBackoff(attempt int) time.Duration {
	d := time.Duration(attempt) * 2 * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// SetBackoff 替换退避策略（测试用）
func (q *RetryQueue) SetBackoff(fn func(attempt int) time.Duration) {
	q.backoff = fn
}

// Enqueue 投递一条重试消息
func (q *RetryQueue) Enqueue(op string, recordID uint, attempt int) error {
	payload, err := json.Marshal(RetryMessage{Op: op, RecordID: recordID, Attempt: attempt})
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return q.pubsub.Publish(retryTopic, msg)
}

// Run 顺序处理重试消息，直到 ctx 取消或队列关闭
func (q *RetryQueue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-q.messages:
			if !ok {
				return
			}
			q.handle(ctx, msg)
			msg.Ack()
		}
	}
}

// Close 关闭队列
func (q *RetryQueue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		err = q.pubsub.Close()
	})
	return err
}

func (q *RetryQueue) handle(ctx context.Context, msg *message.Message) {
	var m RetryMessage
	if err := json.Unmarshal(msg.Payload, &m); err != nil {
		logging.Error().Err(err).Str("msg_id", msg.UUID).Msg("[Search] 重试消息无法解析，已丢弃")
		return
	}

	if wait := q.backoff(m.Attempt); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	err := q.apply(ctx, m)
	if err == nil {
		metrics.PropagationRetries.WithLabelValues("succeeded").Inc()
		logging.Debug().Uint("id", m.RecordID).Str("op", m.Op).Int("attempt", m.Attempt).Msg("[Search] 重试成功")
		return
	}

	next := m.Attempt + 1
	if next >= q.maxAttempts {
		metrics.PropagationRetries.WithLabelValues("exhausted").Inc()
		logging.Error().Err(err).Uint("id", m.RecordID).Str("op", m.Op).Int("attempt", next).
			Msg("[Search] 重试次数耗尽，索引可能过期，等待下次重建")
		return
	}
	metrics.PropagationRetries.WithLabelValues("requeued").Inc()
	if perr := q.Enqueue(m.Op, m.RecordID, next); perr != nil {
		logging.Error().Err(perr).Uint("id", m.RecordID).Msg("[Search] 重新入队失败")
	}
}

// apply 执行一次重试；upsert 总是使用最新的规范记录，记录已删除时改为删除文档
func (q *RetryQueue) apply(ctx context.Context, m RetryMessage) error {
	id := model.MediaRecord{ID: m.RecordID}
	docID := id.IDString()

	switch m.Op {
	case OpDelete:
		return q.store.Delete(docID)
	case OpUpsert:
		rec, err := q.loader.FindByID(ctx, m.RecordID)
		if err != nil {
			return fmt.Errorf("reload record: %w", err)
		}
		if rec == nil {
			return q.store.Delete(docID)
		}
		return q.store.Upsert(docID, BuildDocument(rec, ExtractFields(rec)))
	default:
		return fmt.Errorf("unknown retry op %q", m.Op)
	}
}

// watermillLogger 把 watermill 日志接到 zerolog
type watermillLogger struct {
	l zerolog.Logger
}

func newWatermillLogger() watermill.LoggerAdapter {
	return &watermillLogger{l: logging.With().Str("component", "watermill").Logger()}
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.l.Error().Err(err).Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.l.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.l.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.l.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{l: w.l.With().Fields(map[string]interface{}(fields)).Logger()}
}
