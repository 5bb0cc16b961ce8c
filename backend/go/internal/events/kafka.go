package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"factforge/backend/go/internal/models"
	"factforge/backend/go/pkg/logger"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// MessageWriter 是 *kafka.Writer 的子集。
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher 把事件镜像到 Kafka 主题，消息键为事件 ID。
type KafkaPublisher struct {
	writer MessageWriter
	log    *logger.Logger
}

// NewKafkaPublisher 创建 KafkaPublisher。
func NewKafkaPublisher(w MessageWriter, log *logger.Logger) *KafkaPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &KafkaPublisher{writer: w, log: log}
}

// Publish 同步写入一条消息。
func (p *KafkaPublisher) Publish(ctx context.Context, e models.Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	})
	if err != nil {
		p.log.WithError(models.NewErrorInfo(err, "KafkaError")).WithPayload(map[string]interface{}{"event": e.Type}).Error("写入 Kafka 失败")
		return fmt.Errorf("写入 Kafka 失败: %w", err)
	}
	return nil
}

// Close 关闭底层 writer。
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// MessageReader 是 *kafka.Reader 的子集。
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EvidenceIngester 把新发现的证据写入索引。
type EvidenceIngester interface {
	Ingest(ctx context.Context, e models.Evidence, tags []string) error
}

// CrawlerItem 是爬虫主题中的一条消息。
type CrawlerItem struct {
	models.Evidence
	Tags []string `json:"tags,omitempty"`
}

// ErrPoisonMessage 表示消息无法解析，重试也不会成功。
var ErrPoisonMessage = errors.New("无法解析的爬虫消息")

// ParseCrawlerItem 解析并补全一条爬虫消息。
// 没有 id 的消息按 url（url 为空时按 summary）派生固定的 id，重复投递得到相同的 id。
func ParseCrawlerItem(data []byte) (CrawlerItem, error) {
	var it CrawlerItem
	if err := json.Unmarshal(data, &it); err != nil {
		return it, fmt.Errorf("%w: %v", ErrPoisonMessage, err)
	}
	if strings.TrimSpace(it.URL) == "" && strings.TrimSpace(it.Summary) == "" {
		return it, fmt.Errorf("%w: url 与 summary 均为空", ErrPoisonMessage)
	}
	if it.ID == "" {
		name := strings.TrimSpace(it.URL)
		if name == "" {
			name = strings.TrimSpace(it.Summary)
		}
		it.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
	}
	if it.FoundBy == "" {
		it.FoundBy = models.FoundByCrawler
	}
	return it, nil
}

// CrawlerConsumer 消费爬虫发现，发布 crawler:found 事件。只有在发布成功后才提交偏移量。
type CrawlerConsumer struct {
	reader   MessageReader
	pub      Publisher
	ingester EvidenceIngester
	log      *logger.Logger

	retryBase time.Duration
	retryMax  time.Duration
}

// NewCrawlerConsumer 创建消费者。ingester 可以为 nil，此时只转发事件。
func NewCrawlerConsumer(r MessageReader, pub Publisher, ingester EvidenceIngester, log *logger.Logger) *CrawlerConsumer {
	if log == nil {
		log = logger.Nop()
	}
	return &CrawlerConsumer{
		reader:    r,
		pub:       pub,
		ingester:  ingester,
		log:       log,
		retryBase: 500 * time.Millisecond,
		retryMax:  10 * time.Second,
	}
}

// Run 阻塞消费直到 ctx 结束。
func (c *CrawlerConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("停止爬虫消费者")
				return nil
			}
			c.log.WithError(models.NewErrorInfo(err, "KafkaError")).Error("读取爬虫消息失败")
			if !sleep(ctx, c.retryBase) {
				return nil
			}
			continue
		}

		if err := c.handleWithRetry(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.WithError(models.NewErrorInfo(err, "PoisonMessage")).WithPayload(map[string]interface{}{
				"topic":     msg.Topic,
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Warn("丢弃无法解析的爬虫消息")
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.WithError(models.NewErrorInfo(err, "KafkaError")).Error("提交 Kafka 偏移量失败")
		}
	}
}

// handleWithRetry 只在消息无法解析时返回错误。消息只解析一次，
// 写入索引和发布事件各自按退避重试直到成功或 ctx 结束，已完成的步骤不会重做。
func (c *CrawlerConsumer) handleWithRetry(ctx context.Context, msg kafka.Message) error {
	it, err := ParseCrawlerItem(msg.Value)
	if err != nil {
		return err
	}
	if err := c.retry(ctx, msg.Offset, func() error { return c.ingest(ctx, it) }); err != nil {
		return err
	}
	return c.retry(ctx, msg.Offset, func() error { return c.publish(ctx, it) })
}

func (c *CrawlerConsumer) retry(ctx context.Context, offset int64, step func() error) error {
	wait := c.retryBase
	for {
		err := step()
		if err == nil {
			return nil
		}
		c.log.WithError(models.NewErrorInfo(err, "DependencyUnavailable")).WithField("offset", offset).Warn("处理爬虫消息失败，稍后重试")
		if !sleep(ctx, wait) {
			return ctx.Err()
		}
		if wait *= 2; wait > c.retryMax {
			wait = c.retryMax
		}
	}
}

// Handle 处理一条消息：可选写入索引，再发布事件。不重试。
func (c *CrawlerConsumer) Handle(ctx context.Context, data []byte) error {
	it, err := ParseCrawlerItem(data)
	if err != nil {
		return err
	}
	if err := c.ingest(ctx, it); err != nil {
		return err
	}
	return c.publish(ctx, it)
}

func (c *CrawlerConsumer) ingest(ctx context.Context, it CrawlerItem) error {
	if c.ingester == nil {
		return nil
	}
	if err := c.ingester.Ingest(ctx, it.Evidence, it.Tags); err != nil {
		return fmt.Errorf("写入证据 %s 失败: %w", it.ID, err)
	}
	return nil
}

func (c *CrawlerConsumer) publish(ctx context.Context, it CrawlerItem) error {
	return c.pub.Publish(ctx, New(models.EventCrawlerFound, map[string]interface{}{
		"evidence_id":    it.ID,
		"url":            it.URL,
		"title":          it.Title,
		"summary":        it.Summary,
		"language":       it.Language,
		"published_date": it.PublishedDate,
		"indexed":        c.ingester != nil,
	}))
}

// Close 关闭底层 reader。
func (c *CrawlerConsumer) Close() error {
	return c.reader.Close()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
