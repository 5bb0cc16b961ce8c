package kafka

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"factforge/backend/go/internal/config"

	"github.com/segmentio/kafka-go"
)

// Topics 返回服务使用的所有主题。
func Topics(cfg *config.KafkaConfig) []string {
	return []string{cfg.EventsTopic, cfg.CrawlerTopic}
}

// EnsureTopics 连接到 Kafka 并创建缺失的主题。
func EnsureTopics(ctx context.Context, cfg *config.KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("未配置 Kafka brokers")
	}

	dialer := &kafka.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka 初始化连接失败: %w", err)
	}
	defer conn.Close()

	// 主题必须在控制器上创建
	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("无法获取 Kafka 控制器: %w", err)
	}
	ctrlConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("无法连接到 Kafka 控制器: %w", err)
	}
	defer ctrlConn.Close()

	partitions, err := ctrlConn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("无法读取 Kafka 分区信息: %w", err)
	}
	existing := make(map[string]struct{})
	for _, p := range partitions {
		existing[p.Topic] = struct{}{}
	}

	var toCreate []kafka.TopicConfig
	for _, topic := range Topics(cfg) {
		if _, ok := existing[topic]; !ok {
			toCreate = append(toCreate, kafka.TopicConfig{
				Topic:             topic,
				NumPartitions:     1,
				ReplicationFactor: 1,
			})
		}
	}
	if len(toCreate) == 0 {
		return nil
	}
	if err := ctrlConn.CreateTopics(toCreate...); err != nil {
		return fmt.Errorf("自动创建 Kafka 主题失败: %w", err)
	}
	return nil
}

// NewWriter 创建写入 topic 的 writer。RequireAll 保证至少一次投递。
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}
}

// NewReader 创建消费组 reader。提交由调用方在处理成功后显式完成。
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxAttempts: 10,
		Dialer:      &kafka.Dialer{Timeout: 10 * time.Second},
	})
}

// HealthCheck 检查 Kafka 控制器是否可达。
func HealthCheck(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("kafka 客户端未配置，无法进行健康检查")
	}
	conn, err := (&kafka.Dialer{Timeout: 5 * time.Second}).DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Controller()
	return err
}
