package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Writer 抽出 kafka.Writer 用到的方法，測試時可以替換
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config Kafka 發佈端設定
type Config struct {
	Brokers      []string      `yaml:"brokers" envconfig:"BROKERS" validate:"required,min=1,dive,required"`
	Topic        string        `yaml:"topic" envconfig:"TOPIC" validate:"required"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
}

// Message 待發佈的訊息，Value 會被 JSON 編碼
type Message struct {
	Key   string
	Value any
}

// Publisher 將 JSON 訊息寫到單一 topic
type Publisher struct {
	writer Writer
	topic  string
}

// NewPublisher 建立連到 brokers 的 Publisher
// 同一個 Key 的訊息會落在同一個 partition (Hash balancer)，保持順序
func NewPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           timeout,
	}
	return NewPublisherWithWriter(w, cfg.Topic), nil
}

// NewPublisherWithWriter 使用外部提供的 Writer
func NewPublisherWithWriter(w Writer, topic string) *Publisher {
	return &Publisher{
		writer: w,
		topic:  topic,
	}
}

func (p *Publisher) Topic() string {
	return p.topic
}

// Publish 一次寫入一批訊息
//
// 參數:
//
//	ctx: context.Context - 寫入逾時控制
//	msgs: ...Message - 待發佈訊息
//
// 回傳值:
//
//	error: 編碼或寫入失敗
func (p *Publisher) Publish(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m.Value)
		if err != nil {
			return fmt.Errorf("kafka: encode message: %w", err)
		}
		out = append(out, kafka.Message{
			Key:   []byte(m.Key),
			Value: data,
		})
	}
	if err := p.writer.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("kafka: write to %s: %w", p.topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
