package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// KafkaBus fans envelopes out over a kafka topic. Each instance reads with
// its own consumer group so every instance sees every envelope.
type KafkaBus struct {
	writer  *kafka.Writer
	brokers []string
	topic   string
	groupID string
}

func NewKafkaBus(brokers []string, topic string) *KafkaBus {
	return &KafkaBus{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
		brokers: brokers,
		topic:   topic,
		groupID: "community-chat-" + uuid.NewString(),
	}
}

func (b *KafkaBus) Name() string { return "kafka" }

func (b *KafkaBus) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.writer.WriteMessages(ctx, kafka.Message{Key: []byte(env.Topic), Value: body}); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (b *KafkaBus) Subscribe(ctx context.Context, deliver func(Envelope)) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.brokers,
		Topic:       b.topic,
		GroupID:     b.groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("kafka fetch failed: topic=%s err=%v", b.topic, err)
			if !waitRetry(ctx, fetchRetryDelay) {
				return nil
			}
			continue
		}

		var env Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			log.Printf("dropping malformed bus envelope: bus=kafka offset=%d err=%v", msg.Offset, err)
		} else {
			deliver(env)
		}

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Printf("kafka commit failed: topic=%s offset=%d err=%v", b.topic, msg.Offset, err)
		}
	}
}

const fetchRetryDelay = time.Second

// waitRetry sleeps for d and reports false when ctx ends first.
func waitRetry(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (b *KafkaBus) Close() error {
	return b.writer.Close()
}
