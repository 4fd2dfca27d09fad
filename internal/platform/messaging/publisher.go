// Package messaging ships committed ledger events to Kafka.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/odyssey-erp/coopledger/internal/accounting/journals"
)

// KafkaWriter wraps kafka.Writer methods for testing.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds the producer settings.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// LedgerPublisher publishes journal events keyed by entry id, so every event of one entry
// lands on the same partition in commit order.
type LedgerPublisher struct {
	logger *slog.Logger
	writer KafkaWriter
	topic  string
}

// NewLedgerPublisher builds a synchronous producer for cfg.Topic.
func NewLedgerPublisher(logger *slog.Logger, cfg Config) (*LedgerPublisher, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka ledger topic is not configured")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are not configured")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
	return &LedgerPublisher{logger: logger, writer: writer, topic: cfg.Topic}, nil
}

// NewLedgerPublisherWithWriter wires an existing writer.
func NewLedgerPublisherWithWriter(logger *slog.Logger, writer KafkaWriter, topic string) *LedgerPublisher {
	return &LedgerPublisher{logger: logger, writer: writer, topic: topic}
}

// Publish implements journals.EventPublisher.
func (p *LedgerPublisher) Publish(ctx context.Context, event journals.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(event.EntryID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID.String())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("publish ledger event",
			slog.String("topic", p.topic),
			slog.String("type", event.Type),
			slog.Int64("entry_id", event.EntryID),
			slog.Any("error", err),
		)
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	p.logger.Debug("published ledger event", slog.String("topic", p.topic), slog.String("type", event.Type), slog.Int64("entry_id", event.EntryID))
	return nil
}

// Close flushes and closes the writer.
func (p *LedgerPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer for topic %s: %w", p.topic, err)
	}
	return nil
}

// SplitBrokers parses a comma separated broker list.
func SplitBrokers(raw string) []string {
	var out []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

var _ journals.EventPublisher = (*LedgerPublisher)(nil)
