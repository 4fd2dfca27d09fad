package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/accounting/journals"
)

// MockKafkaWriter mocks KafkaWriter interface
type MockKafkaWriter struct {
	mock.Mock
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockKafkaWriter) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestLedgerPublisherPublish(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	event := journals.Event{
		ID:          uuid.New(),
		Type:        journals.EventPosted,
		EntryID:     42,
		Number:      "JE-000042",
		EntryType:   accounting.EntryTypeStandard,
		TotalDebit:  decimal.NewFromInt(100),
		TotalCredit: decimal.NewFromInt(100),
	}

	t.Run("KeyedByEntry", func(t *testing.T) {
		writer := new(MockKafkaWriter)
		publisher := NewLedgerPublisherWithWriter(logger, writer, "ledger-events")
		writer.On("WriteMessages", ctx, mock.MatchedBy(func(msgs []kafka.Message) bool {
			if len(msgs) != 1 || string(msgs[0].Key) != "42" {
				return false
			}
			var decoded journals.Event
			if err := json.Unmarshal(msgs[0].Value, &decoded); err != nil {
				return false
			}
			return decoded.Number == "JE-000042" && decoded.TotalDebit.Equal(decimal.NewFromInt(100)) &&
				string(msgs[0].Headers[0].Value) == journals.EventPosted
		})).Return(nil).Once()

		require.NoError(t, publisher.Publish(ctx, event))
		writer.AssertExpectations(t)
	})

	t.Run("WriterError", func(t *testing.T) {
		writer := new(MockKafkaWriter)
		publisher := NewLedgerPublisherWithWriter(logger, writer, "ledger-events")
		writerErr := errors.New("kafka write error")
		writer.On("WriteMessages", ctx, mock.AnythingOfType("[]kafka.Message")).Return(writerErr).Once()

		err := publisher.Publish(ctx, event)
		assert.ErrorIs(t, err, writerErr)
		writer.AssertExpectations(t)
	})

	t.Run("Close", func(t *testing.T) {
		writer := new(MockKafkaWriter)
		writer.On("Close").Return(nil).Once()
		require.NoError(t, NewLedgerPublisherWithWriter(logger, writer, "ledger-events").Close())
		writer.AssertExpectations(t)
	})
}

func TestNewLedgerPublisherRequiresConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewLedgerPublisher(logger, Config{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
	_, err = NewLedgerPublisher(logger, Config{Topic: "ledger-events"})
	assert.Error(t, err)

	p, err := NewLedgerPublisher(logger, Config{Brokers: []string{"localhost:9092"}, Topic: "ledger-events"})
	require.NoError(t, err)
	assert.Equal(t, "ledger-events", p.topic)
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, SplitBrokers(" a:9092, ,b:9092 "))
	assert.Nil(t, SplitBrokers(""))
}
