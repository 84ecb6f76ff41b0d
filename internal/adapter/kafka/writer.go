package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/trigger-monitor/internal/config"
	"github.com/couchcryptid/trigger-monitor/internal/domain"
	"github.com/couchcryptid/trigger-monitor/internal/observability"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes trigger table snapshots to a Kafka topic.
// It implements monitor.Publisher.
type Writer struct {
	writer  messageWriter
	doc     *config.Document
	clock   clockwork.Clock
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewWriter creates a Kafka producer for the configured trigger topic.
func NewWriter(cfg *config.Config, doc *config.Document, metrics *observability.Metrics, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTriggerTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		// One Publish is one batch; do not wait for more messages.
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
	}
	return newWriter(w, doc, clockwork.NewRealClock(), metrics, logger)
}

func newWriter(w messageWriter, doc *config.Document, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Writer {
	return &Writer{writer: w, doc: doc, clock: clock, metrics: metrics, logger: logger}
}

// Publish writes one message per row in a single WriteMessages call. Rows
// sharing a key land on the same partition, so consumers see the latest
// state of a (maproom, freq, month, unit, year) last.
func (w *Writer) Publish(ctx context.Context, countryID string, rows []domain.TriggerRow) error {
	if len(rows) == 0 {
		return nil
	}

	maproom := countryID
	if c, ok := w.doc.Country(countryID); ok {
		maproom = c.Maproom
	}
	publishedAt := w.clock.Now().UTC()

	msgs := make([]kafkago.Message, len(rows))
	for i := range rows {
		msg, err := serializeToMessage(countryID, maproom, rows[i], publishedAt)
		if err != nil {
			w.metrics.SnapshotsPublished.WithLabelValues("error").Inc()
			return err
		}
		msgs[i] = msg
	}

	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		w.metrics.SnapshotsPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("write trigger snapshot: %w", err)
	}
	w.metrics.SnapshotsPublished.WithLabelValues("success").Inc()
	w.logger.Debug("trigger snapshot published", "country", countryID, "rows", len(rows))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a TriggerRow into a Kafka message.
func serializeToMessage(countryID, maproom string, row domain.TriggerRow, publishedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize trigger row: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(maproom + "|" + row.Key()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "country", Value: []byte(countryID)},
			{Key: "state", Value: []byte(row.State)},
			{Key: "published_at", Value: []byte(publishedAt.Format(time.RFC3339))},
		},
	}, nil
}
