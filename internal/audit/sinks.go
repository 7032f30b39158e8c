package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"farmer-auth/internal/models"
)

// LogSink writes events to the service log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, events []*models.AuthEvent) error {
	for _, ev := range events {
		s.logger.Info("auth event",
			zap.String("event_id", ev.EventID),
			zap.String("event_type", string(ev.EventType)),
			zap.String("phone_hash", ev.PhoneHash),
			zap.String("farmer_id", ev.FarmerID),
			zap.Time("event_time", ev.EventTime),
		)
	}
	return nil
}

type batchInserter interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	BatchInsert(ctx context.Context, query string, data [][]interface{}) error
}

// ClickHouseSink appends events to a MergeTree table partitioned by day.
type ClickHouseSink struct {
	client batchInserter
	table  string
}

func NewClickHouseSink(client batchInserter, table string) *ClickHouseSink {
	return &ClickHouseSink{client: client, table: table}
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

// EnsureTable creates the events table when missing.
func (s *ClickHouseSink) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
        event_id String,
        event_type LowCardinality(String),
        phone_hash String,
        farmer_id String,
        event_date Date,
        event_time DateTime64(3, 'UTC'),
        remaining_attempts Int32,
        wait_seconds Int32,
        details String
    ) ENGINE = MergeTree
    PARTITION BY event_date
    ORDER BY (event_type, event_time)`, s.table)
	return s.client.Exec(ctx, ddl)
}

func (s *ClickHouseSink) Write(ctx context.Context, events []*models.AuthEvent) error {
	rows := make([][]interface{}, 0, len(events))
	for _, ev := range events {
		rows = append(rows, clickhouseRow(ev))
	}
	query := fmt.Sprintf("INSERT INTO %s", s.table)
	if err := s.client.BatchInsert(ctx, query, rows); err != nil {
		return fmt.Errorf("clickhouse insert: %w", err)
	}
	return nil
}

func clickhouseRow(ev *models.AuthEvent) []interface{} {
	return []interface{}{
		ev.EventID,
		string(ev.EventType),
		ev.PhoneHash,
		ev.FarmerID,
		ev.EventTime,
		ev.EventTime,
		int32(ev.Remaining),
		int32(ev.WaitSecs),
		ev.Details,
	}
}

type bulkIndexer interface {
	Bulk(ctx context.Context, body *bytes.Buffer) error
}

// ElasticsearchSink bulk-indexes events into one index, using the event ID as
// document ID so a retried batch does not duplicate.
type ElasticsearchSink struct {
	client bulkIndexer
	index  string
}

func NewElasticsearchSink(client bulkIndexer, index string) *ElasticsearchSink {
	return &ElasticsearchSink{client: client, index: index}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) Write(ctx context.Context, events []*models.AuthEvent) error {
	body, err := bulkBody(s.index, events)
	if err != nil {
		return err
	}
	if err := s.client.Bulk(ctx, body); err != nil {
		return fmt.Errorf("elasticsearch bulk: %w", err)
	}
	return nil
}

func bulkBody(index string, events []*models.AuthEvent) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range events {
		meta := map[string]map[string]string{
			"index": {"_index": index, "_id": ev.EventID},
		}
		if err := enc.Encode(meta); err != nil {
			return nil, fmt.Errorf("error encoding bulk meta: %w", err)
		}
		if err := enc.Encode(ev); err != nil {
			return nil, fmt.Errorf("error encoding event: %w", err)
		}
	}
	return &buf, nil
}

type batchProducer interface {
	ProduceBatch(ctx context.Context, topic string, keys, values [][]byte) error
}

// KafkaSink streams events keyed by phone hash.
type KafkaSink struct {
	producer batchProducer
	topic    string
}

func NewKafkaSink(producer batchProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, events []*models.AuthEvent) error {
	keys := make([][]byte, 0, len(events))
	values := make([][]byte, 0, len(events))
	for _, ev := range events {
		v, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("error encoding event: %w", err)
		}
		keys = append(keys, []byte(ev.PhoneHash))
		values = append(values, v)
	}
	return s.producer.ProduceBatch(ctx, s.topic, keys, values)
}
