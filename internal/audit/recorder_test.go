package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"farmer-auth/internal/models"
	"farmer-auth/internal/util"
)

type memorySink struct {
	name    string
	mu      sync.Mutex
	events  []*models.AuthEvent
	batches int
	err     error
	block   chan struct{}
}

func (m *memorySink) Name() string {
	if m.name != "" {
		return m.name
	}
	return "memory"
}

func (m *memorySink) Write(_ context.Context, events []*models.AuthEvent) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, events...)
	return nil
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestNewEventHashesPhone(t *testing.T) {
	at := time.Date(2024, 7, 1, 23, 0, 0, 0, time.UTC)
	ev := NewEvent(models.EventOTPSent, " 9876543210 ", at)

	assert.Equal(t, util.HashPhone("9876543210"), ev.PhoneHash)
	assert.NotContains(t, ev.PhoneHash, "9876543210")
	assert.Equal(t, "2024-07-01", ev.EventDate)
	assert.NotEmpty(t, ev.EventID)
}

func TestRecorderFlushesOnClose(t *testing.T) {
	sink := &memorySink{}
	r := NewRecorder([]Sink{sink}, 16, 100, time.Hour, zap.NewNop())

	for i := 0; i < 5; i++ {
		r.Record(NewEvent(models.EventRegistered, "9876543210", time.Now()))
	}
	require.NoError(t, r.Close(context.Background()))

	assert.Equal(t, 5, sink.count())
	stats := r.Stats()
	assert.Equal(t, int64(5), stats.Recorded)
	assert.Equal(t, int64(5), stats.Written)

	r.Record(NewEvent(models.EventRegistered, "9876543210", time.Now()))
	assert.Equal(t, int64(1), r.Stats().Dropped)
	require.NoError(t, r.Close(context.Background()))
}

func TestRecorderFlushesFullBatch(t *testing.T) {
	sink := &memorySink{}
	r := NewRecorder([]Sink{sink}, 16, 3, time.Hour, zap.NewNop())
	defer r.Close(context.Background())

	for i := 0; i < 3; i++ {
		r.Record(NewEvent(models.EventOTPSent, "9876543210", time.Now()))
	}
	assert.Eventually(t, func() bool { return sink.count() == 3 }, time.Second, 5*time.Millisecond)
}

func TestRecorderFlushesOnInterval(t *testing.T) {
	sink := &memorySink{}
	r := NewRecorder([]Sink{sink}, 16, 100, 10*time.Millisecond, zap.NewNop())
	defer r.Close(context.Background())

	r.Record(NewEvent(models.EventOTPSent, "9876543210", time.Now()))
	assert.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRecorderDropsWhenFull(t *testing.T) {
	sink := &memorySink{block: make(chan struct{})}
	r := NewRecorder([]Sink{sink}, 2, 1, time.Hour, zap.NewNop())

	// The worker takes the first event and blocks in the sink; two more fill
	// the queue and the rest are dropped.
	r.Record(NewEvent(models.EventOTPSent, "9876543210", time.Now()))
	assert.Eventually(t, func() bool { return len(r.queue) == 0 }, time.Second, time.Millisecond)
	for i := 0; i < 5; i++ {
		r.Record(NewEvent(models.EventOTPSent, "9876543210", time.Now()))
	}
	stats := r.Stats()
	assert.Equal(t, int64(3), stats.Recorded)
	assert.Equal(t, int64(3), stats.Dropped)

	close(sink.block)
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 3, sink.count())
}

func TestRecorderSinkFailureDoesNotStopOthers(t *testing.T) {
	bad := &memorySink{err: errors.New("down")}
	good := &memorySink{}
	r := NewRecorder([]Sink{bad, good}, 8, 10, time.Hour, zap.NewNop())

	r.Record(NewEvent(models.EventVerifySuccess, "9876543210", time.Now()))
	r.Record(NewEvent(models.EventVerifyMismatch, "9876543210", time.Now()))
	require.NoError(t, r.Close(context.Background()))

	assert.Equal(t, 2, good.count())
	stats := r.Stats()
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(2), stats.Written)
}

type fakeClickHouse struct {
	ddl   []string
	query string
	rows  [][]interface{}
}

func (f *fakeClickHouse) Exec(_ context.Context, query string, _ ...interface{}) error {
	f.ddl = append(f.ddl, query)
	return nil
}

func (f *fakeClickHouse) BatchInsert(_ context.Context, query string, data [][]interface{}) error {
	f.query = query
	f.rows = append(f.rows, data...)
	return nil
}

func TestClickHouseSink(t *testing.T) {
	ch := &fakeClickHouse{}
	sink := NewClickHouseSink(ch, "auth_events")
	require.NoError(t, sink.EnsureTable(context.Background()))
	require.Len(t, ch.ddl, 1)
	assert.Contains(t, ch.ddl[0], "CREATE TABLE IF NOT EXISTS auth_events")

	ev := NewEvent(models.EventVerifyMismatch, "9876543210", time.Now())
	ev.Remaining = 2
	require.NoError(t, sink.Write(context.Background(), []*models.AuthEvent{ev}))

	assert.Equal(t, "INSERT INTO auth_events", ch.query)
	require.Len(t, ch.rows, 1)
	assert.Len(t, ch.rows[0], 9)
	assert.Equal(t, "verify_mismatch", ch.rows[0][1])
	assert.Equal(t, int32(2), ch.rows[0][6])
}

type fakeBulk struct {
	body string
}

func (f *fakeBulk) Bulk(_ context.Context, body *bytes.Buffer) error {
	f.body = body.String()
	return nil
}

func TestElasticsearchSinkBuildsNDJSON(t *testing.T) {
	es := &fakeBulk{}
	sink := NewElasticsearchSink(es, "auth-events")

	a := NewEvent(models.EventOTPSent, "9876543210", time.Now())
	b := NewEvent(models.EventVerifySuccess, "9876543210", time.Now())
	require.NoError(t, sink.Write(context.Background(), []*models.AuthEvent{a, b}))

	scanner := bufio.NewScanner(bytes.NewBufferString(es.body))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 4)

	var meta map[string]map[string]string
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &meta))
	assert.Equal(t, "auth-events", meta["index"]["_index"])
	assert.Equal(t, a.EventID, meta["index"]["_id"])

	var doc models.AuthEvent
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &doc))
	assert.Equal(t, models.EventVerifySuccess, doc.EventType)
}

type fakeBatchProducer struct {
	topic  string
	keys   [][]byte
	values [][]byte
}

func (f *fakeBatchProducer) ProduceBatch(_ context.Context, topic string, keys, values [][]byte) error {
	f.topic = topic
	f.keys = keys
	f.values = values
	return nil
}

func TestKafkaSinkKeysByPhoneHash(t *testing.T) {
	p := &fakeBatchProducer{}
	sink := NewKafkaSink(p, "auth-events")

	ev := NewEvent(models.EventOTPCooldown, "9876543210", time.Now())
	ev.WaitSecs = 42
	require.NoError(t, sink.Write(context.Background(), []*models.AuthEvent{ev}))

	assert.Equal(t, "auth-events", p.topic)
	require.Len(t, p.keys, 1)
	assert.Equal(t, ev.PhoneHash, string(p.keys[0]))
	assert.Contains(t, string(p.values[0]), `"wait_seconds":42`)
}

func TestFlushReturnsSinkFailure(t *testing.T) {
	good := &memorySink{}
	bad := &memorySink{name: "clickhouse", err: errors.New("table missing")}
	r := NewRecorder([]Sink{good, bad}, 16, 100, time.Hour, zap.NewNop())
	defer r.Close(context.Background())

	batch := []*models.AuthEvent{
		NewEvent(models.EventOTPSent, "9876543210", time.Now()),
		NewEvent(models.EventVerifySuccess, "9876543210", time.Now()),
	}
	err := r.flush(batch)
	require.Error(t, err)
	assert.ErrorIs(t, err, bad.err)
	assert.Contains(t, err.Error(), "sink clickhouse")

	assert.Equal(t, 2, good.count())
	stats := r.Stats()
	assert.Equal(t, int64(2), stats.Written)
	assert.Equal(t, int64(2), stats.Failed)

	assert.NoError(t, r.flush(nil))
}

