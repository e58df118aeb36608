package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/redis"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-r.msgs:
		return m, nil
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeDLQ struct {
	mu      sync.Mutex
	entries []redis.DLQEntry
	// failures is how many Add calls fail before one succeeds
	failures int
	calls    int
}

func (d *fakeDLQ) Add(_ context.Context, entry *redis.DLQEntry) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls <= d.failures {
		return "", errors.New("redis: connection refused")
	}
	d.entries = append(d.entries, *entry)
	return "1-0", nil
}

func (d *fakeDLQ) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func envelope(t *testing.T, offset int64, msgType MessageType, payload any) kafka.Message {
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(Envelope{Type: msgType, ID: "evt", Payload: body})
	require.NoError(t, err)
	return kafka.Message{Topic: "ledger-events", Offset: offset, Value: data}
}

func TestConsumer_RetriesThenCommits(t *testing.T) {
	reader := newFakeReader(envelope(t, 7, TypeImportCompleted, models.ImportCompleted{ImportBatchID: "b1", CompletedAt: time.Now()}))

	var mu sync.Mutex
	calls := 0
	handler := func(_ context.Context, msg *IncomingMessage) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		assert.Equal(t, TypeImportCompleted, msg.Type())
		if calls < 3 {
			return errors.New("run in progress")
		}
		return nil
	}

	c := newConsumer(reader, ConsumerConfig{Topic: "ledger-events", MaxAttempts: 5, RetryBackoff: time.Millisecond}, testLogger(), handler, &fakeDLQ{})
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())

	assert.Equal(t, []int64{7}, reader.commits())
	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()
	assert.True(t, reader.closed)
}

func TestConsumer_PermanentErrorIsDeadLettered(t *testing.T) {
	reader := newFakeReader(
		kafka.Message{Offset: 1, Value: []byte("not json")},
		envelope(t, 2, TypeIdentifierResolve, IdentifierResolve{RawIdentifiers: []string{"A:B"}}),
	)
	dlq := &fakeDLQ{}

	handler := func(_ context.Context, msg *IncomingMessage) error {
		return Permanent(errors.New("validation failed"))
	}

	c := newConsumer(reader, ConsumerConfig{MaxAttempts: 5, RetryBackoff: time.Millisecond}, testLogger(), handler, dlq)
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())

	require.Equal(t, 2, dlq.count())
	assert.Equal(t, "unknown", dlq.entries[0].MessageType)
	assert.Equal(t, string(TypeIdentifierResolve), dlq.entries[1].MessageType)
	assert.Equal(t, 1, dlq.entries[1].Attempts)
}

func TestConsumer_WithoutDLQHoldsPartitionUntilHandled(t *testing.T) {
	reader := newFakeReader(
		envelope(t, 1, TypeImportCompleted, models.ImportCompleted{}),
		envelope(t, 2, TypeImportCompleted, models.ImportCompleted{}),
	)

	var mu sync.Mutex
	seen := map[int64]int{}
	handler := func(_ context.Context, msg *IncomingMessage) error {
		mu.Lock()
		defer mu.Unlock()
		seen[msg.Offset]++
		if msg.Offset == 1 && seen[1] <= 5 {
			return errors.New("database unavailable")
		}
		return nil
	}

	c := newConsumer(reader, ConsumerConfig{MaxAttempts: 2, RetryBackoff: time.Millisecond}, testLogger(), handler, nil)
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())

	// offset 2 is never committed ahead of offset 1
	assert.Equal(t, []int64{1, 2}, reader.commits())
	mu.Lock()
	assert.Equal(t, 6, seen[1])
	assert.Equal(t, 1, seen[2])
	mu.Unlock()
}

func TestConsumer_StopWhileFailingCommitsNothing(t *testing.T) {
	reader := newFakeReader(
		envelope(t, 1, TypeImportCompleted, models.ImportCompleted{}),
		envelope(t, 2, TypeImportCompleted, models.ImportCompleted{}),
	)

	var mu sync.Mutex
	seen := map[int64]int{}
	handler := func(_ context.Context, msg *IncomingMessage) error {
		mu.Lock()
		defer mu.Unlock()
		seen[msg.Offset]++
		if msg.Offset == 1 {
			return errors.New("database unavailable")
		}
		return nil
	}

	c := newConsumer(reader, ConsumerConfig{MaxAttempts: 2, RetryBackoff: time.Millisecond}, testLogger(), handler, nil)
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[1] >= 6
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())

	assert.Empty(t, reader.commits())
	mu.Lock()
	assert.Zero(t, seen[2])
	mu.Unlock()
}

func TestConsumer_RetriesDeadLetterWrite(t *testing.T) {
	reader := newFakeReader(
		kafka.Message{Offset: 1, Value: []byte("not json")},
		envelope(t, 2, TypeImportCompleted, models.ImportCompleted{}),
	)
	dlq := &fakeDLQ{failures: 3}

	handler := func(context.Context, *IncomingMessage) error { return nil }

	c := newConsumer(reader, ConsumerConfig{MaxAttempts: 2, RetryBackoff: time.Millisecond}, testLogger(), handler, dlq)
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())

	assert.Equal(t, []int64{1, 2}, reader.commits())
	assert.Equal(t, 1, dlq.count())
	dlq.mu.Lock()
	assert.Equal(t, 4, dlq.calls)
	dlq.mu.Unlock()
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducer_PublishAliasConflicts(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "entity-events", testLogger())

	matched, target := "ent-1", "ent-2"
	err := p.PublishAliasConflicts(context.Background(), []models.AuditFinding{
		{RawIdentifier: "Clean", AliasConflict: false},
		{
			RawIdentifier:   "Mc'Donald's",
			Parsed:          models.ParsedHierarchy{Customer: "McDonald's", NormalizedName: "McDonald's"},
			MatchedEntityID: &matched,
			AliasTargetID:   &target,
			AliasConflict:   true,
		},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "entity-events", msg.Topic)
	assert.Equal(t, "Mc'Donald's", string(msg.Key))

	incoming := &IncomingMessage{Value: msg.Value, Headers: map[string]string{HeaderType: string(msg.Headers[0].Value)}}
	var event AliasConflictEvent
	require.NoError(t, incoming.Decode(&event))
	assert.Equal(t, TypeAliasConflict, incoming.Type())
	assert.Equal(t, "ent-1", event.MatchedEntityID)
	assert.Equal(t, "ent-2", event.AliasTargetID)
	assert.Equal(t, "McDonald's", event.NormalizedName)
}

func TestProducer_WriteFailure(t *testing.T) {
	p := newProducer(&fakeWriter{err: errors.New("broker down")}, "entity-events", testLogger())

	err := p.SignalChanged(context.Background(), models.SignalChange{EntityID: "ent-1"})

	assert.Error(t, err)
}

func TestIncomingMessage_HeaderTypeWins(t *testing.T) {
	msg := envelope(t, 1, TypeIdentifierResolve, IdentifierResolve{})
	incoming := &IncomingMessage{Value: msg.Value, Headers: map[string]string{HeaderType: string(TypeImportCompleted)}}

	require.NoError(t, incoming.ParseEnvelope())
	assert.Equal(t, TypeImportCompleted, incoming.Type())
}

func TestIncomingMessage_MissingType(t *testing.T) {
	incoming := &IncomingMessage{Value: []byte(`{"payload":{}}`), Headers: map[string]string{}}

	err := incoming.ParseEnvelope()
	assert.True(t, IsPermanent(err))
}
