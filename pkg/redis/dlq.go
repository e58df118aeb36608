package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

const (
	DefaultDLQStream = "canon:dlq"

	// dlqMaxLen is approximate; XADD trims the oldest entries past it.
	dlqMaxLen    = 10000
	dlqListLimit = 100
	fieldEntry   = "entry"
	fieldMsgType = "message_type"
)

var errMalformedEntry = errors.New("malformed dead-letter entry")

// DLQEntry is a consumed message the consumer gave up on, with enough of
// its origin to replay it.
type DLQEntry struct {
	ID           string    `json:"id"`
	StreamID     string    `json:"stream_id,omitempty"`
	Topic        string    `json:"topic"`
	Partition    int       `json:"partition"`
	Offset       int64     `json:"offset"`
	Key          string    `json:"key"`
	MessageType  string    `json:"message_type"`
	Value        string    `json:"value"`
	ErrorMessage string    `json:"error_message"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"created_at"`
	TraceID      string    `json:"trace_id,omitempty"`
}

// DeadLetterQueue is a capped Redis stream of DLQEntry values.
type DeadLetterQueue struct {
	client *Client
	stream string
	logger ectologger.Logger
}

func NewDeadLetterQueue(client *Client, stream string, logger ectologger.Logger) *DeadLetterQueue {
	if stream == "" {
		stream = DefaultDLQStream
	}
	return &DeadLetterQueue{client: client, stream: stream, logger: logger}
}

// Add stamps the entry and appends it, returning the stream ID.
func (d *DeadLetterQueue) Add(ctx context.Context, entry *DLQEntry) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "DLQ.Add")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.TraceID = tracing.GetTraceID(ctx)

	raw, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("encode dead letter: %w", err)
	}

	id, err := d.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: d.stream,
		MaxLen: dlqMaxLen,
		Approx: true,
		Values: []any{fieldEntry, string(raw), fieldMsgType, entry.MessageType},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("append dead letter to %s: %w", d.stream, err)
	}

	d.logger.WithContext(ctx).WithFields(map[string]any{
		"stream_id":    id,
		"message_type": entry.MessageType,
		"offset":       entry.Offset,
	}).Warn("Message parked in dead-letter stream")
	return id, nil
}

// List returns up to count entries, newest first. Entries that do not decode
// are logged and skipped.
func (d *DeadLetterQueue) List(ctx context.Context, count int64) ([]DLQEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "DLQ.List")
	defer span.End()

	if count <= 0 {
		count = dlqListLimit
	}
	msgs, err := d.client.rdb.XRevRangeN(ctx, d.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", d.stream, err)
	}

	out := make([]DLQEntry, 0, len(msgs))
	for _, msg := range msgs {
		entry, err := decodeEntry(msg)
		if err != nil {
			d.logger.WithContext(ctx).WithError(err).Warnf("Skipping dead letter %s", msg.ID)
			continue
		}
		out = append(out, *entry)
	}
	return out, nil
}

// Get returns nil, nil when streamID is not in the stream.
func (d *DeadLetterQueue) Get(ctx context.Context, streamID string) (*DLQEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "DLQ.Get")
	defer span.End()

	msgs, err := d.client.rdb.XRange(ctx, d.stream, streamID, streamID).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s at %s: %w", d.stream, streamID, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return decodeEntry(msgs[0])
}

// Delete reports whether the entry existed.
func (d *DeadLetterQueue) Delete(ctx context.Context, streamID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "DLQ.Delete")
	defer span.End()

	n, err := d.client.rdb.XDel(ctx, d.stream, streamID).Result()
	if err != nil {
		return false, fmt.Errorf("delete %s from %s: %w", streamID, d.stream, err)
	}
	return n > 0, nil
}

func (d *DeadLetterQueue) Count(ctx context.Context) (int64, error) {
	return d.client.rdb.XLen(ctx, d.stream).Result()
}

func decodeEntry(msg redis.XMessage) (*DLQEntry, error) {
	raw, ok := msg.Values[fieldEntry].(string)
	if !ok {
		return nil, errMalformedEntry
	}
	var entry DLQEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedEntry, err)
	}
	entry.StreamID = msg.ID
	return &entry, nil
}
