package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	appctx "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/context"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/metrics"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/redis"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

const (
	defaultMaxAttempts  = 5
	defaultRetryBackoff = 500 * time.Millisecond
	maxSettleBackoff    = 30 * time.Second
	unknownType         = "unknown"
)

// MessageHandler handles one decoded message. Returning a Permanent error
// skips the remaining retries.
type MessageHandler func(ctx context.Context, msg *IncomingMessage) error

// DeadLetterer parks messages the handler gave up on.
type DeadLetterer interface {
	Add(ctx context.Context, entry *redis.DLQEntry) (string, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	// MaxAttempts bounds handler calls per message before it is dead-lettered.
	MaxAttempts int
	// RetryBackoff is the first wait between attempts; it doubles each retry.
	RetryBackoff time.Duration
}

// Consumer reads one topic as part of a group and hands each message to a
// single handler, one at a time, committing only once the message is either
// handled or parked in the dead-letter stream.
type Consumer struct {
	reader  messageReader
	cfg     ConsumerConfig
	handler MessageHandler
	dlq     DeadLetterer
	logger  ectologger.Logger

	stop context.CancelFunc
	done sync.WaitGroup
}

// NewConsumer joins cfg.ConsumerGroup. dlq may be nil, in which case a
// message that keeps failing is retried in place and holds its partition
// until it succeeds.
func NewConsumer(cfg ConsumerConfig, logger ectologger.Logger, handler MessageHandler, dlq DeadLetterer) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})
	return newConsumer(reader, cfg, logger, handler, dlq)
}

func newConsumer(reader messageReader, cfg ConsumerConfig, logger ectologger.Logger, handler MessageHandler, dlq DeadLetterer) *Consumer {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	return &Consumer{reader: reader, cfg: cfg, handler: handler, dlq: dlq, logger: logger}
}

// Start runs the fetch loop in the background until Stop or ctx ends.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.stop = context.WithCancel(ctx)
	c.done.Add(1)
	go func() {
		defer c.done.Done()
		c.run(ctx)
	}()
	c.logger.WithContext(ctx).WithField("topic", c.cfg.Topic).Info("Kafka consumer started")
	return nil
}

// Stop lets the in-flight message finish, then closes the reader.
func (c *Consumer) Stop() error {
	if c.stop != nil {
		c.stop()
	}
	c.done.Wait()
	return c.reader.Close()
}

func (c *Consumer) Health() bool { return c.reader != nil }

func (c *Consumer) run(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		switch {
		case err == nil:
			c.consume(ctx, msg)
		case ctx.Err() != nil || errors.Is(err, io.EOF):
			c.logger.WithContext(ctx).Info("Kafka consumer stopping")
			return
		default:
			c.logger.WithContext(ctx).WithError(err).Error("Failed to fetch message")
			if !sleep(ctx, c.cfg.RetryBackoff) {
				return
			}
		}
	}
}

// consume drives one message to a settled state, handled or dead-lettered,
// before the loop may fetch the next. Committing a later offset would commit
// past this one, so an unsettled message is retried in place until ctx ends.
func (c *Consumer) consume(ctx context.Context, msg kafka.Message) {
	in := incomingFrom(msg)
	ctx = appctx.SetSource(ctx, appctx.SourceKafka)
	ctx = tracing.ExtractTraceParent(ctx, in.TraceParent)
	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.consume")
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	wait := c.cfg.RetryBackoff
	for {
		attempts, err := c.attempt(ctx, in, log)
		msgType := string(in.Type())
		if msgType == "" {
			msgType = unknownType
		}

		if err == nil {
			metrics.MessagesConsumed.WithLabelValues(msgType, "success").Inc()
			c.commit(ctx, log, msg)
			return
		}
		tracing.RecordError(span, err)
		if ctx.Err() != nil {
			return
		}

		if c.dlq != nil {
			c.deadLetter(ctx, log, msg, msgType, attempts, err)
			return
		}
		metrics.MessagesConsumed.WithLabelValues(msgType, "failed").Inc()
		log.WithError(err).Error("Message failed with no dead-letter stream, retrying without advancing")
		if !backoff(ctx, &wait) {
			return
		}
	}
}

// deadLetter parks msg and commits it. A failed write is retried; the
// offset never advances past a message that is neither handled nor parked.
func (c *Consumer) deadLetter(ctx context.Context, log ectologger.Logger, msg kafka.Message, msgType string, attempts int, cause error) {
	entry := &redis.DLQEntry{
		Topic:        msg.Topic,
		Partition:    msg.Partition,
		Offset:       msg.Offset,
		Key:          string(msg.Key),
		MessageType:  msgType,
		Value:        string(msg.Value),
		ErrorMessage: cause.Error(),
		Attempts:     attempts,
	}

	wait := c.cfg.RetryBackoff
	for {
		_, err := c.dlq.Add(ctx, entry)
		if err == nil {
			metrics.MessagesConsumed.WithLabelValues(msgType, "dead_lettered").Inc()
			log.WithError(cause).Warn("Message dead-lettered")
			c.commit(ctx, log, msg)
			return
		}
		metrics.MessagesConsumed.WithLabelValues(msgType, "failed").Inc()
		log.WithError(err).Error("Dead-lettering failed, retrying without advancing")
		if !backoff(ctx, &wait) {
			return
		}
	}
}

// attempt calls the handler with exponential backoff. A message whose
// envelope does not parse is never handed to it.
func (c *Consumer) attempt(ctx context.Context, in *IncomingMessage, log ectologger.Logger) (int, error) {
	if err := in.ParseEnvelope(); err != nil {
		return 0, err
	}
	wait := c.cfg.RetryBackoff
	for n := 1; ; n++ {
		err := c.handler(ctx, in)
		if err == nil || IsPermanent(err) || n >= c.cfg.MaxAttempts || ctx.Err() != nil {
			return n, err
		}
		log.WithError(err).Warnf("Handler attempt %d of %d failed", n, c.cfg.MaxAttempts)
		if !sleep(ctx, wait) {
			return n, err
		}
		wait *= 2
	}
}

func (c *Consumer) commit(ctx context.Context, log ectologger.Logger, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.WithError(err).Error("Failed to commit offset")
	}
}

func incomingFrom(msg kafka.Message) *IncomingMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &IncomingMessage{
		Key:         string(msg.Key),
		Value:       msg.Value,
		Headers:     headers,
		Partition:   msg.Partition,
		Offset:      msg.Offset,
		Timestamp:   msg.Time,
		Topic:       msg.Topic,
		TraceParent: headers[HeaderTraceParent],
	}
}

// backoff sleeps for *wait then doubles it up to maxSettleBackoff.
func backoff(ctx context.Context, wait *time.Duration) bool {
	if !sleep(ctx, *wait) {
		return false
	}
	*wait = min(*wait*2, maxSettleBackoff)
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
