package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/metrics"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

var codecs = map[string]kafka.Compression{
	"none":   0,
	"gzip":   kafka.Gzip,
	"snappy": kafka.Snappy,
	"lz4":    kafka.Lz4,
	"zstd":   kafka.Zstd,
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	// Compression is none, gzip, snappy, lz4 or zstd; unknown values fall back to snappy.
	Compression string
}

// Producer emits canon's outbound events onto a single topic.
type Producer struct {
	writer messageWriter
	topic  string
	logger ectologger.Logger
	now    func() time.Time
}

func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	codec, ok := codecs[cfg.Compression]
	if !ok {
		codec = kafka.Snappy
	}
	return newProducer(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            codec,
		AllowAutoTopicCreation: true,
	}, cfg.Topic, logger)
}

func newProducer(writer messageWriter, topic string, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: writer,
		topic:  topic,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (p *Producer) Close() error { return p.writer.Close() }

// Publish wraps payload in an Envelope. The hash balancer puts equal keys on
// one partition, so events for the same entity stay ordered.
func (p *Producer) Publish(ctx context.Context, msgType MessageType, key string, payload any) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.Publish")
	defer span.End()

	msg, err := p.encode(ctx, msgType, key, payload)
	if err == nil {
		err = p.writer.WriteMessages(ctx, msg)
	}
	if err != nil {
		metrics.MessagesPublished.WithLabelValues(string(msgType), "failed").Inc()
		tracing.RecordError(span, err)
		p.logger.WithContext(ctx).WithError(err).WithField("type", msgType).Error("Failed to publish event")
		return err
	}

	metrics.MessagesPublished.WithLabelValues(string(msgType), "success").Inc()
	p.logger.WithContext(ctx).WithFields(map[string]any{"type": msgType, "key": key}).Debug("Published event")
	return nil
}

func (p *Producer) encode(ctx context.Context, msgType MessageType, key string, payload any) (kafka.Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	value, err := json.Marshal(Envelope{
		Type:       msgType,
		ID:         uuid.NewString(),
		OccurredAt: p.now(),
		Payload:    body,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s envelope: %w", msgType, err)
	}

	headers := []kafka.Header{{Key: HeaderType, Value: []byte(msgType)}}
	if tp := tracing.GetTraceParent(ctx); tp != "" {
		headers = append(headers, kafka.Header{Key: HeaderTraceParent, Value: []byte(tp)})
	}
	return kafka.Message{Topic: p.topic, Key: []byte(key), Value: value, Headers: headers}, nil
}

// PublishAliasConflicts emits one alias.conflict event per conflicting finding.
func (p *Producer) PublishAliasConflicts(ctx context.Context, findings []models.AuditFinding) error {
	for _, f := range findings {
		if !f.AliasConflict {
			continue
		}
		event := AliasConflictEvent{
			RawIdentifier:  f.RawIdentifier,
			NormalizedName: f.Parsed.NormalizedName,
		}
		if f.MatchedEntityID != nil {
			event.MatchedEntityID = *f.MatchedEntityID
		}
		if f.AliasTargetID != nil {
			event.AliasTargetID = *f.AliasTargetID
		}
		if err := p.Publish(ctx, TypeAliasConflict, f.RawIdentifier, event); err != nil {
			return err
		}
	}
	return nil
}

func (p *Producer) SignalChanged(ctx context.Context, change models.SignalChange) error {
	return p.Publish(ctx, TypeSignalChanged, change.EntityID, change)
}

func (p *Producer) RecomputeCompleted(ctx context.Context, run models.RecomputeRun) error {
	return p.Publish(ctx, TypeRecomputeCompleted, run.ImportBatchID, RecomputeCompletedEvent{
		RunID:         run.ID,
		ImportBatchID: run.ImportBatchID,
		AsOf:          run.AsOf,
		Status:        run.Status,
		EntityCount:   run.EntityCount,
		FailedCount:   run.FailedCount,
	})
}
