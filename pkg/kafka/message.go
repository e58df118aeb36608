package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
)

type MessageType string

const (
	// inbound on the ledger topic
	TypeIdentifierResolve MessageType = "identifier.resolve"
	TypeImportCompleted   MessageType = "import.completed"

	// outbound on the entity topic
	TypeAliasConflict      MessageType = "alias.conflict"
	TypeRecomputeCompleted MessageType = "recompute.completed"
	TypeSignalChanged      MessageType = "signal.changed"
)

const (
	HeaderType        = "type"
	HeaderTraceParent = "traceparent"
)

// Envelope is the JSON body of every message canon reads or writes.
type Envelope struct {
	Type       MessageType     `json:"type"`
	ID         string          `json:"id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key         string
	Value       []byte
	Headers     map[string]string
	Partition   int
	Offset      int64
	Timestamp   time.Time
	Topic       string
	TraceParent string

	Envelope *Envelope
}

// ParseEnvelope decodes the body. A type header, when present, overrides the
// type in the body.
func (m *IncomingMessage) ParseEnvelope() error {
	var env Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return Permanent(fmt.Errorf("malformed envelope: %w", err))
	}
	if t := m.Headers[HeaderType]; t != "" {
		env.Type = MessageType(t)
	}
	if env.Type == "" {
		return Permanent(errors.New("message has no type"))
	}
	m.Envelope = &env
	return nil
}

func (m *IncomingMessage) Type() MessageType {
	if m.Envelope != nil {
		return m.Envelope.Type
	}
	return MessageType(m.Headers[HeaderType])
}

// Decode unmarshals the envelope payload into v.
func (m *IncomingMessage) Decode(v any) error {
	if m.Envelope == nil {
		if err := m.ParseEnvelope(); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(m.Envelope.Payload, v); err != nil {
		return Permanent(fmt.Errorf("malformed %s payload: %w", m.Envelope.Type, err))
	}
	return nil
}

type IdentifierResolve struct {
	RawIdentifiers []string `json:"raw_identifiers" validate:"required,min=1,dive,required"`
}

type AliasConflictEvent struct {
	RawIdentifier   string `json:"raw_identifier"`
	NormalizedName  string `json:"normalized_name"`
	MatchedEntityID string `json:"matched_entity_id"`
	AliasTargetID   string `json:"alias_target_id"`
}

type RecomputeCompletedEvent struct {
	RunID         string           `json:"run_id"`
	ImportBatchID string           `json:"import_batch_id"`
	AsOf          time.Time        `json:"as_of"`
	Status        models.RunStatus `json:"status"`
	EntityCount   int              `json:"entity_count"`
	FailedCount   int              `json:"failed_count"`
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
