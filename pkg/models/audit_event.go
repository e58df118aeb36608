package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type AuditAction string

const (
	AuditAliasCreated       AuditAction = "alias_created"
	AuditAliasDeactivated   AuditAction = "alias_deactivated"
	AuditEntityMerged       AuditAction = "entity_merged"
	AuditEntityDeactivated  AuditAction = "entity_deactivated"
	AuditPrimaryChanged     AuditAction = "primary_changed"
	AuditPrimaryCleared     AuditAction = "primary_cleared"
	AuditRecordDeactivated  AuditAction = "record_deactivated"
	AuditAssignmentOpened   AuditAction = "assignment_opened"
	AuditAssignmentClosed   AuditAction = "assignment_closed"
	AuditCanonicalMapEdited AuditAction = "canonical_map_edited"
)

// AuditEvent is one administrative or invariant-driven change.
type AuditEvent interface {
	Action() AuditAction
	// Subject is the entity the event is filed under, empty for map edits.
	Subject() string
}

type AliasCreated struct {
	AliasID        string     `json:"alias_id"`
	AliasName      string     `json:"alias_name"`
	EntityType     EntityType `json:"entity_type"`
	TargetEntityID string     `json:"target_entity_id"`
}

func (AliasCreated) Action() AuditAction { return AuditAliasCreated }
func (e AliasCreated) Subject() string   { return e.TargetEntityID }

type AliasDeactivated struct {
	AliasID        string `json:"alias_id"`
	AliasName      string `json:"alias_name"`
	TargetEntityID string `json:"target_entity_id"`
}

func (AliasDeactivated) Action() AuditAction { return AuditAliasDeactivated }
func (e AliasDeactivated) Subject() string   { return e.TargetEntityID }

type EntityMerged struct {
	SourceEntityID string `json:"source_entity_id"`
	TargetEntityID string `json:"target_entity_id"`
	AliasID        string `json:"alias_id"`
	RepointedRows  int64  `json:"repointed_rows"`
}

func (EntityMerged) Action() AuditAction { return AuditEntityMerged }
func (e EntityMerged) Subject() string   { return e.SourceEntityID }

type EntityDeactivated struct {
	EntityID string `json:"entity_id"`
	Reason   string `json:"reason,omitempty"`
}

func (EntityDeactivated) Action() AuditAction { return AuditEntityDeactivated }
func (e EntityDeactivated) Subject() string   { return e.EntityID }

type PrimaryChanged struct {
	EntityID         string     `json:"entity_id"`
	Kind             RecordKind `json:"kind"`
	RecordID         string     `json:"record_id"`
	PreviousRecordID *string    `json:"previous_record_id,omitempty"`
	// Promoted is set when the record became primary because the previous one was deactivated.
	Promoted bool `json:"promoted,omitempty"`
}

func (PrimaryChanged) Action() AuditAction { return AuditPrimaryChanged }
func (e PrimaryChanged) Subject() string   { return e.EntityID }

type PrimaryCleared struct {
	EntityID         string     `json:"entity_id"`
	Kind             RecordKind `json:"kind"`
	PreviousRecordID string     `json:"previous_record_id"`
}

func (PrimaryCleared) Action() AuditAction { return AuditPrimaryCleared }
func (e PrimaryCleared) Subject() string   { return e.EntityID }

type RecordDeactivated struct {
	EntityID string     `json:"entity_id"`
	Kind     RecordKind `json:"kind"`
	RecordID string     `json:"record_id"`
}

func (RecordDeactivated) Action() AuditAction { return AuditRecordDeactivated }
func (e RecordDeactivated) Subject() string   { return e.EntityID }

type AssignmentOpened struct {
	EntityID   string    `json:"entity_id"`
	PeriodID   string    `json:"period_id"`
	OwnerName  string    `json:"owner_name"`
	AssignedAt time.Time `json:"assigned_at"`
}

func (AssignmentOpened) Action() AuditAction { return AuditAssignmentOpened }
func (e AssignmentOpened) Subject() string   { return e.EntityID }

type AssignmentClosed struct {
	EntityID  string    `json:"entity_id"`
	PeriodID  string    `json:"period_id"`
	OwnerName string    `json:"owner_name"`
	EndedAt   time.Time `json:"ended_at"`
}

func (AssignmentClosed) Action() AuditAction { return AuditAssignmentClosed }
func (e AssignmentClosed) Subject() string   { return e.EntityID }

type CanonicalMapEdited struct {
	MapKind  EntityType `json:"map_kind"`
	Alias    string     `json:"alias_name"`
	Previous *string    `json:"previous,omitempty"`
	// Canonical is nil when the mapping was removed.
	Canonical *string `json:"canonical,omitempty"`
}

func (CanonicalMapEdited) Action() AuditAction { return AuditCanonicalMapEdited }
func (CanonicalMapEdited) Subject() string     { return "" }

type AuditLogEntry struct {
	ID          int64           `json:"id" db:"id"`
	EntityID    *string         `json:"entity_id,omitempty" db:"entity_id"`
	Action      AuditAction     `json:"action" db:"action"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	PerformedBy string          `json:"performed_by" db:"performed_by"`
	PerformedAt time.Time       `json:"performed_at" db:"performed_at"`
}

func NewAuditLogEntry(ev AuditEvent, performedBy string, at time.Time) (AuditLogEntry, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return AuditLogEntry{}, fmt.Errorf("failed to encode %s audit event: %w", ev.Action(), err)
	}

	entry := AuditLogEntry{
		Action:      ev.Action(),
		Payload:     payload,
		PerformedBy: performedBy,
		PerformedAt: at,
	}
	if subject := ev.Subject(); subject != "" {
		entry.EntityID = &subject
	}
	return entry, nil
}

// Event decodes the payload back into its typed variant.
func (e AuditLogEntry) Event() (AuditEvent, error) {
	var ev AuditEvent
	switch e.Action {
	case AuditAliasCreated:
		ev = &AliasCreated{}
	case AuditAliasDeactivated:
		ev = &AliasDeactivated{}
	case AuditEntityMerged:
		ev = &EntityMerged{}
	case AuditEntityDeactivated:
		ev = &EntityDeactivated{}
	case AuditPrimaryChanged:
		ev = &PrimaryChanged{}
	case AuditPrimaryCleared:
		ev = &PrimaryCleared{}
	case AuditRecordDeactivated:
		ev = &RecordDeactivated{}
	case AuditAssignmentOpened:
		ev = &AssignmentOpened{}
	case AuditAssignmentClosed:
		ev = &AssignmentClosed{}
	case AuditCanonicalMapEdited:
		ev = &CanonicalMapEdited{}
	default:
		return nil, fmt.Errorf("unknown audit action %q", e.Action)
	}

	if err := json.Unmarshal(e.Payload, ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s audit event: %w", e.Action, err)
	}
	return ev, nil
}
