package models

import (
	"fmt"
	"time"
)

type RecordKind string

const (
	RecordKindContact RecordKind = "contact"
	RecordKindAddress RecordKind = "address"
	RecordKindSector  RecordKind = "sector"
)

func (k RecordKind) Valid() bool {
	_, ok := kindSpecs[k]
	return ok
}

// KindSpec captures what differs between the related-record tables.
type KindSpec struct {
	Kind  RecordKind
	Table string
	// ValueExpr is the column copied into the entity cache when the record is primary.
	ValueExpr  string
	CacheField CacheField
}

var kindSpecs = map[RecordKind]KindSpec{
	RecordKindContact: {Kind: RecordKindContact, Table: "entity_contacts", ValueExpr: "id::text", CacheField: CacheFieldPrimaryContact},
	RecordKindAddress: {Kind: RecordKindAddress, Table: "entity_addresses", ValueExpr: "id::text", CacheField: CacheFieldPrimaryAddress},
	RecordKindSector:  {Kind: RecordKindSector, Table: "entity_sectors", ValueExpr: "sector_id", CacheField: CacheFieldSector},
}

func (k RecordKind) Spec() (KindSpec, error) {
	spec, ok := kindSpecs[k]
	if !ok {
		return KindSpec{}, fmt.Errorf("unknown record kind %q", k)
	}
	return spec, nil
}

func RecordKinds() []RecordKind {
	return []RecordKind{RecordKindContact, RecordKindAddress, RecordKindSector}
}

// RelatedRecord is the part of a contact, address or sector membership row the
// invariant manager reasons about.
type RelatedRecord struct {
	ID        string     `json:"id" db:"id"`
	Kind      RecordKind `json:"kind" db:"-"`
	EntityID  string     `json:"entity_id" db:"entity_id"`
	Value     *string    `json:"value,omitempty" db:"value"`
	IsPrimary bool       `json:"is_primary" db:"is_primary"`
	IsActive  bool       `json:"is_active" db:"is_active"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// RecordInput is the payload of a new related record.
type RecordInput interface {
	Kind() RecordKind
	// Columns returns the kind specific columns and their values.
	Columns() ([]string, []any)
}

type ContactInput struct {
	Name  string  `json:"name" validate:"required,max=200"`
	Email *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone *string `json:"phone,omitempty" validate:"omitempty,max=40"`
	Title *string `json:"title,omitempty" validate:"omitempty,max=120"`
}

func (ContactInput) Kind() RecordKind { return RecordKindContact }

func (c ContactInput) Columns() ([]string, []any) {
	return []string{"name", "email", "phone", "title"}, []any{c.Name, c.Email, c.Phone, c.Title}
}

type AddressInput struct {
	Line1      string  `json:"line1" validate:"required,max=200"`
	Line2      *string `json:"line2,omitempty" validate:"omitempty,max=200"`
	City       string  `json:"city" validate:"required,max=120"`
	State      *string `json:"state,omitempty" validate:"omitempty,max=60"`
	PostalCode *string `json:"postal_code,omitempty" validate:"omitempty,max=20"`
}

func (AddressInput) Kind() RecordKind { return RecordKindAddress }

func (a AddressInput) Columns() ([]string, []any) {
	return []string{"line1", "line2", "city", "state", "postal_code"}, []any{a.Line1, a.Line2, a.City, a.State, a.PostalCode}
}

type SectorInput struct {
	SectorID string `json:"sector_id" validate:"required,max=64"`
}

func (SectorInput) Kind() RecordKind { return RecordKindSector }

func (s SectorInput) Columns() ([]string, []any) {
	return []string{"sector_id"}, []any{s.SectorID}
}

// CacheValue is what the entity cache should hold when rec is primary.
func CacheValue(spec KindSpec, rec *RelatedRecord) *string {
	if rec == nil {
		return nil
	}
	if spec.Kind == RecordKindSector {
		return rec.Value
	}
	id := rec.ID
	return &id
}
