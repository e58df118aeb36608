package models

import "time"

type EntityType string

const (
	EntityTypeAgency   EntityType = "agency"
	EntityTypeCustomer EntityType = "customer"
)

func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeAgency, EntityTypeCustomer:
		return true
	}
	return false
}

// Entity is an agency or customer. Entities are never hard-deleted.
type Entity struct {
	ID               string     `json:"id" db:"id"`
	EntityType       EntityType `json:"entity_type" db:"entity_type"`
	Name             string     `json:"name" db:"name"`
	NormalizedName   string     `json:"normalized_name" db:"normalized_name"`
	IsActive         bool       `json:"is_active" db:"is_active"`
	SectorID         *string    `json:"sector_id,omitempty" db:"sector_id"`
	PrimaryContactID *string    `json:"primary_contact_id,omitempty" db:"primary_contact_id"`
	PrimaryAddressID *string    `json:"primary_address_id,omitempty" db:"primary_address_id"`
	AssignedTo       *string    `json:"assigned_to,omitempty" db:"assigned_to"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
	DeactivatedAt    *time.Time `json:"deactivated_at,omitempty" db:"deactivated_at"`
}

// CacheField names a denormalized scalar on the entities row.
type CacheField string

const (
	CacheFieldSector         CacheField = "sector_id"
	CacheFieldPrimaryContact CacheField = "primary_contact_id"
	CacheFieldPrimaryAddress CacheField = "primary_address_id"
	CacheFieldAssignedTo     CacheField = "assigned_to"
)

func (f CacheField) Valid() bool {
	switch f {
	case CacheFieldSector, CacheFieldPrimaryContact, CacheFieldPrimaryAddress, CacheFieldAssignedTo:
		return true
	}
	return false
}

// Value reads the cached scalar for f off the entity.
func (e *Entity) Value(f CacheField) *string {
	switch f {
	case CacheFieldSector:
		return e.SectorID
	case CacheFieldPrimaryContact:
		return e.PrimaryContactID
	case CacheFieldPrimaryAddress:
		return e.PrimaryAddressID
	case CacheFieldAssignedTo:
		return e.AssignedTo
	}
	return nil
}

// SetValue writes the cached scalar for f on the entity.
func (e *Entity) SetValue(f CacheField, v *string) {
	switch f {
	case CacheFieldSector:
		e.SectorID = v
	case CacheFieldPrimaryContact:
		e.PrimaryContactID = v
	case CacheFieldPrimaryAddress:
		e.PrimaryAddressID = v
	case CacheFieldAssignedTo:
		e.AssignedTo = v
	}
}

// EntityRef identifies an entity referenced from the ledger.
type EntityRef struct {
	ID   string     `json:"id" db:"entity_id"`
	Type EntityType `json:"entity_type" db:"entity_type"`
}
