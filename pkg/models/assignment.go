package models

import "time"

// AssignmentPeriod is one interval during which owner held the account.
// EndedAt is nil while the period is open.
type AssignmentPeriod struct {
	ID         string     `json:"id" db:"id"`
	EntityID   string     `json:"entity_id" db:"entity_id"`
	OwnerName  string     `json:"owner_name" db:"owner_name"`
	AssignedAt time.Time  `json:"assigned_at" db:"assigned_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	AssignedBy *string    `json:"assigned_by,omitempty" db:"assigned_by"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

func (p *AssignmentPeriod) IsOpen() bool {
	return p.EndedAt == nil
}

// OwnerActivity is a ledger row reduced to what backfill needs.
type OwnerActivity struct {
	RowID       int64     `db:"id"`
	AirDate     time.Time `db:"air_date"`
	SalesPerson string    `db:"sales_person"`
}

type BackfillReport struct {
	Scanned   int `json:"scanned"`
	Opened    int `json:"opened"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}
