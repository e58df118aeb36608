package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SignalKind string

const (
	SignalChurned    SignalKind = "churned"
	SignalGoneQuiet  SignalKind = "gone_quiet"
	SignalDeclining  SignalKind = "declining"
	SignalNewAccount SignalKind = "new_account"
	SignalGrowing    SignalKind = "growing"
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalChurned, SignalGoneQuiet, SignalDeclining, SignalNewAccount, SignalGrowing:
		return true
	}
	return false
}

type EntitySignal struct {
	EntityID        string          `json:"entity_id" db:"entity_id"`
	SignalKind      SignalKind      `json:"signal_kind" db:"signal_kind"`
	Label           string          `json:"label" db:"label"`
	Priority        int             `json:"priority" db:"priority"`
	TrailingRevenue decimal.Decimal `json:"trailing_revenue" db:"trailing_revenue"`
	PriorRevenue    decimal.Decimal `json:"prior_revenue" db:"prior_revenue"`
	ComputedAt      time.Time       `json:"computed_at" db:"computed_at"`
}

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
		return true
	}
	return false
}

// RecomputeRun is the bookkeeping row of one recomputation pass.
type RecomputeRun struct {
	ID            string     `json:"id" db:"id"`
	ImportBatchID string     `json:"import_batch_id" db:"import_batch_id"`
	AsOf          time.Time  `json:"as_of" db:"as_of"`
	Status        RunStatus  `json:"status" db:"status"`
	EntityCount   int        `json:"entity_count" db:"entity_count"`
	FailedCount   int        `json:"failed_count" db:"failed_count"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	Error         *string    `json:"error,omitempty" db:"error"`
}

// SignalChange reports that an entity's signal set differs from the last run.
type SignalChange struct {
	EntityID   string       `json:"entity_id"`
	EntityType EntityType   `json:"entity_type"`
	Previous   []SignalKind `json:"previous"`
	Current    []SignalKind `json:"current"`
	AsOf       time.Time    `json:"as_of"`
}
