package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// LedgerRow is a read-only view of one spot in the ledger.
type LedgerRow struct {
	ID            int64           `json:"id" db:"id"`
	BillCode      string          `json:"bill_code" db:"bill_code"`
	CustomerID    *string         `json:"customer_id,omitempty" db:"customer_id"`
	AgencyID      *string         `json:"agency_id,omitempty" db:"agency_id"`
	MarketName    *string         `json:"market_name,omitempty" db:"market_name"`
	AirDate       time.Time       `json:"air_date" db:"air_date"`
	GrossRate     decimal.Decimal `json:"gross_rate" db:"gross_rate"`
	RevenueType   *string         `json:"revenue_type,omitempty" db:"revenue_type"`
	SalesPerson   *string         `json:"sales_person,omitempty" db:"sales_person"`
	ImportBatchID *string         `json:"import_batch_id,omitempty" db:"import_batch_id"`
}

type EntityMetrics struct {
	EntityID          string          `json:"entity_id" db:"entity_id"`
	EntityType        EntityType      `json:"entity_type" db:"entity_type"`
	Markets           pq.StringArray  `json:"markets" db:"markets"`
	LastActive        *time.Time      `json:"last_active,omitempty" db:"last_active"`
	TotalRevenue      decimal.Decimal `json:"total_revenue" db:"total_revenue"`
	TransactionCount  int64           `json:"transaction_count" db:"transaction_count"`
	AgencyRoutedCount int64           `json:"agency_routed_count" db:"agency_routed_count"`
	ComputedAt        time.Time       `json:"computed_at" db:"computed_at"`
}

// ImportCompleted is emitted by the ingestion pipeline once a batch is loaded.
type ImportCompleted struct {
	ImportBatchID string    `json:"import_batch_id" validate:"required"`
	CompletedAt   time.Time `json:"completed_at" validate:"required"`
}
