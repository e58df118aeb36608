package recompute

import (
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/shopspring/decimal"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
)

// Aggregate computes the materialized metrics of one entity from its ledger
// rows. Rows whose revenue type is in excluded (case-insensitive) still count
// as transactions but add nothing to revenue.
func Aggregate(ref models.EntityRef, rows []models.LedgerRow, asOf time.Time, excluded []string) models.EntityMetrics {
	m := models.EntityMetrics{
		EntityID:     ref.ID,
		EntityType:   ref.Type,
		Markets:      []string{},
		TotalRevenue: decimal.Zero,
		ComputedAt:   asOf.UTC(),
	}

	excluded = normalizeRevenueTypes(excluded)
	markets := map[string]struct{}{}
	for _, row := range rows {
		m.TransactionCount++

		if row.MarketName != nil {
			if name := strings.TrimSpace(*row.MarketName); name != "" {
				markets[name] = struct{}{}
			}
		}
		if m.LastActive == nil || row.AirDate.After(*m.LastActive) {
			at := row.AirDate
			m.LastActive = &at
		}
		if isCash(row, excluded) {
			m.TotalRevenue = m.TotalRevenue.Add(row.GrossRate)
		}
		if ref.Type == models.EntityTypeCustomer && row.AgencyID != nil {
			m.AgencyRoutedCount++
		}
	}

	for name := range markets {
		m.Markets = append(m.Markets, name)
	}
	sort.Strings(m.Markets)
	return m
}

// CashRows drops rows whose revenue type is excluded.
func CashRows(rows []models.LedgerRow, excluded []string) []models.LedgerRow {
	excluded = normalizeRevenueTypes(excluded)
	return ectolinq.Filter(rows, func(row models.LedgerRow) bool {
		return isCash(row, excluded)
	})
}

func isCash(row models.LedgerRow, excluded []string) bool {
	if row.RevenueType == nil {
		return true
	}
	return !ectolinq.Contains(excluded, strings.ToLower(strings.TrimSpace(*row.RevenueType)))
}

func normalizeRevenueTypes(types []string) []string {
	return ectolinq.Map(types, func(t string) string {
		return strings.ToLower(strings.TrimSpace(t))
	})
}
