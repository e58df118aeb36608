package signals

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
)

const day = 24 * time.Hour

// Window summarizes an entity's cash revenue around asOf. Rows dated after
// asOf are ignored.
type Window struct {
	Trailing      decimal.Decimal
	Prior         decimal.Decimal
	TrailingCount int
	LookbackCount int
	FirstActivity time.Time
	HasActivity   bool
	trailingStart time.Time
	asOf          time.Time
}

func Summarize(rows []models.LedgerRow, asOf time.Time, cfg Config) Window {
	trailingStart := asOf.Add(-time.Duration(cfg.TrailingDays) * day)
	priorStart := trailingStart.Add(-time.Duration(cfg.TrailingDays) * day)
	lookbackStart := asOf.Add(-time.Duration(cfg.LookbackDays) * day)

	w := Window{
		Trailing:      decimal.Zero,
		Prior:         decimal.Zero,
		trailingStart: trailingStart,
		asOf:          asOf,
	}

	for _, row := range rows {
		at := row.AirDate
		if at.After(asOf) {
			continue
		}
		if !w.HasActivity || at.Before(w.FirstActivity) {
			w.FirstActivity = at
			w.HasActivity = true
		}

		switch {
		case at.After(trailingStart):
			w.Trailing = w.Trailing.Add(row.GrossRate)
			w.TrailingCount++
		case at.After(priorStart):
			w.Prior = w.Prior.Add(row.GrossRate)
		}
		if at.After(lookbackStart) {
			w.LookbackCount++
		}
	}
	return w
}

func (c Config) matches(kind models.SignalKind, w Window) bool {
	switch kind {
	case models.SignalChurned:
		return w.Trailing.IsZero() && w.Prior.IsPositive()
	case models.SignalGoneQuiet:
		return w.TrailingCount == 0 && w.LookbackCount > 0
	case models.SignalDeclining:
		return w.Prior.IsPositive() && w.Trailing.IsPositive() && w.Trailing.LessThan(w.Prior.Mul(c.DecliningRatio))
	case models.SignalNewAccount:
		return w.HasActivity && w.FirstActivity.After(w.trailingStart) && !w.FirstActivity.After(w.asOf)
	case models.SignalGrowing:
		return w.Trailing.IsPositive() && w.Trailing.GreaterThan(w.Prior.Mul(c.GrowingRatio))
	}
	return false
}

// Evaluate classifies one entity. rows should already exclude non-cash revenue.
// The output is ordered by priority and fully determined by its inputs.
func Evaluate(entityID string, rows []models.LedgerRow, asOf time.Time, c Config) []models.EntitySignal {
	w := Summarize(rows, asOf, c)

	var out []models.EntitySignal
	for _, rule := range c.ordered() {
		if !c.matches(rule.Kind, w) {
			continue
		}
		if rule.Exclusive && len(out) > 0 {
			continue
		}
		out = append(out, models.EntitySignal{
			EntityID:        entityID,
			SignalKind:      rule.Kind,
			Label:           rule.Label,
			Priority:        rule.Priority,
			TrailingRevenue: w.Trailing,
			PriorRevenue:    w.Prior,
			ComputedAt:      asOf,
		})
		if rule.Exclusive {
			break
		}
	}
	return out
}
