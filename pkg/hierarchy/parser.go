// Package hierarchy turns raw billing identifiers such as
// "Agency:Sub Agency:Customer PROD" into a normalized agency/customer path.
package hierarchy

import (
	"context"
	"strings"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/aliasmap"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"golang.org/x/sync/errgroup"
)

const separator = ":"

// productionSuffixes are checked in order, longest first. At most one is stripped.
var productionSuffixes = []string{"- PRODUCTION", " PRODUCTION", "- PROD", " PROD"}

// Parse is pure: the same raw string and snapshot always give the same result.
func Parse(raw string, snap *aliasmap.Snapshot) models.ParsedHierarchy {
	if snap == nil {
		snap = aliasmap.Empty()
	}

	var agency1Raw, agency2Raw *string
	customerRaw := raw

	if first := strings.Index(raw, separator); first >= 0 {
		a1 := raw[:first]
		agency1Raw = &a1
		rest := raw[first+1:]
		if second := strings.Index(rest, separator); second >= 0 {
			a2 := rest[:second]
			agency2Raw = &a2
			customerRaw = rest[second+1:]
		} else {
			customerRaw = rest
		}
	}

	customerRaw = StripProductionSuffix(customerRaw)

	parsed := models.ParsedHierarchy{
		Customer:  snap.ResolveCustomer(customerRaw),
		Ambiguous: strings.Count(raw, separator) > 2,
	}
	if agency1Raw != nil {
		a := snap.ResolveAgency(*agency1Raw)
		parsed.Agency1 = &a
	}
	if agency2Raw != nil {
		a := snap.ResolveAgency(*agency2Raw)
		parsed.Agency2 = &a
	}
	parsed.NormalizedName = NormalizedName(parsed.Agency1, parsed.Agency2, parsed.Customer)

	return parsed
}

// StripProductionSuffix removes one trailing production marker, case-sensitively.
func StripProductionSuffix(s string) string {
	for _, suffix := range productionSuffixes {
		if strings.HasSuffix(s, suffix) {
			return strings.TrimSuffix(s, suffix)
		}
	}
	return s
}

// NormalizedName joins the present segments with the hierarchy separator. It
// is the key entities are matched on.
func NormalizedName(agency1, agency2 *string, customer string) string {
	parts := make([]string, 0, 3)
	if agency1 != nil {
		parts = append(parts, *agency1)
	}
	if agency2 != nil {
		parts = append(parts, *agency2)
	}
	parts = append(parts, customer)
	return strings.Join(parts, separator)
}

// ParseAll parses raws in parallel against a single snapshot. The result is
// index aligned with raws.
func ParseAll(ctx context.Context, raws []string, snap *aliasmap.Snapshot, workers int) ([]models.ParsedHierarchy, error) {
	out := make([]models.ParsedHierarchy, len(raws))
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, raw := range raws {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = Parse(raw, snap)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
