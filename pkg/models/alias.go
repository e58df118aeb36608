package models

import "time"

// EntityAlias redirects a raw identifier to an existing entity.
type EntityAlias struct {
	ID             string     `json:"id" db:"id"`
	AliasName      string     `json:"alias_name" db:"alias_name"`
	EntityType     EntityType `json:"entity_type" db:"entity_type"`
	TargetEntityID string     `json:"target_entity_id" db:"target_entity_id"`
	IsActive       bool       `json:"is_active" db:"is_active"`
	CreatedBy      *string    `json:"created_by,omitempty" db:"created_by"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	DeactivatedAt  *time.Time `json:"deactivated_at,omitempty" db:"deactivated_at"`
}

// CanonicalMapping is one alias_name to canonical_name row of an agency or customer map.
type CanonicalMapping struct {
	AliasName     string    `json:"alias_name" db:"alias_name"`
	CanonicalName string    `json:"canonical_name" db:"canonical_name"`
	UpdatedBy     *string   `json:"updated_by,omitempty" db:"updated_by"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// ParsedHierarchy is the result of parsing one raw billing identifier.
type ParsedHierarchy struct {
	Agency1        *string `json:"agency1,omitempty"`
	Agency2        *string `json:"agency2,omitempty"`
	Customer       string  `json:"customer"`
	NormalizedName string  `json:"normalized_name"`
	// Ambiguous is set when the identifier carries more than two separators.
	Ambiguous bool `json:"ambiguous"`
}

// Depth is the number of agency levels above the customer.
func (p ParsedHierarchy) Depth() int {
	switch {
	case p.Agency2 != nil:
		return 2
	case p.Agency1 != nil:
		return 1
	}
	return 0
}

type AuditFinding struct {
	RawIdentifier     string          `json:"raw_identifier"`
	Parsed            ParsedHierarchy `json:"parsed"`
	ExistsInCustomers bool            `json:"exists_in_customers"`
	MatchedEntityID   *string         `json:"matched_entity_id,omitempty"`
	HasAlias          bool            `json:"has_alias"`
	AliasTargetID     *string         `json:"alias_target_id,omitempty"`
	AliasConflict     bool            `json:"alias_conflict"`
}
