// Package normalizers canonicalizes free-text account owner names.
package normalizers

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// defaultPseudoOwners are ledger sales_person values that never denote a person.
var defaultPseudoOwners = []string{"house", "house account", "trade", "internal", "n/a", "na", "none", "unassigned"}

// defaultOwnerAliases maps known spelling variants to the owner's canonical name.
var defaultOwnerAliases = map[string]string{
	"charmaine lane":   "Charmaine Lane",
	"charmaine":        "Charmaine Lane",
	"c lane":           "Charmaine Lane",
	"ricardo medina":   "Ricardo Medina",
	"ric medina":       "Ricardo Medina",
	"rick medina":      "Ricardo Medina",
	"white horse intl": "White Horse International",
	"white horse":      "White Horse International",
}

// OwnerTable resolves raw owner strings to canonical owner names.
type OwnerTable struct {
	aliases map[string]string
	pseudo  map[string]struct{}
}

type ownerTableFile struct {
	PseudoOwners []string          `yaml:"pseudo_owners"`
	Aliases      map[string]string `yaml:"aliases"`
}

func NewOwnerTable(aliases map[string]string, pseudo []string) *OwnerTable {
	t := &OwnerTable{
		aliases: make(map[string]string, len(aliases)),
		pseudo:  make(map[string]struct{}, len(pseudo)),
	}
	for raw, canonical := range aliases {
		t.aliases[OwnerKey(raw)] = CollapseWhitespace(canonical)
	}
	for _, p := range pseudo {
		t.pseudo[OwnerKey(p)] = struct{}{}
	}
	return t
}

func DefaultOwnerTable() *OwnerTable {
	return NewOwnerTable(defaultOwnerAliases, defaultPseudoOwners)
}

// LoadOwnerTable reads a YAML owner table and layers it over the defaults.
func LoadOwnerTable(path string) (*OwnerTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read owner table %s: %w", path, err)
	}

	var file ownerTableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse owner table %s: %w", path, err)
	}

	aliases := make(map[string]string, len(defaultOwnerAliases)+len(file.Aliases))
	for k, v := range defaultOwnerAliases {
		aliases[k] = v
	}
	for k, v := range file.Aliases {
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("owner table %s: alias %q has an empty canonical name", path, k)
		}
		aliases[k] = v
	}

	return NewOwnerTable(aliases, append(append([]string{}, defaultPseudoOwners...), file.PseudoOwners...)), nil
}

// IsPseudoOwner reports whether raw is blank or a placeholder such as "House".
func (t *OwnerTable) IsPseudoOwner(raw string) bool {
	key := OwnerKey(raw)
	if key == "" {
		return true
	}
	_, ok := t.pseudo[key]
	return ok
}

// OwnerName returns the canonical owner for raw. ok is false for pseudo-owners.
// Names missing from the table keep their spelling with whitespace collapsed.
func (t *OwnerTable) OwnerName(raw string) (string, bool) {
	if t.IsPseudoOwner(raw) {
		return "", false
	}
	if canonical, found := t.aliases[OwnerKey(raw)]; found {
		return canonical, true
	}
	return CollapseWhitespace(raw), true
}

// Canonicals lists the distinct canonical owner names in the table.
func (t *OwnerTable) Canonicals() []string {
	seen := map[string]struct{}{}
	for _, v := range t.aliases {
		seen[v] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// OwnerKey is the lookup key for an owner string: lower case, no periods,
// single spaces.
func OwnerKey(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '.' {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
	return CollapseWhitespace(s)
}

// CollapseWhitespace trims s and reduces inner whitespace runs to one space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
