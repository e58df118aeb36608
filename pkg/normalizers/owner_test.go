package normalizers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwnerName(t *testing.T) {
	table := DefaultOwnerTable()

	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"Charmaine", "Charmaine Lane", true},
		{"  C.  Lane ", "Charmaine Lane", true},
		{"RICK MEDINA", "Ricardo Medina", true},
		{"Dana   Kealoha", "Dana Kealoha", true},
		{"House", "", false},
		{"n/a", "", false},
		{"   ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := table.OwnerName(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadOwnerTable(t *testing.T) {
	dir := t.TempDir()

	t.Run("layers over defaults", func(t *testing.T) {
		path := filepath.Join(dir, "owners.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
pseudo_owners: ["Agency Direct"]
aliases:
  "dk": "Dana Kealoha"
`), 0o600))

		table, err := LoadOwnerTable(path)
		require.NoError(t, err)

		got, ok := table.OwnerName("DK")
		assert.True(t, ok)
		assert.Equal(t, "Dana Kealoha", got)
		assert.True(t, table.IsPseudoOwner("agency direct"))
		assert.True(t, table.IsPseudoOwner("House"))
		assert.Contains(t, table.Canonicals(), "Charmaine Lane")
	})

	t.Run("empty canonical", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("aliases:\n  dk: \"\"\n"), 0o600))

		_, err := LoadOwnerTable(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadOwnerTable(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})
}
