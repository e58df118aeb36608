package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuditLogEntry_Subject(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	entry, err := NewAuditLogEntry(EntityMerged{SourceEntityID: "ent-old", TargetEntityID: "ent-new"}, "ops", at)
	require.NoError(t, err)
	require.NotNil(t, entry.EntityID)
	assert.Equal(t, "ent-old", *entry.EntityID)
	assert.Equal(t, AuditEntityMerged, entry.Action)

	canonical := "Acento"
	entry, err = NewAuditLogEntry(CanonicalMapEdited{MapKind: EntityTypeAgency, Alias: "Acento Adv", Canonical: &canonical}, "ops", at)
	require.NoError(t, err)
	assert.Nil(t, entry.EntityID)
}

func TestAuditLogEntry_Event(t *testing.T) {
	previous := "con-1"
	entry, err := NewAuditLogEntry(PrimaryChanged{EntityID: "ent-1", Kind: RecordKindContact, RecordID: "con-2", PreviousRecordID: &previous, Promoted: true}, "system", time.Now())
	require.NoError(t, err)

	ev, err := entry.Event()
	require.NoError(t, err)
	changed, ok := ev.(*PrimaryChanged)
	require.True(t, ok)
	assert.Equal(t, "con-2", changed.RecordID)
	assert.True(t, changed.Promoted)
	assert.Equal(t, "ent-1", changed.Subject())

	_, err = AuditLogEntry{Action: "renamed", Payload: []byte(`{}`)}.Event()
	assert.Error(t, err)
}
