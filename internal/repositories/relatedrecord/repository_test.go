package relatedrecord

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daseme/ctv-bookedbiz-db-sub004/internal/repositories/repotest"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
)

var recordRowColumns = []string{"id", "entity_id", "value", "is_primary", "is_active", "created_at"}

func spec(t *testing.T, kind models.RecordKind) models.KindSpec {
	t.Helper()
	s, err := kind.Spec()
	require.NoError(t, err)
	return s
}

func TestPrimary(t *testing.T) {
	db, mock := repotest.NewDB(t)
	repo := NewRepository(db, repotest.Logger())

	mock.ExpectQuery(`SELECT id, entity_id, sector_id AS value, is_primary, is_active, created_at FROM entity_sectors WHERE entity_id = \$1 AND is_primary = \$2 AND is_active = \$3`).
		WillReturnRows(sqlmock.NewRows(recordRowColumns).AddRow("sec-1", "ent-1", "AUTO", true, true, time.Now()))

	rec, err := repo.Primary(context.Background(), spec(t, models.RecordKindSector), "ent-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.RecordKindSector, rec.Kind)
	require.NotNil(t, rec.Value)
	assert.Equal(t, "AUTO", *rec.Value)
}

func TestEarliestActive_None(t *testing.T) {
	db, mock := repotest.NewDB(t)
	repo := NewRepository(db, repotest.Logger())

	mock.ExpectQuery(`FROM entity_contacts WHERE entity_id = \$1 AND is_active = \$2 AND id <> \$3 ORDER BY created_at ASC, id ASC`).
		WillReturnError(sql.ErrNoRows)

	rec, err := repo.EarliestActive(context.Background(), spec(t, models.RecordKindContact), "ent-1", "con-9")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestInsert_ReturnsRow(t *testing.T) {
	db, mock := repotest.NewDB(t)
	repo := NewRepository(db, repotest.Logger())

	mock.ExpectQuery(`INSERT INTO entity_contacts \(id, entity_id, is_primary, is_active, created_at, updated_at, name, email, phone, title\)`).
		WillReturnRows(sqlmock.NewRows(recordRowColumns).AddRow("con-1", "ent-1", "con-1", true, true, time.Now()))

	rec, err := repo.Insert(context.Background(), spec(t, models.RecordKindContact), "ent-1", models.ContactInput{Name: "Dana"}, true)
	require.NoError(t, err)
	assert.Equal(t, "con-1", rec.ID)
	assert.True(t, rec.IsPrimary)
	assert.Equal(t, models.RecordKindContact, rec.Kind)
}

func TestClearPrimary_ReportsAffected(t *testing.T) {
	db, mock := repotest.NewDB(t)
	repo := NewRepository(db, repotest.Logger())

	mock.ExpectExec(`UPDATE entity_addresses SET is_primary = \$1, updated_at = \$2 WHERE entity_id = \$3 AND is_primary = \$4 AND id <> \$5`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.ClearPrimary(context.Background(), spec(t, models.RecordKindAddress), "ent-1", "adr-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestDeactivate_Failure(t *testing.T) {
	db, mock := repotest.NewDB(t)
	repo := NewRepository(db, repotest.Logger())

	mock.ExpectExec(`UPDATE entity_contacts SET is_active = \$1, is_primary = \$2`).WillReturnError(errors.New("deadlock detected"))

	err := repo.Deactivate(context.Background(), spec(t, models.RecordKindContact), "con-1")
	assert.Error(t, err)
}
