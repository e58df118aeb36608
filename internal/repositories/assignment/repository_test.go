package assignment

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daseme/ctv-bookedbiz-db-sub004/internal/repositories/repotest"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
)

func TestOpen(t *testing.T) {
	t.Run("returns the open period", func(t *testing.T) {
		db, mock := repotest.NewDB(t)
		repo := NewRepository(db, repotest.Logger())

		assigned := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		mock.ExpectQuery(`SELECT .* FROM entity_assignments WHERE entity_id = \$1 AND ended_at IS NULL`).
			WithArgs("ent-1").
			WillReturnRows(sqlmock.NewRows(periodColumns).
				AddRow("per-1", "ent-1", "Charmaine Lane", assigned, nil, nil, assigned))

		p, err := repo.Open(context.Background(), "ent-1")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "Charmaine Lane", p.OwnerName)
		assert.True(t, p.IsOpen())
	})

	t.Run("unassigned", func(t *testing.T) {
		db, mock := repotest.NewDB(t)
		repo := NewRepository(db, repotest.Logger())

		mock.ExpectQuery(`FROM entity_assignments`).WillReturnError(sql.ErrNoRows)

		p, err := repo.Open(context.Background(), "ent-1")
		require.NoError(t, err)
		assert.Nil(t, p)
	})
}

func TestInsert_AssignsID(t *testing.T) {
	db, mock := repotest.NewDB(t)
	repo := NewRepository(db, repotest.Logger())

	mock.ExpectExec(`INSERT INTO entity_assignments \(id, entity_id, owner_name, assigned_at, ended_at, assigned_by, created_at\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	p := &models.AssignmentPeriod{EntityID: "ent-1", OwnerName: "House", AssignedAt: time.Now()}
	require.NoError(t, repo.Insert(context.Background(), p))
	assert.NotEmpty(t, p.ID)
	assert.False(t, p.CreatedAt.IsZero())
}

func TestClose_OnlyOpenPeriods(t *testing.T) {
	db, mock := repotest.NewDB(t)
	repo := NewRepository(db, repotest.Logger())

	ended := time.Now()
	mock.ExpectExec(`UPDATE entity_assignments SET ended_at = \$1 WHERE id = \$2 AND ended_at IS NULL`).
		WithArgs(ended, "per-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Close(context.Background(), "per-1", ended))
}
