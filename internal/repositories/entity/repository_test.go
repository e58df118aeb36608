package entity

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daseme/ctv-bookedbiz-db-sub004/internal/repositories/repotest"
	canonerr "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/errors"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
)

func entityRow(id, name string, active bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(entityColumns).
		AddRow(id, "customer", name, name, active, nil, nil, nil, nil, now, now, nil)
}

func TestCreateIfAbsent_Inserts(t *testing.T) {
	db, mock := repotest.NewDB(t)
	repo := NewRepository(db, repotest.Logger())

	mock.ExpectQuery(`INSERT INTO entities .*ON CONFLICT`).
		WillReturnRows(entityRow("ent-1", "Acme", true))

	e, created, err := repo.CreateIfAbsent(context.Background(), models.EntityTypeCustomer, "Acme", "Acme")
	require.NoError(t, err)

	assert.True(t, created)
	assert.Equal(t, "ent-1", e.ID)
	assert.True(t, e.IsActive)
}

func TestCreateIfAbsent_ReturnsExisting(t *testing.T) {
	db, mock := repotest.NewDB(t)
	repo := NewRepository(db, repotest.Logger())

	mock.ExpectQuery(`INSERT INTO entities`).WillReturnRows(sqlmock.NewRows(entityColumns))
	mock.ExpectQuery(`SELECT .* FROM entities WHERE`).WillReturnRows(entityRow("ent-existing", "Acme", true))

	e, created, err := repo.CreateIfAbsent(context.Background(), models.EntityTypeCustomer, "Acme", "Acme")
	require.NoError(t, err)

	assert.False(t, created)
	assert.Equal(t, "ent-existing", e.ID)
}

func TestCreateIfAbsent_RemovedConcurrently(t *testing.T) {
	db, mock := repotest.NewDB(t)
	repo := NewRepository(db, repotest.Logger())

	mock.ExpectQuery(`INSERT INTO entities`).WillReturnRows(sqlmock.NewRows(entityColumns))
	mock.ExpectQuery(`SELECT .* FROM entities`).WillReturnRows(sqlmock.NewRows(entityColumns))

	_, _, err := repo.CreateIfAbsent(context.Background(), models.EntityTypeCustomer, "Acme", "Acme")
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))
}

func TestFindActiveByNormalizedName_Missing(t *testing.T) {
	db, mock := repotest.NewDB(t)
	repo := NewRepository(db, repotest.Logger())

	mock.ExpectQuery(`SELECT .* FROM entities WHERE`).WillReturnRows(sqlmock.NewRows(entityColumns))

	e, err := repo.FindActiveByNormalizedName(context.Background(), models.EntityTypeCustomer, "Nobody")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestSetCacheField(t *testing.T) {
	t.Run("unknown field", func(t *testing.T) {
		db, _ := repotest.NewDB(t)
		repo := NewRepository(db, repotest.Logger())

		err := repo.SetCacheField(context.Background(), "ent-1", models.CacheField("name"), nil)
		assert.ErrorIs(t, err, canonerr.ErrInvalidArgument)
	})

	t.Run("missing entity", func(t *testing.T) {
		db, mock := repotest.NewDB(t)
		repo := NewRepository(db, repotest.Logger())

		mock.ExpectExec(`UPDATE entities SET sector_id`).WillReturnResult(sqlmock.NewResult(0, 0))

		sector := "auto"
		err := repo.SetCacheField(context.Background(), "ent-1", models.CacheFieldSector, &sector)
		assert.ErrorIs(t, err, canonerr.ErrEntityNotFound)
	})

	t.Run("updates", func(t *testing.T) {
		db, mock := repotest.NewDB(t)
		repo := NewRepository(db, repotest.Logger())

		mock.ExpectExec(`UPDATE entities SET assigned_to`).WillReturnResult(sqlmock.NewResult(0, 1))

		owner := "Charmaine"
		require.NoError(t, repo.SetCacheField(context.Background(), "ent-1", models.CacheFieldAssignedTo, &owner))
	})
}
