package alias

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectoerror/httperror"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daseme/ctv-bookedbiz-db-sub004/internal/repositories/repotest"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
)

func TestCreate(t *testing.T) {
	db, mock := repotest.NewDB(t)
	repo := NewRepository(db, repotest.Logger())

	mock.ExpectExec(`INSERT INTO entity_aliases`).WillReturnResult(sqlmock.NewResult(0, 1))

	actor := "ops"
	a := &models.EntityAlias{AliasName: "Mc Donalds", EntityType: models.EntityTypeCustomer, TargetEntityID: "ent-1", CreatedBy: &actor}
	require.NoError(t, repo.Create(context.Background(), a))

	assert.NotEmpty(t, a.ID)
	assert.True(t, a.IsActive)
	assert.False(t, a.CreatedAt.IsZero())
}

func TestCreate_DuplicateActiveName(t *testing.T) {
	db, mock := repotest.NewDB(t)
	repo := NewRepository(db, repotest.Logger())

	mock.ExpectExec(`INSERT INTO entity_aliases`).WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.EntityAlias{AliasName: "Dup", EntityType: models.EntityTypeCustomer, TargetEntityID: "ent-1"})
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))
}

func TestGet_NotFound(t *testing.T) {
	db, mock := repotest.NewDB(t)
	repo := NewRepository(db, repotest.Logger())

	mock.ExpectQuery(`SELECT .* FROM entity_aliases WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(aliasColumns))

	_, err := repo.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

func TestFindActiveByName(t *testing.T) {
	db, mock := repotest.NewDB(t)
	repo := NewRepository(db, repotest.Logger())

	mock.ExpectQuery(`SELECT .* FROM entity_aliases WHERE entity_type = \$1 AND alias_name = \$2 AND is_active = \$3`).
		WillReturnRows(sqlmock.NewRows(aliasColumns).
			AddRow("alias-1", "Mc Donalds", "customer", "ent-1", true, "ops", time.Now(), nil))

	a, err := repo.FindActiveByName(context.Background(), models.EntityTypeCustomer, "Mc Donalds")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "ent-1", a.TargetEntityID)
}

func TestAliasName_CollapsesWhitespace(t *testing.T) {
	db, mock := repotest.NewDB(t)
	repo := NewRepository(db, repotest.Logger())

	mock.ExpectExec(`INSERT INTO entity_aliases`).
		WithArgs(sqlmock.AnyArg(), "WorldLink:Tyler Chevy", "customer", "ent-1", true, nil, sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .* FROM entity_aliases WHERE entity_type = \$1 AND alias_name = \$2 AND is_active = \$3`).
		WithArgs("customer", "WorldLink:Tyler Chevy", true).
		WillReturnRows(sqlmock.NewRows(aliasColumns).
			AddRow("alias-1", "WorldLink:Tyler Chevy", "customer", "ent-1", true, nil, time.Now(), nil))

	a := &models.EntityAlias{AliasName: " WorldLink:Tyler  Chevy", EntityType: models.EntityTypeCustomer, TargetEntityID: "ent-1"}
	require.NoError(t, repo.Create(context.Background(), a))
	assert.Equal(t, "WorldLink:Tyler Chevy", a.AliasName)

	found, err := repo.FindActiveByName(context.Background(), models.EntityTypeCustomer, "WorldLink:Tyler   Chevy ")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "ent-1", found.TargetEntityID)
}

func TestDeactivate(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"active alias", 1, true},
		{"already inactive", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := repotest.NewDB(t)
			repo := NewRepository(db, repotest.Logger())

			mock.ExpectExec(`UPDATE entity_aliases SET is_active = \$1, deactivated_at = \$2 WHERE id = \$3 AND is_active = \$4`).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			changed, err := repo.Deactivate(context.Background(), "alias-1", time.Now())
			require.NoError(t, err)
			assert.Equal(t, tt.want, changed)
		})
	}
}

func TestRetarget(t *testing.T) {
	db, mock := repotest.NewDB(t)
	repo := NewRepository(db, repotest.Logger())

	mock.ExpectExec(`UPDATE entity_aliases SET target_entity_id = \$1 WHERE target_entity_id = \$2 AND is_active = \$3`).
		WithArgs("ent-dst", "ent-src", true).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.Retarget(context.Background(), "ent-src", "ent-dst")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
