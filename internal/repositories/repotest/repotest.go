// Package repotest backs repository unit tests with sqlmock.
package repotest

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/database"
)

func Logger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// NewDB returns a database.DB over sqlmock. Unmet expectations fail the test
// at cleanup.
func NewDB(t *testing.T) (database.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sql expectations: %v", err)
		}
		_ = sqlDB.Close()
	})

	return database.NewDatabaseInstance(sqlx.NewDb(sqlDB, "postgres"), Logger()), mock
}
