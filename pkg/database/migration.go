package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"
)

// upFile matches NNNNNN_name.up.sql and captures the version.
var upFile = regexp.MustCompile(`^(\d+)_.*\.up\.sql$`)

type MigrationConfig struct {
	MigrationFolderPath string
	// Version pins the target version; zero migrates to the latest.
	Version uint
	// Force sets the recorded version before migrating, clearing a dirty flag.
	Force int
	// AutoRollback forces a dirty database back to the version it started at.
	AutoRollback bool
}

// SchemaVersion is what the schema_migrations table records.
type SchemaVersion struct {
	Version uint
	Dirty   bool
	// Latest is the highest up migration in the folder.
	Latest int
}

func (v SchemaVersion) Pending() bool { return int(v.Version) < v.Latest }

type MigrationService struct {
	config *MigrationConfig
	logger ectologger.Logger
}

func NewMigrationService(logger ectologger.Logger, config *MigrationConfig) *MigrationService {
	return &MigrationService{config: config, logger: logger}
}

// migrateLog sends golang-migrate's progress lines to ectologger.
type migrateLog struct{ ectologger.Logger }

func (migrateLog) Verbose() bool { return true }

func (l migrateLog) Printf(format string, v ...any) {
	l.Infof(strings.TrimSuffix(format, "\n"), v...)
}

func (ms *MigrationService) folder() (string, error) {
	folder, err := filepath.Abs(ms.config.MigrationFolderPath)
	if err != nil {
		return "", errors.Wrapf(err, "resolve migration folder %s", ms.config.MigrationFolderPath)
	}
	if _, err := os.Stat(folder); err != nil {
		return "", errors.Wrapf(err, "migration folder %s does not exist", folder)
	}
	return folder, nil
}

func (ms *MigrationService) open(db *sql.DB, databaseName string) (*migrate.Migrate, string, error) {
	folder, err := ms.folder()
	if err != nil {
		return nil, "", err
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{DatabaseName: databaseName})
	if err != nil {
		return nil, "", errors.Wrap(err, "create postgres migration driver")
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+folder, databaseName, driver)
	if err != nil {
		return nil, "", errors.Wrap(err, "create migrator")
	}
	m.Log = migrateLog{ms.logger}
	return m, folder, nil
}

// Status reports the recorded schema version against the folder without
// applying anything.
func (ms *MigrationService) Status(db *sql.DB, databaseName string) (SchemaVersion, error) {
	m, folder, err := ms.open(db, databaseName)
	if err != nil {
		return SchemaVersion{}, err
	}
	latest, err := latestVersion(folder)
	if err != nil {
		return SchemaVersion{}, err
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return SchemaVersion{}, errors.Wrap(err, "read schema version")
	}
	return SchemaVersion{Version: version, Dirty: dirty, Latest: latest}, nil
}

// MigratePostgres applies the folder to the configured target version.
func (ms *MigrationService) MigratePostgres(db *sql.DB, databaseName string) error {
	m, folder, err := ms.open(db, databaseName)
	if err != nil {
		ms.logger.WithError(err).Error("Failed to prepare migrations")
		return err
	}

	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			return errors.Wrapf(err, "force schema version %d", ms.config.Force)
		}
	}
	from, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		ms.logger.WithError(err).Warn("Failed to read schema version before migrating")
	}

	started := time.Now()
	if ms.config.Version != 0 {
		err = m.Migrate(ms.config.Version)
	} else {
		err = m.Up()
	}
	ms.logger.WithFields(map[string]any{
		"from":    from,
		"elapsed": time.Since(started).String(),
	}).Info("Migrations finished")

	return ms.settle(m, err, from, folder)
}

// settle turns the outcome of a migrate run into the service's answer,
// repairing the two recoverable states: a schema ahead of the folder and a
// dirty schema with AutoRollback set.
func (ms *MigrationService) settle(m *migrate.Migrate, err error, from uint, folder string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, migrate.ErrNoChange):
		ms.logger.Info("Schema already current")
		return nil
	case strings.Contains(err.Error(), "no migration found for version"):
		// an older binary against a newer schema
		latest, lerr := latestVersion(folder)
		if lerr != nil {
			return lerr
		}
		ms.logger.Warnf("Schema version %d is ahead of the folder, forcing %d", from, latest)
		return m.Force(latest)
	}

	ms.logger.WithError(err).Error("Migration failed")
	if !ms.config.AutoRollback {
		return err
	}
	version, dirty, verr := m.Version()
	if verr != nil || !dirty {
		return err
	}
	target := from
	if target == 0 && version > 0 {
		target = version - 1
	}
	ms.logger.Warnf("Schema dirty at %d, forcing back to %d", version, target)
	if ferr := m.Force(int(target)); ferr != nil {
		return errors.Wrapf(ferr, "force schema version %d after failed migration", target)
	}
	return err
}

func latestVersion(folder string) (int, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return 0, err
	}
	latest := -1
	for _, e := range entries {
		m := upFile.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, err
		}
		latest = max(latest, v)
	}
	if latest < 0 {
		return 0, fmt.Errorf("no up migrations in %s", folder)
	}
	return latest, nil
}
