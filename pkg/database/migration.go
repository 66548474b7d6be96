package database

import (
	"database/sql"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
)

// MigrationLogger routes golang-migrate output to ectologger
type MigrationLogger struct {
	ectologger.Logger
}

func (l MigrationLogger) Verbose() bool { return true }

func (l MigrationLogger) Printf(format string, v ...any) {
	l.Infof(strings.TrimSuffix(format, "\n"), v...)
}

type MigrationConfig struct {
	// Folder of *.up.sql / *.down.sql files. When it does not exist the
	// embedded migrations are applied instead.
	MigrationFolderPath string
	// Target version, 0 migrates up to the latest
	Version uint
	// Version to force before migrating, 0 skips forcing
	Force int
	// Force a dirty schema back to the version it had before the run
	AutoRollback bool
}

type MigrationService struct {
	config      *MigrationConfig
	logger      ectologger.Logger
	embedded    fs.FS
	embeddedDir string
}

func NewMigrationService(logger ectologger.Logger, config *MigrationConfig) *MigrationService {
	return &MigrationService{
		config: config,
		logger: logger,
	}
}

// WithEmbedded sets the migrations used when the folder is missing
func (ms *MigrationService) WithEmbedded(fsys fs.FS, dir string) *MigrationService {
	ms.embedded = fsys
	ms.embeddedDir = dir
	return ms
}

// folder resolves the configured folder against the working directory and
// reports whether it exists
func (ms *MigrationService) folder() (string, bool) {
	folder := ms.config.MigrationFolderPath
	if folder == "" {
		return "", false
	}
	if !filepath.IsAbs(folder) {
		if wd, err := os.Getwd(); err == nil {
			folder = filepath.Join(wd, folder)
		}
	}
	info, err := os.Stat(folder)
	return folder, err == nil && info.IsDir()
}

// MigratePostgres applies the migrations to the given connection pool
func (ms *MigrationService) MigratePostgres(db *sql.DB, databaseName string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{DatabaseName: databaseName})
	if err != nil {
		return errors.Wrap(err, "failed to create postgres migration driver")
	}
	return ms.Migrate(databaseName, driver)
}

func (ms *MigrationService) Migrate(databaseName string, instance migratedb.Driver) error {
	m, err := ms.newMigrate(databaseName, instance)
	if err != nil {
		return err
	}
	m.Log = MigrationLogger{Logger: ms.logger}

	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			return errors.Wrapf(err, "failed to force schema to version %d", ms.config.Force)
		}
	}

	previous, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		ms.logger.WithError(err).Warn("Failed to read schema version")
	}

	began := time.Now()
	if ms.config.Version != 0 {
		err = m.Migrate(ms.config.Version)
	} else {
		err = m.Up()
	}

	switch {
	case err == nil:
		ms.logger.Infof("Migrations applied in %s", time.Since(began))
		return nil
	case errors.Is(err, migrate.ErrNoChange):
		ms.logger.Info("Schema already up to date")
		return nil
	}

	ms.logger.WithError(err).Error("Migration failed")
	if ms.config.AutoRollback {
		ms.rollbackDirty(m, previous)
	}
	return err
}

func (ms *MigrationService) newMigrate(databaseName string, instance migratedb.Driver) (*migrate.Migrate, error) {
	if folder, ok := ms.folder(); ok {
		ms.logger.WithField("folder", folder).Info("Applying migrations from folder")
		m, err := migrate.NewWithDatabaseInstance("file://"+folder, databaseName, instance)
		return m, errors.Wrap(err, "failed to open migration folder")
	}

	if ms.embedded == nil {
		return nil, errors.Errorf("migration folder %q not found", ms.config.MigrationFolderPath)
	}
	ms.logger.Info("Applying embedded migrations")
	source, err := iofs.New(ms.embedded, ms.embeddedDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open embedded migrations")
	}
	m, err := migrate.NewWithInstance("iofs", source, databaseName, instance)
	return m, errors.Wrap(err, "failed to create migrate instance")
}

// rollbackDirty forces a schema left dirty by a failed run back to the
// version it had before, so the next run retries the failed migration
func (ms *MigrationService) rollbackDirty(m *migrate.Migrate, previous uint) {
	version, dirty, err := m.Version()
	if err != nil || !dirty {
		return
	}

	target := int(previous)
	if target == 0 && version > 0 {
		target = int(version) - 1
	}
	ms.logger.Warnf("Schema dirty at version %d, forcing version %d", version, target)
	if err := m.Force(target); err != nil {
		ms.logger.WithError(err).Errorf("Failed to force schema to version %d", target)
	}
}
