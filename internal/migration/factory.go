package migration

import (
	"fmt"

	"github.com/BaSui01/skillflow/config"
)

// NewMigratorFromDatabaseConfig creates a migrator from the application's
// database configuration section.
//
// The migrator opens its own connection rather than sharing the gorm pool:
// golang-migrate's sqlite driver uses modernc.org/sqlite, whose DSN pragma
// syntax differs from the glebarez dialector the pool uses.
func NewMigratorFromDatabaseConfig(cfg config.DatabaseConfig) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database driver: %w", err)
	}

	url := BuildDatabaseURL(dbType, cfg.Host, cfg.Port, cfg.Name, cfg.User, cfg.Password, cfg.SSLMode)
	if url == "" {
		return nil, fmt.Errorf("could not build database URL for driver %s", cfg.Driver)
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  url,
	})
}

// NewMigratorFromURL creates a migrator from an explicit connection string,
// as passed on the command line.
func NewMigratorFromURL(databaseType, databaseURL string) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(databaseType)
	if err != nil {
		return nil, err
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  databaseURL,
	})
}
