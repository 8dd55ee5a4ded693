// Package db opens the local history store and reads and writes its records.
package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zulandar/opal/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MySQLDSN builds a MySQL DSN with parseTime enabled.
func MySQLDSN(user, host string, port int, database string) string {
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true", user, host, port, database)
}

// Dialector returns the GORM dialector for the configured driver.
func Dialector(cfg config.StoreConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		return sqlite.Open(cfg.Path), nil
	case config.DriverMySQL:
		return mysql.Open(cfg.DSN), nil
	}
	return nil, fmt.Errorf("db: unknown driver %q", cfg.Driver)
}

// Connect opens the history store described by cfg.
func Connect(cfg config.StoreConfig) (*gorm.DB, error) {
	if (cfg.Driver == config.DriverSQLite || cfg.Driver == "") && cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("db: create store dir %s: %w", dir, err)
			}
		}
	}
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect %s: %w", cfg.Driver, err)
	}
	return db, nil
}

// Open connects and migrates in one step.
func Open(cfg config.StoreConfig) (*gorm.DB, error) {
	db, err := Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
