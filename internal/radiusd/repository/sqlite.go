package repository

import (
	"github.com/bjo163/radbill/internal/domain"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenSQLite opens a sqlite database limited to one connection, which keeps
// writers serialized the way sqlite expects.
func OpenSQLite(dsn string, debug bool) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if debug {
		cfg.Logger = logger.Default.LogMode(logger.Info)
	}
	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// OpenMemory opens a private migrated in-memory database, used by tests and
// the "memory" database type.
func OpenMemory() (*gorm.DB, error) {
	db, err := OpenSQLite("file:"+uuid.NewString()+"?mode=memory&cache=shared", false)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(domain.Tables...); err != nil {
		return nil, err
	}
	return db, nil
}
