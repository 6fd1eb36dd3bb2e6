package repository

import (
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenPostgres opens a pooled postgres database
func OpenPostgres(dsn string, maxConn, idleConn int, debug bool) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if debug {
		cfg.Logger = logger.Default.LogMode(logger.Info)
	}
	db, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if maxConn > 0 {
		sqlDB.SetMaxOpenConns(maxConn)
	}
	if idleConn > 0 {
		sqlDB.SetMaxIdleConns(idleConn)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}
