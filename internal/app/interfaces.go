package app

import (
	"github.com/bjo163/radbill/config"
	"github.com/bjo163/radbill/internal/radiusd"
	"github.com/bjo163/radbill/internal/radiusd/repository"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// DBProvider exposes the gorm handle
type DBProvider interface {
	DB() *gorm.DB
}

// ConfigProvider exposes the loaded AppConfig
type ConfigProvider interface {
	Config() *config.AppConfig
}

// SchedulerProvider exposes the cron scheduler running the jobs
type SchedulerProvider interface {
	Scheduler() *cron.Cron
}

// ConfigManagerProvider exposes the runtime params
type ConfigManagerProvider interface {
	ConfigMgr() *ConfigManager
}

// RadiusProvider provides the store and the radius service
type RadiusProvider interface {
	Store() *repository.Store
	Radius() *radiusd.RadiusService
}

// AppContext is everything the CLI needs from an Application
type AppContext interface {
	DBProvider
	ConfigProvider
	SchedulerProvider
	ConfigManagerProvider
	RadiusProvider

	SetDebug(v bool)
	MigrateDB(track bool) error
	InitDb() error
}
