package app

import (
	"fmt"
	"os"
	"path"
	"runtime/debug"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/bjo163/radbill/config"
	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/internal/radiusd"
	"github.com/bjo163/radbill/internal/radiusd/dictionary"
	"github.com/bjo163/radbill/internal/radiusd/repository"
	"github.com/bjo163/radbill/pkg/metrics"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
)

type Application struct {
	appConfig     *config.AppConfig
	gormDB        *gorm.DB
	sched         *cron.Cron
	configManager *ConfigManager
	store         *repository.Store
	radius        *radiusd.RadiusService
	level         zap.AtomicLevel
}

// Ensure Application implements all interfaces
var (
	_ DBProvider            = (*Application)(nil)
	_ ConfigProvider        = (*Application)(nil)
	_ SchedulerProvider     = (*Application)(nil)
	_ ConfigManagerProvider = (*Application)(nil)
	_ RadiusProvider        = (*Application)(nil)
	_ AppContext            = (*Application)(nil)
)

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig, level: zap.NewAtomicLevel()}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) DB() *gorm.DB {
	return a.gormDB
}

// OverrideDB replaces the application's database handle (used in tests).
func (a *Application) OverrideDB(db *gorm.DB) {
	a.gormDB = db
}

func (a *Application) debugEnabled() bool {
	cfg := a.appConfig
	return cfg.System.Debug || cfg.Radiusd.Debug
}

// InitLogger installs the global zap logger: console (json in production
// mode) on stdout plus an optional rotated json file. The level is atomic
// and moved by SetDebug.
func (a *Application) InitLogger() {
	cfg := a.appConfig
	a.level.SetLevel(levelFor(a.debugEnabled()))

	production := cfg.Logger.Mode == "production"
	stdout := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	if production {
		stdout = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}
	cores := []zapcore.Core{zapcore.NewCore(stdout, zapcore.Lock(os.Stdout), a.level)}

	if cfg.Logger.FileEnable {
		filename := cfg.Logger.Filename
		if filename == "" {
			filename = path.Join(cfg.GetLogDir(), "radbill.log")
		}
		rotate := &lumberjack.Logger{Filename: filename, MaxSize: 64, MaxBackups: 7, MaxAge: 7}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(rotate),
			a.level,
		))
	}

	opts := []zap.Option{zap.AddCaller()}
	if !production {
		opts = append(opts, zap.Development())
	}
	zap.ReplaceGlobals(zap.New(zapcore.NewTee(cores...), opts...))
}

func levelFor(debug bool) zapcore.Level {
	if debug {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// SetDebug switches the log level and the radius packet dump
func (a *Application) SetDebug(v bool) {
	a.level.SetLevel(levelFor(v))
	if a.radius != nil {
		a.radius.SetDebug(v)
	}
}

// Init opens the database and builds the radius service and the jobs
func (a *Application) Init() error {
	cfg := a.appConfig
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}

	if err := metrics.InitMetrics(cfg.System.Workdir); err != nil {
		zap.S().Warn("Failed to initialize metrics:", err)
	}

	if a.gormDB == nil {
		db, err := getDatabase(cfg.Database, cfg.GetDataDir())
		if err != nil {
			return err
		}
		a.gormDB = db
		zap.S().Infof("Database connection successful, type: %s", cfg.Database.Type)
	}
	if err := a.MigrateDB(false); err != nil {
		return err
	}
	a.checkSuper()
	a.checkSettings()

	a.configManager = NewConfigManager(a.gormDB)
	a.store = repository.NewStore(a.gormDB, repository.DefaultCacheTTL)
	a.store.SetParams(a.configManager)

	dict, err := dictionary.Load(cfg.Radiusd.Dictionary)
	if err != nil {
		return err
	}
	a.radius, err = radiusd.NewRadiusService(radiusd.Options{
		Store:          a.store,
		Dict:           dict,
		PasswordSecret: cfg.System.Secret,
		PoolSize:       cfg.Radiusd.Pool,
		Debug:          a.debugEnabled(),
	})
	if err != nil {
		return err
	}

	a.initJob()
	return nil
}

// getDatabase opens the configured database: postgres, sqlite (a file under
// the data dir unless Name is a path) or memory
func getDatabase(cfg config.DBConfig, dataDir string) (*gorm.DB, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Passwd, cfg.Name, time.Local.String())
		db, err := repository.OpenPostgres(dsn, cfg.MaxConn, cfg.IdleConn, cfg.Debug)
		return db, errors.Wrap(err, "open postgres")
	case "sqlite":
		file := cfg.Name
		if !strings.ContainsRune(file, os.PathSeparator) {
			file = path.Join(dataDir, file+".db")
		}
		db, err := repository.OpenSQLite(file, cfg.Debug)
		return db, errors.Wrapf(err, "open sqlite %s", file)
	case "memory":
		db, err := repository.OpenMemory()
		return db, errors.Wrap(err, "open memory database")
	default:
		return nil, errors.Errorf("unsupported database type %q", cfg.Type)
	}
}

func (a *Application) MigrateDB(track bool) (err error) {
	defer func() {
		if err1 := recover(); err1 != nil {
			if os.Getenv("GO_DEBUG_TRACE") != "" {
				debug.PrintStack()
			}
			err = errors.Errorf("migrate panic: %v", err1)
		}
	}()
	db := a.gormDB
	if track {
		db = db.Debug()
	}
	return errors.Wrap(db.Migrator().AutoMigrate(domain.Tables...), "migrate")
}

// InitDb drops and recreates all tables, then seeds the defaults
func (a *Application) InitDb() error {
	if err := a.gormDB.Migrator().DropTable(domain.Tables...); err != nil {
		return errors.Wrap(err, "drop tables")
	}
	if err := a.MigrateDB(false); err != nil {
		return err
	}
	a.checkSuper()
	a.checkSettings()
	return nil
}

func (a *Application) ConfigMgr() *ConfigManager {
	return a.configManager
}

func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

func (a *Application) Store() *repository.Store {
	return a.store
}

func (a *Application) Radius() *radiusd.RadiusService {
	return a.radius
}

// Release releases application resources
func (a *Application) Release() {
	if a.sched != nil {
		<-a.sched.Stop().Done()
	}
	if a.radius != nil {
		a.radius.Release()
	}
	_ = metrics.Close()
	_ = zap.L().Sync()
}
