package config

import (
	"os"
	"path"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DBConfig database config
type DBConfig struct {
	Type     string `yaml:"type" envconfig:"TYPE"` // postgres | sqlite
	Host     string `yaml:"host" envconfig:"HOST"`
	Port     int    `yaml:"port" envconfig:"PORT"`
	Name     string `yaml:"name" envconfig:"NAME"`
	User     string `yaml:"user" envconfig:"USER"`
	Passwd   string `yaml:"passwd" envconfig:"PASSWD"`
	MaxConn  int    `yaml:"max_conn" envconfig:"MAX_CONN"`
	IdleConn int    `yaml:"idle_conn" envconfig:"IDLE_CONN"`
	Debug    bool   `yaml:"debug" envconfig:"DEBUG"`
}

// SysConfig system config
type SysConfig struct {
	Appid    string `yaml:"appid" envconfig:"APPID"`
	Location string `yaml:"location" envconfig:"LOCATION"`
	Workdir  string `yaml:"workdir" envconfig:"WORKDIR"`
	// Secret keys the reversible subscriber password encryption
	Secret string `yaml:"secret" envconfig:"SECRET"`
	Debug  bool   `yaml:"debug" envconfig:"DEBUG"`
}

// RadiusdConfig radius server config
type RadiusdConfig struct {
	Enabled    bool   `yaml:"enabled" envconfig:"ENABLED"`
	Host       string `yaml:"host" envconfig:"HOST"`
	AuthPort   int    `yaml:"auth_port" envconfig:"AUTH_PORT"`
	AcctPort   int    `yaml:"acct_port" envconfig:"ACCT_PORT"`
	Dictionary string `yaml:"dictionary" envconfig:"DICTIONARY"`
	// Pool sizes the accounting settlement worker pool
	Pool int `yaml:"pool" envconfig:"POOL"`
	// StaleHours closes online sessions without updates for that many hours
	StaleHours int  `yaml:"stale_hours" envconfig:"STALE_HOURS"`
	Debug      bool `yaml:"debug" envconfig:"DEBUG"`
}

// AdminConfig admin control channel config
type AdminConfig struct {
	Enabled   bool   `yaml:"enabled" envconfig:"ENABLED"`
	Host      string `yaml:"host" envconfig:"HOST"`
	Port      int    `yaml:"port" envconfig:"PORT"`
	HttpPort  int    `yaml:"http_port" envconfig:"HTTP_PORT"`
	JwtSecret string `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	Debug     bool   `yaml:"debug" envconfig:"DEBUG"`
}

// LogConfig logger config
type LogConfig struct {
	Mode       string `yaml:"mode" envconfig:"MODE"`
	FileEnable bool   `yaml:"file_enable" envconfig:"FILE_ENABLE"`
	Filename   string `yaml:"filename" envconfig:"FILENAME"`
}

type AppConfig struct {
	System   SysConfig     `yaml:"system" envconfig:"SYSTEM"`
	Database DBConfig      `yaml:"database" envconfig:"DATABASE"`
	Radiusd  RadiusdConfig `yaml:"radiusd" envconfig:"RADIUSD"`
	Admin    AdminConfig   `yaml:"admin" envconfig:"ADMIN"`
	Logger   LogConfig     `yaml:"logger" envconfig:"LOGGER"`
}

func (c *AppConfig) GetLogDir() string {
	return path.Join(c.System.Workdir, "logs")
}

func (c *AppConfig) GetDataDir() string {
	return path.Join(c.System.Workdir, "data")
}

func (c *AppConfig) initDirs() {
	_ = os.MkdirAll(c.GetLogDir(), 0o755)
	_ = os.MkdirAll(c.GetDataDir(), 0o755)
}

// DefaultAppConfig returns the built-in defaults
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		System: SysConfig{
			Appid:    "RadBill",
			Location: "Asia/Shanghai",
			Workdir:  "/var/radbill",
			Secret:   "radbill-secret",
		},
		Database: DBConfig{
			Type:     "postgres",
			Host:     "127.0.0.1",
			Port:     5432,
			Name:     "radbill",
			User:     "postgres",
			Passwd:   "postgres",
			MaxConn:  100,
			IdleConn: 10,
		},
		Radiusd: RadiusdConfig{
			Enabled:    true,
			Host:       "0.0.0.0",
			AuthPort:   1812,
			AcctPort:   1813,
			Pool:       1024,
			StaleHours: 4,
		},
		Admin: AdminConfig{
			Enabled:  true,
			Host:     "127.0.0.1",
			Port:     1815,
			HttpPort: 1816,
		},
		Logger: LogConfig{
			Mode:       "development",
			FileEnable: false,
			Filename:   "/var/radbill/logs/radbill.log",
		},
	}
}

// LoadConfig reads the yaml file at cfgfile (optional) over the defaults and
// then applies RADBILL_* environment overrides.
func LoadConfig(cfgfile string) (*AppConfig, error) {
	cfg := DefaultAppConfig()
	if strings.TrimSpace(cfgfile) != "" {
		data, err := os.ReadFile(cfgfile)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", cfgfile)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", cfgfile)
		}
	}
	if err := envconfig.Process("radbill", cfg); err != nil {
		return nil, errors.Wrap(err, "process env config")
	}
	if cfg.Radiusd.StaleHours <= 0 {
		cfg.Radiusd.StaleHours = 4
	}
	if cfg.Radiusd.Pool <= 0 {
		cfg.Radiusd.Pool = 1024
	}
	cfg.initDirs()
	return cfg, nil
}
