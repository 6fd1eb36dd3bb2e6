package app

import (
	"strings"
	"sync"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/pkg/common"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ParamDefault describes one runtime parameter seeded into sys_config
type ParamDefault struct {
	Category string
	Name     string
	Value    string
	Remark   string
}

// DefaultParams are created by initdb when missing
var DefaultParams = []ParamDefault{
	{domain.ParamCategoryRadius, domain.ParamRejectDelay, "0", "Seconds to hold rejects of repeatedly failing clients, 0-9"},
	{domain.ParamCategoryRadius, domain.ParamAutoUnlock, common.DISABLED, "Close the oldest session instead of refusing a start beyond the limit"},
	{domain.ParamCategoryRadius, domain.ParamExpireAddrPool, "", "Address pool handed to expired month subscribers"},
	{domain.ParamCategoryRadius, domain.ParamMaxSessionTimeout, "86400", "Upper bound of Session-Timeout in seconds"},
	{domain.ParamCategoryRadius, domain.ParamAcctInterimInterval, "120", "Acct-Interim-Interval sent on Access-Accept"},
}

// ConfigManager caches sys_config rows keyed by category and name
type ConfigManager struct {
	db     *gorm.DB
	mu     sync.RWMutex
	values map[string]string
}

func NewConfigManager(db *gorm.DB) *ConfigManager {
	m := &ConfigManager{db: db, values: map[string]string{}}
	m.Reload()
	return m
}

func configKey(category, name string) string {
	return category + "." + name
}

// Reload replaces the cache with the current rows. On a database error the
// previous values are kept.
func (m *ConfigManager) Reload() {
	var rows []domain.SysConfig
	if err := m.db.Find(&rows).Error; err != nil {
		zap.L().Error("load sys_config failed", zap.Error(err))
		return
	}
	values := make(map[string]string, len(rows)+len(DefaultParams))
	for _, p := range DefaultParams {
		values[configKey(p.Category, p.Name)] = p.Value
	}
	for _, row := range rows {
		values[configKey(row.Type, row.Name)] = row.Value
	}
	m.mu.Lock()
	m.values = values
	m.mu.Unlock()
}

func (m *ConfigManager) GetString(category, name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[configKey(category, name)]
}

func (m *ConfigManager) GetInt64(category, name string) int64 {
	return cast.ToInt64(strings.TrimSpace(m.GetString(category, name)))
}

// GetBool accepts "enabled" besides the usual boolean spellings
func (m *ConfigManager) GetBool(category, name string) bool {
	v := strings.TrimSpace(m.GetString(category, name))
	if strings.EqualFold(v, common.ENABLED) {
		return true
	}
	return cast.ToBool(v)
}

// Set writes a parameter and refreshes the cached value
func (m *ConfigManager) Set(category, name, value string) error {
	var row domain.SysConfig
	err := m.db.Where("type = ? and name = ?", category, name).First(&row).Error
	switch {
	case err == nil:
		err = m.db.Model(&row).Update("value", value).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		err = m.db.Create(&domain.SysConfig{
			ID:    common.UUIDint64(),
			Type:  category,
			Name:  name,
			Value: value,
		}).Error
	}
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.values[configKey(category, name)] = value
	m.mu.Unlock()
	return nil
}
