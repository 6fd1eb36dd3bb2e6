package app

import (
	"strings"
	"time"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/pkg/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	superUsername   = "admin"
	defaultPassword = "radbill"
)

// checkSuper makes sure the admin operator exists, is enabled, has the super
// level and a password. A missing account is created with defaultPassword.
func (a *Application) checkSuper() {
	digest := common.Sha256HashWithSalt(defaultPassword, a.appConfig.System.Secret)

	var admin domain.SysOpr
	err := a.gormDB.Where("username = ?", superUsername).First(&admin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		admin = domain.SysOpr{
			ID:        common.UUIDint64(),
			Username:  superUsername,
			Realname:  "Super Administrator",
			Password:  digest,
			Level:     levelSuper,
			Status:    common.ENABLED,
			LastLogin: time.Now(),
		}
		if err := a.gormDB.Create(&admin).Error; err != nil {
			zap.L().Error("create admin operator", zap.Error(err))
			return
		}
		zap.L().Info("admin operator created", zap.String("username", superUsername))
		return
	}
	if err != nil {
		zap.L().Error("load admin operator", zap.Error(err))
		return
	}

	fix := superRepairs(&admin, digest)
	if len(fix) == 0 {
		return
	}
	fix["updated_at"] = time.Now()
	if err := a.gormDB.Model(&admin).Updates(fix).Error; err != nil {
		zap.L().Error("repair admin operator", zap.Error(err))
		return
	}
	repaired := make([]string, 0, len(fix))
	for k := range fix {
		if k != "updated_at" {
			repaired = append(repaired, k)
		}
	}
	zap.L().Warn("admin operator repaired",
		zap.String("username", superUsername),
		zap.Strings("fields", repaired))
}

const levelSuper = "super"

// superRepairs lists the columns of the admin row that need resetting
func superRepairs(admin *domain.SysOpr, digest string) map[string]interface{} {
	fix := map[string]interface{}{}
	if strings.TrimSpace(admin.Password) == "" {
		fix["password"] = digest
	}
	if !strings.EqualFold(admin.Level, levelSuper) {
		fix["level"] = levelSuper
	}
	if !strings.EqualFold(admin.Status, common.ENABLED) {
		fix["status"] = common.ENABLED
	}
	return fix
}

// checkSettings inserts the DefaultParams rows that are missing
func (a *Application) checkSettings() {
	var rows []domain.SysConfig
	if err := a.gormDB.Find(&rows).Error; err != nil {
		zap.L().Error("load params", zap.Error(err))
		return
	}
	present := make(map[string]bool, len(rows))
	for _, r := range rows {
		present[r.Type+"."+r.Name] = true
	}
	for i, p := range DefaultParams {
		key := p.Category + "." + p.Name
		if present[key] {
			continue
		}
		row := domain.SysConfig{
			ID:     common.UUIDint64(),
			Sort:   i,
			Type:   p.Category,
			Name:   p.Name,
			Value:  p.Value,
			Remark: p.Remark,
		}
		if err := a.gormDB.Create(&row).Error; err != nil {
			zap.L().Error("seed param", zap.String("param", key), zap.Error(err))
			continue
		}
		zap.L().Info("param seeded", zap.String("param", key), zap.String("value", p.Value))
	}
}

// ActiveOperator returns the enabled operator with the given username
func (a *Application) ActiveOperator(username string) (*domain.SysOpr, error) {
	var opr domain.SysOpr
	err := a.gormDB.Where("username = ? and status = ?", username, common.ENABLED).First(&opr).Error
	if err != nil {
		return nil, errors.Wrapf(err, "operator %s", username)
	}
	return &opr, nil
}
