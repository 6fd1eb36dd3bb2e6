package repository

import (
	"context"
	"time"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// wrapErr maps gorm errors onto the repository sentinels
func wrapErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return errors.Wrap(errors.WithMessage(ErrStoreUnavailable, err.Error()), msg)
}

// GormNasRepository NAS lookups backed by gorm
type GormNasRepository struct {
	db *gorm.DB
}

func NewGormNasRepository(db *gorm.DB) *GormNasRepository {
	return &GormNasRepository{db: db}
}

func (r *GormNasRepository) GetByIP(ctx context.Context, ip string) (*domain.NetNas, error) {
	var nas domain.NetNas
	err := r.db.WithContext(ctx).Where("ipaddr = ?", ip).First(&nas).Error
	if err != nil {
		return nil, wrapErr(err, "query nas")
	}
	return &nas, nil
}

// GormUserRepository account operations backed by gorm
type GormUserRepository struct {
	db *gorm.DB
}

func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

func (r *GormUserRepository) GetByUsername(ctx context.Context, username string) (*domain.RadiusUser, error) {
	var user domain.RadiusUser
	err := r.db.WithContext(ctx).Where("account_number = ?", username).First(&user).Error
	if err != nil {
		return nil, wrapErr(err, "query user")
	}
	return &user, nil
}

func (r *GormUserRepository) UpdateMacAddr(ctx context.Context, username, mac string) error {
	err := r.db.WithContext(ctx).Model(&domain.RadiusUser{}).
		Where("account_number = ?", username).
		Updates(map[string]interface{}{"mac_addr": mac, "updated_at": time.Now()}).Error
	return wrapErr(err, "update user mac")
}

func (r *GormUserRepository) UpdateVlanId(ctx context.Context, username string, vlanId1, vlanId2 int) error {
	err := r.db.WithContext(ctx).Model(&domain.RadiusUser{}).
		Where("account_number = ?", username).
		Updates(map[string]interface{}{"vlan_id1": vlanId1, "vlan_id2": vlanId2, "updated_at": time.Now()}).Error
	return wrapErr(err, "update user vlan")
}

// GormProductRepository product lookups backed by gorm
type GormProductRepository struct {
	db *gorm.DB
}

func NewGormProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

func (r *GormProductRepository) GetByID(ctx context.Context, id int64) (*domain.RadiusProduct, error) {
	var product domain.RadiusProduct
	err := r.db.WithContext(ctx).Preload("Attrs").Where("id = ?", id).First(&product).Error
	if err != nil {
		return nil, wrapErr(err, "query product")
	}
	return &product, nil
}

// GormRosterRepository roster lookups backed by gorm
type GormRosterRepository struct {
	db *gorm.DB
}

func NewGormRosterRepository(db *gorm.DB) *GormRosterRepository {
	return &GormRosterRepository{db: db}
}

func (r *GormRosterRepository) GetByMac(ctx context.Context, mac string) (*domain.RadiusRoster, error) {
	var roster domain.RadiusRoster
	err := r.db.WithContext(ctx).Where("mac_addr = ?", mac).First(&roster).Error
	if err != nil {
		return nil, wrapErr(err, "query roster")
	}
	return &roster, nil
}

// GormSessionRepository online sessions backed by gorm
type GormSessionRepository struct {
	db *gorm.DB
}

func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	return &GormSessionRepository{db: db}
}

func (r *GormSessionRepository) Create(ctx context.Context, online *domain.RadiusOnline) error {
	return wrapErr(r.db.WithContext(ctx).Create(online).Error, "create online")
}

func (r *GormSessionRepository) Update(ctx context.Context, online *domain.RadiusOnline) error {
	err := r.db.WithContext(ctx).Model(&domain.RadiusOnline{}).
		Where("nas_addr = ? and acct_session_id = ?", online.NasAddr, online.AcctSessionId).
		Updates(map[string]interface{}{
			"acct_session_time":   online.AcctSessionTime,
			"acct_input_total":    online.AcctInputTotal,
			"acct_output_total":   online.AcctOutputTotal,
			"acct_input_packets":  online.AcctInputPackets,
			"acct_output_packets": online.AcctOutputPackets,
			"last_update":         time.Now(),
		}).Error
	return wrapErr(err, "update online")
}

func (r *GormSessionRepository) Get(ctx context.Context, nasAddr, sessionId string) (*domain.RadiusOnline, error) {
	var online domain.RadiusOnline
	err := r.db.WithContext(ctx).
		Where("nas_addr = ? and acct_session_id = ?", nasAddr, sessionId).
		First(&online).Error
	if err != nil {
		return nil, wrapErr(err, "query online")
	}
	return &online, nil
}

func (r *GormSessionRepository) Exists(ctx context.Context, nasAddr, sessionId string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.RadiusOnline{}).
		Where("nas_addr = ? and acct_session_id = ?", nasAddr, sessionId).
		Count(&count).Error
	if err != nil {
		return false, wrapErr(err, "count online")
	}
	return count > 0, nil
}

func (r *GormSessionRepository) Delete(ctx context.Context, nasAddr, sessionId string) error {
	err := r.db.WithContext(ctx).
		Where("nas_addr = ? and acct_session_id = ?", nasAddr, sessionId).
		Delete(&domain.RadiusOnline{}).Error
	return wrapErr(err, "delete online")
}

func (r *GormSessionRepository) CountByUsername(ctx context.Context, username string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.RadiusOnline{}).
		Where("username = ?", username).Count(&count).Error
	if err != nil {
		return 0, wrapErr(err, "count user online")
	}
	return int(count), nil
}

func (r *GormSessionRepository) ListByUsername(ctx context.Context, username string) ([]*domain.RadiusOnline, error) {
	var list []*domain.RadiusOnline
	err := r.db.WithContext(ctx).Where("username = ?", username).
		Order("acct_start_time asc").Find(&list).Error
	return list, wrapErr(err, "list user online")
}

func (r *GormSessionRepository) ListByNas(ctx context.Context, nasAddr string) ([]*domain.RadiusOnline, error) {
	var list []*domain.RadiusOnline
	err := r.db.WithContext(ctx).Where("nas_addr = ?", nasAddr).Find(&list).Error
	return list, wrapErr(err, "list nas online")
}

func (r *GormSessionRepository) ListStale(ctx context.Context, before time.Time) ([]*domain.RadiusOnline, error) {
	var list []*domain.RadiusOnline
	err := r.db.WithContext(ctx).Where("last_update < ?", before).Find(&list).Error
	return list, wrapErr(err, "list stale online")
}

func (r *GormSessionRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.RadiusOnline{}).Count(&count).Error
	return count, wrapErr(err, "count online")
}

// GormTicketRepository tickets backed by gorm
type GormTicketRepository struct {
	db *gorm.DB
}

func NewGormTicketRepository(db *gorm.DB) *GormTicketRepository {
	return &GormTicketRepository{db: db}
}

func (r *GormTicketRepository) Create(ctx context.Context, ticket *domain.RadiusTicket) error {
	return wrapErr(r.db.WithContext(ctx).Create(ticket).Error, "create ticket")
}

func (r *GormTicketRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.RadiusTicket{}).
		Where("created_at >= ?", since).Count(&count).Error
	return count, wrapErr(err, "count tickets")
}
