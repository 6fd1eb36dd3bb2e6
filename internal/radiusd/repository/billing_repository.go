package repository

import (
	"context"
	"time"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/pkg/common"
	"gorm.io/gorm"
)

// GormBillingRepository applies settlements in one transaction
type GormBillingRepository struct {
	db *gorm.DB
}

func NewGormBillingRepository(db *gorm.DB) *GormBillingRepository {
	return &GormBillingRepository{db: db}
}

// Settle moves the checkpoint with a compare-and-swap UPDATE, charges the
// account and writes the ticket. When the checkpoint already moved (a
// concurrent or replayed settlement) nothing is changed and Applied is false.
func (r *GormBillingRepository) Settle(ctx context.Context, s *Settlement) (*SettleResult, error) {
	result := &SettleResult{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.RadiusOnline{}).
			Where("nas_addr = ? and acct_session_id = ? and billing_times = ? and billing_output = ?",
				s.NasAddr, s.AcctSessionId, s.PrevTimes, s.PrevOutput).
			Updates(map[string]interface{}{
				"billing_times":     s.NextTimes,
				"billing_output":    s.NextOutput,
				"acct_session_time": s.AcctSessionTime,
				"acct_input_total":  s.AcctInputTotal,
				"acct_output_total": s.AcctOutputTotal,
				"last_update":       time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		var user domain.RadiusUser
		if err := tx.Where("account_number = ?", s.Username).First(&user).Error; err != nil {
			return err
		}

		actualFee := s.Fee
		if actualFee > user.Balance {
			actualFee = user.Balance
		}
		if actualFee < 0 {
			actualFee = 0
		}
		user.Balance -= actualFee
		user.TimeLength -= s.TimeUsed
		if user.TimeLength < 0 {
			user.TimeLength = 0
		}
		user.FlowLength -= s.FlowUsed
		if user.FlowLength < 0 {
			user.FlowLength = 0
		}
		err := tx.Model(&domain.RadiusUser{}).Where("id = ?", user.ID).
			Updates(map[string]interface{}{
				"balance":     user.Balance,
				"time_length": user.TimeLength,
				"flow_length": user.FlowLength,
				"updated_at":  time.Now(),
			}).Error
		if err != nil {
			return err
		}

		if s.Ticket != nil {
			t := s.Ticket
			if t.ID == 0 {
				t.ID = common.UUIDint64()
			}
			t.AcctFee = s.Fee
			t.ActualFee = actualFee
			t.Balance = user.Balance
			t.TimeLength = user.TimeLength
			t.FlowLength = user.FlowLength
			if actualFee > 0 || s.TimeUsed > 0 || s.FlowUsed > 0 {
				t.IsDeduct = 1
			}
			if t.CreatedAt.IsZero() {
				t.CreatedAt = time.Now()
			}
			if err := tx.Create(t).Error; err != nil {
				return err
			}
		}

		result.Applied = true
		result.ActualFee = actualFee
		result.User = &user
		return nil
	})
	if err != nil {
		return nil, wrapErr(err, "settle")
	}
	return result, nil
}
