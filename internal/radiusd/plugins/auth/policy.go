package auth

import (
	"github.com/bjo163/radbill/internal/domain"
	raderrors "github.com/bjo163/radbill/internal/radiusd/errors"
	"github.com/bjo163/radbill/internal/radiusd/repository"
	"go.uber.org/zap"
)

// PolicyFilter checks account status, expiry, remaining balance/time/flow and
// the concurrent session limit
type PolicyFilter struct {
	Sessions SessionSource
	Params   repository.ParamProvider
	Unlocker Unlocker
}

func (f *PolicyFilter) Name() string { return "policy" }

func (f *PolicyFilter) Stage() Stage { return StageCheck }

func (f *PolicyFilter) Process(ctx *AuthContext) error {
	user, product := ctx.User, ctx.Product

	switch user.Status {
	case domain.UserStatusNormal, domain.UserStatusExpired:
	case domain.UserStatusPaused:
		return raderrors.NewAuthError(raderrors.RejectDisabled, "user is paused")
	case domain.UserStatusCancel:
		return raderrors.NewAuthError(raderrors.RejectDisabled, "user is cancelled")
	default:
		return raderrors.NewAuthError(raderrors.RejectDisabled, "user is not activated")
	}

	if product.IsMonthly() || user.Status == domain.UserStatusExpired {
		expire, err := user.ExpireTime()
		if err != nil {
			return raderrors.NewAuthError(raderrors.RejectExpire, "user expire date invalid")
		}
		if user.Status == domain.UserStatusExpired || ctx.Now.After(expire) {
			if pool := paramString(f.Params, domain.ParamExpireAddrPool); pool != "" {
				ctx.ExpiredPool = pool
				return nil
			}
			return raderrors.NewAuthError(raderrors.RejectExpire, "user expired")
		}
	}

	switch product.Policy {
	case domain.PolicyPrepaidTime, domain.PolicyPrepaidFlow:
		if user.Balance <= 0 {
			return raderrors.NewAuthError(raderrors.RejectBalance, "user balance exhausted")
		}
	case domain.PolicyBuyoutTime:
		if user.TimeLength <= 0 {
			return raderrors.NewAuthError(raderrors.RejectBalance, "user time length exhausted")
		}
	case domain.PolicyBuyoutFlow:
		if user.FlowLength <= 0 {
			return raderrors.NewAuthError(raderrors.RejectBalance, "user flow length exhausted")
		}
	}

	return f.checkConcurrency(ctx)
}

func (f *PolicyFilter) checkConcurrency(ctx *AuthContext) error {
	limit := ctx.User.ConcurLimit(ctx.Product)
	if limit == 0 || f.Sessions == nil {
		return nil
	}
	sessions, err := f.Sessions.ListByUsername(ctx.Context, ctx.User.AccountNumber)
	if err != nil {
		return err
	}
	if len(sessions) < limit {
		return nil
	}
	if !paramBool(f.Params, domain.ParamAutoUnlock) || f.Unlocker == nil {
		return raderrors.NewAuthError(raderrors.RejectConcur, "user online count exceeds limit %d", limit)
	}
	// make room for the new session, oldest first
	for _, online := range sessions[:len(sessions)-limit+1] {
		if err := f.Unlocker.Unlock(ctx.Context, online, "concurrency limit"); err != nil {
			zap.L().Error("auto unlock session failed",
				zap.String("namespace", "radius"),
				zap.String("username", online.Username),
				zap.String("acct_session_id", online.AcctSessionId),
				zap.Error(err))
			return raderrors.NewAuthError(raderrors.RejectConcur, "user online count exceeds limit %d", limit)
		}
	}
	return nil
}
