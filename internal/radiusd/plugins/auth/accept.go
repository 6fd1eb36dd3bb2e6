package auth

import (
	"net"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/internal/radiusd/codec"
	"github.com/bjo163/radbill/internal/radiusd/dictionary"
	"github.com/bjo163/radbill/internal/radiusd/qos"
	"github.com/bjo163/radbill/internal/radiusd/repository"
	"github.com/bjo163/radbill/pkg/common"
	"go.uber.org/zap"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2869"
)

const (
	DefaultMaxSessionTimeout = 86400
	ExpiredSessionTimeout    = 120
)

// RateLimitFilter appends the vendor rate limit attributes of the product
type RateLimitFilter struct{}

func (RateLimitFilter) Name() string { return "rate-limit" }

func (RateLimitFilter) Stage() Stage { return StageDecorate }

func (RateLimitFilter) Process(ctx *AuthContext) error {
	if ctx.ExpiredPool != "" || ctx.Rate == nil || ctx.Product == nil {
		return nil
	}
	limits := qos.FromProduct(ctx.Product)
	if limits.UpRate <= 0 && limits.DownRate <= 0 {
		return nil
	}
	return ctx.Rate.Decorate(ctx.Response, limits)
}

// AcceptFilter fills Session-Timeout, interim interval, static address and
// the product reply attributes
type AcceptFilter struct {
	Dict   *dictionary.Dictionary
	Params repository.ParamProvider
}

func (f *AcceptFilter) Name() string { return "accept" }

func (f *AcceptFilter) Stage() Stage { return StageDecorate }

func (f *AcceptFilter) Process(ctx *AuthContext) error {
	resp := ctx.Response
	if ctx.ExpiredPool != "" {
		if err := rfc2869.FramedPool_SetString(resp, ctx.ExpiredPool); err != nil {
			return err
		}
		return rfc2865.SessionTimeout_Set(resp, ExpiredSessionTimeout)
	}

	maxTimeout := paramInt(f.Params, domain.ParamMaxSessionTimeout, DefaultMaxSessionTimeout)
	timeout := SessionTimeout(ctx, maxTimeout)
	if err := rfc2865.SessionTimeout_Set(resp, rfc2865.SessionTimeout(timeout)); err != nil {
		return err
	}

	if interim := paramInt(f.Params, domain.ParamAcctInterimInterval, 0); interim > 0 {
		if err := rfc2869.AcctInterimInterval_Set(resp, rfc2869.AcctInterimInterval(interim)); err != nil {
			return err
		}
	}

	if !common.IsEmptyOrNA(ctx.User.IpAddr) {
		if ip := net.ParseIP(ctx.User.IpAddr).To4(); ip != nil {
			if err := rfc2865.FramedIPAddress_Set(resp, ip); err != nil {
				return err
			}
		}
	}

	if ctx.Product != nil && f.Dict != nil {
		for _, attr := range ctx.Product.Attrs {
			if attr.AttrType != domain.AttrTypeRadius {
				continue
			}
			if err := codec.AddByName(resp, f.Dict, attr.Name, attr.Value); err != nil {
				zap.L().Warn("skip product reply attribute",
					zap.String("namespace", "radius"),
					zap.String("attr", attr.Name),
					zap.Error(err))
			}
		}
	}
	return nil
}

// SessionTimeout bounds the session by what the policy has left: calendar
// time for month policies, balance/price hours for prepaid time and the
// remaining seconds for buyout time.
func SessionTimeout(ctx *AuthContext, maxTimeout int64) int64 {
	user, product := ctx.User, ctx.Product
	bound := maxTimeout
	if product != nil {
		switch product.Policy {
		case domain.PolicyPrepaidMonth, domain.PolicyBuyoutMonth:
			if expire, err := user.ExpireTime(); err == nil {
				bound = int64(expire.Sub(ctx.Now).Seconds())
			}
		case domain.PolicyPrepaidTime:
			if product.FeePrice > 0 {
				bound = user.Balance * 3600 / product.FeePrice
			}
		case domain.PolicyBuyoutTime:
			bound = user.TimeLength
		}
	}
	if bound > maxTimeout {
		bound = maxTimeout
	}
	if bound < 1 {
		bound = 1
	}
	return bound
}
