package handlers

import (
	"time"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/internal/radiusd/plugins/accounting"
	"github.com/bjo163/radbill/internal/radiusd/plugins/vendorparsers"
	"go.uber.org/zap"
	"layeh.com/radius/rfc2866"
)

// StartHandler Accounting Start handler
type StartHandler struct {
	deps Deps
}

// NewStartHandler Create Accounting Start handler
func NewStartHandler(d Deps) *StartHandler {
	return &StartHandler{deps: d}
}

func (h *StartHandler) Name() string {
	return "StartHandler"
}

func (h *StartHandler) CanHandle(ctx *accounting.AccountingContext) bool {
	return ctx.StatusType == int(rfc2866.AcctStatusType_Value_Start)
}

func (h *StartHandler) Handle(acctCtx *accounting.AccountingContext) error {
	vendorReq := acctCtx.VendorReq
	if vendorReq == nil {
		vendorReq = &vendorparsers.VendorRequest{}
	}
	counters := accounting.ReadCounters(acctCtx.Request.Packet)
	online := buildOnline(acctCtx, vendorReq, counters)

	exists, err := h.deps.Sessions.Exists(acctCtx.Context, online.NasAddr, online.AcctSessionId)
	if err != nil {
		return err
	}
	if exists {
		// retransmitted Start, only refresh the row
		return h.deps.Sessions.Update(acctCtx.Context, &domain.RadiusOnline{
			NasAddr:           online.NasAddr,
			AcctSessionId:     online.AcctSessionId,
			AcctSessionTime:   counters.SessionTime,
			AcctInputTotal:    counters.InputTotal,
			AcctOutputTotal:   counters.OutputTotal,
			AcctInputPackets:  counters.InputPackets,
			AcctOutputPackets: counters.OutputPackets,
			LastUpdate:        time.Now(),
		})
	}

	if admitted, err := h.admit(acctCtx, online); err != nil || !admitted {
		return err
	}

	if err := h.deps.Sessions.Create(acctCtx.Context, online); err != nil {
		zap.L().Error("add radius online error",
			zap.String("namespace", "radius"),
			zap.String("username", online.Username),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// admit enforces the concurrent session limit for sessions that bypassed
// the check at authentication time, such as two logins racing each other.
func (h *StartHandler) admit(acctCtx *accounting.AccountingContext, online *domain.RadiusOnline) (bool, error) {
	if h.deps.Accounts == nil {
		return true, nil
	}
	user, product, err := productOf(acctCtx.Context, h.deps.Accounts, online.Username)
	if err != nil {
		// unknown accounts are still tracked
		return true, nil
	}
	limit := user.ConcurLimit(product)
	if limit == 0 {
		return true, nil
	}
	sessions, err := h.deps.Sessions.ListByUsername(acctCtx.Context, online.Username)
	if err != nil {
		return false, err
	}
	if len(sessions) < limit {
		return true, nil
	}

	autoUnlock := h.deps.Params != nil && h.deps.Params.GetBool(domain.ParamCategoryRadius, domain.ParamAutoUnlock)
	if !autoUnlock {
		zap.L().Warn("accounting start exceeds concurrency limit, disconnecting",
			zap.String("namespace", "radius"),
			zap.String("username", online.Username),
			zap.String("acct_session_id", online.AcctSessionId),
			zap.Int("limit", limit))
		if h.deps.Closer != nil {
			if err := h.deps.Closer.Disconnect(acctCtx.Context, online, "concurrency limit"); err != nil {
				zap.L().Error("disconnect excess session failed",
					zap.String("namespace", "radius"),
					zap.String("username", online.Username),
					zap.Error(err))
			}
		}
		return false, nil
	}

	if h.deps.Closer == nil {
		return true, nil
	}
	for _, old := range sessions[:len(sessions)-limit+1] {
		if err := h.deps.Closer.Close(acctCtx.Context, old, "concurrency limit", true); err != nil {
			zap.L().Error("unlock oldest session failed",
				zap.String("namespace", "radius"),
				zap.String("username", old.Username),
				zap.String("acct_session_id", old.AcctSessionId),
				zap.Error(err))
		}
	}
	return true, nil
}
