package handlers

import (
	"time"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/internal/radiusd/billing"
	"github.com/bjo163/radbill/internal/radiusd/plugins/accounting"
	"github.com/bjo163/radbill/internal/radiusd/plugins/vendorparsers"
	"github.com/bjo163/radbill/internal/radiusd/repository"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"layeh.com/radius/rfc2866"
)

// UpdateHandler Accounting Interim-Update handler
type UpdateHandler struct {
	deps Deps
}

// NewUpdateHandler Create Accounting Interim-Update handler
func NewUpdateHandler(d Deps) *UpdateHandler {
	return &UpdateHandler{deps: d}
}

func (h *UpdateHandler) Name() string {
	return "UpdateHandler"
}

func (h *UpdateHandler) CanHandle(ctx *accounting.AccountingContext) bool {
	return ctx.StatusType == int(rfc2866.AcctStatusType_Value_InterimUpdate)
}

func (h *UpdateHandler) Handle(acctCtx *accounting.AccountingContext) error {
	vendorReq := acctCtx.VendorReq
	if vendorReq == nil {
		vendorReq = &vendorparsers.VendorRequest{}
	}
	counters := accounting.ReadCounters(acctCtx.Request.Packet)

	online, err := h.deps.Sessions.Get(acctCtx.Context, acctCtx.NAS.Ipaddr, counters.SessionId)
	if errors.Is(err, repository.ErrNotFound) {
		// the Start packet was lost; open the session from the interim values
		// with the checkpoint at zero so the whole session gets billed
		online = buildOnline(acctCtx, vendorReq, counters)
		if err := h.deps.Sessions.Create(acctCtx.Context, online); err != nil {
			zap.L().Error("create radius online session from interim-update error",
				zap.String("namespace", "radius"),
				zap.String("username", acctCtx.Username),
				zap.Error(err),
			)
			return err
		}
		zap.L().Info("created radius online session from interim-update packet",
			zap.String("namespace", "radius"),
			zap.String("username", acctCtx.Username),
			zap.String("acct_session_id", counters.SessionId),
		)
	} else if err != nil {
		zap.L().Error("query radius online session error",
			zap.String("namespace", "radius"),
			zap.String("username", acctCtx.Username),
			zap.Error(err),
		)
		return err
	}

	_, product, err := productOf(acctCtx.Context, h.deps.Accounts, online.Username)
	if err != nil {
		zap.L().Warn("interim-update without billable product",
			zap.String("namespace", "radius"),
			zap.String("username", online.Username),
			zap.Error(err),
		)
	}

	_, err = h.deps.Billing.Settle(acctCtx.Context, &billing.Request{
		Online:              online,
		Product:             product,
		SessionTime:         counters.SessionTime,
		InputTotal:          counters.InputTotal,
		OutputTotal:         counters.OutputTotal,
		DisconnectOnExhaust: true,
	})
	if err != nil {
		return err
	}

	// Update the counters and last_update of the online session record
	err = h.deps.Sessions.Update(acctCtx.Context, &domain.RadiusOnline{
		NasAddr:           online.NasAddr,
		AcctSessionId:     online.AcctSessionId,
		AcctSessionTime:   counters.SessionTime,
		AcctInputTotal:    counters.InputTotal,
		AcctOutputTotal:   counters.OutputTotal,
		AcctInputPackets:  counters.InputPackets,
		AcctOutputPackets: counters.OutputPackets,
		LastUpdate:        time.Now(),
	})
	if err != nil {
		zap.L().Error("update radius online error",
			zap.String("namespace", "radius"),
			zap.String("username", acctCtx.Username),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func secondsDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
