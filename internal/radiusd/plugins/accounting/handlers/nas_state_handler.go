package handlers

import (
	"github.com/bjo163/radbill/internal/radiusd/plugins/accounting"
	"go.uber.org/zap"
	"layeh.com/radius/rfc2866"
)

// NasStateHandler handles Accounting-On and Accounting-Off. The NAS lost or
// is about to lose every session, so all of its online rows are closed
// without sending a Disconnect-Request.
type NasStateHandler struct {
	deps Deps
}

func NewNasStateHandler(d Deps) *NasStateHandler {
	return &NasStateHandler{deps: d}
}

func (h *NasStateHandler) Name() string {
	return "NasStateHandler"
}

func (h *NasStateHandler) CanHandle(ctx *accounting.AccountingContext) bool {
	return ctx.StatusType == int(rfc2866.AcctStatusType_Value_AccountingOn) ||
		ctx.StatusType == int(rfc2866.AcctStatusType_Value_AccountingOff)
}

func (h *NasStateHandler) Handle(acctCtx *accounting.AccountingContext) error {
	reason := "accounting-on"
	if acctCtx.StatusType == int(rfc2866.AcctStatusType_Value_AccountingOff) {
		reason = "accounting-off"
	}
	sessions, err := h.deps.Sessions.ListByNas(acctCtx.Context, acctCtx.NAS.Ipaddr)
	if err != nil {
		return err
	}
	closed := 0
	for _, online := range sessions {
		if err := h.deps.Closer.Close(acctCtx.Context, online, reason, false); err != nil {
			zap.L().Error("close nas session failed",
				zap.String("namespace", "radius"),
				zap.String("nas", acctCtx.NAS.Ipaddr),
				zap.String("acct_session_id", online.AcctSessionId),
				zap.Error(err))
			continue
		}
		closed++
	}
	zap.L().Info("nas state changed, sessions closed",
		zap.String("namespace", "radius"),
		zap.String("nas", acctCtx.NAS.Ipaddr),
		zap.String("state", reason),
		zap.Int("closed", closed))
	return nil
}
