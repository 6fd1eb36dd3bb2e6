package handlers

import (
	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/internal/radiusd/billing"
	"github.com/bjo163/radbill/internal/radiusd/plugins/accounting"
	"github.com/bjo163/radbill/internal/radiusd/plugins/vendorparsers"
	"github.com/bjo163/radbill/internal/radiusd/repository"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"layeh.com/radius/rfc2866"
)

// StopHandler Accounting Stop handler
type StopHandler struct {
	deps Deps
}

// NewStopHandler Create Accounting Stop handler
func NewStopHandler(d Deps) *StopHandler {
	return &StopHandler{deps: d}
}

func (h *StopHandler) Name() string {
	return "StopHandler"
}

func (h *StopHandler) CanHandle(ctx *accounting.AccountingContext) bool {
	return ctx.StatusType == int(rfc2866.AcctStatusType_Value_Stop)
}

func (h *StopHandler) Handle(acctCtx *accounting.AccountingContext) error {
	p := acctCtx.Request.Packet
	counters := accounting.ReadCounters(p)
	stopTime := acctCtx.EventTime()

	online, err := h.deps.Sessions.Get(acctCtx.Context, acctCtx.NAS.Ipaddr, counters.SessionId)
	if errors.Is(err, repository.ErrNotFound) {
		return h.orphanTicket(acctCtx, counters)
	}
	if err != nil {
		return err
	}

	_, product, err := productOf(acctCtx.Context, h.deps.Accounts, online.Username)
	if err != nil {
		zap.L().Warn("accounting stop without billable product",
			zap.String("namespace", "radius"),
			zap.String("username", online.Username),
			zap.Error(err))
	}

	ticket := billing.NewTicket(domain.TicketStop, online, product)
	ticket.AcctStopTime = stopTime
	ticket.AcctInputPackets = counters.InputPackets
	ticket.AcctOutputPackets = counters.OutputPackets
	ticket.AcctTerminateCause = int(rfc2866.AcctTerminateCause_Get(p))

	_, err = h.deps.Billing.Settle(acctCtx.Context, &billing.Request{
		Online:      online,
		Product:     product,
		SessionTime: counters.SessionTime,
		InputTotal:  counters.InputTotal,
		OutputTotal: counters.OutputTotal,
		Ticket:      ticket,
	})
	if errors.Is(err, repository.ErrNotFound) {
		// closed concurrently by an unlock, or the account was removed
		zap.L().Info("accounting stop for session already closed or account missing",
			zap.String("namespace", "radius"),
			zap.String("username", online.Username),
			zap.String("acct_session_id", online.AcctSessionId))
	} else if err != nil {
		zap.L().Error("settle radius session on stop error",
			zap.String("namespace", "radius"),
			zap.String("username", online.Username),
			zap.Error(err))
		return err
	}

	if err := h.deps.Sessions.Delete(acctCtx.Context, online.NasAddr, online.AcctSessionId); err != nil {
		zap.L().Error("delete radius online error",
			zap.String("namespace", "radius"),
			zap.String("username", online.Username),
			zap.Error(err))
		return err
	}
	return nil
}

// orphanTicket records a Stop whose session is unknown, without charging
func (h *StopHandler) orphanTicket(acctCtx *accounting.AccountingContext, counters accounting.Counters) error {
	vendorReq := acctCtx.VendorReq
	if vendorReq == nil {
		vendorReq = &vendorparsers.VendorRequest{}
	}
	online := buildOnline(acctCtx, vendorReq, counters)
	ticket := billing.NewTicket(domain.TicketStop, online, nil)
	ticket.ID = online.ID
	ticket.AcctStopTime = online.LastUpdate
	ticket.AcctTerminateCause = int(rfc2866.AcctTerminateCause_Get(acctCtx.Request.Packet))
	ticket.Remark = "no online session"

	zap.L().Warn("accounting stop without online session",
		zap.String("namespace", "radius"),
		zap.String("username", online.Username),
		zap.String("acct_session_id", online.AcctSessionId))
	if h.deps.Tickets == nil {
		return nil
	}
	return h.deps.Tickets.CreateTicket(acctCtx.Context, ticket)
}
