package handlers

import (
	"context"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/internal/radiusd/billing"
	"github.com/bjo163/radbill/internal/radiusd/plugins/accounting"
	"github.com/bjo163/radbill/internal/radiusd/plugins/vendorparsers"
	"github.com/bjo163/radbill/internal/radiusd/repository"
	"github.com/bjo163/radbill/pkg/common"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2869"
)

// AccountSource resolves the subscriber and product of a session
type AccountSource interface {
	GetUser(ctx context.Context, username string) (*domain.RadiusUser, error)
	GetProduct(ctx context.Context, id int64) (*domain.RadiusProduct, error)
}

// Settler settles usage through the billing engine
type Settler interface {
	Settle(ctx context.Context, req *billing.Request) (*repository.SettleResult, error)
}

// TicketWriter appends tickets that are not tied to a settlement
type TicketWriter interface {
	CreateTicket(ctx context.Context, ticket *domain.RadiusTicket) error
}

// SessionCloser force closes sessions: settle, ticket, delete and
// optionally a Disconnect-Request to the NAS
type SessionCloser interface {
	Close(ctx context.Context, online *domain.RadiusOnline, reason string, sendCoa bool) error
	Disconnect(ctx context.Context, online *domain.RadiusOnline, reason string) error
}

// Deps are shared by the accounting handlers
type Deps struct {
	Sessions repository.SessionRepository
	Accounts AccountSource
	Billing  Settler
	Tickets  TicketWriter
	Closer   SessionCloser
	Params   repository.ParamProvider
}

// DefaultHandlers returns the handlers for every supported Acct-Status-Type
func DefaultHandlers(d Deps) []accounting.AccountingHandler {
	return []accounting.AccountingHandler{
		NewStartHandler(d),
		NewUpdateHandler(d),
		NewStopHandler(d),
		NewNasStateHandler(d),
	}
}

// productOf returns the product of a subscriber, or nil when it cannot be
// resolved; billing then records usage without charging
func productOf(ctx context.Context, accounts AccountSource, username string) (*domain.RadiusUser, *domain.RadiusProduct, error) {
	user, err := accounts.GetUser(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	product, err := accounts.GetProduct(ctx, user.ProductId)
	if err != nil {
		return user, nil, err
	}
	return user, product, nil
}

// buildOnline creates the online row for a Start or an Interim-Update without Start
func buildOnline(acctCtx *accounting.AccountingContext, vr *vendorparsers.VendorRequest, c accounting.Counters) *domain.RadiusOnline {
	p := acctCtx.Request.Packet
	now := acctCtx.EventTime()
	return &domain.RadiusOnline{
		ID:                common.UUIDint64(),
		Username:          acctCtx.Username,
		NasId:             common.IfEmptyStr(rfc2865.NASIdentifier_GetString(p), acctCtx.NAS.Identifier),
		NasAddr:           acctCtx.NAS.Ipaddr,
		NasPaddr:          acctCtx.NASIP,
		SessionTimeout:    int(rfc2865.SessionTimeout_Get(p)),
		FramedIpaddr:      ipString(rfc2865.FramedIPAddress_Get(p).String()),
		FramedNetmask:     ipString(rfc2865.FramedIPNetmask_Get(p).String()),
		MacAddr:           common.IfEmptyStr(vr.MacAddr, common.NA),
		NasPort:           int64(rfc2865.NASPort_Get(p)),
		NasClass:          common.IfEmptyStr(rfc2865.Class_GetString(p), common.NA),
		NasPortId:         common.IfEmptyStr(rfc2869.NASPortID_GetString(p), common.NA),
		NasPortType:       int(rfc2865.NASPortType_Get(p)),
		ServiceType:       int(rfc2865.ServiceType_Get(p)),
		AcctSessionId:     c.SessionId,
		AcctSessionTime:   c.SessionTime,
		AcctInputTotal:    c.InputTotal,
		AcctOutputTotal:   c.OutputTotal,
		AcctInputPackets:  c.InputPackets,
		AcctOutputPackets: c.OutputPackets,
		AcctStartTime:     now.Add(-secondsDuration(c.SessionTime)),
		LastUpdate:        now,
	}
}

// nil net.IP renders as "<nil>"
func ipString(s string) string {
	if s == "<nil>" {
		return common.NA
	}
	return common.IfEmptyStr(s, common.NA)
}
