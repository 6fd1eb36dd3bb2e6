package accounting

import (
	"context"
	"time"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/internal/radiusd/plugins/vendorparsers"
	"layeh.com/radius"
	"layeh.com/radius/rfc2866"
	"layeh.com/radius/rfc2869"
)

// AccountingContext is one Accounting-Request handed to the handlers after
// the Accounting-Response has been sent
type AccountingContext struct {
	Context    context.Context
	Request    *radius.Request
	VendorReq  *vendorparsers.VendorRequest
	Username   string
	NAS        *domain.NetNas
	NASIP      string
	StatusType int
}

// AccountingHandler processes one Acct-Status-Type
type AccountingHandler interface {
	Name() string
	CanHandle(ctx *AccountingContext) bool
	Handle(ctx *AccountingContext) error
}

const gigaword = int64(4) << 30

// Counters are the cumulative values reported in an Accounting-Request
type Counters struct {
	SessionId     string
	SessionTime   int
	InputTotal    int64
	OutputTotal   int64
	InputPackets  int
	OutputPackets int
}

// ReadCounters extracts the session counters, folding in the gigaword attributes
func ReadCounters(p *radius.Packet) Counters {
	return Counters{
		SessionId:     rfc2866.AcctSessionID_GetString(p),
		SessionTime:   int(rfc2866.AcctSessionTime_Get(p)),
		InputTotal:    int64(rfc2866.AcctInputOctets_Get(p)) + int64(rfc2869.AcctInputGigawords_Get(p))*gigaword,
		OutputTotal:   int64(rfc2866.AcctOutputOctets_Get(p)) + int64(rfc2869.AcctOutputGigawords_Get(p))*gigaword,
		InputPackets:  int(rfc2866.AcctInputPackets_Get(p)),
		OutputPackets: int(rfc2866.AcctOutputPackets_Get(p)),
	}
}

// EventTime returns the Event-Timestamp of the request, or now. NAS devices
// configured with local time send their wall clock as if it were UTC.
func (c *AccountingContext) EventTime() time.Time {
	ts := rfc2869.EventTimestamp_Get(c.Request.Packet)
	if ts.IsZero() || ts.Unix() <= 0 {
		return time.Now()
	}
	if c.NAS != nil && c.NAS.TimeType == domain.NasTimeLocal {
		u := ts.UTC()
		return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), u.Second(), 0, time.Local)
	}
	return ts
}

// Registry holds the accounting handlers in dispatch order
type Registry struct {
	handlers []AccountingHandler
}

func NewRegistry(handlers ...AccountingHandler) *Registry {
	return &Registry{handlers: handlers}
}

func (r *Registry) Register(h AccountingHandler) {
	r.handlers = append(r.handlers, h)
}

// Handlers returns the registered handlers
func (r *Registry) Handlers() []AccountingHandler {
	return r.handlers
}

// Find returns the first handler accepting ctx
func (r *Registry) Find(ctx *AccountingContext) (AccountingHandler, bool) {
	for _, h := range r.handlers {
		if h.CanHandle(ctx) {
			return h, true
		}
	}
	return nil, false
}
