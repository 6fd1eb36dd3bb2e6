package billing

import (
	"context"
	"time"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/internal/radiusd/repository"
	"github.com/bjo163/radbill/pkg/metrics"
	"github.com/labstack/gommon/bytes"
	"go.uber.org/zap"
)

// Step is the charge computed for one settlement
type Step struct {
	PrevTimes  int
	PrevOutput int64
	NextTimes  int   // seconds
	NextOutput int64 // KB
	Fee        int64
	TimeUsed   int64
	FlowUsed   int64
}

// Moved reports whether the checkpoint advances
func (s Step) Moved() bool {
	return s.NextTimes != s.PrevTimes || s.NextOutput != s.PrevOutput
}

// Charged reports whether anything is deducted
func (s Step) Charged() bool {
	return s.Fee > 0 || s.TimeUsed > 0 || s.FlowUsed > 0
}

// Compute returns the delta between the online checkpoint and the
// cumulative counters reported by the NAS. Counters that went backwards
// (a NAS restart) bill nothing and keep the checkpoint.
func Compute(product *domain.RadiusProduct, online *domain.RadiusOnline, sessionTime int, outputBytes int64) Step {
	step := Step{
		PrevTimes:  online.BillingTimes,
		PrevOutput: online.BillingOutput,
		NextTimes:  online.BillingTimes,
		NextOutput: online.BillingOutput,
	}
	if sessionTime > step.NextTimes {
		step.NextTimes = sessionTime
	}
	if kb := outputBytes / 1024; kb > step.NextOutput {
		step.NextOutput = kb
	}
	if product == nil {
		return step
	}

	usedTime := int64(step.NextTimes - step.PrevTimes)
	usedFlow := step.NextOutput - step.PrevOutput
	switch product.Policy {
	case domain.PolicyPrepaidTime:
		step.Fee = ceilDiv(usedTime*product.FeePrice, 3600)
	case domain.PolicyBuyoutTime:
		step.TimeUsed = usedTime
	case domain.PolicyPrepaidFlow:
		step.Fee = ceilDiv(usedFlow*product.FeePrice, 1024)
	case domain.PolicyBuyoutFlow:
		step.FlowUsed = usedFlow
	}
	return step
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Exhausted reports whether the account has nothing left under its policy
func Exhausted(product *domain.RadiusProduct, user *domain.RadiusUser) bool {
	if product == nil || user == nil {
		return false
	}
	switch product.Policy {
	case domain.PolicyPrepaidTime, domain.PolicyPrepaidFlow:
		return user.Balance <= 0
	case domain.PolicyBuyoutTime:
		return user.TimeLength <= 0
	case domain.PolicyBuyoutFlow:
		return user.FlowLength <= 0
	}
	return false
}

// Settler applies settlements atomically
type Settler interface {
	Settle(ctx context.Context, s *repository.Settlement) (*repository.SettleResult, error)
}

// Disconnector asks the NAS to drop a session
type Disconnector interface {
	Disconnect(ctx context.Context, online *domain.RadiusOnline, reason string) error
}

// SessionGetter re-reads an online row after a lost race
type SessionGetter interface {
	Get(ctx context.Context, nasAddr, sessionId string) (*domain.RadiusOnline, error)
}

const maxSettleAttempts = 3

// Engine settles usage and disconnects exhausted accounts
type Engine struct {
	settler      Settler
	sessions     SessionGetter
	disconnector Disconnector
}

func NewEngine(settler Settler, sessions SessionGetter, disconnector Disconnector) *Engine {
	return &Engine{settler: settler, sessions: sessions, disconnector: disconnector}
}

// Request describes one settlement point of a session
type Request struct {
	Online      *domain.RadiusOnline
	Product     *domain.RadiusProduct
	SessionTime int
	InputTotal  int64
	OutputTotal int64
	// Ticket is written with the settlement. For interim settlements pass
	// nil and a billing ticket is created only when something is charged.
	Ticket *domain.RadiusTicket
	// DisconnectOnExhaust sends a Disconnect-Request once the account runs out
	DisconnectOnExhaust bool
}

// Settle charges the delta since the checkpoint. It returns a nil result
// when there was nothing to settle. A settlement carrying a ticket closes the
// session, so a lost checkpoint race is retried against the fresh row; an
// interim settlement that loses the race is dropped since the winner billed
// up to its own counters.
func (e *Engine) Settle(ctx context.Context, req *Request) (*repository.SettleResult, error) {
	for attempt := 1; ; attempt++ {
		result, err := e.settle(ctx, req)
		if err != nil || result == nil || result.Applied || req.Ticket == nil ||
			e.sessions == nil || attempt == maxSettleAttempts {
			return result, err
		}
		online, err := e.sessions.Get(ctx, req.Online.NasAddr, req.Online.AcctSessionId)
		if err != nil {
			return nil, err
		}
		req.Online = online
	}
}

func (e *Engine) settle(ctx context.Context, req *Request) (*repository.SettleResult, error) {
	online := req.Online
	step := Compute(req.Product, online, req.SessionTime, req.OutputTotal)
	if !step.Moved() && req.Ticket == nil {
		return nil, nil
	}

	ticket := req.Ticket
	if ticket == nil && step.Charged() {
		ticket = NewTicket(domain.TicketBilling, online, req.Product)
	}
	if ticket != nil {
		ticket.AcctSessionTime = req.SessionTime
		ticket.AcctInputTotal = req.InputTotal
		ticket.AcctOutputTotal = req.OutputTotal
		ticket.BillTimes = step.NextTimes - step.PrevTimes
		ticket.BillFlows = step.NextOutput - step.PrevOutput
	}

	result, err := e.settler.Settle(ctx, &repository.Settlement{
		NasAddr:         online.NasAddr,
		AcctSessionId:   online.AcctSessionId,
		Username:        online.Username,
		PrevTimes:       step.PrevTimes,
		PrevOutput:      step.PrevOutput,
		NextTimes:       step.NextTimes,
		NextOutput:      step.NextOutput,
		AcctSessionTime: req.SessionTime,
		AcctInputTotal:  req.InputTotal,
		AcctOutputTotal: req.OutputTotal,
		Fee:             step.Fee,
		TimeUsed:        step.TimeUsed,
		FlowUsed:        step.FlowUsed,
		Ticket:          ticket,
	})
	if err != nil {
		return nil, err
	}
	if !result.Applied {
		zap.L().Warn("settlement skipped, checkpoint already moved",
			zap.String("namespace", "billing"),
			zap.String("username", online.Username),
			zap.String("acct_session_id", online.AcctSessionId),
			zap.Int("checkpoint", step.PrevTimes))
		return result, nil
	}

	metrics.Incr(metrics.BillingSettled)
	zap.L().Info("billing settled",
		zap.String("namespace", "billing"),
		zap.String("username", online.Username),
		zap.String("acct_session_id", online.AcctSessionId),
		zap.Int("bill_times", step.NextTimes-step.PrevTimes),
		zap.String("bill_flows", bytes.Format((step.NextOutput-step.PrevOutput)*1024)),
		zap.Int64("fee", step.Fee),
		zap.Int64("actual_fee", result.ActualFee),
		zap.Int64("balance", result.User.Balance))

	if req.DisconnectOnExhaust && e.disconnector != nil && Exhausted(req.Product, result.User) {
		metrics.Incr(metrics.BillingDisconnects)
		if err := e.disconnector.Disconnect(ctx, online, "account exhausted"); err != nil {
			zap.L().Error("disconnect exhausted session failed",
				zap.String("namespace", "billing"),
				zap.String("username", online.Username),
				zap.Error(err))
		}
	}
	return result, nil
}

// NewTicket starts a ticket from the online row
func NewTicket(ticketType string, online *domain.RadiusOnline, product *domain.RadiusProduct) *domain.RadiusTicket {
	t := &domain.RadiusTicket{
		TicketType:        ticketType,
		Username:          online.Username,
		NasAddr:           online.NasAddr,
		NasPaddr:          online.NasPaddr,
		AcctSessionId:     online.AcctSessionId,
		AcctStartTime:     online.AcctStartTime,
		AcctStopTime:      time.Now(),
		AcctSessionTime:   online.AcctSessionTime,
		AcctInputTotal:    online.AcctInputTotal,
		AcctOutputTotal:   online.AcctOutputTotal,
		AcctInputPackets:  online.AcctInputPackets,
		AcctOutputPackets: online.AcctOutputPackets,
		FramedIpaddr:      online.FramedIpaddr,
		MacAddr:           online.MacAddr,
		NasPortId:         online.NasPortId,
		CreatedAt:         time.Now(),
	}
	if product != nil {
		t.Policy = product.Policy
	}
	return t
}
