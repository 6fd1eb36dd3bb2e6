package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bjo163/radbill/internal/domain"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")
	// ErrStoreUnavailable wraps database failures; callers fail closed
	ErrStoreUnavailable = errors.New("store unavailable")
)

// NasRepository NAS device lookups
type NasRepository interface {
	GetByIP(ctx context.Context, ip string) (*domain.NetNas, error)
}

// UserRepository subscriber account operations
type UserRepository interface {
	GetByUsername(ctx context.Context, username string) (*domain.RadiusUser, error)
	UpdateMacAddr(ctx context.Context, username, mac string) error
	UpdateVlanId(ctx context.Context, username string, vlanId1, vlanId2 int) error
}

// ProductRepository billing product lookups, attributes preloaded
type ProductRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.RadiusProduct, error)
}

// RosterRepository MAC black/white list lookups
type RosterRepository interface {
	GetByMac(ctx context.Context, mac string) (*domain.RadiusRoster, error)
}

// SessionRepository online session operations. Rows are keyed by
// (nas_addr, acct_session_id).
type SessionRepository interface {
	Create(ctx context.Context, online *domain.RadiusOnline) error
	// Update refreshes counters and last_update, leaving the checkpoint alone
	Update(ctx context.Context, online *domain.RadiusOnline) error
	Get(ctx context.Context, nasAddr, sessionId string) (*domain.RadiusOnline, error)
	Exists(ctx context.Context, nasAddr, sessionId string) (bool, error)
	Delete(ctx context.Context, nasAddr, sessionId string) error
	CountByUsername(ctx context.Context, username string) (int, error)
	// ListByUsername returns the sessions of a user, oldest first
	ListByUsername(ctx context.Context, username string) ([]*domain.RadiusOnline, error)
	ListByNas(ctx context.Context, nasAddr string) ([]*domain.RadiusOnline, error)
	ListStale(ctx context.Context, before time.Time) ([]*domain.RadiusOnline, error)
	Count(ctx context.Context) (int64, error)
}

// TicketRepository append-only tickets
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.RadiusTicket) error
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

// Settlement is one atomic billing step. The online checkpoint moves from
// Prev* to Next* only if it still equals Prev*; in the same transaction the
// account is charged Fee (capped at the balance), TimeUsed seconds and
// FlowUsed KB (both floored at zero), and Ticket is appended.
type Settlement struct {
	NasAddr       string
	AcctSessionId string
	Username      string

	PrevTimes  int
	PrevOutput int64
	NextTimes  int
	NextOutput int64

	// Counters observed in the packet that triggered the settlement
	AcctSessionTime int
	AcctInputTotal  int64
	AcctOutputTotal int64

	Fee      int64
	TimeUsed int64
	FlowUsed int64

	Ticket *domain.RadiusTicket
}

// SettleResult reports what a settlement changed
type SettleResult struct {
	Applied   bool
	ActualFee int64
	User      *domain.RadiusUser
}

// BillingRepository applies settlements
type BillingRepository interface {
	Settle(ctx context.Context, s *Settlement) (*SettleResult, error)
}

// ParamProvider runtime parameters, implemented by the application config manager
type ParamProvider interface {
	GetString(category, name string) string
	GetInt64(category, name string) int64
	GetBool(category, name string) bool
	Reload()
}
