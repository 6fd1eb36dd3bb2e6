package auth

import (
	"context"
	"time"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/internal/radiusd/plugins/vendorparsers"
	"github.com/bjo163/radbill/internal/radiusd/qos"
	"github.com/bjo163/radbill/internal/radiusd/repository"
	"layeh.com/radius"
)

// AuthContext is the in-flight state of one Access-Request
type AuthContext struct {
	Context  context.Context
	Request  *radius.Request
	Response *radius.Packet // Access-Accept under construction
	NAS      *domain.NetNas
	User     *domain.RadiusUser
	Product  *domain.RadiusProduct
	Now      time.Time

	// Selected from the NAS vendor when the packet is decoded
	Parser vendorparsers.VendorParser
	Rate   qos.RateDecorator

	VendorReq *vendorparsers.VendorRequest

	// Whitelisted is set by a white roster entry and skips the remaining checks
	Whitelisted bool
	// ExpiredPool holds the address pool an expired subscriber is parked in
	ExpiredPool string
}

// Stage orders what a filter does; only checks are skipped for whitelisted MACs
type Stage int

const (
	StageParse Stage = iota
	StageCheck
	StageDecorate
)

// Filter is one pipeline stage. A non-nil error ends the pipeline; an
// *errors.AuthError becomes an Access-Reject, anything else fails closed.
type Filter interface {
	Name() string
	Stage() Stage
	Process(ctx *AuthContext) error
}

// Pipeline runs filters in order
type Pipeline struct {
	filters []Filter
}

func NewPipeline(filters ...Filter) *Pipeline {
	return &Pipeline{filters: filters}
}

// Filters returns the configured stages in order
func (p *Pipeline) Filters() []Filter {
	return p.filters
}

func (p *Pipeline) Run(ctx *AuthContext) error {
	if ctx.VendorReq == nil {
		ctx.VendorReq = &vendorparsers.VendorRequest{}
	}
	if ctx.Now.IsZero() {
		ctx.Now = time.Now()
	}
	for _, f := range p.filters {
		if ctx.Whitelisted && f.Stage() == StageCheck {
			continue
		}
		if err := f.Process(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RosterSource resolves MAC roster entries; nil means unlisted
type RosterSource interface {
	GetRoster(ctx context.Context, mac string) (*domain.RadiusRoster, error)
}

// BindStore persists learned bindings
type BindStore interface {
	UpdateUserMac(ctx context.Context, username, mac string) error
	UpdateUserVlan(ctx context.Context, username string, vlanId1, vlanId2 int) error
}

// SessionSource lists live sessions of a subscriber, oldest first
type SessionSource interface {
	ListByUsername(ctx context.Context, username string) ([]*domain.RadiusOnline, error)
}

// Unlocker force closes an online session
type Unlocker interface {
	Unlock(ctx context.Context, online *domain.RadiusOnline, reason string) error
}

func paramInt(p repository.ParamProvider, name string, def int64) int64 {
	if p == nil {
		return def
	}
	if v := p.GetInt64(domain.ParamCategoryRadius, name); v > 0 {
		return v
	}
	return def
}

func paramString(p repository.ParamProvider, name string) string {
	if p == nil {
		return ""
	}
	return p.GetString(domain.ParamCategoryRadius, name)
}

func paramBool(p repository.ParamProvider, name string) bool {
	return p != nil && p.GetBool(domain.ParamCategoryRadius, name)
}

// DefaultPipeline wires the standard stage order
func DefaultPipeline(roster RosterSource, binds BindStore, sessions SessionSource,
	params repository.ParamProvider, unlocker Unlocker, accept *AcceptFilter,
	decrypt func(string) (string, error)) *Pipeline {
	return NewPipeline(
		MacParseFilter{},
		VlanParseFilter{},
		&RosterFilter{Roster: roster},
		&CredentialFilter{Decrypt: decrypt},
		BindFilter{},
		&PolicyFilter{Sessions: sessions, Params: params, Unlocker: unlocker},
		RateLimitFilter{},
		accept,
		&BindLearnFilter{Store: binds},
	)
}
