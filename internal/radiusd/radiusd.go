package radiusd

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/internal/radiusd/authdelay"
	"github.com/bjo163/radbill/internal/radiusd/billing"
	"github.com/bjo163/radbill/internal/radiusd/codec"
	"github.com/bjo163/radbill/internal/radiusd/coa"
	"github.com/bjo163/radbill/internal/radiusd/dictionary"
	"github.com/bjo163/radbill/internal/radiusd/plugins/accounting"
	"github.com/bjo163/radbill/internal/radiusd/plugins/accounting/handlers"
	"github.com/bjo163/radbill/internal/radiusd/plugins/auth"
	"github.com/bjo163/radbill/internal/radiusd/plugins/vendorparsers"
	"github.com/bjo163/radbill/internal/radiusd/qos"
	"github.com/bjo163/radbill/internal/radiusd/repository"
	"github.com/bjo163/radbill/internal/radiusd/trace"
	"github.com/bjo163/radbill/pkg/common"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"layeh.com/radius"
)

type nasKey struct{}

// WithNas stores the NAS a request came from
func WithNas(ctx context.Context, nas *domain.NetNas) context.Context {
	return context.WithValue(ctx, nasKey{}, nas)
}

// NasFromContext returns the NAS stored by the server
func NasFromContext(ctx context.Context) *domain.NetNas {
	nas, _ := ctx.Value(nasKey{}).(*domain.NetNas)
	return nas
}

// Options configure a RadiusService
type Options struct {
	Store *repository.Store
	Dict  *dictionary.Dictionary
	// PasswordSecret decrypts stored subscriber passwords; empty means the
	// passwords are stored in clear
	PasswordSecret string
	PoolSize       int
	TraceSize      int
	Debug          bool
}

// RadiusService holds what the auth and accounting services share
type RadiusService struct {
	Store    *repository.Store
	Dict     *dictionary.Dictionary
	Parsers  *vendorparsers.Registry
	Rates    *qos.Registry
	Coa      *coa.Client
	Tracer   *trace.Tracer
	Delay    *authdelay.Queue
	Billing  *billing.Engine
	pipeline *auth.Pipeline
	handlers *accounting.Registry
	pool     *ants.Pool
	debug    atomic.Bool
}

func NewRadiusService(opts Options) (*RadiusService, error) {
	if opts.Dict == nil {
		opts.Dict = dictionary.Default()
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 1024
	}
	pool, err := ants.NewPool(opts.PoolSize, ants.WithPanicHandler(func(p interface{}) {
		zap.L().Error("accounting task panic", zap.String("namespace", "radius"), zap.Any("panic", p))
	}))
	if err != nil {
		return nil, err
	}

	s := &RadiusService{
		Store:   opts.Store,
		Dict:    opts.Dict,
		Parsers: vendorparsers.NewRegistry(),
		Rates:   qos.NewRegistry(opts.Dict),
		Coa:     coa.NewClient(),
		Tracer:  trace.New(opts.TraceSize),
		Delay:   authdelay.New(0),
		pool:    pool,
	}
	s.debug.Store(opts.Debug)
	s.Billing = billing.NewEngine(opts.Store, opts.Store.Sessions(), s)

	params := storeParams{opts.Store}
	var decrypt func(string) (string, error)
	if opts.PasswordSecret != "" {
		secret := opts.PasswordSecret
		decrypt = func(v string) (string, error) { return common.Decrypt(v, secret) }
	}
	s.pipeline = auth.DefaultPipeline(opts.Store, opts.Store, opts.Store.Sessions(), params, s,
		&auth.AcceptFilter{Dict: opts.Dict, Params: params}, decrypt)
	s.handlers = accounting.NewRegistry(handlers.DefaultHandlers(handlers.Deps{
		Sessions: opts.Store.Sessions(),
		Accounts: opts.Store,
		Billing:  s.Billing,
		Tickets:  opts.Store,
		Closer:   s,
		Params:   params,
	})...)

	s.SyncParams()
	opts.Store.OnParamInvalidate(s.SyncParams)
	return s, nil
}

// SyncParams applies runtime parameters held outside the param provider
func (s *RadiusService) SyncParams() {
	if p := s.Store.Params(); p != nil {
		s.Delay.SetDelay(int(p.GetInt64(domain.ParamCategoryRadius, domain.ParamRejectDelay)))
	}
}

func (s *RadiusService) SetDebug(v bool) {
	s.debug.Store(v)
}

func (s *RadiusService) Debug() bool {
	return s.debug.Load()
}

// Pipeline returns the authentication filters
func (s *RadiusService) Pipeline() *auth.Pipeline {
	return s.pipeline
}

// Release stops the worker pool and closes the CoA sockets
func (s *RadiusService) Release() {
	s.pool.Release()
	s.Coa.Close()
}

func (s *RadiusService) tracePacket(direction string, nas *domain.NetNas, username string, p *radius.Packet) {
	debug := s.Debug()
	if !debug && !s.Tracer.Active(username) {
		return
	}
	attrs := codec.Dump(p, s.Dict)
	if debug {
		zap.S().Debugf("radius %s %s %s <%s>\n  %s", direction, p.Code, nasAddr(nas), username,
			strings.Join(attrs, "\n  "))
	}
	s.Tracer.Record(trace.Entry{
		Direction: direction,
		NasAddr:   nasAddr(nas),
		Username:  username,
		Code:      p.Code.String(),
		Attrs:     attrs,
	})
}

func nasAddr(nas *domain.NetNas) string {
	if nas == nil {
		return ""
	}
	return nas.Ipaddr
}

// storeParams reads the provider installed on the store at call time
type storeParams struct {
	store *repository.Store
}

func (p storeParams) GetString(category, name string) string {
	if v := p.store.Params(); v != nil {
		return v.GetString(category, name)
	}
	return ""
}

func (p storeParams) GetInt64(category, name string) int64 {
	if v := p.store.Params(); v != nil {
		return v.GetInt64(category, name)
	}
	return 0
}

func (p storeParams) GetBool(category, name string) bool {
	if v := p.store.Params(); v != nil {
		return v.GetBool(category, name)
	}
	return false
}

func (p storeParams) Reload() {
	if v := p.store.Params(); v != nil {
		v.Reload()
	}
}
