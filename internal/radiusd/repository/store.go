package repository

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// Cache classes accepted by Invalidate
const (
	CacheParam   = "param"
	CacheAccount = "account"
	CacheBas     = "bas"
	CacheRoster  = "roster"
	CacheProduct = "product"
	CacheAll     = "all"
)

const (
	DefaultCacheTTL  = 60 * time.Second
	defaultCacheSize = 65536
)

// Store is the single entry point to persisted state. Reference data (NAS,
// accounts, products, roster) is cached with a TTL and explicit invalidation;
// online sessions and tickets always hit the database.
type Store struct {
	db       *gorm.DB
	nas      NasRepository
	users    UserRepository
	products ProductRepository
	rosters  RosterRepository
	sessions SessionRepository
	tickets  TicketRepository
	billing  BillingRepository

	nasCache     *expirable.LRU[string, *domain.NetNas]
	userCache    *expirable.LRU[string, *domain.RadiusUser]
	productCache *expirable.LRU[int64, *domain.RadiusProduct]
	rosterCache  *expirable.LRU[string, *domain.RadiusRoster]
	group        singleflight.Group
	// gen is bumped by every invalidation
	gen atomic.Uint64

	mu      sync.RWMutex
	params  ParamProvider
	onParam []func()
}

// NewStore builds the store over gorm repositories
func NewStore(db *gorm.DB, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Store{
		db:           db,
		nas:          NewGormNasRepository(db),
		users:        NewGormUserRepository(db),
		products:     NewGormProductRepository(db),
		rosters:      NewGormRosterRepository(db),
		sessions:     NewGormSessionRepository(db),
		tickets:      NewGormTicketRepository(db),
		billing:      NewGormBillingRepository(db),
		nasCache:     expirable.NewLRU[string, *domain.NetNas](4096, nil, ttl),
		userCache:    expirable.NewLRU[string, *domain.RadiusUser](defaultCacheSize, nil, ttl),
		productCache: expirable.NewLRU[int64, *domain.RadiusProduct](4096, nil, ttl),
		rosterCache:  expirable.NewLRU[string, *domain.RadiusRoster](defaultCacheSize, nil, ttl),
	}
}

// DB exposes the underlying handle for maintenance jobs
func (s *Store) DB() *gorm.DB {
	return s.db
}

// SetParams attaches the runtime parameter provider
func (s *Store) SetParams(p ParamProvider) {
	s.mu.Lock()
	s.params = p
	s.mu.Unlock()
}

// Params returns the runtime parameter provider
func (s *Store) Params() ParamProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// OnParamInvalidate registers a callback run when the param class is invalidated
func (s *Store) OnParamInvalidate(fn func()) {
	s.mu.Lock()
	s.onParam = append(s.onParam, fn)
	s.mu.Unlock()
}

func (s *Store) Sessions() SessionRepository {
	return s.sessions
}

func (s *Store) Tickets() TicketRepository {
	return s.tickets
}

// GetNas returns the NAS registered for ip
func (s *Store) GetNas(ctx context.Context, ip string) (*domain.NetNas, error) {
	return load(s, s.nasCache, ip, "nas:"+ip, func() (*domain.NetNas, error) {
		return s.nas.GetByIP(ctx, ip)
	})
}

// GetUser returns the account by account number
func (s *Store) GetUser(ctx context.Context, username string) (*domain.RadiusUser, error) {
	return load(s, s.userCache, username, "user:"+username, func() (*domain.RadiusUser, error) {
		return s.users.GetByUsername(ctx, username)
	})
}

// GetProduct returns the product with its attributes
func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.RadiusProduct, error) {
	return load(s, s.productCache, id, "product:"+strconv.FormatInt(id, 10), func() (*domain.RadiusProduct, error) {
		return s.products.GetByID(ctx, id)
	})
}

// GetRoster returns the roster entry for mac, or nil when the MAC is not
// listed. Misses are cached too since most MACs are unlisted.
func (s *Store) GetRoster(ctx context.Context, mac string) (*domain.RadiusRoster, error) {
	return load(s, s.rosterCache, mac, "roster:"+mac, func() (*domain.RadiusRoster, error) {
		roster, err := s.rosters.GetByMac(ctx, mac)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return roster, err
	})
}

// load reads through cache c. Concurrent misses of one key share a single
// fetch per cache generation, and a fetch that raced an invalidation is not
// left in the cache.
func load[K comparable, V any](s *Store, c *expirable.LRU[K, V], key K, flight string, fetch func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	gen := s.gen.Load()
	v, err, _ := s.group.Do(flight+"@"+strconv.FormatUint(gen, 10), func() (interface{}, error) {
		v, err := fetch()
		if err != nil {
			return nil, err
		}
		c.Add(key, v)
		if s.gen.Load() != gen {
			c.Remove(key)
		}
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// forget drops key from c after bumping the generation, so loads started
// before the change do not cache their result
func forget[K comparable, V any](s *Store, c *expirable.LRU[K, V], key K) {
	s.gen.Add(1)
	c.Remove(key)
}

// UpdateUserMac persists a learned MAC binding
func (s *Store) UpdateUserMac(ctx context.Context, username, mac string) error {
	defer forget(s, s.userCache, username)
	return s.users.UpdateMacAddr(ctx, username, mac)
}

// UpdateUserVlan persists learned VLAN bindings
func (s *Store) UpdateUserVlan(ctx context.Context, username string, vlanId1, vlanId2 int) error {
	defer forget(s, s.userCache, username)
	return s.users.UpdateVlanId(ctx, username, vlanId1, vlanId2)
}

// Settle applies a billing step and drops the cached account
func (s *Store) Settle(ctx context.Context, st *Settlement) (*SettleResult, error) {
	defer forget(s, s.userCache, st.Username)
	return s.billing.Settle(ctx, st)
}

// CreateTicket appends a ticket
func (s *Store) CreateTicket(ctx context.Context, ticket *domain.RadiusTicket) error {
	return s.tickets.Create(ctx, ticket)
}

// Invalidate drops cached entries of a class. An empty key drops the whole
// class; "all" drops everything.
func (s *Store) Invalidate(class, key string) error {
	s.gen.Add(1)
	switch class {
	case CacheParam:
		s.mu.RLock()
		params, hooks := s.params, append([]func(){}, s.onParam...)
		s.mu.RUnlock()
		if params != nil {
			params.Reload()
		}
		for _, fn := range hooks {
			fn()
		}
	case CacheAccount:
		invalidate(s.userCache, key)
	case CacheBas:
		invalidate(s.nasCache, key)
	case CacheRoster:
		invalidate(s.rosterCache, key)
	case CacheProduct:
		if key == "" {
			s.productCache.Purge()
			break
		}
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid product id %q", key)
		}
		forget(s, s.productCache, id)
	case CacheAll:
		for _, c := range []string{CacheParam, CacheAccount, CacheBas, CacheRoster, CacheProduct} {
			_ = s.Invalidate(c, "")
		}
		return nil
	default:
		return errors.Errorf("unknown cache class %q", class)
	}
	zap.L().Info("cache invalidated",
		zap.String("namespace", "radius"),
		zap.String("class", class),
		zap.String("key", key))
	return nil
}

func invalidate[V any](c *expirable.LRU[string, V], key string) {
	if key == "" {
		c.Purge()
		return
	}
	c.Remove(key)
}
