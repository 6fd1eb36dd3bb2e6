package qos

import (
	"fmt"
	"math"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/internal/radiusd/codec"
	"github.com/bjo163/radbill/internal/radiusd/dictionary"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
)

// QoSConfig rate limits applied to one subscriber session
type QoSConfig struct {
	Name     string // product name, used as the policy name where a vendor wants one
	UpRate   int64  // subscriber upload in bps
	DownRate int64  // subscriber download in bps
}

// FromProduct builds the limits of a product
func FromProduct(p *domain.RadiusProduct) QoSConfig {
	return QoSConfig{Name: p.Name, UpRate: p.InputMaxLimit, DownRate: p.OutputMaxLimit}
}

func (c QoSConfig) UpKbps() int64 {
	return c.UpRate / 1024
}

func (c QoSConfig) DownKbps() int64 {
	return c.DownRate / 1024
}

// ClassValue packs the limits into the zero padded decimal Class layout
// read by H3C, ZTE and Huawei accounting: up, down, up peak, down peak.
func (c QoSConfig) ClassValue() string {
	return fmt.Sprintf("%012d%012d%012d%012d", c.UpRate, c.DownRate, peak(c.UpRate), peak(c.DownRate))
}

func peak(rate int64) int64 {
	return rate * 4
}

// clamp fits a rate into a 32 bit integer attribute
func clamp(v int64) int64 {
	switch {
	case v < 0:
		return 0
	case v > math.MaxUint32:
		return math.MaxUint32
	}
	return v
}

// RateDecorator appends the vendor specific rate limit attributes to an Access-Accept
type RateDecorator interface {
	VendorCode() string
	Decorate(reply *radius.Packet, limits QoSConfig) error
}

// Registry maps vendor codes to decorators. Unknown codes resolve to the
// standard entry, which is registered like any other vendor.
type Registry struct {
	decorators map[string]RateDecorator
}

// NewRegistry returns a registry with every supported vendor
func NewRegistry(dict *dictionary.Dictionary) *Registry {
	r := &Registry{decorators: map[string]RateDecorator{}}
	r.Register(standard{})
	r.Register(mikrotik{dict: dict})
	r.Register(cisco{dict: dict})
	r.Register(huawei{dict: dict})
	r.Register(h3c{dict: dict})
	r.Register(zte{dict: dict})
	r.Register(ikuai{dict: dict})
	return r
}

// Register adds or replaces the decorator for its vendor
func (r *Registry) Register(d RateDecorator) {
	r.decorators[d.VendorCode()] = d
}

// Get returns the decorator for code, or the standard one
func (r *Registry) Get(code string) RateDecorator {
	if d, ok := r.decorators[code]; ok {
		return d
	}
	return r.decorators[domain.VendorStandard]
}

// standard NAS devices get no rate attributes
type standard struct{}

func (standard) VendorCode() string { return domain.VendorStandard }

func (standard) Decorate(*radius.Packet, QoSConfig) error { return nil }

type mikrotik struct {
	dict *dictionary.Dictionary
}

func (mikrotik) VendorCode() string { return domain.VendorMikrotik }

func (m mikrotik) Decorate(reply *radius.Packet, c QoSConfig) error {
	return codec.AddByName(reply, m.dict, "Mikrotik-Rate-Limit", fmt.Sprintf("%dk/%dk", c.UpKbps(), c.DownKbps()))
}

type cisco struct {
	dict *dictionary.Dictionary
}

func (cisco) VendorCode() string { return domain.VendorCisco }

func (cs cisco) Decorate(reply *radius.Packet, c QoSConfig) error {
	in, out := fmt.Sprintf("%dk", c.UpKbps()), fmt.Sprintf("%dk", c.DownKbps())
	if c.Name != "" {
		in, out = c.Name+"-in", c.Name+"-out"
	}
	if err := codec.AddByName(reply, cs.dict, "Cisco-AVPair", "ip:sub-qos-policy-in="+in); err != nil {
		return err
	}
	return codec.AddByName(reply, cs.dict, "Cisco-AVPair", "ip:sub-qos-policy-out="+out)
}

type huawei struct {
	dict *dictionary.Dictionary
}

func (huawei) VendorCode() string { return domain.VendorHuawei }

func (h huawei) Decorate(reply *radius.Packet, c QoSConfig) error {
	return addRates(reply, h.dict, c, []rate{
		{"Huawei-Input-Average-Rate", c.UpRate},
		{"Huawei-Input-Peak-Rate", peak(c.UpRate)},
		{"Huawei-Output-Average-Rate", c.DownRate},
		{"Huawei-Output-Peak-Rate", peak(c.DownRate)},
	})
}

type h3c struct {
	dict *dictionary.Dictionary
}

func (h3c) VendorCode() string { return domain.VendorH3C }

func (h h3c) Decorate(reply *radius.Packet, c QoSConfig) error {
	return addRates(reply, h.dict, c, []rate{
		{"H3C-Input-Average-Rate", c.UpRate},
		{"H3C-Input-Peak-Rate", peak(c.UpRate)},
		{"H3C-Output-Average-Rate", c.DownRate},
		{"H3C-Output-Peak-Rate", peak(c.DownRate)},
	})
}

type zte struct {
	dict *dictionary.Dictionary
}

func (zte) VendorCode() string { return domain.VendorZTE }

func (z zte) Decorate(reply *radius.Packet, c QoSConfig) error {
	return addRates(reply, z.dict, c, []rate{
		{"ZTE-Rate-Ctrl-SCR-Up", c.UpKbps()},
		{"ZTE-Rate-Ctrl-SCR-Down", c.DownKbps()},
	})
}

type ikuai struct {
	dict *dictionary.Dictionary
}

func (ikuai) VendorCode() string { return domain.VendorIkuai }

// Ikuai expects KB/s
func (k ikuai) Decorate(reply *radius.Packet, c QoSConfig) error {
	if err := codec.AddIntByName(reply, k.dict, "RP-Upstream-Speed-Limit", clamp(c.UpKbps()/8)); err != nil {
		return err
	}
	return codec.AddIntByName(reply, k.dict, "RP-Downstream-Speed-Limit", clamp(c.DownKbps()/8))
}

type rate struct {
	name  string
	value int64
}

// addRates writes the integer rate attributes followed by the packed Class
func addRates(reply *radius.Packet, dict *dictionary.Dictionary, c QoSConfig, rates []rate) error {
	for _, r := range rates {
		if err := codec.AddIntByName(reply, dict, r.name, clamp(r.value)); err != nil {
			return err
		}
	}
	return rfc2865.Class_SetString(reply, c.ClassValue())
}
