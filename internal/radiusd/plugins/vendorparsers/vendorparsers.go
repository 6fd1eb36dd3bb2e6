package vendorparsers

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/internal/radiusd/codec"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2869"
)

// VendorRequest holds the vendor dependent values extracted from a request
type VendorRequest struct {
	MacAddr string
	Vlanid1 int64
	Vlanid2 int64
}

// VendorParser extracts MAC and VLAN values the way one NAS vendor encodes them
type VendorParser interface {
	VendorCode() string
	ParseMac(p *radius.Packet) string
	ParseVlan(p *radius.Packet) (int64, int64)
}

var (
	// slot=2;subslot=2;port=22;vlanid=503;vlanid2=100;
	kvVlanRe = regexp.MustCompile(`vlanid=(\d+);?(?:vlanid2=(\d+))?`)
	// 3/0/1:2814.727 or eth 0/1/0:100
	dotVlanRe = regexp.MustCompile(`:(\d+)(?:\.(\d+))?`)
)

// NormalizeMac returns mac as lower case colon separated octets. Values
// that do not hold exactly six octets are returned unchanged.
func NormalizeMac(mac string) string {
	hex := make([]byte, 0, 12)
	for i := 0; i < len(mac); i++ {
		c := mac[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f':
			hex = append(hex, c)
		case c >= 'A' && c <= 'F':
			hex = append(hex, c+('a'-'A'))
		case c == ':' || c == '-' || c == '.' || c == ' ':
		default:
			return mac
		}
	}
	if len(hex) != 12 {
		return mac
	}
	var sb strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.Write(hex[i : i+2])
	}
	return sb.String()
}

// ParseVlan reads the inner and outer VLAN ids from a NAS-Port-Id
func ParseVlan(portId string) (int64, int64) {
	if portId == "" {
		return 0, 0
	}
	m := kvVlanRe.FindStringSubmatch(portId)
	if m == nil {
		m = dotVlanRe.FindStringSubmatch(portId)
	}
	if m == nil {
		return 0, 0
	}
	v1, _ := strconv.ParseInt(m[1], 10, 64)
	var v2 int64
	if len(m) > 2 && m[2] != "" {
		v2, _ = strconv.ParseInt(m[2], 10, 64)
	}
	return v1, v2
}

type stdParser struct {
	code string
}

func (p stdParser) VendorCode() string {
	return p.code
}

func (p stdParser) ParseMac(pkt *radius.Packet) string {
	return NormalizeMac(rfc2865.CallingStationID_GetString(pkt))
}

func (p stdParser) ParseVlan(pkt *radius.Packet) (int64, int64) {
	return ParseVlan(rfc2869.NASPortID_GetString(pkt))
}

// h3cParser prefers H3C-Ip-Host-Addr ("<ip> <mac>") over Calling-Station-Id
type h3cParser struct {
	stdParser
}

const h3cIpHostAddr = 60

func (p h3cParser) ParseMac(pkt *radius.Packet) string {
	if raw, ok := codec.GetVendor(pkt, 25506, h3cIpHostAddr); ok {
		fields := strings.Fields(string(raw))
		if len(fields) > 0 {
			return NormalizeMac(fields[len(fields)-1])
		}
	}
	return p.stdParser.ParseMac(pkt)
}

// ciscoParser reads VLANs from Cisco-NAS-Port ("Gi0/0/1.100:100.200") when the
// NAS leaves NAS-Port-Id empty
type ciscoParser struct {
	stdParser
}

const ciscoNasPort = 2

func (p ciscoParser) ParseVlan(pkt *radius.Packet) (int64, int64) {
	if v1, v2 := p.stdParser.ParseVlan(pkt); v1 != 0 || v2 != 0 {
		return v1, v2
	}
	if raw, ok := codec.GetVendor(pkt, 9, ciscoNasPort); ok {
		return ParseVlan(string(raw))
	}
	return 0, 0
}

// Registry selects a parser per vendor code, falling back to the standard
// entry for unknown codes.
type Registry struct {
	parsers map[string]VendorParser
}

// NewRegistry returns the registry of built in vendor parsers
func NewRegistry() *Registry {
	r := &Registry{parsers: map[string]VendorParser{}}
	for _, code := range []string{
		domain.VendorStandard,
		domain.VendorHuawei,
		domain.VendorMikrotik,
		domain.VendorZTE,
		domain.VendorIkuai,
	} {
		r.Register(stdParser{code: code})
	}
	r.Register(h3cParser{stdParser{code: domain.VendorH3C}})
	r.Register(ciscoParser{stdParser{code: domain.VendorCisco}})
	return r
}

// Register adds or replaces the parser for its vendor code
func (r *Registry) Register(p VendorParser) {
	r.parsers[p.VendorCode()] = p
}

// Get returns the parser for code or the standard parser
func (r *Registry) Get(code string) VendorParser {
	if p, ok := r.parsers[code]; ok {
		return p
	}
	return r.parsers[domain.VendorStandard]
}

// Parse extracts MAC and VLAN values with the parser registered for code
func (r *Registry) Parse(code string, p *radius.Packet) *VendorRequest {
	return Parse(r.Get(code), p)
}

// Parse runs both halves of a parser
func Parse(parser VendorParser, p *radius.Packet) *VendorRequest {
	v1, v2 := parser.ParseVlan(p)
	return &VendorRequest{MacAddr: parser.ParseMac(p), Vlanid1: v1, Vlanid2: v2}
}
