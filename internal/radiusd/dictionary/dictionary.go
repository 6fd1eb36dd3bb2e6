package dictionary

import (
	_ "embed"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed default.yml
var defaultDictionary []byte

type codeKey struct {
	vendor uint32
	code   uint8
}

// Dictionary resolves attributes by name and by (vendor, code).
// It is built once at startup and only read afterwards.
type Dictionary struct {
	byName  map[string]*Attribute
	byCode  map[codeKey]*Attribute
	vendors map[uint32]*Vendor
}

// New creates a new empty dictionary
func New() *Dictionary {
	return &Dictionary{
		byName:  make(map[string]*Attribute),
		byCode:  make(map[codeKey]*Attribute),
		vendors: make(map[uint32]*Vendor),
	}
}

// Default returns the built-in dictionary: RFC 2865/2866/2869 attributes plus
// the Microsoft, Cisco, Huawei, Mikrotik, H3C, ZTE and iKuai vendor sets.
func Default() *Dictionary {
	d := New()
	if err := d.Parse(defaultDictionary); err != nil {
		panic(err)
	}
	return d
}

// Load returns the default dictionary extended with the definitions in path.
// An empty path yields the default dictionary.
func Load(path string) (*Dictionary, error) {
	d := Default()
	if strings.TrimSpace(path) == "" {
		return d, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read dictionary %s", path)
	}
	if err := d.Parse(data); err != nil {
		return nil, errors.Wrapf(err, "parse dictionary %s", path)
	}
	return d, nil
}

// Parse merges a yaml document into the dictionary
func (d *Dictionary) Parse(data []byte) error {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	return d.Add(&f)
}

// Add merges definitions. Redefining a name with a different code is an error,
// an identical redefinition is ignored.
func (d *Dictionary) Add(f *File) error {
	for _, attr := range f.Attributes {
		attr.Vendor = 0
		if _, err := d.addAttribute(attr); err != nil {
			return err
		}
	}
	for _, v := range f.Vendors {
		if v.ID == 0 {
			return fmt.Errorf("vendor %q has no id", v.Name)
		}
		existing, ok := d.vendors[v.ID]
		if !ok {
			existing = &Vendor{ID: v.ID, Name: v.Name}
			d.vendors[v.ID] = existing
		}
		for _, attr := range v.Attributes {
			attr.Vendor = v.ID
			added, err := d.addAttribute(attr)
			if err != nil {
				return err
			}
			if added {
				existing.Attributes = append(existing.Attributes, attr)
			}
		}
	}
	return nil
}

func (d *Dictionary) addAttribute(attr *Attribute) (bool, error) {
	if attr.Name == "" {
		return false, fmt.Errorf("attribute %d of vendor %d has no name", attr.Code, attr.Vendor)
	}
	switch attr.Type {
	case TypeString, TypeOctets, TypeInteger, TypeIPAddr, TypeDate:
	default:
		return false, fmt.Errorf("attribute %s has unsupported type %q", attr.Name, attr.Type)
	}
	if old, ok := d.byName[attr.Name]; ok {
		if old.Vendor != attr.Vendor || old.Code != attr.Code {
			return false, fmt.Errorf("duplicate attribute name %q", attr.Name)
		}
		return false, nil
	}
	d.byName[attr.Name] = attr
	d.byCode[codeKey{attr.Vendor, attr.Code}] = attr
	return true, nil
}

// ByName finds an attribute by name
func (d *Dictionary) ByName(name string) (*Attribute, bool) {
	attr, ok := d.byName[name]
	return attr, ok
}

// ByCode finds an attribute by vendor id and code, vendor 0 meaning RFC space
func (d *Dictionary) ByCode(vendor uint32, code uint8) (*Attribute, bool) {
	attr, ok := d.byCode[codeKey{vendor, code}]
	return attr, ok
}

// Vendor finds a vendor by id
func (d *Dictionary) Vendor(id uint32) (*Vendor, bool) {
	v, ok := d.vendors[id]
	return v, ok
}

// ValueName returns the symbolic name of an integer value, if any
func (a *Attribute) ValueName(v uint32) (string, bool) {
	for name, val := range a.Values {
		if val == v {
			return name, true
		}
	}
	return "", false
}

// Encode converts a textual value into the wire form of the attribute
func (a *Attribute) Encode(value string) ([]byte, error) {
	switch a.Type {
	case TypeString:
		return []byte(value), nil
	case TypeOctets:
		if strings.HasPrefix(value, "0x") {
			return hex.DecodeString(value[2:])
		}
		return []byte(value), nil
	case TypeInteger:
		if v, ok := a.Values[value]; ok {
			return uint32Bytes(v), nil
		}
		v, err := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "attribute %s", a.Name)
		}
		return uint32Bytes(uint32(v)), nil
	case TypeIPAddr:
		ip := net.ParseIP(strings.TrimSpace(value)).To4()
		if ip == nil {
			return nil, fmt.Errorf("attribute %s: invalid ipv4 address %q", a.Name, value)
		}
		return []byte(ip), nil
	case TypeDate:
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			return uint32Bytes(uint32(v)), nil
		}
		t, err := dateparse.ParseLocal(value)
		if err != nil {
			return nil, errors.Wrapf(err, "attribute %s", a.Name)
		}
		return uint32Bytes(uint32(t.Unix())), nil
	}
	return nil, fmt.Errorf("attribute %s has unsupported type %q", a.Name, a.Type)
}

// Format renders a wire value for logs and traces
func (a *Attribute) Format(raw []byte) string {
	switch a.Type {
	case TypeString:
		return string(raw)
	case TypeInteger:
		if len(raw) != 4 {
			return hex.EncodeToString(raw)
		}
		v := binary.BigEndian.Uint32(raw)
		if name, ok := a.ValueName(v); ok {
			return name
		}
		return strconv.FormatUint(uint64(v), 10)
	case TypeIPAddr:
		if len(raw) != 4 {
			return hex.EncodeToString(raw)
		}
		return net.IP(raw).String()
	case TypeDate:
		if len(raw) != 4 {
			return hex.EncodeToString(raw)
		}
		return time.Unix(int64(binary.BigEndian.Uint32(raw)), 0).Format(time.RFC3339)
	}
	return "0x" + hex.EncodeToString(raw)
}

func uint32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}
