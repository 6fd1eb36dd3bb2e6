package codec

import (
	"fmt"
	"strconv"

	"github.com/bjo163/radbill/internal/radiusd/dictionary"
	"layeh.com/radius"
)

// VendorSpecificType is attribute 26
const VendorSpecificType radius.Type = 26

// AddVendor appends a vendor specific attribute holding one sub-attribute
func AddVendor(p *radius.Packet, vendor uint32, typ uint8, value []byte) error {
	if len(value) > 247 {
		return fmt.Errorf("vendor %d attribute %d too long", vendor, typ)
	}
	inner := make([]byte, 0, len(value)+2)
	inner = append(inner, typ, byte(len(value)+2))
	inner = append(inner, value...)
	vsa, err := radius.NewVendorSpecific(vendor, inner)
	if err != nil {
		return err
	}
	p.Add(VendorSpecificType, vsa)
	return nil
}

// GetVendor returns the first sub-attribute typ of vendor
func GetVendor(p *radius.Packet, vendor uint32, typ uint8) ([]byte, bool) {
	values := VendorValues(p, vendor, typ)
	if len(values) == 0 {
		return nil, false
	}
	return values[0], true
}

// VendorValues returns every sub-attribute typ of vendor, in packet order
func VendorValues(p *radius.Packet, vendor uint32, typ uint8) [][]byte {
	var out [][]byte
	walkVendor(p, func(id uint32, t uint8, value []byte) {
		if id == vendor && t == typ {
			out = append(out, value)
		}
	})
	return out
}

func walkVendor(p *radius.Packet, fn func(vendor uint32, typ uint8, value []byte)) {
	for _, avp := range p.Attributes {
		if avp.Type != VendorSpecificType {
			continue
		}
		id, inner, err := radius.VendorSpecific(avp.Attribute)
		if err != nil {
			continue
		}
		for len(inner) >= 2 {
			l := int(inner[1])
			if l < 2 || l > len(inner) {
				break
			}
			fn(id, inner[0], inner[2:l])
			inner = inner[l:]
		}
	}
}

// AddByName encodes value through the dictionary and appends it
func AddByName(p *radius.Packet, d *dictionary.Dictionary, name, value string) error {
	attr, ok := d.ByName(name)
	if !ok {
		return fmt.Errorf("unknown attribute %q", name)
	}
	raw, err := attr.Encode(value)
	if err != nil {
		return err
	}
	if attr.Vendor == 0 {
		p.Add(radius.Type(attr.Code), raw)
		return nil
	}
	return AddVendor(p, attr.Vendor, attr.Code, raw)
}

// AddIntByName is AddByName for integer values
func AddIntByName(p *radius.Packet, d *dictionary.Dictionary, name string, value int64) error {
	return AddByName(p, d, name, strconv.FormatInt(value, 10))
}

// Dump renders every attribute as "Name = value" for logs and traces
func Dump(p *radius.Packet, d *dictionary.Dictionary) []string {
	out := make([]string, 0, len(p.Attributes))
	for _, avp := range p.Attributes {
		if avp.Type == VendorSpecificType {
			continue
		}
		out = append(out, formatAttr(d, 0, uint8(avp.Type), avp.Attribute))
	}
	walkVendor(p, func(vendor uint32, typ uint8, value []byte) {
		out = append(out, formatAttr(d, vendor, typ, value))
	})
	return out
}

func formatAttr(d *dictionary.Dictionary, vendor uint32, code uint8, raw []byte) string {
	attr, ok := d.ByCode(vendor, code)
	if !ok {
		return fmt.Sprintf("Attr-%d-%d = 0x%x", vendor, code, raw)
	}
	switch attr.Name {
	case "User-Password", "CHAP-Password", "MS-MPPE-Send-Key", "MS-MPPE-Recv-Key":
		return attr.Name + " = ******"
	}
	return attr.Name + " = " + attr.Format(raw)
}
