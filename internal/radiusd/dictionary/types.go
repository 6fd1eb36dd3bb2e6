package dictionary

// DataType represents the data type of an attribute
type DataType string

const (
	TypeString  DataType = "string"
	TypeOctets  DataType = "octets"
	TypeInteger DataType = "integer"
	TypeIPAddr  DataType = "ipaddr"
	TypeDate    DataType = "date"
)

// Attribute defines one RADIUS attribute. Vendor is zero for RFC attributes.
type Attribute struct {
	Code   uint8             `yaml:"code"`
	Name   string            `yaml:"name"`
	Type   DataType          `yaml:"type"`
	Values map[string]uint32 `yaml:"values,omitempty"`
	Vendor uint32            `yaml:"-"`
}

// Vendor groups the attributes of one vendor id
type Vendor struct {
	ID         uint32       `yaml:"id"`
	Name       string       `yaml:"name"`
	Attributes []*Attribute `yaml:"attributes"`
}

// File is the on-disk layout of a dictionary
type File struct {
	Attributes []*Attribute `yaml:"attributes"`
	Vendors    []*Vendor    `yaml:"vendors"`
}
