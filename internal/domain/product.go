package domain

import "time"

// Billing policies. The set is closed.
const (
	PolicyPrepaidMonth = 0
	PolicyPrepaidTime  = 1
	PolicyBuyoutMonth  = 2
	PolicyBuyoutTime   = 3
	PolicyPrepaidFlow  = 4
	PolicyBuyoutFlow   = 5
)

// PolicyNames names each billing policy for logs and admin output
var PolicyNames = map[int]string{
	PolicyPrepaidMonth: "PrepaidMonth",
	PolicyPrepaidTime:  "PrepaidTime",
	PolicyBuyoutMonth:  "BuyoutMonth",
	PolicyBuyoutTime:   "BuyoutTime",
	PolicyPrepaidFlow:  "PrepaidFlow",
	PolicyBuyoutFlow:   "BuyoutFlow",
}

// Product attribute types
const (
	AttrTypeParam  = 0 // internal parameter
	AttrTypeRadius = 1 // reply attribute rendered through the dictionary
)

// RadiusProduct billing product a subscriber is attached to
type RadiusProduct struct {
	ID             int64               `json:"id,string" form:"id"`
	Name           string              `gorm:"index" json:"name" form:"name"`
	Policy         int                 `json:"policy" form:"policy"`
	FeePrice       int64               `json:"fee_price" form:"fee_price"` // minor units per hour (time) or per MB (flow)
	FeeMonths      int                 `json:"fee_months" form:"fee_months"`
	InputMaxLimit  int64               `json:"input_max_limit" form:"input_max_limit"`   // bps, subscriber upload
	OutputMaxLimit int64               `json:"output_max_limit" form:"output_max_limit"` // bps, subscriber download
	BindMac        int                 `json:"bind_mac" form:"bind_mac"`
	BindVlan       int                 `json:"bind_vlan" form:"bind_vlan"`
	ConcurNumber   int                 `json:"concur_number" form:"concur_number"`
	Status         string              `json:"status" form:"status"`
	Attrs          []RadiusProductAttr `gorm:"foreignKey:ProductId" json:"attrs"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

func (RadiusProduct) TableName() string {
	return "radius_product"
}

// IsMonthly reports whether the product only checks an expiry date
func (p *RadiusProduct) IsMonthly() bool {
	return p.Policy == PolicyPrepaidMonth || p.Policy == PolicyBuyoutMonth
}

// RadiusProductAttr free form product attribute
type RadiusProductAttr struct {
	ID        int64  `json:"id,string"`
	ProductId int64  `gorm:"index" json:"product_id,string"`
	AttrType  int    `json:"attr_type"`
	Name      string `json:"name"`
	Value     string `json:"value"`
	Remark    string `json:"remark"`
}

func (RadiusProductAttr) TableName() string {
	return "radius_product_attr"
}
