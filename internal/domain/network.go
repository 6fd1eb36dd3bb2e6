package domain

import "time"

// NAS time zone modes. Some BRAS report Event-Timestamp in local wall time
// instead of UTC epoch seconds.
const (
	NasTimeStandard = 0
	NasTimeLocal    = 1
)

// NetNas NAS device data model, typically gateway-type devices, can be used as BRAS equipment
type NetNas struct {
	ID         int64     `json:"id,string" form:"id"`                                      // Primary key ID
	Name       string    `json:"name" form:"name"`                                         // Device name
	Identifier string    `json:"identifier" form:"identifier"`                             // Device identifier - RADIUS NAS-Identifier
	Ipaddr     string    `gorm:"uniqueIndex;size:64" json:"ipaddr" form:"ipaddr"`          // Device IP, matched against packet source
	Secret     string    `json:"secret" form:"secret"`                                     // Device RADIUS Secret
	CoaPort    int       `json:"coa_port" form:"coa_port"`                                 // Device RADIUS COA Port
	VendorCode string    `gorm:"size:16" json:"vendor_code" form:"vendor_code"`            // Device vendor code
	TimeType   int       `json:"time_type" form:"time_type"`                               // Time zone mode
	Status     string    `json:"status" form:"status"`                                     // enabled | disabled
	Remark     string    `json:"remark" form:"remark"`                                     // Remark
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName Specify table name
func (NetNas) TableName() string {
	return "net_nas"
}

// GetCoaPort returns the configured CoA port or the RFC 5176 default
func (n *NetNas) GetCoaPort() int {
	if n.CoaPort <= 0 {
		return 3799
	}
	return n.CoaPort
}
