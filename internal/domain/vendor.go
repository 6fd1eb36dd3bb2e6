package domain

// Vendor codes as stored in NetNas.VendorCode (IANA private enterprise numbers)
const (
	VendorStandard  = "0"
	VendorMicrosoft = "311"
	VendorCisco     = "9"
	VendorHuawei    = "2011"
	VendorMikrotik  = "14988"
	VendorH3C       = "25506"
	VendorZTE       = "3902"
	VendorIkuai     = "10055"
)

// VendorNames maps the supported vendor codes to display names
var VendorNames = map[string]string{
	VendorStandard: "Standard",
	VendorCisco:    "Cisco",
	VendorHuawei:   "Huawei",
	VendorMikrotik: "Mikrotik",
	VendorH3C:      "H3C",
	VendorZTE:      "ZTE",
	VendorIkuai:    "Ikuai",
}
