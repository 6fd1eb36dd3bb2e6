package domain

var Tables = []interface{}{
	// System
	&SysConfig{},
	&SysOpr{},
	&SysOprLog{},
	// Network
	&NetNas{},
	// Radius
	&RadiusProduct{},
	&RadiusProductAttr{},
	&RadiusUser{},
	&RadiusOnline{},
	&RadiusTicket{},
	&RadiusRoster{},
}
