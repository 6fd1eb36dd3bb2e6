package domain

import (
	"time"
)

// SysConfig runtime parameter row, addressed by (type, name)
type SysConfig struct {
	ID        int64     `json:"id,string"`
	Sort      int       `json:"sort"`
	Type      string    `gorm:"index;size:64" json:"type"`
	Name      string    `gorm:"index;size:128" json:"name"`
	Value     string    `json:"value"`
	Remark    string    `json:"remark"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SysConfig) TableName() string {
	return "sys_config"
}

// SysOpr an operator allowed on the admin control channel. Password holds
// a salted sha256 digest.
type SysOpr struct {
	ID        int64     `json:"id,string"`
	Username  string    `gorm:"uniqueIndex;size:64" json:"username"`
	Realname  string    `json:"realname"`
	Password  string    `json:"-"`
	Level     string    `gorm:"size:16" json:"level"`  // super | opr
	Status    string    `gorm:"size:16" json:"status"` // enabled | disabled
	Remark    string    `json:"remark"`
	LastLogin time.Time `json:"last_login"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SysOpr) TableName() string {
	return "sys_opr"
}

// SysOprLog audit record of one admin control request
type SysOprLog struct {
	ID        int64     `json:"id,string"`
	OprName   string    `gorm:"index;size:64" json:"opr_name"`
	OprIp     string    `gorm:"size:64" json:"opr_ip"`
	OptAction string    `gorm:"size:32" json:"opt_action"` // control process name
	OptDesc   string    `json:"opt_desc"`
	OptTime   time.Time `gorm:"index" json:"opt_time"`
}

func (SysOprLog) TableName() string {
	return "sys_opr_log"
}

// Runtime parameters under the "radius" category of sys_config
const (
	ParamCategoryRadius      = "radius"
	ParamRejectDelay         = "RejectDelay"
	ParamAutoUnlock          = "AutoUnlock"
	ParamExpireAddrPool      = "ExpireAddrPool"
	ParamMaxSessionTimeout   = "MaxSessionTimeout"
	ParamAcctInterimInterval = "AcctInterimInterval"
)
