package domain

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Account status
const (
	UserStatusPending = 0
	UserStatusNormal  = 1
	UserStatusPaused  = 2
	UserStatusCancel  = 3
	UserStatusExpired = 4
)

// Roster types
const (
	RosterBlack = 0
	RosterWhite = 1
)

// RadiusUser subscriber account
type RadiusUser struct {
	ID            int64     `json:"id,string" form:"id"`
	AccountNumber string    `gorm:"uniqueIndex;size:128" json:"account_number" form:"account_number"`
	MemberId      int64     `json:"member_id,string" form:"member_id"`
	ProductId     int64     `gorm:"index" json:"product_id,string" form:"product_id"`
	Password      string    `json:"-" form:"password"` // reversible, see common.Encrypt
	Status        int       `json:"status" form:"status"`
	Balance       int64     `json:"balance" form:"balance"`         // minor currency units
	TimeLength    int64     `json:"time_length" form:"time_length"` // seconds
	FlowLength    int64     `json:"flow_length" form:"flow_length"` // KB
	ExpireDate    string    `gorm:"size:32" json:"expire_date" form:"expire_date"`
	ConcurNumber  int       `json:"concur_number" form:"concur_number"`
	BindMac       int       `json:"bind_mac" form:"bind_mac"`
	BindVlan      int       `json:"bind_vlan" form:"bind_vlan"`
	MacAddr       string    `json:"mac_addr" form:"mac_addr"`
	VlanId1       int       `json:"vlanid1" form:"vlanid1"`
	VlanId2       int       `json:"vlanid2" form:"vlanid2"`
	IpAddr        string    `json:"ip_addr" form:"ip_addr"` // static Framed-IP-Address
	Remark        string    `json:"remark" form:"remark"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (RadiusUser) TableName() string {
	return "radius_user"
}

// ExpireTime returns the moment the account expires. A bare date expires at
// the end of that day in local time.
func (u *RadiusUser) ExpireTime() (time.Time, error) {
	value := strings.TrimSpace(u.ExpireDate)
	t, err := dateparse.ParseIn(value, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	if len(value) <= len("2006-01-02") {
		t = time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.Local)
	}
	return t, nil
}

// RadiusOnline live session, unique per (nas_addr, acct_session_id).
// BillingTimes and BillingOutput are the settlement checkpoint: usage up to
// them has already been charged.
type RadiusOnline struct {
	ID                int64     `json:"id,string"`
	Username          string    `gorm:"index" json:"username"`
	NasId             string    `json:"nas_id"`
	NasAddr           string    `gorm:"uniqueIndex:idx_online_session;size:64" json:"nas_addr"`
	NasPaddr          string    `json:"nas_paddr"`
	SessionTimeout    int       `json:"session_timeout"`
	FramedIpaddr      string    `json:"framed_ipaddr"`
	FramedNetmask     string    `json:"framed_netmask"`
	MacAddr           string    `json:"mac_addr"`
	NasPort           int64     `json:"nas_port,string"`
	NasClass          string    `json:"nas_class"`
	NasPortId         string    `json:"nas_port_id"`
	NasPortType       int       `json:"nas_port_type"`
	ServiceType       int       `json:"service_type"`
	AcctSessionId     string    `gorm:"uniqueIndex:idx_online_session;size:128" json:"acct_session_id"`
	AcctSessionTime   int       `json:"acct_session_time"`
	AcctInputTotal    int64     `json:"acct_input_total,string"`
	AcctOutputTotal   int64     `json:"acct_output_total,string"`
	AcctInputPackets  int       `json:"acct_input_packets"`
	AcctOutputPackets int       `json:"acct_output_packets"`
	AcctStartTime     time.Time `gorm:"index" json:"acct_start_time"`
	LastUpdate        time.Time `gorm:"index" json:"last_update"`
	BillingTimes      int       `json:"billing_times"`       // billed seconds
	BillingOutput     int64     `json:"billing_output"`      // billed output KB
}

func (RadiusOnline) TableName() string {
	return "radius_online"
}

// Ticket types
const (
	TicketStop    = "stop"    // session closed by Accounting-Stop
	TicketBilling = "billing" // interim settlement
	TicketUnlock  = "unlock"  // session closed by the server (CoA, On/Off, sweep)
)

// RadiusTicket append-only accounting/billing record
type RadiusTicket struct {
	ID                 int64     `json:"id,string"`
	TicketType         string    `gorm:"size:16;index" json:"ticket_type"`
	Username           string    `gorm:"index" json:"username"`
	NasAddr            string    `json:"nas_addr"`
	NasPaddr           string    `json:"nas_paddr"`
	AcctSessionId      string    `gorm:"index" json:"acct_session_id"`
	AcctStartTime      time.Time `json:"acct_start_time"`
	AcctStopTime       time.Time `json:"acct_stop_time"`
	AcctSessionTime    int       `json:"acct_session_time"`
	AcctInputTotal     int64     `json:"acct_input_total,string"`
	AcctOutputTotal    int64     `json:"acct_output_total,string"`
	AcctInputPackets   int       `json:"acct_input_packets"`
	AcctOutputPackets  int       `json:"acct_output_packets"`
	AcctTerminateCause int       `json:"acct_terminate_cause"`
	FramedIpaddr       string    `json:"framed_ipaddr"`
	MacAddr            string    `json:"mac_addr"`
	NasPortId          string    `json:"nas_port_id"`
	Policy             int       `json:"policy"`
	BillTimes          int       `json:"bill_times"` // seconds charged by this record
	BillFlows          int64     `json:"bill_flows"` // KB charged by this record
	AcctFee            int64     `json:"acct_fee"`   // computed fee
	ActualFee          int64     `json:"actual_fee"` // fee actually deducted
	Balance            int64     `json:"balance"`    // balance after deduction
	TimeLength         int64     `json:"time_length"`
	FlowLength         int64     `json:"flow_length"`
	IsDeduct           int       `json:"is_deduct"`
	Remark             string    `json:"remark"`
	CreatedAt          time.Time `gorm:"index" json:"created_at"`
}

func (RadiusTicket) TableName() string {
	return "radius_ticket"
}

// RadiusRoster MAC black/white list entry. An empty window means always active.
type RadiusRoster struct {
	ID         int64     `json:"id,string"`
	MacAddr    string    `gorm:"uniqueIndex;size:32" json:"mac_addr"`
	RosterType int       `json:"roster_type"`
	BeginTime  string    `json:"begin_time"`
	EndTime    string    `json:"end_time"`
	Remark     string    `json:"remark"`
	CreatedAt  time.Time `json:"created_at"`
}

func (RadiusRoster) TableName() string {
	return "radius_roster"
}

// ConcurLimit is the concurrent session limit of the account, falling back
// to the product. Zero means unlimited.
func (u *RadiusUser) ConcurLimit(product *RadiusProduct) int {
	if u.ConcurNumber > 0 {
		return u.ConcurNumber
	}
	if product != nil && product.ConcurNumber > 0 {
		return product.ConcurNumber
	}
	return 0
}

// Active reports whether now falls inside the roster window. Bounds that are
// empty or unparsable are treated as open.
func (r *RadiusRoster) Active(now time.Time) bool {
	if r.BeginTime != "" {
		if begin, err := dateparse.ParseIn(r.BeginTime, time.Local); err == nil && now.Before(begin) {
			return false
		}
	}
	if r.EndTime != "" {
		if end, err := dateparse.ParseIn(r.EndTime, time.Local); err == nil && now.After(end) {
			return false
		}
	}
	return true
}
