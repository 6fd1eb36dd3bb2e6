package errors

import (
	stderrors "errors"
	"fmt"
)

// Reject reasons, also used as the metric type of the reject
const (
	RejectNotExists = "radus_reject_notexists"
	RejectDisabled  = "radus_reject_disabled"
	RejectBlacklist = "radus_reject_blacklist"
	RejectPasswd    = "radus_reject_passwd_error"
	RejectBindMac   = "radus_reject_bind_mac"
	RejectBindVlan  = "radus_reject_bind_vlan"
	RejectExpire    = "radus_reject_expire"
	RejectBalance   = "radus_reject_balance"
	RejectConcur    = "radus_reject_limit"
	RejectUnsupport = "radus_reject_unsupport"
	RejectOther     = "radus_reject_other"
)

// AuthError is a policy reject. Message is sent to the NAS in Reply-Message.
type AuthError struct {
	Type    string
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// NewAuthError creates a reject of the given type
func NewAuthError(typ string, format string, args ...interface{}) *AuthError {
	return &AuthError{Type: typ, Message: fmt.Sprintf(format, args...)}
}

// AsAuthError extracts the AuthError from err, if any
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if stderrors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
