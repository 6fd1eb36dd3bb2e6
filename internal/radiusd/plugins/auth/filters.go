package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"strings"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/internal/radiusd/codec"
	raderrors "github.com/bjo163/radbill/internal/radiusd/errors"
	"github.com/bjo163/radbill/internal/radiusd/mschap"
	"github.com/bjo163/radbill/pkg/common"
	"go.uber.org/zap"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
)

// MacParseFilter extracts the subscriber MAC with the vendor parser
type MacParseFilter struct{}

func (MacParseFilter) Name() string { return "mac-parse" }

func (MacParseFilter) Stage() Stage { return StageParse }

func (MacParseFilter) Process(ctx *AuthContext) error {
	if ctx.Parser != nil {
		ctx.VendorReq.MacAddr = ctx.Parser.ParseMac(ctx.Request.Packet)
	}
	return nil
}

// VlanParseFilter extracts the inner and outer VLAN ids
type VlanParseFilter struct{}

func (VlanParseFilter) Name() string { return "vlan-parse" }

func (VlanParseFilter) Stage() Stage { return StageParse }

func (VlanParseFilter) Process(ctx *AuthContext) error {
	if ctx.Parser != nil {
		ctx.VendorReq.Vlanid1, ctx.VendorReq.Vlanid2 = ctx.Parser.ParseVlan(ctx.Request.Packet)
	}
	return nil
}

// RosterFilter rejects black listed MACs and lets white listed ones skip the
// remaining checks
type RosterFilter struct {
	Roster RosterSource
}

func (f *RosterFilter) Name() string { return "roster" }

func (f *RosterFilter) Stage() Stage { return StageCheck }

func (f *RosterFilter) Process(ctx *AuthContext) error {
	mac := ctx.VendorReq.MacAddr
	if mac == "" || f.Roster == nil {
		return nil
	}
	roster, err := f.Roster.GetRoster(ctx.Context, mac)
	if err != nil {
		return err
	}
	if roster == nil || !roster.Active(ctx.Now) {
		return nil
	}
	switch roster.RosterType {
	case domain.RosterBlack:
		return raderrors.NewAuthError(raderrors.RejectBlacklist, "mac %s is blacklisted", mac)
	case domain.RosterWhite:
		ctx.Whitelisted = true
	}
	return nil
}

// CredentialFilter verifies PAP, CHAP or MS-CHAPv2 credentials
type CredentialFilter struct {
	// Decrypt recovers the stored subscriber password
	Decrypt func(string) (string, error)
}

func (f *CredentialFilter) Name() string { return "credential" }

func (f *CredentialFilter) Stage() Stage { return StageCheck }

const (
	vendorMicrosoft      = 311
	msChapChallenge      = 11
	msMppeSendKey        = 16
	msMppeRecvKey        = 17
	msChap2Response      = 25
	msChap2Success       = 26
	msEncryptionPolicy   = 7
	msEncryptionTypes    = 8
	passwdRejectTemplate = "user password not match"
)

func (f *CredentialFilter) Process(ctx *AuthContext) error {
	password := ctx.User.Password
	if f.Decrypt != nil {
		plain, err := f.Decrypt(password)
		if err != nil {
			zap.L().Error("decrypt user password failed",
				zap.String("namespace", "radius"),
				zap.String("username", ctx.User.AccountNumber),
				zap.Error(err))
			return raderrors.NewAuthError(raderrors.RejectPasswd, passwdRejectTemplate)
		}
		password = plain
	}

	pkt := ctx.Request.Packet
	if hidden := pkt.Get(rfc2865.UserPassword_Type); hidden != nil {
		given, err := codec.DecryptPAP(hidden, pkt.Secret, pkt.Authenticator)
		if err != nil || subtle.ConstantTimeCompare(given, []byte(password)) != 1 {
			return raderrors.NewAuthError(raderrors.RejectPasswd, passwdRejectTemplate)
		}
		return nil
	}

	if chap := pkt.Get(rfc2865.CHAPPassword_Type); chap != nil {
		challenge := rfc2865.CHAPChallenge_Get(pkt)
		if challenge == nil {
			challenge = pkt.Authenticator[:]
		}
		if !mschap.CheckCHAP(password, chap, challenge) {
			return raderrors.NewAuthError(raderrors.RejectPasswd, passwdRejectTemplate)
		}
		return nil
	}

	if response, ok := codec.GetVendor(pkt, vendorMicrosoft, msChap2Response); ok {
		challenge, _ := codec.GetVendor(pkt, vendorMicrosoft, msChapChallenge)
		result, err := mschap.VerifyV2(rfc2865.UserName_GetString(pkt), password, challenge, response)
		if err != nil {
			zap.L().Debug("ms-chapv2 verify failed",
				zap.String("namespace", "radius"),
				zap.String("username", ctx.User.AccountNumber),
				zap.Error(err))
			return raderrors.NewAuthError(raderrors.RejectPasswd, passwdRejectTemplate)
		}
		return addMSCHAPv2Accept(ctx.Response, pkt, result)
	}

	return raderrors.NewAuthError(raderrors.RejectUnsupport, "unsupported authentication method")
}

func addMSCHAPv2Accept(reply, req *radius.Packet, result *mschap.Result) error {
	if err := codec.AddVendor(reply, vendorMicrosoft, msChap2Success, result.Success); err != nil {
		return err
	}
	var salt [2]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return err
	}
	salt[0] |= 0x80
	for _, key := range []struct {
		typ uint8
		val []byte
	}{{msMppeSendKey, result.SendKey}, {msMppeRecvKey, result.RecvKey}} {
		// each key needs its own salt
		salt[1]++
		enc, err := codec.SaltEncrypt(key.val, req.Secret, req.Authenticator, salt)
		if err != nil {
			return err
		}
		if err := codec.AddVendor(reply, vendorMicrosoft, key.typ, enc); err != nil {
			return err
		}
	}
	if err := codec.AddVendor(reply, vendorMicrosoft, msEncryptionPolicy, uint32Bytes(mschap.EncryptionPolicyAllowed)); err != nil {
		return err
	}
	return codec.AddVendor(reply, vendorMicrosoft, msEncryptionTypes, uint32Bytes(mschap.EncryptionTypes40And128))
}

func uint32Bytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// BindFilter enforces MAC and VLAN bindings when the account or its product
// requires binding. Unbound accounts pass; BindLearnFilter stores their values
// once the request is accepted.
type BindFilter struct{}

func (BindFilter) Name() string { return "bind" }

func (BindFilter) Stage() Stage { return StageCheck }

func (BindFilter) Process(ctx *AuthContext) error {
	user, req := ctx.User, ctx.VendorReq
	bindMac := user.BindMac == 1 || (ctx.Product != nil && ctx.Product.BindMac == 1)
	bindVlan := user.BindVlan == 1 || (ctx.Product != nil && ctx.Product.BindVlan == 1)

	if bindMac && req.MacAddr != "" && !common.IsEmptyOrNA(user.MacAddr) &&
		!strings.EqualFold(user.MacAddr, req.MacAddr) {
		return raderrors.NewAuthError(raderrors.RejectBindMac, "user mac bind not match")
	}
	if bindVlan && (req.Vlanid1 != 0 || req.Vlanid2 != 0) && (user.VlanId1 != 0 || user.VlanId2 != 0) &&
		(int64(user.VlanId1) != req.Vlanid1 || int64(user.VlanId2) != req.Vlanid2) {
		return raderrors.NewAuthError(raderrors.RejectBindVlan, "user vlanid bind not match")
	}
	return nil
}

// BindLearnFilter persists the request MAC and VLAN ids for accounts without
// a binding. It runs last so rejected requests never bind.
type BindLearnFilter struct {
	Store BindStore
}

func (f *BindLearnFilter) Name() string { return "bind-learn" }

func (f *BindLearnFilter) Stage() Stage { return StageDecorate }

func (f *BindLearnFilter) Process(ctx *AuthContext) error {
	if ctx.Whitelisted {
		return nil
	}
	user, req := ctx.User, ctx.VendorReq
	if req.MacAddr != "" && common.IsEmptyOrNA(user.MacAddr) {
		if err := f.Store.UpdateUserMac(ctx.Context, user.AccountNumber, req.MacAddr); err != nil {
			return err
		}
		zap.L().Info("learned user mac binding",
			zap.String("namespace", "radius"),
			zap.String("username", user.AccountNumber),
			zap.String("mac", req.MacAddr))
	}
	if (req.Vlanid1 != 0 || req.Vlanid2 != 0) && user.VlanId1 == 0 && user.VlanId2 == 0 {
		if err := f.Store.UpdateUserVlan(ctx.Context, user.AccountNumber, int(req.Vlanid1), int(req.Vlanid2)); err != nil {
			return err
		}
	}
	return nil
}
