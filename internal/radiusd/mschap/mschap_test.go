package mschap

import (
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RFC 2759 section 9.2 sample data
var (
	rfcUser          = "User"
	rfcPassword      = "clientPass"
	rfcAuthChallenge = mustHex("5B5D7C7D7B3F2F3E3C2C602132262628")
	rfcPeerChallenge = mustHex("21402324255E262A28295F2B3A337C7E")
	rfcNTResponse    = mustHex("82309ECD8D708B5EA08FAA3981CD83544233114A3D85D6DF")
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func TestRFC2759Vectors(t *testing.T) {
	assert.Equal(t, mustHex("D02E4386BCE91226"), ChallengeHash(rfcPeerChallenge, rfcAuthChallenge, rfcUser))
	assert.Equal(t, mustHex("44EBBA8D5312B8D611474411F56989AE"), NTPasswordHash(rfcPassword))
	assert.Equal(t, rfcNTResponse, GenerateNTResponse(rfcAuthChallenge, rfcPeerChallenge, rfcUser, rfcPassword))
	assert.Equal(t, "S=407A5589115FD0D6209F510FE9C04566932CDA56",
		AuthenticatorResponse(rfcPassword, rfcNTResponse, rfcPeerChallenge, rfcAuthChallenge, rfcUser))
}

func TestRFC3079MasterKey(t *testing.T) {
	master := MasterKey(NTPasswordHash(rfcPassword), rfcNTResponse)
	assert.Equal(t, mustHex("FDECE3717A8C838CB388E527AE3CDD31"), master)
	// RFC 3079 section 3.5.3, server side
	assert.Equal(t, mustHex("8B7CDC149B993A1BA118CB153F56DCCB"), AsymmetricStartKey(master, true))
	assert.Equal(t, mustHex("D5F0E9521E3EA9589645E86051C82226"), AsymmetricStartKey(master, false))
}

func buildResponse(ident byte, ntResponse []byte) []byte {
	resp := make([]byte, V2ResponseLen)
	resp[0] = ident
	copy(resp[2:18], rfcPeerChallenge)
	copy(resp[26:50], ntResponse)
	return resp
}

func TestVerifyV2(t *testing.T) {
	res, err := VerifyV2(rfcUser, rfcPassword, rfcAuthChallenge, buildResponse(7, rfcNTResponse))
	require.NoError(t, err)
	assert.Equal(t, byte(7), res.Success[0])
	assert.Equal(t, "S=407A5589115FD0D6209F510FE9C04566932CDA56", string(res.Success[1:]))
	assert.Equal(t, mustHex("8B7CDC149B993A1BA118CB153F56DCCB"), res.SendKey)
	assert.Equal(t, mustHex("D5F0E9521E3EA9589645E86051C82226"), res.RecvKey)

	// domain prefixed user names hash without the domain
	_, err = VerifyV2(`CORP\User`, rfcPassword, rfcAuthChallenge, buildResponse(7, rfcNTResponse))
	assert.NoError(t, err)

	_, err = VerifyV2(rfcUser, "wrongPass", rfcAuthChallenge, buildResponse(7, rfcNTResponse))
	assert.Error(t, err)

	_, err = VerifyV2(rfcUser, rfcPassword, rfcAuthChallenge[:8], buildResponse(7, rfcNTResponse))
	assert.Error(t, err)

	_, err = VerifyV2(rfcUser, rfcPassword, rfcAuthChallenge, make([]byte, 10))
	assert.Error(t, err)
}

func TestCheckCHAP(t *testing.T) {
	challenge := []byte("0123456789abcdef")
	h := md5.New()
	h.Write([]byte{9})
	h.Write([]byte("secret-pw"))
	h.Write(challenge)
	chapPassword := append([]byte{9}, h.Sum(nil)...)

	assert.True(t, CheckCHAP("secret-pw", chapPassword, challenge))
	assert.False(t, CheckCHAP("other", chapPassword, challenge))
	assert.False(t, CheckCHAP("secret-pw", chapPassword[:10], challenge))
	assert.False(t, CheckCHAP("secret-pw", chapPassword, nil))
}
