package mschap

import (
	"crypto/des"
	"crypto/md5"
	"crypto/sha1"
	"crypto/subtle"
	"fmt"
	"strings"

	"golang.org/x/crypto/md4"
	"golang.org/x/text/encoding/unicode"
)

const (
	ChallengeLen  = 16
	V2ResponseLen = 50
)

var (
	magicSigning = []byte("Magic server to client signing constant")
	magicPad     = []byte("Pad to make it do more than one iteration")
)

// CheckCHAP verifies a 17 octet CHAP-Password (ident + MD5 digest) against the
// clear text password. challenge is CHAP-Challenge or the request
// authenticator when the attribute is absent.
func CheckCHAP(password string, chapPassword, challenge []byte) bool {
	if len(chapPassword) != 17 || len(challenge) == 0 {
		return false
	}
	h := md5.New()
	h.Write(chapPassword[:1])
	h.Write([]byte(password))
	h.Write(challenge)
	return subtle.ConstantTimeCompare(h.Sum(nil), chapPassword[1:]) == 1
}

// NTPasswordHash is MD4 over the UTF-16LE password (RFC 2759 8.3)
func NTPasswordHash(password string) []byte {
	encoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(password))
	if err != nil {
		encoded = nil
	}
	return md4Sum(encoded)
}

// ChallengeHash is SHA1(PeerChallenge + AuthenticatorChallenge + UserName)[:8]
func ChallengeHash(peerChallenge, authChallenge []byte, username string) []byte {
	h := sha1.New()
	h.Write(peerChallenge)
	h.Write(authChallenge)
	h.Write([]byte(stripDomain(username)))
	return h.Sum(nil)[:8]
}

// GenerateNTResponse computes the 24 octet NT-Response (RFC 2759 8.1)
func GenerateNTResponse(authChallenge, peerChallenge []byte, username, password string) []byte {
	challenge := ChallengeHash(peerChallenge, authChallenge, username)
	return challengeResponse(challenge, NTPasswordHash(password))
}

// AuthenticatorResponse computes the "S=<40 hex>" string (RFC 2759 8.7)
func AuthenticatorResponse(password string, ntResponse, peerChallenge, authChallenge []byte, username string) string {
	hashHash := md4Sum(NTPasswordHash(password))

	h := sha1.New()
	h.Write(hashHash)
	h.Write(ntResponse)
	h.Write(magicSigning)
	digest := h.Sum(nil)

	h = sha1.New()
	h.Write(digest)
	h.Write(ChallengeHash(peerChallenge, authChallenge, username))
	h.Write(magicPad)
	return fmt.Sprintf("S=%X", h.Sum(nil))
}

// Result of a successful MS-CHAPv2 verification
type Result struct {
	// Success is the MS-CHAP2-Success value: ident followed by the authenticator response
	Success []byte
	// SendKey and RecvKey are the 16 octet MPPE keys from the server's point of view
	SendKey []byte
	RecvKey []byte
}

// VerifyV2 checks an MS-CHAP2-Response (ident, flags, peer challenge,
// reserved, NT-Response) against the authenticator challenge.
func VerifyV2(username, password string, authChallenge, response []byte) (*Result, error) {
	if len(authChallenge) != ChallengeLen {
		return nil, fmt.Errorf("ms-chap challenge must be %d octets, got %d", ChallengeLen, len(authChallenge))
	}
	if len(response) != V2ResponseLen {
		return nil, fmt.Errorf("ms-chap2 response must be %d octets, got %d", V2ResponseLen, len(response))
	}
	ident := response[0]
	peerChallenge := response[2:18]
	ntResponse := response[26:50]

	expected := GenerateNTResponse(authChallenge, peerChallenge, username, password)
	if subtle.ConstantTimeCompare(expected, ntResponse) != 1 {
		return nil, fmt.Errorf("ms-chap2 response mismatch")
	}

	success := append([]byte{ident}, AuthenticatorResponse(password, ntResponse, peerChallenge, authChallenge, username)...)
	master := MasterKey(NTPasswordHash(password), ntResponse)
	return &Result{
		Success: success,
		SendKey: AsymmetricStartKey(master, true),
		RecvKey: AsymmetricStartKey(master, false),
	}, nil
}

func challengeResponse(challenge, passwordHash []byte) []byte {
	padded := make([]byte, 21)
	copy(padded, passwordHash)

	response := make([]byte, 24)
	desEncrypt(padded[0:7], challenge, response[0:8])
	desEncrypt(padded[7:14], challenge, response[8:16])
	desEncrypt(padded[14:21], challenge, response[16:24])
	return response
}

// desEncrypt expands a 7 octet key to a DES key with parity and encrypts one block
func desEncrypt(key, clear, out []byte) {
	k := make([]byte, 8)
	k[0] = key[0]
	k[1] = key[0]<<7 | key[1]>>1
	k[2] = key[1]<<6 | key[2]>>2
	k[3] = key[2]<<5 | key[3]>>3
	k[4] = key[3]<<4 | key[4]>>4
	k[5] = key[4]<<3 | key[5]>>5
	k[6] = key[5]<<2 | key[6]>>6
	k[7] = key[6] << 1
	for i := range k {
		k[i] = parity(k[i])
	}
	block, err := des.NewCipher(k)
	if err != nil {
		return
	}
	block.Encrypt(out, clear)
}

func parity(b byte) byte {
	p := byte(0)
	for i := 1; i < 8; i++ {
		p ^= (b >> i) & 1
	}
	return b&0xFE | (p ^ 1)
}

func md4Sum(data []byte) []byte {
	h := md4.New()
	h.Write(data)
	return h.Sum(nil)
}

func stripDomain(username string) string {
	if i := strings.LastIndexByte(username, '\\'); i >= 0 {
		return username[i+1:]
	}
	return username
}
