package mschap

import "crypto/sha1"

// RFC 3079 key derivation constants
var (
	magic1 = []byte("This is the MPPE Master Key")
	magic2 = []byte("On the client side, this is the send key; on the server side, it is the receive key.")
	magic3 = []byte("On the client side, this is the receive key; on the server side, it is the send key.")

	shsPad1 = make([]byte, 40)
	shsPad2 = []byte{
		0xf2, 0xf2, 0xf2, 0xf2, 0xf2, 0xf2, 0xf2, 0xf2, 0xf2, 0xf2,
		0xf2, 0xf2, 0xf2, 0xf2, 0xf2, 0xf2, 0xf2, 0xf2, 0xf2, 0xf2,
		0xf2, 0xf2, 0xf2, 0xf2, 0xf2, 0xf2, 0xf2, 0xf2, 0xf2, 0xf2,
		0xf2, 0xf2, 0xf2, 0xf2, 0xf2, 0xf2, 0xf2, 0xf2, 0xf2, 0xf2,
	}
)

// MPPE attribute values sent with an MS-CHAPv2 Access-Accept
const (
	EncryptionPolicyAllowed = 1
	EncryptionTypes40And128 = 6
)

// MasterKey is SHA1(PasswordHashHash + NTResponse + Magic1)[:16]
func MasterKey(passwordHash, ntResponse []byte) []byte {
	h := sha1.New()
	h.Write(md4Sum(passwordHash))
	h.Write(ntResponse)
	h.Write(magic1)
	return h.Sum(nil)[:16]
}

// AsymmetricStartKey derives the 128 bit server side send (send=true) or
// receive key from the master key.
func AsymmetricStartKey(masterKey []byte, send bool) []byte {
	s := magic2
	if send {
		s = magic3
	}
	h := sha1.New()
	h.Write(masterKey)
	h.Write(shsPad1)
	h.Write(s)
	h.Write(shsPad2)
	return h.Sum(nil)[:16]
}
