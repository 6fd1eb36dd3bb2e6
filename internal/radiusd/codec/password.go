package codec

import (
	"bytes"
	"crypto/md5"

	"github.com/pkg/errors"
	"layeh.com/radius"
)

const (
	// rfcPasswordLen is the RFC 2865 bound handled by layeh
	rfcPasswordLen = 128
	// MaxPasswordLen is the longest password a single User-Password attribute
	// can carry: 253 value octets rounded down to whole 16 octet blocks.
	MaxPasswordLen = 240
)

// EncryptPAP hides a User-Password per RFC 2865 section 5.2. Passwords past
// the RFC bound of 128 octets are chained the same way up to MaxPasswordLen.
func EncryptPAP(password, secret []byte, authenticator [16]byte) ([]byte, error) {
	if len(password) > MaxPasswordLen {
		return nil, errors.Errorf("password longer than %d octets", MaxPasswordLen)
	}
	size := len(password)
	if size == 0 || size%16 != 0 {
		size += 16 - size%16
	}
	plain := make([]byte, size)
	copy(plain, password)
	if size <= rfcPasswordLen {
		return radius.NewUserPassword(plain, secret, authenticator[:])
	}
	return xorChain(plain, secret, authenticator[:], true), nil
}

// DecryptPAP reverses EncryptPAP and strips the NUL padding
func DecryptPAP(hidden, secret []byte, authenticator [16]byte) ([]byte, error) {
	if len(hidden) == 0 || len(hidden)%16 != 0 || len(hidden) > MaxPasswordLen {
		return nil, errors.Errorf("invalid User-Password length %d", len(hidden))
	}
	if len(hidden) <= rfcPasswordLen {
		return radius.UserPassword(hidden, secret, authenticator[:])
	}
	plain := xorChain(hidden, secret, authenticator[:], false)
	if i := bytes.IndexByte(plain, 0); i >= 0 {
		plain = plain[:i]
	}
	return plain, nil
}

// SaltEncrypt encrypts a key for MS-MPPE-Send-Key / MS-MPPE-Recv-Key per
// RFC 2548 section 2.4.2. The plaintext is prefixed by its length, padded to a
// multiple of 16, and chained from MD5(S + RA + Salt). The most significant
// bit of the salt must be set.
func SaltEncrypt(key, secret []byte, requestAuth [16]byte, salt [2]byte) ([]byte, error) {
	if len(key) > 255 {
		return nil, errors.New("key longer than 255 octets")
	}
	if salt[0]&0x80 == 0 {
		return nil, errors.New("salt high bit must be set")
	}
	plain := append([]byte{byte(len(key))}, key...)
	if rem := len(plain) % 16; rem != 0 {
		plain = append(plain, make([]byte, 16-rem)...)
	}
	seed := append(append([]byte(nil), requestAuth[:]...), salt[:]...)
	out := append([]byte{salt[0], salt[1]}, xorChain(plain, secret, seed, true)...)
	return out, nil
}

// SaltDecrypt reverses SaltEncrypt
func SaltDecrypt(value, secret []byte, requestAuth [16]byte) ([]byte, error) {
	if len(value) < 18 || (len(value)-2)%16 != 0 {
		return nil, errors.New("invalid salt-encrypted length")
	}
	seed := append(append([]byte(nil), requestAuth[:]...), value[:2]...)
	plain := xorChain(value[2:], secret, seed, false)
	n := int(plain[0])
	if n > len(plain)-1 {
		return nil, errors.New("invalid salt-encrypted key length")
	}
	return plain[1 : 1+n], nil
}

// xorChain runs the RFC 2865 MD5 keystream over data (length multiple of 16).
// When encrypting the chaining value is the produced ciphertext, when
// decrypting it is the input ciphertext.
func xorChain(data, secret, seed []byte, encrypt bool) []byte {
	out := make([]byte, len(data))
	prev := seed
	for i := 0; i < len(data); i += 16 {
		h := md5.New()
		h.Write(secret)
		h.Write(prev)
		b := h.Sum(nil)
		for j := 0; j < 16; j++ {
			out[i+j] = data[i+j] ^ b[j]
		}
		if encrypt {
			prev = out[i : i+16]
		} else {
			prev = data[i : i+16]
		}
	}
	return out
}
