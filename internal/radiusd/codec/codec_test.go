package codec

import (
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/bjo163/radbill/internal/radiusd/dictionary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"
)

var secret = []byte("testing123")

func header(code byte, length int) []byte {
	b := make([]byte, length)
	b[0] = code
	b[1] = 7
	binary.BigEndian.PutUint16(b[2:4], uint16(length))
	return b
}

func TestValidateFraming(t *testing.T) {
	_, err := Validate(make([]byte, 19))
	assert.True(t, IsKind(err, KindMalformed))

	b := header(1, 20)
	binary.BigEndian.PutUint16(b[2:4], 19)
	_, err = Validate(b)
	assert.True(t, IsKind(err, KindMalformed))

	b = header(1, 20)
	binary.BigEndian.PutUint16(b[2:4], 5000)
	_, err = Validate(b)
	assert.True(t, IsKind(err, KindMalformed))

	// declared length larger than the datagram
	b = header(1, 26)
	binary.BigEndian.PutUint16(b[2:4], 30)
	_, err = Validate(b)
	assert.True(t, IsKind(err, KindMalformed))

	// zero length attribute
	b = header(1, 24)
	b[20], b[21] = 1, 0
	_, err = Validate(b)
	assert.True(t, IsKind(err, KindMalformed))

	// attribute overflowing the declared length
	b = header(1, 24)
	b[20], b[21] = 1, 10
	_, err = Validate(b)
	assert.True(t, IsKind(err, KindMalformed))

	// trailing padding after the declared length is ignored
	b = header(1, 26)
	b[20], b[21], b[22], b[23] = 1, 6, 'a', 'b'
	b[24], b[25] = 'c', 'd'
	padded := append(b, 0, 0, 0)
	length, err := Validate(padded)
	require.NoError(t, err)
	assert.Equal(t, 26, length)
}

func TestDecodeRoundTrip(t *testing.T) {
	p := radius.New(radius.CodeAccountingRequest, secret)
	require.NoError(t, rfc2865.UserName_SetString(p, "alice"))
	require.NoError(t, rfc2866.AcctSessionID_SetString(p, "S1"))
	raw, err := Encode(p)
	require.NoError(t, err)

	decoded, err := Decode(append(raw, 0, 0), secret)
	require.NoError(t, err)
	assert.Equal(t, "alice", rfc2865.UserName_GetString(decoded))
	assert.Equal(t, "S1", rfc2866.AcctSessionID_GetString(decoded))

	_, err = Decode([]byte{1, 2, 3}, secret)
	assert.True(t, IsKind(err, KindMalformed))
}

func TestDecodeTypedAttributes(t *testing.T) {
	d := dictionary.Default()
	event := time.Unix(1700000000, 0).Format(time.RFC3339)
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"User-Name", "alice", "alice"},
		{"Framed-MTU", "1500", "1500"},
		{"Acct-Status-Type", "Interim-Update", "Interim-Update"},
		{"Framed-IP-Address", "10.0.0.7", "10.0.0.7"},
		{"Class", "0x0102ff", "0x0102ff"},
		{"Event-Timestamp", "1700000000", event},
		{"Huawei-Input-Average-Rate", "1048576", "1048576"},
		{"Mikrotik-Rate-Limit", "1k/2k", "1k/2k"},
		{"H3C-Ip-Host-Addr", "10.0.0.7 aa:bb:cc:dd:ee:ff", "10.0.0.7 aa:bb:cc:dd:ee:ff"},
	}

	p := radius.New(radius.CodeAccountingRequest, secret)
	for _, tt := range tests {
		require.NoError(t, AddByName(p, d, tt.name, tt.value), tt.name)
	}
	raw, err := Encode(p)
	require.NoError(t, err)
	require.NoError(t, VerifyRequest(raw, secret))

	decoded, err := Decode(raw, secret)
	require.NoError(t, err)
	lines := Dump(decoded, d)
	assert.Len(t, lines, len(tests))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr, ok := d.ByName(tt.name)
			require.True(t, ok)
			want, err := attr.Encode(tt.value)
			require.NoError(t, err)
			if attr.Vendor == 0 {
				assert.Equal(t, radius.Attribute(want), decoded.Get(radius.Type(attr.Code)))
			} else {
				got, ok := GetVendor(decoded, attr.Vendor, attr.Code)
				require.True(t, ok)
				assert.Equal(t, want, got)
			}
			assert.Contains(t, lines, tt.name+" = "+tt.want)
		})
	}

	again, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, raw[4:20], again[4:20])
	assert.Equal(t, raw, again)
}

func TestRequestAuthenticator(t *testing.T) {
	p := radius.New(radius.CodeAccountingRequest, secret)
	require.NoError(t, rfc2865.UserName_SetString(p, "alice"))
	raw, err := p.Encode()
	require.NoError(t, err)

	require.NoError(t, VerifyRequest(raw, secret))
	assert.True(t, IsKind(VerifyRequest(raw, []byte("wrong")), KindAuthenticator))

	tampered := append([]byte(nil), raw...)
	tampered[len(tampered)-1] ^= 0xff
	assert.True(t, IsKind(VerifyRequest(tampered, secret), KindAuthenticator))

	// access requests carry a random authenticator
	access, err := radius.New(radius.CodeAccessRequest, secret).Encode()
	require.NoError(t, err)
	assert.NoError(t, VerifyRequest(access, secret))
	assert.True(t, IsKind(VerifyRequest(raw[:12], secret), KindMalformed))
}

func TestResponseAuthenticator(t *testing.T) {
	req := radius.New(radius.CodeAccessRequest, secret)
	resp := req.Response(radius.CodeAccessAccept)
	require.NoError(t, rfc2865.ReplyMessage_SetString(resp, "ok"))
	raw, err := resp.Encode()
	require.NoError(t, err)
	reqRaw, err := req.Encode()
	require.NoError(t, err)

	require.NoError(t, VerifyResponse(raw, reqRaw, secret))

	other := append([]byte(nil), reqRaw...)
	other[4] ^= 0xff
	assert.True(t, IsKind(VerifyResponse(raw, other, secret), KindAuthenticator))
	assert.True(t, IsKind(VerifyResponse(raw, reqRaw, []byte("wrong")), KindAuthenticator))
}

func TestPAP(t *testing.T) {
	p := radius.New(radius.CodeAccessRequest, secret)
	require.NoError(t, rfc2865.UserPassword_SetString(p, "a-rather-long-password-over-16"))

	plain, err := DecryptPAP(p.Get(rfc2865.UserPassword_Type), secret, p.Authenticator)
	require.NoError(t, err)
	assert.Equal(t, "a-rather-long-password-over-16", string(plain))

	hidden, err := EncryptPAP([]byte("pw"), secret, p.Authenticator)
	require.NoError(t, err)
	assert.Len(t, hidden, 16)
	plain, err = DecryptPAP(hidden, secret, p.Authenticator)
	require.NoError(t, err)
	assert.Equal(t, "pw", string(plain))

	_, err = DecryptPAP([]byte{1, 2, 3}, secret, p.Authenticator)
	assert.Error(t, err)
}

func TestPAPLengths(t *testing.T) {
	var ra [16]byte
	copy(ra[:], "fedcba9876543210")

	for n := 1; n <= MaxPasswordLen; n++ {
		password := []byte(strings.Repeat("x", n-1) + "!")
		hidden, err := EncryptPAP(password, secret, ra)
		require.NoError(t, err, "length %d", n)
		assert.Equal(t, (n+15)/16*16, len(hidden), "length %d", n)

		plain, err := DecryptPAP(hidden, secret, ra)
		require.NoError(t, err, "length %d", n)
		assert.Equal(t, password, plain, "length %d", n)

		if n <= 128 {
			theirs, err := radius.UserPassword(hidden, secret, ra[:])
			require.NoError(t, err)
			assert.Equal(t, password, theirs, "length %d", n)
		}
	}

	_, err := EncryptPAP(make([]byte, MaxPasswordLen+1), secret, ra)
	assert.Error(t, err)
	_, err = DecryptPAP(make([]byte, MaxPasswordLen+16), secret, ra)
	assert.Error(t, err)

	// empty password still occupies one block
	hidden, err := EncryptPAP(nil, secret, ra)
	require.NoError(t, err)
	assert.Len(t, hidden, 16)
	plain, err := DecryptPAP(hidden, secret, ra)
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestSaltEncrypt(t *testing.T) {
	var ra [16]byte
	copy(ra[:], "0123456789abcdef")
	key := []byte("0123456789ABCDEF")

	enc, err := SaltEncrypt(key, secret, ra, [2]byte{0x80, 0x01})
	require.NoError(t, err)
	assert.Len(t, enc, 2+32)
	assert.Equal(t, byte(0x80), enc[0])

	dec, err := SaltDecrypt(enc, secret, ra)
	require.NoError(t, err)
	assert.Equal(t, key, dec)

	_, err = SaltEncrypt(key, secret, ra, [2]byte{0x01, 0x01})
	assert.Error(t, err)
}

func TestMessageAuthenticator(t *testing.T) {
	req := radius.New(radius.CodeAccessRequest, secret)
	require.NoError(t, rfc2865.UserName_SetString(req, "alice"))
	raw, err := SignMessageAuthenticator(req, nil)
	require.NoError(t, err)

	present, err := VerifyMessageAuthenticator(raw, nil, secret)
	assert.True(t, present)
	assert.NoError(t, err)

	present, err = VerifyMessageAuthenticator(raw, nil, []byte("other"))
	assert.True(t, present)
	assert.True(t, IsKind(err, KindAuthenticator))

	plain := radius.New(radius.CodeAccessRequest, secret)
	raw, err = plain.Encode()
	require.NoError(t, err)
	present, err = VerifyMessageAuthenticator(raw, nil, secret)
	assert.False(t, present)
	assert.NoError(t, err)

	resp := req.Response(radius.CodeAccessAccept)
	raw, err = SignMessageAuthenticator(resp, req.Authenticator[:])
	require.NoError(t, err)
	present, err = VerifyMessageAuthenticator(raw, req.Authenticator[:], secret)
	assert.True(t, present)
	assert.NoError(t, err)
	reqRaw, err := req.Encode()
	require.NoError(t, err)
	assert.NoError(t, VerifyResponse(raw, reqRaw, secret))
}

func TestVendorAttributes(t *testing.T) {
	d := dictionary.Default()
	p := radius.New(radius.CodeAccessAccept, secret)

	require.NoError(t, AddByName(p, d, "Mikrotik-Rate-Limit", "1024k/2048k"))
	require.NoError(t, AddIntByName(p, d, "Huawei-Input-Average-Rate", 1048576))
	require.NoError(t, AddByName(p, d, "Session-Timeout", "3600"))
	assert.Error(t, AddByName(p, d, "No-Such-Attribute", "1"))

	v, ok := GetVendor(p, 14988, 8)
	require.True(t, ok)
	assert.Equal(t, "1024k/2048k", string(v))

	_, ok = GetVendor(p, 14988, 19)
	assert.False(t, ok)

	lines := Dump(p, d)
	assert.Contains(t, lines, "Session-Timeout = 3600")
	assert.Contains(t, lines, "Mikrotik-Rate-Limit = 1024k/2048k")
	assert.Contains(t, lines, "Huawei-Input-Average-Rate = 1048576")
}
