package codec

import (
	"crypto/hmac"
	"crypto/md5"

	"layeh.com/radius"
)

const (
	authOffset               = 4
	attrMessageAuthenticator = 80
)

// VerifyRequest checks the authenticator of a request whose authenticator is
// derived from its content (accounting, CoA, disconnect).
func VerifyRequest(raw []byte, secret []byte) error {
	if len(raw) < HeaderLen {
		return malformed("packet too short: %d bytes", len(raw))
	}
	if !radius.IsAuthenticRequest(raw, secret) {
		return &PacketError{Kind: KindAuthenticator, Msg: "request authenticator mismatch"}
	}
	return nil
}

// VerifyResponse checks a reply against the encoded request it answers
func VerifyResponse(raw, request []byte, secret []byte) error {
	if len(raw) < HeaderLen || len(request) < HeaderLen {
		return malformed("packet too short")
	}
	if !radius.IsAuthenticResponse(raw, request, secret) {
		return &PacketError{Kind: KindAuthenticator, Msg: "response authenticator mismatch"}
	}
	return nil
}

// VerifyMessageAuthenticator validates an RFC 2869 Message-Authenticator.
// For requests requestAuth is nil and the packet's own authenticator is used.
// present is false when the attribute is absent.
func VerifyMessageAuthenticator(raw []byte, requestAuth []byte, secret []byte) (present bool, err error) {
	length, err := Validate(raw)
	if err != nil {
		return false, err
	}
	buf := make([]byte, length)
	copy(buf, raw[:length])

	var received []byte
	for offset := HeaderLen; offset < length; {
		attrLen := int(buf[offset+1])
		if buf[offset] == attrMessageAuthenticator {
			if attrLen != 18 {
				return true, malformed("message-authenticator has length %d", attrLen)
			}
			received = append([]byte(nil), buf[offset+2:offset+18]...)
			for i := offset + 2; i < offset+18; i++ {
				buf[i] = 0
			}
		}
		offset += attrLen
	}
	if received == nil {
		return false, nil
	}
	if requestAuth != nil {
		copy(buf[authOffset:HeaderLen], requestAuth)
	}
	mac := hmac.New(md5.New, secret)
	mac.Write(buf)
	if !hmac.Equal(mac.Sum(nil), received) {
		return true, &PacketError{Kind: KindAuthenticator, Msg: "message-authenticator mismatch"}
	}
	return true, nil
}

// SignMessageAuthenticator encodes p with a Message-Authenticator computed over
// the final packet. requestAuth is the authenticator of the request being
// answered, or nil for requests.
func SignMessageAuthenticator(p *radius.Packet, requestAuth []byte) ([]byte, error) {
	p.Set(attrMessageAuthenticator, make([]byte, 16))
	raw, err := p.Encode()
	if err != nil {
		return nil, err
	}
	buf := append([]byte(nil), raw...)
	if requestAuth != nil {
		copy(buf[authOffset:HeaderLen], requestAuth)
	}
	offset := messageAuthenticatorOffset(buf)
	if offset < 0 {
		return raw, nil
	}
	mac := hmac.New(md5.New, p.Secret)
	mac.Write(buf)
	p.Set(attrMessageAuthenticator, mac.Sum(nil))
	return p.Encode()
}

func messageAuthenticatorOffset(b []byte) int {
	for offset := HeaderLen; offset+1 < len(b); {
		attrLen := int(b[offset+1])
		if attrLen < 2 {
			return -1
		}
		if b[offset] == attrMessageAuthenticator {
			return offset
		}
		offset += attrLen
	}
	return -1
}
