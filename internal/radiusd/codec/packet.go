package codec

import (
	"encoding/binary"
	"fmt"

	"layeh.com/radius"
)

const (
	HeaderLen    = 20
	MaxPacketLen = 4096
)

// ErrorKind classifies why a datagram was dropped
type ErrorKind string

const (
	KindMalformed     ErrorKind = "malformed-packet"
	KindUnknownHost   ErrorKind = "unauthenticated-host"
	KindAuthenticator ErrorKind = "authenticator-mismatch"
)

// PacketError is returned for datagrams that must be dropped without reply
type PacketError struct {
	Kind ErrorKind
	Msg  string
}

func (e *PacketError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func malformed(format string, args ...interface{}) error {
	return &PacketError{Kind: KindMalformed, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is a PacketError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	pe, ok := err.(*PacketError)
	return ok && pe.Kind == kind
}

// Validate checks RFC 2865 framing: a 20 byte header, a declared length within
// [20, 4096] that does not exceed the datagram, and well formed TLVs.
// It returns the declared length; octets past it are padding and ignored.
func Validate(b []byte) (int, error) {
	if len(b) < HeaderLen {
		return 0, malformed("packet too short: %d bytes", len(b))
	}
	length := int(binary.BigEndian.Uint16(b[2:4]))
	if length < HeaderLen || length > MaxPacketLen {
		return 0, malformed("invalid declared length %d", length)
	}
	if length > len(b) {
		return 0, malformed("declared length %d exceeds received %d", length, len(b))
	}
	for offset := HeaderLen; offset < length; {
		if offset+2 > length {
			return 0, malformed("truncated attribute header at offset %d", offset)
		}
		attrLen := int(b[offset+1])
		if attrLen < 2 {
			return 0, malformed("attribute %d has invalid length %d", b[offset], attrLen)
		}
		if offset+attrLen > length {
			return 0, malformed("attribute %d overflows packet", b[offset])
		}
		offset += attrLen
	}
	return length, nil
}

// Decode validates and parses a datagram with the NAS shared secret
func Decode(b []byte, secret []byte) (*radius.Packet, error) {
	length, err := Validate(b)
	if err != nil {
		return nil, err
	}
	p, err := radius.Parse(b[:length], secret)
	if err != nil {
		return nil, malformed("%s", err.Error())
	}
	return p, nil
}

// Encode serializes a packet, computing its authenticator
func Encode(p *radius.Packet) ([]byte, error) {
	b, err := p.Encode()
	if err != nil {
		return nil, err
	}
	if len(b) > MaxPacketLen {
		return nil, fmt.Errorf("packet exceeds %d bytes", MaxPacketLen)
	}
	return b, nil
}
