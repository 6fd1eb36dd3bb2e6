package coa

import (
	"crypto/md5"
	"encoding/binary"
	"net"

	"github.com/bjo163/radbill/pkg/common"
	"github.com/c-robinson/iplib"
	"github.com/pkg/errors"
)

// iKuai routers take a kick command on the CoA port as a fixed width frame:
//
//	version (1) | op (1) | tlv length (2) | tlvs | zero padding | md5 (16)
//
// Each tlv is tag (1) | value length (1) | value. The digest covers the
// frame up to the digest followed by the NAS secret.
const (
	IkuaiFrameLen = 1024
	ikuaiHeadLen  = 4
	ikuaiVersion  = 2
	ikuaiOpKick   = 1
	ikuaiMaxValue = 253
)

// Tags of the kick frame
const (
	IkuaiTagUserName      byte = 1
	IkuaiTagAcctSessionId byte = 2
	IkuaiTagNasIP         byte = 3
	IkuaiTagFramedIP      byte = 4
)

// EncodeIkuaiKick builds the kick frame for a session
func EncodeIkuaiKick(req *DisconnectRequest, secret []byte) ([]byte, error) {
	if req.Username == "" || req.AcctSessionId == "" {
		return nil, errors.New("ikuai: username and session id are required")
	}
	frame := make([]byte, IkuaiFrameLen)
	frame[0], frame[1] = ikuaiVersion, ikuaiOpKick

	tlvs := frame[ikuaiHeadLen:ikuaiHeadLen]
	var err error
	if tlvs, err = appendTLV(tlvs, IkuaiTagUserName, []byte(req.Username)); err != nil {
		return nil, err
	}
	if tlvs, err = appendTLV(tlvs, IkuaiTagAcctSessionId, []byte(req.AcctSessionId)); err != nil {
		return nil, err
	}
	if req.NAS != nil {
		if ip := net.ParseIP(req.NAS.Ipaddr).To4(); ip != nil {
			tlvs, _ = appendTLV(tlvs, IkuaiTagNasIP, ipValue(ip))
		}
	}
	if !common.IsEmptyOrNA(req.FramedIP) {
		if ip := net.ParseIP(req.FramedIP).To4(); ip != nil {
			tlvs, _ = appendTLV(tlvs, IkuaiTagFramedIP, ipValue(ip))
		}
	}
	binary.BigEndian.PutUint16(frame[2:ikuaiHeadLen], uint16(len(tlvs)))

	sum := md5.Sum(append(frame[:IkuaiFrameLen-md5.Size:IkuaiFrameLen-md5.Size], secret...))
	copy(frame[IkuaiFrameLen-md5.Size:], sum[:])
	return frame, nil
}

// appendTLV appends into the frame body in place. Two strings of at most 253
// octets and two addresses stay well before the digest.
func appendTLV(b []byte, tag byte, value []byte) ([]byte, error) {
	if len(value) > ikuaiMaxValue {
		return nil, errors.Errorf("ikuai: tag %d value longer than %d octets", tag, ikuaiMaxValue)
	}
	b = append(b, tag, byte(len(value)))
	return append(b, value...), nil
}

func ipValue(ip net.IP) []byte {
	return binary.BigEndian.AppendUint32(nil, iplib.IP4ToUint32(ip))
}
