package coa

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/binary"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"
)

func listen(t *testing.T) (*net.UDPConn, int) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).Port
}

func TestSendDisconnect(t *testing.T) {
	server, port := listen(t)
	nas := &domain.NetNas{Ipaddr: "127.0.0.1", Secret: "secret", CoaPort: port}

	acks := make(chan Response, 1)
	client := NewClient()
	client.OnResponse = func(r Response) { acks <- r }
	defer client.Close()

	err := client.SendDisconnect(context.Background(), &DisconnectRequest{
		NAS: nas, Username: "alice", AcctSessionId: "s1", FramedIP: "10.1.1.9", Reason: "test",
	})
	require.NoError(t, err)

	buf := make([]byte, 4096)
	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, from, err := server.ReadFromUDP(buf)
	require.NoError(t, err)

	p, err := radius.Parse(buf[:n], []byte("secret"))
	require.NoError(t, err)
	assert.Equal(t, radius.CodeDisconnectRequest, p.Code)
	assert.Equal(t, "alice", rfc2865.UserName_GetString(p))
	assert.Equal(t, "s1", rfc2866.AcctSessionID_GetString(p))
	assert.Equal(t, "10.1.1.9", rfc2865.FramedIPAddress_Get(p).String())
	assert.Equal(t, "127.0.0.1", rfc2865.NASIPAddress_Get(p).String())

	reply, err := p.Response(radius.CodeDisconnectACK).Encode()
	require.NoError(t, err)
	_, err = server.WriteToUDP(reply, from)
	require.NoError(t, err)

	select {
	case r := <-acks:
		assert.True(t, r.Ack)
		assert.Equal(t, radius.CodeDisconnectACK, r.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply observed")
	}
}

func TestReplyWithWrongSecretIgnored(t *testing.T) {
	server, port := listen(t)
	nas := &domain.NetNas{Ipaddr: "127.0.0.1", Secret: "secret", CoaPort: port}

	acks := make(chan Response, 1)
	client := NewClient()
	client.OnResponse = func(r Response) { acks <- r }
	defer client.Close()

	require.NoError(t, client.SendDisconnect(context.Background(), &DisconnectRequest{NAS: nas, Username: "bob", AcctSessionId: "s2"}))

	buf := make([]byte, 4096)
	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, from, err := server.ReadFromUDP(buf)
	require.NoError(t, err)
	p, err := radius.Parse(buf[:n], []byte("other"))
	require.NoError(t, err)
	reply, err := p.Response(radius.CodeDisconnectACK).Encode()
	require.NoError(t, err)
	_, err = server.WriteToUDP(reply, from)
	require.NoError(t, err)

	select {
	case <-acks:
		t.Fatal("forged reply accepted")
	case <-time.After(300 * time.Millisecond):
	}
}

// decodeKick parses and verifies a kick frame as an iKuai router would
func decodeKick(t *testing.T, frame, secret []byte) map[byte][]byte {
	t.Helper()
	require.Len(t, frame, IkuaiFrameLen)
	body, sig := frame[:IkuaiFrameLen-md5.Size], frame[IkuaiFrameLen-md5.Size:]
	sum := md5.Sum(append(append([]byte(nil), body...), secret...))
	if !bytes.Equal(sum[:], sig) {
		return nil
	}
	n := int(binary.BigEndian.Uint16(body[2:4]))
	tlvs := body[4 : 4+n]
	fields := map[byte][]byte{}
	for len(tlvs) > 0 {
		require.GreaterOrEqual(t, len(tlvs), 2)
		size := int(tlvs[1])
		require.GreaterOrEqual(t, len(tlvs), 2+size)
		fields[tlvs[0]] = tlvs[2 : 2+size]
		tlvs = tlvs[2+size:]
	}
	assert.True(t, bytes.Equal(body[4+n:], make([]byte, len(body)-4-n)), "padding must be zero")
	return fields
}

func TestIkuaiFrame(t *testing.T) {
	server, port := listen(t)
	nas := &domain.NetNas{Ipaddr: "127.0.0.1", Secret: "ik-secret", CoaPort: port, VendorCode: domain.VendorIkuai}

	client := NewClient()
	defer client.Close()
	require.NoError(t, client.SendDisconnect(context.Background(), &DisconnectRequest{
		NAS: nas, Username: "carol", AcctSessionId: "ik-1", FramedIP: "192.168.8.20",
	}))

	buf := make([]byte, 4096)
	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := server.ReadFromUDP(buf)
	require.NoError(t, err)
	frame := buf[:n]

	assert.Equal(t, byte(ikuaiVersion), frame[0])
	assert.Equal(t, byte(ikuaiOpKick), frame[1])
	fields := decodeKick(t, frame, []byte("ik-secret"))
	require.NotNil(t, fields)
	assert.Equal(t, "carol", string(fields[IkuaiTagUserName]))
	assert.Equal(t, "ik-1", string(fields[IkuaiTagAcctSessionId]))
	assert.Equal(t, []byte{127, 0, 0, 1}, fields[IkuaiTagNasIP])
	assert.Equal(t, []byte{192, 168, 8, 20}, fields[IkuaiTagFramedIP])

	assert.Nil(t, decodeKick(t, frame, []byte("wrong")))
}

func TestIkuaiFrameLimits(t *testing.T) {
	nas := &domain.NetNas{Ipaddr: "10.0.0.1", VendorCode: domain.VendorIkuai}

	frame, err := EncodeIkuaiKick(&DisconnectRequest{
		NAS: nas, Username: strings.Repeat("u", 253), AcctSessionId: strings.Repeat("s", 253), FramedIP: common.NA,
	}, []byte("k"))
	require.NoError(t, err)
	fields := decodeKick(t, frame, []byte("k"))
	assert.Len(t, fields[IkuaiTagUserName], 253)
	assert.Len(t, fields[IkuaiTagAcctSessionId], 253)
	assert.NotContains(t, fields, IkuaiTagFramedIP)

	_, err = EncodeIkuaiKick(&DisconnectRequest{NAS: nas, Username: strings.Repeat("u", 254), AcctSessionId: "s"}, []byte("k"))
	assert.Error(t, err)
	_, err = EncodeIkuaiKick(&DisconnectRequest{NAS: nas, Username: "u"}, []byte("k"))
	assert.Error(t, err)
}

func TestNasRequired(t *testing.T) {
	assert.Error(t, NewClient().SendDisconnect(context.Background(), &DisconnectRequest{Username: "x"}))
}
