package coa

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/internal/radiusd/codec"
	"github.com/bjo163/radbill/pkg/common"
	"github.com/bjo163/radbill/pkg/metrics"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"
)

// ErrNasUnavailable is returned while the breaker of a NAS is open
var ErrNasUnavailable = errors.New("nas coa endpoint unavailable")

// DisconnectRequest identifies the session to drop
type DisconnectRequest struct {
	NAS           *domain.NetNas
	Username      string
	AcctSessionId string
	FramedIP      string
	Reason        string
}

// Response is a reply read back from a NAS
type Response struct {
	NasAddr string
	Code    radius.Code
	Ack     bool
}

// Client sends Disconnect-Requests to NAS devices over one UDP socket per
// NAS. Sends do not wait for the reply; replies are read in the background,
// logged and passed to OnResponse.
type Client struct {
	mu         sync.Mutex
	conns      map[string]*nasConn
	breakers   map[string]*gobreaker.CircuitBreaker
	readIdle   time.Duration
	OnResponse func(Response)
}

type sent struct {
	request []byte
	secret  []byte
}

// nasConn keeps the sent requests by identifier to verify replies
type nasConn struct {
	conn    *net.UDPConn
	pending map[byte]sent
	mu      sync.Mutex
	nextID  byte
}

func NewClient() *Client {
	return &Client{
		conns:    make(map[string]*nasConn),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		readIdle: 5 * time.Minute,
	}
}

func (c *Client) breaker(addr string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[addr]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "coa:" + addr,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				zap.L().Warn("coa circuit breaker state changed",
					zap.String("namespace", "radius"),
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
		c.breakers[addr] = cb
	}
	return cb
}

// SendDisconnect encodes and sends a disconnect for the session. It returns
// once the datagram is written.
func (c *Client) SendDisconnect(ctx context.Context, req *DisconnectRequest) error {
	if req.NAS == nil {
		return errors.New("coa: nas is required")
	}
	addr := net.JoinHostPort(req.NAS.Ipaddr, strconv.Itoa(req.NAS.GetCoaPort()))
	_, err := c.breaker(addr).Execute(func() (interface{}, error) {
		nc, err := c.conn(addr)
		if err != nil {
			return nil, err
		}
		var frame []byte
		if req.NAS.VendorCode == domain.VendorIkuai {
			frame, err = EncodeIkuaiKick(req, []byte(req.NAS.Secret))
		} else {
			frame, err = nc.disconnectPacket(req)
		}
		if err != nil {
			return nil, err
		}
		if deadline, ok := ctx.Deadline(); ok {
			_ = nc.conn.SetWriteDeadline(deadline)
		} else {
			_ = nc.conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
		}
		_, err = nc.conn.Write(frame)
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = ErrNasUnavailable
	}
	if err != nil {
		metrics.Incr(metrics.RadiusCoaFailed)
		zap.L().Error("send disconnect request failed",
			zap.String("namespace", "radius"),
			zap.String("nas", addr),
			zap.String("username", req.Username),
			zap.String("acct_session_id", req.AcctSessionId),
			zap.Error(err))
		return err
	}
	metrics.Incr(metrics.RadiusCoaSent)
	zap.L().Info("disconnect request sent",
		zap.String("namespace", "radius"),
		zap.String("nas", addr),
		zap.String("username", req.Username),
		zap.String("acct_session_id", req.AcctSessionId),
		zap.String("reason", req.Reason))
	return nil
}

func (nc *nasConn) disconnectPacket(req *DisconnectRequest) ([]byte, error) {
	secret := []byte(req.NAS.Secret)
	p := radius.New(radius.CodeDisconnectRequest, secret)
	if err := rfc2865.UserName_SetString(p, req.Username); err != nil {
		return nil, err
	}
	if err := rfc2866.AcctSessionID_SetString(p, req.AcctSessionId); err != nil {
		return nil, err
	}
	if ip := net.ParseIP(req.NAS.Ipaddr).To4(); ip != nil {
		_ = rfc2865.NASIPAddress_Set(p, ip)
	}
	if !common.IsEmptyOrNA(req.FramedIP) {
		if ip := net.ParseIP(req.FramedIP).To4(); ip != nil {
			_ = rfc2865.FramedIPAddress_Set(p, ip)
		}
	}

	nc.mu.Lock()
	p.Identifier = nc.nextID
	nc.nextID++
	nc.mu.Unlock()

	raw, err := codec.Encode(p)
	if err != nil {
		return nil, err
	}
	nc.mu.Lock()
	nc.pending[p.Identifier] = sent{request: raw, secret: secret}
	nc.mu.Unlock()
	return raw, nil
}

func (c *Client) conn(addr string) (*nasConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if nc, ok := c.conns[addr]; ok {
		return nc, nil
	}
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	nc := &nasConn{conn: conn, pending: make(map[byte]sent)}
	c.conns[addr] = nc
	go c.readLoop(addr, nc)
	return nc, nil
}

// readLoop logs replies until the socket has been idle for readIdle
func (c *Client) readLoop(addr string, nc *nasConn) {
	defer func() {
		c.mu.Lock()
		if c.conns[addr] == nc {
			delete(c.conns, addr)
		}
		c.mu.Unlock()
		_ = nc.conn.Close()
	}()
	buf := make([]byte, codec.MaxPacketLen)
	for {
		_ = nc.conn.SetReadDeadline(time.Now().Add(c.readIdle))
		n, err := nc.conn.Read(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			zap.L().Debug("coa read error", zap.String("namespace", "radius"), zap.String("nas", addr), zap.Error(err))
			continue
		}
		c.handleReply(addr, nc, append([]byte(nil), buf[:n]...))
	}
}

func (c *Client) handleReply(addr string, nc *nasConn, raw []byte) {
	if _, err := codec.Validate(raw); err != nil {
		// not a RADIUS reply, e.g. a proprietary acknowledgement
		zap.L().Info("coa reply received",
			zap.String("namespace", "radius"),
			zap.String("nas", addr),
			zap.Int("size", len(raw)))
		return
	}
	nc.mu.Lock()
	req, ok := nc.pending[raw[1]]
	delete(nc.pending, raw[1])
	nc.mu.Unlock()
	if !ok {
		zap.L().Warn("coa reply for unknown request", zap.String("namespace", "radius"), zap.String("nas", addr))
		return
	}
	if err := codec.VerifyResponse(raw, req.request, req.secret); err != nil {
		zap.L().Warn("coa reply dropped", zap.String("namespace", "radius"), zap.String("nas", addr), zap.Error(err))
		return
	}
	resp := Response{NasAddr: addr, Code: radius.Code(raw[0])}
	resp.Ack = resp.Code == radius.CodeDisconnectACK || resp.Code == radius.CodeCoAACK
	zap.L().Info("coa reply received",
		zap.String("namespace", "radius"),
		zap.String("nas", addr),
		zap.String("code", resp.Code.String()))
	if c.OnResponse != nil {
		c.OnResponse(resp)
	}
}

// Close releases every NAS socket
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, nc := range c.conns {
		_ = nc.conn.Close()
		delete(c.conns, addr)
	}
}
