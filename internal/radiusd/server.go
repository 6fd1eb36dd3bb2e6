package radiusd

import (
	"context"
	"encoding/hex"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/internal/radiusd/codec"
	"github.com/bjo163/radbill/internal/radiusd/repository"
	"github.com/bjo163/radbill/pkg/common"
	"github.com/bjo163/radbill/pkg/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"layeh.com/radius"
)

// DuplicateWindow is how long replies are kept for retransmitted requests
const DuplicateWindow = 5 * time.Second

// NasSource resolves the NAS of a datagram by source address
type NasSource interface {
	GetNas(ctx context.Context, ip string) (*domain.NetNas, error)
}

// Server is a RADIUS UDP listener. Datagrams from unknown hosts, malformed
// packets and packets failing authenticator checks are dropped; everything
// else is handed to Handler with the NAS attached to the request context.
type Server struct {
	Name    string
	Addr    string
	Handler radius.Handler
	Nas     NasSource

	conn   net.PacketConn
	mu     sync.Mutex
	dedup  *expirable.LRU[string, []byte]
	wg     sync.WaitGroup
	closed atomic.Bool
	ready  chan struct{}
}

// ListenAndServe listens on Addr and serves until Shutdown
func (s *Server) ListenAndServe() error {
	conn, err := net.ListenPacket("udp", s.Addr)
	if err != nil {
		return errors.Wrapf(err, "radius %s listen", s.Name)
	}
	return s.Serve(conn)
}

// Serve reads datagrams from conn until it is closed
func (s *Server) Serve(conn net.PacketConn) error {
	s.mu.Lock()
	s.conn = conn
	s.dedup = expirable.NewLRU[string, []byte](65536, nil, DuplicateWindow)
	if s.ready == nil {
		s.ready = make(chan struct{})
	}
	close(s.ready)
	s.mu.Unlock()
	if s.closed.Load() {
		return conn.Close()
	}

	zap.S().Infof("Starting Radius %s server on %s", s.Name, conn.LocalAddr())
	buf := make([]byte, codec.MaxPacketLen)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		data := append([]byte(nil), buf[:n]...)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(data, addr)
		}()
	}
}

// LocalAddr blocks until the server is listening and returns its address
func (s *Server) LocalAddr() net.Addr {
	s.mu.Lock()
	if s.ready == nil {
		s.ready = make(chan struct{})
	}
	ready := s.ready
	s.mu.Unlock()
	<-ready
	return s.conn.LocalAddr()
}

// Shutdown closes the socket and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.closed.Store(true)
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) drop(kind codec.ErrorKind, host string, err error) {
	metrics.Incr(metrics.RadiusDropped)
	zap.L().Warn("radius packet dropped",
		zap.String("namespace", "radius"),
		zap.String("server", s.Name),
		zap.String("kind", string(kind)),
		zap.String("host", host),
		zap.Error(err))
}

func (s *Server) handle(data []byte, addr net.Addr) {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ctx := context.Background()

	nas, err := s.Nas.GetNas(ctx, host)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.drop(codec.KindUnknownHost, host, err)
		} else {
			zap.L().Error("nas lookup failed", zap.String("namespace", "radius"), zap.String("host", host), zap.Error(err))
		}
		return
	}
	if nas.Status == common.DISABLED {
		s.drop(codec.KindUnknownHost, host, errors.New("nas disabled"))
		return
	}

	length, err := codec.Validate(data)
	if err != nil {
		s.drop(codec.KindMalformed, host, err)
		return
	}
	raw := data[:length]
	secret := []byte(nas.Secret)
	p, err := codec.Decode(raw, secret)
	if err != nil {
		s.drop(codec.KindMalformed, host, err)
		return
	}

	signReply := false
	switch p.Code {
	case radius.CodeAccountingRequest:
		if err := codec.VerifyRequest(raw, secret); err != nil {
			s.drop(codec.KindAuthenticator, host, err)
			return
		}
	case radius.CodeAccessRequest, radius.CodeStatusServer:
		present, err := codec.VerifyMessageAuthenticator(raw, nil, secret)
		if err != nil {
			s.drop(codec.KindAuthenticator, host, err)
			return
		}
		if !present && p.Code == radius.CodeStatusServer {
			s.drop(codec.KindAuthenticator, host, errors.New("status-server without message-authenticator"))
			return
		}
		signReply = present
	}

	key := host + "|" + strconv.Itoa(int(p.Identifier)) + "|" + hex.EncodeToString(p.Authenticator[:])
	s.mu.Lock()
	cached, seen := s.dedup.Get(key)
	if !seen {
		s.dedup.Add(key, nil)
	}
	s.mu.Unlock()
	if seen {
		if cached != nil {
			_, _ = s.conn.WriteTo(cached, addr)
		}
		zap.L().Debug("duplicate radius request",
			zap.String("namespace", "radius"),
			zap.String("host", host),
			zap.Int("id", int(p.Identifier)),
			zap.Bool("replayed", cached != nil))
		return
	}

	req := (&radius.Request{
		LocalAddr:  s.conn.LocalAddr(),
		RemoteAddr: addr,
		Packet:     p,
	}).WithContext(WithNas(ctx, nas))
	w := &responseWriter{srv: s, addr: addr, key: key, requestAuth: p.Authenticator, sign: signReply}
	s.Handler.ServeRADIUS(w, req)
	if !w.written.Load() && !w.held.Load() {
		// no reply, let the NAS retransmission be served again
		s.mu.Lock()
		s.dedup.Remove(key)
		s.mu.Unlock()
	}
}

// ReplyHolder is implemented by response writers whose reply may be written
// after ServeRADIUS returns
type ReplyHolder interface {
	Hold()
}

type responseWriter struct {
	srv         *Server
	addr        net.Addr
	key         string
	requestAuth [16]byte
	sign        bool
	written     atomic.Bool
	held        atomic.Bool
}

func (w *responseWriter) Hold() {
	w.held.Store(true)
}

func (w *responseWriter) Write(p *radius.Packet) error {
	var raw []byte
	var err error
	if w.sign {
		raw, err = codec.SignMessageAuthenticator(p, w.requestAuth[:])
	} else {
		raw, err = codec.Encode(p)
	}
	if err != nil {
		return err
	}
	w.written.Store(true)
	w.srv.mu.Lock()
	w.srv.dedup.Add(w.key, raw)
	w.srv.mu.Unlock()
	_, err = w.srv.conn.WriteTo(raw, w.addr)
	return err
}
