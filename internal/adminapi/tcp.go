package adminapi

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MaxFrameSize bounds the body of one control frame
const MaxFrameSize = 1 << 20

// ErrFrameTooLarge is returned for frames above MaxFrameSize
var ErrFrameTooLarge = errors.New("control frame too large")

// ReadFrame reads one frame: a 4-byte big-endian length and the body
func ReadFrame(r io.Reader) ([]byte, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(head[:])
	if size > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, errors.Wrap(err, "short control frame")
	}
	return body, nil
}

// WriteFrame writes data as one frame
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err := w.Write(buf)
	return err
}

// Pusher sends unsolicited replies on a persistent connection. Held cancel
// funcs run when the connection closes.
type Pusher interface {
	Push(resp *Response) error
	Hold(name string, cancel func())
	Release(name string) bool
}

type pusherKey struct{}

func withPusher(ctx context.Context, p Pusher) context.Context {
	return context.WithValue(ctx, pusherKey{}, p)
}

// PusherFrom returns the pusher of the connection serving ctx
func PusherFrom(ctx context.Context) (Pusher, bool) {
	p, ok := ctx.Value(pusherKey{}).(Pusher)
	return p, ok
}

// session is one control connection. Replies and pushed frames share the
// write lock.
type session struct {
	conn  net.Conn
	wmu   sync.Mutex
	mu    sync.Mutex
	holds map[string]func()
}

func (s *session) write(data []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return WriteFrame(s.conn, data)
}

func (s *session) Push(resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.write(data)
}

func (s *session) Hold(name string, cancel func()) {
	s.mu.Lock()
	old := s.holds[name]
	s.holds[name] = cancel
	s.mu.Unlock()
	if old != nil {
		old()
	}
}

func (s *session) Release(name string) bool {
	s.mu.Lock()
	cancel, ok := s.holds[name]
	delete(s.holds, name)
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (s *session) close() {
	s.mu.Lock()
	holds := s.holds
	s.holds = map[string]func(){}
	s.mu.Unlock()
	for _, cancel := range holds {
		cancel()
	}
}

// TCPServer serves the control channel over persistent framed connections.
// Requests on one connection are answered in order.
type TCPServer struct {
	Addr       string
	Dispatcher *Dispatcher
	// IdleTimeout closes connections without traffic; zero keeps them open
	IdleTimeout time.Duration

	mu       sync.Mutex
	ln       net.Listener
	conns    map[net.Conn]struct{}
	ready    chan struct{}
	once     sync.Once
	closed   bool
	handlers sync.WaitGroup
}

func (s *TCPServer) init() {
	s.once.Do(func() {
		s.ready = make(chan struct{})
		s.conns = map[net.Conn]struct{}{}
	})
}

func (s *TCPServer) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return errors.Wrapf(err, "admin listen %s", s.Addr)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown
func (s *TCPServer) Serve(ln net.Listener) error {
	s.init()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.New("admin server closed")
	}
	s.ln = ln
	close(s.ready)
	s.mu.Unlock()

	zap.L().Info("admin control channel listening",
		zap.String("namespace", "admin"),
		zap.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.handlers.Add(1)
		go s.serveConn(conn)
	}
}

// ListenAddr blocks until the server is listening and returns its address
func (s *TCPServer) ListenAddr() net.Addr {
	s.init()
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ln.Addr()
}

func (s *TCPServer) serveConn(conn net.Conn) {
	sess := &session{conn: conn, holds: map[string]func(){}}
	defer func() {
		sess.close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
		s.handlers.Done()
	}()

	opr := Operator{Name: "tcp"}
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		opr.IP = addr.IP.String()
	}
	ctx := withPusher(context.Background(), sess)
	for {
		if s.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.IdleTimeout))
		}
		data, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				zap.L().Debug("admin connection closed",
					zap.String("namespace", "admin"),
					zap.String("remote", opr.IP),
					zap.Error(err))
			}
			return
		}
		reply := s.Dispatcher.HandleMessage(ctx, opr, data)
		if err := sess.write(reply); err != nil {
			zap.L().Warn("admin reply write failed",
				zap.String("namespace", "admin"),
				zap.String("remote", opr.IP),
				zap.Error(err))
			return
		}
	}
}

// Shutdown stops accepting, closes open connections and waits for their
// handlers or for ctx to end
func (s *TCPServer) Shutdown(ctx context.Context) error {
	s.init()
	s.mu.Lock()
	s.closed = true
	if s.ln != nil {
		_ = s.ln.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
