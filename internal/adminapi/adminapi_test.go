package adminapi

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/internal/radiusd"
	"github.com/bjo163/radbill/internal/radiusd/repository"
	"github.com/bjo163/radbill/internal/radiusd/trace"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"layeh.com/radius"
	"layeh.com/radius/rfc2866"
)

type fixture struct {
	db  *gorm.DB
	svc *radiusd.RadiusService
	d   *Dispatcher
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := repository.OpenMemory()
	require.NoError(t, err)
	require.NoError(t, db.Create(&domain.RadiusUser{
		ID: 1, AccountNumber: "alice", Status: domain.UserStatusNormal, Balance: 100,
	}).Error)

	store := repository.NewStore(db, time.Minute)
	svc, err := radiusd.NewRadiusService(radiusd.Options{Store: store, PoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() {
		svc.Release()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return &fixture{db: db, svc: svc, d: NewDispatcher(svc, db)}
}

func (f *fixture) call(t *testing.T, req Request) *Response {
	t.Helper()
	return f.d.Dispatch(context.Background(), Operator{Name: "test", IP: "127.0.0.1"}, req)
}

func TestCacheEventInvalidatesAccount(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	user, err := f.svc.Store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), user.Balance)

	require.NoError(t, f.db.Model(&domain.RadiusUser{}).Where("id = ?", 1).Update("balance", 50).Error)
	user, err = f.svc.Store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), user.Balance)

	resp := f.call(t, Request{"process": "cache_event", "msg_id": "m1", "cache_class": "account", "account_number": "alice"})
	require.Equal(t, CodeOK, resp.Code, resp.Msg)
	assert.Equal(t, "m1", resp.MsgId)

	user, err = f.svc.Store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50), user.Balance)

	var logs []domain.SysOprLog
	require.NoError(t, f.db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "cache_event", logs[0].OptAction)
	assert.Equal(t, "test", logs[0].OprName)
}

func TestCacheEventRejectsUnknownClass(t *testing.T) {
	f := setup(t)

	resp := f.call(t, Request{"process": "cache_event", "cache_class": "nope"})
	assert.Equal(t, CodeError, resp.Code)

	resp = f.call(t, Request{"process": "cache_event"})
	assert.Equal(t, CodeError, resp.Code)
}

func TestUnknownProcess(t *testing.T) {
	f := setup(t)

	resp := f.call(t, Request{"process": "reboot", "msg_id": 3})
	assert.Equal(t, CodeError, resp.Code)
	assert.Equal(t, 3, resp.MsgId)
}

func TestDebugAndRejectDelay(t *testing.T) {
	f := setup(t)
	var levels []bool
	f.d.OnDebug = func(v bool) { levels = append(levels, v) }

	resp := f.call(t, Request{"process": "debug", "debug": "enabled"})
	require.Equal(t, CodeOK, resp.Code)
	assert.True(t, f.svc.Debug())

	resp = f.call(t, Request{"process": "debug", "debug": false})
	require.Equal(t, CodeOK, resp.Code)
	assert.False(t, f.svc.Debug())
	assert.Equal(t, []bool{true, false}, levels)

	resp = f.call(t, Request{"process": "reject_delay", "delay": "3"})
	require.Equal(t, CodeOK, resp.Code)
	assert.Equal(t, 3, f.svc.Delay.Delay())

	resp = f.call(t, Request{"process": "reject_delay"})
	require.Equal(t, CodeOK, resp.Code)
	assert.Equal(t, 3, resp.Data.(map[string]int)["delay"])
}

func TestTraceWatchAndGet(t *testing.T) {
	f := setup(t)

	resp := f.call(t, Request{"process": "trace", "message_type": "watch", "username": "alice"})
	require.Equal(t, CodeOK, resp.Code)

	f.svc.Tracer.Record(trace.Entry{Direction: "in", Username: "alice", Code: "Access-Request"})
	f.svc.Tracer.Record(trace.Entry{Direction: "in", Username: "bob", Code: "Access-Request"})

	resp = f.call(t, Request{"process": "trace", "message_type": "get", "username": "alice"})
	require.Equal(t, CodeOK, resp.Code)
	entries := resp.Data.(map[string]interface{})["entries"].([]trace.Entry)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Username)

	resp = f.call(t, Request{"process": "trace", "message_type": "bogus"})
	assert.Equal(t, CodeError, resp.Code)
}

func TestCoaDisconnect(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	nasConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer nasConn.Close()
	port := nasConn.LocalAddr().(*net.UDPAddr).Port

	require.NoError(t, f.db.Create(&domain.NetNas{
		ID: 1, Ipaddr: "127.0.0.1", Secret: "secret", CoaPort: port, Status: "enabled",
	}).Error)
	require.NoError(t, f.svc.Store.Sessions().Create(ctx, &domain.RadiusOnline{
		ID: 1, Username: "alice", NasAddr: "127.0.0.1", AcctSessionId: "s1", LastUpdate: time.Now(),
	}))

	resp := f.call(t, Request{"process": "coa_disconnect", "nas_addr": "127.0.0.1", "acct_session_id": "s1"})
	require.Equal(t, CodeOK, resp.Code, resp.Msg)

	buf := make([]byte, 4096)
	require.NoError(t, nasConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := nasConn.ReadFromUDP(buf)
	require.NoError(t, err)
	p, err := radius.Parse(buf[:n], []byte("secret"))
	require.NoError(t, err)
	assert.Equal(t, radius.CodeDisconnectRequest, p.Code)
	assert.Equal(t, "s1", rfc2866.AcctSessionID_GetString(p))

	resp = f.call(t, Request{"process": "coa_disconnect", "nas_addr": "127.0.0.1", "acct_session_id": "missing"})
	assert.Equal(t, CodeError, resp.Code)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"process":"stats"}`)))
	assert.Equal(t, []byte{0, 0, 0, 19}, buf.Bytes()[:4])

	data, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, `{"process":"stats"}`, string(data))

	_, err = ReadFrame(bytes.NewReader([]byte{0xff, 0, 0, 0}))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestTCPServer(t *testing.T) {
	f := setup(t)
	srv := &TCPServer{Dispatcher: f.d}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	conn, err := net.Dial("tcp", srv.ListenAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	for _, msgId := range []int{7, 8} {
		require.NoError(t, WriteFrame(conn, []byte(`{"process":"stats","msg_id":`+strconv.Itoa(msgId)+`}`)))
		data, err := ReadFrame(conn)
		require.NoError(t, err)
		var resp Response
		require.NoError(t, json.Unmarshal(data, &resp))
		assert.Equal(t, CodeOK, resp.Code)
		assert.EqualValues(t, msgId, resp.MsgId)
	}

	require.NoError(t, WriteFrame(conn, []byte("not json")))
	data, err := ReadFrame(conn)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, CodeError, resp.Code)
}

func TestTCPTraceStream(t *testing.T) {
	f := setup(t)
	srv := &TCPServer{Dispatcher: f.d}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	conn, err := net.Dial("tcp", srv.ListenAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	read := func() Response {
		data, err := ReadFrame(conn)
		require.NoError(t, err)
		var resp Response
		require.NoError(t, json.Unmarshal(data, &resp))
		return resp
	}

	require.NoError(t, WriteFrame(conn, []byte(`{"process":"trace","message_type":"stream","username":"alice","msg_id":3}`)))
	resp := read()
	require.Equal(t, CodeOK, resp.Code, resp.Msg)
	assert.EqualValues(t, 3, resp.MsgId)
	require.Equal(t, 1, f.svc.Tracer.Subscribers())

	f.svc.Tracer.Record(trace.Entry{Direction: "in", Username: "bob", Code: "Access-Request"})
	f.svc.Tracer.Record(trace.Entry{Direction: "in", Username: "alice", Code: "Access-Request"})
	pushed := read()
	assert.Equal(t, "trace", pushed.Msg)
	assert.EqualValues(t, 3, pushed.MsgId)
	entry := pushed.Data.(map[string]interface{})
	assert.Equal(t, "alice", entry["username"])
	assert.Equal(t, "Access-Request", entry["code"])

	require.NoError(t, WriteFrame(conn, []byte(`{"process":"trace","message_type":"stop","msg_id":4}`)))
	resp = read()
	assert.EqualValues(t, 4, resp.MsgId)
	assert.Equal(t, true, resp.Data.(map[string]interface{})["stopped"])
	assert.Zero(t, f.svc.Tracer.Subscribers())

	// a second stream is cancelled when the connection goes away
	require.NoError(t, WriteFrame(conn, []byte(`{"process":"trace","message_type":"stream","msg_id":5}`)))
	read()
	require.Equal(t, 1, f.svc.Tracer.Subscribers())
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return f.svc.Tracer.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}

func TestTraceStreamNeedsConnection(t *testing.T) {
	f := setup(t)
	resp := f.call(t, Request{"process": "trace", "message_type": "stream"})
	assert.Equal(t, CodeError, resp.Code)
	assert.Zero(t, f.svc.Tracer.Subscribers())
}

func TestHTTPControl(t *testing.T) {
	f := setup(t)
	e, err := NewHTTPHandler(f.d, HTTPOptions{JwtSecret: "jwt-secret", Registry: prometheus.NewRegistry()})
	require.NoError(t, err)

	post := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/control",
			bytes.NewBufferString(`{"process":"debug","msg_id":"h1","debug":"on"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	rec := post("")
	assert.NotEqual(t, http.StatusOK, rec.Code)
	assert.False(t, f.svc.Debug())

	token, err := IssueToken("jwt-secret", "admin", time.Minute)
	require.NoError(t, err)
	rec = post(token)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, CodeOK, resp.Code)
	assert.Equal(t, "h1", resp.MsgId)
	assert.True(t, f.svc.Debug())

	var log domain.SysOprLog
	require.NoError(t, f.db.First(&log).Error)
	assert.Equal(t, "admin", log.OprName)

	metricsRec := httptest.NewRecorder()
	e.ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, metricsRec.Code)
	assert.Contains(t, metricsRec.Body.String(), "radbill_admin_requests_total")
}

func TestHTTPRequiresSecret(t *testing.T) {
	f := setup(t)
	_, err := NewHTTPHandler(f.d, HTTPOptions{})
	assert.Error(t, err)

	_, err = IssueToken("", "admin", time.Minute)
	assert.Error(t, err)
}
