package adminapi

import (
	"context"
	"strings"
	"time"

	"github.com/bjo163/radbill/internal/radiusd/repository"
	"github.com/bjo163/radbill/internal/radiusd/trace"
	"github.com/bjo163/radbill/pkg/metrics"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

type cachePayload struct {
	CacheClass    string `json:"cache_class"`
	AccountNumber string `json:"account_number"`
	NasAddr       string `json:"nas_addr"`
	MacAddr       string `json:"mac_addr"`
	ProductId     string `json:"product_id"`
}

// key picks the payload key matching the cache class
func (p *cachePayload) key() string {
	switch p.CacheClass {
	case repository.CacheAccount:
		return p.AccountNumber
	case repository.CacheBas:
		return p.NasAddr
	case repository.CacheRoster:
		return p.MacAddr
	case repository.CacheProduct:
		return p.ProductId
	}
	return ""
}

type debugPayload struct {
	Debug interface{} `json:"debug"`
}

type delayPayload struct {
	Delay int `json:"delay"`
}

type tracePayload struct {
	MessageType string `json:"message_type"` // enable | disable | watch | unwatch | get | stream | stop
	Username    string `json:"username"`
}

type disconnectPayload struct {
	NasAddr       string `json:"nas_addr"`
	AcctSessionId string `json:"acct_session_id"`
}

func (d *Dispatcher) registerCacheProcesses() {
	d.Register("cache_event", d.cacheEvent)
}

func (d *Dispatcher) registerDebugProcesses() {
	d.Register("debug", d.debug)
	d.Register("reject_delay", d.rejectDelay)
	d.Register("stats", d.stats)
}

func (d *Dispatcher) registerTraceProcesses() {
	d.Register("trace", d.trace)
}

func (d *Dispatcher) registerSessionProcesses() {
	d.Register("coa_disconnect", d.coaDisconnect)
}

func (d *Dispatcher) cacheEvent(_ context.Context, req Request) (interface{}, error) {
	var p cachePayload
	if err := decode(req, &p); err != nil {
		return nil, err
	}
	if p.CacheClass == "" {
		return nil, errors.New("cache_class required")
	}
	if err := d.svc.Store.Invalidate(p.CacheClass, p.key()); err != nil {
		return nil, err
	}
	return map[string]string{"cache_class": p.CacheClass, "key": p.key()}, nil
}

func (d *Dispatcher) debug(_ context.Context, req Request) (interface{}, error) {
	var p debugPayload
	if err := decode(req, &p); err != nil {
		return nil, err
	}
	if p.Debug != nil {
		on := parseSwitch(p.Debug)
		d.svc.SetDebug(on)
		if d.OnDebug != nil {
			d.OnDebug(on)
		}
		zap.L().Info("radius debug switched", zap.String("namespace", "admin"), zap.Bool("debug", on))
	}
	return map[string]bool{"debug": d.svc.Debug()}, nil
}

func (d *Dispatcher) rejectDelay(_ context.Context, req Request) (interface{}, error) {
	if _, ok := req["delay"]; ok {
		var p delayPayload
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		d.svc.Delay.SetDelay(p.Delay)
	}
	return map[string]int{"delay": d.svc.Delay.Delay(), "pending": d.svc.Delay.Len()}, nil
}

func (d *Dispatcher) stats(ctx context.Context, _ Request) (interface{}, error) {
	online, err := d.svc.Store.Sessions().Count(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"online":   online,
		"counters": metrics.Counters(),
		"time":     time.Now().Format(time.RFC3339),
	}, nil
}

func (d *Dispatcher) trace(ctx context.Context, req Request) (interface{}, error) {
	var p tracePayload
	if err := decode(req, &p); err != nil {
		return nil, err
	}
	tracer := d.svc.Tracer
	switch strings.ToLower(p.MessageType) {
	case "enable":
		tracer.SetEnabled(true)
	case "disable":
		tracer.SetEnabled(false)
	case "watch":
		if p.Username == "" {
			return nil, errors.New("username required")
		}
		tracer.Watch(p.Username)
	case "unwatch":
		tracer.Unwatch(p.Username)
	case "", "get":
		var entries []trace.Entry
		if p.Username != "" {
			entries = tracer.User(p.Username)
		} else {
			entries = tracer.Global()
		}
		return map[string]interface{}{"entries": entries}, nil
	case "stream":
		return d.traceStream(ctx, req, p.Username)
	case "stop":
		pusher, ok := PusherFrom(ctx)
		if !ok {
			return nil, errors.New("trace stream needs the tcp control channel")
		}
		return map[string]bool{"stopped": pusher.Release("trace")}, nil
	default:
		return nil, errors.Errorf("unknown message_type %q", p.MessageType)
	}
	return map[string]interface{}{"enabled": tracer.Enabled(), "watched": tracer.Watched()}, nil
}

// traceStream pushes every recorded entry, or the entries of username, to
// the connection as {msg_id, code, msg: "trace", data: entry} until stop or
// disconnect. A username is watched so its packets get recorded.
func (d *Dispatcher) traceStream(ctx context.Context, req Request, username string) (interface{}, error) {
	pusher, ok := PusherFrom(ctx)
	if !ok {
		return nil, errors.New("trace stream needs the tcp control channel")
	}
	tracer := d.svc.Tracer
	if username != "" {
		tracer.Watch(username)
	}
	msgId := req.MsgId()
	cancel, err := tracer.Subscribe(func(e trace.Entry) {
		if username != "" && e.Username != username {
			return
		}
		if err := pusher.Push(&Response{MsgId: msgId, Code: CodeOK, Msg: "trace", Data: e}); err != nil {
			zap.L().Debug("trace push failed", zap.String("namespace", "admin"), zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	pusher.Hold("trace", cancel)
	return map[string]interface{}{"streaming": true, "username": username, "enabled": tracer.Enabled()}, nil
}

func (d *Dispatcher) coaDisconnect(ctx context.Context, req Request) (interface{}, error) {
	var p disconnectPayload
	if err := decode(req, &p); err != nil {
		return nil, err
	}
	if p.NasAddr == "" || p.AcctSessionId == "" {
		return nil, errors.New("nas_addr and acct_session_id required")
	}
	if err := d.svc.DisconnectSession(ctx, p.NasAddr, p.AcctSessionId); err != nil {
		return nil, err
	}
	return map[string]string{"nas_addr": p.NasAddr, "acct_session_id": p.AcctSessionId}, nil
}

func parseSwitch(v interface{}) bool {
	if s, ok := v.(string); ok {
		switch strings.ToLower(s) {
		case "enabled", "on":
			return true
		case "disabled", "off":
			return false
		}
	}
	return cast.ToBool(v)
}
