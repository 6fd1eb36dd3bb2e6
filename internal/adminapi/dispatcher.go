package adminapi

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/internal/radiusd"
	"github.com/bjo163/radbill/pkg/common"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Reply codes
const (
	CodeOK    = 0
	CodeError = 1
)

// Request is one control message. Besides process and msg_id it carries the
// keys of the process at the top level.
type Request map[string]interface{}

func (r Request) Process() string {
	return cast.ToString(r["process"])
}

func (r Request) MsgId() interface{} {
	return r["msg_id"]
}

// Response is the reply to one Request
type Response struct {
	MsgId interface{} `json:"msg_id"`
	Code  int         `json:"code"`
	Msg   string      `json:"msg,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

// Operator identifies the caller of a request in the audit log
type Operator struct {
	Name string
	IP   string
}

// ProcessFunc serves one process
type ProcessFunc func(ctx context.Context, req Request) (interface{}, error)

// Dispatcher routes control requests to their process
type Dispatcher struct {
	svc *radiusd.RadiusService
	db  *gorm.DB
	// OnDebug is called after the debug process switched the flag, so the
	// caller can move the log level along
	OnDebug func(debug bool)

	mu        sync.RWMutex
	processes map[string]ProcessFunc
}

// NewDispatcher builds a dispatcher over the radius service. A nil db
// disables the audit log.
func NewDispatcher(svc *radiusd.RadiusService, db *gorm.DB) *Dispatcher {
	d := &Dispatcher{svc: svc, db: db, processes: map[string]ProcessFunc{}}
	d.registerCacheProcesses()
	d.registerDebugProcesses()
	d.registerTraceProcesses()
	d.registerSessionProcesses()
	return d
}

// Register adds or replaces a process
func (d *Dispatcher) Register(name string, fn ProcessFunc) {
	d.mu.Lock()
	d.processes[name] = fn
	d.mu.Unlock()
}

// Processes lists the registered process names
func (d *Dispatcher) Processes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.processes))
	for name := range d.processes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs a request and writes its audit record
func (d *Dispatcher) Dispatch(ctx context.Context, opr Operator, req Request) *Response {
	resp := &Response{MsgId: req.MsgId()}
	process := req.Process()

	d.mu.RLock()
	fn, ok := d.processes[process]
	d.mu.RUnlock()
	if !ok {
		resp.Code = CodeError
		resp.Msg = "unknown process " + process
		zap.L().Warn("unknown admin process",
			zap.String("namespace", "admin"),
			zap.String("process", process),
			zap.String("operator", opr.Name))
		return resp
	}

	data, err := fn(ctx, req)
	if err != nil {
		resp.Code = CodeError
		resp.Msg = err.Error()
		zap.L().Error("admin process failed",
			zap.String("namespace", "admin"),
			zap.String("process", process),
			zap.String("operator", opr.Name),
			zap.Error(err))
	} else {
		resp.Data = data
	}
	d.audit(ctx, opr, process, req, resp)
	return resp
}

// HandleMessage decodes a json request, dispatches it and encodes the reply.
// Undecodable input gets an error reply without msg_id.
func (d *Dispatcher) HandleMessage(ctx context.Context, opr Operator, data []byte) []byte {
	var req Request
	var resp *Response
	if err := json.Unmarshal(data, &req); err != nil || req == nil {
		resp = &Response{Code: CodeError, Msg: "invalid message"}
	} else {
		resp = d.Dispatch(ctx, opr, req)
	}
	out, err := json.Marshal(resp)
	if err != nil {
		out, _ = json.Marshal(&Response{MsgId: resp.MsgId, Code: CodeError, Msg: err.Error()})
	}
	return out
}

func (d *Dispatcher) audit(ctx context.Context, opr Operator, process string, req Request, resp *Response) {
	if d.db == nil {
		return
	}
	desc, _ := json.MarshalToString(req)
	if resp.Code != CodeOK {
		desc += " => " + resp.Msg
	}
	err := d.db.WithContext(ctx).Create(&domain.SysOprLog{
		ID:        common.UUIDint64(),
		OprName:   common.IfEmptyStr(opr.Name, common.NA),
		OprIp:     common.IfEmptyStr(opr.IP, common.NA),
		OptAction: process,
		OptDesc:   desc,
		OptTime:   time.Now(),
	}).Error
	if err != nil {
		zap.L().Warn("write admin audit log failed", zap.String("namespace", "admin"), zap.Error(err))
	}
}

// decode copies the request keys into a process payload
func decode(req Request, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		TagName:          "json",
		Result:           out,
	})
	if err != nil {
		return err
	}
	return errors.Wrap(dec.Decode(map[string]interface{}(req)), "invalid payload")
}
