package radiusd

import (
	"context"
	"net"
	"time"

	"github.com/bjo163/radbill/pkg/metrics"
	"go.uber.org/zap"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"
)

// AcctTaskTimeout bounds one accounting task on the worker pool
const AcctTaskTimeout = 30 * time.Second

// AcctService acknowledges Accounting-Requests and settles them afterwards
type AcctService struct {
	*RadiusService
}

func NewAcctService(s *RadiusService) *AcctService {
	return &AcctService{RadiusService: s}
}

func (s *AcctService) ServeRADIUS(w radius.ResponseWriter, r *radius.Request) {
	nas := NasFromContext(r.Context())
	if r.Code != radius.CodeAccountingRequest {
		zap.L().Warn("unexpected packet on acct port",
			zap.String("namespace", "radius"),
			zap.String("nas", nasAddr(nas)),
			zap.String("code", r.Code.String()))
		return
	}
	if r.Get(rfc2866.AcctStatusType_Type) == nil {
		metrics.Incr(metrics.RadiusDropped)
		zap.L().Warn("accounting request without Acct-Status-Type",
			zap.String("namespace", "radius"),
			zap.String("nas", nas.Ipaddr))
		return
	}

	username := rfc2865.UserName_GetString(r.Packet)
	s.tracePacket("in", nas, username, r.Packet)

	resp := r.Response(radius.CodeAccountingResponse)
	if err := w.Write(resp); err != nil {
		zap.L().Error("radius accounting response write error", zap.String("namespace", "radius"), zap.Error(err))
		return
	}
	s.tracePacket("out", nas, username, resp)

	vendorReq := s.Parsers.Parse(nas.VendorCode, r.Packet)
	nasIP := nas.Ipaddr
	if ip := rfc2865.NASIPAddress_Get(r.Packet); ip != nil && !ip.Equal(net.IPv4zero) {
		nasIP = ip.String()
	}

	err := s.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), AcctTaskTimeout)
		defer cancel()
		_ = s.HandleAccountingWithPlugins(ctx, r, vendorReq, username, nas, nasIP)
	})
	if err != nil {
		zap.L().Error("submit accounting task failed",
			zap.String("namespace", "radius"),
			zap.String("username", username),
			zap.Error(err))
	}
}
