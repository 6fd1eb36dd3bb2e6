package radiusd

import (
	"time"

	raderrors "github.com/bjo163/radbill/internal/radiusd/errors"
	"github.com/bjo163/radbill/internal/radiusd/plugins/auth"
	"github.com/bjo163/radbill/internal/radiusd/plugins/vendorparsers"
	"github.com/bjo163/radbill/internal/radiusd/repository"
	"github.com/bjo163/radbill/pkg/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
)

// AuthService answers Access-Request and Status-Server
type AuthService struct {
	*RadiusService
}

func NewAuthService(s *RadiusService) *AuthService {
	return &AuthService{RadiusService: s}
}

func (s *AuthService) ServeRADIUS(w radius.ResponseWriter, r *radius.Request) {
	start := time.Now()
	nas := NasFromContext(r.Context())

	switch r.Code {
	case radius.CodeStatusServer:
		if err := w.Write(r.Response(radius.CodeAccessAccept)); err != nil {
			zap.L().Error("status-server reply error", zap.String("namespace", "radius"), zap.Error(err))
		}
		return
	case radius.CodeAccessRequest:
	default:
		zap.L().Warn("unexpected packet on auth port",
			zap.String("namespace", "radius"),
			zap.String("nas", nasAddr(nas)),
			zap.String("code", r.Code.String()))
		return
	}

	username := rfc2865.UserName_GetString(r.Packet)
	s.tracePacket("in", nas, username, r.Packet)

	parser := s.Parsers.Get(nas.VendorCode)
	actx := &auth.AuthContext{
		Context:   r.Context(),
		Request:   r,
		Response:  r.Response(radius.CodeAccessAccept),
		NAS:       nas,
		Now:       start,
		Parser:    parser,
		Rate:      s.Rates.Get(nas.VendorCode),
		VendorReq: &vendorparsers.VendorRequest{},
	}
	delayKey := parser.ParseMac(r.Packet)
	if delayKey == "" {
		delayKey = username
	}

	err := s.authenticate(actx, username)
	if err != nil {
		if ae, ok := raderrors.AsAuthError(err); ok {
			s.reject(w, r, actx, delayKey, ae)
			return
		}
		metrics.Incr(metrics.RadiusDropped)
		zap.L().Error("radius auth failed, no reply sent",
			zap.String("namespace", "radius"),
			zap.String("username", username),
			zap.String("nas", nas.Ipaddr),
			zap.Error(err))
		return
	}

	s.Delay.Accept(delayKey)
	if err := w.Write(actx.Response); err != nil {
		zap.L().Error("radius accept write error", zap.String("namespace", "radius"), zap.Error(err))
		return
	}
	metrics.Incr(metrics.RadiusAccept)
	metrics.ObserveAuthLatency(time.Since(start))
	s.tracePacket("out", nas, username, actx.Response)
	zap.L().Info("radius auth accept",
		zap.String("namespace", "radius"),
		zap.String("username", username),
		zap.String("nas", nas.Ipaddr),
		zap.String("mac", actx.VendorReq.MacAddr),
		zap.Duration("cost", time.Since(start)))
}

func (s *AuthService) authenticate(actx *auth.AuthContext, username string) error {
	if username == "" {
		return raderrors.NewAuthError(raderrors.RejectNotExists, "username is empty")
	}
	user, err := s.Store.GetUser(actx.Context, username)
	if errors.Is(err, repository.ErrNotFound) {
		return raderrors.NewAuthError(raderrors.RejectNotExists, "user %s not exists", username)
	}
	if err != nil {
		return err
	}
	product, err := s.Store.GetProduct(actx.Context, user.ProductId)
	if errors.Is(err, repository.ErrNotFound) {
		return raderrors.NewAuthError(raderrors.RejectOther, "user product not exists")
	}
	if err != nil {
		return err
	}
	actx.User = user
	actx.Product = product
	return s.pipeline.Run(actx)
}

func (s *AuthService) reject(w radius.ResponseWriter, r *radius.Request, actx *auth.AuthContext, key string, ae *raderrors.AuthError) {
	resp := r.Response(radius.CodeAccessReject)
	_ = rfc2865.ReplyMessage_SetString(resp, ae.Message)
	metrics.Incr(metrics.RadiusReject)
	metrics.Incr(ae.Type)

	username := rfc2865.UserName_GetString(r.Packet)
	zap.L().Info("radius auth reject",
		zap.String("namespace", "radius"),
		zap.String("username", username),
		zap.String("nas", actx.NAS.Ipaddr),
		zap.String("reason", ae.Type),
		zap.String("message", ae.Message))

	queued := s.Delay.Reject(key, func() {
		if err := w.Write(resp); err != nil {
			zap.L().Error("radius reject write error", zap.String("namespace", "radius"), zap.Error(err))
			return
		}
		s.tracePacket("out", actx.NAS, username, resp)
	})
	if h, ok := w.(ReplyHolder); ok && queued {
		h.Hold()
	}
}
