package radiusd

import (
	"context"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/internal/radiusd/plugins/accounting"
	"github.com/bjo163/radbill/internal/radiusd/plugins/vendorparsers"
	"github.com/bjo163/radbill/pkg/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"layeh.com/radius"
	"layeh.com/radius/rfc2866"
)

// HandleAccountingWithPlugins dispatches an accounting request to the
// handler of its Acct-Status-Type
func (s *AcctService) HandleAccountingWithPlugins(
	ctx context.Context,
	r *radius.Request,
	vendorReq *vendorparsers.VendorRequest,
	username string,
	nas *domain.NetNas,
	nasIP string,
) error {
	if r.Get(rfc2866.AcctStatusType_Type) == nil {
		return errors.New("missing Acct-Status-Type")
	}
	statusType := rfc2866.AcctStatusType_Get(r.Packet)

	acctCtx := &accounting.AccountingContext{
		Context:    ctx,
		Request:    r,
		VendorReq:  vendorReq,
		Username:   username,
		NAS:        nas,
		NASIP:      nasIP,
		StatusType: int(statusType),
	}

	handler, ok := s.handlers.Find(acctCtx)
	if !ok {
		zap.L().Warn("no accounting handler for status type",
			zap.String("namespace", "radius"),
			zap.String("username", username),
			zap.Int("status_type", int(statusType)))
		return errors.Errorf("unsupported Acct-Status-Type %d", statusType)
	}

	if err := handler.Handle(acctCtx); err != nil {
		zap.L().Error("accounting handler failed",
			zap.String("namespace", "radius"),
			zap.String("handler", handler.Name()),
			zap.String("username", username),
			zap.Int("status_type", int(statusType)),
			zap.Error(err),
		)
		return err
	}

	if name, ok := acctStatusMetrics[statusType]; ok {
		metrics.Incr(name)
	}
	zap.L().Debug("radius accounting handled",
		zap.String("namespace", "radius"),
		zap.String("handler", handler.Name()),
		zap.String("username", username))
	return nil
}

var acctStatusMetrics = map[rfc2866.AcctStatusType]string{
	rfc2866.AcctStatusType_Value_Start:         metrics.RadiusAcctStart,
	rfc2866.AcctStatusType_Value_Stop:          metrics.RadiusAcctStop,
	rfc2866.AcctStatusType_Value_InterimUpdate: metrics.RadiusAcctUpdate,
	rfc2866.AcctStatusType_Value_AccountingOn:  metrics.RadiusAcctOnOff,
	rfc2866.AcctStatusType_Value_AccountingOff: metrics.RadiusAcctOnOff,
}
