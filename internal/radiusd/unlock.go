package radiusd

import (
	"context"
	"time"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/internal/radiusd/billing"
	"github.com/bjo163/radbill/internal/radiusd/coa"
	"github.com/bjo163/radbill/internal/radiusd/repository"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Close force closes a session: it is settled up to its last reported
// counters with an unlock ticket and removed. With sendCoa the NAS is asked
// to drop it as well.
func (s *RadiusService) Close(ctx context.Context, online *domain.RadiusOnline, reason string, sendCoa bool) error {
	var product *domain.RadiusProduct
	if user, err := s.Store.GetUser(ctx, online.Username); err == nil {
		product, _ = s.Store.GetProduct(ctx, user.ProductId)
	}

	ticket := billing.NewTicket(domain.TicketUnlock, online, product)
	ticket.Remark = reason
	_, err := s.Billing.Settle(ctx, &billing.Request{
		Online:      online,
		Product:     product,
		SessionTime: online.AcctSessionTime,
		InputTotal:  online.AcctInputTotal,
		OutputTotal: online.AcctOutputTotal,
		Ticket:      ticket,
	})
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if err := s.Store.Sessions().Delete(ctx, online.NasAddr, online.AcctSessionId); err != nil {
		return err
	}
	zap.L().Info("radius session unlocked",
		zap.String("namespace", "radius"),
		zap.String("username", online.Username),
		zap.String("acct_session_id", online.AcctSessionId),
		zap.String("reason", reason))

	if sendCoa {
		if err := s.Disconnect(ctx, online, reason); err != nil {
			zap.L().Warn("unlock disconnect failed",
				zap.String("namespace", "radius"),
				zap.String("username", online.Username),
				zap.Error(err))
		}
	}
	return nil
}

// Unlock closes a session and disconnects it on the NAS
func (s *RadiusService) Unlock(ctx context.Context, online *domain.RadiusOnline, reason string) error {
	return s.Close(ctx, online, reason, true)
}

// Disconnect sends a Disconnect-Request for the session to its NAS
func (s *RadiusService) Disconnect(ctx context.Context, online *domain.RadiusOnline, reason string) error {
	nas, err := s.Store.GetNas(ctx, online.NasAddr)
	if err != nil {
		return errors.Wrapf(err, "nas %s", online.NasAddr)
	}
	return s.Coa.SendDisconnect(ctx, &coa.DisconnectRequest{
		NAS:           nas,
		Username:      online.Username,
		AcctSessionId: online.AcctSessionId,
		FramedIP:      online.FramedIpaddr,
		Reason:        reason,
	})
}

// DisconnectSession looks up an online session and disconnects it. The row
// is closed when the NAS reports the Stop.
func (s *RadiusService) DisconnectSession(ctx context.Context, nasAddr, sessionId string) error {
	online, err := s.Store.Sessions().Get(ctx, nasAddr, sessionId)
	if err != nil {
		return err
	}
	return s.Disconnect(ctx, online, "admin disconnect")
}

// SweepStale closes sessions without any update since before, without CoA
func (s *RadiusService) SweepStale(ctx context.Context, before time.Time) (int, error) {
	list, err := s.Store.Sessions().ListStale(ctx, before)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, online := range list {
		if err := s.Close(ctx, online, "stale session", false); err != nil {
			zap.L().Error("close stale session failed",
				zap.String("namespace", "radius"),
				zap.String("acct_session_id", online.AcctSessionId),
				zap.Error(err))
			continue
		}
		closed++
	}
	return closed, nil
}
