package billing

import (
	"context"
	"testing"
	"time"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/internal/radiusd/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type mockDisconnector struct {
	mock.Mock
}

func (m *mockDisconnector) Disconnect(_ context.Context, online *domain.RadiusOnline, reason string) error {
	return m.Called(online.AcctSessionId).Error(0)
}

func setup(t *testing.T, user *domain.RadiusUser) (*repository.Store, *gorm.DB) {
	t.Helper()
	db, err := repository.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	user.ID = 1
	user.AccountNumber = "alice"
	require.NoError(t, db.Create(user).Error)
	require.NoError(t, db.Create(&domain.RadiusOnline{
		ID: 1, Username: "alice", NasAddr: "10.0.0.1", AcctSessionId: "s1",
		AcctStartTime: time.Now(), LastUpdate: time.Now(),
	}).Error)
	return repository.NewStore(db, time.Minute), db
}

func online(t *testing.T, store *repository.Store) *domain.RadiusOnline {
	t.Helper()
	o, err := store.Sessions().Get(context.Background(), "10.0.0.1", "s1")
	require.NoError(t, err)
	return o
}

func TestComputePolicies(t *testing.T) {
	row := &domain.RadiusOnline{BillingTimes: 600, BillingOutput: 1024}

	step := Compute(&domain.RadiusProduct{Policy: domain.PolicyPrepaidTime, FeePrice: 100}, row, 2400, 0)
	assert.Equal(t, 2400, step.NextTimes)
	assert.Equal(t, int64(50), step.Fee)

	step = Compute(&domain.RadiusProduct{Policy: domain.PolicyBuyoutTime}, row, 700, 0)
	assert.Equal(t, int64(100), step.TimeUsed)
	assert.Zero(t, step.Fee)

	step = Compute(&domain.RadiusProduct{Policy: domain.PolicyPrepaidFlow, FeePrice: 10}, row, 0, 3*1024*1024)
	assert.Equal(t, int64(3072), step.NextOutput)
	assert.Equal(t, int64(20), step.Fee)

	step = Compute(&domain.RadiusProduct{Policy: domain.PolicyBuyoutFlow}, row, 0, 2048*1024)
	assert.Equal(t, int64(1024), step.FlowUsed)

	step = Compute(&domain.RadiusProduct{Policy: domain.PolicyPrepaidMonth}, row, 9000, 0)
	assert.True(t, step.Moved())
	assert.False(t, step.Charged())

	// counters reset by the NAS bill nothing
	step = Compute(&domain.RadiusProduct{Policy: domain.PolicyPrepaidTime, FeePrice: 100}, row, 10, 0)
	assert.False(t, step.Moved())
	assert.Zero(t, step.Fee)
}

func TestPrepaidTimeStop(t *testing.T) {
	store, db := setup(t, &domain.RadiusUser{Balance: 500, Status: domain.UserStatusNormal})
	engine := NewEngine(store, store.Sessions(), nil)
	product := &domain.RadiusProduct{Policy: domain.PolicyPrepaidTime, FeePrice: 100}

	o := online(t, store)
	result, err := engine.Settle(context.Background(), &Request{
		Online: o, Product: product, SessionTime: 1800,
		Ticket: NewTicket(domain.TicketStop, o, product),
	})
	require.NoError(t, err)
	require.True(t, result.Applied)
	assert.Equal(t, int64(50), result.ActualFee)
	assert.Equal(t, int64(450), result.User.Balance)

	var ticket domain.RadiusTicket
	require.NoError(t, db.First(&ticket).Error)
	assert.Equal(t, domain.TicketStop, ticket.TicketType)
	assert.Equal(t, 1, ticket.IsDeduct)
	assert.Equal(t, int64(50), ticket.AcctFee)
	assert.Equal(t, 1800, ticket.BillTimes)
}

func TestDuplicateInterimChargesOnce(t *testing.T) {
	store, db := setup(t, &domain.RadiusUser{Balance: 500, Status: domain.UserStatusNormal})
	engine := NewEngine(store, store.Sessions(), nil)
	product := &domain.RadiusProduct{Policy: domain.PolicyPrepaidTime, FeePrice: 100}
	ctx := context.Background()

	stale := online(t, store)
	first, err := engine.Settle(ctx, &Request{Online: stale, Product: product, SessionTime: 1800})
	require.NoError(t, err)
	require.True(t, first.Applied)

	// a replay processed from the same snapshot loses the checkpoint race
	replay, err := engine.Settle(ctx, &Request{Online: stale, Product: product, SessionTime: 1800})
	require.NoError(t, err)
	assert.False(t, replay.Applied)

	// a replay read after the first settlement has nothing to bill
	again, err := engine.Settle(ctx, &Request{Online: online(t, store), Product: product, SessionTime: 1800})
	require.NoError(t, err)
	assert.Nil(t, again)

	var user domain.RadiusUser
	require.NoError(t, db.First(&user, 1).Error)
	assert.Equal(t, int64(450), user.Balance)

	var count int64
	require.NoError(t, db.Model(&domain.RadiusTicket{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestStopRetriesAfterLostRace(t *testing.T) {
	store, _ := setup(t, &domain.RadiusUser{Balance: 500, Status: domain.UserStatusNormal})
	engine := NewEngine(store, store.Sessions(), nil)
	product := &domain.RadiusProduct{Policy: domain.PolicyPrepaidTime, FeePrice: 3600}
	ctx := context.Background()

	stale := online(t, store)
	_, err := engine.Settle(ctx, &Request{Online: stale, Product: product, SessionTime: 60})
	require.NoError(t, err)

	result, err := engine.Settle(ctx, &Request{
		Online: stale, Product: product, SessionTime: 100,
		Ticket: NewTicket(domain.TicketStop, stale, product),
	})
	require.NoError(t, err)
	require.True(t, result.Applied)
	assert.Equal(t, int64(40), result.ActualFee)
	assert.Equal(t, int64(400), result.User.Balance)
}

func TestExhaustedDisconnects(t *testing.T) {
	store, _ := setup(t, &domain.RadiusUser{TimeLength: 100, Status: domain.UserStatusNormal})
	dis := &mockDisconnector{}
	dis.On("Disconnect", "s1").Return(nil).Once()
	engine := NewEngine(store, store.Sessions(), dis)
	product := &domain.RadiusProduct{Policy: domain.PolicyBuyoutTime}

	result, err := engine.Settle(context.Background(), &Request{
		Online: online(t, store), Product: product, SessionTime: 150, DisconnectOnExhaust: true,
	})
	require.NoError(t, err)
	require.True(t, result.Applied)
	assert.Equal(t, int64(0), result.User.TimeLength)
	dis.AssertExpectations(t)
}
