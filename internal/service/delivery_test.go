package service

import (
	"context"
	"testing"

	"autodelivery-api/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func claimOne(t *testing.T, f *fixture, orderID, buyerID string) *model.DeliveredItem {
	t.Helper()
	res, err := f.engine.Claim(context.Background(), accountClaim(orderID, buyerID, "prod-1"))
	require.NoError(t, err)
	require.NotNil(t, res.Delivery)
	f.engine.Wait()
	return res.Delivery
}

func TestDeliveryService_GetMaskedUntilRevealed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedAccounts(t, "prod-1", 1)
	d := claimOne(t, f, "order-1", "buyer-1")

	got, err := f.delivery.Get(ctx, d.ID, "buyer-1")
	require.NoError(t, err)
	assert.False(t, got.IsRevealed)
	assert.Equal(t, "u***@example.com", got.DeliveredData.Email)
	assert.Equal(t, "********", got.DeliveredData.Password)

	revealed, err := f.delivery.Reveal(ctx, d.ID, "buyer-1")
	require.NoError(t, err)
	assert.True(t, revealed.IsRevealed)
	assert.Equal(t, "user0@example.com", revealed.DeliveredData.Email)
	assert.Equal(t, "pass0", revealed.DeliveredData.Password)

	got, err = f.delivery.Get(ctx, d.ID, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, "pass0", got.DeliveredData.Password)
}

func TestDeliveryService_RevealIsMonotonic(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedAccounts(t, "prod-1", 1)
	d := claimOne(t, f, "order-1", "buyer-1")

	first, err := f.delivery.Reveal(ctx, d.ID, "buyer-1")
	require.NoError(t, err)
	second, err := f.delivery.Reveal(ctx, d.ID, "buyer-1")
	require.NoError(t, err)

	assert.True(t, second.IsRevealed)
	require.NotNil(t, first.RevealedAt)
	assert.True(t, first.RevealedAt.Equal(*second.RevealedAt))
	assert.Equal(t, first.DeliveredData, second.DeliveredData)
}

func TestDeliveryService_OtherBuyerForbidden(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedAccounts(t, "prod-1", 1)
	d := claimOne(t, f, "order-1", "buyer-1")

	_, err := f.delivery.Reveal(ctx, d.ID, "buyer-2")
	assert.ErrorIs(t, err, model.ErrForbidden)
	_, err = f.delivery.Get(ctx, d.ID, "buyer-2")
	assert.ErrorIs(t, err, model.ErrForbidden)
	_, err = f.delivery.Reveal(ctx, "missing", "buyer-1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	got, err := f.delivery.Get(ctx, d.ID, "buyer-1")
	require.NoError(t, err)
	assert.False(t, got.IsRevealed)
}

func TestDeliveryService_Lists(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedAccounts(t, "prod-1", 3)
	d1 := claimOne(t, f, "order-1", "buyer-1")
	claimOne(t, f, "order-2", "buyer-1")
	claimOne(t, f, "order-3", "buyer-2")

	_, err := f.delivery.Reveal(ctx, d1.ID, "buyer-1")
	require.NoError(t, err)

	library, err := f.delivery.ListForBuyer(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, library, 2)
	for _, d := range library {
		if d.ID == d1.ID {
			assert.Equal(t, "pass0", d.DeliveredData.Password)
		} else {
			assert.Equal(t, "********", d.DeliveredData.Password)
		}
	}

	audit, err := f.delivery.ListForProduct(ctx, "seller-1", "prod-1")
	require.NoError(t, err)
	require.Len(t, audit, 3)
	revealed := 0
	for _, d := range audit {
		assert.Equal(t, "********", d.DeliveredData.Password)
		if d.IsRevealed {
			revealed++
		}
	}
	assert.Equal(t, 1, revealed)

	_, err = f.delivery.ListForProduct(ctx, "seller-2", "prod-1")
	assert.ErrorIs(t, err, model.ErrForbidden)
}

func TestDeliveryService_EraseBuyer(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedAccounts(t, "prod-1", 2)
	claimOne(t, f, "order-1", "buyer-1")
	claimOne(t, f, "order-2", "buyer-2")

	deleted, err := f.delivery.EraseBuyer(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	library, err := f.delivery.ListForBuyer(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Empty(t, library)

	other, err := f.delivery.ListForBuyer(ctx, "buyer-2")
	require.NoError(t, err)
	assert.Len(t, other, 1)

	_, err = f.delivery.EraseBuyer(ctx, " ")
	assert.True(t, model.IsValidationError(err))
}
