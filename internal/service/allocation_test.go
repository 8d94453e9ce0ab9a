package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"autodelivery-api/internal/events"
	"autodelivery-api/internal/metrics"
	"autodelivery-api/internal/model"
	"autodelivery-api/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyRepo fails the first n claims with err before delegating.
type flakyRepo struct {
	repository.FulfillmentRepository
	failures int32
	err      error
	calls    int32
}

func (r *flakyRepo) Claim(ctx context.Context, req model.ClaimRequest, guide string) (*repository.ClaimedItem, error) {
	n := atomic.AddInt32(&r.calls, 1)
	if n <= r.failures {
		return nil, r.err
	}
	return r.FulfillmentRepository.Claim(ctx, req, guide)
}

func newEngineWithRepo(f *fixture, repo repository.FulfillmentRepository, maxAttempts int) *AllocationEngine {
	return NewAllocationEngine(repo, nil, f.stock, f.publisher, f.metrics,
		EngineConfig{MaxAttempts: maxAttempts, RetryBaseDelay: time.Millisecond}, zap.NewNop())
}

func TestClaim_DeliversInDisplayOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	items := f.seedAccounts(t, "prod-1", 3)

	for i := 0; i < 3; i++ {
		res, err := f.engine.Claim(ctx, accountClaim(fmt.Sprintf("order-%d", i), "buyer-1", "prod-1"))
		require.NoError(t, err)
		require.Equal(t, model.ClaimStatusDelivered, res.Status)
		assert.Equal(t, items[i].ID, res.Delivery.PoolItemID)
		assert.Equal(t, fmt.Sprintf("user%d@example.com", i), res.Delivery.DeliveredData.Email)
	}
	f.engine.Wait()
}

func TestClaim_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedAccounts(t, "prod-1", 2)

	first, err := f.engine.Claim(ctx, accountClaim("order-1", "buyer-1", "prod-1"))
	require.NoError(t, err)
	second, err := f.engine.Claim(ctx, accountClaim("order-1", "buyer-1", "prod-1"))
	require.NoError(t, err)
	f.engine.Wait()

	assert.Equal(t, first.Delivery.ID, second.Delivery.ID)
	assert.Equal(t, first.Delivery.PoolItemID, second.Delivery.PoolItemID)

	stock, err := f.stock.GetStock(ctx, accountScope("prod-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, stock.Available)
	assert.Equal(t, 1, stock.Assigned)
}

func TestClaim_ConcurrentSameOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedAccounts(t, "prod-1", 5)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.engine.Claim(ctx, accountClaim("order-x", "buyer-1", "prod-1"))
			if assert.NoError(t, err) && assert.NotNil(t, res.Delivery) {
				ids[i] = res.Delivery.ID
			}
		}(i)
	}
	wg.Wait()
	f.engine.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	_, assigned, err := f.repo.CountStock(ctx, accountScope("prod-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, assigned)
}

func TestClaim_NoDoubleAssignmentUnderLoad(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	const stock, buyers = 5, 25
	f.seedAccounts(t, "prod-1", stock)

	var (
		wg        sync.WaitGroup
		delivered int32
		pending   int32
		mu        sync.Mutex
		items     = map[string]bool{}
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.engine.Claim(ctx, accountClaim(fmt.Sprintf("order-%d", i), fmt.Sprintf("buyer-%d", i), "prod-1"))
			if !assert.NoError(t, err) {
				return
			}
			if res.OutOfStock() {
				atomic.AddInt32(&pending, 1)
				return
			}
			atomic.AddInt32(&delivered, 1)
			mu.Lock()
			assert.False(t, items[res.Delivery.PoolItemID], "item delivered twice")
			items[res.Delivery.PoolItemID] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	f.engine.Wait()

	assert.Equal(t, int32(stock), delivered)
	assert.Equal(t, int32(buyers-stock), pending)
}

func TestClaim_OutOfStockIsPendingManual(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.engine.Claim(context.Background(), accountClaim("order-1", "buyer-1", "empty-product"))
	require.NoError(t, err)
	f.engine.Wait()

	assert.True(t, res.OutOfStock())
	assert.Nil(t, res.Delivery)
	assert.ElementsMatch(t, []events.Type{events.TypePendingManual, events.TypeStockOut}, f.publisher.types())
}

func TestClaim_RetriesConflicts(t *testing.T) {
	f := newFixture(t, nil)
	f.seedAccounts(t, "prod-1", 1)

	repo := &flakyRepo{FulfillmentRepository: f.repo, failures: 2, err: model.ErrClaimConflict}
	engine := newEngineWithRepo(f, repo, 5)

	res, err := engine.Claim(context.Background(), accountClaim("order-1", "buyer-1", "prod-1"))
	require.NoError(t, err)
	engine.Wait()

	assert.Equal(t, model.ClaimStatusDelivered, res.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&repo.calls))
}

func TestClaim_ConflictsExhausted(t *testing.T) {
	f := newFixture(t, nil)
	f.seedAccounts(t, "prod-1", 1)

	repo := &flakyRepo{FulfillmentRepository: f.repo, failures: 100, err: model.ErrClaimConflict}
	engine := newEngineWithRepo(f, repo, 3)

	res, err := engine.Claim(context.Background(), accountClaim("order-1", "buyer-1", "prod-1"))
	require.NoError(t, err)
	engine.Wait()

	assert.True(t, res.OutOfStock())
	assert.Equal(t, int32(3), atomic.LoadInt32(&repo.calls))
}

func TestClaim_StorageErrorSurfaces(t *testing.T) {
	f := newFixture(t, nil)
	boom := errors.New("disk on fire")

	repo := &flakyRepo{FulfillmentRepository: f.repo, failures: 1, err: boom}
	engine := newEngineWithRepo(f, repo, 5)

	_, err := engine.Claim(context.Background(), accountClaim("order-1", "buyer-1", "prod-1"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), atomic.LoadInt32(&repo.calls))
}

func TestClaim_Validation(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.engine.Claim(context.Background(), model.ClaimRequest{ItemType: model.ItemTypeAccount})
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Fields, 3)

	_, err = f.engine.Claim(context.Background(), model.ClaimRequest{
		OrderID: "o", BuyerID: "b", ProductID: "p", ItemType: "gift_card",
	})
	assert.True(t, model.IsValidationError(err))
}

func TestClaim_UsesCatalog(t *testing.T) {
	catalog := &fakeCatalog{products: map[string]*model.ProductInfo{
		"prod-1":   {ProductID: "prod-1", SellerID: "seller-1", DeliveryMode: model.DeliveryModeAutoAccount, UsageGuide: "Sign in at example.com"},
		"manual-1": {ProductID: "manual-1", SellerID: "seller-1", DeliveryMode: model.DeliveryModeManual},
	}}
	f := newFixture(t, catalog)
	ctx := context.Background()
	f.seedAccounts(t, "prod-1", 2)
	f.seedAccounts(t, "manual-1", 1)

	t.Run("usage guide copied into record", func(t *testing.T) {
		res, err := f.engine.Claim(ctx, accountClaim("order-1", "buyer-1", "prod-1"))
		require.NoError(t, err)
		assert.Equal(t, "Sign in at example.com", res.Delivery.UsageGuide)
	})

	t.Run("manual products never draw from the pool", func(t *testing.T) {
		res, err := f.engine.Claim(ctx, accountClaim("order-2", "buyer-1", "manual-1"))
		require.NoError(t, err)
		assert.True(t, res.OutOfStock())

		available, _, err := f.repo.CountStock(ctx, accountScope("manual-1"))
		require.NoError(t, err)
		assert.Equal(t, 1, available)
	})

	t.Run("item type mismatch goes to manual fulfillment", func(t *testing.T) {
		before, _, err := f.repo.CountStock(ctx, accountScope("prod-1"))
		require.NoError(t, err)

		res, err := f.engine.Claim(ctx, model.ClaimRequest{
			OrderID: "order-3", BuyerID: "buyer-1", ProductID: "prod-1", ItemType: model.ItemTypeLicenseKey,
		})
		require.NoError(t, err)
		assert.Equal(t, model.ClaimStatusPendingManual, res.Status)
		assert.Nil(t, res.Delivery)

		after, _, err := f.repo.CountStock(ctx, accountScope("prod-1"))
		require.NoError(t, err)
		assert.Equal(t, before, after)

		_, err = f.repo.GetDeliveryByOrder(ctx, "order-3")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
	f.engine.Wait()
}

func TestClaim_CatalogOutageIgnored(t *testing.T) {
	f := newFixture(t, nil)
	f.seedAccounts(t, "prod-1", 1)

	engine := NewAllocationEngine(f.repo, &fakeCatalog{err: errors.New("mysql down")}, f.stock, f.publisher,
		metrics.New(), EngineConfig{}, zap.NewNop())

	res, err := engine.Claim(context.Background(), accountClaim("order-1", "buyer-1", "prod-1"))
	require.NoError(t, err)
	engine.Wait()
	assert.Equal(t, model.ClaimStatusDelivered, res.Status)
	assert.Empty(t, res.Delivery.UsageGuide)
}

func TestClaim_LowStockAlertOnCrossing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedAccounts(t, "prod-1", 7)

	// 7 -> 6: no alert. 6 -> 5: low.
	for i := 0; i < 2; i++ {
		_, err := f.engine.Claim(ctx, accountClaim(fmt.Sprintf("order-%d", i), "buyer-1", "prod-1"))
		require.NoError(t, err)
		f.engine.Wait()
	}
	assert.Equal(t, []events.Type{events.TypeItemDelivered, events.TypeItemDelivered, events.TypeStockLow}, f.publisher.types())

	// 5 -> 4: no new alert.
	_, err := f.engine.Claim(ctx, accountClaim("order-2", "buyer-1", "prod-1"))
	require.NoError(t, err)
	f.engine.Wait()
	assert.Len(t, f.publisher.types(), 4)
}

func TestClaim_ConcurrentClaimsAlertOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	const stock = 7
	f.seedAccounts(t, "prod-1", stock)

	var wg sync.WaitGroup
	for i := 0; i < stock; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.engine.Claim(ctx, accountClaim(fmt.Sprintf("order-%d", i), fmt.Sprintf("buyer-%d", i), "prod-1"))
			if assert.NoError(t, err) {
				assert.Equal(t, model.ClaimStatusDelivered, res.Status)
			}
		}(i)
	}
	wg.Wait()
	f.engine.Wait()

	counts := map[events.Type]int{}
	for _, typ := range f.publisher.types() {
		counts[typ]++
	}
	assert.Equal(t, stock, counts[events.TypeItemDelivered])
	assert.Equal(t, 1, counts[events.TypeStockLow])
	assert.Equal(t, 1, counts[events.TypeStockOut])
}

func TestClaim_PublishFailureDoesNotAffectResult(t *testing.T) {
	f := newFixture(t, nil)
	f.seedAccounts(t, "prod-1", 1)
	f.publisher.err = errors.New("broker down")

	res, err := f.engine.Claim(context.Background(), accountClaim("order-1", "buyer-1", "prod-1"))
	require.NoError(t, err)
	f.engine.Wait()
	assert.Equal(t, model.ClaimStatusDelivered, res.Status)
}
