package domain

import (
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pay "github.com/ridloal/vg-checkout/internal/payment/domain"
)

func TestComputeTotals(t *testing.T) {
	t.Run("Rounds once at the end", func(t *testing.T) {
		got := ComputeTotals([]OrderItem{{UnitPrice: decimal.RequireFromString("25.99"), Quantity: 2}})
		assert.Equal(t, "51.98", got.Subtotal.StringFixed(2))
		assert.Equal(t, "4.16", got.Tax.StringFixed(2))
		assert.True(t, got.Shipping.IsZero())
		assert.True(t, got.Discount.IsZero())
		assert.Equal(t, "56.14", got.Total.StringFixed(2))
	})

	t.Run("Several lines", func(t *testing.T) {
		got := ComputeTotals([]OrderItem{
			{UnitPrice: decimal.RequireFromString("0.99"), Quantity: 3},
			{UnitPrice: decimal.RequireFromString("10.00"), Quantity: 1},
		})
		assert.Equal(t, "12.97", got.Subtotal.StringFixed(2))
		assert.Equal(t, "1.04", got.Tax.StringFixed(2))
		assert.Equal(t, "14.01", got.Total.StringFixed(2))
	})
}

func TestPurchaseRequest_ItemSource(t *testing.T) {
	assert.ErrorIs(t, PurchaseRequest{}.ItemSource(), ErrNoItemSource)
	assert.EqualError(t, PurchaseRequest{}.ItemSource(), "Either cartId or items must be provided")
	assert.ErrorIs(t, PurchaseRequest{CartID: "c", Items: []PurchaseItem{{ProductID: "p", Quantity: 1}}}.ItemSource(), ErrBothItemSource)
	assert.NoError(t, PurchaseRequest{CartID: "c"}.ItemSource())
	assert.NoError(t, PurchaseRequest{Items: []PurchaseItem{{ProductID: "p", Quantity: 1}}}.ItemSource())
}

func TestPaymentDetails_ValueScan(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	in := PaymentDetails{Gateway: "stripe", IntentID: "pi_1", ConfirmedVia: ConfirmedViaWebhook, ConfirmedAt: &now}
	v, err := in.Value()
	require.NoError(t, err)

	var out PaymentDetails
	require.NoError(t, out.Scan(v))
	assert.Equal(t, in.IntentID, out.IntentID)
	assert.True(t, now.Equal(*out.ConfirmedAt))

	require.NoError(t, out.Scan(nil))
	assert.Equal(t, PaymentDetails{}, out)
	assert.Error(t, out.Scan(42))
}

func TestOrderStateHelpers(t *testing.T) {
	o := &Order{Status: StatusPending, PaymentStatus: pay.PaymentPending}
	assert.True(t, o.AwaitingPayment())
	assert.True(t, o.CanRetryPayment())

	o.PaymentStatus = pay.PaymentCompleted
	assert.False(t, o.AwaitingPayment())
	assert.False(t, o.CanRetryPayment())

	o.Status, o.PaymentStatus = StatusCancelled, pay.PaymentFailed
	assert.False(t, o.AwaitingPayment())
	assert.True(t, o.CanRetryPayment())

	o.Status = StatusDelivered
	assert.False(t, o.CanRetryPayment())
}

func TestNumberGenerator(t *testing.T) {
	g, err := NewNumberGenerator()
	require.NoError(t, err)
	g.now = func() time.Time { return time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC) }

	format := regexp.MustCompile(`^VG-2026-[A-Z0-9]{6}$`)
	assert.Regexp(t, format, g.Next())

	t.Run("No duplicates under concurrent generation", func(t *testing.T) {
		const workers, perWorker = 16, 5000
		var mu sync.Mutex
		seen := make(map[string]struct{}, workers*perWorker)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				local := make([]string, 0, perWorker)
				for i := 0; i < perWorker; i++ {
					local = append(local, g.Next())
				}
				mu.Lock()
				for _, n := range local {
					seen[n] = struct{}{}
				}
				mu.Unlock()
			}()
		}
		wg.Wait()
		assert.Len(t, seen, workers*perWorker)
	})
}
