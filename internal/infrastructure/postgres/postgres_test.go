package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/catalog"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/money"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/id"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "40001"}))
	assert.False(t, isUniqueViolation(assert.AnError))
}

func TestDistinctRefs(t *testing.T) {
	refs := distinctRefs([]inventory.Operation{{ArticleRef: "b"}, {ArticleRef: "a"}, {ArticleRef: "b"}})
	assert.Equal(t, []string{"a", "b"}, refs)
}

func TestOrderRowRoundTrip(t *testing.T) {
	o := sampleOrder(t)
	o.Payments = []payment.Record{{Provider: "paypal", IntentID: "PP-1", Status: payment.StatusInitiated, Amount: decimal.RequireFromString("24.97")}}

	row, err := encodeOrder(o)
	require.NoError(t, err)
	got, err := decodeOrder(row)
	require.NoError(t, err)

	assert.Equal(t, o.Number, got.Number)
	assert.Equal(t, o.Buyer, got.Buyer)
	assert.Equal(t, o.ShippingAddress, got.ShippingAddress)
	require.Len(t, got.Lines, 1)
	assert.True(t, got.Lines[0].LineTotal.Equal(o.Lines[0].LineTotal))
	assert.True(t, got.Pricing.GrandTotal.Equal(o.Pricing.GrandTotal))
	_, ok := got.PaymentByIntent("PP-1")
	assert.True(t, ok)
	assert.Nil(t, row.Pending, "no debt is stored as NULL")
	assert.Nil(t, got.Pending)

	o.Owe(order.Settlement{Event: order.EventAdminCancelled, Effect: order.EffectCredit, Lines: map[string]int{"SOAP-1": 2}, Refund: true})
	row, err = encodeOrder(o)
	require.NoError(t, err)
	got, err = decodeOrder(row)
	require.NoError(t, err)
	require.NotNil(t, got.Pending)
	assert.Equal(t, order.EffectCredit, got.Pending.Effect)
	assert.Equal(t, map[string]int{"SOAP-1": 2}, got.Pending.Lines)
	assert.True(t, got.Pending.Refund)
}

func sampleOrder(t *testing.T) *order.Order {
	t.Helper()
	line, err := order.NewLine("SOAP-1", order.Snapshot{Name: "Soap"}, 2, decimal.RequireFromString("9.99"))
	require.NoError(t, err)
	pricing, err := money.PriceCart([]money.Line{{UnitPrice: line.UnitPrice, Quantity: line.Quantity}},
		money.FreeShipping(), decimal.RequireFromString("0.19"), true)
	require.NoError(t, err)
	addr := order.Address{Name: "Ada", Street: "Main 1", PostalCode: "10115", City: "Berlin", Country: "DE"}
	o, err := order.New(id.New(), id.FormatNumber(time.Now(), 1), order.Buyer{Name: "Ada", Email: "ada@example.com"},
		addr, order.Address{}, []order.Line{line}, pricing, "test")
	require.NoError(t, err)
	return o
}

// The remaining tests need a database: POSTGRES_TEST_DSN=postgres://... go test ./...
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool))
	return pool
}

func TestOrderRepository_VersionCAS(t *testing.T) {
	pool := testPool(t)
	repo := NewOrderRepository(pool)
	ctx := context.Background()

	o := sampleOrder(t)
	o.Number = "T-" + id.New()
	require.NoError(t, repo.Insert(ctx, o))
	assert.Equal(t, 1, o.Version)
	assert.ErrorIs(t, repo.Insert(ctx, o), order.ErrConflict)

	a, err := repo.Get(ctx, o.ID)
	require.NoError(t, err)
	b, err := repo.Get(ctx, o.ID)
	require.NoError(t, err)

	_, err = a.Apply(order.EventStockReserved, "test", "", time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, a))
	assert.Equal(t, 2, a.Version)

	_, err = b.Apply(order.EventStockReserved, "test", "", time.Now())
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Update(ctx, b), order.ErrConflict)

	a.Owe(order.Settlement{Event: order.EventStockReserved, Effect: order.EffectRelease, Lines: map[string]int{"SOAP-1": 2}})
	require.NoError(t, repo.Update(ctx, a))
	unsettled, err := repo.ListUnsettled(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	var found bool
	for _, u := range unsettled {
		found = found || u.ID == o.ID
	}
	assert.True(t, found)

	_, err = repo.Get(ctx, id.New())
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestStockStore_ApplyAndReplay(t *testing.T) {
	pool := testPool(t)
	store := NewStockStore(pool)
	ctx := context.Background()
	ref := "IT-" + id.New()

	_, err := store.Apply(ctx, inventory.Operation{Kind: inventory.KindReserve, ArticleRef: ref, Quantity: 1})
	assert.ErrorIs(t, err, inventory.ErrNotFound)

	_, err = store.Apply(ctx, inventory.Operation{Kind: inventory.KindCredit, ArticleRef: ref, Quantity: 5, Reason: "restock"})
	require.NoError(t, err)

	op := inventory.Operation{Kind: inventory.KindReserve, ArticleRef: ref, Quantity: 2, OrderID: "o-1", IdempotencyKey: "o-1:reserve:" + ref}
	first, err := store.Apply(ctx, op)
	require.NoError(t, err)
	again, err := store.Apply(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, again[0].ID)

	_, err = store.Apply(ctx, inventory.Operation{Kind: inventory.KindReserve, ArticleRef: ref, Quantity: 4})
	var insufficient *inventory.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 3, insufficient.Available)

	entry, err := store.Entry(ctx, ref)
	require.NoError(t, err)
	movements, err := store.Movements(ctx, ref)
	require.NoError(t, err)
	assert.NoError(t, inventory.Verify(entry, movements))
}

func TestCatalogAndNumbers(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewCatalogRepository(pool)
	ref := "CAT-" + id.New()

	require.NoError(t, repo.Upsert(ctx, catalog.Article{Ref: ref, Name: "Soap", UnitPrice: decimal.RequireFromString("9.99"), Active: true}))
	got, err := repo.Lookup(ctx, ref, "missing")
	require.NoError(t, err)
	require.Contains(t, got, ref)
	assert.True(t, got[ref].UnitPrice.Equal(decimal.RequireFromString("9.99")))
	assert.NotContains(t, got, "missing")

	numbers := NewNumberGenerator(pool)
	at := time.Now()
	n1, err := numbers.Next(ctx, at)
	require.NoError(t, err)
	n2, err := numbers.Next(ctx, at)
	require.NoError(t, err)
	assert.NotEqual(t, n1, n2)
	assert.Equal(t, at.UTC().Format("20060102"), n1[:8])
}
