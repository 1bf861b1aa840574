package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntry_ReserveInsufficientLeavesEntryUntouched(t *testing.T) {
	e := &Entry{ArticleRef: "SOAP-1", Available: 3}

	_, err := e.Apply(Operation{Kind: KindReserve, ArticleRef: "SOAP-1", Quantity: 5})

	var serr *InsufficientStockError
	require.ErrorAs(t, err, &serr)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 3, serr.Available)
	assert.Equal(t, 3, e.Available)
	assert.Equal(t, 0, e.Reserved)
}

func TestEntry_Lifecycle(t *testing.T) {
	e := &Entry{ArticleRef: "SOAP-1"}
	var log []Movement
	apply := func(kind Kind, q int) {
		t.Helper()
		m, err := e.Apply(Operation{Kind: kind, ArticleRef: "SOAP-1", Quantity: q, OrderID: "o1"})
		require.NoError(t, err)
		log = append(log, m)
	}

	apply(KindCredit, 10)
	apply(KindReserve, 4)
	assert.Equal(t, 6, e.Available)
	assert.Equal(t, 4, e.Reserved)

	apply(KindDebit, 3)
	assert.Equal(t, 6, e.Available, "debit leaves available alone")
	assert.Equal(t, 1, e.Reserved)

	apply(KindRelease, 1)
	apply(KindCredit, 3)
	assert.Equal(t, 10, e.Available)
	assert.Equal(t, 0, e.Reserved)

	require.NoError(t, Verify(e, log))
}

func TestEntry_DebitNeedsReservation(t *testing.T) {
	e := &Entry{ArticleRef: "A", Available: 5}
	_, err := e.Apply(Operation{Kind: KindDebit, ArticleRef: "A", Quantity: 1})
	assert.ErrorIs(t, err, ErrInsufficientReserved)

	_, err = e.Apply(Operation{Kind: KindRelease, ArticleRef: "A", Quantity: 1})
	assert.ErrorIs(t, err, ErrInsufficientReserved)

	_, err = e.Apply(Operation{Kind: KindCredit, ArticleRef: "A", Quantity: 0})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestVerify_DetectsDrift(t *testing.T) {
	e := &Entry{ArticleRef: "A"}
	m, err := e.Apply(Operation{Kind: KindCredit, ArticleRef: "A", Quantity: 2})
	require.NoError(t, err)

	e.Available = 7
	var derr *DriftError
	require.ErrorAs(t, Verify(e, []Movement{m}), &derr)
	assert.Equal(t, 2, derr.FoldedAvailable)

	m.ResultingAvailable = 9
	require.ErrorAs(t, Verify(e, []Movement{m}), &derr)
}

func TestOutstanding(t *testing.T) {
	moves := []Movement{
		{OrderID: "o1", ArticleRef: "A", Kind: KindReserve, Quantity: 2},
		{OrderID: "o1", ArticleRef: "B", Kind: KindReserve, Quantity: 1},
		{OrderID: "o1", ArticleRef: "A", Kind: KindDebit, Quantity: 2},
		{OrderID: "o2", ArticleRef: "A", Kind: KindReserve, Quantity: 3},
		{OrderID: "o2", ArticleRef: "A", Kind: KindRelease, Quantity: 3},
		{ArticleRef: "A", Kind: KindCredit, Quantity: 50},
	}

	out := Outstanding(moves)
	assert.Equal(t, map[string]map[string]int{"o1": {"B": 1}}, out)
}
