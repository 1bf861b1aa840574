package id

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyNumbers_RestartsPerDay(t *testing.T) {
	d := NewDailyNumbers()
	day1 := time.Date(2026, 10, 17, 23, 59, 0, 0, time.UTC)

	n, err := d.Next(context.Background(), day1)
	require.NoError(t, err)
	assert.Equal(t, "20261017-000001", n)

	n, _ = d.Next(context.Background(), day1)
	assert.Equal(t, "20261017-000002", n)

	n, _ = d.Next(context.Background(), day1.Add(2*time.Minute))
	assert.Equal(t, "20261018-000001", n)
}

func TestGenerator_Unique(t *testing.T) {
	g := Generator{}
	assert.NotEqual(t, g.NewID(), g.NewID())
}
