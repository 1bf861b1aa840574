package id

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Generator hands out random UUIDs.
type Generator struct{}

func (Generator) NewID() string { return uuid.NewString() }

func New() string { return uuid.NewString() }

// FormatNumber renders an order number as YYYYMMDD-NNNNNN.
func FormatNumber(at time.Time, seq int64) string {
	return fmt.Sprintf("%s-%06d", at.UTC().Format("20060102"), seq)
}

// DailyNumbers is an in-process order number sequence that restarts every UTC day.
type DailyNumbers struct {
	mu  sync.Mutex
	day string
	seq int64
}

func NewDailyNumbers() *DailyNumbers { return &DailyNumbers{} }

func (d *DailyNumbers) Next(ctx context.Context, at time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	day := at.UTC().Format("20060102")

	d.mu.Lock()
	defer d.mu.Unlock()
	if day != d.day {
		d.day, d.seq = day, 0
	}
	d.seq++
	return FormatNumber(at, d.seq), nil
}
