package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func NewOrderID() string {
	return uuid.NewString()
}

func NewID() string {
	return uuid.NewString()
}

// IdempotencyKey is deterministic in (orderID, amount) so retried creations
// collapse to one provider-side object.
func IdempotencyKey(orderID string, amount int64) string {
	return fmt.Sprintf("order-%s-amount-%d", orderID, amount)
}

// FormatOrderNumber renders an order number for customers and the kitchen.
func FormatOrderNumber(n int64) string {
	return fmt.Sprintf("#%04d", n)
}

// ClaimTime truncates to microseconds so a value read back from the
// database compares equal to the one written.
func ClaimTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
