package utils

import (
	"time"
)

// Now is the clock used for persisted timestamps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
