package ingest

import (
	"math/rand/v2"
	"time"
)

// Backoff returns a wait duration for fetch attempt n (0-indexed) with
// jitter to avoid hammering a struggling site on a fixed cadence.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base)/2 + 1))
	return base + jitter
}
