package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// IdempotencyKey derives a deterministic key from the request attributes and
// a rotating time bucket. Retries inside one bucket collapse into the
// original intent; a deliberate retry after the window becomes a new attempt.
func IdempotencyKey(consumerAccount int, purpose string, amountCents int64, now time.Time, window time.Duration) string {
	if window <= 0 {
		window = 10 * time.Second
	}

	bucket := now.Unix() / int64(window.Seconds())
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%d|%d", consumerAccount, purpose, amountCents, bucket)))
	return hex.EncodeToString(sum[:])
}
