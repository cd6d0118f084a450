package crm

import (
	"context"
	"math/rand/v2"
	"time"
)

// DefaultMaxAttempts bounds tries per endpoint generation.
const DefaultMaxAttempts = 2

// Directory reads are interactive, so the schedule stays short. The last
// step repeats for later attempts.
var retrySchedule = [...]time.Duration{250 * time.Millisecond, time.Second, 3 * time.Second}

const jitterFraction = 0.2

// NextRetryDelay is the pause after failed attempt n (0-based), spread
// by up to 20% either way.
func NextRetryDelay(n int) time.Duration {
	n = min(max(n, 0), len(retrySchedule)-1)
	return jitter(retrySchedule[n], jitterFraction)
}

func jitter(d time.Duration, frac float64) time.Duration {
	spread := (rand.Float64()*2 - 1) * frac
	return d + time.Duration(float64(d)*spread)
}

// sleepCtx returns ctx.Err() if ctx ends before d elapses.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
