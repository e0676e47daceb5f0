package blocking

import (
	"context"
	"time"
)

// Poll implements the embedded-mode fallback for suspension points (spec §4.G "Scheduling
// model": "In embedded mode, blocking commands poll the store at a configurable interval until
// data, timeout, or cancellation"). try is called immediately, then again every interval, until
// it reports ok, the deadline (zero means never) passes, or ctx is cancelled.
func Poll(ctx context.Context, interval time.Duration, deadline time.Time, try func() (ok bool, err error)) (bool, error) {
	ok, err := try()
	if ok || err != nil {
		return ok, err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var timeoutC <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeoutC = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timeoutC:
			return false, nil
		case <-ticker.C:
			ok, err := try()
			if ok || err != nil {
				return ok, err
			}
		}
	}
}
