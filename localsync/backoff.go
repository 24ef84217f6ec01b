// Copyright 2026 Pocketsuite Authors
// SPDX-License-Identifier: Apache-2.0

package localsync

import (
	"context"
	"time"
)

// backoffDelay returns min(base * 2^attempt, cap) for attempt >= 0.
func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

// sleepWithContext waits for d or until ctx is done.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
