// Copyright 2026 Pocketsuite Authors
// SPDX-License-Identifier: Apache-2.0

package localsync

import "time"

// Clock abstracts wall-clock reads so grace windows and snapshot
// freshness can be tested deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the real wall clock.
var SystemClock Clock = systemClock{}
