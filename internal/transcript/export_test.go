// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package transcript

import "time"

// SetClock replaces the archive's time source.
func (a *Archive) SetClock(now func() time.Time) { a.now = now }
