package backfill

import "time"

// SetClock overrides the coordinator's clock so tests can pin the
// no-watermark lookback boundary to their fixtures.
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }
