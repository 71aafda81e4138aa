package executor

import (
	"context"
	"sync"
	"time"

	"github.com/masoud-msk/dev-stack/internal/performance/rate"
)

// drive starts one iteration at every offset of the schedule, each on a VU
// taken from the pool. When the pool is exhausted the start is dropped: it
// is counted and never retried, so the driver itself never blocks on VUs.
// drive returns once the schedule ends and every started iteration is done.
func (b *base) drive(regularCtx, maxCtx context.Context, arrivals rate.Arrivals, tagsAt func(time.Duration) map[string]string) {
	var wg sync.WaitGroup
	defer wg.Wait()

	start := b.started()
	for {
		offset, ok := arrivals.Next()
		if !ok {
			return
		}
		if !sleepUntil(regularCtx, start.Add(offset)) {
			return
		}

		var tags map[string]string
		if tagsAt != nil {
			tags = tagsAt(offset)
		}

		vu, ok := b.pool.TryAcquire()
		if !ok {
			b.drop(tags)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer b.pool.Release(vu)
			b.runSingle(maxCtx, vu, tags)
		}()
	}
}
