package hashpool

import "runtime"

// yieldToScheduler is the "coroutine-style wait" spec §9 says is "the
// intent, not the mechanism": on a goroutine-based runtime a direct
// runtime.Gosched reschedule satisfies "no main-thread stall > one
// piece's worth of work" without needing a bounded task queue.
func yieldToScheduler() {
	runtime.Gosched()
}
