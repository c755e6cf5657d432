package parallel

import "sync/atomic"

// maxIncrementFactor bounds per-worker claim growth at this multiple of the
// loop step.
const maxIncrementFactor = 16

// rangeData is one contiguous subrange of the loop. The shared offset is
// claimed by fetch-and-add; the finished flag is monotonic.
type rangeData struct {
	from     int64
	to       int64
	offset   atomic.Int64
	finished atomic.Int32
}

func (r *rangeData) size() int64 {
	return r.to - r.from
}

// RangeManager partitions [from, to) into contiguous subranges and seats
// workers across them. Construct with [NewRangeManager]; each participating
// worker obtains its own [RangeWorker] via [RangeManager.RegisterWorker].
type RangeManager struct {
	ranges    []rangeData
	step      int64
	chunk     int64
	nextRange atomic.Int64
}

// NewRangeManager partitions [from, to) with the given step into subranges
// of span/max(expectedWorkers, 2) each, rounded down to a multiple of step
// with a minimum of one step; the last subrange may be shorter. Panics if
// step < 1.
func NewRangeManager(from, to, step int64, expectedWorkers int) *RangeManager {
	if step < 1 {
		panic(`parallel: step must be at least 1`)
	}
	m := &RangeManager{step: step}
	if to <= from {
		return m
	}
	span := to - from
	workers := int64(expectedWorkers)
	if workers < 2 {
		workers = 2
	}
	chunk := span / workers
	chunk -= chunk % step
	if chunk < step {
		chunk = step
	}
	m.chunk = chunk
	n := (span + chunk - 1) / chunk
	m.ranges = make([]rangeData, n)
	for i := int64(0); i < n; i++ {
		lo := from + i*chunk
		hi := lo + chunk
		if hi > to {
			hi = to
		}
		m.ranges[i].from = lo
		m.ranges[i].to = hi
	}
	return m
}

// RegisterWorker seats a new worker at the next subrange in round-robin
// order and returns its per-worker state. Safe to call concurrently.
func (m *RangeManager) RegisterWorker() *RangeWorker {
	w := &RangeWorker{mgr: m, increment: m.step}
	if n := len(m.ranges); n > 0 {
		w.current = int((m.nextRange.Add(1) - 1) % int64(n))
	}
	w.maxIncrement = maxIncrementFactor * m.step
	if m.chunk > 0 && w.maxIncrement > m.chunk {
		w.maxIncrement = m.chunk
	}
	if w.maxIncrement < m.step {
		w.maxIncrement = m.step
	}
	return w
}

// RangeWorker is the state carried by one worker drawing subranges from a
// shared [RangeManager]. It is not safe for concurrent use; each worker owns
// its own instance.
type RangeWorker struct {
	mgr          *RangeManager
	current      int
	increment    int64
	maxIncrement int64
}

// FindNewWork claims the next contiguous interval [lo, hi) for this worker.
// lo is aligned to the loop step; hi is aligned too, except when it equals
// the loop's upper bound, which need not be. It reports false once every
// subrange has been visited with no work found; after that, no further work
// will ever be returned.
//
// The caller executes the interval sequentially (for i := lo; i < hi;
// i += step) and calls FindNewWork again.
func (w *RangeWorker) FindNewWork() (lo, hi int64, ok bool) {
	n := len(w.mgr.ranges)
	if n == 0 {
		return 0, 0, false
	}
	for visited := 0; visited < n; visited++ {
		r := &w.mgr.ranges[w.current]
		if r.finished.Load() == 0 {
			size := r.size()
			old := r.offset.Add(w.increment) - w.increment
			if old < size {
				end := old + w.increment
				if end > size {
					end = size
				}
				// Double the claim size, amortizing later fetch-adds.
				if w.increment < w.maxIncrement {
					w.increment *= 2
					if w.increment > w.maxIncrement {
						w.increment = w.maxIncrement
					}
				}
				return r.from + old, r.from + end, true
			}
			r.finished.Store(1)
		}
		w.current++
		if w.current == n {
			w.current = 0
		}
	}
	return 0, 0, false
}
