// Package parallel provides the data-parallel machinery a parallel-loop
// driver sits on: a cooperative one-dimensional range partitioner
// ([RangeManager]/[RangeWorker]) and the shared loop-state flag words
// ([LoopState32]/[LoopState64]) through which loop iterations communicate
// Stop, Break, Exceptional, and Canceled.
//
// The range manager hands out contiguous subranges of [from, to) across
// workers: each subrange carries a shared atomic offset claimed by
// fetch-and-add, workers round-robin between subranges when their current
// one drains, and each worker's claim size doubles with success (up to a
// fixed ceiling) to amortize contention. Every index that is a multiple of
// step from the range start is handed out exactly once, regardless of worker
// count.
package parallel
