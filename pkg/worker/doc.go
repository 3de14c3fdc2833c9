// Package worker drains hook tables.
//
// A Worker runs claim cycles against one queue's store: it locks a batch of
// due pending rows, tops the batch up with failed rows still under their
// kind's retry limit, dispatches them with bounded concurrency and writes
// each outcome under the cycle's lock token. The Reaper frees locks left
// behind by workers that died mid-cycle.
package worker
