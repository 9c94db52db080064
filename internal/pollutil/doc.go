// Package pollutil implements the arena's timed poll loops.
//
// The submission orchestrator (spec.md §4.6) repeatedly fetches job metadata
// on a fixed interval until it observes a terminal state or a deadline
// elapses — once every 250ms up to 120s for compiles, once every 100ms up to
// 30s per test-case execute. Until packages this as a single call, following
// the teacher's config-with-defaults idiom (a struct of tunables with
// documented defaults, validated eagerly, panicking on nil required
// arguments) rather than a hand-rolled for-loop with time.Sleep at each call
// site.
package pollutil
