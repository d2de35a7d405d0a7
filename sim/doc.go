// Package sim contains the action lifecycle contract and the snapshot-diff
// verification engine for the StableBase invariant harness. Every simulated
// step runs propose → apply → verify: propose draws operation parameters that
// are valid under the current state snapshot, apply submits the operation to
// the system under test, and verify re-derives the expected post-state from
// the before/after snapshot pair and fails the step on any deviation.
//
// The package holds no scheduling logic. The runner that picks actors and
// actions lives in sim/runner and talks to this package through plain data:
// snapshots in, verdicts out.
package sim
