// Package protocol is an in-memory reference implementation of the
// StableBase-style collateralized-debt protocol the harness exercises: safes,
// lazily-settled per-unit-collateral accumulators, two ranked doubly-linked
// queues, a stability pool with product-scaled stakes, and the debt and
// governance token ledgers. Amounts are wei-denominated big integers.
//
// The harness treats this engine as opaque. It is wired in through
// protocol.Adapter, which implements the sim.Endpoint and
// sim.SnapshotProvider boundaries.
package protocol
