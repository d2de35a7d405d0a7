// Package actions holds the concrete action types of the harness. Each file
// pairs one user-level operation with its full invariant set: parameter
// proposal under the current snapshot, submission to the SUT endpoint, and
// snapshot-diff verification of balance conservation, lazy accumulator
// settlement, ranked-queue membership and proportional reward distribution.
package actions
