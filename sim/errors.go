package sim

import "errors"

var (
	// ErrNoApplicableParameters signals that propose exhausted its attempt
	// budget without finding parameters that are valid under the current
	// snapshot. The step is skipped; this is not a failure.
	ErrNoApplicableParameters = errors.New("sim: no applicable parameters under current state")
	// ErrExecutionRejected signals that the SUT refused an operation whose
	// parameters propose considered valid. Every modeled action expects
	// success, so a rejection fails the step.
	ErrExecutionRejected = errors.New("sim: execution rejected by system under test")
	// ErrSnapshotUnavailable signals that the snapshot provider could not
	// produce a consistent read. Fatal to the run; no partial verification
	// is attempted.
	ErrSnapshotUnavailable = errors.New("sim: snapshot unavailable")
)
