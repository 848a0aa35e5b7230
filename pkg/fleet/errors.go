package fleet

import "errors"

// Sentinel errors for the spawn and lifecycle paths. Callers match them with
// errors.Is; the wrapped message carries the member/port context.
var (
	// ErrExecutableNotFound indicates the configured binary does not exist.
	// This is a deployment problem and aborts construction.
	ErrExecutableNotFound = errors.New("executable not found")

	// ErrSpawnFailed indicates the OS (or container runtime) refused to
	// create the process.
	ErrSpawnFailed = errors.New("failed to spawn process")

	// ErrStartupTimeout indicates a freshly spawned process never accepted
	// connections within the readiness deadline.
	ErrStartupTimeout = errors.New("timed out waiting for process startup")

	// ErrClientConstruction indicates the gRPC client for a member could not
	// be constructed. The member itself stays usable.
	ErrClientConstruction = errors.New("failed to construct client")

	// ErrIndexOutOfRange indicates a Stop/Start call named a member index
	// outside the cluster.
	ErrIndexOutOfRange = errors.New("member index out of range")
)
