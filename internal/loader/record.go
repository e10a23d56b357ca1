// ABOUTME: Extension records and their lifecycle states
// ABOUTME: Records are owned by the Loader; callers only ever see copies

package loader

// State is the lifecycle state of a discovered bundle.
type State int

const (
	StateDiscovered State = iota
	StateInitializing
	StateActive
	StateFailed
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Record describes one discovered bundle.
type Record struct {
	ID       string
	Name     string
	Path     string
	Manifest *Manifest
	State    State
	Err      error

	// Digest is the hex blake2b-256 of the bundle contents.
	Digest     string
	ReadmeHTML string

	// Set for bundles that got as far as initialization.
	Host      *Host
	Extension Extension
}
