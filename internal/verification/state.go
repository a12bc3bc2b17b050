package verification

// State is the lifecycle state of a verification loop.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateVerified
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateVerified:
		return "verified"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition can leave s.
func (s State) Terminal() bool {
	return s == StateVerified || s == StateError
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
