package build

// State is the orchestrator's position in the build state machine.
type State int32

const (
	StateIdle State = iota
	StateScanning
	StateRendering
	StateComposing
	StateWriting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateRendering:
		return "rendering"
	case StateComposing:
		return "composing"
	case StateWriting:
		return "writing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Building reports whether a build is in progress.
func (s State) Building() bool {
	return s != StateIdle && s != StateFailed
}
