// Package orchestration drives the lifecycle of one live strategy session
// (analyze, start, poll, stop) and the batch simulation flow that reuses the
// analyze step.
package orchestration

// State is the lifecycle state of a live session.
type State string

// Session states.
const (
	StateIdle      State = "idle"
	StateAnalyzing State = "analyzing"
	StateAnalyzed  State = "analyzed"
	StateStarting  State = "starting"
	StateRunning   State = "running"
	StateStopping  State = "stopping"
	StateError     State = "error"
)

// event is an input to the transition function.
type event string

const (
	evAnalyze     event = "analyze"
	evAnalyzed    event = "analyzed"
	evStart       event = "start"
	evStarted     event = "started"
	evFail        event = "fail"
	evFinished    event = "finished"
	evStop        event = "stop"
	evStopped     event = "stopped"
	evStopFailed  event = "stop-failed"
	evAcknowledge event = "acknowledge"
)

var transitions = map[State]map[event]State{
	StateIdle: {
		evAnalyze: StateAnalyzing,
	},
	StateAnalyzing: {
		evAnalyzed: StateAnalyzed,
		evFail:     StateError,
	},
	StateAnalyzed: {
		evAnalyze: StateAnalyzing,
		evStart:   StateStarting,
	},
	StateStarting: {
		evStarted: StateRunning,
		evFail:    StateError,
	},
	StateRunning: {
		evFinished: StateIdle,
		evFail:     StateError,
		evStop:     StateStopping,
	},
	StateStopping: {
		evStopped:    StateIdle,
		evStopFailed: StateRunning,
	},
	StateError: {
		evAcknowledge: StateIdle,
	},
}

// next is the single transition function of the session.
func next(from State, ev event) (State, bool) {
	to, ok := transitions[from][ev]
	return to, ok
}

// Busy reports whether the state holds a request in flight or a live session.
func (s State) Busy() bool {
	switch s {
	case StateAnalyzing, StateStarting, StateRunning, StateStopping:
		return true
	default:
		return false
	}
}
