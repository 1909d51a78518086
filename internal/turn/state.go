package turn

// State is the phase of the conversation. Exactly one is current at a time.
type State int

const (
	// Idle waits for the user to start speaking.
	Idle State = iota

	// Recording captures the user's utterance.
	Recording

	// Thinking waits for the reading server to answer.
	Thinking

	// Speaking plays the reply while the mouth moves.
	Speaking
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Thinking:
		return "thinking"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// transitions lists every edge of the state machine. Recording is reachable
// from every state because the user may start speaking at any time; doing so
// cancels playback or supersedes the turn in flight.
var transitions = map[State][]State{
	Idle:      {Recording},
	Recording: {Thinking, Recording, Idle},
	Thinking:  {Speaking, Idle, Recording},
	Speaking:  {Idle, Recording},
}

// ValidTransition reports whether the controller may move from one state to
// another.
func ValidTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
