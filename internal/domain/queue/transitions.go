package queue

// Action is a staff operation that moves a ticket through its lifecycle.
type Action string

const (
	ActionCall         Action = "call"
	ActionStartServing Action = "start_serving"
	ActionSkip         Action = "skip"
	ActionComplete     Action = "complete"
	ActionCancel       Action = "cancel"
)

// transitionMap lists the states an action may be applied from. A call from
// skipped (or a repeat call while already called) is recorded as a recall.
var transitionMap = map[Action][]State{
	ActionCall:         {StateWaiting, StateSkipped, StateCalled},
	ActionStartServing: {StateCalled},
	ActionSkip:         {StateCalled},
	ActionComplete:     {StateServing},
	ActionCancel:       {StateWaiting, StateCalled, StateSkipped},
}

// targetState maps each action to the state it produces.
var targetState = map[Action]State{
	ActionCall:         StateCalled,
	ActionStartServing: StateServing,
	ActionSkip:         StateSkipped,
	ActionComplete:     StateCompleted,
	ActionCancel:       StateCancelled,
}

// AllowedStates returns the states from which action may be applied.
func AllowedStates(action Action) []State {
	return transitionMap[action]
}

// CanTransition reports whether action is legal from the given state.
func CanTransition(action Action, from State) bool {
	for _, s := range transitionMap[action] {
		if s == from {
			return true
		}
	}
	return false
}

// TargetState returns the state the action produces.
func TargetState(action Action) State {
	return targetState[action]
}

// CallTypeFor classifies a call applied from the given state. The first call
// of a waiting ticket is normal; calling a skipped or already-called ticket
// is a recall.
func CallTypeFor(from State) CallType {
	if from == StateWaiting {
		return CallNormal
	}
	return CallRecall
}
