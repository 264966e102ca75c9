package queue

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		action  Action
		from    State
		allowed bool
	}{
		{ActionCall, StateWaiting, true},
		{ActionCall, StateSkipped, true},
		{ActionCall, StateCalled, true},
		{ActionCall, StateServing, false},
		{ActionCall, StateCompleted, false},
		{ActionCall, StateCancelled, false},

		{ActionStartServing, StateCalled, true},
		{ActionStartServing, StateWaiting, false},
		{ActionStartServing, StateSkipped, false},

		{ActionSkip, StateCalled, true},
		{ActionSkip, StateWaiting, false},
		{ActionSkip, StateServing, false},

		{ActionComplete, StateServing, true},
		{ActionComplete, StateCalled, false},
		{ActionComplete, StateCompleted, false},

		{ActionCancel, StateWaiting, true},
		{ActionCancel, StateCalled, true},
		{ActionCancel, StateSkipped, true},
		{ActionCancel, StateServing, false},
		{ActionCancel, StateCompleted, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.action, tc.from); got != tc.allowed {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.action, tc.from, got, tc.allowed)
		}
	}
}

func TestTargetState(t *testing.T) {
	cases := map[Action]State{
		ActionCall:         StateCalled,
		ActionStartServing: StateServing,
		ActionSkip:         StateSkipped,
		ActionComplete:     StateCompleted,
		ActionCancel:       StateCancelled,
	}
	for action, want := range cases {
		if got := TargetState(action); got != want {
			t.Errorf("TargetState(%s) = %s, want %s", action, got, want)
		}
	}
}

func TestCallTypeFor(t *testing.T) {
	if got := CallTypeFor(StateWaiting); got != CallNormal {
		t.Errorf("call from waiting should be normal, got %s", got)
	}
	if got := CallTypeFor(StateSkipped); got != CallRecall {
		t.Errorf("call from skipped should be recall, got %s", got)
	}
	if got := CallTypeFor(StateCalled); got != CallRecall {
		t.Errorf("repeated call should be recall, got %s", got)
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []State{StateCompleted, StateCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StateWaiting, StateCalled, StateServing, StateSkipped} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
