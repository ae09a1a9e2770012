package strategy

import "sync"

type StateMachine struct {
	mu    sync.Mutex
	State State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{State: StateActive}
}

func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = nextState(s.State, event)
	return s.State
}

func (s *StateMachine) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

// SetState restores a state recovered from persisted flags.
func (s *StateMachine) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State == StateSafeMode {
		return
	}
	s.State = state
}

// SAFE_MODE is terminal; only a process restart leaves it.
func nextState(current State, event Event) State {
	if current == StateSafeMode {
		return current
	}
	if event == EventPanic {
		return StateSafeMode
	}
	switch current {
	case StateActive:
		switch event {
		case EventProfitSecured:
			return StateStandby
		case EventCircuitBreak:
			return StateCircuitBroken
		}
	case StateStandby:
		switch event {
		case EventPullback:
			return StateActive
		case EventCircuitBreak:
			return StateCircuitBroken
		}
	case StateCircuitBroken:
		if event == EventBreakerReset {
			return StateActive
		}
	}
	return current
}
