package stores

import "fmt"

type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReadyFromCache
	StateReadyFromRemote
	StateErrorRetrying
	StateErrorExhausted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReadyFromCache:
		return "ready_from_cache"
	case StateReadyFromRemote:
		return "ready_from_remote"
	case StateErrorRetrying:
		return "error_retrying"
	case StateErrorExhausted:
		return "error_exhausted"
	default:
		return "invalid_state"
	}
}

// Ready reports whether the store has data to serve.
func (s State) Ready() bool {
	return s == StateReadyFromCache || s == StateReadyFromRemote
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s State) validateTransitionTo(newState State) error {
	if s == newState {
		return nil
	}
	switch s {
	case StateUninitialized:
		switch newState {
		case StateLoading, StateReadyFromCache:
			return nil
		}
	case StateLoading:
		switch newState {
		case StateReadyFromRemote, StateErrorRetrying, StateErrorExhausted:
			return nil
		}
	case StateReadyFromCache:
		// a cached store keeps serving while it loads, so it never goes back to Loading
		if newState == StateReadyFromRemote {
			return nil
		}
	case StateErrorRetrying:
		switch newState {
		case StateLoading, StateReadyFromRemote, StateErrorExhausted:
			return nil
		}
	case StateErrorExhausted:
		switch newState {
		case StateLoading, StateReadyFromRemote, StateErrorRetrying:
			return nil
		}
	}

	return fmt.Errorf("invalid state transition from %v to %v", s, newState)
}
