package auth

// State is the explicit session state of a Service.
type State int

const (
	StateLoggedOut State = iota
	StateValid
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateRefreshing:
		return "refreshing"
	default:
		return "logged_out"
	}
}
