package enums

// TerminalState tracks the identity service's registration progress.
type TerminalState string

const (
	TerminalStateUnregistered TerminalState = "unregistered"
	TerminalStateRegistering  TerminalState = "registering"
	TerminalStateRegistered   TerminalState = "registered"
)

var validTerminalStates = []TerminalState{
	TerminalStateUnregistered,
	TerminalStateRegistering,
	TerminalStateRegistered,
}

// IsValid reports whether the value matches the canonical terminal state enum.
func (t TerminalState) IsValid() bool {
	for _, candidate := range validTerminalStates {
		if candidate == t {
			return true
		}
	}
	return false
}
