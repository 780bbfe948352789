// Package conversation owns the per-conversation answer mode and runs one
// question through agent, extraction, execution, export and delivery.
package conversation

const (
	ActionScalar  = "scalar"
	ActionTabular = "tabular"
)

// Mode selects how the next question in a conversation is answered. It is
// consumed by exactly one question cycle.
type Mode int

const (
	ModeUnset Mode = iota
	ModeScalar
	ModeTabular
)

func (m Mode) String() string {
	switch m {
	case ModeScalar:
		return "scalar"
	case ModeTabular:
		return "tabular"
	default:
		return "unset"
	}
}

// ModeFromAction maps a button action id onto a mode.
func ModeFromAction(actionID string) (Mode, bool) {
	switch actionID {
	case ActionScalar:
		return ModeScalar, true
	case ActionTabular:
		return ModeTabular, true
	default:
		return ModeUnset, false
	}
}

// ParseMode accepts the mode names used by the ops API.
func ParseMode(raw string) (Mode, bool) {
	switch raw {
	case "scalar", "number":
		return ModeScalar, true
	case "tabular", "table":
		return ModeTabular, true
	default:
		return ModeUnset, false
	}
}
