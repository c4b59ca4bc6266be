package aeat111

// Action is a lifecycle operation on reports.
type Action string

const (
	ActionCalculate Action = "calculate"
	ActionProcess   Action = "process"
	ActionDraft     Action = "draft"
	ActionCancel    Action = "cancel"
)

// Actions lists every lifecycle operation.
var Actions = []Action{ActionCalculate, ActionProcess, ActionDraft, ActionCancel}

// Target returns the state an action moves a report to.
func (a Action) Target() State {
	switch a {
	case ActionCalculate:
		return StateCalculated
	case ActionProcess:
		return StateDone
	case ActionDraft:
		return StateDraft
	case ActionCancel:
		return StateCancelled
	}
	return ""
}

// Valid reports whether a names a known action.
func (a Action) Valid() bool {
	return a.Target() != ""
}

var transitions = map[State][]State{
	StateDraft:      {StateCalculated, StateCancelled},
	StateCalculated: {StateDraft, StateDone, StateCancelled},
	StateDone:       {StateCancelled},
	StateCancelled:  {StateDraft},
}

// CanTransition reports whether a report may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Deletable reports whether a report in state s may be removed.
func Deletable(s State) bool {
	return s == StateDraft || s == StateCancelled
}
