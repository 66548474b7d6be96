package models

// transitions lists the states each target status may be entered from.
// pending and auto are assigned at creation only.
var transitions = map[VerificationStatus][]VerificationStatus{
	VerificationStatusManual: {
		VerificationStatusPending,
		VerificationStatusAuto,
		VerificationStatusManual,
		VerificationStatusRejected,
	},
	VerificationStatusRejected: {
		VerificationStatusPending,
		VerificationStatusAuto,
		VerificationStatusManual,
	},
}

// AllowedFrom returns the states from which a mapping may move to status.
func AllowedFrom(status VerificationStatus) []VerificationStatus {
	return transitions[status]
}

func CanTransition(from, to VerificationStatus) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}
