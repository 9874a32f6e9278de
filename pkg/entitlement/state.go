package entitlement

// State identifies the lifecycle state of a subscription. The zero value
// means the subscription has not been resolved yet. State is internal
// vocabulary; the wire form is StateString.
type State string

const (
	StateCommunity                 State = "community"
	StateTrial                     State = "trial"
	StateTrialExpired              State = "trial_expired"
	StateTrialReactivationEligible State = "trial_reactivation_eligible"
	StateVerificationRequired      State = "verification_required"
	StatePaid                      State = "paid"
)

// StateString is the stable serialization-safe projection of a State,
// used where the enum itself must not leak (telemetry, URLs).
type StateString string

const (
	StateStringFree                      StateString = "free"
	StateStringTrial                     StateString = "trial"
	StateStringTrialExpired              StateString = "trial-expired"
	StateStringTrialReactivationEligible StateString = "trial-reactivation-eligible"
	StateStringVerification              StateString = "verification"
	StateStringPaid                      StateString = "paid"
	StateStringUnknown                   StateString = "unknown"
)

var wireStrings = map[State]StateString{
	StateCommunity:                 StateStringFree,
	StateTrial:                     StateStringTrial,
	StateTrialExpired:              StateStringTrialExpired,
	StateTrialReactivationEligible: StateStringTrialReactivationEligible,
	StateVerificationRequired:      StateStringVerification,
	StatePaid:                      StateStringPaid,
}

// WireString returns the serialization-safe string for a state. Unknown
// or unresolved states map to "unknown"; the projection is one-directional
// and total.
func (s State) WireString() StateString {
	if w, ok := wireStrings[s]; ok {
		return w
	}
	return StateStringUnknown
}

// IsTrialOrPaid reports whether the state represents more than a bare
// community account: an active, expired, or reactivatable trial, or a
// paid plan.
func (s State) IsTrialOrPaid() bool {
	switch s {
	case StateTrial, StateTrialExpired, StateTrialReactivationEligible, StatePaid:
		return true
	default:
		return false
	}
}

// ParseStateString maps a wire string back to its State. ok is false for
// strings outside the fixed vocabulary, "unknown" included.
func ParseStateString(s StateString) (State, bool) {
	for state, wire := range wireStrings {
		if wire == s {
			return state, true
		}
	}
	return "", false
}

// States returns every lifecycle state in precedence-table order.
func States() []State {
	return []State{
		StateVerificationRequired,
		StateTrialExpired,
		StateTrialReactivationEligible,
		StateTrial,
		StatePaid,
		StateCommunity,
	}
}

// StateInfo is one row of the state table listing.
type StateInfo struct {
	State       State       `json:"state"`
	Wire        StateString `json:"wire"`
	TrialOrPaid bool        `json:"trialOrPaid"`
}

// StateTable returns metadata for every lifecycle state, in precedence order.
func StateTable() []StateInfo {
	states := States()
	table := make([]StateInfo, 0, len(states))
	for _, s := range states {
		table = append(table, StateInfo{
			State:       s,
			Wire:        s.WireString(),
			TrialOrPaid: s.IsTrialOrPaid(),
		})
	}
	return table
}
