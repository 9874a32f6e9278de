package entitlement

// productPrefix brands every product name. Display strings are
// English-only; localization happens in the host.
const productPrefix = "Stratus"

// fallbackPlan is the tier whose names stand in for unrecognized ids.
const fallbackPlan = PlanPro

var displayNames = map[PlanID]string{
	PlanCommunity:            "Community",
	PlanCommunityWithAccount: "Community",
	PlanStudent:              "Student",
	PlanPro:                  "Pro",
	PlanAdvanced:             "Advanced",
	PlanTeams:                "Teams",
	PlanEnterprise:           "Enterprise",
}

// DisplayName returns the human-facing name for a plan. Unrecognized ids
// fall back to the pro tier's name rather than erroring.
func DisplayName(id PlanID) string {
	if name, ok := displayNames[id]; ok {
		return name
	}
	return displayNames[fallbackPlan]
}

// ProductName returns the branded product name for a plan, with the same
// pro fallback as DisplayName.
func ProductName(id PlanID) string {
	return productPrefix + " " + DisplayName(id)
}

// ProductNameForState composes the product name shown for a lifecycle
// state. Trials pick between the student and standard product names based
// on the effective plan and carry a "Trial" qualifier; expired trials show
// the community-with-account product name; unverified accounts carry an
// "(Unverified)" qualifier. Anything else is the plain product name for
// planID, defaulting to the pro tier when the id is absent or unknown.
func ProductNameForState(state State, planID, effectivePlanID PlanID) string {
	switch state {
	case StateTrial:
		name := ProductName(fallbackPlan)
		if effectivePlanID == PlanStudent {
			name = ProductName(PlanStudent)
		}
		return name + " Trial"
	case StateTrialExpired, StateTrialReactivationEligible:
		return ProductName(PlanCommunityWithAccount)
	case StateVerificationRequired:
		return ProductName(planID) + " (Unverified)"
	default:
		return ProductName(planID)
	}
}
