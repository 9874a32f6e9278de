// Package entitlement derives subscription lifecycle states and plan facts
// from subscription snapshots.
//
// This package is the single source of truth for plan ordering and state
// policy. It holds no mutable state and performs no I/O; every function is
// total over its input and safe for concurrent use. The only external
// dependency is a caller-supplied clock.
package entitlement

// PlanID identifies a plan tier.
type PlanID string

const (
	PlanCommunity            PlanID = "community"
	PlanCommunityWithAccount PlanID = "community-with-account"
	PlanStudent              PlanID = "student"
	PlanPro                  PlanID = "pro"
	PlanAdvanced             PlanID = "advanced"
	PlanTeams                PlanID = "teams"
	PlanEnterprise           PlanID = "enterprise"
)

// planCatalog is the ordering source of truth: ascending entitlement,
// not alphabetical. Rank is positional lookup into this sequence.
var planCatalog = []PlanID{
	PlanCommunity,
	PlanCommunityWithAccount,
	PlanStudent,
	PlanPro,
	PlanAdvanced,
	PlanTeams,
	PlanEnterprise,
}

// paidPlans are the plans that represent a paying customer.
var paidPlans = []PlanID{
	PlanStudent,
	PlanPro,
	PlanAdvanced,
	PlanTeams,
	PlanEnterprise,
}

// upgradeOrder is the advancement sequence for upgrade suggestions. Student
// is deliberately absent: eligibility cannot be verified automatically, so
// student accounts are pointed at the first self-serve tier instead.
var upgradeOrder = []PlanID{
	PlanPro,
	PlanAdvanced,
	PlanTeams,
	PlanEnterprise,
}

// Rank returns the position of id in the plan catalog, or -1 for an
// unknown or empty id. Unknown plans sort below every real plan.
func Rank(id PlanID) int {
	for i, p := range planCatalog {
		if p == id {
			return i
		}
	}
	return -1
}

// Compare orders two plan ids by entitlement. Negative means a is a lower
// tier than b, zero means equal rank, positive means higher.
func Compare(a, b PlanID) int {
	return Rank(a) - Rank(b)
}

// IsPaidPlan reports whether id represents a paying customer.
func IsPaidPlan(id PlanID) bool {
	for _, p := range paidPlans {
		if p == id {
			return true
		}
	}
	return false
}

// NextPaidTier returns the paid plan immediately above current in the
// advancement sequence. Ids absent from the sequence (student included)
// advance to the first entry; advancement past the top saturates at
// enterprise rather than erroring.
func NextPaidTier(current PlanID) PlanID {
	idx := -1
	for i, p := range upgradeOrder {
		if p == current {
			idx = i
			break
		}
	}
	next := idx + 1
	if next >= len(upgradeOrder) {
		next = len(upgradeOrder) - 1
	}
	return upgradeOrder[next]
}

// PlanIDs returns the catalog in ascending entitlement order.
func PlanIDs() []PlanID {
	out := make([]PlanID, len(planCatalog))
	copy(out, planCatalog)
	return out
}

// PlanInfo is one row of the plan catalog listing.
type PlanInfo struct {
	ID           PlanID `json:"id"`
	Rank         int    `json:"rank"`
	Paid         bool   `json:"paid"`
	DisplayName  string `json:"displayName"`
	ProductName  string `json:"productName"`
	NextPaidTier PlanID `json:"nextPaidTier"`
}

// PlanTable returns catalog metadata for every plan, in catalog order.
func PlanTable() []PlanInfo {
	table := make([]PlanInfo, 0, len(planCatalog))
	for i, id := range planCatalog {
		table = append(table, PlanInfo{
			ID:           id,
			Rank:         i,
			Paid:         IsPaidPlan(id),
			DisplayName:  DisplayName(id),
			ProductName:  ProductName(id),
			NextPaidTier: NextPaidTier(id),
		})
	}
	return table
}
