package entitlement

import (
	"strings"
	"time"
)

// Account is the account reference carried by a snapshot. Verified reports
// whether identity/email verification has completed; the verification flow
// itself lives in the host.
type Account struct {
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	Verified bool   `json:"verified"`
}

// Organization is the active-organization reference carried by a snapshot.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// PlanSnapshot is one concrete plan assignment at a point in time.
// Snapshots are immutable: a new snapshot replaces an old one.
type PlanSnapshot struct {
	ID                     PlanID     `json:"id"`
	Name                   string     `json:"name,omitempty"`
	Bundle                 bool       `json:"bundle,omitempty"`
	Cancelled              bool       `json:"cancelled,omitempty"`
	OrganizationID         string     `json:"organizationId,omitempty"`
	TrialReactivationCount int        `json:"trialReactivationCount,omitempty"`
	NextTrialOptInDate     *time.Time `json:"nextTrialOptInDate,omitempty"`
	StartedOn              time.Time  `json:"startedOn"`
	ExpiresOn              *time.Time `json:"expiresOn,omitempty"`
}

// PlanPair holds the contracted plan and the plan currently granting
// access. Effective is always ranked at or above Actual; it diverges
// during trials, grace periods, and org-level overrides.
type PlanPair struct {
	Actual    PlanSnapshot `json:"actual"`
	Effective PlanSnapshot `json:"effective"`
}

// Subscription is the unresolved snapshot handed in by the host's sync
// layer. State, when non-empty, is a cached or explicit override of what
// the resolver would compute; callers pass snapshots with an empty State
// to obtain one.
type Subscription struct {
	Account            *Account      `json:"account,omitempty"`
	ActiveOrganization *Organization `json:"activeOrganization,omitempty"`
	Plan               PlanPair      `json:"plan"`
	State              State         `json:"state,omitempty"`
}

// Resolved pairs a subscription with its lifecycle state. It is the
// second of the two snapshot shapes: code that requires a resolved
// subscription takes Resolved instead of re-checking State for emptiness.
type Resolved struct {
	Subscription Subscription `json:"subscription"`
	State        State        `json:"state"`
}

// IsResolved reports whether the snapshot already carries a state.
func (s Subscription) IsResolved() bool {
	return s.State != ""
}

// AsResolved narrows a snapshot to a Resolved value without recomputing.
// ok is false when no state is present; callers wanting computation use
// Resolver.Resolve instead. There is no panic path.
func AsResolved(sub Subscription) (Resolved, bool) {
	if !sub.IsResolved() {
		return Resolved{}, false
	}
	return Resolved{Subscription: sub, State: sub.State}, true
}

// Normalize returns a canonical deep copy of a snapshot: plan ids are
// trimmed and lowercased, free-text fields trimmed, and pointer fields
// cloned so the caller's value is never aliased.
func Normalize(sub Subscription) Subscription {
	out := sub
	out.Account = cloneAccount(sub.Account)
	out.ActiveOrganization = cloneOrganization(sub.ActiveOrganization)
	out.Plan.Actual = normalizeSnapshot(sub.Plan.Actual)
	out.Plan.Effective = normalizeSnapshot(sub.Plan.Effective)
	out.State = State(strings.TrimSpace(strings.ToLower(string(sub.State))))
	return out
}

func normalizeSnapshot(p PlanSnapshot) PlanSnapshot {
	out := p
	out.ID = PlanID(strings.TrimSpace(strings.ToLower(string(p.ID))))
	out.Name = strings.TrimSpace(p.Name)
	out.OrganizationID = strings.TrimSpace(p.OrganizationID)
	out.NextTrialOptInDate = cloneTimePtr(p.NextTrialOptInDate)
	out.ExpiresOn = cloneTimePtr(p.ExpiresOn)
	if out.TrialReactivationCount < 0 {
		out.TrialReactivationCount = 0
	}
	return out
}

func cloneAccount(a *Account) *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.ID = strings.TrimSpace(a.ID)
	out.Email = strings.TrimSpace(a.Email)
	return &out
}

func cloneOrganization(o *Organization) *Organization {
	if o == nil {
		return nil
	}
	out := *o
	out.ID = strings.TrimSpace(o.ID)
	out.Name = strings.TrimSpace(o.Name)
	return &out
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}

// CommunityBaseline constructs the canonical zero-entitlement subscription
// used as the logged-out/reset default. When an existing subscription is
// supplied its actual plan's StartedOn survives, so tenure is not lost
// across a reset; account, organization, and trial markers are cleared.
func CommunityBaseline(existing *Subscription, now time.Time) Resolved {
	startedOn := now
	if existing != nil && !existing.Plan.Actual.StartedOn.IsZero() {
		startedOn = existing.Plan.Actual.StartedOn
	}
	base := PlanSnapshot{
		ID:        PlanCommunity,
		Name:      DisplayName(PlanCommunity),
		StartedOn: startedOn,
	}
	sub := Subscription{
		Plan:  PlanPair{Actual: base, Effective: base},
		State: StateCommunity,
	}
	return Resolved{Subscription: sub, State: StateCommunity}
}
