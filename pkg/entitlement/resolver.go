package entitlement

import (
	"time"

	"github.com/stratushq/entitlements/pkg/timeutil"
)

// DefaultTrialReactivationLimit caps how many times an expired trial may
// be reactivated before the account stops being offered another one.
const DefaultTrialReactivationLimit = 1

// resolutionRule pairs a lifecycle state with the predicate that selects
// it. Rules are evaluated in order and the first match wins, so the
// precedence policy is visible and testable as data rather than buried in
// nested conditionals.
type resolutionRule struct {
	state State
	when  func(sub Subscription, now time.Time, limit int) bool
}

// resolutionRules is the precedence policy. The final rule matches
// unconditionally, so every input resolves to exactly one state.
var resolutionRules = []resolutionRule{
	{StateVerificationRequired, func(sub Subscription, _ time.Time, _ int) bool {
		return sub.Account != nil && !sub.Account.Verified
	}},
	{StateTrialExpired, func(sub Subscription, now time.Time, limit int) bool {
		return expiredTrialWindow(sub.Plan.Actual, now) && !reactivationEligible(sub.Plan.Actual, now, limit)
	}},
	{StateTrialReactivationEligible, func(sub Subscription, now time.Time, limit int) bool {
		return expiredTrialWindow(sub.Plan.Actual, now) && reactivationEligible(sub.Plan.Actual, now, limit)
	}},
	{StateTrial, func(sub Subscription, now time.Time, _ int) bool {
		e := sub.Plan.Effective
		return e.ExpiresOn != nil && e.ExpiresOn.After(now) && Compare(e.ID, sub.Plan.Actual.ID) > 0
	}},
	{StatePaid, func(sub Subscription, now time.Time, _ int) bool {
		a := sub.Plan.Actual
		return IsPaidPlan(a.ID) && !a.Cancelled && !expired(a.ExpiresOn, now)
	}},
	{StateCommunity, func(Subscription, time.Time, int) bool {
		return true
	}},
}

// expired treats an expiry instant equal to now as already expired, so the
// active and expired windows meet with no gap at the boundary.
func expired(expiresOn *time.Time, now time.Time) bool {
	return expiresOn != nil && !expiresOn.After(now)
}

// expiredTrialWindow reports whether the actual plan records a trial that
// has run out: a recorded start, an expiry at or before now, and no
// conversion to a paid plan.
func expiredTrialWindow(actual PlanSnapshot, now time.Time) bool {
	return !actual.StartedOn.IsZero() && expired(actual.ExpiresOn, now) && !IsPaidPlan(actual.ID)
}

// reactivationEligible reports whether another trial may be offered: the
// reactivation counter is below the limit and any scheduled opt-in date
// has arrived. A nil opt-in date means no scheduled wait.
func reactivationEligible(actual PlanSnapshot, now time.Time, limit int) bool {
	if actual.TrialReactivationCount >= limit {
		return false
	}
	return actual.NextTrialOptInDate == nil || !now.Before(*actual.NextTrialOptInDate)
}

// ResolveStateAt computes the lifecycle state of a snapshot at the given
// instant, ignoring any cached State on the snapshot. It never fails:
// the precedence policy ends in an unconditional default.
func ResolveStateAt(sub Subscription, now time.Time) State {
	return resolveStateAt(sub, now, DefaultTrialReactivationLimit)
}

func resolveStateAt(sub Subscription, now time.Time, limit int) State {
	if limit <= 0 {
		limit = DefaultTrialReactivationLimit
	}
	for _, rule := range resolutionRules {
		if rule.when(sub, now, limit) {
			return rule.state
		}
	}
	// Unreachable: the final rule is unconditional.
	return StateCommunity
}

// StateOfAt returns the supplied state when the snapshot carries one,
// otherwise the resolved state. Derived predicates build on this so a
// cached state always wins over recomputation.
func StateOfAt(sub Subscription, now time.Time) State {
	return stateOfAt(sub, now, DefaultTrialReactivationLimit)
}

func stateOfAt(sub Subscription, now time.Time, limit int) State {
	if sub.IsResolved() {
		return sub.State
	}
	return resolveStateAt(sub, now, limit)
}

// ResolveAt resolves a snapshot into the Resolved shape. A snapshot that
// already carries a state keeps it.
func ResolveAt(sub Subscription, now time.Time) Resolved {
	return Resolved{Subscription: sub, State: StateOfAt(sub, now)}
}

// IsPaid reports whether the contracted plan represents a paying customer.
func IsPaid(sub Subscription) bool {
	return IsPaidPlan(sub.Plan.Actual.ID)
}

// IsExpiredAt reports whether the effective plan's expiry has passed while
// the subscription is not in the Paid state.
func IsExpiredAt(sub Subscription, now time.Time) bool {
	return expired(sub.Plan.Effective.ExpiresOn, now) && StateOfAt(sub, now) != StatePaid
}

// IsTrialAt reports whether the subscription is in an active trial.
func IsTrialAt(sub Subscription, now time.Time) bool {
	return StateOfAt(sub, now) == StateTrial
}

// TimeRemainingAt returns the whole units remaining on the effective
// plan's expiry. ok is false when the plan never expires.
func TimeRemainingAt(sub Subscription, unit timeutil.Unit, now time.Time) (int64, bool) {
	return timeutil.UntilAt(sub.Plan.Effective.ExpiresOn, unit, now)
}

// NextPaidPlan returns the upgrade suggestion for the contracted plan.
func NextPaidPlan(sub Subscription) PlanID {
	return NextPaidTier(sub.Plan.Actual.ID)
}

// Resolver binds the policy seams for callers that do not want to thread
// a clock through every call. The zero value is usable: a nil Now falls
// back to time.Now and a zero TrialReactivationLimit to the default.
type Resolver struct {
	Now                    func() time.Time
	TrialReactivationLimit int
}

// NewResolver returns a Resolver on the wall clock with default policy.
func NewResolver() *Resolver {
	return &Resolver{Now: time.Now}
}

func (r *Resolver) now() time.Time {
	if r == nil || r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func (r *Resolver) limit() int {
	if r == nil || r.TrialReactivationLimit <= 0 {
		return DefaultTrialReactivationLimit
	}
	return r.TrialReactivationLimit
}

// Resolve resolves a snapshot, keeping any cached state it carries.
func (r *Resolver) Resolve(sub Subscription) Resolved {
	return Resolved{Subscription: sub, State: stateOfAt(sub, r.now(), r.limit())}
}

// StateOf returns the supplied or resolved state of a snapshot.
func (r *Resolver) StateOf(sub Subscription) State {
	return stateOfAt(sub, r.now(), r.limit())
}

// IsTrial reports whether the snapshot is in an active trial.
func (r *Resolver) IsTrial(sub Subscription) bool {
	return r.StateOf(sub) == StateTrial
}

// IsExpired reports whether the effective plan has expired while the
// subscription is not Paid.
func (r *Resolver) IsExpired(sub Subscription) bool {
	now := r.now()
	return expired(sub.Plan.Effective.ExpiresOn, now) && stateOfAt(sub, now, r.limit()) != StatePaid
}

// TimeRemaining returns the whole units remaining on the effective plan's
// expiry. ok is false when the plan never expires.
func (r *Resolver) TimeRemaining(sub Subscription, unit timeutil.Unit) (int64, bool) {
	return timeutil.UntilAt(sub.Plan.Effective.ExpiresOn, unit, r.now())
}
