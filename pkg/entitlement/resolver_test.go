package entitlement

import (
	"testing"
	"time"

	"github.com/stratushq/entitlements/pkg/timeutil"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func tp(t time.Time) *time.Time { return &t }

func communitySub() Subscription {
	plan := PlanSnapshot{ID: PlanCommunity, StartedOn: testNow.Add(-90 * 24 * time.Hour)}
	return Subscription{Plan: PlanPair{Actual: plan, Effective: plan}}
}

func paidSub(id PlanID) Subscription {
	plan := PlanSnapshot{ID: id, StartedOn: testNow.Add(-30 * 24 * time.Hour)}
	return Subscription{
		Account: &Account{ID: "acct-1", Verified: true},
		Plan:    PlanPair{Actual: plan, Effective: plan},
	}
}

func trialSub(expiresOn time.Time) Subscription {
	actual := PlanSnapshot{ID: PlanCommunityWithAccount, StartedOn: testNow.Add(-7 * 24 * time.Hour)}
	effective := PlanSnapshot{
		ID:        PlanPro,
		StartedOn: actual.StartedOn,
		ExpiresOn: tp(expiresOn),
	}
	return Subscription{
		Account: &Account{ID: "acct-1", Verified: true},
		Plan:    PlanPair{Actual: actual, Effective: effective},
	}
}

func expiredTrialSub(reactivations int, optIn *time.Time) Subscription {
	actual := PlanSnapshot{
		ID:                     PlanCommunityWithAccount,
		StartedOn:              testNow.Add(-30 * 24 * time.Hour),
		ExpiresOn:              tp(testNow.Add(-16 * 24 * time.Hour)),
		TrialReactivationCount: reactivations,
		NextTrialOptInDate:     optIn,
	}
	return Subscription{
		Account: &Account{ID: "acct-1", Verified: true},
		Plan:    PlanPair{Actual: actual, Effective: actual},
	}
}

func TestResolveStateAt_Precedence(t *testing.T) {
	tests := []struct {
		name string
		sub  Subscription
		want State
	}{
		{
			name: "no_account_community_plan",
			sub:  communitySub(),
			want: StateCommunity,
		},
		{
			name: "unverified_account_wins_over_paid_plan",
			sub: func() Subscription {
				s := paidSub(PlanPro)
				s.Account.Verified = false
				return s
			}(),
			want: StateVerificationRequired,
		},
		{
			name: "unverified_account_wins_over_active_trial",
			sub: func() Subscription {
				s := trialSub(testNow.Add(48 * time.Hour))
				s.Account.Verified = false
				return s
			}(),
			want: StateVerificationRequired,
		},
		{
			name: "expired_trial_at_reactivation_limit",
			sub:  expiredTrialSub(DefaultTrialReactivationLimit, nil),
			want: StateTrialExpired,
		},
		{
			name: "expired_trial_below_limit_is_reactivation_eligible",
			sub:  expiredTrialSub(0, nil),
			want: StateTrialReactivationEligible,
		},
		{
			name: "expired_trial_opt_in_date_not_reached",
			sub:  expiredTrialSub(0, tp(testNow.Add(24*time.Hour))),
			want: StateTrialExpired,
		},
		{
			name: "expired_trial_opt_in_date_reached",
			sub:  expiredTrialSub(0, tp(testNow.Add(-time.Hour))),
			want: StateTrialReactivationEligible,
		},
		{
			name: "expired_trial_opt_in_date_exactly_now",
			sub:  expiredTrialSub(0, tp(testNow)),
			want: StateTrialReactivationEligible,
		},
		{
			name: "active_trial",
			sub:  trialSub(testNow.Add(5 * 24 * time.Hour)),
			want: StateTrial,
		},
		{
			name: "trial_expiry_exactly_now_is_no_longer_a_trial",
			sub:  trialSub(testNow),
			want: StateCommunity,
		},
		{
			name: "paid_pro",
			sub:  paidSub(PlanPro),
			want: StatePaid,
		},
		{
			name: "paid_student",
			sub:  paidSub(PlanStudent),
			want: StatePaid,
		},
		{
			name: "paid_with_future_period_end_is_paid_not_trial",
			sub: func() Subscription {
				s := paidSub(PlanTeams)
				s.Plan.Actual.ExpiresOn = tp(testNow.Add(20 * 24 * time.Hour))
				s.Plan.Effective = s.Plan.Actual
				return s
			}(),
			want: StatePaid,
		},
		{
			name: "cancelled_paid_plan_resolves_to_community",
			sub: func() Subscription {
				s := paidSub(PlanPro)
				s.Plan.Actual.Cancelled = true
				s.Plan.Effective = s.Plan.Actual
				return s
			}(),
			want: StateCommunity,
		},
		{
			name: "lapsed_paid_plan_resolves_to_community",
			sub: func() Subscription {
				s := paidSub(PlanPro)
				s.Plan.Actual.ExpiresOn = tp(testNow.Add(-24 * time.Hour))
				s.Plan.Effective = s.Plan.Actual
				return s
			}(),
			want: StateCommunity,
		},
		{
			name: "trial_history_on_converted_paid_plan_does_not_demote",
			sub: func() Subscription {
				s := paidSub(PlanAdvanced)
				s.Plan.Actual.TrialReactivationCount = 1
				s.Plan.Actual.ExpiresOn = tp(testNow.Add(20 * 24 * time.Hour))
				s.Plan.Effective = s.Plan.Actual
				return s
			}(),
			want: StatePaid,
		},
		{
			name: "org_override_without_expiry_is_not_a_trial",
			sub: func() Subscription {
				s := communitySub()
				s.Plan.Effective = PlanSnapshot{ID: PlanTeams, StartedOn: testNow, OrganizationID: "org-1"}
				return s
			}(),
			want: StateCommunity,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveStateAt(tt.sub, testNow); got != tt.want {
				t.Fatalf("ResolveStateAt() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolveStateAt_IgnoresCachedState(t *testing.T) {
	sub := communitySub()
	sub.State = StatePaid
	if got := ResolveStateAt(sub, testNow); got != StateCommunity {
		t.Fatalf("ResolveStateAt() = %s, want %s", got, StateCommunity)
	}
}

func TestStateOfAt_CachedStateWins(t *testing.T) {
	sub := communitySub()
	sub.State = StatePaid
	if got := StateOfAt(sub, testNow); got != StatePaid {
		t.Fatalf("StateOfAt() = %s, want %s", got, StatePaid)
	}
}

func TestResolveStateAt_ExactlyOneState(t *testing.T) {
	known := make(map[State]bool)
	for _, s := range States() {
		known[s] = true
	}

	subs := []Subscription{
		communitySub(),
		paidSub(PlanPro),
		paidSub(PlanStudent),
		paidSub(PlanEnterprise),
		trialSub(testNow.Add(time.Minute)),
		trialSub(testNow.Add(-time.Minute)),
		trialSub(testNow),
		expiredTrialSub(0, nil),
		expiredTrialSub(5, nil),
		expiredTrialSub(0, tp(testNow.Add(time.Hour))),
		{},
	}
	for i, sub := range subs {
		got := ResolveStateAt(sub, testNow)
		if !known[got] {
			t.Fatalf("subscription %d resolved to unknown state %q", i, got)
		}
	}
}

func TestScenarioA_BareCommunity(t *testing.T) {
	sub := communitySub()
	state := ResolveStateAt(sub, testNow)
	if state != StateCommunity {
		t.Fatalf("state = %s, want %s", state, StateCommunity)
	}
	if got := state.WireString(); got != StateStringFree {
		t.Fatalf("wire string = %q, want %q", got, StateStringFree)
	}
	if IsPaid(sub) {
		t.Fatal("IsPaid() = true, want false")
	}
}

func TestScenarioB_PaidPro(t *testing.T) {
	sub := paidSub(PlanPro)
	if got := ResolveStateAt(sub, testNow); got != StatePaid {
		t.Fatalf("state = %s, want %s", got, StatePaid)
	}
	if got := ProductName(PlanPro); got != "Stratus Pro" {
		t.Fatalf("ProductName(pro) = %q, want %q", got, "Stratus Pro")
	}
	if got := NextPaidPlan(sub); got != PlanAdvanced {
		t.Fatalf("NextPaidPlan() = %s, want %s", got, PlanAdvanced)
	}
}

func TestScenarioC_ActiveTrialTimeRemaining(t *testing.T) {
	sub := trialSub(testNow.Add(36 * time.Hour))
	sub.Plan.Actual.ID = PlanCommunity
	if got := ResolveStateAt(sub, testNow); got != StateTrial {
		t.Fatalf("state = %s, want %s", got, StateTrial)
	}
	days, ok := TimeRemainingAt(sub, timeutil.UnitDays, testNow)
	if !ok {
		t.Fatal("TimeRemainingAt() ok = false, want true")
	}
	if days <= 0 {
		t.Fatalf("TimeRemainingAt() = %d, want positive", days)
	}
	if days != 2 {
		t.Fatalf("TimeRemainingAt() = %d days, want 2 (36h rounds up)", days)
	}
}

func TestScenarioD_ExpiredTrialAtCap(t *testing.T) {
	sub := expiredTrialSub(DefaultTrialReactivationLimit, nil)
	state := ResolveStateAt(sub, testNow)
	if state != StateTrialExpired {
		t.Fatalf("state = %s, want %s", state, StateTrialExpired)
	}
	got := ProductNameForState(state, sub.Plan.Actual.ID, sub.Plan.Effective.ID)
	if got != ProductName(PlanCommunityWithAccount) {
		t.Fatalf("ProductNameForState() = %q, want %q", got, ProductName(PlanCommunityWithAccount))
	}
}

func TestScenarioE_UnverifiedAccount(t *testing.T) {
	sub := paidSub(PlanPro)
	sub.Account.Verified = false
	sub.Plan.Effective.ExpiresOn = tp(testNow.Add(24 * time.Hour))
	state := ResolveStateAt(sub, testNow)
	if state != StateVerificationRequired {
		t.Fatalf("state = %s, want %s", state, StateVerificationRequired)
	}
	got := ProductNameForState(state, PlanPro, PlanPro)
	if got != "Stratus Pro (Unverified)" {
		t.Fatalf("ProductNameForState() = %q, want %q", got, "Stratus Pro (Unverified)")
	}
}

func TestIsExpiredAt(t *testing.T) {
	tests := []struct {
		name string
		sub  Subscription
		want bool
	}{
		{
			name: "expired_trial_is_expired",
			sub:  expiredTrialSub(0, nil),
			want: true,
		},
		{
			name: "active_trial_is_not_expired",
			sub:  trialSub(testNow.Add(time.Hour)),
			want: false,
		},
		{
			name: "no_expiry_is_not_expired",
			sub:  communitySub(),
			want: false,
		},
		{
			name: "paid_state_is_never_expired",
			sub: func() Subscription {
				s := paidSub(PlanPro)
				s.Plan.Effective.ExpiresOn = tp(testNow.Add(-time.Hour))
				return s
			}(),
			want: false,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpiredAt(tt.sub, testNow); got != tt.want {
				t.Fatalf("IsExpiredAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTrialAt(t *testing.T) {
	if !IsTrialAt(trialSub(testNow.Add(time.Hour)), testNow) {
		t.Fatal("IsTrialAt(active trial) = false, want true")
	}
	if IsTrialAt(communitySub(), testNow) {
		t.Fatal("IsTrialAt(community) = true, want false")
	}
	if IsTrialAt(expiredTrialSub(0, nil), testNow) {
		t.Fatal("IsTrialAt(expired trial) = true, want false")
	}
}

func TestTimeRemainingAt(t *testing.T) {
	sub := trialSub(testNow.Add(90 * time.Minute))

	tests := []struct {
		name string
		unit timeutil.Unit
		want int64
	}{
		{name: "days_round_up", unit: timeutil.UnitDays, want: 1},
		{name: "hours_round_up", unit: timeutil.UnitHours, want: 2},
		{name: "minutes", unit: timeutil.UnitMinutes, want: 90},
		{name: "seconds", unit: timeutil.UnitSeconds, want: 5400},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TimeRemainingAt(sub, tt.unit, testNow)
			if !ok {
				t.Fatal("TimeRemainingAt() ok = false, want true")
			}
			if got != tt.want {
				t.Fatalf("TimeRemainingAt(%s) = %d, want %d", tt.unit, got, tt.want)
			}
		})
	}

	if _, ok := TimeRemainingAt(communitySub(), timeutil.UnitDays, testNow); ok {
		t.Fatal("TimeRemainingAt() ok = true for a plan with no expiry")
	}
}

func TestResolver_ZeroValueIsUsable(t *testing.T) {
	var r *Resolver
	got := r.Resolve(paidSub(PlanPro))
	if got.State != StatePaid {
		t.Fatalf("nil resolver Resolve() = %s, want %s", got.State, StatePaid)
	}

	var zero Resolver
	if zero.StateOf(communitySub()) != StateCommunity {
		t.Fatal("zero resolver StateOf(community) != community")
	}
}

func TestResolver_FixedClock(t *testing.T) {
	r := &Resolver{Now: func() time.Time { return testNow }}

	sub := trialSub(testNow.Add(2 * time.Hour))
	if got := r.StateOf(sub); got != StateTrial {
		t.Fatalf("StateOf() = %s, want %s", got, StateTrial)
	}
	if !r.IsTrial(sub) {
		t.Fatal("IsTrial() = false, want true")
	}
	hours, ok := r.TimeRemaining(sub, timeutil.UnitHours)
	if !ok || hours != 2 {
		t.Fatalf("TimeRemaining() = %d, %v, want 2, true", hours, ok)
	}

	later := &Resolver{Now: func() time.Time { return testNow.Add(3 * time.Hour) }}
	if later.StateOf(sub) != StateCommunity {
		t.Fatal("trial did not lapse after its expiry")
	}
	if !later.IsExpired(sub) {
		t.Fatal("IsExpired() = false after expiry, want true")
	}
}

func TestResolver_ReactivationLimitOverride(t *testing.T) {
	r := &Resolver{
		Now:                    func() time.Time { return testNow },
		TrialReactivationLimit: 3,
	}
	sub := expiredTrialSub(2, nil)
	if got := r.StateOf(sub); got != StateTrialReactivationEligible {
		t.Fatalf("StateOf() = %s, want %s", got, StateTrialReactivationEligible)
	}
	if got := ResolveStateAt(sub, testNow); got != StateTrialExpired {
		t.Fatalf("default-limit ResolveStateAt() = %s, want %s", got, StateTrialExpired)
	}
}

func TestResolver_CachedStatePreserved(t *testing.T) {
	r := &Resolver{Now: func() time.Time { return testNow }}
	sub := communitySub()
	sub.State = StateTrialExpired
	got := r.Resolve(sub)
	if got.State != StateTrialExpired {
		t.Fatalf("Resolve() = %s, want cached %s", got.State, StateTrialExpired)
	}
}
