package journal

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestJournal(t *testing.T, retention time.Duration) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal-test.db")
	j, err := Open(path, retention)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordFlushAndList(t *testing.T) {
	j := openTestJournal(t, 0)

	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	j.Record(Event{At: base, State: "trial", ActualPlan: "pro", EffectivePlan: "pro", Duration: 40 * time.Microsecond})
	j.Record(Event{At: base.Add(time.Second), State: "paid", ActualPlan: "teams", EffectivePlan: "teams", Duration: 55 * time.Microsecond})
	j.Record(Event{At: base.Add(2 * time.Second), State: "community", ActualPlan: "pro", EffectivePlan: "community", Duration: 12 * time.Microsecond})

	events, err := j.List(Filter{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	// Newest first.
	if events[0].State != "community" || events[2].State != "trial" {
		t.Fatalf("unexpected ordering: %+v", events)
	}
	if events[0].ID == "" {
		t.Fatal("expected Record to assign an event ID")
	}
	if !events[2].At.Equal(base) {
		t.Fatalf("At = %v, want %v", events[2].At, base)
	}
	if events[1].Duration != 55*time.Microsecond {
		t.Fatalf("Duration = %v, want 55µs", events[1].Duration)
	}
}

func TestListFilterByState(t *testing.T) {
	j := openTestJournal(t, 0)

	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		j.Record(Event{At: base.Add(time.Duration(i) * time.Second), State: "paid", ActualPlan: "pro", EffectivePlan: "pro"})
	}
	j.Record(Event{At: base.Add(10 * time.Second), State: "trial", ActualPlan: "pro", EffectivePlan: "pro"})

	paid, err := j.List(Filter{State: "paid"})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(paid) != 4 {
		t.Fatalf("expected 4 paid events, got %d", len(paid))
	}
	for _, ev := range paid {
		if ev.State != "paid" {
			t.Fatalf("unexpected state %q in filtered list", ev.State)
		}
	}

	limited, err := j.List(Filter{State: "paid", Limit: 2})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 events with limit, got %d", len(limited))
	}
}

func TestListUnknownStateIsEmpty(t *testing.T) {
	j := openTestJournal(t, 0)
	j.Record(Event{State: "paid", ActualPlan: "pro", EffectivePlan: "pro"})

	events, err := j.List(Filter{State: "verification_required"})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestGetStats(t *testing.T) {
	j := openTestJournal(t, 0)

	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	j.Record(Event{At: base, State: "paid", ActualPlan: "pro", EffectivePlan: "pro"})
	j.Record(Event{At: base.Add(time.Minute), State: "paid", ActualPlan: "teams", EffectivePlan: "teams"})
	j.Record(Event{At: base.Add(2 * time.Minute), State: "community", ActualPlan: "community", EffectivePlan: "community"})

	stats, err := j.GetStats()
	if err != nil {
		t.Fatalf("GetStats returned error: %v", err)
	}
	if stats.TotalEvents != 3 {
		t.Fatalf("TotalEvents = %d, want 3", stats.TotalEvents)
	}
	if stats.EventsByState["paid"] != 2 {
		t.Fatalf("paid count = %d, want 2", stats.EventsByState["paid"])
	}
	if stats.OldestEvent == nil || !stats.OldestEvent.Equal(base) {
		t.Fatalf("OldestEvent = %v, want %v", stats.OldestEvent, base)
	}
	if stats.NewestEvent == nil || !stats.NewestEvent.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("NewestEvent = %v, want %v", stats.NewestEvent, base.Add(2*time.Minute))
	}
}

func TestPruneExpired(t *testing.T) {
	j := openTestJournal(t, time.Hour)

	j.Record(Event{At: time.Now().Add(-2 * time.Hour), State: "paid", ActualPlan: "pro", EffectivePlan: "pro"})
	j.Record(Event{At: time.Now(), State: "trial", ActualPlan: "pro", EffectivePlan: "pro"})
	if err := j.Flush(); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}

	if err := j.pruneExpired(); err != nil {
		t.Fatalf("pruneExpired returned error: %v", err)
	}

	events, err := j.List(Filter{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 surviving event, got %d", len(events))
	}
	if events[0].State != "trial" {
		t.Fatalf("surviving state = %q, want %q", events[0].State, "trial")
	}
}

func TestNilJournalIsDisabled(t *testing.T) {
	var j *Journal

	j.Record(Event{State: "paid"})
	if err := j.Flush(); err != nil {
		t.Fatalf("Flush on nil journal returned error: %v", err)
	}

	events, err := j.List(Filter{})
	if err != nil {
		t.Fatalf("List on nil journal returned error: %v", err)
	}
	if events != nil {
		t.Fatalf("expected nil events, got %v", events)
	}

	stats, err := j.GetStats()
	if err != nil {
		t.Fatalf("GetStats on nil journal returned error: %v", err)
	}
	if stats.TotalEvents != 0 {
		t.Fatalf("TotalEvents = %d, want 0", stats.TotalEvents)
	}

	if err := j.Close(); err != nil {
		t.Fatalf("Close on nil journal returned error: %v", err)
	}
}

func TestCloseFlushesBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal-close.db")
	j, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	j.Record(Event{State: "paid", ActualPlan: "pro", EffectivePlan: "pro"})
	if err := j.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	reopened, err := Open(path, 0)
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	defer reopened.Close()

	events, err := reopened.List(Filter{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 persisted event after close, got %d", len(events))
	}
}
