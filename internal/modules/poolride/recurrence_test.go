package poolride

import (
	"context"
	"reflect"
	"testing"
	"time"

	"glideway/internal/types"
)

func TestNormalizeDays(t *testing.T) {
	days, bad := NormalizeDays([]string{"Thu", "monday", " MON ", "funday", "sat"})
	if want := []string{"monday", "thursday", "saturday"}; !reflect.DeepEqual(days, want) {
		t.Fatalf("days = %v, want %v", days, want)
	}
	if !reflect.DeepEqual(bad, []string{"funday"}) {
		t.Fatalf("bad = %v", bad)
	}
	if days, _ := NormalizeDays(nil); len(days) != 0 {
		t.Fatalf("expected no days, got %v", days)
	}
}

func TestExpandDates(t *testing.T) {
	// Tuesday
	dep := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	dates := ExpandDates(dep, []string{"monday", "thursday"}, 28)
	if len(dates) != 8 {
		t.Fatalf("expected 8 dates, got %d: %v", len(dates), dates)
	}
	for _, d := range dates {
		if wd := d.Weekday(); wd != time.Monday && wd != time.Thursday {
			t.Errorf("%s falls on %s", d, wd)
		}
		if d.Hour() != 10 || d.Minute() != 0 {
			t.Errorf("%s lost the time of day", d)
		}
		if !d.After(dep) || d.After(dep.AddDate(0, 0, 28)) {
			t.Errorf("%s outside the window", d)
		}
	}
	if ExpandDates(dep, nil, 28) != nil {
		t.Fatal("expected no dates without weekdays")
	}
}

func TestExpandDates_KeepsLocalTimeAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	// clocks change on 2026-03-29
	dep := time.Date(2026, 3, 20, 8, 30, 0, 0, loc)
	for _, d := range ExpandDates(dep, []string{"monday"}, 14) {
		if d.Hour() != 8 || d.Minute() != 30 {
			t.Fatalf("%s drifted from 08:30 local", d)
		}
	}
}

func TestCreateRecurringOffer_ExpandsInstances(t *testing.T) {
	f := newFixture(t)
	cmd := baseCommand("driver")
	cmd.IsRecurringRide = true
	cmd.RecurringDays = []string{"Mon", "thursday"}
	parent := f.create(t, cmd)

	if !parent.IsRecurringTemplate() {
		t.Fatal("expected a recurring template")
	}
	if !reflect.DeepEqual(parent.RecurringDays, []string{"monday", "thursday"}) {
		t.Fatalf("days not normalised: %v", parent.RecurringDays)
	}

	children, err := f.store.ListInstances(context.Background(), parent.ID)
	if err != nil {
		t.Fatalf("list instances: %v", err)
	}
	if len(children) != 8 {
		t.Fatalf("expected 8 instances, got %d", len(children))
	}
	for _, c := range children {
		if c.ParentID == nil || *c.ParentID != parent.ID {
			t.Fatalf("instance %s not linked to parent", c.ID)
		}
		if !c.IsRecurringInstance || c.IsRecurringTemplate() {
			t.Fatalf("instance %s flags wrong", c.ID)
		}
		if len(c.Passengers) != 0 || c.SeatsAvailable != c.Seats {
			t.Fatalf("instance %s should start empty", c.ID)
		}
		if wd := c.DepartureAt.Weekday(); wd != time.Monday && wd != time.Thursday {
			t.Fatalf("instance %s on %s", c.ID, wd)
		}
		if c.FarePerSeat != parent.FarePerSeat || c.OwnerID != parent.OwnerID {
			t.Fatalf("instance %s did not copy the template", c.ID)
		}
	}

	// re-expanding the same window creates nothing new
	if n := f.svc.expandRecurring(context.Background(), parent); n != 0 {
		t.Fatalf("re-expansion created %d instances", n)
	}
	again, _ := f.store.ListInstances(context.Background(), parent.ID)
	if len(again) != 8 {
		t.Fatalf("expected 8 instances after re-expansion, got %d", len(again))
	}
}

func TestCreateRecurringOffer_RequiresDays(t *testing.T) {
	f := newFixture(t)
	cmd := baseCommand("driver")
	cmd.IsRecurringRide = true
	_, err := f.svc.CreateOffer(context.Background(), cmd)
	assertFieldError(t, err, "recurringDays")
}

type failingCreateStore struct {
	*MemoryStore
	fails int
}

func (s *failingCreateStore) Create(ctx context.Context, o *Offer) error {
	if o.IsRecurringInstance && s.fails > 0 {
		s.fails--
		return context.DeadlineExceeded
	}
	return s.MemoryStore.Create(ctx, o)
}

func TestExpandRecurring_FailuresDoNotFailTemplate(t *testing.T) {
	f := newFixture(t)
	store := &failingCreateStore{MemoryStore: f.store, fails: 3}
	f.svc.store = store

	cmd := baseCommand("driver")
	cmd.IsRecurringRide = true
	cmd.RecurringDays = []string{"monday", "thursday"}
	parent := f.create(t, cmd)

	if _, err := f.store.Get(context.Background(), parent.ID); err != nil {
		t.Fatalf("template should be stored: %v", err)
	}
	children, _ := f.store.ListInstances(context.Background(), parent.ID)
	if len(children) != 5 {
		t.Fatalf("expected 5 instances after 3 failures, got %d", len(children))
	}
	// a later pass fills the gaps
	if n := f.svc.expandRecurring(context.Background(), parent); n != 3 {
		t.Fatalf("expected 3 backfilled instances, got %d", n)
	}
}

func TestNewInstance_ResetsState(t *testing.T) {
	parent := &Offer{
		ID: "tpl", Seats: 3, SeatsAvailable: 1, Status: OfferActive,
		IsRecurringRide: true, RecurringDays: []string{"monday"},
		Passengers: []Passenger{{UserID: "a", Status: PassengerAccepted}},
	}
	at := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	child := newInstance(parent, at, testNow)
	if child.ID == parent.ID || child.ID == types.ID("") {
		t.Fatal("instance needs its own id")
	}
	if child.SeatsAvailable != 3 || len(child.Passengers) != 0 || !child.DepartureAt.Equal(at) {
		t.Fatalf("unexpected instance %+v", child)
	}
	if len(parent.Passengers) != 1 {
		t.Fatal("parent mutated")
	}
}
