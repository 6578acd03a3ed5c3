package poolride

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"glideway/internal/types"
	"glideway/migrations"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("GLIDEWAY_TEST_DSN")
	if dsn == "" {
		t.Skip("GLIDEWAY_TEST_DSN not set; skipping DB-backed store tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE pool_ride_passengers, pool_rides"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return NewStore(db)
}

func newDBFixture(t *testing.T) *fixture {
	t.Helper()
	store := setupTestStore(t)
	f := newFixture(t)
	f.svc.store = store
	return f
}

func TestStore_CreateAndGet(t *testing.T) {
	f := newDBFixture(t)
	ctx := context.Background()
	cmd := baseCommand("driver")
	cmd.Notes = "luggage ok"
	cmd.IsFlexiblePickup = true
	cmd.PickupRadiusKm = 2.5
	o := f.create(t, cmd)

	got, err := f.svc.GetOffer(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OriginLabel != "MG Road" || got.Origin != mgRoad || got.FarePerSeat.Amount != 100 ||
		got.Notes != "luggage ok" || !got.IsFlexiblePickup || got.PickupRadiusKm != 2.5 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.DepartureAt.Equal(o.DepartureAt) {
		t.Fatalf("departure %s, want %s", got.DepartureAt, o.DepartureAt)
	}
	if _, err := f.svc.GetOffer(ctx, types.NewID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ReservationLifecycle(t *testing.T) {
	f := newDBFixture(t)
	ctx := context.Background()
	o := f.create(t, baseCommand("driver"))

	for _, r := range []types.ID{"a", "b", "c"} {
		f.request(t, o.ID, r)
	}
	if _, err := f.svc.RequestSeat(ctx, RequestSeatCommand{OfferID: o.ID, RiderID: "a"}); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}
	o = f.decide(t, o, "a", PassengerAccepted)
	o = f.decide(t, o, "b", PassengerAccepted)
	if o.SeatsAvailable != 1 {
		t.Fatalf("expected 1 seat, got %d", o.SeatsAvailable)
	}
	o, err := f.svc.CancelRequest(ctx, CancelRequestCommand{OfferID: o.ID, CallerID: "b"})
	if err != nil {
		t.Fatalf("cancel request: %v", err)
	}
	if o.SeatsAvailable != 2 {
		t.Fatalf("expected 2 seats, got %d", o.SeatsAvailable)
	}
	assertSeatsInvariant(t, o)

	if err := f.svc.DeleteOffer(ctx, o.ID, "driver"); !errors.Is(err, ErrHasAcceptedPassengers) {
		t.Fatalf("expected ErrHasAcceptedPassengers, got %v", err)
	}
	joined, err := f.svc.ListJoined(ctx, "b")
	if err != nil || len(joined) != 1 {
		t.Fatalf("list joined = %d, %v", len(joined), err)
	}
	cancelled, err := f.svc.CancelOffer(ctx, CancelOfferCommand{OfferID: o.ID, CallerID: "driver", Reason: "weather"})
	if err != nil {
		t.Fatalf("cancel offer: %v", err)
	}
	if cancelled.Status != OfferCancelled || cancelled.CancelReason != "weather" {
		t.Fatalf("unexpected offer %+v", cancelled)
	}
}

func TestStore_ConcurrentAccepts(t *testing.T) {
	f := newDBFixture(t)
	cmd := baseCommand("driver")
	cmd.Seats = 2
	o := f.create(t, cmd)
	const riders = 8
	for i := 0; i < riders; i++ {
		f.request(t, o.ID, types.ID(fmt.Sprintf("rider-%d", i)))
	}

	var wg sync.WaitGroup
	errs := make(chan error, riders)
	for i := 0; i < riders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.DecideRequest(context.Background(), DecideCommand{
				OfferID: o.ID, CallerID: "driver",
				Passenger: types.ID(fmt.Sprintf("rider-%d", i)), Decision: PassengerAccepted,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrNoSeats):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if accepted != 2 {
		t.Fatalf("expected 2 accepted, got %d", accepted)
	}
	final, err := f.svc.GetOffer(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	assertSeatsInvariant(t, final)
}

func TestStore_RecurringAndSearch(t *testing.T) {
	f := newDBFixture(t)
	ctx := context.Background()
	cmd := baseCommand("driver")
	cmd.IsRecurringRide = true
	cmd.RecurringDays = []string{"monday", "thursday"}
	tpl := f.create(t, cmd)

	children, err := f.svc.store.ListInstances(ctx, tpl.ID)
	if err != nil || len(children) != 8 {
		t.Fatalf("instances = %d, %v", len(children), err)
	}
	if n := f.svc.expandRecurring(ctx, tpl); n != 0 {
		t.Fatalf("re-expansion created %d", n)
	}

	rs := f.search(t, SearchCriteria{RiderID: "rider", OriginText: "mg", Date: day(3)})
	if len(rs) != 1 || rs[0].Offer.ID != tpl.ID {
		t.Fatalf("expected the template on its own date, got %v", resultIDs(rs))
	}
	rs = f.search(t, SearchCriteria{RiderID: "rider", OriginText: "mg", Date: day(9), IncludeRecurring: true})
	monday := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	if len(rs) != 1 || rs[0].Offer.ID == tpl.ID || !rs[0].Offer.DepartureAt.Equal(monday) {
		t.Fatalf("expected only the Monday instance, got %v", resultIDs(rs))
	}
	rs = f.search(t, SearchCriteria{RiderID: "rider", Origin: pt(mgRoad), Date: day(11), IncludeRecurring: true})
	if len(rs) != 0 {
		t.Fatalf("expected nothing, got %v", resultIDs(rs))
	}

	notes := "updated"
	res, err := f.svc.UpdateOffer(ctx, UpdateOfferCommand{OfferID: tpl.ID, CallerID: "driver", Propagate: true, Patch: Patch{Notes: &notes}})
	if err != nil || res.InstancesUpdated != 8 {
		t.Fatalf("propagate = %+v, %v", res, err)
	}
	if err := f.svc.DeleteOffer(ctx, tpl.ID, "driver"); err != nil {
		t.Fatalf("delete template: %v", err)
	}
	mine, _ := f.svc.ListMine(ctx, "driver")
	if len(mine) != 8 || mine[0].ParentID != nil {
		t.Fatalf("instances should survive their template")
	}
}

func TestStore_SetStatusIsConditional(t *testing.T) {
	f := newDBFixture(t)
	ctx := context.Background()
	o := f.create(t, baseCommand("driver"))
	now := testNow.Add(time.Minute)

	ok, err := f.svc.store.SetStatus(ctx, o.ID, []OfferStatus{OfferActive}, OfferCompleted, "", now)
	if err != nil || !ok {
		t.Fatalf("first transition = %v, %v", ok, err)
	}
	ok, err = f.svc.store.SetStatus(ctx, o.ID, []OfferStatus{OfferActive}, OfferCancelled, "late", now)
	if err != nil || ok {
		t.Fatalf("second transition = %v, %v", ok, err)
	}
}

func TestBuildFilter(t *testing.T) {
	from := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	where, args := buildFilter(Filter{
		MinSeats:         2,
		ExcludeOwner:     "driver",
		MaxFare:          fare(150),
		IDs:              []types.ID{"a", "b"},
		DepartFrom:       &from,
		DepartTo:         &to,
		IncludeRecurring: true,
		Weekdays:         []string{"tuesday"},
	})
	for _, frag := range []string{
		"status = 'active'",
		"seats_available >= $1",
		"owner_id <> $2",
		"fare_amount <= $3",
		"id = ANY($4)",
		"departure_at >= $5",
		"departure_at < $6",
		"recurring_days && $7::text[]",
	} {
		if !strings.Contains(where, frag) {
			t.Errorf("where clause missing %q:\n%s", frag, where)
		}
	}
	if len(args) != 7 {
		t.Fatalf("expected 7 args, got %d", len(args))
	}

	where, args = buildFilter(Filter{MinSeats: 1, OriginText: "50%_off"})
	if !strings.Contains(where, "origin_label ILIKE $2") || strings.Contains(where, "recurring_days") {
		t.Fatalf("unexpected where clause %s", where)
	}
	if args[1] != `%50\%\_off%` {
		t.Fatalf("pattern not escaped: %v", args[1])
	}
}
