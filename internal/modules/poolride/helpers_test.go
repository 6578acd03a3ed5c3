package poolride

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"glideway/internal/config"
	"glideway/internal/logging"
	"glideway/internal/modules/notify"
	"glideway/internal/types"
)

// Monday 2026-03-02 08:00 UTC.
var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

var (
	mgRoad      = types.Point{Lat: 12.9756, Lng: 77.6066}
	indiranagar = types.Point{Lat: 12.9784, Lng: 77.6408}
	// about 8 km due north of mgRoad
	hebbalRoad = types.Point{Lat: 13.0476, Lng: 77.6066}
	airport    = types.Point{Lat: 13.1986, Lng: 77.7066}
	// about 8 km due north of airport
	devanahalli = types.Point{Lat: 13.2706, Lng: 77.7066}
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingNotifier) byType(t notify.EventType) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	index    *MemoryGeoIndex
	notifier *recordingNotifier
	logs     *bytes.Buffer
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    NewMemoryStore(),
		index:    NewMemoryGeoIndex(),
		notifier: &recordingNotifier{},
		logs:     &bytes.Buffer{},
		now:      testNow,
	}
	f.svc = NewService(Deps{
		Store:    f.store,
		Index:    f.index,
		Notifier: f.notifier,
		Config: config.PoolRideConfig{
			DefaultMaxDistanceKm: 5,
			TimeToleranceMin:     15,
			RecurrenceWindowDays: 28,
			Currency:             "INR",
			Location:             time.UTC,
		},
		Logger: logging.NewLoggerTo(f.logs, "debug"),
		Now:    func() time.Time { return f.now },
	})
	return f
}

func fare(v int64) *int64 { return &v }

func pt(p types.Point) *types.Point { return &p }

func baseCommand(owner types.ID) CreateOfferCommand {
	return CreateOfferCommand{
		OwnerID:          owner,
		OriginLabel:      "MG Road",
		DestinationLabel: "Airport",
		Origin:           pt(mgRoad),
		Destination:      pt(airport),
		DepartureAt:      testNow.Add(26 * time.Hour),
		Seats:            3,
		FarePerSeat:      fare(100),
		VehicleType:      "car",
	}
}

func (f *fixture) create(t *testing.T, cmd CreateOfferCommand) *Offer {
	t.Helper()
	o, err := f.svc.CreateOffer(context.Background(), cmd)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	return o
}

func (f *fixture) request(t *testing.T, offerID, rider types.ID) *Offer {
	t.Helper()
	o, err := f.svc.RequestSeat(context.Background(), RequestSeatCommand{OfferID: offerID, RiderID: rider, Name: string(rider)})
	if err != nil {
		t.Fatalf("request seat for %s: %v", rider, err)
	}
	return o
}

func (f *fixture) decide(t *testing.T, o *Offer, rider types.ID, d PassengerStatus) *Offer {
	t.Helper()
	out, err := f.svc.DecideRequest(context.Background(), DecideCommand{
		OfferID: o.ID, CallerID: o.OwnerID, Passenger: rider, Decision: d,
	})
	if err != nil {
		t.Fatalf("decide %s for %s: %v", d, rider, err)
	}
	return out
}

func assertSeatsInvariant(t *testing.T, o *Offer) {
	t.Helper()
	if o.SeatsAvailable < 0 || o.SeatsAvailable > o.Seats {
		t.Fatalf("seatsAvailable %d outside [0, %d]", o.SeatsAvailable, o.Seats)
	}
	if o.SeatsAvailable != o.Seats-o.AcceptedCount() {
		t.Fatalf("seatsAvailable %d != seats %d - accepted %d", o.SeatsAvailable, o.Seats, o.AcceptedCount())
	}
}

func assertFieldError(t *testing.T, err error, field string) {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, ok := verr.Fields[field]; !ok {
		t.Fatalf("expected field %q in %v", field, verr.Fields)
	}
}
