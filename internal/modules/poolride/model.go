// README: Pool ride offer aggregate, passenger requests and seat bookkeeping rules.
package poolride

import (
	"time"

	"glideway/internal/types"
)

type OfferStatus string

const (
	OfferActive    OfferStatus = "active"
	OfferCancelled OfferStatus = "cancelled"
	OfferCompleted OfferStatus = "completed"
)

type PassengerStatus string

const (
	PassengerPending   PassengerStatus = "pending"
	PassengerAccepted  PassengerStatus = "accepted"
	PassengerRejected  PassengerStatus = "rejected"
	PassengerCancelled PassengerStatus = "cancelled"
)

var VehicleTypes = []string{"car", "suv", "van", "bike", "auto"}

type Stop struct {
	Address string
	Point   *types.Point
}

type Passenger struct {
	ID          types.ID
	UserID      types.ID
	Name        string
	Avatar      string
	Pickup      Stop
	Dropoff     Stop
	Status      PassengerStatus
	RequestedAt time.Time
	UpdatedAt   time.Time
}

type Offer struct {
	ID               types.ID
	OwnerID          types.ID
	OriginLabel      string
	DestinationLabel string
	Origin           types.Point
	Destination      types.Point
	DepartureAt      time.Time
	Seats            int
	SeatsAvailable   int
	FarePerSeat      types.Money
	VehicleType      string
	Notes            string
	Status           OfferStatus
	CancelReason     string

	IsFlexiblePickup bool
	PickupRadiusKm   float64
	DetourAllowed    bool
	MaxDetourKm      float64
	MaxWaitMin       int

	IsRecurringRide     bool
	RecurringDays       []string
	IsRecurringInstance bool
	ParentID            *types.ID

	RouteDistanceKm  float64
	RouteDurationMin int

	Passengers []Passenger
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsRecurringTemplate reports whether the offer is a recurring parent rather
// than a dated ride. Generated instances keep IsRecurringRide but are dated.
func (o *Offer) IsRecurringTemplate() bool {
	return o.IsRecurringRide && !o.IsRecurringInstance
}

// LivePassenger returns the caller's non-cancelled request, if any.
func (o *Offer) LivePassenger(userID types.ID) *Passenger {
	for i := range o.Passengers {
		p := &o.Passengers[i]
		if p.UserID == userID && p.Status != PassengerCancelled {
			return p
		}
	}
	return nil
}

func (o *Offer) AcceptedCount() int {
	n := 0
	for _, p := range o.Passengers {
		if p.Status == PassengerAccepted {
			n++
		}
	}
	return n
}

func (o *Offer) AcceptedPassengers() []Passenger {
	var out []Passenger
	for _, p := range o.Passengers {
		if p.Status == PassengerAccepted {
			out = append(out, p)
		}
	}
	return out
}

// Admit appends a pending request after checking the offer can take it.
// Seats are not reserved until the owner accepts.
func (o *Offer) Admit(p Passenger) error {
	switch {
	case o.Status != OfferActive:
		return ErrOfferClosed
	case o.SeatsAvailable < 1:
		return ErrNoSeats
	case p.UserID == o.OwnerID:
		return ErrOwnOffer
	case o.LivePassenger(p.UserID) != nil:
		return ErrDuplicateRequest
	}
	p.Status = PassengerPending
	o.Passengers = append(o.Passengers, p)
	o.UpdatedAt = p.RequestedAt
	return nil
}

// Transition describes one applied passenger status change.
type Transition struct {
	Passenger Passenger
	From      PassengerStatus
	To        PassengerStatus
	SeatDelta int
	Changed   bool
}

// ApplyTransition moves the user's live request to status to and adjusts
// SeatsAvailable by the delta implied by leaving or entering accepted.
// Requesting the status the passenger already has is a no-op.
func (o *Offer) ApplyTransition(userID types.ID, to PassengerStatus, now time.Time) (Transition, error) {
	p := o.LivePassenger(userID)
	if p == nil {
		return Transition{}, ErrPassengerNotFound
	}
	if p.Status == to {
		return Transition{Passenger: *p, From: to, To: to}, nil
	}
	if !CanTransition(p.Status, to) {
		return Transition{}, ErrInvalidState
	}
	if to == PassengerAccepted && o.Status != OfferActive {
		return Transition{}, ErrOfferClosed
	}
	delta := seatDelta(p.Status, to)
	if delta < 0 && o.SeatsAvailable < 1 {
		return Transition{}, ErrNoSeats
	}

	from := p.Status
	o.SeatsAvailable = clampSeats(o.SeatsAvailable+delta, o.Seats)
	p.Status = to
	p.UpdatedAt = now
	o.UpdatedAt = now
	return Transition{Passenger: *p, From: from, To: to, SeatDelta: delta, Changed: true}, nil
}

// AllowedTransitions represents the passenger request state flow as code.
var AllowedTransitions = map[PassengerStatus][]PassengerStatus{
	PassengerPending:  {PassengerAccepted, PassengerRejected, PassengerCancelled},
	PassengerAccepted: {PassengerRejected, PassengerCancelled},
}

func CanTransition(from, to PassengerStatus) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// seatDelta is -1 when entering accepted, +1 when leaving it, else 0.
func seatDelta(from, to PassengerStatus) int {
	switch {
	case from != PassengerAccepted && to == PassengerAccepted:
		return -1
	case from == PassengerAccepted && to != PassengerAccepted:
		return 1
	default:
		return 0
	}
}

func clampSeats(n, max int) int {
	if n < 0 {
		return 0
	}
	if n > max {
		return max
	}
	return n
}

// Patch carries the owner-editable fields of an offer. Nil fields are left
// untouched.
type Patch struct {
	OriginLabel      *string
	DestinationLabel *string
	Origin           *types.Point
	Destination      *types.Point
	DepartureAt      *time.Time
	Seats            *int
	FarePerSeat      *int64
	VehicleType      *string
	Notes            *string
	IsFlexiblePickup *bool
	PickupRadiusKm   *float64
	DetourAllowed    *bool
	MaxDetourKm      *float64
	MaxWaitMin       *int
}

func (p Patch) IsEmpty() bool {
	return p == Patch{}
}

// withoutSchedule drops the fields recurring instances must not inherit.
func (p Patch) withoutSchedule() Patch {
	p.DepartureAt = nil
	return p
}

// Apply mutates o in place. Reducing seats below the accepted passenger count
// fails; otherwise SeatsAvailable is recomputed from the new capacity.
func (p Patch) Apply(o *Offer, now time.Time) error {
	if p.Seats != nil {
		accepted := o.AcceptedCount()
		if *p.Seats < accepted {
			return ErrSeatsBelowAccepted
		}
		o.Seats = *p.Seats
		o.SeatsAvailable = o.Seats - accepted
	}
	if p.OriginLabel != nil {
		o.OriginLabel = *p.OriginLabel
	}
	if p.DestinationLabel != nil {
		o.DestinationLabel = *p.DestinationLabel
	}
	if p.Origin != nil {
		o.Origin = *p.Origin
	}
	if p.Destination != nil {
		o.Destination = *p.Destination
	}
	if p.DepartureAt != nil {
		o.DepartureAt = *p.DepartureAt
	}
	if p.FarePerSeat != nil {
		o.FarePerSeat.Amount = *p.FarePerSeat
	}
	if p.VehicleType != nil {
		o.VehicleType = *p.VehicleType
	}
	if p.Notes != nil {
		o.Notes = *p.Notes
	}
	if p.IsFlexiblePickup != nil {
		o.IsFlexiblePickup = *p.IsFlexiblePickup
	}
	if p.PickupRadiusKm != nil {
		o.PickupRadiusKm = *p.PickupRadiusKm
	}
	if p.DetourAllowed != nil {
		o.DetourAllowed = *p.DetourAllowed
	}
	if p.MaxDetourKm != nil {
		o.MaxDetourKm = *p.MaxDetourKm
	}
	if p.MaxWaitMin != nil {
		o.MaxWaitMin = *p.MaxWaitMin
	}
	o.UpdatedAt = now
	return nil
}

// movesEndpoints reports whether applying the patch can change the indexed
// coordinates.
func (p Patch) movesEndpoints() bool {
	return p.Origin != nil || p.Destination != nil
}

// clone returns a deep copy so callers can mutate without aliasing stored state.
func (o *Offer) clone() *Offer {
	c := *o
	c.RecurringDays = append([]string(nil), o.RecurringDays...)
	c.Passengers = make([]Passenger, len(o.Passengers))
	for i, p := range o.Passengers {
		c.Passengers[i] = p
		if p.Pickup.Point != nil {
			pt := *p.Pickup.Point
			c.Passengers[i].Pickup.Point = &pt
		}
		if p.Dropoff.Point != nil {
			pt := *p.Dropoff.Point
			c.Passengers[i].Dropoff.Point = &pt
		}
	}
	if o.ParentID != nil {
		id := *o.ParentID
		c.ParentID = &id
	}
	return &c
}
