// README: Seat reservation lifecycle: request, decide, cancel request, cancel offer.
package poolride

import (
	"context"
	"fmt"
	"strings"

	"glideway/internal/modules/notify"
	"glideway/internal/observability"
	"glideway/internal/types"
)

type RequestSeatCommand struct {
	OfferID types.ID
	RiderID types.ID
	// Name and Avatar are snapshotted from the rider's profile.
	Name    string
	Avatar  string
	Pickup  Stop
	Dropoff Stop
}

// RequestSeat appends a pending request. No seat is held until the owner
// accepts.
func (s *Service) RequestSeat(ctx context.Context, cmd RequestSeatCommand) (*Offer, error) {
	if cmd.RiderID == "" {
		return nil, invalid("riderId", "is required")
	}
	if !validPoint(cmd.Pickup.Point) {
		return nil, invalid("pickup", "must be a valid coordinate")
	}
	if !validPoint(cmd.Dropoff.Point) {
		return nil, invalid("dropoff", "must be a valid coordinate")
	}
	now := s.now()
	p := Passenger{
		ID:          types.NewID(),
		UserID:      cmd.RiderID,
		Name:        strings.TrimSpace(cmd.Name),
		Avatar:      cmd.Avatar,
		Pickup:      cmd.Pickup,
		Dropoff:     cmd.Dropoff,
		RequestedAt: now,
		UpdatedAt:   now,
	}
	o, err := s.store.AddPassenger(ctx, cmd.OfferID, p)
	if err != nil {
		return nil, err
	}
	observability.SeatTransitionsTotal.WithLabelValues(string(PassengerPending)).Inc()
	s.log.Info("seat requested", "ride_id", o.ID, "rider_id", cmd.RiderID)

	s.notify(ctx, notify.Event{
		Type:   notify.EventSeatRequested,
		UserID: o.OwnerID,
		RideID: o.ID,
		Title:  "New seat request",
		Body:   fmt.Sprintf("%s requested a seat from %s to %s", displayName(p), o.OriginLabel, o.DestinationLabel),
		Data:   map[string]string{"passenger_id": string(cmd.RiderID)},
	})
	return o, nil
}

type DecideCommand struct {
	OfferID  types.ID
	CallerID types.ID
	// Passenger is the rider's user id or the request id.
	Passenger types.ID
	Decision  PassengerStatus
}

// DecideRequest lets the owner accept or reject a request. Re-applying the
// decision a request already carries returns the offer unchanged.
func (s *Service) DecideRequest(ctx context.Context, cmd DecideCommand) (*Offer, error) {
	if cmd.Decision != PassengerAccepted && cmd.Decision != PassengerRejected {
		return nil, invalid("status", "must be accepted or rejected")
	}
	o, err := s.ownedOffer(ctx, cmd.OfferID, cmd.CallerID)
	if err != nil {
		return nil, err
	}
	userID := resolvePassenger(o, cmd.Passenger)
	updated, tr, err := s.store.TransitionPassenger(ctx, o.ID, userID, cmd.Decision, s.now())
	if err != nil {
		return nil, err
	}
	if !tr.Changed {
		return updated, nil
	}
	s.recordTransition(updated, tr)

	e := notify.Event{UserID: userID, RideID: updated.ID}
	if cmd.Decision == PassengerAccepted {
		e.Type = notify.EventRequestAccepted
		e.Title = "Seat confirmed"
		e.Body = fmt.Sprintf("Your seat from %s to %s is confirmed", updated.OriginLabel, updated.DestinationLabel)
	} else {
		e.Type = notify.EventRequestRejected
		e.Title = "Seat request declined"
		e.Body = fmt.Sprintf("The driver declined your request from %s to %s", updated.OriginLabel, updated.DestinationLabel)
	}
	s.notify(ctx, e)
	return updated, nil
}

type CancelRequestCommand struct {
	OfferID  types.ID
	CallerID types.ID
	// Passenger names the request to cancel. Riders may omit it; the owner
	// must set it.
	Passenger types.ID
}

// CancelRequest withdraws a pending or accepted request, by the rider who
// made it or by the offer owner.
func (s *Service) CancelRequest(ctx context.Context, cmd CancelRequestCommand) (*Offer, error) {
	o, err := s.store.Get(ctx, cmd.OfferID)
	if err != nil {
		return nil, err
	}
	byOwner := cmd.CallerID == o.OwnerID
	target := cmd.CallerID
	if cmd.Passenger != "" {
		target = resolvePassenger(o, cmd.Passenger)
	}
	switch {
	case byOwner && cmd.Passenger == "":
		return nil, invalid("passengerId", "is required")
	case !byOwner && target != cmd.CallerID:
		return nil, ErrForbidden
	}

	updated, tr, err := s.store.TransitionPassenger(ctx, o.ID, target, PassengerCancelled, s.now())
	if err != nil {
		return nil, err
	}
	if !tr.Changed {
		return updated, nil
	}
	s.recordTransition(updated, tr)

	if byOwner {
		s.notify(ctx, notify.Event{
			Type:   notify.EventRequestCancelled,
			UserID: target,
			RideID: updated.ID,
			Title:  "Seat cancelled",
			Body:   fmt.Sprintf("The driver cancelled your seat from %s to %s", updated.OriginLabel, updated.DestinationLabel),
		})
	} else {
		s.notify(ctx, notify.Event{
			Type:   notify.EventRequestCancelled,
			UserID: updated.OwnerID,
			RideID: updated.ID,
			Title:  "Seat request withdrawn",
			Body:   fmt.Sprintf("%s cancelled their request", displayName(tr.Passenger)),
			Data:   map[string]string{"passenger_id": string(target)},
		})
	}
	return updated, nil
}

type CancelOfferCommand struct {
	OfferID  types.ID
	CallerID types.ID
	Reason   string
}

// CancelOffer is always allowed to the owner of an active offer, accepted
// passengers or not; each accepted passenger is told.
func (s *Service) CancelOffer(ctx context.Context, cmd CancelOfferCommand) (*Offer, error) {
	if _, err := s.ownedOffer(ctx, cmd.OfferID, cmd.CallerID); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(cmd.Reason)
	ok, err := s.store.SetStatus(ctx, cmd.OfferID, []OfferStatus{OfferActive}, OfferCancelled, reason, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOfferClosed
	}
	s.unindexOffer(ctx, cmd.OfferID)

	o, err := s.store.Get(ctx, cmd.OfferID)
	if err != nil {
		return nil, err
	}
	body := fmt.Sprintf("Your ride from %s to %s was cancelled", o.OriginLabel, o.DestinationLabel)
	if reason != "" {
		body += ": " + reason
	}
	for _, p := range o.AcceptedPassengers() {
		s.notify(ctx, notify.Event{
			Type:   notify.EventOfferCancelled,
			UserID: p.UserID,
			RideID: o.ID,
			Title:  "Ride cancelled",
			Body:   body,
			Data:   map[string]string{"reason": reason},
		})
	}
	s.log.Info("pool ride cancelled", "ride_id", o.ID, "notified", len(o.AcceptedPassengers()))
	return o, nil
}

func (s *Service) recordTransition(o *Offer, tr Transition) {
	observability.SeatTransitionsTotal.WithLabelValues(string(tr.To)).Inc()
	s.log.Info("passenger request transitioned",
		"ride_id", o.ID, "rider_id", tr.Passenger.UserID,
		"from", tr.From, "to", tr.To, "seats_available", o.SeatsAvailable)
}

// resolvePassenger maps a request id to its rider; anything else is taken to
// be a user id already.
func resolvePassenger(o *Offer, key types.ID) types.ID {
	for _, p := range o.Passengers {
		if p.ID == key {
			return p.UserID
		}
	}
	return key
}

func displayName(p Passenger) string {
	if p.Name != "" {
		return p.Name
	}
	return "A rider"
}
