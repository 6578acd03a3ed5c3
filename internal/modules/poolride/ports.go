// README: Collaborator interfaces consumed by the pool ride service.
package poolride

import (
	"context"
	"time"

	"glideway/internal/modules/notify"
	"glideway/internal/types"
)

// OfferStore persists offers with their embedded passenger requests.
// Mutating methods that touch seat counts run under a per-offer lock so the
// read of the previous passenger status and the seat delta are applied
// together.
type OfferStore interface {
	Create(ctx context.Context, o *Offer) error
	Get(ctx context.Context, id types.ID) (*Offer, error)
	Update(ctx context.Context, id types.ID, patch Patch, now time.Time) (*Offer, error)
	Delete(ctx context.Context, id types.ID) error
	SetStatus(ctx context.Context, id types.ID, from []OfferStatus, to OfferStatus, reason string, now time.Time) (bool, error)
	AddPassenger(ctx context.Context, offerID types.ID, p Passenger) (*Offer, error)
	TransitionPassenger(ctx context.Context, offerID, userID types.ID, to PassengerStatus, now time.Time) (*Offer, Transition, error)
	FindActive(ctx context.Context, f Filter) ([]*Offer, error)
	ExistsInstance(ctx context.Context, parentID types.ID, day time.Time) (bool, error)
	ListInstances(ctx context.Context, parentID types.ID) ([]*Offer, error)
	ListByOwner(ctx context.Context, ownerID types.ID) ([]*Offer, error)
	ListByPassenger(ctx context.Context, userID types.ID) ([]*Offer, error)
	ListActive(ctx context.Context) ([]*Offer, error)
}

// GeoIndex answers proximity lookups over active offers' endpoints.
type GeoIndex interface {
	Add(ctx context.Context, o *Offer) error
	Remove(ctx context.Context, id types.ID) error
	Nearby(ctx context.Context, e Endpoint, p types.Point, radiusKm float64) ([]types.ID, error)
}

type Notifier interface {
	Notify(ctx context.Context, e notify.Event) error
}

// RouteEstimator returns driving distance (km) and duration (minutes).
type RouteEstimator interface {
	Estimate(ctx context.Context, origin, destination types.Point) (float64, int, error)
}

type Pricing interface {
	Estimate(ctx context.Context, distanceKm float64, vehicleType string) (types.Money, error)
}

// updateActive applies an owner edit; only active offers are editable.
func updateActive(o *Offer, p Patch, now time.Time) error {
	if o.Status != OfferActive {
		return ErrOfferClosed
	}
	return p.Apply(o, now)
}

func statusIn(s OfferStatus, set []OfferStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
