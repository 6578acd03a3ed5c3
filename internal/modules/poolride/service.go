// README: Pool ride service: offer management, recurrence and notifications.
package poolride

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"glideway/internal/config"
	"glideway/internal/geo"
	"glideway/internal/modules/notify"
	"glideway/internal/observability"
	"glideway/internal/types"
)

type Deps struct {
	Store    OfferStore
	Index    GeoIndex
	Notifier Notifier
	// Routes and Pricing are optional.
	Routes  RouteEstimator
	Pricing Pricing
	Config  config.PoolRideConfig
	Logger  *slog.Logger
	Now     func() time.Time
}

type Service struct {
	store    OfferStore
	index    GeoIndex
	notifier Notifier
	routes   RouteEstimator
	pricing  Pricing
	cfg      config.PoolRideConfig
	log      *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		store:    d.Store,
		index:    d.Index,
		notifier: d.Notifier,
		routes:   d.Routes,
		pricing:  d.Pricing,
		cfg:      d.Config,
		log:      d.Logger,
		validate: newValidator(),
		now:      d.Now,
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.cfg.Location == nil {
		s.cfg.Location = time.UTC
	}
	if s.cfg.DefaultMaxDistanceKm <= 0 {
		s.cfg.DefaultMaxDistanceKm = 5
	}
	if s.cfg.TimeToleranceMin <= 0 {
		s.cfg.TimeToleranceMin = 15
	}
	if s.cfg.RecurrenceWindowDays <= 0 {
		s.cfg.RecurrenceWindowDays = 28
	}
	return s
}

// Location is the zone dates and times of day are interpreted in.
func (s *Service) Location() *time.Location { return s.cfg.Location }

type CreateOfferCommand struct {
	OwnerID          types.ID     `validate:"required"`
	OriginLabel      string       `validate:"required,max=200"`
	DestinationLabel string       `validate:"required,max=200"`
	Origin           *types.Point `validate:"required"`
	Destination      *types.Point `validate:"required"`
	DepartureAt      time.Time    `validate:"required"`
	Seats            int          `validate:"min=1,max=20"`
	FarePerSeat      *int64       `validate:"required,min=0"`
	VehicleType      string       `validate:"required,oneof=car suv van bike auto"`
	Notes            string       `validate:"max=1000"`
	IsFlexiblePickup bool
	PickupRadiusKm   float64 `validate:"gte=0,lte=50"`
	DetourAllowed    bool
	MaxDetourKm      float64 `validate:"gte=0,lte=50"`
	MaxWaitMin       int     `validate:"gte=0,lte=240"`
	IsRecurringRide  bool
	RecurringDays    []string `validate:"omitempty,dive,weekday"`
}

func (s *Service) CreateOffer(ctx context.Context, cmd CreateOfferCommand) (*Offer, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return nil, toValidationError(err)
	}
	now := s.now()
	if !cmd.DepartureAt.After(now) {
		return nil, invalid("departureAt", "must be in the future")
	}

	var days []string
	if cmd.IsRecurringRide {
		days, _ = NormalizeDays(cmd.RecurringDays)
		if len(days) == 0 {
			return nil, invalid("recurringDays", "is required for recurring rides")
		}
	}

	o := &Offer{
		ID:               types.NewID(),
		OwnerID:          cmd.OwnerID,
		OriginLabel:      strings.TrimSpace(cmd.OriginLabel),
		DestinationLabel: strings.TrimSpace(cmd.DestinationLabel),
		Origin:           *cmd.Origin,
		Destination:      *cmd.Destination,
		DepartureAt:      cmd.DepartureAt,
		Seats:            cmd.Seats,
		SeatsAvailable:   cmd.Seats,
		FarePerSeat:      types.Money{Amount: *cmd.FarePerSeat, Currency: s.cfg.Currency},
		VehicleType:      cmd.VehicleType,
		Notes:            cmd.Notes,
		Status:           OfferActive,
		IsFlexiblePickup: cmd.IsFlexiblePickup,
		PickupRadiusKm:   cmd.PickupRadiusKm,
		DetourAllowed:    cmd.DetourAllowed,
		MaxDetourKm:      cmd.MaxDetourKm,
		MaxWaitMin:       cmd.MaxWaitMin,
		IsRecurringRide:  cmd.IsRecurringRide,
		RecurringDays:    days,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.enrichRoute(ctx, o)

	if err := s.store.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create pool ride: %w", err)
	}
	observability.OffersCreatedTotal.Inc()
	s.log.Info("pool ride created", "ride_id", o.ID, "owner_id", o.OwnerID, "recurring", o.IsRecurringRide)
	s.indexOffer(ctx, o)

	if o.IsRecurringRide {
		s.expandRecurring(ctx, o)
	}
	return o, nil
}

// enrichRoute fills route distance and duration when a routing provider is
// configured. Failures only cost the enrichment.
func (s *Service) enrichRoute(ctx context.Context, o *Offer) {
	if s.routes == nil {
		return
	}
	km, min, err := s.routes.Estimate(ctx, o.Origin, o.Destination)
	if err != nil {
		s.log.Warn("route estimate failed", "ride_id", o.ID, "error", err)
		return
	}
	o.RouteDistanceKm = km
	o.RouteDurationMin = min
}

func (s *Service) indexOffer(ctx context.Context, o *Offer) {
	if err := s.index.Add(ctx, o); err != nil {
		s.log.Error("index pool ride failed", "ride_id", o.ID, "error", err)
	}
}

func (s *Service) unindexOffer(ctx context.Context, id types.ID) {
	if err := s.index.Remove(ctx, id); err != nil {
		s.log.Error("unindex pool ride failed", "ride_id", id, "error", err)
	}
}

func (s *Service) GetOffer(ctx context.Context, id types.ID) (*Offer, error) {
	return s.store.Get(ctx, id)
}

// ListMine returns the offers the user drives.
func (s *Service) ListMine(ctx context.Context, ownerID types.ID) ([]*Offer, error) {
	return s.store.ListByOwner(ctx, ownerID)
}

// ListJoined returns the offers the user has requested a seat on.
func (s *Service) ListJoined(ctx context.Context, userID types.ID) ([]*Offer, error) {
	return s.store.ListByPassenger(ctx, userID)
}

// ownedOffer loads the offer and checks the caller owns it.
func (s *Service) ownedOffer(ctx context.Context, id, callerID types.ID) (*Offer, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.OwnerID != callerID {
		return nil, ErrForbidden
	}
	return o, nil
}

type UpdateOfferCommand struct {
	OfferID   types.ID
	CallerID  types.ID
	Patch     Patch
	Propagate bool
}

type UpdateResult struct {
	Offer            *Offer
	InstancesUpdated int
}

func (s *Service) validatePatch(p Patch, now time.Time) error {
	fields := map[string]string{}
	if p.OriginLabel != nil && strings.TrimSpace(*p.OriginLabel) == "" {
		fields["originLabel"] = "must not be empty"
	}
	if p.DestinationLabel != nil && strings.TrimSpace(*p.DestinationLabel) == "" {
		fields["destinationLabel"] = "must not be empty"
	}
	if !validPoint(p.Origin) {
		fields["origin"] = "must be a valid coordinate"
	}
	if !validPoint(p.Destination) {
		fields["destination"] = "must be a valid coordinate"
	}
	if p.DepartureAt != nil && !p.DepartureAt.After(now) {
		fields["departureAt"] = "must be in the future"
	}
	if p.Seats != nil && (*p.Seats < 1 || *p.Seats > 20) {
		fields["seats"] = "must be between 1 and 20"
	}
	if p.FarePerSeat != nil && *p.FarePerSeat < 0 {
		fields["farePerSeat"] = "must be at least 0"
	}
	if p.VehicleType != nil && !isVehicleType(*p.VehicleType) {
		fields["vehicleType"] = "must be one of: " + strings.Join(VehicleTypes, ", ")
	}
	if p.PickupRadiusKm != nil && (*p.PickupRadiusKm < 0 || math.IsNaN(*p.PickupRadiusKm)) {
		fields["pickupRadiusKm"] = "must be at least 0"
	}
	if p.MaxDetourKm != nil && (*p.MaxDetourKm < 0 || math.IsNaN(*p.MaxDetourKm)) {
		fields["maxDetourKm"] = "must be at least 0"
	}
	if p.MaxWaitMin != nil && *p.MaxWaitMin < 0 {
		fields["maxWaitMin"] = "must be at least 0"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func isVehicleType(v string) bool {
	for _, t := range VehicleTypes {
		if t == v {
			return true
		}
	}
	return false
}

// UpdateOffer edits an active offer. With Propagate set on a recurring
// template, every field except the schedule is pushed to its active instances.
func (s *Service) UpdateOffer(ctx context.Context, cmd UpdateOfferCommand) (UpdateResult, error) {
	now := s.now()
	if err := s.validatePatch(cmd.Patch, now); err != nil {
		return UpdateResult{}, err
	}
	if _, err := s.ownedOffer(ctx, cmd.OfferID, cmd.CallerID); err != nil {
		return UpdateResult{}, err
	}
	updated, err := s.store.Update(ctx, cmd.OfferID, cmd.Patch, now)
	if err != nil {
		return UpdateResult{}, err
	}
	if cmd.Patch.movesEndpoints() {
		s.indexOffer(ctx, updated)
	}
	for _, p := range updated.Passengers {
		if p.Status == PassengerPending || p.Status == PassengerAccepted {
			s.notify(ctx, notify.Event{
				Type:   notify.EventOfferUpdated,
				UserID: p.UserID,
				RideID: updated.ID,
				Title:  "Ride details changed",
				Body:   fmt.Sprintf("Your ride from %s to %s was updated", updated.OriginLabel, updated.DestinationLabel),
			})
		}
	}

	res := UpdateResult{Offer: updated}
	if cmd.Propagate && updated.IsRecurringTemplate() {
		res.InstancesUpdated = s.propagate(ctx, updated, cmd.Patch.withoutSchedule(), now)
	}
	return res, nil
}

func (s *Service) propagate(ctx context.Context, parent *Offer, patch Patch, now time.Time) int {
	if patch.IsEmpty() {
		return 0
	}
	children, err := s.store.ListInstances(ctx, parent.ID)
	if err != nil {
		s.log.Error("list recurring instances failed", "parent_id", parent.ID, "error", err)
		return 0
	}
	n := 0
	for _, child := range children {
		updated, err := s.store.Update(ctx, child.ID, patch, now)
		if err != nil {
			s.log.Warn("propagate to recurring instance failed", "parent_id", parent.ID, "ride_id", child.ID, "error", err)
			continue
		}
		if patch.movesEndpoints() {
			s.indexOffer(ctx, updated)
		}
		n++
	}
	s.log.Info("recurring instances updated", "parent_id", parent.ID, "updated", n, "total", len(children))
	return n
}

// DeleteOffer removes an offer outright; refused once any seat is accepted.
func (s *Service) DeleteOffer(ctx context.Context, id, callerID types.ID) error {
	o, err := s.ownedOffer(ctx, id, callerID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.unindexOffer(ctx, id)
	for _, p := range o.Passengers {
		if p.Status == PassengerPending {
			s.notify(ctx, notify.Event{
				Type:   notify.EventOfferCancelled,
				UserID: p.UserID,
				RideID: id,
				Title:  "Ride withdrawn",
				Body:   fmt.Sprintf("The ride from %s to %s is no longer available", o.OriginLabel, o.DestinationLabel),
			})
		}
	}
	s.log.Info("pool ride deleted", "ride_id", id)
	return nil
}

// CompleteOffer marks an active offer as done.
func (s *Service) CompleteOffer(ctx context.Context, id, callerID types.ID) (*Offer, error) {
	if _, err := s.ownedOffer(ctx, id, callerID); err != nil {
		return nil, err
	}
	ok, err := s.store.SetStatus(ctx, id, []OfferStatus{OfferActive}, OfferCompleted, "", s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOfferClosed
	}
	s.unindexOffer(ctx, id)
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, p := range o.AcceptedPassengers() {
		s.notify(ctx, notify.Event{
			Type:   notify.EventOfferCompleted,
			UserID: p.UserID,
			RideID: id,
			Title:  "Ride completed",
			Body:   fmt.Sprintf("Your ride to %s is complete", o.DestinationLabel),
		})
	}
	return o, nil
}

// ReindexActive rebuilds the proximity index from the store.
func (s *Service) ReindexActive(ctx context.Context) (int, error) {
	offers, err := s.store.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	for _, o := range offers {
		if err := s.index.Add(ctx, o); err != nil {
			return 0, fmt.Errorf("index %s: %w", o.ID, err)
		}
	}
	return len(offers), nil
}

type FareEstimate struct {
	DistanceKm  float64
	DurationMin int
	// Source is "route" when the routing provider answered, else "haversine".
	Source  string
	Total   types.Money
	PerSeat types.Money
}

// EstimateFare prices a trip from origin to destination split over seats.
func (s *Service) EstimateFare(ctx context.Context, origin, destination types.Point, vehicleType string, seats int) (FareEstimate, error) {
	if !validPoint(&origin) || !validPoint(&destination) {
		return FareEstimate{}, invalid("coordinates", "must be valid coordinates")
	}
	if !isVehicleType(vehicleType) {
		return FareEstimate{}, invalid("vehicleType", "must be one of: "+strings.Join(VehicleTypes, ", "))
	}
	if s.pricing == nil {
		return FareEstimate{}, fmt.Errorf("pricing not configured")
	}
	est := FareEstimate{Source: "haversine", DistanceKm: geo.DistanceKm(origin, destination)}
	if s.routes != nil {
		if km, min, err := s.routes.Estimate(ctx, origin, destination); err == nil {
			est.DistanceKm, est.DurationMin, est.Source = km, min, "route"
		} else {
			s.log.Warn("route estimate failed", "error", err)
		}
	}
	total, err := s.pricing.Estimate(ctx, est.DistanceKm, vehicleType)
	if err != nil {
		return FareEstimate{}, err
	}
	est.Total = total
	est.PerSeat = total
	if seats > 1 {
		est.PerSeat.Amount = int64(math.Ceil(float64(total.Amount) / float64(seats)))
	}
	return est, nil
}

// SuggestedFare prices an existing offer per seat from its stored route
// distance, falling back to the straight-line distance.
func (s *Service) SuggestedFare(ctx context.Context, o *Offer) (types.Money, bool) {
	if s.pricing == nil {
		return types.Money{}, false
	}
	km := o.RouteDistanceKm
	if km <= 0 {
		km = geo.DistanceKm(o.Origin, o.Destination)
	}
	total, err := s.pricing.Estimate(ctx, km, o.VehicleType)
	if err != nil {
		s.log.Warn("fare suggestion failed", "ride_id", o.ID, "error", err)
		return types.Money{}, false
	}
	total.Amount = int64(math.Ceil(float64(total.Amount) / float64(o.Seats)))
	return total, true
}

// notify delivers best-effort; a failed delivery never fails the operation.
func (s *Service) notify(ctx context.Context, e notify.Event) {
	if e.At.IsZero() {
		e.At = s.now()
	}
	if err := s.notifier.Notify(ctx, e); err != nil {
		s.log.Debug("notification not delivered", "type", e.Type, "user_id", e.UserID, "error", err)
	}
}
