// README: Request and response shapes for the pool ride API.
package handlers

import (
	"strings"
	"time"

	"glideway/internal/modules/poolride"
	"glideway/internal/types"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// Departure is given either as departureAt (RFC 3339) or as a local date and
// time pair interpreted in the service's zone.
type departureFields struct {
	Date        string     `json:"date"`
	Time        string     `json:"time"`
	DepartureAt *time.Time `json:"departureAt"`
}

func (d departureFields) given() bool {
	return d.DepartureAt != nil || d.Date != "" || d.Time != ""
}

func (d departureFields) resolve(loc *time.Location) (time.Time, map[string]string) {
	if d.DepartureAt != nil {
		return *d.DepartureAt, nil
	}
	fields := map[string]string{}
	if strings.TrimSpace(d.Date) == "" {
		fields["date"] = "is required"
	}
	if strings.TrimSpace(d.Time) == "" {
		fields["time"] = "is required"
	}
	if len(fields) > 0 {
		return time.Time{}, fields
	}
	at, err := time.ParseInLocation(dateLayout+" "+clockLayout, strings.TrimSpace(d.Date)+" "+strings.TrimSpace(d.Time), loc)
	if err != nil {
		return time.Time{}, map[string]string{"departureAt": "date must be YYYY-MM-DD and time HH:MM"}
	}
	return at, nil
}

type createPoolRequest struct {
	OriginLabel      string       `json:"originLabel"`
	DestinationLabel string       `json:"destinationLabel"`
	Origin           *types.Point `json:"origin"`
	Destination      *types.Point `json:"destination"`
	departureFields
	Seats            int      `json:"seats"`
	FarePerSeat      *int64   `json:"farePerSeat"`
	VehicleType      string   `json:"vehicleType"`
	Notes            string   `json:"notes"`
	IsFlexiblePickup bool     `json:"isFlexiblePickup"`
	PickupRadiusKm   float64  `json:"pickupRadiusKm"`
	DetourAllowed    bool     `json:"detourAllowed"`
	MaxDetourKm      float64  `json:"maxDetourKm"`
	MaxWaitMin       int      `json:"maxWaitMin"`
	IsRecurringRide  bool     `json:"isRecurringRide"`
	RecurringDays    []string `json:"recurringDays"`
}

func (r createPoolRequest) command(owner types.ID, loc *time.Location) (poolride.CreateOfferCommand, map[string]string) {
	at, fields := r.departureFields.resolve(loc)
	return poolride.CreateOfferCommand{
		OwnerID:          owner,
		OriginLabel:      r.OriginLabel,
		DestinationLabel: r.DestinationLabel,
		Origin:           r.Origin,
		Destination:      r.Destination,
		DepartureAt:      at,
		Seats:            r.Seats,
		FarePerSeat:      r.FarePerSeat,
		VehicleType:      strings.ToLower(strings.TrimSpace(r.VehicleType)),
		Notes:            r.Notes,
		IsFlexiblePickup: r.IsFlexiblePickup,
		PickupRadiusKm:   r.PickupRadiusKm,
		DetourAllowed:    r.DetourAllowed,
		MaxDetourKm:      r.MaxDetourKm,
		MaxWaitMin:       r.MaxWaitMin,
		IsRecurringRide:  r.IsRecurringRide,
		RecurringDays:    r.RecurringDays,
	}, fields
}

type updatePoolRequest struct {
	OriginLabel      *string      `json:"originLabel"`
	DestinationLabel *string      `json:"destinationLabel"`
	Origin           *types.Point `json:"origin"`
	Destination      *types.Point `json:"destination"`
	departureFields
	Seats            *int     `json:"seats"`
	FarePerSeat      *int64   `json:"farePerSeat"`
	VehicleType      *string  `json:"vehicleType"`
	Notes            *string  `json:"notes"`
	IsFlexiblePickup *bool    `json:"isFlexiblePickup"`
	PickupRadiusKm   *float64 `json:"pickupRadiusKm"`
	DetourAllowed    *bool    `json:"detourAllowed"`
	MaxDetourKm      *float64 `json:"maxDetourKm"`
	MaxWaitMin       *int     `json:"maxWaitMin"`
}

func (r updatePoolRequest) patch(loc *time.Location) (poolride.Patch, map[string]string) {
	p := poolride.Patch{
		OriginLabel:      r.OriginLabel,
		DestinationLabel: r.DestinationLabel,
		Origin:           r.Origin,
		Destination:      r.Destination,
		Seats:            r.Seats,
		FarePerSeat:      r.FarePerSeat,
		VehicleType:      r.VehicleType,
		Notes:            r.Notes,
		IsFlexiblePickup: r.IsFlexiblePickup,
		PickupRadiusKm:   r.PickupRadiusKm,
		DetourAllowed:    r.DetourAllowed,
		MaxDetourKm:      r.MaxDetourKm,
		MaxWaitMin:       r.MaxWaitMin,
	}
	if r.VehicleType != nil {
		v := strings.ToLower(strings.TrimSpace(*r.VehicleType))
		p.VehicleType = &v
	}
	if r.departureFields.given() {
		at, fields := r.departureFields.resolve(loc)
		if fields != nil {
			return p, fields
		}
		p.DepartureAt = &at
	}
	return p, nil
}

type stopDTO struct {
	Address string       `json:"address"`
	Point   *types.Point `json:"point,omitempty"`
}

func (s stopDTO) stop() poolride.Stop {
	return poolride.Stop{Address: strings.TrimSpace(s.Address), Point: s.Point}
}

func toStopDTO(s poolride.Stop) stopDTO {
	return stopDTO{Address: s.Address, Point: s.Point}
}

type joinRequest struct {
	Pickup  stopDTO `json:"pickup"`
	Dropoff stopDTO `json:"dropoff"`
}

type decideRequest struct {
	PassengerID string `json:"passengerId"`
	Status      string `json:"status"`
}

type cancelRequest struct {
	Reason      string `json:"reason"`
	PassengerID string `json:"passengerId"`
}

type searchQuery struct {
	Origin                string   `form:"origin"`
	Destination           string   `form:"destination"`
	OriginLat             *float64 `form:"originLat"`
	OriginLng             *float64 `form:"originLng"`
	DestinationLat        *float64 `form:"destinationLat"`
	DestinationLng        *float64 `form:"destinationLng"`
	Date                  string   `form:"date"`
	Time                  string   `form:"time"`
	Seats                 int      `form:"seats"`
	MaxFare               *int64   `form:"maxFare"`
	MaxDistance           float64  `form:"maxDistance"`
	IncludeRecurring      bool     `form:"includeRecurring"`
	FlexibleTiming        bool     `form:"flexibleTiming"`
	TimeFlexibility       int      `form:"timeFlexibility"`
	IncludeFlexiblePickup bool     `form:"includeFlexiblePickup"`
	IncludeDetours        bool     `form:"includeDetours"`
	NearbyDays            int      `form:"nearbyDays"`
}

func coordinate(lat, lng *float64) (*types.Point, bool) {
	if lat == nil && lng == nil {
		return nil, true
	}
	if lat == nil || lng == nil {
		return nil, false
	}
	return &types.Point{Lat: *lat, Lng: *lng}, true
}

func (q searchQuery) criteria(rider types.ID, loc *time.Location) (poolride.SearchCriteria, map[string]string) {
	fields := map[string]string{}
	c := poolride.SearchCriteria{
		RiderID:               rider,
		OriginText:            q.Origin,
		DestinationText:       q.Destination,
		Seats:                 q.Seats,
		MaxFare:               q.MaxFare,
		MaxDistanceKm:         q.MaxDistance,
		IncludeRecurring:      q.IncludeRecurring,
		FlexibleTiming:        q.FlexibleTiming,
		TimeFlexibilityMin:    q.TimeFlexibility,
		IncludeFlexiblePickup: q.IncludeFlexiblePickup,
		IncludeDetours:        q.IncludeDetours,
		NearbyDays:            q.NearbyDays,
	}
	var ok bool
	if c.Origin, ok = coordinate(q.OriginLat, q.OriginLng); !ok {
		fields["origin"] = "originLat and originLng must be given together"
	}
	if c.Destination, ok = coordinate(q.DestinationLat, q.DestinationLng); !ok {
		fields["destination"] = "destinationLat and destinationLng must be given together"
	}
	if q.Date != "" {
		d, err := time.ParseInLocation(dateLayout, q.Date, loc)
		if err != nil {
			fields["date"] = "must be YYYY-MM-DD"
		} else {
			c.Date = &d
		}
	}
	if q.Time != "" {
		clk, err := poolride.ParseClock(q.Time)
		if err != nil {
			fields["time"] = "must be HH:MM"
		} else {
			c.Time = &clk
		}
	}
	if len(fields) > 0 {
		return c, fields
	}
	return c, nil
}

type passengerResponse struct {
	ID          types.ID `json:"id"`
	UserID      types.ID `json:"userId"`
	Name        string   `json:"name"`
	Avatar      string   `json:"avatar,omitempty"`
	Pickup      stopDTO  `json:"pickup"`
	Dropoff     stopDTO  `json:"dropoff"`
	Status      string   `json:"status"`
	RequestedAt string   `json:"requestedAt"`
	UpdatedAt   string   `json:"updatedAt"`
}

type offerResponse struct {
	ID                  types.ID            `json:"id"`
	OwnerID             types.ID            `json:"ownerId"`
	OriginLabel         string              `json:"originLabel"`
	DestinationLabel    string              `json:"destinationLabel"`
	Origin              types.Point         `json:"origin"`
	Destination         types.Point         `json:"destination"`
	DepartureAt         string              `json:"departureAt"`
	Date                string              `json:"date"`
	Time                string              `json:"time"`
	Seats               int                 `json:"seats"`
	SeatsAvailable      int                 `json:"seatsAvailable"`
	FarePerSeat         types.Money         `json:"farePerSeat"`
	SuggestedFare       *types.Money        `json:"suggestedFare,omitempty"`
	VehicleType         string              `json:"vehicleType"`
	Notes               string              `json:"notes"`
	Status              string              `json:"status"`
	CancelReason        string              `json:"cancelReason,omitempty"`
	IsFlexiblePickup    bool                `json:"isFlexiblePickup"`
	PickupRadiusKm      float64             `json:"pickupRadiusKm"`
	DetourAllowed       bool                `json:"detourAllowed"`
	MaxDetourKm         float64             `json:"maxDetourKm"`
	MaxWaitMin          int                 `json:"maxWaitMin"`
	IsRecurringRide     bool                `json:"isRecurringRide"`
	RecurringDays       []string            `json:"recurringDays"`
	IsRecurringInstance bool                `json:"isRecurringInstance"`
	ParentID            *types.ID           `json:"parentId,omitempty"`
	RouteDistanceKm     float64             `json:"routeDistanceKm,omitempty"`
	RouteDurationMin    int                 `json:"routeDurationMin,omitempty"`
	Passengers          []passengerResponse `json:"passengers"`
	CreatedAt           string              `json:"createdAt"`
	UpdatedAt           string              `json:"updatedAt"`
}

func toOfferResponse(o *poolride.Offer, loc *time.Location) offerResponse {
	dep := o.DepartureAt.In(loc)
	days := o.RecurringDays
	if days == nil {
		days = []string{}
	}
	passengers := make([]passengerResponse, 0, len(o.Passengers))
	for _, p := range o.Passengers {
		passengers = append(passengers, passengerResponse{
			ID:          p.ID,
			UserID:      p.UserID,
			Name:        p.Name,
			Avatar:      p.Avatar,
			Pickup:      toStopDTO(p.Pickup),
			Dropoff:     toStopDTO(p.Dropoff),
			Status:      string(p.Status),
			RequestedAt: p.RequestedAt.Format(time.RFC3339),
			UpdatedAt:   p.UpdatedAt.Format(time.RFC3339),
		})
	}
	return offerResponse{
		ID:                  o.ID,
		OwnerID:             o.OwnerID,
		OriginLabel:         o.OriginLabel,
		DestinationLabel:    o.DestinationLabel,
		Origin:              o.Origin,
		Destination:         o.Destination,
		DepartureAt:         dep.Format(time.RFC3339),
		Date:                dep.Format(dateLayout),
		Time:                dep.Format(clockLayout),
		Seats:               o.Seats,
		SeatsAvailable:      o.SeatsAvailable,
		FarePerSeat:         o.FarePerSeat,
		VehicleType:         o.VehicleType,
		Notes:               o.Notes,
		Status:              string(o.Status),
		CancelReason:        o.CancelReason,
		IsFlexiblePickup:    o.IsFlexiblePickup,
		PickupRadiusKm:      o.PickupRadiusKm,
		DetourAllowed:       o.DetourAllowed,
		MaxDetourKm:         o.MaxDetourKm,
		MaxWaitMin:          o.MaxWaitMin,
		IsRecurringRide:     o.IsRecurringRide,
		RecurringDays:       days,
		IsRecurringInstance: o.IsRecurringInstance,
		ParentID:            o.ParentID,
		RouteDistanceKm:     o.RouteDistanceKm,
		RouteDurationMin:    o.RouteDurationMin,
		Passengers:          passengers,
		CreatedAt:           o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:           o.UpdatedAt.Format(time.RFC3339),
	}
}

func toOfferResponses(offers []*poolride.Offer, loc *time.Location) []offerResponse {
	out := make([]offerResponse, 0, len(offers))
	for _, o := range offers {
		out = append(out, toOfferResponse(o, loc))
	}
	return out
}

type searchResultResponse struct {
	offerResponse
	NextDeparture         string   `json:"nextDeparture"`
	OriginDistanceKm      *float64 `json:"originDistanceKm,omitempty"`
	DestinationDistanceKm *float64 `json:"destinationDistanceKm,omitempty"`
}

func toSearchResponses(rs []poolride.SearchResult, loc *time.Location) []searchResultResponse {
	out := make([]searchResultResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, searchResultResponse{
			offerResponse:         toOfferResponse(r.Offer, loc),
			NextDeparture:         r.NextDeparture.In(loc).Format(time.RFC3339),
			OriginDistanceKm:      r.OriginDistanceKm,
			DestinationDistanceKm: r.DestinationDistanceKm,
		})
	}
	return out
}

type fareEstimateQuery struct {
	OriginLat      *float64 `form:"originLat" binding:"required"`
	OriginLng      *float64 `form:"originLng" binding:"required"`
	DestinationLat *float64 `form:"destinationLat" binding:"required"`
	DestinationLng *float64 `form:"destinationLng" binding:"required"`
	VehicleType    string   `form:"vehicleType"`
	Seats          int      `form:"seats"`
}

type fareEstimateResponse struct {
	DistanceKm  float64     `json:"distanceKm"`
	DurationMin int         `json:"durationMin,omitempty"`
	Source      string      `json:"source"`
	Total       types.Money `json:"total"`
	PerSeat     types.Money `json:"perSeat"`
}
