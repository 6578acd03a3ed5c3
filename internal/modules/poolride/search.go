// README: Search/matching filter over active pool ride offers.
package poolride

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"glideway/internal/geo"
	"glideway/internal/observability"
	"glideway/internal/types"
)

// Clock is a time of day in minutes after midnight.
type Clock int

// ParseClock accepts "HH:MM" in 24-hour form.
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

func clockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// clockDiff is the distance between two times of day, wrapping at midnight.
func clockDiff(a, b Clock) int {
	d := int(a - b)
	if d < 0 {
		d = -d
	}
	if d > 12*60 {
		d = 24*60 - d
	}
	return d
}

type SearchCriteria struct {
	RiderID         types.ID
	Origin          *types.Point
	Destination     *types.Point
	OriginText      string
	DestinationText string
	// Date is a calendar day; only its year, month and day are used.
	Date                  *time.Time
	Time                  *Clock
	Seats                 int
	MaxFare               *int64
	MaxDistanceKm         float64
	IncludeRecurring      bool
	FlexibleTiming        bool
	TimeFlexibilityMin    int
	IncludeFlexiblePickup bool
	IncludeDetours        bool
	NearbyDays            int
}

type SearchResult struct {
	Offer *Offer
	// NextDeparture is when Offer departs; a seat request on Offer is a seat
	// on this departure.
	NextDeparture         time.Time
	OriginDistanceKm      *float64
	DestinationDistanceKm *float64
}

type Endpoint string

const (
	EndpointOrigin      Endpoint = "origin"
	EndpointDestination Endpoint = "destination"
)

// Filter is the store-level part of a search.
type Filter struct {
	MinSeats     int
	ExcludeOwner types.ID
	MaxFare      *int64
	// IDs restricts results to a candidate set when non-nil.
	IDs             []types.ID
	OriginText      string
	DestinationText string
	// DepartFrom and DepartTo bound dated offers; DepartTo is exclusive.
	DepartFrom       *time.Time
	DepartTo         *time.Time
	IncludeRecurring bool
	// Weekdays, when non-nil, must intersect a recurring template's days.
	Weekdays []string
}

func (f Filter) matches(o *Offer) bool {
	if o.Status != OfferActive || o.SeatsAvailable < f.MinSeats {
		return false
	}
	if f.ExcludeOwner != "" && o.OwnerID == f.ExcludeOwner {
		return false
	}
	if f.MaxFare != nil && o.FarePerSeat.Amount > *f.MaxFare {
		return false
	}
	if f.IDs != nil && !containsID(f.IDs, o.ID) {
		return false
	}
	if f.OriginText != "" && !containsFold(o.OriginLabel, f.OriginText) {
		return false
	}
	if f.DestinationText != "" && !containsFold(o.DestinationLabel, f.DestinationText) {
		return false
	}
	if f.IncludeRecurring && o.IsRecurringTemplate() &&
		(f.Weekdays == nil || daysOverlap(o.RecurringDays, f.Weekdays)) {
		return true
	}
	return f.departsWithin(o.DepartureAt)
}

// departsWithin reports whether t lies in [DepartFrom, DepartTo).
func (f Filter) departsWithin(t time.Time) bool {
	if f.DepartFrom != nil && t.Before(*f.DepartFrom) {
		return false
	}
	if f.DepartTo != nil && !t.Before(*f.DepartTo) {
		return false
	}
	return true
}

func containsID(ids []types.ID, id types.ID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func daysOverlap(a, b []string) bool {
	set := weekdaySet(b)
	for _, d := range a {
		if wd, ok := ParseWeekday(d); ok && set[wd] {
			return true
		}
	}
	return false
}

// weekdaysBetween lists the weekday names of every calendar day in [from, to).
func weekdaysBetween(from, to time.Time) []string {
	seen := map[time.Weekday]bool{}
	for d := startOfDay(from); d.Before(to) && len(seen) < 7; d = d.AddDate(0, 0, 1) {
		seen[d.Weekday()] = true
	}
	out := make([]string, 0, len(seen))
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if seen[wd] {
			out = append(out, strings.ToLower(wd.String()))
		}
	}
	return out
}

// nextOccurrence is the first date on or after from whose weekday is in the
// template's set, at the template's time of day.
func nextOccurrence(o *Offer, from time.Time) time.Time {
	dep := o.DepartureAt.In(from.Location())
	set := weekdaySet(o.RecurringDays)
	day := startOfDay(from)
	for i := 0; i < 8; i++ {
		d := day.AddDate(0, 0, i)
		at := time.Date(d.Year(), d.Month(), d.Day(), dep.Hour(), dep.Minute(), dep.Second(), 0, from.Location())
		if set[at.Weekday()] && !at.Before(from) && !at.Before(o.DepartureAt) {
			return at
		}
	}
	return o.DepartureAt
}

func (s *Service) normalizeCriteria(c SearchCriteria) (SearchCriteria, error) {
	if c.Seats <= 0 {
		c.Seats = 1
	}
	fields := map[string]string{}
	if math.IsNaN(c.MaxDistanceKm) || math.IsInf(c.MaxDistanceKm, 0) {
		fields["maxDistance"] = "must be a finite number"
	} else if c.MaxDistanceKm <= 0 {
		c.MaxDistanceKm = s.cfg.DefaultMaxDistanceKm
	}
	if c.NearbyDays < 0 {
		fields["nearbyDays"] = "must be at least 0"
	}
	if c.MaxFare != nil && *c.MaxFare < 0 {
		fields["maxFare"] = "must be at least 0"
	}
	if c.TimeFlexibilityMin < 0 {
		fields["timeFlexibility"] = "must be at least 0"
	}
	if !validPoint(c.Origin) {
		fields["origin"] = "must be a valid coordinate"
	}
	if !validPoint(c.Destination) {
		fields["destination"] = "must be a valid coordinate"
	}
	if len(fields) > 0 {
		return c, &ValidationError{Fields: fields}
	}
	return c, nil
}

// Search returns offers the rider may request a seat on, earliest first.
func (s *Service) Search(ctx context.Context, c SearchCriteria) ([]SearchResult, error) {
	c, err := s.normalizeCriteria(c)
	if err != nil {
		return nil, err
	}
	observability.SearchesTotal.Inc()

	loc := s.cfg.Location
	now := s.now().In(loc)
	f := Filter{
		MinSeats:         c.Seats,
		ExcludeOwner:     c.RiderID,
		MaxFare:          c.MaxFare,
		IncludeRecurring: c.IncludeRecurring,
	}

	from, to := now, time.Time{}
	if c.Date != nil {
		day := time.Date(c.Date.Year(), c.Date.Month(), c.Date.Day(), 0, 0, 0, 0, loc)
		from = day.AddDate(0, 0, -c.NearbyDays)
		to = day.AddDate(0, 0, c.NearbyDays+1)
		if from.Before(now) {
			from = now
		}
		f.DepartTo = &to
		f.Weekdays = weekdaysBetween(from, to)
	}
	f.DepartFrom = &from

	radius := c.MaxDistanceKm
	if c.IncludeFlexiblePickup || c.IncludeDetours {
		radius *= 2
	}
	switch {
	case c.Origin != nil:
		ids, err := s.index.Nearby(ctx, EndpointOrigin, *c.Origin, radius)
		if err != nil {
			return nil, fmt.Errorf("proximity lookup: %w", err)
		}
		f.IDs = append([]types.ID{}, ids...)
	case c.Destination != nil:
		ids, err := s.index.Nearby(ctx, EndpointDestination, *c.Destination, radius)
		if err != nil {
			return nil, fmt.Errorf("proximity lookup: %w", err)
		}
		f.IDs = append([]types.ID{}, ids...)
	default:
		f.OriginText = strings.TrimSpace(c.OriginText)
		f.DestinationText = strings.TrimSpace(c.DestinationText)
	}

	results := []SearchResult{}
	if f.IDs != nil && len(f.IDs) == 0 {
		observability.SearchResultsTotal.Observe(0)
		return results, nil
	}

	candidates, err := s.store.FindActive(ctx, f)
	if err != nil {
		return nil, err
	}
	seen := map[types.ID]bool{}
	for _, candidate := range candidates {
		o, err := s.bookable(ctx, candidate, f, from)
		if err != nil {
			return nil, err
		}
		if o == nil || seen[o.ID] {
			continue
		}
		r := SearchResult{Offer: o, NextDeparture: o.DepartureAt}
		if c.Origin != nil {
			d := geo.DistanceKm(*c.Origin, o.Origin)
			if !acceptOrigin(c, o, d) {
				continue
			}
			r.OriginDistanceKm = &d
		}
		if c.Destination != nil {
			d := geo.DistanceKm(*c.Destination, o.Destination)
			if !acceptDestination(c, o, d) {
				continue
			}
			r.DestinationDistanceKm = &d
		}
		if c.Time != nil {
			if clockDiff(clockOf(r.NextDeparture.In(loc)), *c.Time) > s.timeTolerance(c, o) {
				continue
			}
		}
		seen[o.ID] = true
		results = append(results, r)
	}

	geo.SortByDistance(results, func(r SearchResult) float64 {
		if r.OriginDistanceKm != nil {
			return *r.OriginDistanceKm
		}
		return 0
	})
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].NextDeparture.Before(results[j].NextDeparture)
	})

	observability.SearchResultsTotal.Observe(float64(len(results)))
	return results, nil
}

// bookable maps a candidate to the offer a seat request lands on. A recurring
// template departing inside the window is bookable itself. Otherwise it
// stands for its next occurrence in the window, which is bookable only
// through the instance generated for that date; with no such instance the
// template is dropped.
func (s *Service) bookable(ctx context.Context, o *Offer, f Filter, from time.Time) (*Offer, error) {
	if !o.IsRecurringTemplate() || f.departsWithin(o.DepartureAt) {
		return o, nil
	}
	at := nextOccurrence(o, from)
	if !f.departsWithin(at) {
		return nil, nil
	}
	instances, err := s.store.ListInstances(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("list instances of %s: %w", o.ID, err)
	}
	for _, inst := range instances {
		if inst.DepartureAt.Equal(at) && f.matches(inst) {
			return inst, nil
		}
	}
	return nil, nil
}

// acceptOrigin widens the base radius only for offers that allow flexible
// pickup and only when the rider asked for them.
func acceptOrigin(c SearchCriteria, o *Offer, d float64) bool {
	if d <= c.MaxDistanceKm {
		return true
	}
	return c.IncludeFlexiblePickup && o.IsFlexiblePickup && d <= c.MaxDistanceKm+o.PickupRadiusKm
}

func acceptDestination(c SearchCriteria, o *Offer, d float64) bool {
	if d <= c.MaxDistanceKm {
		return true
	}
	return c.IncludeDetours && o.DetourAllowed && d <= c.MaxDistanceKm+o.MaxDetourKm
}

func (s *Service) timeTolerance(c SearchCriteria, o *Offer) int {
	tol := s.cfg.TimeToleranceMin
	if c.TimeFlexibilityMin > 0 {
		tol = c.TimeFlexibilityMin
	}
	if c.FlexibleTiming || c.TimeFlexibilityMin > 0 {
		if o.MaxWaitMin > tol {
			tol = o.MaxWaitMin
		}
	}
	return tol
}
