// README: Weekly recurrence expansion for recurring pool ride templates.
package poolride

import (
	"context"
	"sort"
	"strings"
	"time"

	"glideway/internal/observability"
	"glideway/internal/types"
)

var weekdayByName = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseWeekday accepts full or abbreviated English weekday names in any case.
func ParseWeekday(s string) (time.Weekday, bool) {
	d, ok := weekdayByName[strings.ToLower(strings.TrimSpace(s))]
	return d, ok
}

// NormalizeDays returns lowercase full weekday names, deduplicated and in
// week order starting Sunday. Unknown names are reported in the second return.
func NormalizeDays(days []string) ([]string, []string) {
	seen := map[time.Weekday]bool{}
	var bad []string
	for _, d := range days {
		wd, ok := ParseWeekday(d)
		if !ok {
			bad = append(bad, d)
			continue
		}
		seen[wd] = true
	}
	out := make([]string, 0, len(seen))
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if seen[wd] {
			out = append(out, strings.ToLower(wd.String()))
		}
	}
	return out, bad
}

func weekdaySet(days []string) map[time.Weekday]bool {
	set := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		if wd, ok := ParseWeekday(d); ok {
			set[wd] = true
		}
	}
	return set
}

// ExpandDates lists, for each of the window days following departure's
// calendar date, that date at departure's time of day when its weekday is in
// days. Weekdays are evaluated in departure's location.
func ExpandDates(departure time.Time, days []string, window int) []time.Time {
	set := weekdaySet(days)
	if len(set) == 0 {
		return nil
	}
	var out []time.Time
	for i := 1; i <= window; i++ {
		d := departure.AddDate(0, 0, i)
		if set[d.Weekday()] {
			out = append(out, d)
		}
	}
	return out
}

// newInstance copies a template onto a concrete date.
func newInstance(parent *Offer, at, now time.Time) *Offer {
	child := parent.clone()
	parentID := parent.ID
	child.ID = types.NewID()
	child.DepartureAt = at
	child.IsRecurringInstance = true
	child.ParentID = &parentID
	child.SeatsAvailable = child.Seats
	child.Passengers = nil
	child.Status = OfferActive
	child.CancelReason = ""
	child.CreatedAt = now
	child.UpdatedAt = now
	return child
}

// expandRecurring materialises the template's instances for the configured
// window. Failures are logged and counted; the template is never rolled back.
func (s *Service) expandRecurring(ctx context.Context, parent *Offer) int {
	loc := s.cfg.Location
	created := 0
	for _, at := range ExpandDates(parent.DepartureAt.In(loc), parent.RecurringDays, s.cfg.RecurrenceWindowDays) {
		exists, err := s.store.ExistsInstance(ctx, parent.ID, startOfDay(at))
		if err != nil {
			observability.RecurringInstancesTotal.WithLabelValues("error").Inc()
			s.log.Error("recurring instance lookup failed", "parent_id", parent.ID, "date", at.Format(time.DateOnly), "error", err)
			continue
		}
		if exists {
			observability.RecurringInstancesTotal.WithLabelValues("skipped").Inc()
			continue
		}
		child := newInstance(parent, at, s.now())
		if err := s.store.Create(ctx, child); err != nil {
			observability.RecurringInstancesTotal.WithLabelValues("error").Inc()
			s.log.Error("recurring instance create failed", "parent_id", parent.ID, "date", at.Format(time.DateOnly), "error", err)
			continue
		}
		s.indexOffer(ctx, child)
		observability.RecurringInstancesTotal.WithLabelValues("created").Inc()
		created++
	}
	s.log.Info("recurring instances expanded", "parent_id", parent.ID, "created", created)
	return created
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sortByDeparture(offers []*Offer) {
	sort.SliceStable(offers, func(i, j int) bool {
		return offers[i].DepartureAt.Before(offers[j].DepartureAt)
	})
}
