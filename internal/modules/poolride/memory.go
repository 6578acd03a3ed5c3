// README: In-memory OfferStore and GeoIndex for local runs and tests.
package poolride

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"glideway/internal/geo"
	"glideway/internal/types"
)

// MemoryStore keeps offers in a map guarded by one mutex, which serialises
// every seat mutation.
type MemoryStore struct {
	mu     sync.Mutex
	offers map[types.ID]*Offer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{offers: map[types.ID]*Offer{}}
}

func (m *MemoryStore) Create(_ context.Context, o *Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.offers[o.ID]; ok {
		return fmt.Errorf("pool ride %s already exists", o.ID)
	}
	m.offers[o.ID] = o.clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.clone(), nil
}

// mutate runs fn against a working copy and stores it only when fn succeeds.
func (m *MemoryStore) mutate(id types.ID, fn func(o *Offer) error) (*Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.offers[id]
	if !ok {
		return nil, ErrNotFound
	}
	work := cur.clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	m.offers[id] = work
	return work.clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, id types.ID, patch Patch, now time.Time) (*Offer, error) {
	return m.mutate(id, func(o *Offer) error { return updateActive(o, patch, now) })
}

func (m *MemoryStore) Delete(_ context.Context, id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return ErrNotFound
	}
	if o.AcceptedCount() > 0 {
		return ErrHasAcceptedPassengers
	}
	delete(m.offers, id)
	for _, child := range m.offers {
		if child.ParentID != nil && *child.ParentID == id {
			child.ParentID = nil
		}
	}
	return nil
}

func (m *MemoryStore) SetStatus(_ context.Context, id types.ID, from []OfferStatus, to OfferStatus, reason string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok || !statusIn(o.Status, from) {
		return false, nil
	}
	o.Status = to
	if reason != "" {
		o.CancelReason = reason
	}
	o.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) AddPassenger(_ context.Context, offerID types.ID, p Passenger) (*Offer, error) {
	return m.mutate(offerID, func(o *Offer) error { return o.Admit(p) })
}

func (m *MemoryStore) TransitionPassenger(_ context.Context, offerID, userID types.ID, to PassengerStatus, now time.Time) (*Offer, Transition, error) {
	var tr Transition
	o, err := m.mutate(offerID, func(o *Offer) error {
		var err error
		tr, err = o.ApplyTransition(userID, to, now)
		return err
	})
	if err != nil {
		return nil, Transition{}, err
	}
	return o, tr, nil
}

func (m *MemoryStore) collect(keep func(o *Offer) bool) []*Offer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*Offer{}
	for _, o := range m.offers {
		if keep(o) {
			out = append(out, o.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	sortByDeparture(out)
	return out
}

func (m *MemoryStore) FindActive(_ context.Context, f Filter) ([]*Offer, error) {
	return m.collect(f.matches), nil
}

func (m *MemoryStore) ExistsInstance(_ context.Context, parentID types.ID, day time.Time) (bool, error) {
	end := day.Add(24 * time.Hour)
	found := m.collect(func(o *Offer) bool {
		return o.ParentID != nil && *o.ParentID == parentID &&
			!o.DepartureAt.Before(day) && o.DepartureAt.Before(end)
	})
	return len(found) > 0, nil
}

func (m *MemoryStore) ListInstances(_ context.Context, parentID types.ID) ([]*Offer, error) {
	return m.collect(func(o *Offer) bool {
		return o.ParentID != nil && *o.ParentID == parentID && o.Status == OfferActive
	}), nil
}

func (m *MemoryStore) ListByOwner(_ context.Context, ownerID types.ID) ([]*Offer, error) {
	return m.collect(func(o *Offer) bool { return o.OwnerID == ownerID }), nil
}

func (m *MemoryStore) ListByPassenger(_ context.Context, userID types.ID) ([]*Offer, error) {
	return m.collect(func(o *Offer) bool {
		for _, p := range o.Passengers {
			if p.UserID == userID {
				return true
			}
		}
		return false
	}), nil
}

func (m *MemoryStore) ListActive(_ context.Context) ([]*Offer, error) {
	return m.collect(func(o *Offer) bool { return o.Status == OfferActive }), nil
}

// MemoryGeoIndex scans every indexed point; adequate for small fleets.
type MemoryGeoIndex struct {
	mu     sync.RWMutex
	points map[Endpoint]map[types.ID]types.Point
}

func NewMemoryGeoIndex() *MemoryGeoIndex {
	return &MemoryGeoIndex{points: map[Endpoint]map[types.ID]types.Point{
		EndpointOrigin:      {},
		EndpointDestination: {},
	}}
}

func (g *MemoryGeoIndex) Add(_ context.Context, o *Offer) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.points[EndpointOrigin][o.ID] = o.Origin
	g.points[EndpointDestination][o.ID] = o.Destination
	return nil
}

func (g *MemoryGeoIndex) Remove(_ context.Context, id types.ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.points[EndpointOrigin], id)
	delete(g.points[EndpointDestination], id)
	return nil
}

func (g *MemoryGeoIndex) Nearby(_ context.Context, e Endpoint, p types.Point, radiusKm float64) ([]types.ID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type hit struct {
		id types.ID
		d  float64
	}
	var hits []hit
	for id, pt := range g.points[e] {
		if d := geo.DistanceKm(p, pt); d <= radiusKm {
			hits = append(hits, hit{id: id, d: d})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].id < hits[j].id })
	geo.SortByDistance(hits, func(h hit) float64 { return h.d })
	ids := make([]types.ID, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids, nil
}
