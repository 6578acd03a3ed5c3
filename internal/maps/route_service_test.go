package maps

import (
	"context"
	"errors"
	"testing"
	"time"

	"googlemaps.github.io/maps"

	"glideway/internal/types"
)

type stubDirections struct {
	req    *maps.DirectionsRequest
	routes []maps.Route
	err    error
}

func (s *stubDirections) Directions(_ context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error) {
	s.req = r
	return s.routes, nil, s.err
}

func TestRouteService_Estimate(t *testing.T) {
	stub := &stubDirections{routes: []maps.Route{{
		Legs: []*maps.Leg{
			{Distance: maps.Distance{Meters: 12400}, Duration: 21*time.Minute + 10*time.Second},
		},
	}}}
	svc := &RouteService{client: stub}

	km, min, err := svc.Estimate(context.Background(),
		types.Point{Lat: 12.9716, Lng: 77.5946}, types.Point{Lat: 13.0358, Lng: 77.597})
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if km != 12.4 {
		t.Errorf("km = %v, want 12.4", km)
	}
	if min != 22 {
		t.Errorf("min = %d, want 22", min)
	}
	if stub.req.Origin != "12.971600,77.594600" || stub.req.Mode != maps.TravelModeDriving {
		t.Errorf("unexpected request %+v", stub.req)
	}
}

func TestRouteService_NoRoute(t *testing.T) {
	svc := &RouteService{client: &stubDirections{}}
	if _, _, err := svc.Estimate(context.Background(), types.Point{}, types.Point{}); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestRouteService_APIError(t *testing.T) {
	boom := errors.New("quota")
	svc := &RouteService{client: &stubDirections{err: boom}}
	if _, _, err := svc.Estimate(context.Background(), types.Point{}, types.Point{}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped api error, got %v", err)
	}
}
