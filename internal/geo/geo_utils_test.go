package geo

import (
	"math"
	"testing"

	"glideway/internal/types"
)

func TestHaversineKm_SamePointIsZero(t *testing.T) {
	if d := HaversineKm(12.9716, 77.5946, 12.9716, 77.5946); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKm_Symmetric(t *testing.T) {
	a := HaversineKm(25.0330, 121.5654, 24.1477, 120.6736)
	b := HaversineKm(24.1477, 120.6736, 25.0330, 121.5654)
	if math.Abs(a-b) > 1e-9 {
		t.Fatalf("expected symmetric distance, got %f vs %f", a, b)
	}
}

func TestHaversineKm_KnownDistances(t *testing.T) {
	cases := []struct {
		name                   string
		lat1, lng1, lat2, lng2 float64
		wantKm, tolKm          float64
	}{
		{"one degree of latitude", 0, 0, 1, 0, 111.19, 0.05},
		{"one degree of longitude at equator", 0, 0, 0, 1, 111.19, 0.05},
		{"paris to london", 48.8566, 2.3522, 51.5074, -0.1278, 343.5, 1.0},
		{"antipodes", 0, 0, 0, 180, math.Pi * EarthRadiusKm, 0.01},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := HaversineKm(tc.lat1, tc.lng1, tc.lat2, tc.lng2)
			if math.Abs(got-tc.wantKm) > tc.tolKm {
				t.Fatalf("got %.3f km, want %.3f±%.2f", got, tc.wantKm, tc.tolKm)
			}
		})
	}
}

func TestHaversineKm_NaNPropagates(t *testing.T) {
	if d := HaversineKm(math.NaN(), 0, 0, 0); !math.IsNaN(d) {
		t.Fatalf("expected NaN, got %f", d)
	}
}

func TestDistanceKm_MatchesHaversine(t *testing.T) {
	a := types.Point{Lat: 12.97, Lng: 77.59}
	b := types.Point{Lat: 13.08, Lng: 80.27}
	if DistanceKm(a, b) != HaversineKm(a.Lat, a.Lng, b.Lat, b.Lng) {
		t.Fatal("DistanceKm should delegate to HaversineKm")
	}
}

func TestSortByDistance_Stable(t *testing.T) {
	type item struct {
		name string
		d    float64
	}
	items := []item{{"c", 3}, {"a1", 1}, {"b", 2}, {"a2", 1}}
	SortByDistance(items, func(i item) float64 { return i.d })

	want := []string{"a1", "a2", "b", "c"}
	for i, w := range want {
		if items[i].name != w {
			t.Fatalf("position %d: got %s, want %s", i, items[i].name, w)
		}
	}
}
