// README: Pricing rate definition for each vehicle type.
package pricing

import "glideway/internal/types"

type Rate struct {
	VehicleType string
	BaseFare    int64
	PerKm       int64
	PerMin      int64
	Currency    string
}

type PricingRequest struct {
	DistanceKm  float64
	DurationMin int
	VehicleType string
	// Seats splits the trip total into a per-seat fare when > 0.
	Seats int
}

type PricingResult struct {
	Total     types.Money
	PerSeat   types.Money
	Breakdown map[string]int64
}

// defaultRates applies when the rate table has no row for a vehicle type.
var defaultRates = map[string]Rate{
	"bike": {VehicleType: "bike", BaseFare: 20, PerKm: 6, PerMin: 1},
	"auto": {VehicleType: "auto", BaseFare: 30, PerKm: 10, PerMin: 1},
	"car":  {VehicleType: "car", BaseFare: 50, PerKm: 14, PerMin: 2},
	"suv":  {VehicleType: "suv", BaseFare: 70, PerKm: 18, PerMin: 2},
	"van":  {VehicleType: "van", BaseFare: 80, PerKm: 20, PerMin: 3},
}
