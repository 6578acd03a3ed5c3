// README: Pricing service computes fare estimates.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"

	"glideway/internal/types"
)

var ErrUnknownVehicle = errors.New("unknown vehicle type")

type RateStore interface {
	GetRate(ctx context.Context, vehicleType string) (Rate, error)
}

type Service struct {
	store    RateStore
	currency string
}

// NewService builds a pricing service. store may be nil, in which case only
// the built-in rates are used.
func NewService(store RateStore, currency string) *Service {
	return &Service{store: store, currency: currency}
}

func (s *Service) Quote(ctx context.Context, req PricingRequest) (PricingResult, error) {
	if req.DistanceKm < 0 || math.IsNaN(req.DistanceKm) {
		return PricingResult{}, fmt.Errorf("invalid distance %v", req.DistanceKm)
	}
	rate, err := s.rate(ctx, req.VehicleType)
	if err != nil {
		return PricingResult{}, err
	}

	breakdown := map[string]int64{
		"base":     rate.BaseFare,
		"distance": int64(math.Ceil(req.DistanceKm * float64(rate.PerKm))),
		"time":     int64(req.DurationMin) * rate.PerMin,
	}
	total := breakdown["base"] + breakdown["distance"] + breakdown["time"]

	perSeat := total
	if req.Seats > 0 {
		perSeat = int64(math.Ceil(float64(total) / float64(req.Seats)))
	}
	return PricingResult{
		Total:     types.Money{Amount: total, Currency: rate.Currency},
		PerSeat:   types.Money{Amount: perSeat, Currency: rate.Currency},
		Breakdown: breakdown,
	}, nil
}

// Estimate returns the trip total for a distance, ignoring duration.
func (s *Service) Estimate(ctx context.Context, distanceKm float64, vehicleType string) (types.Money, error) {
	res, err := s.Quote(ctx, PricingRequest{DistanceKm: distanceKm, VehicleType: vehicleType})
	if err != nil {
		return types.Money{}, err
	}
	return res.Total, nil
}

func (s *Service) rate(ctx context.Context, vehicleType string) (Rate, error) {
	if s.store != nil {
		r, err := s.store.GetRate(ctx, vehicleType)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ErrRateNotFound) {
			return Rate{}, err
		}
	}
	r, ok := defaultRates[vehicleType]
	if !ok {
		return Rate{}, fmt.Errorf("%w: %q", ErrUnknownVehicle, vehicleType)
	}
	r.Currency = s.currency
	return r, nil
}
