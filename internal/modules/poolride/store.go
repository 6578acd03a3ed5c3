// README: Pool ride store backed by PostgreSQL; seat mutations hold the offer row lock.
package poolride

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"glideway/internal/types"
)

const uniqueViolation = "23505"

const offerColumns = `
	id, owner_id, origin_label, destination_label,
	origin_lat, origin_lng, destination_lat, destination_lng,
	departure_at, seats, seats_available, fare_amount, fare_currency,
	vehicle_type, notes, status, cancel_reason,
	is_flexible_pickup, pickup_radius_km, detour_allowed, max_detour_km, max_wait_min,
	is_recurring_ride, recurring_days, is_recurring_instance, parent_id,
	route_distance_km, route_duration_min, created_at, updated_at`

const passengerColumns = `
	id, ride_id, user_id, name, avatar,
	pickup_address, pickup_lat, pickup_lng,
	dropoff_address, dropoff_lat, dropoff_lng,
	status, requested_at, updated_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, o *Offer) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO pool_rides (`+offerColumns+`)
			VALUES (
				$1, $2, $3, $4,
				$5, $6, $7, $8,
				$9, $10, $11, $12, $13,
				$14, $15, $16, $17,
				$18, $19, $20, $21, $22,
				$23, $24, $25, $26,
				$27, $28, $29, $30
			)`,
			string(o.ID), string(o.OwnerID), o.OriginLabel, o.DestinationLabel,
			o.Origin.Lat, o.Origin.Lng, o.Destination.Lat, o.Destination.Lng,
			o.DepartureAt, o.Seats, o.SeatsAvailable, o.FarePerSeat.Amount, o.FarePerSeat.Currency,
			o.VehicleType, o.Notes, string(o.Status), o.CancelReason,
			o.IsFlexiblePickup, o.PickupRadiusKm, o.DetourAllowed, o.MaxDetourKm, o.MaxWaitMin,
			o.IsRecurringRide, nonNilDays(o.RecurringDays), o.IsRecurringInstance, toStringPtr(o.ParentID),
			o.RouteDistanceKm, o.RouteDurationMin, o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return err
		}
		for i := range o.Passengers {
			if err := insertPassenger(ctx, tx, o.ID, &o.Passengers[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Offer, error) {
	return getOffer(ctx, s.db, id, false)
}

func getOffer(ctx context.Context, q querier, id types.ID, forUpdate bool) (*Offer, error) {
	sql := `SELECT ` + offerColumns + ` FROM pool_rides WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	o, err := scanOffer(q.QueryRow(ctx, sql, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := attachPassengers(ctx, q, []*Offer{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// withLockedOffer loads the offer under SELECT ... FOR UPDATE and runs fn in
// the same transaction. Concurrent seat decisions on one offer serialise here.
func (s *Store) withLockedOffer(ctx context.Context, id types.ID, fn func(tx pgx.Tx, o *Offer) error) (*Offer, error) {
	var out *Offer
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		o, err := getOffer(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := fn(tx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, id types.ID, patch Patch, now time.Time) (*Offer, error) {
	return s.withLockedOffer(ctx, id, func(tx pgx.Tx, o *Offer) error {
		if err := updateActive(o, patch, now); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE pool_rides
			SET origin_label = $2,
				destination_label = $3,
				origin_lat = $4, origin_lng = $5,
				destination_lat = $6, destination_lng = $7,
				departure_at = $8,
				seats = $9,
				seats_available = $10,
				fare_amount = $11,
				vehicle_type = $12,
				notes = $13,
				is_flexible_pickup = $14,
				pickup_radius_km = $15,
				detour_allowed = $16,
				max_detour_km = $17,
				max_wait_min = $18,
				updated_at = $19
			WHERE id = $1`,
			string(o.ID), o.OriginLabel, o.DestinationLabel,
			o.Origin.Lat, o.Origin.Lng, o.Destination.Lat, o.Destination.Lng,
			o.DepartureAt, o.Seats, o.SeatsAvailable, o.FarePerSeat.Amount,
			o.VehicleType, o.Notes,
			o.IsFlexiblePickup, o.PickupRadiusKm, o.DetourAllowed, o.MaxDetourKm, o.MaxWaitMin,
			o.UpdatedAt,
		)
		return err
	})
}

func (s *Store) Delete(ctx context.Context, id types.ID) error {
	_, err := s.withLockedOffer(ctx, id, func(tx pgx.Tx, o *Offer) error {
		if o.AcceptedCount() > 0 {
			return ErrHasAcceptedPassengers
		}
		_, err := tx.Exec(ctx, `DELETE FROM pool_rides WHERE id = $1`, string(id))
		return err
	})
	return err
}

func (s *Store) SetStatus(ctx context.Context, id types.ID, from []OfferStatus, to OfferStatus, reason string, now time.Time) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, f := range from {
		fromStrs[i] = string(f)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE pool_rides
		SET status = $2,
			cancel_reason = COALESCE(NULLIF($3, ''), cancel_reason),
			updated_at = $4
		WHERE id = $1 AND status = ANY($5)`,
		string(id), string(to), reason, now, fromStrs,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) AddPassenger(ctx context.Context, offerID types.ID, p Passenger) (*Offer, error) {
	o, err := s.withLockedOffer(ctx, offerID, func(tx pgx.Tx, o *Offer) error {
		if err := o.Admit(p); err != nil {
			return err
		}
		added := &o.Passengers[len(o.Passengers)-1]
		if err := insertPassenger(ctx, tx, o.ID, added); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE pool_rides SET updated_at = $2 WHERE id = $1`, string(o.ID), o.UpdatedAt)
		return err
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return nil, ErrDuplicateRequest
	}
	return o, err
}

// TransitionPassenger applies the status change and the matching seat delta.
// Both writes are conditional on the state read under the row lock, so a
// replayed or concurrent decision cannot apply the delta twice.
func (s *Store) TransitionPassenger(ctx context.Context, offerID, userID types.ID, to PassengerStatus, now time.Time) (*Offer, Transition, error) {
	var tr Transition
	o, err := s.withLockedOffer(ctx, offerID, func(tx pgx.Tx, o *Offer) error {
		var err error
		tr, err = o.ApplyTransition(userID, to, now)
		if err != nil || !tr.Changed {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE pool_ride_passengers
			SET status = $3, updated_at = $4
			WHERE id = $1 AND ride_id = $2 AND status = $5`,
			string(tr.Passenger.ID), string(offerID), string(tr.To), now, string(tr.From),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return ErrInvalidState
		}
		if tr.SeatDelta == 0 {
			_, err = tx.Exec(ctx, `UPDATE pool_rides SET updated_at = $2 WHERE id = $1`, string(offerID), now)
			return err
		}
		tag, err = tx.Exec(ctx, `
			UPDATE pool_rides
			SET seats_available = seats_available + $2, updated_at = $3
			WHERE id = $1 AND seats_available + $2 BETWEEN 0 AND seats`,
			string(offerID), tr.SeatDelta, now,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return ErrNoSeats
		}
		return nil
	})
	if err != nil {
		return nil, Transition{}, err
	}
	return o, tr, nil
}

func (s *Store) FindActive(ctx context.Context, f Filter) ([]*Offer, error) {
	where, args := buildFilter(f)
	return s.list(ctx, `SELECT `+offerColumns+` FROM pool_rides WHERE `+where+` ORDER BY departure_at, id`, args...)
}

// buildFilter renders f as a WHERE clause with positional arguments.
func buildFilter(f Filter) (string, []any) {
	args := []any{f.MinSeats}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	where := []string{"status = 'active'", "seats_available >= $1"}
	if f.ExcludeOwner != "" {
		where = append(where, "owner_id <> "+arg(string(f.ExcludeOwner)))
	}
	if f.MaxFare != nil {
		where = append(where, "fare_amount <= "+arg(*f.MaxFare))
	}
	if f.IDs != nil {
		where = append(where, "id = ANY("+arg(idStrings(f.IDs))+")")
	}
	if f.OriginText != "" {
		where = append(where, "origin_label ILIKE "+arg("%"+escapeLike(f.OriginText)+"%"))
	}
	if f.DestinationText != "" {
		where = append(where, "destination_label ILIKE "+arg("%"+escapeLike(f.DestinationText)+"%"))
	}

	// Every row, templates included, matches on its own departure. Templates
	// may also match on their weekdays when recurring offers are requested.
	var dated []string
	if f.DepartFrom != nil {
		dated = append(dated, "departure_at >= "+arg(*f.DepartFrom))
	}
	if f.DepartTo != nil {
		dated = append(dated, "departure_at < "+arg(*f.DepartTo))
	}
	if len(dated) > 0 {
		schedule := "(" + strings.Join(dated, " AND ") + ")"
		if f.IncludeRecurring {
			tmpl := "is_recurring_ride AND NOT is_recurring_instance"
			if f.Weekdays != nil {
				tmpl += " AND recurring_days && " + arg(f.Weekdays) + "::text[]"
			}
			schedule = "(" + schedule + " OR (" + tmpl + "))"
		}
		where = append(where, schedule)
	}
	return strings.Join(where, " AND "), args
}

func (s *Store) ExistsInstance(ctx context.Context, parentID types.ID, day time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pool_rides
			WHERE parent_id = $1 AND departure_at >= $2 AND departure_at < $3
		)`, string(parentID), day, day.Add(24*time.Hour),
	).Scan(&exists)
	return exists, err
}

func (s *Store) ListInstances(ctx context.Context, parentID types.ID) ([]*Offer, error) {
	return s.list(ctx, `SELECT `+offerColumns+` FROM pool_rides
		WHERE parent_id = $1 AND status = 'active' ORDER BY departure_at, id`, string(parentID))
}

func (s *Store) ListByOwner(ctx context.Context, ownerID types.ID) ([]*Offer, error) {
	return s.list(ctx, `SELECT `+offerColumns+` FROM pool_rides
		WHERE owner_id = $1 ORDER BY departure_at, id`, string(ownerID))
}

func (s *Store) ListByPassenger(ctx context.Context, userID types.ID) ([]*Offer, error) {
	return s.list(ctx, `SELECT `+offerColumns+` FROM pool_rides
		WHERE id IN (SELECT ride_id FROM pool_ride_passengers WHERE user_id = $1)
		ORDER BY departure_at, id`, string(userID))
}

func (s *Store) ListActive(ctx context.Context) ([]*Offer, error) {
	return s.list(ctx, `SELECT `+offerColumns+` FROM pool_rides WHERE status = 'active' ORDER BY departure_at, id`)
}

func (s *Store) list(ctx context.Context, sql string, args ...any) ([]*Offer, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Offer{}
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := attachPassengers(ctx, s.db, out); err != nil {
		return nil, err
	}
	return out, nil
}

func scanOffer(row pgx.Row) (*Offer, error) {
	var o Offer
	var parentID *string
	err := row.Scan(
		&o.ID, &o.OwnerID, &o.OriginLabel, &o.DestinationLabel,
		&o.Origin.Lat, &o.Origin.Lng, &o.Destination.Lat, &o.Destination.Lng,
		&o.DepartureAt, &o.Seats, &o.SeatsAvailable, &o.FarePerSeat.Amount, &o.FarePerSeat.Currency,
		&o.VehicleType, &o.Notes, &o.Status, &o.CancelReason,
		&o.IsFlexiblePickup, &o.PickupRadiusKm, &o.DetourAllowed, &o.MaxDetourKm, &o.MaxWaitMin,
		&o.IsRecurringRide, &o.RecurringDays, &o.IsRecurringInstance, &parentID,
		&o.RouteDistanceKm, &o.RouteDurationMin, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if parentID != nil {
		id := types.ID(*parentID)
		o.ParentID = &id
	}
	if len(o.RecurringDays) == 0 {
		o.RecurringDays = nil
	}
	return &o, nil
}

// attachPassengers loads every offer's requests in one query.
func attachPassengers(ctx context.Context, q querier, offers []*Offer) error {
	if len(offers) == 0 {
		return nil
	}
	byID := make(map[types.ID]*Offer, len(offers))
	ids := make([]string, len(offers))
	for i, o := range offers {
		byID[o.ID] = o
		ids[i] = string(o.ID)
	}
	rows, err := q.Query(ctx, `SELECT `+passengerColumns+` FROM pool_ride_passengers
		WHERE ride_id = ANY($1) ORDER BY requested_at, id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var p Passenger
		var rideID types.ID
		var pickupLat, pickupLng, dropoffLat, dropoffLng *float64
		if err := rows.Scan(
			&p.ID, &rideID, &p.UserID, &p.Name, &p.Avatar,
			&p.Pickup.Address, &pickupLat, &pickupLng,
			&p.Dropoff.Address, &dropoffLat, &dropoffLng,
			&p.Status, &p.RequestedAt, &p.UpdatedAt,
		); err != nil {
			return err
		}
		p.Pickup.Point = toPoint(pickupLat, pickupLng)
		p.Dropoff.Point = toPoint(dropoffLat, dropoffLng)
		if o, ok := byID[rideID]; ok {
			o.Passengers = append(o.Passengers, p)
		}
	}
	return rows.Err()
}

func insertPassenger(ctx context.Context, q querier, rideID types.ID, p *Passenger) error {
	pickupLat, pickupLng := fromPoint(p.Pickup.Point)
	dropoffLat, dropoffLng := fromPoint(p.Dropoff.Point)
	_, err := q.Exec(ctx, `
		INSERT INTO pool_ride_passengers (`+passengerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		string(p.ID), string(rideID), string(p.UserID), p.Name, p.Avatar,
		p.Pickup.Address, pickupLat, pickupLng,
		p.Dropoff.Address, dropoffLat, dropoffLng,
		string(p.Status), p.RequestedAt, p.UpdatedAt,
	)
	return err
}

func toPoint(lat, lng *float64) *types.Point {
	if lat == nil || lng == nil {
		return nil
	}
	return &types.Point{Lat: *lat, Lng: *lng}
}

func fromPoint(p *types.Point) (*float64, *float64) {
	if p == nil {
		return nil, nil
	}
	lat, lng := p.Lat, p.Lng
	return &lat, &lng
}

func toStringPtr(id *types.ID) *string {
	if id == nil {
		return nil
	}
	v := string(*id)
	return &v
}

func idStrings(ids []types.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func nonNilDays(days []string) []string {
	if days == nil {
		return []string{}
	}
	return days
}

// escapeLike escapes ILIKE wildcards using the default backslash escape.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
