// README: Runner cases: environment, offer lifecycle, search, seat race and search load against a live API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"glideway/internal/infra"
	"glideway/migrations"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	runID  string
	rideID string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
		runID: fmt.Sprintf("bench-%d", time.Now().UnixNano()),
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) driver() string { return r.runID + "-driver" }

func (r *Runner) rider(i int) string { return fmt.Sprintf("%s-rider-%d", r.runID, i) }

func (r *Runner) token(uid, role string) (string, error) {
	return infra.SignToken(r.cfg.JWTSecret, uid, role, time.Hour, map[string]interface{}{"name": uid})
}

// call sends a JSON request as uid and decodes the JSON response into out
// when out is non-nil. An empty uid sends no Authorization header.
func (r *Runner) call(ctx context.Context, method, path, uid, role string, body, out any) (int, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		tok, err := r.token(uid, role)
		if err != nil {
			return 0, 0, err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	latency := time.Since(start)
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, latency, fmt.Errorf("decode: %w", err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, latency, nil
}

type rideView struct {
	Ride struct {
		ID             string `json:"id"`
		Seats          int    `json:"seats"`
		SeatsAvailable int    `json:"seatsAvailable"`
		Status         string `json:"status"`
		Passengers     []struct {
			UserID string `json:"userId"`
			Status string `json:"status"`
		} `json:"passengers"`
	} `json:"ride"`
}

func (r *Runner) offerBody(seats int) map[string]any {
	return map[string]any{
		"originLabel":      "MG Road",
		"destinationLabel": "Kempegowda Airport",
		"origin":           map[string]float64{"lat": 12.9756, "lng": 77.6066},
		"destination":      map[string]float64{"lat": 13.1986, "lng": 77.7066},
		"departureAt":      time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
		"seats":            seats,
		"farePerSeat":      120,
		"vehicleType":      "car",
	}
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name: "Env: Postgres connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusSkip, Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: StatusSkip, Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "Migration: apply (optional)",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: StatusSkip, Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: StatusFail, Note: "db not configured"}
				}
				if err := migrations.Apply(ctx, r.db); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "Migration: tables exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusSkip, Note: "db not configured"}
				}
				for _, t := range []string{"pool_rides", "pool_ride_passengers", "pricing_rates"} {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: StatusFail, Note: err.Error()}
					}
					if !exists {
						return Result{Status: StatusFail, Note: "missing table: " + t}
					}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "API: health",
			Run: func(ctx context.Context, r *Runner) Result {
				code, latency, err := r.call(ctx, http.MethodGet, "/health", "", "", nil, nil)
				return expect(code, latency, err, http.StatusOK)
			},
		},
		{
			Name: "API: missing token -> 401",
			Run: func(ctx context.Context, r *Runner) Result {
				code, latency, err := r.call(ctx, http.MethodGet, "/api/poolrides/mine", "", "", nil, nil)
				return expect(code, latency, err, http.StatusUnauthorized)
			},
		},
		{
			Name: "Offer: rider cannot create -> 403",
			Run: func(ctx context.Context, r *Runner) Result {
				code, latency, err := r.call(ctx, http.MethodPost, "/api/poolrides/createpool", r.rider(0), "rider", r.offerBody(3), nil)
				return expect(code, latency, err, http.StatusForbidden)
			},
		},
		{
			Name: "Offer: create (missing fields -> 400)",
			Run: func(ctx context.Context, r *Runner) Result {
				code, latency, err := r.call(ctx, http.MethodPost, "/api/poolrides/createpool", r.driver(), "driver", map[string]any{}, nil)
				return expect(code, latency, err, http.StatusBadRequest)
			},
		},
		{
			Name: "Offer: create (valid)",
			Run: func(ctx context.Context, r *Runner) Result {
				var v rideView
				code, latency, err := r.call(ctx, http.MethodPost, "/api/poolrides/createpool", r.driver(), "driver", r.offerBody(3), &v)
				res := expect(code, latency, err, http.StatusCreated)
				if res.Status == StatusPass {
					r.rideID = v.Ride.ID
					res.Note = "id=" + v.Ride.ID
				}
				return res
			},
		},
		{
			Name: "Search: nearby offer is listed",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.rideID == "" {
					return Result{Status: StatusSkip, Note: "no offer created"}
				}
				var v struct {
					Rides []struct {
						ID string `json:"id"`
					} `json:"rides"`
				}
				code, latency, err := r.call(ctx, http.MethodGet, "/api/poolrides/search?originLat=12.976&originLng=77.607&maxDistance=3", r.rider(0), "rider", nil, &v)
				res := expect(code, latency, err, http.StatusOK)
				if res.Status != StatusPass {
					return res
				}
				for _, ride := range v.Rides {
					if ride.ID == r.rideID {
						return res
					}
				}
				return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("offer missing from %d results", len(v.Rides))}
			},
		},
		{
			Name: "Seat: request",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.rideID == "" {
					return Result{Status: StatusSkip, Note: "no offer created"}
				}
				code, latency, err := r.call(ctx, http.MethodPost, "/api/poolrides/"+r.rideID+"/join", r.rider(0), "rider", nil, nil)
				return expect(code, latency, err, http.StatusCreated)
			},
		},
		{
			Name: "Seat: duplicate request -> 400",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.rideID == "" {
					return Result{Status: StatusSkip, Note: "no offer created"}
				}
				code, latency, err := r.call(ctx, http.MethodPost, "/api/poolrides/"+r.rideID+"/join", r.rider(0), "rider", nil, nil)
				return expect(code, latency, err, http.StatusBadRequest)
			},
		},
		{
			Name: "Pricing: fare estimate",
			Run: func(ctx context.Context, r *Runner) Result {
				code, latency, err := r.call(ctx, http.MethodGet,
					"/api/poolrides/fare-estimate?originLat=12.9756&originLng=77.6066&destinationLat=13.1986&destinationLng=77.7066&seats=3",
					r.rider(0), "rider", nil, nil)
				return expect(code, latency, err, http.StatusOK)
			},
		},
		{
			Name: "Concurrency: accept race never oversells",
			Run:  seatRace,
		},
		{
			Name: "Perf: search throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, "/api/poolrides/search?originLat=12.976&originLng=77.607")
			},
		},
		{
			Name: "Offer: owner cancel",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.rideID == "" {
					return Result{Status: StatusSkip, Note: "no offer created"}
				}
				var v rideView
				code, latency, err := r.call(ctx, http.MethodPost, "/api/poolrides/"+r.rideID+"/cancel", r.driver(), "driver",
					map[string]string{"reason": "bench cleanup"}, &v)
				res := expect(code, latency, err, http.StatusOK)
				if res.Status == StatusPass && v.Ride.Status != "cancelled" {
					return Result{Status: StatusFail, Latency: latency, Note: "status=" + v.Ride.Status}
				}
				return res
			},
		},
	}
}

func expect(code int, latency time.Duration, err error, want int) Result {
	if err != nil {
		return Result{Status: StatusFail, Latency: latency, Note: err.Error()}
	}
	if code != want {
		return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("status=%d want=%d", code, want)}
	}
	return Result{Status: StatusPass, Latency: latency, Note: fmt.Sprintf("status=%d", code)}
}

// seatRace creates a two-seat offer, has every rider request a seat, then
// accepts all of them at once. At most two accepts may succeed.
func seatRace(ctx context.Context, r *Runner) Result {
	const seats = 2
	var created rideView
	code, _, err := r.call(ctx, http.MethodPost, "/api/poolrides/createpool", r.driver(), "driver", r.offerBody(seats), &created)
	if err != nil || code != http.StatusCreated {
		return Result{Status: StatusFail, Note: fmt.Sprintf("create: status=%d err=%v", code, err)}
	}
	id := created.Ride.ID
	path := "/api/poolrides/" + id

	riders := r.cfg.Concurrency
	for i := 1; i <= riders; i++ {
		if code, _, err := r.call(ctx, http.MethodPost, path+"/join", r.rider(i), "rider", nil, nil); err != nil || code != http.StatusCreated {
			return Result{Status: StatusFail, Note: fmt.Sprintf("join %d: status=%d err=%v", i, code, err)}
		}
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		succ int
		errs int
	)
	start := time.Now()
	for i := 1; i <= riders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code, _, err := r.call(ctx, http.MethodPut, path+"/passenger-request", r.driver(), "driver",
				map[string]string{"passengerId": r.rider(i), "status": "accepted"}, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs++
			case code == http.StatusOK:
				succ++
			}
		}(i)
	}
	wg.Wait()
	latency := time.Since(start)

	var final rideView
	if code, _, err := r.call(ctx, http.MethodGet, path, r.driver(), "driver", nil, &final); err != nil || code != http.StatusOK {
		return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("reload: status=%d err=%v", code, err)}
	}
	accepted := 0
	for _, p := range final.Ride.Passengers {
		if p.Status == "accepted" {
			accepted++
		}
	}
	_, _, _ = r.call(ctx, http.MethodPost, path+"/cancel", r.driver(), "driver", map[string]string{"reason": "bench cleanup"}, nil)

	note := fmt.Sprintf("riders=%d success=%d accepted=%d seatsAvailable=%d errors=%d",
		riders, succ, accepted, final.Ride.SeatsAvailable, errs)
	if accepted > seats || succ > seats || final.Ride.SeatsAvailable < 0 || accepted+final.Ride.SeatsAvailable != seats {
		return Result{Status: StatusFail, Latency: latency, Note: note}
	}
	return Result{Status: StatusPass, Latency: latency, Note: note}
}

func perfLoad(ctx context.Context, r *Runner, path string) Result {
	tok, err := r.token(r.rider(0), "rider")
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	end := time.Now().Add(r.cfg.Duration)
	var (
		count    int64
		errCount int64
		mu       sync.Mutex
		wg       sync.WaitGroup
	)

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				req, _ := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+path, nil)
				req.Header.Set("Authorization", "Bearer "+tok)
				resp, err := r.httpc.Do(req)
				if err != nil {
					mu.Lock()
					errCount++
					mu.Unlock()
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				mu.Lock()
				if resp.StatusCode == http.StatusOK {
					count++
				} else {
					errCount++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("no requests completed, errors=%d", errCount)}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	note := fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)
	if errCount > count/10 {
		return Result{Status: StatusFail, Note: note}
	}
	return Result{Status: StatusPass, Note: note}
}
