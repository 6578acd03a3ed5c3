// README: End-to-end handler tests over in-memory stores and real JWTs.
package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	httptransport "glideway/internal/http"
	"glideway/internal/infra"
	"glideway/internal/modules/poolride"
	"glideway/internal/modules/pricing"
	"glideway/internal/types"
)

const testSecret = "handler-test-secret"

type testAPI struct {
	t      *testing.T
	router http.Handler
	depart time.Time
	tokens map[string]string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	svc := poolride.NewService(poolride.Deps{
		Store:   poolride.NewMemoryStore(),
		Index:   poolride.NewMemoryGeoIndex(),
		Pricing: pricing.NewService(nil, "INR"),
		Logger:  log,
	})
	srv := httptransport.NewServer(httptransport.ServerDeps{
		PoolRides: svc,
		Verifier:  infra.NewJWTVerifier(testSecret),
		Logger:    log,
	})
	return &testAPI{
		t:      t,
		router: srv.Routes(),
		depart: time.Now().UTC().Add(48 * time.Hour).Truncate(time.Minute),
		tokens: map[string]string{},
	}
}

func (a *testAPI) token(uid, role string) string {
	key := uid + "/" + role
	if tok, ok := a.tokens[key]; ok {
		return tok
	}
	tok, err := infra.SignToken(testSecret, uid, role, time.Hour, map[string]interface{}{"name": "User " + uid})
	if err != nil {
		a.t.Fatalf("sign token: %v", err)
	}
	a.tokens[key] = tok
	return tok
}

func (a *testAPI) do(method, path, uid, role string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		req.Header.Set("Authorization", "Bearer "+a.token(uid, role))
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

type rideBody struct {
	Ride struct {
		ID             string `json:"id"`
		Seats          int    `json:"seats"`
		SeatsAvailable int    `json:"seatsAvailable"`
		Status         string `json:"status"`
		Date           string `json:"date"`
		Time           string `json:"time"`
		Passengers     []struct {
			ID     string `json:"id"`
			UserID string `json:"userId"`
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"passengers"`
		SuggestedFare *types.Money `json:"suggestedFare"`
	} `json:"ride"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func (a *testAPI) createBody() map[string]any {
	return map[string]any{
		"originLabel":      "MG Road",
		"destinationLabel": "Airport",
		"origin":           map[string]float64{"lat": 12.9756, "lng": 77.6066},
		"destination":      map[string]float64{"lat": 13.1986, "lng": 77.7066},
		"departureAt":      a.depart.Format(time.RFC3339),
		"seats":            3,
		"farePerSeat":      150,
		"vehicleType":      "car",
	}
}

func (a *testAPI) createRide(owner string) string {
	a.t.Helper()
	w := a.do(http.MethodPost, "/api/poolrides/createpool", owner, "driver", a.createBody())
	if w.Code != http.StatusCreated {
		a.t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	return decode[rideBody](a.t, w).Ride.ID
}

func TestCreate_RequiresAuthAndDriverRole(t *testing.T) {
	a := newTestAPI(t)
	if w := a.do(http.MethodPost, "/api/poolrides/createpool", "", "", a.createBody()); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w := a.do(http.MethodPost, "/api/poolrides/createpool", "rider1", "rider", a.createBody()); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestCreate_ValidationFields(t *testing.T) {
	a := newTestAPI(t)
	body := a.createBody()
	delete(body, "origin")
	body["seats"] = 0
	body["vehicleType"] = "boat"
	w := a.do(http.MethodPost, "/api/poolrides/createpool", "driver1", "driver", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	resp := decode[struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}](t, w)
	for _, f := range []string{"origin", "seats", "vehicleType"} {
		if _, ok := resp.Fields[f]; !ok {
			t.Errorf("missing field %q in %v", f, resp.Fields)
		}
	}

	body = a.createBody()
	delete(body, "departureAt")
	body["date"] = a.depart.Format("2006-01-02")
	w = a.do(http.MethodPost, "/api/poolrides/createpool", "driver1", "driver", body)
	if w.Code != http.StatusBadRequest || !bytes.Contains(w.Body.Bytes(), []byte(`"time"`)) {
		t.Fatalf("expected time to be required, got %d %s", w.Code, w.Body.String())
	}

	body["time"] = "09:30"
	w = a.do(http.MethodPost, "/api/poolrides/createpool", "driver1", "driver", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("date and time create: %d %s", w.Code, w.Body.String())
	}
	ride := decode[rideBody](t, w).Ride
	if ride.Time != "09:30" || ride.SuggestedFare == nil {
		t.Fatalf("unexpected ride %+v", ride)
	}

	body["date"] = "2001-01-01"
	w = a.do(http.MethodPost, "/api/poolrides/createpool", "driver1", "driver", body)
	if w.Code != http.StatusBadRequest || !bytes.Contains(w.Body.Bytes(), []byte("departureAt")) {
		t.Fatalf("expected past departure rejection, got %d %s", w.Code, w.Body.String())
	}
}

func TestSeatLifecycleOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	id := a.createRide("driver1")

	w := a.do(http.MethodPost, "/api/poolrides/"+id+"/join", "rider1", "rider", map[string]any{
		"pickup": map[string]any{"address": "Church St", "point": map[string]float64{"lat": 12.975, "lng": 77.605}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("join: %d %s", w.Code, w.Body.String())
	}
	ride := decode[rideBody](t, w).Ride
	if len(ride.Passengers) != 1 || ride.Passengers[0].Name != "User rider1" || ride.SeatsAvailable != 3 {
		t.Fatalf("unexpected ride after join %+v", ride)
	}

	if w := a.do(http.MethodPost, "/api/poolrides/"+id+"/request-seat", "rider1", "rider", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("duplicate request: expected 400, got %d", w.Code)
	}
	if w := a.do(http.MethodPost, "/api/poolrides/"+id+"/join", "driver1", "driver", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("own ride: expected 400, got %d", w.Code)
	}

	decide := map[string]any{"passengerId": "rider1", "status": "accepted"}
	if w := a.do(http.MethodPut, "/api/poolrides/"+id+"/passenger-request", "rider2", "rider", decide); w.Code != http.StatusForbidden {
		t.Fatalf("non-owner decide: expected 403, got %d", w.Code)
	}
	w = a.do(http.MethodPut, "/api/poolrides/"+id+"/passenger-request", "driver1", "driver", decide)
	if w.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", w.Code, w.Body.String())
	}
	if got := decode[rideBody](t, w).Ride.SeatsAvailable; got != 2 {
		t.Fatalf("expected 2 seats after accept, got %d", got)
	}

	// replaying the decision leaves the count alone
	w = a.do(http.MethodPut, "/api/poolrides/"+id+"/passenger-request", "driver1", "driver", decide)
	if got := decode[rideBody](t, w).Ride.SeatsAvailable; w.Code != http.StatusOK || got != 2 {
		t.Fatalf("replay: %d seats=%d", w.Code, got)
	}

	w = a.do(http.MethodPost, "/api/poolrides/"+id+"/cancel", "rider1", "rider", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rider cancel: %d %s", w.Code, w.Body.String())
	}
	ride = decode[rideBody](t, w).Ride
	if ride.SeatsAvailable != 3 || ride.Status != "active" || ride.Passengers[0].Status != "cancelled" {
		t.Fatalf("unexpected ride after rider cancel %+v", ride)
	}
}

func TestDecideByPathAndRemovePassenger(t *testing.T) {
	a := newTestAPI(t)
	id := a.createRide("driver1")
	a.do(http.MethodPost, "/api/poolrides/"+id+"/join", "rider1", "rider", nil)
	w := a.do(http.MethodPost, "/api/poolrides/"+id+"/join", "rider2", "rider", nil)
	requestID := decode[rideBody](t, w).Ride.Passengers[1].ID

	w = a.do(http.MethodPatch, "/api/poolrides/"+id+"/passengers/"+requestID, "driver1", "driver", map[string]string{"status": "accepted"})
	if w.Code != http.StatusOK || decode[rideBody](t, w).Ride.SeatsAvailable != 2 {
		t.Fatalf("accept by request id: %d %s", w.Code, w.Body.String())
	}
	w = a.do(http.MethodPatch, "/api/poolrides/"+id+"/passengers/rider1", "driver1", "driver", map[string]string{"status": "maybe"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad status: expected 400, got %d", w.Code)
	}
	if w := a.do(http.MethodPatch, "/api/poolrides/"+id+"/passengers/ghost", "driver1", "driver", map[string]string{"status": "accepted"}); w.Code != http.StatusNotFound {
		t.Fatalf("unknown passenger: expected 404, got %d", w.Code)
	}

	w = a.do(http.MethodDelete, "/api/poolrides/"+id+"/passengers/rider2", "driver1", "driver", nil)
	if w.Code != http.StatusOK || decode[rideBody](t, w).Ride.SeatsAvailable != 3 {
		t.Fatalf("owner removes rider: %d %s", w.Code, w.Body.String())
	}
	if w := a.do(http.MethodDelete, "/api/poolrides/"+id+"/passengers/rider1", "rider2", "rider", nil); w.Code != http.StatusForbidden {
		t.Fatalf("rider removing another: expected 403, got %d", w.Code)
	}
}

func TestCancelOfferVersusDelete(t *testing.T) {
	a := newTestAPI(t)
	id := a.createRide("driver1")
	a.do(http.MethodPost, "/api/poolrides/"+id+"/join", "rider1", "rider", nil)
	a.do(http.MethodPut, "/api/poolrides/"+id+"/passenger-request", "driver1", "driver", map[string]any{"passengerId": "rider1", "status": "accepted"})

	if w := a.do(http.MethodDelete, "/api/poolrides/"+id, "driver1", "driver", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("delete with accepted rider: expected 400, got %d", w.Code)
	}
	w := a.do(http.MethodPost, "/api/poolrides/"+id+"/cancel", "driver1", "driver", map[string]string{"reason": "flat tyre"})
	if w.Code != http.StatusOK || decode[rideBody](t, w).Ride.Status != "cancelled" {
		t.Fatalf("owner cancel: %d %s", w.Code, w.Body.String())
	}
	if w := a.do(http.MethodPost, "/api/poolrides/"+id+"/join", "rider2", "rider", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("join cancelled ride: expected 400, got %d", w.Code)
	}
	if w := a.do(http.MethodPost, "/api/poolrides/"+id+"/complete", "driver1", "driver", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("complete cancelled ride: expected 400, got %d", w.Code)
	}
}

func TestGetUpdateDeleteAndLists(t *testing.T) {
	a := newTestAPI(t)
	id := a.createRide("driver1")

	if w := a.do(http.MethodGet, "/api/poolrides/not-a-uuid", "rider1", "rider", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed id: expected 400, got %d", w.Code)
	}
	if w := a.do(http.MethodGet, "/api/poolrides/"+types.NewID().String(), "rider1", "rider", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown id: expected 404, got %d", w.Code)
	}
	if w := a.do(http.MethodGet, "/api/poolrides/"+id, "rider1", "rider", nil); w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}

	if w := a.do(http.MethodPut, "/api/poolrides/"+id+"/update", "rider1", "rider", map[string]any{"seats": 4}); w.Code != http.StatusForbidden {
		t.Fatalf("non-owner update: expected 403, got %d", w.Code)
	}
	w := a.do(http.MethodPut, "/api/poolrides/"+id+"/update?propagate=true", "driver1", "driver", map[string]any{"seats": 4, "notes": "quiet ride"})
	if w.Code != http.StatusOK || decode[rideBody](t, w).Ride.SeatsAvailable != 4 {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}

	a.do(http.MethodPost, "/api/poolrides/"+id+"/join", "rider1", "rider", nil)
	mine := decode[struct {
		Count int `json:"count"`
	}](t, a.do(http.MethodGet, "/api/poolrides/mine", "driver1", "driver", nil))
	joined := decode[struct {
		Count int `json:"count"`
	}](t, a.do(http.MethodGet, "/api/poolrides/joined", "rider1", "rider", nil))
	if mine.Count != 1 || joined.Count != 1 {
		t.Fatalf("mine=%d joined=%d", mine.Count, joined.Count)
	}

	if w := a.do(http.MethodDelete, "/api/poolrides/"+id, "driver1", "driver", nil); w.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", w.Code, w.Body.String())
	}
	if w := a.do(http.MethodGet, "/api/poolrides/"+id, "rider1", "rider", nil); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", w.Code)
	}
}

func TestSearchOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	id := a.createRide("driver1")

	type searchBody struct {
		Count int `json:"count"`
		Rides []struct {
			ID               string   `json:"id"`
			OriginDistanceKm *float64 `json:"originDistanceKm"`
		} `json:"rides"`
	}

	w := a.do(http.MethodGet, "/api/poolrides/search?originLat=12.976&originLng=77.607&maxDistance=2", "rider1", "rider", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search: %d %s", w.Code, w.Body.String())
	}
	res := decode[searchBody](t, w)
	if res.Count != 1 || res.Rides[0].ID != id || res.Rides[0].OriginDistanceKm == nil {
		t.Fatalf("unexpected search result %+v", res)
	}

	w = a.do(http.MethodGet, "/api/poolrides/search?origin=mg&date="+a.depart.Format("2006-01-02"), "rider1", "rider", nil)
	if res := decode[searchBody](t, w); res.Count != 1 {
		t.Fatalf("text search: %s", w.Body.String())
	}

	// owners do not see their own rides
	w = a.do(http.MethodGet, "/api/poolrides/search?origin=mg", "driver1", "driver", nil)
	if res := decode[searchBody](t, w); res.Count != 0 || res.Rides == nil {
		t.Fatalf("owner search: %s", w.Body.String())
	}

	if w := a.do(http.MethodGet, "/api/poolrides/search?originLat=12.9", "rider1", "rider", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("half coordinate: expected 400, got %d", w.Code)
	}
	if w := a.do(http.MethodGet, "/api/poolrides/search?date=03/04/2026", "rider1", "rider", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad date: expected 400, got %d", w.Code)
	}
	if w := a.do(http.MethodGet, "/api/poolrides/search?nearbyDays=-2", "rider1", "rider", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("negative nearbyDays: expected 400, got %d", w.Code)
	}
	for _, d := range []string{"NaN", "Inf", "-Inf"} {
		w := a.do(http.MethodGet, "/api/poolrides/search?origin=mg&maxDistance="+d, "rider1", "rider", nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("maxDistance=%s: expected 400, got %d", d, w.Code)
		}
		resp := decode[struct {
			Fields map[string]string `json:"fields"`
		}](t, w)
		if _, ok := resp.Fields["maxDistance"]; !ok {
			t.Fatalf("maxDistance=%s: missing field error in %s", d, w.Body.String())
		}
	}
}

func TestFareEstimate(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(http.MethodGet, "/api/poolrides/fare-estimate?originLat=12.9756&originLng=77.6066&destinationLat=13.1986&destinationLng=77.7066&vehicleType=car&seats=2", "rider1", "rider", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("fare estimate: %d %s", w.Code, w.Body.String())
	}
	est := decode[struct {
		DistanceKm float64     `json:"distanceKm"`
		Source     string      `json:"source"`
		Total      types.Money `json:"total"`
		PerSeat    types.Money `json:"perSeat"`
	}](t, w)
	if est.Source != "haversine" || est.Total.Currency != "INR" || est.PerSeat.Amount*2 < est.Total.Amount {
		t.Fatalf("unexpected estimate %+v", est)
	}

	if w := a.do(http.MethodGet, "/api/poolrides/fare-estimate?originLat=1", "rider1", "rider", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing coordinates: expected 400, got %d", w.Code)
	}
}

func TestRealtimeWithoutBroker(t *testing.T) {
	a := newTestAPI(t)
	if w := a.do(http.MethodGet, "/api/ws", "rider1", "rider", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestConcurrentAcceptsOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	id := a.createRide("driver1")
	const riders = 6
	for i := 0; i < riders; i++ {
		a.do(http.MethodPost, "/api/poolrides/"+id+"/join", fmt.Sprintf("rider%d", i), "rider", nil)
	}
	// pre-mint the owner token so goroutines only read the cache
	a.token("driver1", "driver")

	codes := make(chan int, riders)
	for i := 0; i < riders; i++ {
		go func(i int) {
			w := a.do(http.MethodPut, "/api/poolrides/"+id+"/passenger-request", "driver1", "driver",
				map[string]any{"passengerId": fmt.Sprintf("rider%d", i), "status": "accepted"})
			codes <- w.Code
		}(i)
	}
	ok := 0
	for i := 0; i < riders; i++ {
		if <-codes == http.StatusOK {
			ok++
		}
	}
	if ok != 3 {
		t.Fatalf("expected 3 accepted, got %d", ok)
	}
	ride := decode[rideBody](t, a.do(http.MethodGet, "/api/poolrides/"+id, "driver1", "driver", nil)).Ride
	if ride.SeatsAvailable != 0 {
		t.Fatalf("expected 0 seats, got %d", ride.SeatsAvailable)
	}
}
