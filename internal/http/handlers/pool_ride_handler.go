// README: Pool ride handlers: offers, search, seat requests and fare estimates.
package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"glideway/internal/http/middleware"
	"glideway/internal/modules/poolride"
	"glideway/internal/types"
)

type PoolRideHandler struct {
	svc *poolride.Service
}

func NewPoolRideHandler(svc *poolride.Service) *PoolRideHandler {
	return &PoolRideHandler{svc: svc}
}

func caller(c *gin.Context) types.ID {
	return types.ID(middleware.CallerUID(c))
}

// offerID reads :id and writes a 400 when it is malformed.
func offerID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeValidation(c, map[string]string{"id": "must be a valid ride id"})
		return "", false
	}
	return types.ID(id), true
}

func (h *PoolRideHandler) Create(c *gin.Context) {
	var req createPoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	loc := h.svc.Location()
	cmd, fields := req.command(caller(c), loc)
	if fields != nil {
		writeValidation(c, fields)
		return
	}
	o, err := h.svc.CreateOffer(c.Request.Context(), cmd)
	if err != nil {
		writePoolRideError(c, err)
		return
	}
	resp := toOfferResponse(o, loc)
	if fare, ok := h.svc.SuggestedFare(c.Request.Context(), o); ok {
		resp.SuggestedFare = &fare
	}
	writeJSON(c, http.StatusCreated, gin.H{"ride": resp})
}

func (h *PoolRideHandler) Search(c *gin.Context) {
	var q searchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, http.StatusBadRequest, "invalid query")
		return
	}
	loc := h.svc.Location()
	criteria, fields := q.criteria(caller(c), loc)
	if fields != nil {
		writeValidation(c, fields)
		return
	}
	results, err := h.svc.Search(c.Request.Context(), criteria)
	if err != nil {
		writePoolRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": toSearchResponses(results, loc), "count": len(results)})
}

func (h *PoolRideHandler) FareEstimate(c *gin.Context) {
	var q fareEstimateQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeValidation(c, map[string]string{"coordinates": "originLat, originLng, destinationLat and destinationLng are required"})
		return
	}
	vehicle := strings.ToLower(strings.TrimSpace(q.VehicleType))
	if vehicle == "" {
		vehicle = "car"
	}
	seats := q.Seats
	if seats < 1 {
		seats = 1
	}
	est, err := h.svc.EstimateFare(c.Request.Context(),
		types.Point{Lat: *q.OriginLat, Lng: *q.OriginLng},
		types.Point{Lat: *q.DestinationLat, Lng: *q.DestinationLng},
		vehicle, seats)
	if err != nil {
		writePoolRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, fareEstimateResponse{
		DistanceKm:  est.DistanceKm,
		DurationMin: est.DurationMin,
		Source:      est.Source,
		Total:       est.Total,
		PerSeat:     est.PerSeat,
	})
}

func (h *PoolRideHandler) ListMine(c *gin.Context) {
	offers, err := h.svc.ListMine(c.Request.Context(), caller(c))
	if err != nil {
		writePoolRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": toOfferResponses(offers, h.svc.Location()), "count": len(offers)})
}

func (h *PoolRideHandler) ListJoined(c *gin.Context) {
	offers, err := h.svc.ListJoined(c.Request.Context(), caller(c))
	if err != nil {
		writePoolRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": toOfferResponses(offers, h.svc.Location()), "count": len(offers)})
}

func (h *PoolRideHandler) Get(c *gin.Context) {
	id, ok := offerID(c)
	if !ok {
		return
	}
	o, err := h.svc.GetOffer(c.Request.Context(), id)
	if err != nil {
		writePoolRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride": toOfferResponse(o, h.svc.Location())})
}

func (h *PoolRideHandler) Update(c *gin.Context) {
	id, ok := offerID(c)
	if !ok {
		return
	}
	var req updatePoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	loc := h.svc.Location()
	patch, fields := req.patch(loc)
	if fields != nil {
		writeValidation(c, fields)
		return
	}
	propagate, _ := strconv.ParseBool(c.Query("propagate"))
	res, err := h.svc.UpdateOffer(c.Request.Context(), poolride.UpdateOfferCommand{
		OfferID:   id,
		CallerID:  caller(c),
		Patch:     patch,
		Propagate: propagate,
	})
	if err != nil {
		writePoolRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride": toOfferResponse(res.Offer, loc), "instancesUpdated": res.InstancesUpdated})
}

func (h *PoolRideHandler) Delete(c *gin.Context) {
	id, ok := offerID(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteOffer(c.Request.Context(), id, caller(c)); err != nil {
		writePoolRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"deleted": true, "id": id})
}

func (h *PoolRideHandler) Join(c *gin.Context) {
	id, ok := offerID(c)
	if !ok {
		return
	}
	var req joinRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	o, err := h.svc.RequestSeat(c.Request.Context(), poolride.RequestSeatCommand{
		OfferID: id,
		RiderID: caller(c),
		Name:    middleware.CallerName(c),
		Avatar:  middleware.CallerAvatar(c),
		Pickup:  req.Pickup.stop(),
		Dropoff: req.Dropoff.stop(),
	})
	if err != nil {
		writePoolRideError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"ride": toOfferResponse(o, h.svc.Location())})
}

// DecideByBody handles PUT /:id/passenger-request with passengerId in the body.
func (h *PoolRideHandler) DecideByBody(c *gin.Context) {
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.PassengerID) == "" {
		writeValidation(c, map[string]string{"passengerId": "is required"})
		return
	}
	h.decide(c, req.PassengerID, req.Status)
}

// DecideByPath handles PATCH /:id/passengers/:passengerId. A cancelled status
// is routed to the cancel flow so the owner can drop an accepted rider.
func (h *PoolRideHandler) DecideByPath(c *gin.Context) {
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if poolride.PassengerStatus(req.Status) == poolride.PassengerCancelled {
		h.cancelRequest(c, c.Param("passengerId"))
		return
	}
	h.decide(c, c.Param("passengerId"), req.Status)
}

func (h *PoolRideHandler) decide(c *gin.Context, passenger, status string) {
	id, ok := offerID(c)
	if !ok {
		return
	}
	o, err := h.svc.DecideRequest(c.Request.Context(), poolride.DecideCommand{
		OfferID:   id,
		CallerID:  caller(c),
		Passenger: types.ID(strings.TrimSpace(passenger)),
		Decision:  poolride.PassengerStatus(strings.ToLower(strings.TrimSpace(status))),
	})
	if err != nil {
		writePoolRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride": toOfferResponse(o, h.svc.Location())})
}

// RemovePassenger handles DELETE /:id/passengers/:passengerId.
func (h *PoolRideHandler) RemovePassenger(c *gin.Context) {
	h.cancelRequest(c, c.Param("passengerId"))
}

func (h *PoolRideHandler) cancelRequest(c *gin.Context, passenger string) {
	id, ok := offerID(c)
	if !ok {
		return
	}
	o, err := h.svc.CancelRequest(c.Request.Context(), poolride.CancelRequestCommand{
		OfferID:   id,
		CallerID:  caller(c),
		Passenger: types.ID(strings.TrimSpace(passenger)),
	})
	if err != nil {
		writePoolRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride": toOfferResponse(o, h.svc.Location())})
}

// Cancel handles POST /:id/cancel. The owner cancels the whole ride, or one
// passenger when passengerId is given; anyone else withdraws their own request.
func (h *PoolRideHandler) Cancel(c *gin.Context) {
	id, ok := offerID(c)
	if !ok {
		return
	}
	var req cancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	o, err := h.svc.GetOffer(c.Request.Context(), id)
	if err != nil {
		writePoolRideError(c, err)
		return
	}
	if o.OwnerID != caller(c) || req.PassengerID != "" {
		h.cancelRequest(c, req.PassengerID)
		return
	}
	cancelled, err := h.svc.CancelOffer(c.Request.Context(), poolride.CancelOfferCommand{
		OfferID:  id,
		CallerID: caller(c),
		Reason:   req.Reason,
	})
	if err != nil {
		writePoolRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride": toOfferResponse(cancelled, h.svc.Location())})
}

func (h *PoolRideHandler) Complete(c *gin.Context) {
	id, ok := offerID(c)
	if !ok {
		return
	}
	o, err := h.svc.CompleteOffer(c.Request.Context(), id, caller(c))
	if err != nil {
		writePoolRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride": toOfferResponse(o, h.svc.Location())})
}
