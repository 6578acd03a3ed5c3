// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"glideway/internal/modules/poolride"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// isValidID accepts the UUID strings the offer store issues.
func isValidID(v string) bool {
	_, err := uuid.Parse(v)
	return err == nil
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeValidation(c *gin.Context, fields map[string]string) {
	writeJSON(c, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: fields})
}

func writePoolRideError(c *gin.Context, err error) {
	var verr *poolride.ValidationError
	switch {
	case errors.As(err, &verr):
		writeValidation(c, verr.Fields)
	case errors.Is(err, poolride.ErrNotFound), errors.Is(err, poolride.ErrPassengerNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, poolride.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case poolride.IsConflict(err):
		writeError(c, http.StatusBadRequest, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
