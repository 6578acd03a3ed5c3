// README: Command validation on go-playground/validator with field-keyed messages.
package poolride

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"glideway/internal/types"
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(pointValidation, types.Point{})
	_ = v.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
		_, ok := ParseWeekday(fl.Field().String())
		return ok
	})
	return v
}

func pointValidation(sl validator.StructLevel) {
	p := sl.Current().Interface().(types.Point)
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		sl.ReportError(p.Lat, "lat", "Lat", "latitude", "")
	}
	if math.IsNaN(p.Lng) || p.Lng < -180 || p.Lng > 180 {
		sl.ReportError(p.Lng, "lng", "Lng", "longitude", "")
	}
}

func validPoint(p *types.Point) bool {
	if p == nil {
		return true
	}
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lng) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// toValidationError converts validator output into a ValidationError. Other
// errors pass through unchanged.
func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		out.Fields[fieldKey(fe.Namespace())] = fieldMessage(fe)
	}
	return out
}

// fieldKey turns "CreateOfferCommand.Origin.Lat" into "origin.lat".
func fieldKey(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = lowerFirst(p)
	}
	return strings.Join(parts, ".")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return "must be at most " + fe.Param()
	case "latitude":
		return "must be a latitude between -90 and 90"
	case "longitude":
		return "must be a longitude between -180 and 180"
	case "weekday":
		return "must be a weekday name"
	default:
		return "is invalid"
	}
}
