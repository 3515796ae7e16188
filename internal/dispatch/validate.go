package dispatch

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/dukerupert/herald/internal/model"
)

var reasons = map[string]string{
	"required":          "is required",
	"notblank":          "must not be blank",
	"min":               "must not be empty",
	"notification_type": "unknown notification type",
	"priority":          "unknown priority",
	"channel":           "unknown channel",
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})

	mustRegister(v, "notblank", validators.NotBlank)
	mustRegister(v, "notification_type", func(fl validator.FieldLevel) bool {
		return model.NotificationType(fl.Field().String()).Valid()
	})
	mustRegister(v, "priority", func(fl validator.FieldLevel) bool {
		return model.Priority(fl.Field().Int()).Valid()
	})
	mustRegister(v, "channel", func(fl validator.FieldLevel) bool {
		return model.Channel(fl.Field().String()).Valid()
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
}

// Validate checks a request without dispatching it, so queued requests can
// be rejected before they are accepted.
func (d *Dispatcher) Validate(req model.NotificationRequest) error {
	return d.validate(&req, d.now())
}

func (d *Dispatcher) validate(req *model.NotificationRequest, now time.Time) error {
	var fields []FieldError

	if err := d.validator.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &ValidationError{Fields: []FieldError{{Field: "request", Reason: err.Error()}}}
		}
		for _, fe := range verrs {
			reason := reasons[fe.Tag()]
			if reason == "" {
				reason = "failed " + fe.Tag()
			}
			fields = append(fields, FieldError{Field: fe.Field(), Reason: reason})
		}
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		fields = append(fields, FieldError{Field: "expires_at", Reason: "must be in the future"})
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
