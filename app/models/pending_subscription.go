package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// PendingSubscription is a subscription request that has been pushed to the
// payer's phone but not yet confirmed by the payment callback. Records live
// only in the pending store; there is no database table behind them.
type PendingSubscription struct {
	CorrelationKey string    `json:"correlation_key"`
	Name           string    `json:"name" validate:"required,min=2,max=150"`
	Email          string    `json:"email" validate:"required,email,min=5,max=200"`
	Phone          string    `json:"phone" validate:"required,kenyan_msisdn"`
	Industry       string    `json:"industry" validate:"required,max=100"`
	CreatedAt      time.Time `json:"created_at"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Phone must already be normalized to 254XXXXXXXXX before validation.
	_ = v.RegisterValidation("kenyan_msisdn", func(fl validator.FieldLevel) bool {
		return IsKenyanMSISDN(fl.Field().String())
	})
	return v
}

func (p *PendingSubscription) Validate() error {
	return validate.Struct(p)
}

// NormalizePhone maps the common ways Kenyan subscribers type their number
// (07XX..., +2547XX..., 2547XX..., 7XX...) onto the canonical 254XXXXXXXXX
// form the Daraja API expects. Unrecognized input is returned trimmed so
// validation can reject it with a useful message.
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "-", "")
	s = strings.TrimPrefix(s, "+")

	switch {
	case strings.HasPrefix(s, "254"):
		return s
	case strings.HasPrefix(s, "0") && len(s) == 10:
		return "254" + s[1:]
	case (strings.HasPrefix(s, "7") || strings.HasPrefix(s, "1")) && len(s) == 9:
		return "254" + s
	default:
		return s
	}
}

// IsKenyanMSISDN reports whether s is a normalized Kenyan mobile number:
// 254 followed by 9 digits starting with 7 or 1.
func IsKenyanMSISDN(s string) bool {
	if len(s) != 12 || !strings.HasPrefix(s, "254") {
		return false
	}
	if s[3] != '7' && s[3] != '1' {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
