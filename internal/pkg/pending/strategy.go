package pending

import (
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/safarilist/safarilist/app/models"
	"github.com/safarilist/safarilist/internal/pkg/mpesa"
)

// ReferencePrefix marks generated opaque correlation keys so they are
// recognizable in provider dashboards and logs.
const ReferencePrefix = "SL-"

// KeyStrategy decides how a correlation key is chosen at initiation time
// and how it is recovered from a callback envelope. Both sides must agree:
// a key produced by DeriveKey has to be extractable by ExtractKey from the
// matching callback.
type KeyStrategy interface {
	// Name identifies the strategy in logs and config.
	Name() string
	// DeriveKey picks the correlation key for a new subscription.
	DeriveKey(sub *models.PendingSubscription) (string, error)
	// ExtractKey recovers the correlation key from a parsed callback.
	// Returns false when the payload carries no usable key; callers log
	// and acknowledge without further action.
	ExtractKey(cb *mpesa.CallbackEnvelope) (string, bool)
}

// PhoneStrategy keys pending records by the normalized payer phone number.
// Daraja echoes the phone back as the PhoneNumber metadata item.
type PhoneStrategy struct{}

func (PhoneStrategy) Name() string { return "phone" }

func (PhoneStrategy) DeriveKey(sub *models.PendingSubscription) (string, error) {
	phone := strings.TrimSpace(sub.Phone)
	if phone == "" {
		return "", errors.New("phone is required for phone-keyed correlation")
	}
	return phone, nil
}

func (PhoneStrategy) ExtractKey(cb *mpesa.CallbackEnvelope) (string, bool) {
	return cb.MetadataValue(mpesa.MetaPhoneNumber)
}

// ReferenceStrategy keys pending records by a generated opaque reference
// that is sent to Daraja as the AccountReference. Extraction prefers the
// echoed AccountReference metadata item and falls back to the gateway's
// own CheckoutRequestID; a fallback key that matches no stored record is
// treated as an unmatched webhook.
type ReferenceStrategy struct{}

func (ReferenceStrategy) Name() string { return "reference" }

func (ReferenceStrategy) DeriveKey(_ *models.PendingSubscription) (string, error) {
	u := uuid.New()
	// 16 random bytes rendered as 32 hex chars; collision is negligible.
	return ReferencePrefix + strings.ReplaceAll(u.String(), "-", ""), nil
}

func (ReferenceStrategy) ExtractKey(cb *mpesa.CallbackEnvelope) (string, bool) {
	if ref, ok := cb.MetadataValue(mpesa.MetaAccountReference); ok {
		return ref, true
	}
	if id := strings.TrimSpace(cb.CheckoutRequestID); id != "" {
		return id, true
	}
	return "", false
}

// StrategyFromName resolves the KEY_STRATEGY config value. Unknown names
// fall back to phone keying, the original behavior.
func StrategyFromName(name string) KeyStrategy {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "reference":
		return ReferenceStrategy{}
	default:
		return PhoneStrategy{}
	}
}
