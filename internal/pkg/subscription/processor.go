package subscription

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2/log"

	"github.com/safarilist/safarilist/app/models"
	"github.com/safarilist/safarilist/internal/pkg/metrics/counter"
	"github.com/safarilist/safarilist/internal/pkg/mpesa"
	"github.com/safarilist/safarilist/internal/pkg/pending"
)

// Outcome classifies a processed callback. Every outcome is acknowledged
// with HTTP 200: Daraja redelivers on anything else, and a redelivered
// webhook after the record is consumed would only show up as noise.
type Outcome int

const (
	// OutcomeEnrolled: payment confirmed, subscriber enrolled.
	OutcomeEnrolled Outcome = iota
	// OutcomeNoBody: payload had no stkCallback envelope.
	OutcomeNoBody
	// OutcomeUnmatched: no correlation key could be derived, or the key
	// matched no pending record (duplicate delivery, expiry, unknown key).
	OutcomeUnmatched
	// OutcomeAlreadyHandled: key extracted but no live record; the usual
	// duplicate-delivery case.
	OutcomeAlreadyHandled
	// OutcomePaymentFailed: non-zero result code; record discarded.
	OutcomePaymentFailed
	// OutcomeEnrollFailed: payment confirmed but the enrollment call
	// failed. Logged for out-of-band follow-up.
	OutcomeEnrollFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEnrolled:
		return "enrolled"
	case OutcomeNoBody:
		return "no_callback_body"
	case OutcomeUnmatched:
		return "unmatched"
	case OutcomeAlreadyHandled:
		return "already_handled"
	case OutcomePaymentFailed:
		return "payment_failed"
	case OutcomeEnrollFailed:
		return "enrollment_failed"
	default:
		return "unknown"
	}
}

// Processor resolves payment callbacks against the pending store and
// triggers enrollment at most once per correlation key.
type Processor struct {
	store      pending.Store
	strategy   pending.KeyStrategy
	dispatcher *Dispatcher
}

func NewProcessor(store pending.Store, strategy pending.KeyStrategy, dispatcher *Dispatcher) *Processor {
	return &Processor{store: store, strategy: strategy, dispatcher: dispatcher}
}

// Process runs one callback through parse -> extract -> resolve -> branch.
// It never returns an error: whatever happens inside, the webhook gets
// acknowledged by the controller.
func (p *Processor) Process(ctx context.Context, payload []byte) Outcome {
	counter.Inc(counter.CallbacksReceived)

	cb, err := mpesa.ParseCallback(payload)
	if err != nil {
		if errors.Is(err, mpesa.ErrNoCallbackBody) {
			log.Infof("[Processor] Callback without stkCallback body; acknowledged")
		} else {
			log.Errorf("[Processor] Malformed callback payload; acknowledged: %v", err)
		}
		return OutcomeNoBody
	}

	key, ok := p.strategy.ExtractKey(cb)
	if !ok {
		counter.Inc(counter.CallbacksUnmatched)
		log.Infof("[Processor] Callback %s carries no correlation key (strategy=%s); no action taken", cb.CheckoutRequestID, p.strategy.Name())
		return OutcomeUnmatched
	}

	rec, found, err := p.store.Take(ctx, key)
	if err != nil {
		log.Errorf("[Processor] Pending store lookup failed for key %s; acknowledged: %v", key, err)
		return OutcomeUnmatched
	}
	if !found {
		counter.Inc(counter.CallbacksUnmatched)
		log.Infof("[Processor] No pending record for key %s; no action taken", key)
		return OutcomeAlreadyHandled
	}

	if !cb.Success() {
		counter.Inc(counter.PaymentsFailed)
		log.Infof("[Processor] Payment failed for key %s: code=%d desc=%s", key, cb.ResultCode, cb.ResultDesc)
		return OutcomePaymentFailed
	}

	paidPhone, _ := cb.MetadataValue(mpesa.MetaPhoneNumber)
	receipt, _ := cb.MetadataValue(mpesa.MetaReceiptNumber)

	if err := p.dispatch(ctx, rec, paidPhone, receipt); err != nil {
		// The payment is settled; a lost enrollment is an internal fault,
		// not a reason to make the gateway redeliver.
		return OutcomeEnrollFailed
	}
	return OutcomeEnrolled
}

// dispatch shields the acknowledgment from anything the enrollment path
// does, panics included.
func (p *Processor) dispatch(ctx context.Context, rec *models.PendingSubscription, paidPhone, receipt string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			counter.Inc(counter.EnrollmentsFailed)
			log.Errorf("[Processor] Enrollment panicked for key %s: %v", rec.CorrelationKey, r)
			err = ErrNotification
		}
	}()
	return p.dispatcher.Dispatch(ctx, rec, paidPhone, receipt)
}
