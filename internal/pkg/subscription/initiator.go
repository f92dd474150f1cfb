package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/safarilist/safarilist/app/models"
	"github.com/safarilist/safarilist/internal/pkg/metrics/counter"
	"github.com/safarilist/safarilist/internal/pkg/mpesa"
	"github.com/safarilist/safarilist/internal/pkg/pending"
)

// PaymentGateway is the slice of the Daraja client the initiator needs.
type PaymentGateway interface {
	STKPush(ctx context.Context, in mpesa.STKPushRequest) (*mpesa.STKPushResponse, error)
}

// SubscribeInput is the landing-page form body.
type SubscribeInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Industry string `json:"industry"`
}

// InitiateResult is returned to the subscriber once the push prompt is on
// its way. The correlation key doubles as the reference shown to the user.
type InitiateResult struct {
	CorrelationKey  string
	CheckoutID      string
	CustomerMessage string
}

// Initiator validates a subscription request, parks it in the pending
// store and fires the STK push. Store write happens before the gateway
// call and is rolled back if the push fails, so no orphan record can match
// a later unrelated webhook.
type Initiator struct {
	store    pending.Store
	strategy pending.KeyStrategy
	gateway  PaymentGateway

	amount      int
	description string
}

func NewInitiator(store pending.Store, strategy pending.KeyStrategy, gateway PaymentGateway, amount int, description string) *Initiator {
	if amount <= 0 {
		amount = 100
	}
	if description == "" {
		description = "SafariList subscription"
	}
	return &Initiator{
		store:       store,
		strategy:    strategy,
		gateway:     gateway,
		amount:      amount,
		description: description,
	}
}

func (i *Initiator) Initiate(ctx context.Context, in SubscribeInput) (*InitiateResult, error) {
	rec := &models.PendingSubscription{
		Name:      in.Name,
		Email:     in.Email,
		Phone:     models.NormalizePhone(in.Phone),
		Industry:  in.Industry,
		CreatedAt: time.Now(),
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	key, err := i.strategy.DeriveKey(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	rec.CorrelationKey = key

	if err := i.store.Put(ctx, rec); err != nil {
		if errors.Is(err, pending.ErrDuplicateKey) {
			return nil, ErrDuplicatePending
		}
		return nil, err
	}

	resp, err := i.gateway.STKPush(ctx, mpesa.STKPushRequest{
		Phone:            rec.Phone,
		Amount:           i.amount,
		AccountReference: key,
		Description:      i.description,
	})
	if err != nil {
		// Roll the record back so a later unrelated webhook cannot hit it.
		if delErr := i.store.Delete(ctx, key); delErr != nil {
			log.Errorf("[Initiator] Rollback of pending record %s failed: %v", key, delErr)
		}
		counter.Inc(counter.STKPushFailed)
		log.Errorf("[Initiator] STK push failed for %s (key=%s): %v", rec.Phone, key, err)
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	counter.Inc(counter.SubscriptionsInitiated)
	log.Infof("[Initiator] STK push sent to %s (key=%s checkout=%s)", rec.Phone, key, resp.CheckoutRequestID)
	return &InitiateResult{
		CorrelationKey:  key,
		CheckoutID:      resp.CheckoutRequestID,
		CustomerMessage: resp.CustomerMessage,
	}, nil
}
