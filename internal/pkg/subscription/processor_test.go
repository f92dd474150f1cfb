package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/safarilist/safarilist/app/models"
	"github.com/safarilist/safarilist/internal/pkg/mailerlite"
	"github.com/safarilist/safarilist/internal/pkg/pending"
)

type fakeList struct {
	mu    sync.Mutex
	calls []mailerlite.SubscribeRequest
	err   error
	panic bool
}

func (l *fakeList) Subscribe(_ context.Context, in mailerlite.SubscribeRequest) error {
	if l.panic {
		panic("mailing list client blew up")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, in)
	return l.err
}

func (l *fakeList) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func newProcessor(store pending.Store, list *fakeList) *Processor {
	groups := NewGroupResolver(map[string]string{"retail": "grp-retail"}, "grp-default")
	return NewProcessor(store, pending.PhoneStrategy{}, NewDispatcher(list, groups))
}

func storedRecord(t *testing.T, store pending.Store) {
	t.Helper()
	err := store.Put(context.Background(), &models.PendingSubscription{
		CorrelationKey: "254700111222",
		Name:           "Jo",
		Email:          "jo@x.com",
		Phone:          "254700111222",
		Industry:       "retail",
		CreatedAt:      time.Now(),
	})
	assert.NoError(t, err)
}

func successPayload(phone string) []byte {
	return []byte(fmt.Sprintf(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "m-1",
				"CheckoutRequestID": "ws_CO_1",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{ "Name": "Amount", "Value": 100 },
						{ "Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV" },
						{ "Name": "PhoneNumber", "Value": %s }
					]
				}
			}
		}
	}`, phone))
}

// Scenario A: stored record + success callback => one enrollment with the
// record's email and a group resolved for the industry, record removed.
func TestProcessEnrollsOnce(t *testing.T) {
	ctx := context.Background()
	store := pending.NewMemoryStore(time.Minute)
	list := &fakeList{}
	p := newProcessor(store, list)
	storedRecord(t, store)

	outcome := p.Process(ctx, successPayload("254700111222"))
	assert.Equal(t, OutcomeEnrolled, outcome)
	assert.Equal(t, 1, list.callCount())
	assert.Equal(t, "jo@x.com", list.calls[0].Email)
	assert.Equal(t, "grp-retail", list.calls[0].GroupID)
	assert.Equal(t, "254700111222", list.calls[0].Phone)

	n, _ := store.Len(ctx)
	assert.Zero(t, n, "pending record must be consumed")
}

// Scenario B: the same webhook delivered twice enrolls exactly once.
func TestProcessDuplicateDelivery(t *testing.T) {
	ctx := context.Background()
	store := pending.NewMemoryStore(time.Minute)
	list := &fakeList{}
	p := newProcessor(store, list)
	storedRecord(t, store)

	assert.Equal(t, OutcomeEnrolled, p.Process(ctx, successPayload("254700111222")))
	assert.Equal(t, OutcomeAlreadyHandled, p.Process(ctx, successPayload("254700111222")))
	assert.Equal(t, 1, list.callCount())
}

// Concurrent duplicate deliveries still enroll exactly once.
func TestProcessConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()

	for round := 0; round < 50; round++ {
		store := pending.NewMemoryStore(time.Minute)
		list := &fakeList{}
		p := newProcessor(store, list)
		storedRecord(t, store)

		const deliveries = 8
		var wg sync.WaitGroup
		for i := 0; i < deliveries; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.Process(ctx, successPayload("254700111222"))
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, list.callCount(), "round %d: enrollment must fire exactly once", round)
	}
}

// Scenario C equivalent on the webhook side: unknown key => no enrollment.
func TestProcessUnknownKey(t *testing.T) {
	ctx := context.Background()
	store := pending.NewMemoryStore(time.Minute)
	list := &fakeList{}
	p := newProcessor(store, list)

	outcome := p.Process(ctx, successPayload("254799000000"))
	assert.Equal(t, OutcomeAlreadyHandled, outcome)
	assert.Zero(t, list.callCount())
}

// Scenario D: non-zero result code consumes the record without enrolling.
func TestProcessPaymentFailure(t *testing.T) {
	ctx := context.Background()
	store := pending.NewMemoryStore(time.Minute)
	list := &fakeList{}
	p := newProcessor(store, list)
	storedRecord(t, store)

	payload := []byte(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "m-1",
				"CheckoutRequestID": "ws_CO_1",
				"ResultCode": 1032,
				"ResultDesc": "Request cancelled by user.",
				"CallbackMetadata": {
					"Item": [{ "Name": "PhoneNumber", "Value": 254700111222 }]
				}
			}
		}
	}`)

	assert.Equal(t, OutcomePaymentFailed, p.Process(ctx, payload))
	assert.Zero(t, list.callCount())

	n, _ := store.Len(ctx)
	assert.Zero(t, n, "failed payment consumes the record")
}

func TestProcessNoBody(t *testing.T) {
	ctx := context.Background()
	p := newProcessor(pending.NewMemoryStore(time.Minute), &fakeList{})

	assert.Equal(t, OutcomeNoBody, p.Process(ctx, []byte(`{}`)))
	assert.Equal(t, OutcomeNoBody, p.Process(ctx, []byte(`not json at all`)))
}

func TestProcessMissingKey(t *testing.T) {
	ctx := context.Background()
	p := newProcessor(pending.NewMemoryStore(time.Minute), &fakeList{})

	// Success envelope without a PhoneNumber item: key cannot be derived.
	payload := []byte(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "m-1",
				"CheckoutRequestID": "ws_CO_1",
				"ResultCode": 0,
				"ResultDesc": "ok",
				"CallbackMetadata": { "Item": [{ "Name": "Amount", "Value": 100 }] }
			}
		}
	}`)
	assert.Equal(t, OutcomeUnmatched, p.Process(ctx, payload))
}

func TestProcessEnrollmentFailureIsAbsorbed(t *testing.T) {
	ctx := context.Background()
	store := pending.NewMemoryStore(time.Minute)
	list := &fakeList{err: errors.New("status=500 body=oops")}
	p := newProcessor(store, list)
	storedRecord(t, store)

	outcome := p.Process(ctx, successPayload("254700111222"))
	assert.Equal(t, OutcomeEnrollFailed, outcome)

	// The record stays consumed: at-most-once, not exactly-once.
	n, _ := store.Len(ctx)
	assert.Zero(t, n)
}

func TestProcessEnrollmentPanicIsAbsorbed(t *testing.T) {
	ctx := context.Background()
	store := pending.NewMemoryStore(time.Minute)
	list := &fakeList{panic: true}
	p := newProcessor(store, list)
	storedRecord(t, store)

	assert.NotPanics(t, func() {
		assert.Equal(t, OutcomeEnrollFailed, p.Process(ctx, successPayload("254700111222")))
	})
}

// The webhook-reported phone wins over the submitted phone when present.
func TestProcessPrefersWebhookPhone(t *testing.T) {
	ctx := context.Background()
	store := pending.NewMemoryStore(time.Minute)
	list := &fakeList{}
	groups := NewGroupResolver(nil, "grp-default")
	p := NewProcessor(store, pending.ReferenceStrategy{}, NewDispatcher(list, groups))

	err := store.Put(ctx, &models.PendingSubscription{
		CorrelationKey: "SL-abc123",
		Name:           "Jo",
		Email:          "jo@x.com",
		Phone:          "254700111222",
		Industry:       "retail",
		CreatedAt:      time.Now(),
	})
	assert.NoError(t, err)

	payload := []byte(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "m-1",
				"CheckoutRequestID": "ws_CO_1",
				"ResultCode": 0,
				"ResultDesc": "ok",
				"CallbackMetadata": {
					"Item": [
						{ "Name": "AccountReference", "Value": "SL-abc123" },
						{ "Name": "PhoneNumber", "Value": 254711999888 }
					]
				}
			}
		}
	}`)

	assert.Equal(t, OutcomeEnrolled, p.Process(ctx, payload))
	assert.Equal(t, "254711999888", list.calls[0].Phone)
}
