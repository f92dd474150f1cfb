package subscription

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/safarilist/safarilist/app/models"
	"github.com/safarilist/safarilist/internal/pkg/mailerlite"
	"github.com/safarilist/safarilist/internal/pkg/metrics/counter"
)

// MailingList is the slice of the MailerLite client the dispatcher needs.
type MailingList interface {
	Subscribe(ctx context.Context, in mailerlite.SubscribeRequest) error
}

// Dispatcher performs the at-most-once enrollment after a confirmed
// payment. By the time it runs the pending record has already been
// consumed, so a failure here is logged and counted but never retried in
// process: the payment stays settled either way.
type Dispatcher struct {
	list   MailingList
	groups *GroupResolver
}

func NewDispatcher(list MailingList, groups *GroupResolver) *Dispatcher {
	return &Dispatcher{list: list, groups: groups}
}

// Dispatch enrolls the subscriber. paidPhone is the number Daraja reported
// in the callback; it wins over the submitted phone when present because
// the provider's formatting is authoritative for the number that paid.
func (d *Dispatcher) Dispatch(ctx context.Context, rec *models.PendingSubscription, paidPhone, receipt string) error {
	phone := rec.Phone
	if paidPhone != "" {
		phone = paidPhone
	}

	group := d.groups.Resolve(rec.Industry)
	err := d.list.Subscribe(ctx, mailerlite.SubscribeRequest{
		Email:    rec.Email,
		Name:     rec.Name,
		Phone:    phone,
		Industry: rec.Industry,
		GroupID:  group,
	})
	if err != nil {
		counter.Inc(counter.EnrollmentsFailed)
		log.Errorf("[Dispatcher] Enrollment failed for %s (key=%s receipt=%s): %v", rec.Email, rec.CorrelationKey, receipt, err)
		return fmt.Errorf("%w: %v", ErrNotification, err)
	}

	counter.Inc(counter.EnrollmentsSucceeded)
	log.Infof("[Dispatcher] Enrolled %s (key=%s group=%s receipt=%s)", rec.Email, rec.CorrelationKey, group, receipt)
	return nil
}
