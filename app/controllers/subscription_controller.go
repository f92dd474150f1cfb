package controllers

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/safarilist/safarilist/internal/pkg/cache"
	"github.com/safarilist/safarilist/internal/pkg/env"
	"github.com/safarilist/safarilist/internal/pkg/hcaptcha"
	"github.com/safarilist/safarilist/internal/pkg/mailerlite"
	"github.com/safarilist/safarilist/internal/pkg/mpesa"
	"github.com/safarilist/safarilist/internal/pkg/pending"
	"github.com/safarilist/safarilist/internal/pkg/subscription"
)

var (
	pendingStore pending.Store
	initiator    *subscription.Initiator
	processor    *subscription.Processor

	captchaRequired bool
)

// InitializeSubscriptionControllers wires the correlation engine from the
// environment: pending store backend, key strategy, gateway clients and
// group mapping. Called once from the router during startup.
func InitializeSubscriptionControllers() {
	store := buildStore()
	strategy := pending.StrategyFromName(env.GetEnv("KEY_STRATEGY", "phone"))

	amount, err := strconv.Atoi(env.GetEnv("MPESA_AMOUNT", "100"))
	if err != nil || amount <= 0 {
		amount = 100
	}

	groups := subscription.NewGroupResolverFromEnv()
	dispatcher := subscription.NewDispatcher(mailerlite.NewClientFromEnv(), groups)

	pendingStore = store
	initiator = subscription.NewInitiator(store, strategy, mpesa.NewClientFromEnv(), amount, env.GetEnv("MPESA_TRANSACTION_DESC", "SafariList subscription"))
	processor = subscription.NewProcessor(store, strategy, dispatcher)

	captchaRequired = env.GetEnv("HCAPTCHA_SECRET", "") != ""

	log.Infof("[Subscription] Engine ready (strategy=%s store=%s amount=%d captcha=%v)",
		strategy.Name(), env.GetEnv("PENDING_STORE", "memory"), amount, captchaRequired)
}

func buildStore() pending.Store {
	ttl := pending.DefaultTTL
	if raw := env.GetEnv("PENDING_TTL", ""); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			ttl = parsed
		} else {
			log.Warnf("[Subscription] Invalid PENDING_TTL %q; using default %s", raw, ttl)
		}
	}

	if strings.EqualFold(env.GetEnv("PENDING_STORE", "memory"), "redis") {
		return pending.NewRedisStore(cache.GetClient(), ttl)
	}

	store := pending.NewMemoryStore(ttl)
	store.StartSweeper(time.Minute)
	return store
}

type subscribeBody struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Industry     string `json:"industry"`
	CaptchaToken string `json:"captcha_token"`
}

// HandleSubscribe takes the landing-page form, parks a pending record and
// fires the STK push. The subscriber sees the prompt on their phone within
// seconds; enrollment waits for the payment callback.
func HandleSubscribe(c *fiber.Ctx) error {
	var body subscribeBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
		})
	}

	if captchaRequired {
		if ok, err := hcaptcha.Verify(body.CaptchaToken); !ok {
			log.Infof("[Subscription] Captcha rejected for %s: %v", body.Email, err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": "Captcha verification failed",
			})
		}
	}

	res, err := initiator.Initiate(c.UserContext(), subscription.SubscribeInput{
		Name:     body.Name,
		Email:    body.Email,
		Phone:    body.Phone,
		Industry: body.Industry,
	})
	if err != nil {
		switch {
		case errors.Is(err, subscription.ErrValidation):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": "Name, email, phone and industry are required; phone must be a valid Kenyan number",
			})
		case errors.Is(err, subscription.ErrDuplicatePending):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"message": "A payment prompt for this number is already pending. Complete it or try again later.",
			})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"message": "Could not initiate payment",
				"error":   err.Error(),
			})
		}
	}

	message := res.CustomerMessage
	if message == "" {
		message = "Payment prompt sent. Authorize it on your phone to complete your subscription."
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message":   message,
		"reference": res.CorrelationKey,
	})
}

// HandleMpesaCallback receives Daraja's asynchronous payment result. The
// response is always 200: any other status makes Daraja redeliver, and the
// pending record is already gone by then.
func HandleMpesaCallback(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	outcome := processor.Process(c.UserContext(), rawBody)
	log.Infof("[Subscription] Callback processed: %s", outcome)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ResultCode": 0,
		"ResultDesc": "Accepted",
	})
}
