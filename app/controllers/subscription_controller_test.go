package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"

	"github.com/safarilist/safarilist/internal/pkg/env"
	"github.com/safarilist/safarilist/internal/pkg/mailerlite"
	"github.com/safarilist/safarilist/internal/pkg/middleware"
	"github.com/safarilist/safarilist/internal/pkg/mpesa"
	"github.com/safarilist/safarilist/internal/pkg/pending"
	"github.com/safarilist/safarilist/internal/pkg/subscription"
)

type stubGateway struct {
	err error
}

func (g *stubGateway) STKPush(_ context.Context, _ mpesa.STKPushRequest) (*mpesa.STKPushResponse, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &mpesa.STKPushResponse{
		CheckoutRequestID: "ws_CO_1",
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

type stubList struct {
	calls int
}

func (l *stubList) Subscribe(_ context.Context, _ mailerlite.SubscribeRequest) error {
	l.calls++
	return nil
}

// newTestApp wires the controllers against in-memory fakes and returns the
// app plus the mailing-list stub for call assertions.
func newTestApp(t *testing.T) (*fiber.App, *stubList) {
	t.Helper()

	store := pending.NewMemoryStore(time.Minute)
	strategy := pending.PhoneStrategy{}
	list := &stubList{}
	groups := subscription.NewGroupResolver(map[string]string{"retail": "grp-retail"}, "grp-default")

	pendingStore = store
	initiator = subscription.NewInitiator(store, strategy, &stubGateway{}, 100, "test")
	processor = subscription.NewProcessor(store, strategy, subscription.NewDispatcher(list, groups))
	captchaRequired = false

	app := fiber.New()
	app.Post("/api/v1/subscriptions", HandleSubscribe)
	app.Post("/api/v1/payments/mpesa/callback", HandleMpesaCallback)
	admin := app.Group("/api/v1/admin", middleware.AdminKeyMiddleware())
	admin.Get("/pending", HandleAdminPending)
	admin.Get("/stats", HandleAdminStats)
	return app, list
}

func postJSON(t *testing.T, app *fiber.App, path string, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("POST", path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	assert.NoError(t, err)
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	return resp.StatusCode, decoded
}

func TestHandleSubscribe(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := postJSON(t, app, "/api/v1/subscriptions",
		`{"name":"Jo","email":"jo@x.com","phone":"254700111222","industry":"retail"}`)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "254700111222", body["reference"])
	assert.NotEmpty(t, body["message"])
}

func TestHandleSubscribeMissingPhone(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := postJSON(t, app, "/api/v1/subscriptions",
		`{"name":"Jo","email":"jo@x.com","industry":"retail"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.NotEmpty(t, body["message"])
}

func TestHandleSubscribeDuplicate(t *testing.T) {
	app, _ := newTestApp(t)

	payload := `{"name":"Jo","email":"jo@x.com","phone":"254700111222","industry":"retail"}`
	status, _ := postJSON(t, app, "/api/v1/subscriptions", payload)
	assert.Equal(t, fiber.StatusOK, status)
	status, _ = postJSON(t, app, "/api/v1/subscriptions", payload)
	assert.Equal(t, fiber.StatusConflict, status)
}

func TestHandleSubscribeGatewayFailure(t *testing.T) {
	app, _ := newTestApp(t)
	initiator = subscription.NewInitiator(pendingStore, pending.PhoneStrategy{},
		&stubGateway{err: assert.AnError}, 100, "test")

	status, body := postJSON(t, app, "/api/v1/subscriptions",
		`{"name":"Jo","email":"jo@x.com","phone":"254700111222","industry":"retail"}`)
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.NotEmpty(t, body["error"])
}

func TestHandleMpesaCallbackFullFlow(t *testing.T) {
	app, list := newTestApp(t)

	status, _ := postJSON(t, app, "/api/v1/subscriptions",
		`{"name":"Jo","email":"jo@x.com","phone":"254700111222","industry":"retail"}`)
	assert.Equal(t, fiber.StatusOK, status)

	callback := `{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "m-1",
				"CheckoutRequestID": "ws_CO_1",
				"ResultCode": 0,
				"ResultDesc": "ok",
				"CallbackMetadata": {
					"Item": [{ "Name": "PhoneNumber", "Value": 254700111222 }]
				}
			}
		}
	}`
	status, body := postJSON(t, app, "/api/v1/payments/mpesa/callback", callback)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(0), body["ResultCode"])
	assert.Equal(t, 1, list.calls)

	// Redelivery is acknowledged but enrolls nothing.
	status, _ = postJSON(t, app, "/api/v1/payments/mpesa/callback", callback)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, 1, list.calls)
}

func TestHandleMpesaCallbackMalformedStillAcknowledged(t *testing.T) {
	app, list := newTestApp(t)

	status, _ := postJSON(t, app, "/api/v1/payments/mpesa/callback", `not json`)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Zero(t, list.calls)
}

func TestAdminEndpointsRequireKey(t *testing.T) {
	app, _ := newTestApp(t)
	env.Env = map[string]string{"ADMIN_API_KEY": "sekret"}
	t.Cleanup(func() { env.Env = nil })

	req := httptest.NewRequest("GET", "/api/v1/admin/pending", nil)
	resp, err := app.Test(req, -1)
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	req = httptest.NewRequest("GET", "/api/v1/admin/pending", nil)
	req.Header.Set("X-API-Key", "sekret")
	resp, err = app.Test(req, -1)
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp.Body.Close()

	req = httptest.NewRequest("GET", "/api/v1/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer sekret")
	resp, err = app.Test(req, -1)
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
