package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/safarilist/safarilist/internal/pkg/env"
)

const (
	defaultTokenURL   = "https://api.safaricom.co.ke/oauth/v1/generate?grant_type=client_credentials"
	defaultSTKPushURL = "https://api.safaricom.co.ke/mpesa/stkpush/v1/processrequest"

	// Buy-goods till transaction as used by the landing page checkout.
	transactionType = "CustomerBuyGoodsOnline"
)

// Client talks to the Safaricom Daraja API: access-token generation and
// STK push initiation. It is stateless; the pending store carries all
// correlation state.
type Client struct {
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	PartyB         string
	CallbackURL    string

	TokenURL   string
	STKPushURL string

	HTTPClient *http.Client

	// now is swappable in tests so password/timestamp derivation is stable.
	now func() time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// STKPushRequest carries the per-transaction fields; everything else comes
// from client configuration.
type STKPushRequest struct {
	Phone            string
	Amount           int
	AccountReference string
	Description      string
}

// STKPushResponse is Daraja's synchronous acknowledgment of a push request.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

func NewClientFromEnv() *Client {
	return &Client{
		ConsumerKey:    strings.TrimSpace(env.GetEnv("MPESA_CONSUMER_KEY", "")),
		ConsumerSecret: strings.TrimSpace(env.GetEnv("MPESA_CONSUMER_SECRET", "")),
		ShortCode:      strings.TrimSpace(env.GetEnv("MPESA_SHORTCODE", "")),
		Passkey:        strings.TrimSpace(env.GetEnv("MPESA_PASSKEY", "")),
		PartyB:         strings.TrimSpace(env.GetEnv("MPESA_PARTY_B", "")),
		CallbackURL:    strings.TrimSpace(env.GetEnv("MPESA_CALLBACK_URL", "")),
		TokenURL:       strings.TrimSpace(env.GetEnv("MPESA_TOKEN_URL", defaultTokenURL)),
		STKPushURL:     strings.TrimSpace(env.GetEnv("MPESA_STKPUSH_URL", defaultSTKPushURL)),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		now: time.Now,
	}
}

// AccessToken fetches a bearer token using the consumer key/secret pair.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if c.ConsumerKey == "" || c.ConsumerSecret == "" {
		return "", errors.New("MPESA_CONSUMER_KEY/MPESA_CONSUMER_SECRET are not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.TokenURL, nil)
	if err != nil {
		return "", err
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.ConsumerKey + ":" + c.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("mpesa token request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out tokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", errors.New("mpesa token response missing access_token")
	}
	return out.AccessToken, nil
}

// STKPush asks Daraja to pop a payment prompt on the payer's phone. The
// returned CheckoutRequestID shows up again in the asynchronous callback.
func (c *Client) STKPush(ctx context.Context, in STKPushRequest) (*STKPushResponse, error) {
	if c.ShortCode == "" || c.Passkey == "" {
		return nil, errors.New("MPESA_SHORTCODE/MPESA_PASSKEY are not configured")
	}
	if c.CallbackURL == "" {
		return nil, errors.New("MPESA_CALLBACK_URL is not configured")
	}
	if strings.TrimSpace(in.Phone) == "" {
		return nil, errors.New("phone is required")
	}
	if in.Amount <= 0 {
		return nil, errors.New("amount must be positive")
	}

	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := c.timestamp()
	partyB := c.PartyB
	if partyB == "" {
		partyB = c.ShortCode
	}

	payload := map[string]any{
		"BusinessShortCode": c.ShortCode,
		"Password":          c.password(timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   transactionType,
		"Amount":            in.Amount,
		"PartyA":            in.Phone,
		"PartyB":            partyB,
		"PhoneNumber":       in.Phone,
		"CallBackURL":       c.CallbackURL,
		"AccountReference":  in.AccountReference,
		"TransactionDesc":   in.Description,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.STKPushURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("mpesa stk push failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out STKPushResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "" && out.ResponseCode != "0" {
		return nil, fmt.Errorf("mpesa stk push rejected: code=%s desc=%s", out.ResponseCode, out.ResponseDescription)
	}
	return &out, nil
}

// password derives the Lipa na M-Pesa password: base64(shortcode+passkey+timestamp).
func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.ShortCode + c.Passkey + timestamp))
}

// timestamp renders the request time as yyyymmddhhmmss in Nairobi time.
func (c *Client) timestamp() string {
	now := c.now
	if now == nil {
		now = time.Now
	}
	t := now()
	if loc, err := time.LoadLocation("Africa/Nairobi"); err == nil {
		t = t.In(loc)
	}
	return t.Format("20060102150405")
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}
