package mailerlite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/safarilist/safarilist/internal/pkg/env"
)

const defaultBaseURL = "https://connect.mailerlite.com/api"

// Client wraps the MailerLite Connect API. Only subscriber creation is
// used; a subscriber that already exists is upserted by the provider.
type Client struct {
	APIKey  string
	BaseURL string

	HTTPClient *http.Client
}

// SubscribeRequest is the enrollment payload. GroupID may be empty, in
// which case the subscriber is created without a group assignment.
type SubscribeRequest struct {
	Email    string
	Name     string
	Phone    string
	Industry string
	GroupID  string
}

type subscriberPayload struct {
	Email  string            `json:"email"`
	Fields map[string]string `json:"fields"`
	Groups []string          `json:"groups,omitempty"`
}

func NewClientFromEnv() *Client {
	return &Client{
		APIKey:  strings.TrimSpace(env.GetEnv("MAILERLITE_API_KEY", "")),
		BaseURL: strings.TrimRight(env.GetEnv("MAILERLITE_BASE_URL", defaultBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Subscribe creates (or upserts) the subscriber. Callers treat failure as
// non-fatal: the payment is already settled by the time this runs.
func (c *Client) Subscribe(ctx context.Context, in SubscribeRequest) error {
	if c.APIKey == "" {
		return errors.New("MAILERLITE_API_KEY is not configured")
	}
	if strings.TrimSpace(in.Email) == "" {
		return errors.New("email is required")
	}

	payload := subscriberPayload{
		Email: strings.TrimSpace(in.Email),
		Fields: map[string]string{
			"name":     strings.TrimSpace(in.Name),
			"phone":    strings.TrimSpace(in.Phone),
			"industry": strings.TrimSpace(in.Industry),
		},
	}
	if g := strings.TrimSpace(in.GroupID); g != "" {
		payload.Groups = []string{g}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/subscribers", bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mailerlite subscribe failed: status=%d body=%s", resp.StatusCode, string(body))
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}
