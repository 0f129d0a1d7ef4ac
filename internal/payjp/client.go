// Package payjp wraps PAY.JP API calls using the REST API directly (no SDK
// dependency). Only the narrow surface the entitlement engine needs is
// exposed: customers, recurring subscriptions, and one-time charges.
package payjp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Recurring subscription statuses as reported by the gateway.
const (
	SubscriptionActive   = "active"
	SubscriptionTrial    = "trial"
	SubscriptionPaused   = "paused"
	SubscriptionCanceled = "canceled"
)

// ErrUnavailable marks network failures and timeouts talking to the gateway.
// Callers may retry.
var ErrUnavailable = errors.New("payjp: gateway unavailable")

// APIError is a rejection from the gateway itself (card declined, validation
// failure). The message is surfaced verbatim to callers.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payjp: API error (%d %s): %s", e.StatusCode, e.Code, e.Message)
}

// Customer is the gateway-side card holder record.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Subscription is the gateway's recurring-subscription object, reduced to the
// fields reconciliation needs.
type Subscription struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"` // epoch seconds
	Plan             struct {
		ID     string `json:"id"`
		Amount int    `json:"amount"`
	} `json:"plan"`
}

// PeriodEnd returns the current period end as a time.Time in UTC.
func (s *Subscription) PeriodEnd() time.Time {
	return time.Unix(s.CurrentPeriodEnd, 0).UTC()
}

// Charge is the gateway's one-time charge object.
type Charge struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Amount   int    `json:"amount"`
	Created  int64  `json:"created"` // epoch seconds
	Paid     bool   `json:"paid"`
	Refunded bool   `json:"refunded"`
}

// CreatedAt returns the charge timestamp as a time.Time in UTC.
func (c *Charge) CreatedAt() time.Time {
	return time.Unix(c.Created, 0).UTC()
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

// Client talks to the PAY.JP REST API.
type Client struct {
	secretKey  string
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new PAY.JP API client. Requests time out after 15s so
// a wedged gateway surfaces as ErrUnavailable instead of hanging the caller.
func NewClient(secretKey string) *Client {
	return &Client{
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    "https://api.pay.jp/v1",
	}
}

// NewClientWithBaseURL is used by tests to point the client at a stub server.
func NewClientWithBaseURL(secretKey, baseURL string) *Client {
	c := NewClient(secretKey)
	c.baseURL = strings.TrimSuffix(baseURL, "/")
	return c
}

// CreateCustomer registers a new customer at the gateway.
func (c *Client) CreateCustomer(ctx context.Context, email string) (*Customer, error) {
	data := url.Values{}
	data.Set("email", email)

	var cus Customer
	if err := c.post(ctx, "/customers", data, &cus); err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return &cus, nil
}

// CreateSubscription starts a recurring subscription for the customer on the
// given gateway plan.
func (c *Client) CreateSubscription(ctx context.Context, customerID, planID string) (*Subscription, error) {
	data := url.Values{}
	data.Set("customer", customerID)
	data.Set("plan", planID)

	var sub Subscription
	if err := c.post(ctx, "/subscriptions", data, &sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return &sub, nil
}

// RetrieveSubscription fetches one recurring subscription by id.
func (c *Client) RetrieveSubscription(ctx context.Context, id string) (*Subscription, error) {
	var sub Subscription
	if err := c.get(ctx, "/subscriptions/"+id, nil, &sub); err != nil {
		return nil, fmt.Errorf("retrieve subscription %s: %w", id, err)
	}
	return &sub, nil
}

// CancelSubscription stops auto-renewal for a recurring subscription. The
// current period is unaffected.
func (c *Client) CancelSubscription(ctx context.Context, id string) error {
	if err := c.post(ctx, "/subscriptions/"+id+"/cancel", url.Values{}, nil); err != nil {
		return fmt.Errorf("cancel subscription %s: %w", id, err)
	}
	return nil
}

// ListSubscriptions returns up to limit recurring subscriptions belonging to
// the customer, newest first.
func (c *Client) ListSubscriptions(ctx context.Context, customerID string, limit int) ([]Subscription, error) {
	q := url.Values{}
	q.Set("customer", customerID)
	q.Set("limit", strconv.Itoa(limit))

	var resp listResponse[Subscription]
	if err := c.get(ctx, "/subscriptions", q, &resp); err != nil {
		return nil, fmt.Errorf("list subscriptions for %s: %w", customerID, err)
	}
	return resp.Data, nil
}

// CreateCharge bills the customer's registered card once.
func (c *Client) CreateCharge(ctx context.Context, customerID string, amount int) (*Charge, error) {
	data := url.Values{}
	data.Set("customer", customerID)
	data.Set("amount", strconv.Itoa(amount))
	data.Set("currency", "jpy")

	var ch Charge
	if err := c.post(ctx, "/charges", data, &ch); err != nil {
		return nil, fmt.Errorf("create charge: %w", err)
	}
	return &ch, nil
}

// RetrieveCharge fetches one charge by id.
func (c *Client) RetrieveCharge(ctx context.Context, id string) (*Charge, error) {
	var ch Charge
	if err := c.get(ctx, "/charges/"+id, nil, &ch); err != nil {
		return nil, fmt.Errorf("retrieve charge %s: %w", id, err)
	}
	return &ch, nil
}

// ListCharges returns up to limit charges belonging to the customer, newest
// first.
func (c *Client) ListCharges(ctx context.Context, customerID string, limit int) ([]Charge, error) {
	q := url.Values{}
	q.Set("customer", customerID)
	q.Set("limit", strconv.Itoa(limit))

	var resp listResponse[Charge]
	if err := c.get(ctx, "/charges", q, &resp); err != nil {
		return nil, fmt.Errorf("list charges for %s: %w", customerID, err)
	}
	return resp.Data, nil
}

// HTTP helpers

func (c *Client) post(ctx context.Context, path string, data url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.secretKey, "")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.doRequest(req, out)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.secretKey, "")

	return c.doRequest(req, out)
}

func (c *Client) doRequest(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: "unknown error"}
		if err := json.Unmarshal(buf.Bytes(), &envelope); err == nil && envelope.Error.Message != "" {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(buf.Bytes(), out); err != nil {
		return fmt.Errorf("parse payjp response: %w", err)
	}
	return nil
}
