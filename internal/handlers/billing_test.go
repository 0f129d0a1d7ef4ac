package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pressfolio/backend/internal/billing"
	"github.com/pressfolio/backend/internal/models"
)

type stubBillingService struct {
	err error
	rec *models.SubscriptionRecord
}

func (s *stubBillingService) Subscribe(ctx context.Context, accountID int64, planID string) (*models.SubscriptionRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.rec, nil
}

func (s *stubBillingService) Cancel(ctx context.Context, accountID int64) (*models.SubscriptionRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.rec, nil
}

func TestSubscribeStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid plan", billing.ErrInvalidPlan, http.StatusBadRequest},
		{"no payment method", billing.ErrNoPaymentMethod, http.StatusPaymentRequired},
		{"gateway rejected", fmt.Errorf("%w: Card was declined.", billing.ErrGatewayRejected), http.StatusPaymentRequired},
		{"gateway unavailable", billing.ErrGatewayUnavailable, http.StatusBadGateway},
		{"unexpected", fmt.Errorf("disk full"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := Subscribe(&stubBillingService{err: tc.err})

			req := httptest.NewRequest(http.MethodPost, "/api/billing/subscribe",
				strings.NewReader(`{"account_id":1,"plan_id":"press_monthly"}`))
			rr := httptest.NewRecorder()
			handler(rr, req)

			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestSubscribePreservesGatewayMessage(t *testing.T) {
	handler := Subscribe(&stubBillingService{
		err: fmt.Errorf("%w: Card was declined.", billing.ErrGatewayRejected),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/billing/subscribe",
		strings.NewReader(`{"account_id":1,"plan_id":"press_monthly"}`))
	rr := httptest.NewRecorder()
	handler(rr, req)

	if !strings.Contains(rr.Body.String(), "Card was declined.") {
		t.Fatalf("gateway message must reach the client verbatim, got %s", rr.Body.String())
	}
}

func TestSubscribeValidatesPayload(t *testing.T) {
	handler := Subscribe(&stubBillingService{})

	for _, body := range []string{`not json`, `{"plan_id":"press_monthly"}`, `{"account_id":1}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/billing/subscribe", strings.NewReader(body))
		rr := httptest.NewRecorder()
		handler(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rr.Code)
		}
	}
}

func TestCancelStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{billing.ErrRecordNotFound, http.StatusNotFound},
		{billing.ErrNotRecurring, http.StatusConflict},
		{billing.ErrGatewayUnavailable, http.StatusBadGateway},
	}

	for _, tc := range cases {
		handler := CancelSubscription(&stubBillingService{err: tc.err})

		req := httptest.NewRequest(http.MethodPost, "/api/billing/cancel",
			strings.NewReader(`{"account_id":1}`))
		rr := httptest.NewRecorder()
		handler(rr, req)

		if rr.Code != tc.want {
			t.Fatalf("err %v: expected %d, got %d", tc.err, tc.want, rr.Code)
		}
	}
}
