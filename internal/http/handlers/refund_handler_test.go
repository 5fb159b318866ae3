package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/averix/go-payments-backend/internal/domain"
	"github.com/averix/go-payments-backend/internal/services"
)

type fakeRefundService struct {
	refund *domain.RefundQuote
	err    error

	lastSettlement string
	lastOperator   string
}

func (f *fakeRefundService) QuoteRefund(_ context.Context, _, settlementID string) (*domain.RefundQuote, error) {
	f.lastSettlement = settlementID
	return f.refund, f.err
}

func (f *fakeRefundService) Get(_ context.Context, _, _ string) (*domain.RefundQuote, error) {
	return f.refund, f.err
}

func (f *fakeRefundService) Approve(_ context.Context, _, _, approvedBy string) (*domain.RefundQuote, error) {
	f.lastOperator = approvedBy
	return f.refund, f.err
}

func (f *fakeRefundService) Deny(_ context.Context, _, _, deniedBy string) (*domain.RefundQuote, error) {
	f.lastOperator = deniedBy
	return f.refund, f.err
}

func refundRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/refunds/quote", h.CreateRefundQuote)
	r.GET("/refunds/:id", h.GetRefund)
	r.POST("/refunds/:id/approve", h.ApproveRefund)
	r.POST("/refunds/:id/deny", h.DenyRefund)
	return r
}

func pendingRefund() *domain.RefundQuote {
	return &domain.RefundQuote{
		ID:           "r-1",
		SettlementID: "s-1",
		Recipient:    "0xpayer",
		AmountAtomic: 900,
		AssetCode:    "USDC",
		ExpiresAt:    time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
}

func TestCreateRefundQuote(t *testing.T) {
	svc := &fakeRefundService{refund: pendingRefund()}
	h := New(nil, nil, nil, svc, nil, "")
	r := refundRouter(h)

	w := doJSON(t, r, http.MethodPost, "/refunds/quote", `{"settlement_id":"s-1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body=%s", w.Code, w.Body.String())
	}
	var resp RefundResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if resp.Status != domain.RefundPending || resp.Signature != nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if svc.lastSettlement != "s-1" {
		t.Fatalf("settlement id not forwarded: %q", svc.lastSettlement)
	}

	// Unknown settlement is 404.
	svc.err = services.ErrSettlementNotFound
	if w = doJSON(t, r, http.MethodPost, "/refunds/quote", `{"settlement_id":"nope"}`); w.Code != http.StatusNotFound {
		t.Fatalf("unknown settlement = %d", w.Code)
	}
}

func TestApproveRefund(t *testing.T) {
	sig := "0xsig"
	operator := "ops@example.com"
	now := time.Now().UTC()
	approved := pendingRefund()
	approved.ProcessedAt = &now
	approved.Signature = &sig
	approved.ApprovedBy = &operator

	svc := &fakeRefundService{refund: approved}
	h := New(nil, nil, nil, svc, nil, "")
	r := refundRouter(h)

	w := doJSON(t, r, http.MethodPost, "/refunds/r-1/approve", `{"operator":"ops@example.com"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", w.Code, w.Body.String())
	}
	var resp RefundResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if resp.Status != domain.RefundApproved || resp.Signature == nil || *resp.Signature != sig {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if svc.lastOperator != operator {
		t.Fatalf("operator not forwarded: %q", svc.lastOperator)
	}

	// Operator is required.
	if w = doJSON(t, r, http.MethodPost, "/refunds/r-1/approve", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing operator = %d", w.Code)
	}

	// Re-finalizing is a conflict.
	svc.err = services.ErrRefundFinalized
	w = doJSON(t, r, http.MethodPost, "/refunds/r-1/approve", `{"operator":"ops@example.com"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("double approve = %d", w.Code)
	}
}

func TestDenyRefund(t *testing.T) {
	now := time.Now().UTC()
	denied := pendingRefund()
	denied.ProcessedAt = &now

	svc := &fakeRefundService{refund: denied}
	h := New(nil, nil, nil, svc, nil, "")
	r := refundRouter(h)

	w := doJSON(t, r, http.MethodPost, "/refunds/r-1/deny", `{"operator":"ops@example.com"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", w.Code, w.Body.String())
	}
	var resp RefundResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if resp.Status != domain.RefundDenied {
		t.Fatalf("unexpected status: %q", resp.Status)
	}

	// Downstream outage during approval surfaces as 503.
	svc.err = services.ErrDownstreamUnavailable
	w = doJSON(t, r, http.MethodPost, "/refunds/r-1/approve", `{"operator":"ops@example.com"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("downstream unavailable = %d", w.Code)
	}
}
