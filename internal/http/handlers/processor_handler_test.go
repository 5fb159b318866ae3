package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/averix/go-payments-backend/internal/domain"
	"github.com/averix/go-payments-backend/internal/processor"
)

const webhookSecret = "whsec_test"

func processorRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/processor/webhook", h.ProcessorWebhook)
	return r
}

func signedWebhook(t *testing.T, r *gin.Engine, payload []byte, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/processor/webhook", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if sign {
		req.Header.Set(processor.SignatureHeader, processor.SignPayload(payload, webhookSecret, time.Now()))
	}
	r.ServeHTTP(w, req)
	return w
}

func TestProcessorWebhook_BadSignature(t *testing.T) {
	svc := &fakePaymentService{}
	h := New(svc, nil, nil, nil, nil, webhookSecret)
	r := processorRouter(h)

	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)

	// Missing header
	if w := signedWebhook(t, r, payload, false); w.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned = %d", w.Code)
	}

	// Signed with the wrong secret
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/processor/webhook", bytes.NewReader(payload))
	req.Header.Set(processor.SignatureHeader, processor.SignPayload(payload, "other-secret", time.Now()))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret = %d", w.Code)
	}
	if svc.lastEvent != nil {
		t.Fatalf("service must not see unverified events")
	}
}

func TestProcessorWebhook_UnhandledTypeAcked(t *testing.T) {
	svc := &fakePaymentService{}
	h := New(svc, nil, nil, nil, nil, webhookSecret)
	r := processorRouter(h)

	payload := []byte(`{"id":"evt_2","type":"invoice.finalized"}`)
	w := signedWebhook(t, r, payload, true)
	if w.Code != http.StatusOK {
		t.Fatalf("unhandled type = %d, want 200 ack", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if body["received"] != true {
		t.Fatalf("expected ack body, got %v", body)
	}
	if svc.lastEvent != nil {
		t.Fatalf("unhandled events must not reach the service")
	}
}

func TestProcessorWebhook_PaymentSucceeded(t *testing.T) {
	svc := &fakePaymentService{
		settlement: &domain.PaymentTransaction{ID: "s-1"},
	}
	h := New(svc, nil, nil, nil, nil, webhookSecret)
	r := processorRouter(h)

	payload := []byte(`{
		"id": "evt_3",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_123",
			"amount": 900,
			"currency": "usd",
			"metadata": {"resource_id": "q-1"}
		}}
	}`)
	w := signedWebhook(t, r, payload, true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", w.Code, w.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if body["received"] != true || body["settlement_id"] != "s-1" {
		t.Fatalf("unexpected body: %v", body)
	}
	if svc.lastEvent == nil {
		t.Fatalf("event did not reach service")
	}
	if svc.lastEvent.EventType != domain.EventPaymentSucceeded ||
		svc.lastEvent.ProcessorRef != "pi_123" ||
		svc.lastEvent.ResourceID != "q-1" ||
		svc.lastEvent.AmountAtomic != 900 ||
		svc.lastEvent.Currency != "USD" {
		t.Fatalf("unexpected normalized event: %+v", svc.lastEvent)
	}
}

func TestProcessorWebhook_MalformedPayload(t *testing.T) {
	h := New(&fakePaymentService{}, nil, nil, nil, nil, webhookSecret)
	r := processorRouter(h)

	payload := []byte(`{"type":"payment_intent.succeeded"}`) // no id
	if w := signedWebhook(t, r, payload, true); w.Code != http.StatusBadRequest {
		t.Fatalf("missing id = %d", w.Code)
	}
}
