// Outbound refund calls to the card processor.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RefundClient executes card-rail refunds against the processor's REST API.
// Requests are signed with the shared webhook secret so the processor can
// authenticate the caller.
type RefundClient struct {
	// BaseURL is the processor API root, e.g. "https://api.processor.test".
	BaseURL string
	// Secret signs outbound request bodies.
	Secret string
	// HTTPClient defaults to a 10s-timeout client when nil.
	HTTPClient *http.Client

	now func() time.Time
}

// NewRefundClient constructs a RefundClient.
func NewRefundClient(baseURL, secret string) *RefundClient {
	return &RefundClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Secret:     secret,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

type refundRequest struct {
	PaymentIntent string `json:"payment_intent"`
	AmountAtomic  int64  `json:"amount"`
	Currency      string `json:"currency"`
	Reason        string `json:"reason,omitempty"`
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Refund asks the processor to refund amountAtomic minor units of the
// payment identified by processorRef and returns the processor refund id.
func (c *RefundClient) Refund(ctx context.Context, processorRef string, amountAtomic int64, currency string) (string, error) {
	if c.BaseURL == "" {
		return "", fmt.Errorf("refund client has no base url")
	}
	body, err := json.Marshal(refundRequest{
		PaymentIntent: processorRef,
		AmountAtomic:  amountAtomic,
		Currency:      strings.ToLower(currency),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/refunds", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, SignPayload(body, c.Secret, c.clock()))

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("processor refund failed: status %d", resp.StatusCode)
	}

	var out refundResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("malformed refund response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("refund response missing id")
	}
	return out.ID, nil
}

func (c *RefundClient) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}
