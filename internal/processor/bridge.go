// Package processor bridges the card processor's webhook surface into the
// service's own event model. The processor speaks its own dialect; the
// bridge verifies the payload signature, normalizes the event and maps the
// processor's event names onto the domain event types. Unknown event types
// are acknowledged and skipped so that processor-side additions never break
// the inbound endpoint.
package processor

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/averix/go-payments-backend/internal/domain"
)

// ErrUnhandledEvent marks processor event types the service does not act
// on. Handlers acknowledge these with success so the processor stops
// redelivering them.
var ErrUnhandledEvent = errors.New("unhandled processor event type")

// ErrBadSignature rejects payloads whose signature header does not verify.
var ErrBadSignature = errors.New("invalid processor signature")

// SignatureHeader carries the HMAC signature on processor traffic, both
// inbound webhooks and outbound API calls.
const SignatureHeader = "X-Processor-Signature"

// signatureTolerance bounds how old a signed payload may be, guarding
// against replays of captured deliveries.
const signatureTolerance = 5 * time.Minute

// Event is the normalized form of one processor notification.
type Event struct {
	// ID is the processor's event id, used as the inbound idempotency key.
	ID string
	// EventType is one of the domain event constants.
	EventType string
	// ResourceID is the quote or settlement the event refers to, taken
	// from the processor metadata the service attached at quote time.
	ResourceID string
	// ProcessorRef is the processor-side object id (payment intent,
	// refund), recorded as the settlement TxRef for the card rail.
	ProcessorRef string
	// AmountAtomic is the amount in minor units of Currency.
	AmountAtomic int64
	// Currency is the ISO code reported by the processor, upper case.
	Currency string
	// Metadata carries the flat string metadata echoed by the processor.
	Metadata map[string]string
}

// eventTypeMap translates processor event names to domain event types.
var eventTypeMap = map[string]string{
	"payment_intent.succeeded":      domain.EventPaymentSucceeded,
	"charge.refunded":               domain.EventRefundSucceeded,
	"customer.subscription.created": domain.EventSubscriptionCreated,
	"customer.subscription.renewed": domain.EventSubscriptionRenewed,
	"customer.subscription.deleted": domain.EventSubscriptionCanceled,
}

// providerEnvelope is the subset of the processor's wire format the bridge
// reads.
type providerEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Amount   json.Number       `json:"amount"`
			Currency string            `json:"currency"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// Normalize parses a processor payload into an Event. Unknown event types
// return ErrUnhandledEvent; the caller acknowledges and drops them.
func Normalize(payload []byte) (*Event, error) {
	var env providerEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("malformed processor payload: %w", err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("processor payload missing id or type")
	}

	eventType, ok := eventTypeMap[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnhandledEvent, env.Type)
	}

	var amount int64
	if env.Data.Object.Amount != "" {
		parsed, err := env.Data.Object.Amount.Int64()
		if err != nil {
			return nil, fmt.Errorf("non-integer amount %q: %w", env.Data.Object.Amount, err)
		}
		amount = parsed
	}

	meta := env.Data.Object.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	return &Event{
		ID:           env.ID,
		EventType:    eventType,
		ResourceID:   meta["resource_id"],
		ProcessorRef: env.Data.Object.ID,
		AmountAtomic: amount,
		Currency:     strings.ToUpper(env.Data.Object.Currency),
		Metadata:     meta,
	}, nil
}

// VerifySignature checks the processor's signature header against the raw
// payload. The header format is "t=<unix>,v1=<hex hmac>" where the HMAC is
// SHA-256 over "<unix>.<payload>" keyed with the endpoint secret.
func VerifySignature(header string, payload []byte, secret string, now time.Time) error {
	ts, provided, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	issued := time.Unix(ts, 0)
	age := now.Sub(issued)
	if age < -signatureTolerance || age > signatureTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrBadSignature)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
		return ErrBadSignature
	}
	return nil
}

// SignPayload produces the signature header for a payload, used by tests
// and by the processor simulator.
func SignPayload(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func parseSignatureHeader(header string) (ts int64, sig string, err error) {
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			ts, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, "", fmt.Errorf("%w: bad timestamp", ErrBadSignature)
			}
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return 0, "", fmt.Errorf("%w: malformed header", ErrBadSignature)
	}
	return ts, sig, nil
}
