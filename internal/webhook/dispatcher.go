package webhook

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/averix/go-payments-backend/internal/domain"
	"github.com/averix/go-payments-backend/internal/repo"
)

var webhookDeliveries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "payments",
		Name:      "webhook_deliveries_total",
		Help:      "Outbound webhook delivery attempts by terminal result.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(webhookDeliveries)
}

// Config controls the delivery loop and the retry schedule. Zero values
// fall back to the defaults below.
type Config struct {
	BatchSize         int           // rows claimed per cycle (default 16)
	PollInterval      time.Duration // sleep between cycles (default 2s)
	DeliveryTimeout   time.Duration // per-request budget (default 10s)
	InitialBackoff    time.Duration // first retry delay (default 30s)
	BackoffMultiplier float64       // growth factor (default 2.0)
	MaxBackoff        time.Duration // delay ceiling (default 1h)
	JitterFraction    float64       // +/- spread applied to each delay (default 0.2)
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 10 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 30 * time.Second
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = 2.0
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Hour
	}
	if c.JitterFraction < 0 || c.JitterFraction >= 1 {
		c.JitterFraction = 0.2
	}
	return c
}

// Dispatcher drains the pending_webhooks queue. Multiple dispatchers may
// run against the same database; the claim step is the arbiter, so two
// workers never deliver the same row.
type Dispatcher struct {
	db      *gorm.DB
	cfg     Config
	secrets SecretResolver
	client  *http.Client
	rand    func() float64
}

// NewDispatcher wires a dispatcher. A nil httpClient gets a default with
// the configured delivery timeout.
func NewDispatcher(db *gorm.DB, cfg Config, secrets SecretResolver, httpClient *http.Client) *Dispatcher {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.DeliveryTimeout}
	}
	if secrets == nil {
		secrets = func(string) string { return "" }
	}
	return &Dispatcher{db: db, cfg: cfg, secrets: secrets, client: httpClient, rand: rand.Float64}
}

// Run polls until the context is canceled. Rows claimed but not yet
// resolved when the context ends are released back to retrying so another
// worker (or the next start) picks them up.
func (d *Dispatcher) Run(ctx context.Context) {
	log.Info().
		Int("batch_size", d.cfg.BatchSize).
		Dur("poll_interval", d.cfg.PollInterval).
		Msg("webhook dispatcher started")
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := d.DispatchDue(ctx, time.Now().UTC()); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("webhook dispatch cycle failed")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("webhook dispatcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// DispatchDue claims one batch of due rows and delivers them. It returns
// the number of rows that reached a terminal state this cycle (delivered
// or dead-lettered).
func (d *Dispatcher) DispatchDue(ctx context.Context, now time.Time) (int, error) {
	claimed, err := repo.ClaimDueWebhooks(ctx, d.db, d.cfg.BatchSize, now)
	if err != nil {
		return 0, fmt.Errorf("claim due webhooks: %w", err)
	}
	terminal := 0
	for i := range claimed {
		w := &claimed[i]
		if ctx.Err() != nil {
			// Shutdown mid-batch: hand unprocessed claims back.
			d.release(claimed[i:])
			return terminal, ctx.Err()
		}
		if d.deliverOne(ctx, w, now) {
			terminal++
		}
	}
	return terminal, nil
}

// deliverOne attempts a single delivery and records the outcome. Returns
// true when the row reached a terminal state.
func (d *Dispatcher) deliverOne(ctx context.Context, w *domain.PendingWebhook, now time.Time) bool {
	err := d.post(ctx, w, now)
	if err == nil {
		if mErr := repo.MarkWebhookDelivered(ctx, d.db, w.ID, now); mErr != nil {
			log.Error().Err(mErr).Str("webhook_id", w.ID).Msg("mark webhook delivered")
			return false
		}
		webhookDeliveries.WithLabelValues("delivered").Inc()
		log.Debug().
			Str("webhook_id", w.ID).
			Str("event", w.EventType).
			Int("attempt", w.Attempts+1).
			Msg("webhook delivered")
		return true
	}

	if ctx.Err() != nil {
		// The request was cut short by shutdown, not refused by the
		// destination. Reset instead of burning an attempt.
		d.release([]domain.PendingWebhook{*w})
		return false
	}

	if w.Attempts+1 >= w.MaxAttempts {
		if dErr := repo.DeadLetterWebhook(ctx, d.db, w, err.Error(), now); dErr != nil {
			log.Error().Err(dErr).Str("webhook_id", w.ID).Msg("dead-letter webhook")
			return false
		}
		webhookDeliveries.WithLabelValues("dead_lettered").Inc()
		log.Warn().
			Str("webhook_id", w.ID).
			Str("event", w.EventType).
			Int("attempts", w.Attempts+1).
			Str("error", err.Error()).
			Msg("webhook exhausted retries, moved to dead letter queue")
		return true
	}

	next := now.Add(d.nextBackoff(w.Attempts))
	if rErr := repo.RecordWebhookFailure(ctx, d.db, w, err.Error(), next, now); rErr != nil {
		log.Error().Err(rErr).Str("webhook_id", w.ID).Msg("record webhook failure")
		return false
	}
	webhookDeliveries.WithLabelValues("retried").Inc()
	log.Debug().
		Str("webhook_id", w.ID).
		Int("attempt", w.Attempts+1).
		Time("next_attempt", next).
		Err(err).
		Msg("webhook delivery failed, scheduled retry")
	return false
}

// post performs the HTTP delivery. Any non-2xx status is a failure.
func (d *Dispatcher) post(ctx context.Context, w *domain.PendingWebhook, now time.Time) error {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, w.Destination, bytes.NewReader(w.Payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-ID", w.ID)
	req.Header.Set("X-Webhook-Event", w.EventType)
	if secret := d.secrets(w.TenantID); secret != "" {
		req.Header.Set(SignatureHeader, Sign(w.Payload, secret, now))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", w.Destination, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("destination returned %d", resp.StatusCode)
	}
	return nil
}

// nextBackoff computes the delay before the next attempt from the number
// of failures already recorded: min(initial * multiplier^attempts, max),
// spread by +/- JitterFraction. The schedule is derived from the persisted
// attempt counter, so it survives restarts and worker handoffs.
func (d *Dispatcher) nextBackoff(attempts int) time.Duration {
	base := float64(d.cfg.InitialBackoff) * math.Pow(d.cfg.BackoffMultiplier, float64(attempts))
	if base > float64(d.cfg.MaxBackoff) {
		base = float64(d.cfg.MaxBackoff)
	}
	jitter := 1 + (d.rand()*2-1)*d.cfg.JitterFraction
	return time.Duration(base * jitter)
}

// release hands claimed rows back to the retrying state during shutdown.
func (d *Dispatcher) release(claimed []domain.PendingWebhook) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := range claimed {
		if err := repo.ReleaseWebhook(ctx, d.db, claimed[i].ID); err != nil {
			log.Error().Err(err).Str("webhook_id", claimed[i].ID).Msg("release claimed webhook")
		}
	}
}
