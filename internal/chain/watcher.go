// Package chain – confirmation watcher.
//
// The watcher bounds how many verification requests may hold a fast polling
// slot at once. Slot holders sample the node on a short fixed interval;
// overflow requests fall back to exponential-backoff polling, which trades
// latency for node load. Either way the wait is bounded and the caller gets
// the depth observed when the budget ran out.
package chain

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// WatcherConfig tunes the confirmation watcher.
type WatcherConfig struct {
	// MaxSubscriptions bounds concurrent fast-polling slots. Values <= 0
	// default to 8.
	MaxSubscriptions int
	// PollInterval is the fast-path sampling interval. Zero defaults to 2s.
	PollInterval time.Duration
	// WaitBudget bounds how long one verification waits for depth. Zero
	// defaults to 30s.
	WaitBudget time.Duration
}

// Watcher samples confirmation depth for submitted transactions.
type Watcher struct {
	client       Client
	sem          chan struct{}
	pollInterval time.Duration
	waitBudget   time.Duration
}

// NewWatcher constructs a Watcher over the given client.
func NewWatcher(client Client, cfg WatcherConfig) *Watcher {
	maxSubs := cfg.MaxSubscriptions
	if maxSubs <= 0 {
		maxSubs = 8
	}
	interval := cfg.PollInterval
	if interval == 0 {
		interval = 2 * time.Second
	}
	budget := cfg.WaitBudget
	if budget == 0 {
		budget = 30 * time.Second
	}
	return &Watcher{
		client:       client,
		sem:          make(chan struct{}, maxSubs),
		pollInterval: interval,
		waitBudget:   budget,
	}
}

// AwaitConfirmations waits until the transaction reaches minConfirmations or
// the wait budget elapses, returning the depth observed last. The error is
// non-nil only for infrastructure faults or context cancellation.
func (w *Watcher) AwaitConfirmations(ctx context.Context, network, txRef string, minConfirmations uint64) (uint64, error) {
	confirmations, err := w.client.Confirmations(ctx, network, txRef)
	if err != nil {
		return 0, err
	}
	if confirmations >= minConfirmations {
		return confirmations, nil
	}

	select {
	case w.sem <- struct{}{}:
		defer func() { <-w.sem }()
		return w.fastPoll(ctx, network, txRef, minConfirmations)
	default:
		return w.backoffPoll(ctx, network, txRef, minConfirmations)
	}
}

// fastPoll samples on a fixed short interval while holding a slot.
func (w *Watcher) fastPoll(ctx context.Context, network, txRef string, minConfirmations uint64) (uint64, error) {
	deadline := time.Now().Add(w.waitBudget)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
			confirmations, err := w.client.Confirmations(ctx, network, txRef)
			if err != nil {
				return last, err
			}
			last = confirmations
			if confirmations >= minConfirmations {
				return confirmations, nil
			}
			if time.Now().After(deadline) {
				return last, nil
			}
		}
	}
}

// errStillPending drives the backoff retry loop; it never escapes this file.
type errStillPending struct{ observed uint64 }

func (e errStillPending) Error() string { return "awaiting confirmations" }

// backoffPoll samples with growing intervals when all slots are taken.
func (w *Watcher) backoffPoll(ctx context.Context, network, txRef string, minConfirmations uint64) (uint64, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.pollInterval
	b.MaxInterval = w.waitBudget / 4

	var last uint64
	confirmations, err := backoff.Retry(ctx, func() (uint64, error) {
		depth, err := w.client.Confirmations(ctx, network, txRef)
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		last = depth
		if depth < minConfirmations {
			return depth, errStillPending{observed: depth}
		}
		return depth, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(w.waitBudget))

	var pending errStillPending
	switch {
	case err == nil:
		return confirmations, nil
	case errors.As(err, &pending):
		// Budget elapsed while the tx was still shallow: report the depth
		// we saw, the caller classifies it.
		return last, nil
	default:
		return last, err
	}
}
