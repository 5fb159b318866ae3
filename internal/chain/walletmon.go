// Package chain – service wallet monitoring.
//
// The monitor periodically samples the balances of the wallets the service
// spends from (fee sponsor, refund float) and classifies each into
// healthy/low/critical tiers. Sampling runs off the verification hot path;
// handlers read the latest snapshot only.
package chain

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Wallet health tiers.
const (
	WalletHealthy  = "healthy"
	WalletLow      = "low"
	WalletCritical = "critical"
)

var walletBalance = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "payments",
		Name:      "service_wallet_balance_atomic",
		Help:      "Balance of monitored service wallets in atomic units.",
	},
	[]string{"wallet", "network"},
)

func init() {
	prometheus.MustRegister(walletBalance)
}

// WatchedWallet describes one wallet with its alert thresholds in atomic
// units of the watched asset.
type WatchedWallet struct {
	Name           string
	Network        string
	Address        string
	AssetContract  string
	LowAtomic      int64
	CriticalAtomic int64
}

// WalletStatus is one sample of a watched wallet.
type WalletStatus struct {
	Wallet        string    `json:"wallet"`
	Network       string    `json:"network"`
	Address       string    `json:"address"`
	BalanceAtomic string    `json:"balance_atomic"`
	Tier          string    `json:"tier"`
	SampledAt     time.Time `json:"sampled_at"`
	Error         string    `json:"error,omitempty"`
}

// Monitor samples watched wallets on an interval.
type Monitor struct {
	client   Client
	wallets  []WatchedWallet
	interval time.Duration
	// alert fires once per tier transition, not on every sample.
	alert func(WalletStatus)

	mu       sync.RWMutex
	statuses map[string]WalletStatus
}

// NewMonitor constructs a Monitor. A nil alert hook disables alerting; an
// interval of zero defaults to one minute.
func NewMonitor(client Client, wallets []WatchedWallet, interval time.Duration, alert func(WalletStatus)) *Monitor {
	if interval == 0 {
		interval = time.Minute
	}
	return &Monitor{
		client:   client,
		wallets:  wallets,
		interval: interval,
		alert:    alert,
		statuses: make(map[string]WalletStatus),
	}
}

// Run samples until the context is canceled. Call in a goroutine.
func (m *Monitor) Run(ctx context.Context) {
	m.sampleAll(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleAll(ctx)
		}
	}
}

// Snapshot returns the latest sample per wallet.
func (m *Monitor) Snapshot() []WalletStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]WalletStatus, 0, len(m.wallets))
	for _, w := range m.wallets {
		if s, ok := m.statuses[w.Name]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Healthy reports whether every watched wallet is above its critical
// threshold at the latest sample.
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.statuses {
		if s.Tier == WalletCritical || s.Error != "" {
			return false
		}
	}
	return true
}

func (m *Monitor) sampleAll(ctx context.Context) {
	for _, w := range m.wallets {
		m.sample(ctx, w)
	}
}

func (m *Monitor) sample(ctx context.Context, w WatchedWallet) {
	now := time.Now().UTC()
	balance, err := m.client.BalanceOf(ctx, w.Network, w.AssetContract, w.Address)
	status := WalletStatus{
		Wallet:    w.Name,
		Network:   w.Network,
		Address:   w.Address,
		SampledAt: now,
	}
	if err != nil {
		status.Tier = WalletCritical
		status.Error = err.Error()
		log.Error().Err(err).Str("wallet", w.Name).Str("network", w.Network).Msg("wallet balance sample failed")
	} else {
		status.BalanceAtomic = balance.String()
		status.Tier = classify(balance, w)
		gauge, _ := new(big.Float).SetInt(balance).Float64()
		walletBalance.WithLabelValues(w.Name, w.Network).Set(gauge)
	}

	m.mu.Lock()
	prev, seen := m.statuses[w.Name]
	m.statuses[w.Name] = status
	m.mu.Unlock()

	if status.Tier != WalletHealthy {
		log.Warn().
			Str("wallet", w.Name).
			Str("network", w.Network).
			Str("tier", status.Tier).
			Str("balance_atomic", status.BalanceAtomic).
			Msg("service wallet below threshold")
	}
	if m.alert != nil && (!seen || prev.Tier != status.Tier) {
		m.alert(status)
	}
}

func classify(balance *big.Int, w WatchedWallet) string {
	if balance.Cmp(big.NewInt(w.CriticalAtomic)) <= 0 {
		return WalletCritical
	}
	if balance.Cmp(big.NewInt(w.LowAtomic)) <= 0 {
		return WalletLow
	}
	return WalletHealthy
}
