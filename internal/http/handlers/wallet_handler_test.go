package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/averix/go-payments-backend/internal/chain"
)

type fakeWalletMonitor struct {
	healthy  bool
	snapshot []chain.WalletStatus
}

func (f *fakeWalletMonitor) Snapshot() []chain.WalletStatus { return f.snapshot }
func (f *fakeWalletMonitor) Healthy() bool                  { return f.healthy }

func walletRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/wallet/health", h.WalletHealth)
	return r
}

func TestWalletHealth_NoMonitor(t *testing.T) {
	h := New(nil, nil, nil, nil, nil, "")
	r := walletRouter(h)

	w := doJSON(t, r, http.MethodGet, "/wallet/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if body["healthy"] != true {
		t.Fatalf("expected healthy without monitor, got %v", body)
	}
}

func TestWalletHealth_HealthyAndCritical(t *testing.T) {
	mon := &fakeWalletMonitor{
		healthy: true,
		snapshot: []chain.WalletStatus{
			{Wallet: "settlement-USDC", Network: "base", BalanceAtomic: "250000000", Tier: chain.WalletHealthy},
		},
	}
	h := New(nil, nil, nil, nil, mon, "")
	r := walletRouter(h)

	w := doJSON(t, r, http.MethodGet, "/wallet/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("healthy status = %d", w.Code)
	}
	var body struct {
		Healthy bool                 `json:"healthy"`
		Wallets []chain.WalletStatus `json:"wallets"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if !body.Healthy || len(body.Wallets) != 1 || body.Wallets[0].Wallet != "settlement-USDC" {
		t.Fatalf("unexpected body: %+v", body)
	}

	// Critical wallet flips the endpoint to 503 so balancers shed traffic.
	mon.healthy = false
	mon.snapshot[0].Tier = chain.WalletCritical
	w = doJSON(t, r, http.MethodGet, "/wallet/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("critical status = %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if body.Healthy {
		t.Fatalf("expected healthy=false")
	}
}
