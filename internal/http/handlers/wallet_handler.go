// Wallet health endpoint.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// WalletHealth handles GET /wallet/health. It reports the latest balance
// snapshot of every watched service wallet and returns 503 when any wallet
// sits in the critical tier, so load balancers can shed refund traffic.
func (h *Handlers) WalletHealth(c *gin.Context) {
	status := http.StatusOK
	healthy := true
	if h.wallets != nil {
		healthy = h.wallets.Healthy()
	}
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	var snapshot any
	if h.wallets != nil {
		snapshot = h.wallets.Snapshot()
	}
	c.JSON(status, gin.H{
		"healthy": healthy,
		"wallets": snapshot,
	})
}
