/**
 * @description
 * Read models for the vault catalog and platform users. The automation-service
 * only needs a thin view of both: vaults are validated and summarized on rule
 * reads, and users are resolved from wallet addresses during authentication.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Vault is a catalog entry for a yield-bearing position. Yield accrual itself
// is sourced from the external yield collaborator, not from this record.
type Vault struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Protocol    string    `json:"protocol"`
	TokenSymbol string    `json:"token_symbol"`
	APYBps      int32     `json:"apy_bps"` // advertised APY in basis points
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// User is the simplified view of a platform user needed by this service.
type User struct {
	ID            uuid.UUID `json:"id"`
	WalletAddress string    `json:"wallet_address"`
	CreatedAt     time.Time `json:"created_at"`
}
