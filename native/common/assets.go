package common

import (
	"errors"
	"math/big"
	"strings"
)

// TicketUnitScale converts whole ticket counts into ledger base units. The
// ticket asset carries five decimal places on the ledger while listings and
// auctions count whole tickets, so every ticket-asset transfer amount derived
// from a unit count is multiplied by this constant, and only this constant.
// Payment amounts are already denominated in their smallest unit and are
// never scaled.
const TicketUnitScale = 100_000

var (
	ErrInvalidAssetID = errors.New("invalid asset identifier")
	// ErrUnitOverflow marks unit arithmetic that would wrap rather than
	// grow.
	ErrUnitOverflow = errors.New("ticket unit count overflow")
)

// TicketBaseUnits returns the ledger amount representing a whole ticket
// count.
func TicketBaseUnits(units uint64) *big.Int {
	amount := new(big.Int).SetUint64(units)
	return amount.Mul(amount, big.NewInt(TicketUnitScale))
}

// NormalizeAssetID canonicalises an asset identifier for storage keys and
// ledger lookups.
func NormalizeAssetID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", ErrInvalidAssetID
	}
	return strings.ToUpper(trimmed), nil
}
