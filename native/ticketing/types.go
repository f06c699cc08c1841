package ticketing

import (
	"fmt"
	"math/big"

	nativecommon "entryx/native/common"
)

// Listing is a primary-sale offer of a ticket asset at a fixed unit price.
// The full listed inventory is escrowed in the settlement vault at creation
// and drained towards buyers purchase by purchase. An exhausted listing
// (AvailableUnits == 0) stays queryable.
type Listing struct {
	Issuer         [20]byte
	Distributor    [20]byte
	AssetID        string
	PaymentAssetID string
	UnitPrice      *big.Int
	AvailableUnits uint64
	CreatedAt      int64
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.UnitPrice != nil {
		clone.UnitPrice = new(big.Int).Set(l.UnitPrice)
	} else {
		clone.UnitPrice = big.NewInt(0)
	}
	return &clone
}

// SanitizeListing validates and normalises a listing definition without
// mutating the original value.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("nil listing")
	}
	clone := l.Clone()
	assetID, err := nativecommon.NormalizeAssetID(clone.AssetID)
	if err != nil {
		return nil, fmt.Errorf("listing asset: %w", err)
	}
	paymentID, err := nativecommon.NormalizeAssetID(clone.PaymentAssetID)
	if err != nil {
		return nil, fmt.Errorf("listing payment asset: %w", err)
	}
	if assetID == paymentID {
		return nil, fmt.Errorf("listing asset and payment asset must differ")
	}
	clone.AssetID = assetID
	clone.PaymentAssetID = paymentID
	if clone.UnitPrice.Sign() <= 0 {
		return nil, fmt.Errorf("listing unit price must be positive")
	}
	return clone, nil
}
