package ticketing

import (
	"encoding/hex"
	"strconv"

	"entryx/core/types"
	"entryx/native/fees"
)

const (
	EventTypeListingCreated = "ticketing.listing.created"
	EventTypePurchase       = "ticketing.listing.purchased"
)

// NewListingCreatedEvent returns the canonical payload for a newly created
// listing.
func NewListingCreatedEvent(l *Listing) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: EventTypeListingCreated, Attributes: attrs}
	}
	attrs["asset"] = l.AssetID
	attrs["paymentAsset"] = l.PaymentAssetID
	attrs["issuer"] = hex.EncodeToString(l.Issuer[:])
	attrs["distributor"] = hex.EncodeToString(l.Distributor[:])
	attrs["unitPrice"] = l.UnitPrice.String()
	attrs["availableUnits"] = strconv.FormatUint(l.AvailableUnits, 10)
	attrs["createdAt"] = strconv.FormatInt(l.CreatedAt, 10)
	return &types.Event{Type: EventTypeListingCreated, Attributes: attrs}
}

// NewPurchaseEvent returns the canonical payload emitted when a purchase
// settles, carrying the amounts moved in each direction.
func NewPurchaseEvent(l *Listing, buyer [20]byte, units uint64, split fees.Breakdown) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: EventTypePurchase, Attributes: attrs}
	}
	attrs["asset"] = l.AssetID
	attrs["buyer"] = hex.EncodeToString(buyer[:])
	attrs["units"] = strconv.FormatUint(units, 10)
	attrs["buyerTotal"] = split.BuyerTotal.String()
	attrs["issuerShare"] = split.IssuerShare.String()
	attrs["distributorShare"] = split.SellerShare.String()
	attrs["remainingUnits"] = strconv.FormatUint(l.AvailableUnits, 10)
	return &types.Event{Type: EventTypePurchase, Attributes: attrs}
}
