package auction

import (
	"encoding/hex"
	"strconv"

	"entryx/core/types"
)

const (
	EventTypeAuctionStarted   = "auction.started"
	EventTypeAuctionBidPlaced = "auction.bid_placed"
	EventTypeAuctionClosed    = "auction.closed"
	EventTypeAuctionCancelled = "auction.cancelled"
)

// NewStartedEvent returns the canonical payload for a newly started auction.
func NewStartedEvent(a *Auction) *types.Event {
	return newAuctionEvent(EventTypeAuctionStarted, a)
}

// NewBidPlacedEvent returns the canonical payload emitted after a bid is
// accepted and the previous bidder refunded.
func NewBidPlacedEvent(a *Auction) *types.Event {
	return newAuctionEvent(EventTypeAuctionBidPlaced, a)
}

// NewClosedEvent returns the canonical payload emitted when an auction
// settles.
func NewClosedEvent(a *Auction) *types.Event {
	return newAuctionEvent(EventTypeAuctionClosed, a)
}

// NewCancelledEvent returns the canonical payload emitted when an auction is
// cancelled.
func NewCancelledEvent(a *Auction) *types.Event {
	return newAuctionEvent(EventTypeAuctionCancelled, a)
}

func newAuctionEvent(eventType string, a *Auction) *types.Event {
	attrs := make(map[string]string)
	if a == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(a.ID[:])
	attrs["label"] = a.Label
	attrs["owner"] = hex.EncodeToString(a.Owner[:])
	attrs["issuer"] = hex.EncodeToString(a.Issuer[:])
	attrs["asset"] = a.AssetID
	attrs["paymentAsset"] = a.PaymentAssetID
	attrs["quantity"] = strconv.FormatUint(a.Quantity, 10)
	attrs["startingPrice"] = a.StartingPrice.String()
	attrs["highestBid"] = a.HighestBid.String()
	if bidder, ok := a.Bidder(); ok {
		attrs["highestBidder"] = hex.EncodeToString(bidder[:])
	}
	attrs["endTime"] = strconv.FormatInt(a.EndTime, 10)
	attrs["eventStart"] = strconv.FormatInt(a.EventStart, 10)
	attrs["status"] = a.Status.String()
	return &types.Event{Type: eventType, Attributes: attrs}
}
