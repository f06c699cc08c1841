package auction

import (
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	nativecommon "entryx/native/common"
)

// Status represents the lifecycle states of an auction.
type Status uint8

const (
	// StatusOpen accepts bids until the end time.
	StatusOpen Status = iota
	// StatusClosed is terminal: the auction settled to the winner or, with
	// no bids, back to the owner.
	StatusClosed
	// StatusCancelled is terminal: tickets returned to the owner and any
	// standing bid refunded.
	StatusCancelled
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusClosed, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// BidEntry records the last bid an account placed, for refund bookkeeping.
type BidEntry struct {
	Bidder [20]byte
	Amount *big.Int
}

// Auction is a time-boxed ascending-bid resale of a fixed ticket quantity.
// The ticket quantity sits in the settlement vault from creation until close
// or cancel, and at most one bidder has funds escrowed at any time.
type Auction struct {
	ID             [32]byte
	Label          string
	Owner          [20]byte
	Issuer         [20]byte
	AssetID        string
	PaymentAssetID string
	StartingPrice  *big.Int
	HighestBid     *big.Int
	HighestBidder  [20]byte
	HasBidder      bool
	Quantity       uint64
	EndTime        int64
	EventStart     int64
	CreatedAt      int64
	Bids           []BidEntry
	Status         Status
}

// AuctionID derives the storage identifier for an auction from the owner and
// the caller-supplied label. Two owners reusing the same label therefore
// never collide.
func AuctionID(owner [20]byte, label string) [32]byte {
	return ethcrypto.Keccak256Hash([]byte("auction"), owner[:], []byte(strings.TrimSpace(label)))
}

// Bidder returns the current highest bidder, if one exists.
func (a *Auction) Bidder() ([20]byte, bool) {
	if a == nil || !a.HasBidder {
		return [20]byte{}, false
	}
	return a.HighestBidder, true
}

// Clone returns a deep copy of the auction so callers can safely mutate the
// copy without affecting the stored instance.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	clone := *a
	if a.StartingPrice != nil {
		clone.StartingPrice = new(big.Int).Set(a.StartingPrice)
	} else {
		clone.StartingPrice = big.NewInt(0)
	}
	if a.HighestBid != nil {
		clone.HighestBid = new(big.Int).Set(a.HighestBid)
	} else {
		clone.HighestBid = big.NewInt(0)
	}
	if len(a.Bids) > 0 {
		clone.Bids = make([]BidEntry, len(a.Bids))
		for i, bid := range a.Bids {
			clone.Bids[i] = BidEntry{Bidder: bid.Bidder}
			if bid.Amount != nil {
				clone.Bids[i].Amount = new(big.Int).Set(bid.Amount)
			} else {
				clone.Bids[i].Amount = big.NewInt(0)
			}
		}
	} else {
		clone.Bids = nil
	}
	return &clone
}

// SanitizeAuction validates and normalises the supplied auction definition,
// returning a cloned instance. The function does not mutate the original
// value.
func SanitizeAuction(a *Auction) (*Auction, error) {
	if a == nil {
		return nil, fmt.Errorf("nil auction")
	}
	clone := a.Clone()
	clone.Label = strings.TrimSpace(clone.Label)
	if clone.Label == "" {
		return nil, fmt.Errorf("auction label must not be empty")
	}
	assetID, err := nativecommon.NormalizeAssetID(clone.AssetID)
	if err != nil {
		return nil, fmt.Errorf("auction asset: %w", err)
	}
	paymentID, err := nativecommon.NormalizeAssetID(clone.PaymentAssetID)
	if err != nil {
		return nil, fmt.Errorf("auction payment asset: %w", err)
	}
	if assetID == paymentID {
		return nil, fmt.Errorf("auction asset and payment asset must differ")
	}
	clone.AssetID = assetID
	clone.PaymentAssetID = paymentID
	if clone.StartingPrice.Sign() < 0 {
		return nil, fmt.Errorf("auction starting price must be non-negative")
	}
	if clone.HighestBid.Sign() < 0 {
		return nil, fmt.Errorf("auction highest bid must be non-negative")
	}
	if clone.Quantity == 0 {
		return nil, fmt.Errorf("auction quantity must be positive")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid auction status: %d", clone.Status)
	}
	return clone, nil
}
