package settlement

import (
	"errors"

	"entryx/core/state"
	"entryx/native/auction"
	nativecommon "entryx/native/common"
	"entryx/native/fees"
	"entryx/native/ticketing"
)

// ErrUnauthorized marks a caller the authorization oracle rejected. The
// processor fails closed: no oracle means no authorization.
var ErrUnauthorized = errors.New("settlement: unauthorized")

// Kind is the uniform error classification surfaced to callers of the
// settlement core. Engine sentinels map onto exactly one kind.
type Kind string

const (
	KindUnauthorized         Kind = "unauthorized"
	KindNotFound             Kind = "not_found"
	KindDuplicate            Kind = "duplicate"
	KindAlreadyClosed        Kind = "already_closed"
	KindInsufficientFunds    Kind = "insufficient_funds"
	KindInsufficientStock    Kind = "insufficient_inventory"
	KindExceedsPurchaseLimit Kind = "exceeds_purchase_limit"
	KindBidTooLow            Kind = "bid_too_low"
	KindAuctionEnded         Kind = "auction_ended"
	KindEventTooSoon         Kind = "event_too_soon"
	KindTransferFailed       Kind = "transfer_failed"
	KindInvalidFee           Kind = "invalid_fee_configuration"
	KindOverflow             Kind = "arithmetic_overflow"
	KindPaused               Kind = "module_paused"
	KindInvalid              Kind = "invalid_request"
)

// Classify maps an operation error onto the settlement taxonomy. Unknown
// errors classify as invalid requests.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, auction.ErrUnauthorizedCaller):
		return KindUnauthorized
	case errors.Is(err, ticketing.ErrListingNotFound),
		errors.Is(err, auction.ErrAuctionNotFound):
		return KindNotFound
	case errors.Is(err, ticketing.ErrDuplicateListing),
		errors.Is(err, auction.ErrDuplicateAuction):
		return KindDuplicate
	case errors.Is(err, auction.ErrAuctionClosed):
		return KindAlreadyClosed
	case errors.Is(err, ticketing.ErrInsufficientFunds),
		errors.Is(err, auction.ErrInsufficientFunds),
		errors.Is(err, state.ErrInsufficientBalance):
		return KindInsufficientFunds
	case errors.Is(err, ticketing.ErrInsufficientInventory):
		return KindInsufficientStock
	case errors.Is(err, ticketing.ErrExceedsPurchaseLimit):
		return KindExceedsPurchaseLimit
	case errors.Is(err, auction.ErrBidTooLow):
		return KindBidTooLow
	case errors.Is(err, auction.ErrAuctionEnded):
		return KindAuctionEnded
	case errors.Is(err, auction.ErrEventTooSoon):
		return KindEventTooSoon
	case errors.Is(err, ticketing.ErrTransferFailed),
		errors.Is(err, auction.ErrTransferFailed):
		return KindTransferFailed
	case errors.Is(err, fees.ErrInvalidSchedule),
		errors.Is(err, fees.ErrInvalidSplit):
		return KindInvalidFee
	case errors.Is(err, nativecommon.ErrUnitOverflow):
		return KindOverflow
	case errors.Is(err, nativecommon.ErrModulePaused):
		return KindPaused
	default:
		return KindInvalid
	}
}
