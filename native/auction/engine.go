package auction

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"entryx/core/events"
	"entryx/core/types"
	nativecommon "entryx/native/common"
	"entryx/native/fees"
)

// closeGraceWindow is the mandatory gap between an auction's end and the
// ticketed event's start: auctions always settle at least 24 hours before
// doors open.
const closeGraceWindow int64 = 86_400

const moduleName = "auction"

var (
	errNilState = errors.New("auction engine: state not configured")

	// ErrAuctionNotFound marks a lookup against an unknown auction key.
	ErrAuctionNotFound = errors.New("auction engine: auction not found")
	// ErrDuplicateAuction marks a creation that would reuse the key of an
	// auction that is still open.
	ErrDuplicateAuction = errors.New("auction engine: auction already exists")
	// ErrEventTooSoon marks a creation whose derived end time is not in
	// the future.
	ErrEventTooSoon = errors.New("auction engine: event is too close")
	// ErrAuctionEnded marks a bid placed at or after the end time.
	ErrAuctionEnded = errors.New("auction engine: auction has ended")
	// ErrBidTooLow marks a bid not strictly greater than the current
	// highest bid.
	ErrBidTooLow = errors.New("auction engine: bid is too low")
	// ErrAuctionClosed marks a transition out of a terminal state.
	ErrAuctionClosed = errors.New("auction engine: auction already settled")
	// ErrUnauthorizedCaller marks a close or cancel by anyone but the
	// owner.
	ErrUnauthorizedCaller = errors.New("auction engine: unauthorized caller")
	// ErrInsufficientFunds marks a bidder whose payment balance does not
	// cover the bid.
	ErrInsufficientFunds = errors.New("auction engine: insufficient funds")
	// ErrTransferFailed marks a ledger transfer rejected by the gateway.
	ErrTransferFailed = errors.New("auction engine: transfer failed")
)

type engineState interface {
	AuctionPut(*Auction) error
	AuctionGet(id [32]byte) (*Auction, bool, error)
	AuctionSchedulePut(id [32]byte, sched fees.Schedule) error
	AuctionScheduleGet(id [32]byte) (fees.Schedule, bool, error)
	AuctionScheduleDelete(id [32]byte) error
	Balance(addr [20]byte, asset string) (*big.Int, error)
	Transfer(from, to [20]byte, asset string, amount *big.Int) error
	VaultAddress(asset string) ([20]byte, error)
}

type auctionEvent struct {
	evt *types.Event
}

func (e auctionEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e auctionEvent) Event() *types.Event { return e.evt }

// Engine drives the auction state machine: ticket escrow on start, monotonic
// bidding with single-bidder escrow, and mutually exclusive close/cancel
// settlement.
type Engine struct {
	state   engineState
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

// NewEngine creates an auction engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses configures the operator pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(auctionEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadAuction(id [32]byte) (*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	auc, ok, err := e.state.AuctionGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAuctionNotFound
	}
	return auc, nil
}

// Start escrows the ticket quantity from the owner and persists a new open
// auction. The end time derives from the event start: event start minus the
// grace window, and must lie strictly in the future. The caller must already
// be authorised as the owner.
func (e *Engine) Start(owner, issuer [20]byte, label, assetID, paymentAssetID string, quantity uint64, startingPrice *big.Int, eventStart int64, sched fees.Schedule) (*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	now := e.now()
	endTime := eventStart - closeGraceWindow
	if endTime <= now {
		return nil, ErrEventTooSoon
	}
	auc, err := SanitizeAuction(&Auction{
		Label:          label,
		Owner:          owner,
		Issuer:         issuer,
		AssetID:        assetID,
		PaymentAssetID: paymentAssetID,
		StartingPrice:  startingPrice,
		HighestBid:     big.NewInt(0),
		Quantity:       quantity,
		EndTime:        endTime,
		EventStart:     eventStart,
		CreatedAt:      now,
		Status:         StatusOpen,
	})
	if err != nil {
		return nil, err
	}
	auc.ID = AuctionID(owner, auc.Label)
	sanitized, err := fees.SanitizeSchedule(sched)
	if err != nil {
		return nil, err
	}
	// A finalized auction releases its key; an open one never does. A key
	// that cannot be read cleanly blocks creation outright rather than
	// risking an overwrite of live escrow.
	existing, ok, err := e.state.AuctionGet(auc.ID)
	if err != nil {
		return nil, err
	}
	if ok && existing.Status == StatusOpen {
		return nil, ErrDuplicateAuction
	}
	vault, err := e.state.VaultAddress(auc.AssetID)
	if err != nil {
		return nil, err
	}
	if err := e.state.Transfer(owner, vault, auc.AssetID, nativecommon.TicketBaseUnits(quantity)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.AuctionPut(auc); err != nil {
		return nil, err
	}
	if err := e.state.AuctionSchedulePut(auc.ID, sanitized); err != nil {
		return nil, err
	}
	e.emit(NewStartedEvent(auc))
	return auc.Clone(), nil
}

// PlaceBid escrows the bidder's funds and refunds the previous highest
// bidder within the same transaction, so the auction never holds more than
// one active bid. Bids must strictly exceed the current highest bid and land
// before the end time.
func (e *Engine) PlaceBid(id [32]byte, bidder [20]byte, amount *big.Int) (*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	auc, err := e.loadAuction(id)
	if err != nil {
		return nil, err
	}
	if auc.Status != StatusOpen {
		return nil, ErrAuctionClosed
	}
	if e.now() >= auc.EndTime {
		return nil, ErrAuctionEnded
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrBidTooLow
	}
	if amount.Cmp(auc.HighestBid) <= 0 {
		return nil, ErrBidTooLow
	}
	if amount.Cmp(auc.StartingPrice) < 0 {
		return nil, ErrBidTooLow
	}
	balance, err := e.state.Balance(bidder, auc.PaymentAssetID)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientFunds
	}
	vault, err := e.state.VaultAddress(auc.PaymentAssetID)
	if err != nil {
		return nil, err
	}
	if err := e.state.Transfer(bidder, vault, auc.PaymentAssetID, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if prev, ok := auc.Bidder(); ok {
		if err := e.state.Transfer(vault, prev, auc.PaymentAssetID, auc.HighestBid); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}
	auc.HighestBid = new(big.Int).Set(amount)
	auc.HighestBidder = bidder
	auc.HasBidder = true
	auc.recordBid(bidder, amount)
	if err := e.state.AuctionPut(auc); err != nil {
		return nil, err
	}
	e.emit(NewBidPlacedEvent(auc))
	return auc.Clone(), nil
}

func (a *Auction) recordBid(bidder [20]byte, amount *big.Int) {
	for i := range a.Bids {
		if a.Bids[i].Bidder == bidder {
			a.Bids[i].Amount = new(big.Int).Set(amount)
			return
		}
	}
	a.Bids = append(a.Bids, BidEntry{Bidder: bidder, Amount: new(big.Int).Set(amount)})
}

// Close settles an open auction. With no bids the escrowed tickets return to
// the owner; otherwise the winning bid splits between issuer and owner and
// the tickets go to the winner. Only the owner may close, and only once.
func (e *Engine) Close(id [32]byte, caller [20]byte) (*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	auc, err := e.loadAuction(id)
	if err != nil {
		return nil, err
	}
	if caller != auc.Owner {
		return nil, ErrUnauthorizedCaller
	}
	if auc.Status != StatusOpen {
		return nil, ErrAuctionClosed
	}
	ticketVault, err := e.state.VaultAddress(auc.AssetID)
	if err != nil {
		return nil, err
	}
	escrowedTickets := nativecommon.TicketBaseUnits(auc.Quantity)
	winner, hasWinner := auc.Bidder()
	if !hasWinner {
		if err := e.state.Transfer(ticketVault, auc.Owner, auc.AssetID, escrowedTickets); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	} else {
		sched, ok, err := e.state.AuctionScheduleGet(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrAuctionNotFound
		}
		split, err := fees.SplitFromProceeds(auc.HighestBid, sched)
		if err != nil {
			return nil, err
		}
		payVault, err := e.state.VaultAddress(auc.PaymentAssetID)
		if err != nil {
			return nil, err
		}
		if err := e.state.Transfer(payVault, auc.Issuer, auc.PaymentAssetID, split.IssuerShare); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		if err := e.state.Transfer(payVault, auc.Owner, auc.PaymentAssetID, split.SellerShare); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		if err := e.state.Transfer(ticketVault, winner, auc.AssetID, escrowedTickets); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}
	auc.Status = StatusClosed
	if err := e.state.AuctionPut(auc); err != nil {
		return nil, err
	}
	// The fee schedule only matters while the auction can still settle.
	if err := e.state.AuctionScheduleDelete(id); err != nil {
		return nil, err
	}
	e.emit(NewClosedEvent(auc))
	return auc.Clone(), nil
}

// Cancel aborts an open auction: the escrowed tickets return to the owner
// and the standing highest bid, if any, is refunded. Close and cancel are
// mutually exclusive terminal transitions.
func (e *Engine) Cancel(id [32]byte, caller [20]byte) (*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	auc, err := e.loadAuction(id)
	if err != nil {
		return nil, err
	}
	if caller != auc.Owner {
		return nil, ErrUnauthorizedCaller
	}
	if auc.Status != StatusOpen {
		return nil, ErrAuctionClosed
	}
	ticketVault, err := e.state.VaultAddress(auc.AssetID)
	if err != nil {
		return nil, err
	}
	if err := e.state.Transfer(ticketVault, auc.Owner, auc.AssetID, nativecommon.TicketBaseUnits(auc.Quantity)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if bidder, ok := auc.Bidder(); ok {
		payVault, err := e.state.VaultAddress(auc.PaymentAssetID)
		if err != nil {
			return nil, err
		}
		if err := e.state.Transfer(payVault, bidder, auc.PaymentAssetID, auc.HighestBid); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}
	auc.Status = StatusCancelled
	if err := e.state.AuctionPut(auc); err != nil {
		return nil, err
	}
	if err := e.state.AuctionScheduleDelete(id); err != nil {
		return nil, err
	}
	e.emit(NewCancelledEvent(auc))
	return auc.Clone(), nil
}

// View returns the stored auction for the key, if any.
func (e *Engine) View(id [32]byte) (*Auction, error) {
	auc, err := e.loadAuction(id)
	if err != nil {
		return nil, err
	}
	return auc.Clone(), nil
}
