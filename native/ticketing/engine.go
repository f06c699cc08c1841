package ticketing

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

var (
	errNilState = errors.New("ticketing engine: state not configured")

	// ErrListingNotFound marks a lookup against an asset with no listing.
	ErrListingNotFound = errors.New("ticketing engine: listing not found")
	// ErrDuplicateListing marks an attempt to re-create an existing
	// listing. Listings are never silently overwritten.
	ErrDuplicateListing = errors.New("ticketing engine: listing already exists")
	// ErrInsufficientInventory marks a purchase exceeding the units left.
	ErrInsufficientInventory = errors.New("ticketing engine: insufficient inventory")
	// ErrExceedsPurchaseLimit marks a purchase over the per-purchase or
	// per-account unit cap.
	ErrExceedsPurchaseLimit = errors.New("ticketing engine: purchase exceeds unit limit")
	// ErrInsufficientFunds marks a buyer whose payment-asset balance does
	// not cover the total due.
	ErrInsufficientFunds = errors.New("ticketing engine: insufficient funds")
	// ErrTransferFailed marks a ledger transfer rejected by the gateway.
	ErrTransferFailed = errors.New("ticketing engine: transfer failed")
)

const moduleName = "ticketing"

type engineState interface {
	ListingPut(*Listing) error
	ListingGet(assetID string) (*Listing, bool, error)
	ListingExists(assetID string) (bool, error)
	ListingSchedulePut(assetID string, sched fees.Schedule) error
	ListingScheduleGet(assetID string) (fees.Schedule, bool, error)
	ListingPurchasedGet(assetID string, buyer [20]byte) (uint64, error)
	ListingPurchasedPut(assetID string, buyer [20]byte, units uint64) error
	Balance(addr [20]byte, asset string) (*big.Int, error)
	Transfer(from, to [20]byte, asset string, amount *big.Int) error
	VaultAddress(asset string) ([20]byte, error)
}

type ticketingEvent struct {
	evt *types.Event
}

func (e ticketingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e ticketingEvent) Event() *types.Event { return e.evt }

// Engine manages primary-sale listings: inventory escrow at creation, fee
// splitting and ticket delivery on purchase.
type Engine struct {
	state   engineState
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

// NewEngine creates a listing engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
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
	e.emitter.Emit(ticketingEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// CreateListing escrows the full listed inventory from the distributor and
// persists the listing together with its immutable fee schedule. The caller
// must already be authorised as the distributor.
func (e *Engine) CreateListing(issuer, distributor [20]byte, assetID, paymentAssetID string, unitPrice *big.Int, totalUnits uint64, sched fees.Schedule) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if totalUnits == 0 {
		return nil, fmt.Errorf("ticketing engine: total units must be positive")
	}
	listing, err := SanitizeListing(&Listing{
		Issuer:         issuer,
		Distributor:    distributor,
		AssetID:        assetID,
		PaymentAssetID: paymentAssetID,
		UnitPrice:      unitPrice,
		AvailableUnits: totalUnits,
		CreatedAt:      e.now(),
	})
	if err != nil {
		return nil, err
	}
	sanitized, err := fees.SanitizeSchedule(sched)
	if err != nil {
		return nil, err
	}
	exists, err := e.state.ListingExists(listing.AssetID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateListing
	}
	vault, err := e.state.VaultAddress(listing.AssetID)
	if err != nil {
		return nil, err
	}
	escrowed := nativecommon.TicketBaseUnits(totalUnits)
	if err := e.state.Transfer(distributor, vault, listing.AssetID, escrowed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.ListingPut(listing); err != nil {
		return nil, err
	}
	if err := e.state.ListingSchedulePut(listing.AssetID, sanitized); err != nil {
		return nil, err
	}
	e.emit(NewListingCreatedEvent(listing))
	return listing.Clone(), nil
}

// Purchase settles a primary sale: the buyer pays principal plus service fee,
// the issuer and distributor receive their shares, and the tickets leave
// escrow towards the buyer. Inventory is decremented atomically with the
// transfers; the caller provides the all-or-nothing transaction boundary.
func (e *Engine) Purchase(assetID string, buyer [20]byte, units uint64) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if units == 0 {
		return nil, fmt.Errorf("ticketing engine: unit count must be positive")
	}
	normalized, err := nativecommon.NormalizeAssetID(assetID)
	if err != nil {
		return nil, err
	}
	listing, ok, err := e.state.ListingGet(normalized)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrListingNotFound
	}
	sched, ok, err := e.state.ListingScheduleGet(normalized)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrListingNotFound
	}
	if sched.MaxUnitsPerPurchase > 0 && units > sched.MaxUnitsPerPurchase {
		return nil, ErrExceedsPurchaseLimit
	}
	already, err := e.state.ListingPurchasedGet(normalized, buyer)
	if err != nil {
		return nil, err
	}
	if already+units < already {
		return nil, nativecommon.ErrUnitOverflow
	}
	if sched.MaxUnitsPerAccount > 0 && already+units > sched.MaxUnitsPerAccount {
		return nil, ErrExceedsPurchaseLimit
	}
	if units > listing.AvailableUnits {
		return nil, ErrInsufficientInventory
	}

	principal := new(big.Int).Mul(listing.UnitPrice, new(big.Int).SetUint64(units))
	split, err := fees.Split(principal, sched)
	if err != nil {
		return nil, err
	}
	balance, err := e.state.Balance(buyer, listing.PaymentAssetID)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(split.BuyerTotal) < 0 {
		return nil, ErrInsufficientFunds
	}

	payVault, err := e.state.VaultAddress(listing.PaymentAssetID)
	if err != nil {
		return nil, err
	}
	ticketVault, err := e.state.VaultAddress(listing.AssetID)
	if err != nil {
		return nil, err
	}
	// Escrow debits happen before escrow credits: the buyer funds the
	// vault, then the vault pays out and delivers.
	if err := e.state.Transfer(buyer, payVault, listing.PaymentAssetID, split.BuyerTotal); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.Transfer(payVault, listing.Issuer, listing.PaymentAssetID, split.IssuerShare); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.Transfer(payVault, listing.Distributor, listing.PaymentAssetID, split.SellerShare); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.Transfer(ticketVault, buyer, listing.AssetID, nativecommon.TicketBaseUnits(units)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	listing.AvailableUnits -= units
	if err := e.state.ListingPut(listing); err != nil {
		return nil, err
	}
	if err := e.state.ListingPurchasedPut(normalized, buyer, already+units); err != nil {
		return nil, err
	}
	e.emit(NewPurchaseEvent(listing, buyer, units, split))
	return listing.Clone(), nil
}

// ViewListing returns the stored listing for the asset, if any.
func (e *Engine) ViewListing(assetID string) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := nativecommon.NormalizeAssetID(assetID)
	if err != nil {
		return nil, err
	}
	listing, ok, err := e.state.ListingGet(normalized)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrListingNotFound
	}
	return listing.Clone(), nil
}
