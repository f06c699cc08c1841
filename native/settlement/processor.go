package settlement

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"entryx/core/events"
	"entryx/core/state"
	"entryx/native/auction"
	"entryx/native/fees"
	"entryx/native/ticketing"
	"entryx/observability/metrics"
)

// Authorizer proves that the current operation is authorized by the named
// account. Implementations typically verify a transaction signature; the
// settlement core only consumes the verdict.
type Authorizer interface {
	Authorize(account [20]byte) error
}

// Processor binds the listing and auction engines to the state manager and
// enforces the cross-cutting settlement rules: authorization before any
// mutation and an all-or-nothing transaction boundary around every
// operation. stateMu serializes all state access: the manager's overlay is
// single-writer, so concurrent callers queue here.
type Processor struct {
	stateMu        sync.Mutex
	state          *state.Manager
	listings       *ticketing.Engine
	auctions       *auction.Engine
	auth           Authorizer
	logger         *slog.Logger
	assetAuthority [20]byte
}

// NewProcessor wires both engines against the supplied state manager. The
// manager doubles as the operator pause view for each engine.
func NewProcessor(mgr *state.Manager) *Processor {
	listings := ticketing.NewEngine()
	listings.SetState(mgr)
	listings.SetPauses(mgr)
	auctions := auction.NewEngine()
	auctions.SetState(mgr)
	auctions.SetPauses(mgr)
	return &Processor{
		state:    mgr,
		listings: listings,
		auctions: auctions,
	}
}

// SetAuthorizer configures the authorization oracle. Without one every
// mutating operation fails closed.
func (p *Processor) SetAuthorizer(auth Authorizer) { p.auth = auth }

// SetEmitter propagates the event emitter to both engines.
func (p *Processor) SetEmitter(emitter events.Emitter) {
	p.listings.SetEmitter(emitter)
	p.auctions.SetEmitter(emitter)
}

// SetLogger configures structured logging for settled operations.
func (p *Processor) SetLogger(logger *slog.Logger) { p.logger = logger }

// SetNowFunc propagates a deterministic time source to both engines,
// primarily for tests.
func (p *Processor) SetNowFunc(now func() int64) {
	p.listings.SetNowFunc(now)
	p.auctions.SetNowFunc(now)
}

// SetAssetAuthority configures the only account allowed to mint and burn
// ticket assets through the processor.
func (p *Processor) SetAssetAuthority(addr [20]byte) { p.assetAuthority = addr }

// SetModulePaused flips the operator pause flag for a settlement module
// ("ticketing" or "auction").
func (p *Processor) SetModulePaused(module string, paused bool) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.state.SetModulePaused(module, paused)
}

func (p *Processor) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

func (p *Processor) authorize(account [20]byte) error {
	if p.auth == nil {
		return ErrUnauthorized
	}
	if err := p.auth.Authorize(account); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}

// run executes fn inside a state overlay: on error every write is discarded,
// on success the overlay commits as a unit. The metrics label records the
// outcome either way. stateMu is held across the whole Begin/Commit window.
func (p *Processor) run(op string, fn func() error) error {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	started := time.Now()
	if err := p.state.Begin(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		p.state.Discard()
		metrics.Settlement().RecordFailure(op, string(Classify(err)))
		return err
	}
	if err := p.state.Commit(); err != nil {
		p.state.Discard()
		metrics.Settlement().RecordFailure(op, string(KindInvalid))
		return err
	}
	metrics.Settlement().RecordTransition(op)
	p.log().Info("settlement transition",
		slog.String("op", op),
		slog.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// CreateListing authorizes the distributor, escrows the inventory and
// persists the listing.
func (p *Processor) CreateListing(issuer, distributor [20]byte, assetID, paymentAssetID string, unitPrice *big.Int, totalUnits uint64, sched fees.Schedule) (*ticketing.Listing, error) {
	if err := p.authorize(distributor); err != nil {
		return nil, err
	}
	var listing *ticketing.Listing
	err := p.run("create_listing", func() error {
		var err error
		listing, err = p.listings.CreateListing(issuer, distributor, assetID, paymentAssetID, unitPrice, totalUnits, sched)
		return err
	})
	if err != nil {
		return nil, err
	}
	return listing, nil
}

// Purchase authorizes the buyer and settles a primary sale.
func (p *Processor) Purchase(assetID string, buyer [20]byte, units uint64) (*ticketing.Listing, error) {
	if err := p.authorize(buyer); err != nil {
		return nil, err
	}
	var listing *ticketing.Listing
	err := p.run("purchase", func() error {
		var err error
		listing, err = p.listings.Purchase(assetID, buyer, units)
		return err
	})
	if err != nil {
		return nil, err
	}
	return listing, nil
}

// StartAuction authorizes the owner, escrows the tickets and opens the
// auction.
func (p *Processor) StartAuction(owner, issuer [20]byte, label, assetID, paymentAssetID string, quantity uint64, startingPrice *big.Int, eventStart int64, sched fees.Schedule) (*auction.Auction, error) {
	if err := p.authorize(owner); err != nil {
		return nil, err
	}
	var auc *auction.Auction
	err := p.run("start_auction", func() error {
		var err error
		auc, err = p.auctions.Start(owner, issuer, label, assetID, paymentAssetID, quantity, startingPrice, eventStart, sched)
		return err
	})
	if err != nil {
		return nil, err
	}
	return auc, nil
}

// PlaceBid authorizes the bidder, escrows the bid and refunds the previous
// highest bidder.
func (p *Processor) PlaceBid(id [32]byte, bidder [20]byte, amount *big.Int) (*auction.Auction, error) {
	if err := p.authorize(bidder); err != nil {
		return nil, err
	}
	var auc *auction.Auction
	err := p.run("place_bid", func() error {
		var err error
		auc, err = p.auctions.PlaceBid(id, bidder, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return auc, nil
}

// CloseAuction authorizes the caller and settles the auction to the winner,
// or back to the owner when no bids were placed.
func (p *Processor) CloseAuction(id [32]byte, caller [20]byte) (*auction.Auction, error) {
	if err := p.authorize(caller); err != nil {
		return nil, err
	}
	var auc *auction.Auction
	err := p.run("close_auction", func() error {
		var err error
		auc, err = p.auctions.Close(id, caller)
		return err
	})
	if err != nil {
		return nil, err
	}
	return auc, nil
}

// CancelAuction authorizes the caller, returns the tickets to the owner and
// refunds any standing bid.
func (p *Processor) CancelAuction(id [32]byte, caller [20]byte) (*auction.Auction, error) {
	if err := p.authorize(caller); err != nil {
		return nil, err
	}
	var auc *auction.Auction
	err := p.run("cancel_auction", func() error {
		var err error
		auc, err = p.auctions.Cancel(id, caller)
		return err
	})
	if err != nil {
		return nil, err
	}
	return auc, nil
}

// ViewListing returns the stored listing for the asset. Reads need no
// authorization but still serialize against in-flight transitions.
func (p *Processor) ViewListing(assetID string) (*ticketing.Listing, error) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.listings.ViewListing(assetID)
}

// ViewAuction returns the stored auction for the key. Reads need no
// authorization.
func (p *Processor) ViewAuction(id [32]byte) (*auction.Auction, error) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.auctions.View(id)
}

// Balance returns the asset balance of an address.
func (p *Processor) Balance(addr [20]byte, asset string) (*big.Int, error) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.state.Balance(addr, asset)
}

// Mint issues new asset units. Only the configured asset authority may
// invoke it.
func (p *Processor) Mint(caller, to [20]byte, asset string, amount *big.Int) error {
	if err := p.authorize(caller); err != nil {
		return err
	}
	if p.assetAuthority == ([20]byte{}) || caller != p.assetAuthority {
		return ErrUnauthorized
	}
	return p.run("mint", func() error {
		return p.state.Mint(to, asset, amount)
	})
}

// Burn destroys asset units held by the caller.
func (p *Processor) Burn(caller [20]byte, asset string, amount *big.Int) error {
	if err := p.authorize(caller); err != nil {
		return err
	}
	return p.run("burn", func() error {
		return p.state.Burn(caller, asset, amount)
	})
}

// Transfer moves asset units between accounts outside of any marketplace
// settlement. The sender authorizes the movement.
func (p *Processor) Transfer(from, to [20]byte, asset string, amount *big.Int) error {
	if err := p.authorize(from); err != nil {
		return err
	}
	return p.run("transfer", func() error {
		return p.state.Transfer(from, to, asset, amount)
	})
}

// Clawback removes asset units from an arbitrary account. Only the
// configured asset authority may invoke it.
func (p *Processor) Clawback(caller, from [20]byte, asset string, amount *big.Int) error {
	if err := p.authorize(caller); err != nil {
		return err
	}
	if p.assetAuthority == ([20]byte{}) || caller != p.assetAuthority {
		return ErrUnauthorized
	}
	return p.run("clawback", func() error {
		return p.state.Burn(from, asset, amount)
	})
}
