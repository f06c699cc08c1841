package ticketing

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"entryx/core/events"
	"entryx/core/types"
	nativecommon "entryx/native/common"
	"entryx/native/fees"
)

type mockState struct {
	listings  map[string]*Listing
	scheds    map[string]fees.Schedule
	purchased map[string]uint64
	balances  map[string]map[[20]byte]*big.Int
	// readErr simulates a backend read or decode failure on every getter.
	readErr error
}

func newMockState() *mockState {
	return &mockState{
		listings:  make(map[string]*Listing),
		scheds:    make(map[string]fees.Schedule),
		purchased: make(map[string]uint64),
		balances:  make(map[string]map[[20]byte]*big.Int),
	}
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func (m *mockState) ListingPut(l *Listing) error {
	sanitized, err := SanitizeListing(l)
	if err != nil {
		return err
	}
	m.listings[sanitized.AssetID] = sanitized.Clone()
	return nil
}

func (m *mockState) ListingGet(assetID string) (*Listing, bool, error) {
	if m.readErr != nil {
		return nil, false, m.readErr
	}
	listing, ok := m.listings[assetID]
	if !ok {
		return nil, false, nil
	}
	return listing.Clone(), true, nil
}

func (m *mockState) ListingExists(assetID string) (bool, error) {
	if m.readErr != nil {
		return false, m.readErr
	}
	_, ok := m.listings[assetID]
	return ok, nil
}

func (m *mockState) ListingSchedulePut(assetID string, sched fees.Schedule) error {
	sanitized, err := fees.SanitizeSchedule(sched)
	if err != nil {
		return err
	}
	m.scheds[assetID] = sanitized
	return nil
}

func (m *mockState) ListingScheduleGet(assetID string) (fees.Schedule, bool, error) {
	if m.readErr != nil {
		return fees.Schedule{}, false, m.readErr
	}
	sched, ok := m.scheds[assetID]
	if !ok {
		return fees.Schedule{}, false, nil
	}
	return sched.Clone(), true, nil
}

func purchasedKey(assetID string, buyer [20]byte) string {
	return fmt.Sprintf("%s/%x", assetID, buyer)
}

func (m *mockState) ListingPurchasedGet(assetID string, buyer [20]byte) (uint64, error) {
	return m.purchased[purchasedKey(assetID, buyer)], nil
}

func (m *mockState) ListingPurchasedPut(assetID string, buyer [20]byte, units uint64) error {
	m.purchased[purchasedKey(assetID, buyer)] = units
	return nil
}

func (m *mockState) Balance(addr [20]byte, asset string) (*big.Int, error) {
	if balances, ok := m.balances[asset]; ok {
		if balance, ok := balances[addr]; ok && balance != nil {
			return new(big.Int).Set(balance), nil
		}
	}
	return big.NewInt(0), nil
}

func (m *mockState) setBalance(addr [20]byte, asset string, amount *big.Int) {
	if _, ok := m.balances[asset]; !ok {
		m.balances[asset] = make(map[[20]byte]*big.Int)
	}
	m.balances[asset][addr] = new(big.Int).Set(amount)
}

func (m *mockState) Transfer(from, to [20]byte, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	fromBalance, _ := m.Balance(from, asset)
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	toBalance, _ := m.Balance(to, asset)
	m.setBalance(from, asset, new(big.Int).Sub(fromBalance, amount))
	m.setBalance(to, asset, new(big.Int).Add(toBalance, amount))
	return nil
}

func (m *mockState) VaultAddress(asset string) ([20]byte, error) {
	var addr [20]byte
	copy(addr[:], []byte("vault:"+asset))
	return addr, nil
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *capturingEmitter) typesEvents() []*types.Event {
	out := make([]*types.Event, 0, len(c.events))
	for _, evt := range c.events {
		if wrapper, ok := evt.(ticketingEvent); ok && wrapper.evt != nil {
			out = append(out, wrapper.evt)
		}
	}
	return out
}

func newTestEngine(state *mockState) *Engine {
	engine := NewEngine()
	engine.SetState(state)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	return engine
}

const (
	ticketAsset  = "VIPGA"
	paymentAsset = "XLM"
)

func seedDistributor(state *mockState, distributor [20]byte, units uint64) {
	state.setBalance(distributor, ticketAsset, nativecommon.TicketBaseUnits(units))
}

func defaultSchedule() fees.Schedule {
	return fees.Schedule{
		ServiceFee:          big.NewInt(25),
		CommissionBps:       250,
		MaxUnitsPerPurchase: 10,
		MaxUnitsPerAccount:  20,
	}
}

func TestCreateListingEscrowsInventory(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	emitter := &capturingEmitter{}
	engine.SetEmitter(emitter)
	issuer := newTestAddress(0x01)
	distributor := newTestAddress(0x02)
	seedDistributor(state, distributor, 50)

	listing, err := engine.CreateListing(issuer, distributor, ticketAsset, paymentAsset, big.NewInt(100), 50, defaultSchedule())
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if listing.AvailableUnits != 50 {
		t.Fatalf("unexpected available units: %d", listing.AvailableUnits)
	}
	vault, _ := state.VaultAddress(ticketAsset)
	escrowed, _ := state.Balance(vault, ticketAsset)
	if escrowed.Cmp(nativecommon.TicketBaseUnits(50)) != 0 {
		t.Fatalf("expected full inventory escrowed, got %s", escrowed)
	}
	left, _ := state.Balance(distributor, ticketAsset)
	if left.Sign() != 0 {
		t.Fatalf("expected distributor drained, got %s", left)
	}
	events := emitter.typesEvents()
	if len(events) != 1 || events[0].Type != EventTypeListingCreated {
		t.Fatalf("expected listing created event, got %v", events)
	}
}

func TestCreateListingRejectsDuplicate(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	issuer := newTestAddress(0x01)
	distributor := newTestAddress(0x02)
	seedDistributor(state, distributor, 100)

	if _, err := engine.CreateListing(issuer, distributor, ticketAsset, paymentAsset, big.NewInt(100), 50, defaultSchedule()); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := engine.CreateListing(issuer, distributor, ticketAsset, paymentAsset, big.NewInt(100), 50, defaultSchedule()); !errors.Is(err, ErrDuplicateListing) {
		t.Fatalf("expected duplicate listing error, got %v", err)
	}
}

func TestCreateListingValidations(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	issuer := newTestAddress(0x01)
	distributor := newTestAddress(0x02)
	seedDistributor(state, distributor, 10)

	cases := []struct {
		name    string
		asset   string
		payment string
		price   *big.Int
		units   uint64
	}{
		{"zero units", ticketAsset, paymentAsset, big.NewInt(100), 0},
		{"nil price", ticketAsset, paymentAsset, nil, 10},
		{"zero price", ticketAsset, paymentAsset, big.NewInt(0), 10},
		{"empty asset", "  ", paymentAsset, big.NewInt(100), 10},
		{"same asset pair", ticketAsset, ticketAsset, big.NewInt(100), 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := engine.CreateListing(issuer, distributor, tc.asset, tc.payment, tc.price, tc.units, defaultSchedule()); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestCreateListingFailsWithoutInventory(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	issuer := newTestAddress(0x01)
	distributor := newTestAddress(0x02)
	seedDistributor(state, distributor, 10)

	if _, err := engine.CreateListing(issuer, distributor, ticketAsset, paymentAsset, big.NewInt(100), 50, defaultSchedule()); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
}

func setupListing(t *testing.T, state *mockState, engine *Engine) (issuer, distributor [20]byte) {
	t.Helper()
	issuer = newTestAddress(0x01)
	distributor = newTestAddress(0x02)
	seedDistributor(state, distributor, 50)
	if _, err := engine.CreateListing(issuer, distributor, ticketAsset, paymentAsset, big.NewInt(100), 50, defaultSchedule()); err != nil {
		t.Fatalf("create listing: %v", err)
	}
	return issuer, distributor
}

func TestPurchaseSettlesSplit(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	emitter := &capturingEmitter{}
	engine.SetEmitter(emitter)
	issuer, distributor := setupListing(t, state, engine)
	buyer := newTestAddress(0x03)
	state.setBalance(buyer, paymentAsset, big.NewInt(2_000))

	listing, err := engine.Purchase(ticketAsset, buyer, 10)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if listing.AvailableUnits != 40 {
		t.Fatalf("expected 40 units left, got %d", listing.AvailableUnits)
	}
	// principal 10*100=1000, service fee 25, commission 2.5% = 25
	buyerBalance, _ := state.Balance(buyer, paymentAsset)
	if got := buyerBalance.String(); got != "975" {
		t.Fatalf("expected buyer balance 975, got %s", got)
	}
	issuerBalance, _ := state.Balance(issuer, paymentAsset)
	if got := issuerBalance.String(); got != "50" {
		t.Fatalf("expected issuer share 50, got %s", got)
	}
	distributorBalance, _ := state.Balance(distributor, paymentAsset)
	if got := distributorBalance.String(); got != "975" {
		t.Fatalf("expected distributor share 975, got %s", got)
	}
	tickets, _ := state.Balance(buyer, ticketAsset)
	if tickets.Cmp(nativecommon.TicketBaseUnits(10)) != 0 {
		t.Fatalf("expected 10 tickets delivered, got %s", tickets)
	}
	payVault, _ := state.VaultAddress(paymentAsset)
	vaultBalance, _ := state.Balance(payVault, paymentAsset)
	if vaultBalance.Sign() != 0 {
		t.Fatalf("expected payment vault drained, got %s", vaultBalance)
	}
	events := emitter.typesEvents()
	last := events[len(events)-1]
	if last.Type != EventTypePurchase {
		t.Fatalf("expected purchase event, got %s", last.Type)
	}
	if last.Attributes["buyerTotal"] != "1025" {
		t.Fatalf("expected buyerTotal 1025, got %s", last.Attributes["buyerTotal"])
	}
}

func TestPurchaseRejections(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	setupListing(t, state, engine)
	buyer := newTestAddress(0x03)
	state.setBalance(buyer, paymentAsset, big.NewInt(10_000))

	if _, err := engine.Purchase("UNKNOWN", buyer, 1); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := engine.Purchase(ticketAsset, buyer, 11); !errors.Is(err, ErrExceedsPurchaseLimit) {
		t.Fatalf("expected purchase limit, got %v", err)
	}
	if _, err := engine.Purchase(ticketAsset, buyer, 0); err == nil {
		t.Fatalf("expected error for zero units")
	}
	poor := newTestAddress(0x04)
	state.setBalance(poor, paymentAsset, big.NewInt(100))
	if _, err := engine.Purchase(ticketAsset, poor, 2); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestStorageFailureIsNotAbsence(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	issuer, distributor := setupListing(t, state, engine)
	buyer := newTestAddress(0x03)
	state.setBalance(buyer, paymentAsset, big.NewInt(2_000))

	state.readErr = fmt.Errorf("leveldb: corrupted block")
	if _, err := engine.Purchase(ticketAsset, buyer, 1); !errors.Is(err, state.readErr) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if _, err := engine.ViewListing(ticketAsset); !errors.Is(err, state.readErr) {
		t.Fatalf("expected storage error, got %v", err)
	}
	// An unreadable key must block re-creation, never read as vacant.
	seedDistributor(state, distributor, 50)
	if _, err := engine.CreateListing(issuer, distributor, ticketAsset, paymentAsset, big.NewInt(100), 50, defaultSchedule()); !errors.Is(err, state.readErr) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestPurchaseAccountCapSpansPurchases(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	setupListing(t, state, engine)
	buyer := newTestAddress(0x03)
	state.setBalance(buyer, paymentAsset, big.NewInt(10_000))

	if _, err := engine.Purchase(ticketAsset, buyer, 10); err != nil {
		t.Fatalf("purchase #1: %v", err)
	}
	if _, err := engine.Purchase(ticketAsset, buyer, 10); err != nil {
		t.Fatalf("purchase #2: %v", err)
	}
	// Account cap is 20: a third purchase must trip the aggregate limit.
	if _, err := engine.Purchase(ticketAsset, buyer, 1); !errors.Is(err, ErrExceedsPurchaseLimit) {
		t.Fatalf("expected account cap, got %v", err)
	}
}

func TestPurchaseInventoryNeverNegative(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	issuer := newTestAddress(0x01)
	distributor := newTestAddress(0x02)
	seedDistributor(state, distributor, 5)
	sched := fees.Schedule{ServiceFee: big.NewInt(0), MaxUnitsPerPurchase: 5, MaxUnitsPerAccount: 100}
	if _, err := engine.CreateListing(issuer, distributor, ticketAsset, paymentAsset, big.NewInt(10), 5, sched); err != nil {
		t.Fatalf("create listing: %v", err)
	}
	buyer := newTestAddress(0x03)
	state.setBalance(buyer, paymentAsset, big.NewInt(10_000))

	if _, err := engine.Purchase(ticketAsset, buyer, 5); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := engine.Purchase(ticketAsset, buyer, 1); !errors.Is(err, ErrInsufficientInventory) {
		t.Fatalf("expected insufficient inventory, got %v", err)
	}
	// Exhaustion is terminal but the listing stays queryable.
	listing, err := engine.ViewListing(ticketAsset)
	if err != nil {
		t.Fatalf("view listing: %v", err)
	}
	if listing.AvailableUnits != 0 {
		t.Fatalf("expected zero units, got %d", listing.AvailableUnits)
	}
}
