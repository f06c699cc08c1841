package settlement

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"entryx/core/state"
	"entryx/native/auction"
	nativecommon "entryx/native/common"
	"entryx/native/fees"
	"entryx/native/ticketing"
	"entryx/storage"
)

const (
	ticketAsset  = "VIPGA"
	paymentAsset = "XLM"

	testNow        int64 = 1_700_000_000
	testEventStart int64 = testNow + 7*86_400
)

type allowAll struct{}

func (allowAll) Authorize([20]byte) error { return nil }

type denyAll struct{}

func (denyAll) Authorize([20]byte) error { return fmt.Errorf("signature mismatch") }

func newTestProcessor(t *testing.T) (*Processor, *state.Manager) {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	proc := NewProcessor(mgr)
	proc.SetAuthorizer(allowAll{})
	proc.SetNowFunc(func() int64 { return testNow })
	return proc, mgr
}

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func defaultSchedule() fees.Schedule {
	return fees.Schedule{
		ServiceFee:          big.NewInt(25),
		CommissionBps:       250,
		MaxUnitsPerPurchase: 10,
	}
}

func TestProcessorFailsClosedWithoutAuthorizer(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	proc := NewProcessor(mgr)
	buyer := testAddr(0x03)

	if _, err := proc.Purchase(ticketAsset, buyer, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized without oracle, got %v", err)
	}
}

func TestProcessorRejectsUnauthorizedCaller(t *testing.T) {
	proc, _ := newTestProcessor(t)
	proc.SetAuthorizer(denyAll{})
	buyer := testAddr(0x03)

	_, err := proc.Purchase(ticketAsset, buyer, 1)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if kind := Classify(err); kind != KindUnauthorized {
		t.Fatalf("expected unauthorized kind, got %s", kind)
	}
}

func seedMarket(t *testing.T, proc *Processor, mgr *state.Manager) (issuer, distributor, buyer [20]byte) {
	t.Helper()
	issuer = testAddr(0x01)
	distributor = testAddr(0x02)
	buyer = testAddr(0x03)
	if err := mgr.Mint(distributor, ticketAsset, nativecommon.TicketBaseUnits(50)); err != nil {
		t.Fatalf("mint tickets: %v", err)
	}
	if err := mgr.Mint(buyer, paymentAsset, big.NewInt(10_000)); err != nil {
		t.Fatalf("mint funds: %v", err)
	}
	if _, err := proc.CreateListing(issuer, distributor, ticketAsset, paymentAsset, big.NewInt(100), 50, defaultSchedule()); err != nil {
		t.Fatalf("create listing: %v", err)
	}
	return issuer, distributor, buyer
}

func TestPurchaseLifecycle(t *testing.T) {
	proc, mgr := newTestProcessor(t)
	issuer, distributor, buyer := seedMarket(t, proc, mgr)

	listing, err := proc.Purchase(ticketAsset, buyer, 10)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if listing.AvailableUnits != 40 {
		t.Fatalf("expected 40 units left, got %d", listing.AvailableUnits)
	}
	issuerBalance, _ := proc.Balance(issuer, paymentAsset)
	if issuerBalance.String() != "50" {
		t.Fatalf("expected issuer share 50, got %s", issuerBalance)
	}
	distributorBalance, _ := proc.Balance(distributor, paymentAsset)
	if distributorBalance.String() != "975" {
		t.Fatalf("expected distributor share 975, got %s", distributorBalance)
	}
	tickets, _ := proc.Balance(buyer, ticketAsset)
	if tickets.Cmp(nativecommon.TicketBaseUnits(10)) != 0 {
		t.Fatalf("expected 10 tickets delivered, got %s", tickets)
	}
	view, err := proc.ViewListing(ticketAsset)
	if err != nil {
		t.Fatalf("view listing: %v", err)
	}
	if view.AvailableUnits != 40 {
		t.Fatalf("expected persisted inventory 40, got %d", view.AvailableUnits)
	}
}

func TestFailedOperationLeavesNoPartialState(t *testing.T) {
	proc, mgr := newTestProcessor(t)
	_, _, buyer := seedMarket(t, proc, mgr)
	poor := testAddr(0x04)
	if err := mgr.Mint(poor, paymentAsset, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	before, _ := proc.Balance(poor, paymentAsset)
	if _, err := proc.Purchase(ticketAsset, poor, 5); !errors.Is(err, ticketing.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	after, _ := proc.Balance(poor, paymentAsset)
	if before.Cmp(after) != 0 {
		t.Fatalf("failed purchase moved funds: %s -> %s", before, after)
	}
	view, err := proc.ViewListing(ticketAsset)
	if err != nil {
		t.Fatalf("view listing: %v", err)
	}
	if view.AvailableUnits != 50 {
		t.Fatalf("failed purchase touched inventory: %d", view.AvailableUnits)
	}
	// The manager must be reusable after the discarded overlay.
	if _, err := proc.Purchase(ticketAsset, buyer, 1); err != nil {
		t.Fatalf("follow-up purchase: %v", err)
	}
}

func TestConcurrentPurchasesSerialize(t *testing.T) {
	proc, mgr := newTestProcessor(t)
	issuer := testAddr(0x01)
	distributor := testAddr(0x02)
	if err := mgr.Mint(distributor, ticketAsset, nativecommon.TicketBaseUnits(50)); err != nil {
		t.Fatalf("mint tickets: %v", err)
	}
	if _, err := proc.CreateListing(issuer, distributor, ticketAsset, paymentAsset, big.NewInt(100), 50, defaultSchedule()); err != nil {
		t.Fatalf("create listing: %v", err)
	}

	// Eight buyers race through the processor; the transaction boundary
	// must queue them so every purchase settles against consistent state.
	const buyers = 8
	const unitsEach = 5
	addrs := make([][20]byte, buyers)
	for i := range addrs {
		addrs[i] = testAddr(byte(0x10 + i))
		if err := mgr.Mint(addrs[i], paymentAsset, big.NewInt(10_000)); err != nil {
			t.Fatalf("mint funds: %v", err)
		}
	}
	var wg sync.WaitGroup
	errs := make([]error, buyers)
	for i := range addrs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = proc.Purchase(ticketAsset, addrs[i], unitsEach)
			if errs[i] == nil {
				_, _ = proc.ViewListing(ticketAsset)
			}
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("buyer %d purchase: %v", i, err)
		}
	}

	view, err := proc.ViewListing(ticketAsset)
	if err != nil {
		t.Fatalf("view listing: %v", err)
	}
	if want := uint64(50 - buyers*unitsEach); view.AvailableUnits != want {
		t.Fatalf("expected %d units left, got %d", want, view.AvailableUnits)
	}
	for i, addr := range addrs {
		tickets, err := proc.Balance(addr, ticketAsset)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if tickets.Cmp(nativecommon.TicketBaseUnits(unitsEach)) != 0 {
			t.Fatalf("buyer %d holds %s tickets", i, tickets)
		}
	}
	// principal 500 plus service fee 25 per buyer, all fully distributed.
	vault, err := mgr.VaultAddress(paymentAsset)
	if err != nil {
		t.Fatalf("vault address: %v", err)
	}
	vaultBalance, _ := proc.Balance(vault, paymentAsset)
	if vaultBalance.Sign() != 0 {
		t.Fatalf("expected payment vault drained, got %s", vaultBalance)
	}
	issuerBalance, _ := proc.Balance(issuer, paymentAsset)
	expectedIssuer := big.NewInt(buyers * (25 + 12))
	if issuerBalance.Cmp(expectedIssuer) != 0 {
		t.Fatalf("expected issuer %s, got %s", expectedIssuer, issuerBalance)
	}
}

func paymentSupply(t *testing.T, proc *Processor, mgr *state.Manager, addrs ...[20]byte) *big.Int {
	t.Helper()
	total := big.NewInt(0)
	vault, err := mgr.VaultAddress(paymentAsset)
	if err != nil {
		t.Fatalf("vault address: %v", err)
	}
	for _, addr := range append(addrs, vault) {
		balance, err := proc.Balance(addr, paymentAsset)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		total.Add(total, balance)
	}
	return total
}

func TestConservationAcrossAuctionLifecycle(t *testing.T) {
	proc, mgr := newTestProcessor(t)
	owner := testAddr(0x01)
	issuer := testAddr(0x02)
	alice := testAddr(0x0a)
	bob := testAddr(0x0b)
	if err := mgr.Mint(owner, ticketAsset, nativecommon.TicketBaseUnits(4)); err != nil {
		t.Fatalf("mint tickets: %v", err)
	}
	if err := mgr.Mint(alice, paymentAsset, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := mgr.Mint(bob, paymentAsset, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	participants := [][20]byte{owner, issuer, alice, bob}
	supply := paymentSupply(t, proc, mgr, participants...)

	auc, err := proc.StartAuction(owner, issuer, "front-row", ticketAsset, paymentAsset, 4, big.NewInt(50), testEventStart, fees.Schedule{ServiceFee: big.NewInt(40), CommissionBps: 500})
	if err != nil {
		t.Fatalf("start auction: %v", err)
	}
	steps := []func() error{
		func() error { _, err := proc.PlaceBid(auc.ID, alice, big.NewInt(100)); return err },
		func() error { _, err := proc.PlaceBid(auc.ID, bob, big.NewInt(150)); return err },
		func() error { _, err := proc.PlaceBid(auc.ID, alice, big.NewInt(120)); return err }, // rejected
		func() error { _, err := proc.CloseAuction(auc.ID, owner); return err },
	}
	for i, step := range steps {
		_ = step()
		if got := paymentSupply(t, proc, mgr, participants...); got.Cmp(supply) != 0 {
			t.Fatalf("step %d broke conservation: supply %s, expected %s", i, got, supply)
		}
	}

	closed, err := proc.ViewAuction(auc.ID)
	if err != nil {
		t.Fatalf("view auction: %v", err)
	}
	if closed.Status != auction.StatusClosed {
		t.Fatalf("expected closed auction, got %v", closed.Status)
	}
	// proceeds 150, service fee 40, commission 5% of 150 = 7: issuer 47.
	issuerBalance, _ := proc.Balance(issuer, paymentAsset)
	if issuerBalance.String() != "47" {
		t.Fatalf("expected issuer 47, got %s", issuerBalance)
	}
	ownerBalance, _ := proc.Balance(owner, paymentAsset)
	if ownerBalance.String() != "103" {
		t.Fatalf("expected owner 103, got %s", ownerBalance)
	}
	bobTickets, _ := proc.Balance(bob, ticketAsset)
	if bobTickets.Cmp(nativecommon.TicketBaseUnits(4)) != 0 {
		t.Fatalf("expected winner tickets, got %s", bobTickets)
	}
	if _, err := proc.CloseAuction(auc.ID, owner); Classify(err) != KindAlreadyClosed {
		t.Fatalf("expected already_closed kind, got %v", err)
	}
}

func TestModulePauseGatesOperations(t *testing.T) {
	proc, mgr := newTestProcessor(t)
	_, _, buyer := seedMarket(t, proc, mgr)

	proc.SetModulePaused("ticketing", true)
	if _, err := proc.Purchase(ticketAsset, buyer, 1); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected pause guard, got %v", err)
	}
	proc.SetModulePaused("ticketing", false)
	if _, err := proc.Purchase(ticketAsset, buyer, 1); err != nil {
		t.Fatalf("expected resume, got %v", err)
	}
}

func TestMintRequiresAssetAuthority(t *testing.T) {
	proc, _ := newTestProcessor(t)
	authority := testAddr(0x0e)
	stranger := testAddr(0x0f)

	// Without a configured authority mint always fails.
	if err := proc.Mint(authority, stranger, ticketAsset, big.NewInt(100)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	proc.SetAssetAuthority(authority)
	if err := proc.Mint(stranger, stranger, ticketAsset, big.NewInt(100)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized stranger, got %v", err)
	}
	if err := proc.Mint(authority, stranger, ticketAsset, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	balance, _ := proc.Balance(stranger, ticketAsset)
	if balance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected minted balance, got %s", balance)
	}
	if err := proc.Burn(stranger, ticketAsset, big.NewInt(40)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	balance, _ = proc.Balance(stranger, ticketAsset)
	if balance.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("expected burned balance, got %s", balance)
	}
}

func TestTransferAuthorizesSender(t *testing.T) {
	proc, mgr := newTestProcessor(t)
	alice := testAddr(0x0a)
	bob := testAddr(0x0b)
	if err := mgr.Mint(alice, paymentAsset, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := proc.Transfer(alice, bob, paymentAsset, big.NewInt(300)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	bobBalance, _ := proc.Balance(bob, paymentAsset)
	if bobBalance.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected 300, got %s", bobBalance)
	}
	err := proc.Transfer(alice, bob, paymentAsset, big.NewInt(701))
	if !errors.Is(err, state.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if kind := Classify(err); kind != KindInsufficientFunds {
		t.Fatalf("expected insufficient_funds kind, got %s", kind)
	}

	proc.SetAuthorizer(denyAll{})
	if err := proc.Transfer(alice, bob, paymentAsset, big.NewInt(1)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestClawbackRequiresAssetAuthority(t *testing.T) {
	proc, mgr := newTestProcessor(t)
	authority := testAddr(0x0e)
	holder := testAddr(0x0f)
	if err := mgr.Mint(holder, ticketAsset, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	// Without a configured authority clawback always fails.
	if err := proc.Clawback(authority, holder, ticketAsset, big.NewInt(40)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	proc.SetAssetAuthority(authority)
	if err := proc.Clawback(holder, holder, ticketAsset, big.NewInt(40)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized stranger, got %v", err)
	}
	if err := proc.Clawback(authority, holder, ticketAsset, big.NewInt(40)); err != nil {
		t.Fatalf("clawback: %v", err)
	}
	balance, _ := proc.Balance(holder, ticketAsset)
	if balance.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("expected 60 after clawback, got %s", balance)
	}
	if err := proc.Clawback(authority, holder, ticketAsset, big.NewInt(61)); !errors.Is(err, state.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestClassifyTaxonomy(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{nil, Kind("")},
		{ErrUnauthorized, KindUnauthorized},
		{auction.ErrUnauthorizedCaller, KindUnauthorized},
		{ticketing.ErrListingNotFound, KindNotFound},
		{auction.ErrAuctionNotFound, KindNotFound},
		{ticketing.ErrDuplicateListing, KindDuplicate},
		{auction.ErrDuplicateAuction, KindDuplicate},
		{auction.ErrAuctionClosed, KindAlreadyClosed},
		{ticketing.ErrInsufficientFunds, KindInsufficientFunds},
		{state.ErrInsufficientBalance, KindInsufficientFunds},
		{ticketing.ErrInsufficientInventory, KindInsufficientStock},
		{ticketing.ErrExceedsPurchaseLimit, KindExceedsPurchaseLimit},
		{auction.ErrBidTooLow, KindBidTooLow},
		{auction.ErrAuctionEnded, KindAuctionEnded},
		{auction.ErrEventTooSoon, KindEventTooSoon},
		{fees.ErrInvalidSplit, KindInvalidFee},
		{nativecommon.ErrUnitOverflow, KindOverflow},
		{nativecommon.ErrModulePaused, KindPaused},
		{errors.New("anything else"), KindInvalid},
		{fmt.Errorf("wrapped: %w", auction.ErrBidTooLow), KindBidTooLow},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.kind {
			t.Fatalf("Classify(%v) = %s, want %s", tc.err, got, tc.kind)
		}
	}
}
