package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"entryx/native/auction"
	"entryx/native/fees"
	"entryx/native/ticketing"
	"entryx/storage"
)

var (
	// ErrTxInProgress is returned by Begin when a transaction overlay is
	// already open.
	ErrTxInProgress = errors.New("state: transaction already in progress")
	// ErrNoTx is returned by Commit when no transaction overlay is open.
	ErrNoTx = errors.New("state: no transaction in progress")
	// ErrInsufficientBalance is returned by Transfer when the source
	// account cannot cover the amount.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
)

var (
	listingPrefix     = []byte("listing:")
	listingSchedPfx   = []byte("listing-sched:")
	listingBoughtPfx  = []byte("listing-bought:")
	auctionPrefix     = []byte("auction:")
	auctionSchedPfx   = []byte("auction-sched:")
	balancePrefix     = []byte("balance:")
	vaultSeedPrefix   = []byte("entryx/vault/")
	pausePrefixEphStr = "paused:"
)

// Manager is the durable keyed store backing the settlement engines. Records
// are RLP-encoded under keccak-prefixed keys in two durability classes: the
// backing database is the persistent scope, while the ephemeral map holds
// instance-scoped records (operator pause flags) and the open transaction
// overlay holds in-flight writes until Commit.
//
// Manager is not self-synchronizing: the settlement processor serializes all
// access, holding its mutex across each Begin/Commit window.
type Manager struct {
	db        storage.Database
	overlay   map[string][]byte
	ephemeral map[string][]byte
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:        db,
		ephemeral: make(map[string][]byte),
	}
}

// --- key derivation ---

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	buf := append([]byte(nil), prefix...)
	for _, part := range parts {
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}

func listingKey(assetID string) []byte {
	return prefixedKey(listingPrefix, []byte(assetID))
}

func listingSchedKey(assetID string) []byte {
	return prefixedKey(listingSchedPfx, []byte(assetID))
}

func listingBoughtKey(assetID string, buyer [20]byte) []byte {
	return prefixedKey(listingBoughtPfx, []byte(assetID), buyer[:])
}

func auctionKey(id [32]byte) []byte {
	return prefixedKey(auctionPrefix, id[:])
}

func auctionSchedKey(id [32]byte) []byte {
	return prefixedKey(auctionSchedPfx, id[:])
}

func balanceKey(addr [20]byte, asset string) []byte {
	return prefixedKey(balancePrefix, []byte(asset), []byte{':'}, addr[:])
}

// --- transaction overlay ---

// Begin opens a transaction overlay. Until Commit, every write lands in the
// overlay and every read sees it; Discard drops the overlay wholesale. This
// is the all-or-nothing boundary settlement operations run inside.
func (m *Manager) Begin() error {
	if m.overlay != nil {
		return ErrTxInProgress
	}
	m.overlay = make(map[string][]byte)
	return nil
}

// Commit flushes the open overlay to the persistent database.
func (m *Manager) Commit() error {
	if m.overlay == nil {
		return ErrNoTx
	}
	for key, value := range m.overlay {
		if value == nil {
			if err := m.db.Delete([]byte(key)); err != nil {
				return err
			}
			continue
		}
		if err := m.db.Put([]byte(key), value); err != nil {
			return err
		}
	}
	m.overlay = nil
	return nil
}

// Discard drops the open overlay without touching the database. Discarding
// with no open transaction is a no-op.
func (m *Manager) Discard() {
	m.overlay = nil
}

func (m *Manager) rawGet(key []byte) ([]byte, bool, error) {
	if m.overlay != nil {
		if value, ok := m.overlay[string(key)]; ok {
			return value, value != nil, nil
		}
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Manager) rawHas(key []byte) (bool, error) {
	if m.overlay != nil {
		if value, ok := m.overlay[string(key)]; ok {
			return value != nil, nil
		}
	}
	return m.db.Has(key)
}

func (m *Manager) rawPut(key, value []byte) error {
	if m.overlay != nil {
		m.overlay[string(key)] = append([]byte(nil), value...)
		return nil
	}
	return m.db.Put(key, value)
}

func (m *Manager) rawDelete(key []byte) error {
	if m.overlay != nil {
		m.overlay[string(key)] = nil
		return nil
	}
	return m.db.Delete(key)
}

// --- ephemeral scope ---

// SetModulePaused flips the operator pause flag for a settlement module.
// Pause flags live in the instance scope and reset on restart.
func (m *Manager) SetModulePaused(module string, paused bool) {
	key := pausePrefixEphStr + module
	if paused {
		m.ephemeral[key] = []byte{1}
		return
	}
	delete(m.ephemeral, key)
}

// IsPaused implements the native/common PauseView interface.
func (m *Manager) IsPaused(module string) bool {
	_, ok := m.ephemeral[pausePrefixEphStr+module]
	return ok
}

// --- stored record codecs ---
//
// RLP has no signed integers, so the stored forms carry timestamps as
// uint64 and convert at the boundary.

type storedListing struct {
	Issuer         [20]byte
	Distributor    [20]byte
	AssetID        string
	PaymentAssetID string
	UnitPrice      *big.Int
	AvailableUnits uint64
	CreatedAt      uint64
}

type storedSchedule struct {
	ServiceFee          *big.Int
	CommissionBps       uint32
	MaxUnitsPerPurchase uint64
	MaxUnitsPerAccount  uint64
}

type storedBid struct {
	Bidder [20]byte
	Amount *big.Int
}

type storedAuction struct {
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
	EndTime        uint64
	EventStart     uint64
	CreatedAt      uint64
	Bids           []storedBid
	Status         uint8
}

// --- listing registry backend ---

// ListingPut sanitises and persists a listing keyed by its asset identifier.
func (m *Manager) ListingPut(l *ticketing.Listing) error {
	sanitized, err := ticketing.SanitizeListing(l)
	if err != nil {
		return err
	}
	stored := storedListing{
		Issuer:         sanitized.Issuer,
		Distributor:    sanitized.Distributor,
		AssetID:        sanitized.AssetID,
		PaymentAssetID: sanitized.PaymentAssetID,
		UnitPrice:      sanitized.UnitPrice,
		AvailableUnits: sanitized.AvailableUnits,
		CreatedAt:      uint64(sanitized.CreatedAt),
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	return m.rawPut(listingKey(sanitized.AssetID), encoded)
}

// ListingGet loads the listing stored for the asset. The boolean reports
// whether a record exists; a non-nil error means the record could not be
// read or decoded, which is never folded into absence.
func (m *Manager) ListingGet(assetID string) (*ticketing.Listing, bool, error) {
	data, ok, err := m.rawGet(listingKey(assetID))
	if err != nil || !ok {
		return nil, false, err
	}
	stored := new(storedListing)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, fmt.Errorf("state: decode listing %q: %w", assetID, err)
	}
	return &ticketing.Listing{
		Issuer:         stored.Issuer,
		Distributor:    stored.Distributor,
		AssetID:        stored.AssetID,
		PaymentAssetID: stored.PaymentAssetID,
		UnitPrice:      stored.UnitPrice,
		AvailableUnits: stored.AvailableUnits,
		CreatedAt:      int64(stored.CreatedAt),
	}, true, nil
}

// ListingExists reports whether a listing record is stored for the asset
// without decoding it.
func (m *Manager) ListingExists(assetID string) (bool, error) {
	return m.rawHas(listingKey(assetID))
}

// ListingSchedulePut persists the immutable fee schedule for a listing.
func (m *Manager) ListingSchedulePut(assetID string, sched fees.Schedule) error {
	return m.schedulePut(listingSchedKey(assetID), sched)
}

// ListingScheduleGet loads the fee schedule stored for a listing.
func (m *Manager) ListingScheduleGet(assetID string) (fees.Schedule, bool, error) {
	return m.scheduleGet(listingSchedKey(assetID))
}

// ListingPurchasedGet returns the aggregate units the buyer has purchased
// from the listing.
func (m *Manager) ListingPurchasedGet(assetID string, buyer [20]byte) (uint64, error) {
	data, ok, err := m.rawGet(listingBoughtKey(assetID, buyer))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	var units uint64
	if err := rlp.DecodeBytes(data, &units); err != nil {
		return 0, err
	}
	return units, nil
}

// ListingPurchasedPut records the aggregate units the buyer has purchased
// from the listing.
func (m *Manager) ListingPurchasedPut(assetID string, buyer [20]byte, units uint64) error {
	encoded, err := rlp.EncodeToBytes(units)
	if err != nil {
		return err
	}
	return m.rawPut(listingBoughtKey(assetID, buyer), encoded)
}

func (m *Manager) schedulePut(key []byte, sched fees.Schedule) error {
	sanitized, err := fees.SanitizeSchedule(sched)
	if err != nil {
		return err
	}
	stored := storedSchedule{
		ServiceFee:          sanitized.ServiceFee,
		CommissionBps:       sanitized.CommissionBps,
		MaxUnitsPerPurchase: sanitized.MaxUnitsPerPurchase,
		MaxUnitsPerAccount:  sanitized.MaxUnitsPerAccount,
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	return m.rawPut(key, encoded)
}

func (m *Manager) scheduleGet(key []byte) (fees.Schedule, bool, error) {
	data, ok, err := m.rawGet(key)
	if err != nil || !ok {
		return fees.Schedule{}, false, err
	}
	stored := new(storedSchedule)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return fees.Schedule{}, false, fmt.Errorf("state: decode fee schedule: %w", err)
	}
	return fees.Schedule{
		ServiceFee:          stored.ServiceFee,
		CommissionBps:       stored.CommissionBps,
		MaxUnitsPerPurchase: stored.MaxUnitsPerPurchase,
		MaxUnitsPerAccount:  stored.MaxUnitsPerAccount,
	}, true, nil
}

// --- auction backend ---

// AuctionPut sanitises and persists an auction keyed by its composite
// identifier.
func (m *Manager) AuctionPut(a *auction.Auction) error {
	sanitized, err := auction.SanitizeAuction(a)
	if err != nil {
		return err
	}
	stored := storedAuction{
		ID:             sanitized.ID,
		Label:          sanitized.Label,
		Owner:          sanitized.Owner,
		Issuer:         sanitized.Issuer,
		AssetID:        sanitized.AssetID,
		PaymentAssetID: sanitized.PaymentAssetID,
		StartingPrice:  sanitized.StartingPrice,
		HighestBid:     sanitized.HighestBid,
		HighestBidder:  sanitized.HighestBidder,
		HasBidder:      sanitized.HasBidder,
		Quantity:       sanitized.Quantity,
		EndTime:        uint64(sanitized.EndTime),
		EventStart:     uint64(sanitized.EventStart),
		CreatedAt:      uint64(sanitized.CreatedAt),
		Status:         uint8(sanitized.Status),
	}
	if len(sanitized.Bids) > 0 {
		stored.Bids = make([]storedBid, len(sanitized.Bids))
		for i, bid := range sanitized.Bids {
			stored.Bids[i] = storedBid{Bidder: bid.Bidder, Amount: bid.Amount}
		}
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	return m.rawPut(auctionKey(sanitized.ID), encoded)
}

// AuctionGet loads the auction stored under the identifier. As with
// ListingGet, read and decode failures surface as errors rather than
// reading as an absent record.
func (m *Manager) AuctionGet(id [32]byte) (*auction.Auction, bool, error) {
	data, ok, err := m.rawGet(auctionKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	stored := new(storedAuction)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, fmt.Errorf("state: decode auction %x: %w", id, err)
	}
	auc := &auction.Auction{
		ID:             stored.ID,
		Label:          stored.Label,
		Owner:          stored.Owner,
		Issuer:         stored.Issuer,
		AssetID:        stored.AssetID,
		PaymentAssetID: stored.PaymentAssetID,
		StartingPrice:  stored.StartingPrice,
		HighestBid:     stored.HighestBid,
		HighestBidder:  stored.HighestBidder,
		HasBidder:      stored.HasBidder,
		Quantity:       stored.Quantity,
		EndTime:        int64(stored.EndTime),
		EventStart:     int64(stored.EventStart),
		CreatedAt:      int64(stored.CreatedAt),
		Status:         auction.Status(stored.Status),
	}
	if len(stored.Bids) > 0 {
		auc.Bids = make([]auction.BidEntry, len(stored.Bids))
		for i, bid := range stored.Bids {
			auc.Bids[i] = auction.BidEntry{Bidder: bid.Bidder, Amount: bid.Amount}
		}
	}
	return auc, true, nil
}

// AuctionSchedulePut persists the immutable fee schedule for an auction.
func (m *Manager) AuctionSchedulePut(id [32]byte, sched fees.Schedule) error {
	return m.schedulePut(auctionSchedKey(id), sched)
}

// AuctionScheduleGet loads the fee schedule stored for an auction.
func (m *Manager) AuctionScheduleGet(id [32]byte) (fees.Schedule, bool, error) {
	return m.scheduleGet(auctionSchedKey(id))
}

// AuctionScheduleDelete removes the fee schedule for an auction. Terminal
// transitions drop the schedule once settlement no longer needs it.
func (m *Manager) AuctionScheduleDelete(id [32]byte) error {
	return m.rawDelete(auctionSchedKey(id))
}

// --- asset ledger ---

// VaultAddress derives the deterministic escrow address holding settlement
// balances for an asset. Vault addresses are never controlled by a keypair.
func (m *Manager) VaultAddress(asset string) ([20]byte, error) {
	if asset == "" {
		return [20]byte{}, fmt.Errorf("state: asset required for vault address")
	}
	digest := ethcrypto.Keccak256(vaultSeedPrefix, []byte(asset))
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr, nil
}

// Balance returns the asset balance of an address. Unknown accounts hold
// zero.
func (m *Manager) Balance(addr [20]byte, asset string) (*big.Int, error) {
	data, ok, err := m.rawGet(balanceKey(addr, asset))
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(data, balance); err != nil {
		return nil, err
	}
	return balance, nil
}

func (m *Manager) setBalance(addr [20]byte, asset string, balance *big.Int) error {
	encoded, err := rlp.EncodeToBytes(balance)
	if err != nil {
		return err
	}
	return m.rawPut(balanceKey(addr, asset), encoded)
}

// Transfer moves an asset amount between two addresses, failing when the
// source balance is insufficient. A zero amount is a no-op.
func (m *Manager) Transfer(from, to [20]byte, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative transfer amount")
	}
	fromBalance, err := m.Balance(from, asset)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBalance, err := m.Balance(to, asset)
	if err != nil {
		return err
	}
	if err := m.setBalance(from, asset, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return m.setBalance(to, asset, new(big.Int).Add(toBalance, amount))
}

// Mint credits new asset units to an address. Issuance authority is enforced
// by the settlement layer, not here.
func (m *Manager) Mint(to [20]byte, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: mint amount must be positive")
	}
	balance, err := m.Balance(to, asset)
	if err != nil {
		return err
	}
	return m.setBalance(to, asset, new(big.Int).Add(balance, amount))
}

// Burn removes asset units from an address, failing when the balance is
// insufficient.
func (m *Manager) Burn(from [20]byte, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: burn amount must be positive")
	}
	balance, err := m.Balance(from, asset)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return m.setBalance(from, asset, new(big.Int).Sub(balance, amount))
}
