package fees

import (
	"errors"
	"math/big"
)

// BpsDenominator is the commission scale: rates are expressed in parts per
// ten thousand of the transaction principal.
const BpsDenominator = 10_000

var (
	// ErrInvalidSchedule marks a fee schedule whose parameters are outside
	// the supported range.
	ErrInvalidSchedule = errors.New("fees: invalid schedule")
	// ErrInvalidSplit marks a split whose seller share computes negative,
	// i.e. the configured commission and fee exceed the principal.
	ErrInvalidSplit = errors.New("fees: split exceeds principal")
	// ErrInvalidPrincipal marks a nil or negative transaction principal.
	ErrInvalidPrincipal = errors.New("fees: principal must be non-negative")
)

// Schedule is the fee configuration attached to a listing or an auction at
// creation time. It is immutable for the lifetime of the entity.
type Schedule struct {
	// ServiceFee is a flat per-transaction fee in payment base units. For
	// auctions it doubles as the reseller publishing fee.
	ServiceFee *big.Int
	// CommissionBps is the issuer commission on the principal, in basis
	// points.
	CommissionBps uint32
	// MaxUnitsPerPurchase caps the ticket units a single purchase may take.
	MaxUnitsPerPurchase uint64
	// MaxUnitsPerAccount caps the aggregate units one account may
	// accumulate across purchases of the same listing.
	MaxUnitsPerAccount uint64
}

// Clone returns a deep copy of the schedule.
func (s Schedule) Clone() Schedule {
	clone := s
	if s.ServiceFee != nil {
		clone.ServiceFee = new(big.Int).Set(s.ServiceFee)
	} else {
		clone.ServiceFee = big.NewInt(0)
	}
	return clone
}

// SanitizeSchedule validates and normalises a schedule. A zero aggregate cap
// defaults to twice the per-purchase cap, matching how distributors configure
// listings in practice.
func SanitizeSchedule(s Schedule) (Schedule, error) {
	clone := s.Clone()
	if clone.ServiceFee.Sign() < 0 {
		return Schedule{}, ErrInvalidSchedule
	}
	if clone.CommissionBps > BpsDenominator {
		return Schedule{}, ErrInvalidSchedule
	}
	if clone.MaxUnitsPerAccount == 0 {
		clone.MaxUnitsPerAccount = 2 * clone.MaxUnitsPerPurchase
	}
	return clone, nil
}

// Breakdown is the result of splitting a transaction amount between the
// parties of a settlement.
type Breakdown struct {
	// BuyerTotal is what the buyer owes: principal plus service fee.
	BuyerTotal *big.Int
	// IssuerShare is the service fee plus commission routed to the issuer.
	IssuerShare *big.Int
	// SellerShare is the remainder routed to the distributor or auction
	// owner.
	SellerShare *big.Int
}

// Split computes the settlement of a transaction principal under the given
// schedule:
//
//	BuyerTotal  = principal + ServiceFee
//	IssuerShare = ServiceFee + floor(principal * CommissionBps / 10000)
//	SellerShare = BuyerTotal - IssuerShare
//
// All arithmetic is integer with floor semantics. The split fails when the
// seller share would be negative, which guards against a commission
// configured to exceed the principal.
func Split(principal *big.Int, sched Schedule) (Breakdown, error) {
	if principal == nil || principal.Sign() < 0 {
		return Breakdown{}, ErrInvalidPrincipal
	}
	sanitized, err := SanitizeSchedule(sched)
	if err != nil {
		return Breakdown{}, err
	}
	buyerTotal := new(big.Int).Add(principal, sanitized.ServiceFee)
	commission := new(big.Int).Mul(principal, new(big.Int).SetUint64(uint64(sanitized.CommissionBps)))
	commission.Div(commission, big.NewInt(BpsDenominator))
	issuerShare := new(big.Int).Add(sanitized.ServiceFee, commission)
	sellerShare := new(big.Int).Sub(buyerTotal, issuerShare)
	if sellerShare.Sign() < 0 {
		return Breakdown{}, ErrInvalidSplit
	}
	return Breakdown{
		BuyerTotal:  buyerTotal,
		IssuerShare: issuerShare,
		SellerShare: sellerShare,
	}, nil
}

// SplitFromProceeds settles an amount already held in escrow, such as a
// winning auction bid. The issuer share (service fee plus commission) comes
// out of the proceeds instead of being charged on top:
//
//	IssuerShare = ServiceFee + floor(proceeds * CommissionBps / 10000)
//	SellerShare = proceeds - IssuerShare
//
// The split fails when the issuer share exceeds the proceeds, since the
// escrow holds nothing beyond the bid itself.
func SplitFromProceeds(proceeds *big.Int, sched Schedule) (Breakdown, error) {
	if proceeds == nil || proceeds.Sign() < 0 {
		return Breakdown{}, ErrInvalidPrincipal
	}
	sanitized, err := SanitizeSchedule(sched)
	if err != nil {
		return Breakdown{}, err
	}
	commission := new(big.Int).Mul(proceeds, new(big.Int).SetUint64(uint64(sanitized.CommissionBps)))
	commission.Div(commission, big.NewInt(BpsDenominator))
	issuerShare := new(big.Int).Add(sanitized.ServiceFee, commission)
	sellerShare := new(big.Int).Sub(proceeds, issuerShare)
	if sellerShare.Sign() < 0 {
		return Breakdown{}, ErrInvalidSplit
	}
	return Breakdown{
		BuyerTotal:  new(big.Int).Set(proceeds),
		IssuerShare: issuerShare,
		SellerShare: sellerShare,
	}, nil
}
