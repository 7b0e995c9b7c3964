// internal/market/engine.go
package market

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nftbazaar/marketplace-backend/internal/models"
)

// MaxRoyaltyBps is the full price expressed in basis points.
const MaxRoyaltyBps = 10000

// Key identifies a listable asset. At most one active listing exists per key.
type Key struct {
	Collection models.Address
	TokenID    uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Collection, k.TokenID)
}

// Listing is an active fixed-price offer. The zero value is the sentinel
// returned for unlisted keys (null seller, zero price).
type Listing struct {
	Seller     models.Address `json:"seller"`
	Price      uint64         `json:"price"`
	Payment    PaymentMethod  `json:"payment"`
	Creator    models.Address `json:"creator"`
	RoyaltyBps uint16         `json:"royalty_bps"`
}

func (l Listing) Active() bool {
	return !l.Seller.IsZero()
}

// Sale reports a completed settlement.
type Sale struct {
	Key            Key
	Listing        Listing
	Buyer          models.Address
	SellerProceeds uint64
	Royalty        uint64
}

// RoyaltySplit returns floor(price * bps / 10000) without intermediate
// overflow for any uint64 price.
func RoyaltySplit(price uint64, bps uint16) uint64 {
	q, r := price/MaxRoyaltyBps, price%MaxRoyaltyBps
	return q*uint64(bps) + r*uint64(bps)/MaxRoyaltyBps
}

// Engine owns the listing registry and performs settlements against the
// asset custodian and payment rail capabilities.
//
// All mutations for one key are serialized on a per-key lock so the
// clear-before-transfer ordering in Buy cannot be observed half-done;
// operations on different keys proceed in parallel. The registry map
// itself is guarded separately so reads never wait on an in-flight
// settlement: a concurrent Buy or Cancel on a cleared key fails fast with
// ErrNotListed.
type Engine struct {
	operator  models.Address
	custodian AssetCustodian
	rail      PaymentRail
	log       *logrus.Entry

	mu       sync.RWMutex
	listings map[Key]Listing

	lockMu sync.Mutex
	locks  map[Key]*sync.Mutex
}

// NewEngine builds an engine settling under the given operator address.
// The operator is the identity sellers approve for custody transfers and
// the spender for token pulls.
func NewEngine(operator models.Address, custodian AssetCustodian, rail PaymentRail) *Engine {
	return &Engine{
		operator:  operator,
		custodian: custodian,
		rail:      rail,
		log:       logrus.WithField("component", "market_engine"),
		listings:  make(map[Key]Listing),
		locks:     make(map[Key]*sync.Mutex),
	}
}

func (e *Engine) Operator() models.Address {
	return e.operator
}

func (e *Engine) keyLock(k Key) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	l, ok := e.locks[k]
	if !ok {
		l = &sync.Mutex{}
		e.locks[k] = l
	}
	return l
}

// List creates an active listing for the caller's asset. The caller must
// own the asset and must have approved the engine operator for transfer.
func (e *Engine) List(ctx context.Context, key Key, caller models.Address, terms Listing) error {
	if terms.Price == 0 {
		return ErrInvalidPrice
	}
	if terms.RoyaltyBps > MaxRoyaltyBps {
		return ErrInvalidRoyalty
	}

	lock := e.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	e.mu.RLock()
	_, exists := e.listings[key]
	e.mu.RUnlock()
	if exists {
		return ErrAlreadyListed
	}

	owner, err := e.custodian.OwnerOf(ctx, key.Collection, key.TokenID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotOwner, err)
	}
	if owner != caller {
		return ErrNotOwner
	}

	approved, err := e.custodian.IsApprovedForTransfer(ctx, key.Collection, key.TokenID, e.operator)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotApproved, err)
	}
	if !approved {
		return ErrNotApproved
	}

	terms.Seller = caller

	e.mu.Lock()
	e.listings[key] = terms
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"key":     key.String(),
		"seller":  caller.String(),
		"price":   terms.Price,
		"payment": terms.Payment.Kind.String(),
	}).Info("Asset listed")

	return nil
}

// Buy settles an active listing: the buyer pays the seller and creator and
// receives custody of the asset. supplied is the native value sent with
// the call and must equal the price exactly for native listings; token
// listings pull the price via the buyer's allowance instead.
//
// The listing is cleared from the registry before any external transfer is
// initiated, so a reentrant call sees no active listing. If any transfer
// fails, payouts already made are reversed and the listing is restored;
// the operation is all-or-nothing.
func (e *Engine) Buy(ctx context.Context, key Key, buyer models.Address, supplied uint64) (*Sale, error) {
	lock := e.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	listing, ok := e.listings[key]
	if !ok {
		e.mu.Unlock()
		return nil, ErrNotListed
	}
	delete(e.listings, key)
	e.mu.Unlock()

	restore := func() {
		e.mu.Lock()
		e.listings[key] = listing
		e.mu.Unlock()
	}

	if listing.Payment.Kind == PaymentNative && supplied != listing.Price {
		restore()
		return nil, ErrWrongAmount
	}

	royalty := RoyaltySplit(listing.Price, listing.RoyaltyBps)
	proceeds := listing.Price - royalty

	// The asset may have left the seller's custody out-of-band since
	// listing time; re-check before moving any funds.
	owner, err := e.custodian.OwnerOf(ctx, key.Collection, key.TokenID)
	if err != nil {
		restore()
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if owner != listing.Seller {
		restore()
		return nil, fmt.Errorf("%w: seller no longer owns the asset", ErrTransferFailed)
	}

	if err := e.pay(ctx, listing.Payment, buyer, listing.Seller, proceeds); err != nil {
		restore()
		return nil, err
	}
	if royalty > 0 {
		if err := e.pay(ctx, listing.Payment, buyer, listing.Creator, royalty); err != nil {
			e.reverse(ctx, key, listing.Payment, listing.Seller, buyer, proceeds)
			restore()
			return nil, err
		}
	}

	if err := e.custodian.Transfer(ctx, key.Collection, key.TokenID, listing.Seller, buyer); err != nil {
		e.reverse(ctx, key, listing.Payment, listing.Seller, buyer, proceeds)
		if royalty > 0 {
			e.reverse(ctx, key, listing.Payment, listing.Creator, buyer, royalty)
		}
		restore()
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	e.log.WithFields(logrus.Fields{
		"key":     key.String(),
		"seller":  listing.Seller.String(),
		"buyer":   buyer.String(),
		"price":   listing.Price,
		"royalty": royalty,
	}).Info("Asset sold")

	return &Sale{
		Key:            key,
		Listing:        listing,
		Buyer:          buyer,
		SellerProceeds: proceeds,
		Royalty:        royalty,
	}, nil
}

// Cancel clears the caller's own listing. No funds or custody move.
func (e *Engine) Cancel(ctx context.Context, key Key, caller models.Address) error {
	lock := e.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	listing, ok := e.listings[key]
	if !ok {
		return ErrNotListed
	}
	if listing.Seller != caller {
		return ErrNotSeller
	}
	delete(e.listings, key)

	e.log.WithFields(logrus.Fields{
		"key":    key.String(),
		"seller": caller.String(),
	}).Info("Listing cancelled")

	return nil
}

// GetListing returns the active listing for key, or the zero-value
// sentinel when the key is unlisted.
func (e *Engine) GetListing(key Key) Listing {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.listings[key]
}

// Restore seeds a listing without precondition checks. It is used at boot
// to rebuild the registry from the persisted projection.
func (e *Engine) Restore(key Key, listing Listing) {
	e.mu.Lock()
	e.listings[key] = listing
	e.mu.Unlock()
}

func (e *Engine) pay(ctx context.Context, method PaymentMethod, from, to models.Address, amount uint64) error {
	var err error
	switch method.Kind {
	case PaymentToken:
		err = e.rail.TransferTokenFrom(ctx, method.Token, e.operator, from, to, amount)
	default:
		err = e.rail.TransferNative(ctx, from, to, amount)
	}
	if err == nil {
		return nil
	}
	if isFundsError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPayoutFailed, err)
}

// reverse undoes a payout made earlier in a failed settlement. A failed
// reversal leaves the rail inconsistent and is loud in the logs; the
// original settlement error is still what the caller sees.
func (e *Engine) reverse(ctx context.Context, key Key, method PaymentMethod, from, to models.Address, amount uint64) {
	var err error
	switch method.Kind {
	case PaymentToken:
		err = e.rail.RefundToken(ctx, method.Token, e.operator, from, to, amount)
	default:
		err = e.rail.TransferNative(ctx, from, to, amount)
	}
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"key":    key.String(),
			"from":   from.String(),
			"to":     to.String(),
			"amount": amount,
		}).WithError(err).Error("Failed to reverse payout during settlement rollback")
	}
}

func isFundsError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrInsufficientAllowance)
}
