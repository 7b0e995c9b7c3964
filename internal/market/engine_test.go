// internal/market/engine_test.go
package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/nftbazaar/marketplace-backend/internal/models"
)

// fakeCustodian is an in-memory ownership registry.
type fakeCustodian struct {
	mu          sync.Mutex
	owners      map[Key]models.Address
	approvals   map[Key]models.Address
	transferErr error
}

func newFakeCustodian() *fakeCustodian {
	return &fakeCustodian{
		owners:    make(map[Key]models.Address),
		approvals: make(map[Key]models.Address),
	}
}

func (c *fakeCustodian) mint(key Key, owner models.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners[key] = owner
}

func (c *fakeCustodian) approve(key Key, operator models.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.approvals[key] = operator
}

func (c *fakeCustodian) OwnerOf(_ context.Context, collection models.Address, tokenID uint64) (models.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.owners[Key{Collection: collection, TokenID: tokenID}]
	if !ok {
		return models.ZeroAddress, errors.New("asset not found")
	}
	return owner, nil
}

func (c *fakeCustodian) IsApprovedForTransfer(_ context.Context, collection models.Address, tokenID uint64, operator models.Address) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	approved := c.approvals[Key{Collection: collection, TokenID: tokenID}]
	return !operator.IsZero() && approved == operator, nil
}

func (c *fakeCustodian) Transfer(_ context.Context, collection models.Address, tokenID uint64, from, to models.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transferErr != nil {
		return c.transferErr
	}
	key := Key{Collection: collection, TokenID: tokenID}
	if c.owners[key] != from {
		return errors.New("transfer from non-owner")
	}
	c.owners[key] = to
	delete(c.approvals, key)
	return nil
}

// fakeRail is an in-memory double-entry ledger with injectable failures.
type fakeRail struct {
	mu         sync.Mutex
	native     map[models.Address]uint64
	tokens     map[models.Address]map[models.Address]uint64
	allowances map[string]uint64

	failNative func(from, to models.Address) error
	failToken  func(from, to models.Address) error
}

func newFakeRail() *fakeRail {
	return &fakeRail{
		native:     make(map[models.Address]uint64),
		tokens:     make(map[models.Address]map[models.Address]uint64),
		allowances: make(map[string]uint64),
	}
}

func allowanceKey(owner, token, spender models.Address) string {
	return fmt.Sprintf("%s|%s|%s", owner, token, spender)
}

func (r *fakeRail) creditNative(account models.Address, amount uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.native[account] += amount
}

func (r *fakeRail) creditToken(token, account models.Address, amount uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tokens[token] == nil {
		r.tokens[token] = make(map[models.Address]uint64)
	}
	r.tokens[token][account] += amount
}

func (r *fakeRail) setAllowance(owner, token, spender models.Address, amount uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allowances[allowanceKey(owner, token, spender)] = amount
}

func (r *fakeRail) nativeBalance(account models.Address) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.native[account]
}

func (r *fakeRail) tokenBalance(token, account models.Address) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens[token][account]
}

func (r *fakeRail) allowance(owner, token, spender models.Address) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allowances[allowanceKey(owner, token, spender)]
}

func (r *fakeRail) TransferNative(_ context.Context, from, to models.Address, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNative != nil {
		if err := r.failNative(from, to); err != nil {
			return err
		}
	}
	if r.native[from] < amount {
		return ErrInsufficientBalance
	}
	r.native[from] -= amount
	r.native[to] += amount
	return nil
}

func (r *fakeRail) TransferTokenFrom(_ context.Context, token, spender, from, to models.Address, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failToken != nil {
		if err := r.failToken(from, to); err != nil {
			return err
		}
	}
	ak := allowanceKey(from, token, spender)
	if r.allowances[ak] < amount {
		return ErrInsufficientAllowance
	}
	if r.tokens[token][from] < amount {
		return ErrInsufficientBalance
	}
	if r.tokens[token] == nil {
		r.tokens[token] = make(map[models.Address]uint64)
	}
	r.tokens[token][from] -= amount
	r.tokens[token][to] += amount
	r.allowances[ak] -= amount
	return nil
}

func (r *fakeRail) RefundToken(_ context.Context, token, spender, from, to models.Address, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tokens[token][from] < amount {
		return ErrInsufficientBalance
	}
	if r.tokens[token] == nil {
		r.tokens[token] = make(map[models.Address]uint64)
	}
	r.tokens[token][from] -= amount
	r.tokens[token][to] += amount
	r.allowances[allowanceKey(to, token, spender)] += amount
	return nil
}

type EngineTestSuite struct {
	suite.Suite
	ctx       context.Context
	custodian *fakeCustodian
	rail      *fakeRail
	engine    *Engine

	operator models.Address
	seller   models.Address
	buyer    models.Address
	creator  models.Address
	stranger models.Address

	collection models.Address
	payToken   models.Address
	key        Key
}

func (s *EngineTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.custodian = newFakeCustodian()
	s.rail = newFakeRail()

	s.operator = models.MustParseAddress("0x00000000000000000000000000000000000a11ce")
	s.seller = models.MustParseAddress("0x0000000000000000000000000000000000000001")
	s.buyer = models.MustParseAddress("0x0000000000000000000000000000000000000002")
	s.creator = models.MustParseAddress("0x0000000000000000000000000000000000000003")
	s.stranger = models.MustParseAddress("0x0000000000000000000000000000000000000004")
	s.collection = models.MustParseAddress("0x00000000000000000000000000000000000000c1")
	s.payToken = models.MustParseAddress("0x00000000000000000000000000000000000000e1")
	s.key = Key{Collection: s.collection, TokenID: 7}

	s.engine = NewEngine(s.operator, s.custodian, s.rail)

	s.custodian.mint(s.key, s.seller)
	s.custodian.approve(s.key, s.operator)
}

// list puts the suite's asset on the market with the given terms.
func (s *EngineTestSuite) list(price uint64, bps uint16, payment PaymentMethod) {
	err := s.engine.List(s.ctx, s.key, s.seller, Listing{
		Price:      price,
		Payment:    payment,
		Creator:    s.creator,
		RoyaltyBps: bps,
	})
	require.NoError(s.T(), err)
}

func (s *EngineTestSuite) TestListAndRead() {
	sentinel := s.engine.GetListing(s.key)
	assert.False(s.T(), sentinel.Active())
	assert.True(s.T(), sentinel.Seller.IsZero())
	assert.Zero(s.T(), sentinel.Price)

	s.list(1000, 250, NativePayment())

	listing := s.engine.GetListing(s.key)
	assert.True(s.T(), listing.Active())
	assert.Equal(s.T(), s.seller, listing.Seller)
	assert.Equal(s.T(), uint64(1000), listing.Price)
	assert.Equal(s.T(), uint16(250), listing.RoyaltyBps)
	assert.Equal(s.T(), PaymentNative, listing.Payment.Kind)
}

func (s *EngineTestSuite) TestListValidation() {
	err := s.engine.List(s.ctx, s.key, s.seller, Listing{Price: 0, Creator: s.creator})
	assert.ErrorIs(s.T(), err, ErrInvalidPrice)

	err = s.engine.List(s.ctx, s.key, s.seller, Listing{Price: 100, RoyaltyBps: 10001, Creator: s.creator})
	assert.ErrorIs(s.T(), err, ErrInvalidRoyalty)

	err = s.engine.List(s.ctx, s.key, s.stranger, Listing{Price: 100, Creator: s.creator})
	assert.ErrorIs(s.T(), err, ErrNotOwner)

	assert.False(s.T(), s.engine.GetListing(s.key).Active())
}

func (s *EngineTestSuite) TestListRequiresApproval() {
	unapproved := Key{Collection: s.collection, TokenID: 8}
	s.custodian.mint(unapproved, s.seller)

	err := s.engine.List(s.ctx, unapproved, s.seller, Listing{Price: 100, Creator: s.creator})
	assert.ErrorIs(s.T(), err, ErrNotApproved)
}

func (s *EngineTestSuite) TestListTwice() {
	s.list(1000, 0, NativePayment())

	err := s.engine.List(s.ctx, s.key, s.seller, Listing{Price: 2000, Creator: s.creator})
	assert.ErrorIs(s.T(), err, ErrAlreadyListed)

	// Original terms survive the rejected re-list.
	assert.Equal(s.T(), uint64(1000), s.engine.GetListing(s.key).Price)
}

func (s *EngineTestSuite) TestBuyNative() {
	s.list(1000, 250, NativePayment())
	s.rail.creditNative(s.buyer, 1500)

	sale, err := s.engine.Buy(s.ctx, s.key, s.buyer, 1000)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), uint64(975), sale.SellerProceeds)
	assert.Equal(s.T(), uint64(25), sale.Royalty)
	assert.Equal(s.T(), s.buyer, sale.Buyer)

	assert.Equal(s.T(), uint64(500), s.rail.nativeBalance(s.buyer))
	assert.Equal(s.T(), uint64(975), s.rail.nativeBalance(s.seller))
	assert.Equal(s.T(), uint64(25), s.rail.nativeBalance(s.creator))

	owner, err := s.custodian.OwnerOf(s.ctx, s.key.Collection, s.key.TokenID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), s.buyer, owner)

	assert.False(s.T(), s.engine.GetListing(s.key).Active())
}

func (s *EngineTestSuite) TestBuyWrongAmount() {
	s.list(1000, 0, NativePayment())
	s.rail.creditNative(s.buyer, 5000)

	for _, supplied := range []uint64{0, 999, 1001} {
		_, err := s.engine.Buy(s.ctx, s.key, s.buyer, supplied)
		assert.ErrorIs(s.T(), err, ErrWrongAmount)
	}

	// The listing survives rejected attempts.
	assert.True(s.T(), s.engine.GetListing(s.key).Active())
	assert.Equal(s.T(), uint64(5000), s.rail.nativeBalance(s.buyer))
}

func (s *EngineTestSuite) TestBuyNotListed() {
	_, err := s.engine.Buy(s.ctx, s.key, s.buyer, 1000)
	assert.ErrorIs(s.T(), err, ErrNotListed)
}

func (s *EngineTestSuite) TestBuyInsufficientBalance() {
	s.list(1000, 250, NativePayment())
	s.rail.creditNative(s.buyer, 100)

	_, err := s.engine.Buy(s.ctx, s.key, s.buyer, 1000)
	assert.ErrorIs(s.T(), err, ErrInsufficientBalance)

	assert.True(s.T(), s.engine.GetListing(s.key).Active())
	assert.Equal(s.T(), uint64(100), s.rail.nativeBalance(s.buyer))
	assert.Zero(s.T(), s.rail.nativeBalance(s.seller))
}

func (s *EngineTestSuite) TestBuyToken() {
	s.list(1000, 1000, TokenPayment(s.payToken))
	s.rail.creditToken(s.payToken, s.buyer, 2000)
	s.rail.setAllowance(s.buyer, s.payToken, s.operator, 1000)

	// Token listings ignore the supplied native value.
	sale, err := s.engine.Buy(s.ctx, s.key, s.buyer, 0)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), uint64(900), sale.SellerProceeds)
	assert.Equal(s.T(), uint64(100), sale.Royalty)

	assert.Equal(s.T(), uint64(1000), s.rail.tokenBalance(s.payToken, s.buyer))
	assert.Equal(s.T(), uint64(900), s.rail.tokenBalance(s.payToken, s.seller))
	assert.Equal(s.T(), uint64(100), s.rail.tokenBalance(s.payToken, s.creator))
	assert.Zero(s.T(), s.rail.allowance(s.buyer, s.payToken, s.operator))
}

func (s *EngineTestSuite) TestBuyTokenInsufficientAllowance() {
	s.list(1000, 0, TokenPayment(s.payToken))
	s.rail.creditToken(s.payToken, s.buyer, 2000)
	s.rail.setAllowance(s.buyer, s.payToken, s.operator, 500)

	_, err := s.engine.Buy(s.ctx, s.key, s.buyer, 0)
	assert.ErrorIs(s.T(), err, ErrInsufficientAllowance)

	assert.True(s.T(), s.engine.GetListing(s.key).Active())
	assert.Equal(s.T(), uint64(2000), s.rail.tokenBalance(s.payToken, s.buyer))
	assert.Equal(s.T(), uint64(500), s.rail.allowance(s.buyer, s.payToken, s.operator))
}

func (s *EngineTestSuite) TestBuyNoRoyalty() {
	s.list(1000, 0, NativePayment())
	s.rail.creditNative(s.buyer, 1000)

	sale, err := s.engine.Buy(s.ctx, s.key, s.buyer, 1000)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), uint64(1000), sale.SellerProceeds)
	assert.Zero(s.T(), sale.Royalty)
	assert.Zero(s.T(), s.rail.nativeBalance(s.creator))
	assert.Equal(s.T(), uint64(1000), s.rail.nativeBalance(s.seller))
}

func (s *EngineTestSuite) TestBuyFullRoyalty() {
	s.list(1000, MaxRoyaltyBps, NativePayment())
	s.rail.creditNative(s.buyer, 1000)

	sale, err := s.engine.Buy(s.ctx, s.key, s.buyer, 1000)
	require.NoError(s.T(), err)

	assert.Zero(s.T(), sale.SellerProceeds)
	assert.Equal(s.T(), uint64(1000), sale.Royalty)
	assert.Equal(s.T(), uint64(1000), s.rail.nativeBalance(s.creator))
	assert.Zero(s.T(), s.rail.nativeBalance(s.seller))
}

func (s *EngineTestSuite) TestRollbackOnRoyaltyPayoutFailure() {
	s.list(1000, 250, NativePayment())
	s.rail.creditNative(s.buyer, 1000)
	s.rail.failNative = func(from, to models.Address) error {
		if to == s.creator {
			return errors.New("rail unavailable")
		}
		return nil
	}

	_, err := s.engine.Buy(s.ctx, s.key, s.buyer, 1000)
	assert.ErrorIs(s.T(), err, ErrPayoutFailed)

	// The seller payout was reversed and the listing restored.
	assert.Equal(s.T(), uint64(1000), s.rail.nativeBalance(s.buyer))
	assert.Zero(s.T(), s.rail.nativeBalance(s.seller))
	assert.Zero(s.T(), s.rail.nativeBalance(s.creator))
	assert.True(s.T(), s.engine.GetListing(s.key).Active())
}

func (s *EngineTestSuite) TestRollbackOnCustodyFailure() {
	s.list(1000, 250, NativePayment())
	s.rail.creditNative(s.buyer, 1000)
	s.custodian.transferErr = errors.New("custody offline")

	_, err := s.engine.Buy(s.ctx, s.key, s.buyer, 1000)
	assert.ErrorIs(s.T(), err, ErrTransferFailed)

	assert.Equal(s.T(), uint64(1000), s.rail.nativeBalance(s.buyer))
	assert.Zero(s.T(), s.rail.nativeBalance(s.seller))
	assert.Zero(s.T(), s.rail.nativeBalance(s.creator))
	assert.True(s.T(), s.engine.GetListing(s.key).Active())

	owner, err := s.custodian.OwnerOf(s.ctx, s.key.Collection, s.key.TokenID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), s.seller, owner)
}

func (s *EngineTestSuite) TestRollbackOnTokenCustodyFailure() {
	s.list(1000, 500, TokenPayment(s.payToken))
	s.rail.creditToken(s.payToken, s.buyer, 1000)
	s.rail.setAllowance(s.buyer, s.payToken, s.operator, 1000)
	s.custodian.transferErr = errors.New("custody offline")

	_, err := s.engine.Buy(s.ctx, s.key, s.buyer, 0)
	assert.ErrorIs(s.T(), err, ErrTransferFailed)

	// Token pulls are refunded and the consumed allowance restored.
	assert.Equal(s.T(), uint64(1000), s.rail.tokenBalance(s.payToken, s.buyer))
	assert.Zero(s.T(), s.rail.tokenBalance(s.payToken, s.seller))
	assert.Zero(s.T(), s.rail.tokenBalance(s.payToken, s.creator))
	assert.Equal(s.T(), uint64(1000), s.rail.allowance(s.buyer, s.payToken, s.operator))
	assert.True(s.T(), s.engine.GetListing(s.key).Active())
}

func (s *EngineTestSuite) TestBuyAfterSellerLostCustody() {
	s.list(1000, 0, NativePayment())
	s.rail.creditNative(s.buyer, 1000)

	// The asset moved out-of-band after listing time.
	s.custodian.mint(s.key, s.stranger)

	_, err := s.engine.Buy(s.ctx, s.key, s.buyer, 1000)
	assert.ErrorIs(s.T(), err, ErrTransferFailed)

	assert.Equal(s.T(), uint64(1000), s.rail.nativeBalance(s.buyer))
	assert.True(s.T(), s.engine.GetListing(s.key).Active())
}

func (s *EngineTestSuite) TestCancel() {
	s.list(1000, 0, NativePayment())

	err := s.engine.Cancel(s.ctx, s.key, s.seller)
	require.NoError(s.T(), err)
	assert.False(s.T(), s.engine.GetListing(s.key).Active())

	// Second cancel finds nothing.
	err = s.engine.Cancel(s.ctx, s.key, s.seller)
	assert.ErrorIs(s.T(), err, ErrNotListed)
}

func (s *EngineTestSuite) TestCancelNotSeller() {
	s.list(1000, 0, NativePayment())

	err := s.engine.Cancel(s.ctx, s.key, s.stranger)
	assert.ErrorIs(s.T(), err, ErrNotSeller)
	assert.True(s.T(), s.engine.GetListing(s.key).Active())
}

func (s *EngineTestSuite) TestRelistAfterCancel() {
	s.list(1000, 0, NativePayment())
	require.NoError(s.T(), s.engine.Cancel(s.ctx, s.key, s.seller))

	s.list(2000, 100, NativePayment())
	assert.Equal(s.T(), uint64(2000), s.engine.GetListing(s.key).Price)
}

func (s *EngineTestSuite) TestRelistAfterSale() {
	s.list(1000, 0, NativePayment())
	s.rail.creditNative(s.buyer, 1000)

	_, err := s.engine.Buy(s.ctx, s.key, s.buyer, 1000)
	require.NoError(s.T(), err)

	// New owner approves and lists.
	s.custodian.approve(s.key, s.operator)
	err = s.engine.List(s.ctx, s.key, s.buyer, Listing{Price: 3000, Creator: s.creator})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), s.buyer, s.engine.GetListing(s.key).Seller)
}

func (s *EngineTestSuite) TestRestoreSeedsRegistry() {
	listing := Listing{
		Seller:     s.seller,
		Price:      4200,
		Payment:    TokenPayment(s.payToken),
		Creator:    s.creator,
		RoyaltyBps: 300,
	}
	s.engine.Restore(s.key, listing)

	assert.Equal(s.T(), listing, s.engine.GetListing(s.key))
}

func (s *EngineTestSuite) TestConcurrentBuySingleWinner() {
	s.list(1000, 250, NativePayment())

	const buyers = 16
	accounts := make([]models.Address, buyers)
	for i := range accounts {
		accounts[i] = models.MustParseAddress(fmt.Sprintf("0x%040x", 0x100+i))
		s.rail.creditNative(accounts[i], 1000)
	}

	var wg sync.WaitGroup
	sales := make(chan *Sale, buyers)
	for _, buyer := range accounts {
		wg.Add(1)
		go func(buyer models.Address) {
			defer wg.Done()
			sale, err := s.engine.Buy(s.ctx, s.key, buyer, 1000)
			if err == nil {
				sales <- sale
			} else {
				assert.ErrorIs(s.T(), err, ErrNotListed)
			}
		}(buyer)
	}
	wg.Wait()
	close(sales)

	var winners []*Sale
	for sale := range sales {
		winners = append(winners, sale)
	}
	require.Len(s.T(), winners, 1)

	winner := winners[0].Buyer
	owner, err := s.custodian.OwnerOf(s.ctx, s.key.Collection, s.key.TokenID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), winner, owner)
	assert.Zero(s.T(), s.rail.nativeBalance(winner))
	assert.Equal(s.T(), uint64(975), s.rail.nativeBalance(s.seller))
	assert.Equal(s.T(), uint64(25), s.rail.nativeBalance(s.creator))
}

func (s *EngineTestSuite) TestConcurrentListAndCancelDistinctKeys() {
	const keys = 32
	var wg sync.WaitGroup
	for i := 0; i < keys; i++ {
		key := Key{Collection: s.collection, TokenID: 100 + uint64(i)}
		s.custodian.mint(key, s.seller)
		s.custodian.approve(key, s.operator)

		wg.Add(1)
		go func(key Key) {
			defer wg.Done()
			err := s.engine.List(s.ctx, key, s.seller, Listing{Price: 10, Creator: s.creator})
			assert.NoError(s.T(), err)
			assert.NoError(s.T(), s.engine.Cancel(s.ctx, key, s.seller))
		}(key)
	}
	wg.Wait()
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func TestRoyaltySplit(t *testing.T) {
	tests := []struct {
		name  string
		price uint64
		bps   uint16
		want  uint64
	}{
		{"zero bps", 1000, 0, 0},
		{"full price", 1000, 10000, 1000},
		{"basic split", 1000, 250, 25},
		{"floors fractions", 999, 250, 24},
		{"tiny price rounds to zero", 3, 250, 0},
		{"one bp", 10000, 1, 1},
		{"huge price no overflow", 1 << 62, 9999, (1<<62)/10000*9999 + (1<<62)%10000*9999/10000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RoyaltySplit(tt.price, tt.bps))
		})
	}
}
