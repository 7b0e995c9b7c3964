// internal/services/market_service_test.go
package services

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftbazaar/marketplace-backend/internal/market"
	"github.com/nftbazaar/marketplace-backend/internal/models"
	"github.com/nftbazaar/marketplace-backend/internal/stream"
)

// memCustodian and memRail are minimal in-memory collaborators; the
// projection layer is exercised with its database disabled, which is a
// supported mode (the engine registry is authoritative).
type memCustodian struct {
	mu       sync.Mutex
	owners   map[market.Key]models.Address
	operator models.Address
}

func (c *memCustodian) OwnerOf(_ context.Context, collection models.Address, tokenID uint64) (models.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owners[market.Key{Collection: collection, TokenID: tokenID}], nil
}

func (c *memCustodian) IsApprovedForTransfer(_ context.Context, _ models.Address, _ uint64, operator models.Address) (bool, error) {
	return operator == c.operator, nil
}

func (c *memCustodian) Transfer(_ context.Context, collection models.Address, tokenID uint64, _, to models.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners[market.Key{Collection: collection, TokenID: tokenID}] = to
	return nil
}

type memRail struct {
	mu       sync.Mutex
	balances map[models.Address]uint64
}

func (r *memRail) TransferNative(_ context.Context, from, to models.Address, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.balances[from] < amount {
		return market.ErrInsufficientBalance
	}
	r.balances[from] -= amount
	r.balances[to] += amount
	return nil
}

func (r *memRail) TransferTokenFrom(_ context.Context, _, _, _, _ models.Address, _ uint64) error {
	return market.ErrInsufficientAllowance
}

func (r *memRail) RefundToken(_ context.Context, _, _, _, _ models.Address, _ uint64) error {
	return nil
}

func newTestMarketService(t *testing.T) (*MarketService, *stream.Hub, models.Address, models.Address, market.Key) {
	t.Helper()

	operator := models.MustParseAddress("0x00000000000000000000000000000000000a11ce")
	seller := models.MustParseAddress("0x0000000000000000000000000000000000000001")
	buyer := models.MustParseAddress("0x0000000000000000000000000000000000000002")
	key := market.Key{
		Collection: models.MustParseAddress("0x00000000000000000000000000000000000000c1"),
		TokenID:    5,
	}

	custodian := &memCustodian{
		owners:   map[market.Key]models.Address{key: seller},
		operator: operator,
	}
	rail := &memRail{balances: map[models.Address]uint64{buyer: 10_000}}

	engine := market.NewEngine(operator, custodian, rail)
	hub := stream.NewHub()
	service := NewMarketService(engine, nil, hub, nil)

	return service, hub, seller, buyer, key
}

func TestMarketServiceListingLifecycle(t *testing.T) {
	service, hub, seller, buyer, key := newTestMarketService(t)
	ctx := context.Background()

	sub := hub.Subscribe(8)
	defer hub.Unsubscribe(sub)

	listing, err := service.CreateListing(ctx, seller, &CreateListingRequest{
		Collection: key.Collection.String(),
		TokenID:    key.TokenID,
		Price:      1000,
		Creator:    seller.String(),
		RoyaltyBps: 250,
	})
	require.NoError(t, err)
	assert.Equal(t, seller, listing.Seller)

	event := <-sub.Events()
	assert.Equal(t, stream.EventListed, event.Type)
	assert.Equal(t, key.TokenID, event.TokenID)

	got := service.GetListing(key.Collection, key.TokenID)
	assert.True(t, got.Active())
	assert.Equal(t, uint64(1000), got.Price)

	trade, err := service.BuyListing(ctx, buyer, &BuyListingRequest{
		Collection: key.Collection.String(),
		TokenID:    key.TokenID,
		Amount:     1000,
	})
	require.NoError(t, err)
	assert.Equal(t, seller, trade.Seller)
	assert.Equal(t, buyer, trade.Buyer)
	assert.Equal(t, uint64(25), trade.RoyaltyPaid)
	assert.Equal(t, models.TradeStatusSettled, trade.Status)
	assert.False(t, trade.SettledAt.IsZero())

	event = <-sub.Events()
	assert.Equal(t, stream.EventSold, event.Type)
	assert.Equal(t, buyer, event.Buyer)

	// Sold out; the read returns the sentinel again.
	assert.False(t, service.GetListing(key.Collection, key.TokenID).Active())
}

func TestMarketServiceCancel(t *testing.T) {
	service, hub, seller, _, key := newTestMarketService(t)
	ctx := context.Background()

	sub := hub.Subscribe(8)
	defer hub.Unsubscribe(sub)

	_, err := service.CreateListing(ctx, seller, &CreateListingRequest{
		Collection: key.Collection.String(),
		TokenID:    key.TokenID,
		Price:      500,
		Creator:    seller.String(),
	})
	require.NoError(t, err)
	<-sub.Events()

	require.NoError(t, service.CancelListing(ctx, seller, key.Collection, key.TokenID))

	event := <-sub.Events()
	assert.Equal(t, stream.EventCancelled, event.Type)
	assert.False(t, service.GetListing(key.Collection, key.TokenID).Active())

	err = service.CancelListing(ctx, seller, key.Collection, key.TokenID)
	assert.ErrorIs(t, err, market.ErrNotListed)
}

func TestMarketServiceRejectsBadAddresses(t *testing.T) {
	service, _, seller, _, key := newTestMarketService(t)
	ctx := context.Background()

	_, err := service.CreateListing(ctx, seller, &CreateListingRequest{
		Collection: "not-an-address",
		TokenID:    key.TokenID,
		Price:      500,
		Creator:    seller.String(),
	})
	assert.Error(t, err)

	_, err = service.BuyListing(ctx, seller, &BuyListingRequest{
		Collection: "not-an-address",
		TokenID:    key.TokenID,
		Amount:     500,
	})
	assert.Error(t, err)
}

func TestHTTPStatusForMarketError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{market.ErrNotListed, http.StatusNotFound, "NOT_LISTED"},
		{market.ErrAlreadyListed, http.StatusConflict, "ALREADY_LISTED"},
		{market.ErrNotOwner, http.StatusForbidden, "FORBIDDEN"},
		{market.ErrNotSeller, http.StatusForbidden, "FORBIDDEN"},
		{market.ErrNotApproved, http.StatusForbidden, "FORBIDDEN"},
		{market.ErrInvalidPrice, http.StatusBadRequest, "INVALID_REQUEST"},
		{market.ErrInvalidRoyalty, http.StatusBadRequest, "INVALID_REQUEST"},
		{market.ErrWrongAmount, http.StatusBadRequest, "INVALID_REQUEST"},
		{market.ErrInsufficientBalance, http.StatusPaymentRequired, "INSUFFICIENT_FUNDS"},
		{market.ErrInsufficientAllowance, http.StatusPaymentRequired, "INSUFFICIENT_FUNDS"},
		{market.ErrTransferFailed, http.StatusConflict, "SETTLEMENT_FAILED"},
		{market.ErrPayoutFailed, http.StatusConflict, "SETTLEMENT_FAILED"},
		{context.Canceled, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		status, code := HTTPStatusForMarketError(tt.err)
		assert.Equal(t, tt.status, status, tt.err)
		assert.Equal(t, tt.code, code, tt.err)
	}
}
