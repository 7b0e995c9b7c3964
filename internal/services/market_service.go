// internal/services/market_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/nftbazaar/marketplace-backend/internal/market"
	"github.com/nftbazaar/marketplace-backend/internal/models"
	"github.com/nftbazaar/marketplace-backend/internal/stream"
	"github.com/nftbazaar/marketplace-backend/internal/utils"
)

// MarketService wraps the settlement engine with the surrounding product
// concerns: the persisted listing/trade projections used by browse
// queries, the event stream, webhook notifications, and a short-lived
// stats cache. The engine's in-memory registry stays authoritative for
// listing state.
type MarketService struct {
	engine   *market.Engine
	db       *gorm.DB
	cache    *gocache.Cache
	hub      *stream.Hub
	notifier *NotificationService
}

type CreateListingRequest struct {
	Collection   string `json:"collection" validate:"required,address"`
	TokenID      uint64 `json:"token_id"`
	Price        uint64 `json:"price" validate:"required,min=1"`
	PaymentToken string `json:"payment_token,omitempty" validate:"omitempty,address"`
	Creator      string `json:"creator" validate:"required,address"`
	RoyaltyBps   uint16 `json:"royalty_bps" validate:"max=10000"`
}

type BuyListingRequest struct {
	Collection string `json:"collection" validate:"required,address"`
	TokenID    uint64 `json:"token_id"`
	Amount     uint64 `json:"amount"`
}

type ListingSearchParams struct {
	utils.PaginationParams
	Collection *models.Address
	Seller     *models.Address
	Status     *models.ListingStatus
}

type TradeSearchParams struct {
	utils.PaginationParams
	Collection *models.Address
	Account    *models.Address
}

type MarketStats struct {
	ActiveListings int64  `json:"active_listings"`
	SettledTrades  int64  `json:"settled_trades"`
	TotalVolume    uint64 `json:"total_volume"`
	TotalRoyalties uint64 `json:"total_royalties"`
}

const statsCacheKey = "market:stats"

func NewMarketService(engine *market.Engine, db *gorm.DB, hub *stream.Hub, notifier *NotificationService) *MarketService {
	return &MarketService{
		engine:   engine,
		db:       db,
		cache:    gocache.New(30*time.Second, time.Minute),
		hub:      hub,
		notifier: notifier,
	}
}

// RestoreRegistry re-seeds the engine from the persisted projection.
// Called once at boot, before the HTTP surface accepts traffic.
func (s *MarketService) RestoreRegistry(ctx context.Context) error {
	if s.db == nil {
		return nil
	}

	var records []models.ListingRecord
	if err := s.db.WithContext(ctx).
		Where("status = ?", models.ListingStatusActive).
		Find(&records).Error; err != nil {
		return fmt.Errorf("failed to load active listings: %w", err)
	}

	for _, record := range records {
		key := market.Key{Collection: record.Collection, TokenID: record.TokenID}
		s.engine.Restore(key, market.Listing{
			Seller:     record.Seller,
			Price:      record.Price,
			Payment:    market.PaymentMethodForToken(record.PaymentToken),
			Creator:    record.Creator,
			RoyaltyBps: record.RoyaltyBps,
		})
	}

	if len(records) > 0 {
		logrus.WithField("count", len(records)).Info("Listing registry restored")
	}
	return nil
}

// CreateListing lists the caller's asset for sale.
func (s *MarketService) CreateListing(ctx context.Context, caller models.Address, req *CreateListingRequest) (*market.Listing, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	collection, err := models.ParseAddress(req.Collection)
	if err != nil {
		return nil, fmt.Errorf("invalid collection address: %w", err)
	}
	creator, err := models.ParseAddress(req.Creator)
	if err != nil {
		return nil, fmt.Errorf("invalid creator address: %w", err)
	}

	payment := market.NativePayment()
	if req.PaymentToken != "" {
		token, err := models.ParseAddress(req.PaymentToken)
		if err != nil {
			return nil, fmt.Errorf("invalid payment token address: %w", err)
		}
		payment = market.PaymentMethodForToken(token)
	}

	key := market.Key{Collection: collection, TokenID: req.TokenID}
	terms := market.Listing{
		Price:      req.Price,
		Payment:    payment,
		Creator:    creator,
		RoyaltyBps: req.RoyaltyBps,
	}

	if err := s.engine.List(ctx, key, caller, terms); err != nil {
		return nil, err
	}
	terms.Seller = caller

	s.recordListing(ctx, key, terms)
	s.cache.Delete(statsCacheKey)
	s.publish(stream.Event{
		Type:       stream.EventListed,
		Collection: key.Collection,
		TokenID:    key.TokenID,
		Seller:     caller,
		Price:      terms.Price,
	})

	return &terms, nil
}

// BuyListing settles the listing for the caller.
func (s *MarketService) BuyListing(ctx context.Context, caller models.Address, req *BuyListingRequest) (*models.Trade, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	collection, err := models.ParseAddress(req.Collection)
	if err != nil {
		return nil, fmt.Errorf("invalid collection address: %w", err)
	}

	key := market.Key{Collection: collection, TokenID: req.TokenID}
	sale, err := s.engine.Buy(ctx, key, caller, req.Amount)
	if err != nil {
		return nil, err
	}

	trade := &models.Trade{
		Collection:   key.Collection,
		TokenID:      key.TokenID,
		Seller:       sale.Listing.Seller,
		Buyer:        sale.Buyer,
		Creator:      sale.Listing.Creator,
		Price:        sale.Listing.Price,
		RoyaltyPaid:  sale.Royalty,
		RoyaltyBps:   sale.Listing.RoyaltyBps,
		PaymentToken: sale.Listing.Payment.Token,
		Status:       models.TradeStatusSettled,
		SettledAt:    time.Now(),
	}

	s.closeListing(ctx, key, models.ListingStatusSold)
	s.recordTrade(ctx, trade)
	s.cache.Delete(statsCacheKey)
	s.publish(stream.Event{
		Type:       stream.EventSold,
		Collection: key.Collection,
		TokenID:    key.TokenID,
		Seller:     sale.Listing.Seller,
		Buyer:      sale.Buyer,
		Price:      sale.Listing.Price,
		Royalty:    sale.Royalty,
	})

	return trade, nil
}

// CancelListing clears the caller's own listing.
func (s *MarketService) CancelListing(ctx context.Context, caller models.Address, collection models.Address, tokenID uint64) error {
	key := market.Key{Collection: collection, TokenID: tokenID}
	if err := s.engine.Cancel(ctx, key, caller); err != nil {
		return err
	}

	s.closeListing(ctx, key, models.ListingStatusCancelled)
	s.cache.Delete(statsCacheKey)
	s.publish(stream.Event{
		Type:       stream.EventCancelled,
		Collection: key.Collection,
		TokenID:    key.TokenID,
		Seller:     caller,
	})

	return nil
}

// GetListing returns the engine's view of a key: the zero-value sentinel
// listing when the key is unlisted.
func (s *MarketService) GetListing(collection models.Address, tokenID uint64) market.Listing {
	return s.engine.GetListing(market.Key{Collection: collection, TokenID: tokenID})
}

func (s *MarketService) GetListings(ctx context.Context, params ListingSearchParams) ([]models.ListingRecord, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.ListingRecord{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	} else {
		query = query.Where("status = ?", models.ListingStatusActive)
	}
	if params.Collection != nil {
		query = query.Where("collection = ?", *params.Collection)
	}
	if params.Seller != nil {
		query = query.Where("seller = ?", *params.Seller)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count listings: %w", err)
	}

	allowedSortFields := []string{"created_at", "price", "token_id"}
	query = utils.ApplySort(query, params.PaginationParams, allowedSortFields)
	query = utils.ApplyPagination(query, params.PaginationParams)

	var listings []models.ListingRecord
	if err := query.Find(&listings).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch listings: %w", err)
	}

	return listings, total, nil
}

func (s *MarketService) GetTrades(ctx context.Context, params TradeSearchParams) ([]models.Trade, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Trade{})

	if params.Collection != nil {
		query = query.Where("collection = ?", *params.Collection)
	}
	if params.Account != nil {
		query = query.Where("buyer = ? OR seller = ?", *params.Account, *params.Account)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count trades: %w", err)
	}

	allowedSortFields := []string{"created_at", "price", "settled_at"}
	query = utils.ApplySort(query, params.PaginationParams, allowedSortFields)
	query = utils.ApplyPagination(query, params.PaginationParams)

	var trades []models.Trade
	if err := query.Find(&trades).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch trades: %w", err)
	}

	return trades, total, nil
}

func (s *MarketService) GetStats(ctx context.Context) (*MarketStats, error) {
	if cached, found := s.cache.Get(statsCacheKey); found {
		if stats, ok := cached.(*MarketStats); ok {
			return stats, nil
		}
	}

	stats := &MarketStats{}
	if err := s.db.WithContext(ctx).Model(&models.ListingRecord{}).
		Where("status = ?", models.ListingStatusActive).
		Count(&stats.ActiveListings).Error; err != nil {
		return nil, fmt.Errorf("failed to count active listings: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.Trade{}).
		Where("status = ?", models.TradeStatusSettled).
		Count(&stats.SettledTrades).Error; err != nil {
		return nil, fmt.Errorf("failed to count trades: %w", err)
	}
	s.db.WithContext(ctx).Model(&models.Trade{}).
		Where("status = ?", models.TradeStatusSettled).
		Select("COALESCE(SUM(price), 0)").Scan(&stats.TotalVolume)
	s.db.WithContext(ctx).Model(&models.Trade{}).
		Where("status = ?", models.TradeStatusSettled).
		Select("COALESCE(SUM(royalty_paid), 0)").Scan(&stats.TotalRoyalties)

	s.cache.Set(statsCacheKey, stats, gocache.DefaultExpiration)
	return stats, nil
}

// recordListing appends the browse projection row. Projection writes are
// non-fatal: the engine already holds the authoritative state.
func (s *MarketService) recordListing(ctx context.Context, key market.Key, terms market.Listing) {
	if s.db == nil {
		return
	}

	record := &models.ListingRecord{
		Collection:   key.Collection,
		TokenID:      key.TokenID,
		Seller:       terms.Seller,
		Price:        terms.Price,
		PaymentToken: terms.Payment.Token,
		Creator:      terms.Creator,
		RoyaltyBps:   terms.RoyaltyBps,
		Status:       models.ListingStatusActive,
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		logrus.WithError(err).WithField("key", key.String()).
			Error("Failed to persist listing projection")
	}
}

func (s *MarketService) closeListing(ctx context.Context, key market.Key, status models.ListingStatus) {
	if s.db == nil {
		return
	}

	err := s.db.WithContext(ctx).Model(&models.ListingRecord{}).
		Where("collection = ? AND token_id = ? AND status = ?",
			key.Collection, key.TokenID, models.ListingStatusActive).
		Update("status", status).Error
	if err != nil {
		logrus.WithError(err).WithField("key", key.String()).
			Error("Failed to close listing projection")
	}
}

func (s *MarketService) recordTrade(ctx context.Context, trade *models.Trade) {
	if s.db == nil {
		return
	}

	if err := s.db.WithContext(ctx).Create(trade).Error; err != nil {
		logrus.WithError(err).Error("Failed to persist trade record")
	}
}

func (s *MarketService) publish(event stream.Event) {
	if s.hub != nil {
		s.hub.Broadcast(event)
	}
	if s.notifier != nil {
		s.notifier.NotifyEvent(event)
	}
}

// HTTPStatusForMarketError maps engine errors onto response classes so the
// handler layer stays mechanical.
func HTTPStatusForMarketError(err error) (status int, code string) {
	switch {
	case errors.Is(err, market.ErrNotListed):
		return 404, "NOT_LISTED"
	case errors.Is(err, market.ErrAlreadyListed):
		return 409, "ALREADY_LISTED"
	case errors.Is(err, market.ErrNotOwner), errors.Is(err, market.ErrNotSeller),
		errors.Is(err, market.ErrNotApproved):
		return 403, "FORBIDDEN"
	case errors.Is(err, market.ErrInvalidPrice), errors.Is(err, market.ErrInvalidRoyalty),
		errors.Is(err, market.ErrWrongAmount):
		return 400, "INVALID_REQUEST"
	case errors.Is(err, market.ErrInsufficientBalance), errors.Is(err, market.ErrInsufficientAllowance):
		return 402, "INSUFFICIENT_FUNDS"
	case errors.Is(err, market.ErrTransferFailed), errors.Is(err, market.ErrPayoutFailed):
		return 409, "SETTLEMENT_FAILED"
	default:
		return 500, "INTERNAL_ERROR"
	}
}
