// internal/handlers/market.go
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nftbazaar/marketplace-backend/internal/models"
	"github.com/nftbazaar/marketplace-backend/internal/services"
	"github.com/nftbazaar/marketplace-backend/internal/stream"
	"github.com/nftbazaar/marketplace-backend/internal/utils"
)

type MarketHandler struct {
	marketService *services.MarketService
	hub           *stream.Hub
	upgrader      websocket.Upgrader
}

func NewMarketHandler(marketService *services.MarketService, hub *stream.Hub) *MarketHandler {
	return &MarketHandler{
		marketService: marketService,
		hub:           hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// POST /market/listings
func (h *MarketHandler) CreateListing(c *gin.Context) {
	caller, ok := utils.GetWalletFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.CreateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	listing, err := h.marketService.CreateListing(c.Request.Context(), caller, &req)
	if err != nil {
		status, code := services.HTTPStatusForMarketError(err)
		utils.ErrorResponse(c, status, code, err.Error(), nil)
		return
	}

	utils.CreatedResponse(c, listing)
}

// GET /market/listings
func (h *MarketHandler) GetListings(c *gin.Context) {
	params := services.ListingSearchParams{
		PaginationParams: utils.GetPaginationParams(c),
	}

	if collection := c.Query("collection"); collection != "" {
		addr, err := models.ParseAddress(collection)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid collection address", nil)
			return
		}
		params.Collection = &addr
	}
	if seller := c.Query("seller"); seller != "" {
		addr, err := models.ParseAddress(seller)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid seller address", nil)
			return
		}
		params.Seller = &addr
	}
	if status := c.Query("status"); status != "" {
		s := models.ListingStatus(status)
		params.Status = &s
	}

	listings, total, err := h.marketService.GetListings(c.Request.Context(), params)
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to fetch listings")
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(listings, total, params.PaginationParams))
}

// GET /market/listings/:collection/:tokenId
//
// Returns the engine's sentinel zero-value listing (null seller, zero
// price) when the key is not listed, matching the registry read contract.
func (h *MarketHandler) GetListing(c *gin.Context) {
	collection, tokenID, ok := h.parseKey(c)
	if !ok {
		return
	}

	listing := h.marketService.GetListing(collection, tokenID)
	utils.SuccessResponse(c, gin.H{
		"collection": collection,
		"token_id":   tokenID,
		"listing":    listing,
		"active":     listing.Active(),
	})
}

// DELETE /market/listings/:collection/:tokenId
func (h *MarketHandler) CancelListing(c *gin.Context) {
	caller, ok := utils.GetWalletFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	collection, tokenID, ok := h.parseKey(c)
	if !ok {
		return
	}

	if err := h.marketService.CancelListing(c.Request.Context(), caller, collection, tokenID); err != nil {
		status, code := services.HTTPStatusForMarketError(err)
		utils.ErrorResponse(c, status, code, err.Error(), nil)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"collection": collection,
		"token_id":   tokenID,
		"cancelled":  true,
	})
}

// POST /market/buy
func (h *MarketHandler) BuyListing(c *gin.Context) {
	caller, ok := utils.GetWalletFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.BuyListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	trade, err := h.marketService.BuyListing(c.Request.Context(), caller, &req)
	if err != nil {
		status, code := services.HTTPStatusForMarketError(err)
		utils.ErrorResponse(c, status, code, err.Error(), nil)
		return
	}

	utils.SuccessResponse(c, trade)
}

// GET /market/trades
func (h *MarketHandler) GetTrades(c *gin.Context) {
	params := services.TradeSearchParams{
		PaginationParams: utils.GetPaginationParams(c),
	}

	if collection := c.Query("collection"); collection != "" {
		addr, err := models.ParseAddress(collection)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid collection address", nil)
			return
		}
		params.Collection = &addr
	}
	if account := c.Query("account"); account != "" {
		addr, err := models.ParseAddress(account)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid account address", nil)
			return
		}
		params.Account = &addr
	}

	trades, total, err := h.marketService.GetTrades(c.Request.Context(), params)
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to fetch trades")
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(trades, total, params.PaginationParams))
}

// GET /market/stats
func (h *MarketHandler) GetStats(c *gin.Context) {
	stats, err := h.marketService.GetStats(c.Request.Context())
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to fetch market stats")
		return
	}

	utils.SuccessResponse(c, stats)
}

// GET /market/stream
func (h *MarketHandler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	sub := h.hub.Subscribe(64)
	defer h.hub.Unsubscribe(sub)

	// Drain client messages so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for event := range sub.Events() {
		if err := conn.WriteJSON(event); err != nil {
			logrus.WithError(err).Debug("Stream subscriber disconnected")
			conn.Close()
			return
		}
	}
}

func (h *MarketHandler) parseKey(c *gin.Context) (models.Address, uint64, bool) {
	collection, err := models.ParseAddress(c.Param("collection"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid collection address", nil)
		return models.ZeroAddress, 0, false
	}

	tokenID, err := strconv.ParseUint(c.Param("tokenId"), 10, 64)
	if err != nil {
		utils.BadRequestResponse(c, "Invalid token id", nil)
		return models.ZeroAddress, 0, false
	}

	return collection, tokenID, true
}
