// internal/handlers/asset.go
package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nftbazaar/marketplace-backend/internal/models"
	"github.com/nftbazaar/marketplace-backend/internal/services"
	"github.com/nftbazaar/marketplace-backend/internal/utils"
)

type AssetHandler struct {
	custodyService *services.CustodyService
}

func NewAssetHandler(custodyService *services.CustodyService) *AssetHandler {
	return &AssetHandler{
		custodyService: custodyService,
	}
}

// POST /assets
func (h *AssetHandler) Mint(c *gin.Context) {
	caller, ok := utils.GetWalletFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.MintAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	asset, err := h.custodyService.Mint(c.Request.Context(), caller, &req)
	if err != nil {
		utils.BadRequestResponse(c, err.Error(), nil)
		return
	}

	utils.CreatedResponse(c, asset)
}

// POST /assets/approve
func (h *AssetHandler) Approve(c *gin.Context) {
	caller, ok := utils.GetWalletFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.ApproveAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	asset, err := h.custodyService.Approve(c.Request.Context(), caller, &req)
	if err != nil {
		utils.BadRequestResponse(c, err.Error(), nil)
		return
	}

	utils.SuccessResponse(c, asset)
}

// GET /assets
func (h *AssetHandler) GetAssets(c *gin.Context) {
	params := services.AssetSearchParams{
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
	if owner := c.Query("owner"); owner != "" {
		addr, err := models.ParseAddress(owner)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid owner address", nil)
			return
		}
		params.Owner = &addr
	}
	if creator := c.Query("creator"); creator != "" {
		addr, err := models.ParseAddress(creator)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid creator address", nil)
			return
		}
		params.Creator = &addr
	}

	assets, total, err := h.custodyService.GetAssets(c.Request.Context(), params)
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to fetch assets")
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(assets, total, params.PaginationParams))
}

// GET /assets/:collection/:tokenId
func (h *AssetHandler) GetAsset(c *gin.Context) {
	collection, err := models.ParseAddress(c.Param("collection"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid collection address", nil)
		return
	}

	tokenID, err := strconv.ParseUint(c.Param("tokenId"), 10, 64)
	if err != nil {
		utils.BadRequestResponse(c, "Invalid token id", nil)
		return
	}

	asset, err := h.custodyService.GetAsset(c.Request.Context(), collection, tokenID)
	if err != nil {
		utils.NotFoundResponse(c, "Asset")
		return
	}

	utils.SuccessResponse(c, asset)
}
