// internal/handlers/wallet.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/nftbazaar/marketplace-backend/internal/config"
	"github.com/nftbazaar/marketplace-backend/internal/models"
	"github.com/nftbazaar/marketplace-backend/internal/services"
	"github.com/nftbazaar/marketplace-backend/internal/utils"
)

type WalletHandler struct {
	ledgerService  *services.LedgerService
	depositService *services.DepositService
	cfg            *config.Config
}

func NewWalletHandler(ledgerService *services.LedgerService, depositService *services.DepositService, cfg *config.Config) *WalletHandler {
	return &WalletHandler{
		ledgerService:  ledgerService,
		depositService: depositService,
		cfg:            cfg,
	}
}

// GET /wallet/balances
func (h *WalletHandler) GetBalances(c *gin.Context) {
	caller, ok := utils.GetWalletFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	balances, err := h.ledgerService.GetBalances(c.Request.Context(), caller)
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to fetch balances")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"account":  caller,
		"balances": balances,
	})
}

// POST /wallet/allowances
func (h *WalletHandler) ApproveAllowance(c *gin.Context) {
	caller, ok := utils.GetWalletFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.ApproveAllowanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	allowance, err := h.ledgerService.Approve(c.Request.Context(), caller, &req)
	if err != nil {
		utils.BadRequestResponse(c, err.Error(), nil)
		return
	}

	utils.SuccessResponse(c, allowance)
}

// GET /wallet/allowances
func (h *WalletHandler) GetAllowance(c *gin.Context) {
	caller, ok := utils.GetWalletFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	token, err := models.ParseAddress(c.Query("token"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid token address", nil)
		return
	}
	spender, err := models.ParseAddress(c.Query("spender"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid spender address", nil)
		return
	}

	amount, err := h.ledgerService.GetAllowance(c.Request.Context(), caller, token, spender)
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to fetch allowance")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"owner":   caller,
		"token":   token,
		"spender": spender,
		"amount":  amount,
	})
}

// POST /wallet/deposits
func (h *WalletHandler) CreateDeposit(c *gin.Context) {
	caller, ok := utils.GetWalletFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.CreateDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	intent, err := h.depositService.CreateDeposit(c.Request.Context(), caller, &req)
	if err != nil {
		utils.BadRequestResponse(c, err.Error(), nil)
		return
	}

	utils.CreatedResponse(c, intent)
}

// POST /wallet/deposits/confirm
func (h *WalletHandler) ConfirmDeposit(c *gin.Context) {
	var req services.ConfirmDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	deposit, err := h.depositService.ConfirmDeposit(c.Request.Context(), &req)
	if err != nil {
		utils.BadRequestResponse(c, err.Error(), nil)
		return
	}

	utils.SuccessResponse(c, deposit)
}

// GET /wallet/deposits
func (h *WalletHandler) GetDeposits(c *gin.Context) {
	caller, ok := utils.GetWalletFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	params := utils.GetPaginationParams(c)
	deposits, total, err := h.depositService.GetDeposits(c.Request.Context(), caller, params)
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to fetch deposits")
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(deposits, total, params))
}

// POST /wallet/faucet
//
// Development-only top-up; disabled unless MARKET_FAUCET_AMOUNT is set.
func (h *WalletHandler) Faucet(c *gin.Context) {
	caller, ok := utils.GetWalletFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	if h.cfg.Market.FaucetAmount == 0 {
		utils.ForbiddenResponse(c, "Faucet is disabled")
		return
	}

	var req struct {
		Token string `json:"token,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	token := models.ZeroAddress
	if req.Token != "" {
		parsed, err := models.ParseAddress(req.Token)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid token address", nil)
			return
		}
		token = parsed
	}

	if err := h.ledgerService.Credit(c.Request.Context(), token, caller, h.cfg.Market.FaucetAmount); err != nil {
		utils.InternalErrorResponse(c, "Failed to credit balance")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"account": caller,
		"token":   token,
		"amount":  h.cfg.Market.FaucetAmount,
	})
}
