// internal/services/deposit_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"gorm.io/gorm"

	"github.com/nftbazaar/marketplace-backend/internal/config"
	"github.com/nftbazaar/marketplace-backend/internal/models"
	"github.com/nftbazaar/marketplace-backend/internal/utils"
)

// DepositService is the fiat on-ramp: a Stripe payment intent that, once
// confirmed, credits the account's native-currency balance on the ledger.
type DepositService struct {
	db     *gorm.DB
	ledger *LedgerService
	cfg    *config.Config
}

type CreateDepositRequest struct {
	Amount uint64 `json:"amount" validate:"required,min=1"`
}

type DepositIntentResponse struct {
	ClientSecret string    `json:"client_secret"`
	PaymentID    string    `json:"payment_id"`
	DepositID    string    `json:"deposit_id"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

type ConfirmDepositRequest struct {
	PaymentIntentID string `json:"payment_intent_id" validate:"required"`
}

func NewDepositService(db *gorm.DB, ledger *LedgerService, cfg *config.Config) *DepositService {
	stripe.Key = cfg.Payment.StripeSecretKey

	return &DepositService{
		db:     db,
		ledger: ledger,
		cfg:    cfg,
	}
}

// CreateDeposit opens a Stripe payment intent for the amount, denominated
// one native unit per cent.
func (s *DepositService) CreateDeposit(ctx context.Context, account models.Address, req *CreateDepositRequest) (*DepositIntentResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(int64(req.Amount)),
		Currency: stripe.String(s.cfg.Payment.Currency),
	}
	params.AddMetadata("account", account.String())

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	deposit := &models.Deposit{
		Account:          account,
		Amount:           req.Amount,
		PaymentReference: pi.ID,
		Status:           models.DepositStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(deposit).Error; err != nil {
		return nil, fmt.Errorf("failed to record deposit: %w", err)
	}

	return &DepositIntentResponse{
		ClientSecret: pi.ClientSecret,
		PaymentID:    pi.ID,
		DepositID:    deposit.ID.String(),
		Status:       string(pi.Status),
		CreatedAt:    deposit.CreatedAt,
	}, nil
}

// ConfirmDeposit checks the payment intent with Stripe and, on success,
// credits the account's native balance exactly once.
func (s *DepositService) ConfirmDeposit(ctx context.Context, req *ConfirmDepositRequest) (*models.Deposit, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	pi, err := paymentintent.Get(req.PaymentIntentID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}

	var deposit models.Deposit
	if err := s.db.WithContext(ctx).
		Where("payment_reference = ?", req.PaymentIntentID).
		First(&deposit).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("deposit not found")
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	if deposit.Status != models.DepositStatusPending {
		return &deposit, nil
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		if err := s.ledger.Credit(ctx, models.ZeroAddress, deposit.Account, deposit.Amount); err != nil {
			return nil, fmt.Errorf("failed to credit balance: %w", err)
		}
		now := time.Now()
		deposit.Status = models.DepositStatusCompleted
		deposit.ProcessedAt = &now

	case stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusProcessing:
		return &deposit, nil

	default:
		deposit.Status = models.DepositStatusFailed
	}

	if err := s.db.WithContext(ctx).Save(&deposit).Error; err != nil {
		return nil, fmt.Errorf("failed to update deposit: %w", err)
	}

	return &deposit, nil
}

func (s *DepositService) GetDeposits(ctx context.Context, account models.Address, params utils.PaginationParams) ([]models.Deposit, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Deposit{}).
		Where("account = ?", account)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count deposits: %w", err)
	}

	allowedSortFields := []string{"created_at", "amount", "status"}
	query = utils.ApplySort(query, params, allowedSortFields)
	query = utils.ApplyPagination(query, params)

	var deposits []models.Deposit
	if err := query.Find(&deposits).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch deposits: %w", err)
	}

	return deposits, total, nil
}
