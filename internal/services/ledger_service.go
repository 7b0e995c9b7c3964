// internal/services/ledger_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/nftbazaar/marketplace-backend/internal/market"
	"github.com/nftbazaar/marketplace-backend/internal/models"
	"github.com/nftbazaar/marketplace-backend/internal/utils"
)

// LedgerService keeps account balances for the native currency and for
// fungible tokens, plus token allowances. It implements market.PaymentRail
// for the settlement engine.
type LedgerService struct {
	db *gorm.DB
}

type ApproveAllowanceRequest struct {
	Token   string `json:"token" validate:"required,address"`
	Spender string `json:"spender" validate:"required,address"`
	Amount  uint64 `json:"amount"`
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{db: db}
}

// TransferNative implements market.PaymentRail.
func (s *LedgerService) TransferNative(ctx context.Context, from, to models.Address, amount uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return move(tx, models.ZeroAddress, from, to, amount)
	})
}

// TransferTokenFrom implements market.PaymentRail. The pull debits the
// allowance the paying account granted the spender.
func (s *LedgerService) TransferTokenFrom(ctx context.Context, token, spender, from, to models.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var allowance models.Allowance
		err := tx.Clauses(forUpdate()).
			Where("owner = ? AND token = ? AND spender = ?", from, token, spender).
			First(&allowance).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("database error: %w", err)
		}
		if allowance.Amount < amount {
			return market.ErrInsufficientAllowance
		}

		if err := move(tx, token, from, to, amount); err != nil {
			return err
		}

		return tx.Model(&allowance).Update("amount", allowance.Amount-amount).Error
	})
}

// RefundToken implements market.PaymentRail. It reverses a pull made
// earlier in a failed settlement: funds move back and the allowance the
// recipient had granted the spender is restored.
func (s *LedgerService) RefundToken(ctx context.Context, token, spender, from, to models.Address, amount uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := move(tx, token, from, to, amount); err != nil {
			return err
		}
		return creditAllowance(tx, to, token, spender, amount)
	})
}

// Approve sets (not adds to) the caller's allowance for a spender.
func (s *LedgerService) Approve(ctx context.Context, caller models.Address, req *ApproveAllowanceRequest) (*models.Allowance, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	token, err := models.ParseAddress(req.Token)
	if err != nil {
		return nil, fmt.Errorf("invalid token address: %w", err)
	}
	spender, err := models.ParseAddress(req.Spender)
	if err != nil {
		return nil, fmt.Errorf("invalid spender address: %w", err)
	}
	if spender.IsZero() {
		return nil, errors.New("spender cannot be the null address")
	}

	allowance := &models.Allowance{Owner: caller, Token: token, Spender: spender}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Allowance
		err := tx.Where("owner = ? AND token = ? AND spender = ?", caller, token, spender).
			First(&existing).Error
		switch {
		case err == nil:
			existing.Amount = req.Amount
			allowance = &existing
			return tx.Model(&existing).Update("amount", req.Amount).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			allowance.Amount = req.Amount
			return tx.Create(allowance).Error
		default:
			return fmt.Errorf("database error: %w", err)
		}
	})
	if err != nil {
		return nil, err
	}

	return allowance, nil
}

// Credit mints funds into an account. Used by deposit settlement and by
// the development faucet.
func (s *LedgerService) Credit(ctx context.Context, token, account models.Address, amount uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return creditBalance(tx, account, token, amount)
	})
}

func (s *LedgerService) BalanceOf(ctx context.Context, token, account models.Address) (uint64, error) {
	var balance models.Balance
	err := s.db.WithContext(ctx).
		Where("account = ? AND token = ?", account, token).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("database error: %w", err)
	}
	return balance.Amount, nil
}

func (s *LedgerService) GetBalances(ctx context.Context, account models.Address) ([]models.Balance, error) {
	var balances []models.Balance
	if err := s.db.WithContext(ctx).
		Where("account = ?", account).
		Order("token").
		Find(&balances).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch balances: %w", err)
	}
	return balances, nil
}

func (s *LedgerService) GetAllowance(ctx context.Context, owner, token, spender models.Address) (uint64, error) {
	var allowance models.Allowance
	err := s.db.WithContext(ctx).
		Where("owner = ? AND token = ? AND spender = ?", owner, token, spender).
		First(&allowance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("database error: %w", err)
	}
	return allowance.Amount, nil
}

// move debits from and credits to within tx, locking the debited row.
func move(tx *gorm.DB, token, from, to models.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	var source models.Balance
	err := tx.Clauses(forUpdate()).
		Where("account = ? AND token = ?", from, token).
		First(&source).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("database error: %w", err)
	}
	if source.Amount < amount {
		return market.ErrInsufficientBalance
	}

	if err := tx.Model(&source).Update("amount", source.Amount-amount).Error; err != nil {
		return fmt.Errorf("failed to debit balance: %w", err)
	}
	return creditBalance(tx, to, token, amount)
}

func creditBalance(tx *gorm.DB, account, token models.Address, amount uint64) error {
	var existing models.Balance
	err := tx.Clauses(forUpdate()).
		Where("account = ? AND token = ?", account, token).
		First(&existing).Error
	switch {
	case err == nil:
		return tx.Model(&existing).Update("amount", existing.Amount+amount).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return tx.Create(&models.Balance{Account: account, Token: token, Amount: amount}).Error
	default:
		return fmt.Errorf("database error: %w", err)
	}
}

func creditAllowance(tx *gorm.DB, owner, token, spender models.Address, amount uint64) error {
	var existing models.Allowance
	err := tx.Clauses(forUpdate()).
		Where("owner = ? AND token = ? AND spender = ?", owner, token, spender).
		First(&existing).Error
	switch {
	case err == nil:
		return tx.Model(&existing).Update("amount", existing.Amount+amount).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return tx.Create(&models.Allowance{Owner: owner, Token: token, Spender: spender, Amount: amount}).Error
	default:
		return fmt.Errorf("database error: %w", err)
	}
}

var _ market.PaymentRail = (*LedgerService)(nil)
