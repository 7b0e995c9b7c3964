// internal/services/custody_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nftbazaar/marketplace-backend/internal/market"
	"github.com/nftbazaar/marketplace-backend/internal/models"
	"github.com/nftbazaar/marketplace-backend/internal/utils"
)

// CustodyService is the on-platform asset ownership registry. It implements
// market.AssetCustodian for the settlement engine and exposes mint/approve
// operations to account holders.
type CustodyService struct {
	db      *gorm.DB
	storage *StorageService
}

type MintAssetRequest struct {
	Collection string                 `json:"collection" validate:"required,address"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	TokenURI   string                 `json:"token_uri,omitempty"`
	Tags       []string               `json:"tags,omitempty"`
}

type ApproveAssetRequest struct {
	Collection string `json:"collection" validate:"required,address"`
	TokenID    uint64 `json:"token_id"`
	Operator   string `json:"operator" validate:"required,address"`
}

type AssetSearchParams struct {
	utils.PaginationParams
	Collection *models.Address
	Owner      *models.Address
	Creator    *models.Address
}

func NewCustodyService(db *gorm.DB, storage *StorageService) *CustodyService {
	return &CustodyService{
		db:      db,
		storage: storage,
	}
}

// Mint creates a new asset owned by the caller, who is also recorded as
// its royalty creator. Token ids are assigned sequentially per collection.
func (s *CustodyService) Mint(ctx context.Context, caller models.Address, req *MintAssetRequest) (*models.Asset, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	collection, err := models.ParseAddress(req.Collection)
	if err != nil {
		return nil, fmt.Errorf("invalid collection address: %w", err)
	}

	var asset *models.Asset
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var nextID uint64
		if err := tx.Model(&models.Asset{}).
			Where("collection = ?", collection).
			Select("COALESCE(MAX(token_id) + 1, 0)").Scan(&nextID).Error; err != nil {
			return fmt.Errorf("failed to allocate token id: %w", err)
		}

		tokenURI := req.TokenURI
		if tokenURI == "" && req.Metadata != nil && s.storage != nil {
			uploaded, err := s.storage.UploadTokenMetadata(collection, nextID, req.Metadata)
			if err != nil {
				return fmt.Errorf("failed to store token metadata: %w", err)
			}
			tokenURI = uploaded
		}

		asset = &models.Asset{
			Collection: collection,
			TokenID:    nextID,
			Owner:      caller,
			Creator:    caller,
			TokenURI:   tokenURI,
			Tags:       req.Tags,
		}

		if err := tx.Create(asset).Error; err != nil {
			return fmt.Errorf("failed to create asset: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return asset, nil
}

// Approve grants operator transfer rights over the caller's asset. Passing
// the zero address revokes any previous approval.
func (s *CustodyService) Approve(ctx context.Context, caller models.Address, req *ApproveAssetRequest) (*models.Asset, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	collection, err := models.ParseAddress(req.Collection)
	if err != nil {
		return nil, fmt.Errorf("invalid collection address: %w", err)
	}
	operator, err := models.ParseAddress(req.Operator)
	if err != nil {
		return nil, fmt.Errorf("invalid operator address: %w", err)
	}

	var asset models.Asset
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection = ? AND token_id = ?", collection, req.TokenID).
			First(&asset).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.New("asset not found")
			}
			return fmt.Errorf("database error: %w", err)
		}

		if asset.Owner != caller {
			return errors.New("only the asset owner can approve an operator")
		}

		asset.Approved = operator
		if err := tx.Model(&asset).Update("approved", operator).Error; err != nil {
			return fmt.Errorf("failed to update approval: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &asset, nil
}

// OwnerOf implements market.AssetCustodian.
func (s *CustodyService) OwnerOf(ctx context.Context, collection models.Address, tokenID uint64) (models.Address, error) {
	var asset models.Asset
	if err := s.db.WithContext(ctx).
		Where("collection = ? AND token_id = ?", collection, tokenID).
		First(&asset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ZeroAddress, errors.New("asset not found")
		}
		return models.ZeroAddress, fmt.Errorf("database error: %w", err)
	}
	return asset.Owner, nil
}

// IsApprovedForTransfer implements market.AssetCustodian.
func (s *CustodyService) IsApprovedForTransfer(ctx context.Context, collection models.Address, tokenID uint64, operator models.Address) (bool, error) {
	var asset models.Asset
	if err := s.db.WithContext(ctx).
		Where("collection = ? AND token_id = ?", collection, tokenID).
		First(&asset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, errors.New("asset not found")
		}
		return false, fmt.Errorf("database error: %w", err)
	}
	return asset.Approved == operator && !operator.IsZero(), nil
}

// Transfer implements market.AssetCustodian. It moves custody from the
// current owner to the recipient and clears the consumed approval, the
// same way an on-chain transfer resets the token's approved operator.
func (s *CustodyService) Transfer(ctx context.Context, collection models.Address, tokenID uint64, from, to models.Address) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var asset models.Asset
		if err := tx.Clauses(forUpdate()).
			Where("collection = ? AND token_id = ?", collection, tokenID).
			First(&asset).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.New("asset not found")
			}
			return fmt.Errorf("database error: %w", err)
		}

		if asset.Owner != from {
			return errors.New("transfer from account that is not the owner")
		}
		if asset.Approved.IsZero() {
			return errors.New("transfer approval has been revoked")
		}
		if to.IsZero() {
			return errors.New("transfer to the null address")
		}

		updates := map[string]interface{}{
			"owner":          to,
			"approved":       models.ZeroAddress,
			"transfer_count": gorm.Expr("transfer_count + 1"),
		}
		if err := tx.Model(&asset).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to transfer asset: %w", err)
		}
		return nil
	})
}

func (s *CustodyService) GetAsset(ctx context.Context, collection models.Address, tokenID uint64) (*models.Asset, error) {
	var asset models.Asset
	if err := s.db.WithContext(ctx).
		Where("collection = ? AND token_id = ?", collection, tokenID).
		First(&asset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("asset not found")
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &asset, nil
}

func (s *CustodyService) GetAssets(ctx context.Context, params AssetSearchParams) ([]models.Asset, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Asset{})

	if params.Collection != nil {
		query = query.Where("collection = ?", *params.Collection)
	}
	if params.Owner != nil {
		query = query.Where("owner = ?", *params.Owner)
	}
	if params.Creator != nil {
		query = query.Where("creator = ?", *params.Creator)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count assets: %w", err)
	}

	allowedSortFields := []string{"created_at", "token_id", "transfer_count"}
	query = utils.ApplySort(query, params.PaginationParams, allowedSortFields)
	query = utils.ApplyPagination(query, params.PaginationParams)

	var assets []models.Asset
	if err := query.Find(&assets).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch assets: %w", err)
	}

	return assets, total, nil
}

func forUpdate() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}

var _ market.AssetCustodian = (*CustodyService)(nil)
