// internal/market/errors.go
package market

import "errors"

// Authorization errors
var (
	ErrNotOwner    = errors.New("caller does not own the asset")
	ErrNotApproved = errors.New("marketplace is not approved to transfer the asset")
	ErrNotSeller   = errors.New("caller is not the listing seller")
)

// Validation errors
var (
	ErrInvalidPrice   = errors.New("listing price must be greater than zero")
	ErrInvalidRoyalty = errors.New("royalty basis points exceed 10000")
	ErrAlreadyListed  = errors.New("asset is already listed")
	ErrNotListed      = errors.New("asset is not listed")
	ErrWrongAmount    = errors.New("supplied amount does not match the listing price")
)

// Collaborator failures
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrTransferFailed        = errors.New("asset transfer failed")
	ErrPayoutFailed          = errors.New("payout transfer failed")
)
