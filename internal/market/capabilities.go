// internal/market/capabilities.go
package market

import (
	"context"

	"github.com/nftbazaar/marketplace-backend/internal/models"
)

// AssetCustodian is the external ownership registry for unique assets.
// The engine never mirrors custody state beyond what it validates per call.
type AssetCustodian interface {
	OwnerOf(ctx context.Context, collection models.Address, tokenID uint64) (models.Address, error)
	IsApprovedForTransfer(ctx context.Context, collection models.Address, tokenID uint64, operator models.Address) (bool, error)
	Transfer(ctx context.Context, collection models.Address, tokenID uint64, from, to models.Address) error
}

// PaymentRail moves value between accounts, in native currency or in a
// fungible token. Token pulls debit the spender's allowance granted by the
// paying account. RefundToken exists so the engine can reverse a pull made
// earlier in the same failed settlement: it moves the funds back from `from`
// to `to` and restores the allowance `to` had granted `spender`, without
// requiring any allowance of its own.
//
// Implementations should return ErrInsufficientBalance and
// ErrInsufficientAllowance (possibly wrapped) so callers can classify the
// failure; anything else is treated as a generic payout failure.
type PaymentRail interface {
	TransferNative(ctx context.Context, from, to models.Address, amount uint64) error
	TransferTokenFrom(ctx context.Context, token, spender, from, to models.Address, amount uint64) error
	RefundToken(ctx context.Context, token, spender, from, to models.Address, amount uint64) error
}

// PaymentKind selects the rail variant for a listing.
type PaymentKind uint8

const (
	PaymentNative PaymentKind = iota
	PaymentToken
)

func (k PaymentKind) String() string {
	if k == PaymentToken {
		return "token"
	}
	return "native"
}

// PaymentMethod is a tagged variant: Native, or Token with the token's
// contract address. The wire form follows the reference convention of a
// single address where the zero address means native currency.
type PaymentMethod struct {
	Kind  PaymentKind
	Token models.Address
}

func NativePayment() PaymentMethod {
	return PaymentMethod{Kind: PaymentNative}
}

func TokenPayment(token models.Address) PaymentMethod {
	return PaymentMethod{Kind: PaymentToken, Token: token}
}

// PaymentMethodForToken maps a payment-token address onto the variant,
// treating the zero address as native.
func PaymentMethodForToken(token models.Address) PaymentMethod {
	if token.IsZero() {
		return NativePayment()
	}
	return TokenPayment(token)
}
