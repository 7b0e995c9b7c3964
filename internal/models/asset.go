// internal/models/asset.go
package models

import (
	"github.com/lib/pq"
)

// Asset is one row of the on-platform ownership registry. The pair
// (collection, token_id) is globally unique; Owner is the custody anchor
// and Approved is the single operator the owner has granted transfer
// rights to (the marketplace engine, in the happy path).
type Asset struct {
	BaseModel
	Collection    Address        `json:"collection" gorm:"type:varchar(42);not null;uniqueIndex:idx_assets_key,priority:1"`
	TokenID       uint64         `json:"token_id" gorm:"not null;uniqueIndex:idx_assets_key,priority:2"`
	Owner         Address        `json:"owner" gorm:"type:varchar(42);not null;index"`
	Approved      Address        `json:"approved" gorm:"type:varchar(42)"`
	Creator       Address        `json:"creator" gorm:"type:varchar(42);not null"`
	TokenURI      string         `json:"token_uri" gorm:"size:512"`
	Tags          pq.StringArray `json:"tags" gorm:"type:text[]"`
	TransferCount int64          `json:"transfer_count" gorm:"default:0"`
}

// Balance holds an account's funds for one currency. The zero token
// address denotes the native currency.
type Balance struct {
	BaseModel
	Account Address `json:"account" gorm:"type:varchar(42);not null;uniqueIndex:idx_balances_key,priority:1"`
	Token   Address `json:"token" gorm:"type:varchar(42);not null;uniqueIndex:idx_balances_key,priority:2"`
	Amount  uint64  `json:"amount" gorm:"type:numeric(30,0);not null;default:0"`
}

// Allowance is the amount Spender may pull from Owner's balance of Token.
type Allowance struct {
	BaseModel
	Owner   Address `json:"owner" gorm:"type:varchar(42);not null;uniqueIndex:idx_allowances_key,priority:1"`
	Token   Address `json:"token" gorm:"type:varchar(42);not null;uniqueIndex:idx_allowances_key,priority:2"`
	Spender Address `json:"spender" gorm:"type:varchar(42);not null;uniqueIndex:idx_allowances_key,priority:3"`
	Amount  uint64  `json:"amount" gorm:"type:numeric(30,0);not null;default:0"`
}
