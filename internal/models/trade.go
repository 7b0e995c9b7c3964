// internal/models/trade.go
package models

import (
	"time"
)

type Trade struct {
	BaseModel
	Collection    Address     `json:"collection" gorm:"type:varchar(42);not null;index:idx_trades_key,priority:1"`
	TokenID       uint64      `json:"token_id" gorm:"not null;index:idx_trades_key,priority:2"`
	Seller        Address     `json:"seller" gorm:"type:varchar(42);not null;index"`
	Buyer         Address     `json:"buyer" gorm:"type:varchar(42);not null;index"`
	Creator       Address     `json:"creator" gorm:"type:varchar(42);not null"`
	Price         uint64      `json:"price" gorm:"type:numeric(30,0);not null"`
	RoyaltyPaid   uint64      `json:"royalty_paid" gorm:"type:numeric(30,0);not null"`
	RoyaltyBps    uint16      `json:"royalty_bps" gorm:"not null"`
	PaymentToken  Address     `json:"payment_token" gorm:"type:varchar(42)"`
	Status        TradeStatus `json:"status" gorm:"type:varchar(20);default:'settled';index"`
	SettledAt     time.Time   `json:"settled_at"`
}

type Deposit struct {
	BaseModel
	Account          Address       `json:"account" gorm:"type:varchar(42);not null;index"`
	Amount           uint64        `json:"amount" gorm:"type:numeric(30,0);not null"`
	PaymentReference string        `json:"payment_reference" gorm:"size:255;index"`
	Status           DepositStatus `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	ProcessedAt      *time.Time    `json:"processed_at"`
}
