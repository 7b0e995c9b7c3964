// internal/models/listing.go
package models

// ListingRecord is the persisted projection of the settlement engine's
// listing registry, kept for browse queries and for re-seeding the
// in-memory registry at boot. The engine state is authoritative; rows here
// follow it.
type ListingRecord struct {
	BaseModel
	Collection   Address       `json:"collection" gorm:"type:varchar(42);not null;index:idx_listings_key,priority:1"`
	TokenID      uint64        `json:"token_id" gorm:"not null;index:idx_listings_key,priority:2"`
	Seller       Address       `json:"seller" gorm:"type:varchar(42);not null;index"`
	Price        uint64        `json:"price" gorm:"type:numeric(30,0);not null"`
	PaymentToken Address       `json:"payment_token" gorm:"type:varchar(42)"`
	Creator      Address       `json:"creator" gorm:"type:varchar(42);not null"`
	RoyaltyBps   uint16        `json:"royalty_bps" gorm:"not null"`
	Status       ListingStatus `json:"status" gorm:"type:varchar(20);default:'active';index"`
}
