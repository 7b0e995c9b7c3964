// internal/models/user.go
package models

import (
	"golang.org/x/crypto/bcrypt"
)

type User struct {
	BaseModel
	Username      string     `json:"username" gorm:"size:50;uniqueIndex;not null"`
	Email         string     `json:"email" gorm:"size:255;uniqueIndex;not null"`
	PasswordHash  string     `json:"-" gorm:"size:255;not null"`
	WalletAddress Address    `json:"wallet_address" gorm:"type:varchar(42);uniqueIndex;not null"`
	Status        UserStatus `json:"status" gorm:"type:varchar(20);default:'active';index"`
	ProfileData   JSONB      `json:"profile_data" gorm:"type:jsonb"`
}

func (u *User) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}
