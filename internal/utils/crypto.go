// internal/utils/crypto.go
package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/nftbazaar/marketplace-backend/internal/models"
)

// GenerateWalletAddress returns a random, non-zero account address.
// Accounts here are platform identities, not derived from key pairs.
func GenerateWalletAddress() (models.Address, error) {
	var addr models.Address
	for addr.IsZero() {
		if _, err := rand.Read(addr[:]); err != nil {
			return models.ZeroAddress, err
		}
	}
	return addr, nil
}

func HashString(input string) string {
	hasher := sha256.New()
	hasher.Write([]byte(input))
	return hex.EncodeToString(hasher.Sum(nil))
}
