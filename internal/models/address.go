// internal/models/address.go
package models

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"strings"
)

// Address identifies an account, collection or payment token.
// The zero value doubles as the "no address" sentinel: it marks
// native-currency payments, cleared approvals and unlisted reads.
type Address [20]byte

// ZeroAddress is the null sentinel.
var ZeroAddress Address

// ParseAddress decodes a 40-hex-digit address, with or without the
// 0x prefix. Case-insensitive.
func ParseAddress(s string) (Address, error) {
	var addr Address
	h := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if len(h) != 2*len(addr) {
		return ZeroAddress, fmt.Errorf("invalid address length: %q", s)
	}
	raw, err := hex.DecodeString(h)
	if err != nil {
		return ZeroAddress, fmt.Errorf("invalid address: %q", s)
	}
	copy(addr[:], raw)
	return addr, nil
}

// MustParseAddress is ParseAddress for compile-time constants and tests.
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) IsZero() bool {
	return a == ZeroAddress
}

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	addr, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

// Value stores addresses as lowercase 0x-hex strings so they stay
// readable in the database and usable in raw queries.
func (a Address) Value() (driver.Value, error) {
	return a.String(), nil
}

func (a *Address) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*a = ZeroAddress
		return nil
	case string:
		return a.UnmarshalText([]byte(v))
	case []byte:
		return a.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into Address", value)
	}
}
