// internal/models/address_test.go
package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0x00000000000000000000000000000000000a11ce")
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000a11ce", addr.String())
	assert.False(t, addr.IsZero())

	// Prefix optional, case-insensitive.
	same, err := ParseAddress("00000000000000000000000000000000000A11CE")
	require.NoError(t, err)
	assert.Equal(t, addr, same)

	for _, input := range []string{"", "0x", "0x1234", "0xzz000000000000000000000000000000000a11ce"} {
		_, err := ParseAddress(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestAddressZeroSentinel(t *testing.T) {
	var addr Address
	assert.True(t, addr.IsZero())
	assert.Equal(t, ZeroAddress, addr)

	parsed, err := ParseAddress("0x0000000000000000000000000000000000000000")
	require.NoError(t, err)
	assert.True(t, parsed.IsZero())
}

func TestAddressJSONRoundTrip(t *testing.T) {
	addr := MustParseAddress("0x00000000000000000000000000000000000000c1")

	encoded, err := json.Marshal(addr)
	require.NoError(t, err)
	assert.Equal(t, `"0x00000000000000000000000000000000000000c1"`, string(encoded))

	var decoded Address
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, addr, decoded)
}

func TestAddressSQLValueScan(t *testing.T) {
	addr := MustParseAddress("0x0000000000000000000000000000000000000001")

	value, err := addr.Value()
	require.NoError(t, err)
	assert.Equal(t, addr.String(), value)

	var scanned Address
	require.NoError(t, scanned.Scan(addr.String()))
	assert.Equal(t, addr, scanned)

	require.NoError(t, scanned.Scan(nil))
	assert.True(t, scanned.IsZero())

	assert.Error(t, scanned.Scan(42))
}
