// Package address normalizes, compares and formats account addresses.
package address

import (
	"regexp"
	"strings"

	"github.com/asset-registry/internal/types"
	"github.com/ethereum/go-ethereum/common"
)

var hexAddressPattern = regexp.MustCompile("^0x[a-fA-F0-9]{40}$")

// Normalize lower-cases an address. Empty input stays empty.
func Normalize(a types.Account) string {
	return strings.ToLower(strings.TrimSpace(string(a)))
}

// Equal reports whether two addresses refer to the same account.
// The empty address never equals anything, itself included.
func Equal(a, b types.Account) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return false
	}
	return na == nb
}

// Display renders an address as 0x1234...abcd
func Display(a types.Account) string {
	s := string(a)
	if s == "" {
		return ""
	}
	if len(s) <= 10 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}

// IsValid checks for 0x followed by 40 hex characters
func IsValid(a types.Account) bool {
	return hexAddressPattern.MatchString(strings.TrimSpace(string(a)))
}

// IsZero reports whether a valid address is the zero address
func IsZero(a types.Account) bool {
	if !IsValid(a) {
		return false
	}
	return common.HexToAddress(string(a)) == (common.Address{})
}

// Checksum returns the EIP-55 form of a valid address, or the input unchanged
func Checksum(a types.Account) types.Account {
	if !IsValid(a) {
		return a
	}
	return types.Account(common.HexToAddress(strings.TrimSpace(string(a))).Hex())
}

// FromCommon converts a go-ethereum address into an Account
func FromCommon(a common.Address) types.Account {
	return types.Account(a.Hex())
}
