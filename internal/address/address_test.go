package address

import (
	"strings"
	"testing"

	"github.com/asset-registry/internal/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   types.Account
		want string
	}{
		{"lower-cases mixed case", "0xAbCdEf0000000000000000000000000000000001", "0xabcdef0000000000000000000000000000000001"},
		{"empty stays empty", "", ""},
		{"trims whitespace", "  0xAB  ", "0xab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestEqual(t *testing.T) {
	a := types.Account("0x52908400098527886E0F7030069857D2E4169EE7")

	assert.True(t, Equal(a, types.Account(strings.ToLower(string(a)))))
	assert.False(t, Equal(a, "0x8617E340B3D01FA5F11F306F4090FD50E238070D"))
	assert.False(t, Equal("", ""), "empty address must never match")
	assert.False(t, Equal(a, ""))
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "0x5290...9EE7", Display("0x52908400098527886E0F7030069857D2E4169EE7"))
	assert.Equal(t, "", Display(""))
	assert.Equal(t, "0xabc", Display("0xabc"))
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("0x52908400098527886E0F7030069857D2E4169EE7"))
	assert.False(t, IsValid("52908400098527886E0F7030069857D2E4169EE7"))
	assert.False(t, IsValid("0x1234"))
	assert.False(t, IsValid("0xZZ908400098527886E0F7030069857D2E4169EE7"))
	assert.False(t, IsValid(""))
}

func TestIsZero(t *testing.T) {
	assert.True(t, IsZero("0x0000000000000000000000000000000000000000"))
	assert.False(t, IsZero("0x52908400098527886E0F7030069857D2E4169EE7"))
	assert.False(t, IsZero("not-an-address"))
}

func TestChecksum(t *testing.T) {
	got := Checksum("0x52908400098527886e0f7030069857d2e4169ee7")
	assert.Equal(t, types.Account("0x52908400098527886E0F7030069857D2E4169EE7"), got)
	assert.Equal(t, types.Account("bogus"), Checksum("bogus"))
}

func TestEqualIgnoresCase_Property(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("equal to its upper-cased form", prop.ForAll(
		func(s string) bool {
			return Equal(types.Account(s), types.Account(strings.ToUpper(s)))
		},
		gen.Identifier(),
	))

	properties.Property("hex addresses equal across case", prop.ForAll(
		func(hex string) bool {
			a := types.Account("0x" + hex)
			return Equal(a, types.Account(strings.ToUpper(string(a)))) &&
				Equal(types.Account(strings.ToLower(string(a))), a)
		},
		gen.RegexMatch("[0-9a-fA-F]{40}"),
	))

	properties.TestingRun(t)
}
