package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/asset-registry/internal/address"
	"github.com/asset-registry/internal/types"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Contract method names
const (
	methodRegisterUser     = "registerUser"
	methodUpdateProfile    = "updateProfile"
	methodGetUser          = "getUser"
	methodRegisterAsset    = "registerAsset"
	methodTransferAsset    = "transferAsset"
	methodGetAsset         = "getAsset"
	methodGetAssetHistory  = "getAssetHistory"
	methodGetAssetsByOwner = "getAssetsByOwner"
	methodGetTotalUsers    = "getTotalUsers"
	methodGetTotalAssets   = "getTotalAssets"
)

const registryABIJSON = `[
{"type":"function","name":"registerUser","stateMutability":"nonpayable","inputs":[{"name":"_name","type":"string"},{"name":"_email","type":"string"}],"outputs":[]},
{"type":"function","name":"updateProfile","stateMutability":"nonpayable","inputs":[{"name":"_name","type":"string"},{"name":"_email","type":"string"}],"outputs":[]},
{"type":"function","name":"getUser","stateMutability":"view","inputs":[{"name":"_userAddress","type":"address"}],"outputs":[{"name":"","type":"address"},{"name":"","type":"string"},{"name":"","type":"string"},{"name":"","type":"uint256"},{"name":"","type":"bool"}]},
{"type":"function","name":"registerAsset","stateMutability":"nonpayable","inputs":[{"name":"_name","type":"string"},{"name":"_description","type":"string"}],"outputs":[]},
{"type":"function","name":"transferAsset","stateMutability":"nonpayable","inputs":[{"name":"_assetId","type":"uint256"},{"name":"_to","type":"address"}],"outputs":[]},
{"type":"function","name":"getAsset","stateMutability":"view","inputs":[{"name":"_assetId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"},{"name":"","type":"string"},{"name":"","type":"string"},{"name":"","type":"address"},{"name":"","type":"uint256"}]},
{"type":"function","name":"getAssetHistory","stateMutability":"view","inputs":[{"name":"_assetId","type":"uint256"}],"outputs":[{"name":"","type":"tuple[]","components":[{"name":"assetId","type":"uint256"},{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"timestamp","type":"uint256"},{"name":"transactionType","type":"string"}]}]},
{"type":"function","name":"getAssetsByOwner","stateMutability":"view","inputs":[{"name":"_owner","type":"address"}],"outputs":[{"name":"","type":"uint256[]"}]},
{"type":"function","name":"getTotalUsers","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getTotalAssets","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

var registryABI = mustParseABI(registryABIJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("ledger: invalid registry ABI: %v", err))
	}
	return parsed
}

// historyTuple mirrors the contract's history struct for abi.ConvertType
type historyTuple struct {
	AssetId         *big.Int
	From            common.Address
	To              common.Address
	Timestamp       *big.Int
	TransactionType string
}

func unpack(method string, data []byte, want int) ([]interface{}, error) {
	out, err := registryABI.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("%s: unpack: %w", method, err)
	}
	if len(out) != want {
		return nil, fmt.Errorf("%s: expected %d outputs, got %d", method, want, len(out))
	}
	return out, nil
}

func toUint64(v *big.Int, field string) (uint64, error) {
	if v == nil {
		return 0, nil
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("%s %s does not fit in uint64", field, v.String())
	}
	return v.Uint64(), nil
}

func decodeProfile(data []byte) (*ProfileRecord, error) {
	out, err := unpack(methodGetUser, data, 5)
	if err != nil {
		return nil, err
	}

	registeredAt, err := toUint64(*abi.ConvertType(out[3], new(*big.Int)).(**big.Int), "registeredAt")
	if err != nil {
		return nil, err
	}

	return &ProfileRecord{
		Address:      address.FromCommon(*abi.ConvertType(out[0], new(common.Address)).(*common.Address)),
		Name:         *abi.ConvertType(out[1], new(string)).(*string),
		Email:        *abi.ConvertType(out[2], new(string)).(*string),
		RegisteredAt: registeredAt,
		IsRegistered: *abi.ConvertType(out[4], new(bool)).(*bool),
	}, nil
}

func decodeAsset(data []byte) (*AssetRecord, error) {
	out, err := unpack(methodGetAsset, data, 5)
	if err != nil {
		return nil, err
	}

	id, err := toUint64(*abi.ConvertType(out[0], new(*big.Int)).(**big.Int), "assetId")
	if err != nil {
		return nil, err
	}
	createdAt, err := toUint64(*abi.ConvertType(out[4], new(*big.Int)).(**big.Int), "createdAt")
	if err != nil {
		return nil, err
	}

	return &AssetRecord{
		ID:          id,
		Name:        *abi.ConvertType(out[1], new(string)).(*string),
		Description: *abi.ConvertType(out[2], new(string)).(*string),
		Owner:       address.FromCommon(*abi.ConvertType(out[3], new(common.Address)).(*common.Address)),
		CreatedAt:   createdAt,
	}, nil
}

func decodeAssetIDs(data []byte) ([]uint64, error) {
	out, err := unpack(methodGetAssetsByOwner, data, 1)
	if err != nil {
		return nil, err
	}

	raw := *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int)
	ids := make([]uint64, 0, len(raw))
	for _, v := range raw {
		id, err := toUint64(v, "assetId")
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func decodeHistory(data []byte) ([]HistoryEntry, error) {
	out, err := unpack(methodGetAssetHistory, data, 1)
	if err != nil {
		return nil, err
	}

	raw := *abi.ConvertType(out[0], new([]historyTuple)).(*[]historyTuple)
	entries := make([]HistoryEntry, 0, len(raw))
	for _, h := range raw {
		id, err := toUint64(h.AssetId, "assetId")
		if err != nil {
			return nil, err
		}
		ts, err := toUint64(h.Timestamp, "timestamp")
		if err != nil {
			return nil, err
		}
		entries = append(entries, HistoryEntry{
			AssetID:         id,
			From:            address.FromCommon(h.From),
			To:              address.FromCommon(h.To),
			Timestamp:       ts,
			TransactionType: h.TransactionType,
		})
	}
	return entries, nil
}

func decodeCount(method string, data []byte) (uint64, error) {
	out, err := unpack(method, data, 1)
	if err != nil {
		return 0, err
	}
	return toUint64(*abi.ConvertType(out[0], new(*big.Int)).(**big.Int), method)
}

func accountToCommon(a types.Account) (common.Address, error) {
	if !address.IsValid(a) {
		return common.Address{}, fmt.Errorf("invalid address %q", a)
	}
	return common.HexToAddress(strings.TrimSpace(string(a))), nil
}
