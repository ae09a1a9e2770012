package contracts

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"
)

var (
	maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	maxUint256 = new(big.Int).Set(ethmath.MaxBig256)
	// half of max so a partially spent infinite approval is not renewed every run
	approvalFloor = new(big.Int).Rsh(ethmath.MaxBig256, 1)
)

// toRaw truncates a human amount to integer token units.
func toRaw(amount float64, decimals int) *big.Int {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return new(big.Int)
	}
	return decimal.NewFromFloat(amount).Shift(int32(decimals)).Truncate(0).BigInt()
}

func fromRaw(raw *big.Int, decimals int) float64 {
	if raw == nil {
		return 0
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)).InexactFloat64()
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		if v == nil {
			return common.Address{}, fmt.Errorf("nil address")
		}
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return new(big.Int), nil
		}
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func int24FromBig(value *big.Int) (int, error) {
	min := big.NewInt(-1 << 23)
	max := big.NewInt((1 << 23) - 1)
	if value.Cmp(min) < 0 || value.Cmp(max) > 0 {
		return 0, fmt.Errorf("int24 overflow: %s", value.String())
	}
	return int(value.Int64()), nil
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		if v == nil || !v.IsUint64() || v.Uint64() > math.MaxUint8 {
			return 0, fmt.Errorf("uint8 overflow")
		}
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}

// outputAt reads index i of an unpacked output slice.
func outputAt(out []interface{}, i int, method string) (interface{}, error) {
	if i >= len(out) {
		return nil, fmt.Errorf("%s: expected at least %d outputs, got %d", method, i+1, len(out))
	}
	return out[i], nil
}

func bigOutput(out []interface{}, i int, method string) (*big.Int, error) {
	v, err := outputAt(out, i, method)
	if err != nil {
		return nil, err
	}
	return asBigInt(v)
}

// isInvalidToken matches the position manager's revert for a burned or
// never-minted token id.
func isInvalidToken(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid token id") ||
		strings.Contains(msg, "nonexistent token") ||
		strings.Contains(msg, "erc721: invalid token")
}
