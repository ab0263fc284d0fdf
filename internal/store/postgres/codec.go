package postgres

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Token amounts are stored as NUMERIC(78,0) and travel as decimal text:
// writes cast with $n::numeric, reads select col::text.

func amountText(v *uint256.Int) string {
	return v.Dec()
}

func parseAmount(s string) (uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("postgres: parse amount %q: %w", s, err)
	}
	return *v, nil
}

// Addresses are stored as lower-case 0x-prefixed hex.

func addrText(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func parseAddr(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("postgres: invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func addrTexts(as []common.Address) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = addrText(a)
	}
	return out
}

func parseAddrs(ss []string) ([]common.Address, error) {
	if len(ss) == 0 {
		return nil, nil
	}
	out := make([]common.Address, len(ss))
	for i, s := range ss {
		a, err := parseAddr(s)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}
