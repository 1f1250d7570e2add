package registry

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const USDCDecimals = 6

// ZeroAddress is what the trading contract returns for a trader without a delegate.
var ZeroAddress = common.Address{}

// Network is one supported chain with its fixed contract table.
type Network struct {
	Name    string
	ChainID int64
	Testnet bool
	Trading common.Address
	Storage common.Address
	USDC    common.Address
	Aliases []string
}

// CAIP2 returns the eip155 chain identifier.
func (n Network) CAIP2() string {
	return fmt.Sprintf("eip155:%d", n.ChainID)
}

var networks = map[string]Network{
	"arbitrum": {
		Name:    "arbitrum",
		ChainID: 42161,
		Trading: common.HexToAddress("0x567c6A0eBC4e20b3612c82b2D0698Fc80FAb4C0d"),
		Storage: common.HexToAddress("0x2b90103cdc42d6B6c3a09C56A87d2c44e8F0a345"),
		USDC:    common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"),
		Aliases: []string{"arbitrum-one", "arb"},
	},
	"arbitrum-sepolia": {
		Name:    "arbitrum-sepolia",
		ChainID: 421614,
		Testnet: true,
		Trading: common.HexToAddress("0x2A9B9c988393f46a2537B0ff11E98c2C15a95afe"),
		Storage: common.HexToAddress("0x0b9F5243B29938668c9Cfbd7557A389EC7Ef88b8"),
		USDC:    common.HexToAddress("0xe73B11Fb1e3eeEe8AF2a23079A4410Fe1B370548"),
		Aliases: []string{"arb-sepolia"},
	},
}

// ParseNetwork accepts a network name, alias, chain id or CAIP-2 id.
func ParseNetwork(input string) (Network, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	if key == "" {
		return Network{}, fmt.Errorf("network is required")
	}
	key = strings.TrimPrefix(key, "eip155:")
	if id, err := strconv.ParseInt(key, 10, 64); err == nil {
		for _, n := range networks {
			if n.ChainID == id {
				return n, nil
			}
		}
		return Network{}, fmt.Errorf("unsupported chain id %d", id)
	}
	if n, ok := networks[key]; ok {
		return n, nil
	}
	for _, n := range networks {
		for _, alias := range n.Aliases {
			if alias == key {
				return n, nil
			}
		}
	}
	return Network{}, fmt.Errorf("unsupported network %q", input)
}

// Networks lists the supported networks ordered by chain id.
func Networks() []Network {
	out := make([]Network, 0, len(networks))
	for _, n := range networks {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

func usdcUnits(whole int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(USDCDecimals), nil)
	return new(big.Int).Mul(big.NewInt(whole), scale)
}

// DefaultApprovalAmount is 1,000,000 USDC in base units.
func DefaultApprovalAmount() *big.Int { return usdcUnits(1_000_000) }

// MinimumApprovalAmount is the default allowance threshold, 100 USDC in base units.
func MinimumApprovalAmount() *big.Int { return usdcUnits(100) }

func MaxUint256() *big.Int {
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
}
