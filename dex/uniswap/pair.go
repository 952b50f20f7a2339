package uniswap

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// feeDenominator is the scale of pool fees expressed in hundredths of a basis point.
const feeDenominator = 1000000

// Pair contract ABI
const pairABIJson = `[{
	"constant": true,
	"inputs": [],
	"name": "getReserves",
	"outputs": [
		{"name": "reserve0", "type": "uint112"},
		{"name": "reserve1", "type": "uint112"},
		{"name": "blockTimestampLast", "type": "uint32"}
	],
	"payable": false,
	"stateMutability": "view",
	"type": "function"
}]`

// Pair is a constant-product pair contract
type Pair struct {
	contract *bind.BoundContract
	address  common.Address
}

// NewPair binds a pair contract for read-only calls.
func NewPair(address common.Address, caller bind.ContractCaller) (*Pair, error) {
	parsedABI, err := abi.JSON(strings.NewReader(pairABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pair ABI: %w", err)
	}

	return &Pair{
		contract: bind.NewBoundContract(address, parsedABI, caller, nil, nil),
		address:  address,
	}, nil
}

// GetReserves returns the current reserves of the pair
func (p *Pair) GetReserves(ctx context.Context) (reserve0 *big.Int, reserve1 *big.Int, err error) {
	var out []interface{}
	err = p.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getReserves")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get reserves of %s: %w", p.address.Hex(), err)
	}

	reserve0, ok := out[0].(*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("failed to parse reserve0")
	}
	reserve1, ok = out[1].(*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("failed to parse reserve1")
	}

	return reserve0, reserve1, nil
}

// GetAmountOut applies the constant-product formula with a fee in hundredths of a bip.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, fee uint32) *big.Int {
	if amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return big.NewInt(0)
	}

	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(int64(feeDenominator-fee)))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(
		new(big.Int).Mul(reserveIn, big.NewInt(feeDenominator)),
		amountInWithFee,
	)
	return numerator.Div(numerator, denominator)
}
