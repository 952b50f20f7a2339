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

const quoterABIJson = `[{
	"inputs": [
		{"name": "tokenIn", "type": "address"},
		{"name": "tokenOut", "type": "address"},
		{"name": "fee", "type": "uint24"},
		{"name": "amountIn", "type": "uint256"},
		{"name": "sqrtPriceLimitX96", "type": "uint160"}
	],
	"name": "quoteExactInputSingle",
	"outputs": [{"name": "amountOut", "type": "uint256"}],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

// Quoter is a concentrated-liquidity quoter contract, called through eth_call.
type Quoter struct {
	contract *bind.BoundContract
	address  common.Address
}

// NewQuoter binds a quoter contract.
func NewQuoter(address common.Address, caller bind.ContractCaller) (*Quoter, error) {
	parsedABI, err := abi.JSON(strings.NewReader(quoterABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse quoter ABI: %w", err)
	}
	return &Quoter{
		contract: bind.NewBoundContract(address, parsedABI, caller, nil, nil),
		address:  address,
	}, nil
}

// QuoteExactInputSingle quotes one pool without a price limit.
func (q *Quoter) QuoteExactInputSingle(ctx context.Context, tokenIn, tokenOut common.Address, fee uint32, amountIn *big.Int) (*big.Int, error) {
	var out []interface{}
	err := q.contract.Call(&bind.CallOpts{Context: ctx}, &out, "quoteExactInputSingle",
		tokenIn,
		tokenOut,
		new(big.Int).SetUint64(uint64(fee)),
		amountIn,
		big.NewInt(0),
	)
	if err != nil {
		return nil, fmt.Errorf("quoteExactInputSingle on %s: %w", q.address.Hex(), err)
	}

	amountOut, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to parse amountOut")
	}
	return amountOut, nil
}
