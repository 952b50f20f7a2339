package uniswap

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const routerABIJson = `[{
	"inputs": [
		{"name": "amountIn", "type": "uint256"},
		{"name": "path", "type": "address[]"}
	],
	"name": "getAmountsOut",
	"outputs": [{"name": "amounts", "type": "uint256[]"}],
	"stateMutability": "view",
	"type": "function"
}]`

// Router quotes constant-product paths through a router's getAmountsOut.
type Router struct {
	contract *bind.BoundContract
	address  common.Address
}

// NewRouter binds a router contract.
func NewRouter(address common.Address, caller bind.ContractCaller) (*Router, error) {
	parsedABI, err := abi.JSON(strings.NewReader(routerABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse router ABI: %w", err)
	}
	return &Router{
		contract: bind.NewBoundContract(address, parsedABI, caller, nil, nil),
		address:  address,
	}, nil
}

// GetAmountsOut returns the amount after every hop of path.
func (r *Router) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("invalid path length")
	}

	var out []interface{}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getAmountsOut", amountIn, path); err != nil {
		return nil, fmt.Errorf("getAmountsOut on %s: %w", r.address.Hex(), err)
	}

	amounts, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to parse amounts")
	}
	return amounts, nil
}

// PairQuoter computes constant-product outputs locally from pair reserves, locating
// pairs through the factory's CREATE2 address derivation.
type PairQuoter struct {
	caller   bind.ContractCaller
	factory  common.Address
	initCode common.Hash
	fee      uint32

	mu    sync.Mutex
	pairs map[common.Address]*Pair
}

// NewPairQuoter creates a reserve-based quoter for one factory.
func NewPairQuoter(caller bind.ContractCaller, factory common.Address, initCode common.Hash, fee uint32) *PairQuoter {
	return &PairQuoter{
		caller:   caller,
		factory:  factory,
		initCode: initCode,
		fee:      fee,
		pairs:    make(map[common.Address]*Pair),
	}
}

// GetAmountsOut walks path hop by hop using each pair's reserves.
func (q *PairQuoter) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("invalid path length")
	}

	amounts := make([]*big.Int, len(path))
	amounts[0] = amountIn

	for i := 0; i < len(path)-1; i++ {
		reserveIn, reserveOut, err := q.reservesFor(ctx, path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		amounts[i+1] = GetAmountOut(amounts[i], reserveIn, reserveOut, q.fee)
	}

	return amounts, nil
}

func (q *PairQuoter) reservesFor(ctx context.Context, tokenIn, tokenOut common.Address) (*big.Int, *big.Int, error) {
	pair, err := q.getPair(tokenIn, tokenOut)
	if err != nil {
		return nil, nil, err
	}
	reserve0, reserve1, err := pair.GetReserves(ctx)
	if err != nil {
		return nil, nil, err
	}
	token0, _ := sortTokens(tokenIn, tokenOut)
	if token0 == tokenIn {
		return reserve0, reserve1, nil
	}
	return reserve1, reserve0, nil
}

func (q *PairQuoter) getPair(tokenA, tokenB common.Address) (*Pair, error) {
	pairAddr := PairFor(q.factory, q.initCode, tokenA, tokenB)

	q.mu.Lock()
	defer q.mu.Unlock()

	if pair, ok := q.pairs[pairAddr]; ok {
		return pair, nil
	}
	pair, err := NewPair(pairAddr, q.caller)
	if err != nil {
		return nil, fmt.Errorf("failed to create pair contract: %w", err)
	}
	q.pairs[pairAddr] = pair
	return pair, nil
}

// PairFor calculates the CREATE2 pair address for two tokens
func PairFor(factory common.Address, initCode common.Hash, tokenA, tokenB common.Address) common.Address {
	token0, token1 := sortTokens(tokenA, tokenB)
	salt := crypto.Keccak256(token0.Bytes(), token1.Bytes())
	return common.BytesToAddress(crypto.Keccak256(
		[]byte{0xff},
		factory.Bytes(),
		salt,
		initCode.Bytes(),
	)[12:])
}

func sortTokens(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		return b, a
	}
	return a, b
}
