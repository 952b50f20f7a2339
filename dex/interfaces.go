package dex

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/cyclearb/types"
)

// Strategy quotes a swap on a single venue. Amounts are in token base units.
type Strategy interface {
	Quote(ctx context.Context, tokenIn, tokenOut types.Asset, amountIn *big.Int) (*Result, error)
}

// Result is a successful strategy answer.
type Result struct {
	AmountOut *big.Int
	// Route holds the symbols traversed, including a bridge asset when used.
	Route   []string
	FeeTier uint32
}

// PathQuoter returns the amounts produced along a token path on a constant-product venue.
type PathQuoter interface {
	GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
}

// TierQuoter quotes a single concentrated-liquidity pool identified by its fee tier.
type TierQuoter interface {
	QuoteExactInputSingle(ctx context.Context, tokenIn, tokenOut common.Address, fee uint32, amountIn *big.Int) (*big.Int, error)
}

// Backend builds the on-chain quoting capabilities for a venue.
type Backend interface {
	PathQuoter(venue types.Venue) (PathQuoter, error)
	TierQuoter(venue types.Venue) (TierQuoter, error)
}
