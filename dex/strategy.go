package dex

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/cyclearb/types"
)

var errEmptyQuote = errors.New("venue returned no output")

// ConstantProductStrategy asks for the direct pair first and retries through the
// bridge asset when the direct query fails.
type ConstantProductStrategy struct {
	quoter PathQuoter
	bridge *types.Asset
}

func NewConstantProductStrategy(quoter PathQuoter, bridge *types.Asset) *ConstantProductStrategy {
	return &ConstantProductStrategy{quoter: quoter, bridge: bridge}
}

func (s *ConstantProductStrategy) Quote(ctx context.Context, tokenIn, tokenOut types.Asset, amountIn *big.Int) (*Result, error) {
	out, directErr := s.amountOut(ctx, amountIn, []common.Address{tokenIn.Address, tokenOut.Address})
	if directErr == nil {
		return &Result{AmountOut: out, Route: []string{tokenIn.Symbol, tokenOut.Symbol}}, nil
	}

	if s.bridge == nil || s.bridge.Symbol == tokenIn.Symbol || s.bridge.Symbol == tokenOut.Symbol {
		return nil, directErr
	}

	path := []common.Address{tokenIn.Address, s.bridge.Address, tokenOut.Address}
	out, err := s.amountOut(ctx, amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("direct: %v; via %s: %w", directErr, s.bridge.Symbol, err)
	}
	return &Result{
		AmountOut: out,
		Route:     []string{tokenIn.Symbol, s.bridge.Symbol, tokenOut.Symbol},
	}, nil
}

func (s *ConstantProductStrategy) amountOut(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	amounts, err := s.quoter.GetAmountsOut(ctx, amountIn, path)
	if err != nil {
		return nil, err
	}
	if len(amounts) != len(path) {
		return nil, fmt.Errorf("expected %d amounts, got %d", len(path), len(amounts))
	}
	out := amounts[len(amounts)-1]
	if out == nil || out.Sign() <= 0 {
		return nil, errEmptyQuote
	}
	return out, nil
}

// ConcentratedStrategy tries each configured fee tier in order and keeps the first
// valid quote.
type ConcentratedStrategy struct {
	quoter TierQuoter
	tiers  []uint32
}

func NewConcentratedStrategy(quoter TierQuoter, tiers []uint32) *ConcentratedStrategy {
	return &ConcentratedStrategy{quoter: quoter, tiers: tiers}
}

func (s *ConcentratedStrategy) Quote(ctx context.Context, tokenIn, tokenOut types.Asset, amountIn *big.Int) (*Result, error) {
	var errs []error
	for _, tier := range s.tiers {
		out, err := s.quoter.QuoteExactInputSingle(ctx, tokenIn.Address, tokenOut.Address, tier, amountIn)
		if err != nil {
			errs = append(errs, fmt.Errorf("tier %d: %w", tier, err))
			continue
		}
		if out == nil || out.Sign() <= 0 {
			errs = append(errs, fmt.Errorf("tier %d: %w", tier, errEmptyQuote))
			continue
		}
		return &Result{
			AmountOut: out,
			Route:     []string{tokenIn.Symbol, tokenOut.Symbol},
			FeeTier:   tier,
		}, nil
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("no fee tiers configured")
	}
	return nil, errors.Join(errs...)
}
