package uniswap

import (
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/cyclearb/dex"
	"github.com/michaelpento.lv/cyclearb/types"
)

// Backend builds on-chain quoters over a single contract caller.
type Backend struct {
	caller bind.ContractCaller
}

func NewBackend(caller bind.ContractCaller) *Backend {
	return &Backend{caller: caller}
}

// PathQuoter prefers local reserve math when the venue declares its factory.
func (b *Backend) PathQuoter(venue types.Venue) (dex.PathQuoter, error) {
	if venue.Factory != (common.Address{}) {
		return NewPairQuoter(b.caller, venue.Factory, venue.InitCodeHash, venue.Fee), nil
	}
	return NewRouter(venue.Router, b.caller)
}

func (b *Backend) TierQuoter(venue types.Venue) (dex.TierQuoter, error) {
	return NewQuoter(venue.Quoter, b.caller)
}
