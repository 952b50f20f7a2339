package market

import (
	"fmt"

	"github.com/michaelpento.lv/cyclearb/types"
)

// Universe is the immutable, ordered set of assets known at startup.
type Universe struct {
	assets   []types.Asset
	bySymbol map[string]int
	native   string
}

// NewUniverse indexes assets by symbol. Exactly zero or one asset may be native.
func NewUniverse(assets []types.Asset) (*Universe, error) {
	u := &Universe{
		assets:   make([]types.Asset, 0, len(assets)),
		bySymbol: make(map[string]int, len(assets)),
	}
	for _, a := range assets {
		if a.Symbol == "" {
			return nil, fmt.Errorf("asset without symbol")
		}
		if _, dup := u.bySymbol[a.Symbol]; dup {
			return nil, fmt.Errorf("duplicate asset %s", a.Symbol)
		}
		if a.Native {
			if u.native != "" {
				return nil, fmt.Errorf("assets %s and %s are both marked native", u.native, a.Symbol)
			}
			u.native = a.Symbol
		}
		u.bySymbol[a.Symbol] = len(u.assets)
		u.assets = append(u.assets, a)
	}
	return u, nil
}

// Get returns the asset for a symbol.
func (u *Universe) Get(symbol string) (types.Asset, bool) {
	i, ok := u.bySymbol[symbol]
	if !ok {
		return types.Asset{}, false
	}
	return u.assets[i], true
}

// MustGet is Get for symbols already validated against the universe.
func (u *Universe) MustGet(symbol string) types.Asset {
	a, ok := u.Get(symbol)
	if !ok {
		panic(fmt.Sprintf("unknown asset %s", symbol))
	}
	return a
}

// Symbols lists asset symbols in registry order.
func (u *Universe) Symbols() []string {
	out := make([]string, len(u.assets))
	for i, a := range u.assets {
		out[i] = a.Symbol
	}
	return out
}

// Assets returns a copy of the asset list.
func (u *Universe) Assets() []types.Asset {
	out := make([]types.Asset, len(u.assets))
	copy(out, u.assets)
	return out
}

// Native returns the chain's wrapped native asset, if configured.
func (u *Universe) Native() (types.Asset, bool) {
	if u.native == "" {
		return types.Asset{}, false
	}
	return u.Get(u.native)
}

func (u *Universe) Len() int {
	return len(u.assets)
}
