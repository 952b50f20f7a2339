package market

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"github.com/michaelpento.lv/cyclearb/types"
)

type assetSpec struct {
	Symbol        string `yaml:"symbol"`
	Address       string `yaml:"address"`
	Decimals      int32  `yaml:"decimals"`
	Stable        bool   `yaml:"stable"`
	Native        bool   `yaml:"native"`
	HighLiquidity bool   `yaml:"high_liquidity"`
	USDPrice      string `yaml:"usd_price"`
}

type venueSpec struct {
	ID            string   `yaml:"id"`
	Kind          string   `yaml:"kind"`
	Router        string   `yaml:"router"`
	Quoter        string   `yaml:"quoter"`
	Factory       string   `yaml:"factory"`
	InitCodeHash  string   `yaml:"init_code_hash"`
	Fee           uint32   `yaml:"fee"`
	FeeTiers      []uint32 `yaml:"fee_tiers"`
	LiquidityRank int      `yaml:"liquidity_rank"`
	Enabled       *bool    `yaml:"enabled"`
	Assets        []string `yaml:"assets"`
}

type registryFile struct {
	Bridge string      `yaml:"bridge"`
	Assets []assetSpec `yaml:"assets"`
	Venues []venueSpec `yaml:"venues"`
	Pairs  [][]string  `yaml:"pairs"`
}

// Registry is the static market description loaded at startup.
type Registry struct {
	Universe *Universe
	Graph    *Graph
	Venues   []types.Venue
	// Bridge is the asset constant-product venues route through when a direct pair fails.
	Bridge string
}

// EnabledVenues returns the venues not switched off in the registry.
func (r *Registry) EnabledVenues() []types.Venue {
	out := make([]types.Venue, 0, len(r.Venues))
	for _, v := range r.Venues {
		if v.Enabled {
			out = append(out, v)
		}
	}
	return out
}

// LoadRegistry reads a YAML registry file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	reg, err := ParseRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry %s: %w", path, err)
	}
	return reg, nil
}

// ParseRegistry decodes and validates registry YAML.
func ParseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode registry: %w", err)
	}

	assets := make([]types.Asset, 0, len(file.Assets))
	for _, spec := range file.Assets {
		asset, err := spec.toAsset()
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	universe, err := NewUniverse(assets)
	if err != nil {
		return nil, err
	}

	pairs := make([][2]string, 0, len(file.Pairs))
	for _, p := range file.Pairs {
		if len(p) != 2 {
			return nil, fmt.Errorf("pair %v must list exactly two assets", p)
		}
		pairs = append(pairs, [2]string{p[0], p[1]})
	}
	graph, err := NewGraph(universe, pairs)
	if err != nil {
		return nil, err
	}

	venues := make([]types.Venue, 0, len(file.Venues))
	seen := make(map[string]bool, len(file.Venues))
	for _, spec := range file.Venues {
		if seen[spec.ID] {
			return nil, fmt.Errorf("duplicate venue %s", spec.ID)
		}
		seen[spec.ID] = true
		venue, err := spec.toVenue(universe)
		if err != nil {
			return nil, err
		}
		venues = append(venues, venue)
	}

	if file.Bridge != "" {
		if _, ok := universe.Get(file.Bridge); !ok {
			return nil, fmt.Errorf("bridge asset %s is not registered", file.Bridge)
		}
	}

	return &Registry{
		Universe: universe,
		Graph:    graph,
		Venues:   venues,
		Bridge:   file.Bridge,
	}, nil
}

func (s assetSpec) toAsset() (types.Asset, error) {
	if !common.IsHexAddress(s.Address) {
		return types.Asset{}, fmt.Errorf("asset %s has invalid address %q", s.Symbol, s.Address)
	}
	if s.Decimals < 0 || s.Decimals > 36 {
		return types.Asset{}, fmt.Errorf("asset %s has invalid decimals %d", s.Symbol, s.Decimals)
	}
	price := decimal.Zero
	if s.USDPrice != "" {
		p, err := decimal.NewFromString(s.USDPrice)
		if err != nil {
			return types.Asset{}, fmt.Errorf("asset %s has invalid usd_price: %w", s.Symbol, err)
		}
		price = p
	}
	return types.Asset{
		Symbol:        s.Symbol,
		Address:       common.HexToAddress(s.Address),
		Decimals:      s.Decimals,
		Stable:        s.Stable,
		Native:        s.Native,
		HighLiquidity: s.HighLiquidity,
		USDPrice:      price,
	}, nil
}

func (s venueSpec) toVenue(universe *Universe) (types.Venue, error) {
	if s.ID == "" {
		return types.Venue{}, fmt.Errorf("venue without id")
	}
	kind, err := types.ParseVenueKind(s.Kind)
	if err != nil {
		return types.Venue{}, fmt.Errorf("venue %s: %w", s.ID, err)
	}

	v := types.Venue{
		ID:            s.ID,
		Kind:          kind,
		Fee:           s.Fee,
		FeeTiers:      s.FeeTiers,
		LiquidityRank: s.LiquidityRank,
		Enabled:       s.Enabled == nil || *s.Enabled,
		Assets:        s.Assets,
	}

	switch kind {
	case types.ConstantProduct:
		if !common.IsHexAddress(s.Router) {
			return types.Venue{}, fmt.Errorf("venue %s needs a router address", s.ID)
		}
		v.Router = common.HexToAddress(s.Router)
		if s.Factory != "" {
			if !common.IsHexAddress(s.Factory) || len(common.FromHex(s.InitCodeHash)) != common.HashLength {
				return types.Venue{}, fmt.Errorf("venue %s needs a valid factory and init_code_hash", s.ID)
			}
			v.Factory = common.HexToAddress(s.Factory)
			v.InitCodeHash = common.HexToHash(s.InitCodeHash)
		}
	case types.ConcentratedLiquidity:
		if !common.IsHexAddress(s.Quoter) {
			return types.Venue{}, fmt.Errorf("venue %s needs a quoter address", s.ID)
		}
		if len(s.FeeTiers) == 0 {
			return types.Venue{}, fmt.Errorf("venue %s needs at least one fee tier", s.ID)
		}
		v.Quoter = common.HexToAddress(s.Quoter)
		if common.IsHexAddress(s.Router) {
			v.Router = common.HexToAddress(s.Router)
		}
	}

	for _, sym := range s.Assets {
		if _, ok := universe.Get(sym); !ok {
			return types.Venue{}, fmt.Errorf("venue %s lists unknown asset %s", s.ID, sym)
		}
	}
	return v, nil
}
