package types

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	mathutil "github.com/michaelpento.lv/cyclearb/utils/math"
)

// VenueKind is the closed set of AMM designs a venue can implement.
type VenueKind int

const (
	ConstantProduct VenueKind = iota
	ConcentratedLiquidity
)

func (k VenueKind) String() string {
	switch k {
	case ConstantProduct:
		return "constant_product"
	case ConcentratedLiquidity:
		return "concentrated_liquidity"
	default:
		return "unknown"
	}
}

// ParseVenueKind accepts the registry spellings of a venue kind.
func ParseVenueKind(s string) (VenueKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "constant_product", "v2", "cp":
		return ConstantProduct, nil
	case "concentrated_liquidity", "v3", "cl":
		return ConcentratedLiquidity, nil
	default:
		return 0, fmt.Errorf("unknown venue kind %q", s)
	}
}

// Asset is a token that can appear in a cycle
type Asset struct {
	Symbol        string
	Address       common.Address
	Decimals      int32
	Stable        bool
	Native        bool
	HighLiquidity bool
	// USDPrice is a static reference used for display notionals only.
	USDPrice decimal.Decimal
}

// ToBaseUnits converts a human amount into the token's integer units.
func (a Asset) ToBaseUnits(amount decimal.Decimal) *big.Int {
	return mathutil.ToBaseUnits(amount, a.Decimals)
}

// FromBaseUnits converts integer token units into a human amount.
func (a Asset) FromBaseUnits(amount *big.Int) decimal.Decimal {
	return mathutil.ToDecimal(amount, a.Decimals)
}

// Venue describes a trading venue. Fees are expressed in hundredths of a basis point
// (3000 = 0.3%) the way concentrated-liquidity pools encode them.
type Venue struct {
	ID     string
	Kind   VenueKind
	Router common.Address
	Quoter common.Address
	// Factory and InitCodeHash enable reserve-based quoting of constant-product pairs.
	Factory       common.Address
	InitCodeHash  common.Hash
	Fee           uint32
	FeeTiers      []uint32
	LiquidityRank int
	Enabled       bool
	// Assets restricts the venue to a token subset; empty means any asset.
	Assets []string
}

// Supports reports whether the venue is expected to list both tokens.
func (v *Venue) Supports(tokenIn, tokenOut string) bool {
	if len(v.Assets) == 0 {
		return true
	}
	var in, out bool
	for _, s := range v.Assets {
		if s == tokenIn {
			in = true
		}
		if s == tokenOut {
			out = true
		}
	}
	return in && out
}

// CircularPath is an immutable candidate cycle: Assets has Hops()+1 entries and
// starts and ends with the flash-loan asset.
type CircularPath struct {
	ID               string
	Assets           []string
	Venues           []string
	FlashLoanAsset   string
	LiquidityScore   float64
	Complexity       float64
	ConcentratedHops int
}

// Hops returns the number of swaps in the path.
func (p *CircularPath) Hops() int {
	return len(p.Venues)
}

// IsCircular verifies the structural invariants of a cycle.
func (p *CircularPath) IsCircular() bool {
	if p == nil || len(p.Assets) < 3 {
		return false
	}
	if len(p.Assets) != len(p.Venues)+1 {
		return false
	}
	first, last := p.Assets[0], p.Assets[len(p.Assets)-1]
	return first == last && p.FlashLoanAsset == first
}

// Score is the ranking key used to order retained paths.
func (p *CircularPath) Score() float64 {
	if p.Complexity <= 0 {
		return p.LiquidityScore
	}
	return p.LiquidityScore / math.Sqrt(p.Complexity)
}

// Key is the deduplication key over (asset sequence, venue sequence).
func (p *CircularPath) Key() string {
	return strings.Join(p.Assets, ">") + "|" + strings.Join(p.Venues, ">")
}

func (p *CircularPath) String() string {
	var b strings.Builder
	for i, a := range p.Assets {
		if i > 0 {
			b.WriteString(" -[")
			b.WriteString(p.Venues[i-1])
			b.WriteString("]-> ")
		}
		b.WriteString(a)
	}
	return b.String()
}

// PathID derives the stable identifier of an (assets, venues) tuple.
func PathID(assets, venues []string) string {
	h := xxhash.New()
	for _, a := range assets {
		_, _ = h.WriteString(a)
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write([]byte{1})
	for _, v := range venues {
		_, _ = h.WriteString(v)
		_, _ = h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// PriceQuote is a venue's answer for a specific input amount.
type PriceQuote struct {
	Venue     string
	TokenIn   string
	TokenOut  string
	AmountIn  decimal.Decimal
	AmountOut decimal.Decimal
	// Price is AmountOut per unit of AmountIn.
	Price decimal.Decimal
	// Route lists the tokens traversed, including a bridge asset when one was used.
	Route      []string
	FeeTier    uint32
	CapturedAt time.Time
}

// QuoteKey identifies a quote in caches and snapshots.
type QuoteKey struct {
	Venue    string
	TokenIn  string
	TokenOut string
	AmountIn string
}

// NewQuoteKey normalizes the amount so equal decimals share a key.
func NewQuoteKey(venue, tokenIn, tokenOut string, amountIn decimal.Decimal) QuoteKey {
	return QuoteKey{
		Venue:    venue,
		TokenIn:  tokenIn,
		TokenOut: tokenOut,
		AmountIn: amountIn.String(),
	}
}

// SwapLeg is one evaluated hop of an opportunity. Percentages are in percent units.
type SwapLeg struct {
	Venue       string
	TokenIn     string
	TokenOut    string
	AmountIn    decimal.Decimal
	AmountOut   decimal.Decimal
	Price       decimal.Decimal
	PriceImpact decimal.Decimal
	Slippage    decimal.Decimal
	NotionalUSD decimal.Decimal
	FeeTier     uint32
	Route       []string
}

// RiskLevel classifies an opportunity
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Opportunity is a profitable evaluation of a path for one scan.
type Opportunity struct {
	ID           string
	Path         *CircularPath
	Legs         []SwapLeg
	LoanAmount   decimal.Decimal
	GrossProfit  decimal.Decimal
	FlashLoanFee decimal.Decimal
	GasCost      decimal.Decimal
	GasUnits     uint64
	GasPrice     *big.Int
	TotalCosts   decimal.Decimal
	NetProfit    decimal.Decimal
	NetROI       decimal.Decimal
	Confidence   float64
	RiskScore    int
	Risk         RiskLevel
	CapturedAt   time.Time
}

// FailureReason is the advisory classification of a failed execution.
type FailureReason string

const (
	FailureNone                  FailureReason = ""
	FailureInsufficientLiquidity FailureReason = "insufficient_liquidity"
	FailureExcessiveSlippage     FailureReason = "excessive_slippage"
	FailureDeadlineExceeded      FailureReason = "deadline_exceeded"
	FailureGasEstimation         FailureReason = "gas_estimation_failed"
	FailureUnknown               FailureReason = "unknown"
)

// ExecutionResult is what the executor reports back for statistics.
type ExecutionResult struct {
	OpportunityID   string
	PathID          string
	Asset           string
	Success         bool
	DryRun          bool
	TxHash          common.Hash
	RealizedProfit  decimal.Decimal
	ProfitFromEvent bool
	GasUsed         uint64
	Reason          FailureReason
	Error           string
	SubmittedAt     time.Time
	ConfirmedAt     time.Time
}
