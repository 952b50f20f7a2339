package flashloan

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Settlement contract ABI. The contract borrows asset, runs the swaps in order,
// checks the final asset, repays the loan plus premium and emits ArbitrageExecuted.
const settlementABIJson = `[
	{
		"inputs": [
			{"name": "asset", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{
				"name": "swaps",
				"type": "tuple[]",
				"components": [
					{"name": "router", "type": "address"},
					{"name": "kind", "type": "uint8"},
					{"name": "tokenIn", "type": "address"},
					{"name": "tokenOut", "type": "address"},
					{"name": "fee", "type": "uint24"},
					{"name": "amountIn", "type": "uint256"},
					{"name": "minAmountOut", "type": "uint256"}
				]
			},
			{"name": "deadline", "type": "uint256"}
		],
		"name": "executeArbitrage",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "asset", "type": "address"},
			{"indexed": false, "name": "amount", "type": "uint256"},
			{"indexed": false, "name": "profit", "type": "uint256"},
			{"indexed": false, "name": "gasUsed", "type": "uint256"}
		],
		"name": "ArbitrageExecuted",
		"type": "event"
	}
]`

const executedEvent = "ArbitrageExecuted"

// Swap kinds understood by the settlement contract.
const (
	KindConstantProduct       uint8 = 0
	KindConcentratedLiquidity uint8 = 1
)

// Instruction is one swap of a settlement, in token base units.
type Instruction struct {
	Venue        string
	Router       common.Address
	Kind         uint8
	TokenIn      common.Address
	TokenOut     common.Address
	Fee          uint32
	AmountIn     *big.Int
	MinAmountOut *big.Int
}

// swapArg mirrors the ABI tuple.
type swapArg struct {
	Router       common.Address
	Kind         uint8
	TokenIn      common.Address
	TokenOut     common.Address
	Fee          *big.Int
	AmountIn     *big.Int
	MinAmountOut *big.Int
}

// Request is a complete settlement call.
type Request struct {
	Asset        common.Address
	Amount       *big.Int
	Instructions []Instruction
	Deadline     *big.Int
}

// Executed is the decoded ArbitrageExecuted record.
type Executed struct {
	Asset   common.Address
	Amount  *big.Int
	Profit  *big.Int
	GasUsed *big.Int
}

// Backend is what the settlement binding needs from the chain client.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Settlement binds the external settlement contract
type Settlement struct {
	address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
	backend  Backend
}

func NewSettlement(address common.Address, backend Backend) (*Settlement, error) {
	parsedABI, err := abi.JSON(strings.NewReader(settlementABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse settlement ABI: %w", err)
	}
	return &Settlement{
		address:  address,
		abi:      parsedABI,
		contract: bind.NewBoundContract(address, parsedABI, backend, backend, backend),
		backend:  backend,
	}, nil
}

func (s *Settlement) Address() common.Address {
	return s.address
}

// Deployed reports whether contract code exists at the settlement address.
func (s *Settlement) Deployed(ctx context.Context) (bool, error) {
	code, err := s.backend.CodeAt(ctx, s.address, nil)
	if err != nil {
		return false, fmt.Errorf("failed to read settlement code: %w", err)
	}
	return len(code) > 0, nil
}

// Pack encodes the executeArbitrage calldata.
func (s *Settlement) Pack(req Request) ([]byte, error) {
	return s.abi.Pack("executeArbitrage", req.Asset, req.Amount, swapArgs(req.Instructions), req.Deadline)
}

// Submit signs and sends the settlement transaction.
func (s *Settlement) Submit(opts *bind.TransactOpts, req Request) (*types.Transaction, error) {
	tx, err := s.contract.Transact(opts, "executeArbitrage", req.Asset, req.Amount, swapArgs(req.Instructions), req.Deadline)
	if err != nil {
		return nil, fmt.Errorf("failed to submit settlement: %w", err)
	}
	return tx, nil
}

// WaitMined blocks until tx is included or ctx expires.
func (s *Settlement) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, s.backend, tx)
}

// ParseExecuted finds the settlement record in a receipt.
func (s *Settlement) ParseExecuted(receipt *types.Receipt) (*Executed, bool) {
	return ParseExecuted(s.abi, s.address, receipt)
}

// ParseExecuted decodes the first ArbitrageExecuted log emitted by address.
func ParseExecuted(parsed abi.ABI, address common.Address, receipt *types.Receipt) (*Executed, bool) {
	if receipt == nil {
		return nil, false
	}
	event := parsed.Events[executedEvent]
	for _, log := range receipt.Logs {
		if log.Address != address || len(log.Topics) == 0 || log.Topics[0] != event.ID {
			continue
		}
		values, err := event.Inputs.NonIndexed().Unpack(log.Data)
		if err != nil || len(values) != 3 || len(log.Topics) < 2 {
			continue
		}
		ev := &Executed{Asset: common.BytesToAddress(log.Topics[1].Bytes())}
		ev.Amount, _ = values[0].(*big.Int)
		ev.Profit, _ = values[1].(*big.Int)
		ev.GasUsed, _ = values[2].(*big.Int)
		if ev.Profit == nil {
			continue
		}
		return ev, true
	}
	return nil, false
}

// ABI returns the parsed settlement ABI.
func ABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(settlementABIJson))
}

// Fee returns the flash-loan premium on amount, in base units.
func Fee(amount *big.Int, bps uint16) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	return fee.Div(fee, big.NewInt(10000))
}

func swapArgs(instructions []Instruction) []swapArg {
	args := make([]swapArg, len(instructions))
	for i, in := range instructions {
		args[i] = swapArg{
			Router:       in.Router,
			Kind:         in.Kind,
			TokenIn:      in.TokenIn,
			TokenOut:     in.TokenOut,
			Fee:          new(big.Int).SetUint64(uint64(in.Fee)),
			AmountIn:     in.AmountIn,
			MinAmountOut: in.MinAmountOut,
		}
	}
	return args
}
