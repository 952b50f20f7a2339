package simulator

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Client is the subset of the chain client used to dry-run calls.
type Client interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// SimulationResult represents the result of a transaction simulation
type SimulationResult struct {
	Success bool
	GasUsed uint64
	Error   error
}

// Simulator handles transaction simulation
type Simulator struct {
	client Client
}

// NewSimulator creates a new transaction simulator
func NewSimulator(client Client) *Simulator {
	return &Simulator{
		client: client,
	}
}

// SimulateCall estimates the gas of calldata sent from from to to. A revert is
// reported in the result, not as an error.
func (s *Simulator) SimulateCall(ctx context.Context, from, to common.Address, data []byte) *SimulationResult {
	gasUsed, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &to,
		Data: data,
	})
	if err != nil {
		return &SimulationResult{
			Success: false,
			Error:   err,
		}
	}

	return &SimulationResult{
		Success: true,
		GasUsed: gasUsed,
	}
}

// Replay re-executes calldata against the state at blockNumber to recover the
// revert reason of a mined transaction.
func (s *Simulator) Replay(ctx context.Context, from, to common.Address, data []byte, gas uint64, blockNumber *big.Int) error {
	_, err := s.client.CallContract(ctx, ethereum.CallMsg{
		From: from,
		To:   &to,
		Gas:  gas,
		Data: data,
	}, blockNumber)
	return err
}
