package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/cyclearb/types"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal(filepath.Join(t.TempDir(), "data", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalRecordAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	submitted := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	results := []*types.ExecutionResult{
		{
			OpportunityID:   "a",
			PathID:          "p1",
			Asset:           "WBNB",
			Success:         true,
			TxHash:          common.HexToHash("0x01"),
			RealizedProfit:  decimal.RequireFromString("0.04"),
			ProfitFromEvent: true,
			GasUsed:         245000,
			SubmittedAt:     submitted,
			ConfirmedAt:     submitted.Add(3 * time.Second),
		},
		{
			OpportunityID: "b",
			PathID:        "p2",
			Asset:         "WBNB",
			Reason:        types.FailureExcessiveSlippage,
			Error:         "execution reverted: INSUFFICIENT_OUTPUT_AMOUNT",
			SubmittedAt:   submitted.Add(time.Minute),
		},
	}
	for _, r := range results {
		require.NoError(t, j.Record(ctx, r))
	}

	recent, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	assert.Equal(t, "b", recent[0].OpportunityID)
	assert.False(t, recent[0].Success)
	assert.Equal(t, types.FailureExcessiveSlippage, recent[0].Reason)
	assert.True(t, recent[0].ConfirmedAt.IsZero())

	first := recent[1]
	assert.Equal(t, "a", first.OpportunityID)
	assert.True(t, first.Success)
	assert.True(t, first.ProfitFromEvent)
	assert.Equal(t, common.HexToHash("0x01"), first.TxHash)
	assert.Equal(t, "0.04", first.RealizedProfit.String())
	assert.Equal(t, uint64(245000), first.GasUsed)
	assert.True(t, submitted.Equal(first.SubmittedAt))
	assert.True(t, submitted.Add(3*time.Second).Equal(first.ConfirmedAt))

	limited, err := j.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestJournalProfitByAsset(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for _, r := range []*types.ExecutionResult{
		{OpportunityID: "a", Asset: "WBNB", Success: true, RealizedProfit: decimal.RequireFromString("0.04")},
		{OpportunityID: "b", Asset: "WBNB", Success: true, RealizedProfit: decimal.RequireFromString("0.015")},
		{OpportunityID: "c", Asset: "USDT", Success: true, RealizedProfit: decimal.RequireFromString("12.5")},
		{OpportunityID: "d", Asset: "USDT", Reason: types.FailureUnknown},
	} {
		require.NoError(t, j.Record(ctx, r))
	}

	profits, err := j.ProfitByAsset(ctx)
	require.NoError(t, err)
	assert.Len(t, profits, 2)
	assert.Equal(t, "0.055", profits["WBNB"].String())
	assert.Equal(t, "12.5", profits["USDT"].String())
}

func TestJournalReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := OpenJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.Record(context.Background(), &types.ExecutionResult{OpportunityID: "a", Asset: "WBNB"}))
	require.NoError(t, j.Close())

	j, err = OpenJournal(path)
	require.NoError(t, err)
	defer j.Close()
	recent, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}
