package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/michaelpento.lv/cyclearb/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	opportunity_id TEXT NOT NULL,
	path_id TEXT NOT NULL,
	asset TEXT NOT NULL,
	success INTEGER NOT NULL,
	dry_run INTEGER NOT NULL,
	tx_hash TEXT NOT NULL,
	realized_profit TEXT NOT NULL,
	profit_from_event INTEGER NOT NULL,
	gas_used INTEGER NOT NULL,
	reason TEXT NOT NULL,
	error TEXT NOT NULL,
	submitted_at INTEGER NOT NULL,
	confirmed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS executions_asset ON executions(asset);
`

// Journal is an append-only record of execution results in SQLite.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens or creates the journal database at path.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record appends one execution result.
func (j *Journal) Record(ctx context.Context, r *types.ExecutionResult) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO executions(opportunity_id, path_id, asset, success, dry_run, tx_hash,
			realized_profit, profit_from_event, gas_used, reason, error, submitted_at, confirmed_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.OpportunityID, r.PathID, r.Asset, r.Success, r.DryRun, r.TxHash.Hex(),
		r.RealizedProfit.String(), r.ProfitFromEvent, int64(r.GasUsed), string(r.Reason), r.Error,
		unixMilli(r.SubmittedAt), unixMilli(r.ConfirmedAt))
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", r.OpportunityID, err)
	}
	return nil
}

// Recent returns up to limit results, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]types.ExecutionResult, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT opportunity_id, path_id, asset, success, dry_run, tx_hash, realized_profit,
			profit_from_event, gas_used, reason, error, submitted_at, confirmed_at
		FROM executions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("select executions: %w", err)
	}
	defer rows.Close()

	var out []types.ExecutionResult
	for rows.Next() {
		var (
			r                    types.ExecutionResult
			txHash, profit       string
			reason               string
			gasUsed              int64
			submitted, confirmed int64
		)
		if err := rows.Scan(&r.OpportunityID, &r.PathID, &r.Asset, &r.Success, &r.DryRun, &txHash, &profit,
			&r.ProfitFromEvent, &gasUsed, &reason, &r.Error, &submitted, &confirmed); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		r.TxHash = common.HexToHash(txHash)
		r.RealizedProfit, err = decimal.NewFromString(profit)
		if err != nil {
			return nil, fmt.Errorf("execution %s has invalid profit %q: %w", r.OpportunityID, profit, err)
		}
		r.GasUsed = uint64(gasUsed)
		r.Reason = types.FailureReason(reason)
		r.SubmittedAt = fromUnixMilli(submitted)
		r.ConfirmedAt = fromUnixMilli(confirmed)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ProfitByAsset sums realized profit of successful executions per asset.
func (j *Journal) ProfitByAsset(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT asset, realized_profit FROM executions WHERE success = 1`)
	if err != nil {
		return nil, fmt.Errorf("select profits: %w", err)
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var asset, profit string
		if err := rows.Scan(&asset, &profit); err != nil {
			return nil, fmt.Errorf("scan profit: %w", err)
		}
		d, err := decimal.NewFromString(profit)
		if err != nil {
			return nil, fmt.Errorf("invalid profit %q: %w", profit, err)
		}
		out[asset] = out[asset].Add(d)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
