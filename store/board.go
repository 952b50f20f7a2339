package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/michaelpento.lv/cyclearb/config"
	"github.com/michaelpento.lv/cyclearb/orchestrator"
	"github.com/michaelpento.lv/cyclearb/types"
)

// redisClient is the part of *redis.Client the board writes through.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// OpportunitySummary is the dashboard view of an opportunity.
type OpportunitySummary struct {
	ID         string          `json:"id"`
	PathID     string          `json:"path_id"`
	Path       string          `json:"path"`
	Asset      string          `json:"asset"`
	Hops       int             `json:"hops"`
	LoanAmount decimal.Decimal `json:"loan_amount"`
	NetProfit  decimal.Decimal `json:"net_profit"`
	NetROI     decimal.Decimal `json:"net_roi"`
	Confidence float64         `json:"confidence"`
	Risk       types.RiskLevel `json:"risk"`
	CapturedAt time.Time       `json:"captured_at"`
}

func Summarize(opp *types.Opportunity) OpportunitySummary {
	return OpportunitySummary{
		ID:         opp.ID,
		PathID:     opp.Path.ID,
		Path:       opp.Path.String(),
		Asset:      opp.Path.FlashLoanAsset,
		Hops:       opp.Path.Hops(),
		LoanAmount: opp.LoanAmount,
		NetProfit:  opp.NetProfit,
		NetROI:     opp.NetROI,
		Confidence: opp.Confidence,
		Risk:       opp.Risk,
		CapturedAt: opp.CapturedAt,
	}
}

// Board publishes statistics and the latest top opportunities to Redis for the
// dashboard. Keys expire so a dead scanner disappears from the board.
type Board struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

// NewBoard connects to Redis and verifies the connection.
func NewBoard(ctx context.Context, cfg config.StoreConfig) (*Board, error) {
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return newBoard(client, cfg.RedisPrefix, cfg.BoardTTL), nil
}

func newBoard(client redisClient, prefix string, ttl time.Duration) *Board {
	if prefix == "" {
		prefix = "cyclearb"
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Board{client: client, prefix: prefix, ttl: ttl}
}

func (b *Board) key(name string) string {
	return fmt.Sprintf("%s:%s", b.prefix, name)
}

// Publish stores the stats snapshot and top opportunities, then notifies
// subscribers on the updates channel.
func (b *Board) Publish(ctx context.Context, stats orchestrator.Stats, top []*types.Opportunity) error {
	statsPayload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}
	summaries := make([]OpportunitySummary, 0, len(top))
	for _, opp := range top {
		summaries = append(summaries, Summarize(opp))
	}
	topPayload, err := json.Marshal(summaries)
	if err != nil {
		return fmt.Errorf("failed to encode opportunities: %w", err)
	}

	if err := b.client.Set(ctx, b.key("stats"), statsPayload, b.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set stats: %w", err)
	}
	if err := b.client.Set(ctx, b.key("opportunities"), topPayload, b.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set opportunities: %w", err)
	}
	if err := b.client.Publish(ctx, b.key("updates"), statsPayload).Err(); err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}
	return nil
}

func (b *Board) Close() error {
	return b.client.Close()
}
