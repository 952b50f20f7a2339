package pricing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/cyclearb/config"
	"github.com/michaelpento.lv/cyclearb/dex"
	"github.com/michaelpento.lv/cyclearb/market"
	"github.com/michaelpento.lv/cyclearb/types"
	"github.com/michaelpento.lv/cyclearb/utils/metrics"
)

var hundred = decimal.NewFromInt(100)

// VenueLookup resolves venue identifiers to their quoting strategy.
type VenueLookup interface {
	Get(id string) (*dex.Entry, bool)
	IDs() []string
}

// Aggregator fetches venue quotes and caches them for a fixed TTL. Entries are
// upserted per key and an expired entry is treated as absent.
type Aggregator struct {
	config   config.PricingConfig
	venues   VenueLookup
	universe *market.Universe
	cache    *lru.Cache
	flight   singleflight.Group
	limiter  *rate.Limiter
	metrics  *metrics.PricingMetrics
	logger   *zap.Logger
	now      func() time.Time
}

// Option customises an Aggregator.
type Option func(*Aggregator)

// WithClock replaces the wall clock used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

func NewAggregator(cfg config.PricingConfig, venues VenueLookup, universe *market.Universe, m *metrics.PricingMetrics, logger *zap.Logger, opts ...Option) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pricing config: %w", err)
	}

	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create quote cache: %w", err)
	}

	a := &Aggregator{
		config:   cfg,
		venues:   venues,
		universe: universe,
		cache:    cache,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.BurstSize),
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Quote returns the venue's answer for amountIn whole tokens. A venue with no
// valid answer yields an error wrapping types.ErrNoQuote, never a zero price.
func (a *Aggregator) Quote(ctx context.Context, venue, tokenIn, tokenOut string, amountIn decimal.Decimal) (*types.PriceQuote, error) {
	key := types.NewQuoteKey(venue, tokenIn, tokenOut, amountIn)
	if q, ok := a.cached(key); ok {
		a.metrics.CacheHits.Inc()
		return q, nil
	}

	v, err, _ := a.flight.Do(flightKey(key), func() (interface{}, error) {
		if q, ok := a.cached(key); ok {
			return q, nil
		}
		a.metrics.CacheMisses.Inc()
		q, err := a.fetch(ctx, venue, tokenIn, tokenOut, amountIn)
		if err != nil {
			return nil, err
		}
		a.cache.Add(key, q)
		return q, nil
	})
	if err != nil {
		if errors.Is(err, types.ErrNoQuote) {
			a.metrics.QuoteErrors.WithLabelValues(venue).Inc()
		}
		return nil, err
	}
	return v.(*types.PriceQuote), nil
}

func (a *Aggregator) cached(key types.QuoteKey) (*types.PriceQuote, bool) {
	v, ok := a.cache.Get(key)
	if !ok {
		return nil, false
	}
	q := v.(*types.PriceQuote)
	if a.now().Sub(q.CapturedAt) >= a.config.CacheTTL {
		a.cache.Remove(key)
		a.metrics.CacheExpired.Inc()
		return nil, false
	}
	return q, true
}

func (a *Aggregator) fetch(ctx context.Context, venue, tokenIn, tokenOut string, amountIn decimal.Decimal) (*types.PriceQuote, error) {
	entry, ok := a.venues.Get(venue)
	if !ok {
		return nil, fmt.Errorf("%w: unknown venue %s", types.ErrNoQuote, venue)
	}
	in, ok := a.universe.Get(tokenIn)
	if !ok {
		return nil, fmt.Errorf("%w: unknown asset %s", types.ErrNoQuote, tokenIn)
	}
	out, ok := a.universe.Get(tokenOut)
	if !ok {
		return nil, fmt.Errorf("%w: unknown asset %s", types.ErrNoQuote, tokenOut)
	}
	if !amountIn.IsPositive() {
		return nil, fmt.Errorf("%w: non-positive amount %s", types.ErrNoQuote, amountIn)
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.config.RateLimit.WaitTimeout)
	defer cancel()
	if err := a.limiter.Wait(waitCtx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %w", types.ErrTransientNetwork, err)
	}

	start := time.Now()
	defer func() {
		a.metrics.QuoteLatency.Observe(time.Since(start).Seconds())
	}()

	res, err := entry.Strategy.Quote(ctx, in, out, in.ToBaseUnits(amountIn))
	if err != nil {
		if transient(err) {
			return nil, fmt.Errorf("%w: %w: %s %s->%s: %w", types.ErrNoQuote, types.ErrTransientNetwork, venue, tokenIn, tokenOut, err)
		}
		return nil, fmt.Errorf("%w: %s %s->%s: %w", types.ErrNoQuote, venue, tokenIn, tokenOut, err)
	}
	if res.AmountOut == nil || res.AmountOut.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s %s->%s returned zero", types.ErrNoQuote, venue, tokenIn, tokenOut)
	}

	amountOut := out.FromBaseUnits(res.AmountOut)
	return &types.PriceQuote{
		Venue:      venue,
		TokenIn:    tokenIn,
		TokenOut:   tokenOut,
		AmountIn:   amountIn,
		AmountOut:  amountOut,
		Price:      amountOut.DivRound(amountIn, 18),
		Route:      res.Route,
		FeeTier:    res.FeeTier,
		CapturedAt: a.now(),
	}, nil
}

// PriceImpact compares the unit price at amountIn against the unit price of the
// reference amount and returns the deviation in percent.
func (a *Aggregator) PriceImpact(ctx context.Context, venue, tokenIn, tokenOut string, amountIn decimal.Decimal) (decimal.Decimal, error) {
	ref, err := a.Quote(ctx, venue, tokenIn, tokenOut, a.config.ReferenceAmount)
	if err != nil {
		return decimal.Zero, err
	}
	req, err := a.Quote(ctx, venue, tokenIn, tokenOut, amountIn)
	if err != nil {
		return decimal.Zero, err
	}
	return Impact(ref.Price, req.Price), nil
}

// Impact is |reference - actual| / reference in percent.
func Impact(reference, actual decimal.Decimal) decimal.Decimal {
	if !reference.IsPositive() {
		return decimal.Zero
	}
	return reference.Sub(actual).Abs().Div(reference).Mul(hundred)
}

// transient reports whether a venue error came from the transport rather than
// from the venue answering.
func transient(err error) bool {
	if errors.Is(err, types.ErrTransientNetwork) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= http.StatusInternalServerError || httpErr.StatusCode == http.StatusTooManyRequests
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// BatchQuote quotes every pair on every venue that supports it. Failures are
// isolated and simply absent from the result. An error wrapping
// types.ErrTransientNetwork is returned only when nothing was quoted and at
// least one failure came from the transport; venues that merely have no market
// yield an empty result and a nil error.
func (a *Aggregator) BatchQuote(ctx context.Context, pairs [][2]string, amountIn decimal.Decimal) (map[types.QuoteKey]*types.PriceQuote, error) {
	var (
		mu        sync.Mutex
		results   = make(map[types.QuoteKey]*types.PriceQuote)
		g         errgroup.Group
		failed    int
		transport int
		lastErr   error
	)
	g.SetLimit(a.config.MaxConcurrent)

	requested := 0
	for _, id := range a.venues.IDs() {
		entry, _ := a.venues.Get(id)
		for _, pair := range pairs {
			if !entry.Venue.Supports(pair[0], pair[1]) {
				continue
			}
			requested++
			venue, in, out := id, pair[0], pair[1]
			g.Go(func() error {
				q, err := a.Quote(ctx, venue, in, out, amountIn)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failed++
					if transient(err) {
						transport++
						lastErr = err
					}
					return nil
				}
				results[types.NewQuoteKey(venue, in, out, amountIn)] = q
				return nil
			})
		}
	}
	_ = g.Wait()

	a.metrics.BatchSize.Observe(float64(requested))
	a.logger.Debug("Batch quote finished",
		zap.Int("requested", requested),
		zap.Int("quoted", len(results)),
		zap.Int("failed", failed),
		zap.Int("transient", transport))

	if len(results) == 0 && transport > 0 {
		return results, fmt.Errorf("%w: %d of %d quotes failed in transport, last: %w",
			types.ErrTransientNetwork, transport, requested, lastErr)
	}
	return results, nil
}

// Purge drops every cached quote.
func (a *Aggregator) Purge() {
	a.cache.Purge()
}

func (a *Aggregator) CacheLen() int {
	return a.cache.Len()
}

func flightKey(k types.QuoteKey) string {
	return k.Venue + "|" + k.TokenIn + "|" + k.TokenOut + "|" + k.AmountIn
}
