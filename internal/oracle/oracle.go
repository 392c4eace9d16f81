// Package oracle implements the EUR/SOL price quote service (component B):
// a four-layer cache in front of a rotating set of upstream price feeds.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cedros-basket/checkout/internal/circuitbreaker"
	"github.com/cedros-basket/checkout/internal/config"
	"github.com/cedros-basket/checkout/internal/logger"
	"github.com/cedros-basket/checkout/internal/metrics"
	"github.com/cedros-basket/checkout/internal/store"
	"github.com/shopspring/decimal"
)

// ErrUnavailable is returned by Quote when every cache layer and every
// upstream has failed.
var ErrUnavailable = errors.New("oracle: price unavailable")

// settingKey is the Setting row the persistent cache layer reads/writes.
const settingKey = "sol_price_eur_cache"

// Upstream fetches a EUR/SOL quote from one external source. Implementations
// wrap a DEX, exchange, or FX endpoint behind a uniform signature so Oracle
// can rotate through them without knowing which kind it's talking to.
type Upstream interface {
	Name() string
	Quote(ctx context.Context) (decimal.Decimal, error)
}

// Oracle exposes quote_eur_per_sol() backed by the four-layer cache
// described in the component design: memory, persistent setting row,
// upstream rotation, and a stale-memory fallback.
type Oracle struct {
	mu          sync.RWMutex
	memValue    decimal.Decimal
	memFetchedAt time.Time

	upstreams []Upstream
	store     store.Store
	breakers  *circuitbreaker.Manager
	metrics   *metrics.Metrics

	memoryCacheTTL   time.Duration
	persistentMaxAge time.Duration
	staleMaxAge      time.Duration
	sanityMinEURUSD  float64
	sanityMaxEURUSD  float64
}

// New builds an Oracle over the given upstreams, ordered as the rotation
// order on layer-3 failure.
func New(cfg config.OracleConfig, upstreams []Upstream, st store.Store, breakers *circuitbreaker.Manager, m *metrics.Metrics) *Oracle {
	return &Oracle{
		upstreams:        upstreams,
		store:            st,
		breakers:         breakers,
		metrics:          m,
		memoryCacheTTL:   cfg.MemoryCacheTTL.Duration,
		persistentMaxAge: cfg.PersistentMaxAge.Duration,
		staleMaxAge:      cfg.StaleMaxAge.Duration,
		sanityMinEURUSD:  cfg.SanityMinEURPerSOL,
		sanityMaxEURUSD:  cfg.SanityMaxEURPerSOL,
	}
}

// Quote returns the current EUR/SOL price, consulting layers in order:
// memory, persistent setting, upstream rotation, stale memory fallback.
func (o *Oracle) Quote(ctx context.Context) (decimal.Decimal, error) {
	if v, ok := o.memoryLayer(); ok {
		o.metrics.ObserveOracleCacheHit("memory")
		return v, nil
	}

	if v, ok := o.persistentLayer(ctx); ok {
		o.metrics.ObserveOracleCacheHit("persistent")
		o.setMemory(v)
		return v, nil
	}

	if v, err := o.upstreamLayer(ctx); err == nil {
		o.metrics.ObserveOracleCacheHit("upstream")
		o.setMemory(v)
		o.persistSetting(ctx, v)
		return v, nil
	}

	if v, ok := o.staleLayer(); ok {
		o.metrics.ObserveOracleCacheHit("stale")
		return v, nil
	}

	return decimal.Decimal{}, ErrUnavailable
}

// InvalidateMemory clears layer 1, forcing the next Quote to re-populate it.
// Called by the scheduler's background price-refresh job.
func (o *Oracle) InvalidateMemory() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.memFetchedAt = time.Time{}
}

func (o *Oracle) memoryLayer() (decimal.Decimal, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.memFetchedAt.IsZero() {
		return decimal.Decimal{}, false
	}
	if time.Since(o.memFetchedAt) >= o.memoryCacheTTL {
		return decimal.Decimal{}, false
	}
	return o.memValue, true
}

func (o *Oracle) staleLayer() (decimal.Decimal, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.memFetchedAt.IsZero() {
		return decimal.Decimal{}, false
	}
	if time.Since(o.memFetchedAt) >= o.staleMaxAge {
		return decimal.Decimal{}, false
	}
	return o.memValue, true
}

func (o *Oracle) setMemory(v decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.memValue = v
	o.memFetchedAt = time.Now()
}

func (o *Oracle) persistentLayer(ctx context.Context) (decimal.Decimal, bool) {
	setting, err := o.store.GetSetting(ctx, settingKey)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if time.Since(setting.UpdatedAt) >= o.persistentMaxAge {
		return decimal.Decimal{}, false
	}
	v, err := decimal.NewFromString(setting.Value)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return v, true
}

func (o *Oracle) persistSetting(ctx context.Context, v decimal.Decimal) {
	if err := o.store.SetSetting(ctx, settingKey, v.String()); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("oracle.persist_setting_failed")
	}
}

// upstreamLayer tries each upstream in order, through its circuit breaker,
// returning on the first success. Quotes outside the EUR/SOL sanity band
// are treated as failures.
func (o *Oracle) upstreamLayer(ctx context.Context) (decimal.Decimal, error) {
	var lastErr error
	for _, u := range o.upstreams {
		callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		start := time.Now()
		result, err := o.breakers.Execute(circuitbreaker.ServicePriceOracle, func() (interface{}, error) {
			return u.Quote(callCtx)
		})
		cancel()
		if err != nil {
			lastErr = err
			o.metrics.ObserveOracleRefresh("failure", 0)
			logger.FromContext(ctx).Warn().Err(err).Str("upstream", u.Name()).Msg("oracle.upstream_failed")
			continue
		}

		v := result.(decimal.Decimal)
		if !o.withinSanityBand(v) {
			lastErr = fmt.Errorf("oracle: upstream %s quote %s outside sanity band", u.Name(), v.String())
			o.metrics.ObserveOracleRefresh("rejected", 0)
			continue
		}

		o.metrics.ObserveOracleRefresh("success", toFloat(v))
		_ = start
		return v, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("oracle: no upstreams configured")
	}
	return decimal.Decimal{}, lastErr
}

func (o *Oracle) withinSanityBand(v decimal.Decimal) bool {
	f := toFloat(v)
	return f >= o.sanityMinEURUSD && f <= o.sanityMaxEURUSD
}

func toFloat(v decimal.Decimal) float64 {
	f, _ := strconv.ParseFloat(v.String(), 64)
	return f
}
