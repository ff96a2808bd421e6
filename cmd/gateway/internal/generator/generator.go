package generator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/metrics"
	"github.com/shubham-shewale/stock-pulse/pkg/models"
)

// Params controls the random walk.
type Params struct {
	Interval     time.Duration
	FloorPrice   float64
	MaxDelta     float64 // fraction, 0.05 means +/-5% per tick
	HistorySize  int
	BasePriceMin float64
	BasePriceMax float64
}

// PriceGenerator owns the canonical price state: the current price of every
// ticker plus a bounded trailing history.
type PriceGenerator struct {
	logger  *zap.Logger
	tickers []string
	params  Params
	rand    Rand
	clock   Clock

	mu          sync.RWMutex
	prices      map[string]float64
	history     map[string][]Sample
	seqCounters map[string]int64

	handlers []TickHandler
}

func NewPriceGenerator(
	logger *zap.Logger,
	tickers []string,
	params Params,
	rnd Rand,
	clock Clock,
) *PriceGenerator {
	pg := &PriceGenerator{
		logger:      logger,
		tickers:     append([]string(nil), tickers...),
		params:      params,
		rand:        rnd,
		clock:       clock,
		prices:      make(map[string]float64, len(tickers)),
		history:     make(map[string][]Sample, len(tickers)),
		seqCounters: make(map[string]int64, len(tickers)),
	}

	now := clock.Now()
	span := params.BasePriceMax - params.BasePriceMin
	for _, t := range pg.tickers {
		price := params.BasePriceMin + rnd.Float64()*span
		pg.prices[t] = price
		pg.history[t] = []Sample{{Price: price, Timestamp: now}}
	}
	return pg
}

// AddHandler registers a consumer of ticks. Call before Run.
func (pg *PriceGenerator) AddHandler(h TickHandler) {
	pg.handlers = append(pg.handlers, h)
}

func (pg *PriceGenerator) Run(ctx context.Context) {
	pg.logger.Info("Generator Started",
		zap.Strings("tickers", pg.tickers),
		zap.Duration("interval", pg.params.Interval))

	ticker := time.NewTicker(pg.params.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			pg.logger.Info("Generator Stopped")
			return
		case <-ticker.C:
			pg.Tick()
		}
	}
}

// Tick advances every ticker by one step and hands the results to the
// registered handlers. Handlers run on the caller's goroutine, so per-ticker
// ordering is the order of Tick calls.
func (pg *PriceGenerator) Tick() {
	updates := make([]models.StockUpdate, 0, len(pg.tickers))
	now := pg.clock.Now()

	pg.mu.Lock()
	for _, symbol := range pg.tickers {
		price := pg.next(pg.prices[symbol])
		pg.prices[symbol] = price
		pg.appendHistory(symbol, Sample{Price: price, Timestamp: now})
		pg.seqCounters[symbol]++

		updates = append(updates, models.StockUpdate{
			Symbol:    symbol,
			Price:     price,
			Timestamp: now.UnixMicro(),
			SeqID:     pg.seqCounters[symbol],
		})
	}
	pg.mu.Unlock()

	metrics.Ticks.Inc()

	for _, u := range updates {
		pg.logger.Debug("Tick", zap.String("symbol", u.Symbol), zap.Float64("price", u.Price))
		for _, h := range pg.handlers {
			h.OnTick(u)
		}
	}
}

// next applies max(floor, p + p*U(-maxDelta, +maxDelta)).
func (pg *PriceGenerator) next(current float64) float64 {
	fluctuation := (pg.rand.Float64()*2 - 1) * pg.params.MaxDelta
	price := current + current*fluctuation
	if price < pg.params.FloorPrice {
		return pg.params.FloorPrice
	}
	return price
}

// appendHistory must be called with mu held.
func (pg *PriceGenerator) appendHistory(symbol string, s Sample) {
	h := append(pg.history[symbol], s)
	if over := len(h) - pg.params.HistorySize; over > 0 {
		// copy down so the backing array does not grow without bound
		n := copy(h, h[over:])
		h = h[:n]
	}
	pg.history[symbol] = h
}

// Price returns the current price of a ticker.
func (pg *PriceGenerator) Price(symbol string) (float64, bool) {
	pg.mu.RLock()
	defer pg.mu.RUnlock()
	p, ok := pg.prices[symbol]
	return p, ok
}

// Prices returns a copy of every current price.
func (pg *PriceGenerator) Prices() map[string]float64 {
	pg.mu.RLock()
	defer pg.mu.RUnlock()
	out := make(map[string]float64, len(pg.prices))
	for k, v := range pg.prices {
		out[k] = v
	}
	return out
}

// History returns a copy of a ticker's trailing window, oldest first.
func (pg *PriceGenerator) History(symbol string) ([]Sample, bool) {
	pg.mu.RLock()
	defer pg.mu.RUnlock()
	h, ok := pg.history[symbol]
	if !ok {
		return nil, false
	}
	return append([]Sample(nil), h...), true
}
