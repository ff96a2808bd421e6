package export

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/metrics"
	"github.com/shubham-shewale/stock-pulse/pkg/models"
)

// Exporter decouples external sinks from the tick path. OnTick only enqueues;
// one goroutine per sink drains its queue, so a slow sink never holds up
// another one or the generator.
type Exporter struct {
	logger *zap.Logger
	sinks  []*sink
}

type sink struct {
	name  string
	pub   Publisher
	queue chan models.StockUpdate
}

func NewExporter(logger *zap.Logger) *Exporter {
	return &Exporter{logger: logger}
}

// Add registers a publisher with its own queue. Call before Run.
func (e *Exporter) Add(name string, pub Publisher, buffer int) {
	e.sinks = append(e.sinks, &sink{name: name, pub: pub, queue: make(chan models.StockUpdate, buffer)})
}

func (e *Exporter) Len() int { return len(e.sinks) }

func (e *Exporter) OnTick(u models.StockUpdate) {
	for _, s := range e.sinks {
		select {
		case s.queue <- u:
		default:
			// NON-BLOCKING: the latest price matters more than every price
			metrics.ExportDropped.Inc()
			e.logger.Warn("Dropping tick for slow sink", zap.String("sink", s.name), zap.String("symbol", u.Symbol))
		}
	}
}

// Run drains every sink until ctx is cancelled.
func (e *Exporter) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range e.sinks {
		wg.Add(1)
		go func(s *sink) {
			defer wg.Done()
			e.drain(ctx, s)
		}(s)
	}
	wg.Wait()
}

func (e *Exporter) drain(ctx context.Context, s *sink) {
	e.logger.Info("Exporter Started", zap.String("sink", s.name))
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-s.queue:
			if err := s.pub.PublishTick(ctx, u); err != nil {
				if ctx.Err() != nil {
					return
				}
				e.logger.Error("Export Error", zap.String("sink", s.name), zap.String("symbol", u.Symbol), zap.Error(err))
			}
		}
	}
}
