// Package persister writes the user registry to a store in the background.
//
// Mutations only flip a one-slot dirty flag. The first dirty signal arms a
// timer; signals arriving before it fires are absorbed, so a burst becomes a
// single write of the latest full state. A failed write re-arms the timer.
package persister

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/metrics"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/stock-pulse/pkg/models"
)

// SnapshotFunc returns the complete state to persist.
type SnapshotFunc func() []models.UserRecord

type Persister struct {
	store    repository.UserStore
	snapshot SnapshotFunc
	delay    time.Duration
	logger   *zap.Logger
	dirty    chan struct{}
}

func New(store repository.UserStore, snapshot SnapshotFunc, delay time.Duration, logger *zap.Logger) *Persister {
	return &Persister{
		store:    store,
		snapshot: snapshot,
		delay:    delay,
		logger:   logger,
		dirty:    make(chan struct{}, 1),
	}
}

// MarkDirty never blocks.
func (p *Persister) MarkDirty() {
	select {
	case p.dirty <- struct{}{}:
	default:
	}
}

// Run owns the debounce timer until ctx is cancelled, then performs a final
// flush if anything is still pending.
func (p *Persister) Run(ctx context.Context) {
	timer := time.NewTimer(p.delay)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-ctx.Done():
			pending := armed
			select {
			case <-p.dirty:
				pending = true
			default:
			}
			if pending {
				// ctx is already done; give the last write its own deadline
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				p.Flush(flushCtx)
				cancel()
			}
			return

		case <-p.dirty:
			if !armed {
				timer.Reset(p.delay)
				armed = true
			}

		case <-timer.C:
			armed = false
			if err := p.Flush(ctx); err != nil {
				timer.Reset(p.delay)
				armed = true
			}
		}
	}
}

// Flush writes the current snapshot immediately.
func (p *Persister) Flush(ctx context.Context) error {
	records := p.snapshot()
	if err := p.store.SaveUsers(ctx, records); err != nil {
		metrics.PersistWrites.WithLabelValues("error").Inc()
		p.logger.Error("Error saving user data", zap.Error(err))
		return err
	}
	metrics.PersistWrites.WithLabelValues("ok").Inc()
	p.logger.Info("User data saved", zap.Int("users", len(records)))
	return nil
}
