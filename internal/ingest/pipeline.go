// Package ingest batches inbound group message events and applies them to
// the per-member activity aggregates and hourly/daily rollups.
package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/grouptrack/internal/bus"
	"github.com/matheus3301/grouptrack/internal/store"
)

// Event is one inbound group message waiting to be flushed. Ephemeral:
// its effect lands in member_activity and the stat rollups.
type Event struct {
	MessageID   string
	TenantID    string
	GroupJID    string
	SenderJID   string
	SenderName  string
	SenderPhone string
	MessageType string
	IsAdmin     bool
	Timestamp   time.Time
}

// Pipeline is the single owner of the pending buffer and its flush timer.
// Flushes happen when the buffer reaches the size threshold or when the
// timer since the first unflushed event elapses, whichever comes first.
// Threshold flushes cancel the timer so a batch is never flushed twice.
type Pipeline struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	threshold int
	interval  time.Duration

	mu     sync.Mutex
	buf    []Event
	timer  *time.Timer
	cancel context.CancelFunc
}

// New creates a pipeline flushing at threshold events or after interval.
func New(db *store.DB, b *bus.Bus, logger *zap.Logger, threshold int, interval time.Duration) *Pipeline {
	if threshold < 1 {
		threshold = 10
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Pipeline{
		db:        db,
		bus:       b,
		logger:    logger,
		threshold: threshold,
		interval:  interval,
	}
}

// Start subscribes to live message events on the bus.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	ch, unsub := p.bus.Subscribe("message.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if e, ok := evt.Payload.(Event); ok {
					p.Enqueue(e)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop unsubscribes, cancels any pending timer, and flushes the remainder.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Lock()
	p.stopTimerLocked()
	batch := p.takeLocked()
	p.mu.Unlock()
	p.flush(batch)
}

// Enqueue adds one event to the pending batch.
func (p *Pipeline) Enqueue(evt Event) {
	p.mu.Lock()
	p.buf = append(p.buf, evt)

	if len(p.buf) >= p.threshold {
		// Threshold flush: cancel the timer first so it cannot race a
		// second flush of the same batch.
		p.stopTimerLocked()
		batch := p.takeLocked()
		p.mu.Unlock()
		p.flush(batch)
		return
	}

	if p.timer == nil {
		p.timer = time.AfterFunc(p.interval, p.flushOnTimer)
	}
	p.mu.Unlock()
}

// Pending returns the number of queued, unflushed events.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

func (p *Pipeline) flushOnTimer() {
	p.mu.Lock()
	p.timer = nil
	batch := p.takeLocked()
	p.mu.Unlock()
	p.flush(batch)
}

func (p *Pipeline) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Pipeline) takeLocked() []Event {
	batch := p.buf
	p.buf = nil
	return batch
}

func (p *Pipeline) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	msgs := make([]store.GroupMessage, len(batch))
	for i, e := range batch {
		msgs[i] = store.GroupMessage{
			TenantID:    e.TenantID,
			MsgID:       e.MessageID,
			GroupJID:    e.GroupJID,
			SenderJID:   e.SenderJID,
			SenderName:  e.SenderName,
			SenderPhone: e.SenderPhone,
			MessageType: e.MessageType,
			IsAdmin:     e.IsAdmin,
			Timestamp:   e.Timestamp.UnixMilli(),
		}
	}
	if err := p.db.ApplyMessageBatch(msgs); err != nil {
		if p.logger != nil {
			p.logger.Error("failed to apply message batch", zap.Error(err), zap.Int("count", len(msgs)))
		}
		return
	}
	if p.logger != nil {
		p.logger.Info("message batch applied", zap.Int("count", len(msgs)))
	}
}
