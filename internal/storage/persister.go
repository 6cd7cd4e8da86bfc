package storage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Persister saves snapshots produced by source. Schedule coalesces bursts of mutations
// into one save after the debounce delay; Flush saves immediately.
type Persister struct {
	backing Backing
	source  func() *Snapshot
	delay   time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	timer  *time.Timer
	dirty  bool
	closed bool

	saveMu sync.Mutex
}

// PersisterOption configures a Persister.
type PersisterOption func(*Persister)

// WithPersisterLogger sets the logger for background save failures.
func WithPersisterLogger(l *zap.Logger) PersisterOption {
	return func(p *Persister) { p.logger = l }
}

// NewPersister returns a persister writing source() to backing. A non-positive delay
// makes Schedule save synchronously.
func NewPersister(backing Backing, source func() *Snapshot, delay time.Duration, opts ...PersisterOption) *Persister {
	p := &Persister{
		backing: backing,
		source:  source,
		delay:   delay,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Schedule marks the store dirty and (re)arms the debounce timer.
func (p *Persister) Schedule() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.dirty = true
	if p.delay <= 0 {
		p.mu.Unlock()
		p.fire()
		return
	}
	if p.timer == nil {
		p.timer = time.AfterFunc(p.delay, p.fire)
	} else {
		p.timer.Reset(p.delay)
	}
	p.mu.Unlock()
}

func (p *Persister) fire() {
	p.mu.Lock()
	p.timer = nil
	dirty := p.dirty
	p.mu.Unlock()
	if !dirty {
		return
	}
	if err := p.Flush(context.Background()); err != nil {
		p.logger.Warn("background persist failed", zap.Error(err))
	}
}

// Flush cancels any pending timer and saves the current snapshot now.
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.dirty = false
	p.mu.Unlock()

	p.saveMu.Lock()
	defer p.saveMu.Unlock()
	start := time.Now()
	snap := p.source()
	err := snap.Validate()
	if err == nil {
		err = p.backing.Save(ctx, snap)
	}
	if err != nil {
		p.mu.Lock()
		p.dirty = true
		p.mu.Unlock()
		return err
	}
	p.logger.Debug("snapshot persisted",
		zap.Int("documents", len(snap.Documents)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Pending reports whether changes are waiting to be saved.
func (p *Persister) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty
}

// Close saves pending changes and stops accepting new schedules.
func (p *Persister) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	dirty := p.dirty
	p.mu.Unlock()
	if !dirty {
		p.mu.Lock()
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
		p.mu.Unlock()
		return nil
	}
	return p.Flush(ctx)
}
