// Package lifecycle brings a long-lived resource up in the background, exactly once per
// generation, and lets callers poll, wait for, or subscribe to its readiness.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/pkg/utils"
	"go.uber.org/zap"
)

// State is the load state of the managed resource.
type State int32

const (
	Unloaded State = iota
	Loading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// InitFunc builds the resource. It should return promptly once ctx is cancelled.
type InitFunc[T any] func(ctx context.Context) (T, error)

// ReleaseFunc frees a resource dropped by Reset.
type ReleaseFunc[T any] func(T)

type attempt[T any] struct {
	gen    uint64
	done   chan struct{}
	cancel context.CancelFunc
	handle T
	err    error
}

type subscriber[T any] struct {
	id      uint64
	onReady func(T)
	onError func(error)
}

// Manager owns one resource of type T. All methods are safe for concurrent use.
// A failed attempt is final until Reset; there is no automatic retry.
type Manager[T any] struct {
	init    InitFunc[T]
	release ReleaseFunc[T]
	logger  *zap.Logger

	state  atomic.Int32
	handle atomic.Pointer[T]

	mu      sync.Mutex
	gen     uint64
	current *attempt[T]
	lastErr error
	subs    []subscriber[T]
	nextSub uint64
}

// Option configures a Manager.
type Option[T any] func(*Manager[T])

// WithLogger sets the logger.
func WithLogger[T any](l *zap.Logger) Option[T] {
	return func(m *Manager[T]) { m.logger = utils.OrNop(l) }
}

// WithRelease sets the function that frees a handle dropped by Reset.
func WithRelease[T any](fn ReleaseFunc[T]) Option[T] {
	return func(m *Manager[T]) { m.release = fn }
}

// NewManager returns an unloaded manager that builds its resource with init.
func NewManager[T any](init InitFunc[T], opts ...Option[T]) *Manager[T] {
	m := &Manager[T]{init: init, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Manager[T]) State() State {
	return State(m.state.Load())
}

// Err returns the error of the last failed attempt, nil otherwise.
func (m *Manager[T]) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// GetSync returns the handle if the resource is Ready. It never blocks and never
// starts initialization.
func (m *Manager[T]) GetSync() (T, bool) {
	if m.State() == Ready {
		if h := m.handle.Load(); h != nil {
			return *h, true
		}
	}
	var zero T
	return zero, false
}

// Preload starts initialization in the background if the resource is Unloaded.
// In any other state it does nothing; a Failed manager needs Reset first. It never blocks.
func (m *Manager[T]) Preload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startLocked()
}

// startLocked begins a new attempt when Unloaded. Caller holds mu.
func (m *Manager[T]) startLocked() {
	if m.State() != Unloaded {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt[T]{gen: m.gen, done: make(chan struct{}), cancel: cancel}
	m.current = a
	m.lastErr = nil
	m.state.Store(int32(Loading))
	m.logger.Debug("initialization started", zap.Uint64("generation", a.gen))
	go m.run(ctx, a)
}

func (m *Manager[T]) run(ctx context.Context, a *attempt[T]) {
	h, err := m.safeInit(ctx)
	a.cancel()

	m.mu.Lock()
	if a.gen != m.gen || m.current != a {
		// Superseded by Reset; the result belongs to nobody.
		m.mu.Unlock()
		if err == nil && m.release != nil {
			m.release(h)
		}
		a.err = fmt.Errorf("%w: superseded by reset", models.ErrCancelled)
		close(a.done)
		return
	}

	if err != nil {
		a.err = fmt.Errorf("%w: %w", models.ErrInitializationFailed, err)
		m.lastErr = a.err
		m.state.Store(int32(Failed))
		m.logger.Warn("initialization failed", zap.Error(err))
	} else {
		a.handle = h
		m.handle.Store(&h)
		m.state.Store(int32(Ready))
		m.logger.Info("initialization complete", zap.Uint64("generation", a.gen))
	}
	subs := append([]subscriber[T](nil), m.subs...)
	m.mu.Unlock()

	close(a.done)
	for _, s := range subs {
		if err != nil {
			if s.onError != nil {
				s.onError(a.err)
			}
		} else if s.onReady != nil {
			s.onReady(h)
		}
	}
}

func (m *Manager[T]) safeInit(ctx context.Context) (h T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during initialization: %v", r)
		}
	}()
	return m.init(ctx)
}

// Wait blocks until the in-flight or completed attempt settles and returns its result.
// It does not start initialization; with nothing loading it returns models.ErrNotReady.
func (m *Manager[T]) Wait(ctx context.Context) (T, error) {
	m.mu.Lock()
	a := m.current
	state := m.State()
	m.mu.Unlock()

	var zero T
	if a == nil || state == Unloaded {
		return zero, models.ErrNotReady
	}
	select {
	case <-a.done:
		if a.err != nil {
			return zero, a.err
		}
		return a.handle, nil
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %v", models.ErrCancelled, ctx.Err())
	}
}

// Load starts initialization if needed and waits for it.
func (m *Manager[T]) Load(ctx context.Context) (T, error) {
	m.Preload()
	return m.Wait(ctx)
}

// OnReady registers cb to run once the resource becomes Ready. If it already is,
// cb runs synchronously before OnReady returns. The returned function unsubscribes.
func (m *Manager[T]) OnReady(cb func(T)) func() {
	return m.subscribe(subscriber[T]{onReady: cb})
}

// OnError registers cb to run when an attempt fails. If the last attempt already
// failed, cb runs synchronously. The returned function unsubscribes.
func (m *Manager[T]) OnError(cb func(error)) func() {
	return m.subscribe(subscriber[T]{onError: cb})
}

func (m *Manager[T]) subscribe(s subscriber[T]) func() {
	m.mu.Lock()
	m.nextSub++
	s.id = m.nextSub
	m.subs = append(m.subs, s)
	state := m.State()
	var h T
	if state == Ready {
		h = *m.handle.Load()
	}
	lastErr := m.lastErr
	m.mu.Unlock()

	if state == Ready && s.onReady != nil {
		s.onReady(h)
	}
	if state == Failed && s.onError != nil {
		s.onError(lastErr)
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.unsubscribe(s.id) })
	}
}

func (m *Manager[T]) unsubscribe(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s.id == id {
			m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
			return
		}
	}
}

// Reset cancels any in-flight attempt, drops the handle, and clears all subscriptions.
// The manager returns to Unloaded; a late result from the cancelled attempt is discarded.
func (m *Manager[T]) Reset() {
	m.mu.Lock()
	m.gen++
	a := m.current
	m.current = nil
	m.lastErr = nil
	m.subs = nil
	prev := m.handle.Swap(nil)
	m.state.Store(int32(Unloaded))
	m.mu.Unlock()

	if a != nil {
		a.cancel()
	}
	if prev != nil && m.release != nil {
		m.release(*prev)
	}
	m.logger.Debug("manager reset")
}
