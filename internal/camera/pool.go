package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrFrameUnavailable свободный слот не появился за acquire_timeout
	ErrFrameUnavailable = errors.New("camera frame unavailable")
	// ErrCaptureFailed источник не смог заполнить слот
	ErrCaptureFailed = errors.New("camera capture failed")
	// ErrPoolClosed пул закрыт
	ErrPoolClosed = errors.New("camera pool closed")
)

// PoolConfig параметры пула кадров
type PoolConfig struct {
	Slots          int
	SlotCapacity   int
	AcquireTimeout time.Duration
}

// Stats снимок счетчиков пула
type Stats struct {
	Slots           int    `json:"slots"`
	InUse           int64  `json:"in_use"`
	Acquired        uint64 `json:"acquired"`
	Released        uint64 `json:"released"`
	CaptureFailures uint64 `json:"capture_failures"`
	Timeouts        uint64 `json:"timeouts"`
	DoubleReleases  uint64 `json:"double_releases"`
}

// Pool фиксированный набор слотов под кадры.
// Кадр принадлежит вызывающему от Acquire до Release.
type Pool struct {
	capturer Capturer
	cfg      PoolConfig
	logger   *zap.Logger

	sem  *semaphore.Weighted
	mu   sync.Mutex
	free []*slot

	seq             atomic.Uint64
	inUse           atomic.Int64
	acquired        atomic.Uint64
	released        atomic.Uint64
	captureFailures atomic.Uint64
	timeouts        atomic.Uint64
	doubleReleases  atomic.Uint64
	closed          atomic.Bool

	now func() time.Time
}

// NewPool создает пул поверх источника захвата
func NewPool(capturer Capturer, cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	if capturer == nil {
		return nil, errors.New("capturer is required")
	}
	if cfg.Slots < 1 {
		return nil, fmt.Errorf("pool needs at least one slot, got %d", cfg.Slots)
	}
	if cfg.SlotCapacity < 1 {
		return nil, fmt.Errorf("slot capacity must be positive, got %d", cfg.SlotCapacity)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		capturer: capturer,
		cfg:      cfg,
		logger:   logger,
		sem:      semaphore.NewWeighted(int64(cfg.Slots)),
		free:     make([]*slot, 0, cfg.Slots),
		now:      time.Now,
	}
	for i := 0; i < cfg.Slots; i++ {
		p.free = append(p.free, &slot{index: i, buf: make([]byte, cfg.SlotCapacity)})
	}

	return p, nil
}

// Acquire ждет свободный слот, захватывает в него кадр и передает кадр вызывающему.
// При ошибке захвата слот возвращается в пул, кадр не выдается.
func (p *Pool) Acquire(ctx context.Context) (*Frame, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	waitCtx := ctx
	if p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.timeouts.Add(1)
		return nil, ErrFrameUnavailable
	}

	s := p.take()
	shot, err := p.capturer.Capture(ctx, s.buf)
	if err == nil && (shot.N <= 0 || shot.N > len(s.buf)) {
		err = fmt.Errorf("capturer reported %d bytes for a %d byte slot", shot.N, len(s.buf))
	}
	if err != nil {
		p.put(s)
		p.captureFailures.Add(1)
		p.logger.Debug("Capture into slot failed",
			zap.Int("slot", s.index),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}

	p.acquired.Add(1)
	return &Frame{
		Format:    shot.Format,
		Width:     shot.Width,
		Height:    shot.Height,
		Timestamp: p.now(),
		Seq:       p.seq.Add(1),
		pool:      p,
		slot:      s,
		n:         shot.N,
	}, nil
}

// With захватывает кадр, вызывает fn и возвращает кадр в пул на любом пути выхода
func (p *Pool) With(ctx context.Context, fn func(*Frame) error) error {
	frame, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer frame.Release()

	return fn(frame)
}

// Stats возвращает снимок счетчиков
func (p *Pool) Stats() Stats {
	return Stats{
		Slots:           p.cfg.Slots,
		InUse:           p.inUse.Load(),
		Acquired:        p.acquired.Load(),
		Released:        p.released.Load(),
		CaptureFailures: p.captureFailures.Load(),
		Timeouts:        p.timeouts.Load(),
		DoubleReleases:  p.doubleReleases.Load(),
	}
}

// Close закрывает пул и источник. Выданные кадры остаются валидными до Release.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.capturer.Close()
}

func (p *Pool) take() *slot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse.Add(1)
	return s
}

func (p *Pool) put(s *slot) {
	p.mu.Lock()
	p.free = append(p.free, s)
	p.mu.Unlock()

	p.inUse.Add(-1)
	p.sem.Release(1)
}
