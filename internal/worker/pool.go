package worker

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/greenscreen/internal/compositor"
	apperrors "github.com/GriffinCanCode/greenscreen/internal/errors"
	"github.com/GriffinCanCode/greenscreen/internal/syncx"
)

// Stats summarises the work a pool has done.
type Stats struct {
	Commands         int64
	Frames           int64
	PixelsReplaced   int64
	Rejected         int64
	Warnings         int64
	LastComposite    time.Duration
	LastFrameWidth   int
	LastFrameHeight  int
	BackgroundLoaded bool
}

// Pool fronts one or more workers. Each worker holds its own ConfigStore
// replica; configuration commands are broadcast to every replica and a frame
// is split into row bands, one per worker. Commands are serialized in arrival
// order across the whole pool.
type Pool struct {
	workers []*Worker
	opts    Options
	mu      sync.Mutex
	stats   *syncx.RWGuard[Stats]
	wg      sync.WaitGroup
}

// NewPool creates a pool of n workers (at least one).
func NewPool(n int, opts Options) *Pool {
	if n < 1 {
		n = 1
	}
	opts = opts.withDefaults()
	p := &Pool{
		opts:  opts,
		stats: syncx.NewGuard(Stats{}),
	}
	for i := 0; i < n; i++ {
		p.workers = append(p.workers, New(i, opts))
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start launches every worker goroutine.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Stop stops every worker and waits for them to exit.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.halt()
	}
	p.wg.Wait()
}

// Stats returns a copy of the pool statistics.
func (p *Pool) Stats() Stats {
	return p.stats.Get()
}

// HasBackground reports whether the last accepted command left a background loaded.
func (p *Pool) HasBackground() bool {
	return syncx.Read(p.stats, func(s Stats) bool { return s.BackgroundLoaded })
}

// ResetStats zeroes the statistics and returns the previous values.
func (p *Pool) ResetStats() Stats {
	var old Stats
	p.stats.Write(func(s *Stats) {
		old = *s
		*s = Stats{BackgroundLoaded: s.BackgroundLoaded}
	})
	return old
}

// Snapshot returns the current configuration of the first replica.
func (p *Pool) Snapshot(ctx context.Context) (compositor.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, err := p.workers[0].Do(ctx, snapshotQuery{})
	if err != nil {
		return compositor.Snapshot{}, err
	}
	return res.Snapshot, nil
}

// Do runs cmd and returns its result. A non-nil error means the command did
// not run to completion on every replica; rejected commands come back in
// Result.Err instead.
func (p *Pool) Do(ctx context.Context, cmd Command) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	var (
		res Result
		err error
	)
	switch c := cmd.(type) {
	case ApplyGreenscreenEffect:
		if len(p.workers) == 1 {
			res, err = p.workers[0].Do(ctx, c)
		} else {
			res, err = p.composite(ctx, c)
		}
	case SetBackgroundImage:
		if sizeErr := p.workers[0].checkSize("background", c.Width, c.Height); sizeErr != nil {
			res = Result{Action: c.Action(), Err: sizeErr}
			break
		}
		bg, bgErr := compositor.NewBackground(c.Pixels, c.Width, c.Height)
		if bgErr != nil {
			res = Result{Action: c.Action(), Err: bgErr}
			break
		}
		res, err = p.broadcast(ctx, installBackground{bg: bg})
	case RemoveBackgroundImage, UpdateBackground:
		res, err = p.broadcast(ctx, c)
	default:
		res, err = p.workers[0].Do(ctx, c)
	}
	if err != nil {
		return res, err
	}

	p.record(res, time.Since(start))
	return res, nil
}

// broadcast sends cmd to every replica in order and returns the first result.
// Cancellation is only honoured before the first replica sees cmd; after that
// every replica must apply it or the replicas would disagree.
func (p *Pool) broadcast(ctx context.Context, cmd Command) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, apperrors.Wrap(err, apperrors.CodeCancelled, "command not delivered")
	}
	ctx = context.WithoutCancel(ctx)

	var first Result
	for i, w := range p.workers {
		res, err := w.Do(ctx, cmd)
		if err != nil {
			return Result{}, err
		}
		if i == 0 {
			first = res
		}
	}
	return first, nil
}

// composite copies the frame once and lets every worker fill a disjoint band of rows.
func (p *Pool) composite(ctx context.Context, c ApplyGreenscreenEffect) (Result, error) {
	res := Result{Action: c.Action()}
	if err := compositor.CheckFrame(c.Pixels, c.Width, c.Height); err != nil {
		res.Err = err
		return res, nil
	}
	if err := p.workers[0].checkSize("frame", c.Width, c.Height); err != nil {
		res.Err = err
		return res, nil
	}

	out := make([]byte, len(c.Pixels))
	copy(out, c.Pixels)

	bands := splitRows(c.Height, len(p.workers))
	results := make([]Result, len(bands))
	errs := make([]error, len(bands))

	var wg sync.WaitGroup
	for i, rows := range bands {
		wg.Add(1)
		go func(i int, rows compositor.Rows) {
			defer wg.Done()
			results[i], errs[i] = p.workers[i].Do(ctx, applyBand{frame: out, width: c.Width, height: c.Height, rows: rows})
		}(i, rows)
	}
	wg.Wait()

	for i := range bands {
		if errs[i] != nil {
			return Result{}, errs[i]
		}
		res.Stats.Add(results[i].Stats)
	}
	res.Frame = &Frame{Pixels: out, Width: c.Width, Height: c.Height}
	res.Snapshot = results[0].Snapshot
	return res, nil
}

func (p *Pool) record(res Result, elapsed time.Duration) {
	p.stats.Write(func(s *Stats) {
		s.Commands++
		s.Warnings += int64(len(res.Warnings))
		if res.Err != nil {
			s.Rejected++
			return
		}
		s.BackgroundLoaded = res.Snapshot.Background != nil
		if res.Frame != nil {
			s.Frames++
			s.PixelsReplaced += int64(res.Stats.Replaced)
			s.LastComposite = elapsed
			s.LastFrameWidth = res.Frame.Width
			s.LastFrameHeight = res.Frame.Height
		}
	})
}

// splitRows divides height rows into at most n contiguous bands.
func splitRows(height, n int) []compositor.Rows {
	if height <= 0 {
		return []compositor.Rows{{Min: 0, Max: 0}}
	}
	n = min(n, height)
	bands := make([]compositor.Rows, 0, n)
	for i := 0; i < n; i++ {
		bands = append(bands, compositor.Rows{Min: i * height / n, Max: (i + 1) * height / n})
	}
	return bands
}
