package worker

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/greenscreen/internal/compositor"
	apperrors "github.com/GriffinCanCode/greenscreen/internal/errors"
	"github.com/GriffinCanCode/greenscreen/internal/trace"
)

// Options configures a worker.
type Options struct {
	QueueSize      int
	MaxFramePixels int
	Initial        compositor.Snapshot
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.MaxFramePixels <= 0 {
		o.MaxFramePixels = DefaultMaxFramePixels
	}
	return o
}

type request struct {
	ctx   context.Context
	cmd   Command
	reply chan Result
}

// Worker owns one ConfigStore and serializes every command sent to it on a
// single goroutine, so the store needs no locking.
type Worker struct {
	id       int
	opts     Options
	store    *compositor.Store
	requests chan request
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a worker. Call Run to start serving commands.
func New(id int, opts Options) *Worker {
	opts = opts.withDefaults()
	return &Worker{
		id:       id,
		opts:     opts,
		store:    compositor.NewStore(opts.Initial),
		requests: make(chan request, opts.QueueSize),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run processes commands in arrival order until ctx is cancelled or Stop is called.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case req := <-w.requests:
			req.reply <- w.handle(req.ctx, req.cmd)
		}
	}
}

// Stop stops the command loop and waits for it to exit. The worker must be running.
func (w *Worker) Stop() {
	w.halt()
	<-w.done
}

func (w *Worker) halt() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Do sends cmd to the worker and waits for its result. The returned error is
// non-nil only when the command never ran: the worker stopped or ctx ended.
func (w *Worker) Do(ctx context.Context, cmd Command) (Result, error) {
	req := request{ctx: ctx, cmd: cmd, reply: make(chan Result, 1)}

	select {
	case w.requests <- req:
	case <-ctx.Done():
		return Result{}, apperrors.Wrap(ctx.Err(), apperrors.CodeCancelled, "command not delivered")
	case <-w.done:
		return Result{}, apperrors.New(apperrors.CodeUnavailable, "worker stopped")
	}

	select {
	case res := <-req.reply:
		return res, nil
	case <-ctx.Done():
		return Result{}, apperrors.Wrap(ctx.Err(), apperrors.CodeCancelled, "command abandoned")
	case <-w.done:
		return Result{}, apperrors.New(apperrors.CodeUnavailable, "worker stopped")
	}
}

func (w *Worker) handle(ctx context.Context, cmd Command) Result {
	ctx, span := trace.StartSpan(ctx, "worker."+cmd.Action())
	defer span.End()
	span.SetAttr("worker", w.id)
	log := trace.Logger(ctx)

	res := Result{Action: cmd.Action()}

	switch c := cmd.(type) {
	case RemoveBackgroundImage:
		w.store.ClearBackground()
		log.Debug("background removed", "worker", w.id)

	case SetBackgroundImage:
		if err := w.checkSize("background", c.Width, c.Height); err != nil {
			res.Err = err
			break
		}
		bg, err := compositor.NewBackground(c.Pixels, c.Width, c.Height)
		if err != nil {
			res.Err = err
			break
		}
		w.install(ctx, bg)

	case installBackground:
		w.install(ctx, c.bg)

	case UpdateBackground:
		for _, key := range c.UnknownKeys {
			warn := apperrors.Newf(apperrors.CodeUnknownConfigKey, "unexpected background setting key: %s", key).
				WithMetadata("key", key)
			log.Warn("unexpected background setting key", "key", key, "worker", w.id)
			res.Warnings = append(res.Warnings, warn)
		}
		if err := w.store.Update(c.Patch); err != nil {
			res.Err = err
		}

	case ApplyGreenscreenEffect:
		if err := w.checkSize("frame", c.Width, c.Height); err != nil {
			res.Err = err
			break
		}
		start := time.Now()
		out, stats, err := compositor.Composite(c.Pixels, c.Width, c.Height, w.store.Snapshot())
		if err != nil {
			res.Err = err
			break
		}
		res.Frame = &Frame{Pixels: out, Width: c.Width, Height: c.Height}
		res.Stats = stats
		span.SetAttr("replaced", stats.Replaced)
		log.Debug("frame composited", "width", c.Width, "height", c.Height,
			"replaced", stats.Replaced, "elapsed", time.Since(start))

	case applyBand:
		res.Stats = compositor.ApplyRows(c.frame, c.width, c.height, w.store.Snapshot(), c.rows)

	case snapshotQuery:

	default:
		res.Err = apperrors.Newf(apperrors.CodeUnknownCommand, "unknown action: %s", cmd.Action()).
			WithMetadata("action", cmd.Action())
	}

	if res.Err != nil {
		span.SetAttr("error", res.Err.Error())
		log.Warn("command rejected", "action", cmd.Action(), "worker", w.id, "error", res.Err)
	}
	res.Snapshot = w.store.Snapshot()
	return res
}

func (w *Worker) install(ctx context.Context, bg *compositor.Background) {
	if prev := w.store.Snapshot().Background; prev.SameAs(bg) {
		trace.Logger(ctx).Debug("background replaced with identical image", "worker", w.id, "hash", bg.Hash)
	}
	w.store.SetBackground(bg)
}

// checkSize rejects images with more than MaxFramePixels pixels before any
// buffer arithmetic is done on their dimensions.
func (w *Worker) checkSize(kind string, width, height int) error {
	if width > 0 && height > 0 && width > w.opts.MaxFramePixels/height {
		return apperrors.Newf(apperrors.CodeInvalidBufferSize,
			"%s %dx%d exceeds %d pixels", kind, width, height, w.opts.MaxFramePixels)
	}
	return nil
}
