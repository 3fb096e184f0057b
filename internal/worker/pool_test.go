package worker

import (
	"bytes"
	"context"
	"math"
	"sync"
	"testing"

	"github.com/GriffinCanCode/greenscreen/internal/compositor"
	apperrors "github.com/GriffinCanCode/greenscreen/internal/errors"
)

func startPool(t *testing.T, n int) *Pool {
	t.Helper()
	p := NewPool(n, Options{Initial: compositor.DefaultSnapshot()})
	p.Start(context.Background())
	t.Cleanup(p.Stop)
	return p
}

func patternBackground(w, h int) []byte {
	pix := make([]byte, w*h*4)
	for i := range pix {
		pix[i] = byte(i * 31)
	}
	return pix
}

func patternFrame(w, h int) []byte {
	pix := make([]byte, w*h*4)
	for i := 0; i < len(pix); i += 4 {
		// alternate chroma and non-chroma pixels
		if (i/4)%3 == 0 {
			pix[i], pix[i+1], pix[i+2], pix[i+3] = 250, 10, 10, 255
		} else {
			pix[i], pix[i+1], pix[i+2], pix[i+3] = 0, byte(40+i%200), 0, 255
		}
	}
	return pix
}

func TestPoolMatchesSingleWorker(t *testing.T) {
	single := startPool(t, 1)
	multi := startPool(t, 4)

	const fw, fh, bw, bh = 37, 23, 20, 30
	for _, p := range []*Pool{single, multi} {
		do(t, p, SetBackgroundImage{Pixels: patternBackground(bw, bh), Width: bw, Height: bh})
		do(t, p, UpdateBackground{Patch: compositor.Patch{X: ptr(5), Y: ptr(-3), Tolerance: ptr(0.1)}})
	}

	fg := patternFrame(fw, fh)
	a := do(t, single, ApplyGreenscreenEffect{Pixels: append([]byte(nil), fg...), Width: fw, Height: fh})
	b := do(t, multi, ApplyGreenscreenEffect{Pixels: append([]byte(nil), fg...), Width: fw, Height: fh})

	if a.Err != nil || b.Err != nil {
		t.Fatalf("errors: %v, %v", a.Err, b.Err)
	}
	if !bytes.Equal(a.Frame.Pixels, b.Frame.Pixels) {
		t.Error("pooled composite differs from single worker composite")
	}
	if a.Stats != b.Stats {
		t.Errorf("stats %+v != %+v", a.Stats, b.Stats)
	}
	if a.Stats.Replaced == 0 {
		t.Error("expected some replaced pixels")
	}
}

func TestPoolBroadcastKeepsReplicasConsistent(t *testing.T) {
	p := startPool(t, 3)

	do(t, p, UpdateBackground{Patch: compositor.Patch{X: ptr(7), LightestChroma: ptr("#20ff20")}})
	for _, w := range p.workers {
		res := do(t, w, snapshotQuery{})
		if res.Snapshot.OffsetX != 7 || res.Snapshot.Range.Lightest.R != 0x20 {
			t.Errorf("worker %d snapshot = %+v", w.id, res.Snapshot)
		}
	}

	do(t, p, SetBackgroundImage{Pixels: solid(2, 2, 1, 2, 3, 4), Width: 2, Height: 2})
	do(t, p, RemoveBackgroundImage{})
	for _, w := range p.workers {
		if res := do(t, w, snapshotQuery{}); res.Snapshot.Background != nil {
			t.Errorf("worker %d still has a background", w.id)
		}
	}
}

// cancelOnUse cancels itself the first time a value is read from it, which a
// worker does as soon as it starts handling a command.
type cancelOnUse struct {
	context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newCancelOnUse() *cancelOnUse {
	ctx, cancel := context.WithCancel(context.Background())
	return &cancelOnUse{Context: ctx, cancel: cancel}
}

func (c *cancelOnUse) Value(key any) any {
	c.once.Do(c.cancel)
	return c.Context.Value(key)
}

func TestPoolBroadcastSurvivesCancelMidway(t *testing.T) {
	p := startPool(t, 3)

	for i := 1; i <= 50; i++ {
		ctx := newCancelOnUse()
		res, err := p.Do(ctx, UpdateBackground{Patch: compositor.Patch{X: ptr(i)}})
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		if res.Snapshot.OffsetX != i {
			t.Fatalf("update %d: result x = %d", i, res.Snapshot.OffsetX)
		}
		if ctx.Err() == nil {
			t.Fatal("context should have been cancelled while the update ran")
		}
		for _, w := range p.workers {
			if got := do(t, w, snapshotQuery{}).Snapshot.OffsetX; got != i {
				t.Fatalf("update %d: worker %d x = %d", i, w.id, got)
			}
		}
	}
}

func TestPoolBroadcastCancelledBeforeDelivery(t *testing.T) {
	p := startPool(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Do(ctx, UpdateBackground{Patch: compositor.Patch{X: ptr(9)}})
	if !apperrors.IsCode(err, apperrors.CodeCancelled) {
		t.Fatalf("error = %v, want CANCELLED", err)
	}
	for _, w := range p.workers {
		if got := do(t, w, snapshotQuery{}).Snapshot.OffsetX; got != 0 {
			t.Errorf("worker %d x = %d, want 0", w.id, got)
		}
	}
}

func TestPoolRejectsOversizedDimensions(t *testing.T) {
	p := startPool(t, 2)

	tests := []struct {
		name string
		cmd  Command
	}{
		{"background above frame limit", SetBackgroundImage{Width: 1 << 16, Height: 1 << 16}},
		{"background product overflows", SetBackgroundImage{Width: math.MaxInt/4 + 1, Height: 4}},
		{"frame product overflows", ApplyGreenscreenEffect{Width: math.MaxInt/4 + 1, Height: 4}},
		{"frame above limit", ApplyGreenscreenEffect{Width: 1 << 16, Height: 1 << 16}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := do(t, p, tt.cmd)
			if !apperrors.IsCode(res.Err, apperrors.CodeInvalidBufferSize) {
				t.Errorf("Err = %v, want INVALID_BUFFER_SIZE", res.Err)
			}
		})
	}
	if p.HasBackground() {
		t.Error("no background should be loaded")
	}
}

func TestPoolStats(t *testing.T) {
	p := startPool(t, 2)

	do(t, p, SetBackgroundImage{Pixels: solid(2, 2, 0, 0, 0, 255), Width: 2, Height: 2})
	do(t, p, ApplyGreenscreenEffect{Pixels: solid(2, 2, 0, 100, 0, 255), Width: 2, Height: 2})
	do(t, p, Unknown{Name: "nope"})
	do(t, p, UpdateBackground{UnknownKeys: []string{"a", "b"}})

	s := p.Stats()
	if s.Commands != 4 || s.Frames != 1 || s.PixelsReplaced != 4 || s.Rejected != 1 || s.Warnings != 2 {
		t.Errorf("stats = %+v", s)
	}
	if s.LastFrameWidth != 2 || s.LastFrameHeight != 2 {
		t.Errorf("last frame = %dx%d", s.LastFrameWidth, s.LastFrameHeight)
	}
	if !p.HasBackground() {
		t.Error("HasBackground should be true")
	}

	old := p.ResetStats()
	if old.Commands != 4 {
		t.Errorf("ResetStats returned %+v", old)
	}
	if s := p.Stats(); s.Commands != 0 || !s.BackgroundLoaded {
		t.Errorf("after reset = %+v", s)
	}
}

func TestPoolRejections(t *testing.T) {
	p := startPool(t, 2)

	res := do(t, p, SetBackgroundImage{Pixels: make([]byte, 5), Width: 2, Height: 2})
	if !apperrors.IsCode(res.Err, apperrors.CodeInvalidBufferSize) {
		t.Errorf("bad background Err = %v", res.Err)
	}
	res = do(t, p, ApplyGreenscreenEffect{Pixels: make([]byte, 5), Width: 2, Height: 2})
	if !apperrors.IsCode(res.Err, apperrors.CodeInvalidBufferSize) {
		t.Errorf("bad frame Err = %v", res.Err)
	}
	res = do(t, p, Unknown{Name: "x"})
	if !apperrors.IsCode(res.Err, apperrors.CodeUnknownCommand) {
		t.Errorf("unknown Err = %v", res.Err)
	}
}

func TestPoolConcurrentCallers(t *testing.T) {
	p := startPool(t, 3)
	do(t, p, SetBackgroundImage{Pixels: solid(8, 8, 9, 9, 9, 255), Width: 8, Height: 8})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = p.Do(context.Background(), UpdateBackground{Patch: compositor.Patch{X: ptr(i % 3)}})
				return
			}
			res, err := p.Do(context.Background(), ApplyGreenscreenEffect{Pixels: solid(8, 8, 0, 99, 0, 255), Width: 8, Height: 8})
			if err != nil || res.Err != nil {
				t.Errorf("composite failed: %v %v", err, res.Err)
			}
		}(i)
	}
	wg.Wait()
}

func TestSplitRows(t *testing.T) {
	tests := []struct {
		height, n, bands int
	}{
		{10, 3, 3},
		{2, 4, 2},
		{0, 4, 1},
		{7, 1, 1},
	}
	for _, tt := range tests {
		got := splitRows(tt.height, tt.n)
		if len(got) != tt.bands {
			t.Errorf("splitRows(%d, %d) = %v, want %d bands", tt.height, tt.n, got, tt.bands)
			continue
		}
		if got[0].Min != 0 || got[len(got)-1].Max != tt.height {
			t.Errorf("splitRows(%d, %d) = %v does not cover all rows", tt.height, tt.n, got)
		}
		for i := 1; i < len(got); i++ {
			if got[i].Min != got[i-1].Max {
				t.Errorf("splitRows(%d, %d) = %v has a gap", tt.height, tt.n, got)
			}
		}
	}
}
