package tiling

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiledpredict/internal/models"
)

var identity = BackendFunc(func(_ context.Context, tile *models.Image) (*models.Image, error) {
	return tile, nil
})

// exhaustAbove reports ErrResourceExhausted for tiles with more than limit samples.
func exhaustAbove(limit int) BackendFunc {
	return func(_ context.Context, tile *models.Image) (*models.Image, error) {
		if tile.Len() > limit {
			return nil, ErrResourceExhausted
		}
		return tile, nil
	}
}

type recordingProgress struct {
	statuses []string
	steps    atomic.Int64
}

func (p *recordingProgress) Status(msg string) { p.statuses = append(p.statuses, msg) }
func (p *recordingProgress) Step(int, int)     { p.steps.Add(1) }

func TestIdentityRoundTrip(t *testing.T) {
	img := rampImage(t, []int{30, 80, 2, 5}, "XYCZ")
	for _, tiles := range []int{1, 2, 3, 8, 20} {
		for _, overlap := range []int{0, 1, 8, 32} {
			c := NewController(identity, Params{Tiles: tiles, BlockMultiple: 8, Overlap: overlap, BatchSize: 1}, 3, nil)
			out, err := c.Attempt(context.Background(), img)
			require.NoError(t, err, "tiles %d overlap %d", tiles, overlap)
			assert.Equal(t, Finished, c.State())
			assert.True(t, img.SameShape(out))
			assert.Equal(t, img.Data, out.Data, "tiles %d overlap %d", tiles, overlap)
		}
	}
}

func TestRoundTripWithBatchAxis(t *testing.T) {
	img := rampImage(t, []int{7, 12, 10}, "TYX")
	c := NewController(identity, Params{Tiles: 4, BlockMultiple: 4, Overlap: 3, BatchSize: 3}, 2, nil)
	out, err := c.Attempt(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 2}, c.Plan().Counts)
	assert.Equal(t, img.Data, out.Data)
}

func TestOutOfOrderCompletion(t *testing.T) {
	img := rampImage(t, []int{40, 48}, "YX")
	rng := rand.New(rand.NewSource(1))
	delays := make([]time.Duration, 64)
	for i := range delays {
		delays[i] = time.Duration(rng.Intn(3)) * time.Millisecond
	}
	var calls atomic.Int64
	slow := BackendFunc(func(_ context.Context, tile *models.Image) (*models.Image, error) {
		n := calls.Add(1)
		time.Sleep(delays[int(n)%len(delays)])
		return tile.Clone(), nil
	})

	progress := &recordingProgress{}
	c := NewController(slow, Params{Tiles: 12, BlockMultiple: 4, Overlap: 4}, 8, progress)
	out, err := c.Attempt(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, img.Data, out.Data)
	assert.Equal(t, int64(c.Plan().NumTiles()), progress.steps.Load())
	assert.Len(t, progress.statuses, 1)
}

func TestRetrySequence(t *testing.T) {
	img := rampImage(t, []int{10, 20, 30}, "XYZ")
	c := NewController(exhaustAbove(0), Params{Tiles: 1, BlockMultiple: 10}, 2, nil)

	var err error
	for attempt := 0; attempt < 10; attempt++ {
		_, err = c.Attempt(context.Background(), img)
		require.ErrorIs(t, err, ErrResourceExhausted)
		assert.Equal(t, ResourceExhausted, Classify(err))
		assert.Equal(t, Idle, c.State())
		if err = c.Advance(err); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, ErrCannotRefine)

	var targets []int
	for _, p := range c.History() {
		targets = append(targets, p.Tiles)
	}
	assert.Equal(t, []int{1, 2, 4, 6}, targets)
}

func TestRetryRecovers(t *testing.T) {
	img := rampImage(t, []int{64, 64}, "YX")
	backend := exhaustAbove(48 * 48)
	c := NewController(backend, Params{Tiles: 1, BlockMultiple: 8, Overlap: 8}, 4, nil)

	var (
		out *models.Image
		err error
	)
	for attempt := 0; attempt < 20; attempt++ {
		out, err = c.Attempt(context.Background(), img)
		if err == nil {
			break
		}
		require.NoError(t, c.Advance(err))
	}
	require.NoError(t, err)
	assert.Equal(t, img.Data, out.Data)
	assert.Greater(t, len(c.History()), 1)

	history := c.History()
	for i := 1; i < len(history); i++ {
		assert.Greater(t, history[i].Tiles, history[i-1].Tiles)
	}
}

func TestNextParamsHalvesBatch(t *testing.T) {
	shape := []int{9, 8, 8}
	actions := []Action{TileWithoutPadding, TileWithPadding, TileWithPadding}
	p := Params{Tiles: 1, BlockMultiple: 8, BatchSize: 9}

	plan := ComputePlan(shape, actions, p)
	next, err := NextParams(plan, p, ResourceExhausted)
	require.NoError(t, err)
	assert.Equal(t, 5, next.BatchSize)
	assert.Equal(t, p.Tiles, next.Tiles)

	var batches []int
	for err == nil {
		batches = append(batches, next.BatchSize)
		plan = ComputePlan(shape, actions, next)
		next, err = NextParams(plan, next, ResourceExhausted)
	}
	assert.ErrorIs(t, err, ErrCannotRefine)
	assert.Equal(t, []int{5, 3, 2, 1}, batches)
}

func TestNextParamsOnlyRetriesResourceExhaustion(t *testing.T) {
	plan := ComputePlan([]int{64}, padded(1), Params{Tiles: 1, BlockMultiple: 8})
	_, err := NextParams(plan, plan.Params, Fatal)
	assert.ErrorIs(t, err, ErrCannotRefine)
	_, err = NextParams(plan, plan.Params, Cancellation)
	assert.ErrorIs(t, err, ErrCannotRefine)
}

func TestBackendFailureIsFatal(t *testing.T) {
	boom := errors.New("boom")
	failing := BackendFunc(func(context.Context, *models.Image) (*models.Image, error) {
		return nil, boom
	})
	img := rampImage(t, []int{32, 32}, "YX")
	c := NewController(failing, Params{Tiles: 4, BlockMultiple: 8}, 2, nil)

	_, err := c.Attempt(context.Background(), img)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var be *BackendError
	assert.True(t, errors.As(err, &be))
	assert.Equal(t, Failed, c.State())
	assert.Equal(t, Fatal, Classify(err))
	assert.ErrorIs(t, c.Advance(err), ErrCannotRefine)
}

func TestNilResultIsFatal(t *testing.T) {
	empty := BackendFunc(func(context.Context, *models.Image) (*models.Image, error) {
		return nil, nil
	})
	c := NewController(empty, Params{Tiles: 1}, 1, nil)
	_, err := c.Attempt(context.Background(), rampImage(t, []int{4}, "X"))
	var be *BackendError
	assert.True(t, errors.As(err, &be))
}

func TestCancellationDiscardsResults(t *testing.T) {
	img := rampImage(t, []int{32, 32}, "YX")
	plan := ComputePlan(img.Shape, Actions(img.Axes), Params{Tiles: 4, BlockMultiple: 8})
	tv, err := NewTiledView(Resize(img, plan.Expanded), plan)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, plan.NumTiles())
	release := make(chan struct{})
	defer close(release)
	blocking := BackendFunc(func(_ context.Context, tile *models.Image) (*models.Image, error) {
		started <- struct{}{}
		<-release
		return tile, nil
	})

	exec := NewExecutor(blocking, 1, nil)
	go func() {
		<-started
		cancel()
	}()
	err = exec.Run(ctx, tv)
	require.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, Canceled, exec.State())
	assert.Equal(t, Cancellation, Classify(err))
	assert.Nil(t, tv.Processed)
}

func TestEmptyImageHasNoResult(t *testing.T) {
	img := models.NewImage([]int{0, 8}, []models.AxisType{models.Y, models.X})
	c := NewController(identity, Params{Tiles: 2, BlockMultiple: 8}, 1, nil)
	_, err := c.Attempt(context.Background(), img)
	assert.ErrorIs(t, err, ErrNoResult)
	assert.Equal(t, Failed, c.State())
}

func TestReassembleRejectsMalformedTiles(t *testing.T) {
	img := rampImage(t, []int{16, 16}, "YX")
	plan := ComputePlan(img.Shape, Actions(img.Axes), Params{Tiles: 2, BlockMultiple: 8})
	tv, err := NewTiledView(img, plan)
	require.NoError(t, err)

	_, err = Reassemble(tv)
	assert.ErrorIs(t, err, ErrNoResult)

	tv.Reset()
	for i := range tv.Processed {
		tv.Processed[i] = models.NewImage([]int{8, 16}, img.Axes)
	}
	tv.Processed[1] = models.NewImage([]int{4, 16}, img.Axes)
	_, err = Reassemble(tv)
	assert.ErrorIs(t, err, ErrMalformedTile)
}

func TestReassembleKeepsDerivedChannels(t *testing.T) {
	img := rampImage(t, []int{12, 10, 1}, "YXC")
	split := BackendFunc(func(_ context.Context, tile *models.Image) (*models.Image, error) {
		shape := append([]int(nil), tile.Shape...)
		shape[2] = 2
		out := models.NewImage(shape, tile.Axes)
		for i, v := range tile.Data {
			out.Data[2*i] = v
			out.Data[2*i+1] = -v
		}
		return out, nil
	})
	c := NewController(split, Params{Tiles: 4, BlockMultiple: 4, Overlap: 2}, 2, nil)
	out, err := c.Attempt(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, []int{12, 10, 2}, out.Shape)
	for y := 0; y < 12; y++ {
		for x := 0; x < 10; x++ {
			assert.Equal(t, img.At(y, x, 0), out.At(y, x, 0))
			assert.Equal(t, -img.At(y, x, 0), out.At(y, x, 1))
		}
	}
}
