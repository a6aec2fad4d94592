package behavior

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome/fakedriver"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, d)
	return ctx.Err()
}

func newSim(rec *sleepRecorder) *simulator {
	pacing := map[string]config.Range{
		config.PaceBetweenItems: {MinMs: 100, MaxMs: 200},
		config.PaceTyping:       {MinMs: 10, MaxMs: 20},
		config.PaceBeforeClick:  {MinMs: 5, MaxMs: 5},
	}
	return InitSimulator(pacing, WithSleep(rec.sleep), WithRand(rand.New(rand.NewPCG(1, 2)))).(*simulator)
}

func TestPaceWithinRange(t *testing.T) {
	t.Parallel()

	rec := &sleepRecorder{}
	s := newSim(rec)
	for range 50 {
		require.NoError(t, s.Pace(context.Background(), config.PaceBetweenItems))
	}
	require.Len(t, rec.calls, 50)
	for _, d := range rec.calls {
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 200*time.Millisecond)
	}

	// 未配置的类型不等待
	require.NoError(t, s.Pace(context.Background(), "unknown"))
	assert.Len(t, rec.calls, 50)
}

func TestPaceCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := InitSimulator(map[string]config.Range{config.PaceCooldown: {MinMs: 10000, MaxMs: 20000}})
	start := time.Now()
	err := s.Pace(ctx, config.PaceCooldown)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCurvedPathEndsAtTarget(t *testing.T) {
	t.Parallel()

	s := newSim(&sleepRecorder{})
	from, to := types.Point{X: 0, Y: 0}, types.Point{X: 400, Y: 300}
	path := s.CurvedPath(from, to)
	require.GreaterOrEqual(t, len(path), 8)
	assert.Equal(t, to, path[len(path)-1])

	// 距离越大步数越多
	assert.Greater(t, len(s.CurvedPath(from, types.Point{X: 900, Y: 0})), len(s.CurvedPath(from, types.Point{X: 100, Y: 0})))
}

func TestClickMovesThenPresses(t *testing.T) {
	t.Parallel()

	s := newSim(&sleepRecorder{})
	d := fakedriver.New(fakedriver.NewSite())
	target := types.Point{X: 250, Y: 120}
	require.NoError(t, s.Click(context.Background(), d, target))

	events := d.PointerEvents()
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, "move", events[0].Kind)
	assert.Equal(t, fakedriver.PointerEvent{Kind: "down", Point: target}, events[len(events)-2])
	assert.Equal(t, fakedriver.PointerEvent{Kind: "up", Point: target}, events[len(events)-1])
	assert.Equal(t, target, s.Position())
}

func TestSimulateTypingOneKeyAtATime(t *testing.T) {
	t.Parallel()

	rec := &sleepRecorder{}
	s := newSim(rec)
	d := fakedriver.New(fakedriver.NewSite())
	require.NoError(t, s.SimulateTyping(context.Background(), d, "ab3"))
	assert.Equal(t, []string{"a", "b", "3"}, d.Typed)
	assert.Len(t, rec.calls, 3)
}

func TestSimulateScrollIssuesIncrementalScripts(t *testing.T) {
	t.Parallel()

	s := newSim(&sleepRecorder{})
	d := fakedriver.New(fakedriver.NewSite())
	require.NoError(t, s.SimulateScroll(context.Background(), d))
	assert.GreaterOrEqual(t, len(d.Scripts), 3)
	for _, js := range d.Scripts {
		assert.Contains(t, js, "scrollBy")
	}
}
