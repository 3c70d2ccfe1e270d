package person

import (
	"testing"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/microsim/clock"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/entity/junction"
	"github.com/tsinghua-fib-lab/microsim/entity/lane"
	"github.com/tsinghua-fib-lab/microsim/utils/config"
	"github.com/tsinghua-fib-lab/microsim/utils/input"
)

type fakeCtx struct {
	entity.ITaskContext
	clock *clock.Clock
	cfg   *config.RuntimeConfig
}

func (c *fakeCtx) Clock() *clock.Clock                  { return c.clock }
func (c *fakeCtx) RuntimeConfig() *config.RuntimeConfig { return c.cfg }

type world struct {
	ctx   *fakeCtx
	lanes *lane.LaneManager
	m     *PersonManager
}

// newWorld 人行道1(20m) -> 人行横道2(10m，属于路口1) -> 人行道3(20m)，另有车行道4
func newWorld(t *testing.T, model string, width float64, persons []input.PersonSpec) *world {
	ctx := &fakeCtx{
		clock: clock.New(config.ControlStep{Total: 100, Interval: 1}),
		cfg:   &config.RuntimeConfig{C: config.Control{PedestrianModel: model, Seed: 1}},
	}
	lm := lane.NewManager(ctx)
	require.NoError(t, lm.Init([]input.LaneSpec{
		{ID: 1, Type: "walking", Length: 20, Width: width, MaxSpeed: 2, Successors: []int32{2}},
		{ID: 2, Type: "walking", Length: 10, Width: width, MaxSpeed: 2, Predecessors: []int32{1}, Successors: []int32{3}},
		{ID: 3, Type: "walking", Length: 20, Width: width, MaxSpeed: 2, Predecessors: []int32{2}},
		{ID: 4, Length: 20, MaxSpeed: 10},
	}))
	jm := junction.NewManager(ctx)
	require.NoError(t, jm.Init([]input.JunctionSpec{{ID: 1, Kind: input.JunctionPriority, Crossings: []int32{2}}}, lm))
	m := NewManager(ctx)
	require.NoError(t, m.Init(persons, lm))
	return &world{ctx: ctx, lanes: lm, m: m}
}

func (w *world) step() {
	w.lanes.Prepare()
	w.m.Prepare()
	w.m.Update(w.ctx.clock.DT)
	w.ctx.clock.Advance()
}

func walk(id int32, depart, speed float64, lanes ...int32) input.PersonSpec {
	spec := input.PersonSpec{ID: id, Depart: depart, Speed: speed}
	for _, l := range lanes {
		spec.Route = append(spec.Route, input.WalkSegmentSpec{Lane: l})
	}
	return spec
}

func TestPedestrianWaitsAtRedCrossing(t *testing.T) {
	w := newWorld(t, config.PedestrianNonInteracting, 3.2, []input.PersonSpec{walk(1, 0, 2, 1, 2, 3)})
	crossing := w.lanes.Get(2)
	crossing.SetLight(mapv2.LightState_LIGHT_STATE_RED, 30, 30)

	for range 15 {
		w.step()
	}
	p := w.m.Get(1)
	assert.Equal(t, StateWalking, p.State())
	assert.Equal(t, int32(1), p.Lane().ID())
	assert.InDelta(t, 20, p.S(), 1e-9)
	assert.Equal(t, 0.0, p.V())

	crossing.SetLight(mapv2.LightState_LIGHT_STATE_GREEN, 30, 30)
	w.step()
	assert.Equal(t, int32(2), p.Lane().ID())
	assert.InDelta(t, 2, p.S(), 1e-9)

	// 走上人行横道后变为红灯，继续走完
	crossing.SetLight(mapv2.LightState_LIGHT_STATE_RED, 30, 30)
	for !w.m.Empty() {
		w.step()
	}
	trips := w.m.Trips()
	require.Len(t, trips, 1)
	assert.Equal(t, Trip{ID: 1, Depart: 0, Inserted: 1, Arrival: 30, Distance: 50, WaitingTime: 4}, trips[0])
	assert.Equal(t, Counts{Loaded: 1, Arrived: 1}, w.m.Counts())
	assert.Equal(t, 1, w.lanes.Get(3).Pedestrians().Len())
	w.lanes.Prepare()
	assert.Equal(t, 0, w.lanes.Get(3).Pedestrians().Len())
}

func TestPedestrianBackward(t *testing.T) {
	spec := input.PersonSpec{ID: 1, Speed: 5, Route: []input.WalkSegmentSpec{
		{Lane: 3, Direction: "backward"}, {Lane: 2, Direction: "backward"},
	}}
	w := newWorld(t, config.PedestrianNonInteracting, 3.2, []input.PersonSpec{spec})
	w.step()
	p := w.m.Get(1)
	assert.False(t, p.IsForward())
	assert.InDelta(t, 20, p.S(), 1e-9)
	// 恰好走到段末端时停在本段
	for range 4 {
		w.step()
	}
	assert.Equal(t, int32(3), p.Lane().ID())
	assert.InDelta(t, 0, p.S(), 1e-9)
	w.step()
	assert.Equal(t, int32(2), p.Lane().ID())
	assert.InDelta(t, 5, p.S(), 1e-9)
	w.step()
	assert.Equal(t, StateArrived, p.State())
}

func TestStripingBlocksFollowerInSingleStripe(t *testing.T) {
	w := newWorld(t, config.PedestrianStriping, 0.6, []input.PersonSpec{
		walk(1, 0, 1, 1, 2, 3),
		walk(2, 2, 2, 1, 2, 3),
	})
	a, b := w.m.Get(1), w.m.Get(2)
	for range 12 {
		prevA := a.S()
		w.step()
		if b.State() == StateWalking && a.Lane() == b.Lane() && b.S() > 0 {
			assert.LessOrEqual(t, b.S(), prevA-pedLength-pedMinGap+1e-9)
		}
	}
	assert.Less(t, b.S(), a.S())
	assert.Less(t, b.V(), 2.0)
	assert.Equal(t, 0, b.stripe)
}

func TestStripingOvertakesInWideLane(t *testing.T) {
	w := newWorld(t, config.PedestrianStriping, 3.2, []input.PersonSpec{
		walk(1, 0, 1, 1, 2, 3),
		walk(2, 2, 2, 1, 2, 3),
	})
	a, b := w.m.Get(1), w.m.Get(2)
	for range 8 {
		w.step()
	}
	assert.Greater(t, b.S(), a.S())
	assert.Equal(t, 1, b.stripe)
	assert.Equal(t, 0, a.stripe)
}

func TestNonInteractingIgnoresOthers(t *testing.T) {
	w := newWorld(t, config.PedestrianNonInteracting, 0.6, []input.PersonSpec{
		walk(1, 0, 1, 1, 2, 3),
		walk(2, 2, 2, 1, 2, 3),
	})
	for range 8 {
		w.step()
	}
	assert.Greater(t, w.m.Get(2).S(), w.m.Get(1).S())
	assert.Len(t, w.m.MotionsPb(), 2)
}

func TestPersonInitErrors(t *testing.T) {
	w := newWorld(t, config.PedestrianStriping, 3.2, nil)
	cases := [][]input.PersonSpec{
		{walk(1, 0, 1, 4)},
		{walk(1, 0, 1, 9)},
		{walk(1, 0, 1)},
		{walk(1, 0, 1, 1), walk(1, 5, 1, 1)},
	}
	for _, specs := range cases {
		assert.Error(t, NewManager(w.ctx).Init(specs, w.lanes), "%+v", specs)
	}
	_, err := NewModel("social-force")
	assert.Error(t, err)

	w.ctx.cfg.C.PedestrianModel = ""
	m := NewManager(w.ctx)
	require.NoError(t, m.Init([]input.PersonSpec{walk(1, 0, 0, 1)}, w.lanes))
	assert.GreaterOrEqual(t, m.Get(1).speed, minWalkV)
	assert.Equal(t, config.PedestrianStriping, m.model.Name())
}
