package detector

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/microsim/clock"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/entity/lane"
	"github.com/tsinghua-fib-lab/microsim/utils/config"
	"github.com/tsinghua-fib-lab/microsim/utils/input"
	"github.com/tsinghua-fib-lab/microsim/utils/input/inputtest"
)

type fakeCtx struct {
	entity.ITaskContext
	clock *clock.Clock
	cfg   *config.RuntimeConfig
}

func (c *fakeCtx) Clock() *clock.Clock                  { return c.clock }
func (c *fakeCtx) RuntimeConfig() *config.RuntimeConfig { return c.cfg }

type fakeVehicle struct {
	entity.IVehicle
	id   int32
	v    float64
	plan entity.Plan
}

func (v *fakeVehicle) ID() int32          { return v.id }
func (v *fakeVehicle) String() string     { return fmt.Sprintf("Vehicle %d", v.id) }
func (v *fakeVehicle) V() float64         { return v.v }
func (v *fakeVehicle) Length() float64    { return 5 }
func (v *fakeVehicle) Plan() *entity.Plan { return &v.plan }

func setup(t *testing.T, period float64) (*fakeCtx, *lane.LaneManager) {
	ctx := &fakeCtx{
		clock: clock.New(config.ControlStep{Total: 100, Interval: 1}),
		cfg:   &config.RuntimeConfig{C: config.Control{DetectorPeriod: period}},
	}
	lm := lane.NewManager(ctx)
	require.NoError(t, lm.Init(inputtest.Corridor(2, 1, 100, 15).Lanes))
	return ctx, lm
}

// place 把车辆放到车道上车头位置s处，本步行驶了dist
func place(l entity.ILane, id int32, s, v, dist float64) *entity.VehicleNode {
	node := &entity.VehicleNode{S: s, Value: &fakeVehicle{id: id, v: v, plan: entity.Plan{Dist: dist}}}
	l.Vehicles().Insert(node)
	return node
}

func TestDetectorAggregation(t *testing.T) {
	ctx, lm := setup(t, 2)
	m := NewManager(ctx)
	l := lm.Get(inputtest.EdgeLaneID(1, 0))
	require.NoError(t, m.Init([]input.DetectorSpec{{ID: 7, Lane: l.ID(), Pos: 50}}, lm))

	a := place(l, 1, 52, 10, 10)
	place(l, 2, 30, 0, 0)
	m.Update()
	assert.Empty(t, m.Get(7).Intervals())

	// 第二步车辆1车身仍覆盖检测位置，不重复计数
	l.Vehicles().Remove(a)
	a.S = 62
	l.Vehicles().Insert(a)
	ctx.clock.Advance()
	m.Update()

	ivs := m.Get(7).Intervals()
	require.Len(t, ivs, 1)
	assert.Equal(t, 0.0, ivs[0].Begin)
	assert.Equal(t, 2.0, ivs[0].End)
	assert.Equal(t, 1, ivs[0].Count)
	assert.InDelta(t, 10, ivs[0].MeanSpeed, 1e-9)
	assert.InDelta(t, 0.25, ivs[0].Occupancy, 1e-9)

	// 静止车辆不覆盖检测位置，空周期平均速度为-1
	a.Value.Plan().Dist = 0
	for range 2 {
		ctx.clock.Advance()
		m.Update()
	}
	ivs = m.Results()[7]
	require.Len(t, ivs, 2)
	assert.Equal(t, Interval{Begin: 2, End: 4, MeanSpeed: -1}, ivs[1])
}

func TestDetectorSeesVehiclesLeavingLane(t *testing.T) {
	ctx, lm := setup(t, 60)
	m := NewManager(ctx)
	l := lm.Get(inputtest.EdgeLaneID(1, 0))
	require.NoError(t, m.Init([]input.DetectorSpec{{ID: 1, Lane: l.ID(), Pos: 98}}, lm))

	// 车辆本步从车道1驶入连接车道，车头越过检测位置
	place(lm.Get(inputtest.LinkID(1, 0)), 1, 3, 8, 8)
	m.Update()
	ctx.clock.Advance()
	m.Flush()

	ivs := m.Get(1).Intervals()
	require.Len(t, ivs, 1)
	assert.Equal(t, 1, ivs[0].Count)
	assert.InDelta(t, 8, ivs[0].MeanSpeed, 1e-9)
	// 车头在[98, 103]内的行驶距离为5，占本步的5/8
	assert.InDelta(t, 5.0/8, ivs[0].Occupancy, 1e-9)
}

func TestDetectorInitErrors(t *testing.T) {
	ctx, lm := setup(t, 60)
	laneID := inputtest.EdgeLaneID(1, 0)
	cases := [][]input.DetectorSpec{
		{{ID: 1, Lane: 999, Pos: 10}},
		{{ID: 1, Lane: laneID, Pos: 101}},
		{{ID: 1, Lane: laneID, Pos: 10}, {ID: 1, Lane: laneID, Pos: 20}},
	}
	for _, specs := range cases {
		err := NewManager(ctx).Init(specs, lm)
		assert.ErrorIs(t, err, input.ErrInvalidNetwork, "%+v", specs)
	}

	m := NewManager(ctx)
	require.NoError(t, m.Init([]input.DetectorSpec{{ID: 3, Lane: laneID, Pos: 1}, {ID: 2, Lane: laneID, Pos: 2}}, lm))
	assert.Equal(t, int32(2), m.Detectors()[0].ID())
	_, err := m.GetOrError(5)
	assert.Error(t, err)
	assert.Panics(t, func() { m.Get(5) })
}
