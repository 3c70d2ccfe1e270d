package lane

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/microsim/clock"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/entity/vehicle/carfollow"
	"github.com/tsinghua-fib-lab/microsim/utils/config"
	"github.com/tsinghua-fib-lab/microsim/utils/input"
	"github.com/tsinghua-fib-lab/microsim/utils/input/inputtest"
)

type fakeCtx struct {
	entity.ITaskContext
	clock *clock.Clock
}

func (c *fakeCtx) Clock() *clock.Clock {
	return c.clock
}

func newFakeCtx() *fakeCtx {
	return &fakeCtx{clock: clock.New(config.ControlStep{Start: 0, Total: 100, Interval: 1})}
}

// fakeVehicle 使用Krauss跟车模型的静止测试车辆
type fakeVehicle struct {
	entity.IVehicle
	id   int32
	v    float64
	plan entity.Plan
}

var krauss, _ = carfollow.New("krauss", nil)

func (v *fakeVehicle) ID() int32                   { return v.id }
func (v *fakeVehicle) String() string              { return fmt.Sprintf("Vehicle %d", v.id) }
func (v *fakeVehicle) Class() entity.VehicleClass  { return entity.ClassPassenger }
func (v *fakeVehicle) Length() float64             { return 5 }
func (v *fakeVehicle) MinGap() float64             { return 2.5 }
func (v *fakeVehicle) Decel() float64              { return 4.5 }
func (v *fakeVehicle) V() float64                  { return v.v }
func (v *fakeVehicle) Plan() *entity.Plan          { return &v.plan }
func (v *fakeVehicle) PlanMove(leader *entity.Leader) {}
func (v *fakeVehicle) ego() *carfollow.Ego {
	return &carfollow.Ego{ID: v.id, V: v.v, MaxV: 30, Accel: 2.6, Decel: 4.5, EmergencyDecel: 9, DT: 1}
}
func (v *fakeVehicle) FollowSpeed(gap, leaderV float64) float64 {
	return krauss.FollowSpeed(v.ego(), gap, leaderV)
}
func (v *fakeVehicle) InsertionFollowSpeed(gap, leaderV float64) float64 {
	return krauss.InsertionFollowSpeed(v.ego(), gap, leaderV)
}

func newCorridor(t *testing.T, numEdges int32) (*LaneManager, *fakeCtx) {
	ctx := newFakeCtx()
	net := inputtest.Corridor(numEdges, 1, 100, 15)
	m := NewManager(ctx)
	require.NoError(t, m.Init(net.Lanes))
	return m, ctx
}

func TestInsertVehicleRetriesUntilLeaderAdvances(t *testing.T) {
	m, _ := newCorridor(t, 1)
	l := m.data[inputtest.EdgeLaneID(1, 0)]

	// 已有车辆占据[0, 5]，速度为0
	existing := &fakeVehicle{id: 1}
	node, _, ok := l.InsertVehicle(existing, 5, 0, false)
	require.True(t, ok)

	for _, p := range []float64{0, 2, 5, 7.4} {
		_, _, ok := l.InsertVehicle(&fakeVehicle{id: 2}, p, 0, false)
		assert.False(t, ok, "insert at %v", p)
	}
	assert.Equal(t, 1, l.Vehicles().Len())

	// 前车前进后再次尝试
	l.Vehicles().Remove(node)
	node.S = 20
	l.Vehicles().Insert(node)
	_, speed, ok := l.InsertVehicle(&fakeVehicle{id: 2}, 7.5, 0, false)
	assert.True(t, ok)
	assert.Equal(t, 0.0, speed)
	assert.Equal(t, []float64{7.5, 20}, l.Vehicles().Keys())
	assert.NoError(t, l.CheckOrder())
}

func TestInsertVehicleReducesSpeed(t *testing.T) {
	m, _ := newCorridor(t, 1)
	l := m.data[inputtest.EdgeLaneID(1, 0)]
	_, _, ok := l.InsertVehicle(&fakeVehicle{id: 1}, 30, 0, false)
	require.True(t, ok)

	_, _, ok = l.InsertVehicle(&fakeVehicle{id: 2}, 10, 20, false)
	assert.False(t, ok)
	_, speed, ok := l.InsertVehicle(&fakeVehicle{id: 2}, 10, 20, true)
	require.True(t, ok)
	assert.Less(t, speed, 20.0)
	assert.GreaterOrEqual(t, speed, 0.0)
}

func TestInsertVehicleRespectsPermissions(t *testing.T) {
	ctx := newFakeCtx()
	m := NewManager(ctx)
	require.NoError(t, m.Init([]input.LaneSpec{
		{ID: 1, Length: 100, MaxSpeed: 10, Allow: []string{"bus"}},
		{ID: 2, Length: 100, MaxSpeed: 10, Type: "walking"},
	}))
	_, _, ok := m.data[1].InsertVehicle(&fakeVehicle{id: 1}, 10, 0, false)
	assert.False(t, ok)
	_, _, ok = m.data[2].InsertVehicle(&fakeVehicle{id: 1}, 10, 0, false)
	assert.False(t, ok)
	assert.True(t, m.data[1].Allows(entity.ClassBus))
	assert.False(t, m.data[1].Allows(entity.ClassPassenger))
}

func TestInitRejectsBadClass(t *testing.T) {
	m := NewManager(newFakeCtx())
	err := m.Init([]input.LaneSpec{{ID: 1, Length: 100, MaxSpeed: 10, Allow: []string{"ufo"}}})
	assert.ErrorIs(t, err, input.ErrInvalidNetwork)
}

func TestCheckOrderPanicsOnOverlap(t *testing.T) {
	m, _ := newCorridor(t, 1)
	l := m.data[inputtest.EdgeLaneID(1, 0)]
	l.AddVehicle(&entity.VehicleNode{S: 10, Value: &fakeVehicle{id: 1}})
	l.AddVehicle(&entity.VehicleNode{S: 12, Value: &fakeVehicle{id: 2}})
	assert.Panics(t, func() { l.applyMovements() })
}

func TestApplyMovementsKeepsOrder(t *testing.T) {
	m, _ := newCorridor(t, 1)
	l := m.data[inputtest.EdgeLaneID(1, 0)]
	for i, s := range []float64{50, 10, 30} {
		l.AddVehicle(&entity.VehicleNode{S: s, Value: &fakeVehicle{id: int32(i)}})
	}
	assert.NotPanics(t, func() { l.applyMovements() })
	assert.Equal(t, []float64{10, 30, 50}, l.Vehicles().Keys())

	last := l.LastVehicle()
	l.RemoveVehicle(last)
	assert.Equal(t, 3, l.Vehicles().Len())
	l.applyMovements()
	assert.Equal(t, []float64{10, 30}, l.Vehicles().Keys())
}

func TestPlannedNeighbors(t *testing.T) {
	m, _ := newCorridor(t, 1)
	l := m.data[inputtest.EdgeLaneID(1, 0)]
	a, b, c := &fakeVehicle{id: 1}, &fakeVehicle{id: 2}, &fakeVehicle{id: 3}
	l.AddPlanned(entity.PlannedEntry{Vehicle: c, Front: 40})
	l.AddPlanned(entity.PlannedEntry{Vehicle: a, Front: 10})
	l.AddPlanned(entity.PlannedEntry{Vehicle: b, Front: 25})

	behind, ahead := l.PlannedNeighbors(25, b)
	require.NotNil(t, behind)
	require.NotNil(t, ahead)
	assert.Equal(t, a, behind.Vehicle)
	assert.Equal(t, c, ahead.Vehicle)
	assert.Equal(t, 35.0, ahead.Rear())

	behind, ahead = l.PlannedNeighbors(5, nil)
	assert.Nil(t, behind)
	assert.Equal(t, a, ahead.Vehicle)

	l.RemovePlanned(b)
	assert.Len(t, l.Planned(), 2)
	l.prepare()
	assert.Empty(t, l.Planned())
}

func TestTailOverhang(t *testing.T) {
	m, _ := newCorridor(t, 2)
	l := m.data[inputtest.EdgeLaneID(1, 0)]
	link := m.data[inputtest.LinkID(1, 0)]
	next := m.data[inputtest.EdgeLaneID(2, 0)]

	rear, _ := l.TailOverhang()
	assert.Equal(t, 0.0, rear)

	// 车头在下一道路2m处，车尾伸入连接车道
	next.Vehicles().Insert(&entity.VehicleNode{S: 2, Value: &fakeVehicle{id: 1, v: 3}})
	rear, v := l.TailOverhang()
	assert.Equal(t, 0.0, rear)
	rear, v = link.TailOverhang()
	assert.InDelta(t, -3, rear, 1e-9)
	assert.Equal(t, 3.0, v)

	// 连接车道上的车辆车尾伸入道路车道
	link.Vehicles().Insert(&entity.VehicleNode{S: 1, Value: &fakeVehicle{id: 2}})
	rear, _ = l.TailOverhang()
	assert.InDelta(t, -4, rear, 1e-9)
}

func TestTopology(t *testing.T) {
	m, _ := newCorridor(t, 3)
	l := m.data[inputtest.EdgeLaneID(2, 0)]
	require.Len(t, l.Predecessors(), 1)
	require.Len(t, l.Successors(), 1)
	assert.Equal(t, inputtest.LinkID(1, 0), l.Predecessors()[0].ID())
	assert.Equal(t, inputtest.LinkID(2, 0), l.Successors()[0].ID())

	// 未设置所在路口时不能查询唯一后继
	_, err := m.data[inputtest.LinkID(2, 0)].UniqueSuccessor()
	assert.Error(t, err)

	ids := make([]int32, 0)
	for _, lane := range m.Lanes() {
		ids = append(ids, lane.ID())
	}
	assert.IsIncreasing(t, ids)
	_, err = m.GetOrError(-1)
	assert.Error(t, err)
}

func TestPositionByS(t *testing.T) {
	m := NewManager(newFakeCtx())
	require.NoError(t, m.Init([]input.LaneSpec{{
		ID: 1, Length: 20, MaxSpeed: 10,
		Shape: []input.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}},
	}}))
	l := m.data[1]
	p := l.GetPositionByS(15)
	assert.InDelta(t, 10, p.X, 1e-9)
	assert.InDelta(t, 5, p.Y, 1e-9)
	p = l.GetPositionByS(5)
	assert.InDelta(t, 5, p.X, 1e-9)
	assert.InDelta(t, 0, p.Y, 1e-9)
}

func TestMeanSpeedSmoothing(t *testing.T) {
	m, _ := newCorridor(t, 1)
	l := m.data[inputtest.EdgeLaneID(1, 0)]
	assert.Equal(t, 15.0, l.MeanSpeed())
	l.Vehicles().Insert(&entity.VehicleNode{S: 10, Value: &fakeVehicle{id: 1, v: 0}})
	l.update()
	assert.Less(t, l.MeanSpeed(), 15.0)
	assert.Greater(t, l.MeanSpeed(), 0.0)

	l.SetMaxV(5)
	assert.Equal(t, 15.0, l.MaxV())
	l.prepare()
	assert.Equal(t, 5.0, l.MaxV())
}
