package junction

import (
	"context"
	"fmt"
	"testing"

	"connectrpc.com/connect"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/microsim/clock"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/entity/edge"
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
	id    int32
	grant entity.ILane
}

func (v *fakeVehicle) ID() int32                 { return v.id }
func (v *fakeVehicle) String() string            { return fmt.Sprintf("Vehicle %d", v.id) }
func (v *fakeVehicle) Length() float64           { return 5 }
func (v *fakeVehicle) MinGap() float64           { return 2.5 }
func (v *fakeVehicle) V() float64                { return 0 }
func (v *fakeVehicle) Grant() entity.ILane       { return v.grant }
func (v *fakeVehicle) SetGrant(link entity.ILane) { v.grant = link }

type world struct {
	lanes     *lane.LaneManager
	junctions *JunctionManager
}

func build(t *testing.T, net *input.Network, preferFixed bool) *world {
	require.NoError(t, net.Validate())
	ctx := &fakeCtx{
		clock: clock.New(config.ControlStep{Total: 100, Interval: 1}),
		cfg:   &config.RuntimeConfig{C: config.Control{PreferFixedLight: preferFixed}},
	}
	lm := lane.NewManager(ctx)
	require.NoError(t, lm.Init(net.Lanes))
	em := edge.NewManager(ctx)
	em.Init(net.Edges, lm)
	jm := NewManager(ctx)
	require.NoError(t, jm.Init(net.Junctions, lm))
	require.NoError(t, em.InitAfterJunction())
	return &world{lanes: lm, junctions: jm}
}

func (w *world) request(v *fakeVehicle, in int32, arrival float64) {
	link := w.lanes.Get(inputtest.CrossLinkID(in))
	link.ParentJunction().AddRequest(entity.Request{
		Vehicle: v, Link: link, ArrivalTime: arrival, Holding: v.grant == link, CanStop: true,
	})
}

func TestPriorityJunctionYield(t *testing.T) {
	w := build(t, inputtest.Cross(input.JunctionPriority, 100, 15), false)
	j := w.junctions.data[inputtest.CrossJunction]
	assert.Equal(t, entity.JunctionPriority, j.Kind())
	assert.Len(t, j.Links(), 4)

	north, east := &fakeVehicle{id: 1}, &fakeVehicle{id: 2}
	// 次路车辆先到也要让行主路的请求
	w.request(east, inputtest.CrossEastIn, 0)
	w.request(north, inputtest.CrossNorthIn, 1)
	w.junctions.Resolve()
	assert.NotNil(t, north.grant)
	assert.Nil(t, east.grant)

	// 主路车辆持有许可期间冲突连接保持互斥
	w.request(north, inputtest.CrossNorthIn, 1)
	w.request(east, inputtest.CrossEastIn, 0)
	w.junctions.Resolve()
	assert.NotNil(t, north.grant)
	assert.Nil(t, east.grant)

	// 主路车辆离开后次路车辆获得许可
	north.grant = nil
	w.request(east, inputtest.CrossEastIn, 0)
	w.junctions.Resolve()
	assert.Equal(t, w.lanes.Get(inputtest.CrossLinkID(inputtest.CrossEastIn)), east.grant)
}

func TestNonConflictingLinksBothGranted(t *testing.T) {
	w := build(t, inputtest.Cross(input.JunctionPriority, 100, 15), false)
	north, south := &fakeVehicle{id: 1}, &fakeVehicle{id: 2}
	w.request(south, inputtest.CrossSouthIn, 0)
	w.request(north, inputtest.CrossNorthIn, 0)
	w.junctions.Resolve()
	assert.NotNil(t, north.grant)
	assert.NotNil(t, south.grant)
}

func TestOccupiedLinkBlocksFoes(t *testing.T) {
	w := build(t, inputtest.Cross(input.JunctionPriority, 100, 15), false)
	link := w.lanes.Get(inputtest.CrossLinkID(inputtest.CrossNorthIn))
	link.Vehicles().Insert(&entity.VehicleNode{S: 10, Value: &fakeVehicle{id: 9}})

	east := &fakeVehicle{id: 2}
	w.request(east, inputtest.CrossEastIn, 0)
	w.junctions.Resolve()
	assert.Nil(t, east.grant)
}

func TestExitSpace(t *testing.T) {
	w := build(t, inputtest.Cross(input.JunctionPriority, 100, 15), false)
	out := w.lanes.Get(inputtest.CrossSouthOut * 100)
	blocker := &fakeVehicle{id: 9}
	out.AddPlanned(entity.PlannedEntry{Vehicle: blocker, Front: 10})

	north := &fakeVehicle{id: 1}
	w.request(north, inputtest.CrossNorthIn, 0)
	w.junctions.Resolve()
	assert.Nil(t, north.grant)

	out.RemovePlanned(blocker)
	out.AddPlanned(entity.PlannedEntry{Vehicle: blocker, Front: 12.5})
	w.request(north, inputtest.CrossNorthIn, 0)
	w.junctions.Resolve()
	assert.NotNil(t, north.grant)
}

func TestTrafficLightAdmission(t *testing.T) {
	w := build(t, inputtest.Cross(input.JunctionTrafficLight, 100, 15), true)
	j := w.junctions.data[inputtest.CrossJunction]
	require.True(t, j.HasTrafficLight())
	w.junctions.Prepare()

	ns := w.lanes.Get(inputtest.CrossLinkID(inputtest.CrossNorthIn))
	ew := w.lanes.Get(inputtest.CrossLinkID(inputtest.CrossEastIn))
	state, total, remaining := ns.Light()
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_GREEN, state)
	assert.Equal(t, 20.0, total)
	assert.Equal(t, 20.0, remaining)
	state, _, remaining = ew.Light()
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_RED, state)
	assert.Equal(t, 23.0, remaining)

	north, east := &fakeVehicle{id: 1}, &fakeVehicle{id: 2}
	w.request(east, inputtest.CrossEastIn, 0)
	w.request(north, inputtest.CrossNorthIn, 1)
	w.junctions.Resolve()
	assert.NotNil(t, north.grant)
	assert.Nil(t, east.grant)

	// 黄灯：能停车的持有者被撤销许可
	for i := 0; i < 20; i++ {
		w.junctions.Update(1)
	}
	w.junctions.Prepare()
	state, _, _ = ns.Light()
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_YELLOW, state)
	w.request(north, inputtest.CrossNorthIn, 1)
	w.junctions.Resolve()
	assert.Nil(t, north.grant)

	// 东西向绿灯
	for i := 0; i < 3; i++ {
		w.junctions.Update(1)
	}
	w.junctions.Prepare()
	state, _, _ = ew.Light()
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_GREEN, state)
	w.request(east, inputtest.CrossEastIn, 0)
	w.request(north, inputtest.CrossNorthIn, 1)
	w.junctions.Resolve()
	assert.NotNil(t, east.grant)
	assert.Nil(t, north.grant)
}

func TestAllWayStop(t *testing.T) {
	w := build(t, inputtest.Cross(input.JunctionAllWayStop, 100, 15), false)
	link := w.lanes.Get(inputtest.CrossLinkID(inputtest.CrossNorthIn))
	v := &fakeVehicle{id: 1}
	link.ParentJunction().AddRequest(entity.Request{Vehicle: v, Link: link, ArrivalTime: 0})
	w.junctions.Resolve()
	assert.Nil(t, v.grant)
	link.ParentJunction().AddRequest(entity.Request{Vehicle: v, Link: link, ArrivalTime: 0, Stopped: true})
	w.junctions.Resolve()
	assert.Equal(t, link, v.grant)
}

func TestMergeLinksAreFoes(t *testing.T) {
	net := &input.Network{
		Lanes: []input.LaneSpec{
			{ID: 1, Length: 100, MaxSpeed: 10, Successors: []int32{11}},
			{ID: 2, Length: 100, MaxSpeed: 10, Successors: []int32{12}},
			{ID: 3, Length: 100, MaxSpeed: 10, Predecessors: []int32{11, 12}},
			{ID: 11, Length: 10, MaxSpeed: 10, Predecessors: []int32{1}, Successors: []int32{3}},
			{ID: 12, Length: 10, MaxSpeed: 10, Predecessors: []int32{2}, Successors: []int32{3}},
		},
		Edges: []input.EdgeSpec{{ID: 1, Lanes: []int32{1}}, {ID: 2, Lanes: []int32{2}}, {ID: 3, Lanes: []int32{3}}},
		Junctions: []input.JunctionSpec{{ID: 1, Links: []input.LinkSpec{{Lane: 11}, {Lane: 12}}}},
	}
	w := build(t, net, false)
	j := w.junctions.data[1]
	a, b := w.lanes.Get(11), w.lanes.Get(12)
	assert.True(t, j.IsFoe(a, b))
	assert.True(t, j.IsFoe(b, a))

	va, vb := &fakeVehicle{id: 1}, &fakeVehicle{id: 2}
	j.AddRequest(entity.Request{Vehicle: vb, Link: b, ArrivalTime: 0})
	j.AddRequest(entity.Request{Vehicle: va, Link: a, ArrivalTime: 0})
	w.junctions.Resolve()
	// 同时到达且速度相同时ID小者优先
	assert.Equal(t, a, va.grant)
	assert.Nil(t, vb.grant)
}

func TestTrafficLightRPC(t *testing.T) {
	w := build(t, inputtest.Cross(input.JunctionTrafficLight, 100, 15), true)
	m := w.junctions
	ctx := context.Background()

	_, err := m.GetTrafficLight(ctx, connect.NewRequest(&mapv2.GetTrafficLightRequest{JunctionId: 42}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = m.SetTrafficLightPhase(ctx, connect.NewRequest(&mapv2.SetTrafficLightPhaseRequest{
		JunctionId: inputtest.CrossJunction, PhaseIndex: 9,
	}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = m.SetTrafficLightPhase(ctx, connect.NewRequest(&mapv2.SetTrafficLightPhaseRequest{
		JunctionId: inputtest.CrossJunction, PhaseIndex: 2, TimeRemaining: 7,
	}))
	require.NoError(t, err)
	m.Prepare()
	res, err := m.GetTrafficLight(ctx, connect.NewRequest(&mapv2.GetTrafficLightRequest{JunctionId: inputtest.CrossJunction}))
	require.NoError(t, err)
	assert.Equal(t, int32(2), res.Msg.PhaseIndex)
	assert.Equal(t, 7.0, res.Msg.TimeRemaining)
	state, _, _ := w.lanes.Get(inputtest.CrossLinkID(inputtest.CrossEastIn)).Light()
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_GREEN, state)

	_, err = m.SetTrafficLightStatus(ctx, connect.NewRequest(&mapv2.SetTrafficLightStatusRequest{
		JunctionId: inputtest.CrossJunction, Ok: false,
	}))
	require.NoError(t, err)
	m.Prepare()
	state, _, _ = w.lanes.Get(inputtest.CrossLinkID(inputtest.CrossNorthIn)).Light()
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_GREEN, state)
}

func TestMaxPressureSelected(t *testing.T) {
	w := build(t, inputtest.Cross(input.JunctionTrafficLight, 100, 15), false)
	j := w.junctions.data[inputtest.CrossJunction]
	require.True(t, j.HasTrafficLight())
	assert.Error(t, j.SetTrafficLight(&mapv2.TrafficLight{JunctionId: j.id}))
	w.junctions.Prepare()
	w.junctions.Update(1)
	w.junctions.Prepare()
	ns, _, _ := w.lanes.Get(inputtest.CrossLinkID(inputtest.CrossNorthIn)).Light()
	ew, _, _ := w.lanes.Get(inputtest.CrossLinkID(inputtest.CrossEastIn)).Light()
	// 两个方向不会同时为绿灯
	assert.False(t, ns == mapv2.LightState_LIGHT_STATE_GREEN && ew == mapv2.LightState_LIGHT_STATE_GREEN)
}
