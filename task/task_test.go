package task

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/entity/vehicle"
	"github.com/tsinghua-fib-lab/microsim/utils/config"
	"github.com/tsinghua-fib-lab/microsim/utils/input"
	"github.com/tsinghua-fib-lab/microsim/utils/input/inputtest"
)

const eps = 1e-6

func newSim(t *testing.T, network *input.Network, demand *input.Demand, ctl config.Control) *Context {
	t.Helper()
	if ctl.Step.Total == 0 {
		ctl.Step.Total = 300
	}
	rc, err := config.NewRuntimeConfig(config.Config{
		Input:   config.Input{Network: "network.yaml", Demand: "demand.yaml"},
		Control: ctl,
	})
	require.NoError(t, err)
	in, err := input.New(network, demand)
	require.NoError(t, err)
	ctx, err := New(rc, in, nil)
	require.NoError(t, err)
	return ctx
}

func krauss(id string, sigma float64) input.VehicleTypeSpec {
	vt := inputtest.Passenger(id, "krauss")
	vt.CarFollowing.Params = map[string]float64{"sigma": sigma}
	return vt
}

// checkNoOverlap 同车道车辆不重叠，车道最前车辆不与后继车道伸入的车尾重叠
func checkNoOverlap(t *testing.T, ctx *Context) {
	t.Helper()
	for _, l := range ctx.LaneManager().Lanes() {
		require.NoError(t, l.(interface{ CheckOrder() error }).CheckOrder(), "step %d", ctx.Clock().InternalStep)
		front := l.LastVehicle()
		if front == nil {
			continue
		}
		if rear, _ := l.TailOverhang(); rear < 0 {
			require.LessOrEqual(t, front.S, l.Length()+rear+eps, "%v at step %d", front.Value, ctx.Clock().InternalStep)
		}
	}
}

func checkConservation(t *testing.T, ctx *Context) {
	t.Helper()
	c := ctx.VehicleManager().Counts()
	require.Equal(t, c.Loaded, c.Pending+c.Running+c.Completed+c.Failed+c.Teleported, "%+v", c)
}

func mixedDemand() *input.Demand {
	flow := func(id int32, vtype string, depart float64) input.FlowSpec {
		return input.FlowSpec{
			VehicleSpec: input.VehicleSpec{
				ID: id, Type: vtype, Depart: depart, Route: []int32{1, 2, 3},
				DepartLane: "random", DepartPos: "random", DepartSpeed: "max",
			},
			End:    120,
			Period: 3,
		}
	}
	lc2013 := inputtest.Passenger("lc2013", "idm")
	lc2013.LaneChange.Model = "lc2013"
	return &input.Demand{
		VehicleTypes: []input.VehicleTypeSpec{
			krauss("krauss", 0.5),
			inputtest.Passenger("idm", "idm"),
			inputtest.Passenger("wiedemann", "wiedemann"),
			inputtest.Passenger("tci", "tci"),
			lc2013,
		},
		Flows: []input.FlowSpec{
			flow(10000, "krauss", 0),
			flow(20000, "idm", 1),
			flow(30000, "wiedemann", 2),
			flow(40000, "tci", 0.5),
			flow(50000, "lc2013", 1.5),
		},
	}
}

func TestCorridorInvariants(t *testing.T) {
	ctx := newSim(t, inputtest.Corridor(3, 3, 200, 15), mixedDemand(), config.Control{Seed: 7, Step: config.ControlStep{Total: 400}})
	for !ctx.Done() {
		ctx.Step()
		checkNoOverlap(t, ctx)
		checkConservation(t, ctx)
	}
	c := ctx.VehicleManager().Counts()
	assert.Greater(t, c.Completed, 0)
	assert.Equal(t, 0, c.Teleported)

	all, err := ctx.VehicleManager().MotionsOf(nil)
	require.NoError(t, err)
	assert.Equal(t, ctx.VehicleManager().Motions(), all)
	_, err = ctx.VehicleManager().MotionsOf([]int32{10000, -1})
	assert.Error(t, err)
	for _, trip := range ctx.VehicleManager().Trips() {
		assert.GreaterOrEqual(t, trip.Inserted, trip.Depart)
		if trip.Status == vehicle.TripCompleted {
			assert.Greater(t, trip.Arrival, trip.Inserted)
			assert.Greater(t, trip.Distance, 0.0)
		}
	}
}

func TestDeterminism(t *testing.T) {
	run := func() ([][]vehicle.Motion, []vehicle.GlobalRuntime, []vehicle.Trip, vehicle.Counts) {
		ctx := newSim(t, inputtest.Corridor(3, 3, 200, 15), mixedDemand(), config.Control{Seed: 42, Step: config.ControlStep{Total: 250}})
		var motions [][]vehicle.Motion
		var stats []vehicle.GlobalRuntime
		for !ctx.Done() {
			ctx.Step()
			motions = append(motions, ctx.VehicleManager().Motions())
			stats = append(stats, ctx.VehicleManager().Statistics())
		}
		return motions, stats, ctx.VehicleManager().Trips(), ctx.VehicleManager().Counts()
	}
	m1, s1, t1, c1 := run()
	m2, s2, t2, c2 := run()
	require.Equal(t, len(m1), len(m2))
	for i := range m1 {
		require.Equal(t, m1[i], m2[i], "step %d", i)
		// 浮点累加顺序固定，统计逐位相同
		require.Equal(t, s1[i], s2[i], "step %d", i)
	}
	assert.Equal(t, t1, t2)
	assert.Equal(t, c1, c2)
	assert.Positive(t, s1[len(s1)-1].TravelDistance)
}

func TestJunctionExclusion(t *testing.T) {
	routes := map[int32]int32{
		inputtest.CrossNorthIn: inputtest.CrossSouthOut,
		inputtest.CrossEastIn:  inputtest.CrossWestOut,
		inputtest.CrossSouthIn: inputtest.CrossNorthOut,
		inputtest.CrossWestIn:  inputtest.CrossEastOut,
	}
	for _, kind := range []string{input.JunctionPriority, input.JunctionTrafficLight, input.JunctionAllWayStop} {
		t.Run(kind, func(t *testing.T) {
			demand := &input.Demand{VehicleTypes: []input.VehicleTypeSpec{krauss("car", 0.2)}}
			for in, out := range routes {
				demand.Flows = append(demand.Flows, input.FlowSpec{
					VehicleSpec: input.VehicleSpec{ID: in * 1000, Type: "car", Depart: float64(in), Route: []int32{in, out}},
					End:         150,
					Period:      5,
				})
			}
			ctx := newSim(t, inputtest.Cross(kind, 100, 12), demand, config.Control{Seed: 3, Step: config.ControlStep{Total: 400}})
			j := ctx.JunctionManager().Get(inputtest.CrossJunction)
			links := j.Links()
			crossed := map[int32]bool{}
			for !ctx.Done() {
				ctx.Step()
				checkNoOverlap(t, ctx)
				checkConservation(t, ctx)
				for i, a := range links {
					if a.Vehicles().Len() == 0 {
						continue
					}
					crossed[a.ID()] = true
					for _, b := range links[i+1:] {
						if j.IsFoe(a, b) {
							require.Zero(t, b.Vehicles().Len(), "%v and %v occupied at step %d", a, b, ctx.Clock().InternalStep)
						}
					}
				}
			}
			assert.Len(t, crossed, 4)
			assert.Greater(t, ctx.VehicleManager().Counts().Completed, 0)
		})
	}
}

func TestKraussStopsBehindStationaryLeader(t *testing.T) {
	demand := &input.Demand{
		VehicleTypes: []input.VehicleTypeSpec{krauss("car", 0)},
		Vehicles: []input.VehicleSpec{
			{ID: 1, Type: "car", Route: []int32{1}, DepartPos: "55", DepartSpeed: "0"},
			{ID: 2, Type: "car", Route: []int32{1}, DepartPos: "5", DepartSpeed: "10"},
		},
	}
	ctx := newSim(t, inputtest.Corridor(1, 1, 200, 15), demand, config.Control{Step: config.ControlStep{Total: 40}})
	vm := ctx.VehicleManager()

	// 第0步插入
	ctx.Step()
	leader, follower := vm.Get(1), vm.Get(2)
	require.Equal(t, entity.VehicleInserted, leader.State())
	require.Equal(t, entity.VehicleInserted, follower.State())
	assert.InDelta(t, 55, leader.S(), eps)
	assert.InDelta(t, 5, follower.S(), eps)
	assert.InDelta(t, 10, follower.V(), eps)

	first := true
	for !ctx.Done() {
		require.NoError(t, vm.SetSpeed(1, 0))
		ctx.Step()
		if first {
			// 自由加速：v+accel*dt
			assert.InDelta(t, 12.6, follower.V(), eps)
			first = false
		}
		assert.InDelta(t, 55, leader.S(), eps)
		require.LessOrEqual(t, follower.S(), leader.S()-leader.Length()-follower.MinGap()+eps)
		require.GreaterOrEqual(t, follower.V(), 0.0)
	}
	assert.Greater(t, follower.S(), 46.0)
	assert.Less(t, follower.V(), 0.5)
	assert.Equal(t, entity.VehicleRunning, follower.State())
}

func TestInsertionRetry(t *testing.T) {
	demand := &input.Demand{
		VehicleTypes: []input.VehicleTypeSpec{krauss("car", 0)},
		Vehicles: []input.VehicleSpec{
			{ID: 1, Type: "car", Route: []int32{1}, DepartSpeed: "0"},
			{ID: 2, Type: "car", Route: []int32{1}, DepartSpeed: "0"},
		},
	}
	const hold = 6

	t.Run("retry until free", func(t *testing.T) {
		ctx := newSim(t, inputtest.Corridor(1, 1, 100, 15), demand, config.Control{EndWhenEmpty: true, Step: config.ControlStep{Total: 200}})
		vm := ctx.VehicleManager()
		for !ctx.Done() {
			if ctx.Clock().InternalStep <= hold && vm.Get(1).State().OnRoad() {
				require.NoError(t, vm.SetSpeed(1, 0))
			}
			ctx.Step()
			checkNoOverlap(t, ctx)
			checkConservation(t, ctx)
			if ctx.Clock().InternalStep <= hold {
				assert.Equal(t, entity.VehiclePending, vm.Get(2).State())
				assert.Equal(t, 1, vm.Counts().Pending)
			}
		}
		trips := vm.Trips()
		require.Len(t, trips, 2)
		assert.Equal(t, vehicle.TripCompleted, trips[0].Status)
		assert.Equal(t, vehicle.TripCompleted, trips[1].Status)
		assert.InDelta(t, 1, trips[0].Inserted, eps)
		assert.Greater(t, trips[1].DepartDelay(), float64(hold))
		assert.Equal(t, vehicle.Counts{Loaded: 2, Completed: 2, Inserted: 2}, vm.Counts())
	})

	t.Run("give up after max retries", func(t *testing.T) {
		ctx := newSim(t, inputtest.Corridor(1, 1, 100, 15), demand, config.Control{
			EndWhenEmpty: true,
			Step:         config.ControlStep{Total: 200},
			Insertion:    config.Insertion{MaxRetries: 3},
		})
		vm := ctx.VehicleManager()
		for !ctx.Done() {
			if ctx.Clock().InternalStep <= hold && vm.Get(1).State().OnRoad() {
				require.NoError(t, vm.SetSpeed(1, 0))
			}
			ctx.Step()
			checkConservation(t, ctx)
		}
		trips := vm.Trips()
		require.Len(t, trips, 2)
		assert.Equal(t, vehicle.TripInsertionFailed, trips[1].Status)
		assert.Negative(t, trips[1].Inserted)
		assert.InDelta(t, 3, trips[1].Arrival, eps)
		c := vm.Counts()
		assert.Equal(t, 1, c.Failed)
		assert.Equal(t, 1, c.Completed)
	})

	t.Run("unlimited retries", func(t *testing.T) {
		ctx := newSim(t, inputtest.Corridor(1, 1, 100, 15), demand, config.Control{
			Step:      config.ControlStep{Total: 400},
			Insertion: config.Insertion{MaxRetries: config.UnlimitedRetries},
		})
		vm := ctx.VehicleManager()
		for !ctx.Done() {
			if vm.Get(1).State().OnRoad() {
				require.NoError(t, vm.SetSpeed(1, 0))
			}
			ctx.Step()
			checkConservation(t, ctx)
		}
		// 重试次数超过默认上限后仍在等待
		assert.Equal(t, entity.VehiclePending, vm.Get(2).State())
		assert.Equal(t, vehicle.Counts{Loaded: 2, Pending: 1, Running: 1, Inserted: 1}, vm.Counts())
		assert.Empty(t, vm.Trips())
	})
}

func TestEndWhenEmpty(t *testing.T) {
	demand := &input.Demand{
		VehicleTypes: []input.VehicleTypeSpec{krauss("car", 0.5)},
		Vehicles:     []input.VehicleSpec{{ID: 1, Type: "car", Depart: 3, Route: []int32{1, 2}}},
		Persons: []input.PersonSpec{{ID: 1, Depart: 2, Speed: 1.5, Route: []input.WalkSegmentSpec{{Lane: 900}}}},
	}
	network := inputtest.Corridor(2, 1, 100, 15)
	network.Lanes = append(network.Lanes, input.LaneSpec{ID: 900, Type: "walking", Length: 30, Width: 2, MaxSpeed: 2})
	network.Edges[0].WalkingLanes = []int32{900}

	ctx := newSim(t, network, demand, config.Control{EndWhenEmpty: true, Step: config.ControlStep{Total: 10000}})
	ctx.Run()
	assert.True(t, ctx.Done())
	assert.Less(t, ctx.Clock().InternalStep, int32(10000))
	assert.True(t, ctx.VehicleManager().Empty())
	assert.True(t, ctx.PersonManager().Empty())
	assert.Equal(t, 1, ctx.VehicleManager().Counts().Completed)
	assert.Len(t, ctx.PersonManager().Trips(), 1)

	// 未开启时运行到结束步
	ctx = newSim(t, inputtest.Corridor(2, 1, 100, 15), &input.Demand{VehicleTypes: demand.VehicleTypes}, config.Control{Step: config.ControlStep{Total: 20}})
	ctx.Run()
	assert.Equal(t, int32(20), ctx.Clock().InternalStep)
}

func TestNewRejectsFiblabRouterWithoutMap(t *testing.T) {
	rc, err := config.NewRuntimeConfig(config.Config{
		Input:   config.Input{Network: "network.yaml", Demand: "demand.yaml"},
		Control: config.Control{Step: config.ControlStep{Total: 10}},
	})
	require.NoError(t, err)
	rc.C.Router = config.RouterFiblab
	in, err := input.New(inputtest.Corridor(2, 1, 100, 15), &input.Demand{})
	require.NoError(t, err)
	_, err = New(rc, in, nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

// laneDropDemand 车道缩减路网上分别从两条车道出发的车辆
func laneDropDemand(sigma float64) *input.Demand {
	demand := &input.Demand{VehicleTypes: []input.VehicleTypeSpec{krauss("car", sigma)}}
	for i := int32(0); i < 5; i++ {
		demand.Vehicles = append(demand.Vehicles,
			input.VehicleSpec{ID: 1 + i, Type: "car", Depart: float64(10 * i), Route: []int32{1, 2}, DepartLane: "0"},
			input.VehicleSpec{ID: 11 + i, Type: "car", Depart: float64(10*i + 5), Route: []int32{1, 2}, DepartLane: "1"},
		)
	}
	return demand
}

// checkLaneEnd 没有连接的车道上车辆不越过车道末端
func checkLaneEnd(t *testing.T, ctx *Context, laneID int32, length float64) {
	t.Helper()
	for _, m := range ctx.VehicleManager().Motions() {
		if m.LaneID == laneID {
			require.LessOrEqual(t, m.S, length+eps, "vehicle %d at step %d", m.ID, ctx.Clock().InternalStep)
		}
	}
}

func TestStrategicLaneChange(t *testing.T) {
	dropped := inputtest.EdgeLaneID(1, 0)

	t.Run("sparse", func(t *testing.T) {
		ctx := newSim(t, inputtest.LaneDrop(200, 15), laneDropDemand(0), config.Control{EndWhenEmpty: true, Step: config.ControlStep{Total: 400}})
		for !ctx.Done() {
			ctx.Step()
			checkLaneEnd(t, ctx, dropped, 200)
			checkNoOverlap(t, ctx)
			checkConservation(t, ctx)
		}
		c := ctx.VehicleManager().Counts()
		assert.Equal(t, 10, c.Completed)
		// 车道0上的车辆都必须变道才能驶入道路2
		assert.GreaterOrEqual(t, c.Changes, 5)
		for _, trip := range ctx.VehicleManager().Trips() {
			assert.Equal(t, vehicle.TripCompleted, trip.Status, "vehicle %d", trip.ID)
		}
	})

	t.Run("dense merge", func(t *testing.T) {
		flow := func(id int32, lane string) input.FlowSpec {
			return input.FlowSpec{
				VehicleSpec: input.VehicleSpec{ID: id, Type: "car", Route: []int32{1, 2}, DepartLane: lane, DepartSpeed: "max"},
				End:         60,
				Period:      2,
			}
		}
		demand := &input.Demand{
			VehicleTypes: []input.VehicleTypeSpec{krauss("car", 0.5)},
			Flows:        []input.FlowSpec{flow(1000, "0"), flow(2000, "1")},
		}
		ctx := newSim(t, inputtest.LaneDrop(100, 15), demand, config.Control{Seed: 11, EndWhenEmpty: true, Step: config.ControlStep{Total: 400}})
		for !ctx.Done() {
			ctx.Step()
			checkLaneEnd(t, ctx, dropped, 100)
			checkNoOverlap(t, ctx)
			checkConservation(t, ctx)
		}
		c := ctx.VehicleManager().Counts()
		assert.Positive(t, c.Completed)
		assert.Positive(t, c.Changes)
		assert.Zero(t, c.Teleported)
	})
}

func TestLaneEndStopAndTeleport(t *testing.T) {
	network := inputtest.LaneDrop(100, 15)
	for i := range network.Lanes {
		if network.Lanes[i].ID == inputtest.EdgeLaneID(1, 1) {
			network.Lanes[i].Disallow = []string{"passenger"}
		}
	}
	demand := &input.Demand{
		VehicleTypes: []input.VehicleTypeSpec{krauss("car", 0)},
		Vehicles: []input.VehicleSpec{
			{ID: 1, Type: "car", Route: []int32{1, 2}, DepartLane: "0"},
			{ID: 2, Type: "car", Depart: 3, Route: []int32{1, 2}, DepartLane: "0"},
		},
	}
	ctx := newSim(t, network, demand, config.Control{EndWhenEmpty: true, TeleportAfter: 10, Step: config.ControlStep{Total: 300}})
	vm := ctx.VehicleManager()
	maxS := 0.0
	for !ctx.Done() {
		ctx.Step()
		for _, m := range vm.Motions() {
			// 唯一可以驶出的车道禁止本车类别，只能停在车道末端
			require.Equal(t, inputtest.EdgeLaneID(1, 0), m.LaneID)
			require.LessOrEqual(t, m.S, 100+eps)
			if m.ID == 1 {
				maxS = math.Max(maxS, m.S)
			}
		}
		checkNoOverlap(t, ctx)
		checkConservation(t, ctx)
	}
	assert.Less(t, ctx.Clock().InternalStep, int32(300))
	assert.Greater(t, maxS, 95.0)
	assert.Equal(t, vehicle.Counts{Loaded: 2, Teleported: 2, Inserted: 2}, vm.Counts())
	trips := vm.Trips()
	require.Len(t, trips, 2)
	for _, trip := range trips {
		assert.Equal(t, vehicle.TripTeleported, trip.Status)
		assert.GreaterOrEqual(t, trip.WaitingTime, 10.0)
	}
}

func TestRemoteChangeLane(t *testing.T) {
	demand := &input.Demand{
		VehicleTypes: []input.VehicleTypeSpec{krauss("car", 0)},
		Vehicles: []input.VehicleSpec{
			{ID: 1, Type: "car", Route: []int32{1}, DepartLane: "0"},
			{ID: 2, Type: "car", Depart: 100, Route: []int32{1}},
		},
	}
	ctx := newSim(t, inputtest.Corridor(1, 3, 500, 15), demand, config.Control{Step: config.ControlStep{Total: 100}})
	vm := ctx.VehicleManager()
	for i := 0; i < 4; i++ {
		ctx.Step()
	}
	laneOf := func() int32 {
		id, _, err := vm.GetLane(1)
		require.NoError(t, err)
		return id
	}
	require.Equal(t, inputtest.EdgeLaneID(1, 0), laneOf())

	assert.Error(t, vm.ChangeLane(1, 3))
	assert.Error(t, vm.ChangeLane(42, 0))
	assert.ErrorIs(t, vm.ChangeLane(2, 0), vehicle.ErrVehicleNotRunning)

	// 每步最多变一条车道，指令只作用一步
	require.NoError(t, vm.ChangeLane(1, 2))
	ctx.Step()
	assert.Equal(t, inputtest.EdgeLaneID(1, 1), laneOf())
	assert.Equal(t, 1, vm.Counts().Changes)
	ctx.Step()
	assert.Equal(t, inputtest.EdgeLaneID(1, 1), laneOf())
	assert.Equal(t, 1, vm.Counts().Changes)

	require.NoError(t, vm.ChangeLane(1, 0))
	ctx.Step()
	assert.Equal(t, inputtest.EdgeLaneID(1, 0), laneOf())
	assert.Equal(t, 2, vm.Counts().Changes)
}

func TestRemoteSetRoute(t *testing.T) {
	demand := &input.Demand{
		VehicleTypes: []input.VehicleTypeSpec{krauss("car", 0)},
		Vehicles:     []input.VehicleSpec{{ID: 1, Type: "car", Route: []int32{1, 2, 3}}},
	}
	ctx := newSim(t, inputtest.Corridor(3, 1, 100, 15), demand, config.Control{EndWhenEmpty: true, Step: config.ControlStep{Total: 200}})
	vm := ctx.VehicleManager()
	for i := 0; i < 3; i++ {
		ctx.Step()
	}
	assert.ErrorIs(t, vm.SetRoute(1, []int32{1, 3}), input.ErrInvalidRoute)

	require.NoError(t, vm.SetRoute(1, []int32{1, 2}))
	ctx.Step()
	ids, cursor, err := vm.GetRoute(1)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2}, ids)
	assert.Zero(t, cursor)

	// 不从当前道路开始的路径在生效时被拒绝，原路径不变
	require.NoError(t, vm.SetRoute(1, []int32{2, 3}))
	ctx.Step()
	ids, _, err = vm.GetRoute(1)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2}, ids)

	for !ctx.Done() {
		ctx.Step()
		for _, m := range vm.Motions() {
			require.NotEqual(t, inputtest.EdgeLaneID(3, 0), m.LaneID)
		}
	}
	trips := vm.Trips()
	require.Len(t, trips, 1)
	assert.Equal(t, vehicle.TripCompleted, trips[0].Status)
}

func TestReroute(t *testing.T) {
	longLane := inputtest.EdgeLaneID(inputtest.DiamondLong, 0)
	demand := func(period float64) *input.Demand {
		return &input.Demand{
			VehicleTypes: []input.VehicleTypeSpec{krauss("car", 0)},
			Vehicles: []input.VehicleSpec{{
				ID: 1, Type: "car", ReroutePeriod: period,
				Route: []int32{inputtest.DiamondIn, inputtest.DiamondLong, inputtest.DiamondOut},
			}},
		}
	}
	// run 运行到结束，返回是否经过长路径
	run := func(t *testing.T, ctx *Context) bool {
		usedLong := false
		for !ctx.Done() {
			ctx.Step()
			for _, m := range ctx.VehicleManager().Motions() {
				usedLong = usedLong || m.LaneID == longLane
			}
			checkNoOverlap(t, ctx)
		}
		trips := ctx.VehicleManager().Trips()
		require.Len(t, trips, 1)
		assert.Equal(t, vehicle.TripCompleted, trips[0].Status)
		return usedLong
	}
	ctl := config.Control{EndWhenEmpty: true, Step: config.ControlStep{Total: 200}}

	t.Run("fixed route", func(t *testing.T) {
		ctx := newSim(t, inputtest.Diamond(100, 300, 15), demand(0), ctl)
		assert.True(t, run(t, ctx))
	})

	t.Run("on request", func(t *testing.T) {
		ctx := newSim(t, inputtest.Diamond(100, 300, 15), demand(0), ctl)
		vm := ctx.VehicleManager()
		ctx.Step()
		ctx.Step()
		assert.Error(t, vm.Reroute(99))
		require.NoError(t, vm.Reroute(1))
		ctx.Step()
		ids, cursor, err := vm.GetRoute(1)
		require.NoError(t, err)
		assert.Equal(t, []int32{inputtest.DiamondIn, inputtest.DiamondShort, inputtest.DiamondOut}, ids)
		assert.Zero(t, cursor)
		assert.False(t, run(t, ctx))
	})

	t.Run("periodic", func(t *testing.T) {
		ctx := newSim(t, inputtest.Diamond(100, 300, 15), demand(2), ctl)
		assert.False(t, run(t, ctx))
		ids, _, err := ctx.VehicleManager().GetRoute(1)
		require.NoError(t, err)
		assert.Contains(t, ids, inputtest.DiamondShort)
		assert.NotContains(t, ids, inputtest.DiamondLong)
		assert.Equal(t, inputtest.DiamondOut, ids[len(ids)-1])
	})
}
