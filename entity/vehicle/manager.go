package vehicle

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"git.fiblab.net/general/common/v2/parallel"
	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"git.fiblab.net/sim/protos/v2/go/city/person/v2/personv2connect"
	routingv2 "git.fiblab.net/sim/protos/v2/go/city/routing/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/entity/vehicle/route"
	"github.com/tsinghua-fib-lab/microsim/utils"
	"github.com/tsinghua-fib-lab/microsim/utils/container"
	"github.com/tsinghua-fib-lab/microsim/utils/input"
)

const (
	departEps = 1e-9
)

// GlobalRuntime 全局运行时数据结构
// 功能：管理全局运行时数据，包括完成行程数、总行驶时间、总行驶距离
type GlobalRuntime struct {
	NumCompletedTrips int32   // 已完成的行程
	TravelTime        float64 // 总行驶时间
	TravelDistance    float64 // 总行驶距离
}

// Counts 车辆计数
// 说明：Loaded = Pending + Running + Completed + Failed + Teleported
type Counts struct {
	Loaded     int
	Pending    int
	Running    int
	Completed  int
	Failed     int
	Teleported int
	Inserted   int // 累计进入路网
	Changes    int // 累计变道
}

// Motion 车辆位置与速度
type Motion struct {
	ID     int32
	LaneID int32
	S      float64
	V      float64
	A      float64
}

// command 外部控制指令，在下一步准备阶段生效
type command struct {
	speed   *float64
	lane    int
	route   *route.Route
	reroute bool
}

// VehicleManager 车辆管理器
// 功能：管理全部车辆的生命周期，组织各仿真阶段中车辆的计算，提供输出与外部控制接口
type VehicleManager struct {
	personv2connect.UnimplementedPersonServiceHandler

	ctx entity.ITaskContext

	types    map[string]*VehicleType
	data     map[int32]*Vehicle
	vehicles []*Vehicle // 全部车辆（按ID升序）
	active   []*Vehicle // 在路网中的车辆（按ID升序）
	pending  *container.PriorityQueue[*Vehicle]

	trips    []Trip
	tripsMtx sync.Mutex

	numInserted int
	numChanges  atomic.Int64

	commands   map[int32]*command
	commandMtx sync.Mutex

	snapshot, runtime GlobalRuntime
	runtimeMtx        sync.Mutex
}

// NewManager 创建车辆管理器
func NewManager(ctx entity.ITaskContext) *VehicleManager {
	return &VehicleManager{
		ctx:      ctx,
		types:    make(map[string]*VehicleType),
		data:     make(map[int32]*Vehicle),
		pending:  container.NewPriorityQueue[*Vehicle](),
		commands: make(map[int32]*command),
	}
}

// Init 初始化车辆类型与车辆
// 功能：创建车辆类型，展开车流，为每辆车检查路径并放入待出发队列
// 参数：demand-出行需求
// 返回：类型或车辆定义非法时返回错误（包装ErrInvalidVehicleType/ErrInvalidDemand/ErrInvalidRoute）
// 说明：待出发队列按(出发时间, ID)排序
func (m *VehicleManager) Init(demand *input.Demand) error {
	for i := range demand.VehicleTypes {
		t, err := NewVehicleType(&demand.VehicleTypes[i])
		if err != nil {
			return err
		}
		m.types[t.ID] = t
	}
	specs := demand.Expand()
	for i := range specs {
		spec := &specs[i]
		vtype, ok := m.types[spec.Type]
		if !ok {
			return fmt.Errorf("%w: vehicle %d has unknown type %q", input.ErrInvalidDemand, spec.ID, spec.Type)
		}
		if _, ok := m.data[spec.ID]; ok {
			return fmt.Errorf("%w: duplicate vehicle id %d", input.ErrInvalidDemand, spec.ID)
		}
		var r *route.Route
		if len(spec.Route) > 0 {
			var err error
			if r, err = route.FromIDs(m.ctx.EdgeManager(), spec.Route); err != nil {
				return fmt.Errorf("vehicle %d: %w", spec.ID, err)
			}
			if err := checkClass(r, vtype.Class); err != nil {
				return fmt.Errorf("vehicle %d: %w", spec.ID, err)
			}
		} else {
			for _, id := range []int32{spec.From, spec.To} {
				if _, err := m.ctx.EdgeManager().GetOrError(id); err != nil {
					return fmt.Errorf("%w: vehicle %d: %v", input.ErrInvalidDemand, spec.ID, err)
				}
			}
		}
		v, err := newVehicle(m.ctx, m, spec, vtype, r)
		if err != nil {
			return fmt.Errorf("%w: vehicle %d: %v", input.ErrInvalidDemand, spec.ID, err)
		}
		m.data[v.id] = v
		m.vehicles = append(m.vehicles, v)
		m.pending.Push(v, v.depart)
	}
	m.pending.Heapify()
	slices.SortFunc(m.vehicles, func(a, b *Vehicle) int { return cmp.Compare(a.id, b.id) })
	log.Infof("%d vehicle types, %d vehicles", len(m.types), len(m.vehicles))
	return nil
}

// checkClass 检查路径上每条道路都有允许该类别通行的车道
func checkClass(r *route.Route, class entity.VehicleClass) error {
	for i := 0; i < r.Len(); i++ {
		if e := r.At(i); !e.Allows(class) {
			return fmt.Errorf("%w: edge %d does not allow class %s", input.ErrInvalidRoute, e.ID(), class)
		}
	}
	return nil
}

// Get 根据ID获取车辆，不存在则panic
func (m *VehicleManager) Get(id int32) *Vehicle {
	if v, ok := m.data[id]; !ok {
		log.Panicf("no id %d in vehicle data", id)
		return nil
	} else {
		return v
	}
}

// GetOrError 根据ID获取车辆，不存在则返回错误
func (m *VehicleManager) GetOrError(id int32) (*Vehicle, error) {
	if v, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("no id %d in vehicle data", id)
	} else {
		return v, nil
	}
}

// Active 在路网中的车辆（按ID升序）
func (m *VehicleManager) Active() []*Vehicle {
	return m.active
}

// Vehicles 全部车辆（按ID升序）
func (m *VehicleManager) Vehicles() []*Vehicle {
	return m.vehicles
}

// Prepare 准备阶段
// 功能：移出上一步到达的车辆，应用外部控制指令与周期性重新规划路径，更新统计快照
func (m *VehicleManager) Prepare() {
	m.collectRunning()
	m.active = lo.Filter(m.active, func(v *Vehicle, _ int) bool {
		if v.state == entity.VehicleArrived {
			v.state = entity.VehicleRemoved
		}
		return v.state.OnRoad()
	})
	m.commandMtx.Lock()
	commands := m.commands
	m.commands = make(map[int32]*command)
	m.commandMtx.Unlock()
	now := m.ctx.Clock().T
	parallel.GoFor(m.active, func(v *Vehicle) {
		reroute := v.reroutePeriod > 0 && now-v.lastReroute >= v.reroutePeriod-departEps
		if cmd, ok := commands[v.id]; ok {
			v.speedCmd = cmd.speed
			v.laneCmd = cmd.lane
			if cmd.route != nil {
				if err := v.replaceRoute(cmd.route); err != nil {
					log.Warnf("%v: set route: %v", v, err)
				}
			}
			reroute = reroute || cmd.reroute
		}
		if reroute && v.lane.InEdge() {
			v.lastReroute = now
			if err := v.reroute(); err != nil {
				log.Debugf("%v: reroute: %v", v, err)
			}
		}
	})
	m.snapshot = m.runtime
	log.Debug("VehicleManager: prepare done")
}

// RegisterPlanned 规划阶段之后登记规划占用
func (m *VehicleManager) RegisterPlanned() {
	parallel.GoFor(m.active, func(v *Vehicle) { v.registerPlanned() })
}

// Change 变道阶段，各道路并行处理
func (m *VehicleManager) Change() {
	dt := m.ctx.Clock().DT
	parallel.GoFor(m.ctx.EdgeManager().Edges(), func(e entity.IEdge) {
		if n := changeLanes(e.Lanes(), dt); n > 0 {
			m.numChanges.Add(int64(n))
		}
	})
}

// SendRequests 路口阶段，向前方路口提交通行请求
func (m *VehicleManager) SendRequests() {
	parallel.GoFor(m.active, func(v *Vehicle) { v.sendRequest() })
}

// Insert 插入阶段
// 功能：按(出发时间, ID)顺序尝试让到达出发时刻的车辆进入路网
// 算法说明：
// 1. 没有预设路径的车辆先由路由器规划，规划失败记为无路径
// 2. 插入失败的车辆重试次数加一，达到上限时放弃并记录失败，否则留待下一步；上限为负数时不限次数
func (m *VehicleManager) Insert() {
	clock := m.ctx.Clock()
	maxRetries := m.ctx.RuntimeConfig().C.Insertion.MaxRetries
	var retry []*Vehicle
	inserted := false
	for m.pending.Len() > 0 {
		if _, depart := m.pending.First(); depart > clock.T+departEps {
			break
		}
		v, _ := m.pending.HeapPop()
		if v.route == nil {
			r, err := m.routeBetween(m.ctx.EdgeManager().Get(v.from), m.ctx.EdgeManager().Get(v.to), nil)
			if err == nil {
				err = checkClass(r, v.Class())
			}
			if err != nil {
				log.Warnf("%v: no route from edge %d to edge %d: %v", v, v.from, v.to, err)
				v.state = entity.VehicleRemoved
				m.recordTripEnd(v, TripNoRoute, clock.T+clock.DT)
				continue
			}
			v.route = r
		}
		if v.tryInsert() {
			m.numInserted++
			m.active = append(m.active, v)
			inserted = true
			continue
		}
		v.retries++
		if maxRetries > 0 && v.retries >= maxRetries {
			log.Warnf("%v: insertion failed after %d retries", v, v.retries)
			v.state = entity.VehicleRemoved
			m.recordTripEnd(v, TripInsertionFailed, clock.T+clock.DT)
			continue
		}
		retry = append(retry, v)
	}
	for _, v := range retry {
		m.pending.HeapPush(v, v.depart)
	}
	if inserted {
		slices.SortFunc(m.active, func(a, b *Vehicle) int { return cmp.Compare(a.id, b.id) })
	}
}

// routeBetween 由路由器规划from到to的路径
// 参数：start-起点位置，为nil时取from第一条车道的起点
func (m *VehicleManager) routeBetween(from, to entity.IEdge, start *geov2.Position) (*route.Route, error) {
	if start == nil {
		start = &geov2.Position{LanePosition: &geov2.LanePosition{LaneId: from.Lane(0).ID(), S: 0}}
	}
	res := m.ctx.Router().GetRouteSync(&routingv2.GetRouteRequest{
		Type:  routingv2.RouteType_ROUTE_TYPE_DRIVING,
		Start: start,
		End:   &geov2.Position{LanePosition: &geov2.LanePosition{LaneId: to.Lane(0).ID(), S: to.Length()}},
		Time:  m.ctx.Clock().T,
	})
	if res == nil || len(res.Journeys) == 0 || res.Journeys[0].GetDriving() == nil {
		return nil, fmt.Errorf("%w: router found no route", input.ErrInvalidRoute)
	}
	ids := res.Journeys[0].GetDriving().GetRoadIds()
	if len(ids) == 0 || ids[0] != from.ID() {
		ids = append([]int32{from.ID()}, ids...)
	}
	return route.FromIDs(m.ctx.EdgeManager(), ids)
}

// collectRunning 按ID升序累加上一步提交的行驶时间与距离
// 说明：在移出到达车辆之前调用，到达与停滞移除的车辆最后一步同样计入
func (m *VehicleManager) collectRunning() {
	for _, v := range m.active {
		m.runtime.TravelTime += v.stepTime
		m.runtime.TravelDistance += v.stepDist
		v.stepTime, v.stepDist = 0, 0
	}
}

// recordTripEnd 记录行程结束
func (m *VehicleManager) recordTripEnd(v *Vehicle, status TripStatus, t float64) {
	trip := Trip{
		ID:          v.id,
		Depart:      v.depart,
		Inserted:    v.inserted,
		Arrival:     t,
		Distance:    v.distance,
		WaitingTime: v.totalWaiting,
		Status:      status,
	}
	m.tripsMtx.Lock()
	m.trips = append(m.trips, trip)
	m.tripsMtx.Unlock()
	if status == TripCompleted {
		m.runtimeMtx.Lock()
		m.runtime.NumCompletedTrips++
		m.runtimeMtx.Unlock()
	}
}

// 输出

// Empty 没有待出发和在路网中的车辆
func (m *VehicleManager) Empty() bool {
	return m.pending.Len() == 0 && len(m.active) == 0
}

// Counts 车辆计数
func (m *VehicleManager) Counts() Counts {
	c := Counts{
		Loaded:   len(m.vehicles),
		Pending:  m.pending.Len(),
		Inserted: m.numInserted,
		Changes:  int(m.numChanges.Load()),
	}
	c.Running = lo.CountBy(m.active, func(v *Vehicle) bool { return v.state.OnRoad() })
	m.tripsMtx.Lock()
	defer m.tripsMtx.Unlock()
	for _, t := range m.trips {
		switch t.Status {
		case TripCompleted:
			c.Completed++
		case TripTeleported:
			c.Teleported++
		default:
			c.Failed++
		}
	}
	return c
}

// Statistics 上一步结束时的全局统计
func (m *VehicleManager) Statistics() GlobalRuntime {
	return m.snapshot
}

// Motions 在路网中车辆的位置与速度（按ID升序）
func (m *VehicleManager) Motions() []Motion {
	res := make([]Motion, 0, len(m.active))
	for _, v := range m.active {
		if !v.state.OnRoad() {
			continue
		}
		res = append(res, v.motion())
	}
	return res
}

// MotionsOf 指定车辆的位置与速度
// 参数：ids-车辆ID列表，为空时返回全部在路网中的车辆
// 返回：按ids顺序的结果，不在路网中的车辆被跳过；存在未知ID时返回错误
func (m *VehicleManager) MotionsOf(ids []int32) ([]Motion, error) {
	if len(ids) == 0 {
		return m.Motions(), nil
	}
	vs, failed := utils.Find(m.data, m.vehicles, ids)
	if len(failed) > 0 {
		return nil, fmt.Errorf("no id %v in vehicle data", failed)
	}
	res := make([]Motion, 0, len(vs))
	for _, v := range vs {
		if v.state.OnRoad() {
			res = append(res, v.motion())
		}
	}
	return res, nil
}

// MotionsPb 在路网中车辆的运行时Protobuf（按ID升序）
func (m *VehicleManager) MotionsPb() []*personv2.PersonMotion {
	active := lo.Filter(m.active, func(v *Vehicle, _ int) bool { return v.state.OnRoad() })
	return parallel.GoMap(active, func(v *Vehicle) *personv2.PersonMotion { return v.ToMotionPb() })
}

// Trips 已结束的行程（按ID升序）
func (m *VehicleManager) Trips() []Trip {
	m.tripsMtx.Lock()
	res := append([]Trip{}, m.trips...)
	m.tripsMtx.Unlock()
	sortTrips(res)
	return res
}

// Summary 运行汇总
func (m *VehicleManager) Summary() Summary {
	s := summarize(m.Trips())
	c := m.Counts()
	s.Loaded, s.Inserted, s.Running, s.Pending = c.Loaded, c.Inserted, c.Running, c.Pending
	return s
}
