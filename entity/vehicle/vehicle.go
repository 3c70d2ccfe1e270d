package vehicle

import (
	"fmt"
	"math"
	"strconv"

	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/entity/vehicle/carfollow"
	"github.com/tsinghua-fib-lab/microsim/entity/vehicle/lanechange"
	"github.com/tsinghua-fib-lab/microsim/entity/vehicle/route"
	"github.com/tsinghua-fib-lab/microsim/utils/input"
	"github.com/tsinghua-fib-lab/microsim/utils/randengine"
)

const (
	stopSpeed     = 0.1 // 低于该速度视为停车（米/秒）
	stopLineRange = 2.0 // 停车且车头距停止线小于该距离时视为在停止线前等待
	posEps        = 1e-6
	maxTrail      = 3 // 记录的车身可能覆盖的之前车道数
)

// 出发位置、速度与到达位置策略
const (
	policyBase    = "base"
	policyRandom  = "random"
	policyFree    = "free"
	policyMax     = "max"
	policyDesired = "desired"
	policyValue   = "value"
)

// departPolicy 带数值的策略
type departPolicy struct {
	policy string
	value  float64
}

// parsePolicy 解析策略字符串，allowed为允许的命名策略，空字符串取def
func parsePolicy(s, def string, allowed ...string) (departPolicy, error) {
	if s == "" {
		return departPolicy{policy: def}, nil
	}
	for _, a := range allowed {
		if s == a {
			return departPolicy{policy: s}, nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return departPolicy{}, fmt.Errorf("bad value %q", s)
	}
	return departPolicy{policy: policyValue, value: v}, nil
}

// Vehicle 车辆实体
// 功能：保存车辆的参数、路径与上一步提交后的状态，在各仿真阶段中规划、变道、申请路口通行并提交
// 说明：车辆只在提交阶段修改自身状态，规划阶段的结果保存在plan中
type Vehicle struct {
	ctx entity.ITaskContext
	m   *VehicleManager

	id          int32
	vtype       *VehicleType
	rng         *randengine.Engine
	ego         carfollow.Ego
	speedFactor float64
	lcState     *lanechange.State

	// 出行定义

	depart        float64
	departLane    entity.DepartLane
	departPos     departPolicy
	departSpeed   departPolicy
	arrivalPos    departPolicy
	reroutePeriod float64
	from, to      int32 // 未给出路径时的起终点道路

	route  *route.Route
	cursor int // 所在（路口内时为刚驶离的）道路在路径中的下标

	// 状态

	state   entity.VehicleState
	lane    entity.ILane
	s, v, a float64
	node    *entity.VehicleNode
	trail   []entity.ILane // 之前经过的车道，最近的在最后
	plan    entity.Plan
	grant   entity.ILane

	waitingTime float64 // 连续停车时长
	waitStart   float64 // 本次停车开始时刻
	retries     int32   // 插入失败次数
	lastReroute float64

	// 行程统计

	inserted     float64 // 进入路网时刻，未进入时为-1
	distance     float64
	totalWaiting float64

	stepTime, stepDist float64 // 上一步提交的行驶时间与距离，准备阶段汇总后清零

	// 外部控制，仅对一步有效

	speedCmd *float64
	laneCmd  int // 目标车道在道路中的下标，-1为无
}

// newVehicle 创建车辆
// 参数：ctx-任务上下文，m-车辆管理器，spec-车辆定义，vtype-车辆类型，r-路径（可为nil，插入时规划）
// 返回：车辆，出行定义非法时返回错误
func newVehicle(
	ctx entity.ITaskContext, m *VehicleManager,
	spec *input.VehicleSpec, vtype *VehicleType, r *route.Route,
) (*Vehicle, error) {
	v := &Vehicle{
		ctx:           ctx,
		m:             m,
		id:            spec.ID,
		vtype:         vtype,
		rng:           randengine.Derive(ctx.RuntimeConfig().C.Seed, spec.ID),
		lcState:       lanechange.NewState(),
		depart:        spec.Depart,
		reroutePeriod: spec.ReroutePeriod,
		from:          spec.From,
		to:            spec.To,
		route:         r,
		state:         entity.VehiclePending,
		laneCmd:       -1,
		lastReroute:   spec.Depart,
		inserted:      -1,
	}
	var err error
	if v.departLane, err = entity.ParseDepartLane(spec.DepartLane); err != nil {
		return nil, err
	}
	if v.departPos, err = parsePolicy(spec.DepartPos, policyBase, policyBase, policyRandom, policyFree); err != nil {
		return nil, fmt.Errorf("depart_pos: %w", err)
	}
	if v.departSpeed, err = parsePolicy(spec.DepartSpeed, policyValue, policyMax, policyDesired); err != nil {
		return nil, fmt.Errorf("depart_speed: %w", err)
	}
	if v.arrivalPos, err = parsePolicy(spec.ArrivalPos, policyMax, policyMax); err != nil {
		return nil, fmt.Errorf("arrival_pos: %w", err)
	}
	t := vtype
	v.speedFactor = v.rng.TruncNormal(t.SpeedFactor, t.SpeedDev, math.Max(0.2, t.SpeedFactor-2*t.SpeedDev), t.SpeedFactor+2*t.SpeedDev)
	v.ego = carfollow.Ego{
		ID:             v.id,
		MaxV:           t.MaxSpeed,
		Accel:          t.Accel,
		Decel:          t.Decel,
		EmergencyDecel: t.EmergencyDecel,
		DT:             ctx.Clock().DT,
		Rand:           v.rng,
	}
	t.CarFollowing.InitDriver(&v.ego)
	return v, nil
}

// 自身属性

func (v *Vehicle) ID() int32 {
	return v.id
}

func (v *Vehicle) String() string {
	return fmt.Sprintf("Vehicle %d", v.id)
}

func (v *Vehicle) Type() *VehicleType                { return v.vtype }
func (v *Vehicle) Class() entity.VehicleClass        { return v.vtype.Class }
func (v *Vehicle) Length() float64                   { return v.vtype.Length }
func (v *Vehicle) MinGap() float64                   { return v.vtype.MinGap }
func (v *Vehicle) Decel() float64                    { return v.vtype.Decel }
func (v *Vehicle) EmergencyDecel() float64           { return v.vtype.EmergencyDecel }
func (v *Vehicle) State() entity.VehicleState        { return v.state }
func (v *Vehicle) Lane() entity.ILane                { return v.lane }
func (v *Vehicle) S() float64                        { return v.s }
func (v *Vehicle) V() float64                        { return v.v }
func (v *Vehicle) A() float64                        { return v.a }
func (v *Vehicle) WaitingTime() float64              { return v.waitingTime }
func (v *Vehicle) Node() *entity.VehicleNode         { return v.node }
func (v *Vehicle) Rand() *randengine.Engine          { return v.rng }
func (v *Vehicle) Plan() *entity.Plan                { return &v.plan }
func (v *Vehicle) Grant() entity.ILane               { return v.grant }
func (v *Vehicle) SetGrant(link entity.ILane)        { v.grant = link }
func (v *Vehicle) Route() *route.Route               { return v.route }
func (v *Vehicle) Depart() float64                   { return v.depart }
func (v *Vehicle) Distance() float64                 { return v.distance }
func (v *Vehicle) CarFollowing() carfollow.Model     { return v.vtype.CarFollowing }

// Edge 所在道路，路口内时为刚驶离的道路
func (v *Vehicle) Edge() entity.IEdge {
	if v.route == nil {
		return nil
	}
	return v.route.At(v.cursor)
}

// 跟车模型查询（以上一步提交后的速度为本车速度）

func (v *Vehicle) FollowSpeed(gap, leaderV float64) float64 {
	return v.vtype.CarFollowing.FollowSpeed(&v.ego, gap, leaderV)
}

func (v *Vehicle) InsertionFollowSpeed(gap, leaderV float64) float64 {
	return v.vtype.CarFollowing.InsertionFollowSpeed(&v.ego, gap, leaderV)
}

// limit 车辆在lane上的期望最高速度
func (v *Vehicle) limit(lane entity.ILane) float64 {
	return math.Min(lane.MaxV()*v.speedFactor, v.vtype.MaxSpeed)
}

// arrivalOn 终点车道上的到达位置
func (v *Vehicle) arrivalOn(lane entity.ILane) float64 {
	if v.arrivalPos.policy == policyValue {
		return math.Min(v.arrivalPos.value, lane.Length())
	}
	return lane.Length()
}

// Commit 提交本步规划
// 功能：按规划结果更新位置、速度与所在车道，维护车道链表节点，处理到达与停滞移除
// 算法说明：
// 1. 到达：从车道链表移除，状态变为Arrived并记录行程
// 2. 停滞超过teleport_after：从车道链表移除，状态变为Removed并记录
// 3. 换车道（纵向进入后继或横向变道）：从原车道移除旧节点，向新车道加入新节点；否则原地更新位置
// 4. 进入已获许可的连接车道后许可失效
// 说明：链表的增删通过车道缓冲区完成，由车道统一生效并检查顺序
func (v *Vehicle) Commit() {
	p := &v.plan
	clock := v.ctx.Clock()
	dt := clock.DT
	v.distance += p.Dist
	v.stepTime, v.stepDist = dt, p.Dist
	if p.Arrive {
		v.lane.RemoveVehicle(v.node)
		v.node = nil
		v.lane, v.s, v.v, v.a = p.Lane, p.S, p.V, p.A
		v.state = entity.VehicleArrived
		v.m.recordTripEnd(v, TripCompleted, clock.T+dt)
		return
	}
	if p.V < stopSpeed {
		if v.v >= stopSpeed || v.waitingTime == 0 {
			v.waitStart = clock.T + dt
		}
		v.waitingTime += dt
		v.totalWaiting += dt
	} else {
		v.waitingTime = 0
	}
	if after := v.ctx.RuntimeConfig().C.TeleportAfter; after > 0 && v.waitingTime >= after {
		log.Warnf("%v: teleport after standing still for %.1fs on %v", v, v.waitingTime, v.lane)
		v.lane.RemoveVehicle(v.node)
		v.node = nil
		v.grant = nil
		v.state = entity.VehicleRemoved
		v.m.recordTripEnd(v, TripTeleported, clock.T+dt)
		return
	}
	for _, l := range p.Path {
		if l.InEdge() {
			v.cursor++
		}
		if l == v.grant {
			v.grant = nil
		}
	}
	if p.Lane != v.lane {
		v.lane.RemoveVehicle(v.node)
		// 换一个新的node来避免remove操作和add操作处理同一个对象需要保证先后顺序
		v.node = &entity.VehicleNode{S: p.S, Value: v}
		p.Lane.AddVehicle(v.node)
	} else {
		v.node.S = p.S
	}
	switch {
	case p.Change != nil:
		v.trail = v.trail[:0]
		lanechange.Committed(&lanechange.Input{Ego: &v.ego, Now: clock.T, State: v.lcState})
	case len(p.Path) > 0:
		v.trail = append(v.trail, v.lane)
		v.trail = append(v.trail, p.Path[:len(p.Path)-1]...)
		if n := len(v.trail); n > maxTrail {
			v.trail = append(v.trail[:0], v.trail[n-maxTrail:]...)
		}
	}
	v.lane, v.s, v.v, v.a = p.Lane, p.S, p.V, p.A
	v.ego.V = v.v
	if v.state == entity.VehicleInserted {
		v.state = entity.VehicleRunning
	}
	v.speedCmd = nil
	v.laneCmd = -1
}

func (v *Vehicle) motion() Motion {
	return Motion{ID: v.id, LaneID: v.lane.ID(), S: v.s, V: v.v, A: v.a}
}

// ToMotionPb 产生车辆的运行时Protobuf
func (v *Vehicle) ToMotionPb() *personv2.PersonMotion {
	pb := &personv2.PersonMotion{
		Id:     v.id,
		Status: personv2.Status_STATUS_DRIVING,
		V:      v.v,
		A:      v.a,
		L:      v.Length(),
	}
	if v.lane != nil {
		xyz := v.lane.GetPositionByS(v.s)
		z := xyz.Z
		pb.Position = &geov2.Position{
			XyPosition:   &geov2.XYPosition{X: xyz.X, Y: xyz.Y, Z: &z},
			LanePosition: &geov2.LanePosition{LaneId: v.lane.ID(), S: v.s},
		}
	}
	return pb
}
