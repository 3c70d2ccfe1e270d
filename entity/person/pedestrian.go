package person

import (
	"fmt"

	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/utils/input"
	"github.com/tsinghua-fib-lab/microsim/utils/randengine"
)

const (
	defaultWalkV = 1.34 // 默认步行速度（米/秒）
	minWalkV     = 0.5  // 最小步行速度（米/秒）
	maxVNoise    = .5   // 速度随机扰动最大值（米/秒）
	stopV        = 0.1  // 低于该速度视为等待
)

// State 行人生命周期状态
type State int32

const (
	StatePending State = iota // 等待出发
	StateWalking              // 行走中
	StateArrived              // 已到达
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateWalking:
		return "walking"
	default:
		return "arrived"
	}
}

// segment 行人路径段
type segment struct {
	lane     entity.ILane
	backward bool
}

// start 段起点在车道上的位置
func (g segment) start() float64 {
	if g.backward {
		return g.lane.Length()
	}
	return 0
}

// pedPlan 行人单步规划
type pedPlan struct {
	cursor int
	s      float64
	v      float64
	stripe int
	dist   float64
	arrive bool
}

// Pedestrian 人行道上的行人
// 功能：沿人行道与人行横道组成的路径行走，在红灯人行横道前等待
type Pedestrian struct {
	ctx entity.ITaskContext
	m   *PersonManager

	id     int32
	depart float64
	speed  float64 // 期望步行速度
	route  []segment
	rng    *randengine.Engine

	state  State
	cursor int
	lane   entity.ILane
	s      float64
	v      float64
	stripe int
	node   *entity.PedestrianNode

	plan pedPlan

	// 统计
	inserted    float64
	distance    float64
	waitingTime float64
}

func newPedestrian(ctx entity.ITaskContext, m *PersonManager, spec *input.PersonSpec, route []segment) *Pedestrian {
	p := &Pedestrian{
		ctx:      ctx,
		m:        m,
		id:       spec.ID,
		depart:   spec.Depart,
		route:    route,
		rng:      randengine.Derive(ctx.RuntimeConfig().C.Seed, spec.ID),
		inserted: -1,
	}
	p.speed = spec.Speed
	if p.speed <= 0 {
		p.speed = max(minWalkV, defaultWalkV+p.rng.Uniform(-maxVNoise, maxVNoise))
	}
	return p
}

func (p *Pedestrian) String() string {
	return fmt.Sprintf("Pedestrian %d", p.id)
}

func (p *Pedestrian) ID() int32 {
	return p.id
}

func (p *Pedestrian) V() float64 {
	return p.v
}

func (p *Pedestrian) Length() float64 {
	return pedLength
}

func (p *Pedestrian) S() float64 {
	return p.s
}

func (p *Pedestrian) IsForward() bool {
	return !p.route[p.cursor].backward
}

func (p *Pedestrian) State() State {
	return p.state
}

func (p *Pedestrian) Lane() entity.ILane {
	return p.lane
}

// insert 出发，站到路径第一段的起点
func (p *Pedestrian) insert(t float64) {
	first := p.route[0]
	p.state = StateWalking
	p.cursor = 0
	p.lane = first.lane
	p.s = first.start()
	p.inserted = t
	p.node = &entity.PedestrianNode{S: p.s, Value: p}
	p.lane.AddPedestrian(p.node)
}

// remaining 当前段剩余距离
func (p *Pedestrian) remaining(cursor int, s float64) float64 {
	if p.route[cursor].backward {
		return s
	}
	return p.route[cursor].lane.Length() - s
}

// planWalk 规划本步行走
// 参数：model-行人模型，dt-步长
// 算法说明：
// 1. 沿路径累计可行走距离，下一段是红灯人行横道时停在当前段末端（已在横道上的行人继续走完）
// 2. 由行人模型根据同车道其他行人修正前进距离
// 3. 按前进距离推进路径段，走完最后一段即到达
func (p *Pedestrian) planWalk(model Model, dt float64) {
	want := p.speed * dt
	avail, cursor := p.remaining(p.cursor, p.s), p.cursor
	for avail < want && cursor+1 < len(p.route) && !p.route[cursor+1].lane.IsNoEntry() {
		cursor++
		avail += p.route[cursor].lane.Length()
	}
	if cursor+1 < len(p.route) {
		want = min(want, avail)
	}
	dist, stripe := model.Advance(p, want)

	plan := pedPlan{cursor: p.cursor, stripe: stripe, dist: dist, v: dist / dt}
	s, left := p.s, dist
	for {
		rem := p.remaining(plan.cursor, s)
		if left < rem || (left == rem && plan.cursor+1 < len(p.route)) {
			if p.route[plan.cursor].backward {
				s -= left
			} else {
				s += left
			}
			break
		}
		if plan.cursor+1 == len(p.route) {
			plan.arrive = true
			s = lo.Ternary(p.route[plan.cursor].backward, 0, p.route[plan.cursor].lane.Length())
			break
		}
		left -= rem
		plan.cursor++
		s = p.route[plan.cursor].start()
	}
	if plan.cursor != p.cursor {
		plan.stripe = min(plan.stripe, stripes(p.route[plan.cursor].lane.Width())-1)
	}
	plan.s = s
	p.plan = plan
}

// commit 提交本步规划
func (p *Pedestrian) commit(dt, now float64) {
	plan := &p.plan
	p.distance += plan.dist
	if plan.v < stopV && !plan.arrive {
		p.waitingTime += dt
	}
	if plan.arrive {
		p.lane.RemovePedestrian(p.node)
		p.node = nil
		p.state = StateArrived
		p.v = plan.v
		p.m.recordTripEnd(p, now)
		return
	}
	if plan.cursor != p.cursor {
		p.lane.RemovePedestrian(p.node)
		p.lane = p.route[plan.cursor].lane
		p.node = &entity.PedestrianNode{S: plan.s, Value: p}
		p.lane.AddPedestrian(p.node)
	} else {
		p.node.S = plan.s
	}
	p.cursor = plan.cursor
	p.s = plan.s
	p.v = plan.v
	p.stripe = plan.stripe
}

// ToMotionPb 产生行人的运行时Protobuf
func (p *Pedestrian) ToMotionPb() *personv2.PersonMotion {
	pb := &personv2.PersonMotion{
		Id:     p.id,
		Status: personv2.Status_STATUS_WALKING,
		V:      p.v,
		L:      pedLength,
	}
	if p.lane != nil {
		xyz := p.lane.GetPositionByS(p.s)
		z := xyz.Z
		pb.Position = &geov2.Position{
			XyPosition:   &geov2.XYPosition{X: xyz.X, Y: xyz.Y, Z: &z},
			LanePosition: &geov2.LanePosition{LaneId: p.lane.ID(), S: p.s},
		}
	}
	return pb
}

var _ entity.IPedestrian = (*Pedestrian)(nil)
