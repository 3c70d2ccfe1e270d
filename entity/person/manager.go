package person

import (
	"fmt"
	"sync"

	"git.fiblab.net/general/common/v2/parallel"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/utils/container"
	"github.com/tsinghua-fib-lab/microsim/utils/input"
)

const departEps = 1e-9

// GlobalRuntime 行人全局统计
type GlobalRuntime struct {
	NumCompletedTrips int32   // 已完成的行程
	TravelTime        float64 // 总步行时间
	TravelDistance    float64 // 总步行距离
}

// Counts 行人数量统计
type Counts struct {
	Loaded, Pending, Walking, Arrived int
}

// Trip 行人行程报告
type Trip struct {
	ID          int32
	Depart      float64
	Inserted    float64
	Arrival     float64
	Distance    float64
	WaitingTime float64
}

// PersonManager 行人管理器
// 功能：管理全部行人，按出发时间放入人行道，每步规划并提交行走
type PersonManager struct {
	ctx   entity.ITaskContext
	model Model

	data    map[int32]*Pedestrian
	all     []*Pedestrian // 按ID升序
	walking []*Pedestrian // 按ID升序
	pending *container.PriorityQueue[*Pedestrian]

	trips   []Trip
	tripMtx sync.Mutex

	snapshot, runtime GlobalRuntime
	runtimeMtx        sync.Mutex
}

// NewManager 创建行人管理器实例
func NewManager(ctx entity.ITaskContext) *PersonManager {
	return &PersonManager{
		ctx:     ctx,
		data:    make(map[int32]*Pedestrian),
		pending: container.NewPriorityQueue[*Pedestrian](),
	}
}

// Init 初始化全部行人
// 参数：specs-行人出行定义，laneManager-车道管理器
// 返回：行人模型未知、ID重复或路径使用非人行道车道时的错误
func (m *PersonManager) Init(specs []input.PersonSpec, laneManager entity.ILaneManager) error {
	model, err := NewModel(m.ctx.RuntimeConfig().C.PedestrianModel)
	if err != nil {
		return err
	}
	m.model = model
	for i := range specs {
		spec := &specs[i]
		if _, ok := m.data[spec.ID]; ok {
			return fmt.Errorf("%w: duplicate person id %d", input.ErrInvalidDemand, spec.ID)
		}
		if len(spec.Route) == 0 {
			return fmt.Errorf("%w: person %d has empty route", input.ErrInvalidRoute, spec.ID)
		}
		route := make([]segment, 0, len(spec.Route))
		for _, seg := range spec.Route {
			l, err := laneManager.GetOrError(seg.Lane)
			if err != nil {
				return fmt.Errorf("%w: person %d: %v", input.ErrInvalidRoute, spec.ID, err)
			}
			if l.Type() != mapv2.LaneType_LANE_TYPE_WALKING {
				return fmt.Errorf("%w: person %d walks on non-walking lane %d", input.ErrInvalidRoute, spec.ID, seg.Lane)
			}
			route = append(route, segment{lane: l, backward: seg.Backward()})
		}
		p := newPedestrian(m.ctx, m, spec, route)
		m.data[p.id] = p
		m.all = append(m.all, p)
	}
	sortPedestrians(m.all)
	for _, p := range m.all {
		m.pending.Push(p, p.depart)
	}
	m.pending.Heapify()
	log.Infof("init %d pedestrians with %s model", len(m.all), m.model.Name())
	return nil
}

// Get 根据ID获取行人，如果不存在则panic
func (m *PersonManager) Get(id int32) *Pedestrian {
	if p, ok := m.data[id]; !ok {
		log.Panicf("no id %d in person data", id)
		return nil
	} else {
		return p
	}
}

// GetOrError 根据ID获取行人（带错误处理）
func (m *PersonManager) GetOrError(id int32) (*Pedestrian, error) {
	if p, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("no id %d in person data", id)
	} else {
		return p, nil
	}
}

// Prepare 准备阶段：更新统计快照
func (m *PersonManager) Prepare() {
	m.snapshot = m.runtime
}

// Update 行人阶段
// 功能：并行规划全部行人，全部规划完成后再并行提交，最后让到达出发时间的行人进入人行道
// 说明：规划只读取其他行人上一步的状态
func (m *PersonManager) Update(dt float64) {
	now := m.ctx.Clock().T + dt
	parallel.GoFor(m.walking, func(p *Pedestrian) { p.planWalk(m.model, dt) })
	parallel.GoFor(m.walking, func(p *Pedestrian) { p.commit(dt, now) })
	m.recordRunning(dt)
	m.walking = lo.Filter(m.walking, func(p *Pedestrian, _ int) bool { return p.state == StateWalking })

	inserted := false
	for m.pending.Len() > 0 {
		if _, depart := m.pending.First(); depart > m.ctx.Clock().T+departEps {
			break
		}
		p, _ := m.pending.HeapPop()
		p.insert(now)
		m.walking = append(m.walking, p)
		inserted = true
	}
	if inserted {
		sortPedestrians(m.walking)
	}
}

// recordRunning 按ID升序累加本步提交的行走时间与距离
func (m *PersonManager) recordRunning(dt float64) {
	for _, p := range m.walking {
		m.runtime.TravelTime += dt
		m.runtime.TravelDistance += p.plan.dist
	}
}

func (m *PersonManager) recordTripEnd(p *Pedestrian, arrival float64) {
	m.runtimeMtx.Lock()
	m.runtime.NumCompletedTrips++
	m.runtimeMtx.Unlock()

	m.tripMtx.Lock()
	defer m.tripMtx.Unlock()
	m.trips = append(m.trips, Trip{
		ID:          p.id,
		Depart:      p.depart,
		Inserted:    p.inserted,
		Arrival:     arrival,
		Distance:    p.distance,
		WaitingTime: p.waitingTime,
	})
}

// Empty 没有待出发和行走中的行人
func (m *PersonManager) Empty() bool {
	return m.pending.Len() == 0 && len(m.walking) == 0
}

// Counts 行人数量统计
func (m *PersonManager) Counts() Counts {
	return Counts{
		Loaded:  len(m.all),
		Pending: m.pending.Len(),
		Walking: len(m.walking),
		Arrived: len(m.all) - m.pending.Len() - len(m.walking),
	}
}

// Walking 行走中的行人（按ID升序）
func (m *PersonManager) Walking() []*Pedestrian {
	return m.walking
}

// MotionsPb 行走中行人的运行时Protobuf
func (m *PersonManager) MotionsPb() []*personv2.PersonMotion {
	return parallel.GoMap(m.walking, func(p *Pedestrian) *personv2.PersonMotion {
		return p.ToMotionPb()
	})
}

// Trips 已完成的行程（按ID升序）
func (m *PersonManager) Trips() []Trip {
	m.tripMtx.Lock()
	defer m.tripMtx.Unlock()
	res := append([]Trip{}, m.trips...)
	sortTrips(res)
	return res
}

// Statistics 上一步结束时的全局统计
func (m *PersonManager) Statistics() GlobalRuntime {
	return m.snapshot
}
