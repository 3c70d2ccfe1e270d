package junction

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/entity/junction/trafficlight"
	"github.com/tsinghua-fib-lab/microsim/utils/input"
)

var (
	ErrDisabledTrafficLight = errors.New("traffic light is disabled for the junction")
)

// Junction 路口实体
// 功能：管理路口内的连接车道与人行横道、冲突与让行关系、信号灯，并对车辆进入连接车道的请求进行裁决
type Junction struct {
	ctx entity.ITaskContext

	id        int32
	kind      entity.JunctionKind
	lanes     []entity.ILane // 路口内全部车道（按ID排序）
	links     []entity.ILane // 连接车道（按ID排序）
	crossings []entity.ILane // 人行横道

	foes   map[int32]map[int32]bool // 冲突关系（对称），包含共享驶出车道的隐式冲突
	yields map[int32]map[int32]bool // 让行关系，yields[a][b]表示a需要让行b

	trafficLight ITrafficLight // 信号灯模块

	requestsMtx sync.Mutex
	requests    []entity.Request
}

// newJunction 创建并初始化一个新的Junction实例
// 功能：根据路口定义设置车道归属、冲突与让行关系，并按路口类型创建信号灯
// 参数：ctx-任务上下文，base-路口定义，laneManager-车道管理器
// 返回：初始化完成的Junction实例
func newJunction(ctx entity.ITaskContext, base *input.JunctionSpec, laneManager entity.ILaneManager) (*Junction, error) {
	j := &Junction{
		ctx:    ctx,
		id:     base.ID,
		foes:   make(map[int32]map[int32]bool),
		yields: make(map[int32]map[int32]bool),
	}
	switch base.Kind {
	case "", input.JunctionPriority:
		j.kind = entity.JunctionPriority
	case input.JunctionTrafficLight:
		j.kind = entity.JunctionTrafficLight
	case input.JunctionAllWayStop:
		j.kind = entity.JunctionAllWayStop
	case input.JunctionRailSignal:
		j.kind = entity.JunctionRailSignal
	default:
		return nil, fmt.Errorf("%w: junction %d has unknown kind %q", input.ErrInvalidNetwork, base.ID, base.Kind)
	}

	for _, link := range base.Links {
		lane := laneManager.Get(link.Lane)
		lane.SetParentJunctionWhenInit(j)
		j.links = append(j.links, lane)
		j.foes[link.Lane] = lo.SliceToMap(link.Foes, func(id int32) (int32, bool) { return id, true })
		j.yields[link.Lane] = lo.SliceToMap(link.YieldTo, func(id int32) (int32, bool) { return id, true })
	}
	for _, id := range base.Crossings {
		lane := laneManager.Get(id)
		lane.SetParentJunctionWhenInit(j)
		j.crossings = append(j.crossings, lane)
	}
	sort.Slice(j.links, func(a, b int) bool { return j.links[a].ID() < j.links[b].ID() })
	j.lanes = append(append([]entity.ILane{}, j.links...), j.crossings...)
	sort.Slice(j.lanes, func(a, b int) bool { return j.lanes[a].ID() < j.lanes[b].ID() })

	if j.kind == entity.JunctionTrafficLight {
		if err := j.initTrafficLight(base, laneManager); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// initAfterLanes 所有车道归属确定后建立隐式冲突
// 说明：驶向同一驶出车道的连接车道互相冲突（汇入冲突）
func (j *Junction) initAfterLanes() error {
	outOf := make(map[int32][]entity.ILane)
	for _, link := range j.links {
		out, err := link.UniqueSuccessor()
		if err != nil {
			return fmt.Errorf("%w: junction %d: %v", input.ErrInvalidNetwork, j.id, err)
		}
		outOf[out.ID()] = append(outOf[out.ID()], link)
	}
	for _, links := range outOf {
		for _, a := range links {
			for _, b := range links {
				if a != b {
					j.foes[a.ID()][b.ID()] = true
				}
			}
		}
	}
	return nil
}

// initTrafficLight 根据固定配时方案或可用相位创建信号灯
// 说明：优先使用固定配时时（或没有可用相位时）使用本地固定相位信控，否则使用最大压力信控
func (j *Junction) initTrafficLight(base *input.JunctionSpec, laneManager entity.ILaneManager) error {
	lanes := lo.Map(base.SignalLanes(), func(id int32, _ int) entity.ILaneTrafficLightSetter {
		return laneManager.Get(id)
	})
	phases := make([][]mapv2.LightState, 0, len(base.Phases))
	for _, p := range base.Phases {
		states, err := input.ParseLightStates(p)
		if err != nil {
			return fmt.Errorf("%w: junction %d: %v", input.ErrInvalidNetwork, j.id, err)
		}
		phases = append(phases, states)
	}
	if len(base.Program) > 0 && (j.ctx.RuntimeConfig().C.PreferFixedLight || len(phases) < 2) {
		program := &mapv2.TrafficLight{JunctionId: j.id}
		for _, p := range base.Program {
			states, err := input.ParseLightStates(p.States)
			if err != nil {
				return fmt.Errorf("%w: junction %d: %v", input.ErrInvalidNetwork, j.id, err)
			}
			program.Phases = append(program.Phases, &mapv2.Phase{Duration: p.Duration, States: states})
		}
		tl := trafficlight.NewLocalTrafficLight(j.id, lanes)
		if err := tl.Set(program); err != nil {
			return fmt.Errorf("%w: junction %d: %v", input.ErrInvalidNetwork, j.id, err)
		}
		j.trafficLight = tl
	} else if len(phases) > 0 {
		j.trafficLight = trafficlight.NewMaxPressureTrafficLight(j.id, lanes, phases)
	}
	return nil
}

// prepare 准备阶段，将信号灯状态写入车道
func (j *Junction) prepare() {
	if j.trafficLight != nil {
		j.trafficLight.Prepare()
	}
}

// update 更新阶段，推进信号灯计时
func (j *Junction) update(dt float64) {
	if j.trafficLight != nil {
		j.trafficLight.Update(dt)
	}
}

// ID 获取Junction的唯一标识符，如果Junction为nil则返回-1
func (j *Junction) ID() int32 {
	if j == nil {
		return -1
	}
	return j.id
}

func (j *Junction) String() string {
	return fmt.Sprintf("Junction %d (%v)", j.id, j.kind)
}

func (j *Junction) Kind() entity.JunctionKind {
	return j.kind
}

// Lanes 路口内全部车道
func (j *Junction) Lanes() []entity.ILane {
	return j.lanes
}

// Links 路口内连接车道
func (j *Junction) Links() []entity.ILane {
	return j.links
}

// IsFoe 两条连接车道是否冲突
func (j *Junction) IsFoe(a, b entity.ILane) bool {
	return j.foes[a.ID()][b.ID()]
}

// HasTrafficLight 判断是否有正常工作的信号灯
func (j *Junction) HasTrafficLight() bool {
	return j.trafficLight != nil && j.trafficLight.Ok()
}

// SetTrafficLight 设置信号灯程序
// 返回：信控被禁用或程序非法时返回错误
func (j *Junction) SetTrafficLight(tl *mapv2.TrafficLight) error {
	if j.trafficLight == nil {
		return ErrDisabledTrafficLight
	}
	return j.trafficLight.Set(tl)
}

// unsetTrafficLight 取消信号灯程序（全绿）
func (j *Junction) unsetTrafficLight() error {
	if j.trafficLight == nil {
		return ErrDisabledTrafficLight
	}
	j.trafficLight.Unset()
	return nil
}

// setPhase 设置信号灯相位与剩余时间
func (j *Junction) setPhase(offset int32, remainingTime float64) error {
	if j.trafficLight == nil {
		return ErrDisabledTrafficLight
	}
	return j.trafficLight.SetPhase(offset, remainingTime)
}

// setStatus 设置信号灯开关，false表示失效（全绿）
func (j *Junction) setStatus(ok bool) error {
	if j.trafficLight == nil {
		return ErrDisabledTrafficLight
	}
	j.trafficLight.SetOk(ok)
	return nil
}
