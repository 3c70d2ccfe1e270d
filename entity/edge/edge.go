package edge

import (
	"fmt"
	"math"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/utils/input"
	"github.com/tsinghua-fib-lab/microsim/utils/randengine"
)

// Edge 道路实体
// 功能：表示两个路口之间的道路，由平行的车道组成，负责车道选择与通行权限
type Edge struct {
	ctx entity.ITaskContext

	id           int32
	name         string
	drivingLanes []entity.ILane // 行车道，按从左到右排序
	walkingLanes []entity.ILane // 人行道

	from entity.IJunction // 上游路口
	to   entity.IJunction // 下游路口

	length float64 // 车道长度均值
}

// newEdge 创建并初始化一个新的Edge实例
// 参数：ctx-任务上下文，base-道路定义，laneManager-车道管理器
func newEdge(ctx entity.ITaskContext, base *input.EdgeSpec, laneManager entity.ILaneManager) *Edge {
	e := &Edge{
		ctx:  ctx,
		id:   base.ID,
		name: base.Name,
	}
	for i, id := range base.Lanes {
		lane := laneManager.Get(id)
		lane.SetParentEdgeWhenInit(e, i)
		e.drivingLanes = append(e.drivingLanes, lane)
		e.length += lane.Length()
	}
	if len(e.drivingLanes) > 0 {
		e.length /= float64(len(e.drivingLanes))
	}
	for _, id := range base.WalkingLanes {
		lane := laneManager.Get(id)
		lane.SetParentEdgeWhenInit(e, -1)
		e.walkingLanes = append(e.walkingLanes, lane)
		if e.length == 0 {
			e.length = lane.Length()
		}
	}
	return e
}

// initAfterJunction 在Junction初始化后设置Edge的路口连接关系
// 功能：根据车道的连接关系确定Edge的上游和下游路口
// 返回：上下游路口不唯一时返回错误
func (e *Edge) initAfterJunction() error {
	for _, lane := range e.drivingLanes {
		for _, pre := range lane.Predecessors() {
			junc := pre.ParentJunction()
			if junc == nil {
				return fmt.Errorf("%w: lane %d:%d's predecessor is not in junction", input.ErrInvalidNetwork, e.id, pre.ID())
			}
			if e.from == nil {
				e.from = junc
			} else if e.from != junc {
				return fmt.Errorf("%w: edge %d's predecessor is not unique: %d v.s. %d", input.ErrInvalidNetwork, e.id, e.from.ID(), junc.ID())
			}
		}
		for _, suc := range lane.Successors() {
			junc := suc.ParentJunction()
			if junc == nil {
				return fmt.Errorf("%w: lane %d:%d's successor is not in junction", input.ErrInvalidNetwork, e.id, suc.ID())
			}
			if e.to == nil {
				e.to = junc
			} else if e.to != junc {
				return fmt.Errorf("%w: edge %d's successor is not unique: %d v.s. %d", input.ErrInvalidNetwork, e.id, e.to.ID(), junc.ID())
			}
		}
	}
	return nil
}

// ID 获取Edge的唯一标识符，如果Edge为nil则返回-1
func (e *Edge) ID() int32 {
	if e == nil {
		return -1
	}
	return e.id
}

func (e *Edge) String() string {
	return fmt.Sprintf("Edge %d", e.id)
}

func (e *Edge) Name() string {
	return e.name
}

// Lanes 行车道，从左到右
func (e *Edge) Lanes() []entity.ILane {
	return e.drivingLanes
}

// WalkingLanes 人行道
func (e *Edge) WalkingLanes() []entity.ILane {
	return e.walkingLanes
}

// Lane 第index条行车道，越界时返回nil
func (e *Edge) Lane(index int) entity.ILane {
	if index < 0 || index >= len(e.drivingLanes) {
		return nil
	}
	return e.drivingLanes[index]
}

func (e *Edge) Length() float64 {
	return e.length
}

// MaxV 各车道限速的最大值
func (e *Edge) MaxV() float64 {
	return lo.Max(lo.Map(e.drivingLanes, func(l entity.ILane, _ int) float64 { return l.MaxV() }))
}

// MeanSpeed 各车道平均速度的均值
func (e *Edge) MeanSpeed() float64 {
	if len(e.drivingLanes) == 0 {
		return 0
	}
	return lo.SumBy(e.drivingLanes, func(l entity.ILane) float64 { return l.MeanSpeed() }) / float64(len(e.drivingLanes))
}

// From 上游路口
func (e *Edge) From() entity.IJunction {
	return e.from
}

// To 下游路口
func (e *Edge) To() entity.IJunction {
	return e.to
}

// Allows 是否有车道允许该类别通行
func (e *Edge) Allows(class entity.VehicleClass) bool {
	return lo.SomeBy(e.drivingLanes, func(l entity.ILane) bool { return l.Allows(class) })
}

// AllowedLanes 允许该类别通行的车道（从左到右）
func (e *Edge) AllowedLanes(class entity.VehicleClass) []entity.ILane {
	return lo.Filter(e.drivingLanes, func(l entity.ILane, _ int) bool { return l.Allows(class) })
}

// BestLanes 可以驶向next道路的车道
// 功能：返回允许该类别通行且有连接车道通往next的车道，next为nil（终点道路）时返回全部允许车道
func (e *Edge) BestLanes(next entity.IEdge, class entity.VehicleClass) []entity.ILane {
	allowed := e.AllowedLanes(class)
	if next == nil {
		return allowed
	}
	return lo.Filter(allowed, func(l entity.ILane, _ int) bool {
		return lo.SomeBy(l.LinksTo(next), func(link entity.ILane) bool {
			out, err := link.UniqueSuccessor()
			return err == nil && out.Allows(class)
		})
	})
}

// PreferredLink 选择从lane驶向next道路的连接车道
// 功能：优先选择驶出车道可以继续驶向nextNext的连接，其次选择ID最小的连接
// 参数：lane-当前车道，next-下一道路，nextNext-再下一道路（可为nil）
// 返回：连接车道，没有连接时返回nil
func (e *Edge) PreferredLink(lane entity.ILane, next, nextNext entity.IEdge) entity.ILane {
	links := lane.LinksTo(next)
	if len(links) == 0 {
		return nil
	}
	if nextNext != nil {
		for _, link := range links {
			out, err := link.UniqueSuccessor()
			if err == nil && len(out.LinksTo(nextNext)) > 0 {
				return link
			}
		}
	}
	return links[0]
}

// DepartLane 选择出发车道
// 功能：按出发车道策略在允许通行的车道中选择
// 参数：policy-出发车道策略，class-车辆类别，next-路径上的下一道路，rng-车辆随机数引擎
// 返回：出发车道，无可用车道时返回nil
// 算法说明：
// 1. first：最右侧的允许车道
// 2. random：允许车道中均匀随机
// 3. free：车道起点处空闲距离最大的允许车道
// 4. best：能驶向下一道路的车道中空闲距离最大者，没有则退化为free
// 5. index：指定序号的车道（需允许通行）
func (e *Edge) DepartLane(policy entity.DepartLane, class entity.VehicleClass, next entity.IEdge, rng *randengine.Engine) entity.ILane {
	allowed := e.AllowedLanes(class)
	if len(allowed) == 0 {
		return nil
	}
	switch policy.Policy {
	case "first":
		return allowed[len(allowed)-1]
	case "random":
		return allowed[rng.Intn(len(allowed))]
	case "free":
		return freest(allowed)
	case "index":
		if l := e.Lane(policy.Index); l != nil && l.Allows(class) {
			return l
		}
		return nil
	default:
		if best := e.BestLanes(next, class); len(best) > 0 {
			return freest(best)
		}
		return freest(allowed)
	}
}

// freest 起点处空闲距离最大的车道，相同时取靠左者
func freest(lanes []entity.ILane) entity.ILane {
	var res entity.ILane
	best := -math.MaxFloat64
	for _, l := range lanes {
		free := l.Length()
		if first := l.FirstVehicle(); first != nil {
			free = first.S - first.L()
		}
		if free > best {
			best, res = free, l
		}
	}
	return res
}
