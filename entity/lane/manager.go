package lane

import (
	"fmt"

	"git.fiblab.net/general/common/v2/parallel"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/utils/input"
)

// LaneManager Lane管理器
// 功能：管理所有Lane实体，提供创建、查找、初始化以及各仿真阶段的并行调度
type LaneManager struct {
	ctx entity.ITaskContext

	data  map[int32]*Lane
	lanes []*Lane // 按ID升序
	iLanes []entity.ILane
}

// NewManager 创建Lane管理器实例
func NewManager(ctx entity.ITaskContext) *LaneManager {
	return &LaneManager{
		ctx:   ctx,
		data:  make(map[int32]*Lane),
		lanes: make([]*Lane, 0),
	}
}

// Init 初始化所有Lane
// 功能：根据路网定义初始化所有Lane对象，建立ID映射关系和连接关系
// 参数：specs-车道定义列表
// 返回：车道通行权限配置错误
// 说明：分两阶段：并行创建对象，然后建立连接关系
func (m *LaneManager) Init(specs []input.LaneSpec) error {
	allows := make([][]entity.VehicleClass, len(specs))
	for i := range specs {
		allow, err := allowedClasses(&specs[i])
		if err != nil {
			return fmt.Errorf("%w: lane %d: %v", input.ErrInvalidNetwork, specs[i].ID, err)
		}
		allows[i] = allow
	}
	indices := lo.Range(len(specs))
	m.lanes = parallel.GoMap(indices, func(i int) *Lane {
		return newLane(m.ctx, &specs[i], allows[i])
	})
	m.data = lo.SliceToMap(m.lanes, func(l *Lane) (int32, *Lane) {
		return l.id, l
	})
	m.lanes = lo.Map(lo.Keys(m.data), func(id int32, _ int) *Lane { return m.data[id] })
	sortLanes(m.lanes)
	m.iLanes = lo.Map(m.lanes, func(l *Lane, _ int) entity.ILane { return l })
	parallel.GoFor(m.lanes, func(l *Lane) { l.initWithManager(m) })
	return nil
}

// allowedClasses 车道允许的车辆类别
// 说明：未指定allow时按车道类型取默认值，再去掉disallow中的类别
func allowedClasses(spec *input.LaneSpec) ([]entity.VehicleClass, error) {
	var allow []entity.VehicleClass
	if len(spec.Allow) > 0 {
		for _, s := range spec.Allow {
			c, err := entity.ParseVehicleClass(s)
			if err != nil {
				return nil, err
			}
			allow = append(allow, c)
		}
	} else {
		switch spec.LaneType() {
		case mapv2.LaneType_LANE_TYPE_DRIVING:
			allow = append(allow, entity.RoadClasses...)
		case mapv2.LaneType_LANE_TYPE_RAIL_TRANSIT:
			allow = []entity.VehicleClass{entity.ClassRail}
		}
	}
	for _, s := range spec.Disallow {
		c, err := entity.ParseVehicleClass(s)
		if err != nil {
			return nil, err
		}
		allow = lo.Without(allow, c)
	}
	return allow, nil
}

// Get 根据ID获取Lane实例，如果不存在则panic
func (m *LaneManager) Get(id int32) entity.ILane {
	if lane, ok := m.data[id]; !ok {
		log.Panicf("no id %d in lane data", id)
		return nil
	} else {
		return lane
	}
}

// GetOrError 根据ID获取Lane实例（带错误处理）
func (m *LaneManager) GetOrError(id int32) (entity.ILane, error) {
	if lane, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("no id %d in lane data", id)
	} else {
		return lane, nil
	}
}

// Lanes 全部车道（按ID升序）
func (m *LaneManager) Lanes() []entity.ILane {
	return m.iLanes
}

// Prepare 准备阶段
// 功能：写入限速、维护行人列表、清空规划占用，然后构建车辆侧链
func (m *LaneManager) Prepare() {
	parallel.GoFor(m.lanes, func(l *Lane) { l.prepare() })
	parallel.GoFor(m.lanes, func(l *Lane) { l.prepare2() })
}

// PlanMovements 规划阶段：各车道并行规划本车道车辆
func (m *LaneManager) PlanMovements() {
	parallel.GoFor(m.lanes, func(l *Lane) { l.PlanMovements() })
}

// IntegrateMovements 提交阶段
// 功能：各车道并行提交车辆规划，全部提交后再并行应用链表缓冲并检查顺序不变量
func (m *LaneManager) IntegrateMovements() {
	parallel.GoFor(m.lanes, func(l *Lane) { l.commitVehicles() })
	parallel.GoFor(m.lanes, func(l *Lane) { l.applyMovements() })
}

// Update 更新车道统计
func (m *LaneManager) Update() {
	parallel.GoFor(m.lanes, func(l *Lane) { l.update() })
}
